// Package tasks defines the structure for tasks that are sent to the ingestion queue.
package tasks

import "fmt"

// IngestionTask represents one document ingestion job.
type IngestionTask struct {
	DocumentID string `json:"document_id"`
	ObjectKey  string `json:"object_key"`
	FileName   string `json:"file_name"`
	OwnerID    string `json:"owner_id"`
}

// ObjectKeyFor returns the storage key of an uploaded document.
func ObjectKeyFor(ownerID, documentID string) string {
	return fmt.Sprintf("documents/%s/%s.pdf", ownerID, documentID)
}
