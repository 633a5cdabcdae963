package model

// EsPassage 定义了存储在 Elasticsearch 中的片段结构。
type EsPassage struct {
	PassageID  string    `json:"passage_id"` // documentID_seq
	DocumentID string    `json:"document_id"`
	Seq        int       `json:"seq"`
	Text       string    `json:"text"`
	Start      int       `json:"start"`
	End        int       `json:"end"`
	Vector     []float32 `json:"vector"`
}

// ToPassage 还原为领域对象，不带向量。
func (e EsPassage) ToPassage() Passage {
	return Passage{
		ID:         e.PassageID,
		DocumentID: e.DocumentID,
		Seq:        e.Seq,
		Text:       e.Text,
		Start:      e.Start,
		End:        e.End,
	}
}
