package index

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"finreport-qa/internal/model"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type esRecorder struct {
	paths  []string
	bodies []string
	bulk   string
}

func newTestES(t *testing.T, rec *esRecorder) *elasticsearch.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rec.paths = append(rec.paths, r.Method+" "+r.URL.Path)
		rec.bodies = append(rec.bodies, string(body))
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/_delete_by_query"):
			_, _ = w.Write([]byte(`{"deleted":0}`))
		case strings.HasSuffix(r.URL.Path, "/_bulk"):
			rec.bulk = string(body)
			_, _ = w.Write([]byte(`{"errors":false,"items":[]}`))
		case strings.HasSuffix(r.URL.Path, "/_search"):
			_, _ = w.Write([]byte(`{"hits":{"hits":[
				{"_score":1.5,"_source":{"passage_id":"d1_1","document_id":"d1","seq":1,"text":"b"}},
				{"_score":1.9,"_source":{"passage_id":"d1_0","document_id":"d1","seq":0,"text":"a"}}
			]}}`))
		case strings.HasSuffix(r.URL.Path, "/_count"):
			_, _ = w.Write([]byte(`{"count":2}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}})
	require.NoError(t, err)
	return client
}

func TestESIndexQueryShiftsScoreAndFilters(t *testing.T) {
	rec := &esRecorder{}
	idx := NewESIndex(newTestES(t, rec), "passages", 2)

	hits, err := idx.Query(context.Background(), "d1", []float32{1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "d1_0", hits[0].Passage.ID)
	assert.InDelta(t, 0.9, hits[0].Score, 1e-9)
	assert.InDelta(t, 0.5, hits[1].Score, 1e-9)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(rec.bodies[len(rec.bodies)-1]), &body))
	assert.EqualValues(t, 5, body["size"])
	assert.Contains(t, rec.bodies[len(rec.bodies)-1], `"document_id":"d1"`)
	assert.Contains(t, rec.bodies[len(rec.bodies)-1], "cosineSimilarity")
}

func TestESIndexInsertReplacesAndBulkWrites(t *testing.T) {
	rec := &esRecorder{}
	idx := NewESIndex(newTestES(t, rec), "passages", 2)
	ps := []model.Passage{
		{ID: "d1_0", DocumentID: "d1", Seq: 0, Text: "a", Vector: []float32{1, 0}},
		{ID: "d1_1", DocumentID: "d1", Seq: 1, Text: "b", Vector: []float32{0, 1}},
	}
	require.NoError(t, idx.Insert(context.Background(), "d1", ps))

	require.GreaterOrEqual(t, len(rec.paths), 2)
	assert.Equal(t, "POST /passages/_delete_by_query", rec.paths[0])
	lines := strings.Split(strings.TrimSpace(rec.bulk), "\n")
	assert.Len(t, lines, 4)
	assert.Contains(t, lines[0], `"_id":"d1_0"`)

	n, err := idx.Count(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
