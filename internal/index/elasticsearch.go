package index

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"finreport-qa/internal/model"
	"finreport-qa/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
)

// ESIndex 把所有文档的片段放在同一个 Elasticsearch 索引中，按 document_id 过滤。
type ESIndex struct {
	client    *elasticsearch.Client
	indexName string
	dims      int
}

// NewESIndex 创建 Elasticsearch 向量索引。索引本身由 es.EnsureIndex 负责创建。
func NewESIndex(client *elasticsearch.Client, indexName string, dims int) *ESIndex {
	return &ESIndex{client: client, indexName: indexName, dims: dims}
}

// Insert 先清掉旧片段，再用一次 bulk 写入（refresh=wait_for 保证返回后可见）。
// 任一条目失败都会删除该文档已写入的片段。
func (e *ESIndex) Insert(ctx context.Context, documentID string, passages []model.Passage) error {
	if err := checkPassages(documentID, passages, e.dims); err != nil {
		return err
	}
	if err := e.Delete(ctx, documentID); err != nil {
		return err
	}
	if len(passages) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, p := range passages {
		meta := map[string]map[string]string{"index": {"_index": e.indexName, "_id": p.ID}}
		doc := model.EsPassage{
			PassageID:  p.ID,
			DocumentID: p.DocumentID,
			Seq:        p.Seq,
			Text:       p.Text,
			Start:      p.Start,
			End:        p.End,
			Vector:     p.Vector,
		}
		if err := enc.Encode(meta); err != nil {
			return err
		}
		if err := enc.Encode(doc); err != nil {
			return err
		}
	}

	res, err := e.client.Bulk(&buf,
		e.client.Bulk.WithContext(ctx),
		e.client.Bulk.WithRefresh("wait_for"),
	)
	if err != nil {
		e.rollback(documentID)
		return fmt.Errorf("bulk index failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		e.rollback(documentID)
		return fmt.Errorf("bulk index failed: %s", res.String())
	}

	var bulkResp struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			Status int `json:"status"`
			Error  *struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&bulkResp); err != nil {
		e.rollback(documentID)
		return fmt.Errorf("decode bulk response: %w", err)
	}
	if bulkResp.Errors {
		reason := "unknown"
		for _, item := range bulkResp.Items {
			for _, r := range item {
				if r.Error != nil {
					reason = r.Error.Type + ": " + r.Error.Reason
					break
				}
			}
		}
		e.rollback(documentID)
		return fmt.Errorf("bulk index item failed: %s", reason)
	}
	log.Infof("[ESIndex] 文档 %s 写入 %d 个片段", documentID, len(passages))
	return nil
}

// rollback 使用独立的 context，调用方的 ctx 可能已经取消。
func (e *ESIndex) rollback(documentID string) {
	if err := e.Delete(context.Background(), documentID); err != nil {
		log.Error("[ESIndex] 回滚文档片段失败", err)
	}
}

type esSearchResponse struct {
	Hits struct {
		Hits []struct {
			Score  float64         `json:"_score"`
			Source model.EsPassage `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func (e *ESIndex) queryBody(documentID string, vector []float32, k int) map[string]interface{} {
	return map[string]interface{}{
		"size":         k,
		"track_scores": true,
		"_source":      map[string]interface{}{"excludes": []string{"vector"}},
		"query": map[string]interface{}{
			"script_score": map[string]interface{}{
				"query": map[string]interface{}{
					"bool": map[string]interface{}{
						"filter": []interface{}{
							map[string]interface{}{"term": map[string]interface{}{"document_id": documentID}},
						},
					},
				},
				"script": map[string]interface{}{
					// script_score 不允许负分，+1 后再在客户端减回
					"source": "cosineSimilarity(params.query_vector, 'vector') + 1.0",
					"params": map[string]interface{}{"query_vector": vector},
				},
			},
		},
		"sort": []interface{}{
			map[string]interface{}{"_score": map[string]string{"order": "desc"}},
			map[string]interface{}{"seq": map[string]string{"order": "asc"}},
		},
	}
}

func (e *ESIndex) Query(ctx context.Context, documentID string, vector []float32, k int) ([]model.ScoredPassage, error) {
	if len(vector) != e.dims {
		return nil, &DimensionError{Want: e.dims, Got: len(vector)}
	}
	if k <= 0 {
		return []model.ScoredPassage{}, nil
	}
	body, err := json.Marshal(e.queryBody(documentID, vector, k))
	if err != nil {
		return nil, err
	}
	res, err := e.client.Search(
		e.client.Search.WithContext(ctx),
		e.client.Search.WithIndex(e.indexName),
		e.client.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("search failed: %s", res.String())
	}

	var sr esSearchResponse
	if err := json.NewDecoder(res.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	hits := make([]model.ScoredPassage, 0, len(sr.Hits.Hits))
	for _, h := range sr.Hits.Hits {
		hits = append(hits, model.ScoredPassage{Passage: h.Source.ToPassage(), Score: h.Score - 1.0})
	}
	// ES 已经排好序；这里再排一次以消除浮点误差带来的并列差异
	return rank(hits, k), nil
}

func (e *ESIndex) documentFilter(documentID string) io.Reader {
	return strings.NewReader(fmt.Sprintf(`{"query":{"term":{"document_id":%q}}}`, documentID))
}

func (e *ESIndex) Delete(ctx context.Context, documentID string) error {
	res, err := e.client.DeleteByQuery(
		[]string{e.indexName},
		e.documentFilter(documentID),
		e.client.DeleteByQuery.WithContext(ctx),
		e.client.DeleteByQuery.WithRefresh(true),
		e.client.DeleteByQuery.WithConflicts("proceed"),
	)
	if err != nil {
		return fmt.Errorf("delete by query failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("delete by query failed: %s", res.String())
	}
	return nil
}

func (e *ESIndex) Count(ctx context.Context, documentID string) (int, error) {
	res, err := e.client.Count(
		e.client.Count.WithContext(ctx),
		e.client.Count.WithIndex(e.indexName),
		e.client.Count.WithBody(e.documentFilter(documentID)),
	)
	if err != nil {
		return 0, fmt.Errorf("count failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return 0, fmt.Errorf("count failed: %s", res.String())
	}
	var cr struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&cr); err != nil {
		return 0, fmt.Errorf("decode count response: %w", err)
	}
	return cr.Count, nil
}
