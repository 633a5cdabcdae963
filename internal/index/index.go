// Package index 提供按文档隔离的向量检索。
//
// 所有实现遵循同一语义：余弦相似度降序，分数相同时 seq 小者优先；
// k 不超过文档片段数；插入对单个文档是全有或全无的，并替换已有片段。
package index

import (
	"context"
	"fmt"
	"math"
	"sort"

	"finreport-qa/internal/model"
)

// Index 是向量索引的抽象。
type Index interface {
	Insert(ctx context.Context, documentID string, passages []model.Passage) error
	Query(ctx context.Context, documentID string, vector []float32, k int) ([]model.ScoredPassage, error)
	Delete(ctx context.Context, documentID string) error
	Count(ctx context.Context, documentID string) (int, error)
}

// DimensionError 表示向量维度与部署配置不一致。
type DimensionError struct {
	Want, Got int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("vector dimension mismatch: want %d, got %d", e.Want, e.Got)
}

func checkPassages(documentID string, passages []model.Passage, dims int) error {
	for i, p := range passages {
		if p.DocumentID != documentID {
			return fmt.Errorf("passage %d belongs to document %q, not %q", i, p.DocumentID, documentID)
		}
		if p.Seq != i {
			return fmt.Errorf("passage sequence not contiguous at %d (got %d)", i, p.Seq)
		}
		if len(p.Vector) != dims {
			return &DimensionError{Want: dims, Got: len(p.Vector)}
		}
	}
	return nil
}

// CosineSimilarity 计算两个向量的余弦相似度，任一向量为零向量时返回 0。
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// rank 按分数降序、seq 升序排序并截取前 k 个。
func rank(hits []model.ScoredPassage, k int) []model.ScoredPassage {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Passage.Seq < hits[j].Passage.Seq
	})
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits
}
