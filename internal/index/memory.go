package index

import (
	"context"
	"sync"

	"finreport-qa/internal/model"
)

// MemoryIndex 在进程内暴力计算余弦相似度。
// 每个文档的片段集合是不可变切片，写入时整体替换，读者要么看到全部要么看不到。
type MemoryIndex struct {
	dims int
	mu   sync.RWMutex
	docs map[string][]model.Passage
}

// NewMemoryIndex 创建内存索引。
func NewMemoryIndex(dims int) *MemoryIndex {
	return &MemoryIndex{dims: dims, docs: make(map[string][]model.Passage)}
}

func (m *MemoryIndex) Insert(_ context.Context, documentID string, passages []model.Passage) error {
	if err := checkPassages(documentID, passages, m.dims); err != nil {
		return err
	}
	set := make([]model.Passage, len(passages))
	for i, p := range passages {
		vec := make([]float32, len(p.Vector))
		copy(vec, p.Vector)
		p.Vector = vec
		set[i] = p
	}
	m.mu.Lock()
	m.docs[documentID] = set
	m.mu.Unlock()
	return nil
}

func (m *MemoryIndex) Query(_ context.Context, documentID string, vector []float32, k int) ([]model.ScoredPassage, error) {
	if len(vector) != m.dims {
		return nil, &DimensionError{Want: m.dims, Got: len(vector)}
	}
	if k <= 0 {
		return []model.ScoredPassage{}, nil
	}
	m.mu.RLock()
	set := m.docs[documentID]
	m.mu.RUnlock()

	hits := make([]model.ScoredPassage, 0, len(set))
	for _, p := range set {
		out := p
		out.Vector = nil
		hits = append(hits, model.ScoredPassage{Passage: out, Score: CosineSimilarity(vector, p.Vector)})
	}
	return rank(hits, k), nil
}

func (m *MemoryIndex) Delete(_ context.Context, documentID string) error {
	m.mu.Lock()
	delete(m.docs, documentID)
	m.mu.Unlock()
	return nil
}

func (m *MemoryIndex) Count(_ context.Context, documentID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs[documentID]), nil
}
