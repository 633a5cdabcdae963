package model

import "fmt"

// Passage 是文档被切分后的一个片段，创建后不再修改。
type Passage struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Seq        int    `json:"seq"`
	Text       string `json:"text"`
	// Start 和 End 是 [start, end) 的 rune 偏移，针对的是经过 CleanText 折叠空白后的全文，
	// 而不是提取器返回的原始页面文本。
	Start  int       `json:"start"`
	End    int       `json:"end"`
	Vector []float32 `json:"-"`
}

// PassageID 生成文档内唯一的片段 ID。
func PassageID(documentID string, seq int) string {
	return fmt.Sprintf("%s_%d", documentID, seq)
}

// ScoredPassage 是检索命中的片段及其余弦相似度。
type ScoredPassage struct {
	Passage Passage `json:"passage"`
	Score   float64 `json:"score"`
}
