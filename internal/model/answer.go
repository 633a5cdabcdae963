package model

// Source 描述答案引用的一个片段。
type Source struct {
	FileName   string  `json:"filename"`
	DocumentID string  `json:"document_id"`
	PassageID  string  `json:"passage_id"`
	Seq        int     `json:"seq"`
	Score      float64 `json:"score"`
	Text       string  `json:"text,omitempty"`
}

// Answer 是一次问答的结果。
type Answer struct {
	Text    string   `json:"answer"`
	Sources []Source `json:"sources"`
}
