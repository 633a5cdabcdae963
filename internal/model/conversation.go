// Package model 包含了应用的数据模型定义。
package model

import "time"

// ChatMessage 是某个文档问答历史中的一条消息，助手消息附带引用的片段。
type ChatMessage struct {
	Role      string    `json:"role"` // "user" 或 "assistant"
	Content   string    `json:"content"`
	Sources   []Source  `json:"sources,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
