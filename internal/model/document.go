// Package model 定义了与数据库表对应的 Go 结构体。
package model

import "time"

// DocumentStatus 表示文档在摄取流水线中的阶段。
type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusExtracting DocumentStatus = "extracting"
	StatusChunking   DocumentStatus = "chunking"
	StatusEmbedding  DocumentStatus = "embedding"
	StatusIndexed    DocumentStatus = "indexed"
	StatusFailed     DocumentStatus = "failed"
)

var statusOrder = map[DocumentStatus]int{
	StatusPending:    0,
	StatusExtracting: 1,
	StatusChunking:   2,
	StatusEmbedding:  3,
	StatusIndexed:    4,
}

// IsTerminal 表示状态不会再改变。
func (s DocumentStatus) IsTerminal() bool {
	return s == StatusIndexed || s == StatusFailed
}

// Valid 判断是否为已知状态。
func (s DocumentStatus) Valid() bool {
	if s == StatusFailed {
		return true
	}
	_, ok := statusOrder[s]
	return ok
}

// Before 判断 s 是否排在 other 之前（仅比较正常流程上的阶段）。
func (s DocumentStatus) Before(other DocumentStatus) bool {
	a, okA := statusOrder[s]
	b, okB := statusOrder[other]
	return okA && okB && a < b
}

// CanTransitionTo 只允许前进到下一个阶段，或从非终态转入 failed。
func (s DocumentStatus) CanTransitionTo(next DocumentStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if next == StatusFailed {
		return true
	}
	cur, ok := statusOrder[s]
	if !ok {
		return false
	}
	n, ok := statusOrder[next]
	return ok && n == cur+1
}

// Progress 返回该阶段对应的进度百分比。
func (s DocumentStatus) Progress() int {
	switch s {
	case StatusPending:
		return 0
	case StatusExtracting:
		return 15
	case StatusChunking:
		return 40
	case StatusEmbedding:
		return 60
	case StatusIndexed, StatusFailed:
		return 100
	}
	return 0
}

// Document 定义了 documents 表的 ORM 模型。
// 它记录上传的财报文件及其处理状态。
type Document struct {
	ID            string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	OwnerID       string         `gorm:"type:varchar(64);index;not null" json:"ownerId"`
	FileName      string         `gorm:"type:varchar(255);not null" json:"fileName"`
	FileSize      int64          `gorm:"not null" json:"fileSize"`
	ContentHash   string         `gorm:"type:varchar(64)" json:"contentHash"`
	ObjectKey     string         `gorm:"type:varchar(255)" json:"-"`
	Status        DocumentStatus `gorm:"type:varchar(16);not null;index" json:"status"`
	ChunkCount    int            `gorm:"not null;default:0" json:"chunkCount"`
	FailureReason ErrorKind      `gorm:"type:varchar(32)" json:"failureReason,omitempty"`
	ErrorDetail   string         `gorm:"type:text" json:"errorDetail,omitempty"`
	CreatedAt     time.Time      `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt     time.Time      `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Document) TableName() string {
	return "documents"
}

// StatusChange 描述一次状态变更附带写入的字段。
type StatusChange struct {
	To            DocumentStatus
	ChunkCount    int
	FailureReason ErrorKind
	ErrorDetail   string
}

// DocumentDTO 是返回给前端的文档视图。
type DocumentDTO struct {
	ID            string         `json:"id"`
	FileName      string         `json:"filename"`
	FileSize      int64          `json:"size"`
	Status        DocumentStatus `json:"status"`
	Progress      int            `json:"progress"`
	ChunkCount    int            `json:"chunk_count"`
	FailureReason ErrorKind      `json:"failure_reason,omitempty"`
	Error         string         `json:"error,omitempty"`
	CreatedAt     LocalTime      `json:"created_at"`
	UpdatedAt     LocalTime      `json:"updated_at"`
}

// ToDTO 转换为对外视图。
func (d *Document) ToDTO() DocumentDTO {
	return DocumentDTO{
		ID:            d.ID,
		FileName:      d.FileName,
		FileSize:      d.FileSize,
		Status:        d.Status,
		Progress:      d.Status.Progress(),
		ChunkCount:    d.ChunkCount,
		FailureReason: d.FailureReason,
		Error:         d.ErrorDetail,
		CreatedAt:     LocalTime(d.CreatedAt),
		UpdatedAt:     LocalTime(d.UpdatedAt),
	}
}
