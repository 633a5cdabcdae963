// Package extractor 定义了 PDF 文本提取能力的接口，以及与具体实现无关的格式校验。
package extractor

import (
	"bytes"
	"context"
	"errors"
	"strings"
)

// Extractor 把 PDF 字节提取为按页排列的文本。
type Extractor interface {
	ExtractPages(ctx context.Context, data []byte, fileName string) ([]string, error)
}

var (
	pdfMagic   = []byte("%PDF-")
	pdfTrailer = []byte("%%EOF")

	// ErrNotPDF 表示缺少 %PDF- 文件头。
	ErrNotPDF = errors.New("missing %PDF- header")
	// ErrTruncatedPDF 表示缺少 %%EOF 结尾标记。
	ErrTruncatedPDF = errors.New("missing %%EOF trailer")
	// ErrTooLarge 表示文件超过大小上限。
	ErrTooLarge = errors.New("file exceeds size limit")
)

// HasPDFHeader 判断字节是否以 %PDF- 开头。
func HasPDFHeader(data []byte) bool {
	return bytes.HasPrefix(data, pdfMagic)
}

// trailerWindow 是查找 %%EOF 的末尾范围，允许标记之后有少量填充字节。
const trailerWindow = 1024

// CheckPDF 校验文件头、结尾标记和大小。maxSize <= 0 表示不限。
func CheckPDF(data []byte, maxSize int64) error {
	if maxSize > 0 && int64(len(data)) > maxSize {
		return ErrTooLarge
	}
	if !HasPDFHeader(data) {
		return ErrNotPDF
	}
	tail := data
	if len(tail) > trailerWindow {
		tail = tail[len(tail)-trailerWindow:]
	}
	if !bytes.Contains(tail, pdfTrailer) {
		return ErrTruncatedPDF
	}
	return nil
}

// JoinPages 用换行连接各页文本。
func JoinPages(pages []string) string {
	return strings.Join(pages, "\n")
}
