// Package pdftext 使用 tabula 在进程内提取 PDF 文本，不依赖外部服务。
package pdftext

import (
	"context"
	"fmt"
	"os"

	"finreport-qa/pkg/log"

	"github.com/tsawler/tabula"
)

// Extractor 逐页调用 tabula 提取文本。
type Extractor struct{}

// NewExtractor 创建提取器。
func NewExtractor() *Extractor {
	return &Extractor{}
}

// ExtractPages 实现 extractor.Extractor。tabula 只接受文件路径，所以先写入临时文件。
func (e *Extractor) ExtractPages(ctx context.Context, data []byte, fileName string) ([]string, error) {
	tmp, err := os.CreateTemp("", "finqa-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("创建临时文件失败: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("写入临时文件失败: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("写入临时文件失败: %w", err)
	}

	counter := tabula.Open(tmp.Name())
	count, err := counter.PageCount()
	counter.Close()
	if err != nil {
		return nil, fmt.Errorf("读取页数失败: %w", err)
	}

	pages := make([]string, 0, count)
	for i := 1; i <= count; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, warnings, err := tabula.Open(tmp.Name()).Pages(i).Text()
		if err != nil {
			return nil, fmt.Errorf("提取第 %d 页失败: %w", i, err)
		}
		if len(warnings) > 0 {
			log.Debugf("[pdftext] %s 第 %d 页有 %d 条警告", fileName, i, len(warnings))
		}
		pages = append(pages, text)
	}
	return pages, nil
}
