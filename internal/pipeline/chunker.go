package pipeline

import (
	"strings"
	"unicode"

	"finreport-qa/internal/model"
)

// Chunker 把清洗后的文本切分为有重叠的片段。单位为字符（rune）。
type Chunker struct {
	size      int
	overlap   int
	minLength int
}

// NewChunker 创建切分器。overlap 会被限制在 size/2 以下，保证窗口始终前进；
// minLength 不超过 size，保证片段长度不超过 size。
func NewChunker(size, overlap, minLength int) *Chunker {
	if size <= 0 {
		size = 1000
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size/2 {
		overlap = size/2 - 1
		if overlap < 0 {
			overlap = 0
		}
	}
	if minLength > size {
		minLength = size
	}
	return &Chunker{size: size, overlap: overlap, minLength: minLength}
}

// CleanText 把连续空白折叠为单个空格并去掉首尾空白。
func CleanText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// Chunk 切分文本。结果确定、seq 从 0 连续，不产生空片段。
// text 应是 CleanText 的输出，片段的 Start/End 都是这段文本中的 rune 偏移。
func (c *Chunker) Chunk(documentID, text string) []model.Passage {
	runes := []rune(text)
	n := len(runes)
	passages := make([]model.Passage, 0, n/c.size+1)

	emit := func(start, end int) {
		for start < end && unicode.IsSpace(runes[start]) {
			start++
		}
		for end > start && unicode.IsSpace(runes[end-1]) {
			end--
		}
		if start >= end {
			return
		}
		seq := len(passages)
		passages = append(passages, model.Passage{
			ID:         model.PassageID(documentID, seq),
			DocumentID: documentID,
			Seq:        seq,
			Text:       string(runes[start:end]),
			Start:      start,
			End:        end,
		})
	}

	// 短文本不做窗口切分
	if n <= c.size || n < c.minLength {
		emit(0, n)
		return passages
	}

	start := 0
	for start < n {
		end := start + c.size
		if end > n {
			end = n
		}
		if end < n {
			// 在窗口最后四分之一内寻找空白作为软边界
			lo := end - c.size/4
			if lo <= start {
				lo = start + 1
			}
			for i := end - 1; i >= lo; i-- {
				if unicode.IsSpace(runes[i]) {
					end = i
					break
				}
			}
		}
		emit(start, end)
		if end >= n {
			break
		}
		next := end - c.overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return passages
}
