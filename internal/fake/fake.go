// Package fake 提供测试用的外部能力替身：提取器、向量化、生成模型。
package fake

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"unicode"

	"finreport-qa/pkg/llm"
)

const (
	pdfHeader  = "%PDF-1.4\n"
	pdfTrailer = "\n%%EOF"
)

// MakePDF 生成可被 Extractor 解析的伪 PDF，页之间用换页符分隔。
func MakePDF(pages ...string) []byte {
	return []byte(pdfHeader + strings.Join(pages, "\f") + pdfTrailer)
}

// Extractor 按 MakePDF 的格式解析页面。
type Extractor struct {
	Err error
	// Block 为 true 时一直等待到 ctx 结束，用于模拟提取超时。
	Block bool
	// Started 非 nil 时每次调用开始会发送一次信号。
	Started chan struct{}

	calls atomic.Int32
}

func (e *Extractor) ExtractPages(ctx context.Context, data []byte, _ string) ([]string, error) {
	e.calls.Add(1)
	if e.Started != nil {
		select {
		case e.Started <- struct{}{}:
		default:
		}
	}
	if e.Block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if e.Err != nil {
		return nil, e.Err
	}
	body := strings.TrimPrefix(string(data), pdfHeader)
	body = strings.TrimSuffix(body, pdfTrailer)
	return strings.Split(body, "\f"), nil
}

// Calls 返回被调用的次数。
func (e *Extractor) Calls() int { return int(e.calls.Load()) }

// Embedder 把文本按词哈希到固定维度并归一化，相同词汇的文本相似度更高。
type Embedder struct {
	Dims int
	// FailTimes 指定前几次调用返回 Err。
	FailTimes int32
	Err       error
	// Gate 非 nil 时每次调用都要先从中读取一次。
	Gate chan struct{}

	calls atomic.Int32
}

// NewEmbedder 创建指定维度的向量化替身。
func NewEmbedder(dims int) *Embedder {
	return &Embedder{Dims: dims}
}

func (e *Embedder) Dimensions() int { return e.Dims }

func (e *Embedder) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	n := e.calls.Add(1)
	if e.Gate != nil {
		select {
		case <-e.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if n <= e.FailTimes {
		if e.Err != nil {
			return nil, e.Err
		}
		return nil, errors.New("embedding service unavailable")
	}
	return Vector(text, e.Dims), nil
}

// Calls 返回被调用的次数。
func (e *Embedder) Calls() int { return int(e.calls.Load()) }

// Vector 计算 text 的词袋向量。
func Vector(text string, dims int) []float32 {
	vec := make([]float32, dims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '$'
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		vec[h.Sum32()%uint32(dims)]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

// LLM 记录收到的消息，并用第一段参考资料作为回答。
type LLM struct {
	// FailTimes 指定前几次调用返回 Err。
	FailTimes int32
	Err       error
	// Reply 非空时直接返回该文本。
	Reply string

	mu       sync.Mutex
	calls    int32
	messages [][]llm.Message
}

func (l *LLM) Chat(ctx context.Context, messages []llm.Message, _ *llm.GenerationParams) (string, error) {
	l.mu.Lock()
	l.calls++
	n := l.calls
	l.messages = append(l.messages, messages)
	l.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if n <= l.FailTimes {
		if l.Err != nil {
			return "", l.Err
		}
		return "", errors.New("generation service unavailable")
	}
	if l.Reply != "" {
		return l.Reply, nil
	}
	for _, m := range messages {
		if m.Role != llm.RoleSystem {
			continue
		}
		for _, line := range strings.Split(m.Content, "\n") {
			if strings.HasPrefix(line, "[1] ") {
				return "According to the report: " + strings.TrimPrefix(line, "[1] "), nil
			}
		}
	}
	return "I don't know.", nil
}

// Calls 返回被调用的次数。
func (l *LLM) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return int(l.calls)
}

// LastMessages 返回最近一次调用收到的消息。
func (l *LLM) LastMessages() []llm.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.messages) == 0 {
		return nil
	}
	return l.messages[len(l.messages)-1]
}
