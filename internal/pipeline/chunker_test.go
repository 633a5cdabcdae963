package pipeline

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanText(t *testing.T) {
	assert.Equal(t, "Q3 revenue was $5M", CleanText("  Q3\n\trevenue   was\f$5M \n"))
	assert.Equal(t, "", CleanText(" \n\t "))
}

func TestChunkShortTextIsSinglePassage(t *testing.T) {
	c := NewChunker(1000, 100, 20)
	ps := c.Chunk("d1", "Revenue: $5M")
	require.Len(t, ps, 1)
	assert.Equal(t, "d1_0", ps[0].ID)
	assert.Equal(t, "Revenue: $5M", ps[0].Text)
	assert.Equal(t, 0, ps[0].Start)
	assert.Equal(t, 12, ps[0].End)

	assert.Empty(t, c.Chunk("d1", ""))
	assert.Empty(t, c.Chunk("d1", "   "))
}

func TestChunkWindowsOverlapAndStayBounded(t *testing.T) {
	words := make([]string, 0, 600)
	for i := 0; i < 600; i++ {
		words = append(words, "word"+strings.Repeat("x", i%5))
	}
	text := strings.Join(words, " ")
	runes := []rune(text)
	c := NewChunker(200, 40, 20)
	ps := c.Chunk("doc", text)
	require.Greater(t, len(ps), 5)

	for i, p := range ps {
		assert.Equal(t, i, p.Seq, "sequence must be contiguous")
		assert.LessOrEqual(t, utf8.RuneCountInString(p.Text), 200)
		assert.Equal(t, string(runes[p.Start:p.End]), p.Text, "span must match text")
		assert.Equal(t, strings.TrimSpace(p.Text), p.Text)
		if i > 0 {
			assert.Less(t, p.Start, ps[i-1].End, "windows overlap")
			assert.Greater(t, p.Start, ps[i-1].Start, "windows advance")
		}
	}
	assert.Equal(t, len(runes), ps[len(ps)-1].End, "last passage reaches the end")
}

func TestChunkIsDeterministic(t *testing.T) {
	text := strings.Repeat("净利润同比增长 12%，营业收入 5 亿元。", 200)
	c := NewChunker(300, 30, 20)
	assert.Equal(t, c.Chunk("d", text), c.Chunk("d", text))
}

func TestChunkWithoutWhitespaceStillAdvances(t *testing.T) {
	text := strings.Repeat("a", 2500)
	ps := NewChunker(1000, 100, 20).Chunk("d", text)
	require.Len(t, ps, 3)
	assert.Equal(t, 0, ps[0].Start)
	assert.Equal(t, 1000, ps[0].End)
	assert.Equal(t, 900, ps[1].Start)
	assert.Equal(t, 2500, ps[2].End)
}

func TestNewChunkerClampsOverlap(t *testing.T) {
	c := NewChunker(100, 80, 0)
	assert.Equal(t, 49, c.overlap)
}

func TestChunkNeverExceedsSizeWhenMinLengthIsLarger(t *testing.T) {
	text := "Revenue grew in every quarter of the fiscal year."
	c := NewChunker(8, 0, 40)
	ps := c.Chunk("d", text)
	require.NotEmpty(t, ps)
	for _, p := range ps {
		assert.LessOrEqual(t, utf8.RuneCountInString(p.Text), 8)
	}
}
