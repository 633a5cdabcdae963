package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to DocumentStatus
		ok       bool
	}{
		{StatusPending, StatusExtracting, true},
		{StatusExtracting, StatusChunking, true},
		{StatusChunking, StatusEmbedding, true},
		{StatusEmbedding, StatusIndexed, true},
		{StatusPending, StatusChunking, false},
		{StatusChunking, StatusExtracting, false},
		{StatusEmbedding, StatusFailed, true},
		{StatusPending, StatusFailed, true},
		{StatusIndexed, StatusFailed, false},
		{StatusFailed, StatusPending, false},
		{StatusIndexed, StatusPending, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.ok, c.from.CanTransitionTo(c.to), "%s -> %s", c.from, c.to)
	}
}

func TestStatusOrdering(t *testing.T) {
	assert.True(t, StatusPending.Before(StatusEmbedding))
	assert.False(t, StatusIndexed.Before(StatusChunking))
	assert.False(t, StatusFailed.Before(StatusIndexed))
	assert.True(t, StatusFailed.Valid())
	assert.False(t, DocumentStatus("paused").Valid())
	assert.Equal(t, 100, StatusIndexed.Progress())
}

func TestDocumentToDTO(t *testing.T) {
	d := &Document{ID: "d1", FileName: "q3.pdf", Status: StatusChunking, ChunkCount: 0, ObjectKey: "secret"}
	dto := d.ToDTO()
	assert.Equal(t, "q3.pdf", dto.FileName)
	assert.Equal(t, 40, dto.Progress)
}

func TestPassageID(t *testing.T) {
	assert.Equal(t, "abc_3", PassageID("abc", 3))
}
