package service

import (
	"context"
	"sync"
	"testing"

	"finreport-qa/internal/index"
	"finreport-qa/internal/model"
	"finreport-qa/internal/repository"
	"finreport-qa/pkg/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore() *DocumentStore {
	return NewDocumentStore(repository.NewMemoryDocumentRepository(), index.NewMemoryIndex(3), storage.NewMemoryStore())
}

func TestDocumentStoreForwardOnly(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	require.NoError(t, s.Create(ctx, &model.Document{ID: "d1", OwnerID: "alice", Status: model.StatusIndexed}))

	doc, err := s.Lookup(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, doc.Status)

	require.NoError(t, s.Advance(ctx, "d1", model.StatusExtracting))
	assert.Error(t, s.Advance(ctx, "d1", model.StatusPending))
	assert.Error(t, s.Advance(ctx, "d1", model.StatusIndexed))

	require.NoError(t, s.Fail(ctx, "d1", model.KindExtractionFailure, "boom"))
	require.NoError(t, s.Fail(ctx, "d1", model.KindInternal, "late"))
	doc, err = s.Lookup(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, doc.Status)
	assert.Equal(t, model.KindExtractionFailure, doc.FailureReason)

	err = s.Advance(ctx, "missing", model.StatusExtracting)
	assert.ErrorIs(t, err, model.ErrDocumentNotFound)
}

func TestDocumentStoreFinalize(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	require.NoError(t, s.Create(ctx, &model.Document{ID: "d1", OwnerID: "alice"}))
	passages := []model.Passage{
		{ID: model.PassageID("d1", 0), DocumentID: "d1", Seq: 0, Text: "a", Vector: []float32{1, 0, 0}},
		{ID: model.PassageID("d1", 1), DocumentID: "d1", Seq: 1, Text: "b", Vector: []float32{0, 1, 0}},
	}

	// 未到 embedding 阶段不能完成
	assert.Error(t, s.Finalize(ctx, "d1", passages))

	for _, st := range []model.DocumentStatus{model.StatusExtracting, model.StatusChunking, model.StatusEmbedding} {
		require.NoError(t, s.Advance(ctx, "d1", st))
	}
	require.NoError(t, s.Finalize(ctx, "d1", passages))

	doc, err := s.Get(ctx, "d1", "alice")
	require.NoError(t, err)
	assert.Equal(t, model.StatusIndexed, doc.Status)
	assert.Equal(t, 2, doc.ChunkCount)
	assert.Equal(t, 100, doc.Status.Progress())
}

func TestDocumentStoreOwnership(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	require.NoError(t, s.Create(ctx, &model.Document{ID: "d1", OwnerID: "alice"}))
	require.NoError(t, s.Create(ctx, &model.Document{ID: "d2", OwnerID: "bob"}))

	_, err := s.Get(ctx, "d1", "bob")
	assert.ErrorIs(t, err, model.ErrUnauthorized)
	_, err = s.Get(ctx, "nope", "bob")
	assert.ErrorIs(t, err, model.ErrDocumentNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "d1", "bob"), model.ErrUnauthorized)

	docs, err := s.ListByOwner(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "d2", docs[0].ID)
}

func TestDocumentStoreWatchAndDeleteHooks(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	require.NoError(t, s.Create(ctx, &model.Document{ID: "d1", OwnerID: "alice"}))

	var mu sync.Mutex
	var deleted []string
	s.OnDelete(func(id string) {
		mu.Lock()
		deleted = append(deleted, id)
		mu.Unlock()
	})

	updates, stop := s.Watch("d1")
	defer stop()
	require.NoError(t, s.Advance(ctx, "d1", model.StatusExtracting))
	require.NoError(t, s.Advance(ctx, "d1", model.StatusChunking))

	// 只保留最新快照
	snap := <-updates
	assert.Equal(t, model.StatusChunking, snap.Status)

	require.NoError(t, s.Delete(ctx, "d1", "alice"))
	_, open := <-updates
	assert.False(t, open)
	assert.Equal(t, []string{"d1"}, deleted)
}
