package service

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"

	"finreport-qa/internal/fake"
	"finreport-qa/internal/model"
	"finreport-qa/pkg/tasks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIngestValidPDFBecomesIndexed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	text := strings.Repeat("Revenue grew steadily across every segment this year. ", 20)

	doc, err := h.ingest.Ingest(ctx, fake.MakePDF(text, "Net income was stable."), "annual.pdf", "alice")
	require.NoError(t, err)
	assert.Equal(t, model.StatusIndexed, doc.Status)
	assert.Greater(t, doc.ChunkCount, 1)
	assert.Len(t, doc.ContentHash, 64)
	assert.Equal(t, tasks.ObjectKeyFor("alice", doc.ID), doc.ObjectKey)

	count, err := h.index.Count(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.ChunkCount, count)

	hits, err := h.index.Query(ctx, doc.ID, fake.Vector("revenue", testDims), 100)
	require.NoError(t, err)
	seqs := make(map[int]bool)
	for _, hit := range hits {
		seqs[hit.Passage.Seq] = true
	}
	for i := 0; i < count; i++ {
		assert.True(t, seqs[i], "missing seq %d", i)
	}
}

func TestIngestPreChecksCreateNothing(t *testing.T) {
	tests := []struct {
		name  string
		data  []byte
		owner string
		kind  model.ErrorKind
	}{
		{name: "too large", data: append([]byte("%PDF-1.4\n"), bytes.Repeat([]byte("a"), 15<<20)...), owner: "alice", kind: model.KindFileTooLarge},
		{name: "not a pdf", data: []byte("hello, world"), owner: "alice", kind: model.KindUnsupportedFormat},
		{name: "no owner", data: fake.MakePDF("text"), owner: " ", kind: model.KindUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			_, err := h.ingest.Ingest(context.Background(), tt.data, "report.pdf", tt.owner)
			require.Error(t, err)
			assert.Equal(t, tt.kind, model.KindOf(err))

			docs, err := h.store.ListByOwner(context.Background(), "alice")
			require.NoError(t, err)
			assert.Empty(t, docs)
			assert.Zero(t, h.extractor.Calls())
		})
	}
}

func TestIngestFailuresAreRecorded(t *testing.T) {
	tests := []struct {
		name  string
		data  []byte
		setup func(h *harness)
		kind  model.ErrorKind
	}{
		{name: "truncated pdf", data: []byte("%PDF-1.4\nsome bytes without a trailer"), kind: model.KindUnsupportedFormat},
		{name: "empty document", data: fake.MakePDF("   ", "\n\t"), kind: model.KindEmptyDocument},
		{
			name:  "extractor error",
			data:  fake.MakePDF("text"),
			setup: func(h *harness) { h.extractor.Err = assert.AnError },
			kind:  model.KindExtractionFailure,
		},
		{
			name:  "extract timeout",
			data:  fake.MakePDF("text"),
			setup: func(h *harness) { h.extractor.Block = true },
			kind:  model.KindExtractionFailure,
		},
		{
			name:  "embedding keeps failing",
			data:  fake.MakePDF("Q3 revenue was $5M."),
			setup: func(h *harness) { h.embedder.FailTimes = 100 },
			kind:  model.KindEmbeddingServiceError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			if tt.setup != nil {
				tt.setup(h)
			}
			doc, err := h.ingest.Ingest(context.Background(), tt.data, "report.pdf", "alice")
			require.NoError(t, err)
			assert.Equal(t, model.StatusFailed, doc.Status)
			assert.Equal(t, tt.kind, doc.FailureReason)
			assert.NotEmpty(t, doc.ErrorDetail)

			count, err := h.index.Count(context.Background(), doc.ID)
			require.NoError(t, err)
			assert.Zero(t, count)
		})
	}
}

func TestIngestRetriesTransientEmbeddingErrors(t *testing.T) {
	h := newHarness(t)
	h.embedder.FailTimes = 1

	doc, err := h.ingest.Ingest(context.Background(), fake.MakePDF("Q3 revenue was $5M."), "q3.pdf", "alice")
	require.NoError(t, err)
	assert.Equal(t, model.StatusIndexed, doc.Status)
}

func TestConcurrentIngestRunsOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	gate := make(chan struct{})
	h.embedder.Gate = gate

	doc := &model.Document{ID: "doc-1", OwnerID: "alice", FileName: "q3.pdf", ObjectKey: tasks.ObjectKeyFor("alice", "doc-1")}
	require.NoError(t, h.objects.Put(ctx, doc.ObjectKey, fake.MakePDF("Q3 revenue was $5M."), "application/pdf"))
	require.NoError(t, h.store.Create(ctx, doc))
	task := tasks.IngestionTask{DocumentID: doc.ID, ObjectKey: doc.ObjectKey, FileName: doc.FileName, OwnerID: doc.OwnerID}

	var wg sync.WaitGroup
	wg.Add(1)
	var firstErr error
	go func() {
		defer wg.Done()
		firstErr = h.processor.Process(ctx, task)
	}()
	h.waitForStatus(t, doc.ID, model.StatusEmbedding)

	err := h.processor.Process(ctx, task)
	assert.Equal(t, model.KindAlreadyProcessing, model.KindOf(err))

	close(gate)
	wg.Wait()
	require.NoError(t, firstErr)
	assert.Equal(t, 1, h.extractor.Calls())
	h.waitForStatus(t, doc.ID, model.StatusIndexed)

	// 已完成的文档再次投递时直接跳过
	require.NoError(t, h.processor.Process(ctx, task))
	assert.Equal(t, 1, h.extractor.Calls())
}

func TestAsyncIngestReturnsPending(t *testing.T) {
	h := newHarness(t, withAsync())
	ctx := context.Background()

	doc, err := h.ingest.Ingest(ctx, fake.MakePDF("Q3 revenue was $5M."), "q3.pdf", "alice")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, doc.Status)

	updates, stop := h.store.Watch(doc.ID)
	defer stop()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	h.local.Start(ctx)

	var last model.Document
	for last.Status != model.StatusIndexed {
		last = <-updates
		require.NotEqual(t, model.StatusFailed, last.Status)
	}
	assert.Equal(t, 1, last.ChunkCount)
}

func TestDeleteMidPipeline(t *testing.T) {
	h := newHarness(t, withAsync())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.embedder.Gate = make(chan struct{})
	h.local.Start(ctx)

	doc, err := h.ingest.Ingest(ctx, fake.MakePDF("Q3 revenue was $5M."), "q3.pdf", "alice")
	require.NoError(t, err)
	h.waitForStatus(t, doc.ID, model.StatusEmbedding)

	require.NoError(t, h.store.Delete(ctx, doc.ID, "alice"))
	h.local.Close()

	_, err = h.store.Lookup(ctx, doc.ID)
	assert.ErrorIs(t, err, model.ErrDocumentNotFound)
	count, err := h.index.Count(ctx, doc.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
	_, err = h.objects.Get(ctx, doc.ObjectKey)
	assert.Error(t, err)
}

func TestResume(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	doc := &model.Document{ID: "doc-2", OwnerID: "alice", FileName: "q3.pdf", ObjectKey: tasks.ObjectKeyFor("alice", "doc-2")}
	require.NoError(t, h.objects.Put(ctx, doc.ObjectKey, fake.MakePDF("Q3 revenue was $5M."), "application/pdf"))
	require.NoError(t, h.store.Create(ctx, doc))
	require.NoError(t, h.store.Advance(ctx, doc.ID, model.StatusExtracting))

	_, err := h.ingest.Resume(ctx, doc.ID, "bob")
	assert.Equal(t, model.KindUnauthorized, model.KindOf(err))

	got, err := h.ingest.Resume(ctx, doc.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, model.StatusIndexed, got.Status)

	again, err := h.ingest.Resume(ctx, doc.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, model.StatusIndexed, again.Status)
	assert.Equal(t, 1, h.extractor.Calls())
}
