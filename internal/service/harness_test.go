package service

import (
	"context"
	"testing"
	"time"

	"finreport-qa/internal/config"
	"finreport-qa/internal/fake"
	"finreport-qa/internal/index"
	"finreport-qa/internal/model"
	"finreport-qa/internal/pipeline"
	"finreport-qa/internal/repository"
	"finreport-qa/pkg/extractor"
	"finreport-qa/pkg/llm"
	"finreport-qa/pkg/retry"
	"finreport-qa/pkg/storage"

	"github.com/stretchr/testify/require"
)

const testDims = 64

type harness struct {
	store         *DocumentStore
	index         *index.MemoryIndex
	objects       storage.ObjectStore
	extractor     *fake.Extractor
	embedder      *fake.Embedder
	llm           *fake.LLM
	processor     *pipeline.Processor
	local         *pipeline.LocalDispatcher
	ingest        IngestService
	qa            QAService
	conversations ConversationService
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	async       bool
	maxFileSize int64
	rag         config.RAGConfig
	extractor   extractor.Extractor
}

func withAsync() harnessOption {
	return func(c *harnessConfig) { c.async = true }
}

func withRAG(rag config.RAGConfig) harnessOption {
	return func(c *harnessConfig) { c.rag = rag }
}

// withExtractor 替换默认的 fake 提取器。
func withExtractor(ext extractor.Extractor) harnessOption {
	return func(c *harnessConfig) { c.extractor = ext }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	cfg := harnessConfig{
		maxFileSize: 10 << 20,
		rag:         config.RAGConfig{TopK: 5, GenerationBackoff: time.Millisecond},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	h := &harness{
		index:     index.NewMemoryIndex(testDims),
		objects:   storage.NewMemoryStore(),
		extractor: &fake.Extractor{},
		embedder:  fake.NewEmbedder(testDims),
		llm:       &fake.LLM{},
	}
	var ext extractor.Extractor = h.extractor
	if cfg.extractor != nil {
		ext = cfg.extractor
	}
	h.store = NewDocumentStore(repository.NewMemoryDocumentRepository(), h.index, h.objects)
	h.processor = pipeline.NewProcessor(
		h.store, h.objects, ext, h.embedder,
		pipeline.NewChunker(200, 20, 10),
		repository.NewMemoryIngestLock(),
		pipeline.Options{
			MaxFileSize:      cfg.maxFileSize,
			ExtractTimeout:   time.Second,
			EmbedConcurrency: 4,
			EmbedPolicy:      retry.Policy{MaxAttempts: 3, Initial: time.Millisecond, Max: 5 * time.Millisecond, Multiplier: 2},
		},
	)
	h.store.OnDelete(h.processor.Cancel)

	var dispatcher pipeline.Dispatcher
	if cfg.async {
		h.local = pipeline.NewLocalDispatcher(h.processor, 2, 8)
		dispatcher = h.local
		t.Cleanup(h.local.Close)
	} else {
		dispatcher = pipeline.NewSyncDispatcher(h.processor)
	}
	h.ingest = NewIngestService(h.store, h.objects, dispatcher, cfg.maxFileSize, !cfg.async)
	h.conversations = NewConversationService(repository.NewMemoryConversationRepository(20), h.store)
	h.qa = NewQAService(h.store, h.index, h.embedder, h.llm, h.conversations, cfg.rag, &llm.GenerationParams{})
	return h
}

// waitForStatus 等待文档进入 want 状态。
func (h *harness) waitForStatus(t *testing.T, documentID string, want model.DocumentStatus) *model.Document {
	t.Helper()
	var doc *model.Document
	require.Eventually(t, func() bool {
		d, err := h.store.Lookup(context.Background(), documentID)
		if err != nil {
			return false
		}
		doc = d
		return d.Status == want
	}, 2*time.Second, 5*time.Millisecond, "document %s never reached %s", documentID, want)
	return doc
}
