package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"finreport-qa/internal/config"
	"finreport-qa/internal/fake"
	"finreport-qa/internal/index"
	"finreport-qa/internal/model"
	"finreport-qa/internal/pipeline"
	"finreport-qa/internal/repository"
	"finreport-qa/internal/service"
	"finreport-qa/pkg/llm"
	"finreport-qa/pkg/retry"
	"finreport-qa/pkg/storage"
	"finreport-qa/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const maxTestFileSize = 1 << 20

type testServer struct {
	router *gin.Engine
	jwt    *token.JWTManager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	idx := index.NewMemoryIndex(32)
	objects := storage.NewMemoryStore()
	store := service.NewDocumentStore(repository.NewMemoryDocumentRepository(), idx, objects)
	embedder := fake.NewEmbedder(32)
	processor := pipeline.NewProcessor(store, objects, &fake.Extractor{}, embedder,
		pipeline.NewChunker(200, 20, 10), repository.NewMemoryIngestLock(),
		pipeline.Options{MaxFileSize: maxTestFileSize, ExtractTimeout: time.Second, EmbedPolicy: retry.Policy{MaxAttempts: 1}})
	store.OnDelete(processor.Cancel)
	ingest := service.NewIngestService(store, objects, pipeline.NewSyncDispatcher(processor), maxTestFileSize, true)
	conversations := service.NewConversationService(repository.NewMemoryConversationRepository(20), store)
	qa := service.NewQAService(store, idx, embedder, &fake.LLM{}, conversations, config.RAGConfig{TopK: 3}, &llm.GenerationParams{})

	jwt := token.NewJWTManager("test-secret", 1)
	return &testServer{
		router: NewRouter(Services{
			Store: store, Ingest: ingest, QA: qa, Conversations: conversations, JWT: jwt, MaxFileSize: maxTestFileSize,
		}),
		jwt: jwt,
	}
}

func (s *testServer) bearer(t *testing.T, userID string) string {
	t.Helper()
	tok, err := s.jwt.GenerateToken(userID, userID)
	require.NoError(t, err)
	return "Bearer " + tok
}

func (s *testServer) do(t *testing.T, req *http.Request, userID string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	if userID != "" {
		req.Header.Set("Authorization", s.bearer(t, userID))
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	var body map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return w, body
}

func uploadRequest(t *testing.T, name string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func (s *testServer) upload(t *testing.T, userID string) string {
	t.Helper()
	w, body := s.do(t, uploadRequest(t, "q3.pdf", fake.MakePDF("Acme Q3 revenue was $5M.")), userID)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, body["success"])
	assert.Equal(t, string(model.StatusIndexed), body["status"])
	return body["document_id"].(string)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w, body := s.do(t, httptest.NewRequest(http.MethodGet, "/", nil), "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "API is running", body["status"])
}

func TestRequiresAuthentication(t *testing.T) {
	s := newTestServer(t)
	w, body := s.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/documents", nil), "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, false, body["success"])
}

func TestUploadRejections(t *testing.T) {
	s := newTestServer(t)

	w, body := s.do(t, uploadRequest(t, "notes.txt", []byte("just text")), "alice")
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
	assert.Equal(t, "UnsupportedFormat", body["code"])

	big := append([]byte("%PDF-1.4\n"), bytes.Repeat([]byte("x"), maxTestFileSize)...)
	w, body = s.do(t, uploadRequest(t, "big.pdf", big), "alice")
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, "FileTooLarge", body["code"])

	w, body = s.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/upload", nil), "alice")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "InvalidRequest", body["code"])

	_, body = s.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/documents", nil), "alice")
	assert.Empty(t, body["documents"])
}

func TestDocumentLifecycle(t *testing.T) {
	s := newTestServer(t)
	id := s.upload(t, "alice")

	w, body := s.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/documents", nil), "alice")
	require.Equal(t, http.StatusOK, w.Code)
	docs := body["documents"].([]interface{})
	require.Len(t, docs, 1)

	w, body = s.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/documents/"+id, nil), "alice")
	require.Equal(t, http.StatusOK, w.Code)
	doc := body["document"].(map[string]interface{})
	assert.Equal(t, float64(100), doc["progress"])
	assert.Equal(t, "q3.pdf", doc["filename"])

	w, body = s.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/documents/"+id, nil), "bob")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "Unauthorized", body["code"])

	w, _ = s.do(t, httptest.NewRequest(http.MethodDelete, "/api/v1/documents/"+id, nil), "bob")
	assert.Equal(t, http.StatusForbidden, w.Code)
	w, _ = s.do(t, httptest.NewRequest(http.MethodDelete, "/api/v1/documents/"+id, nil), "alice")
	assert.Equal(t, http.StatusOK, w.Code)
	w, body = s.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/documents/"+id, nil), "alice")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "DocumentNotFound", body["code"])
}

func queryRequest(body string, path string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestQuery(t *testing.T) {
	s := newTestServer(t)
	id := s.upload(t, "alice")

	w, body := s.do(t, queryRequest(`{"question":"What was Q3 revenue?","document_id":"`+id+`"}`, "/api/v1/query"), "alice")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, body["answer"], "$5M")
	sources := body["sources"].([]interface{})
	require.Len(t, sources, 1)
	assert.Equal(t, "q3.pdf", sources[0].(map[string]interface{})["filename"])

	// file_id 和 /question 是别名
	w, _ = s.do(t, queryRequest(`{"question":"What was Q3 revenue?","file_id":"`+id+`"}`, "/api/v1/question"), "alice")
	assert.Equal(t, http.StatusOK, w.Code)

	w, body = s.do(t, queryRequest(`{"question":"  ","document_id":"`+id+`"}`, "/api/v1/query"), "alice")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "EmptyQuestion", body["code"])

	w, _ = s.do(t, queryRequest(`{"question":"revenue?","document_id":"`+id+`"}`, "/api/v1/query"), "bob")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = s.do(t, queryRequest(`{"question":"revenue?"}`, "/api/v1/query"), "alice")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = s.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/documents/"+id+"/conversation", nil), "alice")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["messages"], 4)
}

func TestStatusForKinds(t *testing.T) {
	assert.Equal(t, http.StatusConflict, statusFor(model.KindDocumentNotReady))
	assert.Equal(t, http.StatusConflict, statusFor(model.KindAlreadyProcessing))
	assert.Equal(t, http.StatusBadGateway, statusFor(model.KindAnswerGenerationFailure))
	assert.Equal(t, http.StatusInternalServerError, statusFor(model.KindExtractionFailure))
	assert.Equal(t, http.StatusInternalServerError, statusFor(model.KindInternal))
}

func TestWatchSendsTerminalSnapshot(t *testing.T) {
	s := newTestServer(t)
	id := s.upload(t, "alice")

	srv := httptest.NewServer(s.router)
	defer srv.Close()
	tok, err := s.jwt.GenerateToken("alice", "alice")
	require.NoError(t, err)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/documents/" + id + "/watch?token=" + tok

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var snapshot model.DocumentDTO
	require.NoError(t, conn.ReadJSON(&snapshot))
	assert.Equal(t, model.StatusIndexed, snapshot.Status)
	assert.Equal(t, 100, snapshot.Progress)

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}
