package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/adapter/chunker"
	"docqa/internal/adapter/embedding"
	"docqa/internal/adapter/llm"
	"docqa/internal/adapter/loader"
	"docqa/internal/adapter/memory"
	"docqa/internal/adapter/memstore"
	"docqa/internal/adapter/vectorindex"
	"docqa/internal/domain"
	"docqa/internal/usecase"
)

func newTestServer(t *testing.T, maxUpload int64) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gw := memstore.NewMemoryStore()
	svc, err := usecase.NewService(usecase.Deps{
		Gateway:   gw,
		Chunker:   chunker.NewTextChunker(200, 20),
		Embedder:  embedding.NewHashEmbedder(128),
		Index:     vectorindex.New(0),
		Memory:    memory.NewConversation(gw, memory.Policy{MaxTurns: 5}, nil),
		Generator: llm.NewExtractiveGenerator(),
		Loader:    loader.New(),
	}, usecase.Options{})
	require.NoError(t, err)

	log := logrus.New()
	log.SetOutput(io.Discard)
	srv := httptest.NewServer(NewAPI(svc, log, maxUpload, 0).Router())
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any, out any) int {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, r)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

type uploadResponse struct {
	Document   domain.Document `json:"document"`
	ChunkCount int             `json:"chunk_count"`
}

func uploadFile(t *testing.T, url, filename string, content []byte) (int, uploadResponse) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(url+"/documents", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out uploadResponse
	if resp.StatusCode == http.StatusCreated {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp.StatusCode, out
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, 0)
	var out map[string]string
	assert.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/health", nil, &out))
	assert.Equal(t, "ok", out["status"])
}

func TestConversationFlow(t *testing.T) {
	srv := newTestServer(t, 0)
	text := "The warranty covers manufacturing defects for two years. Returns are accepted within thirty days of delivery."

	status, up := uploadFile(t, srv.URL, "policy.txt", []byte(text))
	require.Equal(t, http.StatusCreated, status)
	docID := up.Document.ID
	assert.Equal(t, "policy.txt", up.Document.Filename)
	assert.Equal(t, 1, up.ChunkCount)

	var first usecase.QueryResult
	status = doJSON(t, http.MethodPost, srv.URL+"/documents/"+docID+"/query",
		map[string]any{"question": "How long does the warranty cover defects?"}, &first)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "The warranty covers manufacturing defects for two years.", first.Answer)
	assert.NotEmpty(t, first.SessionID)
	assert.Len(t, first.SourceChunkIDs, 1)

	var second usecase.QueryResult
	status = doJSON(t, http.MethodPost, srv.URL+"/documents/"+docID+"/query",
		map[string]any{"question": "When are returns accepted?", "session_id": first.SessionID}, &second)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, first.SessionID, second.SessionID)

	var hist struct {
		Session domain.Session `json:"session"`
		Turns   []domain.Turn  `json:"turns"`
	}
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/sessions/"+first.SessionID+"/history", nil, &hist))
	assert.Equal(t, docID, hist.Session.DocumentID)
	require.Len(t, hist.Turns, 2)
	assert.Equal(t, "When are returns accepted?", hist.Turns[1].Question)

	var sessions struct {
		Sessions []domain.Session `json:"sessions"`
	}
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/documents/"+docID+"/sessions", nil, &sessions))
	assert.Len(t, sessions.Sessions, 1)

	require.Equal(t, http.StatusOK, doJSON(t, http.MethodDelete, srv.URL+"/sessions/"+first.SessionID, nil, nil))
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/sessions/"+first.SessionID+"/history", nil, &hist))
	assert.Empty(t, hist.Turns)

	require.Equal(t, http.StatusOK, doJSON(t, http.MethodDelete, srv.URL+"/documents/"+docID, nil, nil))
	assert.Equal(t, http.StatusNotFound, doJSON(t, http.MethodGet, srv.URL+"/documents/"+docID, nil, nil))
	assert.Equal(t, http.StatusNotFound, doJSON(t, http.MethodPost, srv.URL+"/documents/"+docID+"/query",
		map[string]any{"question": "Anything?"}, nil))
	assert.Equal(t, http.StatusNotFound, doJSON(t, http.MethodGet, srv.URL+"/sessions/"+first.SessionID+"/history", nil, nil))
}

func TestUploadJSONAndList(t *testing.T) {
	srv := newTestServer(t, 0)

	var up uploadResponse
	status := doJSON(t, http.MethodPost, srv.URL+"/documents",
		map[string]any{"document_id": "faq", "filename": "faq.txt", "text": "Shipping takes three days."}, &up)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "faq", up.Document.ID)

	var list struct {
		Documents []domain.Document `json:"documents"`
	}
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, srv.URL+"/documents", nil, &list))
	require.Len(t, list.Documents, 1)
	assert.Equal(t, "faq.txt", list.Documents[0].Filename)
}

func TestUploadTooLarge(t *testing.T) {
	srv := newTestServer(t, 256)

	status, _ := uploadFile(t, srv.URL, "big.txt", bytes.Repeat([]byte("a"), 2048))
	assert.Equal(t, http.StatusRequestEntityTooLarge, status)
}

func TestErrorStatuses(t *testing.T) {
	srv := newTestServer(t, 0)

	status, _ := uploadFile(t, srv.URL, "image.png", []byte("\x89PNG\r\n\x1a\n"))
	assert.Equal(t, http.StatusBadRequest, status)

	assert.Equal(t, http.StatusBadRequest, doJSON(t, http.MethodPost, srv.URL+"/documents", map[string]any{"text": ""}, nil))

	var up uploadResponse
	require.Equal(t, http.StatusCreated, doJSON(t, http.MethodPost, srv.URL+"/documents",
		map[string]any{"document_id": "a", "text": "Alpha."}, &up))
	require.Equal(t, http.StatusCreated, doJSON(t, http.MethodPost, srv.URL+"/documents",
		map[string]any{"document_id": "b", "text": "Beta."}, &up))

	assert.Equal(t, http.StatusBadRequest, doJSON(t, http.MethodPost, srv.URL+"/documents/a/query",
		map[string]any{"question": " "}, nil))

	var res usecase.QueryResult
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodPost, srv.URL+"/documents/a/query",
		map[string]any{"question": "alpha?"}, &res))
	assert.Equal(t, http.StatusConflict, doJSON(t, http.MethodPost, srv.URL+"/documents/b/query",
		map[string]any{"question": "beta?", "session_id": res.SessionID}, nil))

	assert.Equal(t, http.StatusNotFound, doJSON(t, http.MethodGet, srv.URL+"/documents/missing/sessions", nil, nil))
	assert.Equal(t, http.StatusNotFound, doJSON(t, http.MethodDelete, srv.URL+"/sessions/missing", nil, nil))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.Invalid("x"), http.StatusBadRequest},
		{fmt.Errorf("x: %w", domain.ErrDocumentNotFound), http.StatusNotFound},
		{domain.ErrSessionNotFound, http.StatusNotFound},
		{domain.ErrSessionMismatch, http.StatusConflict},
		{&domain.BackendError{Op: "generate", Attempts: 3, Err: domain.ErrBackendUnavailable}, http.StatusServiceUnavailable},
		{&domain.BackendError{Op: "generate", Attempts: 1, Err: domain.ErrBackendRejected}, http.StatusBadGateway},
		{domain.ErrIndexInconsistency, http.StatusServiceUnavailable},
		{domain.ErrGenerationFailed, http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{domain.ErrReconciliation, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.err), tt.err.Error())
	}
}
