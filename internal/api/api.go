// Package api exposes the service over HTTP with gin.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"docqa/internal/domain"
	"docqa/internal/usecase"
)

// Service is what the handlers need from usecase.Service.
type Service interface {
	Ingest(ctx context.Context, req usecase.IngestRequest) (*usecase.IngestResult, error)
	Query(ctx context.Context, req usecase.QueryRequest) (*usecase.QueryResult, error)
	GetDocument(ctx context.Context, id string) (domain.Document, error)
	ListDocuments(ctx context.Context) ([]domain.Document, error)
	DeleteDocument(ctx context.Context, id string) error
	ListSessions(ctx context.Context, docID string) ([]domain.Session, error)
	GetSession(ctx context.Context, id string) (domain.Session, error)
	History(ctx context.Context, sessionID string) ([]domain.Turn, error)
	ClearSession(ctx context.Context, sessionID string) error
}

var _ Service = (*usecase.Service)(nil)

type API struct {
	service      Service
	log          logrus.FieldLogger
	maxUpload    int64
	queryTimeout time.Duration
}

// NewAPI wires the handlers. maxUploadBytes caps request bodies on upload;
// queryTimeout bounds a single question, zero meaning no bound.
func NewAPI(service Service, log logrus.FieldLogger, maxUploadBytes int64, queryTimeout time.Duration) *API {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 32 << 20
	}
	return &API{service: service, log: log, maxUpload: maxUploadBytes, queryTimeout: queryTimeout}
}

// Router builds the gin engine with logging and panic recovery.
func (a *API) Router() *gin.Engine {
	r := gin.New()
	r.Use(a.requestLogger(), gin.Recovery())
	r.MaxMultipartMemory = a.maxUpload

	r.GET("/health", a.health)

	docs := r.Group("/documents")
	{
		docs.POST("", a.uploadDocument)
		docs.GET("", a.listDocuments)
		docs.GET("/:id", a.getDocument)
		docs.DELETE("/:id", a.deleteDocument)
		docs.POST("/:id/query", a.query)
		docs.GET("/:id/sessions", a.listSessions)
	}

	sessions := r.Group("/sessions")
	{
		sessions.GET("/:id/history", a.history)
		sessions.DELETE("/:id", a.clearSession)
	}
	return r
}

func (a *API) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := a.log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("request failed")
			return
		}
		entry.Debug("request handled")
	}
}

func (a *API) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type uploadJSON struct {
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
	Text       string `json:"text"`
}

func (a *API) uploadDocument(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, a.maxUpload)

	var req usecase.IngestRequest
	if c.ContentType() == gin.MIMEJSON {
		var body uploadJSON
		if err := c.ShouldBindJSON(&body); err != nil {
			a.fail(c, domain.Invalid("invalid request payload: %v", err))
			return
		}
		req = usecase.IngestRequest{DocumentID: body.DocumentID, Filename: body.Filename, Text: body.Text}
	} else {
		fh, err := c.FormFile("file")
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.fail(c, err)
			return
		}
		if err != nil {
			a.fail(c, domain.Invalid("multipart field \"file\" is required: %v", err))
			return
		}
		f, err := fh.Open()
		if err != nil {
			a.fail(c, err)
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			a.fail(c, domain.Invalid("failed to read upload: %v", err))
			return
		}
		req = usecase.IngestRequest{DocumentID: c.PostForm("document_id"), Filename: fh.Filename, Data: data}
	}

	res, err := a.service.Ingest(c.Request.Context(), req)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"document": res.Document, "chunk_count": res.ChunkCount})
}

func (a *API) listDocuments(c *gin.Context) {
	docs, err := a.service.ListDocuments(c.Request.Context())
	if err != nil {
		a.fail(c, err)
		return
	}
	if docs == nil {
		docs = []domain.Document{}
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs})
}

func (a *API) getDocument(c *gin.Context) {
	doc, err := a.service.GetDocument(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (a *API) deleteDocument(c *gin.Context) {
	id := c.Param("id")
	if err := a.service.DeleteDocument(c.Request.Context(), id); err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

type queryJSON struct {
	Question  string `json:"question"`
	SessionID string `json:"session_id"`
	TopK      int    `json:"top_k"`
}

func (a *API) query(c *gin.Context) {
	var body queryJSON
	if err := c.ShouldBindJSON(&body); err != nil {
		a.fail(c, domain.Invalid("invalid request payload: %v", err))
		return
	}

	ctx := c.Request.Context()
	if a.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.queryTimeout)
		defer cancel()
	}

	res, err := a.service.Query(ctx, usecase.QueryRequest{
		DocumentID: c.Param("id"),
		SessionID:  body.SessionID,
		Question:   body.Question,
		TopK:       body.TopK,
	})
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (a *API) listSessions(c *gin.Context) {
	sessions, err := a.service.ListSessions(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.fail(c, err)
		return
	}
	if sessions == nil {
		sessions = []domain.Session{}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (a *API) history(c *gin.Context) {
	id := c.Param("id")
	session, err := a.service.GetSession(c.Request.Context(), id)
	if err != nil {
		a.fail(c, err)
		return
	}
	turns, err := a.service.History(c.Request.Context(), id)
	if err != nil {
		a.fail(c, err)
		return
	}
	if turns == nil {
		turns = []domain.Turn{}
	}
	c.JSON(http.StatusOK, gin.H{"session": session, "turns": turns})
}

func (a *API) clearSession(c *gin.Context) {
	id := c.Param("id")
	if err := a.service.ClearSession(c.Request.Context(), id); err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": id})
}

func (a *API) fail(c *gin.Context, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		a.log.WithError(err).WithField("path", c.FullPath()).Error("request error")
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

// StatusFor maps the error taxonomy onto HTTP status codes.
func StatusFor(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrDocumentNotFound), errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrSessionMismatch):
		return http.StatusConflict
	case errors.Is(err, domain.ErrBackendRejected):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrBackendUnavailable), errors.Is(err, domain.ErrIndexInconsistency):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrEmbeddingFailed), errors.Is(err, domain.ErrGenerationFailed):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
