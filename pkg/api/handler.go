package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/andrew/chat-thread-search/pkg/models"
	"github.com/andrew/chat-thread-search/pkg/retrieval"
)

type Handler struct {
	retriever retrieval.Retriever
	defaults  retrieval.Options
	indexInfo func() gin.H
}

func NewHandler(r retrieval.Retriever, defaults retrieval.Options, indexInfo func() gin.H) *Handler {
	return &Handler{retriever: r, defaults: defaults, indexInfo: indexInfo}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/healthz", h.health)

	api := r.Group("/api/v1")
	{
		api.POST("/retrieve", h.retrieve)
	}
}

// RetrieveRequest carries a query; omitted limits use the server defaults
type RetrieveRequest struct {
	Query           string `json:"query"`
	K               *int   `json:"k"`
	MaxReplies      *int   `json:"max_replies"`
	MaxDepth        *int   `json:"max_depth"`
	OnlyWithReplies *bool  `json:"only_with_replies"`
}

type RetrieveResponse struct {
	Results      []models.ThreadResult `json:"results"`
	ProcessingMs int64                 `json:"processing_ms"`
}

type ErrorResponse struct {
	Error   string                `json:"error"`
	Results []models.ThreadResult `json:"results"`
}

func (req RetrieveRequest) options(defaults retrieval.Options) retrieval.Options {
	opts := defaults
	if req.K != nil {
		opts.K = *req.K
	}
	if req.MaxReplies != nil {
		opts.MaxReplies = *req.MaxReplies
	}
	if req.MaxDepth != nil {
		opts.MaxDepth = *req.MaxDepth
	}
	if req.OnlyWithReplies != nil {
		opts.OnlyWithReplies = *req.OnlyWithReplies
	}
	return opts
}

func (h *Handler) health(c *gin.Context) {
	body := gin.H{"status": "ok"}
	if h.indexInfo != nil {
		body["index"] = h.indexInfo()
	}
	c.JSON(http.StatusOK, body)
}

func (h *Handler) retrieve(c *gin.Context) {
	var req RetrieveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Results: []models.ThreadResult{}})
		return
	}

	start := time.Now()
	results, err := h.retriever.Retrieve(c.Request.Context(), req.Query, req.options(h.defaults))
	if err != nil {
		c.JSON(statusFor(err), ErrorResponse{Error: err.Error(), Results: []models.ThreadResult{}})
		return
	}

	c.JSON(http.StatusOK, RetrieveResponse{
		Results:      results,
		ProcessingMs: time.Since(start).Milliseconds(),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrIndexMissing):
		return http.StatusServiceUnavailable
	case errors.Is(err, models.ErrModelMismatch):
		return http.StatusConflict
	case errors.Is(err, models.ErrEmbeddingFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
