package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"shelfcheck/internal/adapter/fs"
	"shelfcheck/internal/domain"
	"shelfcheck/internal/usecase"
)

type Handler struct {
	validator *usecase.ValidateUseCase
	matcher   *usecase.Matcher
	indexer   *usecase.IndexUseCase
}

func NewHandler(validator *usecase.ValidateUseCase, matcher *usecase.Matcher, indexer *usecase.IndexUseCase) *Handler {
	return &Handler{
		validator: validator,
		matcher:   matcher,
		indexer:   indexer,
	}
}

// Validate handles POST /api/v1/validate. With ?format=text the response is
// the plain-text report instead of JSON.
func (h *Handler) Validate(c *gin.Context) {
	var req usecase.ValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, domain.InputError("validate", "invalid request body: %v", err))
		return
	}

	resp, err := h.validator.Validate(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}

	if c.Query("format") == "text" {
		c.String(http.StatusOK, usecase.FormatReport(resp.StoreID, resp.Verdicts))
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Match handles GET /api/v1/match?name=&store_id=&threshold=.
func (h *Handler) Match(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		writeError(c, domain.InputError("match", "query parameter %q is required", "name"))
		return
	}
	threshold := h.matcher.Threshold()
	if raw := c.Query("threshold"); raw != "" {
		t, err := strconv.ParseFloat(raw, 64)
		if err != nil || t < 0 || t > 1 {
			writeError(c, domain.InputError("match", "threshold must be a number within [0,1], got %q", raw))
			return
		}
		threshold = t
	}

	res := h.matcher.Match(c.Request.Context(), domain.ExtractedItem{RawName: name}, c.Query("store_id"), threshold)
	if domain.KindOf(res.Err) == "retrieval" {
		writeError(c, res.Err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// IndexFile handles PUT /api/v1/catalog/files/:fileID. The body is a JSON
// array of rows or {"store_id": ..., "rows": [...]}.
func (h *Handler) IndexFile(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		writeError(c, domain.InputError("index", "could not read body: %v", err))
		return
	}
	rows, err := fs.DecodeRows(body)
	if err != nil {
		writeError(c, err)
		return
	}

	report, err := h.indexer.IndexCatalog(c.Request.Context(), rows, c.Param("fileID"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) DeleteFile(c *gin.Context) {
	fileID := c.Param("fileID")
	n, err := h.indexer.DeleteFile(c.Request.Context(), fileID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"file_id": fileID, "removed": n})
}

func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.indexer.Stats(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) ListFiles(c *gin.Context) {
	files, err := h.indexer.ListFiles(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": files})
}

// Reconcile retries vector writes for entries left pending.
func (h *Handler) Reconcile(c *gin.Context) {
	report, err := h.indexer.RetryPending(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func statusFor(err error) int {
	switch domain.KindOf(err) {
	case "validation_input":
		return http.StatusBadRequest
	case "not_found":
		return http.StatusNotFound
	case "retrieval", "embedding_unavailable":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("route", c.FullPath()).Msg("request failed")
	}
	c.AbortWithStatusJSON(status, gin.H{
		"error": err.Error(),
		"kind":  domain.KindOf(err),
	})
}
