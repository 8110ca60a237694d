package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"ledgerline/internal/domain"
	"ledgerline/internal/extraction"
	"ledgerline/internal/service"
)

// ExtractionHandler handles extraction endpoints.
type ExtractionHandler struct {
	extractionService service.ExtractionService
	errors            *ErrorHandler
}

// NewExtractionHandler creates a new ExtractionHandler.
func NewExtractionHandler(extractionService service.ExtractionService, errs *ErrorHandler) *ExtractionHandler {
	return &ExtractionHandler{extractionService: extractionService, errors: errs}
}

type expectedRequest struct {
	Descriptions []string `json:"descriptions"`
	Count        int      `json:"count"`
}

type extractRequest struct {
	DocumentKey string           `json:"document_key" binding:"required"`
	Backend     string           `json:"backend"`
	Lines       []domain.RawLine `json:"lines"`
	Secondary   []domain.RawLine `json:"secondary"`
	Expected    *expectedRequest `json:"expected"`
}

func (r *expectedRequest) expectation() *extraction.Expectation {
	if r == nil || (len(r.Descriptions) == 0 && r.Count == 0) {
		return nil
	}
	return &extraction.Expectation{
		Source:       domain.AlignmentSourceLayout,
		Descriptions: r.Descriptions,
		Count:        r.Count,
	}
}

// Extract handles POST /api/v1/extractions
func (h *ExtractionHandler) Extract(c *gin.Context) {
	var req extractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "INVALID_INPUT", err.Error())
		return
	}

	draft, err := h.extractionService.Extract(c.Request.Context(), service.ExtractInput{
		DocumentKey: req.DocumentKey,
		Backend:     req.Backend,
		Lines:       req.Lines,
		Secondary:   req.Secondary,
		Expectation: req.Expected.expectation(),
	})
	if err != nil {
		h.errors.Handle(c, err)
		return
	}

	RespondCreated(c, draft)
}

// Upload handles POST /api/v1/extractions/upload
// Multipart form: file (required), document_key (required), expected (newline separated
// descriptions, optional), expected_count (optional).
func (h *ExtractionHandler) Upload(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		RespondError(c, http.StatusBadRequest, "INVALID_INPUT", "file is required")
		return
	}
	defer file.Close()

	req := &expectedRequest{}
	if raw := strings.TrimSpace(c.PostForm("expected")); raw != "" {
		for _, line := range strings.Split(raw, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				req.Descriptions = append(req.Descriptions, line)
			}
		}
	}
	if raw := c.PostForm("expected_count"); raw != "" {
		n, convErr := strconv.Atoi(raw)
		if convErr != nil || n < 0 {
			RespondError(c, http.StatusBadRequest, "INVALID_INPUT", "expected_count must be a non-negative integer")
			return
		}
		req.Count = n
	}

	draft, err := h.extractionService.Submit(c.Request.Context(), service.SubmitInput{
		DocumentKey: c.PostForm("document_key"),
		FileName:    header.Filename,
		Size:        header.Size,
		File:        file,
		Expectation: req.expectation(),
	})
	if err != nil {
		h.errors.Handle(c, err)
		return
	}

	RespondAccepted(c, draft)
}
