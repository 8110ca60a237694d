package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"ledgerline/internal/service"
)

// DraftHandler handles draft retrieval and export endpoints.
type DraftHandler struct {
	extractionService service.ExtractionService
	exportService     service.ExportService
	errors            *ErrorHandler
}

// NewDraftHandler creates a new DraftHandler.
func NewDraftHandler(extractionService service.ExtractionService, exportService service.ExportService, errs *ErrorHandler) *DraftHandler {
	return &DraftHandler{
		extractionService: extractionService,
		exportService:     exportService,
		errors:            errs,
	}
}

// List handles GET /api/v1/drafts
func (h *DraftHandler) List(c *gin.Context) {
	offset, limit := parsePagination(c)

	drafts, total, err := h.extractionService.ListDrafts(c.Request.Context(), offset, limit)
	if err != nil {
		h.errors.Handle(c, err)
		return
	}

	RespondPaginated(c, drafts, PagMeta{Total: total, Offset: offset, Limit: limit})
}

// GetByID handles GET /api/v1/drafts/:id
func (h *DraftHandler) GetByID(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	draft, err := h.extractionService.GetDraft(c.Request.Context(), id)
	if err != nil {
		h.errors.Handle(c, err)
		return
	}

	RespondOK(c, draft)
}

// Export handles GET /api/v1/drafts/:id/export?format=csv|xlsx&delivery=inline|url
func (h *DraftHandler) Export(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	format := c.DefaultQuery("format", service.ExportFormatCSV)

	if c.Query("delivery") == "url" {
		result, err := h.exportService.Publish(c.Request.Context(), id, format)
		if err != nil {
			h.errors.Handle(c, err)
			return
		}
		RespondOK(c, gin.H{"file_name": result.FileName, "url": result.URL})
		return
	}

	result, err := h.exportService.Render(c.Request.Context(), id, format)
	if err != nil {
		h.errors.Handle(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+result.FileName+`"`)
	c.Data(http.StatusOK, result.ContentType, result.Data)
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "INVALID_ID", "invalid draft ID")
		return uuid.Nil, false
	}
	return id, true
}
