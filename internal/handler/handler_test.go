package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ledgerline/internal/domain"
	"ledgerline/internal/handler"
	"ledgerline/internal/service"
	"ledgerline/mocks"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newEngine(extSvc *mocks.MockExtractionService, expSvc *mocks.MockExportService) *gin.Engine {
	errs := handler.NewErrorHandler(nil)
	ext := handler.NewExtractionHandler(extSvc, errs)
	drafts := handler.NewDraftHandler(extSvc, expSvc, errs)

	r := gin.New()
	r.POST("/extractions", ext.Extract)
	r.POST("/extractions/upload", ext.Upload)
	r.GET("/drafts", drafts.List)
	r.GET("/drafts/:id", drafts.GetByID)
	r.GET("/drafts/:id/export", drafts.Export)
	return r
}

func decode(t *testing.T, w *httptest.ResponseRecorder) handler.APIResponse {
	t.Helper()
	var resp handler.APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestExtractionHandler_Extract(t *testing.T) {
	extSvc := new(mocks.MockExtractionService)
	draft := &domain.InvoiceDraft{ID: uuid.New(), Status: domain.DraftStatusParsed}
	extSvc.On("Extract", mock.Anything, mock.MatchedBy(func(in service.ExtractInput) bool {
		return in.DocumentKey == "acme-march" &&
			len(in.Lines) == 2 &&
			in.Expectation != nil &&
			in.Expectation.Source == domain.AlignmentSourceLayout &&
			in.Expectation.Count == 2
	})).Return(draft, nil)

	body := `{"document_key":"acme-march","backend":"text","lines":[{"text":"Widget 1 2.00 2.00"},{"text":"Total 2.00"}],"expected":{"count":2}}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/extractions", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	newEngine(extSvc, new(mocks.MockExportService)).ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, decode(t, w).Success)
	extSvc.AssertExpectations(t)
}

func TestExtractionHandler_Extract_MissingDocumentKey(t *testing.T) {
	extSvc := new(mocks.MockExtractionService)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/extractions", bytes.NewBufferString(`{"lines":[]}`))
	req.Header.Set("Content-Type", "application/json")
	newEngine(extSvc, new(mocks.MockExportService)).ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_INPUT", decode(t, w).Error.Code)
	extSvc.AssertNotCalled(t, "Extract", mock.Anything, mock.Anything)
}

func multipartUpload(t *testing.T, fields map[string]string, withFile bool) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if withFile {
		part, err := writer.CreateFormFile("file", "march.pdf")
		require.NoError(t, err)
		_, _ = part.Write([]byte("%PDF-1.4 test content"))
	}
	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func TestExtractionHandler_Upload(t *testing.T) {
	extSvc := new(mocks.MockExtractionService)
	draft := &domain.InvoiceDraft{ID: uuid.New(), Status: domain.DraftStatusSubmitted}
	extSvc.On("Submit", mock.Anything, mock.MatchedBy(func(in service.SubmitInput) bool {
		return in.DocumentKey == "acme-march" &&
			in.FileName == "march.pdf" &&
			in.Expectation != nil &&
			assert.ObjectsAreEqual([]string{"Widget", "Gadget"}, in.Expectation.Descriptions)
	})).Return(draft, nil)

	body, contentType := multipartUpload(t, map[string]string{
		"document_key": "acme-march",
		"expected":     "Widget\n\n Gadget \n",
	}, true)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/extractions/upload", body)
	req.Header.Set("Content-Type", contentType)
	newEngine(extSvc, new(mocks.MockExportService)).ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	extSvc.AssertExpectations(t)
}

func TestExtractionHandler_Upload_Errors(t *testing.T) {
	tests := []struct {
		name     string
		fields   map[string]string
		withFile bool
		svcErr   error
		status   int
		code     string
	}{
		{"no file", map[string]string{"document_key": "k"}, false, nil, http.StatusBadRequest, "INVALID_INPUT"},
		{"bad count", map[string]string{"document_key": "k", "expected_count": "-1"}, true, nil, http.StatusBadRequest, "INVALID_INPUT"},
		{"unsupported", map[string]string{"document_key": "k"}, true, domain.ErrUnsupportedFileType, http.StatusBadRequest, "UNSUPPORTED_FILE_TYPE"},
		{"too large", map[string]string{"document_key": "k"}, true, domain.ErrFileTooLarge, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE"},
		{"upload failed", map[string]string{"document_key": "k"}, true, fmt.Errorf("%w: s3", domain.ErrUploadFailed), http.StatusInternalServerError, "UPLOAD_FAILED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			extSvc := new(mocks.MockExtractionService)
			if tt.svcErr != nil {
				extSvc.On("Submit", mock.Anything, mock.Anything).Return(nil, tt.svcErr)
			}

			body, contentType := multipartUpload(t, tt.fields, tt.withFile)
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/extractions/upload", body)
			req.Header.Set("Content-Type", contentType)
			newEngine(extSvc, new(mocks.MockExportService)).ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, decode(t, w).Error.Code)
		})
	}
}

func TestDraftHandler_List(t *testing.T) {
	extSvc := new(mocks.MockExtractionService)
	extSvc.On("ListDrafts", mock.Anything, 10, 20).Return([]domain.InvoiceDraft{{ID: uuid.New()}}, 11, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/drafts?offset=10&limit=500", nil)
	newEngine(extSvc, new(mocks.MockExportService)).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	require.NotNil(t, resp.Meta)
	assert.Equal(t, handler.PagMeta{Total: 11, Offset: 10, Limit: 20}, *resp.Meta)
}

func TestDraftHandler_GetByID(t *testing.T) {
	extSvc := new(mocks.MockExtractionService)
	found, missing := uuid.New(), uuid.New()
	extSvc.On("GetDraft", mock.Anything, found).Return(&domain.InvoiceDraft{ID: found}, nil)
	extSvc.On("GetDraft", mock.Anything, missing).Return(nil, domain.ErrNotFound)
	engine := newEngine(extSvc, new(mocks.MockExportService))

	tests := []struct {
		path   string
		status int
	}{
		{"/drafts/" + found.String(), http.StatusOK},
		{"/drafts/" + missing.String(), http.StatusNotFound},
		{"/drafts/not-a-uuid", http.StatusBadRequest},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
		assert.Equal(t, tt.status, w.Code, tt.path)
	}
}

func TestDraftHandler_ExportInline(t *testing.T) {
	expSvc := new(mocks.MockExportService)
	id := uuid.New()
	expSvc.On("Render", mock.Anything, id, "csv").Return(&service.ExportResult{
		FileName:    "acme_2024-03-05.csv",
		ContentType: "text/csv; charset=utf-8",
		Data:        []byte("Document Key\n"),
	}, nil)

	w := httptest.NewRecorder()
	newEngine(new(mocks.MockExtractionService), expSvc).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/drafts/"+id.String()+"/export", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `attachment; filename="acme_2024-03-05.csv"`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, "Document Key\n", w.Body.String())
}

func TestDraftHandler_ExportURL(t *testing.T) {
	expSvc := new(mocks.MockExportService)
	id := uuid.New()
	expSvc.On("Publish", mock.Anything, id, "xlsx").Return(&service.ExportResult{
		FileName: "acme.xlsx", URL: "https://example.test/acme.xlsx",
	}, nil)

	w := httptest.NewRecorder()
	newEngine(new(mocks.MockExtractionService), expSvc).ServeHTTP(w,
		httptest.NewRequest(http.MethodGet, "/drafts/"+id.String()+"/export?format=xlsx&delivery=url", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w).Data.(map[string]interface{})
	assert.Equal(t, "https://example.test/acme.xlsx", data["url"])
}

func TestMapDomainError(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{domain.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{fmt.Errorf("%w: bad", domain.ErrInvalidInput), http.StatusBadRequest, "INVALID_INPUT"},
		{domain.ErrDraftFrozen, http.StatusConflict, "DRAFT_FROZEN"},
		{domain.NewExtractionError(domain.KindBackendUnavailable, domain.CheckNoBackend, domain.StageHeader, "none"), http.StatusServiceUnavailable, "BACKEND_UNAVAILABLE"},
		{domain.NewExtractionError(domain.KindTimeout, domain.CheckCanceled, domain.StageMath, "stop"), http.StatusGatewayTimeout, "TIMEOUT"},
		{errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		status, code, _ := handler.MapDomainError(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.Equal(t, tt.code, code, tt.err.Error())
	}
}

type stubPinger struct{ err error }

func (s stubPinger) PingContext(_ context.Context) error { return s.err }

func TestHealthHandler(t *testing.T) {
	healthy := handler.NewHealthHandler(stubPinger{})
	down := handler.NewHealthHandler(stubPinger{err: errors.New("refused")})

	r := gin.New()
	r.GET("/healthz", down.Liveness)
	r.GET("/readyz", healthy.Readiness)
	r.GET("/readyz-down", down.Readiness)

	for path, status := range map[string]int{
		"/healthz":     http.StatusOK,
		"/readyz":      http.StatusOK,
		"/readyz-down": http.StatusServiceUnavailable,
	} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, status, w.Code, path)
	}
}
