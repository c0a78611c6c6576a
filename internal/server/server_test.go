package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samuel-adebayo/docextract/internal/common"
	"github.com/samuel-adebayo/docextract/internal/document"
	"github.com/samuel-adebayo/docextract/internal/llm"
	"github.com/samuel-adebayo/docextract/internal/pipeline"
)

type stubRunner struct {
	res *pipeline.Result
	err error

	gotDoc      *document.Document
	gotStrategy document.Strategy
	gotTemplate string
	called      bool
}

func (s *stubRunner) Run(_ context.Context, doc *document.Document, strategy document.Strategy, template string, _ map[string]any) (*pipeline.Result, error) {
	s.called = true
	s.gotDoc = doc
	s.gotStrategy = strategy
	s.gotTemplate = template
	return s.res, s.err
}

func uploadRequest(t *testing.T, filename, contentType string, data []byte, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	hdr.Set("Content-Type", contentType)
	part, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)

	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/extract", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHandleExtractOK(t *testing.T) {
	stub := &stubRunner{res: &pipeline.Result{
		RunID:    "run-1",
		Document: "invoice.png",
		Pages:    []pipeline.PageResult{{PageIndex: 0, Response: llm.OK(`{"invoice_number":"A1"}`)}},
	}}
	srv := New(stub, document.PDFRasterize, "default prompt", nil, nil)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, uploadRequest(t, "invoice.png", "image/png", []byte{1, 2, 3}, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var res pipeline.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Len(t, res.Pages, 1)
	assert.Equal(t, llm.StatusOK, res.Pages[0].Response.Status)

	assert.Equal(t, document.StrategySingleImage, stub.gotStrategy)
	assert.Equal(t, "default prompt", stub.gotTemplate, "empty prompt field falls back to the default")
	assert.Equal(t, "invoice.png", stub.gotDoc.Name)
}

func TestHandleExtractPromptAndStrategyOverride(t *testing.T) {
	stub := &stubRunner{res: &pipeline.Result{}}
	srv := New(stub, document.PDFRasterize, "default prompt", nil, nil)

	rec := httptest.NewRecorder()
	req := uploadRequest(t, "doc.pdf", "application/pdf", []byte("%PDF-"), map[string]string{
		"prompt":   "list the line items",
		"strategy": document.PDFText,
	})
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, document.StrategyPDFText, stub.gotStrategy)
	assert.Equal(t, "list the line items", stub.gotTemplate)
}

func TestHandleExtractUnsupportedMediaType(t *testing.T) {
	stub := &stubRunner{}
	srv := New(stub, document.PDFRasterize, "p", nil, nil)

	rec := httptest.NewRecorder()
	req := uploadRequest(t, "report.docx",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		[]byte("PK"), nil)
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	assert.False(t, stub.called, "rejected uploads must never reach the pipeline")
}

func TestHandleExtractMissingFile(t *testing.T) {
	srv := New(&stubRunner{}, document.PDFRasterize, "p", nil, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("prompt", "x"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/extract", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleExtractMaterializationFailure(t *testing.T) {
	stub := &stubRunner{err: fmt.Errorf("%w: broken xref", common.ErrMaterialization)}
	srv := New(stub, document.PDFRasterize, "p", nil, nil)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, uploadRequest(t, "bad.pdf", "application/pdf", []byte("not a pdf"), nil))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHealthz(t *testing.T) {
	srv := New(&stubRunner{}, document.PDFRasterize, "p", nil, nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
