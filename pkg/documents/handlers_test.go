package documents

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contractdesk/audittrail/pkg/observability"
	"github.com/contractdesk/audittrail/pkg/principal"
)

func newHandlerFixture(t *testing.T) (*lifecycleFixture, *mux.Router) {
	t.Helper()

	f := newLifecycleFixture(t)
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)

	router := mux.NewRouter()
	NewHandlers(f.service, logger).RegisterRoutes(router)
	return f, router
}

func authed(req *http.Request) *http.Request {
	return req.WithContext(principal.WithPrincipal(req.Context(), testUser))
}

func multipartUpload(t *testing.T, contractID int64, filename, content string) (*bytes.Buffer, string) {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	require.NoError(t, writer.WriteField("contract_id", strconv.FormatInt(contractID, 10)))

	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	return &body, writer.FormDataContentType()
}

func TestHandlersUpload(t *testing.T) {
	f, router := newHandlerFixture(t)

	body, contentType := multipartUpload(t, 7, "agreement.pdf", "pdf bytes")
	req := authed(httptest.NewRequest("POST", "/api/documents", body))
	req.Header.Set("Content-Type", contentType)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var doc Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "agreement.pdf", doc.Name)
	assert.Equal(t, int64(7), doc.ContractID)
	assert.Equal(t, StateActive, doc.State)
	assert.Equal(t, 1, f.blobs.Len())
}

func TestHandlersUploadRejectsMissingParts(t *testing.T) {
	_, router := newHandlerFixture(t)

	// No contract_id.
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "a.pdf")
	require.NoError(t, err)
	_, err = part.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := authed(httptest.NewRequest("POST", "/api/documents", &body))
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlersUploadRequiresPrincipal(t *testing.T) {
	_, router := newHandlerFixture(t)

	body, contentType := multipartUpload(t, 7, "a.pdf", "x")
	req := httptest.NewRequest("POST", "/api/documents", body)
	req.Header.Set("Content-Type", contentType)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandlersDownload(t *testing.T) {
	f, router := newHandlerFixture(t)
	doc := f.upload(t, testUser)

	req := authed(httptest.NewRequest("GET", "/api/documents/"+strconv.FormatInt(doc.ID, 10)+"/download", nil))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `"contract.pdf"`)
	assert.Equal(t, "pdf content", rec.Body.String())
}

func TestHandlersDownloadMissing(t *testing.T) {
	_, router := newHandlerFixture(t)

	req := authed(httptest.NewRequest("GET", "/api/documents/999/download", nil))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlersSoftDeleteAndTrash(t *testing.T) {
	f, router := newHandlerFixture(t)
	doc := f.upload(t, testUser)
	id := strconv.FormatInt(doc.ID, 10)

	req := authed(httptest.NewRequest("DELETE", "/api/documents/"+id, nil))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var deleted Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &deleted))
	assert.Equal(t, StateSoftDeleted, deleted.State)

	req = authed(httptest.NewRequest("GET", "/api/documents/trash", nil))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var trash struct {
		Documents []*TrashedDocument `json:"documents"`
		Count     int                `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &trash))
	require.Equal(t, 1, trash.Count)
	assert.Equal(t, 90, trash.Documents[0].DaysRemaining)

	// Deleting again: the document already reads as gone.
	req = authed(httptest.NewRequest("DELETE", "/api/documents/"+id, nil))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlersRestore(t *testing.T) {
	f, router := newHandlerFixture(t)
	doc := f.upload(t, testUser)
	id := strconv.FormatInt(doc.ID, 10)

	// Restoring an active document conflicts.
	req := authed(httptest.NewRequest("POST", "/api/documents/"+id+"/restore", nil))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)

	_, err := f.service.SoftDelete(context.Background(), testUser, doc.ID)
	require.NoError(t, err)

	req = authed(httptest.NewRequest("POST", "/api/documents/"+id+"/restore", nil))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var restored Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &restored))
	assert.Equal(t, StateActive, restored.State)
}

func TestHandlersPermanentDelete(t *testing.T) {
	f, router := newHandlerFixture(t)
	doc := f.upload(t, testUser)
	id := strconv.FormatInt(doc.ID, 10)

	// Still active: conflict.
	req := authed(httptest.NewRequest("DELETE", "/api/documents/"+id+"/permanent", nil))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)

	_, err := f.service.SoftDelete(context.Background(), testUser, doc.ID)
	require.NoError(t, err)

	req = authed(httptest.NewRequest("DELETE", "/api/documents/"+id+"/permanent", nil))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	// Gone for good.
	req = authed(httptest.NewRequest("GET", "/api/documents/"+id+"/download", nil))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
