package documents

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/contractdesk/audittrail/pkg/audit"
	"github.com/contractdesk/audittrail/pkg/httputil"
	"github.com/contractdesk/audittrail/pkg/observability"
	"github.com/contractdesk/audittrail/pkg/principal"
)

// maxUploadBytes bounds a single document upload.
const maxUploadBytes = 100 << 20 // 100 MiB

// Handlers exposes the document lifecycle API.
type Handlers struct {
	service *Service
	logger  *observability.Logger
}

// NewHandlers creates the document HTTP handlers.
func NewHandlers(service *Service, logger *observability.Logger) *Handlers {
	return &Handlers{service: service, logger: logger}
}

// RegisterRoutes registers the document lifecycle routes.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/documents", h.upload).Methods("POST")
	router.HandleFunc("/api/documents/trash", h.listTrash).Methods("GET")
	router.HandleFunc("/api/documents/{id:[0-9]+}/download", h.download).Methods("GET")
	router.HandleFunc("/api/documents/{id:[0-9]+}/restore", h.restore).Methods("POST")
	router.HandleFunc("/api/documents/{id:[0-9]+}/permanent", h.permanentDelete).Methods("DELETE")
	router.HandleFunc("/api/documents/{id:[0-9]+}", h.softDelete).Methods("DELETE")
}

// upload handles POST /api/documents as multipart/form-data with a "file"
// part and a "contract_id" field.
func (h *Handlers) upload(w http.ResponseWriter, r *http.Request) {
	p, ok := principal.FromContext(r.Context())
	if !ok {
		httputil.WriteErrorMessage(w, http.StatusUnauthorized, "authentication required")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		httputil.WriteBadRequest(w, fmt.Sprintf("invalid multipart request: %v", err))
		return
	}

	contractID, err := strconv.ParseInt(r.FormValue("contract_id"), 10, 64)
	if err != nil {
		httputil.WriteBadRequest(w, "contract_id is required and must be an integer")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		httputil.WriteBadRequest(w, "file part is required")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	doc, err := h.service.Create(r.Context(), p, CreateInput{
		ContractID:  contractID,
		Name:        header.Filename,
		ContentType: contentType,
		Size:        header.Size,
		Content:     file,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	httputil.WriteCreated(w, doc)
}

// download handles GET /api/documents/{id}/download
func (h *Handlers) download(w http.ResponseWriter, r *http.Request) {
	p, ok := principal.FromContext(r.Context())
	if !ok {
		httputil.WriteErrorMessage(w, http.StatusUnauthorized, "authentication required")
		return
	}

	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	content, doc, err := h.service.Download(r.Context(), p, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	defer content.Close()

	w.Header().Set("Content-Type", doc.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.Name))
	if doc.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(doc.Size, 10))
	}
	if _, err := io.Copy(w, content); err != nil {
		// Headers are already out; nothing left to do but note it.
		h.logger.WithError(err).Warnf("streaming document %d aborted", doc.ID)
	}
}

// softDelete handles DELETE /api/documents/{id}
func (h *Handlers) softDelete(w http.ResponseWriter, r *http.Request) {
	p, ok := principal.FromContext(r.Context())
	if !ok {
		httputil.WriteErrorMessage(w, http.StatusUnauthorized, "authentication required")
		return
	}

	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	doc, err := h.service.SoftDelete(r.Context(), p, id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	httputil.WriteSuccess(w, doc)
}

// restore handles POST /api/documents/{id}/restore
func (h *Handlers) restore(w http.ResponseWriter, r *http.Request) {
	p, ok := principal.FromContext(r.Context())
	if !ok {
		httputil.WriteErrorMessage(w, http.StatusUnauthorized, "authentication required")
		return
	}

	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	doc, err := h.service.Restore(r.Context(), p, id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	httputil.WriteSuccess(w, doc)
}

// listTrash handles GET /api/documents/trash
func (h *Handlers) listTrash(w http.ResponseWriter, r *http.Request) {
	trashed, err := h.service.ListDeleted(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"documents": trashed,
		"count":     len(trashed),
	})
}

// permanentDelete handles DELETE /api/documents/{id}/permanent
func (h *Handlers) permanentDelete(w http.ResponseWriter, r *http.Request) {
	p, ok := principal.FromContext(r.Context())
	if !ok {
		httputil.WriteErrorMessage(w, http.StatusUnauthorized, "authentication required")
		return
	}

	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.service.PermanentDelete(r.Context(), p, id); err != nil {
		h.writeError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}

// writeError maps the document error taxonomy onto HTTP statuses.
func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, audit.ErrValidation):
		httputil.WriteBadRequest(w, err.Error())
	case errors.Is(err, ErrNotFound):
		httputil.WriteNotFoundError(w, err.Error())
	case errors.Is(err, ErrInvalidState):
		httputil.WriteConflict(w, err.Error())
	default:
		if h.logger != nil {
			h.logger.WithError(err).Error("document operation failed")
		}
		httputil.WriteInternalError(w, err)
	}
}
