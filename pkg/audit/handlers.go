package audit

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/contractdesk/audittrail/pkg/httputil"
	"github.com/contractdesk/audittrail/pkg/observability"
	"github.com/contractdesk/audittrail/pkg/principal"
)

// Handlers exposes the audit trail query API.
type Handlers struct {
	service  *Service
	recorder *Recorder
	logger   *observability.Logger
}

// NewHandlers creates the audit HTTP handlers. recorder may be nil, in which
// case exports are not themselves recorded in the trail.
func NewHandlers(service *Service, recorder *Recorder, logger *observability.Logger) *Handlers {
	return &Handlers{service: service, recorder: recorder, logger: logger}
}

// RegisterRoutes registers the audit trail routes.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/audit/events", h.listEvents).Methods("GET")
	router.HandleFunc("/api/audit/events/{id:[0-9]+}", h.getEvent).Methods("GET")
	router.HandleFunc("/api/audit/contracts/{id:[0-9]+}/events", h.listContractEvents).Methods("GET")
	router.HandleFunc("/api/audit/export", h.exportEvents).Methods("GET")
	router.HandleFunc("/api/audit/stats", h.getStats).Methods("GET")
}

// listEvents handles GET /api/audit/events
func (h *Handlers) listEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	page, err := h.service.FindAll(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}

	httputil.WriteSuccess(w, page)
}

// getEvent handles GET /api/audit/events/{id}
func (h *Handlers) getEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	event, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	httputil.WriteSuccess(w, event)
}

// listContractEvents handles GET /api/audit/contracts/{id}/events
func (h *Handlers) listContractEvents(w http.ResponseWriter, r *http.Request) {
	contractID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	events, err := h.service.FindByContract(r.Context(), contractID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

// exportEvents handles GET /api/audit/export
func (h *Handlers) exportEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.service.ExportCSV(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}

	// The export itself is a sensitive read and lands in the trail.
	if h.recorder != nil {
		if p, ok := principal.FromContext(r.Context()); ok {
			if _, err := h.recorder.RecordAccess(r.Context(), p, ActionExport, exportEntityType(filter), "audit-trail"); err != nil {
				h.writeError(w, err)
				return
			}
		}
	}

	filename := fmt.Sprintf("audit-%s.csv", time.Now().Format("2006-01-02"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	w.Header().Set("X-Row-Count", strconv.Itoa(result.Rows))
	if result.Truncated {
		w.Header().Set("X-Truncated", "true")
	}
	w.Write(result.Data)
}

// exportEntityType picks the entity type an export event is recorded under.
func exportEntityType(filter Filter) EntityType {
	if filter.EntityType != "" {
		return filter.EntityType
	}
	return EntityContract
}

// getStats handles GET /api/audit/stats
func (h *Handlers) getStats(w http.ResponseWriter, r *http.Request) {
	days := 30
	if daysStr := r.URL.Query().Get("days"); daysStr != "" {
		var err error
		days, err = strconv.Atoi(daysStr)
		if err != nil {
			httputil.WriteBadRequest(w, fmt.Sprintf("invalid days value %q", daysStr))
			return
		}
	}

	stats, err := h.service.GetStats(r.Context(), days)
	if err != nil {
		h.writeError(w, err)
		return
	}

	httputil.WriteSuccess(w, stats)
}

// writeError maps the audit error taxonomy onto HTTP statuses.
func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrValidation):
		httputil.WriteBadRequest(w, err.Error())
	case errors.Is(err, ErrNotFound):
		httputil.WriteNotFoundError(w, err.Error())
	default:
		if h.logger != nil {
			h.logger.WithError(err).Error("audit query failed")
		}
		httputil.WriteInternalError(w, err)
	}
}

// parseFilter builds a Filter from query parameters, rejecting malformed
// values outright rather than silently dropping them.
func parseFilter(r *http.Request) (Filter, error) {
	query := r.URL.Query()
	filter := Filter{}

	filter.UserID = query.Get("user_id")

	if s := query.Get("entity_type"); s != "" {
		entityType, err := ParseEntityType(s)
		if err != nil {
			return Filter{}, err
		}
		filter.EntityType = entityType
	}

	if s := query.Get("actions"); s != "" {
		for _, raw := range strings.Split(s, ",") {
			action, err := ParseAction(strings.TrimSpace(raw))
			if err != nil {
				return Filter{}, err
			}
			filter.Actions = append(filter.Actions, action)
		}
	}

	if s := query.Get("contract_id"); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return Filter{}, fmt.Errorf("%w: invalid contract_id %q", ErrValidation, s)
		}
		filter.ContractID = &id
	}

	var err error
	if filter.CreatedFrom, err = parseTimeParam(query.Get("date_from"), false); err != nil {
		return Filter{}, err
	}
	if filter.CreatedTo, err = parseTimeParam(query.Get("date_to"), true); err != nil {
		return Filter{}, err
	}

	if s := query.Get("page"); s != "" {
		page, err := strconv.Atoi(s)
		if err != nil || page < 1 {
			return Filter{}, fmt.Errorf("%w: invalid page %q", ErrValidation, s)
		}
		filter.Page = page
	}

	if s := query.Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit < 1 {
			return Filter{}, fmt.Errorf("%w: invalid limit %q", ErrValidation, s)
		}
		filter.Limit = limit
	}

	return filter, filter.Validate()
}

// parseTimeParam accepts RFC3339 or a bare date. A bare date used as an
// upper bound is widened to the end of that day so the range stays
// inclusive.
func parseTimeParam(s string, endOfDay bool) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}

	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}

	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid date %q", ErrValidation, s)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}
