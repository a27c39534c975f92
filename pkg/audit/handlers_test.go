package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contractdesk/audittrail/pkg/observability"
	"github.com/contractdesk/audittrail/pkg/principal"
)

func newTestRouter(store *fakeStore, writer *captureWriter) *mux.Router {
	logger := observability.NewLogger(observability.ErrorLevel, nil)
	service := NewService(store, nil, nil, 0)

	var recorder *Recorder
	if writer != nil {
		recorder = NewRecorder(writer, nil)
	}

	router := mux.NewRouter()
	NewHandlers(service, recorder, logger).RegisterRoutes(router)
	return router
}

func TestHandlersListEvents(t *testing.T) {
	store := &fakeStore{
		page: &Page{
			Events:     []*Event{{ID: 1, Action: ActionCreate, EntityType: EntityContract, EntityID: "1", UserID: "u"}},
			PageNumber: 1,
			Limit:      50,
			Total:      1,
			TotalPages: 1,
		},
	}
	router := newTestRouter(store, nil)

	req := httptest.NewRequest("GET", "/api/audit/events?user_id=u&actions=CREATE,UPDATE&entity_type=CONTRACT&page=1&limit=50", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u", store.lastFilter.UserID)
	assert.Equal(t, EntityContract, store.lastFilter.EntityType)
	assert.Equal(t, []Action{ActionCreate, ActionUpdate}, store.lastFilter.Actions)

	var page Page
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, int64(1), page.Total)
}

func TestHandlersListEventsRejectsBadParams(t *testing.T) {
	router := newTestRouter(&fakeStore{}, nil)

	cases := []string{
		"/api/audit/events?actions=BOGUS",
		"/api/audit/events?entity_type=bogus",
		"/api/audit/events?contract_id=abc",
		"/api/audit/events?date_from=not-a-date",
		"/api/audit/events?page=0",
		"/api/audit/events?limit=-1",
	}

	for _, url := range cases {
		req := httptest.NewRequest("GET", url, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "expected 400 for %s", url)
	}
}

func TestHandlersDateRangeWidening(t *testing.T) {
	store := &fakeStore{page: &Page{}}
	router := newTestRouter(store, nil)

	req := httptest.NewRequest("GET", "/api/audit/events?date_from=2024-03-01&date_to=2024-03-31", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, store.lastFilter.CreatedFrom)
	require.NotNil(t, store.lastFilter.CreatedTo)

	// The bare upper-bound date covers the whole day.
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), store.lastFilter.CreatedFrom.UTC())
	assert.Equal(t, 31, store.lastFilter.CreatedTo.Day())
	assert.Equal(t, 23, store.lastFilter.CreatedTo.Hour())
}

func TestHandlersGetEventNotFound(t *testing.T) {
	router := newTestRouter(&fakeStore{}, nil)

	req := httptest.NewRequest("GET", "/api/audit/events/999", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlersExport(t *testing.T) {
	store := &fakeStore{
		events: []*Event{
			{ID: 1, Action: ActionCreate, EntityType: EntityContract, EntityID: "1", UserID: "u", CreatedAt: time.Now()},
		},
		truncated: true,
	}
	writer := &captureWriter{}
	router := newTestRouter(store, writer)

	req := httptest.NewRequest("GET", "/api/audit/export", nil)
	req = req.WithContext(principal.WithPrincipal(context.Background(), principal.Principal{UserID: "auditor-1"}))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
	assert.Equal(t, "1", rec.Header().Get("X-Row-Count"))
	assert.Equal(t, "true", rec.Header().Get("X-Truncated"))

	// The export itself lands in the trail.
	require.Len(t, writer.events, 1)
	assert.Equal(t, ActionExport, writer.events[0].Action)
	assert.Equal(t, "auditor-1", writer.events[0].UserID)
}

func TestHandlersStats(t *testing.T) {
	store := &fakeStore{
		stats: &Stats{
			TotalActions: 5,
			ByAction:     map[Action]int64{},
			ByEntityType: map[EntityType]int64{},
		},
	}
	router := newTestRouter(store, nil)

	req := httptest.NewRequest("GET", "/api/audit/stats?days=7", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest("GET", "/api/audit/stats?days=abc", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest("GET", "/api/audit/stats?days=0", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlersListContractEvents(t *testing.T) {
	store := &fakeStore{
		events: []*Event{
			{ID: 1, Action: ActionCreate, EntityType: EntityDocument, EntityID: "9", UserID: "u"},
		},
	}
	router := newTestRouter(store, nil)

	req := httptest.NewRequest("GET", "/api/audit/contracts/42/events", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Events []*Event `json:"events"`
		Count  int      `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
}
