package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"calgrid/internal/config"
	"calgrid/internal/model"
	"calgrid/internal/refresh"
	"calgrid/internal/store"
)

type fakeRefresher struct {
	calls int
	err   error
}

func (f *fakeRefresher) RunOnce(context.Context) (refresh.Summary, error) {
	f.calls++
	return refresh.Summary{Sources: 1, Imported: 3}, f.err
}

func (f *fakeRefresher) Last() (refresh.Summary, bool) {
	if f.calls == 0 {
		return refresh.Summary{}, false
	}
	return refresh.Summary{Sources: 1, Imported: 3}, true
}

func newTestServer(t *testing.T, mutate func(*config.Config)) (*Server, *store.Store) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Timezone = "UTC"
	cfg.DataDir = t.TempDir()
	if mutate != nil {
		mutate(cfg)
	}
	st := store.New()
	s := NewServer(cfg, st, nil)
	s.now = func() time.Time { return time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC) }
	return s, st
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func at(hour, min int) time.Time {
	return time.Date(2025, 3, 10, hour, min, 0, 0, time.UTC)
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := do(t, s.Handler(), http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("health = %d %q", rec.Code, rec.Body.String())
	}
}

func TestEventCRUD(t *testing.T) {
	s, _ := newTestServer(t, nil)
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/api/events", model.EventInput{
		Title: "Design review", Start: at(9, 0), End: at(10, 0), Category: model.CategoryMeeting,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d body=%s", rec.Code, rec.Body.String())
	}
	var created model.Event
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatal(err)
	}
	if created.ID == "" || rec.Header().Get("Location") != "/api/events/"+created.ID {
		t.Fatalf("created = %+v location=%q", created, rec.Header().Get("Location"))
	}

	rec = do(t, h, http.MethodPatch, "/api/events/"+created.ID, map[string]any{"title": "  Design review v2  "})
	if rec.Code != http.StatusOK {
		t.Fatalf("patch = %d %s", rec.Code, rec.Body.String())
	}
	var patched model.Event
	_ = json.NewDecoder(rec.Body).Decode(&patched)
	if patched.Title != "Design review v2" {
		t.Fatalf("patched title = %q, want trimmed", patched.Title)
	}

	rec = do(t, h, http.MethodPatch, "/api/events/"+created.ID, map[string]any{"title": "   "})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("blank title patch = %d", rec.Code)
	}

	rec = do(t, h, http.MethodPut, "/api/events/"+created.ID, model.EventInput{
		Title: "Retro", Start: at(14, 0), End: at(15, 0),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("put = %d %s", rec.Code, rec.Body.String())
	}
	var replaced model.Event
	_ = json.NewDecoder(rec.Body).Decode(&replaced)
	if replaced.Category != model.CategoryOther || replaced.Title != "Retro" {
		t.Fatalf("put did not replace all fields: %+v", replaced)
	}

	rec = do(t, h, http.MethodGet, "/api/events/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get = %d", rec.Code)
	}

	rec = do(t, h, http.MethodDelete, "/api/events/"+created.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete = %d", rec.Code)
	}
	rec = do(t, h, http.MethodGet, "/api/events/"+created.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete = %d", rec.Code)
	}
	rec = do(t, h, http.MethodDelete, "/api/events/"+created.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second delete = %d", rec.Code)
	}
}

func TestCreateValidation(t *testing.T) {
	s, st := newTestServer(t, nil)

	rec := do(t, s.Handler(), http.MethodPost, "/api/events", model.EventInput{Title: "", Start: at(10, 0), End: at(9, 0)})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Fields["title"] == "" || resp.Fields["end"] == "" {
		t.Fatalf("fields = %v", resp.Fields)
	}
	if st.Len() != 0 {
		t.Fatalf("invalid event stored")
	}

	req := httptest.NewRequest(http.MethodPost, "/api/events", strings.NewReader(`{"title":"x","bogus":1}`))
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown field accepted: %d", rec.Code)
	}
}

func TestLayoutEndpoint(t *testing.T) {
	s, st := newTestServer(t, nil)
	for _, in := range []model.EventInput{
		{Title: "A", Start: at(9, 0), End: at(10, 0)},
		{Title: "B", Start: at(9, 30), End: at(11, 0)},
		{Title: "C", Start: at(10, 0), End: at(11, 30)},
		{Title: "Tomorrow", Start: at(9, 0).AddDate(0, 0, 1), End: at(10, 0).AddDate(0, 0, 1)},
	} {
		if _, err := st.Create(in); err != nil {
			t.Fatal(err)
		}
	}

	rec := do(t, s.Handler(), http.MethodGet, "/api/layout?date=2025-03-10&days=2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Days []struct {
			Placements []struct {
				Event      model.Event `json:"event"`
				Assignment struct {
					Column       int `json:"column"`
					TotalColumns int `json:"total_columns"`
				} `json:"assignment"`
				Left  float64 `json:"left"`
				Width float64 `json:"width"`
			} `json:"placements"`
		} `json:"days"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Days) != 2 || len(resp.Days[0].Placements) != 3 || len(resp.Days[1].Placements) != 1 {
		t.Fatalf("unexpected shape: %+v", resp)
	}

	want := map[string][2]int{"A": {0, 2}, "B": {1, 2}, "C": {0, 2}}
	for _, p := range resp.Days[0].Placements {
		w := want[p.Event.Title]
		if p.Assignment.Column != w[0] || p.Assignment.TotalColumns != w[1] {
			t.Fatalf("%s = %+v, want %v", p.Event.Title, p.Assignment, w)
		}
	}

	for _, bad := range []string{"/api/layout?date=10-03-2025", "/api/layout?days=500", "/api/layout?days=0", "/api/layout?days=abc", "/api/layout?days=2x"} {
		if rec := do(t, s.Handler(), http.MethodGet, bad, nil); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s = %d, want 400", bad, rec.Code)
		}
	}
}

func TestListEventsByDate(t *testing.T) {
	s, st := newTestServer(t, nil)
	_, _ = st.Create(model.EventInput{Title: "Today", Start: at(9, 0), End: at(10, 0)})
	_, _ = st.Create(model.EventInput{Title: "Later", Start: at(9, 0).AddDate(0, 0, 3), End: at(10, 0).AddDate(0, 0, 3)})

	rec := do(t, s.Handler(), http.MethodGet, "/api/events?date=2025-03-10", nil)
	var resp eventsResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Events) != 1 || resp.Events[0].Title != "Today" {
		t.Fatalf("events = %+v", resp.Events)
	}
}

func TestDayViewAndExport(t *testing.T) {
	s, st := newTestServer(t, nil)
	_, _ = st.Create(model.EventInput{Title: "Focus <time>", Start: at(13, 0), End: at(14, 30), Color: "#10b981"})

	rec := do(t, s.Handler(), http.MethodGet, "/day?date=2025-03-10", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("day view = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{`data-ready="true"`, "Focus &lt;time&gt;", "top:780.00px", "width:100.0000%", "1h 30m"} {
		if !strings.Contains(body, want) {
			t.Fatalf("day view missing %q", want)
		}
	}

	rec = do(t, s.Handler(), http.MethodGet, "/api/calendar.ics", nil)
	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/calendar") {
		t.Fatalf("export = %d %q", rec.Code, rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(rec.Body.String(), "SUMMARY:Focus <time>") {
		t.Fatalf("export body missing event:\n%s", rec.Body.String())
	}
}

func TestBasicAuth(t *testing.T) {
	s, _ := newTestServer(t, func(c *config.Config) {
		c.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "pw"}
	})
	h := s.Handler()

	if rec := do(t, h, http.MethodGet, "/health", nil); rec.Code != http.StatusOK {
		t.Fatalf("/health must stay open, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/events", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req.SetBasicAuth("admin", "pw")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("authenticated = %d", rec.Code)
	}
}

func TestRefreshEndpoints(t *testing.T) {
	s, _ := newTestServer(t, nil)
	if rec := do(t, s.Handler(), http.MethodPost, "/api/refresh", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("refresh without sources = %d", rec.Code)
	}

	fr := &fakeRefresher{}
	s.refresher = fr
	if rec := do(t, s.Handler(), http.MethodGet, "/api/refresh", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("last before any run = %d", rec.Code)
	}
	if rec := do(t, s.Handler(), http.MethodPost, "/api/refresh", nil); rec.Code != http.StatusOK {
		t.Fatalf("refresh = %d", rec.Code)
	}
	if rec := do(t, s.Handler(), http.MethodGet, "/api/refresh", nil); rec.Code != http.StatusOK {
		t.Fatalf("last after run = %d", rec.Code)
	}

	fr.err = errors.New("one source failed")
	if rec := do(t, s.Handler(), http.MethodPost, "/api/refresh", nil); rec.Code != http.StatusMultiStatus {
		t.Fatalf("partial refresh = %d", rec.Code)
	}
	if fr.calls != 2 {
		t.Fatalf("calls = %d", fr.calls)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s, _ := newTestServer(t, nil)
	if rec := do(t, s.Handler(), http.MethodDelete, "/api/layout", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("DELETE /api/layout = %d", rec.Code)
	}
}
