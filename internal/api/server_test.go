package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"dispatchd/internal/domain"
	"dispatchd/internal/handlers/logsink"
	"dispatchd/internal/lifecycle"
	"dispatchd/internal/scheduler"
	"dispatchd/internal/store"
	"dispatchd/internal/worker"
)

var epoch = time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)

type testServer struct {
	*httptest.Server
	repo   store.Repository
	engine *scheduler.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "api.db"), time.Second)
	if err != nil {
		t.Fatalf("store.Open error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	repo := store.NewSQLiteRepo(db)

	clock := clockwork.NewFakeClockAt(epoch)
	pool := worker.NewPool(2, 0, time.Second)
	t.Cleanup(func() { pool.Stop(context.Background()) })
	engine := scheduler.NewEngine(repo, logsink.Sink{}, pool, scheduler.Options{Clock: clock, Location: time.UTC})
	t.Cleanup(engine.Stop)
	svc := lifecycle.New(repo, engine, clock, time.UTC)

	srv := httptest.NewServer(NewServer(svc, Options{Stats: engine, Store: repo, Now: clock.Now}))
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, repo: repo, engine: engine}
}

type result struct {
	Success    bool                 `json:"success"`
	Data       json.RawMessage      `json:"data"`
	Error      string               `json:"error"`
	Pagination lifecycle.Pagination `json:"pagination"`
}

func (ts *testServer) do(t *testing.T, method, path, body string) (int, result) {
	t.Helper()
	req, err := http.NewRequest(method, ts.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest error: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s error: %v", method, path, err)
	}
	defer resp.Body.Close()
	var res result
	if strings.HasPrefix(resp.Header.Get("content-type"), "application/json") {
		if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode, res
}

func (ts *testServer) create(t *testing.T, hhmm string) domain.Message {
	t.Helper()
	code, res := ts.do(t, http.MethodPost, "/api/messages", fmt.Sprintf(`{"message":"invoice-reminder","day":"2026-10-19","time":%q}`, hhmm))
	if code != http.StatusCreated {
		t.Fatalf("create status = %d (%s), want 201", code, res.Error)
	}
	var m domain.Message
	if err := json.Unmarshal(res.Data, &m); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	return m
}

func TestCreateAndGet(t *testing.T) {
	ts := newTestServer(t)
	m := ts.create(t, "09:00")
	if m.Status != domain.StatusPending || m.ID == "" {
		t.Fatalf("created = %+v", m)
	}
	if !ts.engine.Armed(m.ID) {
		t.Fatal("created message is not armed")
	}

	code, res := ts.do(t, http.MethodGet, "/api/messages/"+m.ID, "")
	if code != http.StatusOK || !res.Success {
		t.Fatalf("get status = %d", code)
	}
	if code, _ := ts.do(t, http.MethodGet, "/api/messages/msg_missing", ""); code != http.StatusNotFound {
		t.Fatalf("get missing status = %d, want 404", code)
	}
}

func TestCreateValidationStatus(t *testing.T) {
	ts := newTestServer(t)
	tests := []struct {
		name string
		body string
	}{
		{"missing fields", `{"message":"hi"}`},
		{"bad time", `{"message":"hi","day":"2026-10-19","time":"9am"}`},
		{"past", `{"message":"hi","day":"2026-10-17","time":"09:00"}`},
		{"bad json", `{"message":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, res := ts.do(t, http.MethodPost, "/api/messages", tt.body)
			if code != http.StatusBadRequest || res.Success || res.Error == "" {
				t.Fatalf("status = %d res = %+v, want 400 with error", code, res)
			}
		})
	}
}

func TestUpdateAndCancelStatus(t *testing.T) {
	ts := newTestServer(t)
	m := ts.create(t, "09:00")

	code, res := ts.do(t, http.MethodPut, "/api/messages/"+m.ID, `{"scheduledTime":"10:30"}`)
	if code != http.StatusOK {
		t.Fatalf("update status = %d (%s)", code, res.Error)
	}
	var got domain.Message
	if err := json.Unmarshal(res.Data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ScheduledTime != "10:30" {
		t.Fatalf("scheduledTime = %q, want 10:30", got.ScheduledTime)
	}
	if code, _ := ts.do(t, http.MethodPut, "/api/messages/msg_missing", `{}`); code != http.StatusNotFound {
		t.Fatalf("update missing status = %d, want 404", code)
	}

	if code, _ := ts.do(t, http.MethodDelete, "/api/messages/"+m.ID, ""); code != http.StatusOK {
		t.Fatalf("cancel status = %d, want 200", code)
	}
	if code, _ := ts.do(t, http.MethodDelete, "/api/messages/"+m.ID, ""); code != http.StatusNotFound {
		t.Fatalf("second cancel status = %d, want 404", code)
	}
	if ts.engine.Armed(m.ID) {
		t.Fatal("cancelled message is still armed")
	}
}

func TestUpdateSentIsBadRequest(t *testing.T) {
	ts := newTestServer(t)
	m := ts.create(t, "09:00")
	if err := ts.engine.Disarm(m.ID); err != nil {
		t.Fatalf("Disarm error: %v", err)
	}
	stored, err := ts.repo.Get(context.Background(), m.ID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if err := stored.MarkSent(epoch); err != nil {
		t.Fatalf("MarkSent error: %v", err)
	}
	if err := ts.repo.Update(context.Background(), stored); err != nil {
		t.Fatalf("Update error: %v", err)
	}

	code, res := ts.do(t, http.MethodPut, "/api/messages/"+m.ID, `{"message":"changed"}`)
	if code != http.StatusBadRequest || !strings.Contains(res.Error, "sent") {
		t.Fatalf("update sent status = %d error = %q, want 400", code, res.Error)
	}
	if code, _ := ts.do(t, http.MethodPost, "/api/messages/"+m.ID+"/retry", ""); code != http.StatusBadRequest {
		t.Fatalf("retry sent status = %d, want 400", code)
	}
}

func TestListPaginationAndDue(t *testing.T) {
	ts := newTestServer(t)
	for _, hhmm := range []string{"09:00", "10:00", "11:00"} {
		ts.create(t, hhmm)
	}

	code, res := ts.do(t, http.MethodGet, "/api/messages?page=1&limit=2&status=pending", "")
	if code != http.StatusOK {
		t.Fatalf("list status = %d", code)
	}
	var items []domain.Message
	if err := json.Unmarshal(res.Data, &items); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(items) != 2 || res.Pagination.TotalItems != 3 || res.Pagination.TotalPages != 2 {
		t.Fatalf("items = %d pagination = %+v", len(items), res.Pagination)
	}
	if code, _ := ts.do(t, http.MethodGet, "/api/messages?limit=0", ""); code != http.StatusBadRequest {
		t.Fatalf("list limit=0 status = %d, want 400", code)
	}
	if code, _ := ts.do(t, http.MethodGet, "/api/messages?priority=asap", ""); code != http.StatusBadRequest {
		t.Fatalf("list bad priority status = %d, want 400", code)
	}

	code, res = ts.do(t, http.MethodGet, "/api/messages/due?at=2026-10-19T10:00:00Z", "")
	if code != http.StatusOK {
		t.Fatalf("due status = %d", code)
	}
	if err := json.Unmarshal(res.Data, &items); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("due = %d, want 2", len(items))
	}
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)
	ts.create(t, "09:00")

	resp, err := ts.Client().Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}

	resp, err = ts.Client().Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics error: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if !strings.Contains(string(body), "dispatchd_timers_armed 1") {
		t.Fatalf("metrics = %q", body)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.Invalid("content", "content is required"), http.StatusBadRequest},
		{&domain.ImmutableError{ID: "x", Status: domain.StatusSent, Op: "update"}, http.StatusBadRequest},
		{fmt.Errorf("%w: %w", &domain.ImmutableError{ID: "x", Op: "cancel"}, domain.ErrFiring), http.StatusConflict},
		{fmt.Errorf("x: %w", domain.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("x: %w", domain.ErrRetryLimit), http.StatusBadRequest},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Fatalf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestScheduledMessagesAliases(t *testing.T) {
	ts := newTestServer(t)
	code, res := ts.do(t, http.MethodPost, "/api/scheduled-messages", `{"message":"invoice-reminder","day":"2026-10-18","time":"09:00"}`)
	if code != http.StatusCreated {
		t.Fatalf("create via alias status = %d (%s), want 201", code, res.Error)
	}
	var m domain.Message
	if err := json.Unmarshal(res.Data, &m); err != nil {
		t.Fatalf("decode: %v", err)
	}

	code, res = ts.do(t, http.MethodGet, "/api/scheduled-messages/pending?at=2026-10-18T09:00:00Z", "")
	if code != http.StatusOK {
		t.Fatalf("pending status = %d", code)
	}
	var due []domain.Message
	if err := json.Unmarshal(res.Data, &due); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(due) != 1 || due[0].ID != m.ID {
		t.Fatalf("pending = %+v, want %s", due, m.ID)
	}
	if code, _ := ts.do(t, http.MethodGet, "/api/messages/"+m.ID, ""); code != http.StatusOK {
		t.Fatalf("get via primary prefix status = %d, want 200", code)
	}
	if code, _ := ts.do(t, http.MethodDelete, "/api/scheduled-messages/"+m.ID, ""); code != http.StatusOK {
		t.Fatalf("cancel via alias status = %d, want 200", code)
	}
}
