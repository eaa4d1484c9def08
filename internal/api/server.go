package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"dispatchd/internal/domain"
	"dispatchd/internal/lifecycle"
	"dispatchd/internal/scheduler"
)

// Messages is the lifecycle surface the HTTP layer exposes.
type Messages interface {
	Create(ctx context.Context, req lifecycle.CreateRequest) (domain.Message, error)
	Get(ctx context.Context, id string) (domain.Message, error)
	List(ctx context.Context, q lifecycle.ListQuery) (lifecycle.Page, error)
	ListDue(ctx context.Context, now time.Time) ([]domain.Message, error)
	Update(ctx context.Context, id string, patch domain.Patch) (domain.Message, error)
	Cancel(ctx context.Context, id string) error
	Retry(ctx context.Context, id string) (domain.Message, error)
}

type StatsSource interface {
	Stats() scheduler.Stats
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	Stats StatsSource
	Store Pinger
	Now   func() time.Time
	Debug bool
}

type Server struct {
	r     *chi.Mux
	msgs  Messages
	stats StatsSource
	store Pinger
	now   func() time.Time
}

func NewServer(msgs Messages, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	now := opts.Now
	if now == nil {
		now = time.Now
	}
	s := &Server{r: r, msgs: msgs, stats: opts.Stats, store: opts.Store, now: now}

	r.Get("/health", s.health)
	r.Get("/metrics", s.metrics)
	r.Route("/api/messages", s.messageRoutes)
	// Older clients use this prefix and /pending for the due list.
	r.Route("/api/scheduled-messages", s.messageRoutes)

	if opts.Debug {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		r.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
		r.Handle("/debug/pprof/heap", pprof.Handler("heap"))
		r.Handle("/debug/pprof/block", pprof.Handler("block"))
	}

	return r
}

func (s *Server) messageRoutes(r chi.Router) {
	r.Post("/", s.createMessage)
	r.Get("/", s.listMessages)
	r.Get("/due", s.listDue)
	r.Get("/pending", s.listDue)
	r.Get("/{id}", s.getMessage)
	r.Put("/{id}", s.updateMessage)
	r.Delete("/{id}", s.cancelMessage)
	r.Post("/{id}/retry", s.retryMessage)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if s.store != nil {
		if err := s.store.Ping(r.Context()); err != nil {
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("content-type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("dispatchd_up 1\n"))
	if s.stats == nil {
		return
	}
	st := s.stats.Stats()
	fmt.Fprintf(w, "dispatchd_timers_armed %d\n", st.Armed)
	fmt.Fprintf(w, "dispatchd_messages_sent_total %d\n", st.Sent)
	fmt.Fprintf(w, "dispatchd_messages_failed_total %d\n", st.Failed)
}

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

type listResp struct {
	Success    bool                 `json:"success"`
	Data       []domain.Message     `json:"data"`
	Pagination lifecycle.Pagination `json:"pagination"`
}

func (s *Server) createMessage(w http.ResponseWriter, r *http.Request) {
	var req lifecycle.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.Invalid("", "invalid JSON body"))
		return
	}
	m, err := s.msgs.Create(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, envelope{Success: true, Data: m, Message: "Message scheduled successfully"})
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := intParam(q.Get("page"), 1)
	if err != nil {
		writeError(w, domain.Invalid("page", "page must be a positive integer"))
		return
	}
	limit, err := intParam(q.Get("limit"), 10)
	if err != nil {
		writeError(w, domain.Invalid("limit", "limit must be a positive integer"))
		return
	}
	res, err := s.msgs.List(r.Context(), lifecycle.ListQuery{
		Page:          page,
		Limit:         limit,
		Status:        domain.Status(q.Get("status")),
		Priority:      domain.Priority(q.Get("priority")),
		RecipientType: domain.RecipientType(q.Get("recipientType")),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResp{Success: true, Data: res.Data, Pagination: res.Pagination})
}

func (s *Server) listDue(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	if raw := r.URL.Query().Get("at"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, domain.Invalid("at", "at must be an RFC 3339 timestamp"))
			return
		}
		now = t
	}
	due, err := s.msgs.ListDue(r.Context(), now)
	if err != nil {
		writeError(w, err)
		return
	}
	if due == nil {
		due = []domain.Message{}
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: due})
}

func (s *Server) getMessage(w http.ResponseWriter, r *http.Request) {
	m, err := s.msgs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: m})
}

// updateReq accepts the stored field names plus the create request aliases.
type updateReq struct {
	domain.Patch
	Message      *string `json:"message"`
	ScheduledDay *string `json:"scheduledDay"`
	Day          *string `json:"day"`
	Time         *string `json:"time"`
}

func (u updateReq) patch() domain.Patch {
	p := u.Patch
	if p.Content == nil {
		p.Content = u.Message
	}
	if p.ScheduledDate == nil {
		p.ScheduledDate = u.ScheduledDay
	}
	if p.ScheduledDate == nil {
		p.ScheduledDate = u.Day
	}
	if p.ScheduledTime == nil {
		p.ScheduledTime = u.Time
	}
	return p
}

func (s *Server) updateMessage(w http.ResponseWriter, r *http.Request) {
	var req updateReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.Invalid("", "invalid JSON body"))
		return
	}
	m, err := s.msgs.Update(r.Context(), chi.URLParam(r, "id"), req.patch())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: m})
}

func (s *Server) cancelMessage(w http.ResponseWriter, r *http.Request) {
	if err := s.msgs.Cancel(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Scheduled message cancelled successfully"})
}

func (s *Server) retryMessage(w http.ResponseWriter, r *http.Request) {
	m, err := s.msgs.Retry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: m, Message: "Message retry scheduled"})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrFiring):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrImmutable), errors.Is(err, domain.ErrRetryLimit):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
		msg = "internal error"
	}
	writeJSON(w, code, envelope{Success: false, Error: msg})
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid value %q", raw)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
