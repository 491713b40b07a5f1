// Package server exposes the HTTP surface: the WhatsApp webhook (verify
// handshake + inbound deliveries), a health probe, and a token-gated admin
// API over jobs and groups.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"wagenda/internal/bot"
	"wagenda/internal/scheduler"
	"wagenda/internal/storage"
	"wagenda/pkg/logx"
)

const maxWebhookBody = 1 << 20 // 1 MiB

// Config is the listener setup. VerifyToken backs the webhook subscribe
// handshake; an empty AdminToken disables the admin API entirely.
type Config struct {
	Addr         string
	VerifyToken  string
	AdminToken   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type Server struct {
	cfg   Config
	bot   *bot.Bot
	sched *scheduler.Service
	store *storage.Store
	log   logx.Logger

	mu   sync.Mutex
	srv  *http.Server
	wg   sync.WaitGroup
	stop context.CancelFunc
	ctx  context.Context
}

func New(cfg Config, b *bot.Bot, sched *scheduler.Service, store *storage.Store, log logx.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{cfg: cfg, bot: b, sched: sched, store: store, log: log}
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/webhook/whatsapp", s.handleVerify)
	r.Post("/webhook/whatsapp", s.handleWebhook)

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.requireAdmin)
		r.Get("/jobs", s.handleListJobs)
		r.Delete("/jobs/{id}", s.handleCancelJob)
		r.Get("/groups", s.handleListGroups)
	})

	return r
}

// Start begins serving. ListenAndServe runs on its own goroutine; startup
// errors surface through the log, not the return value, matching the
// service lifecycle of the rest of the process.
func (s *Server) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}

	s.ctx, s.stop = context.WithCancel(context.Background())
	s.srv = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	srv := s.srv
	go func() {
		s.log.Info("http server listening", logx.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server stopped", logx.Err(err))
		}
	}()
	return nil
}

// Stop shuts the listener down and waits for in-flight webhook handlers.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	stop := s.stop
	s.srv = nil
	s.stop = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	if stop != nil {
		stop()
	}

	err := srv.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleVerify answers the provider's subscribe handshake: echo the
// challenge only when the mode and token match.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	if mode != "subscribe" || s.cfg.VerifyToken == "" ||
		subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.VerifyToken)) != 1 {
		s.log.Warn("webhook verification rejected", logx.String("mode", mode))
		http.Error(w, "verification failed", http.StatusForbidden)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, challenge)
}

// handleWebhook acknowledges the delivery immediately and processes the
// events off the request goroutine. The provider retries slow or failing
// responses, so processing errors must not bleed into the status code.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "read failed", http.StatusBadRequest)
		return
	}

	events, err := bot.ExtractEvents(body, time.Now())
	if err != nil {
		s.log.Warn("webhook payload rejected", logx.Err(err))
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
	if len(events) == 0 {
		return
	}

	s.mu.Lock()
	ctx := s.ctx
	if ctx == nil {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		for _, ev := range events {
			actions, err := s.bot.HandleInbound(ctx, ev, time.Now())
			if err != nil {
				s.log.Error("inbound event failed",
					logx.String("message_id", ev.MessageID),
					logx.Err(err))
				continue
			}
			s.bot.Execute(ctx, actions)
		}
	}()
}

// requireAdmin gates the admin API behind X-Admin-Token. No configured
// token means no admin API.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AdminToken == "" ||
			subtle.ConstantTimeCompare([]byte(r.Header.Get("X-Admin-Token")), []byte(s.cfg.AdminToken)) != 1 {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type jobView struct {
	ID        int64  `json:"id"`
	Alias     string `json:"alias"`
	GroupID   string `json:"group_id"`
	Text      string `json:"text"`
	RunAt     string `json:"run_at"`
	Status    string `json:"status"`
	LastError string `json:"last_error,omitempty"`
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	status := storage.JobStatus(r.URL.Query().Get("status"))
	jobs, err := s.sched.List(r.Context(), status)
	if err != nil {
		http.Error(w, "list failed", http.StatusInternalServerError)
		return
	}
	out := make([]jobView, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, jobView{
			ID:        j.ID,
			Alias:     j.GroupAlias,
			GroupID:   j.GroupID,
			Text:      j.Text,
			RunAt:     j.RunAt.UTC().Format(time.RFC3339),
			Status:    string(j.Status),
			LastError: j.LastError,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "bad job id", http.StatusBadRequest)
		return
	}
	switch err := s.sched.Cancel(r.Context(), id); {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": "canceled"})
	case errors.Is(err, scheduler.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, scheduler.ErrInvalidState):
		http.Error(w, "not pending", http.StatusConflict)
	default:
		http.Error(w, "cancel failed", http.StatusInternalServerError)
	}
}

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.store.ListGroups(r.Context())
	if err != nil {
		http.Error(w, "list failed", http.StatusInternalServerError)
		return
	}
	type groupView struct {
		Alias   string `json:"alias"`
		GroupID string `json:"group_id"`
		Name    string `json:"name,omitempty"`
	}
	out := make([]groupView, 0, len(groups))
	for _, g := range groups {
		out = append(out, groupView{Alias: g.Alias, GroupID: g.GroupID, Name: g.Name})
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
