// Package gateway exposes a Manager over HTTP. Tasks are created,
// resumed and cancelled through a JSON API; their events and approval
// requests stream over a WebSocket per task.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/martinemde/codeloop/agentloop"
	"github.com/martinemde/codeloop/modes"
	"github.com/martinemde/codeloop/taskstore"
)

// Server is the codeloop HTTP gateway.
type Server struct {
	httpServer *http.Server
	manager    *agentloop.Manager
	broker     *ApprovalBroker
	hub        *Hub
	defaults   agentloop.ProviderConfig
	logger     *slog.Logger

	// runCtx outlives requests; tasks started over HTTP run under it.
	runCtx    context.Context
	cancelRun context.CancelFunc
	runs      sync.WaitGroup
	hubOnce   sync.Once
}

// Options configures a Server.
type Options struct {
	Addr string

	// Defaults fill in provider fields a create request leaves empty.
	Defaults agentloop.ProviderConfig

	// Broker must be the Approver the manager was built with for remote
	// approvals to reach it. It may be nil.
	Broker *ApprovalBroker
	Logger *slog.Logger
}

// NewServer creates a gateway for mgr.
func NewServer(mgr *agentloop.Manager, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	runCtx, cancel := context.WithCancel(context.Background())

	s := &Server{
		manager:   mgr,
		broker:    opts.Broker,
		hub:       NewHub(opts.Broker, logger),
		defaults:  opts.Defaults,
		logger:    logger,
		runCtx:    runCtx,
		cancelRun: cancel,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/modes", s.handleModes)
	r.Get("/api/events", s.handleAllEvents)

	r.Route("/api/tasks", func(r chi.Router) {
		r.Get("/", s.handleListTasks)
		r.Post("/", s.handleCreateTask)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetTask)
			r.Delete("/", s.handleDeleteTask)
			r.Post("/resume", s.handleResumeTask)
			r.Post("/cancel", s.handleCancelTask)
			r.Get("/events", s.handleTaskEvents)
		})
	})

	r.Get("/api/approvals", s.handleListApprovals)
	r.Post("/api/approvals/{id}", s.handleResolveApproval)

	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub { return s.hub }

// Start forwards manager events to WebSocket clients and begins
// listening. It blocks until the server is stopped.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("codeloop gateway listening", "addr", ln.Addr().String())
	return s.Serve(ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	s.startHub()
	err := s.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) startHub() {
	s.hubOnce.Do(func() {
		go s.hub.Run(s.runCtx, s.manager.Events())
	})
}

// Shutdown stops accepting requests, cancels the tasks it started and
// waits for them to persist.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancelRun()
	s.hub.Close()
	err := s.httpServer.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

// run drives t in the background under the server's run context.
func (s *Server) run(t *agentloop.Task) {
	s.startHub()
	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		if err := t.Run(s.runCtx); err != nil {
			s.logger.Warn("task ended", "task", t.ID(), "error", err)
			return
		}
		s.logger.Info("task completed", "task", t.ID())
	}()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleModes(w http.ResponseWriter, r *http.Request) {
	var out []modeView
	for _, m := range s.manager.Modes().Modes() {
		out = append(out, newModeView(m))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	list, err := s.manager.ListTasks(r.Context())
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if list == nil {
		list = []taskstore.Summary{}
	}
	writeJSON(w, http.StatusOK, list)
}

type createTaskRequest struct {
	Workspace   string   `json:"workspace"`
	Prompt      string   `json:"prompt"`
	Provider    string   `json:"provider,omitempty"`
	Model       string   `json:"model,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Prompt) == "" || req.Workspace == "" {
		writeError(w, http.StatusBadRequest, "workspace and prompt are required")
		return
	}

	pc := s.defaults
	if req.Provider != "" {
		pc.Provider = req.Provider
	}
	if req.Model != "" {
		pc.Model = req.Model
	}
	if req.Temperature != nil {
		pc.Temperature = req.Temperature
	}
	if req.MaxTokens > 0 {
		pc.MaxTokens = req.MaxTokens
	}

	t, err := s.manager.CreateTask(r.Context(), req.Workspace, req.Prompt, pc)
	if err != nil {
		if errors.Is(err, modes.ErrUnknownMode) {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.run(t)
	writeJSON(w, http.StatusCreated, newTaskView(t))
}

// taskResponse is a persisted state plus what only a live task knows.
type taskResponse struct {
	*taskstore.State
	Live      *taskView         `json:"live,omitempty"`
	Approvals []PendingApproval `json:"approvals,omitempty"`
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, err := s.manager.LoadState(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	resp := taskResponse{State: st}
	if t, ok := s.manager.Task(id); ok {
		v := newTaskView(t)
		resp.Live = &v
	}
	if s.broker != nil {
		resp.Approvals = s.broker.Pending(id)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.DeleteTask(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type resumeRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleResumeTask(w http.ResponseWriter, r *http.Request) {
	var req resumeRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
			return
		}
	}
	t, err := s.manager.ResumeTask(r.Context(), chi.URLParam(r, "id"), req.Message)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.run(t)
	writeJSON(w, http.StatusAccepted, newTaskView(t))
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":        id,
		"cancelled": s.manager.CancelTask(id),
	})
}

func (s *Server) handleTaskEvents(w http.ResponseWriter, r *http.Request) {
	s.startHub()
	s.hub.ServeWS(w, r, chi.URLParam(r, "id"))
}

func (s *Server) handleAllEvents(w http.ResponseWriter, r *http.Request) {
	s.startHub()
	s.hub.ServeWS(w, r, "")
}

func (s *Server) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	out := []PendingApproval{}
	if s.broker != nil {
		out = append(out, s.broker.Pending(r.URL.Query().Get("task"))...)
	}
	writeJSON(w, http.StatusOK, out)
}

type resolveRequest struct {
	Approved *bool `json:"approved"`
}

func (s *Server) handleResolveApproval(w http.ResponseWriter, r *http.Request) {
	if s.broker == nil {
		writeError(w, http.StatusNotFound, "approvals are not handled by this server")
		return
	}
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Approved == nil {
		writeError(w, http.StatusBadRequest, `body must be {"approved": true|false}`)
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.broker.Resolve(id, *req.Approved); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "approved": *req.Approved})
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, taskstore.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, taskstore.ErrInvalidID):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, agentloop.ErrTaskRunning):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("gateway request failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
