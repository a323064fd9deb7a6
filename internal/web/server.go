// Package web serves the JSON API over the orchestration engine.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GrabowMar/scanmux/internal/analyzer"
	"github.com/GrabowMar/scanmux/internal/config"
	"github.com/GrabowMar/scanmux/internal/coordinator"
	"github.com/GrabowMar/scanmux/internal/db"
	"github.com/GrabowMar/scanmux/internal/events"
	"github.com/GrabowMar/scanmux/internal/task"
)

// Orchestrator is the slice of the coordinator the API needs.
type Orchestrator interface {
	Submit(ctx context.Context, model string, app int, tools []string, priority string) (*task.Task, error)
	Cancel(mainID string) (int, error)
}

// ServiceView exposes the analyzer pool's endpoint and health surface.
type ServiceView interface {
	Services() []string
	Endpoints(service string) []string
	HealthCheck(ctx context.Context, service string) (*analyzer.Response, error)
}

// Server hosts the JSON API.
type Server struct {
	cfg     *config.Config
	db      *db.DB
	orch    Orchestrator
	pool    ServiceView
	metrics *events.Metrics
	port    int
}

// NewServer creates a Server. The listen port comes from the config.
func NewServer(cfg *config.Config, database *db.DB, orch Orchestrator, pool ServiceView, metrics *events.Metrics) *Server {
	return &Server{
		cfg:     cfg,
		db:      database,
		orch:    orch,
		pool:    pool,
		metrics: metrics,
		port:    cfg.Server.Port,
	}
}

// Handler builds the route tree.
func (s *Server) Handler() http.Handler {
	mux := chi.NewRouter()

	mux.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.Method(http.MethodGet, "/metrics",
		promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))

	mux.Route("/v1", func(rt chi.Router) {
		rt.Post("/tasks", s.wrap(s.handleSubmit))
		rt.Get("/tasks", s.wrap(s.handleList))
		rt.Get("/tasks/{id}", s.wrap(s.handleGet))
		rt.Post("/tasks/{id}/cancel", s.wrap(s.handleCancel))
		rt.Get("/services", s.wrap(s.handleServices))
	})

	return mux
}

// Start serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

// badRequestError marks validation failures so wrap can map them to 400.
type badRequestError struct{ msg string }

func (e badRequestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return badRequestError{msg: fmt.Sprintf(format, args...)}
}

func (s *Server) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		err := h(w, req)
		if err == nil {
			return
		}
		var bad badRequestError
		switch {
		case errors.Is(err, db.ErrTaskNotFound):
			writeError(w, http.StatusNotFound, "task not found")
		case errors.Is(err, coordinator.ErrNoRunnableTools):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.As(err, &bad):
			writeError(w, http.StatusBadRequest, bad.msg)
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// POST /v1/tasks
// Body: {"model": "...", "app": 1, "tools": [...] | "profile": "...", "priority": "..."}
func (s *Server) handleSubmit(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		Model    string   `json:"model"`
		App      int      `json:"app"`
		Tools    []string `json:"tools"`
		Profile  string   `json:"profile"`
		Priority string   `json:"priority"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return badRequest("decode body: %v", err)
	}
	if body.Model == "" {
		return badRequest("model is required")
	}
	if body.App < 1 {
		return badRequest("app must be >= 1")
	}

	tools := body.Tools
	if body.Profile != "" {
		tools = s.cfg.ResolveProfile(body.Profile)
		if len(tools) == 0 {
			return badRequest("unknown profile: %s", body.Profile)
		}
	}
	if len(tools) == 0 {
		return badRequest("tools or profile is required")
	}

	main, err := s.orch.Submit(req.Context(), body.Model, body.App, tools, body.Priority)
	if err != nil {
		return err
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": main.ID})
	return nil
}

// taskView is the detailed task representation returned by the API.
type taskView struct {
	*task.Task
	Subtasks []task.Task     `json:"subtasks,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
}

// GET /v1/tasks/{id}
func (s *Server) handleGet(w http.ResponseWriter, req *http.Request) error {
	id := chi.URLParam(req, "id")
	main, err := s.db.GetTask(id)
	if err != nil {
		return err
	}

	view := taskView{Task: main}
	if main.IsMain {
		subs, err := s.db.Subtasks(id)
		if err != nil {
			return err
		}
		view.Subtasks = subs
	}
	if main.Status.Terminal() && main.ResultSummary != "" {
		view.Result = json.RawMessage(main.ResultSummary)
		view.ResultSummary = ""
	}

	writeJSON(w, http.StatusOK, view)
	return nil
}

// GET /v1/tasks?status=
func (s *Server) handleList(w http.ResponseWriter, req *http.Request) error {
	var filter task.Status
	if q := req.URL.Query().Get("status"); q != "" {
		filter = task.Status(q)
		if !filter.Valid() {
			return badRequest("unknown status: %s", q)
		}
	}

	tasks, err := s.db.ListMainTasks(filter)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tasks": tasks})
	return nil
}

// POST /v1/tasks/{id}/cancel
func (s *Server) handleCancel(w http.ResponseWriter, req *http.Request) error {
	id := chi.URLParam(req, "id")
	if _, err := s.db.GetTask(id); err != nil {
		return err
	}

	n, err := s.orch.Cancel(id)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]int{"cancelled": n})
	return nil
}

// serviceStatus is one entry of the /v1/services view.
type serviceStatus struct {
	Name           string   `json:"name"`
	Endpoints      []string `json:"endpoints"`
	Healthy        bool     `json:"healthy"`
	AvailableTools []string `json:"available_tools,omitempty"`
	Error          string   `json:"error,omitempty"`
}

// GET /v1/services
func (s *Server) handleServices(w http.ResponseWriter, req *http.Request) error {
	ctx, cancel := context.WithTimeout(req.Context(), 5*time.Second)
	defer cancel()

	var out []serviceStatus
	for _, name := range s.pool.Services() {
		st := serviceStatus{Name: name, Endpoints: s.pool.Endpoints(name)}
		resp, err := s.pool.HealthCheck(ctx, name)
		switch {
		case err != nil:
			st.Error = err.Error()
		case resp.OK():
			st.Healthy = true
			st.AvailableTools = resp.AvailableTools
		default:
			st.Error = resp.Error
		}
		out = append(out, st)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"services": out})
	return nil
}
