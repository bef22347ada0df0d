package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/basket/scout/internal/bus"
	"github.com/basket/scout/internal/config"
	scoutotel "github.com/basket/scout/internal/otel"
	"github.com/basket/scout/internal/runner"
	"github.com/basket/scout/internal/tasks"
)

// TaskService is the submission and inspection surface the gateway serves.
// *runner.Service implements it.
type TaskService interface {
	Submit(ctx context.Context, query string) (string, error)
	Events(ctx context.Context, id string) ([]tasks.Event, error)
	Result(ctx context.Context, id string) (tasks.Outcome, error)
	Status(ctx context.Context, id string) (runner.TaskStatus, tasks.Outcome, error)
	Watch(ctx context.Context, id string) ([]tasks.Event, *bus.Subscription, error)
	Unwatch(sub *bus.Subscription)
	Stats() runner.PoolStats
	Counts(ctx context.Context) (tasks.Counts, error)
}

type Config struct {
	Service TaskService

	// StoreDriver and Fingerprint are reported by /health.
	StoreDriver string
	Fingerprint string

	// PublicURL is advertised in the agent card.
	PublicURL string
	Version   string

	// A2AEnabled gates the agent card and both JSON-RPC endpoints.
	A2AEnabled bool

	// AuthToken, when non-empty, is required on every task route.
	AuthToken string

	// AllowOrigins controls accepted Origin headers for browser WS
	// connections. Empty means same-origin only.
	AllowOrigins []string

	RateLimit    config.RateLimitConfig
	MaxBodyBytes int64

	// MetricsHandler serves /metrics when non-nil.
	MetricsHandler http.Handler

	Tracer  trace.Tracer
	Metrics *scoutotel.Metrics
	Logger  *slog.Logger
}

type Server struct {
	cfg     Config
	schemas *schemas
	limiter *RateLimitMiddleware
	logger  *slog.Logger
}

// New builds a Server. It fails only if the embedded request schemas do not
// compile.
func New(cfg Config) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = nooptrace.NewTracerProvider().Tracer(scoutotel.TracerName)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = scoutotel.NoopMetrics()
	}
	if cfg.Version == "" {
		cfg.Version = scoutotel.Version
	}
	sc, err := compileSchemas()
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:     cfg,
		schemas: sc,
		limiter: NewRateLimitMiddleware(cfg.RateLimit, cfg.Metrics, cfg.Logger),
		logger:  cfg.Logger,
	}, nil
}

// StartEviction drops idle rate-limit buckets until ctx is done.
func (s *Server) StartEviction(ctx context.Context) {
	s.limiter.StartEviction(ctx, time.Minute, 10*time.Minute)
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/invoke", s.handleInvoke)
	mux.HandleFunc("/events/{task_id}", s.handleEvents)
	mux.HandleFunc("/result/{task_id}", s.handleResult)
	mux.HandleFunc("/tasks/{task_id}/stream", s.handleTaskStream)
	mux.HandleFunc("/.well-known/agent.json", s.handleAgentCard)
	mux.HandleFunc("/a2a/message/send", s.handleMessageSend)
	mux.HandleFunc("/a2a/tasks/get", s.handleTasksGet)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/healthz", s.handleHealth)
	if s.cfg.MetricsHandler != nil {
		mux.Handle("/metrics", s.cfg.MetricsHandler)
	}

	var h http.Handler = mux
	h = RequestSizeLimitMiddleware(s.cfg.MaxBodyBytes)(h)
	h = NewAuthMiddleware(s.cfg.AuthToken).Wrap(h)
	h = s.limiter.Wrap(h)
	h = NewCORSMiddleware(s.cfg.AllowOrigins)(h)
	return s.instrument(h)
}

type invokeResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

type resultResponse struct {
	Status string        `json:"status"`
	Output *tasks.Result `json:"output,omitempty"`
	Error  string        `json:"error,omitempty"`
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.schemas.invoke.validate(body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req struct {
		Input string `json:"input"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	id, err := s.cfg.Service.Submit(r.Context(), req.Input)
	switch {
	case errors.Is(err, runner.ErrEmptyQuery):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, runner.ErrQueueFull):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		s.logger.ErrorContext(r.Context(), "invoke: submit failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, invokeResponse{TaskID: id, Status: "started"})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	events, err := s.cfg.Service.Events(r.Context(), r.PathValue("task_id"))
	if err != nil {
		s.logger.ErrorContext(r.Context(), "events: read failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if events == nil {
		events = []tasks.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// handleResult keeps the two-way view: an id nobody submitted reads as
// running.
func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	out, err := s.cfg.Service.Result(r.Context(), r.PathValue("task_id"))
	if err != nil {
		s.logger.ErrorContext(r.Context(), "result: read failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	resp := resultResponse{Status: string(out.State)}
	switch out.State {
	case tasks.StateCompleted:
		resp.Output = out.Result
	case tasks.StateFailed:
		resp.Error = out.Error
	default:
		resp.Status = string(tasks.StateRunning)
	}
	writeJSON(w, http.StatusOK, resp)
}

type healthDetails struct {
	Store       string           `json:"store"`
	Pool        runner.PoolStats `json:"pool"`
	Tasks       *tasks.Counts    `json:"tasks,omitempty"`
	Fingerprint string           `json:"config_fingerprint,omitempty"`
	Version     string           `json:"version"`
}

// handleHealth always reports ok once the listener accepts connections;
// details are best effort.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	details := healthDetails{
		Store:       s.cfg.StoreDriver,
		Pool:        s.cfg.Service.Stats(),
		Fingerprint: s.cfg.Fingerprint,
		Version:     s.cfg.Version,
	}
	if counts, err := s.cfg.Service.Counts(r.Context()); err == nil {
		details.Tasks = &counts
	} else {
		s.logger.WarnContext(r.Context(), "health: counts unavailable", "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "details": details})
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, errors.New("request body too large")
		}
		return nil, errors.New("unreadable request body")
	}
	return body, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
