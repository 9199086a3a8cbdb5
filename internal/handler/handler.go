package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pavelanni/interviewer/internal/handler/views"
	"github.com/pavelanni/interviewer/internal/health"
	"github.com/pavelanni/interviewer/internal/i18n"
	"github.com/pavelanni/interviewer/internal/llm"
	"github.com/pavelanni/interviewer/internal/model"
	"github.com/pavelanni/interviewer/internal/observe"
	"github.com/pavelanni/interviewer/internal/store"
	"github.com/pavelanni/interviewer/internal/stt"
)

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store   *store.Store
	llm     *llm.Client
	stt     *stt.Client
	config  model.AppConfig
	metrics *observe.Metrics
	health  *health.Handler
}

// New creates a new Handler.
func New(s *store.Store, l *llm.Client, t *stt.Client, cfg model.AppConfig) (*Handler, error) {
	checks := []health.Check{{Name: "store", Probe: s.Ping}}
	if cfg.CheckUpstream && l.Configured() {
		checks = append(checks, health.Check{Name: "llm", Probe: l.Ping, Optional: true})
	}
	return &Handler{
		store:   s,
		llm:     l,
		stt:     t,
		config:  cfg,
		metrics: observe.DefaultMetrics(),
		health:  health.New(checks...),
	}, nil
}

// WithMetrics replaces the metrics sink and returns h.
func (h *Handler) WithMetrics(m *observe.Metrics) *Handler {
	h.metrics = m
	return h
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.handleIndex)
	r.Get("/api/questions", h.handleQuestions)
	r.Post("/api/transcribe", h.handleTranscribe)
	r.Post("/api/analyze", h.handleAnalyze)
	r.Get("/api/session", h.handleSession)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	h.health.Routes(r)

	r.NotFound(notFound)
	r.MethodNotAllowed(notFound)
}

// Router returns the complete HTTP handler with the middleware stack.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(observe.Middleware(h.metrics))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: h.config.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Correlation-ID"},
		ExposedHeaders: []string{"X-Correlation-ID"},
		MaxAge:         300,
	}))
	r.Use(i18n.Middleware())
	h.Routes(r)
	return r
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	http.Error(w, "Not Found", http.StatusNotFound)
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	cat, err := h.store.Catalog()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	lang := r.URL.Query().Get("lang")
	if lang == "" {
		lang = i18n.Lang(r.Header.Get("Accept-Language"))
	}
	data := views.IndexData{
		Lang:          lang,
		Roles:         model.Roles,
		Types:         cat.Types(),
		TimeLimits:    model.TimeLimits,
		QuestionCount: cat.Len(),
		MockMode:      !h.llm.Configured() || !h.stt.Configured(),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := views.IndexPage(data).Render(r.Context(), w); err != nil {
		slog.Error("render error", "error", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// requestContext bounds an upstream call by the configured timeout.
func (h *Handler) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.config.RequestTimeout > 0 {
		return context.WithTimeout(ctx, h.config.RequestTimeout)
	}
	return context.WithCancel(ctx)
}
