package http

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/aretw0/journeys/internal/logging"
	"github.com/aretw0/journeys/internal/presentation/graph"
	"github.com/aretw0/journeys/pkg/domain"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

//go:embed openapi.yaml
var openAPISpec []byte

// maxBodyBytes caps request bodies; journeys are small documents.
const maxBodyBytes = 1 << 20

// Engine is the subset of the journey engine exposed over HTTP.
type Engine interface {
	CreateJourney(ctx context.Context, journey *domain.Journey) (string, error)
	GetJourney(ctx context.Context, journeyID string) (*domain.Journey, error)
	ListJourneys(ctx context.Context) ([]*domain.Journey, error)
	Trigger(ctx context.Context, journeyID string, patient domain.PatientContext) (string, error)
	RunStatus(ctx context.Context, runID string) (domain.RunStatus, error)
	RunTrace(ctx context.Context, runID string) (*domain.Trace, error)
}

// Authenticator decides whether a request may proceed.
// Returning an error rejects the request with 401.
type Authenticator func(r *http.Request) error

// Option configures the handler.
type Option func(*Server)

// WithLogger sets the logger used for request errors.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithAuthenticator installs an authentication check on the /journeys routes.
func WithAuthenticator(auth Authenticator) Option {
	return func(s *Server) {
		s.auth = auth
	}
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// Server serves the journeys API.
type Server struct {
	engine  Engine
	logger  *slog.Logger
	auth    Authenticator
	metrics http.Handler
	doc     *openapi3.T
}

// NewServer loads the embedded OpenAPI document and returns a server for engine.
func NewServer(engine Engine, opts ...Option) (*Server, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(openAPISpec)
	if err != nil {
		return nil, fmt.Errorf("load openapi spec: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("validate openapi spec: %w", err)
	}

	s := &Server{
		engine: engine,
		logger: logging.NewNop(),
		auth:   allowAll,
		doc:    doc,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NewHandler creates a new HTTP handler for the engine.
func NewHandler(engine Engine, opts ...Option) (http.Handler, error) {
	s, err := NewServer(engine, opts...)
	if err != nil {
		return nil, err
	}
	return s.Routes(), nil
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(enableCORS)

	r.Get("/healthcheck", s.healthcheck)
	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		_, _ = w.Write(openAPISpec)
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/journeys", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post("/", s.createJourney)
		r.Get("/", s.listJourneys)
		r.Get("/runs/{runId}", s.getRunStatus)
		r.Get("/runs/{runId}/trace", s.getRunTrace)
		r.Get("/{journeyId}", s.getJourney)
		r.Get("/{journeyId}/graph", s.getJourneyGraph)
		r.Post("/{journeyId}/trigger", s.triggerJourney)
	})
	return r
}

func allowAll(*http.Request) error { return nil }

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.auth(r); err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) healthcheck(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) createJourney(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r, "Journey")
	if !ok {
		return
	}

	var journey domain.Journey
	if err := json.Unmarshal(body, &journey); err != nil {
		s.fail(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err))
		return
	}
	// Journeys created over HTTP always get a fresh id.
	journey.ID = ""

	id, err := s.engine.CreateJourney(r.Context(), &journey)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"journeyId": id})
}

func (s *Server) listJourneys(w http.ResponseWriter, r *http.Request) {
	journeys, err := s.engine.ListJourneys(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, journeys)
}

func (s *Server) getJourney(w http.ResponseWriter, r *http.Request) {
	journey, err := s.engine.GetJourney(r.Context(), chi.URLParam(r, "journeyId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, journey)
}

func (s *Server) getJourneyGraph(w http.ResponseWriter, r *http.Request) {
	journey, err := s.engine.GetJourney(r.Context(), chi.URLParam(r, "journeyId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var out string
	switch format := r.URL.Query().Get("format"); format {
	case "", "mermaid":
		out = graph.GenerateMermaid(journey, nil)
	case "dot":
		if out, err = graph.GenerateDOT(journey, nil); err != nil {
			s.fail(w, r, err)
			return
		}
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported graph format %q", format))
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, out)
}

type triggerRequest struct {
	Patient domain.PatientContext `json:"patient"`
}

func (s *Server) triggerJourney(w http.ResponseWriter, r *http.Request) {
	journeyID := chi.URLParam(r, "journeyId")
	if !isUUID(journeyID) {
		writeError(w, http.StatusBadRequest, "invalid journey id")
		return
	}
	body, ok := s.readBody(w, r, "TriggerRequest")
	if !ok {
		return
	}

	var req triggerRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.fail(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err))
		return
	}
	runID, err := s.engine.Trigger(r.Context(), journeyID, req.Patient)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"runId": runID})
}

func (s *Server) getRunStatus(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runId")
	if !isUUID(runID) {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}
	status, err := s.engine.RunStatus(r.Context(), runID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) getRunTrace(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runId")
	if !isUUID(runID) {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}
	trace, err := s.engine.RunTrace(r.Context(), runID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trace)
}

// readBody reads the request body and validates it against a component schema.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request, schema string) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable request body")
		return nil, false
	}

	var value any
	if err := json.Unmarshal(body, &value); err != nil {
		writeError(w, http.StatusBadRequest, "request body must be JSON")
		return nil, false
	}
	ref, ok := s.doc.Components.Schemas[schema]
	if !ok || ref.Value == nil {
		s.fail(w, r, fmt.Errorf("schema %s missing from openapi spec", schema))
		return nil, false
	}
	if err := ref.Value.VisitJSON(value); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return body, true
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"err", err)
		writeError(w, status, "internal server error")
		return
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrUnsupportedNodeType),
		errors.Is(err, domain.ErrUnsupportedOperator):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func isUUID(s string) bool {
	return uuid.Validate(s) == nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
