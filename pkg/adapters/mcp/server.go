package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/journeys"
	"github.com/aretw0/journeys/internal/logging"
	"github.com/aretw0/journeys/internal/presentation/graph"
	"github.com/aretw0/journeys/pkg/domain"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/mitchellh/mapstructure"
)

const (
	listURI         = "journeys://list"
	journeyTemplate = "journeys://{id}"
)

// Engine defines the operations the MCP server exposes.
type Engine interface {
	CreateJourney(ctx context.Context, journey *domain.Journey) (string, error)
	GetJourney(ctx context.Context, journeyID string) (*domain.Journey, error)
	ListJourneys(ctx context.Context) ([]*domain.Journey, error)
	Trigger(ctx context.Context, journeyID string, patient domain.PatientContext) (string, error)
	RunStatus(ctx context.Context, runID string) (domain.RunStatus, error)
	RunTrace(ctx context.Context, runID string) (*domain.Trace, error)
}

// JourneySummary is the listing entry of a journey.
type JourneySummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	StartNodeID string `json:"start_node_id"`
	Nodes       int    `json:"nodes"`
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// Server wraps the journeys engine and exposes it as an MCP Server.
type Server struct {
	engine    Engine
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewServer creates a new MCP Server instance.
func NewServer(engine Engine, opts ...Option) *Server {
	s := &Server{
		engine:    engine,
		logger:    logging.NewNop(),
		mcpServer: server.NewMCPServer("journeys-mcp", strings.TrimSpace(journeys.Version)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying protocol server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves MCP over SSE on addr until ctx is done.
func (s *Server) ServeSSE(ctx context.Context, addr, baseURL string) error {
	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("mcp server listening (sse)", "addr", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop mcp server gracefully: %w", err)
		}
		return nil
	}
}

func corsMiddleware(next http.Handler) http.Handler {
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

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("create_journey",
		mcp.WithDescription("Validate and store a journey definition. Returns the journey id."),
		mcp.WithString("journey", mcp.Required(),
			mcp.Description("Journey as JSON: {id?, name, start_node_id, nodes[]} with MESSAGE, DELAY and CONDITIONAL nodes")),
	), s.handleCreateJourney)

	s.mcpServer.AddTool(mcp.NewTool("trigger_journey",
		mcp.WithDescription("Start a run of a journey for a patient. Returns the run id."),
		mcp.WithString("journey_id", mcp.Required(), mcp.Description("Journey id")),
		mcp.WithObject("patient", mcp.Required(),
			mcp.Description("Patient context"),
			mcp.Properties(map[string]any{
				"id":        map[string]any{"type": "string"},
				"age":       map[string]any{"type": "number", "minimum": 0},
				"language":  map[string]any{"type": "string", "enum": []string{"en", "es"}},
				"condition": map[string]any{"type": "string", "enum": []string{"hip_replacement", "knee_replacement"}},
			}),
		),
	), s.handleTrigger)

	s.mcpServer.AddTool(mcp.NewTool("get_run_status",
		mcp.WithDescription("Get the status of a run: in_progress, completed or failed, and its current node."),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("Run id")),
	), s.handleRunStatus)

	s.mcpServer.AddTool(mcp.NewTool("get_run_trace",
		mcp.WithDescription("Get the full execution trace of a run, one entry per executed step."),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("Run id")),
	), s.handleRunTrace)

	s.mcpServer.AddTool(mcp.NewTool("get_journey_graph",
		mcp.WithDescription("Render a journey as a Mermaid flowchart."),
		mcp.WithString("journey_id", mcp.Required(), mcp.Description("Journey id")),
	), s.handleJourneyGraph)
}

func (s *Server) handleCreateJourney(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := request.RequireString("journey")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var journey domain.Journey
	if err := json.Unmarshal([]byte(raw), &journey); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid journey: %v", err)), nil
	}
	id, err := s.engine.CreateJourney(ctx, &journey)
	if err != nil {
		return s.toolError("create_journey", err), nil
	}
	return jsonResult(map[string]string{"journeyId": id})
}

func (s *Server) handleTrigger(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	journeyID, err := request.RequireString("journey_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	patient, err := decodePatient(request.GetArguments()["patient"])
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	runID, err := s.engine.Trigger(ctx, journeyID, patient)
	if err != nil {
		return s.toolError("trigger_journey", err), nil
	}
	return jsonResult(map[string]string{"runId": runID})
}

func (s *Server) handleRunStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := request.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	status, err := s.engine.RunStatus(ctx, runID)
	if err != nil {
		return s.toolError("get_run_status", err), nil
	}
	return jsonResult(status)
}

func (s *Server) handleRunTrace(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := request.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	trace, err := s.engine.RunTrace(ctx, runID)
	if err != nil {
		return s.toolError("get_run_trace", err), nil
	}
	return jsonResult(trace)
}

func (s *Server) handleJourneyGraph(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	journeyID, err := request.RequireString("journey_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	journey, err := s.engine.GetJourney(ctx, journeyID)
	if err != nil {
		return s.toolError("get_journey_graph", err), nil
	}
	return mcp.NewToolResultText(graph.GenerateMermaid(journey, nil)), nil
}

// toolError reports err to the client. Only unexpected failures are logged.
func (s *Server) toolError(tool string, err error) *mcp.CallToolResult {
	if !errors.Is(err, domain.ErrNotFound) && !errors.Is(err, domain.ErrInvalidInput) {
		s.logger.Error("mcp tool failed", "tool", tool, "err", err)
	}
	return mcp.NewToolResultError(err.Error())
}

func decodePatient(v any) (domain.PatientContext, error) {
	var patient domain.PatientContext
	if v == nil {
		return patient, fmt.Errorf("%w: patient is required", domain.ErrInvalidInput)
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &patient,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return patient, err
	}
	if err := dec.Decode(v); err != nil {
		return patient, fmt.Errorf("%w: patient: %v", domain.ErrInvalidInput, err)
	}
	return patient, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(listURI, "Journey definitions",
		mcp.WithResourceDescription("Every stored journey with its start node and node count"),
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		list, err := s.engine.ListJourneys(ctx)
		if err != nil {
			return nil, fmt.Errorf("list journeys: %w", err)
		}
		out := make([]JourneySummary, 0, len(list))
		for _, j := range list {
			out = append(out, JourneySummary{ID: j.ID, Name: j.Name, StartNodeID: j.StartNodeID, Nodes: len(j.Nodes)})
		}
		data, err := json.Marshal(out)
		if err != nil {
			return nil, err
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: listURI, MIMEType: "application/json", Text: string(data)},
		}, nil
	})

	s.mcpServer.AddResourceTemplate(mcp.NewResourceTemplate(journeyTemplate, "Journey definition",
		mcp.WithTemplateDescription("A single journey definition"),
		mcp.WithTemplateMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		uri := request.Params.URI
		journey, err := s.engine.GetJourney(ctx, strings.TrimPrefix(uri, "journeys://"))
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(journey)
		if err != nil {
			return nil, err
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: uri, MIMEType: "application/json", Text: string(data)},
		}, nil
	})
}
