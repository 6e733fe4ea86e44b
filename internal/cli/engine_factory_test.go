package cli_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/journeys/internal/cli"
	"github.com/aretw0/journeys/internal/config"
	"github.com/aretw0/journeys/internal/logging"
	"github.com/aretw0/journeys/pkg/domain"
	"github.com/aretw0/journeys/pkg/persistence/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, env map[string]string) *config.Config {
	t.Helper()
	cfg, err := config.LoadWithEnv("", func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	require.NoError(t, err)
	cfg.Queue.PollInterval = 10 * time.Millisecond
	return cfg
}

func postOp() *domain.Journey {
	return &domain.Journey{
		ID:          "post-op",
		Name:        "Post-op",
		StartNodeID: "hello",
		Nodes: []domain.Node{
			&domain.MessageNode{ID: "hello", Message: "Hello", Next: "check"},
			&domain.ConditionalNode{
				ID:        "check",
				Condition: domain.Condition{Field: "patient.condition", Operator: "=", Value: "knee_replacement"},
				OnTrue:    "knee",
			},
			&domain.MessageNode{ID: "knee", Message: "Knee exercises"},
		},
	}
}

var patient = domain.PatientContext{ID: "p-1", Age: 51, Language: domain.LanguageEnglish, Condition: domain.ProcedureKneeReplacement}

func runToCompletion(t *testing.T, app *cli.App) *domain.Trace {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := app.Engine.CreateJourney(ctx, postOp())
	require.NoError(t, err)

	done := make(chan error, 1)
	workerCtx, stop := context.WithCancel(ctx)
	go func() { done <- app.RunWorkers(workerCtx) }()

	runID, err := app.Engine.Trigger(ctx, "post-op", patient)
	require.NoError(t, err)
	trace, err := app.Engine.Wait(ctx, runID)
	require.NoError(t, err)

	stop()
	require.NoError(t, <-done)
	return trace
}

func TestNewApp_Memory(t *testing.T) {
	app, err := cli.NewApp(testConfig(t, nil), logging.NewNop())
	require.NoError(t, err)
	defer app.Close()

	trace := runToCompletion(t, app)
	assert.Equal(t, domain.StatusCompleted, trace.Status)
	require.Len(t, trace.Steps, 3)
	assert.Equal(t, "knee", trace.Steps[2].NodeID)
}

func TestNewApp_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t, map[string]string{
		"JOURNEYS_REDIS_ADDR":      mr.Addr(),
		"JOURNEYS_STORE_TRACES":    "redis",
		"JOURNEYS_STORE_JOURNEYS":  "redis",
		"JOURNEYS_QUEUE_BACKEND":   "redis",
		"JOURNEYS_METRICS_ENABLED": "false",
	})
	app, err := cli.NewApp(cfg, logging.NewNop())
	require.NoError(t, err)
	defer app.Close()

	trace := runToCompletion(t, app)
	assert.Equal(t, domain.StatusCompleted, trace.Status)
	assert.True(t, mr.Exists("journeys:trace:"+trace.RunID))
	assert.Nil(t, app.Registry)
}

func TestNewApp_SQLiteAndFile(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, map[string]string{
		"JOURNEYS_STORE_TRACES":   "sqlite",
		"JOURNEYS_STORE_JOURNEYS": "file",
		"JOURNEYS_SQLITE_PATH":    filepath.Join(dir, "db", "journeys.db"),
		"JOURNEYS_JOURNEYS_DIR":   filepath.Join(dir, "defs"),
	})
	app, err := cli.NewApp(cfg, logging.NewNop())
	require.NoError(t, err)
	defer app.Close()

	trace := runToCompletion(t, app)
	assert.Equal(t, domain.StatusCompleted, trace.Status)
	_, err = os.Stat(filepath.Join(dir, "defs", "post-op.json"))
	assert.NoError(t, err)
}

func TestNewApp_PseudonymizedTraces(t *testing.T) {
	const key = "0123456789abcdef"
	app, err := cli.NewApp(testConfig(t, map[string]string{"JOURNEYS_PATIENT_ID_KEY": key}), logging.NewNop())
	require.NoError(t, err)
	defer app.Close()

	trace := runToCompletion(t, app)
	assert.Equal(t, domain.StatusCompleted, trace.Status)
	assert.Equal(t, middleware.Pseudonym([]byte(key), patient.ID), trace.PatientContext.ID)
	require.Len(t, trace.Steps, 3)
	assert.Equal(t, "knee", trace.Steps[2].NodeID, "branching still sees the real patient")
}

func TestNewApp_InvalidConfig(t *testing.T) {
	cfg := testConfig(t, nil)
	cfg.Store.Traces = "file"
	_, err := cli.NewApp(cfg, logging.NewNop())
	assert.Error(t, err)
}

func TestApp_HTTPHandlerServesMetrics(t *testing.T) {
	app, err := cli.NewApp(testConfig(t, nil), logging.NewNop())
	require.NoError(t, err)
	defer app.Close()

	h, err := app.HTTPHandler()
	require.NoError(t, err)
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "journeys_runs_started_total")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestWriteTrace(t *testing.T) {
	trace := domain.NewTrace("run-1", "post-op", patient, "hello", time.Now())

	var buf bytes.Buffer
	require.NoError(t, cli.WriteTrace(&buf, trace, cli.OutputAuto))
	assert.True(t, strings.HasPrefix(buf.String(), "{"), "non-terminal writers get JSON")
	assert.Contains(t, buf.String(), `"runId": "run-1"`)

	buf.Reset()
	require.NoError(t, cli.WriteTrace(&buf, trace, cli.OutputMarkdown))
	assert.Contains(t, buf.String(), "# Run `run-1`")

	assert.Error(t, cli.WriteTrace(&buf, trace, "xml"))
}

func TestNewLogger(t *testing.T) {
	_, err := cli.NewLogger(config.LogConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)
	_, err = cli.NewLogger(config.LogConfig{Level: "loud"})
	assert.Error(t, err)
}
