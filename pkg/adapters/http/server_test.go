package http_test

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aretw0/journeys/internal/runtime"
	journeyshttp "github.com/aretw0/journeys/pkg/adapters/http"
	"github.com/aretw0/journeys/pkg/adapters/memory"
	"github.com/aretw0/journeys/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const journeyBody = `{
  "name": "Hip replacement follow up",
  "start_node_id": "check-age",
  "nodes": [
    {
      "id": "check-age",
      "type": "CONDITIONAL",
      "condition": {"field": "patient.age", "operator": ">", "value": 65},
      "on_true_next_node_id": "senior",
      "on_false_next_node_id": "adult"
    },
    {"id": "senior", "type": "MESSAGE", "message": "Take it slow", "next_node_id": null},
    {"id": "adult", "type": "DELAY", "duration_seconds": 0, "next_node_id": null}
  ]
}`

const patientBody = `{"patient": {"id": "p-1", "age": 70, "language": "en", "condition": "hip_replacement"}}`

type fixture struct {
	srv    *httptest.Server
	traces *memory.TraceStore
	queue  *memory.Queue
}

func newFixture(t *testing.T, opts ...journeyshttp.Option) *fixture {
	t.Helper()
	traces := memory.NewTraceStore()
	queue := memory.NewQueue()
	engine := runtime.NewEngine(memory.NewJourneyStore(), traces, queue)

	h, err := journeyshttp.NewHandler(engine, opts...)
	require.NoError(t, err)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, traces: traces, queue: queue}
}

func (f *fixture) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		_ = json.NewDecoder(resp.Body).Decode(&out)
	}
	return resp, out
}

func (f *fixture) createJourney(t *testing.T) string {
	t.Helper()
	resp, out := f.do(t, http.MethodPost, "/journeys", journeyBody)
	require.Equal(t, http.StatusCreated, resp.StatusCode, out)
	id, _ := out["journeyId"].(string)
	require.NotEmpty(t, id)
	return id
}

func TestHealthcheck(t *testing.T) {
	f := newFixture(t)
	resp, out := f.do(t, http.MethodGet, "/healthcheck", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", out["status"])
}

func TestCreateAndGetJourney(t *testing.T) {
	f := newFixture(t)
	id := f.createJourney(t)

	resp, out := f.do(t, http.MethodGet, "/journeys/"+id, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, id, out["id"])
	assert.Equal(t, "check-age", out["start_node_id"])
	nodes, ok := out["nodes"].([]any)
	require.True(t, ok)
	assert.Len(t, nodes, 3)

	req, err := http.NewRequest(http.MethodGet, f.srv.URL+"/journeys", nil)
	require.NoError(t, err)
	listResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer listResp.Body.Close()
	var list []map[string]any
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0]["id"])
}

func TestCreateJourney_IgnoresClientID(t *testing.T) {
	f := newFixture(t)
	body := strings.Replace(journeyBody, `"name"`, `"id": "mine", "name"`, 1)
	resp, out := f.do(t, http.MethodPost, "/journeys", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotEqual(t, "mine", out["journeyId"])
}

func TestCreateJourney_Invalid(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{`},
		{"missing name", `{"start_node_id": "a", "nodes": []}`},
		{"unknown node type", `{"name": "x", "start_node_id": "a", "nodes": [{"id": "a", "type": "WEBHOOK"}]}`},
		{"dangling successor", `{"name": "x", "start_node_id": "a", "nodes": [{"id": "a", "type": "MESSAGE", "message": "m", "next_node_id": "b"}]}`},
		{"unknown start", `{"name": "x", "start_node_id": "z", "nodes": [{"id": "a", "type": "MESSAGE", "message": "m", "next_node_id": null}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, out := f.do(t, http.MethodPost, "/journeys", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.NotEmpty(t, out["error"])
		})
	}
}

func TestGetJourney_NotFound(t *testing.T) {
	f := newFixture(t)
	resp, out := f.do(t, http.MethodGet, "/journeys/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, out["error"], "not found")
}

func TestTriggerJourney(t *testing.T) {
	f := newFixture(t)
	id := f.createJourney(t)

	resp, out := f.do(t, http.MethodPost, "/journeys/"+id+"/trigger", patientBody)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, out)
	runID, _ := out["runId"].(string)
	require.NotEmpty(t, runID)
	assert.Equal(t, 1, f.queue.Len())

	resp, out = f.do(t, http.MethodGet, "/journeys/runs/"+runID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, runID, out["runId"])
	assert.Equal(t, string(domain.StatusInProgress), out["status"])
	assert.Equal(t, "check-age", out["currentNodeId"])

	resp, out = f.do(t, http.MethodGet, "/journeys/runs/"+runID+"/trace", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, id, out["journeyId"])
	assert.Empty(t, out["steps"])
}

func TestTriggerJourney_Errors(t *testing.T) {
	f := newFixture(t)
	id := f.createJourney(t)

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"non uuid journey", "/journeys/not-a-uuid/trigger", patientBody, http.StatusBadRequest},
		{"unknown journey", "/journeys/6f1c1b4e-8d3a-4c1e-9b7a-2f5d8e9c0a11/trigger", patientBody, http.StatusNotFound},
		{"missing patient", "/journeys/" + id + "/trigger", `{}`, http.StatusBadRequest},
		{"bad language", "/journeys/" + id + "/trigger", `{"patient": {"id": "p", "age": 1, "language": "fr", "condition": "hip_replacement"}}`, http.StatusBadRequest},
		{"negative age", "/journeys/" + id + "/trigger", `{"patient": {"id": "p", "age": -1, "language": "en", "condition": "hip_replacement"}}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := f.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
	assert.Equal(t, 0, f.queue.Len())
}

func TestRunLookups(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.do(t, http.MethodGet, "/journeys/runs/nope", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = f.do(t, http.MethodGet, "/journeys/runs/nope/trace", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	unknown := "0b6f3f0e-5c1a-4f7e-8a59-6d1f2c3b4a5e"
	resp, _ = f.do(t, http.MethodGet, "/journeys/runs/"+unknown, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = f.do(t, http.MethodGet, "/journeys/runs/"+unknown+"/trace", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestJourneyGraph(t *testing.T) {
	f := newFixture(t)
	id := f.createJourney(t)

	resp, err := http.Get(f.srv.URL + "/journeys/" + id + "/graph")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "graph TD")
	assert.Contains(t, string(body), `check_age -- "true" --> senior`)

	resp2, err := http.Get(f.srv.URL + "/journeys/" + id + "/graph?format=dot")
	require.NoError(t, err)
	defer resp2.Body.Close()
	body, err = io.ReadAll(resp2.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "digraph journey")

	resp3, _ := f.do(t, http.MethodGet, "/journeys/"+id+"/graph?format=png", "")
	assert.Equal(t, http.StatusBadRequest, resp3.StatusCode)
}

func TestAuthenticator(t *testing.T) {
	f := newFixture(t, journeyshttp.WithAuthenticator(func(r *http.Request) error {
		if r.Header.Get("Authorization") != "Bearer token" {
			return errors.New("missing credentials")
		}
		return nil
	}))

	resp, out := f.do(t, http.MethodGet, "/journeys", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "missing credentials", out["error"])

	resp, _ = f.do(t, http.MethodGet, "/healthcheck", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode, "healthcheck is public")
}

func TestMetricsAndSpecRoutes(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("journeys_runs_started_total 0\n"))
	})
	f := newFixture(t, journeyshttp.WithMetricsHandler(metrics))

	resp, err := http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	spec, err := http.Get(f.srv.URL + "/openapi.yaml")
	require.NoError(t, err)
	defer spec.Body.Close()
	body, err := io.ReadAll(spec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "openapi: 3.0.3")
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.do(t, http.MethodOptions, "/journeys", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
