package mcp_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/aretw0/journeys/internal/runtime"
	"github.com/aretw0/journeys/pkg/adapters/mcp"
	"github.com/aretw0/journeys/pkg/adapters/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const journeyJSON = `{"id":"welcome","name":"Welcome","start_node_id":"hello","nodes":[{"id":"hello","type":"MESSAGE","message":"Hi","next_node_id":null}]}`

type rpcResponse struct {
	Result struct {
		IsError bool `json:"isError"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		Contents []struct {
			URI  string `json:"uri"`
			Text string `json:"text"`
		} `json:"contents"`
	} `json:"result"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func newServer(t *testing.T) *mcp.Server {
	t.Helper()
	engine := runtime.NewEngine(memory.NewJourneyStore(), memory.NewTraceStore(), memory.NewQueue())
	return mcp.NewServer(engine)
}

func call(t *testing.T, s *mcp.Server, method string, params any) rpcResponse {
	t.Helper()
	p, err := json.Marshal(params)
	require.NoError(t, err)
	msg := fmt.Sprintf(`{"jsonrpc":"2.0","id":1,"method":%q,"params":%s}`, method, p)

	raw := s.MCPServer().HandleMessage(context.Background(), json.RawMessage(msg))
	data, err := json.Marshal(raw)
	require.NoError(t, err)

	var resp rpcResponse
	require.NoError(t, json.Unmarshal(data, &resp))
	return resp
}

func callTool(t *testing.T, s *mcp.Server, name string, args map[string]any) rpcResponse {
	t.Helper()
	return call(t, s, "tools/call", map[string]any{"name": name, "arguments": args})
}

func text(t *testing.T, resp rpcResponse) string {
	t.Helper()
	require.Nil(t, resp.Error)
	require.NotEmpty(t, resp.Result.Content)
	return resp.Result.Content[0].Text
}

func TestTools_CreateTriggerAndInspect(t *testing.T) {
	s := newServer(t)

	resp := callTool(t, s, "create_journey", map[string]any{"journey": journeyJSON})
	require.False(t, resp.Result.IsError, text(t, resp))
	assert.JSONEq(t, `{"journeyId":"welcome"}`, text(t, resp))

	resp = callTool(t, s, "trigger_journey", map[string]any{
		"journey_id": "welcome",
		"patient":    map[string]any{"id": "p-1", "age": 66, "language": "es", "condition": "knee_replacement"},
	})
	require.False(t, resp.Result.IsError, text(t, resp))
	var triggered struct {
		RunID string `json:"runId"`
	}
	require.NoError(t, json.Unmarshal([]byte(text(t, resp)), &triggered))
	require.NotEmpty(t, triggered.RunID)

	resp = callTool(t, s, "get_run_status", map[string]any{"run_id": triggered.RunID})
	require.False(t, resp.Result.IsError)
	var status map[string]any
	require.NoError(t, json.Unmarshal([]byte(text(t, resp)), &status))
	assert.Equal(t, "in_progress", status["status"])
	assert.Equal(t, "hello", status["currentNodeId"])

	resp = callTool(t, s, "get_run_trace", map[string]any{"run_id": triggered.RunID})
	require.False(t, resp.Result.IsError)
	var trace map[string]any
	require.NoError(t, json.Unmarshal([]byte(text(t, resp)), &trace))
	assert.Equal(t, "welcome", trace["journeyId"])
	patient, ok := trace["patientContext"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "es", patient["language"])

	resp = callTool(t, s, "get_journey_graph", map[string]any{"journey_id": "welcome"})
	require.False(t, resp.Result.IsError)
	assert.Contains(t, text(t, resp), "graph TD")
}

func TestTools_Errors(t *testing.T) {
	s := newServer(t)

	tests := []struct {
		name string
		tool string
		args map[string]any
	}{
		{"bad journey json", "create_journey", map[string]any{"journey": "{"}},
		{"invalid journey", "create_journey", map[string]any{"journey": `{"name":"x","start_node_id":"missing","nodes":[]}`}},
		{"unknown journey", "trigger_journey", map[string]any{
			"journey_id": "nope",
			"patient":    map[string]any{"id": "p", "age": 1, "language": "en", "condition": "hip_replacement"},
		}},
		{"missing patient", "trigger_journey", map[string]any{"journey_id": "nope"}},
		{"unknown patient field", "trigger_journey", map[string]any{
			"journey_id": "nope",
			"patient":    map[string]any{"id": "p", "age": 1, "language": "en", "condition": "hip_replacement", "ssn": "x"},
		}},
		{"missing run id", "get_run_status", map[string]any{}},
		{"unknown run", "get_run_trace", map[string]any{"run_id": "nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := callTool(t, s, tt.tool, tt.args)
			assert.True(t, resp.Result.IsError, "expected tool error, got %s", text(t, resp))
		})
	}
}

func TestResources(t *testing.T) {
	s := newServer(t)
	resp := callTool(t, s, "create_journey", map[string]any{"journey": journeyJSON})
	require.False(t, resp.Result.IsError)

	resp = call(t, s, "resources/read", map[string]any{"uri": "journeys://list"})
	require.Nil(t, resp.Error)
	require.Len(t, resp.Result.Contents, 1)
	assert.JSONEq(t, `[{"id":"welcome","name":"Welcome","start_node_id":"hello","nodes":1}]`, resp.Result.Contents[0].Text)

	resp = call(t, s, "resources/read", map[string]any{"uri": "journeys://welcome"})
	require.Nil(t, resp.Error)
	require.Len(t, resp.Result.Contents, 1)
	assert.Contains(t, resp.Result.Contents[0].Text, `"start_node_id":"hello"`)
}
