package pgbridge

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

func TestRequestLength_WithArguments(t *testing.T) {
	t.Parallel()
	req := mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      ToolQuery,
			Arguments: map[string]any{"query": "SELECT 1"},
		},
	}
	// {"query":"SELECT 1"} = 20 bytes
	if length := requestLength(req); length != 20 {
		t.Fatalf("expected request length 20, got %d", length)
	}
}

func TestRequestLength_NoArguments(t *testing.T) {
	t.Parallel()
	req := mcp.CallToolRequest{Params: mcp.CallToolParams{Name: ToolListTables}}
	if length := requestLength(req); length != 0 {
		t.Fatalf("expected request length 0 for no arguments, got %d", length)
	}
}

func TestRequestLength_EmptyArguments(t *testing.T) {
	t.Parallel()
	req := mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: ToolQuery, Arguments: map[string]any{}},
	}
	if length := requestLength(req); length != 0 {
		t.Fatalf("expected request length 0 for empty arguments, got %d", length)
	}
}

func TestResultLength(t *testing.T) {
	t.Parallel()
	if length := resultLength(mcp.NewToolResultText("id\n--\n1")); length != 7 {
		t.Fatalf("expected result length 7, got %d", length)
	}
	if length := resultLength(mcp.NewToolResultError("something failed")); length != 16 {
		t.Fatalf("expected result length 16, got %d", length)
	}
	if length := resultLength(nil); length != 0 {
		t.Fatalf("expected result length 0 for nil, got %d", length)
	}
}

func TestLoggedToolHandler_LogsSizes(t *testing.T) {
	t.Parallel()
	logger, buf := captureLogger()
	d := NewDispatcher(&fakeDatabase{}, logger)

	handler := d.loggedToolHandler(ToolQuery, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultError("nope"), nil
	})
	req := mcp.CallToolRequest{Params: mcp.CallToolParams{Name: ToolQuery, Arguments: map[string]any{"query": "SELECT 1"}}}
	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected the wrapped result to pass through")
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry); err != nil {
		t.Fatalf("expected one JSON log line, got %q: %v", buf.String(), err)
	}
	if entry["message"] != "tool call" || entry["tool"] != ToolQuery {
		t.Fatalf("unexpected log entry: %v", entry)
	}
	if entry["request_bytes"] != float64(20) || entry["response_bytes"] != float64(4) || entry["is_error"] != true {
		t.Fatalf("unexpected sizes in log entry: %v", entry)
	}
}

// rpc sends one JSON-RPC message through the in-process server.
func rpc(t *testing.T, s *server.MCPServer, id int, method string, params any) map[string]any {
	t.Helper()
	body, err := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": id, "method": method, "params": params})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	reply := s.HandleMessage(context.Background(), body)
	raw, err := json.Marshal(reply)
	if err != nil {
		t.Fatalf("marshal reply: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal reply: %v", err)
	}
	if out["error"] != nil {
		t.Fatalf("%s: unexpected JSON-RPC error: %v", method, out["error"])
	}
	return out
}

func newRegisteredServer(db Database) *server.MCPServer {
	s := server.NewMCPServer("pgbridge-test", "1.0.0", server.WithToolCapabilities(true))
	RegisterMCPTools(s, NewDispatcher(db, discardLogger()))
	return s
}

func initialize(t *testing.T, s *server.MCPServer) {
	t.Helper()
	rpc(t, s, 1, "initialize", map[string]any{
		"protocolVersion": "2025-03-26",
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "test", "version": "1.0.0"},
	})
}

func TestRegisterMCPTools_ListsEveryTool(t *testing.T) {
	t.Parallel()
	s := newRegisteredServer(&fakeDatabase{})
	initialize(t, s)

	out := rpc(t, s, 2, "tools/list", map[string]any{})
	result, _ := out["result"].(map[string]any)
	tools, _ := result["tools"].([]any)

	got := map[string]bool{}
	for _, tool := range tools {
		if m, ok := tool.(map[string]any); ok {
			got[m["name"].(string)] = true
		}
	}
	for _, name := range []string{ToolQuery, ToolExecute, ToolCreateTable, ToolDescribeTable, ToolListTables} {
		if !got[name] {
			t.Fatalf("expected tool %q to be registered, got %v", name, got)
		}
	}
	if len(got) != 5 {
		t.Fatalf("expected 5 tools, got %d", len(got))
	}
}

func TestRegisterMCPTools_CallRoutesThroughDispatcher(t *testing.T) {
	t.Parallel()
	db := &fakeDatabase{queryOut: QueryOutcome{Fields: []string{"n"}, Rows: [][]any{{int64(1)}}, RowCount: 1}}
	s := newRegisteredServer(db)
	initialize(t, s)

	out := rpc(t, s, 2, "tools/call", map[string]any{
		"name":      ToolQuery,
		"arguments": map[string]any{"query": "SELECT 1 AS n"},
	})
	result, _ := out["result"].(map[string]any)
	if result["isError"] == true {
		t.Fatalf("expected success, got %v", result)
	}
	if db.lastSQL != "SELECT 1 AS n" {
		t.Fatalf("expected the statement to reach the database, got %q", db.lastSQL)
	}

	out = rpc(t, s, 3, "tools/call", map[string]any{
		"name":      ToolExecute,
		"arguments": map[string]any{"query": "SELECT 1"},
	})
	result, _ = out["result"].(map[string]any)
	if result["isError"] != true {
		t.Fatalf("expected a tool error for SELECT through execute, got %v", result)
	}
	if db.callCount() != 1 {
		t.Fatalf("expected exactly one database call, got %d", db.callCount())
	}
}
