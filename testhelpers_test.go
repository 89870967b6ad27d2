package pgbridge_test

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rickchristie/govner/pgflock/client"
	"github.com/rs/zerolog"

	pgbridge "github.com/rickchristie/postgres-bridge"
)

const (
	pgflockLockerPort = 9776
	pgflockPassword   = "pgflock"
)

func acquireTestDB(t *testing.T) string {
	t.Helper()
	connStr, err := client.Lock(pgflockLockerPort, t.Name(), pgflockPassword)
	if err != nil {
		t.Fatalf("Failed to acquire test database: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Unlock(pgflockLockerPort, pgflockPassword, connStr)
	})
	return connStr
}

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

// testConfig resolves connStr with small pool and row limits. The URL wins
// over any POSTGRES_* variables in the developer's shell.
func testConfig(t *testing.T, connStr string) pgbridge.DatabaseConfig {
	t.Helper()
	cfg, err := pgbridge.ResolveConfig(connStr)
	if err != nil {
		t.Fatalf("ResolveConfig: %v", err)
	}
	cfg.PoolMin = 1
	cfg.PoolMax = 5
	cfg.MaxRows = 1000
	cfg.QueryTimeout = 30 * time.Second
	cfg.ConnectionTimeout = 10 * time.Second
	return cfg
}

func newTestManager(t *testing.T, mutate func(*pgbridge.DatabaseConfig)) *pgbridge.PoolManager {
	t.Helper()
	cfg := testConfig(t, acquireTestDB(t))
	if mutate != nil {
		mutate(&cfg)
	}
	m, err := pgbridge.NewPoolManager(context.Background(), cfg, testLogger())
	if err != nil {
		t.Fatalf("Failed to create PoolManager: %v", err)
	}
	t.Cleanup(func() { _ = m.GracefulShutdown(context.Background()) })
	return m
}

func newTestBridge(t *testing.T) (*pgbridge.Dispatcher, *pgbridge.PoolManager) {
	t.Helper()
	m := newTestManager(t, nil)
	return pgbridge.NewDispatcher(m, testLogger()), m
}

func setupTable(t *testing.T, m *pgbridge.PoolManager, sql string) {
	t.Helper()
	if _, err := m.Execute(context.Background(), sql, nil); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
}

func call(d *pgbridge.Dispatcher, tool string, args map[string]any) *mcp.CallToolResult {
	return d.Handle(context.Background(), tool, args)
}

func text(t *testing.T, r *mcp.CallToolResult) string {
	t.Helper()
	var sb strings.Builder
	for _, c := range r.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}

func mustSucceed(t *testing.T, r *mcp.CallToolResult) string {
	t.Helper()
	out := text(t, r)
	if r.IsError {
		t.Fatalf("expected success, got error: %s", out)
	}
	return out
}

func mustFail(t *testing.T, r *mcp.CallToolResult, prefix string) string {
	t.Helper()
	out := text(t, r)
	if !r.IsError {
		t.Fatalf("expected error, got success: %s", out)
	}
	if !strings.HasPrefix(out, prefix) {
		t.Fatalf("expected %q prefix, got %q", prefix, out)
	}
	return out
}
