package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	pgbridge "github.com/rickchristie/postgres-bridge"
)

const (
	transportStdio = "stdio"
	transportHTTP  = "http"

	httpShutdownTimeout = 5 * time.Second
)

type serveOptions struct {
	transport string
	addr      string
	connURL   string
}

func parseServeFlags(args []string, stderr io.Writer) (serveOptions, error) {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	transport := fs.String("transport", transportStdio, "Transport to serve on: stdio or http")
	addr := fs.String("addr", ":8080", "Listen address for the http transport")
	if err := fs.Parse(args); err != nil {
		return serveOptions{}, err
	}
	if fs.NArg() > 1 {
		return serveOptions{}, fmt.Errorf("expected at most one connection URL, got %d arguments", fs.NArg())
	}

	opts := serveOptions{
		transport: strings.ToLower(*transport),
		addr:      *addr,
		connURL:   fs.Arg(0),
	}
	if opts.transport != transportStdio && opts.transport != transportHTTP {
		return serveOptions{}, fmt.Errorf("unknown transport %q, expected stdio or http", *transport)
	}
	return opts, nil
}

func runServe(args []string) (err error) {
	opts, err := parseServeFlags(args, os.Stderr)
	if err != nil {
		return err
	}

	tty := isTTY(os.Stderr.Fd())
	logger := setupLogger(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"), os.Stderr, tty)
	if tty && opts.transport == transportHTTP {
		printBanner(os.Stderr, true)
	}

	// 1. Resolve configuration
	cfg, err := pgbridge.ResolveConfig(opts.connURL)
	if err != nil {
		return err
	}
	logger.Info().Str("database", cfg.Redacted()).Str("transport", opts.transport).Msg("configuration resolved")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Build the pool
	pool, err := pgbridge.NewPoolManager(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("serve loop panicked, shutting down")
			shutdownPool(pool, logger)
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	// 3. Non-fatal connectivity check
	pool.TestConnection(ctx)

	// 4. Serve until the transport ends or a signal arrives
	mcpServer := newMCPServer(pgbridge.NewDispatcher(pool, logger), logger)
	switch opts.transport {
	case transportHTTP:
		err = serveHTTP(ctx, opts.addr, mcpServer, pool, logger)
	default:
		err = serveStdio(ctx, mcpServer, logger)
	}

	shutdownPool(pool, logger)
	return err
}

func newMCPServer(d *pgbridge.Dispatcher, logger zerolog.Logger) *server.MCPServer {
	hooks := &server.Hooks{}
	hooks.AddAfterInitialize(func(ctx context.Context, id any, req *mcp.InitializeRequest, result *mcp.InitializeResult) {
		logger.Info().
			Str("client_name", req.Params.ClientInfo.Name).
			Str("client_version", req.Params.ClientInfo.Version).
			Msg("AI agent connected (MCP initialize)")
	})

	mcpServer := server.NewMCPServer("pgbridge", version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithHooks(hooks),
	)
	pgbridge.RegisterMCPTools(mcpServer, d)
	return mcpServer
}

func serveStdio(ctx context.Context, mcpServer *server.MCPServer, logger zerolog.Logger) error {
	stdio := server.NewStdioServer(mcpServer)
	stdio.SetErrorLogger(log.New(logger, "", 0))

	logger.Info().Msg("serving MCP over stdio")
	err := stdio.Listen(ctx, os.Stdin, os.Stdout)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
		return fmt.Errorf("stdio transport: %w", err)
	}
	logger.Info().Msg("stdio transport closed")
	return nil
}

func serveHTTP(ctx context.Context, addr string, mcpServer *server.MCPServer, pool healthChecker, logger zerolog.Logger) error {
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           newRouter(newStreamable(mcpServer), pool),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("serving MCP over streamable HTTP")
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http transport: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Msg("stopping HTTP transport")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown incomplete")
	}
	return nil
}

func newStreamable(mcpServer *server.MCPServer) *server.StreamableHTTPServer {
	return server.NewStreamableHTTPServer(mcpServer,
		server.WithEndpointPath("/mcp"),
		server.WithStateLess(true),
	)
}

// healthChecker is the part of the pool the health endpoint reports on.
type healthChecker interface {
	Ping(ctx context.Context) error
	Stats() pgbridge.PoolStats
}

// newRouter mounts the MCP handler and a database-aware health check.
// The MCP handler is registered by hand; StreamableHTTPServer only mounts
// itself when it owns the http.Server.
func newRouter(mcpHandler http.Handler, pool healthChecker) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", healthHandler(pool))
	r.Handle("/mcp", mcpHandler)
	return r
}

type healthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Total  int32  `json:"total_conns"`
	Idle   int32  `json:"idle_conns"`
	Active int32  `json:"active_conns"`
}

func healthHandler(pool healthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		stats := pool.Stats()
		resp := healthResponse{Status: "ok", Total: stats.Total, Idle: stats.Idle, Active: stats.Active}
		status := http.StatusOK
		if err := pool.Ping(ctx); err != nil {
			resp.Status = "unavailable"
			resp.Error = err.Error()
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func shutdownPool(pool *pgbridge.PoolManager, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := pool.GracefulShutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("graceful shutdown incomplete")
	}
}

// setupLogger builds the process logger. Output always goes to w (stderr in
// production) because stdout carries the stdio transport. An empty format
// picks text on a terminal and JSON otherwise.
func setupLogger(level, format string, w io.Writer, tty bool) zerolog.Logger {
	lvl := zerolog.InfoLevel
	switch strings.ToLower(level) {
	case "debug":
		lvl = zerolog.DebugLevel
	case "warn":
		lvl = zerolog.WarnLevel
	case "error":
		lvl = zerolog.ErrorLevel
	}

	output := w
	switch strings.ToLower(format) {
	case "text":
		output = zerolog.ConsoleWriter{Out: w, NoColor: !tty}
	case "json":
	default:
		if tty {
			output = zerolog.ConsoleWriter{Out: w}
		}
	}

	return zerolog.New(output).Level(lvl).With().Timestamp().Logger()
}
