package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	pgbridge "github.com/rickchristie/postgres-bridge"
	"github.com/rickchristie/postgres-bridge/internal/render"
)

var errChecksFailed = errors.New("one or more checks failed")

func runCheck(args []string) error {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}

	useColor := isTTY(os.Stderr.Fd())
	return check(context.Background(), os.Stderr, useColor, fs.Arg(0))
}

// check prints configuration and connectivity checks followed by client
// snippets. Any failed check is printed and returns errChecksFailed.
func check(ctx context.Context, w io.Writer, useColor bool, connURL string) error {
	printBanner(w, useColor)
	fmt.Fprintf(w, "pgbridge %s\n\n", version)

	if !runChecks(ctx, w, useColor, connURL) {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Fix the issues above and run 'pgbridge check' again.")
		return errChecksFailed
	}

	fmt.Fprintln(w)
	printAgentSnippets(w, useColor, connURL)
	return nil
}

// runChecks reports whether every check passed.
func runChecks(ctx context.Context, w io.Writer, useColor bool, connURL string) bool {
	cfg, err := pgbridge.ResolveConfig(connURL)
	if err != nil {
		printCheck(w, useColor, false, fmt.Sprintf("Configuration resolves: %v", err))
		return false
	}
	printCheck(w, useColor, true, fmt.Sprintf("Configuration resolves (%s)", cfg.Redacted()))
	printCheck(w, useColor, true, fmt.Sprintf("Pool %d-%d connections, query timeout %s, max rows %d",
		cfg.PoolMin, cfg.PoolMax, cfg.QueryTimeout, cfg.MaxRows))

	pool, err := pgbridge.NewPoolManager(ctx, cfg, zerolog.Nop())
	if err != nil {
		printCheck(w, useColor, false, fmt.Sprintf("Connection pool created: %v", err))
		return false
	}
	defer pool.GracefulShutdown(ctx)

	if err := pool.Ping(ctx); err != nil {
		printCheck(w, useColor, false, fmt.Sprintf("Database reachable: %v", err))
		return false
	}
	printCheck(w, useColor, true, "Database reachable")

	out, err := pool.Query(ctx, "SELECT version()", nil)
	if err != nil || len(out.Rows) == 0 {
		printCheck(w, useColor, false, fmt.Sprintf("Server version readable: %v", err))
		return false
	}
	printCheck(w, useColor, true, "Server version: "+render.FormatValue(out.Rows[0][0]))

	tables, err := pool.ListTables(ctx)
	if err != nil {
		printCheck(w, useColor, false, fmt.Sprintf("Catalog readable: %v", err))
		return false
	}
	printCheck(w, useColor, true, fmt.Sprintf("Catalog readable (%d tables visible)", len(tables.Rows)))
	return true
}

// printCheck prints a colored ✓ or ✗ check line.
func printCheck(w io.Writer, useColor bool, pass bool, msg string) {
	mark, color := "✓", "\033[32m"
	if !pass {
		mark, color = "✗", "\033[31m"
	}
	if useColor {
		fmt.Fprintf(w, "  %s%s\033[0m %s\n", color, mark, msg)
	} else {
		fmt.Fprintf(w, "  %s %s\n", mark, msg)
	}
}

// printAgentSnippets prints stdio MCP client configuration. The password is
// never echoed; clients should pass it through POSTGRES_PASSWORD.
func printAgentSnippets(w io.Writer, useColor bool, connURL string) {
	cfg, _ := pgbridge.ResolveConfig(connURL)
	target := cfg.Redacted()

	heading := func(title string) {
		if useColor {
			fmt.Fprintf(w, "\033[1;36m%s\033[0m\n", title)
		} else {
			fmt.Fprintln(w, title)
		}
	}
	subheading := func(title string) {
		if useColor {
			fmt.Fprintf(w, "  \033[1m%s\033[0m\n", title)
		} else {
			fmt.Fprintf(w, "  %s\n", title)
		}
	}

	heading("Agent Connection Snippets")
	fmt.Fprintln(w)

	subheading("Claude Code")
	fmt.Fprintf(w, "  Run this command to add the server:\n\n")
	fmt.Fprintf(w, "    claude mcp add postgres -e POSTGRES_PASSWORD=... -- pgbridge %s\n\n", target)

	subheading("Cursor (.cursor/mcp.json) and other stdio clients")
	fmt.Fprintf(w, `  {
    "mcpServers": {
      "postgres": {
        "command": "pgbridge",
        "args": ["%s"],
        "env": {"POSTGRES_PASSWORD": "..."}
      }
    }
  }
`, target)
	fmt.Fprintln(w)

	subheading("HTTP clients")
	fmt.Fprintf(w, "  Start with: pgbridge -transport http -addr :8080 %s\n", target)
	fmt.Fprintf(w, "  Then point the client at http://localhost:8080/mcp\n")
}
