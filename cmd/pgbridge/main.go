package main

import (
	"fmt"
	"io"
	"os"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	args := os.Args[1:]

	cmd := "serve"
	if len(args) > 0 {
		switch args[0] {
		case "serve", "check":
			cmd, args = args[0], args[1:]
		case "--help", "-h", "help":
			printUsage(os.Stdout)
			return
		case "version", "--version":
			fmt.Println("pgbridge " + version)
			return
		}
	}

	var err error
	switch cmd {
	case "check":
		err = runCheck(args)
	default:
		err = runServe(args)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "pgbridge - PostgreSQL tools for AI agents over MCP")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  pgbridge [serve] [-transport stdio|http] [-addr :8080] [postgres-url]")
	fmt.Fprintln(w, "  pgbridge check [postgres-url]")
	fmt.Fprintln(w, "  pgbridge version")
	fmt.Fprintln(w, "  pgbridge --help")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Connection settings not given in the URL are read from POSTGRES_HOST,")
	fmt.Fprintln(w, "POSTGRES_PORT, POSTGRES_DB, POSTGRES_USER, POSTGRES_PASSWORD and the other")
	fmt.Fprintln(w, "POSTGRES_* variables. Logging is controlled by LOG_LEVEL and LOG_FORMAT.")
}
