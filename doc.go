// Package pgbridge exposes a PostgreSQL database to AI agents as a small set
// of Model Context Protocol (MCP) tools: query, execute, create_table,
// describe_table, and list_tables.
//
// A [PoolManager] owns the pgx connection pool. Every statement acquires a
// connection bounded by the connection timeout, runs under the query timeout,
// and returns the connection on every path. Query results are capped at
// MaxRows. [PoolManager.GracefulShutdown] stops new work, waits for in-flight
// statements to drain, and cancels whatever is left after the deadline.
//
// A [Dispatcher] validates tool arguments against each tool's input schema,
// gates SQL by statement class (read-only statements through query, mutating
// statements through execute, forbidden phrases nowhere), and turns every
// outcome into a text tool result. Statement classification is lexical; it is
// a guard rail for cooperative agents, not a security boundary. Use a database
// role with the privileges you actually want to grant.
//
// # Library Usage
//
//	cfg, err := pgbridge.ResolveConfig(os.Getenv("DATABASE_URL"))
//	if err != nil {
//		log.Fatal(err)
//	}
//	pool, err := pgbridge.NewPoolManager(ctx, cfg, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer pool.GracefulShutdown(ctx)
//
//	d := pgbridge.NewDispatcher(pool, logger)
//
//	// Use directly
//	result := d.Handle(ctx, pgbridge.ToolQuery, map[string]any{"query": "SELECT * FROM users LIMIT 10"})
//
//	// Or register as MCP tools
//	pgbridge.RegisterMCPTools(mcpServer, d)
//
// Configuration comes from an optional postgres:// URL and the POSTGRES_*
// environment variables; see [ResolveConfig].
package pgbridge
