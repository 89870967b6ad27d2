package pgbridge

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pg_query "github.com/pganalyze/pg_query_go/v6"
	"github.com/rs/zerolog"

	"github.com/rickchristie/postgres-bridge/internal/protection"
	"github.com/rickchristie/postgres-bridge/internal/render"
)

const (
	drainPollInterval = 100 * time.Millisecond
	drainTimeout      = 10 * time.Second
)

// connPool is the subset of *pgxpool.Pool the manager depends on.
type connPool interface {
	Acquire(ctx context.Context) (pooledConn, error)
	Ping(ctx context.Context) error
	Counts() (total, idle int32)
	Close()
}

// pooledConn is the subset of *pgxpool.Conn the manager depends on.
type pooledConn interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Release()
}

type pgxPool struct {
	pool *pgxpool.Pool
}

func (p pgxPool) Acquire(ctx context.Context) (pooledConn, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (p pgxPool) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p pgxPool) Counts() (total, idle int32) {
	stat := p.pool.Stat()
	return stat.TotalConns(), stat.IdleConns()
}

func (p pgxPool) Close() {
	p.pool.Close()
}

// PoolStats is a point-in-time view of the connection pool.
type PoolStats struct {
	Total  int32
	Idle   int32
	Active int32
}

// PoolManager owns the connection pool and runs every statement the bridge
// executes. All exported methods are safe for concurrent use.
type PoolManager struct {
	cfg    DatabaseConfig
	pool   connPool
	logger zerolog.Logger

	// closing is cancelled once the drain wait is over; in-flight statements
	// derive their contexts from it.
	closing context.Context
	stop    context.CancelFunc

	draining     atomic.Bool
	shutdownOnce sync.Once
	shutdownErr  error

	drainInterval time.Duration
	drainTimeout  time.Duration
}

// NewPoolManager builds the pgx pool from cfg. The pool connects lazily, so a
// database that is down does not fail construction; use TestConnection to probe.
func NewPoolManager(ctx context.Context, cfg DatabaseConfig, logger zerolog.Logger) (*PoolManager, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, &ConfigError{Field: "connection", Message: "invalid connection settings", Err: err}
	}

	poolConfig.MinConns = int32(cfg.PoolMin)
	poolConfig.MaxConns = int32(cfg.PoolMax)
	poolConfig.MaxConnIdleTime = cfg.PoolIdleTimeout
	poolConfig.ConnConfig.ConnectTimeout = cfg.ConnectionTimeout
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeDescribeExec
	poolConfig.ConnConfig.RuntimeParams["statement_timeout"] = strconv.FormatInt(cfg.QueryTimeout.Milliseconds(), 10)
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "pgbridge"

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, wrapDBError("connect", err)
	}

	logger.Info().
		Str("database", cfg.Redacted()).
		Int("pool_min", cfg.PoolMin).
		Int("pool_max", cfg.PoolMax).
		Dur("query_timeout", cfg.QueryTimeout).
		Int("max_rows", cfg.MaxRows).
		Msg("connection pool created")

	return newPoolManager(cfg, pgxPool{pool: pool}, logger), nil
}

func newPoolManager(cfg DatabaseConfig, pool connPool, logger zerolog.Logger) *PoolManager {
	closing, stop := context.WithCancel(context.Background())
	return &PoolManager{
		cfg:           cfg,
		pool:          pool,
		logger:        logger,
		closing:       closing,
		stop:          stop,
		drainInterval: drainPollInterval,
		drainTimeout:  drainTimeout,
	}
}

// Query runs a row-returning statement with bound params. At most MaxRows rows
// are kept; the remainder is counted but discarded.
func (m *PoolManager) Query(ctx context.Context, sql string, params []any) (QueryOutcome, error) {
	return m.query(ctx, "query", sql, params)
}

// Execute runs a mutating statement with bound params.
func (m *PoolManager) Execute(ctx context.Context, sql string, params []any) (ExecuteOutcome, error) {
	startTime := time.Now()

	conn, ctx, done, err := m.acquire(ctx, "execute")
	if err != nil {
		return ExecuteOutcome{}, err
	}
	defer done()
	defer conn.Release()

	tag, err := conn.Exec(ctx, sql, bindParams(params)...)
	if err != nil {
		return ExecuteOutcome{}, m.fail("execute", sql, err)
	}

	out := ExecuteOutcome{Verb: commandVerb(tag), RowsAffected: tag.RowsAffected()}
	m.logger.Info().
		Str("sql", logStatement(sql)).
		Str("verb", out.Verb).
		Int64("rows_affected", out.RowsAffected).
		Dur("duration", time.Since(startTime)).
		Msg("statement executed")
	return out, nil
}

func (m *PoolManager) query(ctx context.Context, op, sql string, params []any) (QueryOutcome, error) {
	startTime := time.Now()

	conn, ctx, done, err := m.acquire(ctx, op)
	if err != nil {
		return QueryOutcome{}, err
	}
	defer done()
	defer conn.Release()

	rows, err := conn.Query(ctx, sql, bindParams(params)...)
	if err != nil {
		return QueryOutcome{}, m.fail(op, sql, err)
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	out := QueryOutcome{
		Fields: make([]string, len(fieldDescs)),
		Rows:   make([][]any, 0),
	}
	for i, fd := range fieldDescs {
		out.Fields[i] = fd.Name
	}

	var seen int64
	for rows.Next() {
		seen++
		if len(out.Rows) >= m.cfg.MaxRows {
			out.Truncated = true
			continue
		}
		values, err := rows.Values()
		if err != nil {
			return QueryOutcome{}, m.fail(op, sql, err)
		}
		out.Rows = append(out.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return QueryOutcome{}, m.fail(op, sql, err)
	}

	out.RowCount = rows.CommandTag().RowsAffected()
	if out.RowCount < seen {
		out.RowCount = seen
	}

	if out.Truncated {
		m.logger.Warn().
			Str("op", op).
			Str("sql", logStatement(sql)).
			Int("max_rows", m.cfg.MaxRows).
			Int64("row_count", out.RowCount).
			Msg("query result truncated")
	}
	m.logger.Info().
		Str("op", op).
		Str("sql", logStatement(sql)).
		Int("rows_returned", len(out.Rows)).
		Int64("row_count", out.RowCount).
		Dur("duration", time.Since(startTime)).
		Msg("query executed")
	return out, nil
}

// acquire checks out a connection within ConnectionTimeout and returns the
// statement context bounded by QueryTimeout. done must be called after the
// connection is released.
func (m *PoolManager) acquire(ctx context.Context, op string) (pooledConn, context.Context, func(), error) {
	if m.draining.Load() {
		return nil, nil, nil, &DatabaseError{Op: op, Message: "connection pool is shutting down"}
	}

	stmtCtx, cancel := context.WithTimeout(ctx, m.cfg.QueryTimeout)
	stopAfter := context.AfterFunc(m.closing, cancel)
	done := func() {
		stopAfter()
		cancel()
	}

	acquireCtx, cancelAcquire := context.WithTimeout(stmtCtx, m.cfg.ConnectionTimeout)
	defer cancelAcquire()

	conn, err := m.pool.Acquire(acquireCtx)
	if err != nil {
		done()
		wrapped := wrapDBError(op, fmt.Errorf("acquire connection: %w", err))
		m.logger.Warn().Err(wrapped).Str("op", op).Msg("connection acquire failed")
		return nil, nil, nil, wrapped
	}
	return conn, stmtCtx, done, nil
}

func (m *PoolManager) fail(op, sql string, err error) error {
	wrapped := wrapDBError(op, err)
	m.logger.Warn().
		Err(wrapped).
		Str("op", op).
		Str("sql", logStatement(sql)).
		Msg("statement failed")
	return wrapped
}

// TestConnection runs SELECT version() and logs the outcome. It never returns
// an error; a false result is a diagnostic, not a startup failure.
func (m *PoolManager) TestConnection(ctx context.Context) bool {
	out, err := m.query(ctx, "test connection", "SELECT version()", nil)
	if err != nil {
		m.logger.Warn().Err(err).Msg("database connectivity check failed")
		return false
	}
	version := ""
	if len(out.Rows) > 0 && len(out.Rows[0]) > 0 {
		version = render.FormatValue(out.Rows[0][0])
	}
	m.logger.Info().Str("server_version", version).Msg("database connection verified")
	return true
}

// Ping checks that a connection can be acquired and used.
func (m *PoolManager) Ping(ctx context.Context) error {
	if m.draining.Load() {
		return &DatabaseError{Op: "ping", Message: "connection pool is shutting down"}
	}
	ctx, cancel := context.WithTimeout(ctx, m.cfg.ConnectionTimeout)
	defer cancel()
	if err := m.pool.Ping(ctx); err != nil {
		return wrapDBError("ping", err)
	}
	return nil
}

// Stats returns the current connection counts.
func (m *PoolManager) Stats() PoolStats {
	total, idle := m.pool.Counts()
	return PoolStats{Total: total, Idle: idle, Active: total - idle}
}

// GracefulShutdown stops accepting statements, waits up to 10 seconds for
// active connections to be returned, then cancels whatever is still running
// and closes the pool. Calls after the first return the first call's result.
func (m *PoolManager) GracefulShutdown(ctx context.Context) error {
	m.shutdownOnce.Do(func() {
		m.shutdownErr = m.shutdown(ctx)
	})
	return m.shutdownErr
}

func (m *PoolManager) shutdown(ctx context.Context) error {
	m.draining.Store(true)
	startTime := time.Now()

	ticker := time.NewTicker(m.drainInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(m.drainTimeout)
	defer deadline.Stop()

	var ctxErr error
	active := m.Stats().Active
drain:
	for active > 0 {
		select {
		case <-ticker.C:
			active = m.Stats().Active
		case <-deadline.C:
			break drain
		case <-ctx.Done():
			ctxErr = ctx.Err()
			break drain
		}
	}

	if active > 0 {
		m.logger.Warn().
			Int32("active_connections", active).
			Dur("waited", time.Since(startTime)).
			Msg("drain incomplete, cancelling active statements")
	}
	m.stop()
	m.pool.Close()

	m.logger.Info().Dur("duration", time.Since(startTime)).Msg("connection pool closed")
	if ctxErr != nil {
		return wrapDBError("shutdown", ctxErr)
	}
	return nil
}

// bindParams adapts JSON-decoded params for binding. JSON numbers arrive as
// float64; integral values are sent as int64 so they bind to integer columns.
func bindParams(params []any) []any {
	if len(params) == 0 {
		return nil
	}
	out := make([]any, len(params))
	for i, p := range params {
		if f, ok := p.(float64); ok && f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			out[i] = int64(f)
			continue
		}
		out[i] = p
	}
	return out
}

// commandVerb returns the leading word of a command tag, e.g. "INSERT" for "INSERT 0 3".
func commandVerb(tag pgconn.CommandTag) string {
	s := tag.String()
	if i := strings.IndexByte(s, ' '); i >= 0 {
		return s[:i]
	}
	return s
}

// logStatement returns the statement with literals replaced by $n placeholders
// so logs never carry values. Statements that fail to parse are logged by verb only.
func logStatement(sql string) string {
	normalized, err := pg_query.Normalize(sql)
	if err != nil {
		return strings.ToUpper(protection.LeadingVerb(sql)) + " ...[unparsed]"
	}
	return truncateForLog(normalized, 200)
}

func truncateForLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	truncateAt := maxLen
	for truncateAt > 0 && !utf8.RuneStart(s[truncateAt]) {
		truncateAt--
	}
	return s[:truncateAt] + "...[truncated]"
}
