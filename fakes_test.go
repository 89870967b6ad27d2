package pgbridge

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

func testConfig() DatabaseConfig {
	return DatabaseConfig{
		Host:              "localhost",
		Port:              5432,
		Database:          "postgres",
		User:              "postgres",
		ConnectionTimeout: time.Second,
		QueryTimeout:      5 * time.Second,
		PoolMin:           1,
		PoolMax:           4,
		PoolIdleTimeout:   time.Minute,
		MaxRows:           1000,
	}
}

// syncBuffer is a log sink safe for concurrent writers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func captureLogger() (zerolog.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	return zerolog.New(buf), buf
}

func discardLogger() zerolog.Logger {
	return zerolog.Nop()
}

// fakeRows is an in-memory pgx.Rows.
type fakeRows struct {
	fields    []string
	rows      [][]any
	tag       string
	err       error // returned by Err after iteration
	valuesErr error
	panicAt   int // Values panics on this row when > 0

	pos    int
	closed atomic.Bool
}

func (r *fakeRows) Close()     { r.closed.Store(true) }
func (r *fakeRows) Err() error { return r.err }

func (r *fakeRows) CommandTag() pgconn.CommandTag {
	return pgconn.NewCommandTag(r.tag)
}

func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription {
	out := make([]pgconn.FieldDescription, len(r.fields))
	for i, f := range r.fields {
		out[i] = pgconn.FieldDescription{Name: f}
	}
	return out
}

func (r *fakeRows) Next() bool {
	if r.closed.Load() || r.pos >= len(r.rows) {
		r.closed.Store(true)
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	return errors.New("fakeRows: Scan not supported")
}

func (r *fakeRows) Values() ([]any, error) {
	if r.panicAt > 0 && r.pos == r.panicAt {
		panic("fakeRows: decode exploded")
	}
	if r.valuesErr != nil {
		return nil, r.valuesErr
	}
	return r.rows[r.pos-1], nil
}

func (r *fakeRows) RawValues() [][]byte { return nil }
func (r *fakeRows) Conn() *pgx.Conn     { return nil }

// fakeConn serves one canned response. When block is set, Query and Exec wait
// for the statement context to end.
type fakeConn struct {
	pool *fakePool

	rows     *fakeRows
	queryErr error
	tag      string
	execErr  error
	block    bool

	lastSQL  string
	lastArgs []any
	releases atomic.Int32
}

func (c *fakeConn) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	c.lastSQL, c.lastArgs = sql, args
	if c.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if c.queryErr != nil {
		return nil, c.queryErr
	}
	return c.rows, nil
}

func (c *fakeConn) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	c.lastSQL, c.lastArgs = sql, args
	if c.block {
		<-ctx.Done()
		return pgconn.CommandTag{}, ctx.Err()
	}
	if c.execErr != nil {
		return pgconn.CommandTag{}, c.execErr
	}
	return pgconn.NewCommandTag(c.tag), nil
}

func (c *fakeConn) Release() {
	c.releases.Add(1)
	if c.pool != nil {
		c.pool.active.Add(-1)
	}
}

// fakePool hands out connections built by next and tracks how many are out.
type fakePool struct {
	next       func() *fakeConn
	acquireErr error
	pingErr    error
	idle       int32

	active   atomic.Int32
	acquired atomic.Int32
	closed   atomic.Bool

	mu    sync.Mutex
	conns []*fakeConn
}

func (p *fakePool) Acquire(ctx context.Context) (pooledConn, error) {
	if p.acquireErr != nil {
		return nil, p.acquireErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := p.next()
	c.pool = p
	p.active.Add(1)
	p.acquired.Add(1)
	p.mu.Lock()
	p.conns = append(p.conns, c)
	p.mu.Unlock()
	return c, nil
}

func (p *fakePool) Ping(ctx context.Context) error { return p.pingErr }

func (p *fakePool) Counts() (total, idle int32) {
	active := p.active.Load()
	return active + p.idle, p.idle
}

func (p *fakePool) Close() { p.closed.Store(true) }

func (p *fakePool) lastConn() *fakeConn {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.conns) == 0 {
		return nil
	}
	return p.conns[len(p.conns)-1]
}

func poolReturning(c func() *fakeConn) *fakePool {
	return &fakePool{next: c, idle: 1}
}

func rowsConn(fields []string, rows [][]any, tag string) func() *fakeConn {
	return func() *fakeConn {
		return &fakeConn{rows: &fakeRows{fields: fields, rows: rows, tag: tag}}
	}
}

// fakeDatabase records calls made through the Database interface.
type fakeDatabase struct {
	mu    sync.Mutex
	calls []string

	queryOut    QueryOutcome
	execOut     ExecuteOutcome
	describeOut TableDescription
	err         error
	panicWith   any

	lastSQL    string
	lastParams []any
	lastDef    TableDefinition
	lastSchema string
	lastName   string
}

// record notes the call and applies set under the lock.
func (f *fakeDatabase) record(call string, set func()) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	if set != nil {
		set()
	}
	f.mu.Unlock()
	if f.panicWith != nil {
		panic(f.panicWith)
	}
}

func (f *fakeDatabase) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeDatabase) Query(ctx context.Context, sql string, params []any) (QueryOutcome, error) {
	f.record("query", func() { f.lastSQL, f.lastParams = sql, params })
	return f.queryOut, f.err
}

func (f *fakeDatabase) Execute(ctx context.Context, sql string, params []any) (ExecuteOutcome, error) {
	f.record("execute", func() { f.lastSQL, f.lastParams = sql, params })
	return f.execOut, f.err
}

func (f *fakeDatabase) ListTables(ctx context.Context) (QueryOutcome, error) {
	f.record("list_tables", nil)
	return f.queryOut, f.err
}

func (f *fakeDatabase) DescribeTable(ctx context.Context, schema, name string) (TableDescription, error) {
	f.record("describe_table", func() { f.lastSchema, f.lastName = schema, name })
	return f.describeOut, f.err
}

func (f *fakeDatabase) CreateTable(ctx context.Context, def TableDefinition) (ExecuteOutcome, error) {
	f.record("create_table", func() { f.lastDef = def })
	return f.execOut, f.err
}
