package mysql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

type stepKind int

const (
	stepExec stepKind = iota
	stepQuery
	stepBegin
	stepCommit
	stepRollback
)

func (k stepKind) String() string {
	return [...]string{"exec", "query", "begin", "commit", "rollback"}[k]
}

// step 是脚本化驱动期望的一次数据库交互。
type step struct {
	kind    stepKind
	query   string
	columns []string
	rows    [][]driver.Value
	err     error
}

func exec(query string) step          { return step{kind: stepExec, query: query} }
func begin() step                     { return step{kind: stepBegin} }
func commit() step                    { return step{kind: stepCommit} }
func rollback() step                  { return step{kind: stepRollback} }
func (s step) failing(err error) step { s.err = err; return s }
func query(q string, columns ...string) step {
	return step{kind: stepQuery, query: q, columns: columns}
}
func (s step) returning(rows ...[]driver.Value) step {
	s.rows = rows
	return s
}

// scriptDriver 按顺序校验交互，并记录每次 exec 的参数。
type scriptDriver struct {
	mu    sync.Mutex
	steps []step
	pos   int
	args  [][]driver.Value
}

var scriptSeq atomic.Int32

func newScriptDB(t *testing.T, steps ...step) (*sql.DB, *scriptDriver) {
	t.Helper()
	drv := &scriptDriver{steps: steps}
	name := fmt.Sprintf("script-mysql-%d", scriptSeq.Add(1))
	sql.Register(name, drv)
	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("open script db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db, drv
}

func (d *scriptDriver) done(t *testing.T) {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pos != len(d.steps) {
		t.Fatalf("consumed %d/%d steps", d.pos, len(d.steps))
	}
}

func (d *scriptDriver) execArgs() [][]driver.Value {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.args
}

func (d *scriptDriver) advance(kind stepKind, q string, args []driver.NamedValue) (step, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pos >= len(d.steps) {
		return step{}, fmt.Errorf("unexpected %s %q", kind, q)
	}
	s := d.steps[d.pos]
	if s.kind != kind {
		return step{}, fmt.Errorf("step %d: want %s, got %s", d.pos, s.kind, kind)
	}
	if s.query != "" && squash(s.query) != squash(q) {
		return step{}, fmt.Errorf("step %d: want %q, got %q", d.pos, squash(s.query), squash(q))
	}
	d.pos++
	if kind == stepExec {
		vals := make([]driver.Value, len(args))
		for i, a := range args {
			vals[i] = a.Value
		}
		d.args = append(d.args, vals)
	}
	return s, s.err
}

func squash(q string) string { return strings.Join(strings.Fields(q), " ") }

func (d *scriptDriver) Open(string) (driver.Conn, error) { return &scriptConn{d: d}, nil }

type scriptConn struct{ d *scriptDriver }

func (c *scriptConn) Prepare(q string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported: %s", q)
}
func (c *scriptConn) Close() error { return nil }
func (c *scriptConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}
func (c *scriptConn) Ping(context.Context) error { return nil }

func (c *scriptConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	if _, err := c.d.advance(stepBegin, "", nil); err != nil {
		return nil, err
	}
	return &scriptTx{d: c.d}, nil
}

func (c *scriptConn) ExecContext(_ context.Context, q string, args []driver.NamedValue) (driver.Result, error) {
	if _, err := c.d.advance(stepExec, q, args); err != nil {
		return nil, err
	}
	return driver.RowsAffected(1), nil
}

func (c *scriptConn) QueryContext(_ context.Context, q string, args []driver.NamedValue) (driver.Rows, error) {
	s, err := c.d.advance(stepQuery, q, args)
	if err != nil {
		return nil, err
	}
	return &scriptRows{columns: s.columns, rows: s.rows}, nil
}

type scriptTx struct{ d *scriptDriver }

func (t *scriptTx) Commit() error {
	_, err := t.d.advance(stepCommit, "", nil)
	return err
}

func (t *scriptTx) Rollback() error {
	_, err := t.d.advance(stepRollback, "", nil)
	return err
}

type scriptRows struct {
	columns []string
	rows    [][]driver.Value
	i       int
}

func (r *scriptRows) Columns() []string { return r.columns }
func (r *scriptRows) Close() error      { return nil }

func (r *scriptRows) Next(dest []driver.Value) error {
	if r.i >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.i])
	r.i++
	return nil
}
