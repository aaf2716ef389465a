// Package testutil fakes the postgres state table for store tests. The fake
// registers a database/sql driver that understands the three statements the
// snapshot store issues: the table DDL, the bucket select and the bucket
// upsert. Upserts inside a transaction only become visible on commit.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync/atomic"
)

var driverSeq atomic.Int64

// StubConn is the single connection behind a stub database.
type StubConn struct {
	// Execs lists every statement passed to ExecContext, in order.
	Execs []string
	// State holds committed payloads keyed by bucket.
	State map[string][]byte

	FailPing   bool
	FailBegin  bool
	FailCommit bool
	FailExec   bool
	FailSelect bool
	// RowsErr is returned by the select cursor once its rows are exhausted.
	RowsErr error

	pending map[string][]byte
}

// NewStubDB opens a sql.DB whose only connection is the returned StubConn.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{State: make(map[string][]byte)}
	name := fmt.Sprintf("pgstate-stub-%d", driverSeq.Add(1))
	sql.Register(name, stubDriver{conn: conn})
	db, err := sql.Open(name, "")
	if err != nil {
		panic(err)
	}
	return db, conn
}

// Put stores a committed bucket payload directly.
func (c *StubConn) Put(bucket string, payload []byte) {
	c.State[bucket] = payload
}

type stubDriver struct {
	conn *StubConn
}

func (d stubDriver) Open(string) (driver.Conn, error) { return d.conn, nil }

// Prepare implements driver.Conn. Statements always go through the context
// fast paths, so preparing is unsupported.
func (c *StubConn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("stub: prepare unsupported: %s", query)
}

// Close implements driver.Conn.
func (c *StubConn) Close() error { return nil }

// Begin implements driver.Conn.
func (c *StubConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// Ping implements driver.Pinger.
func (c *StubConn) Ping(context.Context) error {
	if c.FailPing {
		return errors.New("stub: ping failed")
	}
	return nil
}

// BeginTx implements driver.ConnBeginTx.
func (c *StubConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	if c.FailBegin {
		return nil, errors.New("stub: begin failed")
	}
	c.pending = make(map[string][]byte)
	return stubTx{conn: c}, nil
}

// ExecContext implements driver.ExecerContext.
func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.Execs = append(c.Execs, query)
	if c.FailExec {
		return nil, errors.New("stub: exec failed")
	}
	switch statementKind(query) {
	case "create":
		return driver.RowsAffected(0), nil
	case "upsert":
		if len(args) != 2 {
			return nil, fmt.Errorf("stub: upsert wants 2 args, got %d", len(args))
		}
		bucket, ok := args[0].Value.(string)
		if !ok {
			return nil, fmt.Errorf("stub: bucket must be a string, got %T", args[0].Value)
		}
		payload, _ := args[1].Value.([]byte)
		if c.pending != nil {
			c.pending[bucket] = payload
		} else {
			c.State[bucket] = payload
		}
		return driver.RowsAffected(1), nil
	default:
		return nil, fmt.Errorf("stub: unsupported statement: %s", query)
	}
}

// QueryContext implements driver.QueryerContext.
func (c *StubConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	if statementKind(query) != "select" {
		return nil, fmt.Errorf("stub: unsupported query: %s", query)
	}
	if c.FailSelect {
		return nil, errors.New("stub: select failed")
	}
	buckets := make([]string, 0, len(c.State))
	for b := range c.State {
		buckets = append(buckets, b)
	}
	sort.Strings(buckets)
	rows := make([][]driver.Value, len(buckets))
	for i, b := range buckets {
		rows[i] = []driver.Value{b, c.State[b]}
	}
	return &stubRows{rows: rows, err: c.RowsErr}, nil
}

func statementKind(query string) string {
	q := strings.ToUpper(strings.Join(strings.Fields(query), " "))
	switch {
	case strings.HasPrefix(q, "CREATE TABLE IF NOT EXISTS STATE"):
		return "create"
	case strings.HasPrefix(q, "INSERT INTO STATE"):
		return "upsert"
	case strings.HasPrefix(q, "SELECT BUCKET, PAYLOAD FROM STATE"):
		return "select"
	default:
		return ""
	}
}

type stubTx struct {
	conn *StubConn
}

func (t stubTx) Commit() error {
	pending := t.conn.pending
	t.conn.pending = nil
	if t.conn.FailCommit {
		return errors.New("stub: commit failed")
	}
	for b, p := range pending {
		t.conn.State[b] = p
	}
	return nil
}

func (t stubTx) Rollback() error {
	t.conn.pending = nil
	return nil
}

type stubRows struct {
	rows [][]driver.Value
	next int
	err  error
}

func (r *stubRows) Columns() []string { return []string{"bucket", "payload"} }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.next >= len(r.rows) {
		if r.err != nil {
			return r.err
		}
		return io.EOF
	}
	copy(dest, r.rows[r.next])
	r.next++
	return nil
}
