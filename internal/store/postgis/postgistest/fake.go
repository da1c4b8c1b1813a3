// Package postgistest provides an in-memory postgis.Querier for unit tests.
package postgistest

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Result is what the fake returns for one statement.
type Result struct {
	Rows [][]any
	Err  error
}

type Call struct {
	SQL  string
	Args []any
}

// DB answers every statement through Handler and records the calls.
type DB struct {
	Handler func(sql string, args []any) Result
	PingErr error

	mu    sync.Mutex
	calls []Call
}

func (d *DB) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Call, len(d.calls))
	copy(out, d.calls)
	return out
}

func (d *DB) handle(sql string, args []any) Result {
	d.mu.Lock()
	d.calls = append(d.calls, Call{SQL: sql, Args: args})
	d.mu.Unlock()
	if d.Handler == nil {
		return Result{}
	}
	return d.Handler(sql, args)
}

func (d *DB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res := d.handle(sql, args)
	if res.Err != nil {
		return nil, res.Err
	}
	return &Rows{rows: res.Rows, pos: -1}, nil
}

func (d *DB) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.PingErr
}

func (d *DB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if err := ctx.Err(); err != nil {
		return &Row{err: err}
	}
	res := d.handle(sql, args)
	return &Row{rows: res.Rows, err: res.Err}
}

type Row struct {
	rows [][]any
	err  error
}

func (r *Row) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(r.rows) == 0 {
		return pgx.ErrNoRows
	}
	return scanInto(r.rows[0], dest)
}

type Rows struct {
	rows   [][]any
	pos    int
	err    error
	closed bool
}

func (r *Rows) Close()                                       { r.closed = true }
func (r *Rows) Err() error                                   { return r.err }
func (r *Rows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *Rows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *Rows) RawValues() [][]byte                          { return nil }
func (r *Rows) Conn() *pgx.Conn                              { return nil }

func (r *Rows) Next() bool {
	if r.closed {
		return false
	}
	r.pos++
	if r.pos >= len(r.rows) {
		r.closed = true
		return false
	}
	return true
}

func (r *Rows) Scan(dest ...any) error {
	if r.pos < 0 || r.pos >= len(r.rows) {
		return fmt.Errorf("postgistest: scan without current row")
	}
	if err := scanInto(r.rows[r.pos], dest); err != nil {
		r.err = err
		return err
	}
	return nil
}

func (r *Rows) Values() ([]any, error) {
	if r.pos < 0 || r.pos >= len(r.rows) {
		return nil, fmt.Errorf("postgistest: no current row")
	}
	return r.rows[r.pos], nil
}

func scanInto(row []any, dest []any) error {
	if len(row) != len(dest) {
		return fmt.Errorf("postgistest: row has %d values, scan wants %d", len(row), len(dest))
	}
	for i := range dest {
		if err := assign(dest[i], row[i]); err != nil {
			return fmt.Errorf("column %d: %w", i, err)
		}
	}
	return nil
}

// assign copies v into the pointer dst. nil zeroes the target; a value
// assignable to the element of a pointer target is boxed (string -> *string).
func assign(dst, v any) error {
	dv := reflect.ValueOf(dst)
	if dv.Kind() != reflect.Pointer || dv.IsNil() {
		return fmt.Errorf("postgistest: destination %T is not a non-nil pointer", dst)
	}
	target := dv.Elem()
	if v == nil {
		target.Set(reflect.Zero(target.Type()))
		return nil
	}
	sv := reflect.ValueOf(v)
	if sv.Type().AssignableTo(target.Type()) {
		target.Set(sv)
		return nil
	}
	if target.Kind() == reflect.Pointer && sv.Type().AssignableTo(target.Type().Elem()) {
		p := reflect.New(target.Type().Elem())
		p.Elem().Set(sv)
		target.Set(p)
		return nil
	}
	return fmt.Errorf("postgistest: cannot scan %T into %s", v, target.Type())
}
