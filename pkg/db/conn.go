package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// StatementKind classifies a statement by its leading keyword
type StatementKind string

const (
	KindSelect StatementKind = "select"
	KindInsert StatementKind = "insert"
	KindUpdate StatementKind = "update"
	KindDelete StatementKind = "delete"
	KindOther  StatementKind = "other"
)

// KindOf returns the kind of a SQL statement
func KindOf(query string) StatementKind {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return KindOther
	}
	switch strings.ToUpper(fields[0]) {
	case "SELECT":
		return KindSelect
	case "INSERT":
		return KindInsert
	case "UPDATE":
		return KindUpdate
	case "DELETE":
		return KindDelete
	default:
		return KindOther
	}
}

// Statement describes one executed statement
type Statement struct {
	Kind    StatementKind
	SQL     string
	Args    int
	Elapsed time.Duration
	Err     error
}

// StatementObserver is notified after every statement a Conn executes
type StatementObserver interface {
	ObserveStatement(ctx context.Context, stmt Statement)
}

// Conn is a single pooled connection checked out for one unit of work.
// It is not safe for concurrent use.
type Conn struct {
	raw       *sql.Conn
	driver    string
	timeout   time.Duration
	slow      time.Duration
	log       *zap.Logger
	observers []StatementObserver
}

// Checkout reserves one connection from the pool. Statements on the returned
// Conn are reported to the manager's observer and to the given observers.
func (m *Manager) Checkout(ctx context.Context, observers ...StatementObserver) (*Conn, error) {
	sqlDB, err := m.db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	raw, err := sqlDB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check out connection: %w", classify(err))
	}

	all := make([]StatementObserver, 0, len(observers)+1)
	if m.observer != nil {
		all = append(all, m.observer)
	}
	all = append(all, observers...)

	return &Conn{
		raw:       raw,
		driver:    m.config.Driver,
		timeout:   m.config.QueryTimeout,
		slow:      m.config.SlowQueryThreshold,
		log:       m.log,
		observers: all,
	}, nil
}

// withQueryTimeout wraps a context with the configured statement timeout
func (c *Conn) withQueryTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout > 0 {
		return context.WithTimeout(ctx, c.timeout)
	}
	return ctx, func() {}
}

// Query runs a SELECT and hands the open rows to fn. Rows are closed and the
// statement deadline released when fn returns.
func (c *Conn) Query(ctx context.Context, query string, args []interface{}, fn func(*sql.Rows) error) error {
	if c.raw == nil {
		return ErrConnClosed
	}
	ctx, cancel := c.withQueryTimeout(ctx)
	defer cancel()

	// an expired deadline must not reach the driver
	if err := ctx.Err(); err != nil {
		err = classify(err)
		c.trace(ctx, query, args, 0, err)
		return err
	}

	start := time.Now()
	rows, err := c.raw.QueryContext(ctx, query, args...)
	if err != nil {
		err = classify(err)
		c.trace(ctx, query, args, time.Since(start), err)
		return err
	}
	defer rows.Close()

	err = fn(rows)
	if err == nil {
		err = rows.Err()
	}
	err = classify(err)
	c.trace(ctx, query, args, time.Since(start), err)
	return err
}

// Begin starts a transaction on this connection
func (c *Conn) Begin(ctx context.Context) (*Tx, error) {
	if c.raw == nil {
		return nil, ErrConnClosed
	}
	var opts *sql.TxOptions
	if c.driver == DriverMySQL {
		opts = &sql.TxOptions{Isolation: sql.LevelReadCommitted}
	}
	tx, err := c.raw.BeginTx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", classify(err))
	}
	return &Tx{tx: tx, conn: c}, nil
}

// Release returns the connection to the pool
func (c *Conn) Release() error {
	if c.raw == nil {
		return nil
	}
	err := c.raw.Close()
	c.raw = nil
	return err
}

func (c *Conn) trace(ctx context.Context, query string, args []interface{}, elapsed time.Duration, err error) {
	stmt := Statement{
		Kind:    KindOf(query),
		SQL:     query,
		Args:    len(args),
		Elapsed: elapsed,
		Err:     err,
	}
	for _, o := range c.observers {
		o.ObserveStatement(ctx, stmt)
	}

	fields := []zap.Field{
		zap.String("kind", string(stmt.Kind)),
		zap.Duration("elapsed", elapsed),
		zap.String("sql", query),
	}
	switch {
	case err != nil:
		c.log.Error("statement failed", append(fields, zap.Error(err))...)
	case c.slow > 0 && elapsed > c.slow:
		c.log.Warn("slow statement", fields...)
	default:
		c.log.Debug("statement", fields...)
	}
}

// Tx is a transaction on a checked-out connection
type Tx struct {
	tx   *sql.Tx
	conn *Conn
}

// Exec runs an INSERT, UPDATE or DELETE inside the transaction
func (t *Tx) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	ctx, cancel := t.conn.withQueryTimeout(ctx)
	defer cancel()

	start := time.Now()
	res, err := t.tx.ExecContext(ctx, query, args...)
	err = classify(err)
	t.conn.trace(ctx, query, args, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Commit commits the transaction
func (t *Tx) Commit() error {
	return classify(t.tx.Commit())
}

// Rollback aborts the transaction
func (t *Tx) Rollback() error {
	return t.tx.Rollback()
}
