package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/trace"

	"github.com/cavendo/fleetctl/internal/logging"
	"github.com/cavendo/fleetctl/internal/telemetry"
)

// ErrNoRows is returned by One when the query matches no row. Callers that
// want "row or absence" semantics check for it with errors.Is.
var ErrNoRows = sql.ErrNoRows

// ExecResult is the outcome of Exec.
type ExecResult struct {
	Changes int64
}

// InsertResult is the outcome of Insert. LastInsertID is an int64 on the
// native dialect (the driver's rowid) and whatever type the RETURNING id
// column decodes to on the secondary dialect — in practice also an int64
// or a string, depending on the id column's type.
type InsertResult struct {
	LastInsertID interface{}
	Changes      int64
}

// Handle is the persistence contract every component in this module talks
// to. DB implements it as the outer, pool-backed handle; Tx implements it
// as the handle passed into a Handle.Tx callback.
type Handle interface {
	One(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	Many(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	Exec(ctx context.Context, query string, args ...interface{}) (ExecResult, error)
	Insert(ctx context.Context, query string, args ...interface{}) (InsertResult, error)
	Tx(ctx context.Context, fn func(ctx context.Context, tx Handle) error) error
	Run(ctx context.Context, sqlText string) error
}

// queryer is the subset of *sqlx.DB / *sqlx.Tx this package drives queries
// through, so DB and Tx can share the same execution helpers.
type queryer interface {
	sqlx.ExtContext
}

// DB is the outer, pool-backed Handle. It enforces the transaction guard:
// once a Tx callback is running on this DB's goroutine-local flag, calls
// made through the outer handle fail loudly instead of silently escaping
// the open transaction.
type DB struct {
	sqlxDB  *sqlx.DB
	dialect Dialect
	guard   *txGuard
	logger  logging.Logger
	metrics telemetry.MetricsClient
	tracer  telemetry.StartSpanFunc
}

// New wraps an established *sqlx.DB connection as a Handle. A nil guard
// defaults to GuardError mode.
func New(sqlxDB *sqlx.DB, dialect Dialect, guard *txGuard, logger logging.Logger, metrics telemetry.MetricsClient, tracer telemetry.StartSpanFunc) *DB {
	if guard == nil {
		guard = newTxGuard(GuardError, nil)
	}
	return &DB{sqlxDB: sqlxDB, dialect: dialect, guard: guard, logger: logger, metrics: metrics, tracer: tracer}
}

// NewGuard exposes guard construction to callers outside this package (the
// server entrypoint wires TX_GUARD_MODE from configuration).
func NewGuard(mode GuardMode, onWarn func(violation string)) *txGuard {
	return newTxGuard(mode, onWarn)
}

// Dialect reports which SQL dialect this handle targets.
func (d *DB) Dialect() Dialect { return d.dialect }

func (d *DB) rewrite(query string) (string, error) {
	return Rewrite(d.dialect, query)
}

func (d *DB) One(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	if err := d.guard.checkOuterCall("one", "tx.one"); err != nil {
		return err
	}
	return one(ctx, d.sqlxDB, d.dialect, dest, query, args...)
}

func (d *DB) Many(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	if err := d.guard.checkOuterCall("many", "tx.many"); err != nil {
		return err
	}
	return many(ctx, d.sqlxDB, d.dialect, dest, query, args...)
}

func (d *DB) Exec(ctx context.Context, query string, args ...interface{}) (ExecResult, error) {
	if err := d.guard.checkOuterCall("exec", "tx.exec"); err != nil {
		return ExecResult{}, err
	}
	return execQuery(ctx, d.sqlxDB, d.dialect, query, args...)
}

func (d *DB) Insert(ctx context.Context, query string, args ...interface{}) (InsertResult, error) {
	if err := d.guard.checkOuterCall("insert", "tx.insert"); err != nil {
		return InsertResult{}, err
	}
	return insertQuery(ctx, d.sqlxDB, d.dialect, query, args...)
}

func (d *DB) Run(ctx context.Context, sqlText string) error {
	if err := d.guard.checkOuterCall("run", "tx.run"); err != nil {
		return err
	}
	rewritten, err := d.rewrite(sqlText)
	if err != nil {
		return err
	}
	_, err = d.sqlxDB.ExecContext(ctx, rewritten)
	return err
}

// Tx opens a transaction, runs fn with a Tx-backed Handle, and commits on a
// nil return or rolls back otherwise. Nested Tx calls on the same goroutine
// are rejected outright.
func (d *DB) Tx(ctx context.Context, fn func(ctx context.Context, tx Handle) error) error {
	if d.tracer != nil {
		var span trace.Span
		ctx, span = d.tracer(ctx, "db.Tx")
		defer span.End()
	}

	if err := d.guard.enterTx(); err != nil {
		return err
	}
	defer d.guard.exitTx()

	start := time.Now()
	sqlxTx, err := d.sqlxDB.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlxTx.Rollback()
			panic(p)
		}
	}()

	txHandle := &Tx{sqlxTx: sqlxTx, dialect: d.dialect, logger: d.logger}
	err = fn(ctx, txHandle)
	if err != nil {
		if rbErr := sqlxTx.Rollback(); rbErr != nil {
			d.logger.Error("transaction rollback failed", map[string]interface{}{"error": rbErr.Error(), "cause": err.Error()})
		}
		d.recordTxMetric("rollback", time.Since(start))
		return err
	}

	if err := sqlxTx.Commit(); err != nil {
		d.recordTxMetric("commit_error", time.Since(start))
		return errors.Wrap(err, "failed to commit transaction")
	}
	d.recordTxMetric("commit", time.Since(start))
	return nil
}

func (d *DB) recordTxMetric(outcome string, dur time.Duration) {
	if d.metrics == nil {
		return
	}
	d.metrics.IncrementCounterWithLabels("db_transactions_total", 1, map[string]string{"outcome": outcome})
	d.metrics.RecordHistogram("db_transaction_duration_seconds", dur.Seconds(), map[string]string{"outcome": outcome})
}

// Tx is the Handle passed into a Handle.Tx callback. It never consults the
// transaction guard: by construction, it can only be reached from inside
// an open transaction.
type Tx struct {
	sqlxTx  *sqlx.Tx
	dialect Dialect
	logger  logging.Logger
}

func (t *Tx) One(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return one(ctx, t.sqlxTx, t.dialect, dest, query, args...)
}

func (t *Tx) Many(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return many(ctx, t.sqlxTx, t.dialect, dest, query, args...)
}

func (t *Tx) Exec(ctx context.Context, query string, args ...interface{}) (ExecResult, error) {
	return execQuery(ctx, t.sqlxTx, t.dialect, query, args...)
}

func (t *Tx) Insert(ctx context.Context, query string, args ...interface{}) (InsertResult, error) {
	return insertQuery(ctx, t.sqlxTx, t.dialect, query, args...)
}

func (t *Tx) Run(ctx context.Context, sqlText string) error {
	rewritten, err := Rewrite(t.dialect, sqlText)
	if err != nil {
		return err
	}
	_, err = t.sqlxTx.ExecContext(ctx, rewritten)
	return err
}

// Tx rejects nesting: a tx() callback may not open another transaction.
// Spec §4.1 calls this out explicitly.
func (t *Tx) Tx(ctx context.Context, fn func(ctx context.Context, tx Handle) error) error {
	return errors.New("nested tx() is not permitted; reuse the transaction handle already passed to this callback")
}

func one(ctx context.Context, q queryer, dialect Dialect, dest interface{}, query string, args ...interface{}) error {
	rewritten, err := Rewrite(dialect, query)
	if err != nil {
		return err
	}
	err = sqlx.GetContext(ctx, q, dest, rewritten, args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNoRows
		}
		return errors.Wrapf(err, "one: %s", summarize(query))
	}
	return nil
}

func many(ctx context.Context, q queryer, dialect Dialect, dest interface{}, query string, args ...interface{}) error {
	rewritten, err := Rewrite(dialect, query)
	if err != nil {
		return err
	}
	if err := sqlx.SelectContext(ctx, q, dest, rewritten, args...); err != nil {
		return errors.Wrapf(err, "many: %s", summarize(query))
	}
	return nil
}

func execQuery(ctx context.Context, q queryer, dialect Dialect, query string, args ...interface{}) (ExecResult, error) {
	rewritten, err := Rewrite(dialect, query)
	if err != nil {
		return ExecResult{}, err
	}
	res, err := q.ExecContext(ctx, rewritten, args...)
	if err != nil {
		return ExecResult{}, errors.Wrapf(err, "exec: %s", summarize(query))
	}
	changes, err := res.RowsAffected()
	if err != nil {
		return ExecResult{}, errors.Wrap(err, "exec: reading rows affected")
	}
	return ExecResult{Changes: changes}, nil
}

// insertQuery enforces single-row INSERT semantics: it rejects anything
// that is not a single INSERT statement up front, then on the secondary
// dialect appends RETURNING id (if the caller did not already add one) so
// the inserted id can be read back; on the native dialect it falls back to
// the driver's LastInsertId.
func insertQuery(ctx context.Context, q queryer, dialect Dialect, query string, args ...interface{}) (InsertResult, error) {
	if err := validateSingleRowInsert(query); err != nil {
		return InsertResult{}, err
	}

	if dialect == Secondary {
		rewritten, err := Rewrite(dialect, query)
		if err != nil {
			return InsertResult{}, err
		}
		if !strings.Contains(strings.ToUpper(rewritten), "RETURNING") {
			rewritten = strings.TrimRight(rewritten, " \t\n;") + " RETURNING id"
		}
		rows, err := q.QueryxContext(ctx, rewritten, args...)
		if err != nil {
			return InsertResult{}, errors.Wrapf(err, "insert: %s", summarize(query))
		}
		defer rows.Close()
		if !rows.Next() {
			return InsertResult{}, errors.New("insert: RETURNING id produced no row")
		}
		var id interface{}
		if err := rows.Scan(&id); err != nil {
			return InsertResult{}, errors.Wrap(err, "insert: scanning returned id")
		}
		return InsertResult{LastInsertID: id, Changes: 1}, nil
	}

	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return InsertResult{}, errors.Wrapf(err, "insert: %s", summarize(query))
	}
	lastID, err := res.LastInsertId()
	if err != nil {
		return InsertResult{}, errors.Wrap(err, "insert: reading last insert id")
	}
	changes, err := res.RowsAffected()
	if err != nil {
		return InsertResult{}, errors.Wrap(err, "insert: reading rows affected")
	}
	return InsertResult{LastInsertID: lastID, Changes: changes}, nil
}

func validateSingleRowInsert(query string) error {
	upper := strings.ToUpper(strings.TrimSpace(query))
	if !strings.HasPrefix(upper, "INSERT") {
		return fmt.Errorf("insert: statement is not an INSERT: %s", summarize(query))
	}
	// A comma after the first top-level VALUES tuple means a multi-row list.
	if idx := strings.Index(upper, "VALUES"); idx >= 0 {
		rest, depth := upper[idx+len("VALUES"):], 0
		for i, r := range rest {
			if r == '(' {
				depth++
			} else if r == ')' {
				if depth--; depth == 0 {
					if strings.HasPrefix(strings.TrimSpace(rest[i+1:]), ",") {
						return fmt.Errorf("insert: multi-row VALUES is not supported by insert(); use exec() instead: %s", summarize(query))
					}
					break
				}
			}
		}
	}
	return nil
}

func summarize(query string) string {
	q := strings.Join(strings.Fields(query), " ")
	if len(q) > 120 {
		return q[:120] + "…"
	}
	return q
}
