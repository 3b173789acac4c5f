package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const DBTxKey contextKey = "db_tx"

// Querier is the subset of pgx shared by pools, connections and transactions.
type Querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// Transactor runs fn inside a single unit of work. Nested calls run inside
// the outer one and commit only with it.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// TxFromContext retrieves the active transaction from context.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(DBTxKey).(pgx.Tx)
	return tx
}

// WithTx begins a transaction on the tenant connection stored in ctx and
// returns a derived context carrying it.
func WithTx(ctx context.Context) (context.Context, pgx.Tx, error) {
	conn := ConnFromContext(ctx)
	if conn == nil {
		return ctx, nil, fmt.Errorf("no database connection in context")
	}
	tx, err := conn.Begin(ctx)
	if err != nil {
		return ctx, nil, fmt.Errorf("begin transaction: %w", err)
	}
	return context.WithValue(ctx, DBTxKey, tx), tx, nil
}

// Conn picks the querier for ctx: transaction, then tenant connection, then pool.
func Conn(ctx context.Context, pool *pgxpool.Pool) Querier {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

// TxManager is the pgx-backed Transactor. A nested InTx runs inside a
// savepoint of the outer transaction, so a failed inner unit rolls back on
// its own and leaves the outer transaction usable.
type TxManager struct {
	pool *pgxpool.Pool
}

func NewTxManager(pool *pgxpool.Pool) *TxManager {
	return &TxManager{pool: pool}
}

func (m *TxManager) InTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	var tx pgx.Tx
	if outer := TxFromContext(ctx); outer != nil {
		tx, err = outer.Begin(ctx)
	} else if c := ConnFromContext(ctx); c != nil {
		tx, err = c.Begin(ctx)
	} else {
		tx, err = m.pool.Begin(ctx)
	}
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	txCtx, unit := Track(context.WithValue(ctx, DBTxKey, tx))
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			panic(p)
		}
	}()

	if err := fn(txCtx); err != nil {
		unit.Finish(ctx, err)
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		unit.Finish(ctx, err)
		return fmt.Errorf("commit transaction: %w", err)
	}
	unit.Finish(ctx, nil)
	return nil
}

type unitKey struct{}

// Unit collects the callbacks that must wait for the outermost commit of a
// unit of work. Transactors open one per InTx call.
type Unit struct {
	parent *Unit
	hooks  []func(context.Context)
}

// Track opens a unit of work nested in the one ctx already carries.
func Track(ctx context.Context) (context.Context, *Unit) {
	u := &Unit{parent: unitFrom(ctx)}
	return context.WithValue(ctx, unitKey{}, u), u
}

// Finish closes the unit. On failure its callbacks are dropped. On success
// they move to the enclosing unit, or run now when this unit is outermost.
// ctx is the context the unit was opened from.
func (u *Unit) Finish(ctx context.Context, err error) {
	hooks := u.hooks
	u.hooks = nil
	if err != nil {
		return
	}
	if u.parent != nil {
		u.parent.hooks = append(u.parent.hooks, hooks...)
		return
	}
	run := context.WithoutCancel(ctx)
	for _, h := range hooks {
		h(run)
	}
}

func unitFrom(ctx context.Context) *Unit {
	u, _ := ctx.Value(unitKey{}).(*Unit)
	return u
}

// InUnitOfWork reports whether ctx runs inside an uncommitted unit of work.
func InUnitOfWork(ctx context.Context) bool {
	return unitFrom(ctx) != nil
}

// AfterCommit runs fn once the outermost unit of work in ctx commits, and
// never if it rolls back. Outside a unit of work fn runs immediately.
func AfterCommit(ctx context.Context, fn func(ctx context.Context)) {
	if u := unitFrom(ctx); u != nil {
		u.hooks = append(u.hooks, fn)
		return
	}
	fn(ctx)
}

// IsUniqueViolation reports whether err is a postgres unique_violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// IsForeignKeyViolation reports whether err is a postgres foreign_key_violation.
func IsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

// IsNoRows reports whether err signals an empty result.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
