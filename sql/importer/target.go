package importer

import (
	"context"
	"database/sql"
	"io"
)

type (
	// Target executes statements, e.g. *sql.DB via SQLTarget.
	Target interface {
		ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	}

	// Transactor may be implemented by a Target to support grouping statements into transactions.
	Transactor interface {
		Target
		BeginTx(ctx context.Context) (Tx, error)
	}

	Tx interface {
		Target
		Commit() error
		Rollback() error
	}

	sqlDatabase interface {
		ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
		BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
	}

	// SQLTarget implements Transactor for *sql.DB or *sql.Conn.
	SQLTarget[C sqlDatabase] struct {
		DB C
		// TxOptions are optional, and passed to BeginTx.
		TxOptions *sql.TxOptions
	}
)

var (
	_ Transactor = (*SQLTarget[*sql.DB])(nil)
	_ Transactor = (*SQLTarget[*sql.Conn])(nil)
	_ Tx         = (*sql.Tx)(nil)
)

// NewSQLTarget is a convenience for SQLTarget[*sql.DB].
func NewSQLTarget(db *sql.DB) *SQLTarget[*sql.DB] {
	return &SQLTarget[*sql.DB]{DB: db}
}

func (x *SQLTarget[C]) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return x.DB.ExecContext(ctx, query, args...)
}

func (x *SQLTarget[C]) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := x.DB.BeginTx(ctx, x.TxOptions)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (x *SQLTarget[C]) Close() error {
	if v, ok := any(x.DB).(io.Closer); ok {
		return v.Close()
	}
	return nil
}
