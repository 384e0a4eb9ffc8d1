package export

import (
	"context"
	"database/sql"
)

type (
	// Reader renders statements, and executes queries, for DatabaseSource.
	Reader interface {
		Dialect
		QueryContext(ctx context.Context, query string, args ...any) (Rows, error)
	}

	// Rows is the subset of *sql.Rows used to scan results.
	Rows interface {
		Close() error
		Columns() ([]string, error)
		Err() error
		Next() bool
		Scan(dest ...any) error
	}

	// Querier is implemented by *sql.DB, *sql.Conn, and *sql.Tx.
	Querier interface {
		QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	}

	// DBReader implements Reader by pairing a Dialect with a Querier, e.g. to read within a transaction.
	DBReader struct {
		Dialect
		DB Querier
	}
)

var (
	_ Reader  = (*DBReader)(nil)
	_ Querier = (*sql.DB)(nil)
	_ Querier = (*sql.Conn)(nil)
	_ Querier = (*sql.Tx)(nil)
)

func NewReader(dialect Dialect, db Querier) *DBReader {
	return &DBReader{Dialect: dialect, DB: db}
}

func (x *DBReader) QueryContext(ctx context.Context, query string, args ...any) (Rows, error) {
	rows, err := x.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
