package export

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

type (
	// Source models the origin of an export.
	Source interface {
		ListTables(ctx context.Context) ([]Table, error)
		// TableSchema returns the DDL for the table, which must be valid for the Dialect of the export.
		TableSchema(ctx context.Context, table Table) (string, error)
		// FetchPage returns up to limit rows, starting from offset. A limit of 0 means unlimited.
		FetchPage(ctx context.Context, table Table, limit, offset int64) (*Page, error)
	}

	// RowCounter may be implemented by a Source, to support reporting progress as a percentage.
	RowCounter interface {
		CountRows(ctx context.Context, table Table) (int64, error)
	}

	// TriggerSource may be implemented by a Source, to export the triggers of each table, after its data.
	TriggerSource interface {
		// TableTriggers returns the DDL of each trigger on the table, in creation order.
		TableTriggers(ctx context.Context, table Table) ([]string, error)
	}

	// Page is a batch of rows, each with values in the same order as Columns, where nil is NULL.
	Page struct {
		Columns []string
		Rows    [][][]byte
	}

	// DatabaseSource implements Source and RowCounter using a Reader. Pages are ordered by the primary key
	// of each table, if supported by the Reader, see Dialect.PrimaryKey.
	DatabaseSource struct {
		Reader Reader
		// Schema is optional, and is used to list (and qualify) tables, if set.
		Schema string

		mu   sync.Mutex
		keys map[Table][]string
	}
)

var (
	_ Source     = (*DatabaseSource)(nil)
	_ RowCounter    = (*DatabaseSource)(nil)
	_ TriggerSource = (*DatabaseSource)(nil)
)

func (x *DatabaseSource) ListTables(ctx context.Context) ([]Table, error) {
	snippet, err := x.Reader.ListTables(&ListTables{Schema: x.Schema})
	if err != nil {
		return nil, err
	}
	var tables []Table
	if err := x.query(ctx, snippet, func(rows Rows, columns int) error {
		var name string
		dest := make([]any, columns)
		dest[0] = &name
		for i := 1; i < columns; i++ {
			dest[i] = new(sql.RawBytes)
		}
		if err := rows.Scan(dest...); err != nil {
			return err
		}
		tables = append(tables, Table{Schema: x.Schema, Name: name})
		return nil
	}); err != nil {
		return nil, fmt.Errorf(`list tables error: %w`, err)
	}
	return tables, nil
}

func (x *DatabaseSource) TableSchema(ctx context.Context, table Table) (string, error) {
	snippet, err := x.Reader.ShowCreateTable(&ShowCreateTable{Table: table})
	if err != nil {
		return ``, err
	}
	var (
		ddl sql.NullString
		ok  bool
	)
	if err := x.query(ctx, snippet, func(rows Rows, columns int) error {
		if ok {
			return errors.New(`unexpected rows`)
		}
		dest := make([]any, columns)
		for i := 0; i < columns-1; i++ {
			dest[i] = new(sql.RawBytes)
		}
		dest[columns-1] = &ddl
		ok = true
		return rows.Scan(dest...)
	}); err != nil {
		return ``, fmt.Errorf(`table %s schema error: %w`, table, err)
	}
	if !ok || !ddl.Valid || ddl.String == `` {
		return ``, fmt.Errorf(`table %s schema error: not found`, table)
	}
	return ddl.String, nil
}

// TableTriggers returns nothing if the Reader doesn't support triggers.
func (x *DatabaseSource) TableTriggers(ctx context.Context, table Table) ([]string, error) {
	snippet, err := x.Reader.ShowTriggers(&ShowTriggers{Table: table})
	if errors.Is(err, ErrUnimplemented) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var triggers []string
	if err := x.query(ctx, snippet, func(rows Rows, columns int) error {
		var ddl sql.NullString
		dest := make([]any, columns)
		for i := 0; i < columns-1; i++ {
			dest[i] = new(sql.RawBytes)
		}
		dest[columns-1] = &ddl
		if err := rows.Scan(dest...); err != nil {
			return err
		}
		if ddl.Valid && ddl.String != `` {
			triggers = append(triggers, ddl.String)
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf(`table %s triggers error: %w`, table, err)
	}
	return triggers, nil
}

func (x *DatabaseSource) FetchPage(ctx context.Context, table Table, limit, offset int64) (*Page, error) {
	orderBy, err := x.primaryKey(ctx, table)
	if err != nil {
		return nil, err
	}

	snippet, err := x.Reader.SelectPage(&SelectPage{Table: table, OrderBy: orderBy, Limit: limit, Offset: offset})
	if err != nil {
		return nil, err
	}

	rows, err := x.Reader.QueryContext(ctx, snippet.SQL, snippet.Args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var page Page

	page.Columns, err = rows.Columns()
	if err != nil {
		return nil, err
	}

	values := make([]sql.Null[[]byte], len(page.Columns))
	dest := make([]any, len(values))
	for i := range values {
		dest[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		row := make([][]byte, len(values))
		for i, v := range values {
			if v.Valid {
				row[i] = v.V
				if row[i] == nil {
					row[i] = []byte{}
				}
			}
			values[i] = sql.Null[[]byte]{}
		}
		page.Rows = append(page.Rows, row)
	}

	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &page, nil
}

// primaryKey returns the (cached) key columns of table, or nil if the Reader doesn't support ordering
func (x *DatabaseSource) primaryKey(ctx context.Context, table Table) ([]string, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if columns, ok := x.keys[table]; ok {
		return columns, nil
	}

	snippet, err := x.Reader.PrimaryKey(&PrimaryKey{Table: table})
	if errors.Is(err, ErrUnimplemented) {
		snippet, err = nil, nil
	}
	if err != nil {
		return nil, err
	}

	var columns []string
	if snippet != nil {
		if err := x.query(ctx, snippet, func(rows Rows, n int) error {
			var name string
			dest := make([]any, n)
			dest[0] = &name
			for i := 1; i < n; i++ {
				dest[i] = new(sql.RawBytes)
			}
			if err := rows.Scan(dest...); err != nil {
				return err
			}
			columns = append(columns, name)
			return nil
		}); err != nil {
			return nil, fmt.Errorf(`table %s primary key error: %w`, table, err)
		}
	}

	if x.keys == nil {
		x.keys = make(map[Table][]string)
	}
	x.keys[table] = columns

	return columns, nil
}

func (x *DatabaseSource) CountRows(ctx context.Context, table Table) (int64, error) {
	snippet, err := x.Reader.CountRows(&CountRows{Table: table})
	if err != nil {
		return 0, err
	}
	var count int64
	if err := x.query(ctx, snippet, func(rows Rows, _ int) error {
		return rows.Scan(&count)
	}); err != nil {
		return 0, fmt.Errorf(`table %s count error: %w`, table, err)
	}
	return count, nil
}

func (x *DatabaseSource) query(ctx context.Context, snippet *Snippet, fn func(rows Rows, columns int) error) error {
	rows, err := x.Reader.QueryContext(ctx, snippet.SQL, snippet.Args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return err
	}
	if len(columns) == 0 {
		return errors.New(`no columns`)
	}

	for rows.Next() {
		if err := fn(rows, len(columns)); err != nil {
			return err
		}
	}

	if err := rows.Close(); err != nil {
		return err
	}
	return rows.Err()
}
