package export

import (
	"errors"
	"fmt"
)

type (
	// Snippet models a SQL snippet + associated args.
	Snippet struct {
		SQL  string
		Args []any
	}

	// Dialect models an SQL dialect.
	// Note that all methods should return (nil, nil) or (nil, ErrUnimplemented) if args is nil.
	// See also UnimplementedDialect.
	//
	// Methods that model a single statement return it without any terminating semicolon, while Header and Footer
	// return a script of zero or more statements, each terminated by a semicolon and newline.
	Dialect interface {
		// ListTables must return a query with the table name as the first column.
		ListTables(args *ListTables) (*Snippet, error)
		// ShowCreateTable must return a query that returns a single row, with the DDL as the last column.
		ShowCreateTable(args *ShowCreateTable) (*Snippet, error)
		// ShowTriggers must return a query with the DDL of each trigger on the table as the last column, in
		// creation order. It may return ErrUnimplemented, if triggers are not exported.
		ShowTriggers(args *ShowTriggers) (*Snippet, error)
		// PrimaryKey must return a query with the name of each column that uniquely orders the rows of the
		// table as the first column, in key order. It may return ErrUnimplemented, if pages are unordered.
		PrimaryKey(args *PrimaryKey) (*Snippet, error)
		// SelectPage must return a query selecting every column, limited to a page of rows.
		SelectPage(args *SelectPage) (*Snippet, error)
		// CountRows must return a query that returns a single row, with a single column, the row count.
		CountRows(args *CountRows) (*Snippet, error)
		// DropTable must return a statement that drops the table, if it exists.
		DropTable(args *DropTable) (*Snippet, error)
		// InsertRows must return a statement with every value interpolated as a literal, i.e. no args.
		InsertRows(args *InsertRows) (*Snippet, error)
		Header(args *Header) (*Snippet, error)
		Footer(args *Footer) (*Snippet, error)

		mustEmbedUnimplementedDialect()
	}

	UnimplementedDialect struct{}

	ListTables struct {
		// Schema may be used to list tables of a different schema (database) than the current one.
		Schema string
	}

	ShowCreateTable struct {
		Table Table
	}

	ShowTriggers struct {
		Table Table
	}

	PrimaryKey struct {
		Table Table
	}

	SelectPage struct {
		Table Table
		// OrderBy lists the columns to sort by, ascending, and should be unique, for stable paging.
		OrderBy []string
		// Limit is the maximum number of rows, where 0 means unlimited.
		Limit  int64
		Offset int64
	}

	CountRows struct {
		Table Table
	}

	DropTable struct {
		Table Table
	}

	InsertRows struct {
		Table   Table
		Columns []string
		// Rows contains raw values, in the same order as Columns, where nil is NULL.
		Rows [][][]byte
	}

	Header struct {
		Tables []Table
	}

	Footer struct {
		Tables []Table
	}
)

var (
	ErrUnimplemented = errors.New(`go-sitemigrate/export: unimplemented`)

	_ Dialect = UnimplementedDialect{}
)

// BackslashEscapes reports whether the string literals of the dialect may use backslash escapes (like MySQL by
// default), unless it implements a BackslashEscapes method that says otherwise. The mode is recorded in the header
// of each dump, see dump.ModeComment.
func BackslashEscapes(dialect Dialect) bool {
	if v, ok := dialect.(interface{ BackslashEscapes() bool }); ok {
		return v.BackslashEscapes()
	}
	return true
}

func (UnimplementedDialect) ListTables(*ListTables) (*Snippet, error) {
	return nil, fmt.Errorf(`list tables error: %w`, ErrUnimplemented)
}

func (UnimplementedDialect) ShowCreateTable(*ShowCreateTable) (*Snippet, error) {
	return nil, fmt.Errorf(`show create table error: %w`, ErrUnimplemented)
}

func (UnimplementedDialect) ShowTriggers(*ShowTriggers) (*Snippet, error) {
	return nil, fmt.Errorf(`show triggers error: %w`, ErrUnimplemented)
}

func (UnimplementedDialect) PrimaryKey(*PrimaryKey) (*Snippet, error) {
	return nil, fmt.Errorf(`primary key error: %w`, ErrUnimplemented)
}

func (UnimplementedDialect) SelectPage(*SelectPage) (*Snippet, error) {
	return nil, fmt.Errorf(`select page error: %w`, ErrUnimplemented)
}

func (UnimplementedDialect) CountRows(*CountRows) (*Snippet, error) {
	return nil, fmt.Errorf(`count rows error: %w`, ErrUnimplemented)
}

func (UnimplementedDialect) DropTable(*DropTable) (*Snippet, error) {
	return nil, fmt.Errorf(`drop table error: %w`, ErrUnimplemented)
}

func (UnimplementedDialect) InsertRows(*InsertRows) (*Snippet, error) {
	return nil, fmt.Errorf(`insert rows error: %w`, ErrUnimplemented)
}

func (UnimplementedDialect) Header(*Header) (*Snippet, error) {
	return nil, fmt.Errorf(`header error: %w`, ErrUnimplemented)
}

func (UnimplementedDialect) Footer(*Footer) (*Snippet, error) {
	return nil, fmt.Errorf(`footer error: %w`, ErrUnimplemented)
}

func (UnimplementedDialect) mustEmbedUnimplementedDialect() {}
