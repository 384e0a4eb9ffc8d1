// Package sqlite implements export.Dialect for SQLite, e.g. for local snapshots, or as an embedded target.
package sqlite

import (
	"bytes"
	"encoding/hex"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/joeycumines/go-sitemigrate/sql/export"
)

type (
	// Dialect renders SQLite statements. String literals only ever use doubled quotes, since SQLite has no
	// backslash escapes, and values that aren't valid UTF-8 text (or contain NUL bytes) are rendered as blob
	// literals.
	Dialect struct {
		//lint:ignore U1000 embedded for it's methods
		unimplementedDialect
	}

	//lint:ignore U1000 used to embed without exporting
	unimplementedDialect = export.UnimplementedDialect
)

var (
	_ export.Dialect = (*Dialect)(nil)
)

// QuoteIdentifier formats name as a double-quoted identifier.
func QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// AppendLiteral appends value as a literal, where nil is NULL.
func AppendLiteral(buf, value []byte) []byte {
	if value == nil {
		return append(buf, `NULL`...)
	}
	if !utf8.Valid(value) || bytes.IndexByte(value, 0) != -1 {
		buf = append(buf, `X'`...)
		buf = hex.AppendEncode(buf, value)
		return append(buf, '\'')
	}
	buf = append(buf, '\'')
	for {
		i := bytes.IndexByte(value, '\'')
		if i == -1 {
			break
		}
		buf = append(buf, value[:i+1]...)
		buf = append(buf, '\'')
		value = value[i+1:]
	}
	buf = append(buf, value...)
	return append(buf, '\'')
}

// BackslashEscapes always returns false, see dump.WithBackslashEscapes.
func (x *Dialect) BackslashEscapes() bool { return false }

func tableName(table export.Table) string {
	if table.Schema == `` {
		return QuoteIdentifier(table.Name)
	}
	return QuoteIdentifier(table.Schema) + `.` + QuoteIdentifier(table.Name)
}

func masterTable(schema string) string {
	if schema == `` {
		return `sqlite_master`
	}
	return QuoteIdentifier(schema) + `.sqlite_master`
}

func (x *Dialect) ListTables(args *export.ListTables) (*export.Snippet, error) {
	if args == nil {
		return nil, nil
	}
	return &export.Snippet{
		SQL: `SELECT name FROM ` + masterTable(args.Schema) + ` WHERE type = 'table' AND name NOT LIKE 'sqlite\_%' ESCAPE '\' ORDER BY name`,
	}, nil
}

// ShowCreateTable returns the DDL of the table, followed by that of its indexes, as a single script.
func (x *Dialect) ShowCreateTable(args *export.ShowCreateTable) (*export.Snippet, error) {
	if args == nil {
		return nil, nil
	}
	return &export.Snippet{
		SQL: `SELECT group_concat(sql, ';' || char(10)) FROM (SELECT sql FROM ` + masterTable(args.Table.Schema) +
			` WHERE tbl_name = ? AND type IN ('table', 'index') AND sql IS NOT NULL ORDER BY type <> 'table', rowid)`,
		Args: []any{args.Table.Name},
	}, nil
}

func (x *Dialect) ShowTriggers(args *export.ShowTriggers) (*export.Snippet, error) {
	if args == nil {
		return nil, nil
	}
	return &export.Snippet{
		SQL:  `SELECT sql FROM ` + masterTable(args.Table.Schema) + ` WHERE tbl_name = ? AND type = 'trigger' AND sql IS NOT NULL ORDER BY rowid`,
		Args: []any{args.Table.Name},
	}, nil
}

// PrimaryKey returns the declared primary key, or the rowid, if there isn't one.
func (x *Dialect) PrimaryKey(args *export.PrimaryKey) (*export.Snippet, error) {
	if args == nil {
		return nil, nil
	}
	info := `pragma_table_info(?)`
	params := []any{args.Table.Name}
	if args.Table.Schema != `` {
		info = `pragma_table_info(?, ?)`
		params = append(params, args.Table.Schema)
	}
	return &export.Snippet{
		SQL: `SELECT name, pk FROM ` + info + ` WHERE pk > 0 UNION ALL SELECT 'rowid', 0 WHERE NOT EXISTS (SELECT 1 FROM ` +
			info + ` WHERE pk > 0) ORDER BY 2`,
		Args: append(params, params...),
	}, nil
}

func (x *Dialect) SelectPage(args *export.SelectPage) (*export.Snippet, error) {
	if args == nil {
		return nil, nil
	}
	snippet := export.Snippet{SQL: `SELECT * FROM ` + tableName(args.Table)}
	for i, column := range args.OrderBy {
		if i == 0 {
			snippet.SQL += ` ORDER BY `
		} else {
			snippet.SQL += `, `
		}
		snippet.SQL += QuoteIdentifier(column)
	}
	if args.Limit > 0 {
		snippet.SQL += ` LIMIT ? OFFSET ?`
		snippet.Args = []any{args.Limit, args.Offset}
	}
	return &snippet, nil
}

func (x *Dialect) CountRows(args *export.CountRows) (*export.Snippet, error) {
	if args == nil {
		return nil, nil
	}
	return &export.Snippet{SQL: `SELECT COUNT(*) FROM ` + tableName(args.Table)}, nil
}

func (x *Dialect) DropTable(args *export.DropTable) (*export.Snippet, error) {
	if args == nil {
		return nil, nil
	}
	return &export.Snippet{SQL: `DROP TABLE IF EXISTS ` + tableName(args.Table)}, nil
}

func (x *Dialect) InsertRows(args *export.InsertRows) (*export.Snippet, error) {
	if args == nil {
		return nil, nil
	}
	if len(args.Rows) == 0 {
		return nil, errors.New(`insert rows error: no rows`)
	}
	var b []byte
	b = append(b, `INSERT INTO `...)
	b = append(b, tableName(args.Table)...)
	b = append(b, ` (`...)
	for i, column := range args.Columns {
		if i != 0 {
			b = append(b, ',')
		}
		b = append(b, QuoteIdentifier(column)...)
	}
	b = append(b, `) VALUES `...)
	for i, row := range args.Rows {
		if i != 0 {
			b = append(b, ',')
		}
		b = append(b, '(')
		for j, value := range row {
			if j != 0 {
				b = append(b, ',')
			}
			b = AppendLiteral(b, value)
		}
		b = append(b, ')')
	}
	return &export.Snippet{SQL: string(b)}, nil
}

func (x *Dialect) Header(args *export.Header) (*export.Snippet, error) {
	if args == nil {
		return nil, nil
	}
	return &export.Snippet{SQL: "PRAGMA foreign_keys = OFF;\n"}, nil
}

func (x *Dialect) Footer(args *export.Footer) (*export.Snippet, error) {
	if args == nil {
		return nil, nil
	}
	return &export.Snippet{SQL: "PRAGMA foreign_keys = ON;\n"}, nil
}
