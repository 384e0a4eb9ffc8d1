// Package mysql implements export.Dialect for MySQL and MariaDB, generating statements using the tidb parser AST.
package mysql

import (
	"errors"
	"strconv"
	"strings"

	"github.com/joeycumines/go-sitemigrate/sql/export"
	sqlmysql "github.com/joeycumines/go-sitemigrate/sql/mysql"
	"github.com/pingcap/tidb/parser/ast"
	"github.com/pingcap/tidb/parser/format"
)

const (
	DefaultCharset   = `utf8mb4`
	DefaultCollation = `utf8mb4_unicode_ci`
)

type (
	Dialect struct {
		Charset   string
		Collation string

		// NoBackslashEscapes indicates the target sql_mode includes NO_BACKSLASH_ESCAPES, in which case string
		// literals are escaped by doubling quotes only, and the header sets the mode accordingly.
		NoBackslashEscapes bool

		//lint:ignore U1000 embedded for it's methods
		unimplementedDialect
	}

	//lint:ignore U1000 used to embed without exporting
	unimplementedDialect = export.UnimplementedDialect
)

var (
	_ export.Dialect = (*Dialect)(nil)
)

func (x *Dialect) charset() string {
	if x == nil || x.Charset == `` {
		return DefaultCharset
	}
	return x.Charset
}

func (x *Dialect) collation() string {
	if x == nil || x.Collation == `` {
		return DefaultCollation
	}
	return x.Collation
}

func (x *Dialect) noBackslashEscapes() bool { return x != nil && x.NoBackslashEscapes }

// BackslashEscapes indicates if string literals in dumps rendered by this dialect may use backslash escapes.
func (x *Dialect) BackslashEscapes() bool { return !x.noBackslashEscapes() }

// snippet restores node using the default flags, i.e. uppercase keywords and backtick quoted names.
func (x *Dialect) snippet(node ast.Node) (*export.Snippet, error) {
	var b strings.Builder
	if err := node.Restore(format.NewRestoreCtx(format.DefaultRestoreFlags, &b)); err != nil {
		return nil, err
	}
	return &export.Snippet{SQL: b.String()}, nil
}

func (x *Dialect) quoteName(name string) string {
	var b strings.Builder
	format.NewRestoreCtx(format.DefaultRestoreFlags, &b).WriteName(name)
	return b.String()
}

func (x *Dialect) quote(value []byte) string {
	return string(sqlmysql.AppendQuoted(nil, value, x.noBackslashEscapes()))
}

func (x *Dialect) literal(value []byte) ast.ExprNode {
	if value == nil {
		return raw(`NULL`)
	}
	return raw(x.quote(value))
}

func (x *Dialect) ListTables(args *export.ListTables) (*export.Snippet, error) {
	if args == nil {
		return nil, nil
	}
	schema := `DATABASE()`
	if args.Schema != `` {
		schema = x.quote([]byte(args.Schema))
	}
	name := columnExpr(`TABLE_NAME`)
	return x.snippet(&ast.SelectStmt{
		SelectStmtOpts: &ast.SelectStmtOpts{SQLCache: true},
		From:           fromTable(export.Table{Schema: `information_schema`, Name: `TABLES`}),
		Fields:         &ast.FieldList{Fields: []*ast.SelectField{{Expr: name}}},
		Where: andExpr(
			x.quoteName(`TABLE_SCHEMA`)+` = `+schema,
			x.quoteName(`TABLE_TYPE`)+` = 'BASE TABLE'`,
		),
		OrderBy: &ast.OrderByClause{Items: []*ast.ByItem{{Expr: name, NullOrder: true}}},
	})
}

func (x *Dialect) ShowCreateTable(args *export.ShowCreateTable) (*export.Snippet, error) {
	if args == nil {
		return nil, nil
	}
	return x.snippet(&ast.ShowStmt{Tp: ast.ShowCreateTable, Table: tableName(args.Table)})
}

// PrimaryKey lists the columns of the PRIMARY key. Tables without one are paged unordered.
func (x *Dialect) PrimaryKey(args *export.PrimaryKey) (*export.Snippet, error) {
	if args == nil {
		return nil, nil
	}
	schema := `DATABASE()`
	if args.Table.Schema != `` {
		schema = x.quote([]byte(args.Table.Schema))
	}
	return x.snippet(&ast.SelectStmt{
		SelectStmtOpts: &ast.SelectStmtOpts{SQLCache: true},
		From:           fromTable(export.Table{Schema: `information_schema`, Name: `KEY_COLUMN_USAGE`}),
		Fields:         &ast.FieldList{Fields: []*ast.SelectField{{Expr: columnExpr(`COLUMN_NAME`)}}},
		Where: andExpr(
			x.quoteName(`TABLE_SCHEMA`)+` = `+schema,
			x.quoteName(`TABLE_NAME`)+` = `+x.quote([]byte(args.Table.Name)),
			x.quoteName(`CONSTRAINT_NAME`)+` = 'PRIMARY'`,
		),
		OrderBy: &ast.OrderByClause{Items: []*ast.ByItem{{Expr: columnExpr(`ORDINAL_POSITION`), NullOrder: true}}},
	})
}

func (x *Dialect) SelectPage(args *export.SelectPage) (*export.Snippet, error) {
	if args == nil {
		return nil, nil
	}
	stmt := ast.SelectStmt{
		SelectStmtOpts: &ast.SelectStmtOpts{SQLCache: true},
		From:           fromTable(args.Table),
		Fields:         &ast.FieldList{Fields: []*ast.SelectField{{WildCard: &ast.WildCardField{}}}},
	}
	if len(args.OrderBy) != 0 {
		stmt.OrderBy = &ast.OrderByClause{Items: make([]*ast.ByItem, len(args.OrderBy))}
		for i, column := range args.OrderBy {
			stmt.OrderBy.Items[i] = &ast.ByItem{Expr: columnExpr(column), NullOrder: true}
		}
	}
	if args.Limit > 0 {
		stmt.Limit = &ast.Limit{Count: raw(strconv.FormatInt(args.Limit, 10))}
		if args.Offset > 0 {
			stmt.Limit.Offset = raw(strconv.FormatInt(args.Offset, 10))
		}
	}
	return x.snippet(&stmt)
}

func (x *Dialect) CountRows(args *export.CountRows) (*export.Snippet, error) {
	if args == nil {
		return nil, nil
	}
	return x.snippet(&ast.SelectStmt{
		SelectStmtOpts: &ast.SelectStmtOpts{SQLCache: true},
		From:           fromTable(args.Table),
		Fields:         &ast.FieldList{Fields: []*ast.SelectField{{Expr: raw(`COUNT(*)`)}}},
	})
}

func (x *Dialect) DropTable(args *export.DropTable) (*export.Snippet, error) {
	if args == nil {
		return nil, nil
	}
	return x.snippet(&ast.DropTableStmt{IfExists: true, Tables: []*ast.TableName{tableName(args.Table)}})
}

func (x *Dialect) InsertRows(args *export.InsertRows) (*export.Snippet, error) {
	if args == nil {
		return nil, nil
	}
	if len(args.Rows) == 0 {
		return nil, errors.New(`insert rows error: no rows`)
	}
	stmt := ast.InsertStmt{
		Table:   fromTable(args.Table),
		Columns: make([]*ast.ColumnName, len(args.Columns)),
		Lists:   make([][]ast.ExprNode, len(args.Rows)),
	}
	for i, column := range args.Columns {
		stmt.Columns[i] = &ast.ColumnName{Name: ciStr(column)}
	}
	for i, row := range args.Rows {
		stmt.Lists[i] = make([]ast.ExprNode, len(row))
		for j, value := range row {
			stmt.Lists[i][j] = x.literal(value)
		}
	}
	return x.snippet(&stmt)
}

func (x *Dialect) Header(args *export.Header) (*export.Snippet, error) {
	if args == nil {
		return nil, nil
	}
	sqlMode := `NO_AUTO_VALUE_ON_ZERO`
	if x.noBackslashEscapes() {
		sqlMode += `,NO_BACKSLASH_ESCAPES`
	}
	return &export.Snippet{SQL: `SET NAMES ` + x.charset() + ` COLLATE ` + x.collation() + ";\n" +
		`SET SQL_MODE = '` + sqlMode + "';\n" +
		"SET time_zone = '+00:00';\n" +
		"SET FOREIGN_KEY_CHECKS = 0;\n"}, nil
}

func (x *Dialect) Footer(args *export.Footer) (*export.Snippet, error) {
	if args == nil {
		return nil, nil
	}
	return &export.Snippet{SQL: "SET FOREIGN_KEY_CHECKS = 1;\n"}, nil
}
