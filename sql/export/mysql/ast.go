package mysql

import (
	"strings"

	"github.com/joeycumines/go-sitemigrate/sql/export"
	"github.com/pingcap/tidb/parser/ast"
	"github.com/pingcap/tidb/parser/format"
	"github.com/pingcap/tidb/parser/model"
)

// rawExpr is restored verbatim, e.g. an already quoted literal. Only Restore may be called.
type rawExpr struct {
	ast.ExprNode
	sql string
}

func (x *rawExpr) Restore(ctx *format.RestoreCtx) error {
	ctx.WritePlain(x.sql)
	return nil
}

func raw(sql string) ast.ExprNode { return &rawExpr{sql: sql} }

// andExpr joins conditions with AND, parenthesizing each.
func andExpr(conditions ...string) ast.ExprNode {
	var b strings.Builder
	for i, condition := range conditions {
		if i != 0 {
			b.WriteString(` AND `)
		}
		b.WriteByte('(')
		b.WriteString(condition)
		b.WriteByte(')')
	}
	return raw(b.String())
}

func ciStr(name string) model.CIStr {
	return model.CIStr{O: name, L: strings.ToLower(name)}
}

func tableName(table export.Table) *ast.TableName {
	return &ast.TableName{Schema: ciStr(table.Schema), Name: ciStr(table.Name)}
}

func fromTable(table export.Table) *ast.TableRefsClause {
	return &ast.TableRefsClause{TableRefs: &ast.Join{Left: &ast.TableSource{Source: tableName(table)}}}
}

func columnExpr(name string) *ast.ColumnNameExpr {
	return &ast.ColumnNameExpr{Name: &ast.ColumnName{Name: ciStr(name)}}
}
