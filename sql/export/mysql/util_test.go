package mysql

import (
	"fmt"
	"regexp"
	"testing"

	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/hexops/gotextdiff/span"
)

// sqlClauseBreak matches the points where expectSQL breaks statements into lines, to make diffs readable.
var sqlClauseBreak = regexp.MustCompile(`,|\s(FROM|WHERE|VALUES|ORDER BY|LIMIT)\s`)

func splitSQLClauses(s string) string {
	return sqlClauseBreak.ReplaceAllStringFunc(s, func(m string) string {
		if m == `,` {
			return ",\n"
		}
		return "\n" + m[1:]
	})
}

func expectTextFormattedSQL(t *testing.T, actual, expected string) {
	if actual == expected {
		return
	}
	t.Helper()
	a, b := splitSQLClauses(expected), splitSQLClauses(actual)
	t.Errorf("unexpected value: %q\n%s", actual, fmt.Sprint(gotextdiff.ToUnified(
		`expected`,
		`actual`,
		a,
		myers.ComputeEdits(span.URIFromPath(`expected`), a, b),
	)))
}
