package dump

import (
	"bytes"
	"strings"

	"github.com/joeycumines/go-sitemigrate/sql/mysql"
)

// RewriteLiterals calls fn with the (unescaped) value of each single-quoted string literal in stmt, replacing
// the literal with the (escaped) result, if it differs. Hexadecimal and bit literals (X'..', B'..') are not
// rewritten, nor are double-quoted strings, which are identifiers in some dialects. The escaping style matches
// backslashEscapes, see also WithBackslashEscapes. The stmt is returned as-is if nothing changed.
func RewriteLiterals(stmt []byte, backslashEscapes bool, fn func(value []byte) []byte) []byte {
	var (
		out  []byte
		last int
	)
	for i := 0; i < len(stmt); i++ {
		switch c := stmt[i]; c {
		case '"', '`':
			i = closingQuote(stmt, i, c, backslashEscapes && c != '`')
		case '\'':
			end := closingQuote(stmt, i, c, backslashEscapes)
			if end >= len(stmt) {
				// unterminated
				i = end
				break
			}
			if !binaryLiteral(stmt, i) {
				value := mysql.Unescape(nil, stmt[i+1:end], !backslashEscapes)
				if replaced := fn(value); !bytes.Equal(replaced, value) {
					out = append(out, stmt[last:i]...)
					out = mysql.AppendQuoted(out, replaced, !backslashEscapes)
					last = end + 1
				}
			}
			i = end
		}
	}
	if out == nil {
		return stmt
	}
	return append(out, stmt[last:]...)
}

// InsertTable returns the (unquoted) target table of an INSERT or REPLACE statement, qualified like
// "schema.name" if the statement is.
func InsertTable(stmt []byte) (string, bool) {
	l := lexer{b: stmt}
	if word := l.word(); !strings.EqualFold(word, `INSERT`) && !strings.EqualFold(word, `REPLACE`) {
		return ``, false
	}

modifiers:
	for {
		mark := l.i
		switch word := strings.ToUpper(l.word()); word {
		case `LOW_PRIORITY`, `DELAYED`, `HIGH_PRIORITY`, `IGNORE`:
		case `OR`:
			// sqlite conflict clause, e.g. INSERT OR REPLACE INTO
			if l.word() == `` {
				return ``, false
			}
		case `INTO`:
			break modifiers
		default:
			l.i = mark
			break modifiers
		}
	}

	name, ok := l.identifier()
	if !ok {
		return ``, false
	}
	if l.space(); l.i < len(l.b) && l.b[l.i] == '.' {
		l.i++
		table, ok := l.identifier()
		if !ok {
			return ``, false
		}
		name += `.` + table
	}
	return name, true
}

// closingQuote returns the index of the quote closing the string opened at i, or len(b) if unterminated
func closingQuote(b []byte, i int, quote byte, backslashEscapes bool) int {
	for j := i + 1; j < len(b); j++ {
		switch b[j] {
		case '\\':
			if backslashEscapes {
				j++
			}
		case quote:
			if j+1 < len(b) && b[j+1] == quote {
				j++
				continue
			}
			return j
		}
	}
	return len(b)
}

func binaryLiteral(b []byte, i int) bool {
	if i == 0 {
		return false
	}
	switch b[i-1] {
	case 'x', 'X', 'b', 'B':
		return i == 1 || !isIdentByte(b[i-2])
	default:
		return false
	}
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '$' || c >= 0x80 ||
		(c >= '0' && c <= '9') ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z')
}

type lexer struct {
	b []byte
	i int
}

func (x *lexer) space() {
	for x.i < len(x.b) && isSpace(x.b[x.i]) {
		x.i++
	}
}

func (x *lexer) word() string {
	x.space()
	start := x.i
	for x.i < len(x.b) && isIdentByte(x.b[x.i]) {
		x.i++
	}
	return string(x.b[start:x.i])
}

func (x *lexer) identifier() (string, bool) {
	x.space()
	if x.i >= len(x.b) {
		return ``, false
	}
	switch quote := x.b[x.i]; quote {
	case '`', '"':
		end := closingQuote(x.b, x.i, quote, false)
		if end >= len(x.b) {
			return ``, false
		}
		name := strings.ReplaceAll(string(x.b[x.i+1:end]), string([]byte{quote, quote}), string(quote))
		x.i = end + 1
		return name, name != ``
	default:
		name := x.word()
		return name, name != ``
	}
}
