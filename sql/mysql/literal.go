// Package mysql encodes and decodes MySQL string literals, as they appear in dumps.
package mysql

import (
	"slices"
)

// backslashEscapes maps the bytes escaped with a backslash (when NO_BACKSLASH_ESCAPES is not set) to the byte
// that follows the backslash, as mysql_real_escape_string does. Zero values indicate no escaping.
var backslashEscapes = [256]byte{
	0:      '0',
	'\n':   'n',
	'\r':   'r',
	'\x1a': 'Z',
	'\'':   '\'',
	'"':    '"',
	'\\':   '\\',
}

// AppendQuoted appends v as a single-quoted string literal, escaped per the sql_mode NO_BACKSLASH_ESCAPES.
// With noBackslashEscapes, the only escaping is doubling single quotes.
func AppendQuoted(buf, v []byte, noBackslashEscapes bool) []byte {
	buf = slices.Grow(buf, len(v)+2)
	buf = append(buf, '\'')
	for _, c := range v {
		switch {
		case noBackslashEscapes:
			if c == '\'' {
				buf = append(buf, '\'')
			}
			buf = append(buf, c)
		case backslashEscapes[c] != 0:
			buf = append(buf, '\\', backslashEscapes[c])
		default:
			buf = append(buf, c)
		}
	}
	return append(buf, '\'')
}

// Unescape appends the value of a single-quoted string literal's content (excluding the enclosing quotes) to buf.
// A doubled quote is always a single quote. Unless noBackslashEscapes, backslash sequences are decoded as MySQL
// does, where "\%" and "\_" retain the backslash, and an unknown sequence like "\x" is just "x".
func Unescape(buf, v []byte, noBackslashEscapes bool) []byte {
	for i := 0; i < len(v); i++ {
		c := v[i]
		switch {
		case c == '\'' && i+1 < len(v) && v[i+1] == '\'':
			buf = append(buf, '\'')
			i++
		case c == '\\' && !noBackslashEscapes && i+1 < len(v):
			i++
			switch c = v[i]; c {
			case '0':
				buf = append(buf, 0)
			case 'b':
				buf = append(buf, '\b')
			case 'n':
				buf = append(buf, '\n')
			case 'r':
				buf = append(buf, '\r')
			case 't':
				buf = append(buf, '\t')
			case 'Z':
				buf = append(buf, '\x1a')
			case '%', '_':
				buf = append(buf, '\\', c)
			default:
				buf = append(buf, c)
			}
		default:
			buf = append(buf, c)
		}
	}
	return buf
}
