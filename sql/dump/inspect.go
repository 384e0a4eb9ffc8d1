package dump

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

const modeCommentPrefix = `-- Backslash escapes: `

// ModeComment returns the header line recording the escaping style of the dump's string literals, which
// DetectBackslashEscapes recognises.
func ModeComment(backslashEscapes bool) string {
	if backslashEscapes {
		return modeCommentPrefix + "on\n"
	}
	return modeCommentPrefix + "off\n"
}

// DetectBackslashEscapes reads the leading comment block of a dump, looking for a line written by ModeComment.
// The ok result is false if the dump does not record its escaping style.
func DetectBackslashEscapes(r io.Reader) (enabled, ok bool, err error) {
	s := bufio.NewScanner(r)
	s.Buffer(nil, 64*1024)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == `` {
			continue
		}
		if !strings.HasPrefix(line, `--`) {
			break
		}
		if mode, found := strings.CutPrefix(line, strings.TrimSpace(modeCommentPrefix)); found {
			switch strings.ToLower(strings.TrimSpace(mode)) {
			case `on`:
				return true, true, nil
			case `off`:
				return false, true, nil
			}
		}
	}
	if err := s.Err(); err != nil && err != bufio.ErrTooLong {
		return false, false, err
	}
	return false, false, nil
}

// Session reports whether stmt changes connection state rather than data, i.e. a SET or PRAGMA statement,
// including one wrapped in a conditional comment like "/*!40101 SET ... */". Such statements must be run
// outside of a transaction, e.g. "PRAGMA foreign_keys" is a no-op within one.
func Session(stmt []byte) bool {
	l := lexer{b: stmt}
	l.conditional()
	switch strings.ToUpper(l.word()) {
	case `SET`, `PRAGMA`:
		return true
	default:
		return false
	}
}

// trigger reports whether stmt is (the start of) a CREATE TRIGGER statement, the body of which may contain
// semicolons
func trigger(stmt []byte) bool {
	l := lexer{b: stmt}
	if !strings.EqualFold(l.word(), `CREATE`) {
		return false
	}
	word := l.word()
	if strings.EqualFold(word, `TEMP`) || strings.EqualFold(word, `TEMPORARY`) {
		word = l.word()
	}
	return strings.EqualFold(word, `TRIGGER`)
}

// endsWithEnd reports whether the last word of stmt is END
func endsWithEnd(stmt []byte) bool {
	stmt = bytes.TrimRight(stmt, " \t\r\n")
	if len(stmt) < 3 || !strings.EqualFold(string(stmt[len(stmt)-3:]), `END`) {
		return false
	}
	return len(stmt) == 3 || !isIdentByte(stmt[len(stmt)-4])
}

// conditional skips the opening of a MySQL conditional comment, e.g. "/*!40101"
func (x *lexer) conditional() {
	x.space()
	if !bytes.HasPrefix(x.b[x.i:], []byte(`/*!`)) {
		return
	}
	x.i += 3
	for x.i < len(x.b) && x.b[x.i] >= '0' && x.b[x.i] <= '9' {
		x.i++
	}
}
