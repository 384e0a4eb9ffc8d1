// Package dump splits SQL dumps into executable statements, and provides helpers to inspect or rewrite them.
package dump

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
)

const (
	stateCode scanState = iota
	stateSingleQuote
	stateDoubleQuote
	stateBacktick
	stateLineComment
	stateBlockComment
	stateCodeComment
)

type (
	// Statement is a single statement, without the terminating semicolon, or any (non-conditional) comments.
	Statement struct {
		// Text is only valid until the next call to Scanner.Scan, unless obtained via Statements or File.
		Text []byte
		// Index is the 0-based position of the statement in the dump.
		Index int
		// Offset is the byte offset of the first byte of the statement in the dump.
		Offset int64
	}

	SplitOption func(c *splitConfig)

	// SyntaxError indicates the dump ended with an unterminated quoted string or comment.
	SyntaxError struct {
		Msg    string
		Offset int64
	}

	// Scanner splits a stream of SQL into statements, tracking quoting and comments such that semicolons are
	// only treated as terminators outside of them. Conditional comments (like "/*!40101 SET ... */") are retained
	// as code. Within a CREATE TRIGGER statement, only a semicolon following the END keyword terminates it.
	Scanner struct {
		r       *bufio.Reader
		err     error
		buf     []byte
		stmt    Statement
		config  splitConfig
		pos     int64
		start   int64
		opened  int64
		index   int
		state   scanState
		escaped bool
		done    bool
	}

	splitConfig struct {
		backslashEscapes bool
	}

	scanState int
)

var (
	ErrSyntax = errors.New(`go-sitemigrate/dump: syntax error`)
)

// WithBackslashEscapes configures whether a backslash escapes the next character within quoted strings, which is
// the default (MySQL) behavior. SQLite dumps must disable this.
func WithBackslashEscapes(enabled bool) SplitOption {
	return func(c *splitConfig) { c.backslashEscapes = enabled }
}

func (x *SyntaxError) Error() string {
	return fmt.Sprintf(`sql syntax error at offset %d: %s`, x.Offset, x.Msg)
}

func (x *SyntaxError) Unwrap() error { return ErrSyntax }

func newSplitConfig(opts []SplitOption) splitConfig {
	c := splitConfig{backslashEscapes: true}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// NewScanner initialises a Scanner reading from r.
func NewScanner(r io.Reader, opts ...SplitOption) *Scanner {
	return &Scanner{
		r:      bufio.NewReaderSize(r, 64*1024),
		config: newSplitConfig(opts),
	}
}

// Statements iterates over the statements of b. Each iteration starts from the beginning of b. Iteration stops
// after the first error.
func Statements(b []byte, opts ...SplitOption) iter.Seq2[Statement, error] {
	return func(yield func(Statement, error) bool) {
		scan(NewScanner(bytes.NewReader(b), opts...), yield)
	}
}

// File iterates over the statements of the named file, which is (re)opened for each iteration.
func File(name string, opts ...SplitOption) iter.Seq2[Statement, error] {
	return func(yield func(Statement, error) bool) {
		f, err := os.Open(name)
		if err != nil {
			yield(Statement{}, err)
			return
		}
		defer f.Close()
		scan(NewScanner(f, opts...), yield)
	}
}

func scan(s *Scanner, yield func(Statement, error) bool) {
	for s.Scan() {
		stmt := s.Statement()
		stmt.Text = bytes.Clone(stmt.Text)
		if !yield(stmt, nil) {
			return
		}
	}
	if err := s.Err(); err != nil {
		yield(Statement{}, err)
	}
}

// Offset returns the number of bytes consumed so far.
func (x *Scanner) Offset() int64 { return x.pos }

// Statement returns the statement read by the last successful Scan.
func (x *Scanner) Statement() Statement { return x.stmt }

// Err returns the first error encountered, other than io.EOF.
func (x *Scanner) Err() error { return x.err }

// Scan advances to the next statement, returning false at the end of input, or on error.
func (x *Scanner) Scan() bool {
	if x.done {
		return false
	}
	x.buf = x.buf[:0]
	for {
		c, err := x.r.ReadByte()
		if err != nil {
			x.done = true
			if err != io.EOF {
				x.err = err
				return false
			}
			return x.finish()
		}
		x.pos++

		switch x.state {
		case stateCode:
			if x.code(c) {
				return true
			}

		case stateSingleQuote, stateDoubleQuote, stateBacktick:
			x.buf = append(x.buf, c)
			switch {
			case x.escaped:
				x.escaped = false
			case c == '\\' && x.config.backslashEscapes && x.state != stateBacktick:
				x.escaped = true
			case c == x.state.quote():
				x.state = stateCode
			}

		case stateLineComment:
			if c == '\n' {
				x.state = stateCode
				if len(x.buf) != 0 {
					x.buf = append(x.buf, c)
				}
			}

		case stateBlockComment, stateCodeComment:
			if x.state == stateCodeComment {
				x.buf = append(x.buf, c)
			}
			if c == '*' && x.peek(0) == '/' {
				_, _ = x.r.ReadByte()
				x.pos++
				if x.state == stateCodeComment {
					x.buf = append(x.buf, '/')
				} else if len(x.buf) != 0 {
					x.buf = append(x.buf, ' ')
				}
				x.state = stateCode
			}
		}
	}
}

// code handles c in stateCode, returning true if a statement was completed.
func (x *Scanner) code(c byte) bool {
	switch c {
	case ';':
		// within a trigger body, only a semicolon following END terminates the statement
		if trigger(x.buf) && !endsWithEnd(x.buf) {
			x.buf = append(x.buf, c)
			return false
		}
		return x.emit()

	case '\'', '"', '`':
		x.begin()
		x.buf = append(x.buf, c)
		x.opened = x.pos - 1
		switch c {
		case '\'':
			x.state = stateSingleQuote
		case '"':
			x.state = stateDoubleQuote
		default:
			x.state = stateBacktick
		}
		return false

	case '#':
		x.state = stateLineComment
		x.opened = x.pos - 1
		return false

	case '-':
		// "--" must be followed by whitespace (or the end of input) to start a comment
		if x.peek(0) == '-' {
			if n := x.peek(1); n == 0 || isSpace(n) {
				_, _ = x.r.ReadByte()
				x.pos++
				x.state = stateLineComment
				x.opened = x.pos - 2
				return false
			}
		}

	case '/':
		if x.peek(0) == '*' {
			_, _ = x.r.ReadByte()
			x.pos++
			x.opened = x.pos - 2
			if x.peek(0) == '!' {
				if len(x.buf) == 0 {
					x.start = x.opened
				}
				x.buf = append(x.buf, '/', '*')
				x.state = stateCodeComment
			} else {
				x.state = stateBlockComment
			}
			return false
		}
	}

	if len(x.buf) == 0 && isSpace(c) {
		return false
	}
	x.begin()
	x.buf = append(x.buf, c)
	return false
}

// begin records the offset of the statement, if c (at pos-1) is the first byte
func (x *Scanner) begin() {
	if len(x.buf) == 0 {
		x.start = x.pos - 1
	}
}

func (x *Scanner) emit() bool {
	text := bytes.TrimRight(x.buf, " \t\r\n")
	if len(text) == 0 {
		x.buf = x.buf[:0]
		return false
	}
	x.stmt = Statement{Text: text, Index: x.index, Offset: x.start}
	x.index++
	return true
}

func (x *Scanner) finish() bool {
	switch x.state {
	case stateSingleQuote, stateDoubleQuote, stateBacktick:
		x.err = &SyntaxError{Msg: `unterminated quoted string`, Offset: x.opened}
		return false
	case stateBlockComment, stateCodeComment:
		x.err = &SyntaxError{Msg: `unterminated comment`, Offset: x.opened}
		return false
	}
	return x.emit()
}

// peek returns the byte i positions ahead, or 0 if unavailable
func (x *Scanner) peek(i int) byte {
	b, _ := x.r.Peek(i + 1)
	if len(b) <= i {
		return 0
	}
	return b[i]
}

func (x scanState) quote() byte {
	switch x {
	case stateSingleQuote:
		return '\''
	case stateDoubleQuote:
		return '"'
	case stateBacktick:
		return '`'
	default:
		return 0
	}
}

func isSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	default:
		return false
	}
}
