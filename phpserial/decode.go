package phpserial

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strconv"
)

// MaxDepth is the maximum nesting of arrays and objects accepted by Decode.
const MaxDepth = 4096

var (
	// ErrMalformed is wrapped by all decode errors.
	ErrMalformed = errors.New(`phpserial: malformed serialized data`)
)

type (
	// SyntaxError describes a decode failure, and unwraps to ErrMalformed.
	SyntaxError struct {
		Msg string
		// Offset is the byte offset into the decoded input, at which the problem was detected.
		Offset int
	}

	decoder struct {
		data  []byte
		pos   int
		depth int
		// lenient is used by Repair, ignores array/object counts and resynchronises on bad string lengths
		lenient bool
	}
)

func (x *SyntaxError) Error() string {
	return fmt.Sprintf(`phpserial: %s at offset %d`, x.Msg, x.Offset)
}

func (x *SyntaxError) Unwrap() error { return ErrMalformed }

// Decode parses raw, which must consist of exactly one serialized value (no surrounding whitespace).
// Parsing is driven by the declared length prefixes, so string content may contain any bytes, including quotes,
// braces and semicolons. It never panics, returning a *SyntaxError on malformed input.
func Decode(raw []byte) (Value, error) {
	return decode(raw, false)
}

func decode(raw []byte, lenient bool) (Value, error) {
	d := decoder{data: raw, lenient: lenient}
	v, err := d.value()
	if err != nil {
		return nil, err
	}
	if d.pos != len(d.data) {
		return nil, d.errorf(d.pos, `unexpected trailing data`)
	}
	return v, nil
}

func (x *decoder) errorf(offset int, format string, args ...any) error {
	return &SyntaxError{Msg: fmt.Sprintf(format, args...), Offset: offset}
}

func (x *decoder) value() (Value, error) {
	if x.pos >= len(x.data) {
		return nil, x.errorf(x.pos, `unexpected end of input`)
	}

	start := x.pos
	tag := x.data[start]

	if tag == 'N' {
		if err := x.literal(`N;`); err != nil {
			return nil, err
		}
		return Null{}, nil
	}

	if !isTag(tag) {
		return nil, x.errorf(start, `unknown type tag %q`, tag)
	}
	if start+1 >= len(x.data) || x.data[start+1] != ':' {
		return nil, x.errorf(start+1, `expected ':' after type tag %q`, tag)
	}
	x.pos += 2

	switch tag {
	case 'b':
		return x.bool()

	case 'i':
		n, err := x.integer()
		if err != nil {
			return nil, err
		}
		return Int(n), nil

	case 'd':
		return x.float()

	case 's':
		s, n, err := x.quoted(';')
		if err != nil {
			return nil, err
		}
		return String{Data: s, Declared: n}, nil

	case 'a':
		return x.array(start)

	case 'O':
		return x.object(start)

	case 'C':
		return x.custom(start)

	case 'E':
		s, _, err := x.quoted(';')
		if err != nil {
			return nil, err
		}
		return Enum{Name: s}, nil

	case 'r', 'R':
		n, err := x.integer()
		if err != nil {
			return nil, err
		}
		return Reference{Index: n, Strong: tag == 'R'}, nil

	default:
		panic(`unreachable`)
	}
}

func (x *decoder) bool() (Value, error) {
	if x.pos+1 < len(x.data) && x.data[x.pos+1] == ';' {
		switch x.data[x.pos] {
		case '0':
			x.pos += 2
			return Bool(false), nil
		case '1':
			x.pos += 2
			return Bool(true), nil
		}
	}
	return nil, x.errorf(x.pos, `invalid bool`)
}

// integer parses an optionally signed decimal, terminated by ';'.
func (x *decoder) integer() (int64, error) {
	start := x.pos
	end := x.scanNumber(start, true)
	if end == start || end >= len(x.data) || x.data[end] != ';' {
		return 0, x.errorf(start, `invalid integer`)
	}
	n, err := strconv.ParseInt(string(x.data[start:end]), 10, 64)
	if err != nil {
		return 0, x.errorf(start, `invalid integer: %v`, err)
	}
	x.pos = end + 1
	return n, nil
}

// length parses an unsigned decimal used as a length or count, followed by term.
func (x *decoder) length(term byte) (int, error) {
	start := x.pos
	end := x.scanNumber(start, false)
	if end == start || end >= len(x.data) || x.data[end] != term {
		return 0, x.errorf(start, `invalid length`)
	}
	var n int
	for _, c := range x.data[start:end] {
		if n > (math.MaxInt32-9)/10 {
			return 0, x.errorf(start, `length out of range`)
		}
		n = n*10 + int(c-'0')
	}
	x.pos = end + 1
	return n, nil
}

// scanNumber returns the end of the decimal starting at start, or start, if there are no digits
func (x *decoder) scanNumber(start int, signed bool) int {
	i := start
	if signed && i < len(x.data) && (x.data[i] == '-' || x.data[i] == '+') {
		i++
	}
	digits := i
	for i < len(x.data) && x.data[i] >= '0' && x.data[i] <= '9' {
		i++
	}
	if i == digits {
		return start
	}
	return i
}

func (x *decoder) float() (Value, error) {
	start := x.pos
	i := bytes.IndexByte(x.data[start:], ';')
	if i <= 0 {
		return nil, x.errorf(start, `invalid float`)
	}
	lit := x.data[start : start+i]
	var f float64
	switch string(lit) {
	case `INF`:
		f = math.Inf(1)
	case `-INF`:
		f = math.Inf(-1)
	case `NAN`:
		f = math.NaN()
	default:
		if !isFloatLiteral(lit) {
			return nil, x.errorf(start, `invalid float`)
		}
		var err error
		f, err = strconv.ParseFloat(string(lit), 64)
		if err != nil && !errors.Is(err, strconv.ErrRange) {
			return nil, x.errorf(start, `invalid float: %v`, err)
		}
	}
	x.pos = start + i + 1
	return Float{Raw: string(lit), Value: f}, nil
}

// quoted parses `<len>:"<content>"` followed by term, returning the content and declared length.
func (x *decoder) quoted(term byte) (string, int, error) {
	n, err := x.length(':')
	if err != nil {
		return ``, 0, err
	}
	if err := x.expect('"'); err != nil {
		return ``, 0, err
	}
	start := x.pos
	if n <= len(x.data)-start-2 && x.data[start+n] == '"' && x.data[start+n+1] == term {
		x.pos = start + n + 2
		return string(x.data[start : start+n]), n, nil
	}
	if x.lenient {
		if end, ok := x.resync(start, n, []byte{'"', term}); ok {
			x.pos = end + 2
			return string(x.data[start:end]), n, nil
		}
	}
	return ``, 0, x.errorf(start, `declared length %d does not match content`, n)
}

func (x *decoder) array(start int) (Value, error) {
	n, err := x.length(':')
	if err != nil {
		return nil, err
	}
	if err := x.expect('{'); err != nil {
		return nil, err
	}
	if err := x.enter(start); err != nil {
		return nil, err
	}
	defer x.leave()

	entries := make([]Entry, 0, x.capacity(n))
	for i := 0; x.more(i, n); i++ {
		if x.pos < len(x.data) && x.data[x.pos] != 'i' && x.data[x.pos] != 's' {
			return nil, x.errorf(x.pos, `invalid array key`)
		}
		key, err := x.value()
		if err != nil {
			return nil, err
		}
		value, err := x.value()
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Key: key, Value: value})
	}

	if err := x.expect('}'); err != nil {
		return nil, err
	}

	return Array{Entries: entries}, nil
}

func (x *decoder) object(start int) (Value, error) {
	class, _, err := x.quoted(':')
	if err != nil {
		return nil, err
	}
	n, err := x.length(':')
	if err != nil {
		return nil, err
	}
	if err := x.expect('{'); err != nil {
		return nil, err
	}
	if err := x.enter(start); err != nil {
		return nil, err
	}
	defer x.leave()

	properties := make([]Property, 0, x.capacity(n))
	for i := 0; x.more(i, n); i++ {
		if x.pos < len(x.data) && x.data[x.pos] != 's' {
			return nil, x.errorf(x.pos, `invalid property name`)
		}
		name, err := x.value()
		if err != nil {
			return nil, err
		}
		value, err := x.value()
		if err != nil {
			return nil, err
		}
		properties = append(properties, Property{Name: name.(String).Data, Value: value})
	}

	if err := x.expect('}'); err != nil {
		return nil, err
	}

	return Object{Class: class, Properties: properties}, nil
}

func (x *decoder) custom(start int) (Value, error) {
	class, _, err := x.quoted(':')
	if err != nil {
		return nil, err
	}
	n, err := x.length(':')
	if err != nil {
		return nil, err
	}
	if err := x.expect('{'); err != nil {
		return nil, err
	}
	dataStart := x.pos
	if n <= len(x.data)-dataStart-1 && x.data[dataStart+n] == '}' {
		x.pos = dataStart + n + 1
		return Custom{Class: class, Data: string(x.data[dataStart : dataStart+n])}, nil
	}
	if x.lenient {
		if end, ok := x.resync(dataStart, n, []byte{'}'}); ok {
			x.pos = end + 1
			return Custom{Class: class, Data: string(x.data[dataStart:end])}, nil
		}
	}
	return nil, x.errorf(start, `declared length %d does not match custom data`, n)
}

func (x *decoder) literal(s string) error {
	if !bytes.HasPrefix(x.data[x.pos:], []byte(s)) {
		return x.errorf(x.pos, `expected %q`, s)
	}
	x.pos += len(s)
	return nil
}

func (x *decoder) expect(c byte) error {
	if x.pos >= len(x.data) {
		return x.errorf(x.pos, `unexpected end of input, expected %q`, c)
	}
	if x.data[x.pos] != c {
		return x.errorf(x.pos, `expected %q, found %q`, c, x.data[x.pos])
	}
	x.pos++
	return nil
}

func (x *decoder) enter(start int) error {
	x.depth++
	if x.depth > MaxDepth {
		return x.errorf(start, `exceeded max depth %d`, MaxDepth)
	}
	return nil
}

func (x *decoder) leave() { x.depth-- }

// capacity bounds pre-allocation by what the remaining input could possibly hold
func (x *decoder) capacity(n int) int {
	return min(n, (len(x.data)-x.pos)/4)
}

func (x *decoder) more(i, n int) bool {
	if x.lenient {
		return x.pos < len(x.data) && x.data[x.pos] != '}'
	}
	return i < n
}

// resync finds the delimiter (at or after start) closest to the declared end, that's followed by something that
// plausibly continues the structure. It's only used by Repair.
func (x *decoder) resync(start, declared int, delim []byte) (int, bool) {
	var (
		best     = -1
		bestDist int
		target   = start + declared
	)
	for i := start; i+len(delim) <= len(x.data); i++ {
		if !bytes.Equal(x.data[i:i+len(delim)], delim) || !x.follows(i+len(delim), delim[len(delim)-1]) {
			continue
		}
		dist := i - target
		if dist < 0 {
			dist = -dist
		}
		if best == -1 || dist < bestDist {
			best, bestDist = i, dist
		}
	}
	return best, best != -1
}

func (x *decoder) follows(p int, last byte) bool {
	if last == ':' {
		return p < len(x.data) && x.data[p] >= '0' && x.data[p] <= '9'
	}
	if p == len(x.data) || x.data[p] == '}' {
		return true
	}
	if p+1 >= len(x.data) {
		return false
	}
	if x.data[p] == 'N' {
		return x.data[p+1] == ';'
	}
	return isTag(x.data[p]) && x.data[p+1] == ':'
}

func isTag(c byte) bool {
	switch c {
	case 's', 'a', 'O', 'b', 'i', 'd', 'N', 'C', 'E', 'r', 'R':
		return true
	default:
		return false
	}
}

func isFloatLiteral(b []byte) bool {
	var digits bool
	for i, c := range b {
		switch {
		case c >= '0' && c <= '9':
			digits = true
		case c == '.' || c == 'e' || c == 'E':
		case (c == '-' || c == '+') && (i == 0 || b[i-1] == 'e' || b[i-1] == 'E'):
		default:
			return false
		}
	}
	return digits
}
