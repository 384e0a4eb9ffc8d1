// Package replace implements search and replace over database values, that is safe for PHP serialized data.
package replace

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/joeycumines/go-sitemigrate/phpserial"
)

type (
	// Pair is a single find and replace.
	Pair struct {
		Find    string
		Replace string
	}

	// Map is an ordered list of replacements, applied one pass per Pair, in order. Each pass replaces every
	// non-overlapping occurrence, left to right, without rescanning its own output, but later pairs see the
	// output of earlier ones.
	Map []Pair

	// Replacer applies a Map to values, see New. It is safe for concurrent use.
	Replacer struct {
		m        Map
		finds    [][]byte
		replaces [][]byte
		repair   bool
		counters struct {
			cells      atomic.Int64
			serialized atomic.Int64
			plain      atomic.Int64
			fallbacks  atomic.Int64
			repaired   atomic.Int64
		}
	}

	// Option configures a Replacer.
	Option func(c *replacerConfig)

	// Counters are cumulative statistics, see Replacer.Stats.
	Counters struct {
		// Cells is the number of values passed to Replace.
		Cells int64
		// Serialized is the number of serialized values that were rewritten structurally.
		Serialized int64
		// Plain is the number of non-serialized values that were rewritten.
		Plain int64
		// Fallbacks is the number of serialized-looking values that failed to decode, and were rewritten as plain.
		Fallbacks int64
		// Repaired is the number of values that were repaired prior to replacement.
		Repaired int64
	}

	// Row is a table row, as ordered column names and values. A nil value is SQL NULL, while a non-nil empty
	// value is the empty string.
	Row struct {
		Columns []string
		Values  [][]byte
	}

	replacerConfig struct {
		repair bool
	}

	outcome int
)

const (
	outcomeUnchanged outcome = iota
	outcomePlain
	outcomeSerialized
	outcomeRepaired
	outcomeFallback
)

var (
	// ErrEmptyFind indicates a Pair with an empty Find.
	ErrEmptyFind = errors.New(`replace: empty find`)
)

// WithRepair enables repairing serialized-looking values that fail to decode, see phpserial.Repair, prior to
// falling back to plain replacement.
func WithRepair(enabled bool) Option {
	return func(c *replacerConfig) { c.repair = enabled }
}

// ParseMap parses pairs formatted like "find=replace", splitting on the first "=".
func ParseMap(pairs []string) (Map, error) {
	m := make(Map, 0, len(pairs))
	for _, s := range pairs {
		find, repl, ok := strings.Cut(s, `=`)
		if !ok {
			return nil, fmt.Errorf(`replace: invalid pair %q: expected find=replace`, s)
		}
		m = append(m, Pair{Find: find, Replace: repl})
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate returns ErrEmptyFind (wrapped) if any pair has an empty Find.
func (x Map) Validate() error {
	for i, p := range x {
		if p.Find == `` {
			return fmt.Errorf(`%w at index %d`, ErrEmptyFind, i)
		}
	}
	return nil
}

// Reverse returns the map with Find and Replace swapped, and the pairs in reverse order, e.g. to undo a
// migration.
func (x Map) Reverse() Map {
	if x == nil {
		return nil
	}
	m := make(Map, len(x))
	for i, p := range x {
		m[len(x)-1-i] = Pair{Find: p.Replace, Replace: p.Find}
	}
	return m
}

// New initialises a Replacer, returning an error if the map is invalid. An empty map is valid, and results in a
// Replacer that never modifies anything.
func New(m Map, opts ...Option) (*Replacer, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	var c replacerConfig
	for _, o := range opts {
		o(&c)
	}
	x := Replacer{
		m:      append(Map(nil), m...),
		repair: c.repair,
	}
	for _, p := range m {
		x.finds = append(x.finds, []byte(p.Find))
		x.replaces = append(x.replaces, []byte(p.Replace))
	}
	return &x, nil
}

// Map returns a copy of the map.
func (x *Replacer) Map() Map { return append(Map(nil), x.m...) }

// Stats returns a snapshot of the counters.
func (x *Replacer) Stats() Counters {
	return Counters{
		Cells:      x.counters.cells.Load(),
		Serialized: x.counters.serialized.Load(),
		Plain:      x.counters.plain.Load(),
		Fallbacks:  x.counters.fallbacks.Load(),
		Repaired:   x.counters.repaired.Load(),
	}
}

// Replace applies the map to raw. Serialized values (ignoring surrounding whitespace) are decoded, with
// replacements applied to string content, array keys and property names, then re-encoded with correct
// lengths. Everything else (including serialized-looking values that fail to decode) is rewritten by plain
// substitution. If nothing matches, raw is returned as-is.
func (x *Replacer) Replace(raw []byte) []byte {
	x.counters.cells.Add(1)
	b, o := x.replace(raw)
	switch o {
	case outcomePlain:
		x.counters.plain.Add(1)
	case outcomeSerialized:
		x.counters.serialized.Add(1)
	case outcomeRepaired:
		x.counters.repaired.Add(1)
		x.counters.serialized.Add(1)
	case outcomeFallback:
		x.counters.fallbacks.Add(1)
	}
	return b
}

// ReplaceRow applies Replace to every non-nil value of row. The returned row shares Columns with row.
func (x *Replacer) ReplaceRow(row Row) Row {
	values := make([][]byte, len(row.Values))
	for i, v := range row.Values {
		if v != nil {
			values[i] = x.Replace(v)
		}
	}
	return Row{Columns: row.Columns, Values: values}
}

func (x *Replacer) replace(raw []byte) ([]byte, outcome) {
	if !x.matches(raw) {
		return raw, outcomeUnchanged
	}

	trimmed := phpserial.TrimSpace(raw)
	if !phpserial.LooksSerialized(trimmed) {
		return x.substitute(raw), outcomePlain
	}

	result := outcomeSerialized
	v, err := phpserial.Decode(trimmed)
	if err != nil && x.repair {
		if repaired, e := phpserial.Repair(trimmed); e == nil {
			if v, err = phpserial.Decode(repaired); err == nil {
				result = outcomeRepaired
			}
		}
	}
	if err != nil {
		return x.substitute(raw), outcomeFallback
	}

	return phpserial.Rewrap(raw, phpserial.Encode(x.walk(v))), result
}

func (x *Replacer) walk(v phpserial.Value) phpserial.Value {
	switch v := v.(type) {
	case phpserial.String:
		return phpserial.NewString(x.replaceString(v.Data))

	case phpserial.Array:
		entries := make([]phpserial.Entry, len(v.Entries))
		for i, e := range v.Entries {
			entries[i] = phpserial.Entry{Key: x.walk(e.Key), Value: x.walk(e.Value)}
		}
		return phpserial.Array{Entries: entries}

	case phpserial.Object:
		properties := make([]phpserial.Property, len(v.Properties))
		for i, p := range v.Properties {
			properties[i] = phpserial.Property{Name: x.substituteString(p.Name), Value: x.walk(p.Value)}
		}
		return phpserial.Object{Class: v.Class, Properties: properties}

	case phpserial.Custom:
		// custom payloads are opaque unless they are themselves a single serialized value
		if phpserial.IsSerialized([]byte(v.Data)) {
			return phpserial.Custom{Class: v.Class, Data: x.replaceString(v.Data)}
		}
		return v

	default:
		return v
	}
}

// replaceString handles string content, which may itself be serialized
func (x *Replacer) replaceString(s string) string {
	if !x.matchesString(s) {
		return s
	}
	b, _ := x.replace([]byte(s))
	return string(b)
}

func (x *Replacer) substitute(raw []byte) []byte {
	for i, find := range x.finds {
		if bytes.Contains(raw, find) {
			raw = bytes.ReplaceAll(raw, find, x.replaces[i])
		}
	}
	return raw
}

func (x *Replacer) substituteString(s string) string {
	for _, p := range x.m {
		s = strings.ReplaceAll(s, p.Find, p.Replace)
	}
	return s
}

func (x *Replacer) matches(raw []byte) bool {
	for _, find := range x.finds {
		if bytes.Contains(raw, find) {
			return true
		}
	}
	return false
}

func (x *Replacer) matchesString(s string) bool {
	for _, p := range x.m {
		if strings.Contains(s, p.Find) {
			return true
		}
	}
	return false
}
