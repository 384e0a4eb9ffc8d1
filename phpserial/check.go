package phpserial

import (
	"bytes"
)

type (
	// Stats summarises a (possibly) serialized value, see Inspect.
	Stats struct {
		Kind Kind
		// Length is the number of bytes of the trimmed input.
		Length int
		// Depth is the maximum nesting of arrays and objects, 0 for scalars.
		Depth           int
		Serialized      bool
		ContainsObjects bool
	}
)

// phpWhitespace matches PHP's trim() defaults.
const phpWhitespace = " \t\n\r\x00\x0B"

// TrimSpace trims the same characters as PHP's trim().
func TrimSpace(raw []byte) []byte {
	return bytes.Trim(raw, phpWhitespace)
}

// IsSerialized reports whether raw, ignoring surrounding whitespace, is exactly one serialized value.
// It performs a constant time structural check before confirming with a full decode.
func IsSerialized(raw []byte) bool {
	raw = TrimSpace(raw)
	if !looksSerialized(raw) {
		return false
	}
	_, err := Decode(raw)
	return err == nil
}

// LooksSerialized performs only the constant time part of IsSerialized.
func LooksSerialized(raw []byte) bool {
	return looksSerialized(TrimSpace(raw))
}

// Valid returns true if raw doesn't resemble a serialized value, or if it does and it decodes.
// It's false only for data that was (most likely) serialized, and has since been corrupted.
func Valid(raw []byte) bool {
	raw = TrimSpace(raw)
	if !looksSerialized(raw) {
		return true
	}
	_, err := Decode(raw)
	return err == nil
}

// Inspect decodes raw (ignoring surrounding whitespace), returning the zero Stats (other than Length) if it is not
// serialized.
func Inspect(raw []byte) Stats {
	raw = TrimSpace(raw)
	stats := Stats{Length: len(raw)}
	if !looksSerialized(raw) {
		return stats
	}
	v, err := Decode(raw)
	if err != nil {
		return stats
	}
	stats.Serialized = true
	stats.Kind = v.Kind()
	stats.Depth, stats.ContainsObjects = walkStats(v)
	return stats
}

func walkStats(v Value) (depth int, objects bool) {
	switch v := v.(type) {
	case Array:
		for _, e := range v.Entries {
			d, o := walkStats(e.Value)
			depth = max(depth, d)
			objects = objects || o
		}
		return depth + 1, objects
	case Object:
		for _, p := range v.Properties {
			d, o := walkStats(p.Value)
			depth = max(depth, d)
			objects = objects || o
		}
		return depth + 1, true
	case Custom:
		return 0, true
	default:
		return 0, false
	}
}

// looksSerialized is the cheap check, performed on trimmed input, examining only the first two and last bytes.
func looksSerialized(b []byte) bool {
	if len(b) < 2 {
		return false
	}
	if b[0] == 'N' {
		return len(b) == 2 && b[1] == ';'
	}
	if len(b) < 4 || b[1] != ':' {
		return false
	}
	last := b[len(b)-1]
	switch b[0] {
	case 's', 'E':
		return last == ';' && b[len(b)-2] == '"'
	case 'b', 'i', 'd', 'r', 'R':
		return last == ';'
	case 'a', 'O', 'C':
		return last == '}'
	default:
		return false
	}
}
