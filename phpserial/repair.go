package phpserial

import (
	"bytes"
	"errors"
	"fmt"
)

// ErrNotSerialized is returned by Repair if the input doesn't resemble a serialized value.
var ErrNotSerialized = errors.New(`phpserial: not serialized`)

// Repair attempts to fix serialized data whose length prefixes or counts are wrong, typically caused by a naive
// search and replace. String content is located using the `";` terminator nearest the declared end, and
// array/object counts are ignored, with the result re-encoded. Surrounding whitespace is preserved.
// Input that already decodes is returned unmodified.
func Repair(raw []byte) ([]byte, error) {
	trimmed := TrimSpace(raw)
	if !looksSerialized(trimmed) {
		return nil, ErrNotSerialized
	}
	if _, err := Decode(trimmed); err == nil {
		return raw, nil
	}
	v, err := decode(trimmed, true)
	if err != nil {
		return nil, fmt.Errorf(`phpserial: repair failed: %w`, err)
	}
	return Rewrap(raw, Encode(v)), nil
}

// Rewrap replaces the value in raw, i.e. everything but the surrounding whitespace (as trimmed by TrimSpace),
// with value.
func Rewrap(raw, value []byte) []byte {
	lead := len(raw) - len(bytes.TrimLeft(raw, phpWhitespace))
	if lead == len(raw) {
		return value
	}
	trail := len(raw) - len(bytes.TrimRight(raw, phpWhitespace))
	if lead == 0 && trail == 0 {
		return value
	}
	b := make([]byte, 0, lead+len(value)+trail)
	b = append(b, raw[:lead]...)
	b = append(b, value...)
	b = append(b, raw[len(raw)-trail:]...)
	return b
}
