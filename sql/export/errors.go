package export

import (
	"errors"
	"fmt"
)

type (
	// SourceReadError indicates a failure reading from a Source.
	SourceReadError struct {
		Err    error
		Table  Table
		Offset int64
	}

	// SinkWriteError indicates a failure writing to the sink.
	SinkWriteError struct {
		Err    error
		Table  Table
		Offset int64
	}
)

var (
	// ErrDependencyCycle indicates Exporter.Dependencies contains a cycle.
	ErrDependencyCycle = errors.New(`go-sitemigrate/export: dependency cycle`)
)

func (x *SourceReadError) Error() string {
	return fmt.Sprintf(`source read error: table %s offset %d: %v`, x.Table, x.Offset, x.Err)
}

func (x *SourceReadError) Unwrap() error { return x.Err }

func (x *SinkWriteError) Error() string {
	if x.Table == (Table{}) {
		return fmt.Sprintf(`sink write error: %v`, x.Err)
	}
	return fmt.Sprintf(`sink write error: table %s offset %d: %v`, x.Table, x.Offset, x.Err)
}

func (x *SinkWriteError) Unwrap() error { return x.Err }
