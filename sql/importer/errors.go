package importer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joeycumines/go-sitemigrate/sql/export"
)

const maxErrorStatement = 80

type (
	// StatementExecutionError indicates a statement failed, identified by its index and byte offset in the dump.
	StatementExecutionError struct {
		Err       error
		Statement []byte
		Index     int
		Offset    int64
	}

	// BackupError indicates the backup (required prior to import) failed, and nothing was imported.
	BackupError struct {
		Err error
	}

	// IntegrityValidationError indicates sampled values that look serialized, but which cannot be decoded.
	// It is reported via Result.Integrity, and does not fail the import.
	IntegrityValidationError struct {
		Failures []IntegrityFailure
	}

	IntegrityFailure struct {
		// Err is set if the table could not be sampled.
		Err    error
		Table  export.Table
		Column string
		// Row is the 0-based index of the row within the sample.
		Row int64
	}
)

var (
	// ErrNoBackup indicates a backup was required, but Importer.Backup was nil.
	ErrNoBackup = errors.New(`go-sitemigrate/importer: no backup configured`)
)

func (x *StatementExecutionError) Error() string {
	stmt := string(x.Statement)
	if len(stmt) > maxErrorStatement {
		stmt = stmt[:maxErrorStatement] + `...`
	}
	return fmt.Sprintf(`statement %d at offset %d failed: %v: %q`, x.Index, x.Offset, x.Err, stmt)
}

func (x *StatementExecutionError) Unwrap() error { return x.Err }

func (x *BackupError) Error() string { return fmt.Sprintf(`backup failed: %v`, x.Err) }

func (x *BackupError) Unwrap() error { return x.Err }

func (x *IntegrityValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, `integrity validation failed: %d issue(s)`, len(x.Failures))
	for i, failure := range x.Failures {
		if i == 3 {
			b.WriteString(`, ...`)
			break
		}
		b.WriteString(`, `)
		b.WriteString(failure.String())
	}
	return b.String()
}

func (x IntegrityFailure) String() string {
	if x.Err != nil {
		return fmt.Sprintf(`table %s: %v`, x.Table, x.Err)
	}
	return fmt.Sprintf(`table %s row %d column %s: malformed serialized value`, x.Table, x.Row, x.Column)
}
