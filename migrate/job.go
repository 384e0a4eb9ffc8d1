package migrate

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/joeycumines/go-sitemigrate/remote"
)

const (
	StatusIdle Status = iota
	StatusRunning
	StatusComplete
	StatusFailed
	StatusCancelled
)

const (
	KindExport   Kind = `export`
	KindImport   Kind = `import`
	KindPush     Kind = `push`
	KindPull     Kind = `pull`
	KindTransfer Kind = `transfer`
)

type (
	// Job is the progress record of a single run, owned by the Orchestrator. Observers receive copies.
	Job struct {
		Started time.Time
		Ended   time.Time
		// Err is the error that ended the job, if Failed or Cancelled.
		Err error
		// Warning is set if the job completed with problems, e.g. tables that failed to export (with
		// ContinueOnError), or an *importer.IntegrityValidationError.
		Warning error
		// Ack is set if the dump was pushed.
		Ack *remote.Ack
		// Target identifies the database being exported or imported.
		Target string
		// Step is the name of the current step, e.g. "export".
		Step string
		// Table is the current table, if any.
		Table   string
		Message string
		// Output is the path of the dump, if one was kept.
		Output string
		// Backup is the path of the backup taken prior to import, if any.
		Backup string
		Kind   Kind
		// Done is the progress of the current step, in rows of Table (export), or bytes of the dump (import).
		Done int64
		// Total is the size of the current step, in the same units as Done, or -1 if unknown.
		Total int64
		// Percent is the overall progress of the job, in the range [0, 100]. It never decreases.
		Percent float64
		ID      uuid.UUID
		Status  Status
	}

	Status int

	Kind string

	// ProgressFunc receives a copy of the Job on each update.
	ProgressFunc func(job Job)
)

func (x Status) String() string {
	switch x {
	case StatusIdle:
		return `idle`
	case StatusRunning:
		return `running`
	case StatusComplete:
		return `complete`
	case StatusFailed:
		return `failed`
	case StatusCancelled:
		return `cancelled`
	default:
		return fmt.Sprintf(`status(%d)`, int(x))
	}
}

// Done indicates the job has ended, in any status.
func (x Status) Done() bool {
	return x == StatusComplete || x == StatusFailed || x == StatusCancelled
}
