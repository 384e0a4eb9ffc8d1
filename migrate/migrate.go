// Package migrate sequences exports, imports, and transfers between databases, with search and replace applied
// on exactly one side, reporting unified progress for the whole run.
package migrate

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/joeycumines/go-sitemigrate/remote"
	"github.com/joeycumines/go-sitemigrate/replace"
	"github.com/joeycumines/go-sitemigrate/sql/dump"
	"github.com/joeycumines/go-sitemigrate/sql/export"
	"github.com/joeycumines/go-sitemigrate/sql/importer"
	"github.com/joeycumines/logiface"
)

const (
	// IncompleteSuffix is appended to the name of a dump that failed or was cancelled part way through.
	IncompleteSuffix = `.incomplete`

	// BackupTimeLayout formats the time in backup file names, like "database_2006-01-02_15-04-05.sql".
	BackupTimeLayout = `2006-01-02_15-04-05`

	writeBufferSize = 64 << 10
)

type (
	// Orchestrator runs jobs. It is not safe for concurrent use.
	Orchestrator struct {
		Logger *logiface.Logger[logiface.Event]
		// Progress is optional, and is called synchronously.
		Progress ProgressFunc
		// Transport is required to push or pull.
		Transport Transport
		// Now defaults to time.Now.
		Now func() time.Time
	}

	// Transport moves dumps to and from a remote instance, see remote.Client.
	Transport interface {
		Send(ctx context.Context, name string) (*remote.Ack, error)
		Receive(ctx context.Context, name string) (int64, error)
	}

	// Database is a source or target.
	Database struct {
		DB      *sql.DB
		Dialect export.Dialect
		// Name identifies the database in jobs and logs, and must not contain credentials.
		Name string
		// Schema is optional, and qualifies listed tables.
		Schema string
		// Version is included in the header of dumps.
		Version string
	}

	ExportRequest struct {
		Source *Database
		// Destination is the path of the dump, and is required unless part of a transfer.
		Destination string
		Replace     replace.Map
		Tables      []export.Table
		Exclude     []export.Table
		// BatchSize is the rows per page, see export.Exporter.BatchSize.
		BatchSize        int
		RepairSerialized bool
		ContinueOnError  bool
		NoSchema         bool
		NoData           bool
		// Push sends the dump using the Transport, once written.
		Push bool
	}

	ImportRequest struct {
		Target *Database
		// Source is the path of the dump, required unless pulling, or part of a transfer.
		Source  string
		Replace replace.Map
		// BackupDir is where the backup of Target is written, if Backup is set.
		BackupDir string
		// BatchSize is the statements per transaction, see importer.Importer.BatchSize.
		BatchSize int
		// ValidateSample is the rows per table to check for corrupt serialized values, after the import.
		// Defaults to importer.DefaultSampleSize, a negative value disables validation.
		ValidateSample   int64
		RepairSerialized bool
		// Backup exports Target prior to executing any statements, aborting the import if that fails.
		Backup bool
		// Pull receives the dump using the Transport.
		Pull bool
	}

	// TransferRequest exports a database, then imports it into another, via a temporary dump (or
	// Export.Destination, if set). Export.Push and Import.Pull are not supported.
	TransferRequest struct {
		Export ExportRequest
		Import ImportRequest
	}

	step struct {
		name   string
		weight float64
	}

	run struct {
		o     *Orchestrator
		steps []step
		job   Job
		index int
		// base is the sum of the weights of the steps prior to index
		base float64
		// total is the sum of all weights
		total float64
	}
)

// steps and their relative weights, for progress
var (
	stepPull   = step{name: `pull`, weight: 10}
	stepBackup = step{name: `backup`, weight: 30}
	stepExport = step{name: `export`, weight: 50}
	stepImport = step{name: `import`, weight: 50}
	stepPush   = step{name: `push`, weight: 10}
)

var (
	// ErrInvalidRequest is wrapped by validation errors.
	ErrInvalidRequest = errors.New(`migrate: invalid request`)
)

// Export writes a dump of the source database to the destination, applying any replacements to the rows on
// the way through, then optionally pushes it. The dump is written to a temporary file, which is renamed to the
// destination on success, or to the destination plus IncompleteSuffix on failure or cancellation.
func (x *Orchestrator) Export(ctx context.Context, req ExportRequest) (*Job, error) {
	if err := x.validateExport(&req, true); err != nil {
		return nil, err
	}

	kind, steps := KindExport, []step{stepExport}
	if req.Push {
		kind, steps = KindPush, append(steps, stepPush)
	}

	r := x.start(kind, req.Source.Name, steps...)
	return r.finish(ctx, r.export(ctx, &req))
}

// Import executes a dump against the target database, after optionally pulling it, and taking a backup of the
// target. Replacements apply to the string literals of INSERT statements. Pulled dumps are removed once the
// import ends.
func (x *Orchestrator) Import(ctx context.Context, req ImportRequest) (*Job, error) {
	if err := x.validateImport(&req, true); err != nil {
		return nil, err
	}

	kind, steps := KindImport, []step{stepImport}
	if req.Backup {
		steps = append([]step{stepBackup}, steps...)
	}
	if req.Pull {
		kind, steps = KindPull, append([]step{stepPull}, steps...)
	}

	r := x.start(kind, req.Target.Name, steps...)
	return r.finish(ctx, r.importDump(ctx, &req))
}

// Transfer exports, then imports, as a single job.
func (x *Orchestrator) Transfer(ctx context.Context, req TransferRequest) (*Job, error) {
	if err := x.validateExport(&req.Export, false); err != nil {
		return nil, err
	}
	if err := x.validateImport(&req.Import, false); err != nil {
		return nil, err
	}
	if req.Export.Push || req.Import.Pull || req.Import.Source != `` {
		return nil, fmt.Errorf(`%w: transfer must not push, pull, or import from a file`, ErrInvalidRequest)
	}
	if len(req.Export.Replace) != 0 && len(req.Import.Replace) != 0 {
		return nil, fmt.Errorf(`%w: replacements must be applied during either export or import, not both`, ErrInvalidRequest)
	}

	steps := []step{stepExport, stepImport}
	if req.Import.Backup {
		steps = []step{stepExport, stepBackup, stepImport}
	}
	r := x.start(KindTransfer, req.Export.Source.Name+` -> `+req.Import.Target.Name, steps...)

	return r.finish(ctx, func() error {
		if req.Export.Destination == `` {
			file, err := os.CreateTemp(``, `sitemigrate-transfer-*.sql`)
			if err != nil {
				return err
			}
			name := file.Name()
			if err := file.Close(); err != nil {
				return err
			}
			req.Export.Destination = name
			defer func() {
				r.remove(name)
				r.remove(name + IncompleteSuffix)
			}()
		}

		if err := r.export(ctx, &req.Export); err != nil {
			return err
		}

		req.Import.Source = req.Export.Destination
		return r.importDump(ctx, &req.Import)
	}())
}

func (x *run) export(ctx context.Context, req *ExportRequest) error {
	x.enter(stepExport.name)

	transformer, replacer, err := newRowTransformer(req.Replace, req.RepairSerialized)
	if err != nil {
		return err
	}

	result, err := x.exportFile(ctx, req.Source, req.Destination, func(e *export.Exporter) {
		e.RowTransformer = transformer
		e.Tables = req.Tables
		e.Exclude = req.Exclude
		e.BatchSize = req.BatchSize
		e.ContinueOnError = req.ContinueOnError
		e.NoSchema = req.NoSchema
		e.NoData = req.NoData
	})
	if err != nil {
		return err
	}

	x.job.Output = req.Destination
	if err := result.Err(); err != nil {
		x.job.Warning = err
	}
	x.logReplacer(replacer)

	if req.Push {
		x.enter(stepPush.name)
		ack, err := x.o.Transport.Send(ctx, req.Destination)
		if err != nil {
			return fmt.Errorf(`push error: %w`, err)
		}
		x.job.Ack = ack
		x.report(1, fmt.Sprintf(`pushed %s as %s`, req.Destination, ack.Name))
	}

	return nil
}

func (x *run) importDump(ctx context.Context, req *ImportRequest) error {
	if req.Pull {
		x.enter(stepPull.name)
		file, err := os.CreateTemp(``, `sitemigrate-pull-*.sql`)
		if err != nil {
			return err
		}
		name := file.Name()
		defer x.remove(name)
		if err := file.Close(); err != nil {
			return err
		}
		n, err := x.o.Transport.Receive(ctx, name)
		if err != nil {
			return fmt.Errorf(`pull error: %w`, err)
		}
		x.report(1, fmt.Sprintf(`pulled %d bytes`, n))
		req.Source = name
	}

	info, err := os.Stat(req.Source)
	if err != nil {
		return err
	}

	escapes, err := dumpBackslashEscapes(req.Source, req.Target.Dialect)
	if err != nil {
		return err
	}

	// session statements of the dump (e.g. SET FOREIGN_KEY_CHECKS) must apply to every statement after them
	conn, err := req.Target.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf(`target connection error: %w`, err)
	}
	defer conn.Close()

	var (
		target = req.Target
		source = &export.DatabaseSource{
			Reader: export.NewReader(target.Dialect, conn),
			Schema: target.Schema,
		}
		imp = importer.Importer{
			Target:     &importer.SQLTarget[*sql.Conn]{DB: conn},
			Logger:     x.o.Logger,
			TotalBytes: info.Size(),
			BatchSize:  req.BatchSize,
		}
		replacer *replace.Replacer
	)

	if len(req.Replace) != 0 {
		replacer, err = replace.New(req.Replace, replace.WithRepair(req.RepairSerialized))
		if err != nil {
			return err
		}
		imp.Transformer = importer.ReplaceLiterals(replacer, escapes)
	}

	if req.Backup {
		imp.CreateBackupFirst = true
		imp.Backup = func(ctx context.Context) error {
			x.enter(stepBackup.name)
			name := filepath.Join(req.BackupDir, `database_`+x.o.now().UTC().Format(BackupTimeLayout)+`.sql`)
			if _, err := x.exportFile(ctx, target, name, func(e *export.Exporter) { e.Source = source }); err != nil {
				return err
			}
			x.job.Backup = name
			return nil
		}
	}

	if req.ValidateSample >= 0 {
		imp.Validation = &importer.Validation{
			Source:     source,
			SampleSize: req.ValidateSample,
		}
	}

	var entered bool
	imp.OnProgress = func(p importer.Progress) {
		if !entered {
			x.enter(stepImport.name)
			entered = true
		}
		x.job.Table = p.Table
		x.job.Done, x.job.Total = p.Bytes, p.TotalBytes
		var fraction float64
		if p.TotalBytes > 0 {
			fraction = float64(p.Bytes) / float64(p.TotalBytes)
		}
		x.report(fraction, fmt.Sprintf(`importing: %d statements executed`, p.Executed))
	}

	result, err := imp.Import(ctx, dump.File(req.Source, dump.WithBackslashEscapes(escapes)))
	if err != nil {
		return err
	}

	if result.Integrity != nil {
		x.job.Warning = result.Integrity
	}
	x.logReplacer(replacer)
	x.report(1, fmt.Sprintf(`imported %d statements`, result.Executed))

	return nil
}

// exportFile writes a dump of db to name, via a temporary file in the same directory
func (x *run) exportFile(ctx context.Context, db *Database, name string, configure func(e *export.Exporter)) (*export.Result, error) {
	dir := filepath.Dir(name)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}

	file, err := os.CreateTemp(dir, filepath.Base(name)+`.*.tmp`)
	if err != nil {
		return nil, err
	}

	w := bufio.NewWriterSize(file, writeBufferSize)

	e := export.Exporter{
		Source:        databaseSource(db),
		Dialect:       db.Dialect,
		Sink:          w,
		Logger:        x.o.Logger,
		SourceVersion: db.Version,
		Now:           x.o.Now,
		OnProgress: func(p export.Progress) {
			x.job.Table = p.Table.String()
			x.job.Done, x.job.Total = p.Rows, p.Total
			if p.TableCount == 0 {
				return
			}
			fraction := float64(p.TableIndex)
			switch p.State {
			case export.StateTableDone:
				fraction++
			case export.StateData:
				if p.Total > 0 {
					fraction += float64(p.Rows) / float64(p.Total)
				}
			case export.StateFooter, export.StateComplete:
				fraction = float64(p.TableCount)
			}
			x.report(fraction/float64(p.TableCount), fmt.Sprintf(`exporting %s: %d rows`, p.Table, p.Rows))
		},
	}
	if configure != nil {
		configure(&e)
	}

	result, err := e.Export(ctx)
	if e := w.Flush(); err == nil {
		err = e
	}
	if e := file.Close(); err == nil {
		err = e
	}

	if err != nil {
		incomplete := name + IncompleteSuffix
		if e := os.Rename(file.Name(), incomplete); e != nil {
			x.o.Logger.Err().
				Err(e).
				Str(`file`, file.Name()).
				Log(`failed to rename incomplete dump`)
		} else {
			x.o.Logger.Warning().
				Str(`file`, incomplete).
				Log(`partial dump retained`)
		}
		return result, err
	}

	if err := os.Rename(file.Name(), name); err != nil {
		x.remove(file.Name())
		return result, err
	}

	x.o.Logger.Info().
		Str(`file`, name).
		Int64(`rows`, result.Rows).
		Int64(`bytes`, result.Bytes).
		Log(`wrote dump`)

	return result, nil
}

func (x *Orchestrator) start(kind Kind, target string, steps ...step) *run {
	r := run{
		o:     x,
		steps: steps,
		job: Job{
			ID:      uuid.New(),
			Kind:    kind,
			Target:  target,
			Status:  StatusRunning,
			Started: x.now(),
			Total:   -1,
		},
	}
	for _, s := range steps {
		r.total += s.weight
	}

	x.Logger.Info().
		Str(`job`, r.job.ID.String()).
		Str(`kind`, string(kind)).
		Str(`target`, target).
		Log(`job started`)

	r.notify()

	return &r
}

// enter moves to the named step, which must not be prior to the current step
func (x *run) enter(name string) {
	for i := x.index; i < len(x.steps); i++ {
		if x.steps[i].name == name {
			for ; x.index < i; x.index++ {
				x.base += x.steps[x.index].weight
			}
			break
		}
	}
	x.job.Step = name
	x.job.Table = ``
	x.job.Done, x.job.Total = 0, -1
	x.report(0, name)
}

// report updates the progress within the current step, where fraction is in the range [0, 1]
func (x *run) report(fraction float64, message string) {
	if x.index < len(x.steps) && x.total > 0 {
		fraction = min(max(fraction, 0), 1)
		x.job.Percent = max(x.job.Percent, (x.base+fraction*x.steps[x.index].weight)/x.total*100)
	}
	x.job.Message = message
	x.notify()
}

func (x *run) finish(ctx context.Context, err error) (*Job, error) {
	x.job.Ended = x.o.now()
	x.job.Err = err

	switch {
	case err == nil:
		x.job.Status = StatusComplete
		x.job.Percent = 100
		x.job.Message = `complete`
		x.o.Logger.Info().
			Str(`job`, x.job.ID.String()).
			Dur(`duration`, x.job.Ended.Sub(x.job.Started)).
			Log(`job complete`)
		if x.job.Warning != nil {
			x.o.Logger.Warning().
				Str(`job`, x.job.ID.String()).
				Err(x.job.Warning).
				Log(`job completed with problems`)
		}
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		x.job.Status = StatusCancelled
		x.job.Message = `cancelled`
		x.o.Logger.Warning().
			Str(`job`, x.job.ID.String()).
			Str(`step`, x.job.Step).
			Log(`job cancelled`)
	default:
		x.job.Status = StatusFailed
		x.job.Message = err.Error()
		x.o.Logger.Err().
			Err(err).
			Str(`job`, x.job.ID.String()).
			Str(`step`, x.job.Step).
			Log(`job failed`)
	}

	x.notify()

	job := x.job
	return &job, err
}

func (x *run) notify() {
	if x.o.Progress != nil {
		x.o.Progress(x.job)
	}
}

func (x *run) remove(name string) {
	if err := os.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
		x.o.Logger.Warning().
			Err(err).
			Str(`file`, name).
			Log(`failed to remove temporary file`)
	}
}

func (x *run) logReplacer(replacer *replace.Replacer) {
	if replacer == nil {
		return
	}
	stats := replacer.Stats()
	x.o.Logger.Info().
		Int64(`cells`, stats.Cells).
		Int64(`serialized`, stats.Serialized).
		Int64(`plain`, stats.Plain).
		Int64(`fallbacks`, stats.Fallbacks).
		Int64(`repaired`, stats.Repaired).
		Log(`replacement stats`)
}

func (x *Orchestrator) validateExport(req *ExportRequest, standalone bool) error {
	if err := validateDatabase(`source`, req.Source); err != nil {
		return err
	}
	if standalone && req.Destination == `` {
		return fmt.Errorf(`%w: no destination`, ErrInvalidRequest)
	}
	if req.Push && x.Transport == nil {
		return fmt.Errorf(`%w: push requires a transport`, ErrInvalidRequest)
	}
	return validateMap(req.Replace)
}

func (x *Orchestrator) validateImport(req *ImportRequest, standalone bool) error {
	if err := validateDatabase(`target`, req.Target); err != nil {
		return err
	}
	if req.Pull {
		if x.Transport == nil {
			return fmt.Errorf(`%w: pull requires a transport`, ErrInvalidRequest)
		}
		if req.Source != `` {
			return fmt.Errorf(`%w: pull and source are mutually exclusive`, ErrInvalidRequest)
		}
	} else if standalone && req.Source == `` {
		return fmt.Errorf(`%w: no source`, ErrInvalidRequest)
	}
	if req.Backup && req.BackupDir == `` {
		return fmt.Errorf(`%w: backup requires a backup dir`, ErrInvalidRequest)
	}
	return validateMap(req.Replace)
}

func (x *Orchestrator) now() time.Time {
	if x.Now != nil {
		return x.Now()
	}
	return time.Now()
}

func validateDatabase(role string, db *Database) error {
	if db == nil || db.DB == nil || db.Dialect == nil {
		return fmt.Errorf(`%w: no %s database`, ErrInvalidRequest, role)
	}
	return nil
}

func validateMap(m replace.Map) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf(`%w: %w`, ErrInvalidRequest, err)
	}
	return nil
}

func databaseSource(db *Database) *export.DatabaseSource {
	return &export.DatabaseSource{
		Reader: export.NewReader(db.Dialect, db.DB),
		Schema: db.Schema,
	}
}

func newRowTransformer(m replace.Map, repair bool) (export.RowTransformer, *replace.Replacer, error) {
	if len(m) == 0 {
		return nil, nil, nil
	}
	replacer, err := replace.New(m, replace.WithRepair(repair))
	if err != nil {
		return nil, nil, err
	}
	return export.ReplaceRows(replacer), replacer, nil
}

// dumpBackslashEscapes returns the escaping recorded in the header of the dump, falling back to that of the
// target dialect
func dumpBackslashEscapes(name string, dialect export.Dialect) (bool, error) {
	f, err := os.Open(name)
	if err != nil {
		return false, err
	}
	defer f.Close()
	enabled, ok, err := dump.DetectBackslashEscapes(f)
	if err != nil {
		return false, fmt.Errorf(`read dump header error: %w`, err)
	}
	if !ok {
		return export.BackslashEscapes(dialect), nil
	}
	return enabled, nil
}
