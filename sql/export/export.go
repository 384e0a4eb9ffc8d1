// Package export implements chunked exports of database tables to an SQL dump, with each row optionally
// transformed (e.g. search and replace) on the way through.
package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/joeycumines/go-sitemigrate/sql/dump"
	"github.com/joeycumines/logiface"
)

const (
	DefaultBatchSize = 1000
	DefaultTool      = `go-sitemigrate`
)

// Export states, see Result.State.
const (
	StateIdle State = iota
	StateHeader
	StateSchema
	StateData
	StateTableDone
	StateFooter
	StateComplete
	StateFailed
	StateCancelled
)

type (
	// Exporter writes a dump of tables from Source to Sink. The output consists of a header, then (for each table)
	// a DROP TABLE + DDL, batched INSERT statements, and any triggers (see TriggerSource), then a footer. At most
	// one page of rows is held in memory.
	Exporter struct {
		Source  Source
		Dialect Dialect
		Sink    io.Writer
		// RowTransformer may be provided as a hook to modify rows before they are written, see also ReplaceRows.
		RowTransformer RowTransformer
		Logger         *logiface.Logger[logiface.Event]
		// OnProgress is optional, and is called synchronously, on state changes, and after each page.
		OnProgress func(p Progress)
		// Now defaults to time.Now.
		Now func() time.Time
		// Tables are the tables to export, in order, if non-empty, otherwise all tables are exported, sorted by
		// name.
		Tables []Table
		// Exclude lists tables that must not be exported. An exclusion with an empty Schema matches any schema.
		Exclude []Table
		// Dependencies maps each table to the tables that it references, and is used to order the export such
		// that referenced tables are first. Cycles are not permitted.
		Dependencies map[Table][]Table
		// Tool defaults to DefaultTool, and is used in the header comment.
		Tool string
		// SourceVersion is included in the header comment, e.g. the version of the source database.
		SourceVersion string
		// BatchSize configures the max rows per page, and defaults to DefaultBatchSize if 0.
		// A negative value disables paging.
		BatchSize int
		// ContinueOnError may be set to record the error for any failed table, continuing with the next.
		ContinueOnError bool
		// NoSchema disables output of DROP TABLE and DDL statements.
		NoSchema bool
		// NoData disables output of INSERT statements.
		NoData bool
	}

	// Result summarises an export.
	Result struct {
		// Tables has an entry for each table that was started, in order.
		Tables []TableResult
		// Rows is the total number of rows written.
		Rows int64
		// Bytes is the total number of bytes written.
		Bytes int64
		State State
	}

	TableResult struct {
		Err   error
		Table Table
		Rows  int64
	}

	// Progress is reported via Exporter.OnProgress.
	Progress struct {
		Table      Table
		State      State
		TableIndex int
		TableCount int
		Rows       int64
		// Total is the number of rows in the table, or -1 if unknown.
		Total int64
	}

	State int

	countingWriter struct {
		w io.Writer
		n int64
	}
)

func (x State) String() string {
	switch x {
	case StateIdle:
		return `idle`
	case StateHeader:
		return `header`
	case StateSchema:
		return `schema`
	case StateData:
		return `data`
	case StateTableDone:
		return `table_done`
	case StateFooter:
		return `footer`
	case StateComplete:
		return `complete`
	case StateFailed:
		return `failed`
	case StateCancelled:
		return `cancelled`
	default:
		return fmt.Sprintf(`state(%d)`, int(x))
	}
}

// Err joins the errors of any failed tables.
func (x *Result) Err() error {
	if x == nil {
		return nil
	}
	var errs []error
	for _, table := range x.Tables {
		if table.Err != nil {
			errs = append(errs, table.Err)
		}
	}
	return errors.Join(errs...)
}

// Export writes the dump, returning a non-nil Result if validation passed. If ctx is canceled, ctx.Err() is
// returned, and the result will be in StateCancelled, with no footer written.
func (x *Exporter) Export(ctx context.Context) (*Result, error) {
	if err := x.validate(); err != nil {
		return nil, err
	}

	var (
		result = Result{State: StateIdle}
		w      = countingWriter{w: x.Sink}
		err    = x.export(ctx, &w, &result)
	)

	result.Bytes = w.n

	switch {
	case err == nil:
		x.setState(&result, Progress{State: StateComplete})
		x.Logger.Info().
			Int(`tables`, len(result.Tables)).
			Int64(`rows`, result.Rows).
			Int64(`bytes`, result.Bytes).
			Log(`export complete`)
	case ctx.Err() != nil:
		err = ctx.Err()
		x.setState(&result, Progress{State: StateCancelled})
		x.Logger.Warning().
			Int(`tables`, len(result.Tables)).
			Log(`export cancelled`)
	default:
		x.setState(&result, Progress{State: StateFailed})
		x.Logger.Err().
			Err(err).
			Int(`tables`, len(result.Tables)).
			Log(`export failed`)
	}

	return &result, err
}

// ExportTable writes the data of a single table to Sink, as batched INSERT statements, returning the number of
// rows written.
func (x *Exporter) ExportTable(ctx context.Context, table Table) (int64, error) {
	if err := x.validate(); err != nil {
		return 0, err
	}
	return x.exportData(ctx, x.Sink, table, nil)
}

// ExportSchema returns the DROP TABLE and DDL statements for a table. The DDL is never transformed.
func (x *Exporter) ExportSchema(ctx context.Context, table Table) ([]byte, error) {
	if err := x.validate(); err != nil {
		return nil, err
	}
	return x.exportSchema(ctx, table)
}

func (x *Exporter) export(ctx context.Context, w io.Writer, result *Result) error {
	tables, err := x.resolveTables(ctx)
	if err != nil {
		return err
	}

	x.setState(result, Progress{State: StateHeader, TableCount: len(tables)})
	if err := x.writeHeader(w, tables); err != nil {
		return err
	}

	for i, table := range tables {
		if err := ctx.Err(); err != nil {
			return err
		}

		rows, err := x.exportTable(ctx, w, result, Progress{Table: table, TableIndex: i, TableCount: len(tables), Total: -1})
		result.Rows += rows
		result.Tables = append(result.Tables, TableResult{Table: table, Rows: rows, Err: err})

		if err != nil {
			if ctx.Err() != nil || !x.ContinueOnError {
				return err
			}
			x.Logger.Err().
				Err(err).
				Str(`table`, table.String()).
				Int64(`rows`, rows).
				Log(`table export failed, continuing`)
			continue
		}

		x.setState(result, Progress{State: StateTableDone, Table: table, TableIndex: i, TableCount: len(tables), Rows: rows, Total: rows})
		x.Logger.Info().
			Str(`table`, table.String()).
			Int64(`rows`, rows).
			Log(`exported table`)
	}

	x.setState(result, Progress{State: StateFooter, TableCount: len(tables)})
	return x.writeFooter(w, tables)
}

func (x *Exporter) exportTable(ctx context.Context, w io.Writer, result *Result, progress Progress) (int64, error) {
	if !x.NoSchema {
		progress.State = StateSchema
		x.setState(result, progress)

		b, err := x.exportSchema(ctx, progress.Table)
		if err != nil {
			return 0, err
		}
		if _, err := fmt.Fprintf(w, "\n-- Table structure for table %s\n\n%s", progress.Table, b); err != nil {
			return 0, &SinkWriteError{Table: progress.Table, Err: err}
		}
	}

	var rows int64
	if !x.NoData {
		progress.State = StateData
		x.setState(result, progress)

		if _, err := fmt.Fprintf(w, "\n-- Dumping data for table %s\n\n", progress.Table); err != nil {
			return 0, &SinkWriteError{Table: progress.Table, Err: err}
		}

		var err error
		rows, err = x.exportData(ctx, w, progress.Table, func(rows, total int64) {
			progress.Rows, progress.Total = rows, total
			x.setState(result, progress)
		})
		if err != nil {
			return rows, err
		}
	}

	if !x.NoSchema {
		if err := x.exportTriggers(ctx, w, progress.Table); err != nil {
			return rows, err
		}
	}

	return rows, nil
}

// exportTriggers writes the triggers of the table, if any, after the data, so they don't fire on import
func (x *Exporter) exportTriggers(ctx context.Context, w io.Writer, table Table) error {
	source, ok := x.Source.(TriggerSource)
	if !ok {
		return nil
	}
	triggers, err := source.TableTriggers(ctx, table)
	if err != nil {
		return &SourceReadError{Table: table, Err: err}
	}
	if len(triggers) == 0 {
		return nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "\n-- Triggers for table %s\n\n", table)
	for _, ddl := range triggers {
		b.WriteString(strings.TrimRight(ddl, "; \t\r\n"))
		b.WriteString(";\n")
	}
	if _, err := io.WriteString(w, b.String()); err != nil {
		return &SinkWriteError{Table: table, Err: err}
	}
	return nil
}

func (x *Exporter) exportData(ctx context.Context, w io.Writer, table Table, report func(rows, total int64)) (int64, error) {
	total := int64(-1)
	if counter, ok := x.Source.(RowCounter); ok && report != nil {
		if count, err := counter.CountRows(ctx, table); err != nil {
			x.Logger.Warning().
				Err(err).
				Str(`table`, table.String()).
				Log(`failed to count rows`)
		} else {
			total = count
		}
	}

	var (
		batchSize = int64(x.batchSize())
		offset    int64
	)

	for {
		if err := ctx.Err(); err != nil {
			return offset, err
		}

		page, err := x.Source.FetchPage(ctx, table, batchSize, offset)
		if err != nil {
			return offset, &SourceReadError{Table: table, Offset: offset, Err: err}
		}

		if n := int64(len(page.Rows)); n != 0 {
			if err := x.transformPage(ctx, table, page); err != nil {
				return offset, &SourceReadError{Table: table, Offset: offset, Err: err}
			}

			snippet, err := x.Dialect.InsertRows(&InsertRows{
				Table:   table,
				Columns: page.Columns,
				Rows:    page.Rows,
			})
			if err != nil {
				return offset, fmt.Errorf(`table %s insert rows error: %w`, table, err)
			}

			if _, err := io.WriteString(w, snippet.SQL+";\n"); err != nil {
				return offset, &SinkWriteError{Table: table, Offset: offset, Err: err}
			}

			offset += n

			x.Logger.Debug().
				Str(`table`, table.String()).
				Int64(`rows`, offset).
				Log(`exported page`)

			if report != nil {
				report(offset, max(total, offset))
			}
		}

		if batchSize <= 0 || int64(len(page.Rows)) < batchSize {
			return offset, nil
		}
	}
}

func (x *Exporter) transformPage(ctx context.Context, table Table, page *Page) error {
	if x.RowTransformer == nil {
		return nil
	}
	for i, values := range page.Rows {
		row := Row{Table: table, Columns: page.Columns, Values: values}
		if err := x.RowTransformer.TransformRow(ctx, &row); err != nil {
			return fmt.Errorf(`transform row error: %w`, err)
		}
		page.Rows[i] = row.Values
	}
	return nil
}

func (x *Exporter) exportSchema(ctx context.Context, table Table) ([]byte, error) {
	ddl, err := x.Source.TableSchema(ctx, table)
	if err != nil {
		return nil, &SourceReadError{Table: table, Err: err}
	}

	drop, err := x.Dialect.DropTable(&DropTable{Table: table})
	if err != nil {
		return nil, fmt.Errorf(`table %s drop table error: %w`, table, err)
	}

	var b strings.Builder
	b.WriteString(drop.SQL)
	b.WriteString(";\n")
	b.WriteString(strings.TrimRight(ddl, "; \t\r\n"))
	b.WriteString(";\n")

	return []byte(b.String()), nil
}

func (x *Exporter) writeHeader(w io.Writer, tables []Table) error {
	snippet, err := x.Dialect.Header(&Header{Tables: tables})
	if err != nil {
		return fmt.Errorf(`header error: %w`, err)
	}
	version := x.SourceVersion
	if version == `` {
		version = `unknown`
	}
	if _, err := fmt.Fprintf(
		w,
		"-- %s Database Export\n-- Generated on: %s\n-- Source version: %s\n%s\n%s",
		x.tool(),
		x.now().UTC().Format(time.RFC3339),
		version,
		dump.ModeComment(BackslashEscapes(x.Dialect)),
		snippet.SQL,
	); err != nil {
		return &SinkWriteError{Err: err}
	}
	return nil
}

func (x *Exporter) writeFooter(w io.Writer, tables []Table) error {
	snippet, err := x.Dialect.Footer(&Footer{Tables: tables})
	if err != nil {
		return fmt.Errorf(`footer error: %w`, err)
	}
	if _, err := fmt.Fprintf(w, "\n%s\n-- Dump completed on: %s\n", snippet.SQL, x.now().UTC().Format(time.RFC3339)); err != nil {
		return &SinkWriteError{Err: err}
	}
	return nil
}

func (x *Exporter) resolveTables(ctx context.Context) ([]Table, error) {
	var tables []Table
	if len(x.Tables) != 0 {
		for _, table := range x.Tables {
			if !slices.Contains(tables, table) {
				tables = append(tables, table)
			}
		}
	} else {
		listed, err := x.Source.ListTables(ctx)
		if err != nil {
			return nil, &SourceReadError{Err: err}
		}
		tables = listed
		slices.SortFunc(tables, compareTables)
	}

	tables = slices.DeleteFunc(tables, x.excluded)

	if len(x.Dependencies) != 0 {
		if path := findCycle(x.Dependencies); path != nil {
			return nil, fmt.Errorf(`%w: %v`, ErrDependencyCycle, path)
		}
		tables = sortDependencies(tables, x.Dependencies)
	}

	return tables, nil
}

func (x *Exporter) excluded(table Table) bool {
	for _, v := range x.Exclude {
		if v.Name == table.Name && (v.Schema == `` || v.Schema == table.Schema) {
			return true
		}
	}
	return false
}

func (x *Exporter) setState(result *Result, progress Progress) {
	result.State = progress.State
	x.Logger.Trace().
		Str(`state`, progress.State.String()).
		Str(`table`, progress.Table.String()).
		Int64(`rows`, progress.Rows).
		Log(`export progress`)
	if x.OnProgress != nil {
		x.OnProgress(progress)
	}
}

func (x *Exporter) validate() error {
	if x == nil {
		return errors.New(`nil exporter`)
	}
	if x.Source == nil {
		return errors.New(`nil source`)
	}
	if x.Sink == nil {
		return errors.New(`nil sink`)
	}
	return x.validateDialect()
}

func (x *Exporter) validateDialect() error {
	if x.Dialect == nil {
		return errors.New(`nil dialect`)
	}
	if _, err := x.Dialect.DropTable(nil); err != nil {
		return err
	}
	if _, err := x.Dialect.InsertRows(nil); err != nil {
		return err
	}
	if _, err := x.Dialect.Header(nil); err != nil {
		return err
	}
	if _, err := x.Dialect.Footer(nil); err != nil {
		return err
	}
	return nil
}

func (x *Exporter) batchSize() int {
	if x.BatchSize == 0 {
		return DefaultBatchSize
	}
	if x.BatchSize < 0 {
		return 0
	}
	return x.BatchSize
}

func (x *Exporter) tool() string {
	if x.Tool == `` {
		return DefaultTool
	}
	return x.Tool
}

func (x *Exporter) now() time.Time {
	if x.Now != nil {
		return x.Now()
	}
	return time.Now()
}

func (x *countingWriter) Write(p []byte) (int, error) {
	n, err := x.w.Write(p)
	x.n += int64(n)
	return n, err
}
