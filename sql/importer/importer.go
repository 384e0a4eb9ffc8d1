// Package importer executes the statements of a dump against a target database, in order, with a post-import
// integrity check of serialized values.
package importer

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"

	"github.com/joeycumines/go-sitemigrate/phpserial"
	"github.com/joeycumines/go-sitemigrate/replace"
	"github.com/joeycumines/go-sitemigrate/sql/dump"
	"github.com/joeycumines/go-sitemigrate/sql/export"
	"github.com/joeycumines/logiface"
)

const (
	DefaultBatchSize  = 100
	DefaultSampleSize = 100
)

type (
	// Importer executes statements against Target, strictly in order, without any retries. If the Target is a
	// Transactor, statements are grouped into transactions of at most BatchSize statements.
	Importer struct {
		Target Target
		Logger *logiface.Logger[logiface.Event]
		// Transformer is optional, and may be used to modify each statement prior to execution, see also
		// ReplaceLiterals.
		Transformer StatementTransformer
		// Backup is called prior to executing any statements, if CreateBackupFirst is set.
		Backup func(ctx context.Context) error
		// Validation configures the post-import integrity check, which is skipped if nil.
		Validation *Validation
		// OnProgress is optional, and is called synchronously, after each statement.
		OnProgress func(p Progress)
		// TotalBytes is the size of the dump, if known, and is used only for progress.
		TotalBytes int64
		// BatchSize is the max statements per transaction, and defaults to DefaultBatchSize if 0.
		// A negative value disables transactions.
		BatchSize int
		// CreateBackupFirst requires Backup to succeed before any statements are executed.
		CreateBackupFirst bool
	}

	// Validation configures sampling of imported tables, checking that every value that looks serialized is
	// well-formed.
	Validation struct {
		// Source reads from the target, e.g. an export.DatabaseSource.
		Source export.Source
		// Tables are sampled in addition to those the dump inserted into.
		Tables []export.Table
		// SampleSize is the max rows per table, and defaults to DefaultSampleSize if 0.
		SampleSize int64
	}

	// StatementTransformer may be used to modify statements prior to execution.
	StatementTransformer interface {
		TransformStatement(ctx context.Context, stmt *dump.Statement) error
	}

	StatementTransformerFunc func(ctx context.Context, stmt *dump.Statement) error

	Progress struct {
		// Table is the table of the last statement, if it was an insert.
		Table string
		// Executed is the number of statements executed so far.
		Executed int
		// Bytes is the offset in the dump, after the last statement.
		Bytes int64
		// TotalBytes is Importer.TotalBytes, or 0 if unknown.
		TotalBytes int64
	}

	Result struct {
		// Integrity is set if validation found problems, in which case the import still succeeded.
		Integrity *IntegrityValidationError
		// Tables lists the tables inserted into, in order of first appearance.
		Tables []export.Table
		// Executed is the number of statements executed successfully, and committed, if using transactions.
		Executed int
		// SerializedChecked is the number of sampled values that looked serialized.
		SerializedChecked int
	}

	replaceLiterals struct {
		replacer         *replace.Replacer
		backslashEscapes bool
	}

	// batch tracks statements executed in the current transaction
	batch struct {
		tx Tx
		n  int
	}
)

var (
	_ StatementTransformer = StatementTransformerFunc(nil)
	_ StatementTransformer = (*replaceLiterals)(nil)
)

func (x StatementTransformerFunc) TransformStatement(ctx context.Context, stmt *dump.Statement) error {
	return x(ctx, stmt)
}

// ReplaceLiterals adapts replacer to a StatementTransformer, replacing within the string literals of INSERT and
// REPLACE statements, leaving all other statements (e.g. DDL) unmodified. The backslashEscapes flag must match
// the dump, see dump.WithBackslashEscapes.
func ReplaceLiterals(replacer *replace.Replacer, backslashEscapes bool) StatementTransformer {
	return &replaceLiterals{replacer: replacer, backslashEscapes: backslashEscapes}
}

func (x *replaceLiterals) TransformStatement(_ context.Context, stmt *dump.Statement) error {
	if _, ok := dump.InsertTable(stmt.Text); ok {
		stmt.Text = dump.RewriteLiterals(stmt.Text, x.backslashEscapes, x.replacer.Replace)
	}
	return nil
}

// Import executes statements in order, stopping on the first failure, with a *StatementExecutionError. If ctx
// is canceled, the statement in progress runs to completion, statements already executed are committed, and
// ctx.Err() is returned. Session statements (see dump.Session) are executed outside of any transaction, on
// Target directly. A non-nil Result is always returned if validation passed.
func (x *Importer) Import(ctx context.Context, statements iter.Seq2[dump.Statement, error]) (*Result, error) {
	if err := x.validate(); err != nil {
		return nil, err
	}

	var result Result

	if x.CreateBackupFirst {
		if x.Backup == nil {
			return &result, &BackupError{Err: ErrNoBackup}
		}
		x.Logger.Info().Log(`creating backup prior to import`)
		if err := x.Backup(ctx); err != nil {
			x.Logger.Err().Err(err).Log(`backup failed, import aborted`)
			return &result, &BackupError{Err: err}
		}
	}

	if err := x.execute(ctx, statements, &result); err != nil {
		if ctx.Err() != nil {
			x.Logger.Warning().
				Int(`executed`, result.Executed).
				Log(`import cancelled`)
			return &result, ctx.Err()
		}
		x.Logger.Err().
			Err(err).
			Int(`executed`, result.Executed).
			Log(`import failed`)
		return &result, err
	}

	x.Logger.Info().
		Int(`executed`, result.Executed).
		Int(`tables`, len(result.Tables)).
		Log(`import complete`)

	if x.Validation != nil {
		if err := x.validateIntegrity(ctx, &result); err != nil {
			return &result, err
		}
	}

	return &result, nil
}

func (x *Importer) execute(ctx context.Context, statements iter.Seq2[dump.Statement, error], result *Result) (err error) {
	var b batch
	defer func() {
		if b.tx == nil {
			return
		}
		if err != nil && ctx.Err() == nil {
			_ = b.tx.Rollback()
			return
		}
		// cancellation is only checked between statements, so everything executed is committed
		if e := x.commit(&b, result); e != nil && err == nil {
			err = e
		}
	}()

	for stmt, err := range statements {
		if err != nil {
			return fmt.Errorf(`read statement error: %w`, err)
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		if x.Transformer != nil {
			if err := x.Transformer.TransformStatement(ctx, &stmt); err != nil {
				return fmt.Errorf(`statement %d at offset %d transform error: %w`, stmt.Index, stmt.Offset, err)
			}
		}

		target := x.Target
		if dump.Session(stmt.Text) {
			// connection state (e.g. PRAGMA foreign_keys) is ignored within a transaction
			if b.tx != nil {
				if err := x.commit(&b, result); err != nil {
					return err
				}
			}
		} else if target, err = x.target(ctx, &b); err != nil {
			return err
		}

		// statements run to completion, cancellation is checked between them
		if _, err := target.ExecContext(context.WithoutCancel(ctx), string(stmt.Text)); err != nil {
			if b.tx != nil {
				_ = b.tx.Rollback()
				b = batch{}
			}
			return &StatementExecutionError{
				Err:       err,
				Statement: stmt.Text,
				Index:     stmt.Index,
				Offset:    stmt.Offset,
			}
		}

		progress := Progress{
			Bytes:      stmt.Offset + int64(len(stmt.Text)),
			TotalBytes: max(x.TotalBytes, 0),
		}

		if name, ok := dump.InsertTable(stmt.Text); ok {
			progress.Table = name
			var table export.Table
			if table.UnmarshalText([]byte(name)) == nil && !slices.Contains(result.Tables, table) {
				result.Tables = append(result.Tables, table)
			}
		}

		if b.tx != nil {
			b.n++
			if b.n >= x.batchSize() {
				if err := x.commit(&b, result); err != nil {
					return err
				}
			}
		} else {
			result.Executed++
		}

		progress.Executed = result.Executed + b.n
		if x.OnProgress != nil {
			x.OnProgress(progress)
		}

		x.Logger.Trace().
			Int(`index`, stmt.Index).
			Int64(`offset`, stmt.Offset).
			Log(`executed statement`)
	}

	return nil
}

// target returns the current transaction, starting one if possible, or Target
func (x *Importer) target(ctx context.Context, b *batch) (Target, error) {
	if b.tx != nil {
		return b.tx, nil
	}
	transactor, ok := x.Target.(Transactor)
	if !ok || x.batchSize() <= 0 {
		return x.Target, nil
	}
	// the transaction must outlive cancellation, so it may be committed
	tx, err := transactor.BeginTx(context.WithoutCancel(ctx))
	if err != nil {
		return nil, fmt.Errorf(`begin transaction error: %w`, err)
	}
	b.tx = tx
	return tx, nil
}

func (x *Importer) commit(b *batch, result *Result) error {
	tx, n := b.tx, b.n
	*b = batch{}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf(`commit error: %w`, err)
	}
	result.Executed += n
	x.Logger.Debug().
		Int(`statements`, n).
		Int(`executed`, result.Executed).
		Log(`committed batch`)
	return nil
}

func (x *Importer) validateIntegrity(ctx context.Context, result *Result) error {
	tables := slices.Clone(result.Tables)
	for _, table := range x.Validation.Tables {
		if !slices.Contains(tables, table) {
			tables = append(tables, table)
		}
	}

	var failures []IntegrityFailure

	for _, table := range tables {
		if err := ctx.Err(); err != nil {
			return err
		}

		page, err := x.Validation.Source.FetchPage(ctx, table, x.Validation.sampleSize(), 0)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures = append(failures, IntegrityFailure{Table: table, Err: err})
			continue
		}

		for i, row := range page.Rows {
			for j, value := range row {
				if value == nil || !phpserial.LooksSerialized(value) {
					continue
				}
				result.SerializedChecked++
				if !phpserial.Valid(value) {
					var column string
					if j < len(page.Columns) {
						column = page.Columns[j]
					}
					failures = append(failures, IntegrityFailure{Table: table, Column: column, Row: int64(i)})
				}
			}
		}
	}

	if len(failures) != 0 {
		result.Integrity = &IntegrityValidationError{Failures: failures}
		x.Logger.Warning().
			Err(result.Integrity).
			Int(`checked`, result.SerializedChecked).
			Log(`integrity validation found problems`)
	} else {
		x.Logger.Info().
			Int(`tables`, len(tables)).
			Int(`checked`, result.SerializedChecked).
			Log(`integrity validation passed`)
	}

	return nil
}

func (x *Importer) validate() error {
	if x == nil {
		return errors.New(`nil importer`)
	}
	if x.Target == nil {
		return errors.New(`nil target`)
	}
	if x.Validation != nil && x.Validation.Source == nil {
		return errors.New(`nil validation source`)
	}
	return nil
}

func (x *Importer) batchSize() int {
	if x.BatchSize == 0 {
		return DefaultBatchSize
	}
	if x.BatchSize < 0 {
		return 0
	}
	return x.BatchSize
}

func (x *Validation) sampleSize() int64 {
	if x.SampleSize <= 0 {
		return DefaultSampleSize
	}
	return x.SampleSize
}
