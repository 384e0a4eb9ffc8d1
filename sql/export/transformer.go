package export

import (
	"context"

	"github.com/joeycumines/go-sitemigrate/replace"
)

type (
	// RowTransformer may be provided as a hook to modify rows before they are written.
	RowTransformer interface {
		TransformRow(ctx context.Context, row *Row) error
	}

	// RowTransformerFunc implements RowTransformer.
	RowTransformerFunc func(ctx context.Context, row *Row) error

	// Row is a single row, read from a Source. A nil value is NULL.
	Row struct {
		Table   Table
		Columns []string
		Values  [][]byte
	}

	replaceRows struct {
		replacer *replace.Replacer
	}
)

var (
	_ RowTransformer = RowTransformerFunc(nil)
	_ RowTransformer = (*replaceRows)(nil)
)

func (x RowTransformerFunc) TransformRow(ctx context.Context, row *Row) error { return x(ctx, row) }

// ReplaceRows adapts replacer to a RowTransformer, replacing every non-nil value.
func ReplaceRows(replacer *replace.Replacer) RowTransformer {
	return &replaceRows{replacer: replacer}
}

func (x *replaceRows) TransformRow(_ context.Context, row *Row) error {
	row.Values = x.replacer.ReplaceRow(replace.Row{Columns: row.Columns, Values: row.Values}).Values
	return nil
}
