package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/joeycumines/go-sitemigrate/config"
	"github.com/joeycumines/go-sitemigrate/phpserial"
	"github.com/joeycumines/go-sitemigrate/replace"
	"github.com/spf13/cobra"
)

const flagReverse = `reverse`

type inspection struct {
	Kind            string `json:"kind,omitempty"`
	Length          int    `json:"length"`
	Depth           int    `json:"depth"`
	Serialized      bool   `json:"serialized"`
	LooksSerialized bool   `json:"looks_serialized"`
	ContainsObjects bool   `json:"contains_objects"`
	// Repairable is set for values that look serialized, but fail to decode, until repaired.
	Repairable bool `json:"repairable,omitempty"`
}

func (x *command) replaceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   `replace`,
		Short: `Apply the replacements to a single value, read from stdin, writing the result to stdout`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m := x.config.Replace
			if len(m) == 0 {
				return fmt.Errorf(`no %s configured`, config.KeyReplace)
			}
			if reverse, _ := cmd.Flags().GetBool(flagReverse); reverse {
				m = m.Reverse()
			}

			replacer, err := replace.New(m, replace.WithRepair(x.config.RepairSerialized))
			if err != nil {
				return err
			}

			b, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return err
			}

			if _, err := cmd.OutOrStdout().Write(replacer.Replace(b)); err != nil {
				return err
			}

			stats := replacer.Stats()
			x.logger.Debug().
				Int64(`serialized`, stats.Serialized).
				Int64(`plain`, stats.Plain).
				Int64(`fallbacks`, stats.Fallbacks).
				Int64(`repaired`, stats.Repaired).
				Log(`replaced`)

			return nil
		},
	}
	cmd.Flags().Bool(flagReverse, false, `swap find and replace, e.g. to undo a migration`)
	return cmd
}

func (x *command) inspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   `inspect`,
		Short: `Describe a single (possibly serialized) value, read from stdin, as JSON`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return err
			}

			stats := phpserial.Inspect(b)
			v := inspection{
				Length:          stats.Length,
				Depth:           stats.Depth,
				Serialized:      stats.Serialized,
				LooksSerialized: phpserial.LooksSerialized(b),
				ContainsObjects: stats.ContainsObjects,
			}
			if stats.Serialized {
				v.Kind = stats.Kind.String()
			} else if v.LooksSerialized {
				repaired, err := phpserial.Repair(b)
				v.Repairable = err == nil && phpserial.Valid(repaired)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(``, `  `)
			return enc.Encode(v)
		},
	}
}
