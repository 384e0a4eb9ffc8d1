package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/joeycumines/go-sitemigrate/config"
	"github.com/joeycumines/go-sitemigrate/migrate"
	"github.com/spf13/cobra"
)

const (
	flagNoSchema     = `no-schema`
	flagNoData       = `no-data`
	flagKeep         = `keep`
	flagTargetDriver = `target-driver`
	flagTargetDSN    = `target-dsn`
	flagReplaceOn    = `replace-on`
)

func exportFlags(cmd *cobra.Command) {
	cmd.Flags().Bool(flagNoSchema, false, `omit DROP TABLE and CREATE TABLE statements`)
	cmd.Flags().Bool(flagNoData, false, `omit INSERT statements`)
}

func (x *command) exportRequest(cmd *cobra.Command, source *migrate.Database, destination string) migrate.ExportRequest {
	noSchema, _ := cmd.Flags().GetBool(flagNoSchema)
	noData, _ := cmd.Flags().GetBool(flagNoData)
	return migrate.ExportRequest{
		Source:           source,
		Destination:      destination,
		Replace:          x.config.Replace,
		Tables:           x.config.Tables,
		Exclude:          x.config.Exclude,
		BatchSize:        x.config.ChunkSize,
		RepairSerialized: x.config.RepairSerialized,
		ContinueOnError:  x.config.ContinueOnError,
		NoSchema:         noSchema,
		NoData:           noData,
	}
}

func (x *command) importRequest(target *migrate.Database, source string) migrate.ImportRequest {
	return migrate.ImportRequest{
		Target:           target,
		Source:           source,
		Replace:          x.config.Replace,
		BackupDir:        x.config.BackupDir,
		BatchSize:        x.config.ImportBatchSize,
		ValidateSample:   x.config.ValidateSample,
		RepairSerialized: x.config.RepairSerialized,
		Backup:           x.config.Backup,
	}
}

func (x *command) exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   `export <file>`,
		Short: `Export the database to a dump file, applying any replacements`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			source, err := x.openDatabase(cmd.Context())
			if err != nil {
				return err
			}
			defer closeDatabase(source, &err)
			job, err := x.orchestrator().Export(cmd.Context(), x.exportRequest(cmd, source, args[0]))
			return x.report(cmd, job, err)
		},
	}
	exportFlags(cmd)
	return cmd
}

func (x *command) pushCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   `push [file]`,
		Short: `Export the database, applying any replacements, then upload the dump to the remote`,
		Long: `Export the database, applying any replacements, then upload the dump to the remote.
The dump is written to a temporary file, unless a file is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			if x.config.Remote.URL == `` {
				return fmt.Errorf(`no %s configured`, config.KeyRemoteURL)
			}

			var destination string
			if len(args) != 0 {
				destination = args[0]
			} else {
				if destination, err = tempName(`sitemigrate-push-*.sql`); err != nil {
					return err
				}
				defer func() {
					_ = os.Remove(destination)
					_ = os.Remove(destination + migrate.IncompleteSuffix)
				}()
			}

			source, err := x.openDatabase(cmd.Context())
			if err != nil {
				return err
			}
			defer closeDatabase(source, &err)

			req := x.exportRequest(cmd, source, destination)
			req.Push = true
			job, err := x.orchestrator().Export(cmd.Context(), req)
			if len(args) == 0 && job != nil {
				job.Output = ``
			}
			return x.report(cmd, job, err)
		},
	}
	exportFlags(cmd)
	return cmd
}

func (x *command) importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   `import <file>`,
		Short: `Import a dump file into the database, after backing it up`,
		Long: `Import a dump file into the database, after backing it up (see --backup), applying any
replacements to the string literals of INSERT statements.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			target, err := x.openDatabase(cmd.Context())
			if err != nil {
				return err
			}
			defer closeDatabase(target, &err)
			job, err := x.orchestrator().Import(cmd.Context(), x.importRequest(target, args[0]))
			return x.report(cmd, job, err)
		},
	}
}

func (x *command) pullCmd() *cobra.Command {
	return &cobra.Command{
		Use:   `pull`,
		Short: `Download a fresh dump from the remote, and import it into the database`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			if x.config.Remote.URL == `` {
				return fmt.Errorf(`no %s configured`, config.KeyRemoteURL)
			}
			target, err := x.openDatabase(cmd.Context())
			if err != nil {
				return err
			}
			defer closeDatabase(target, &err)
			req := x.importRequest(target, ``)
			req.Pull = true
			job, err := x.orchestrator().Import(cmd.Context(), req)
			return x.report(cmd, job, err)
		},
	}
}

func (x *command) transferCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   `transfer`,
		Short: `Export the database, and import it into the target database`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			targetDriver, _ := cmd.Flags().GetString(flagTargetDriver)
			targetDSN, _ := cmd.Flags().GetString(flagTargetDSN)
			replaceOn, _ := cmd.Flags().GetString(flagReplaceOn)
			keep, _ := cmd.Flags().GetString(flagKeep)

			if targetDriver == `` {
				targetDriver = x.config.Driver
			}

			source, err := x.openDatabase(cmd.Context())
			if err != nil {
				return err
			}
			defer closeDatabase(source, &err)

			target, err := openDatabase(cmd.Context(), targetDriver, targetDSN)
			if err != nil {
				return err
			}
			defer closeDatabase(target, &err)

			req := migrate.TransferRequest{
				Export: x.exportRequest(cmd, source, keep),
				Import: x.importRequest(target, ``),
			}
			switch replaceOn {
			case `export`:
				req.Import.Replace = nil
			case `import`:
				req.Export.Replace = nil
			default:
				return errors.New(`invalid ` + flagReplaceOn + `: ` + replaceOn)
			}

			job, err := x.orchestrator().Transfer(cmd.Context(), req)
			return x.report(cmd, job, err)
		},
	}
	exportFlags(cmd)
	cmd.Flags().String(flagTargetDriver, ``, `target database driver (defaults to --driver)`)
	cmd.Flags().String(flagTargetDSN, ``, `target database connection string`)
	cmd.Flags().String(flagReplaceOn, `export`, `apply replacements during the export or the import`)
	cmd.Flags().String(flagKeep, ``, `keep the intermediate dump at this path`)
	return cmd
}

func tempName(pattern string) (string, error) {
	file, err := os.CreateTemp(``, pattern)
	if err != nil {
		return ``, err
	}
	return file.Name(), file.Close()
}
