// Package cmd implements the sitemigrate command line interface.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joeycumines/go-sitemigrate/config"
	"github.com/joeycumines/go-sitemigrate/log"
	"github.com/joeycumines/go-sitemigrate/migrate"
	"github.com/joeycumines/go-sitemigrate/remote"
	"github.com/joeycumines/logiface"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const Version = `0.1.0`

type (
	// command holds the state shared by a root command and its subcommands, populated prior to running any
	// subcommand.
	command struct {
		settings *viper.Viper
		config   *config.Config
		logger   *logiface.Logger[logiface.Event]
		// envFiles are passed to config.LoadEnv.
		envFiles []string
	}
)

// NewRootCmd builds the sitemigrate command tree, reading settings from flags, SITEMIGRATE_ environment
// variables, .env files, and an optional config file.
func NewRootCmd() *cobra.Command {
	c := command{settings: config.New()}

	root := &cobra.Command{
		Use:   `sitemigrate`,
		Short: `Migrate WordPress databases between environments`,
		Long: fmt.Sprintf(`sitemigrate (v%s)

Exports, imports, and transfers WordPress databases, rewriting URLs and paths on the way
through, including within PHP serialized values, whose length prefixes are recomputed.`, Version),
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setup,
	}

	config.Flags(root.PersistentFlags())

	root.AddCommand(
		c.exportCmd(),
		c.pushCmd(),
		c.importCmd(),
		c.pullCmd(),
		c.transferCmd(),
		c.serveCmd(),
		c.replaceCmd(),
		c.inspectCmd(),
		&cobra.Command{
			Use:   `version`,
			Short: `Print the version number`,
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "sitemigrate v%s\n", Version)
			},
		},
	)

	return root
}

// Execute runs the root command, exiting non-zero on failure. It's called by main.main().
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := NewRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, `Error:`, err)
		os.Exit(1)
	}
}

func (x *command) setup(cmd *cobra.Command, _ []string) error {
	if err := config.LoadEnv(x.envFiles...); err != nil {
		return err
	}

	// includes the inherited persistent flags, once parsed
	if err := x.settings.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	cfg, err := config.Load(x.settings)
	if err != nil {
		return err
	}

	logger, err := log.New(log.Config{
		Output: cmd.ErrOrStderr(),
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})
	if err != nil {
		return err
	}

	x.config, x.logger = cfg, logger

	return nil
}

func (x *command) orchestrator() *migrate.Orchestrator {
	o := migrate.Orchestrator{
		Logger:   x.logger,
		Progress: x.progress(),
	}
	if client := x.client(); client != nil {
		o.Transport = client
	}
	return &o
}

// client returns nil if no remote is configured
func (x *command) client() *remote.Client {
	if x.config.Remote.URL == `` {
		return nil
	}
	retries := x.config.Remote.Retries
	if retries == 0 {
		retries = -1
	}
	return &remote.Client{
		Logger:     x.logger,
		BaseURL:    x.config.Remote.URL,
		Token:      x.config.Remote.Token,
		Timeout:    x.config.Remote.Timeout,
		MaxRetries: retries,
	}
}

// progress logs each change of step, and each whole percent, at debug level
func (x *command) progress() migrate.ProgressFunc {
	var (
		step    string
		percent = -1
	)
	return func(job migrate.Job) {
		if job.Step != step {
			step = job.Step
			x.logger.Info().
				Str(`job`, job.ID.String()).
				Str(`step`, step).
				Log(`starting step`)
		}
		if p := int(job.Percent); p != percent {
			percent = p
			x.logger.Debug().
				Str(`job`, job.ID.String()).
				Int(`percent`, p).
				Str(`table`, job.Table).
				Log(job.Message)
		}
	}
}

// report prints a summary of a job to stdout, returning err
func (x *command) report(cmd *cobra.Command, job *migrate.Job, err error) error {
	if job == nil {
		return err
	}
	w := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(w, "%s %s %s (%s)\n", job.Kind, job.Target, job.Status, job.Ended.Sub(job.Started).Round(time.Millisecond))
	if job.Output != `` {
		_, _ = fmt.Fprintf(w, "dump: %s\n", job.Output)
	}
	if job.Backup != `` {
		_, _ = fmt.Fprintf(w, "backup: %s\n", job.Backup)
	}
	if job.Ack != nil {
		_, _ = fmt.Fprintf(w, "remote: %s (%d bytes, sha256 %s)\n", job.Ack.Name, job.Ack.Bytes, job.Ack.SHA256)
	}
	if job.Warning != nil {
		_, _ = fmt.Fprintf(w, "warning: %v\n", job.Warning)
	}
	return err
}
