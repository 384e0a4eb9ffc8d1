package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/joeycumines/go-sitemigrate/config"
	"github.com/joeycumines/go-sitemigrate/migrate"
	"github.com/joeycumines/go-sitemigrate/remote"
	"github.com/joeycumines/go-sitemigrate/replace"
	"github.com/joeycumines/go-sitemigrate/sql/export"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	flagImportReceived = `import-received`
	flagMaxBytes       = `max-bytes`

	shutdownTimeout = 30 * time.Second
)

func (x *command) serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   `serve`,
		Short: `Serve the database to remote push and pull commands`,
		Long: `Serve the database to remote push and pull commands, over HTTP. Pull requests receive a fresh
export, with any replacements applied. Pushed dumps are stored in the receive dir, and optionally imported.
Requests require the remote token, and are rate limited per client address.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			if x.config.Remote.Token == `` {
				return fmt.Errorf(`no %s configured`, config.KeyRemoteToken)
			}

			importReceived, _ := cmd.Flags().GetBool(flagImportReceived)
			maxBytes, _ := cmd.Flags().GetInt64(flagMaxBytes)

			database, err := x.openDatabase(cmd.Context())
			if err != nil {
				return err
			}
			defer closeDatabase(database, &err)

			server, err := x.server(database, importReceived)
			if err != nil {
				return err
			}
			server.MaxBytes = maxBytes

			listener, err := net.Listen(`tcp`, x.config.Listen)
			if err != nil {
				return err
			}

			return x.serve(cmd.Context(), listener, server)
		},
	}
	cmd.Flags().String(config.KeyListen, `127.0.0.1:8080`, `address to listen on`)
	cmd.Flags().String(config.KeyReceiveDir, `received`, `directory to store pushed dumps`)
	cmd.Flags().Int(config.KeyRateLimit, remote.DefaultRequestsPerHour, `max requests per client address, per hour`)
	cmd.Flags().Bool(flagImportReceived, false, `import pushed dumps into the database, as they are received`)
	cmd.Flags().Int64(flagMaxBytes, 0, `max size of pushed dumps, in bytes (0 is unlimited)`)
	return cmd
}

func (x *command) server(database *migrate.Database, importReceived bool) (*remote.Server, error) {
	var replacer *replace.Replacer
	if len(x.config.Replace) != 0 {
		var err error
		if replacer, err = replace.New(x.config.Replace, replace.WithRepair(x.config.RepairSerialized)); err != nil {
			return nil, err
		}
	}

	server := remote.Server{
		Limiter: remote.NewLimiter(x.config.RateLimit),
		Logger:  x.logger,
		Token:   x.config.Remote.Token,
		Dir:     x.config.ReceiveDir,
		Export: func(ctx context.Context, w io.Writer) error {
			e := export.Exporter{
				Source: &export.DatabaseSource{
					Reader: export.NewReader(database.Dialect, database.DB),
					Schema: database.Schema,
				},
				Dialect:         database.Dialect,
				Sink:            w,
				Logger:          x.logger,
				SourceVersion:   database.Version,
				Tables:          x.config.Tables,
				Exclude:         x.config.Exclude,
				BatchSize:       x.config.ChunkSize,
				ContinueOnError: x.config.ContinueOnError,
			}
			if replacer != nil {
				e.RowTransformer = export.ReplaceRows(replacer)
			}
			_, err := e.Export(ctx)
			return err
		},
	}

	if importReceived {
		// imports are serialized, in the order received
		sem := semaphore.NewWeighted(1)
		server.OnReceive = func(ctx context.Context, name string) error {
			if err := sem.Acquire(ctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)
			req := x.importRequest(database, name)
			// replacements apply to pulls, the pushing side is responsible for its own
			req.Replace = nil
			_, err := x.orchestrator().Import(ctx, req)
			return err
		}
	}

	return &server, nil
}

func (x *command) serve(ctx context.Context, listener net.Listener, handler http.Handler) error {
	srv := http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 30 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		x.logger.Info().Log(`shutting down`)
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	x.logger.Info().
		Str(`addr`, listener.Addr().String()).
		Log(`listening`)

	return g.Wait()
}
