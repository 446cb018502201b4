package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"studycore/internal/httpapi"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			log := newLogger(os.Stderr, cfg.LogLevel, cfg.LogJSON)
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			a, err := build(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					log.Warn().Err(err).Msg("close")
				}
			}()
			return serve(ctx, a)
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", os.Getenv("STUDYCORE_ADDR"), "HTTP listen address; defaults to STUDYCORE_ADDR")
	cmd.Flags().StringVar(&opts.dbPath, "db", "", "SQLite chunk database path")
	cmd.Flags().StringVar(&opts.corsOrigins, "cors-origins", "", "Comma separated allowed CORS origins")
	return cmd
}

// serve runs the HTTP server, the memory monitor and model startup until ctx
// is canceled or one of them fails.
func serve(ctx context.Context, a *app) error {
	mux := httpapi.NewMux(a.manager, httpapi.Options{
		Logger:          &a.log,
		BaseContext:     ctx,
		CORSOrigins:     a.cfg.CORSOrigins,
		DefaultLogLevel: httpapi.ParseLogLevel(a.cfg.LogLevel),
	})
	srv := &http.Server{
		Addr:              a.cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info().Str("addr", a.cfg.Addr).Str("models_dir", a.cfg.ModelsDir).Msg("studycored listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := a.monitor.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error { return a.manager.Start(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info().Msg("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(sctx)
		if uerr := a.engine.UnloadAll(); uerr != nil {
			a.log.Warn().Err(uerr).Msg("unload models")
		}
		return err
	})
	return g.Wait()
}
