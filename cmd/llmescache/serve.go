package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/illmade-knight/go-llmescache/pkg/cacheapi"
	"github.com/illmade-knight/go-llmescache/pkg/microservice"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve both caches over HTTP with health and metrics endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			records, closeFn, err := a.llmCache(ctx)
			if err != nil {
				return fmt.Errorf("init llm cache: %w", err)
			}
			defer func() { _ = closeFn() }()
			vectors, err := a.embedStore(ctx)
			if err != nil {
				return fmt.Errorf("init embedding store: %w", err)
			}

			server := microservice.NewBaseServer(a.logger, a.cfg.HTTPPort, a.backend, !a.cfg.DisableMetrics)
			cacheapi.NewHandler(records, vectors, a.logger).Register(server.Mux())
			if err := server.Start(); err != nil {
				return err
			}
			a.logger.Info().Str("service", a.cfg.ServiceName).Str("port", server.GetHTTPPort()).Msg("Cache service started.")

			<-ctx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}
}
