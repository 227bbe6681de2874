package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/imaddar/pair-match/internal/api"
	"github.com/imaddar/pair-match/internal/config"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve sessions over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, a)
		},
	}
	flags := cmd.Flags()
	flags.String("addr", config.DefaultHTTPAddr, "HTTP listen address")
	flags.String("auth-token", "", "require this bearer token on every request")
	bindFlags(a.v, cmd, map[string]string{
		"addr":       config.KeyHTTPAddr,
		"auth-token": config.KeyAuthBearerToken,
	})
	return cmd
}

func runServe(ctx context.Context, a *app) error {
	repo, closeRepo, err := openRepository(ctx, a.cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeRepo() }()

	handler := api.NewServer(repo, api.ServerConfig{
		AuthBearerToken: a.cfg.AuthBearerToken,
		Session:         a.cfg.SessionConfig(),
		Logger:          a.logger,
	})
	defer handler.Close()

	server := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("pair-match server listening", "addr", a.cfg.HTTPAddr, "db_driver", a.cfg.DBDriver, "auth", a.cfg.AuthBearerToken != "")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
