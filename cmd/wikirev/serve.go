package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ramsingla/acts-as-wiki/internal/auth"
	"github.com/ramsingla/acts-as-wiki/internal/jobs"
	"github.com/ramsingla/acts-as-wiki/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	tokenIssuer   = "wikirev"
	tokenAudience = "wikirev-api"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func newTokenIssuer(app *application) (*auth.TokenIssuer, error) {
	return auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(app.config.SigningSecret),
		Issuer:        tokenIssuer,
		Audience:      tokenAudience,
		TokenTTL:      app.config.TokenTTL,
	})
}

func runServer(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	app, err := newApplication(ctx)
	if err != nil {
		return err
	}
	defer app.Close()
	logger := app.logger

	if err := app.config.RequireServer(); err != nil {
		return err
	}

	tokenManager, err := newTokenIssuer(app)
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Tokens:  tokenManager,
		Records: app.records,
		Events:  app.events,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scheduler := jobs.NewScheduler(logger)
	if app.config.SweeperSchedule != "" {
		sweeper, err := jobs.NewOrphanSweeper(jobs.SweeperConfig{
			Store:    app.store,
			Owners:   app.owners,
			Schedule: app.config.SweeperSchedule,
			Logger:   logger,
		})
		if err != nil {
			return err
		}
		if err := scheduler.Register(sweeper); err != nil {
			return err
		}
	}
	scheduler.Start(signalCtx)
	defer scheduler.Stop()

	httpServer := &http.Server{
		Addr:    app.config.HTTPAddress,
		Handler: handler,
		// Event streams end with the process context instead of holding Shutdown open.
		BaseContext: func(net.Listener) context.Context { return signalCtx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", app.config.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
