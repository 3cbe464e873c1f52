package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/spf13/cobra"
	fiberSwagger "github.com/swaggo/fiber-swagger"
	"go.uber.org/zap"

	runsHttp "cohort-retention-service/internal/cohorts/adapters/http/fiber"
	"cohort-retention-service/internal/platform/metrics"
)

func newServeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the admin API for triggering cohort runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.serve(cmd)
		},
	}
}

func (c *cli) serve(cmd *cobra.Command) error {
	if err := c.cfg.Validate(); err != nil {
		return err
	}

	recorder := metrics.NewRecorder()
	p, err := c.build(cmd.Context(), recorder, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer p.Close()

	checks := map[string]runsHttp.Pinger{"source": p.source}
	if p.sink != nil {
		checks["sink"] = p.sink
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		// Runs are synchronous and may take minutes.
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
	})

	runsHandler := runsHttp.NewRunHandler(p.uc, checks, c.cfg.Granularity, c.log.Named("http"))
	app.Post("/runs", runsHandler.CreateRun)
	app.Get("/healthz", runsHandler.Health)

	app.Get("/metrics", adaptor.HTTPHandler(recorder.Handler()))

	// Swagger
	app.Get("/docs/*", fiberSwagger.WrapHandler)

	// Graceful shutdown
	listenErr := make(chan error, 1)
	go func() {
		listenErr <- app.Listen(c.cfg.HTTPAddr)
	}()

	c.log.Info("server started", zap.String("addr", c.cfg.HTTPAddr))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-listenErr:
		if err != nil {
			return fmt.Errorf("listen %s: %w", c.cfg.HTTPAddr, err)
		}
		return nil
	case <-ctx.Done():
	}

	c.log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		c.log.Error("fiber shutdown error", zap.Error(err))
	}

	c.log.Info("server exiting")
	return nil
}
