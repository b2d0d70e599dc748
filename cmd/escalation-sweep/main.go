// Command escalation-sweep runs a single escalation pass and exits.
// It suits cron-style deployments that disable the in-process scheduler.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/config"
	"github.com/garyjia/approval-engine/internal/container"
	"github.com/garyjia/approval-engine/pkg/utils"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML config file")
	timeout := flag.Duration("timeout", 0, "sweep timeout, defaults to escalation.sweep_timeout")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
		Service:    "escalation-sweep",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, *timeout, logger); err != nil {
		logger.Error("Escalation sweep failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, timeout time.Duration, logger *zap.Logger) error {
	if timeout <= 0 {
		timeout = cfg.Escalation.SweepTimeout
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := container.NewContainer(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(context.Background()); err != nil {
			logger.Error("Container closed with errors", zap.Error(err))
		}
	}()

	if err := c.Start(ctx, false); err != nil {
		return err
	}

	sweepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result, err := c.Services().Escalations.RunEscalationSweep(sweepCtx)
	if err != nil {
		return err
	}

	logger.Info("Escalation sweep finished",
		zap.Int("scanned", result.Scanned),
		zap.Int("escalated", result.Escalated),
		zap.Int("failed", result.Failed),
		zap.Duration("duration", time.Since(start)))
	if result.Failed > 0 {
		return fmt.Errorf("%d requests failed to escalate", result.Failed)
	}
	return nil
}
