package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"deferred-estate/settlement-backend/internal/app"
	"deferred-estate/settlement-backend/internal/config"
	"deferred-estate/settlement-backend/internal/scheduler"
)

// The worker closes expired contracts, resumes pending registrations, recovers
// stale token claims and settles marketplace purchases on cron schedules.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := newCommand()
	if err := cmd.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newCommand() *cli.App {
	return &cli.App{
		Name:  "settlement-worker",
		Usage: "run the settlement background jobs",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yaml",
				Usage:   "path to the configuration file",
				EnvVars: []string{"CONFIG_PATH"},
			},
		},
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:      "run",
				Usage:     "run a single job by name and exit",
				ArgsUsage: "<job>",
				Action:    runJob,
			},
		},
	}
}

type worker struct {
	app       *app.App
	scheduler *scheduler.Scheduler
	logger    *zap.Logger
}

func newWorker(c *cli.Context) (*worker, error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, err
	}
	logger, err := app.NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	initCtx, cancel := context.WithTimeout(c.Context, 30*time.Second)
	a, err := app.New(initCtx, cfg, logger)
	cancel()
	if err != nil {
		logger.Error("Failed to initialise services", zap.Error(err))
		return nil, err
	}

	s := scheduler.New(cfg.Scheduler.JobTimeout, a.Metrics, logger)
	for _, job := range scheduler.Jobs(cfg.Scheduler, a.Contracts, a.Marketplace, logger) {
		if err := s.Add(job); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to schedule job %s: %w", job.Name, err)
		}
	}
	return &worker{app: a, scheduler: s, logger: logger}, nil
}

func (w *worker) close() {
	w.app.Close()
	_ = w.logger.Sync()
}

func serve(c *cli.Context) error {
	w, err := newWorker(c)
	if err != nil {
		return err
	}
	defer w.close()

	if err := w.scheduler.Start(c.Context); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	w.logger.Info("Worker started")

	<-c.Context.Done()
	w.logger.Info("Shutting down worker...")
	w.scheduler.Stop()
	w.logger.Info("Worker exiting")
	return nil
}

func runJob(c *cli.Context) error {
	name := c.Args().First()
	if name == "" {
		return errors.New("job name is required")
	}
	w, err := newWorker(c)
	if err != nil {
		return err
	}
	defer w.close()

	n, err := w.scheduler.RunNow(c.Context, name)
	if err != nil {
		w.logger.Error("Job failed", zap.String("job", name), zap.Error(err))
		return err
	}
	w.logger.Info("Job finished", zap.String("job", name), zap.Int("handled", n))
	return nil
}
