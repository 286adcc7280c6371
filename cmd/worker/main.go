// worker runs a single worker loop for one normalized agent id, wrapping a
// sandboxed computer-use driver binary and polling the hub's shared
// storage for claimable tasks.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"taskhub/internal/bootstrap"
	"taskhub/internal/config"
	"taskhub/internal/executor"
	"taskhub/internal/logging"
	"taskhub/internal/sweeper"
	"taskhub/internal/worker"
)

// shutdownGrace mirrors the worker loop's own default ShutdownGrace, since
// the supervising process needs to know how long to wait for Run to return
// before giving up and exiting anyway.
const shutdownGrace = 60 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	var (
		devMode      bool
		driverBinary string
		driverArgs   []string
	)

	root := &cobra.Command{
		Use:   "worker",
		Short: "One worker loop, claiming and executing tasks for a single agent_id",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), devMode, driverBinary, driverArgs)
		},
	}
	root.Flags().BoolVar(&devMode, "dev", false, "run against in-memory stores instead of Postgres/MinIO/MongoDB")
	root.Flags().StringVar(&driverBinary, "driver-binary", "", "computer-use driver binary to invoke per task (required)")
	root.Flags().StringArrayVar(&driverArgs, "driver-arg", nil, "extra argument passed to the driver binary before the task text (repeatable)")
	root.SilenceUsage = true
	root.SilenceErrors = true

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	root.SetContext(ctx)

	if err := root.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			fmt.Fprintln(os.Stderr, err)
			return ee.code
		}
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func serve(ctx context.Context, devMode bool, driverBinary string, driverArgs []string) error {
	log := logging.NewComponentLogger("worker")

	if driverBinary == "" {
		return &exitError{code: 1, err: fmt.Errorf("--driver-binary is required")}
	}

	cfg, _, err := config.Load()
	if err != nil {
		return &exitError{code: 1, err: fmt.Errorf("loading config: %w", err)}
	}
	if cfg.AgentID == "" {
		return &exitError{code: 1, err: fmt.Errorf("AGENT_ID is required")}
	}

	facade, closer, err := bootstrap.Build(ctx, cfg, devMode)
	if err != nil {
		return &exitError{code: 2, err: fmt.Errorf("connecting to storage: %w", err)}
	}
	defer closer()

	sweep := sweeper.New(facade, cfg.StaleTaskGrace, cfg.PollInterval)
	go sweep.Run(ctx)

	adapter := executor.New(executor.NewSubprocessDriver(driverBinary, driverArgs...))
	loop := worker.New(worker.Config{
		AgentID:      cfg.AgentID,
		WorkdirRoot:  cfg.WorkdirRoot,
		PollInterval: cfg.PollInterval,
		TaskTimeout:  cfg.RunTaskTimeout,
	}, facade, adapter)

	done := make(chan struct{})
	go func() {
		defer close(done)
		loop.Run(ctx)
	}()

	<-ctx.Done()
	log.Info("shutdown signal received, finishing in-flight task")
	loop.RequestShutdown()

	select {
	case <-done:
	case <-time.After(shutdownGrace):
		log.Warn("worker loop did not stop within the shutdown grace period")
	}

	return &exitError{code: 130, err: fmt.Errorf("interrupted")}
}
