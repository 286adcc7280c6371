// hub-server runs the Hub API plus the stalled-task sweeper and, with
// --embed-workers, an embedded set of worker loops so the whole system can
// be exercised from a single binary without standing up separate worker
// processes.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"taskhub/internal/api"
	"taskhub/internal/bootstrap"
	"taskhub/internal/config"
	"taskhub/internal/executor"
	"taskhub/internal/logging"
	"taskhub/internal/supervisor"
	"taskhub/internal/sweeper"
	"taskhub/internal/worker"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		devMode      bool
		embedWorkers bool
		driverBinary string
	)

	root := &cobra.Command{
		Use:   "hub-server",
		Short: "Task orchestration hub: Hub API, sweeper, and (optionally) embedded workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), devMode, embedWorkers, driverBinary)
		},
	}
	root.Flags().BoolVar(&devMode, "dev", false, "run against in-memory stores instead of Postgres/MinIO/MongoDB")
	root.Flags().BoolVar(&embedWorkers, "embed-workers", false, "run AGENT_COUNT worker loops in-process under the Agent Supervisor")
	root.Flags().StringVar(&driverBinary, "driver-binary", "", "computer-use driver binary for embedded workers (required with --embed-workers)")
	root.SilenceUsage = true
	root.SilenceErrors = true

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	root.SetContext(ctx)

	if err := root.Execute(); err != nil {
		if code, ok := exitCodeFor(err); ok {
			fmt.Fprintln(os.Stderr, err)
			return code
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

func exitCodeFor(err error) (int, bool) {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code, true
	}
	return 0, false
}

func serve(ctx context.Context, devMode, embedWorkers bool, driverBinary string) error {
	log := logging.NewComponentLogger("hub-server")

	cfg, _, err := config.Load()
	if err != nil {
		return &exitError{code: 1, err: fmt.Errorf("loading config: %w", err)}
	}

	facade, closer, err := bootstrap.Build(ctx, cfg, devMode)
	if err != nil {
		return &exitError{code: 2, err: fmt.Errorf("connecting to storage: %w", err)}
	}
	defer closer()

	sweep := sweeper.New(facade, cfg.StaleTaskGrace, cfg.PollInterval)
	go sweep.Run(ctx)

	var sup *supervisor.Supervisor
	if embedWorkers {
		if driverBinary == "" {
			return &exitError{code: 1, err: fmt.Errorf("--driver-binary is required with --embed-workers")}
		}
		sup = supervisor.New(func(agentID string) *worker.Loop {
			adapter := executor.New(executor.NewSubprocessDriver(driverBinary))
			return worker.New(worker.Config{
				AgentID:      agentID,
				WorkdirRoot:  cfg.WorkdirRoot,
				PollInterval: cfg.PollInterval,
				TaskTimeout:  cfg.RunTaskTimeout,
			}, facade, adapter)
		})
		for _, id := range cfg.AgentIDs() {
			if err := sup.Start(ctx, id); err != nil {
				return &exitError{code: 1, err: fmt.Errorf("starting embedded worker %s: %w", id, err)}
			}
		}
		log.Info("embedded %d worker loop(s) under the agent supervisor", cfg.AgentCount)
	}

	router := api.NewRouter(facade, api.RouterConfig{AgentCount: cfg.AgentCount})
	server := &http.Server{Addr: cfg.HubHTTPAddr, Handler: router}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("listening on %s", cfg.HubHTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, draining")
	case err := <-serveErr:
		return &exitError{code: 1, err: fmt.Errorf("http server: %w", err)}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server did not shut down cleanly: %v", err)
	}

	if sup != nil {
		sup.StopAll(cfg.RunTaskTimeout + 10*time.Second)
	}

	return &exitError{code: 130, err: errInterrupted}
}

var errInterrupted = fmt.Errorf("interrupted")
