// Package executor wraps the opaque computer-use driver behind a small
// adapter: it enforces the task timeout, captures stdout, and classifies
// driver failures into the hub's error taxonomy so the worker loop only
// ever sees ExecutionTimeout or ExecutionError.
package executor

import (
	"bytes"
	"context"
	"os/exec"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	huberrors "taskhub/internal/errors"
)

const tracerName = "taskhub/executor"

// Input is one driver invocation.
type Input struct {
	TaskText string
	Workdir  string
	Timeout  time.Duration
}

// Output is what a driver invocation produced.
type Output struct {
	Stdout     string
	ExitCode   int
	DurationMS int64
}

// Driver abstracts the sandboxed computer-use backend so the adapter can
// wrap either a real subprocess driver or a stub used in tests.
type Driver interface {
	Invoke(ctx context.Context, in Input) (Output, error)
}

// Adapter runs a Driver under a deadline and classifies its failures into
// the hub's error taxonomy.
type Adapter struct {
	driver Driver
}

func New(driver Driver) *Adapter {
	return &Adapter{driver: driver}
}

// Run enforces in.Timeout around the driver call. A context deadline
// exceeded becomes ExecutionTimeout; any other driver error becomes an
// ExecutionError classified by the driver's reported kind, defaulting to
// driver_runtime. The call is wrapped in a span so a task's execution
// latency and outcome show up in the same trace as the worker loop's
// storage calls.
func (a *Adapter) Run(ctx context.Context, in Input) (Output, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "executor.run", trace.WithAttributes(
		attribute.String("taskhub.workdir", in.Workdir),
		attribute.Int64("taskhub.timeout_seconds", int64(in.Timeout.Seconds())),
	))
	defer span.End()

	runCtx, cancel := context.WithTimeout(ctx, in.Timeout)
	defer cancel()

	start := time.Now()
	out, err := a.driver.Invoke(runCtx, in)
	out.DurationMS = time.Since(start).Milliseconds()
	span.SetAttributes(attribute.Int64("taskhub.duration_ms", out.DurationMS))

	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			timeoutErr := huberrors.NewExecutionTimeout(int(in.Timeout.Seconds()))
			span.SetStatus(codes.Error, timeoutErr.Error())
			return out, timeoutErr
		}
		kind := classify(err)
		execErr := huberrors.NewExecutionError(kind, err)
		span.RecordError(execErr)
		span.SetStatus(codes.Error, execErr.Error())
		return out, execErr
	}
	span.SetStatus(codes.Ok, "")
	return out, nil
}

// classifiable lets a driver tag its own errors with an ExecutionErrorKind;
// drivers that don't implement it fall back to driver_runtime.
type classifiable interface {
	ExecutionErrorKind() huberrors.ExecutionErrorKind
}

func classify(err error) huberrors.ExecutionErrorKind {
	if c, ok := err.(classifiable); ok {
		return c.ExecutionErrorKind()
	}
	return huberrors.ExecutionErrorDriverRuntime
}

// SubprocessDriver invokes an external binary (e.g. a CUA agent CLI) as the
// computer-use driver. On context cancellation the driver process gets
// SIGTERM, then SIGKILL after ForceKillGrace.
type SubprocessDriver struct {
	BinaryPath     string
	ExtraArgs      []string
	ForceKillGrace time.Duration
}

func NewSubprocessDriver(binaryPath string, extraArgs ...string) *SubprocessDriver {
	return &SubprocessDriver{BinaryPath: binaryPath, ExtraArgs: extraArgs, ForceKillGrace: 10 * time.Second}
}

func (d *SubprocessDriver) Invoke(ctx context.Context, in Input) (Output, error) {
	args := append(append([]string{}, d.ExtraArgs...), in.TaskText)
	cmd := exec.CommandContext(ctx, d.BinaryPath, args...)
	cmd.Dir = in.Workdir
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = d.ForceKillGrace

	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stdout

	err := cmd.Run()
	out := Output{Stdout: stdout.String(), ExitCode: -1}
	if cmd.ProcessState != nil {
		out.ExitCode = cmd.ProcessState.ExitCode()
	}
	if err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			return out, &driverRuntimeError{err: err}
		}
		return out, &driverInitError{err: err}
	}
	return out, nil
}

type driverInitError struct{ err error }

func (e *driverInitError) Error() string { return e.err.Error() }
func (e *driverInitError) Unwrap() error { return e.err }
func (e *driverInitError) ExecutionErrorKind() huberrors.ExecutionErrorKind {
	return huberrors.ExecutionErrorDriverInit
}

type driverRuntimeError struct{ err error }

func (e *driverRuntimeError) Error() string { return e.err.Error() }
func (e *driverRuntimeError) Unwrap() error { return e.err }
func (e *driverRuntimeError) ExecutionErrorKind() huberrors.ExecutionErrorKind {
	return huberrors.ExecutionErrorDriverRuntime
}
