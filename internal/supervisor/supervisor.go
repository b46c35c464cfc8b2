// Package supervisor keeps long-running background loops alive.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/Tyrowin/sailhub/internal/supervisor"

// DefaultBackoff is the pause between a task failure and its restart.
const DefaultBackoff = time.Second

// Task is a background loop. It should run until ctx is done.
type Task func(ctx context.Context) error

// PanicError wraps a value recovered from a panicking task.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

var restarts metric.Int64Counter

func init() {
	var err error
	restarts, err = otel.Meter(instrumentationName).Int64Counter(
		"supervisor.restarts",
		metric.WithDescription("Background task restarts after a failure"),
	)
	if err != nil {
		otel.Handle(err)
	}
}

// Run executes task and restarts it after backoff whenever it panics or
// returns, until ctx is done. It returns ctx.Err().
func Run(ctx context.Context, name string, task Task, backoff time.Duration, logger *slog.Logger) error {
	if backoff <= 0 {
		backoff = DefaultBackoff
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("task", name)

	for {
		err := runOnce(ctx, task)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var pe *PanicError
		if errors.As(err, &pe) {
			logger.Error("Background task panicked", "error", pe.Value, "stack", string(pe.Stack))
		} else {
			logger.Error("Background task stopped", "error", err)
		}
		if restarts != nil {
			restarts.Add(ctx, 1, metric.WithAttributes(attribute.String("task", name)))
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		logger.Info("Restarting background task", "backoff", backoff)
	}
}

func runOnce(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()

	if err = task(ctx); err == nil {
		err = errors.New("task returned without error")
	}
	return err
}
