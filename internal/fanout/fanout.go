// Package fanout delivers one message to many registered clients at once,
// isolating every recipient's failure from the others.
package fanout

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/Tyrowin/sailhub/internal/registry"
)

const instrumentationName = "github.com/Tyrowin/sailhub/internal/fanout"

// Source provides the recipients of a broadcast.
type Source interface {
	Snapshot() []registry.Entry
}

// Config tunes delivery.
type Config struct {
	// SendTimeout bounds a single recipient's send. Zero means no bound.
	SendTimeout time.Duration
	// MaxConcurrency caps in-flight sends per broadcast. Zero means one
	// goroutine per recipient.
	MaxConcurrency int
}

// Result summarizes one broadcast.
type Result struct {
	Attempted int
	Failed    int
}

// Fanout broadcasts to the clients of a Source.
type Fanout struct {
	source Source
	cfg    Config
	logger *slog.Logger

	delivered metric.Int64Counter
	failed    metric.Int64Counter
}

// New creates a Fanout over source. Metrics use the global OTel meter.
func New(source Source, cfg Config, logger *slog.Logger) (*Fanout, error) {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Fanout{source: source, cfg: cfg, logger: logger}

	m := otel.Meter(instrumentationName)

	var err error
	f.delivered, err = m.Int64Counter(
		"fanout.sends.delivered",
		metric.WithDescription("Messages handed to a client connection"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating delivered counter: %w", err)
	}

	f.failed, err = m.Int64Counter(
		"fanout.sends.failed",
		metric.WithDescription("Sends that errored, timed out or panicked"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating failed counter: %w", err)
	}

	return f, nil
}

// SendToAll delivers msg to every registered client.
func (f *Fanout) SendToAll(ctx context.Context, msg []byte) Result {
	return f.broadcast(ctx, msg, "")
}

// SendToAllExcept delivers msg to every registered client but excludedID.
func (f *Fanout) SendToAllExcept(ctx context.Context, msg []byte, excludedID string) Result {
	return f.broadcast(ctx, msg, excludedID)
}

func (f *Fanout) broadcast(ctx context.Context, msg []byte, excludedID string) Result {
	targets := f.source.Snapshot()

	p := pool.New().WithErrors()
	if f.cfg.MaxConcurrency > 0 {
		p = p.WithMaxGoroutines(f.cfg.MaxConcurrency)
	}

	var attempted, failed atomic.Int64
	for _, target := range targets {
		if target.ID == excludedID || target.Conn == nil {
			continue
		}
		attempted.Add(1)
		p.Go(func() error {
			if err := f.sendOne(ctx, target, msg); err != nil {
				failed.Add(1)
				f.failed.Add(ctx, 1)
				f.logger.Warn("Broadcast send failed", "client_id", target.ID, "error", err)
				return nil
			}
			f.delivered.Add(ctx, 1)
			return nil
		})
	}
	// Per-recipient errors are already logged; Wait only joins.
	_ = p.Wait()

	return Result{Attempted: int(attempted.Load()), Failed: int(failed.Load())}
}

func (f *Fanout) sendOne(ctx context.Context, target registry.Entry, msg []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during send: %v", r)
		}
	}()

	if f.cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.SendTimeout)
		defer cancel()
	}
	return target.Conn.Send(ctx, msg)
}
