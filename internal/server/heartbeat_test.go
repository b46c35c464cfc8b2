package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/sailhub/internal/telemetry"
)

type recordingSink struct {
	mu     sync.Mutex
	writes []telemetry.Status
	err    error
	closed bool
}

func (s *recordingSink) Write(_ context.Context, st telemetry.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, st)
	return s.err
}

func (s *recordingSink) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}

func TestHub_HeartbeatExportsStatus(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	sink := &recordingSink{}
	env.hub.status = sink

	env.engine.Spawn(context.Background())
	env.engine.Spawn(context.Background())
	env.join(t)

	env.hub.heartbeat(context.Background())

	require.Equal(t, 1, sink.count())
	got := sink.writes[0]
	assert.Equal(t, 1, got.Clients)
	assert.Equal(t, 2, got.Entities)
	assert.Equal(t, 0, got.Recordings)
	assert.False(t, got.Recording)
}

func TestHub_HeartbeatSinkErrorIsNotFatal(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	sink := &recordingSink{err: errors.New("influx down")}
	env.hub.status = sink

	assert.NotPanics(t, func() { env.hub.heartbeat(context.Background()) })
	assert.Equal(t, 1, sink.count())
}

func TestHub_HeartbeatLoopRunsUntilCancel(t *testing.T) {
	opts := DefaultOptions()
	opts.HeartbeatInterval = 5 * time.Millisecond
	env := newTestEnv(t, envOptions{opts: opts})
	sink := &recordingSink{}
	env.hub.status = sink

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.hub.runHeartbeat(ctx) }()

	assert.Eventually(t, func() bool { return sink.count() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestHub_ShutdownClosesStatusSink(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	sink := &recordingSink{}
	env.hub.status = sink

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, env.hub.Shutdown(ctx))

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.True(t, sink.closed)
}
