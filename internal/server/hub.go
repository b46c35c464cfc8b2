// Package server coordinates client registration, pose relay, AI injection
// and connection cleanup for the sailing hub via the Hub type.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/sailhub/internal/fanout"
	"github.com/Tyrowin/sailhub/internal/model"
	"github.com/Tyrowin/sailhub/internal/protocol"
	"github.com/Tyrowin/sailhub/internal/recording"
	"github.com/Tyrowin/sailhub/internal/registry"
	"github.com/Tyrowin/sailhub/internal/sim"
	"github.com/Tyrowin/sailhub/internal/supervisor"
	"github.com/Tyrowin/sailhub/internal/telemetry"
)

// Components are the collaborators a Hub drives. Status may be nil.
type Components struct {
	Registry *registry.Registry
	Fanout   *fanout.Fanout
	Recorder *recording.Recorder
	Store    *recording.Store
	Engine   *sim.Engine
	Status   telemetry.Sink
}

// Hub owns every live connection and the background loops that feed them.
type Hub struct {
	opts     Options
	reg      *registry.Registry
	fan      *fanout.Fanout
	recorder *recording.Recorder
	store    *recording.Store
	engine   *sim.Engine
	status   telemetry.Sink
	logger   *slog.Logger

	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc

	clients sync.WaitGroup
	tasks   sync.WaitGroup

	mu      sync.Mutex
	started bool
	closed  bool

	// onRegistered runs after the initial_boats snapshot is built and before
	// it is queued. Tests use it to interleave departures with a join.
	onRegistered func(*Client)
}

// NewHub creates a Hub. Start must be called to run the simulation and
// heartbeat loops.
func NewHub(opts Options, c Components, logger *slog.Logger) (*Hub, error) {
	if c.Registry == nil || c.Fanout == nil || c.Recorder == nil || c.Store == nil || c.Engine == nil {
		return nil, errors.New("hub requires registry, fanout, recorder, store and engine")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if c.Status == nil {
		c.Status = telemetry.Nop{}
	}

	opts = sanitizeOptions(opts)
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		opts:     opts,
		reg:      c.Registry,
		fan:      c.Fanout,
		recorder: c.Recorder,
		store:    c.Store,
		engine:   c.Engine,
		status:   c.Status,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}

	origins := newOriginPolicy(opts.AllowedOrigins, logger)
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     origins.check,
	}
	return h, nil
}

// Start launches the tick loop, the spawn scheduler and the heartbeat, each
// under the supervisor.
func (h *Hub) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started || h.closed {
		return
	}
	h.started = true

	h.runTask("sim.tick", h.engine.RunTicks)
	h.runTask("sim.spawn", h.engine.RunScheduler)
	h.runTask("heartbeat", h.runHeartbeat)
	h.logger.Info("Hub started", "recording", h.recorder.Enabled(), "recordings", h.store.Len())
}

func (h *Hub) runTask(name string, task supervisor.Task) {
	h.tasks.Add(1)
	go func() {
		defer h.tasks.Done()
		_ = supervisor.Run(h.ctx, name, task, h.opts.RestartBackoff, h.logger)
	}()
}

// attach registers an upgraded connection and starts its pumps. The client
// is registered before the initial_boats snapshot is taken so no departure
// can slip between the two; broadcasts wait in Send until the snapshot is
// queued as the first frame.
func (h *Hub) attach(c *Client) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return errors.New("hub is shut down")
	}
	h.clients.Add(2)
	onRegistered := h.onRegistered
	h.mu.Unlock()

	c.id = h.reg.Add(c)
	c.logger = c.logger.With("client_id", c.id)

	msg, err := protocol.EncodeInitialBoats(h.initialBoats())
	if err != nil {
		h.reg.Remove(c.id)
		c.close()
		h.clients.Add(-2)
		return fmt.Errorf("encoding initial boats: %w", err)
	}
	if onRegistered != nil {
		onRegistered(c)
	}
	c.markReady(msg)

	c.logger.Info("Client connected", "clients", h.reg.Len())
	if h.ctx.Err() != nil {
		// Shutdown raced the upgrade; the pumps exit right away.
		c.close()
	}

	go func() {
		defer h.clients.Done()
		c.writePump()
	}()
	go func() {
		defer h.clients.Done()
		c.readPump()
	}()
	return nil
}

// initialBoats gathers every known player pose and every AI entity.
func (h *Hub) initialBoats() map[string]model.Pose {
	boats := h.engine.Snapshot()
	for _, e := range h.reg.Snapshot() {
		if e.Pose != nil {
			boats[e.ID] = *e.Pose
		}
	}
	return boats
}

// handleMessage dispatches one inbound frame. Malformed or unknown frames
// are logged and dropped; the connection stays open.
func (h *Hub) handleMessage(c *Client, raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Panic while handling message", "error", r, "stack", string(debug.Stack()))
		}
	}()

	in, err := protocol.Decode(raw)
	if err != nil {
		c.logger.Warn("Dropping invalid message", "error", err)
		return
	}

	switch in.Type {
	case protocol.TypeBoatUpdate:
		h.handleBoatUpdate(c, *in.BoatUpdate)
	case protocol.TypeFlagUpdate:
		h.handleFlagUpdate(c, *in.FlagUpdate)
	}
}

func (h *Hub) handleBoatUpdate(c *Client, pose model.Pose) {
	h.reg.SetPose(c.id, pose)
	h.recorder.Record(c.id, pose)

	entry, ok := h.reg.Get(c.id)
	if !ok || entry.Pose == nil {
		return
	}
	h.relayPose(c.id, *entry.Pose)
}

func (h *Hub) handleFlagUpdate(c *Client, flag string) {
	pose, ok := h.reg.SetFlag(c.id, flag)
	c.logger.Debug("Flag updated", "flag", flag)
	if !ok {
		return
	}
	h.relayPose(c.id, pose)
}

func (h *Hub) relayPose(id string, pose model.Pose) {
	msg, err := protocol.EncodeBoatUpdate(id, pose)
	if err != nil {
		h.logger.Error("Failed to encode boat update", "client_id", id, "error", err)
		return
	}
	h.fan.SendToAllExcept(h.ctx, msg, id)
}

// disconnect finalizes the client's recording, drops it from the registry
// and tells everyone else it left.
func (h *Hub) disconnect(c *Client) {
	if c.id == "" {
		return
	}

	if rec, ok := h.recorder.Finalize(c.id); ok && rec.Name != "" {
		c.logger.Info("Session recorded", "samples", len(rec.Movements), "file", rec.Name)
	}
	if _, ok := h.reg.Remove(c.id); !ok {
		return
	}

	msg, err := protocol.EncodeBoatDisconnected(c.id)
	if err != nil {
		h.logger.Error("Failed to encode disconnect", "client_id", c.id, "error", err)
		return
	}
	// Shutdown cancels h.ctx; the announcement still goes out on a fresh context.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(h.ctx), writeWait)
	defer cancel()
	h.fan.SendToAll(ctx, msg)

	c.logger.Info("Client disconnected from hub", "clients", h.reg.Len())
}

// Status reports the current population.
func (h *Hub) Status() telemetry.Status {
	return telemetry.Status{
		Clients:    h.reg.Len(),
		Entities:   h.engine.Len(),
		Recordings: h.store.Len(),
		Recording:  h.recorder.Enabled(),
		Time:       time.Now(),
	}
}

func (h *Hub) runHeartbeat(ctx context.Context) error {
	ticker := time.NewTicker(h.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			h.heartbeat(ctx)
		}
	}
}

func (h *Hub) heartbeat(ctx context.Context) {
	s := h.Status()
	h.logger.Info("Hub status",
		"clients", s.Clients,
		"ai_boats", s.Entities,
		"recordings", s.Recordings,
		"recording", s.Recording,
	)
	if err := h.status.Write(ctx, s); err != nil {
		h.logger.Warn("Failed to export hub status", "error", err)
	}
}

// Shutdown stops background loops, closes every connection and waits for
// their goroutines, giving up when ctx is done.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	h.logger.Info("Initiating hub shutdown")
	h.cancel()

	entries := h.reg.Snapshot()
	for _, e := range entries {
		if c, ok := e.Conn.(*Client); ok {
			c.close()
		}
	}

	done := make(chan struct{})
	go func() {
		h.clients.Wait()
		h.tasks.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.status.Close()
		h.logger.Info("Hub shutdown completed", "closed_connections", len(entries))
		return nil
	case <-ctx.Done():
		h.logger.Warn("Hub shutdown timed out; some goroutines may still be running")
		return ctx.Err()
	}
}
