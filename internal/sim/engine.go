// Package sim runs the AI "pirate" vessels: it advances every entity on a
// fixed tick, rotates the population on a slower schedule, and publishes
// each change through a broadcaster.
package sim

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Tyrowin/sailhub/internal/fanout"
	"github.com/Tyrowin/sailhub/internal/model"
	"github.com/Tyrowin/sailhub/internal/protocol"
)

const instrumentationName = "github.com/Tyrowin/sailhub/internal/sim"

// IDPrefix marks AI entity ids. Client ids are UUIDs and never carry it.
const IDPrefix = "pirate-"

// Broadcaster publishes messages to every connected client.
type Broadcaster interface {
	SendToAll(ctx context.Context, msg []byte) fanout.Result
}

// PositionSource reports where the connected players are.
type PositionSource interface {
	Positions() []model.Vector3
}

// RecordingSource hands out recordings in replay order.
type RecordingSource interface {
	Next() (model.Recording, bool)
}

// Config tunes the simulation.
type Config struct {
	TickInterval    time.Duration
	StepSeconds     float64
	SpawnInterval   time.Duration
	MaxEntities     int
	InitialEntities int
	LoopReplays     bool

	MinSpeed      float64
	MaxSpeed      float64
	MaxDistance   float64
	SpawnRadius   float64
	DefaultCenter model.Vector3
}

// DefaultConfig returns the production simulation settings.
func DefaultConfig() Config {
	return Config{
		TickInterval:    100 * time.Millisecond,
		StepSeconds:     0.1,
		SpawnInterval:   30 * time.Second,
		MaxEntities:     5,
		InitialEntities: 3,
		MinSpeed:        2,
		MaxSpeed:        6,
		MaxDistance:     200,
		SpawnRadius:     50,
	}
}

// Engine owns the AI entity set. Only the engine mutates it.
type Engine struct {
	cfg        Config
	bc         Broadcaster
	players    PositionSource
	recordings RecordingSource
	logger     *slog.Logger

	mu       sync.RWMutex
	entities map[string]*Entity
	nextSeq  uint64
	rng      *rand.Rand
	now      func() time.Time

	spawned metric.Int64Counter
	retired metric.Int64Counter
}

// New creates an Engine. recordings may be nil, in which case only
// parametric entities are spawned.
func New(cfg Config, bc Broadcaster, players PositionSource, recordings RecordingSource, logger *slog.Logger) (*Engine, error) {
	def := DefaultConfig()
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.StepSeconds <= 0 {
		cfg.StepSeconds = def.StepSeconds
	}
	if cfg.SpawnInterval <= 0 {
		cfg.SpawnInterval = def.SpawnInterval
	}
	if cfg.MaxEntities <= 0 {
		cfg.MaxEntities = def.MaxEntities
	}
	if cfg.MaxDistance <= 0 {
		cfg.MaxDistance = def.MaxDistance
	}
	if cfg.MaxSpeed < cfg.MinSpeed || cfg.MaxSpeed <= 0 {
		cfg.MinSpeed, cfg.MaxSpeed = def.MinSpeed, def.MaxSpeed
	}
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		cfg:        cfg,
		bc:         bc,
		players:    players,
		recordings: recordings,
		logger:     logger,
		entities:   make(map[string]*Entity),
		rng:        rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5a11)),
		now:        time.Now,
	}

	m := otel.Meter(instrumentationName)

	var err error
	e.spawned, err = m.Int64Counter(
		"sim.entities.spawned",
		metric.WithDescription("AI entities created"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating spawned counter: %w", err)
	}

	e.retired, err = m.Int64Counter(
		"sim.entities.retired",
		metric.WithDescription("AI entities removed"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating retired counter: %w", err)
	}

	return e, nil
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// RunTicks advances the simulation every TickInterval until ctx is done.
func (e *Engine) RunTicks(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.Tick(ctx)
		}
	}
}

// RunScheduler rotates the entity population every SpawnInterval until ctx
// is done.
func (e *Engine) RunScheduler(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.SpawnInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.Rotate(ctx)
		}
	}
}

type update struct {
	id   string
	pose model.Pose
}

// Tick advances every entity by one logical step, retires finished replays,
// and broadcasts one boat_update per surviving entity.
func (e *Engine) Tick(ctx context.Context) {
	updates, retired := e.stepAll()

	for _, id := range retired {
		e.logger.Info("AI boat finished its recording", "entity_id", id)
		e.retired.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "exhausted")))
		e.broadcastRemoval(ctx, id)
	}
	for _, u := range updates {
		e.broadcastPose(ctx, u.id, u.pose)
	}
}

// stepAll advances every entity in spawn order and drops the finished ones.
func (e *Engine) stepAll() (updates []update, retired []string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, ent := range e.orderedLocked() {
		if ent.Motion.step(ent, e.cfg.StepSeconds) == stepRetire {
			delete(e.entities, ent.ID)
			retired = append(retired, ent.ID)
			continue
		}
		updates = append(updates, update{id: ent.ID, pose: ent.Pose.Clone()})
	}
	return updates, retired
}

// Rotate retires the oldest entity and, if the population is then below
// MaxEntities, spawns a replacement. Both changes are broadcast.
func (e *Engine) Rotate(ctx context.Context) {
	oldest, count := e.removeOldest()

	if oldest != nil {
		e.logger.Info("Retiring oldest AI boat", "entity_id", oldest.ID, "motion", oldest.Motion.kind())
		e.retired.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "rotation")))
		e.broadcastRemoval(ctx, oldest.ID)
	}

	if count < e.cfg.MaxEntities {
		e.Spawn(ctx)
	}
}

// removeOldest deletes the oldest entity, if any, and reports how many remain.
func (e *Engine) removeOldest() (*Entity, int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var oldest *Entity
	for _, ent := range e.entities {
		if oldest == nil || olderThan(ent, oldest) {
			oldest = ent
		}
	}
	if oldest != nil {
		delete(e.entities, oldest.ID)
	}
	return oldest, len(e.entities)
}

// Seed spawns the initial population.
func (e *Engine) Seed(ctx context.Context) {
	for i := 0; i < e.cfg.InitialEntities && e.Len() < e.cfg.MaxEntities; i++ {
		e.Spawn(ctx)
	}
}

// Spawn creates one entity, replaying the next recording when one is
// available and otherwise moving along a straight line near the players.
func (e *Engine) Spawn(ctx context.Context) Entity {
	ent := e.newEntity()

	e.mu.Lock()
	e.nextSeq++
	ent.seq = e.nextSeq
	ent.ID = IDPrefix + strconv.FormatUint(ent.seq, 10)
	e.entities[ent.ID] = ent
	snapshot := *ent
	snapshot.Pose = ent.Pose.Clone()
	e.mu.Unlock()

	e.logger.Info("Spawned AI boat", "entity_id", ent.ID, "motion", ent.Motion.kind())
	e.spawned.Add(ctx, 1, metric.WithAttributes(attribute.String("motion", ent.Motion.kind())))
	e.broadcastPose(ctx, snapshot.ID, snapshot.Pose)
	return snapshot
}

func (e *Engine) newEntity() *Entity {
	now := e.now()

	if e.recordings != nil {
		if rec, ok := e.recordings.Next(); ok && len(rec.Movements) > 0 {
			source := rec.Name
			if source == "" {
				source = rec.ClientID
			}
			return &Entity{
				Pose:      rec.Movements[0].Pose(),
				CreatedAt: now,
				Motion: &Replay{
					Samples: rec.Movements,
					Loop:    e.cfg.LoopReplays,
					Source:  source,
				},
			}
		}
	}

	e.mu.Lock()
	angle := e.rng.Float64() * 2 * math.Pi
	heading := e.rng.Float64() * 2 * math.Pi
	radius := e.rng.Float64() * e.cfg.SpawnRadius
	speed := e.cfg.MinSpeed + e.rng.Float64()*(e.cfg.MaxSpeed-e.cfg.MinSpeed)
	e.mu.Unlock()

	start := e.PlayerCenter().Add(model.Vector3{X: math.Cos(angle) * radius, Z: math.Sin(angle) * radius})
	dir := model.Vector3{X: math.Sin(heading), Z: math.Cos(heading)}

	return &Entity{
		Pose: model.Pose{
			Position: start,
			Rotation: model.Vector3{Y: heading},
		},
		CreatedAt: now,
		Motion: &Parametric{
			Start:       start,
			Direction:   dir,
			Speed:       speed,
			MaxDistance: e.cfg.MaxDistance,
		},
	}
}

// PlayerCenter returns the mean position of every player that has reported
// one, or the configured default center when none has.
func (e *Engine) PlayerCenter() model.Vector3 {
	if e.players == nil {
		return e.cfg.DefaultCenter
	}
	positions := e.players.Positions()
	if len(positions) == 0 {
		return e.cfg.DefaultCenter
	}

	var sum model.Vector3
	for _, p := range positions {
		sum = sum.Add(p)
	}
	return sum.Scale(1 / float64(len(positions)))
}

// Snapshot returns the current pose of every entity keyed by id.
func (e *Engine) Snapshot() map[string]model.Pose {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[string]model.Pose, len(e.entities))
	for id, ent := range e.entities {
		out[id] = ent.Pose.Clone()
	}
	return out
}

// Len returns the number of active entities.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.entities)
}

// IsEntityID reports whether id belongs to the AI namespace.
func IsEntityID(id string) bool {
	return strings.HasPrefix(id, IDPrefix)
}

func (e *Engine) orderedLocked() []*Entity {
	out := make([]*Entity, 0, len(e.entities))
	for _, ent := range e.entities {
		out = append(out, ent)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func olderThan(a, b *Entity) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.seq < b.seq
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func (e *Engine) broadcastPose(ctx context.Context, id string, pose model.Pose) {
	msg, err := protocol.EncodeBoatUpdate(id, pose)
	if err != nil {
		e.logger.Error("Failed to encode AI boat update", "entity_id", id, "error", err)
		return
	}
	e.bc.SendToAll(ctx, msg)
}

func (e *Engine) broadcastRemoval(ctx context.Context, id string) {
	msg, err := protocol.EncodeBoatDisconnected(id)
	if err != nil {
		e.logger.Error("Failed to encode AI boat removal", "entity_id", id, "error", err)
		return
	}
	e.bc.SendToAll(ctx, msg)
}
