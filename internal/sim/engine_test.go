package sim

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/sailhub/internal/fanout"
	"github.com/Tyrowin/sailhub/internal/model"
	"github.com/Tyrowin/sailhub/internal/protocol"
)

type captured struct {
	Type     string          `json:"type"`
	ClientID string          `json:"client_id"`
	BoatData json.RawMessage `json:"boat_data"`
}

type captureBroadcaster struct {
	mu   sync.Mutex
	msgs []captured
}

func (b *captureBroadcaster) SendToAll(_ context.Context, msg []byte) fanout.Result {
	var c captured
	_ = json.Unmarshal(msg, &c)
	b.mu.Lock()
	b.msgs = append(b.msgs, c)
	b.mu.Unlock()
	return fanout.Result{}
}

func (b *captureBroadcaster) take() []captured {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.msgs
	b.msgs = nil
	return out
}

func (b *captureBroadcaster) ofType(typ string) []captured {
	var out []captured
	for _, m := range b.take() {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

type staticPositions []model.Vector3

func (p staticPositions) Positions() []model.Vector3 { return p }

type queueRecordings struct {
	recs []model.Recording
	i    int
}

func (q *queueRecordings) Next() (model.Recording, bool) {
	if len(q.recs) == 0 {
		return model.Recording{}, false
	}
	r := q.recs[q.i%len(q.recs)]
	q.i++
	return r, true
}

func newTestEngine(t *testing.T, cfg Config, players PositionSource, recs RecordingSource) (*Engine, *captureBroadcaster) {
	t.Helper()
	bc := &captureBroadcaster{}
	e, err := New(cfg, bc, players, recs, nil)
	require.NoError(t, err)

	clock := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return e, bc
}

func TestEngine_SpawnParametricNearPlayers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SpawnRadius = 5
	e, bc := newTestEngine(t, cfg, staticPositions{{X: 100, Z: 100}, {X: 200, Z: 100}}, nil)

	ent := e.Spawn(context.Background())
	assert.True(t, IsEntityID(ent.ID))
	assert.Equal(t, "parametric", ent.Motion.kind())
	assert.LessOrEqual(t, ent.Pose.Position.Distance(model.Vector3{X: 150, Z: 100}), 5.0+1e-9)

	p := ent.Motion.(*Parametric)
	assert.InDelta(t, 1.0, p.Direction.Length(), 1e-9)
	assert.Zero(t, p.Direction.Y)
	assert.GreaterOrEqual(t, p.Speed, cfg.MinSpeed)
	assert.LessOrEqual(t, p.Speed, cfg.MaxSpeed)

	msgs := bc.ofType(protocol.TypeBoatUpdate)
	require.Len(t, msgs, 1)
	assert.Equal(t, ent.ID, msgs[0].ClientID)
}

func TestEngine_PlayerCenterFallsBackToDefault(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DefaultCenter = model.Vector3{X: 7, Z: -3}
	e, _ := newTestEngine(t, cfg, staticPositions{}, nil)
	assert.Equal(t, cfg.DefaultCenter, e.PlayerCenter())

	e, _ = newTestEngine(t, cfg, nil, nil)
	assert.Equal(t, cfg.DefaultCenter, e.PlayerCenter())
}

func TestEngine_SpawnUsesRecordingsRoundRobin(t *testing.T) {
	recs := &queueRecordings{recs: []model.Recording{
		{ClientID: "R1", Movements: closeSamples(5)},
		{ClientID: "R2", Movements: closeSamples(5)},
		{ClientID: "R3", Movements: closeSamples(5)},
	}}
	e, _ := newTestEngine(t, DefaultConfig(), nil, recs)

	var sources []string
	for i := 0; i < 4; i++ {
		ent := e.Spawn(context.Background())
		require.Equal(t, "recorded", ent.Motion.kind())
		sources = append(sources, ent.Motion.(*Replay).Source)
	}
	assert.Equal(t, []string{"R1", "R2", "R3", "R1"}, sources)
}

func TestEngine_TickBroadcastsEveryEntity(t *testing.T) {
	e, bc := newTestEngine(t, DefaultConfig(), nil, nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		e.Spawn(ctx)
	}
	bc.take()

	before := e.Snapshot()
	e.Tick(ctx)

	msgs := bc.ofType(protocol.TypeBoatUpdate)
	require.Len(t, msgs, 3)
	after := e.Snapshot()
	for id, pose := range after {
		assert.NotEqual(t, before[id].Position, pose.Position, "entity %s should have moved", id)
	}
}

func TestEngine_ReplayRetiresAfterLastSample(t *testing.T) {
	const n = 4
	recs := &queueRecordings{recs: []model.Recording{{ClientID: "R1", Movements: closeSamples(n)}}}
	e, bc := newTestEngine(t, DefaultConfig(), nil, recs)
	ctx := context.Background()

	ent := e.Spawn(ctx)
	bc.take()

	for i := 0; i < n-1; i++ {
		e.Tick(ctx)
		require.Equal(t, 1, e.Len())
	}
	assert.Empty(t, bc.ofType(protocol.TypeBoatDisconnected))

	e.Tick(ctx)
	assert.Equal(t, 0, e.Len())
	gone := bc.ofType(protocol.TypeBoatDisconnected)
	require.Len(t, gone, 1)
	assert.Equal(t, ent.ID, gone[0].ClientID)
}

func TestEngine_LoopingReplayStays(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LoopReplays = true
	recs := &queueRecordings{recs: []model.Recording{{ClientID: "R1", Movements: closeSamples(3)}}}
	e, _ := newTestEngine(t, cfg, nil, recs)
	ctx := context.Background()

	e.Spawn(ctx)
	for i := 0; i < 10; i++ {
		e.Tick(ctx)
	}
	assert.Equal(t, 1, e.Len())
}

func TestEngine_RotateRetiresOldestAndRefills(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxEntities = 3
	e, bc := newTestEngine(t, cfg, nil, nil)
	ctx := context.Background()

	first := e.Spawn(ctx)
	e.Spawn(ctx)
	e.Spawn(ctx)
	bc.take()

	e.Rotate(ctx)

	msgs := bc.take()
	require.Len(t, msgs, 2)
	assert.Equal(t, protocol.TypeBoatDisconnected, msgs[0].Type)
	assert.Equal(t, first.ID, msgs[0].ClientID)
	assert.Equal(t, protocol.TypeBoatUpdate, msgs[1].Type)

	assert.Equal(t, 3, e.Len())
	_, stillThere := e.Snapshot()[first.ID]
	assert.False(t, stillThere)
}

func TestEngine_RotateOnEmptySpawns(t *testing.T) {
	e, bc := newTestEngine(t, DefaultConfig(), nil, nil)

	e.Rotate(context.Background())

	assert.Equal(t, 1, e.Len())
	msgs := bc.take()
	require.Len(t, msgs, 1)
	assert.Equal(t, protocol.TypeBoatUpdate, msgs[0].Type)
}

func TestEngine_SeedRespectsCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InitialEntities = 10
	cfg.MaxEntities = 4
	e, _ := newTestEngine(t, cfg, nil, nil)

	e.Seed(context.Background())
	assert.Equal(t, 4, e.Len())
}

func TestEngine_IDsAreUnique(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig(), nil, nil)
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		ent := e.Spawn(context.Background())
		require.False(t, seen[ent.ID])
		seen[ent.ID] = true
	}
}

type panicMotion struct{}

func (panicMotion) step(*Entity, float64) stepResult { panic("broken motion") }
func (panicMotion) kind() string                     { return "broken" }

func TestEngine_PanicInStepReleasesLock(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig(), nil, nil)
	ent := e.Spawn(context.Background())

	e.mu.Lock()
	e.entities[ent.ID].Motion = panicMotion{}
	e.mu.Unlock()

	require.Panics(t, func() { e.Tick(context.Background()) })

	done := make(chan int, 1)
	go func() { done <- e.Len() }()
	select {
	case n := <-done:
		assert.Equal(t, 1, n)
	case <-time.After(time.Second):
		t.Fatal("engine lock still held after a panicking tick")
	}

	// Rotation after the panic drops the broken entity and refills.
	e.Rotate(context.Background())
	snap := e.Snapshot()
	assert.Len(t, snap, 1)
	assert.NotContains(t, snap, ent.ID)
}

func TestEngine_RunTicksStopsOnCancel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TickInterval = 5 * time.Millisecond
	e, bc := newTestEngine(t, cfg, nil, nil)
	e.Spawn(context.Background())
	bc.take()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.RunTicks(ctx) }()

	assert.Eventually(t, func() bool {
		bc.mu.Lock()
		defer bc.mu.Unlock()
		return len(bc.msgs) > 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("RunTicks did not return after cancel")
	}
}
