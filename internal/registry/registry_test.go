package registry

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/sailhub/internal/model"
)

type nopSender struct{}

func (nopSender) Send(context.Context, []byte) error { return nil }

func TestRegistry_AddAssignsUniqueIDs(t *testing.T) {
	r := New()

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := r.Add(nopSender{})
		require.NotEmpty(t, id)
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Equal(t, 100, r.Len())
}

func TestRegistry_AddRetriesOnCollision(t *testing.T) {
	r := New()
	ids := []string{"a", "a", "b"}
	r.newID = func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}

	assert.Equal(t, "a", r.Add(nopSender{}))
	assert.Equal(t, "b", r.Add(nopSender{}))
}

func TestRegistry_NewClientHasNoPose(t *testing.T) {
	r := New()
	id := r.Add(nopSender{})

	e, ok := r.Get(id)
	require.True(t, ok)
	assert.Nil(t, e.Pose)
	assert.Empty(t, e.Flag)
	assert.Empty(t, r.Positions())
}

func TestRegistry_RemoveIsIdempotent(t *testing.T) {
	r := New()
	id := r.Add(nopSender{})

	_, ok := r.Remove(id)
	assert.True(t, ok)
	_, ok = r.Remove(id)
	assert.False(t, ok)
	_, ok = r.Remove("never-registered")
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_UnknownIDsAreNoOps(t *testing.T) {
	r := New()

	r.SetPose("ghost", model.Pose{})
	_, merged := r.SetFlag("ghost", "NL")
	assert.False(t, merged)
	assert.False(t, r.AppendSample("ghost", model.Pose{}, time.Now()))
	_, _, ok := r.TakeSamples("ghost")
	assert.False(t, ok)
	assert.Equal(t, 0, r.SampleCount("ghost"))
}

func TestRegistry_SetPoseAndFlagMerge(t *testing.T) {
	r := New()
	id := r.Add(nopSender{})

	_, merged := r.SetFlag(id, "ES")
	assert.False(t, merged, "no pose to merge into yet")

	r.SetPose(id, model.Pose{Position: model.Vector3{X: 10, Z: 5}})
	e, _ := r.Get(id)
	require.NotNil(t, e.Pose)
	assert.Equal(t, "ES", e.Pose.Flag, "existing flag is kept on a flagless pose")

	pose, merged := r.SetFlag(id, "PT")
	require.True(t, merged)
	assert.Equal(t, "PT", pose.Flag)
	assert.Equal(t, model.Vector3{X: 10, Z: 5}, pose.Position)

	r.SetPose(id, model.Pose{Flag: "IT"})
	e, _ = r.Get(id)
	assert.Equal(t, "IT", e.Flag, "flag inside boat data updates the client flag")
}

func TestRegistry_SnapshotIsOrderedCopy(t *testing.T) {
	r := New()
	first := r.Add(nopSender{})
	second := r.Add(nopSender{})
	third := r.Add(nopSender{})
	r.SetPose(first, model.Pose{Position: model.Vector3{X: 1}})

	snap := r.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, []string{first, second, third}, []string{snap[0].ID, snap[1].ID, snap[2].ID})

	snap[0].Pose.Position.X = 99
	r.Remove(second)

	e, _ := r.Get(first)
	assert.Equal(t, 1.0, e.Pose.Position.X, "mutating a snapshot must not touch the registry")
	assert.Len(t, snap, 3)
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_AppendAndTakeSamples(t *testing.T) {
	r := New()
	id := r.Add(nopSender{})
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	r.AppendSample(id, model.Pose{Position: model.Vector3{X: 1}}, start)
	r.AppendSample(id, model.Pose{Position: model.Vector3{X: 2}}, start.Add(500*time.Millisecond))
	r.AppendSample(id, model.Pose{Position: model.Vector3{X: 3}}, start.Add(200*time.Millisecond))
	assert.Equal(t, 3, r.SampleCount(id))

	samples, gotStart, ok := r.TakeSamples(id)
	require.True(t, ok)
	assert.Equal(t, start, gotStart)
	require.Len(t, samples, 3)
	assert.Equal(t, 0.0, samples[0].Timestamp)
	assert.Equal(t, 0.5, samples[1].Timestamp)
	assert.Equal(t, 0.5, samples[2].Timestamp, "offsets never go backwards")
	assert.Equal(t, 3.0, samples[2].Position.X)

	assert.Equal(t, 0, r.SampleCount(id))
}

func TestRegistry_CountMatchesOpenConnections(t *testing.T) {
	r := New()

	var wg sync.WaitGroup
	var mu sync.Mutex
	open := make(map[string]bool)

	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				id := r.Add(nopSender{})
				r.SetPose(id, model.Pose{Position: model.Vector3{X: float64(i)}})
				if i%3 == 0 {
					r.Remove(id)
					r.Remove(id)
					continue
				}
				mu.Lock()
				open[id] = true
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, len(open), r.Len(), fmt.Sprintf("expected %d open clients", len(open)))
	assert.Len(t, r.Snapshot(), len(open))
}
