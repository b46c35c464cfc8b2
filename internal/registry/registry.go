// Package registry keeps the set of connected players and their latest
// reported state. It is safe for concurrent use by every connection goroutine.
package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Tyrowin/sailhub/internal/model"
)

// Sender delivers one encoded message to a connected client.
type Sender interface {
	Send(ctx context.Context, msg []byte) error
}

// Entry is a point-in-time copy of a registered client.
type Entry struct {
	ID       string
	Conn     Sender
	Pose     *model.Pose
	Flag     string
	JoinedAt time.Time

	seq uint64
}

type client struct {
	Entry

	samples        []model.Sample
	recordingStart time.Time
}

// Registry maps client ids to client state.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*client
	nextSeq uint64
	newID   func() string
	now     func() time.Time
}

// New creates an empty Registry that assigns random UUIDs to clients.
func New() *Registry {
	return &Registry{
		clients: make(map[string]*client),
		newID:   uuid.NewString,
		now:     time.Now,
	}
}

// Add registers conn and returns its freshly generated id. The client starts
// without a pose.
func (r *Registry) Add(conn Sender) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.newID()
	for _, taken := r.clients[id]; taken; _, taken = r.clients[id] {
		id = r.newID()
	}

	r.nextSeq++
	r.clients[id] = &client{Entry: Entry{
		ID:       id,
		Conn:     conn,
		JoinedAt: r.now(),
		seq:      r.nextSeq,
	}}
	return id
}

// Remove drops the client. Removing an unknown id is a no-op; ok reports
// whether an entry was present.
func (r *Registry) Remove(id string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[id]
	if !ok {
		return Entry{}, false
	}
	delete(r.clients, id)
	return c.copyEntry(), true
}

// SetPose replaces the client's pose. A flag carried inside the pose also
// becomes the client's flag; otherwise the last known flag is kept on the pose.
func (r *Registry) SetPose(id string, pose model.Pose) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[id]
	if !ok {
		return
	}
	p := pose.Clone()
	if p.Flag != "" {
		c.Flag = p.Flag
	} else {
		p.Flag = c.Flag
	}
	c.Pose = &p
}

// SetFlag stores the flag code and merges it into the last known pose.
// It returns the merged pose when one exists.
func (r *Registry) SetFlag(id, flag string) (model.Pose, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[id]
	if !ok {
		return model.Pose{}, false
	}
	c.Flag = flag
	if c.Pose == nil {
		return model.Pose{}, false
	}
	c.Pose.Flag = flag
	return c.Pose.Clone(), true
}

// Get returns a copy of the client entry.
func (r *Registry) Get(id string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.clients[id]
	if !ok {
		return Entry{}, false
	}
	return c.copyEntry(), true
}

// Snapshot returns copies of all entries ordered by join time. The slice is
// owned by the caller and unaffected by later registry changes.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	entries := make([]Entry, 0, len(r.clients))
	for _, c := range r.clients {
		entries = append(entries, c.copyEntry())
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	return entries
}

// Len returns the number of registered clients.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Positions returns the positions of every client that has reported a pose.
func (r *Registry) Positions() []model.Vector3 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	positions := make([]model.Vector3, 0, len(r.clients))
	for _, c := range r.clients {
		if c.Pose != nil {
			positions = append(positions, c.Pose.Position)
		}
	}
	return positions
}

// AppendSample adds pose to the client's recording buffer. The first sample
// fixes the recording start; offsets never decrease.
func (r *Registry) AppendSample(id string, pose model.Pose, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[id]
	if !ok {
		return false
	}
	if c.recordingStart.IsZero() {
		c.recordingStart = now
	}

	offset := now.Sub(c.recordingStart).Seconds()
	if n := len(c.samples); n > 0 && offset < c.samples[n-1].Timestamp {
		offset = c.samples[n-1].Timestamp
	}
	c.samples = append(c.samples, model.SampleFromPose(pose, offset))
	return true
}

// TakeSamples returns the client's buffered samples and recording start,
// leaving the buffer empty.
func (r *Registry) TakeSamples(id string) ([]model.Sample, time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[id]
	if !ok {
		return nil, time.Time{}, false
	}
	samples, start := c.samples, c.recordingStart
	c.samples = nil
	c.recordingStart = time.Time{}
	return samples, start, true
}

// SampleCount returns the number of buffered samples for the client.
func (r *Registry) SampleCount(id string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if c, ok := r.clients[id]; ok {
		return len(c.samples)
	}
	return 0
}

func (c *client) copyEntry() Entry {
	e := c.Entry
	if c.Pose != nil {
		p := c.Pose.Clone()
		e.Pose = &p
	}
	return e
}
