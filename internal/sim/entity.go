package sim

import (
	"time"

	"github.com/Tyrowin/sailhub/internal/model"
)

// Replay tuning.
const (
	// SnapThreshold is the distance below which a replayed entity jumps
	// straight onto the next sample.
	SnapThreshold = 0.5
	// ReplaySpeed is the fixed speed, in units per second, at which a
	// replayed entity closes the gap to the next sample.
	ReplaySpeed = 5.0
)

// Entity is one simulated vessel.
type Entity struct {
	ID        string
	Pose      model.Pose
	CreatedAt time.Time
	Motion    Motion

	seq uint64
}

// Motion advances an entity by one logical step. Parametric and Replay are
// the only implementations.
type Motion interface {
	step(e *Entity, dt float64) stepResult
	kind() string
}

type stepResult int

const (
	stepMoved stepResult = iota
	stepRetire
)

// Parametric moves in a straight line and teleports back to Start once
// MaxDistance has been covered.
type Parametric struct {
	Start       model.Vector3
	Direction   model.Vector3
	Speed       float64
	Distance    float64
	MaxDistance float64
}

func (m *Parametric) kind() string { return "parametric" }

func (m *Parametric) step(e *Entity, dt float64) stepResult {
	travel := m.Speed * dt
	e.Pose.Position = e.Pose.Position.Add(m.Direction.Scale(travel))
	m.Distance += travel

	if m.Distance >= m.MaxDistance {
		e.Pose.Position = m.Start
		m.Distance = 0
	}
	return stepMoved
}

// Replay follows a recorded session sample by sample.
type Replay struct {
	Samples []model.Sample
	Cursor  int
	Loop    bool
	// Source names the recording being replayed.
	Source string
}

func (m *Replay) kind() string { return "recorded" }

func (m *Replay) step(e *Entity, dt float64) stepResult {
	if m.Cursor >= len(m.Samples)-1 {
		if !m.Loop {
			return stepRetire
		}
		if len(m.Samples) < 2 {
			return stepMoved
		}
		// Jump back to the first sample rather than sailing there from the end.
		m.Cursor = 0
		e.Pose.Position = m.Samples[0].Position
	}

	next := m.Samples[m.Cursor+1]
	dist := e.Pose.Position.Distance(next.Position)
	travel := ReplaySpeed * dt

	if dist < SnapThreshold || travel >= dist {
		e.Pose.Position = next.Position
		m.Cursor++
	} else {
		dir := next.Position.Sub(e.Pose.Position).Normalize()
		e.Pose.Position = e.Pose.Position.Add(dir.Scale(travel))
	}

	// Orientation is not interpolated; it takes the next sample's values.
	e.Pose.Rotation = next.Rotation
	if next.SailAngle != nil {
		e.Pose.SailAngle = model.Float(*next.SailAngle)
	}
	if next.HeelAngle != nil {
		e.Pose.HeelAngle = model.Float(*next.HeelAngle)
	}
	return stepMoved
}
