// Package model defines the vessel and recording types shared by the hub,
// the recorder, and the AI simulation.
package model

import (
	"math"
	"time"
)

// Vector3 is a point or Euler rotation in world space.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Add returns v + o.
func (v Vector3) Add(o Vector3) Vector3 {
	return Vector3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z}
}

// Sub returns v - o.
func (v Vector3) Sub(o Vector3) Vector3 {
	return Vector3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z}
}

// Scale returns v multiplied by s.
func (v Vector3) Scale(s float64) Vector3 {
	return Vector3{X: v.X * s, Y: v.Y * s, Z: v.Z * s}
}

// Length returns the Euclidean norm of v.
func (v Vector3) Length() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Distance returns the Euclidean distance between v and o.
func (v Vector3) Distance(o Vector3) float64 {
	return v.Sub(o).Length()
}

// Normalize returns the unit vector of v, or the zero vector when v has no length.
func (v Vector3) Normalize() Vector3 {
	l := v.Length()
	if l == 0 {
		return Vector3{}
	}
	return v.Scale(1 / l)
}

// Pose is the full state a vessel reports on every update. It is always
// replaced as a whole, never merged field by field.
type Pose struct {
	Position  Vector3  `json:"position"`
	Rotation  Vector3  `json:"rotation"`
	SailAngle *float64 `json:"sailAngle,omitempty"`
	HeelAngle *float64 `json:"heelAngle,omitempty"`
	Flag      string   `json:"flag,omitempty"`
}

// Clone returns a deep copy of p so callers may hold it past the owner's lock.
func (p Pose) Clone() Pose {
	out := p
	if p.SailAngle != nil {
		v := *p.SailAngle
		out.SailAngle = &v
	}
	if p.HeelAngle != nil {
		v := *p.HeelAngle
		out.HeelAngle = &v
	}
	return out
}

// Sample is one captured pose inside a recording session.
type Sample struct {
	Timestamp float64  `json:"timestamp"`
	Position  Vector3  `json:"position"`
	Rotation  Vector3  `json:"rotation"`
	SailAngle *float64 `json:"sailAngle,omitempty"`
	HeelAngle *float64 `json:"heelAngle,omitempty"`
}

// SampleFromPose captures pose at the given offset (seconds) from recording start.
func SampleFromPose(pose Pose, offset float64) Sample {
	c := pose.Clone()
	return Sample{
		Timestamp: offset,
		Position:  c.Position,
		Rotation:  c.Rotation,
		SailAngle: c.SailAngle,
		HeelAngle: c.HeelAngle,
	}
}

// Pose converts the sample back into a Pose without a flag.
func (s Sample) Pose() Pose {
	return Pose{
		Position:  s.Position,
		Rotation:  s.Rotation,
		SailAngle: s.SailAngle,
		HeelAngle: s.HeelAngle,
	}.Clone()
}

// Recording is a persisted player session. Once written it is never mutated.
type Recording struct {
	ClientID  string    `json:"client_id"`
	Timestamp time.Time `json:"timestamp"`
	Movements []Sample  `json:"movements"`

	// Name is the file the recording was loaded from or saved to.
	Name string `json:"-"`
}

// Float returns a pointer to v, for optional pose angles.
func Float(v float64) *float64 {
	return &v
}
