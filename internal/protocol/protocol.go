// Package protocol defines the JSON envelopes exchanged between the hub and
// game clients and the helpers that decode and encode them.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Tyrowin/sailhub/internal/model"
)

// Message types on the wire.
const (
	TypeBoatUpdate       = "boat_update"
	TypeFlagUpdate       = "flag_update"
	TypeInitialBoats     = "initial_boats"
	TypeBoatDisconnected = "boat_disconnected"
)

var (
	// ErrUnknownType is returned for envelopes whose type the hub does not handle.
	ErrUnknownType = errors.New("unknown message type")
	// ErrMissingField is returned when a required field is absent.
	ErrMissingField = errors.New("missing required field")
)

// Envelope is the tagged wrapper every client message arrives in.
type Envelope struct {
	Type     string          `json:"type"`
	BoatData json.RawMessage `json:"boat_data,omitempty"`
	FlagCode *string         `json:"flag_code,omitempty"`
}

// Inbound is a decoded client message. Exactly one of BoatUpdate or
// FlagUpdate is set, matching Type.
type Inbound struct {
	Type       string
	BoatUpdate *model.Pose
	FlagUpdate *string
}

// boatData mirrors model.Pose with pointer vectors so absent fields can be detected.
type boatData struct {
	Position  *model.Vector3 `json:"position"`
	Rotation  *model.Vector3 `json:"rotation"`
	SailAngle *float64       `json:"sailAngle"`
	HeelAngle *float64       `json:"heelAngle"`
	Flag      string         `json:"flag"`
}

// Decode parses one raw client frame.
func Decode(raw []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Inbound{}, fmt.Errorf("invalid JSON: %w", err)
	}

	switch env.Type {
	case "":
		return Inbound{}, fmt.Errorf("%w: type", ErrMissingField)

	case TypeBoatUpdate:
		pose, err := decodeBoatData(env.BoatData)
		if err != nil {
			return Inbound{}, err
		}
		return Inbound{Type: env.Type, BoatUpdate: &pose}, nil

	case TypeFlagUpdate:
		if env.FlagCode == nil {
			return Inbound{}, fmt.Errorf("%w: flag_code", ErrMissingField)
		}
		code := *env.FlagCode
		return Inbound{Type: env.Type, FlagUpdate: &code}, nil

	default:
		return Inbound{Type: env.Type}, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

func decodeBoatData(raw json.RawMessage) (model.Pose, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return model.Pose{}, fmt.Errorf("%w: boat_data", ErrMissingField)
	}

	var bd boatData
	if err := json.Unmarshal(raw, &bd); err != nil {
		return model.Pose{}, fmt.Errorf("invalid boat_data: %w", err)
	}
	if bd.Position == nil {
		return model.Pose{}, fmt.Errorf("%w: boat_data.position", ErrMissingField)
	}
	if bd.Rotation == nil {
		return model.Pose{}, fmt.Errorf("%w: boat_data.rotation", ErrMissingField)
	}

	return model.Pose{
		Position:  *bd.Position,
		Rotation:  *bd.Rotation,
		SailAngle: bd.SailAngle,
		HeelAngle: bd.HeelAngle,
		Flag:      bd.Flag,
	}, nil
}

// InitialBoats is sent once to a freshly connected client.
type InitialBoats struct {
	Type  string                `json:"type"`
	Boats map[string]model.Pose `json:"boats"`
}

// BoatUpdate relays one vessel's pose.
type BoatUpdate struct {
	Type     string     `json:"type"`
	ClientID string     `json:"client_id"`
	BoatData model.Pose `json:"boat_data"`
}

// BoatDisconnected announces that a vessel left the world.
type BoatDisconnected struct {
	Type     string `json:"type"`
	ClientID string `json:"client_id"`
}

// EncodeInitialBoats builds the initial_boats snapshot message.
func EncodeInitialBoats(boats map[string]model.Pose) ([]byte, error) {
	if boats == nil {
		boats = map[string]model.Pose{}
	}
	return json.Marshal(InitialBoats{Type: TypeInitialBoats, Boats: boats})
}

// EncodeBoatUpdate builds a boat_update for the given vessel id.
func EncodeBoatUpdate(id string, pose model.Pose) ([]byte, error) {
	return json.Marshal(BoatUpdate{Type: TypeBoatUpdate, ClientID: id, BoatData: pose})
}

// EncodeBoatDisconnected builds a boat_disconnected for the given vessel id.
func EncodeBoatDisconnected(id string) ([]byte, error) {
	return json.Marshal(BoatDisconnected{Type: TypeBoatDisconnected, ClientID: id})
}
