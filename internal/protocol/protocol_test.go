package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/sailhub/internal/model"
)

func TestDecode_BoatUpdate(t *testing.T) {
	raw := []byte(`{
		"type": "boat_update",
		"boat_data": {
			"position": {"x": 10, "y": 0, "z": 5},
			"rotation": {"x": 0, "y": 1.57, "z": 0},
			"sailAngle": 0.785,
			"flag": "GB"
		}
	}`)

	in, err := Decode(raw)
	require.NoError(t, err)
	require.NotNil(t, in.BoatUpdate)
	assert.Nil(t, in.FlagUpdate)

	assert.Equal(t, TypeBoatUpdate, in.Type)
	assert.Equal(t, model.Vector3{X: 10, Z: 5}, in.BoatUpdate.Position)
	assert.Equal(t, 1.57, in.BoatUpdate.Rotation.Y)
	require.NotNil(t, in.BoatUpdate.SailAngle)
	assert.Equal(t, 0.785, *in.BoatUpdate.SailAngle)
	assert.Nil(t, in.BoatUpdate.HeelAngle)
	assert.Equal(t, "GB", in.BoatUpdate.Flag)
}

func TestDecode_FlagUpdate(t *testing.T) {
	in, err := Decode([]byte(`{"type":"flag_update","flag_code":"FR"}`))
	require.NoError(t, err)
	require.NotNil(t, in.FlagUpdate)
	assert.Equal(t, "FR", *in.FlagUpdate)
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{name: "missing type", raw: `{"boat_data":{}}`, wantErr: ErrMissingField},
		{name: "unknown type", raw: `{"type":"chat","text":"hi"}`, wantErr: ErrUnknownType},
		{name: "boat update without data", raw: `{"type":"boat_update"}`, wantErr: ErrMissingField},
		{name: "boat update with null data", raw: `{"type":"boat_update","boat_data":null}`, wantErr: ErrMissingField},
		{name: "boat update without rotation", raw: `{"type":"boat_update","boat_data":{"position":{"x":1,"y":2,"z":3}}}`, wantErr: ErrMissingField},
		{name: "flag update without code", raw: `{"type":"flag_update"}`, wantErr: ErrMissingField},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.raw))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestDecode_InvalidJSON(t *testing.T) {
	_, err := Decode([]byte(`{not json`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid JSON")
}

func TestEncodeBoatUpdate(t *testing.T) {
	data, err := EncodeBoatUpdate("abc", model.Pose{Position: model.Vector3{X: 1}})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "boat_update", decoded["type"])
	assert.Equal(t, "abc", decoded["client_id"])

	boat := decoded["boat_data"].(map[string]any)
	assert.NotContains(t, boat, "sailAngle", "absent angles are omitted")
	assert.NotContains(t, boat, "flag")
}

func TestEncodeInitialBoats_EmptyMapIsObject(t *testing.T) {
	data, err := EncodeInitialBoats(nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"initial_boats","boats":{}}`, string(data))
}

func TestEncodeBoatDisconnected(t *testing.T) {
	data, err := EncodeBoatDisconnected("pirate-3")
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"boat_disconnected","client_id":"pirate-3"}`, string(data))
}
