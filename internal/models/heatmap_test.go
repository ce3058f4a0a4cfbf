package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func TestCount_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Count
	}{
		{"number", `{"id":"Q-inner","count":42}`, "42"},
		{"numeric string", `{"id":"Q-inner","count":"42"}`, "42"},
		{"text", `{"id":"Q-inner","count":"lots"}`, "lots"},
		{"fraction", `{"id":"Q-inner","count":1.5}`, "1.5"},
		{"null", `{"id":"Q-inner","count":null}`, ""},
		{"missing", `{"id":"Q-inner"}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rec HeatmapRecord
			require.NoError(t, json.Unmarshal([]byte(tt.input), &rec))
			assert.Equal(t, tt.want, rec.Count)
		})
	}
}

func TestCount_UnmarshalJSON_Invalid(t *testing.T) {
	var rec HeatmapRecord
	assert.Error(t, json.Unmarshal([]byte(`{"id":"Q-inner","count":[1]}`), &rec))
}

func TestCount_MarshalJSON(t *testing.T) {
	data, err := json.Marshal([]HeatmapRecord{
		{ID: "Q-inner", Fill: "red", Count: CountOf(3)},
		{ID: "W-inner", Fill: "blue", Count: "n/a"},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"Q-inner","fill":"red","count":3},{"id":"W-inner","fill":"blue","count":"n/a"}]`, string(data))
}

func TestCount_Msgpack(t *testing.T) {
	type wire struct {
		ID    string      `msgpack:"id"`
		Count interface{} `msgpack:"count"`
	}

	tests := []struct {
		name string
		in   interface{}
		want Count
	}{
		{"int", 7, "7"},
		{"large uint", uint64(1 << 40), "1099511627776"},
		{"string", "seven", "seven"},
		{"float", 2.5, "2.5"},
		{"nil", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := msgpack.Marshal(wire{ID: "Q-inner", Count: tt.in})
			require.NoError(t, err)

			var rec HeatmapRecord
			require.NoError(t, msgpack.Unmarshal(data, &rec))
			assert.Equal(t, "Q-inner", rec.ID)
			assert.Equal(t, tt.want, rec.Count)
		})
	}
}

func TestCount_Int(t *testing.T) {
	n, ok := CountOf(12).Int()
	assert.True(t, ok)
	assert.Equal(t, 12, n)

	_, ok = Count("?").Int()
	assert.False(t, ok)
}
