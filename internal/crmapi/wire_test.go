package crmapi

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFlexTimeFormats(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  time.Time
	}{
		{"rfc3339", `"2026-03-01T10:00:00Z"`, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)},
		{"postgres with zone", `"2026-03-01 07:00:00.123-03"`, time.Date(2026, 3, 1, 10, 0, 0, 123000000, time.UTC)},
		{"postgres naive", `"2026-03-01 10:00:00"`, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)},
		{"unix seconds", `1772359200`, time.Unix(1772359200, 0).UTC()},
		{"unix millis", `1772359200500`, time.UnixMilli(1772359200500).UTC()},
		{"null", `null`, time.Time{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got flexTime
			require.NoError(t, json.Unmarshal([]byte(tt.input), &got))
			require.True(t, tt.want.Equal(got.Time()), "got %v want %v", got.Time(), tt.want)
		})
	}

	var bad flexTime
	require.Error(t, json.Unmarshal([]byte(`"yesterday"`), &bad))
}

func TestFlexStringAndFloat(t *testing.T) {
	var s flexString
	require.NoError(t, json.Unmarshal([]byte(`12345`), &s))
	require.Equal(t, flexString("12345"), s)

	var f flexFloat
	require.NoError(t, json.Unmarshal([]byte(`" 12.5 "`), &f))
	require.NotNil(t, f.ptr())
	require.InDelta(t, 12.5, *f.ptr(), 0.0001)

	require.NoError(t, json.Unmarshal([]byte(`""`), &f))
	require.Nil(t, f.ptr())
}
