package scroll

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnchorAtBottomThreshold(t *testing.T) {
	tests := []struct {
		name string
		m    Metrics
		want bool
	}{
		{"exactly at bottom", Metrics{ScrollTop: 500, ScrollHeight: 1000, ClientHeight: 500}, true},
		{"within threshold", Metrics{ScrollTop: 495, ScrollHeight: 1000, ClientHeight: 500}, true},
		{"just above threshold", Metrics{ScrollTop: 494, ScrollHeight: 1000, ClientHeight: 500}, false},
		{"top of long history", Metrics{ScrollTop: 0, ScrollHeight: 5000, ClientHeight: 500}, false},
		{"content shorter than viewport", Metrics{ScrollTop: 0, ScrollHeight: 200, ClientHeight: 500}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAnchor(DefaultBottomThreshold)
			a.Update(tt.m)
			assert.Equal(t, tt.want, a.AtBottom())
		})
	}
}

func TestAnchorUnreadCounter(t *testing.T) {
	a := NewAnchor(DefaultBottomThreshold)
	a.NoteAppended(2)
	require.Zero(t, a.Unread(), "appends at bottom are seen")

	require.True(t, a.Update(Metrics{ScrollTop: 100, ScrollHeight: 1000, ClientHeight: 500}))
	a.NoteAppended(2)
	a.NoteAppended(1)
	require.Equal(t, 3, a.Unread())

	require.True(t, a.Update(Metrics{ScrollTop: 500, ScrollHeight: 1000, ClientHeight: 500}))
	require.Zero(t, a.Unread())
}

func TestAnchorPreservation(t *testing.T) {
	tests := []struct {
		name      string
		before    Metrics
		newHeight int
		want      int
	}{
		{"prepend at top", Metrics{ScrollTop: 40, ScrollHeight: 1000, ClientHeight: 500}, 1600, 640},
		{"nothing prepended", Metrics{ScrollTop: 40, ScrollHeight: 1000, ClientHeight: 500}, 1000, 40},
		{"from zero", Metrics{ScrollTop: 0, ScrollHeight: 800, ClientHeight: 400}, 1250, 450},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAnchor(DefaultBottomThreshold)
			a.Capture(tt.before)
			got, ok := a.Restore(tt.newHeight)
			require.True(t, ok)
			require.Equal(t, tt.want, got)
			require.Equal(t, tt.newHeight-tt.before.ScrollHeight, got-tt.before.ScrollTop)

			_, ok = a.Restore(tt.newHeight)
			require.False(t, ok, "capture is consumed")
		})
	}
}

func TestAnchorReset(t *testing.T) {
	a := NewAnchor(DefaultBottomThreshold)
	a.Update(Metrics{ScrollTop: 0, ScrollHeight: 1000, ClientHeight: 100})
	a.NoteAppended(1)
	a.Capture(Metrics{ScrollTop: 0, ScrollHeight: 1000, ClientHeight: 100})

	a.Reset()
	require.True(t, a.AtBottom())
	require.Zero(t, a.Unread())
	_, ok := a.Restore(2000)
	require.False(t, ok)
}
