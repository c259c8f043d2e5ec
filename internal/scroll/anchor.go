// Package scroll tracks the chat viewport: whether it sits at the newest
// message, when to request older history, and how to keep the visible
// content in place after history is prepended.
package scroll

import "sync"

// DefaultBottomThreshold is the distance from the bottom still treated as
// "at bottom".
const DefaultBottomThreshold = 5

// Metrics describes a scrollable viewport. Units are up to the host
// (pixels in a browser, rows in a terminal).
type Metrics struct {
	ScrollTop    int
	ScrollHeight int
	ClientHeight int
}

// DistanceFromBottom returns how far the viewport is above the bottom.
func (m Metrics) DistanceFromBottom() int {
	return m.ScrollHeight - m.ScrollTop - m.ClientHeight
}

// Anchor keeps the at-bottom flag, the unread counter and the captured
// position used to restore the view after a prepend.
type Anchor struct {
	threshold int

	mu       sync.Mutex
	atBottom bool
	unread   int
	captured *Metrics
}

// NewAnchor creates an anchor that starts at the bottom.
func NewAnchor(threshold int) *Anchor {
	if threshold < 0 {
		threshold = DefaultBottomThreshold
	}
	return &Anchor{threshold: threshold, atBottom: true}
}

// Update recomputes the at-bottom flag. Reaching the bottom clears the
// unread counter. It reports whether the flag changed.
func (a *Anchor) Update(m Metrics) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	atBottom := m.DistanceFromBottom() <= a.threshold
	changed := atBottom != a.atBottom
	a.atBottom = atBottom
	if atBottom {
		a.unread = 0
	}
	return changed
}

// AtBottom reports whether the viewport shows the newest message.
func (a *Anchor) AtBottom() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.atBottom
}

// NoteAppended counts n new messages. They only become unread while the
// user is scrolled up.
func (a *Anchor) NoteAppended(n int) {
	if n <= 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.atBottom {
		a.unread += n
	}
}

// Unread returns the messages that arrived while scrolled up.
func (a *Anchor) Unread() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.unread
}

// Reset puts the anchor back at the bottom, for a new conversation.
func (a *Anchor) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.atBottom = true
	a.unread = 0
	a.captured = nil
}

// Capture remembers the viewport before content is prepended.
func (a *Anchor) Capture(m Metrics) {
	a.mu.Lock()
	defer a.mu.Unlock()
	captured := m
	a.captured = &captured
}

// Restore returns the scrollTop that keeps the same content visible once the
// content height has grown to newHeight. Without a capture it returns
// ok=false.
func (a *Anchor) Restore(newHeight int) (scrollTop int, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.captured == nil {
		return 0, false
	}
	c := *a.captured
	a.captured = nil
	return c.ScrollTop + (newHeight - c.ScrollHeight), true
}
