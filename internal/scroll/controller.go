package scroll

import (
	"sync"
	"time"
)

// Controller defaults.
const (
	DefaultTopTrigger  = 100
	DefaultDebounce    = 10 * time.Millisecond
	DefaultSettleDelay = 300 * time.Millisecond
)

// Config configures a Controller.
type Config struct {
	// BottomThreshold is the at-bottom tolerance.
	BottomThreshold int
	// TopTrigger requests older history when ScrollTop drops below it.
	TopTrigger int
	// Debounce delays the load-older evaluation after a scroll event.
	Debounce time.Duration
	// SettleDelay is how long after the initial scroll-to-bottom the
	// load-older trigger stays disarmed.
	SettleDelay time.Duration
}

func (c *Config) applyDefaults() {
	if c.BottomThreshold <= 0 {
		c.BottomThreshold = DefaultBottomThreshold
	}
	if c.TopTrigger <= 0 {
		c.TopTrigger = DefaultTopTrigger
	}
	if c.Debounce <= 0 {
		c.Debounce = DefaultDebounce
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = DefaultSettleDelay
	}
}

// State is the list state the load-older trigger depends on.
type State struct {
	HasMore              bool
	LoadingOlder         bool
	ConversationSelected bool
}

// Controller handles scroll events for the message view in two phases: an
// immediate at-bottom update and a debounced check for loading older history.
type Controller struct {
	cfg       Config
	anchor    *Anchor
	debouncer *Debouncer
	state     func() State
	loadOlder func()

	mu          sync.Mutex
	settled     bool
	settleTimer *time.Timer
}

// NewController creates a controller. state reports the current list state
// and loadOlder is invoked when the user nears the top.
func NewController(cfg Config, state func() State, loadOlder func()) *Controller {
	cfg.applyDefaults()
	return &Controller{
		cfg:       cfg,
		anchor:    NewAnchor(cfg.BottomThreshold),
		debouncer: NewDebouncer(cfg.Debounce),
		state:     state,
		loadOlder: loadOlder,
	}
}

// Anchor returns the controller's anchor.
func (c *Controller) Anchor() *Anchor { return c.anchor }

// OnScroll handles one scroll event.
func (c *Controller) OnScroll(m Metrics) {
	c.anchor.Update(m)
	c.debouncer.Call(func() {
		if c.ShouldLoadOlder(m, c.state()) {
			c.loadOlder()
		}
	})
}

// ShouldLoadOlder reports whether m is close enough to the top to request
// the next page.
func (c *Controller) ShouldLoadOlder(m Metrics, s State) bool {
	return m.ScrollTop < c.cfg.TopTrigger &&
		s.HasMore &&
		!s.LoadingOlder &&
		s.ConversationSelected &&
		c.Settled()
}

// Settled reports whether the initial load has finished scrolling.
func (c *Controller) Settled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settled
}

// BeginInitialLoad disarms the load-older trigger for a newly selected
// conversation.
func (c *Controller) BeginInitialLoad() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settled = false
	if c.settleTimer != nil {
		c.settleTimer.Stop()
		c.settleTimer = nil
	}
	c.anchor.Reset()
}

// ScrolledToBottom re-arms the trigger SettleDelay after the programmatic
// scroll to the newest message.
func (c *Controller) ScrolledToBottom() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.settleTimer != nil {
		c.settleTimer.Stop()
	}
	c.settleTimer = time.AfterFunc(c.cfg.SettleDelay, func() {
		c.mu.Lock()
		c.settled = true
		c.settleTimer = nil
		c.mu.Unlock()
	})
}

// Stop cancels pending timers.
func (c *Controller) Stop() {
	c.debouncer.Stop()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.settleTimer != nil {
		c.settleTimer.Stop()
		c.settleTimer = nil
	}
}
