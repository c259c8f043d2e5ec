package chatsync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tOgg1/leadsync/internal/crmapi"
	"github.com/tOgg1/leadsync/internal/logging"
	"github.com/tOgg1/leadsync/internal/models"
)

// Coordinator errors.
var (
	ErrCoordinatorRunning = errors.New("coordinator already running")
	ErrCoordinatorClosed  = errors.New("coordinator closed")
)

// Intervals holds one polling cadence per resource class.
type Intervals struct {
	Messages time.Duration
	Contacts time.Duration
	LeadData time.Duration
}

// Interval returns the cadence for class.
func (i Intervals) Interval(class models.ResourceClass) time.Duration {
	switch class {
	case models.ResourceContacts:
		return i.Contacts
	case models.ResourceLeadData:
		return i.LeadData
	default:
		return i.Messages
	}
}

// CoordinatorConfig configures a Coordinator.
type CoordinatorConfig struct {
	// ActiveWindow is how long after the last user activity the fast tier applies.
	// Default: 5m
	ActiveWindow time.Duration

	// Fast is used while the user is active.
	// Default: 15s messages, 60s contacts, 90s lead data
	Fast Intervals

	// Slow is used once the user has been idle for ActiveWindow.
	// Default: 60s messages, 300s contacts, 300s lead data
	Slow Intervals

	// RequestTimeout bounds each resource fetch within a cycle.
	// Default: 30s
	RequestTimeout time.Duration

	// OnAuthError is called once polling pauses on an authentication failure.
	OnAuthError func(error)

	// OnCycle is called after every completed cycle.
	OnCycle func(models.PollCycle, map[models.ResourceClass]error)

	Metrics *Metrics
	Now     func() time.Time
}

// DefaultCoordinatorConfig returns the standard cadences.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		ActiveWindow:   5 * time.Minute,
		Fast:           Intervals{Messages: 15 * time.Second, Contacts: 60 * time.Second, LeadData: 90 * time.Second},
		Slow:           Intervals{Messages: 60 * time.Second, Contacts: 300 * time.Second, LeadData: 300 * time.Second},
		RequestTimeout: 30 * time.Second,
	}
}

func (cfg *CoordinatorConfig) applyDefaults() {
	def := DefaultCoordinatorConfig()
	if cfg.ActiveWindow <= 0 {
		cfg.ActiveWindow = def.ActiveWindow
	}
	cfg.Fast = fillIntervals(cfg.Fast, def.Fast)
	cfg.Slow = fillIntervals(cfg.Slow, def.Slow)
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
}

func fillIntervals(got, def Intervals) Intervals {
	if got.Messages <= 0 {
		got.Messages = def.Messages
	}
	if got.Contacts <= 0 {
		got.Contacts = def.Contacts
	}
	if got.LeadData <= 0 {
		got.LeadData = def.LeadData
	}
	return got
}

// CoordinatorStatus is a point-in-time view of the scheduler.
type CoordinatorStatus struct {
	CycleID    uint64
	InCycle    bool
	Running    bool
	Paused     bool
	Tier       models.ActivityTier
	LastRun    map[models.ResourceClass]time.Time
	LastErrors map[models.ResourceClass]error
}

// Coordinator drives the poll cycles that keep the stores fresh. At most one
// cycle runs at a time; the next one is scheduled only after the current one
// has resolved.
type Coordinator struct {
	cfg      CoordinatorConfig
	messages *MessageStore
	contacts *ContactStore
	panel    *SidePanelFetcher
	logger   zerolog.Logger

	wake chan struct{}
	wg   sync.WaitGroup

	mu           sync.Mutex
	running      bool
	closed       bool
	paused       bool
	inCycle      bool
	cycleID      uint64
	cancel       context.CancelFunc
	cycleCancel  context.CancelFunc
	lastActivity time.Time
	lastRun      map[models.ResourceClass]time.Time
	lastErr      map[models.ResourceClass]error
	selected     *models.Contact
	panelOpen    bool

	// selectionCancel aborts the in-flight cycle's per-conversation fetches.
	selectionCancel context.CancelFunc
}

// NewCoordinator wires the stores to a scheduler. Call Start to begin polling.
func NewCoordinator(cfg CoordinatorConfig, messages *MessageStore, contacts *ContactStore, panel *SidePanelFetcher) *Coordinator {
	cfg.applyDefaults()
	return &Coordinator{
		cfg:          cfg,
		messages:     messages,
		contacts:     contacts,
		panel:        panel,
		logger:       logging.Component("chatsync.coordinator"),
		wake:         make(chan struct{}, 1),
		lastActivity: cfg.Now(),
		lastRun:      make(map[models.ResourceClass]time.Time),
		lastErr:      make(map[models.ResourceClass]error),
	}
}

// SetAuthErrorHandler replaces OnAuthError. Hosts built after the
// coordinator use it to receive the pause notification.
func (c *Coordinator) SetAuthErrorHandler(fn func(error)) {
	c.mu.Lock()
	c.cfg.OnAuthError = fn
	c.mu.Unlock()
}

// Messages returns the message store.
func (c *Coordinator) Messages() *MessageStore { return c.messages }

// Contacts returns the contact store.
func (c *Coordinator) Contacts() *ContactStore { return c.contacts }

// Panel returns the side panel fetcher.
func (c *Coordinator) Panel() *SidePanelFetcher { return c.panel }

// Start launches the scheduler loop. The first cycle runs immediately and
// covers every eligible resource class.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrCoordinatorClosed
	}
	if c.running {
		return ErrCoordinatorRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.running = true

	c.logger.Info().
		Dur("active_window", c.cfg.ActiveWindow).
		Dur("fast_messages", c.cfg.Fast.Messages).
		Dur("slow_messages", c.cfg.Slow.Messages).
		Msg("poll coordinator starting")

	c.wg.Add(1)
	go c.run(loopCtx)
	return nil
}

// Close stops the loop, cancels any in-flight cycle and clears every store.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.running = false
	if c.cancel != nil {
		c.cancel()
	}
	if c.cycleCancel != nil {
		c.cycleCancel()
	}
	c.mu.Unlock()

	c.wg.Wait()
	c.messages.Clear()
	c.contacts.Clear()
	c.panel.Reset()
	c.logger.Info().Msg("poll coordinator stopped")
	return nil
}

// Pause stops scheduling new cycles until Resume.
func (c *Coordinator) Pause() {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
	c.signal()
}

// Resume re-enables polling after Pause or an authentication failure.
func (c *Coordinator) Resume() {
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
	c.signal()
}

// ForceTick runs a cycle now, treating every eligible class as due. It
// returns false without any network call while another cycle is in flight,
// or when the coordinator is paused or closed.
func (c *Coordinator) ForceTick(ctx context.Context) bool {
	ok := c.tick(ctx, true)
	if ok {
		c.signal()
	}
	return ok
}

// NoteActivity records user activity. Returning from idle switches to the
// fast tier right away.
func (c *Coordinator) NoteActivity() {
	c.mu.Lock()
	now := c.cfg.Now()
	wasIdle := c.tierLocked(now) == models.TierIdle
	c.lastActivity = now
	c.mu.Unlock()
	if wasIdle {
		c.signal()
	}
}

// SetSidePanelOpen enables or disables lead data polling.
func (c *Coordinator) SetSidePanelOpen(open bool) {
	c.mu.Lock()
	changed := c.panelOpen != open
	c.panelOpen = open
	if open && changed {
		delete(c.lastRun, models.ResourceLeadData)
	}
	c.mu.Unlock()
	if changed {
		c.signal()
	}
}

// SelectConversation switches the message store to contact, loads its first
// page and restarts the message and lead data cadences.
func (c *Coordinator) SelectConversation(ctx context.Context, contact models.Contact) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrCoordinatorClosed
	}
	now := c.cfg.Now()
	selected := contact
	c.selected = &selected
	c.cancelSelectionLocked()
	c.lastActivity = now
	c.lastRun[models.ResourceMessages] = now
	c.lastRun[models.ResourceLeadData] = now
	panelOpen := c.panelOpen
	c.mu.Unlock()
	c.signal()

	log := logging.WithConversation(c.logger, contact.ID)
	c.messages.Select(contact.ID, contact.RemoteJID)
	c.panel.Reset()
	if err := c.contacts.MarkRead(contact.ID); err != nil && !errors.Is(err, ErrUnknownContact) {
		log.Debug().Err(err).Msg("mark read failed")
	}

	fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(fetchCtx)
	g.Go(func() error {
		err := c.messages.FetchMessages(gctx, contact.ID, 1, true)
		c.recordResult(models.ResourceMessages, err)
		return ignorable(err)
	})
	if panelOpen && contact.Phone != "" {
		g.Go(func() error {
			_, err := c.panel.FetchFor(gctx, contact.Phone)
			c.recordResult(models.ResourceLeadData, err)
			return nil
		})
	}
	return g.Wait()
}

// Selected returns the selected contact.
func (c *Coordinator) Selected() (models.Contact, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selected == nil {
		return models.Contact{}, false
	}
	return *c.selected, true
}

func (c *Coordinator) cancelSelectionLocked() {
	if c.selectionCancel != nil {
		c.selectionCancel()
		c.selectionCancel = nil
	}
}

// ClearSelection drops the selected conversation.
func (c *Coordinator) ClearSelection() {
	c.mu.Lock()
	c.selected = nil
	c.cancelSelectionLocked()
	c.mu.Unlock()
	c.messages.Clear()
	c.panel.Reset()
	c.signal()
}

// Status returns the scheduler state.
func (c *Coordinator) Status() CoordinatorStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	status := CoordinatorStatus{
		CycleID:    c.cycleID,
		InCycle:    c.inCycle,
		Running:    c.running,
		Paused:     c.paused,
		Tier:       c.tierLocked(c.cfg.Now()),
		LastRun:    make(map[models.ResourceClass]time.Time, len(c.lastRun)),
		LastErrors: make(map[models.ResourceClass]error, len(c.lastErr)),
	}
	for k, v := range c.lastRun {
		status.LastRun[k] = v
	}
	for k, v := range c.lastErr {
		status.LastErrors[k] = v
	}
	return status
}

func (c *Coordinator) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Coordinator) run(ctx context.Context) {
	defer c.wg.Done()

	c.tick(ctx, false)

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	c.arm(timer)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.wake:
		case <-timer.C:
			c.tick(ctx, false)
		}
		c.arm(timer)
	}
}

// arm stops the timer and re-arms it for the next due class. While paused
// the timer stays stopped.
func (c *Coordinator) arm(timer *time.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	delay, ok := c.nextDelay()
	if !ok {
		return
	}
	timer.Reset(delay)
}

func (c *Coordinator) nextDelay() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused || c.closed {
		return 0, false
	}
	now := c.cfg.Now()
	intervals := c.intervalsLocked(now)
	var (
		next  time.Time
		found bool
	)
	for _, class := range c.eligibleLocked() {
		due := c.lastRun[class].Add(intervals.Interval(class))
		if !found || due.Before(next) {
			next = due
			found = true
		}
	}
	if !found {
		return 0, false
	}
	delay := next.Sub(now)
	if delay < 0 {
		delay = 0
	}
	return delay, true
}

func (c *Coordinator) tierLocked(now time.Time) models.ActivityTier {
	if now.Sub(c.lastActivity) < c.cfg.ActiveWindow {
		return models.TierActive
	}
	return models.TierIdle
}

func (c *Coordinator) intervalsLocked(now time.Time) Intervals {
	if c.tierLocked(now) == models.TierActive {
		return c.cfg.Fast
	}
	return c.cfg.Slow
}

func (c *Coordinator) eligibleLocked() []models.ResourceClass {
	classes := make([]models.ResourceClass, 0, len(models.ResourceClasses))
	for _, class := range models.ResourceClasses {
		switch class {
		case models.ResourceMessages:
			if c.selected == nil {
				continue
			}
		case models.ResourceLeadData:
			if !c.panelOpen || c.selected == nil || c.selected.Phone == "" {
				continue
			}
		}
		classes = append(classes, class)
	}
	return classes
}

func (c *Coordinator) tick(ctx context.Context, force bool) bool {
	c.mu.Lock()
	if c.closed || c.paused || c.inCycle {
		c.mu.Unlock()
		c.cfg.Metrics.rejectTick()
		return false
	}
	now := c.cfg.Now()
	intervals := c.intervalsLocked(now)
	var due []models.ResourceClass
	for _, class := range c.eligibleLocked() {
		last, ok := c.lastRun[class]
		if force || !ok || !now.Before(last.Add(intervals.Interval(class))) {
			due = append(due, class)
		}
	}
	if len(due) == 0 {
		c.mu.Unlock()
		return false
	}
	c.inCycle = true
	c.cycleID++
	cycle := models.PollCycle{
		CycleID:   c.cycleID,
		StartedAt: now,
		Active:    c.tierLocked(now) == models.TierActive,
		Resources: due,
	}
	for _, class := range due {
		c.lastRun[class] = now
	}
	var phone string
	if c.selected != nil {
		phone = c.selected.Phone
	}
	panelGen := c.panel.Generation()
	cycleCtx, cancel := context.WithCancel(ctx)
	selCtx, selCancel := context.WithCancel(cycleCtx)
	c.cycleCancel = cancel
	c.selectionCancel = selCancel
	c.mu.Unlock()

	log := logging.WithCycle(c.logger, cycle.CycleID)
	cycleCtx = logging.WithContext(cycleCtx, log)
	selCtx = logging.WithContext(selCtx, log)
	log.Debug().Interface("resources", due).Bool("active", cycle.Active).Msg("poll cycle starting")

	var (
		resMu   sync.Mutex
		results = make(map[models.ResourceClass]error, len(due))
		g       errgroup.Group
	)
	for _, class := range due {
		g.Go(func() error {
			parent := selCtx
			if class == models.ResourceContacts {
				parent = cycleCtx
			}
			reqCtx, reqCancel := context.WithTimeout(parent, c.cfg.RequestTimeout)
			defer reqCancel()
			err := c.fetch(reqCtx, class, phone, panelGen)
			resMu.Lock()
			results[class] = err
			resMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	selCancel()
	cancel()

	var authErr error
	for class, err := range results {
		c.recordResult(class, err)
		if err == nil || ignorable(err) == nil {
			continue
		}
		c.cfg.Metrics.resourceFailed(class, err)
		if crmapi.IsAuth(err) {
			authErr = err
			continue
		}
		log.Warn().Err(err).Str("resource", string(class)).Msg("poll resource failed")
	}

	c.mu.Lock()
	c.inCycle = false
	c.cycleCancel = nil
	c.selectionCancel = nil
	if authErr != nil {
		c.paused = true
	}
	onAuth := c.cfg.OnAuthError
	c.mu.Unlock()

	c.cfg.Metrics.observeCycle(c.cfg.Now().Sub(now).Seconds())
	if authErr != nil {
		log.Error().Err(authErr).Msg("authentication failed; polling paused")
		if onAuth != nil {
			onAuth(authErr)
		}
	}
	if c.cfg.OnCycle != nil {
		c.cfg.OnCycle(cycle, results)
	}
	return true
}

// fetch runs one resource of a cycle. Lead data is pinned to the panel
// generation captured with phone so a poll scheduled for a previous contact
// cannot repopulate the panel.
func (c *Coordinator) fetch(ctx context.Context, class models.ResourceClass, phone string, panelGen uint64) error {
	switch class {
	case models.ResourceMessages:
		return c.messages.Poll(ctx)
	case models.ResourceContacts:
		return c.contacts.Refresh(ctx)
	case models.ResourceLeadData:
		_, err := c.panel.Poll(ctx, phone, panelGen)
		return err
	}
	return nil
}

func (c *Coordinator) recordResult(class models.ResourceClass, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ignorable(err) == nil {
		delete(c.lastErr, class)
		return
	}
	c.lastErr[class] = err
}

// ignorable filters out results that only mean the selection moved on.
func ignorable(err error) error {
	switch {
	case err == nil,
		errors.Is(err, ErrStaleResult),
		errors.Is(err, ErrNoPhone),
		crmapi.IsCanceled(err),
		errors.Is(err, context.Canceled):
		return nil
	}
	return err
}
