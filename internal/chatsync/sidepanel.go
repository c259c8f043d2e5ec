package chatsync

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tOgg1/leadsync/internal/logging"
	"github.com/tOgg1/leadsync/internal/models"
)

// minSuffixMatchDigits is the shortest phone tail accepted when one side
// carries a country or area prefix the other omits.
const minSuffixMatchDigits = 8

// SidePanelConfig configures a SidePanelFetcher.
type SidePanelConfig struct {
	CacheSize int
	CacheTTL  time.Duration
	Now       func() time.Time
}

// SidePanelFetcher resolves lead and proposal data for the selected contact.
type SidePanelFetcher struct {
	source LeadSource
	cache  *panelCache
	now    func() time.Time
	logger zerolog.Logger

	mu         sync.Mutex
	generation uint64
	phone      string
	record     models.SidePanelRecord

	listenMu  sync.Mutex
	listeners map[int]func(models.SidePanelRecord)
	nextLis   int
}

// NewSidePanelFetcher creates a fetcher with an empty record.
func NewSidePanelFetcher(source LeadSource, cfg SidePanelConfig) *SidePanelFetcher {
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &SidePanelFetcher{
		source:    source,
		cache:     newPanelCache(cfg.CacheSize, cfg.CacheTTL),
		now:       now,
		logger:    logging.Component("chatsync.sidepanel"),
		listeners: make(map[int]func(models.SidePanelRecord)),
	}
}

// Subscribe registers fn to receive the record whenever it changes.
func (f *SidePanelFetcher) Subscribe(fn func(models.SidePanelRecord)) (unsubscribe func()) {
	f.listenMu.Lock()
	defer f.listenMu.Unlock()
	id := f.nextLis
	f.nextLis++
	f.listeners[id] = fn
	return func() {
		f.listenMu.Lock()
		defer f.listenMu.Unlock()
		delete(f.listeners, id)
	}
}

func (f *SidePanelFetcher) publish(record models.SidePanelRecord) {
	f.listenMu.Lock()
	fns := make([]func(models.SidePanelRecord), 0, len(f.listeners))
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.listenMu.Unlock()
	for _, fn := range fns {
		fn(record)
	}
}

// Current returns the record for the current phone.
func (f *SidePanelFetcher) Current() models.SidePanelRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record
}

// Phone returns the phone the panel is showing.
func (f *SidePanelFetcher) Phone() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.phone
}

// Reset clears the record, for example when the selected contact changes.
func (f *SidePanelFetcher) Reset() {
	f.mu.Lock()
	f.generation++
	f.phone = ""
	f.record = models.SidePanelRecord{}
	f.mu.Unlock()
	f.publish(models.SidePanelRecord{})
}

// FetchFor loads lead data for phone. An empty phone returns ErrNoPhone
// without touching state. A cached record younger than the TTL is served
// without a network call. When the selection moves on while the fetch is in
// flight the result is cached and ErrStaleResult is returned.
func (f *SidePanelFetcher) FetchFor(ctx context.Context, phone string) (models.SidePanelRecord, error) {
	key := models.NormalizePhone(phone)
	if key == "" {
		return models.SidePanelRecord{}, ErrNoPhone
	}
	return f.fetch(ctx, key, nil)
}

// Generation identifies the current selection. It changes on Reset and
// whenever a fetch switches to another phone.
func (f *SidePanelFetcher) Generation() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.generation
}

// fetch adopts key as the current phone and resolves it. With expected set
// the fetch only proceeds while the generation still matches; otherwise it
// returns ErrStaleResult and leaves state alone.
func (f *SidePanelFetcher) fetch(ctx context.Context, key string, expected *uint64) (models.SidePanelRecord, error) {
	f.mu.Lock()
	if expected != nil && *expected != f.generation {
		f.mu.Unlock()
		f.logger.Debug().Msg("skipping side panel poll scheduled for previous contact")
		return models.SidePanelRecord{}, ErrStaleResult
	}
	var cleared bool
	if key != f.phone {
		f.generation++
		f.phone = key
		f.record = models.SidePanelRecord{Phone: key}
		cleared = true
	}
	generation := f.generation
	f.mu.Unlock()
	if cleared {
		f.publish(models.SidePanelRecord{Phone: key})
	}

	if record, ok := f.cache.get(key, f.now()); ok {
		return f.apply(generation, record)
	}

	record, err := f.resolve(ctx, key)
	if err != nil {
		return models.SidePanelRecord{}, err
	}
	f.cache.put(key, record, f.now())
	return f.apply(generation, record)
}

// Refresh drops the cached record for the current phone and fetches it again.
func (f *SidePanelFetcher) Refresh(ctx context.Context) (models.SidePanelRecord, error) {
	phone := f.Phone()
	if phone == "" {
		return models.SidePanelRecord{}, ErrNoPhone
	}
	f.cache.invalidate(phone)
	return f.FetchFor(ctx, phone)
}

func (f *SidePanelFetcher) apply(generation uint64, record models.SidePanelRecord) (models.SidePanelRecord, error) {
	f.mu.Lock()
	if generation != f.generation {
		f.mu.Unlock()
		f.logger.Debug().Msg("discarding side panel result for previous contact")
		return record, ErrStaleResult
	}
	f.record = record
	f.mu.Unlock()
	f.publish(record)
	return record, nil
}

func (f *SidePanelFetcher) resolve(ctx context.Context, phone string) (models.SidePanelRecord, error) {
	record := models.SidePanelRecord{Phone: phone, FetchedAt: f.now()}

	leads, err := f.source.Leads(ctx)
	if err != nil {
		return record, err
	}
	lead, ok := findLead(leads, phone)
	if !ok {
		return record, nil
	}
	record.LeadID = stringPtr(lead.ID)
	record.LeadName = stringPtr(lead.Name)
	record.LeadStatus = stringPtr(lead.Status)
	record.Balance = lead.Balance
	record.Simulation = lead.Simulation

	proposals, err := f.source.Proposals(ctx, lead.ID)
	if err != nil {
		return record, err
	}
	if latest, ok := latestProposal(proposals); ok {
		record.ProposalID = stringPtr(latest.ID)
		record.ProposalStatus = stringPtr(latest.Status)
		record.ProposalValue = latest.Value
		created := latest.CreatedAt
		record.ProposalCreatedAt = &created
	}
	return record, nil
}

// findLead prefers an exact digit match and falls back to the longest
// shared suffix of at least minSuffixMatchDigits.
func findLead(leads []models.Lead, phone string) (models.Lead, bool) {
	var (
		best    models.Lead
		bestLen int
	)
	for _, lead := range leads {
		candidate := models.NormalizePhone(lead.Phone)
		if candidate == "" {
			continue
		}
		if candidate == phone {
			return lead, true
		}
		if n := commonSuffixLen(candidate, phone); n >= minSuffixMatchDigits && n > bestLen &&
			(n == len(candidate) || n == len(phone)) {
			best = lead
			bestLen = n
		}
	}
	return best, bestLen > 0
}

func commonSuffixLen(a, b string) int {
	n := 0
	for i, j := len(a)-1, len(b)-1; i >= 0 && j >= 0 && a[i] == b[j]; i, j = i-1, j-1 {
		n++
	}
	return n
}

func latestProposal(proposals []models.Proposal) (models.Proposal, bool) {
	if len(proposals) == 0 {
		return models.Proposal{}, false
	}
	latest := proposals[0]
	for _, p := range proposals[1:] {
		if p.CreatedAt.After(latest.CreatedAt) {
			latest = p
		}
	}
	return latest, true
}

func stringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Poll refetches lead data for phone, bypassing the cache. generation is
// the Generation observed when the poll was scheduled; if the selection has
// changed since, ErrStaleResult is returned and the panel is left alone.
func (f *SidePanelFetcher) Poll(ctx context.Context, phone string, generation uint64) (models.SidePanelRecord, error) {
	key := models.NormalizePhone(phone)
	if key == "" {
		return models.SidePanelRecord{}, ErrNoPhone
	}
	f.cache.invalidate(key)
	return f.fetch(ctx, key, &generation)
}
