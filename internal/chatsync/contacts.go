package chatsync

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tOgg1/leadsync/internal/crmapi"
	"github.com/tOgg1/leadsync/internal/logging"
	"github.com/tOgg1/leadsync/internal/models"
)

const (
	defaultContactPageSize = 30
	defaultPatchTTL        = 2 * time.Minute
)

// ContactSnapshot is a copy of the contact list handed to listeners.
type ContactSnapshot struct {
	Contacts []models.Contact
	Page     int
	HasMore  bool
	Total    int
	Instance string
	Search   string
}

// ContactStoreConfig configures a ContactStore.
type ContactStoreConfig struct {
	PageSize int
	Instance string
	// PatchTTL bounds how long a local patch overrides server data that
	// has not caught up yet.
	PatchTTL time.Duration
	Now      func() time.Time
}

type pendingPatch struct {
	patch   models.ContactPatch
	expires time.Time
}

// ContactStore holds the inbox contact list.
type ContactStore struct {
	source ContactSource
	cfg    ContactStoreConfig
	logger zerolog.Logger

	mu         sync.Mutex
	generation uint64
	contacts   []models.Contact
	page       int
	hasMore    bool
	total      int
	instance   string
	search     string
	pending    map[string]pendingPatch
	toggling   map[string]struct{}

	listenMu  sync.Mutex
	listeners map[int]func(ContactSnapshot)
	nextLis   int
}

// NewContactStore creates an empty store.
func NewContactStore(source ContactSource, cfg ContactStoreConfig) *ContactStore {
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultContactPageSize
	}
	if cfg.PatchTTL <= 0 {
		cfg.PatchTTL = defaultPatchTTL
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &ContactStore{
		source:    source,
		cfg:       cfg,
		logger:    logging.Component("chatsync.contacts"),
		instance:  cfg.Instance,
		pending:   make(map[string]pendingPatch),
		toggling:  make(map[string]struct{}),
		listeners: make(map[int]func(ContactSnapshot)),
	}
}

// Subscribe registers fn to receive a snapshot after every mutation.
func (s *ContactStore) Subscribe(fn func(ContactSnapshot)) (unsubscribe func()) {
	s.listenMu.Lock()
	defer s.listenMu.Unlock()
	id := s.nextLis
	s.nextLis++
	s.listeners[id] = fn
	return func() {
		s.listenMu.Lock()
		defer s.listenMu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *ContactStore) publish(snap *ContactSnapshot) {
	if snap == nil {
		return
	}
	s.listenMu.Lock()
	fns := make([]func(ContactSnapshot), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenMu.Unlock()
	for _, fn := range fns {
		fn(*snap)
	}
}

func (s *ContactStore) snapshotLocked() *ContactSnapshot {
	return &ContactSnapshot{
		Contacts: append([]models.Contact(nil), s.contacts...),
		Page:     s.page,
		HasMore:  s.hasMore,
		Total:    s.total,
		Instance: s.instance,
		Search:   s.search,
	}
}

// Snapshot returns a copy of the current list.
func (s *ContactStore) Snapshot() ContactSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.snapshotLocked()
}

// Contacts returns a copy of the list in display order.
func (s *ContactStore) Contacts() []models.Contact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Contact(nil), s.contacts...)
}

// Contact looks up a contact by id or remote jid.
func (s *ContactStore) Contact(id string) (models.Contact, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx := s.indexLocked(id); idx >= 0 {
		return s.contacts[idx], true
	}
	return models.Contact{}, false
}

// HasMore reports whether another page is available.
func (s *ContactStore) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore
}

// Refresh reloads page 1 and replaces the list with it. Pages loaded by
// LoadMore are kept when they are not part of page 1.
func (s *ContactStore) Refresh(ctx context.Context) error {
	return s.fetch(ctx, 1)
}

// LoadMore appends the next page.
func (s *ContactStore) LoadMore(ctx context.Context) error {
	s.mu.Lock()
	if s.page > 0 && !s.hasMore {
		s.mu.Unlock()
		return ErrNoMorePages
	}
	next := s.page + 1
	s.mu.Unlock()
	return s.fetch(ctx, next)
}

func (s *ContactStore) fetch(ctx context.Context, page int) error {
	s.mu.Lock()
	generation := s.generation
	q := crmapi.ContactQuery{Page: page, Limit: s.cfg.PageSize, Instance: s.instance, Search: s.search}
	s.mu.Unlock()

	result, err := s.source.Contacts(ctx, q)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if generation != s.generation {
		s.mu.Unlock()
		return ErrStaleResult
	}
	now := s.cfg.Now()
	incoming := make([]models.Contact, 0, len(result.Contacts))
	for _, c := range result.Contacts {
		incoming = append(incoming, s.applyPendingLocked(c, now))
	}
	if page <= 1 {
		s.contacts = s.replaceFirstPageLocked(incoming)
		if s.page <= 1 {
			s.page = 1
			s.hasMore = result.HasMore
		}
	} else {
		s.contacts = mergeContacts(s.contacts, incoming)
		s.page = page
		s.hasMore = result.HasMore
	}
	s.total = result.Total
	sortContacts(s.contacts)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.publish(snap)
	return nil
}

// replaceFirstPageLocked swaps in a fresh page 1. Before any older page was
// loaded the whole list is replaced; afterwards entries from later pages are
// kept so the user does not lose scroll position.
func (s *ContactStore) replaceFirstPageLocked(first []models.Contact) []models.Contact {
	if s.page <= 1 {
		return first
	}
	return mergeContacts(s.contacts, first)
}

func mergeContacts(existing, incoming []models.Contact) []models.Contact {
	out := append([]models.Contact(nil), existing...)
	byJID := make(map[string]int, len(out))
	for i, c := range out {
		byJID[c.RemoteJID] = i
	}
	for _, c := range incoming {
		if idx, ok := byJID[c.RemoteJID]; ok {
			out[idx] = c
			continue
		}
		byJID[c.RemoteJID] = len(out)
		out = append(out, c)
	}
	return out
}

// applyPendingLocked overlays a local patch on server data until the server
// reports the same values or the patch expires.
func (s *ContactStore) applyPendingLocked(c models.Contact, now time.Time) models.Contact {
	p, ok := s.pending[c.RemoteJID]
	if !ok {
		return c
	}
	if now.After(p.expires) || p.patch.Matches(c) {
		delete(s.pending, c.RemoteJID)
		return c
	}
	p.patch.Apply(&c)
	return c
}

// SetFilter changes the instance and search filters and clears the list.
// In-flight pages for the old filter are discarded.
func (s *ContactStore) SetFilter(instance, search string) {
	search = strings.TrimSpace(search)
	s.mu.Lock()
	if instance == s.instance && search == s.search {
		s.mu.Unlock()
		return
	}
	s.instance = instance
	s.search = search
	s.generation++
	s.contacts = nil
	s.page = 0
	s.hasMore = false
	s.total = 0
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.publish(snap)
}

// UpdateContact applies a local partial update. Only the matching contact
// changes; the patch is re-applied over polls until the server agrees.
func (s *ContactStore) UpdateContact(id string, patch models.ContactPatch) error {
	if patch.IsEmpty() {
		return nil
	}
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return ErrUnknownContact
	}
	patch.Apply(&s.contacts[idx])
	jid := s.contacts[idx].RemoteJID
	if existing, ok := s.pending[jid]; ok {
		patch = mergePatches(existing.patch, patch)
	}
	s.pending[jid] = pendingPatch{patch: patch, expires: s.cfg.Now().Add(s.cfg.PatchTTL)}
	sortContacts(s.contacts)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.publish(snap)
	return nil
}

// MarkRead zeroes the unread counter of a contact.
func (s *ContactStore) MarkRead(id string) error {
	zero := 0
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx >= 0 && s.contacts[idx].UnreadCount == 0 {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return s.UpdateContact(id, models.ContactPatch{UnreadCount: &zero})
}

// ToggleAI flips the agent state optimistically and reverts on failure.
func (s *ContactStore) ToggleAI(ctx context.Context, id string) (models.AgentState, error) {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return "", ErrUnknownContact
	}
	contact := s.contacts[idx]
	if _, busy := s.toggling[contact.RemoteJID]; busy {
		s.mu.Unlock()
		return contact.AgentState, ErrFetchInProgress
	}
	s.toggling[contact.RemoteJID] = struct{}{}
	previous := contact.AgentState
	s.mu.Unlock()

	next := previous.Toggled()
	if err := s.UpdateContact(id, models.ContactPatch{AgentState: &next}); err != nil {
		s.clearToggling(contact.RemoteJID)
		return previous, err
	}

	state, err := s.source.ToggleAI(ctx, contact.ID)
	s.clearToggling(contact.RemoteJID)
	if err != nil {
		s.logger.Warn().Err(err).Str("contact_id", contact.ID).Msg("toggle ai failed; reverting")
		s.dropPendingAgentState(contact.RemoteJID)
		_ = s.UpdateContact(id, models.ContactPatch{AgentState: &previous})
		s.dropPendingAgentState(contact.RemoteJID)
		return previous, err
	}
	if state != next {
		_ = s.UpdateContact(id, models.ContactPatch{AgentState: &state})
	}
	return state, nil
}

func (s *ContactStore) clearToggling(jid string) {
	s.mu.Lock()
	delete(s.toggling, jid)
	s.mu.Unlock()
}

func (s *ContactStore) dropPendingAgentState(jid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[jid]
	if !ok {
		return
	}
	p.patch.AgentState = nil
	if p.patch.IsEmpty() {
		delete(s.pending, jid)
		return
	}
	s.pending[jid] = p
}

// Clear empties the list and discards pending patches.
func (s *ContactStore) Clear() {
	s.mu.Lock()
	s.generation++
	s.contacts = nil
	s.page = 0
	s.hasMore = false
	s.total = 0
	s.pending = make(map[string]pendingPatch)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.publish(snap)
}

func (s *ContactStore) indexLocked(id string) int {
	for i := range s.contacts {
		if s.contacts[i].ID == id || s.contacts[i].RemoteJID == id {
			return i
		}
	}
	return -1
}

func mergePatches(base, next models.ContactPatch) models.ContactPatch {
	if next.DisplayName != nil {
		base.DisplayName = next.DisplayName
	}
	if next.LastMessagePreview != nil {
		base.LastMessagePreview = next.LastMessagePreview
	}
	if next.LastMessageTime != nil {
		base.LastMessageTime = next.LastMessageTime
	}
	if next.UnreadCount != nil {
		base.UnreadCount = next.UnreadCount
	}
	if next.AgentState != nil {
		base.AgentState = next.AgentState
	}
	return base
}

// sortContacts puts the most recent conversation first.
func sortContacts(contacts []models.Contact) {
	sort.SliceStable(contacts, func(i, j int) bool {
		ti, tj := contacts[i].LastMessageTime, contacts[j].LastMessageTime
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return contacts[i].RemoteJID < contacts[j].RemoteJID
	})
}
