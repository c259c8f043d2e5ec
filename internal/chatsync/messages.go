package chatsync

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tOgg1/leadsync/internal/crmapi"
	"github.com/tOgg1/leadsync/internal/logging"
	"github.com/tOgg1/leadsync/internal/models"
)

const (
	defaultMessagePageSize   = 50
	defaultTempDedupWindow   = 10 * time.Second
	defaultServerDedupWindow = 5 * time.Second
)

// ChangeKind says what the last mutation did to the message list.
type ChangeKind string

const (
	ChangeReset     ChangeKind = "reset"
	ChangeAppended  ChangeKind = "appended"
	ChangePrepended ChangeKind = "prepended"
	ChangeRemoved   ChangeKind = "removed"
	ChangeUpdated   ChangeKind = "updated"
)

// MessageSnapshot is a copy of the store handed to listeners.
type MessageSnapshot struct {
	ConversationID string
	Messages       []models.Message
	Page           int
	HasMore        bool
	LoadingOlder   bool
	LastSeenID     string
	Change         ChangeKind
	// Added counts messages inserted by the change.
	Added int
}

// MessageStoreConfig configures a MessageStore.
type MessageStoreConfig struct {
	PageSize int
	// TempDedupWindow matches a server message to an optimistic one.
	TempDedupWindow time.Duration
	// ServerDedupWindow matches the same message delivered by overlapping polls.
	ServerDedupWindow time.Duration
	Now               func() time.Time
}

// MessageStore holds the ordered, deduplicated message list of the selected
// conversation.
type MessageStore struct {
	source MessageSource
	cfg    MessageStoreConfig
	logger zerolog.Logger

	tempSeq atomic.Uint64

	mu             sync.Mutex
	conversationID string
	recipientID    string
	generation     uint64
	messages       []models.Message
	ids            map[string]struct{}
	page           int
	hasMore        bool
	loadingOlder   bool
	historyCancel  context.CancelFunc
	lastSeenID     string
	sendKeys       map[string]string

	listenMu  sync.Mutex
	listeners map[int]func(MessageSnapshot)
	nextLis   int
}

// NewMessageStore creates an empty store.
func NewMessageStore(source MessageSource, cfg MessageStoreConfig) *MessageStore {
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultMessagePageSize
	}
	if cfg.TempDedupWindow <= 0 {
		cfg.TempDedupWindow = defaultTempDedupWindow
	}
	if cfg.ServerDedupWindow <= 0 {
		cfg.ServerDedupWindow = defaultServerDedupWindow
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &MessageStore{
		source:    source,
		cfg:       cfg,
		logger:    logging.Component("chatsync.messages"),
		ids:       make(map[string]struct{}),
		sendKeys:  make(map[string]string),
		listeners: make(map[int]func(MessageSnapshot)),
	}
}

// Subscribe registers fn to receive a snapshot after every mutation.
func (s *MessageStore) Subscribe(fn func(MessageSnapshot)) (unsubscribe func()) {
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

func (s *MessageStore) publish(snap *MessageSnapshot) {
	if snap == nil {
		return
	}
	s.listenMu.Lock()
	fns := make([]func(MessageSnapshot), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenMu.Unlock()
	for _, fn := range fns {
		fn(*snap)
	}
}

// snapshotLocked must be called with s.mu held.
func (s *MessageStore) snapshotLocked(change ChangeKind, added int) *MessageSnapshot {
	return &MessageSnapshot{
		ConversationID: s.conversationID,
		Messages:       append([]models.Message(nil), s.messages...),
		Page:           s.page,
		HasMore:        s.hasMore,
		LoadingOlder:   s.loadingOlder,
		LastSeenID:     s.lastSeenID,
		Change:         change,
		Added:          added,
	}
}

// Snapshot returns a copy of the current state.
func (s *MessageStore) Snapshot() MessageSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.snapshotLocked(ChangeUpdated, 0)
}

// ConversationID returns the selected conversation, or "".
func (s *MessageStore) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// Select switches the active conversation. The list is cleared, the page
// counter reset and any in-flight history fetch canceled. Selecting the
// current conversation again is a no-op.
func (s *MessageStore) Select(conversationID, recipientID string) bool {
	s.mu.Lock()
	if conversationID == s.conversationID {
		s.mu.Unlock()
		return false
	}
	s.conversationID = conversationID
	s.recipientID = recipientID
	s.resetLocked()
	snap := s.snapshotLocked(ChangeReset, 0)
	s.mu.Unlock()

	s.publish(snap)
	return true
}

// Clear drops the selection and every message.
func (s *MessageStore) Clear() {
	s.Select("", "")
}

func (s *MessageStore) resetLocked() {
	s.generation++
	if s.historyCancel != nil {
		s.historyCancel()
		s.historyCancel = nil
	}
	s.messages = nil
	s.ids = make(map[string]struct{})
	s.sendKeys = make(map[string]string)
	s.page = 0
	s.hasMore = false
	s.loadingOlder = false
	s.lastSeenID = ""
}

// FetchMessages loads a page of the conversation. With reset the list is
// replaced by page 1 (optimistic entries survive). Without reset page N+1 is
// fetched (page <= 0 picks it automatically), filtered by id and prepended;
// callers preserve the scroll anchor around the resulting ChangePrepended.
func (s *MessageStore) FetchMessages(ctx context.Context, conversationID string, page int, reset bool) error {
	s.mu.Lock()
	if conversationID == "" || conversationID != s.conversationID {
		s.mu.Unlock()
		return ErrStaleResult
	}
	fetchCtx := ctx
	if reset {
		page = 1
	} else {
		if s.loadingOlder {
			s.mu.Unlock()
			return ErrFetchInProgress
		}
		if s.page > 0 && !s.hasMore {
			s.mu.Unlock()
			return ErrNoMorePages
		}
		if page <= 0 {
			page = s.page + 1
		}
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithCancel(ctx)
		s.historyCancel = cancel
		s.loadingOlder = true
	}
	generation := s.generation
	var loadingSnap *MessageSnapshot
	if !reset {
		loadingSnap = s.snapshotLocked(ChangeUpdated, 0)
	}
	s.mu.Unlock()
	s.publish(loadingSnap)

	result, err := s.source.Messages(fetchCtx, conversationID, page, s.cfg.PageSize)

	s.mu.Lock()
	if generation != s.generation || conversationID != s.conversationID {
		s.mu.Unlock()
		s.logger.Debug().Str("conversation_id", conversationID).Int("page", page).Msg("discarding stale message page")
		return ErrStaleResult
	}
	if !reset {
		s.loadingOlder = false
		if s.historyCancel != nil {
			s.historyCancel()
			s.historyCancel = nil
		}
	}
	if err != nil {
		snap := s.snapshotLocked(ChangeUpdated, 0)
		s.mu.Unlock()
		if !reset {
			s.publish(snap)
		}
		return err
	}

	var (
		added  int
		change ChangeKind
	)
	if reset {
		s.keepTemporariesLocked()
		added = s.reconcileLocked(result.Messages)
		change = ChangeReset
	} else {
		added = s.reconcileLocked(result.Messages)
		change = ChangePrepended
	}
	s.page = page
	s.hasMore = derivedHasMore(result, s.cfg.PageSize)
	snap := s.snapshotLocked(change, added)
	s.mu.Unlock()

	s.publish(snap)
	return nil
}

// LoadOlder fetches the next historical page of the selected conversation.
func (s *MessageStore) LoadOlder(ctx context.Context) error {
	return s.FetchMessages(ctx, s.ConversationID(), 0, false)
}

// Poll fetches the newest page of the selected conversation and reconciles it.
func (s *MessageStore) Poll(ctx context.Context) error {
	s.mu.Lock()
	conversationID := s.conversationID
	generation := s.generation
	s.mu.Unlock()
	if conversationID == "" {
		return nil
	}

	result, err := s.source.Messages(ctx, conversationID, 1, s.cfg.PageSize)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if generation != s.generation || conversationID != s.conversationID {
		s.mu.Unlock()
		s.logger.Debug().Str("conversation_id", conversationID).Msg("discarding stale poll result")
		return ErrStaleResult
	}
	added := s.reconcileLocked(result.Messages)
	if s.page == 0 {
		s.page = 1
		s.hasMore = derivedHasMore(result, s.cfg.PageSize)
	}
	var snap *MessageSnapshot
	if added > 0 {
		snap = s.snapshotLocked(ChangeAppended, added)
	}
	s.mu.Unlock()

	s.publish(snap)
	return nil
}

// Reconcile merges a server batch for conversationID into the list and
// returns how many messages were inserted. Applying the same batch twice
// leaves the list as applying it once.
func (s *MessageStore) Reconcile(conversationID string, batch []models.Message) (int, error) {
	s.mu.Lock()
	if conversationID == "" || conversationID != s.conversationID {
		s.mu.Unlock()
		return 0, ErrStaleResult
	}
	added := s.reconcileLocked(batch)
	var snap *MessageSnapshot
	if added > 0 {
		snap = s.snapshotLocked(ChangeAppended, added)
	}
	s.mu.Unlock()

	s.publish(snap)
	return added, nil
}

func (s *MessageStore) reconcileLocked(batch []models.Message) int {
	added := 0
	for _, incoming := range batch {
		if s.isPresentLocked(incoming) {
			continue
		}
		if incoming.ConversationID == "" {
			incoming.ConversationID = s.conversationID
		}
		s.messages = append(s.messages, incoming)
		s.ids[incoming.ID] = struct{}{}
		added++
	}
	if added > 0 {
		sortMessages(s.messages)
		s.lastSeenID = s.messages[len(s.messages)-1].ID
	}
	return added
}

// isPresentLocked applies the three duplicate rules: same id; same content and
// direction as a temporary entry within the temp window; same content and
// direction as a server entry within the server window.
func (s *MessageStore) isPresentLocked(incoming models.Message) bool {
	if _, ok := s.ids[incoming.ID]; ok {
		return true
	}
	for _, existing := range s.messages {
		if existing.Content != incoming.Content || existing.Direction != incoming.Direction {
			continue
		}
		if existing.IsTemporary {
			if absDuration(incoming.CreatedAt.Sub(existing.CreatedAt)) < s.cfg.TempDedupWindow {
				return true
			}
			continue
		}
		if absDuration(incoming.EffectiveTime().Sub(existing.EffectiveTime())) < s.cfg.ServerDedupWindow {
			return true
		}
	}
	return false
}

func (s *MessageStore) keepTemporariesLocked() {
	kept := s.messages[:0]
	ids := make(map[string]struct{}, len(s.messages))
	for _, msg := range s.messages {
		if msg.IsTemporary {
			kept = append(kept, msg)
			ids[msg.ID] = struct{}{}
		}
	}
	s.messages = kept
	s.ids = ids
	s.lastSeenID = ""
	if len(kept) > 0 {
		s.lastSeenID = kept[len(kept)-1].ID
	}
}

// AppendOptimistic inserts a temporary message before the server has seen it.
func (s *MessageStore) AppendOptimistic(content string, direction models.Direction) (models.Message, error) {
	s.mu.Lock()
	if s.conversationID == "" {
		s.mu.Unlock()
		return models.Message{}, ErrNoConversation
	}
	now := s.cfg.Now()
	msg := models.Message{
		ID:             fmt.Sprintf("%s%d_%d", models.TempIDPrefix, now.UnixMilli(), s.tempSeq.Add(1)),
		ConversationID: s.conversationID,
		Content:        content,
		Direction:      direction,
		CreatedAt:      now,
		IsTemporary:    true,
		Status:         models.MessageStatusSending,
	}
	s.messages = append(s.messages, msg)
	s.ids[msg.ID] = struct{}{}
	sortMessages(s.messages)
	s.lastSeenID = s.messages[len(s.messages)-1].ID
	snap := s.snapshotLocked(ChangeAppended, 1)
	s.mu.Unlock()

	s.publish(snap)
	return msg, nil
}

// Send appends an optimistic outbound message and posts it. When the server
// acknowledges, the temporary entry is removed; the authoritative copy shows
// up on the next poll. On failure the entry stays with status failed.
func (s *MessageStore) Send(ctx context.Context, content string) (models.Message, error) {
	temp, err := s.AppendOptimistic(content, models.DirectionOutbound)
	if err != nil {
		return models.Message{}, err
	}
	key := uuid.NewString()
	s.mu.Lock()
	s.sendKeys[temp.ID] = key
	s.mu.Unlock()
	return temp, s.deliver(ctx, temp, key)
}

// Retry resends a failed optimistic message with its original idempotency key.
func (s *MessageStore) Retry(ctx context.Context, tempID string) error {
	s.mu.Lock()
	idx := s.indexLocked(tempID)
	if idx < 0 || !s.messages[idx].IsTemporary {
		s.mu.Unlock()
		return ErrUnknownMessage
	}
	s.messages[idx].Status = models.MessageStatusSending
	temp := s.messages[idx]
	key, ok := s.sendKeys[tempID]
	if !ok {
		key = uuid.NewString()
		s.sendKeys[tempID] = key
	}
	snap := s.snapshotLocked(ChangeUpdated, 0)
	s.mu.Unlock()

	s.publish(snap)
	return s.deliver(ctx, temp, key)
}

// Discard removes a temporary message without sending it.
func (s *MessageStore) Discard(tempID string) error {
	s.mu.Lock()
	if !s.removeTempLocked(tempID) {
		s.mu.Unlock()
		return ErrUnknownMessage
	}
	snap := s.snapshotLocked(ChangeRemoved, 0)
	s.mu.Unlock()

	s.publish(snap)
	return nil
}

func (s *MessageStore) deliver(ctx context.Context, temp models.Message, key string) error {
	s.mu.Lock()
	recipientID := s.recipientID
	generation := s.generation
	s.mu.Unlock()

	_, err := s.source.SendMessage(ctx, crmapi.SendRequest{
		ConversationID: temp.ConversationID,
		Content:        temp.Content,
		RecipientID:    recipientID,
		Direction:      temp.Direction,
		MessageID:      key,
	})

	s.mu.Lock()
	if generation != s.generation {
		// Conversation changed while sending; the list no longer holds temp.
		s.mu.Unlock()
		return err
	}
	var snap *MessageSnapshot
	if err != nil {
		if idx := s.indexLocked(temp.ID); idx >= 0 {
			s.messages[idx].Status = models.MessageStatusFailed
			snap = s.snapshotLocked(ChangeUpdated, 0)
		}
	} else if s.removeTempLocked(temp.ID) {
		snap = s.snapshotLocked(ChangeRemoved, 0)
	}
	s.mu.Unlock()

	s.publish(snap)
	if err != nil {
		s.logger.Warn().Err(err).Str("temp_id", temp.ID).Msg("send failed")
	}
	return err
}

func (s *MessageStore) indexLocked(id string) int {
	for i := range s.messages {
		if s.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *MessageStore) removeTempLocked(id string) bool {
	idx := s.indexLocked(id)
	if idx < 0 || !s.messages[idx].IsTemporary {
		return false
	}
	s.messages = append(s.messages[:idx], s.messages[idx+1:]...)
	delete(s.ids, id)
	delete(s.sendKeys, id)
	s.lastSeenID = ""
	if n := len(s.messages); n > 0 {
		s.lastSeenID = s.messages[n-1].ID
	}
	return true
}

// sortMessages orders by effective time; ties keep a deterministic id order.
func sortMessages(messages []models.Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		ti, tj := messages[i].EffectiveTime(), messages[j].EffectiveTime()
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return messages[i].ID < messages[j].ID
	})
}

func derivedHasMore(page crmapi.MessagePage, pageSize int) bool {
	if page.HasMore != nil {
		return *page.HasMore
	}
	return len(page.Messages)+page.Dropped >= pageSize
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
