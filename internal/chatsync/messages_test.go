package chatsync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tOgg1/leadsync/internal/crmapi"
	"github.com/tOgg1/leadsync/internal/models"
)

func newTestMessageStore(source *fakeMessages, clock *fakeClock) *MessageStore {
	return NewMessageStore(source, MessageStoreConfig{PageSize: 3, Now: clock.Now})
}

func historyPage(conversationID string, start, n int) []models.Message {
	out := make([]models.Message, 0, n)
	for i := start; i < start+n; i++ {
		out = append(out, msg(fmt.Sprintf("m%03d", i), fmt.Sprintf("body %d", i), models.DirectionInbound, t0.Add(time.Duration(i)*time.Minute)))
	}
	return out
}

func TestReconcileIsIdempotent(t *testing.T) {
	store := newTestMessageStore(&fakeMessages{}, newFakeClock())
	store.Select("c1", "jid1")

	batch := []models.Message{
		msg("a", "one", models.DirectionInbound, t0),
		msg("b", "two", models.DirectionOutbound, t0.Add(time.Minute)),
		msg("c", "three", models.DirectionInbound, t0.Add(2*time.Minute)),
	}
	added, err := store.Reconcile("c1", batch)
	require.NoError(t, err)
	require.Equal(t, 3, added)
	first := store.Snapshot()

	added, err = store.Reconcile("c1", batch)
	require.NoError(t, err)
	require.Equal(t, 0, added)
	second := store.Snapshot()

	require.Equal(t, first.Messages, second.Messages)
	require.Equal(t, "c", second.LastSeenID)
}

func TestReconcileKeepsOrderAndUniqueIDs(t *testing.T) {
	store := newTestMessageStore(&fakeMessages{}, newFakeClock())
	store.Select("c1", "jid1")

	_, err := store.Reconcile("c1", []models.Message{
		msg("z", "late", models.DirectionInbound, t0.Add(3*time.Minute)),
		msg("b", "tie b", models.DirectionInbound, t0.Add(time.Minute)),
		msg("a", "tie a", models.DirectionOutbound, t0.Add(time.Minute)),
	})
	require.NoError(t, err)

	late := msg("y", "with timestamp", models.DirectionInbound, t0.Add(10*time.Minute))
	late.Timestamp = t0.Add(2 * time.Minute)
	_, err = store.Reconcile("c1", []models.Message{late, msg("a", "tie a", models.DirectionOutbound, t0.Add(time.Minute))})
	require.NoError(t, err)

	snap := store.Snapshot()
	require.Equal(t, []string{"a", "b", "y", "z"}, ids(snap.Messages))
	require.True(t, sort.SliceIsSorted(snap.Messages, func(i, j int) bool {
		return snap.Messages[i].EffectiveTime().Before(snap.Messages[j].EffectiveTime())
	}))

	seen := map[string]bool{}
	for _, m := range snap.Messages {
		require.False(t, seen[m.ID], "duplicate id %s", m.ID)
		seen[m.ID] = true
	}
}

func TestReconcileDedupWindows(t *testing.T) {
	tests := []struct {
		name     string
		existing models.Message
		incoming models.Message
		added    int
	}{
		{
			name:     "server copy inside window",
			existing: msg("s1", "ok", models.DirectionInbound, t0),
			incoming: msg("s2", "ok", models.DirectionInbound, t0.Add(4*time.Second)),
			added:    0,
		},
		{
			name:     "server copy outside window",
			existing: msg("s1", "ok", models.DirectionInbound, t0),
			incoming: msg("s2", "ok", models.DirectionInbound, t0.Add(5*time.Second)),
			added:    1,
		},
		{
			name:     "different direction",
			existing: msg("s1", "ok", models.DirectionInbound, t0),
			incoming: msg("s2", "ok", models.DirectionOutbound, t0.Add(time.Second)),
			added:    1,
		},
		{
			name:     "different content",
			existing: msg("s1", "ok", models.DirectionInbound, t0),
			incoming: msg("s2", "ok!", models.DirectionInbound, t0.Add(time.Second)),
			added:    1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestMessageStore(&fakeMessages{}, newFakeClock())
			store.Select("c1", "jid1")
			_, err := store.Reconcile("c1", []models.Message{tt.existing})
			require.NoError(t, err)

			added, err := store.Reconcile("c1", []models.Message{tt.incoming})
			require.NoError(t, err)
			require.Equal(t, tt.added, added)
		})
	}
}

func TestReconcileDropsDuplicatesWithinBatch(t *testing.T) {
	store := newTestMessageStore(&fakeMessages{}, newFakeClock())
	store.Select("c1", "jid1")

	added, err := store.Reconcile("c1", []models.Message{
		msg("a", "same", models.DirectionInbound, t0),
		msg("a", "same", models.DirectionInbound, t0),
		msg("b", "same", models.DirectionInbound, t0.Add(2*time.Second)),
	})
	require.NoError(t, err)
	require.Equal(t, 1, added)
}

func TestReconcileRejectsOtherConversation(t *testing.T) {
	store := newTestMessageStore(&fakeMessages{}, newFakeClock())
	store.Select("c1", "jid1")

	_, err := store.Reconcile("c2", []models.Message{msg("a", "x", models.DirectionInbound, t0)})
	require.ErrorIs(t, err, ErrStaleResult)
	require.Empty(t, store.Snapshot().Messages)
}

func TestOptimisticSendStaysSingle(t *testing.T) {
	clock := newFakeClock()
	release := make(chan struct{})
	source := &fakeMessages{
		sendFn: func(ctx context.Context, req crmapi.SendRequest) (models.Message, error) {
			<-release
			return models.Message{ID: "srv1", Content: req.Content, Direction: models.DirectionOutbound, CreatedAt: clock.Now()}, nil
		},
	}
	store := newTestMessageStore(source, clock)
	store.Select("c1", "5511999990000@s.whatsapp.net")

	done := make(chan error, 1)
	go func() {
		_, err := store.Send(context.Background(), "hello")
		done <- err
	}()

	require.Eventually(t, func() bool { return len(store.Snapshot().Messages) == 1 }, time.Second, 5*time.Millisecond)
	temp := store.Snapshot().Messages[0]
	require.True(t, temp.IsTemporary)
	require.True(t, strings.HasPrefix(temp.ID, models.TempIDPrefix))
	require.Equal(t, models.MessageStatusSending, temp.Status)

	// Server copy delivered by a poll while the send is still in flight.
	serverCopy := msg("srv1", "hello", models.DirectionOutbound, clock.Now().Add(2*time.Second))
	added, err := store.Reconcile("c1", []models.Message{serverCopy})
	require.NoError(t, err)
	require.Equal(t, 0, added)
	require.Len(t, store.Snapshot().Messages, 1)

	close(release)
	require.NoError(t, <-done)
	require.Empty(t, store.Snapshot().Messages, "acknowledged temp entry is removed")

	added, err = store.Reconcile("c1", []models.Message{serverCopy})
	require.NoError(t, err)
	require.Equal(t, 1, added)
	snap := store.Snapshot()
	require.Len(t, snap.Messages, 1)
	require.Equal(t, "srv1", snap.Messages[0].ID)
	require.False(t, snap.Messages[0].IsTemporary)

	sent := source.sentRequests()
	require.Len(t, sent, 1)
	require.Equal(t, "c1", sent[0].ConversationID)
	require.Equal(t, "5511999990000@s.whatsapp.net", sent[0].RecipientID)
	require.Equal(t, models.DirectionOutbound, sent[0].Direction)
	require.NotEmpty(t, sent[0].MessageID)
}

func TestSendFailureKeepsFailedEntryAndRetryReusesKey(t *testing.T) {
	clock := newFakeClock()
	fail := true
	var mu sync.Mutex
	source := &fakeMessages{
		sendFn: func(ctx context.Context, req crmapi.SendRequest) (models.Message, error) {
			mu.Lock()
			defer mu.Unlock()
			if fail {
				return models.Message{}, &crmapi.ServerError{Op: "send message", Status: 502}
			}
			return models.Message{ID: "srv1"}, nil
		},
	}
	store := newTestMessageStore(source, clock)
	store.Select("c1", "jid1")

	temp, err := store.Send(context.Background(), "hi")
	require.Error(t, err)
	require.True(t, crmapi.IsServer(err))

	snap := store.Snapshot()
	require.Len(t, snap.Messages, 1)
	require.Equal(t, temp.ID, snap.Messages[0].ID)
	require.Equal(t, models.MessageStatusFailed, snap.Messages[0].Status)

	mu.Lock()
	fail = false
	mu.Unlock()
	require.NoError(t, store.Retry(context.Background(), temp.ID))
	require.Empty(t, store.Snapshot().Messages)

	sent := source.sentRequests()
	require.Len(t, sent, 2)
	require.Equal(t, sent[0].MessageID, sent[1].MessageID)

	require.ErrorIs(t, store.Retry(context.Background(), temp.ID), ErrUnknownMessage)
}

func TestDiscardRemovesOnlyTemporaries(t *testing.T) {
	store := newTestMessageStore(&fakeMessages{}, newFakeClock())
	store.Select("c1", "jid1")
	_, err := store.Reconcile("c1", []models.Message{msg("a", "x", models.DirectionInbound, t0)})
	require.NoError(t, err)
	temp, err := store.AppendOptimistic("draft", models.DirectionOutbound)
	require.NoError(t, err)

	require.ErrorIs(t, store.Discard("a"), ErrUnknownMessage)
	require.NoError(t, store.Discard(temp.ID))
	require.Equal(t, []string{"a"}, ids(store.Snapshot().Messages))
}

func TestAppendOptimisticRequiresConversation(t *testing.T) {
	store := newTestMessageStore(&fakeMessages{}, newFakeClock())
	_, err := store.AppendOptimistic("x", models.DirectionOutbound)
	require.ErrorIs(t, err, ErrNoConversation)
}

func TestTempIDsAreUnique(t *testing.T) {
	store := newTestMessageStore(&fakeMessages{}, newFakeClock())
	store.Select("c1", "jid1")
	a, err := store.AppendOptimistic("x", models.DirectionOutbound)
	require.NoError(t, err)
	b, err := store.AppendOptimistic("y", models.DirectionOutbound)
	require.NoError(t, err)
	require.NotEqual(t, a.ID, b.ID)
}

func TestFetchMessagesPaginatesAndPrepends(t *testing.T) {
	source := &fakeMessages{
		messagesFn: func(ctx context.Context, conversationID string, page, limit int) (crmapi.MessagePage, error) {
			switch page {
			case 1:
				return crmapi.MessagePage{ConversationID: conversationID, Page: 1, Limit: limit, Messages: historyPage(conversationID, 10, 3)}, nil
			case 2:
				return crmapi.MessagePage{ConversationID: conversationID, Page: 2, Limit: limit, Messages: historyPage(conversationID, 8, 3)}, nil
			default:
				return crmapi.MessagePage{ConversationID: conversationID, Page: page, Limit: limit, HasMore: boolPtr(false)}, nil
			}
		},
	}
	store := newTestMessageStore(source, newFakeClock())
	store.Select("c1", "jid1")

	var changes []MessageSnapshot
	unsubscribe := store.Subscribe(func(s MessageSnapshot) { changes = append(changes, s) })
	defer unsubscribe()

	require.NoError(t, store.FetchMessages(context.Background(), "c1", 1, true))
	snap := store.Snapshot()
	require.Equal(t, []string{"m010", "m011", "m012"}, ids(snap.Messages))
	require.True(t, snap.HasMore)
	require.Equal(t, 1, snap.Page)

	require.NoError(t, store.LoadOlder(context.Background()))
	snap = store.Snapshot()
	require.Equal(t, []string{"m008", "m009", "m010", "m011", "m012"}, ids(snap.Messages))
	require.Equal(t, 2, snap.Page)

	last := changes[len(changes)-1]
	require.Equal(t, ChangePrepended, last.Change)
	require.Equal(t, 2, last.Added)
	require.False(t, last.LoadingOlder)

	require.NoError(t, store.LoadOlder(context.Background()))
	require.False(t, store.Snapshot().HasMore)
	require.ErrorIs(t, store.LoadOlder(context.Background()), ErrNoMorePages)
}

func TestFetchMessagesResetKeepsTemporaries(t *testing.T) {
	source := &fakeMessages{
		messagesFn: func(ctx context.Context, conversationID string, page, limit int) (crmapi.MessagePage, error) {
			return crmapi.MessagePage{ConversationID: conversationID, Messages: historyPage(conversationID, 0, 1)}, nil
		},
	}
	clock := newFakeClock()
	clock.Advance(time.Hour)
	store := newTestMessageStore(source, clock)
	store.Select("c1", "jid1")
	_, err := store.Reconcile("c1", []models.Message{msg("old", "gone", models.DirectionInbound, t0)})
	require.NoError(t, err)
	temp, err := store.AppendOptimistic("pending", models.DirectionOutbound)
	require.NoError(t, err)

	require.NoError(t, store.FetchMessages(context.Background(), "c1", 1, true))
	snap := store.Snapshot()
	require.Equal(t, []string{"m000", temp.ID}, ids(snap.Messages))
	require.False(t, snap.HasMore)
}

func TestStaleHistoryFetchIsDiscarded(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var historyCtxErr error
	source := &fakeMessages{
		messagesFn: func(ctx context.Context, conversationID string, page, limit int) (crmapi.MessagePage, error) {
			if conversationID == "x" && page == 2 {
				close(entered)
				<-release
				historyCtxErr = ctx.Err()
				return crmapi.MessagePage{ConversationID: "x", Page: 2, Messages: historyPage("x", 0, 3)}, nil
			}
			return crmapi.MessagePage{ConversationID: conversationID, Page: page, Messages: historyPage(conversationID, 10, 3)}, nil
		},
	}
	store := newTestMessageStore(source, newFakeClock())
	store.Select("x", "jidx")
	require.NoError(t, store.FetchMessages(context.Background(), "x", 1, true))

	done := make(chan error, 1)
	go func() { done <- store.LoadOlder(context.Background()) }()
	<-entered
	require.True(t, store.Snapshot().LoadingOlder)

	store.Select("y", "jidy")
	close(release)
	require.ErrorIs(t, <-done, ErrStaleResult)
	require.ErrorIs(t, historyCtxErr, context.Canceled)

	snap := store.Snapshot()
	require.Equal(t, "y", snap.ConversationID)
	require.Empty(t, snap.Messages)
	require.False(t, snap.LoadingOlder)
}

func TestLoadOlderRejectsConcurrentFetch(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	source := &fakeMessages{
		messagesFn: func(ctx context.Context, conversationID string, page, limit int) (crmapi.MessagePage, error) {
			if page == 2 {
				close(entered)
				<-release
			}
			return crmapi.MessagePage{ConversationID: conversationID, Messages: historyPage(conversationID, 10-3*page, 3)}, nil
		},
	}
	store := newTestMessageStore(source, newFakeClock())
	store.Select("c1", "jid1")
	require.NoError(t, store.FetchMessages(context.Background(), "c1", 1, true))

	done := make(chan error, 1)
	go func() { done <- store.LoadOlder(context.Background()) }()
	<-entered
	require.ErrorIs(t, store.LoadOlder(context.Background()), ErrFetchInProgress)
	close(release)
	require.NoError(t, <-done)
}

func TestPollAppendsNewMessages(t *testing.T) {
	var mu sync.Mutex
	batch := historyPage("c1", 0, 2)
	source := &fakeMessages{
		messagesFn: func(ctx context.Context, conversationID string, page, limit int) (crmapi.MessagePage, error) {
			mu.Lock()
			defer mu.Unlock()
			return crmapi.MessagePage{ConversationID: conversationID, Messages: append([]models.Message(nil), batch...)}, nil
		},
	}
	store := newTestMessageStore(source, newFakeClock())
	store.Select("c1", "jid1")

	var kinds []ChangeKind
	store.Subscribe(func(s MessageSnapshot) { kinds = append(kinds, s.Change) })

	require.NoError(t, store.Poll(context.Background()))
	require.NoError(t, store.Poll(context.Background()))
	mu.Lock()
	batch = historyPage("c1", 1, 2)
	mu.Unlock()
	require.NoError(t, store.Poll(context.Background()))

	assert.Equal(t, []string{"m000", "m001", "m002"}, ids(store.Snapshot().Messages))
	assert.Equal(t, []ChangeKind{ChangeAppended, ChangeAppended}, kinds)
}

func TestPollWithoutSelectionIsNoop(t *testing.T) {
	source := &fakeMessages{}
	store := newTestMessageStore(source, newFakeClock())
	require.NoError(t, store.Poll(context.Background()))
	require.Zero(t, source.fetches.Load())
}

func TestPollPropagatesErrors(t *testing.T) {
	source := &fakeMessages{
		messagesFn: func(ctx context.Context, conversationID string, page, limit int) (crmapi.MessagePage, error) {
			return crmapi.MessagePage{}, crmapi.ErrUnauthorized
		},
	}
	store := newTestMessageStore(source, newFakeClock())
	store.Select("c1", "jid1")
	err := store.Poll(context.Background())
	require.True(t, errors.Is(err, crmapi.ErrUnauthorized))
}
