package chatsync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tOgg1/leadsync/internal/crmapi"
	"github.com/tOgg1/leadsync/internal/models"
)

func contact(id, jid string, last time.Time) models.Contact {
	return models.Contact{
		ID:              id,
		RemoteJID:       jid,
		DisplayName:     "Contact " + id,
		Phone:           models.PhoneFromJID(jid),
		LastMessageTime: last,
		AgentState:      models.AgentStateAI,
	}
}

type contactServer struct {
	mu    sync.Mutex
	pages map[int][]models.Contact
	more  map[int]bool
	last  crmapi.ContactQuery
}

func (s *contactServer) set(page int, contacts []models.Contact, more bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pages == nil {
		s.pages = map[int][]models.Contact{}
		s.more = map[int]bool{}
	}
	s.pages[page] = contacts
	s.more[page] = more
}

func (s *contactServer) source() *fakeContacts {
	return &fakeContacts{
		contactsFn: func(ctx context.Context, q crmapi.ContactQuery) (crmapi.ContactPage, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.last = q
			return crmapi.ContactPage{
				Contacts: append([]models.Contact(nil), s.pages[q.Page]...),
				Page:     q.Page,
				HasMore:  s.more[q.Page],
			}, nil
		},
	}
}

func TestContactRefreshSortsByRecency(t *testing.T) {
	server := &contactServer{}
	server.set(1, []models.Contact{
		contact("1", "551100000001@s.whatsapp.net", t0),
		contact("2", "551100000002@s.whatsapp.net", t0.Add(time.Hour)),
		contact("3", "551100000003@s.whatsapp.net", t0),
	}, false)
	store := NewContactStore(server.source(), ContactStoreConfig{PageSize: 3, Instance: "inst-1"})

	require.NoError(t, store.Refresh(context.Background()))
	got := store.Contacts()
	require.Equal(t, []string{"2", "1", "3"}, contactIDs(got))
	require.Equal(t, "inst-1", server.last.Instance)
	require.Equal(t, 3, server.last.Limit)
}

func TestContactLoadMoreMergesByJID(t *testing.T) {
	server := &contactServer{}
	server.set(1, []models.Contact{
		contact("1", "551100000001@s.whatsapp.net", t0.Add(3*time.Hour)),
		contact("2", "551100000002@s.whatsapp.net", t0.Add(2*time.Hour)),
	}, true)
	server.set(2, []models.Contact{
		contact("2", "551100000002@s.whatsapp.net", t0.Add(2*time.Hour)),
		contact("3", "551100000003@s.whatsapp.net", t0.Add(time.Hour)),
	}, false)
	store := NewContactStore(server.source(), ContactStoreConfig{PageSize: 2})

	require.NoError(t, store.Refresh(context.Background()))
	require.True(t, store.HasMore())
	require.NoError(t, store.LoadMore(context.Background()))
	require.Equal(t, []string{"1", "2", "3"}, contactIDs(store.Contacts()))
	require.False(t, store.HasMore())
	require.ErrorIs(t, store.LoadMore(context.Background()), ErrNoMorePages)

	// A later refresh keeps contacts accumulated from page 2.
	server.set(1, []models.Contact{
		contact("4", "551100000004@s.whatsapp.net", t0.Add(4*time.Hour)),
		contact("1", "551100000001@s.whatsapp.net", t0.Add(3*time.Hour)),
	}, true)
	require.NoError(t, store.Refresh(context.Background()))
	require.Equal(t, []string{"4", "1", "2", "3"}, contactIDs(store.Contacts()))
	require.False(t, store.HasMore())
}

func TestUpdateContactTouchesOnlyTargetField(t *testing.T) {
	server := &contactServer{}
	a := contact("1", "551100000001@s.whatsapp.net", t0.Add(time.Hour))
	a.UnreadCount = 4
	a.LastMessagePreview = "hi"
	b := contact("2", "551100000002@s.whatsapp.net", t0)
	b.UnreadCount = 7
	server.set(1, []models.Contact{a, b}, false)
	store := NewContactStore(server.source(), ContactStoreConfig{})
	require.NoError(t, store.Refresh(context.Background()))

	zero := 0
	require.NoError(t, store.UpdateContact("1", models.ContactPatch{UnreadCount: &zero}))

	gotA, ok := store.Contact("1")
	require.True(t, ok)
	want := a
	want.UnreadCount = 0
	require.Equal(t, want, gotA)

	gotB, ok := store.Contact("551100000002@s.whatsapp.net")
	require.True(t, ok)
	require.Equal(t, b, gotB)

	require.ErrorIs(t, store.UpdateContact("missing", models.ContactPatch{UnreadCount: &zero}), ErrUnknownContact)
}

func TestPendingPatchSurvivesStaleRefresh(t *testing.T) {
	clock := newFakeClock()
	server := &contactServer{}
	c := contact("1", "551100000001@s.whatsapp.net", t0)
	server.set(1, []models.Contact{c}, false)
	store := NewContactStore(server.source(), ContactStoreConfig{PatchTTL: time.Minute, Now: clock.Now})
	require.NoError(t, store.Refresh(context.Background()))

	human := models.AgentStateHuman
	require.NoError(t, store.UpdateContact("1", models.ContactPatch{AgentState: &human}))

	// Server has not caught up yet.
	require.NoError(t, store.Refresh(context.Background()))
	got, _ := store.Contact("1")
	require.Equal(t, models.AgentStateHuman, got.AgentState)

	// After the TTL the server value wins again.
	clock.Advance(2 * time.Minute)
	require.NoError(t, store.Refresh(context.Background()))
	got, _ = store.Contact("1")
	require.Equal(t, models.AgentStateAI, got.AgentState)
}

func TestPendingPatchDroppedOnceServerAgrees(t *testing.T) {
	server := &contactServer{}
	c := contact("1", "551100000001@s.whatsapp.net", t0)
	server.set(1, []models.Contact{c}, false)
	store := NewContactStore(server.source(), ContactStoreConfig{})
	require.NoError(t, store.Refresh(context.Background()))

	human := models.AgentStateHuman
	require.NoError(t, store.UpdateContact("1", models.ContactPatch{AgentState: &human}))

	c.AgentState = models.AgentStateHuman
	server.set(1, []models.Contact{c}, false)
	require.NoError(t, store.Refresh(context.Background()))

	// Server flips back on its own; no pending patch masks it.
	c.AgentState = models.AgentStateAI
	server.set(1, []models.Contact{c}, false)
	require.NoError(t, store.Refresh(context.Background()))
	got, _ := store.Contact("1")
	require.Equal(t, models.AgentStateAI, got.AgentState)
}

func TestToggleAIAdoptsServerStateAndRevertsOnFailure(t *testing.T) {
	server := &contactServer{}
	server.set(1, []models.Contact{contact("1", "551100000001@s.whatsapp.net", t0)}, false)
	source := server.source()
	var fail bool
	source.toggleFn = func(ctx context.Context, id string) (models.AgentState, error) {
		if fail {
			return "", &crmapi.NetworkError{Op: "toggle ai", Err: errors.New("connection reset")}
		}
		return models.AgentStateHuman, nil
	}
	store := NewContactStore(source, ContactStoreConfig{})
	require.NoError(t, store.Refresh(context.Background()))

	state, err := store.ToggleAI(context.Background(), "1")
	require.NoError(t, err)
	require.Equal(t, models.AgentStateHuman, state)
	got, _ := store.Contact("1")
	require.Equal(t, models.AgentStateHuman, got.AgentState)

	fail = true
	state, err = store.ToggleAI(context.Background(), "1")
	require.Error(t, err)
	require.True(t, crmapi.IsNetwork(err))
	require.Equal(t, models.AgentStateHuman, state)
	got, _ = store.Contact("1")
	require.Equal(t, models.AgentStateHuman, got.AgentState)
}

func TestSetFilterDiscardsInFlightPage(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	source := &fakeContacts{
		contactsFn: func(ctx context.Context, q crmapi.ContactQuery) (crmapi.ContactPage, error) {
			if q.Search == "" {
				close(entered)
				<-release
			}
			return crmapi.ContactPage{Contacts: []models.Contact{contact("1", "551100000001@s.whatsapp.net", t0)}}, nil
		},
	}
	store := NewContactStore(source, ContactStoreConfig{})

	done := make(chan error, 1)
	go func() { done <- store.Refresh(context.Background()) }()
	<-entered
	store.SetFilter("", "maria")
	close(release)

	require.ErrorIs(t, <-done, ErrStaleResult)
	snap := store.Snapshot()
	require.Empty(t, snap.Contacts)
	require.Equal(t, "maria", snap.Search)
}

func TestMarkReadAndClear(t *testing.T) {
	server := &contactServer{}
	c := contact("1", "551100000001@s.whatsapp.net", t0)
	c.UnreadCount = 3
	server.set(1, []models.Contact{c}, false)
	store := NewContactStore(server.source(), ContactStoreConfig{})
	require.NoError(t, store.Refresh(context.Background()))

	var notified int
	store.Subscribe(func(ContactSnapshot) { notified++ })

	require.NoError(t, store.MarkRead("1"))
	got, _ := store.Contact("1")
	require.Zero(t, got.UnreadCount)
	require.NoError(t, store.MarkRead("1"))
	require.Equal(t, 1, notified)

	store.Clear()
	require.Empty(t, store.Contacts())
}

func contactIDs(contacts []models.Contact) []string {
	out := make([]string, 0, len(contacts))
	for _, c := range contacts {
		out = append(out, c.ID)
	}
	return out
}
