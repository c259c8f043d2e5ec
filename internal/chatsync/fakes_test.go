package chatsync

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tOgg1/leadsync/internal/crmapi"
	"github.com/tOgg1/leadsync/internal/models"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: t0} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeMessages struct {
	messagesFn func(ctx context.Context, conversationID string, page, limit int) (crmapi.MessagePage, error)
	sendFn     func(ctx context.Context, req crmapi.SendRequest) (models.Message, error)

	fetches atomic.Int32
	mu      sync.Mutex
	sent    []crmapi.SendRequest
}

func (f *fakeMessages) Messages(ctx context.Context, conversationID string, page, limit int) (crmapi.MessagePage, error) {
	f.fetches.Add(1)
	if f.messagesFn == nil {
		return crmapi.MessagePage{ConversationID: conversationID, Page: page, Limit: limit}, nil
	}
	return f.messagesFn(ctx, conversationID, page, limit)
}

func (f *fakeMessages) SendMessage(ctx context.Context, req crmapi.SendRequest) (models.Message, error) {
	f.mu.Lock()
	f.sent = append(f.sent, req)
	f.mu.Unlock()
	if f.sendFn == nil {
		return models.Message{ID: "srv_" + req.MessageID, Content: req.Content}, nil
	}
	return f.sendFn(ctx, req)
}

func (f *fakeMessages) sentRequests() []crmapi.SendRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]crmapi.SendRequest(nil), f.sent...)
}

type fakeContacts struct {
	contactsFn func(ctx context.Context, q crmapi.ContactQuery) (crmapi.ContactPage, error)
	toggleFn   func(ctx context.Context, id string) (models.AgentState, error)

	fetches atomic.Int32
}

func (f *fakeContacts) Contacts(ctx context.Context, q crmapi.ContactQuery) (crmapi.ContactPage, error) {
	f.fetches.Add(1)
	if f.contactsFn == nil {
		return crmapi.ContactPage{Page: q.Page}, nil
	}
	return f.contactsFn(ctx, q)
}

func (f *fakeContacts) ToggleAI(ctx context.Context, id string) (models.AgentState, error) {
	if f.toggleFn == nil {
		return models.AgentStateHuman, nil
	}
	return f.toggleFn(ctx, id)
}

type fakeLeads struct {
	leadsFn     func(ctx context.Context) ([]models.Lead, error)
	proposalsFn func(ctx context.Context, leadID string) ([]models.Proposal, error)

	leadCalls atomic.Int32
}

func (f *fakeLeads) Leads(ctx context.Context) ([]models.Lead, error) {
	f.leadCalls.Add(1)
	if f.leadsFn == nil {
		return nil, nil
	}
	return f.leadsFn(ctx)
}

func (f *fakeLeads) Proposals(ctx context.Context, leadID string) ([]models.Proposal, error) {
	if f.proposalsFn == nil {
		return nil, nil
	}
	return f.proposalsFn(ctx, leadID)
}

func msg(id, content string, dir models.Direction, at time.Time) models.Message {
	return models.Message{ID: id, Content: content, Direction: dir, CreatedAt: at, Status: models.MessageStatusSent}
}

func ids(messages []models.Message) []string {
	out := make([]string, 0, len(messages))
	for _, m := range messages {
		out = append(out, m.ID)
	}
	return out
}

func boolPtr(b bool) *bool { return &b }
