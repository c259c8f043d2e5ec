// Package chatsync keeps the inbox (messages, contacts, side-panel lead data)
// consistent with the CRM API by polling. Local writes are applied
// optimistically and reconciled against the next server snapshot.
package chatsync

import (
	"context"
	"errors"

	"github.com/tOgg1/leadsync/internal/crmapi"
	"github.com/tOgg1/leadsync/internal/models"
)

// Store errors.
var (
	ErrStaleResult     = errors.New("result belongs to a conversation that is no longer selected")
	ErrNoConversation  = errors.New("no conversation selected")
	ErrFetchInProgress = errors.New("older page fetch already in progress")
	ErrNoMorePages     = errors.New("no older pages")
	ErrUnknownMessage  = errors.New("message not found")
	ErrUnknownContact  = errors.New("contact not found")
	ErrNoPhone         = errors.New("contact has no phone number")
)

// MessageSource is the slice of the CRM API the message store needs.
type MessageSource interface {
	Messages(ctx context.Context, conversationID string, page, limit int) (crmapi.MessagePage, error)
	SendMessage(ctx context.Context, req crmapi.SendRequest) (models.Message, error)
}

// ContactSource is the slice of the CRM API the contact store needs.
type ContactSource interface {
	Contacts(ctx context.Context, q crmapi.ContactQuery) (crmapi.ContactPage, error)
	ToggleAI(ctx context.Context, contactID string) (models.AgentState, error)
}

// LeadSource is the slice of the CRM API the side panel needs.
type LeadSource interface {
	Leads(ctx context.Context) ([]models.Lead, error)
	Proposals(ctx context.Context, leadID string) ([]models.Proposal, error)
}

var (
	_ MessageSource = (*crmapi.Client)(nil)
	_ ContactSource = (*crmapi.Client)(nil)
	_ LeadSource    = (*crmapi.Client)(nil)
)
