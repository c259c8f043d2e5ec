package crmapi

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/tOgg1/leadsync/internal/models"
)

var errMissingContent = errors.New("message content is required")

// sanitizeMessage turns one wire record into a model, or explains why it cannot.
func sanitizeMessage(conversationID string, raw json.RawMessage) (models.Message, error) {
	var wire wireMessage
	if err := json.Unmarshal(raw, &wire); err != nil {
		return models.Message{}, err
	}
	if wire.Content == nil {
		return models.Message{}, errMissingContent
	}
	msg := models.Message{
		ID:             string(wire.ID),
		ConversationID: conversationID,
		Content:        *wire.Content,
		Direction:      models.DirectionFromRole(wire.Role, wire.FromMe),
		CreatedAt:      wire.CreatedAt.Time(),
		Timestamp:      wire.Timestamp.Time(),
		Status:         parseStatus(wire.Status),
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = msg.Timestamp
	}
	if err := msg.Validate(); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

func sanitizeMessages(conversationID string, raws []json.RawMessage) ([]models.Message, []*DataShapeError) {
	out := make([]models.Message, 0, len(raws))
	var dropped []*DataShapeError
	for i, raw := range raws {
		msg, err := sanitizeMessage(conversationID, raw)
		if err != nil {
			dropped = append(dropped, &DataShapeError{Kind: "message", Index: i, Err: err})
			continue
		}
		out = append(out, msg)
	}
	return out, dropped
}

func parseStatus(status string) models.MessageStatus {
	switch models.MessageStatus(strings.ToLower(strings.TrimSpace(status))) {
	case models.MessageStatusDelivered:
		return models.MessageStatusDelivered
	case models.MessageStatusRead:
		return models.MessageStatusRead
	case models.MessageStatusFailed:
		return models.MessageStatusFailed
	default:
		return models.MessageStatusSent
	}
}

func sanitizeContacts(raws []json.RawMessage) ([]models.Contact, []*DataShapeError) {
	out := make([]models.Contact, 0, len(raws))
	var dropped []*DataShapeError
	for i, raw := range raws {
		var wire wireContact
		if err := json.Unmarshal(raw, &wire); err != nil {
			dropped = append(dropped, &DataShapeError{Kind: "contact", Index: i, Err: err})
			continue
		}
		jid := strings.TrimSpace(wire.RemoteJID)
		if jid == "" {
			dropped = append(dropped, &DataShapeError{Kind: "contact", Index: i, Err: models.ErrMissingRemoteJID})
			continue
		}
		contact := models.Contact{
			ID:                 string(wire.ID),
			RemoteJID:          jid,
			DisplayName:        firstNonEmpty(wire.Name, wire.PushName),
			Phone:              models.NormalizePhone(wire.Phone),
			LastMessagePreview: wire.LastMessage,
			LastMessageTime:    wire.LastMessageTime.Time(),
			AgentState:         models.ParseAgentState(wire.AgentState),
			InstanceID:         string(wire.InstanceID),
		}
		if contact.ID == "" {
			contact.ID = jid
		}
		if contact.Phone == "" {
			contact.Phone = models.PhoneFromJID(jid)
		}
		if contact.DisplayName == "" {
			contact.DisplayName = contact.Phone
		}
		if wire.UnreadCount != nil && *wire.UnreadCount > 0 {
			contact.UnreadCount = *wire.UnreadCount
		}
		out = append(out, contact)
	}
	return out, dropped
}

func sanitizeLeads(raws []json.RawMessage) ([]models.Lead, []*DataShapeError) {
	out := make([]models.Lead, 0, len(raws))
	var dropped []*DataShapeError
	for i, raw := range raws {
		var wire wireLead
		if err := json.Unmarshal(raw, &wire); err != nil {
			dropped = append(dropped, &DataShapeError{Kind: "lead", Index: i, Err: err})
			continue
		}
		if wire.ID == "" {
			dropped = append(dropped, &DataShapeError{Kind: "lead", Index: i, Err: models.ErrMissingLeadID})
			continue
		}
		out = append(out, models.Lead{
			ID:         string(wire.ID),
			Name:       wire.Name,
			Phone:      models.NormalizePhone(wire.Phone),
			Status:     wire.Status,
			Balance:    wire.Balance.ptr(),
			Simulation: wire.Simulation.ptr(),
		})
	}
	return out, dropped
}

func sanitizeProposals(leadID string, raws []json.RawMessage) ([]models.Proposal, []*DataShapeError) {
	out := make([]models.Proposal, 0, len(raws))
	var dropped []*DataShapeError
	for i, raw := range raws {
		var wire wireProposal
		if err := json.Unmarshal(raw, &wire); err != nil {
			dropped = append(dropped, &DataShapeError{Kind: "proposal", Index: i, Err: err})
			continue
		}
		if wire.ID == "" {
			dropped = append(dropped, &DataShapeError{Kind: "proposal", Index: i, Err: errors.New("proposal id is required")})
			continue
		}
		owner := string(wire.LeadID)
		if owner == "" {
			owner = leadID
		}
		out = append(out, models.Proposal{
			ID:        string(wire.ID),
			LeadID:    owner,
			Status:    wire.Status,
			Value:     wire.Value.ptr(),
			CreatedAt: wire.CreatedAt.Time(),
		})
	}
	return out, dropped
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
