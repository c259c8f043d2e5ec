package models

import (
	"strings"
	"time"
)

// TempIDPrefix marks ids minted locally for optimistic sends.
const TempIDPrefix = "temp_"

// Direction is the side of the conversation a message was written from.
type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

// DirectionFromRole maps the collaborator's role / from_me fields to a direction.
// Agent, assistant and business roles are outbound; everything else is inbound.
func DirectionFromRole(role string, fromMe *bool) Direction {
	if fromMe != nil {
		if *fromMe {
			return DirectionOutbound
		}
		return DirectionInbound
	}
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "assistant", "agent", "human", "business", "outbound", "me":
		return DirectionOutbound
	default:
		return DirectionInbound
	}
}

// Role returns the wire role used when sending a message in this direction.
func (d Direction) Role() string {
	if d == DirectionOutbound {
		return "assistant"
	}
	return "user"
}

// MessageStatus is the delivery status shown next to a message.
type MessageStatus string

const (
	MessageStatusSending   MessageStatus = "sending"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
	MessageStatusFailed    MessageStatus = "failed"
)

// Message is a single chat entry in a conversation.
type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversation_id"`
	Content        string        `json:"content"`
	Direction      Direction     `json:"direction"`
	CreatedAt      time.Time     `json:"created_at"`
	Timestamp      time.Time     `json:"timestamp,omitempty"`
	IsTemporary    bool          `json:"is_temporary,omitempty"`
	Status         MessageStatus `json:"status,omitempty"`
}

// EffectiveTime is the ordering key: Timestamp when present, otherwise CreatedAt.
func (m Message) EffectiveTime() time.Time {
	if !m.Timestamp.IsZero() {
		return m.Timestamp
	}
	return m.CreatedAt
}

// IsTempID reports whether id was minted for an optimistic send.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// Validate checks the fields reconciliation depends on.
func (m Message) Validate() error {
	validation := &ValidationErrors{}
	if strings.TrimSpace(m.ID) == "" {
		validation.Add("id", ErrMissingMessageID)
	}
	if m.EffectiveTime().IsZero() {
		validation.Add("timestamp", ErrMissingTimestamp)
	}
	if m.Direction != DirectionInbound && m.Direction != DirectionOutbound {
		validation.AddMessage("direction", "direction must be inbound or outbound")
	}
	return validation.Err()
}
