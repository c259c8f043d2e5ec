package models

import (
	"strings"
	"time"
)

// AgentState says whether the AI agent or a human operator answers a contact.
type AgentState string

const (
	AgentStateAI    AgentState = "ai"
	AgentStateHuman AgentState = "human"
)

// Toggled returns the opposite state.
func (s AgentState) Toggled() AgentState {
	if s == AgentStateAI {
		return AgentStateHuman
	}
	return AgentStateAI
}

// ParseAgentState normalizes a wire value, defaulting to ai.
func ParseAgentState(value string) AgentState {
	if strings.EqualFold(strings.TrimSpace(value), string(AgentStateHuman)) {
		return AgentStateHuman
	}
	return AgentStateAI
}

// Contact is one WhatsApp conversation partner in the inbox.
type Contact struct {
	ID                 string     `json:"id"`
	RemoteJID          string     `json:"remote_jid"`
	DisplayName        string     `json:"display_name"`
	Phone              string     `json:"phone,omitempty"`
	LastMessagePreview string     `json:"last_message_preview,omitempty"`
	LastMessageTime    time.Time  `json:"last_message_time,omitempty"`
	UnreadCount        int        `json:"unread_count"`
	AgentState         AgentState `json:"agent_state"`
	InstanceID         string     `json:"instance_id,omitempty"`
}

// ContactPatch carries a partial update; nil fields are left untouched.
type ContactPatch struct {
	DisplayName        *string
	LastMessagePreview *string
	LastMessageTime    *time.Time
	UnreadCount        *int
	AgentState         *AgentState
}

// IsEmpty reports whether the patch changes nothing.
func (p ContactPatch) IsEmpty() bool {
	return p.DisplayName == nil && p.LastMessagePreview == nil && p.LastMessageTime == nil &&
		p.UnreadCount == nil && p.AgentState == nil
}

// Apply writes the set fields onto c.
func (p ContactPatch) Apply(c *Contact) {
	if p.DisplayName != nil {
		c.DisplayName = *p.DisplayName
	}
	if p.LastMessagePreview != nil {
		c.LastMessagePreview = *p.LastMessagePreview
	}
	if p.LastMessageTime != nil {
		c.LastMessageTime = *p.LastMessageTime
	}
	if p.UnreadCount != nil {
		c.UnreadCount = *p.UnreadCount
	}
	if p.AgentState != nil {
		c.AgentState = *p.AgentState
	}
}

// Matches reports whether c already carries every field set in the patch.
func (p ContactPatch) Matches(c Contact) bool {
	if p.DisplayName != nil && c.DisplayName != *p.DisplayName {
		return false
	}
	if p.LastMessagePreview != nil && c.LastMessagePreview != *p.LastMessagePreview {
		return false
	}
	if p.LastMessageTime != nil && !c.LastMessageTime.Equal(*p.LastMessageTime) {
		return false
	}
	if p.UnreadCount != nil && c.UnreadCount != *p.UnreadCount {
		return false
	}
	if p.AgentState != nil && c.AgentState != *p.AgentState {
		return false
	}
	return true
}

var jidPhoneSuffixes = []string{"@s.whatsapp.net", "@c.us"}

// PhoneFromJID extracts the phone number from a person jid such as
// 5511999990000@s.whatsapp.net. Group and malformed jids return "".
func PhoneFromJID(jid string) string {
	jid = strings.TrimSpace(jid)
	for _, suffix := range jidPhoneSuffixes {
		if !strings.HasSuffix(jid, suffix) {
			continue
		}
		user := strings.TrimSuffix(jid, suffix)
		if i := strings.IndexByte(user, ':'); i >= 0 {
			user = user[:i]
		}
		if user == "" || !isDigits(user) {
			return ""
		}
		return user
	}
	return ""
}

// NormalizePhone strips everything but digits.
func NormalizePhone(phone string) string {
	var b strings.Builder
	b.Grow(len(phone))
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
