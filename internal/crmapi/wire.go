package crmapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// flexString accepts JSON strings and numbers (Postgres ids arrive as either).
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = flexString(strings.TrimSpace(str))
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return fmt.Errorf("expected string or number, got %s", string(data))
	}
	*s = flexString(num.String())
	return nil
}

// flexFloat accepts numbers and numeric strings; null and "" stay unset.
type flexFloat struct {
	value float64
	set   bool
}

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*f = flexFloat{}
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		str = strings.TrimSpace(str)
		if str == "" {
			return nil
		}
		v, err := strconv.ParseFloat(str, 64)
		if err != nil {
			return fmt.Errorf("invalid number %q", str)
		}
		*f = flexFloat{value: v, set: true}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = flexFloat{value: v, set: true}
	return nil
}

func (f flexFloat) ptr() *float64 {
	if !f.set {
		return nil
	}
	v := f.value
	return &v
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05.999999999",
}

// flexTime accepts RFC3339 / Postgres timestamps and unix seconds or milliseconds.
type flexTime time.Time

func (t *flexTime) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*t = flexTime{}
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		parsed, err := parseTimeString(str)
		if err != nil {
			return err
		}
		*t = flexTime(parsed)
		return nil
	}
	var num float64
	if err := json.Unmarshal(data, &num); err != nil {
		return fmt.Errorf("invalid timestamp %s", string(data))
	}
	*t = flexTime(unixToTime(num))
	return nil
}

func (t flexTime) Time() time.Time { return time.Time(t) }

func parseTimeString(str string) (time.Time, error) {
	str = strings.TrimSpace(str)
	if str == "" {
		return time.Time{}, nil
	}
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, str); err == nil {
			return parsed.UTC(), nil
		}
	}
	if num, err := strconv.ParseFloat(str, 64); err == nil {
		return unixToTime(num), nil
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", str)
}

func unixToTime(num float64) time.Time {
	if num <= 0 {
		return time.Time{}
	}
	if num > 1e12 {
		return time.UnixMilli(int64(num)).UTC()
	}
	return time.Unix(int64(num), 0).UTC()
}

type envelope struct {
	Success *bool  `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (e envelope) failed() bool {
	return e.Success != nil && !*e.Success
}

func (e envelope) reason() string {
	if e.Error != "" {
		return e.Error
	}
	return e.Message
}

type wireMessage struct {
	ID        flexString `json:"id"`
	Content   *string    `json:"content"`
	Timestamp flexTime   `json:"timestamp"`
	CreatedAt flexTime   `json:"created_at"`
	FromMe    *bool      `json:"from_me"`
	Role      string     `json:"role"`
	Status    string     `json:"status"`
}

type messagesResponse struct {
	envelope
	Messages []json.RawMessage `json:"messages"`
	HasMore  *bool             `json:"hasMore"`
}

type sendMessageRequest struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
	RecipientID    string `json:"recipientId"`
	Role           string `json:"role"`
	MessageID      string `json:"messageId"`
}

type sendMessageResponse struct {
	envelope
	Message json.RawMessage `json:"message"`
}

type wireContact struct {
	ID              flexString `json:"id"`
	RemoteJID       string     `json:"remote_jid"`
	Name            string     `json:"name"`
	PushName        string     `json:"push_name"`
	Phone           string     `json:"phone"`
	LastMessage     string     `json:"last_message"`
	LastMessageTime flexTime   `json:"last_message_time"`
	UnreadCount     *int       `json:"unread_count"`
	AgentState      string     `json:"agent_state"`
	InstanceID      flexString `json:"instance_id"`
}

type wirePagination struct {
	Page    int   `json:"page"`
	HasMore *bool `json:"hasMore"`
	Total   int   `json:"total"`
}

type contactsResponse struct {
	envelope
	Contacts   []json.RawMessage `json:"contacts"`
	Pagination wirePagination    `json:"pagination"`
}

type toggleAIResponse struct {
	envelope
	Contact struct {
		AgentState string `json:"agent_state"`
	} `json:"contact"`
}

type wireLead struct {
	ID         flexString `json:"id"`
	Name       string     `json:"name"`
	Phone      string     `json:"phone"`
	Status     string     `json:"status"`
	Balance    flexFloat  `json:"balance"`
	Simulation flexFloat  `json:"simulation"`
}

type leadsResponse struct {
	envelope
	Leads []json.RawMessage `json:"leads"`
}

type wireProposal struct {
	ID        flexString `json:"id"`
	LeadID    flexString `json:"lead_id"`
	Status    string     `json:"status"`
	Value     flexFloat  `json:"value"`
	CreatedAt flexTime   `json:"created_at"`
}

type proposalsResponse struct {
	envelope
	Proposals []json.RawMessage `json:"proposals"`
}
