package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Context remembers the operator's current selection between runs.
type Context struct {
	// InstanceID is the selected WhatsApp instance.
	InstanceID string `yaml:"instance,omitempty"`
	// InstanceName is the human-readable instance name (for display).
	InstanceName string `yaml:"instance_name,omitempty"`
	// ConversationID is the contact id of the last open conversation.
	ConversationID string `yaml:"conversation,omitempty"`
	// RemoteJID is the WhatsApp jid messages to that conversation go to.
	RemoteJID string `yaml:"remote_jid,omitempty"`
	// ContactName is the display name of that conversation.
	ContactName string `yaml:"contact_name,omitempty"`
	// UpdatedAt is when the context was last modified.
	UpdatedAt time.Time `yaml:"updated_at,omitempty"`
}

// IsEmpty returns true if no context is set.
func (c *Context) IsEmpty() bool {
	return c.InstanceID == "" && c.ConversationID == ""
}

// HasInstance returns true if an instance is set.
func (c *Context) HasInstance() bool {
	return c.InstanceID != ""
}

// HasConversation returns true if a conversation is set.
func (c *Context) HasConversation() bool {
	return c.ConversationID != ""
}

// Clear removes all context.
func (c *Context) Clear() {
	c.InstanceID = ""
	c.InstanceName = ""
	c.ConversationID = ""
	c.RemoteJID = ""
	c.ContactName = ""
	c.UpdatedAt = time.Now()
}

// SetInstance sets the instance context.
func (c *Context) SetInstance(id, name string) {
	c.InstanceID = id
	c.InstanceName = name
	// Conversations belong to an instance
	c.ConversationID = ""
	c.RemoteJID = ""
	c.ContactName = ""
	c.UpdatedAt = time.Now()
}

// SetConversation sets the conversation context.
func (c *Context) SetConversation(id, remoteJID, name string) {
	c.ConversationID = id
	c.RemoteJID = remoteJID
	c.ContactName = name
	c.UpdatedAt = time.Now()
}

// String returns a human-readable representation of the context.
func (c *Context) String() string {
	if c.IsEmpty() {
		return "(no context set)"
	}
	var parts []string
	if c.HasInstance() {
		name := c.InstanceName
		if name == "" {
			name = c.InstanceID
		}
		parts = append(parts, fmt.Sprintf("instance:%s", name))
	}
	if c.HasConversation() {
		name := c.ContactName
		if name == "" {
			name = c.ConversationID
		}
		parts = append(parts, fmt.Sprintf("conversation:%s", name))
	}
	return strings.Join(parts, " ")
}

// ContextStore manages loading and saving context.
type ContextStore struct {
	path string
	mu   sync.RWMutex
}

// NewContextStore creates a new context store.
// If path is empty, uses the default path (~/.config/leadsync/context.yaml).
func NewContextStore(path string) *ContextStore {
	if path == "" {
		homeDir, _ := os.UserHomeDir()
		path = filepath.Join(homeDir, ".config", "leadsync", "context.yaml")
	}
	return &ContextStore{path: path}
}

// Path returns the context file path.
func (s *ContextStore) Path() string {
	return s.path
}

// Load reads the context from disk.
// Returns an empty context if the file doesn't exist.
func (s *ContextStore) Load() (*Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := &Context{}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return ctx, nil
		}
		return nil, fmt.Errorf("failed to read context file: %w", err)
	}

	if err := yaml.Unmarshal(data, ctx); err != nil {
		return nil, fmt.Errorf("failed to parse context file: %w", err)
	}

	return ctx, nil
}

// Save writes the context to disk.
func (s *ContextStore) Save(ctx *Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create context directory: %w", err)
	}

	data, err := yaml.Marshal(ctx)
	if err != nil {
		return fmt.Errorf("failed to serialize context: %w", err)
	}

	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write context file: %w", err)
	}

	return nil
}

// Clear removes the context file.
func (s *ContextStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove context file: %w", err)
	}
	return nil
}
