// Package inboxtui is the terminal host for the inbox: a contact list, the
// selected conversation and the lead side panel, all fed by chatsync.
package inboxtui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"github.com/tOgg1/leadsync/internal/chatsync"
	"github.com/tOgg1/leadsync/internal/crmapi"
	"github.com/tOgg1/leadsync/internal/logging"
	"github.com/tOgg1/leadsync/internal/models"
	"github.com/tOgg1/leadsync/internal/scroll"
	"github.com/tOgg1/leadsync/internal/state"
)

const actionTimeout = 30 * time.Second

type focusPane int

const (
	focusContacts focusPane = iota
	focusMessages
)

// Config configures the inbox UI.
type Config struct {
	Coordinator *chatsync.Coordinator
	// State is optional; without it read markers and drafts are not kept.
	State  *state.Store
	Scroll scroll.Config
	Theme  string
}

// Model is the bubbletea model of the inbox.
type Model struct {
	coord  *chatsync.Coordinator
	store  *state.Store
	theme  Theme
	logger zerolog.Logger
	scroll *scroll.Controller

	sendMu sync.Mutex
	send   func(tea.Msg)

	width  int
	height int
	focus  focusPane

	contacts chatsync.ContactSnapshot
	cursor   int
	selected string

	messages chatsync.MessageSnapshot
	lines    []string
	offset   int
	marker   *state.ReadMarker

	panel     models.SidePanelRecord
	panelOpen bool

	composing bool
	input     string

	status  string
	authErr error

	unsubscribe []func()
}

type contactsMsg struct{ snap chatsync.ContactSnapshot }

type messagesMsg struct{ snap chatsync.MessageSnapshot }

type panelMsg struct{ record models.SidePanelRecord }

type authErrorMsg struct{ err error }

type loadOlderMsg struct{}

type statusMsg struct{ text string }

type selectedMsg struct {
	conversationID string
	marker         *state.ReadMarker
	draft          string
	err            error
}

// NewModel creates the model. Call Attach before running it so store
// updates reach the program.
func NewModel(cfg Config) (*Model, error) {
	if cfg.Coordinator == nil {
		return nil, errors.New("coordinator is required")
	}
	themeName := strings.TrimSpace(cfg.Theme)
	if themeName == "" {
		themeName = defaultTheme.Name
	}
	theme, ok := Themes[themeName]
	if !ok {
		return nil, fmt.Errorf("invalid theme %q", cfg.Theme)
	}

	m := &Model{
		coord:  cfg.Coordinator,
		store:  cfg.State,
		theme:  theme,
		logger: logging.Component("inboxtui"),
	}
	m.scroll = scroll.NewController(cfg.Scroll, m.scrollState, func() { m.dispatch(loadOlderMsg{}) })
	return m, nil
}

// Attach subscribes to the stores and forwards their updates through send.
func (m *Model) Attach(send func(tea.Msg)) {
	m.sendMu.Lock()
	m.send = send
	m.sendMu.Unlock()

	m.unsubscribe = append(m.unsubscribe,
		m.coord.Contacts().Subscribe(func(s chatsync.ContactSnapshot) { m.dispatch(contactsMsg{snap: s}) }),
		m.coord.Messages().Subscribe(func(s chatsync.MessageSnapshot) { m.dispatch(messagesMsg{snap: s}) }),
		m.coord.Panel().Subscribe(func(r models.SidePanelRecord) { m.dispatch(panelMsg{record: r}) }),
	)
}

// AuthErrorHandler returns a callback for the coordinator's OnAuthError.
func (m *Model) AuthErrorHandler() func(error) {
	return func(err error) { m.dispatch(authErrorMsg{err: err}) }
}

func (m *Model) dispatch(msg tea.Msg) {
	m.sendMu.Lock()
	send := m.send
	m.sendMu.Unlock()
	if send != nil {
		send(msg)
	}
}

// Close unsubscribes from the stores and stops scroll timers.
func (m *Model) Close() {
	for _, fn := range m.unsubscribe {
		fn()
	}
	m.unsubscribe = nil
	m.scroll.Stop()
}

// Run starts the coordinator and blocks until the user quits.
func Run(ctx context.Context, cfg Config) error {
	model, err := NewModel(cfg)
	if err != nil {
		return err
	}
	defer model.Close()

	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	model.Attach(program.Send)
	cfg.Coordinator.SetAuthErrorHandler(model.AuthErrorHandler())
	if err := cfg.Coordinator.Start(ctx); err != nil {
		return err
	}
	_, err = program.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (m *Model) Init() tea.Cmd {
	return nil
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.height = typed.Height
		m.rebuildLines()
		m.clampOffset()
		return m, nil
	case contactsMsg:
		m.contacts = typed.snap
		if m.cursor >= len(m.contacts.Contacts) {
			m.cursor = maxInt(0, len(m.contacts.Contacts)-1)
		}
		return m, nil
	case messagesMsg:
		return m, m.applyMessages(typed.snap)
	case panelMsg:
		m.panel = typed.record
		return m, nil
	case authErrorMsg:
		m.authErr = typed.err
		m.status = "session expired: polling paused (press R to resume)"
		return m, nil
	case loadOlderMsg:
		return m, m.loadOlderCmd()
	case statusMsg:
		m.status = typed.text
		return m, nil
	case selectedMsg:
		if typed.conversationID != m.selected {
			return m, nil
		}
		m.marker = typed.marker
		if typed.draft != "" {
			m.input = typed.draft
		}
		if typed.err != nil {
			m.status = describeError(typed.err)
		}
		m.rebuildLines()
		return m, nil
	case tea.KeyMsg:
		m.coord.NoteActivity()
		if m.composing {
			return m, m.handleComposeKey(typed)
		}
		return m, m.handleKey(typed)
	}
	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "q", "ctrl+c":
		return tea.Quit
	case "tab":
		if m.focus == focusContacts {
			m.focus = focusMessages
		} else {
			m.focus = focusContacts
		}
		return nil
	case "p":
		m.panelOpen = !m.panelOpen
		m.coord.SetSidePanelOpen(m.panelOpen)
		if m.panelOpen {
			return m.refreshPanelCmd()
		}
		return nil
	case "r":
		return m.forceTickCmd()
	case "R":
		m.authErr = nil
		m.status = ""
		m.coord.Resume()
		return m.forceTickCmd()
	case "a":
		return m.toggleAICmd()
	case "i":
		if m.selected == "" {
			m.status = "select a conversation first"
			return nil
		}
		m.composing = true
		return nil
	case "F":
		return m.retryFailedCmd()
	case "x":
		m.discardFailed()
		return nil
	case "G", "end":
		m.scrollToBottom()
		return nil
	}

	if m.focus == focusContacts {
		return m.handleContactsKey(msg)
	}
	return m.handleMessagesKey(msg)
}

func (m *Model) handleContactsKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.contacts.Contacts)-1 {
			m.cursor++
		}
		if m.cursor >= len(m.contacts.Contacts)-3 && m.contacts.HasMore {
			return m.loadMoreContactsCmd()
		}
	case "enter":
		if m.cursor < len(m.contacts.Contacts) {
			return m.selectCmd(m.contacts.Contacts[m.cursor])
		}
	}
	return nil
}

func (m *Model) handleMessagesKey(msg tea.KeyMsg) tea.Cmd {
	step := 0
	switch msg.String() {
	case "up", "k":
		step = -1
	case "down", "j":
		step = 1
	case "pgup", "ctrl+u":
		step = -m.viewportHeight()
	case "pgdown", "ctrl+d":
		step = m.viewportHeight()
	default:
		return nil
	}
	m.offset += step
	m.clampOffset()
	m.scroll.OnScroll(m.metrics())
	return nil
}

func (m *Model) handleComposeKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.Type {
	case tea.KeyCtrlC:
		return tea.Quit
	case tea.KeyEsc:
		m.composing = false
		return m.saveDraftCmd(m.selected, m.input)
	case tea.KeyEnter:
		content := strings.TrimSpace(m.input)
		m.composing = false
		m.input = ""
		if content == "" {
			return nil
		}
		return tea.Batch(m.sendCmd(content), m.saveDraftCmd(m.selected, ""))
	case tea.KeyBackspace:
		if r := []rune(m.input); len(r) > 0 {
			m.input = string(r[:len(r)-1])
		}
	case tea.KeySpace:
		m.input += " "
	case tea.KeyRunes:
		m.input += string(msg.Runes)
	}
	return nil
}

// applyMessages folds a store snapshot into the view, keeping the visible
// lines in place when history is prepended.
func (m *Model) applyMessages(snap chatsync.MessageSnapshot) tea.Cmd {
	if snap.ConversationID != m.selected {
		return nil
	}
	anchor := m.scroll.Anchor()
	switch snap.Change {
	case chatsync.ChangePrepended:
		anchor.Capture(m.metrics())
		m.messages = snap
		m.rebuildLines()
		if top, ok := anchor.Restore(len(m.lines)); ok {
			m.offset = top
		}
		m.clampOffset()
	case chatsync.ChangeReset:
		m.messages = snap
		m.rebuildLines()
		m.scrollToBottom()
		m.scroll.ScrolledToBottom()
	case chatsync.ChangeAppended:
		wasAtBottom := anchor.AtBottom()
		m.messages = snap
		m.rebuildLines()
		if wasAtBottom {
			m.scrollToBottom()
		} else {
			anchor.NoteAppended(snap.Added)
			m.clampOffset()
		}
	default:
		m.messages = snap
		m.rebuildLines()
		m.clampOffset()
	}
	if anchor.AtBottom() {
		return m.markReadCmd()
	}
	return nil
}

func (m *Model) scrollState() scroll.State {
	snap := m.coord.Messages().Snapshot()
	return scroll.State{
		HasMore:              snap.HasMore,
		LoadingOlder:         snap.LoadingOlder,
		ConversationSelected: snap.ConversationID != "",
	}
}

func (m *Model) metrics() scroll.Metrics {
	return scroll.Metrics{
		ScrollTop:    m.offset,
		ScrollHeight: len(m.lines),
		ClientHeight: m.viewportHeight(),
	}
}

func (m *Model) scrollToBottom() {
	m.offset = len(m.lines) - m.viewportHeight()
	m.clampOffset()
	m.scroll.Anchor().Update(m.metrics())
}

func (m *Model) clampOffset() {
	maxOffset := len(m.lines) - m.viewportHeight()
	if m.offset > maxOffset {
		m.offset = maxOffset
	}
	if m.offset < 0 {
		m.offset = 0
	}
}

func (m *Model) selectCmd(contact models.Contact) tea.Cmd {
	if contact.ID == m.selected {
		m.focus = focusMessages
		return nil
	}
	m.selected = contact.ID
	m.messages = chatsync.MessageSnapshot{ConversationID: contact.ID}
	m.lines = nil
	m.offset = 0
	m.marker = nil
	m.input = ""
	m.focus = focusMessages
	m.scroll.BeginInitialLoad()

	coord := m.coord
	store := m.store
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		result := selectedMsg{conversationID: contact.ID}
		if store != nil {
			if marker, ok, err := store.ReadMarker(ctx, contact.ID); err == nil && ok {
				result.marker = &marker
			}
			result.draft, _ = store.Draft(ctx, contact.ID)
		}
		result.err = coord.SelectConversation(ctx, contact)
		return result
	}
}

func (m *Model) loadOlderCmd() tea.Cmd {
	messages := m.coord.Messages()
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		err := messages.LoadOlder(ctx)
		switch {
		case err == nil,
			errors.Is(err, chatsync.ErrStaleResult),
			errors.Is(err, chatsync.ErrFetchInProgress),
			errors.Is(err, chatsync.ErrNoMorePages):
			return nil
		}
		return statusMsg{text: describeError(err)}
	}
}

func (m *Model) loadMoreContactsCmd() tea.Cmd {
	contacts := m.coord.Contacts()
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		if err := contacts.LoadMore(ctx); err != nil && !errors.Is(err, chatsync.ErrNoMorePages) {
			return statusMsg{text: describeError(err)}
		}
		return nil
	}
}

func (m *Model) sendCmd(content string) tea.Cmd {
	messages := m.coord.Messages()
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		if _, err := messages.Send(ctx, content); err != nil {
			return statusMsg{text: "send failed (F to retry, x to discard): " + describeError(err)}
		}
		return statusMsg{text: "sent"}
	}
}

func (m *Model) retryFailedCmd() tea.Cmd {
	failed, ok := m.lastFailed()
	if !ok {
		return nil
	}
	messages := m.coord.Messages()
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		if err := messages.Retry(ctx, failed.ID); err != nil {
			return statusMsg{text: "retry failed: " + describeError(err)}
		}
		return statusMsg{text: "sent"}
	}
}

func (m *Model) discardFailed() {
	if failed, ok := m.lastFailed(); ok {
		_ = m.coord.Messages().Discard(failed.ID)
	}
}

func (m *Model) lastFailed() (models.Message, bool) {
	for i := len(m.messages.Messages) - 1; i >= 0; i-- {
		msg := m.messages.Messages[i]
		if msg.IsTemporary && msg.Status == models.MessageStatusFailed {
			return msg, true
		}
	}
	return models.Message{}, false
}

func (m *Model) toggleAICmd() tea.Cmd {
	if m.selected == "" {
		return nil
	}
	contacts := m.coord.Contacts()
	id := m.selected
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		agent, err := contacts.ToggleAI(ctx, id)
		if err != nil {
			return statusMsg{text: "toggle failed: " + describeError(err)}
		}
		return statusMsg{text: "agent: " + string(agent)}
	}
}

func (m *Model) forceTickCmd() tea.Cmd {
	coord := m.coord
	return func() tea.Msg {
		if !coord.ForceTick(context.Background()) {
			return statusMsg{text: "refresh already in progress"}
		}
		return statusMsg{text: ""}
	}
}

func (m *Model) refreshPanelCmd() tea.Cmd {
	contact, ok := m.coord.Selected()
	if !ok {
		return nil
	}
	panel := m.coord.Panel()
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		if _, err := panel.FetchFor(ctx, contact.Phone); err != nil &&
			!errors.Is(err, chatsync.ErrNoPhone) && !errors.Is(err, chatsync.ErrStaleResult) {
			return statusMsg{text: "lead data: " + describeError(err)}
		}
		return nil
	}
}

func (m *Model) markReadCmd() tea.Cmd {
	if m.store == nil || len(m.messages.Messages) == 0 {
		return nil
	}
	last := m.messages.Messages[len(m.messages.Messages)-1]
	if last.IsTemporary {
		return nil
	}
	store := m.store
	conversationID := m.selected
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		_, _ = store.SetReadMarker(ctx, conversationID, last.ID, last.EffectiveTime())
		return nil
	}
}

func (m *Model) saveDraftCmd(conversationID, body string) tea.Cmd {
	if m.store == nil || conversationID == "" {
		return nil
	}
	store := m.store
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		_ = store.SaveDraft(ctx, conversationID, body)
		return nil
	}
}

func describeError(err error) string {
	switch {
	case err == nil:
		return ""
	case crmapi.IsAuth(err):
		return "session expired"
	case crmapi.IsNetwork(err):
		return "connection problem, retrying"
	case crmapi.IsServer(err):
		return "server error"
	default:
		return err.Error()
	}
}
