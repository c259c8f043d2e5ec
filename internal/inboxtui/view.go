package inboxtui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/tOgg1/leadsync/internal/models"
)

const (
	contactsPaneWidth = 32
	panelPaneWidth    = 34
	chromeRows        = 2
	borderRows        = 2
	composeRows       = 1
)

func (m *Model) View() string {
	if m.width <= 0 || m.height <= 0 {
		return "loading..."
	}
	header := m.renderHeader()
	footer := m.renderFooter()
	bodyHeight := maxInt(0, m.height-chromeRows)

	panes := []string{m.renderContacts(bodyHeight), m.renderMessages(bodyHeight)}
	if m.panelOpen {
		panes = append(panes, m.renderPanel(bodyHeight))
	}
	body := lipgloss.JoinHorizontal(lipgloss.Top, panes...)
	return lipgloss.JoinVertical(lipgloss.Left, header, body, footer)
}

func (m *Model) renderHeader() string {
	status := m.coord.Status()
	right := fmt.Sprintf("cycle %d · %s", status.CycleID, status.Tier)
	if status.Paused {
		right = "paused"
	}
	left := "leadsync"
	if m.contacts.Instance != "" {
		left += " · " + m.contacts.Instance
	}
	space := maxInt(1, m.width-2-lipgloss.Width(left)-lipgloss.Width(right))
	line := left + strings.Repeat(" ", space) + right
	return m.theme.bar(m.theme.Header).Bold(true).Width(m.width).Render(truncate(line, maxInt(0, m.width-2)))
}

func (m *Model) renderFooter() string {
	text := "tab focus · enter open · i compose · p panel · a toggle AI · r refresh · q quit"
	if m.composing {
		text = "enter send · esc save draft"
	}
	if unread := m.scroll.Anchor().Unread(); unread > 0 {
		text = fmt.Sprintf("%d new ↓ (G) · ", unread) + text
	}
	if m.messages.LoadingOlder {
		text = "loading older… · " + text
	}
	if m.status != "" {
		text = m.status + " · " + text
	}
	return m.theme.bar(m.theme.Footer).Width(m.width).Render(truncate(text, maxInt(0, m.width-2)))
}

func (m *Model) renderContacts(height int) string {
	inner := maxInt(0, height-borderRows)
	width := contactsPaneWidth - 2
	rows := make([]string, 0, inner)

	start := 0
	if m.cursor >= inner && inner > 0 {
		start = m.cursor - inner + 1
	}
	for i := start; i < len(m.contacts.Contacts) && len(rows) < inner; i++ {
		c := m.contacts.Contacts[i]
		name := c.DisplayName
		if c.AgentState == models.AgentStateHuman {
			name = "● " + name
		}
		if c.UnreadCount > 0 {
			name = fmt.Sprintf("%s (%d)", name, c.UnreadCount)
		}
		row := truncate(name, width)
		style := m.theme.fg(m.theme.Foreground)
		if i == m.cursor {
			style = m.theme.fg(m.theme.Selected).Bold(true)
		} else if c.ID == m.selected {
			style = m.theme.fg(m.theme.Accent)
		}
		rows = append(rows, style.Render(row))
	}
	if len(m.contacts.Contacts) == 0 {
		rows = append(rows, m.theme.fg(m.theme.Muted).Render("no conversations"))
	}
	return m.theme.pane(m.focus == focusContacts).
		Width(width).
		Height(inner).
		Render(strings.Join(rows, "\n"))
}

func (m *Model) renderMessages(height int) string {
	inner := maxInt(0, height-borderRows)
	width := m.messagesWidth()
	viewport := m.viewportHeight()

	var rows []string
	switch {
	case m.selected == "":
		rows = append(rows, m.theme.fg(m.theme.Muted).Render("select a conversation"))
	default:
		end := minInt(len(m.lines), m.offset+viewport)
		if m.offset < end {
			rows = append(rows, m.lines[m.offset:end]...)
		}
	}
	for len(rows) < viewport {
		rows = append(rows, "")
	}

	prompt := m.theme.fg(m.theme.Muted).Render("press i to write")
	if m.composing || m.input != "" {
		prompt = "> " + m.input
		if m.composing {
			prompt += "▏"
		}
	}
	rows = append(rows, truncate(prompt, width))

	return m.theme.pane(m.focus == focusMessages).
		Width(width).
		Height(inner).
		Render(strings.Join(rows, "\n"))
}

func (m *Model) renderPanel(height int) string {
	inner := maxInt(0, height-borderRows)
	width := panelPaneWidth - 2
	r := m.panel
	muted := m.theme.fg(m.theme.Muted)

	var rows []string
	switch {
	case m.selected == "":
		rows = append(rows, muted.Render("no contact"))
	case r.Phone == "":
		rows = append(rows, muted.Render("no phone for this contact"))
	case !r.HasLead():
		rows = append(rows, "phone "+r.Phone, muted.Render("no lead found"))
	default:
		rows = append(rows,
			m.theme.fg(m.theme.Accent).Bold(true).Render(deref(r.LeadName)),
			"phone   "+r.Phone,
			"status  "+deref(r.LeadStatus),
			"balance "+money(r.Balance),
			"sim     "+money(r.Simulation),
		)
		if r.ProposalID != nil {
			rows = append(rows, "",
				m.theme.fg(m.theme.Accent).Render("latest proposal"),
				"status  "+deref(r.ProposalStatus),
				"value   "+money(r.ProposalValue),
			)
			if r.ProposalCreatedAt != nil {
				rows = append(rows, "created "+humanize.Time(*r.ProposalCreatedAt))
			}
		}
		if !r.FetchedAt.IsZero() {
			rows = append(rows, "", muted.Render("updated "+humanize.Time(r.FetchedAt)))
		}
	}
	for i := range rows {
		rows[i] = truncate(rows[i], width)
	}
	return m.theme.pane(false).
		Width(width).
		Height(inner).
		Render(strings.Join(rows, "\n"))
}

// rebuildLines renders the message list into wrapped terminal rows. Scroll
// metrics are measured in these rows.
func (m *Model) rebuildLines() {
	width := m.messagesWidth()
	if width <= 4 {
		m.lines = nil
		return
	}
	lines := make([]string, 0, len(m.messages.Messages)*2)
	dividerDone := m.marker == nil
	for i, msg := range m.messages.Messages {
		if !dividerDone && i > 0 && msg.EffectiveTime().After(m.marker.MessageAt) {
			lines = append(lines, m.theme.fg(m.theme.Divider).Render(divider(width)))
			dividerDone = true
		}
		lines = append(lines, m.renderMessage(msg, width)...)
	}
	m.lines = lines
}

func (m *Model) renderMessage(msg models.Message, width int) []string {
	color := m.theme.Inbound
	prefix := "◂ "
	if msg.Direction == models.DirectionOutbound {
		color = m.theme.Outbound
		prefix = "▸ "
	}
	meta := msg.EffectiveTime().Local().Format("15:04")
	switch msg.Status {
	case models.MessageStatusSending:
		meta += " …"
	case models.MessageStatusFailed:
		color = m.theme.Failed
		meta += " failed"
	}

	wrapped := wrap(msg.Content, width-len([]rune(prefix)))
	out := make([]string, 0, len(wrapped)+1)
	style := m.theme.fg(color)
	for i, line := range wrapped {
		if i == 0 {
			out = append(out, style.Render(prefix+line))
			continue
		}
		out = append(out, style.Render("  "+line))
	}
	out = append(out, m.theme.fg(m.theme.Muted).Render("  "+meta))
	return out
}

func (m *Model) messagesWidth() int {
	width := m.width - contactsPaneWidth - 2
	if m.panelOpen {
		width -= panelPaneWidth
	}
	return maxInt(0, width)
}

func (m *Model) viewportHeight() int {
	return maxInt(0, m.height-chromeRows-borderRows-composeRows)
}

func wrap(text string, width int) []string {
	if width <= 0 {
		return []string{text}
	}
	var out []string
	for _, paragraph := range strings.Split(text, "\n") {
		words := strings.Fields(paragraph)
		if len(words) == 0 {
			out = append(out, "")
			continue
		}
		line := ""
		for _, word := range words {
			for len([]rune(word)) > width {
				if line != "" {
					out = append(out, line)
					line = ""
				}
				r := []rune(word)
				out = append(out, string(r[:width]))
				word = string(r[width:])
			}
			switch {
			case line == "":
				line = word
			case len([]rune(line))+1+len([]rune(word)) <= width:
				line += " " + word
			default:
				out = append(out, line)
				line = word
			}
		}
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

func divider(width int) string {
	label := " new "
	side := maxInt(0, (width-len(label))/2)
	return strings.Repeat("─", side) + label + strings.Repeat("─", side)
}

func money(v *float64) string {
	if v == nil {
		return "-"
	}
	return "R$ " + humanize.CommafWithDigits(*v, 2)
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if lipgloss.Width(s) <= max {
		return s
	}
	r := []rune(s)
	if max <= 3 || len(r) <= max {
		return string(r[:minInt(len(r), max)])
	}
	return string(r[:max-3]) + "..."
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
