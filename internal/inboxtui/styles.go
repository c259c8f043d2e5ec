package inboxtui

import "github.com/charmbracelet/lipgloss"

// Theme holds the terminal palette (ANSI-256 codes).
type Theme struct {
	Name       string
	Foreground string
	Muted      string
	Accent     string
	Outbound   string
	Inbound    string
	Failed     string
	Header     string
	Footer     string
	Selected   string
	Border     string
	Divider    string
}

var defaultTheme = Theme{
	Name:       "default",
	Foreground: "252",
	Muted:      "245",
	Accent:     "75",
	Outbound:   "81",
	Inbound:    "147",
	Failed:     "203",
	Header:     "111",
	Footer:     "110",
	Selected:   "75",
	Border:     "240",
	Divider:    "214",
}

var highContrastTheme = Theme{
	Name:       "high-contrast",
	Foreground: "15",
	Muted:      "250",
	Accent:     "51",
	Outbound:   "14",
	Inbound:    "15",
	Failed:     "9",
	Header:     "21",
	Footer:     "21",
	Selected:   "226",
	Border:     "15",
	Divider:    "226",
}

// Themes lists available palettes by name.
var Themes = map[string]Theme{
	defaultTheme.Name:      defaultTheme,
	highContrastTheme.Name: highContrastTheme,
}

func (t Theme) fg(code string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(code))
}

func (t Theme) pane(active bool) lipgloss.Style {
	border := t.Border
	if active {
		border = t.Accent
	}
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(border))
}

func (t Theme) bar(bg string) lipgloss.Style {
	return lipgloss.NewStyle().
		Foreground(lipgloss.Color(t.Foreground)).
		Background(lipgloss.Color(bg)).
		Padding(0, 1)
}
