package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Theme defines the terminal color scheme.
type Theme struct {
	Primary lipgloss.Color // Main accent color
	Dim     lipgloss.Color // Dimmed/help text color
	Warning lipgloss.Color
	Error   lipgloss.Color
}

// DefaultTheme is the default bright green theme.
var DefaultTheme = Theme{
	Primary: lipgloss.Color("#00ff9f"),
	Dim:     lipgloss.Color("#6e7681"),
	Warning: lipgloss.Color("#f0b72f"),
	Error:   lipgloss.Color("#ff5f56"),
}

// Styles holds all styles derived from a theme.
type Styles struct {
	Title   lipgloss.Style
	Label   lipgloss.Style
	Border  lipgloss.Style
	Help    lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
}

// NewStyles creates styles from a theme.
func NewStyles(t Theme) Styles {
	return Styles{
		Title:   lipgloss.NewStyle().Bold(true).Foreground(t.Primary).Padding(0, 1),
		Label:   lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Border:  lipgloss.NewStyle().Foreground(t.Primary),
		Help:    lipgloss.NewStyle().Foreground(t.Dim),
		Success: lipgloss.NewStyle().Foreground(t.Primary),
		Warning: lipgloss.NewStyle().Foreground(t.Warning),
		Error:   lipgloss.NewStyle().Bold(true).Foreground(t.Error),
	}
}

// RenderTable renders t with a rounded border and a bold header.
func (s Styles) RenderTable(t Table) string {
	cell := lipgloss.NewStyle().Padding(0, 1)
	header := cell.Bold(true).Foreground(s.Label.GetForeground())
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(s.Border).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return header
			}
			return cell
		}).
		Headers(t.Headers...).
		Rows(t.Rows...).
		String()
}

// Progress renders a one-line progress bar such as
//
//	separating ██████████░░░░░░░░░░  12/24 windows
type Progress struct {
	Styles Styles
	Label  string
	Unit   string
	Width  int // bar cells (default 20)
}

// Render renders the bar for done of total.
func (p Progress) Render(done, total int) string {
	width := p.Width
	if width <= 0 {
		width = 20
	}
	filled := width
	if total > 0 {
		filled = min(width, max(0, done*width/total))
	}
	bar := p.Styles.Label.Render(strings.Repeat("█", filled)) +
		p.Styles.Help.Render(strings.Repeat("░", width-filled))
	count := fmt.Sprintf("%d/%d", done, total)
	if p.Unit != "" {
		count += " " + p.Unit
	}
	return strings.TrimSpace(p.Label+" "+bar) + "  " + p.Styles.Help.Render(count)
}

// truncateString safely truncates a string to the given width,
// handling multi-byte characters correctly.
func truncateString(s string, width int) string {
	if width <= 0 {
		return ""
	}
	runes := []rune(s)
	currentWidth := 0
	for i, r := range runes {
		w := lipgloss.Width(string(r))
		if currentWidth+w > width {
			return string(runes[:i])
		}
		currentWidth += w
	}
	return s
}

// Truncate shortens s to width cells, marking a cut with an ellipsis.
func Truncate(s string, width int) string {
	if lipgloss.Width(s) <= width {
		return s
	}
	if width <= 1 {
		return truncateString(s, width)
	}
	return truncateString(s, width-1) + "…"
}
