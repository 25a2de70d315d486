package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/holiman/uint256"
	"github.com/mattn/go-runewidth"

	"flexible-voting/internal/engine"
	"flexible-voting/internal/governor"
)

func padToWidth(s string, width int) string {
	current := runewidth.StringWidth(s)
	if current >= width {
		return s
	}
	return s + strings.Repeat(" ", width-current)
}

// truncateToWidth cuts s to at most width display cells, marking the cut.
func truncateToWidth(s string, width int) string {
	if runewidth.StringWidth(s) <= width {
		return s
	}
	if width <= 3 {
		return runewidth.Truncate(s, width, "")
	}
	return runewidth.Truncate(s, width, "...")
}

func separatorLine(width int) string {
	if width < 2 {
		return strings.Repeat("─", width)
	}
	return "├" + strings.Repeat("─", width-2) + "┤"
}

func formatInfoLine(text string, width int) string {
	if width < 2 {
		return padToWidth(text, width)
	}
	return "│" + padToWidth(truncateToWidth(text, width-2), width-2) + "│"
}

// Update is sent by the collector after every processed block.
type Update struct {
	Snapshot engine.Snapshot
	Titles   map[uint64]string
}

// UpdateMsg carries an Update into the bubbletea loop.
type UpdateMsg struct {
	Update Update
}

// Model holds the TUI state
type Model struct {
	snapshot engine.Snapshot
	titles   map[uint64]string
	width    int
	height   int
}

// NewModel creates a new TUI model
func NewModel() Model {
	return Model{titles: map[uint64]string{}}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case UpdateMsg:
		m.snapshot = msg.Update.Snapshot
		if msg.Update.Titles != nil {
			m.titles = msg.Update.Titles
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	}

	return m, nil
}

// View renders the UI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}
	return lipgloss.JoinVertical(lipgloss.Left, m.renderHeader(), m.renderProposals())
}

// renderHeader renders the pool summary in three columns
func (m Model) renderHeader() string {
	s := m.snapshot
	colWidth := (m.width - 4) / 3
	rightColWidth := m.width - colWidth*2 - 4

	active, closed := 0, 0
	for _, p := range s.Proposals {
		switch p.State {
		case governor.Active:
			active++
		case governor.Defeated, governor.Succeeded:
			closed++
		}
	}

	leftLines := []string{
		fmt.Sprintf("height: %d", s.Height),
		fmt.Sprintf("pool: %s", s.Pool),
		fmt.Sprintf("mode: %s", s.Mode),
	}
	middleLines := []string{
		fmt.Sprintf("pool votes: %s", formatAmount(&s.PoolVotes)),
		fmt.Sprintf("deposits: %s", formatAmount(&s.TotalRaw)),
		fmt.Sprintf("depositors: %d", s.Accounts),
	}
	rightLines := []string{
		fmt.Sprintf("proposals: %d", len(s.Proposals)),
		fmt.Sprintf("active: %d", active),
		fmt.Sprintf("closed: %d", closed),
	}

	rows := make([]string, 0, len(leftLines))
	for i := range leftLines {
		rows = append(rows, fmt.Sprintf("│ %s │ %s │ %s │",
			padToWidth(truncateToWidth(leftLines[i], colWidth-2), colWidth-2),
			padToWidth(truncateToWidth(middleLines[i], colWidth-2), colWidth-2),
			padToWidth(truncateToWidth(rightLines[i], rightColWidth-2), rightColWidth-2)))
	}

	topBorder := fmt.Sprintf("┌%s┬%s┬%s┐",
		strings.Repeat("─", colWidth),
		strings.Repeat("─", colWidth),
		strings.Repeat("─", rightColWidth))
	separator := fmt.Sprintf("├%s┴%s┴%s┤",
		strings.Repeat("─", colWidth),
		strings.Repeat("─", colWidth),
		strings.Repeat("─", rightColWidth))

	return topBorder + "\n" + strings.Join(rows, "\n") + "\n" + separator
}

// renderProposals renders one line per proposal, newest first
func (m Model) renderProposals() string {
	// header block plus legend and borders
	availableHeight := m.height - 8
	if availableHeight <= 0 {
		return ""
	}

	var lines []string
	for i := len(m.snapshot.Proposals) - 1; i >= 0 && len(lines) < availableHeight; i-- {
		p := m.snapshot.Proposals[i]
		title := m.titles[p.ID]
		if title == "" {
			title = p.Description
		}
		line := fmt.Sprintf("%4d %-9s %-14s %d→%d  exp %s  tally %s  %s",
			p.ID,
			p.State,
			fmt.Sprintf("%s/%d", p.PoolState, p.Rounds),
			p.Snapshot,
			p.Deadline,
			formatVotes(&p.Expressed.Against, &p.Expressed.For, &p.Expressed.Abstain),
			formatVotes(&p.Tally.Against, &p.Tally.For, &p.Tally.Abstain),
			strings.ReplaceAll(title, "\n", " "),
		)
		lines = append(lines, formatInfoLine(line, m.width))
	}
	if len(lines) == 0 {
		lines = append(lines, formatInfoLine("no proposals yet", m.width))
	}

	bottomBorder := "└" + strings.Repeat("─", max(m.width-2, 0)) + "┘"
	legend := formatInfoLine("ID, State, Pool/Rounds, Snapshot→Deadline, Expressed A/F/Ab, Tally A/F/Ab, Title", m.width)
	return strings.Join(lines, "\n") + "\n" + separatorLine(m.width) + "\n" + legend + "\n" + bottomBorder
}

func formatVotes(against, forVotes, abstain *uint256.Int) string {
	return formatAmount(against) + "/" + formatAmount(forVotes) + "/" + formatAmount(abstain)
}

// formatAmount shortens large integers with a metric suffix.
func formatAmount(v *uint256.Int) string {
	if !v.IsUint64() {
		return "≥1.8e19"
	}
	n := v.Uint64()
	switch {
	case n >= 1_000_000_000_000:
		return fmt.Sprintf("%.2fT", float64(n)/1e12)
	case n >= 1_000_000_000:
		return fmt.Sprintf("%.2fG", float64(n)/1e9)
	case n >= 1_000_000:
		return fmt.Sprintf("%.2fM", float64(n)/1e6)
	case n >= 10_000:
		return fmt.Sprintf("%.1fk", float64(n)/1e3)
	default:
		return fmt.Sprintf("%d", n)
	}
}

// Run starts the TUI program
func Run(updateCh <-chan interface{}) error {
	m := NewModel()
	p := tea.NewProgram(m, tea.WithAltScreen())

	// Start goroutine to receive updates
	go func() {
		for data := range updateCh {
			if u, ok := data.(Update); ok {
				p.Send(UpdateMsg{Update: u})
			}
		}
		// Channel closed, quit TUI
		p.Quit()
	}()

	_, err := p.Run()
	return err
}
