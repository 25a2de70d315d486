package tui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/holiman/uint256"
	"github.com/mattn/go-runewidth"
	"github.com/stretchr/testify/require"

	"flexible-voting/internal/engine"
	"flexible-voting/internal/flexvote"
	"flexible-voting/internal/governor"
)

func sized(t *testing.T, m Model, w, h int) Model {
	t.Helper()
	next, _ := m.Update(tea.WindowSizeMsg{Width: w, Height: h})
	return next.(Model)
}

func TestModel_View(t *testing.T) {
	m := NewModel()
	require.Equal(t, "Loading...", m.View())

	m = sized(t, m, 120, 20)
	require.Contains(t, m.View(), "no proposals yet")

	snap := engine.Snapshot{
		Height:    42,
		Pool:      "flexvote-pool",
		Mode:      flexvote.ModeRolling,
		PoolVotes: *uint256.NewInt(2_500_000),
		TotalRaw:  *uint256.NewInt(2_000_000),
		Accounts:  3,
		Proposals: []engine.ProposalView{
			{ID: 1, Description: "first", State: governor.Succeeded, Snapshot: 3, Deadline: 13, PoolState: flexvote.Cast, Rounds: 1},
			{ID: 2, Description: "second\nbody", State: governor.Active, Snapshot: 30, Deadline: 40, PoolState: flexvote.Expressing},
		},
	}
	next, _ := m.Update(UpdateMsg{Update: Update{Snapshot: snap, Titles: map[uint64]string{1: "Resolved title"}}})
	m = next.(Model)

	view := m.View()
	require.Contains(t, view, "height: 42")
	require.Contains(t, view, "mode: rolling")
	require.Contains(t, view, "pool votes: 2.50M")
	require.Contains(t, view, "active: 1")
	require.Contains(t, view, "Resolved title")
	require.Contains(t, view, "second body")
	require.Less(t, strings.Index(view, "second body"), strings.Index(view, "Resolved title"))

	for _, line := range strings.Split(view, "\n") {
		require.LessOrEqual(t, runewidth.StringWidth(line), 120, line)
	}
}

func TestModel_Quit(t *testing.T) {
	_, cmd := NewModel().Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
}

func TestFormatAmount(t *testing.T) {
	require.Equal(t, "999", formatAmount(uint256.NewInt(999)))
	require.Equal(t, "12.3k", formatAmount(uint256.NewInt(12_300)))
	require.Equal(t, "4.00G", formatAmount(uint256.NewInt(4_000_000_000)))
	require.Equal(t, "≥1.8e19", formatAmount(new(uint256.Int).Lsh(uint256.NewInt(1), 70)))
}
