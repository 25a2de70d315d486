package token

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"flexible-voting/internal/checkpoint"
)

type testClock struct{ now uint64 }

func (c *testClock) Now() uint64 { return c.now }

func u(v uint64) *uint256.Int {
	return uint256.NewInt(v)
}

func TestVotes_DelegationFollowsBalances(t *testing.T) {
	clock := &testClock{now: 1}
	tok := NewVotes(clock)

	require.NoError(t, tok.Mint("alice", u(100)))
	require.True(t, tok.GetVotes("alice").IsZero(), "undelegated balance carries no votes")

	clock.now = 2
	require.NoError(t, tok.Delegate("alice", "alice"))
	require.Equal(t, uint64(100), tok.GetVotes("alice").Uint64())

	clock.now = 3
	require.NoError(t, tok.Delegate("bob", "carol"))
	require.NoError(t, tok.Transfer("alice", "bob", u(30)))
	require.Equal(t, uint64(70), tok.GetVotes("alice").Uint64())
	require.Equal(t, uint64(30), tok.GetVotes("carol").Uint64())
	require.True(t, tok.GetVotes("bob").IsZero())

	clock.now = 4
	require.NoError(t, tok.Burn("alice", u(20)))
	require.Equal(t, uint64(80), tok.TotalSupply().Uint64())

	clock.now = 5
	cases := []struct {
		tp           uint64
		alice, carol uint64
		supply       uint64
	}{
		{1, 0, 0, 100},
		{2, 100, 0, 100},
		{3, 70, 30, 100},
		{4, 50, 30, 80},
	}
	for _, c := range cases {
		a, err := tok.GetPastVotes("alice", c.tp)
		require.NoError(t, err)
		cv, err := tok.GetPastVotes("carol", c.tp)
		require.NoError(t, err)
		s, err := tok.GetPastTotalSupply(c.tp)
		require.NoError(t, err)
		require.Equal(t, c.alice, a.Uint64(), "alice at %d", c.tp)
		require.Equal(t, c.carol, cv.Uint64(), "carol at %d", c.tp)
		require.Equal(t, c.supply, s.Uint64(), "supply at %d", c.tp)
	}

	_, err := tok.GetPastVotes("alice", 5)
	require.True(t, errors.Is(err, checkpoint.ErrInvalidTimepoint))
}

func TestVotes_Redelegate(t *testing.T) {
	clock := &testClock{now: 1}
	tok := NewVotes(clock)
	require.NoError(t, tok.Mint("alice", u(10)))
	require.NoError(t, tok.Delegate("alice", "bob"))
	require.Equal(t, "bob", tok.Delegates("alice"))

	clock.now = 2
	require.NoError(t, tok.Delegate("alice", "carol"))
	require.True(t, tok.GetVotes("bob").IsZero())
	require.Equal(t, uint64(10), tok.GetVotes("carol").Uint64())
}

func TestVotes_InsufficientBalance(t *testing.T) {
	clock := &testClock{now: 1}
	tok := NewVotes(clock)
	require.NoError(t, tok.Mint("alice", u(10)))

	require.True(t, errors.Is(tok.Transfer("alice", "bob", u(11)), ErrInsufficientBalance))
	require.True(t, errors.Is(tok.Burn("alice", u(11)), ErrInsufficientBalance))
	require.Equal(t, uint64(10), tok.BalanceOf("alice").Uint64())
	require.True(t, errors.Is(tok.Mint("", u(1)), ErrZeroAddress))
}
