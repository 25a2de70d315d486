package ledger

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"flexible-voting/internal/checkpoint"
)

type testClock struct{ now uint64 }

func (c *testClock) Now() uint64 { return c.now }

type balances map[string]uint64

func (b balances) RawBalanceOf(account string) *uint256.Int {
	return uint256.NewInt(b[account])
}

type recorder struct {
	written []string
}

func (r *recorder) CheckpointWritten(account string, cp checkpoint.Checkpoint) {
	if account == "" {
		account = "total"
	}
	r.written = append(r.written, account)
}

func newTestLedger() (*Ledger, *testClock, balances) {
	clock := &testClock{now: 1}
	src := balances{}
	return New(clock, src), clock, src
}

func TestLedger_RecordAndLookup(t *testing.T) {
	l, clock, src := newTestLedger()

	clock.now = 10
	src["a"] = 100
	require.NoError(t, l.OnBalanceChanged("a"))

	clock.now = 11
	src["b"] = 40
	require.NoError(t, l.OnBalanceChanged("b"))

	clock.now = 15
	src["a"] = 60
	require.NoError(t, l.OnBalanceChanged("a"))

	clock.now = 20

	cases := []struct {
		tp       uint64
		a, b, tt uint64
	}{
		{9, 0, 0, 0},
		{10, 100, 0, 100},
		{11, 100, 40, 140},
		{14, 100, 40, 140},
		{15, 60, 40, 100},
		{19, 60, 40, 100},
	}
	for _, c := range cases {
		a, err := l.PastBalance("a", c.tp)
		require.NoError(t, err)
		b, err := l.PastBalance("b", c.tp)
		require.NoError(t, err)
		total, err := l.PastTotalBalance(c.tp)
		require.NoError(t, err)

		require.Equal(t, c.a, a.Uint64(), "a at %d", c.tp)
		require.Equal(t, c.b, b.Uint64(), "b at %d", c.tp)
		require.Equal(t, c.tt, total.Uint64(), "total at %d", c.tp)
		require.Equal(t, total.Uint64(), a.Uint64()+b.Uint64(), "aggregate invariant at %d", c.tp)
	}

	require.Equal(t, uint64(60), l.Balance("a").Uint64())
	require.Equal(t, uint64(100), l.TotalBalance().Uint64())
}

func TestLedger_UnknownAccountIsZero(t *testing.T) {
	l, clock, _ := newTestLedger()
	clock.now = 5

	v, err := l.PastBalance("nobody", 3)
	require.NoError(t, err)
	require.True(t, v.IsZero())
	require.Empty(t, l.History("nobody"))
}

func TestLedger_LookupCurrentTimepointFails(t *testing.T) {
	l, clock, src := newTestLedger()
	clock.now = 10
	src["a"] = 1
	require.NoError(t, l.OnBalanceChanged("a"))

	_, err := l.PastBalance("a", 10)
	require.True(t, errors.Is(err, checkpoint.ErrInvalidTimepoint))
	_, err = l.PastTotalBalance(11)
	require.True(t, errors.Is(err, checkpoint.ErrInvalidTimepoint))
}

func TestLedger_Transfer(t *testing.T) {
	l, clock, src := newTestLedger()
	rec := &recorder{}
	l.AddListener(rec)

	clock.now = 3
	src["a"] = 50
	require.NoError(t, l.OnBalanceChanged("a"))

	clock.now = 4
	src["a"], src["b"] = 20, 30
	require.NoError(t, l.RecordTransfer("a", "b"))

	clock.now = 5
	a, err := l.PastBalance("a", 4)
	require.NoError(t, err)
	b, err := l.PastBalance("b", 4)
	require.NoError(t, err)
	total, err := l.PastTotalBalance(4)
	require.NoError(t, err)

	require.Equal(t, uint64(20), a.Uint64())
	require.Equal(t, uint64(30), b.Uint64())
	require.Equal(t, uint64(50), total.Uint64())
	require.Equal(t, []string{"a", "total", "a", "b", "total"}, rec.written)
}

func TestLedger_SameTimepointCoalesces(t *testing.T) {
	l, clock, src := newTestLedger()
	clock.now = 7
	src["a"] = 10
	require.NoError(t, l.OnBalanceChanged("a"))
	src["a"] = 25
	require.NoError(t, l.OnBalanceChanged("a"))

	require.Len(t, l.History("a"), 1)
	require.Len(t, l.TotalHistory(), 1)
	require.Equal(t, uint64(25), l.TotalBalance().Uint64())
}

func TestLedger_FailuresLeaveStateUntouched(t *testing.T) {
	l, clock, src := newTestLedger()
	clock.now = 10
	src["a"] = 10
	require.NoError(t, l.OnBalanceChanged("a"))

	t.Run("clock went backwards", func(t *testing.T) {
		clock.now = 9
		src["a"] = 99
		err := l.OnBalanceChanged("a")
		require.True(t, errors.Is(err, checkpoint.ErrDecreasingTimepoint))
		require.Equal(t, uint64(10), l.Balance("a").Uint64())
		require.Equal(t, uint64(10), l.TotalBalance().Uint64())
	})

	t.Run("rejected write does not create the account", func(t *testing.T) {
		clock.now = 9
		src["fresh"] = 5
		err := l.OnBalanceChanged("fresh")
		require.True(t, errors.Is(err, checkpoint.ErrDecreasingTimepoint))
		err = l.RecordTransfer("a", "other")
		require.True(t, errors.Is(err, checkpoint.ErrDecreasingTimepoint))
		require.Equal(t, 1, l.Accounts())
		require.Nil(t, l.History("fresh"))
		require.Nil(t, l.History("other"))
	})

	t.Run("unrecorded balance", func(t *testing.T) {
		clock.now = 11
		// b was never recorded, so a decrease on b cannot be reconciled
		l2, clock2, src2 := newTestLedger()
		clock2.now = 11
		src2["b"] = 0
		l2.accounts["b"] = &checkpoint.Trace{}
		_, _, err := l2.accounts["b"].Push(1, uint256.NewInt(5))
		require.NoError(t, err)
		err = l2.OnBalanceChanged("b")
		require.True(t, errors.Is(err, ErrAggregateUnderflow))
		require.Equal(t, uint64(5), l2.Balance("b").Uint64())
	})

	t.Run("empty account", func(t *testing.T) {
		require.True(t, errors.Is(l.OnBalanceChanged(""), ErrEmptyAccount))
		require.True(t, errors.Is(l.RecordTransfer("a", ""), ErrEmptyAccount))
	})
}
