// Package ledger keeps the checkpointed raw balance history of every account
// and of the aggregate total.
package ledger

import (
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"flexible-voting/internal/checkpoint"
)

var (
	// ErrEmptyAccount is returned for operations on the empty account identity.
	ErrEmptyAccount = errors.New("ledger: empty account")
	// ErrAggregateUnderflow means the balance source reported a decrease larger
	// than the tracked total, i.e. a balance change was never recorded.
	ErrAggregateUnderflow = errors.New("ledger: aggregate underflow")
	// ErrAggregateOverflow is returned when the total would exceed 256 bits.
	ErrAggregateOverflow = errors.New("ledger: aggregate overflow")
)

// Clock reports the host ledger's current timepoint.
type Clock interface {
	Now() uint64
}

// BalanceSource is the authority for an account's current raw balance.
type BalanceSource interface {
	RawBalanceOf(account string) *uint256.Int
}

// Hook is implemented by the ledger and must be called by the balance source
// after every operation that alters an account's raw balance.
type Hook interface {
	OnBalanceChanged(account string) error
	RecordTransfer(from, to string) error
}

// Listener observes every checkpoint written. Account is empty for the
// aggregate series.
type Listener interface {
	CheckpointWritten(account string, cp checkpoint.Checkpoint)
}

// Ledger maps accounts to raw balance traces and maintains the aggregate
// trace so that it equals the sum of all accounts at every timepoint.
type Ledger struct {
	clock     Clock
	source    BalanceSource
	accounts  map[string]*checkpoint.Trace
	total     checkpoint.Trace
	listeners []Listener
}

var _ Hook = (*Ledger)(nil)

// New creates an empty ledger.
func New(clock Clock, source BalanceSource) *Ledger {
	return &Ledger{
		clock:    clock,
		source:   source,
		accounts: make(map[string]*checkpoint.Trace),
	}
}

// SetSource sets the balance source. The source usually needs the ledger as
// its hook, so one of the two is wired after construction.
func (l *Ledger) SetSource(source BalanceSource) {
	l.source = source
}

// AddListener registers a checkpoint listener.
func (l *Ledger) AddListener(lis Listener) {
	l.listeners = append(l.listeners, lis)
}

// OnBalanceChanged checkpoints the account's current raw balance at the
// current timepoint and applies the difference to the aggregate.
func (l *Ledger) OnBalanceChanged(account string) error {
	return l.record(account)
}

// RecordTransfer checkpoints both sides of a transfer in one step. The
// aggregate is unaffected when the source moved balance between them.
func (l *Ledger) RecordTransfer(from, to string) error {
	if from == "" || to == "" {
		return ErrEmptyAccount
	}
	if from == to {
		return l.record(from)
	}
	now := l.clock.Now()
	fromTr, toTr := l.lookup(from), l.lookup(to)
	if !fromTr.CanPush(now) || !toTr.CanPush(now) || !l.total.CanPush(now) {
		return errors.Wrapf(checkpoint.ErrDecreasingTimepoint, "transfer %s -> %s at %d", from, to, now)
	}

	fromOld, fromNew := fromTr.Latest(), l.source.RawBalanceOf(from)
	toOld, toNew := toTr.Latest(), l.source.RawBalanceOf(to)
	total, err := applyDelta(l.total.Latest(), fromOld, fromNew)
	if err != nil {
		return err
	}
	if total, err = applyDelta(total, toOld, toNew); err != nil {
		return err
	}

	l.push(from, now, fromNew)
	l.push(to, now, toNew)
	l.pushTotal(now, total)
	return nil
}

func (l *Ledger) record(account string) error {
	if account == "" {
		return ErrEmptyAccount
	}
	now := l.clock.Now()
	tr := l.lookup(account)
	if !tr.CanPush(now) || !l.total.CanPush(now) {
		return errors.Wrapf(checkpoint.ErrDecreasingTimepoint, "record %s at %d", account, now)
	}

	current := l.source.RawBalanceOf(account)
	total, err := applyDelta(l.total.Latest(), tr.Latest(), current)
	if err != nil {
		return errors.Wrapf(err, "record %s", account)
	}

	l.push(account, now, current)
	l.pushTotal(now, total)
	return nil
}

// applyDelta returns total - old + current.
func applyDelta(total, old, current *uint256.Int) (*uint256.Int, error) {
	if current.Cmp(old) >= 0 {
		delta := new(uint256.Int).Sub(current, old)
		sum, overflow := new(uint256.Int).AddOverflow(total, delta)
		if overflow {
			return nil, ErrAggregateOverflow
		}
		return sum, nil
	}
	delta := new(uint256.Int).Sub(old, current)
	diff, underflow := new(uint256.Int).SubOverflow(total, delta)
	if underflow {
		return nil, ErrAggregateUnderflow
	}
	return diff, nil
}

// lookup returns the account's trace, or an empty one that is not stored.
func (l *Ledger) lookup(account string) *checkpoint.Trace {
	if tr, ok := l.accounts[account]; ok {
		return tr
	}
	return &checkpoint.Trace{}
}

func (l *Ledger) trace(account string) *checkpoint.Trace {
	tr, ok := l.accounts[account]
	if !ok {
		tr = &checkpoint.Trace{}
		l.accounts[account] = tr
	}
	return tr
}

// push and pushTotal run after CanPush was checked.
func (l *Ledger) push(account string, now uint64, value *uint256.Int) {
	tr := l.trace(account)
	_, _, _ = tr.Push(now, value)
	l.notify(account, tr)
}

func (l *Ledger) pushTotal(now uint64, value *uint256.Int) {
	_, _, _ = l.total.Push(now, value)
	l.notify("", &l.total)
}

func (l *Ledger) notify(account string, tr *checkpoint.Trace) {
	if len(l.listeners) == 0 {
		return
	}
	cp, _ := tr.LatestCheckpoint()
	for _, lis := range l.listeners {
		lis.CheckpointWritten(account, cp)
	}
}

// Balance returns the account's latest recorded raw balance.
func (l *Ledger) Balance(account string) *uint256.Int {
	if tr, ok := l.accounts[account]; ok {
		return tr.Latest()
	}
	return new(uint256.Int)
}

// TotalBalance returns the latest aggregate raw balance.
func (l *Ledger) TotalBalance() *uint256.Int {
	return l.total.Latest()
}

// PastBalance returns the account's raw balance at a finalized timepoint.
func (l *Ledger) PastBalance(account string, timepoint uint64) (*uint256.Int, error) {
	if err := checkpoint.RequirePast(timepoint, l.clock.Now()); err != nil {
		return nil, err
	}
	tr, ok := l.accounts[account]
	if !ok {
		return new(uint256.Int), nil
	}
	return tr.UpperLookupRecent(timepoint), nil
}

// PastTotalBalance returns the aggregate raw balance at a finalized timepoint.
func (l *Ledger) PastTotalBalance(timepoint uint64) (*uint256.Int, error) {
	if err := checkpoint.RequirePast(timepoint, l.clock.Now()); err != nil {
		return nil, err
	}
	return l.total.UpperLookupRecent(timepoint), nil
}

// Accounts returns the number of accounts with history.
func (l *Ledger) Accounts() int {
	return len(l.accounts)
}

// History returns a copy of the account's checkpoints.
func (l *Ledger) History(account string) []checkpoint.Checkpoint {
	if tr, ok := l.accounts[account]; ok {
		return tr.Checkpoints()
	}
	return nil
}

// TotalHistory returns a copy of the aggregate checkpoints.
func (l *Ledger) TotalHistory() []checkpoint.Checkpoint {
	return l.total.Checkpoints()
}
