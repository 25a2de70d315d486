// Package token implements a governance token with delegated, checkpointed
// voting power.
package token

import (
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"flexible-voting/internal/checkpoint"
	"flexible-voting/internal/ledger"
)

var (
	ErrInsufficientBalance = errors.New("token: insufficient balance")
	ErrSupplyOverflow      = errors.New("token: supply overflow")
	ErrZeroAddress         = errors.New("token: empty account")
)

// Votes is a token whose holders delegate voting power. Delegated votes and
// the total supply are checkpointed at every change. Not safe for concurrent
// use.
type Votes struct {
	clock     ledger.Clock
	balances  map[string]*uint256.Int
	delegates map[string]string
	votes     map[string]*checkpoint.Trace
	supply    checkpoint.Trace
}

// NewVotes creates an empty token.
func NewVotes(clock ledger.Clock) *Votes {
	return &Votes{
		clock:     clock,
		balances:  make(map[string]*uint256.Int),
		delegates: make(map[string]string),
		votes:     make(map[string]*checkpoint.Trace),
	}
}

// BalanceOf returns the token balance of account.
func (v *Votes) BalanceOf(account string) *uint256.Int {
	if b, ok := v.balances[account]; ok {
		return b.Clone()
	}
	return new(uint256.Int)
}

// TotalSupply returns the current supply.
func (v *Votes) TotalSupply() *uint256.Int {
	return v.supply.Latest()
}

// Delegates returns the delegatee of account, or "" when undelegated.
func (v *Votes) Delegates(account string) string {
	return v.delegates[account]
}

// Mint creates amount tokens for to.
func (v *Votes) Mint(to string, amount *uint256.Int) error {
	if to == "" {
		return ErrZeroAddress
	}
	now := v.clock.Now()
	supply, overflow := new(uint256.Int).AddOverflow(v.supply.Latest(), amount)
	if overflow {
		return errors.Wrapf(ErrSupplyOverflow, "mint %s to %s", amount.Dec(), to)
	}
	if !v.supply.CanPush(now) || !v.canMove("", v.delegates[to], now) {
		return errors.Wrapf(checkpoint.ErrDecreasingTimepoint, "mint at %d", now)
	}

	v.credit(to, amount)
	_, _, _ = v.supply.Push(now, supply)
	v.moveVotingPower("", v.delegates[to], amount, now)
	return nil
}

// Burn destroys amount tokens held by from.
func (v *Votes) Burn(from string, amount *uint256.Int) error {
	if from == "" {
		return ErrZeroAddress
	}
	now := v.clock.Now()
	if v.BalanceOf(from).Lt(amount) {
		return errors.Wrapf(ErrInsufficientBalance, "burn %s from %s", amount.Dec(), from)
	}
	if !v.supply.CanPush(now) || !v.canMove(v.delegates[from], "", now) {
		return errors.Wrapf(checkpoint.ErrDecreasingTimepoint, "burn at %d", now)
	}

	v.debit(from, amount)
	_, _, _ = v.supply.Push(now, new(uint256.Int).Sub(v.supply.Latest(), amount))
	v.moveVotingPower(v.delegates[from], "", amount, now)
	return nil
}

// Transfer moves amount tokens from one holder to another, carrying the
// delegated voting power with them.
func (v *Votes) Transfer(from, to string, amount *uint256.Int) error {
	if from == "" || to == "" {
		return ErrZeroAddress
	}
	now := v.clock.Now()
	if v.BalanceOf(from).Lt(amount) {
		return errors.Wrapf(ErrInsufficientBalance, "transfer %s from %s", amount.Dec(), from)
	}
	if !v.canMove(v.delegates[from], v.delegates[to], now) {
		return errors.Wrapf(checkpoint.ErrDecreasingTimepoint, "transfer at %d", now)
	}

	v.debit(from, amount)
	v.credit(to, amount)
	v.moveVotingPower(v.delegates[from], v.delegates[to], amount, now)
	return nil
}

// Delegate assigns account's voting power to delegatee.
func (v *Votes) Delegate(account, delegatee string) error {
	if account == "" {
		return ErrZeroAddress
	}
	now := v.clock.Now()
	old := v.delegates[account]
	if !v.canMove(old, delegatee, now) {
		return errors.Wrapf(checkpoint.ErrDecreasingTimepoint, "delegate at %d", now)
	}

	v.delegates[account] = delegatee
	v.moveVotingPower(old, delegatee, v.BalanceOf(account), now)
	return nil
}

// GetVotes returns the current voting power of account.
func (v *Votes) GetVotes(account string) *uint256.Int {
	if tr, ok := v.votes[account]; ok {
		return tr.Latest()
	}
	return new(uint256.Int)
}

// GetPastVotes returns the voting power of account at a finalized timepoint.
func (v *Votes) GetPastVotes(account string, timepoint uint64) (*uint256.Int, error) {
	if err := checkpoint.RequirePast(timepoint, v.clock.Now()); err != nil {
		return nil, err
	}
	if tr, ok := v.votes[account]; ok {
		return tr.UpperLookupRecent(timepoint), nil
	}
	return new(uint256.Int), nil
}

// GetPastTotalSupply returns the supply at a finalized timepoint.
func (v *Votes) GetPastTotalSupply(timepoint uint64) (*uint256.Int, error) {
	if err := checkpoint.RequirePast(timepoint, v.clock.Now()); err != nil {
		return nil, err
	}
	return v.supply.UpperLookupRecent(timepoint), nil
}

func (v *Votes) credit(account string, amount *uint256.Int) {
	b, ok := v.balances[account]
	if !ok {
		b = new(uint256.Int)
		v.balances[account] = b
	}
	b.Add(b, amount)
}

func (v *Votes) debit(account string, amount *uint256.Int) {
	b := v.balances[account]
	b.Sub(b, amount)
}

func (v *Votes) canMove(src, dst string, now uint64) bool {
	if src != "" {
		if tr, ok := v.votes[src]; ok && !tr.CanPush(now) {
			return false
		}
	}
	if dst != "" {
		if tr, ok := v.votes[dst]; ok && !tr.CanPush(now) {
			return false
		}
	}
	return true
}

func (v *Votes) moveVotingPower(src, dst string, amount *uint256.Int, now uint64) {
	if src == dst || amount.IsZero() {
		return
	}
	if src != "" {
		tr := v.trace(src)
		_, _, _ = tr.Push(now, new(uint256.Int).Sub(tr.Latest(), amount))
	}
	if dst != "" {
		tr := v.trace(dst)
		_, _, _ = tr.Push(now, new(uint256.Int).Add(tr.Latest(), amount))
	}
}

func (v *Votes) trace(account string) *checkpoint.Trace {
	tr, ok := v.votes[account]
	if !ok {
		tr = &checkpoint.Trace{}
		v.votes[account] = tr
	}
	return tr
}
