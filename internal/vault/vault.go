// Package vault keeps the pool's share book. Depositors move governance
// tokens into the pool and receive shares 1:1; a holder's shares are its raw
// balance.
package vault

import (
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"flexible-voting/internal/ledger"
)

var (
	ErrInsufficientShares = errors.New("vault: insufficient shares")
	ErrZeroAmount         = errors.New("vault: zero amount")
)

// Token moves the underlying governance token.
type Token interface {
	Transfer(from, to string, amount *uint256.Int) error
}

// Vault is the balance source for the pool's ledger. Every share change is
// reported to the hook in the same call. Not safe for concurrent use.
type Vault struct {
	pool   string
	token  Token
	hook   ledger.Hook
	shares map[string]*uint256.Int
}

var _ ledger.BalanceSource = (*Vault)(nil)

// New creates a vault holding deposits at the pool account.
func New(pool string, token Token, hook ledger.Hook) *Vault {
	return &Vault{
		pool:   pool,
		token:  token,
		hook:   hook,
		shares: make(map[string]*uint256.Int),
	}
}

// RawBalanceOf returns the account's shares.
func (v *Vault) RawBalanceOf(account string) *uint256.Int {
	if s, ok := v.shares[account]; ok {
		return s.Clone()
	}
	return new(uint256.Int)
}

// Deposit moves amount tokens from account into the pool and mints shares.
func (v *Vault) Deposit(account string, amount *uint256.Int) error {
	if amount.IsZero() {
		return ErrZeroAmount
	}
	if err := v.token.Transfer(account, v.pool, amount); err != nil {
		return errors.Wrapf(err, "deposit from %s", account)
	}
	v.add(account, amount)
	if err := v.hook.OnBalanceChanged(account); err != nil {
		v.sub(account, amount)
		if rerr := v.token.Transfer(v.pool, account, amount); rerr != nil {
			return errors.Wrapf(rerr, "revert deposit after %v", err)
		}
		return err
	}
	return nil
}

// Withdraw burns shares and returns the tokens to account.
func (v *Vault) Withdraw(account string, amount *uint256.Int) error {
	if amount.IsZero() {
		return ErrZeroAmount
	}
	if v.RawBalanceOf(account).Lt(amount) {
		return errors.Wrapf(ErrInsufficientShares, "withdraw %s by %s", amount.Dec(), account)
	}
	if err := v.token.Transfer(v.pool, account, amount); err != nil {
		return errors.Wrapf(err, "withdraw to %s", account)
	}
	v.sub(account, amount)
	if err := v.hook.OnBalanceChanged(account); err != nil {
		v.add(account, amount)
		if rerr := v.token.Transfer(account, v.pool, amount); rerr != nil {
			return errors.Wrapf(rerr, "revert withdraw after %v", err)
		}
		return err
	}
	return nil
}

// TransferShares moves shares between holders without touching the tokens.
func (v *Vault) TransferShares(from, to string, amount *uint256.Int) error {
	if amount.IsZero() {
		return ErrZeroAmount
	}
	if v.RawBalanceOf(from).Lt(amount) {
		return errors.Wrapf(ErrInsufficientShares, "transfer %s from %s", amount.Dec(), from)
	}
	v.sub(from, amount)
	v.add(to, amount)
	if err := v.hook.RecordTransfer(from, to); err != nil {
		v.sub(to, amount)
		v.add(from, amount)
		return err
	}
	return nil
}

func (v *Vault) add(account string, amount *uint256.Int) {
	s, ok := v.shares[account]
	if !ok {
		s = new(uint256.Int)
		v.shares[account] = s
	}
	s.Add(s, amount)
}

func (v *Vault) sub(account string, amount *uint256.Int) {
	s := v.shares[account]
	s.Sub(s, amount)
}
