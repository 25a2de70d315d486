package engine

import (
	"encoding/hex"
	"strconv"
	"strings"

	abci "github.com/cometbft/cometbft/abci/types"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"flexible-voting/internal/counting"
)

// Event types emitted by the host chain, without the configured prefix.
const (
	EventMint           = "mint"
	EventDelegate       = "delegate"
	EventDeposit        = "deposit"
	EventWithdraw       = "withdraw"
	EventTransferShares = "transfer_shares"
	EventPropose        = "propose"
	EventExpress        = "express"
	EventCast           = "cast"
	EventVote           = "vote"
)

// Attribute keys.
const (
	AttrAccount     = "account"
	AttrDelegatee   = "delegatee"
	AttrSender      = "sender"
	AttrRecipient   = "recipient"
	AttrAmount      = "amount"
	AttrProposalID  = "proposal_id"
	AttrProposer    = "proposer"
	AttrDescription = "description"
	AttrSupport     = "support"
	AttrParams      = "params"
	AttrReason      = "reason"
)

var (
	ErrMissingAttribute = errors.New("engine: missing attribute")
	ErrBadAttribute     = errors.New("engine: malformed attribute")
	ErrUnknownEvent     = errors.New("engine: unknown event type")
)

// Event is one state-changing operation sequenced by the host chain.
type Event struct {
	Height uint64
	// Index orders events within a block.
	Index int
	Type  string
	Attrs map[string]string
}

// FromABCI converts a host chain event. It returns false for events that do
// not carry the prefix.
func FromABCI(prefix string, height uint64, index int, ev abci.Event) (Event, bool) {
	typ, ok := strings.CutPrefix(ev.Type, prefix+".")
	if !ok {
		return Event{}, false
	}
	attrs := make(map[string]string, len(ev.Attributes))
	for _, a := range ev.Attributes {
		attrs[a.Key] = a.Value
	}
	return Event{Height: height, Index: index, Type: typ, Attrs: attrs}, true
}

func (e Event) attr(key string) (string, error) {
	v := strings.TrimSpace(e.Attrs[key])
	if v == "" {
		return "", errors.Wrapf(ErrMissingAttribute, "%s.%s", e.Type, key)
	}
	return v, nil
}

func (e Event) amount(key string) (*uint256.Int, error) {
	s, err := e.attr(key)
	if err != nil {
		return nil, err
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, errors.Wrapf(ErrBadAttribute, "%s.%s=%q: %v", e.Type, key, s, err)
	}
	return v, nil
}

func (e Event) optionalAmount(key string) (*uint256.Int, error) {
	if strings.TrimSpace(e.Attrs[key]) == "" {
		return nil, nil
	}
	return e.amount(key)
}

func (e Event) proposalID() (uint64, error) {
	s, err := e.attr(AttrProposalID)
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(ErrBadAttribute, "%s.%s=%q", e.Type, AttrProposalID, s)
	}
	return id, nil
}

func (e Event) support() (counting.Support, error) {
	s, err := e.attr(AttrSupport)
	if err != nil {
		return 0, err
	}
	return counting.ParseSupport(s)
}

func (e Event) params() ([]byte, error) {
	s := strings.TrimPrefix(strings.TrimSpace(e.Attrs[AttrParams]), "0x")
	if s == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, errors.Wrapf(ErrBadAttribute, "%s.%s: %v", e.Type, AttrParams, err)
	}
	return b, nil
}
