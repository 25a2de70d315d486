// Package flexvote lets pool depositors express voting preferences that the
// pool rolls up into a single fractional vote on a governor.
//
// Each depositor's weight is its raw balance at the proposal snapshot, read
// from the checkpointed ledger. When the pool casts, its externally delegated
// voting power is split in proportion to the expressed totals over the whole
// raw supply at the snapshot, so non-participation dilutes the cast instead of
// amplifying the participants.
package flexvote

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"flexible-voting/internal/checkpoint"
	"flexible-voting/internal/counting"
)

var (
	ErrNoWeight          = errors.New("flexvote: no weight")
	ErrAlreadyVoted      = errors.New("flexvote: already voted")
	ErrAmountExceeds     = errors.New("flexvote: amount exceeds unexpressed weight")
	ErrNoVotesExpressed  = errors.New("flexvote: no votes expressed")
	ErrCastTooEarly      = errors.New("flexvote: cast too early")
	ErrTooLateToExpress  = errors.New("flexvote: too late to express")
	ErrPartialExpression = errors.New("flexvote: partial expression requires rolling mode")
	ErrUnknownMode       = errors.New("flexvote: unknown mode")

	// Shared with the counter so callers can match either side.
	ErrInvalidSupport   = counting.ErrInvalidSupport
	ErrWeightOverflow   = counting.ErrWeightOverflow
	ErrInvalidTimepoint = checkpoint.ErrInvalidTimepoint
)

// Mode selects how often the pool may cast on a proposal.
type Mode int

const (
	// ModeOneShot casts once, inside the window before the deadline. Every
	// depositor expresses at most once.
	ModeOneShot Mode = iota
	// ModeRolling casts whatever has accumulated since the previous cast, any
	// number of times. Depositors may express their weight in parts.
	ModeRolling
)

func (m Mode) String() string {
	switch m {
	case ModeOneShot:
		return "oneshot"
	case ModeRolling:
		return "rolling"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode parses "oneshot" or "rolling".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "oneshot", "one-shot", "":
		return ModeOneShot, nil
	case "rolling":
		return ModeRolling, nil
	}
	return 0, errors.Wrapf(ErrUnknownMode, "%q", s)
}

// Clock reports the host ledger's current timepoint.
type Clock interface {
	Now() uint64
}

// Balances is the pool's checkpointed raw balance ledger.
type Balances interface {
	PastBalance(account string, timepoint uint64) (*uint256.Int, error)
	PastTotalBalance(timepoint uint64) (*uint256.Int, error)
}

// Governor is the governance system the pool votes on.
type Governor interface {
	ProposalSnapshot(id uint64) (uint64, error)
	ProposalDeadline(id uint64) (uint64, error)
	CastVoteWithReasonAndParams(voter string, id uint64, support counting.Support, reason string, params []byte) (*uint256.Int, error)
}

// VotingToken is the governance token in which the pool holds delegated
// voting power.
type VotingToken interface {
	GetPastVotes(account string, timepoint uint64) (*uint256.Int, error)
	Delegate(account, delegatee string) error
}

// Settings configure a pool.
type Settings struct {
	// Address is the pool's account on the voting token and the governor.
	Address string
	Mode    Mode
	// CastVoteWindow is how many timepoints before the deadline a one-shot
	// cast becomes allowed.
	CastVoteWindow uint64
	// Reason is attached to every cast.
	Reason string
}

// placeholderSupport accompanies fractional ballots; the counter ignores it.
const placeholderSupport = counting.Abstain

// ProposalVote holds the expressed totals of a proposal. Each bucket fits in
// 128 bits.
type ProposalVote struct {
	Against uint256.Int
	For     uint256.Int
	Abstain uint256.Int
}

// Sum returns the total expressed weight.
func (v *ProposalVote) Sum() *uint256.Int {
	s := new(uint256.Int).Add(&v.Against, &v.For)
	return s.Add(s, &v.Abstain)
}

func (v *ProposalVote) bucket(s counting.Support) *uint256.Int {
	switch s {
	case counting.Against:
		return &v.Against
	case counting.For:
		return &v.For
	default:
		return &v.Abstain
	}
}

func (v *ProposalVote) add(o *ProposalVote) {
	v.Against.Add(&v.Against, &o.Against)
	v.For.Add(&v.For, &o.For)
	v.Abstain.Add(&v.Abstain, &o.Abstain)
}

// State is the pool's progress on a proposal.
type State int

const (
	NoExpressions State = iota
	Expressing
	CastPending
	Cast
)

func (s State) String() string {
	switch s {
	case NoExpressions:
		return "no-expressions"
	case Expressing:
		return "expressing"
	case CastPending:
		return "cast-pending"
	case Cast:
		return "cast"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// CastResult describes one successful cast.
type CastResult struct {
	ProposalID uint64
	Round      uint64
	Against    uint256.Int
	For        uint256.Int
	Abstain    uint256.Int
	// Counted is the weight the governor accepted.
	Counted uint256.Int
	// External is the pool's delegated voting power at the snapshot.
	External uint256.Int
	// TotalRaw is the aggregate raw balance at the snapshot.
	TotalRaw uint256.Int
}

type proposalState struct {
	votes     ProposalVote
	expressed map[string]*uint256.Int
	cast      bool
	casting   bool
	casts     []CastResult
}

// Pool aggregates depositor preferences and casts them on the governor. Not
// safe for concurrent use; the host serialises calls.
type Pool struct {
	settings  Settings
	clock     Clock
	balances  Balances
	gov       Governor
	token     VotingToken
	proposals map[uint64]*proposalState
	log       logrus.FieldLogger
}

// New creates a pool and delegates its voting power to itself.
func New(settings Settings, clock Clock, balances Balances, gov Governor, token VotingToken, log logrus.FieldLogger) (*Pool, error) {
	if settings.Mode != ModeOneShot && settings.Mode != ModeRolling {
		return nil, errors.Wrapf(ErrUnknownMode, "%d", int(settings.Mode))
	}
	if err := token.Delegate(settings.Address, settings.Address); err != nil {
		return nil, errors.Wrap(err, "self-delegate pool")
	}
	return &Pool{
		settings:  settings,
		clock:     clock,
		balances:  balances,
		gov:       gov,
		token:     token,
		proposals: make(map[uint64]*proposalState),
		log:       log.WithField("pool", settings.Address),
	}, nil
}

// Address returns the pool account.
func (p *Pool) Address() string {
	return p.settings.Address
}

// Mode returns the pool's casting mode.
func (p *Pool) Mode() Mode {
	return p.settings.Mode
}

// ExpressVote records voter's preference with all of its weight at the
// proposal snapshot. In rolling mode only the not yet expressed remainder is
// added.
func (p *Pool) ExpressVote(voter string, proposalID uint64, support counting.Support) (*uint256.Int, error) {
	return p.express(voter, proposalID, support, nil)
}

// ExpressPartialVote records amount of voter's weight for support. Rolling
// mode only.
func (p *Pool) ExpressPartialVote(voter string, proposalID uint64, support counting.Support, amount *uint256.Int) (*uint256.Int, error) {
	if p.settings.Mode != ModeRolling {
		return nil, ErrPartialExpression
	}
	if amount == nil || amount.IsZero() {
		return nil, errors.Wrapf(ErrNoWeight, "voter %s proposal %d: zero amount", voter, proposalID)
	}
	return p.express(voter, proposalID, support, amount)
}

func (p *Pool) express(voter string, proposalID uint64, support counting.Support, amount *uint256.Int) (*uint256.Int, error) {
	if !support.Valid() {
		return nil, errors.Wrapf(ErrInvalidSupport, "voter %s proposal %d: %d", voter, proposalID, uint8(support))
	}
	snapshot, err := p.gov.ProposalSnapshot(proposalID)
	if err != nil {
		return nil, err
	}
	deadline, err := p.gov.ProposalDeadline(proposalID)
	if err != nil {
		return nil, err
	}
	if p.clock.Now() > deadline {
		return nil, errors.Wrapf(ErrTooLateToExpress, "proposal %d closed at %d", proposalID, deadline)
	}

	ps := p.proposals[proposalID]
	var already *uint256.Int
	if ps != nil {
		already = ps.expressed[voter]
		if p.settings.Mode == ModeOneShot {
			if ps.cast || ps.casting {
				return nil, errors.Wrapf(ErrTooLateToExpress, "pool has cast on proposal %d", proposalID)
			}
			if already != nil {
				return nil, errors.Wrapf(ErrAlreadyVoted, "voter %s proposal %d", voter, proposalID)
			}
		}
	}

	weight, err := p.balances.PastBalance(voter, snapshot)
	if err != nil {
		return nil, err
	}
	if weight.IsZero() {
		return nil, errors.Wrapf(ErrNoWeight, "voter %s proposal %d snapshot %d", voter, proposalID, snapshot)
	}

	if p.settings.Mode == ModeRolling && already != nil {
		if already.Cmp(weight) >= 0 {
			return nil, errors.Wrapf(ErrAlreadyVoted, "voter %s proposal %d", voter, proposalID)
		}
		remaining := new(uint256.Int).Sub(weight, already)
		if amount == nil {
			amount = remaining
		} else if amount.Gt(remaining) {
			return nil, errors.Wrapf(ErrAmountExceeds, "voter %s proposal %d: %s exceeds remaining %s", voter, proposalID, amount.Dec(), remaining.Dec())
		}
	} else if amount == nil {
		amount = weight
	} else if amount.Gt(weight) {
		return nil, errors.Wrapf(ErrAmountExceeds, "voter %s proposal %d: %s exceeds weight %s", voter, proposalID, amount.Dec(), weight.Dec())
	}

	var current uint256.Int
	if ps != nil {
		current = *ps.votes.bucket(support)
	}
	next := new(uint256.Int).Add(&current, amount)
	if next.BitLen() > 128 {
		return nil, errors.Wrapf(ErrWeightOverflow, "proposal %d %s total", proposalID, support)
	}

	if ps == nil {
		ps = &proposalState{expressed: make(map[string]*uint256.Int)}
		p.proposals[proposalID] = ps
	}
	ps.votes.bucket(support).Set(next)
	if already == nil {
		ps.expressed[voter] = amount.Clone()
	} else {
		already.Add(already, amount)
	}

	p.log.WithFields(logrus.Fields{
		"proposal": proposalID,
		"voter":    voter,
		"support":  support.String(),
		"weight":   amount.Dec(),
	}).Debug("vote expressed")
	return amount.Clone(), nil
}

// CastVote submits the pool's proportional fractional vote for everything
// expressed and not yet cast.
func (p *Pool) CastVote(proposalID uint64) (*CastResult, error) {
	snapshot, err := p.gov.ProposalSnapshot(proposalID)
	if err != nil {
		return nil, err
	}
	deadline, err := p.gov.ProposalDeadline(proposalID)
	if err != nil {
		return nil, err
	}

	ps := p.proposals[proposalID]
	if ps == nil {
		return nil, errors.Wrapf(ErrNoVotesExpressed, "proposal %d", proposalID)
	}
	if p.settings.Mode == ModeOneShot {
		if ps.cast || ps.casting {
			return nil, errors.Wrapf(ErrAlreadyVoted, "pool has cast on proposal %d", proposalID)
		}
		opens := uint64(0)
		if deadline > p.settings.CastVoteWindow {
			opens = deadline - p.settings.CastVoteWindow
		}
		if now := p.clock.Now(); now < opens {
			return nil, errors.Wrapf(ErrCastTooEarly, "proposal %d: now %d, window opens at %d", proposalID, now, opens)
		}
	}
	if ps.votes.Sum().IsZero() {
		return nil, errors.Wrapf(ErrNoVotesExpressed, "proposal %d", proposalID)
	}

	totalRaw, err := p.balances.PastTotalBalance(snapshot)
	if err != nil {
		return nil, err
	}
	if totalRaw.IsZero() {
		return nil, errors.Wrapf(ErrNoVotesExpressed, "proposal %d: no raw balance at snapshot %d", proposalID, snapshot)
	}
	external, err := p.token.GetPastVotes(p.settings.Address, snapshot)
	if err != nil {
		return nil, err
	}

	res := &CastResult{ProposalID: proposalID, External: *external, TotalRaw: *totalRaw}
	for _, s := range []counting.Support{counting.Against, counting.For, counting.Abstain} {
		w, err := proportion(external, ps.votes.bucket(s), totalRaw)
		if err != nil {
			return nil, errors.Wrapf(err, "proposal %d %s", proposalID, s)
		}
		switch s {
		case counting.Against:
			res.Against = *w
		case counting.For:
			res.For = *w
		default:
			res.Abstain = *w
		}
	}
	params, err := counting.PackFractional(&res.Against, &res.For, &res.Abstain)
	if err != nil {
		return nil, err
	}

	// Finalise local state before handing control to the governor so a
	// reentrant cast sees nothing left to cast.
	pending := ps.votes
	ps.casting = true
	if p.settings.Mode == ModeOneShot {
		ps.cast = true
	} else {
		ps.votes = ProposalVote{}
	}

	counted, err := p.gov.CastVoteWithReasonAndParams(p.settings.Address, proposalID, placeholderSupport, p.settings.Reason, params)
	ps.casting = false
	if err != nil {
		if p.settings.Mode == ModeOneShot {
			ps.cast = false
		} else {
			ps.votes.add(&pending)
		}
		return nil, err
	}

	res.Counted = *counted
	res.Round = uint64(len(ps.casts)) + 1
	ps.casts = append(ps.casts, *res)

	p.log.WithFields(logrus.Fields{
		"proposal": proposalID,
		"round":    res.Round,
		"against":  res.Against.Dec(),
		"for":      res.For.Dec(),
		"abstain":  res.Abstain.Dec(),
	}).Info("pool vote cast")
	return res, nil
}

// proportion returns floor(external * bucket / total), bounded to 128 bits.
func proportion(external, bucket, total *uint256.Int) (*uint256.Int, error) {
	w, overflow := new(uint256.Int).MulDivOverflow(external, bucket, total)
	if overflow || w.BitLen() > 128 {
		return nil, ErrWeightOverflow
	}
	return w, nil
}

// ProposalVotes returns the expressed and not yet cast totals.
func (p *Pool) ProposalVotes(proposalID uint64) ProposalVote {
	if ps, ok := p.proposals[proposalID]; ok {
		return ps.votes
	}
	return ProposalVote{}
}

// HasExpressed reports whether voter has expressed on the proposal.
func (p *Pool) HasExpressed(proposalID uint64, voter string) bool {
	if ps, ok := p.proposals[proposalID]; ok {
		_, ok := ps.expressed[voter]
		return ok
	}
	return false
}

// ExpressedWeight returns the weight voter has expressed on the proposal.
func (p *Pool) ExpressedWeight(proposalID uint64, voter string) *uint256.Int {
	if ps, ok := p.proposals[proposalID]; ok {
		if w, ok := ps.expressed[voter]; ok {
			return w.Clone()
		}
	}
	return new(uint256.Int)
}

// Round returns the number of successful casts on the proposal.
func (p *Pool) Round(proposalID uint64) uint64 {
	if ps, ok := p.proposals[proposalID]; ok {
		return uint64(len(ps.casts))
	}
	return 0
}

// Casts returns the successful casts on the proposal.
func (p *Pool) Casts(proposalID uint64) []CastResult {
	ps, ok := p.proposals[proposalID]
	if !ok {
		return nil
	}
	out := make([]CastResult, len(ps.casts))
	copy(out, ps.casts)
	return out
}

// State returns the pool's progress on the proposal.
func (p *Pool) State(proposalID uint64) State {
	ps, ok := p.proposals[proposalID]
	switch {
	case !ok:
		return NoExpressions
	case ps.casting:
		return CastPending
	case ps.cast:
		return Cast
	case len(ps.casts) > 0 && ps.votes.Sum().IsZero():
		return Cast
	default:
		return Expressing
	}
}
