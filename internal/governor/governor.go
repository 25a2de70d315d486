// Package governor runs proposals whose votes are tallied by a fractional
// vote counter.
package governor

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"flexible-voting/internal/counting"
	"flexible-voting/internal/ledger"
)

var (
	ErrUnknownProposal   = errors.New("governor: unknown proposal")
	ErrProposalExists    = errors.New("governor: proposal already exists")
	ErrProposalNotActive = errors.New("governor: proposal not active")
)

// ProposalState is the lifecycle stage of a proposal.
type ProposalState int

const (
	Pending ProposalState = iota
	Active
	Defeated
	Succeeded
)

func (s ProposalState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Active:
		return "active"
	case Defeated:
		return "defeated"
	case Succeeded:
		return "succeeded"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Token is the voting power source of the governor.
type Token interface {
	GetPastVotes(account string, timepoint uint64) (*uint256.Int, error)
	GetPastTotalSupply(timepoint uint64) (*uint256.Int, error)
}

// Settings are the governor's schedule and quorum parameters. Durations are in
// timepoints (blocks).
type Settings struct {
	VotingDelay     uint64
	VotingPeriod    uint64
	QuorumNumerator uint64
	QuorumPolicy    counting.QuorumPolicy
}

const quorumDenominator = 100

// Proposal is the schedule of a single proposal.
type Proposal struct {
	ID          uint64
	Proposer    string
	Description string
	Snapshot    uint64
	Deadline    uint64
}

// Receipt records a counted ballot.
type Receipt struct {
	ProposalID uint64
	Voter      string
	Support    counting.Support
	Weight     uint256.Int
	Reason     string
	Params     []byte
}

// Governor holds proposals and counts ballots. Not safe for concurrent use.
type Governor struct {
	clock     ledger.Clock
	token     Token
	settings  Settings
	counter   *counting.Counter
	proposals map[uint64]*Proposal
	order     []uint64
	receipts  []Receipt
	log       logrus.FieldLogger
}

// New creates a governor.
func New(clock ledger.Clock, token Token, settings Settings, log logrus.FieldLogger) *Governor {
	return &Governor{
		clock:     clock,
		token:     token,
		settings:  settings,
		counter:   counting.NewCounter(settings.QuorumPolicy),
		proposals: make(map[uint64]*Proposal),
		log:       log,
	}
}

// Propose opens proposal id. Voting weight is fixed at now + voting delay and
// the vote closes voting period timepoints later.
func (g *Governor) Propose(id uint64, proposer, description string) (*Proposal, error) {
	if _, ok := g.proposals[id]; ok {
		return nil, errors.Wrapf(ErrProposalExists, "proposal %d", id)
	}
	snapshot := g.clock.Now() + g.settings.VotingDelay
	p := &Proposal{
		ID:          id,
		Proposer:    proposer,
		Description: description,
		Snapshot:    snapshot,
		Deadline:    snapshot + g.settings.VotingPeriod,
	}
	g.proposals[id] = p
	g.order = append(g.order, id)
	g.log.WithFields(logrus.Fields{
		"proposal": id,
		"snapshot": p.Snapshot,
		"deadline": p.Deadline,
	}).Debug("proposal created")
	return p, nil
}

// Proposal returns a copy of proposal id.
func (g *Governor) Proposal(id uint64) (Proposal, error) {
	p, ok := g.proposals[id]
	if !ok {
		return Proposal{}, errors.Wrapf(ErrUnknownProposal, "proposal %d", id)
	}
	return *p, nil
}

// Proposals returns all proposals in creation order.
func (g *Governor) Proposals() []Proposal {
	out := make([]Proposal, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, *g.proposals[id])
	}
	return out
}

// ProposalSnapshot returns the timepoint at which voting weight is read.
func (g *Governor) ProposalSnapshot(id uint64) (uint64, error) {
	p, err := g.Proposal(id)
	return p.Snapshot, err
}

// ProposalDeadline returns the last timepoint at which votes are accepted.
func (g *Governor) ProposalDeadline(id uint64) (uint64, error) {
	p, err := g.Proposal(id)
	return p.Deadline, err
}

// State returns the proposal's lifecycle stage at the current timepoint.
func (g *Governor) State(id uint64) (ProposalState, error) {
	p, err := g.Proposal(id)
	if err != nil {
		return 0, err
	}
	now := g.clock.Now()
	switch {
	case now <= p.Snapshot:
		return Pending, nil
	case now <= p.Deadline:
		return Active, nil
	}
	quorum, err := g.Quorum(p.Snapshot)
	if err != nil {
		return 0, err
	}
	if g.counter.QuorumReached(id, quorum) && g.counter.VoteSucceeded(id) {
		return Succeeded, nil
	}
	return Defeated, nil
}

// Quorum returns the minimum counted weight at timepoint.
func (g *Governor) Quorum(timepoint uint64) (*uint256.Int, error) {
	supply, err := g.token.GetPastTotalSupply(timepoint)
	if err != nil {
		return nil, err
	}
	q, _ := new(uint256.Int).MulDivOverflow(supply, uint256.NewInt(g.settings.QuorumNumerator), uint256.NewInt(quorumDenominator))
	return q, nil
}

// CastVote casts a nominal vote with the voter's full weight.
func (g *Governor) CastVote(voter string, id uint64, support counting.Support) (*uint256.Int, error) {
	return g.CastVoteWithReasonAndParams(voter, id, support, "", nil)
}

// CastVoteWithReasonAndParams counts a ballot from voter. Non-empty params
// carry a packed fractional ballot, in which case support is ignored.
func (g *Governor) CastVoteWithReasonAndParams(voter string, id uint64, support counting.Support, reason string, params []byte) (*uint256.Int, error) {
	state, err := g.State(id)
	if err != nil {
		return nil, err
	}
	if state != Active {
		return nil, errors.Wrapf(ErrProposalNotActive, "proposal %d is %s", id, state)
	}
	p := g.proposals[id]
	weight, err := g.token.GetPastVotes(voter, p.Snapshot)
	if err != nil {
		return nil, err
	}
	counted, err := g.counter.CountVote(id, voter, support, weight, params)
	if err != nil {
		return nil, err
	}

	g.receipts = append(g.receipts, Receipt{
		ProposalID: id,
		Voter:      voter,
		Support:    support,
		Weight:     *counted,
		Reason:     reason,
		Params:     append([]byte(nil), params...),
	})
	g.log.WithFields(logrus.Fields{
		"proposal": id,
		"voter":    voter,
		"weight":   counted.Dec(),
		"params":   len(params) > 0,
	}).Info("vote cast")
	return counted, nil
}

// ProposalVotes returns the counted totals of a proposal.
func (g *Governor) ProposalVotes(id uint64) counting.ProposalVotes {
	return g.counter.ProposalVotes(id)
}

// HasVoted reports whether voter has counted weight on the proposal.
func (g *Governor) HasVoted(id uint64, voter string) bool {
	return g.counter.HasVoted(id, voter)
}

// UsedVotes returns the weight voter has spent on the proposal.
func (g *Governor) UsedVotes(id uint64, voter string) *uint256.Int {
	return g.counter.UsedVotes(id, voter)
}

// Receipts returns counted ballots in order.
func (g *Governor) Receipts() []Receipt {
	out := make([]Receipt, len(g.receipts))
	copy(out, g.receipts)
	return out
}

// CountingMode describes the governor's ballot format.
func (g *Governor) CountingMode() string {
	return g.counter.Mode()
}
