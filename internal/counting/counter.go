// Package counting implements fractional vote counting for a governor.
//
// A voter may either cast a nominal vote, which assigns all of its remaining
// weight to one option, or any number of fractional votes, each splitting part
// of its weight across against, for and abstain. The cumulative weight counted
// for a voter never exceeds its entitlement at the proposal snapshot.
package counting

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

// CountingMode describes the supported ballot formats and the default quorum
// rule.
const CountingMode = "support=bravo,fractional&quorum=for,abstain&params=fractional"

const countingModeForOnly = "support=bravo,fractional&quorum=for&params=fractional"

var (
	ErrNoVotingWeight     = errors.New("counting: no voting weight")
	ErrVoteWeightExceeded = errors.New("counting: vote weight exceeded")
	ErrInvalidVoteData    = errors.New("counting: invalid vote data")
	ErrInvalidSupport     = errors.New("counting: invalid support")
)

// Support is a vote option.
type Support uint8

const (
	Against Support = iota
	For
	Abstain
)

// Valid reports whether s is one of the three options.
func (s Support) Valid() bool {
	return s <= Abstain
}

func (s Support) String() string {
	switch s {
	case Against:
		return "against"
	case For:
		return "for"
	case Abstain:
		return "abstain"
	default:
		return fmt.Sprintf("support(%d)", uint8(s))
	}
}

// ParseSupport accepts the option names and their numeric codes.
func ParseSupport(s string) (Support, error) {
	switch s {
	case "0", "against", "Against", "AGAINST":
		return Against, nil
	case "1", "for", "For", "FOR":
		return For, nil
	case "2", "abstain", "Abstain", "ABSTAIN":
		return Abstain, nil
	}
	return 0, errors.Wrapf(ErrInvalidSupport, "%q", s)
}

// QuorumPolicy selects which buckets count toward quorum.
type QuorumPolicy int

const (
	QuorumForAbstain QuorumPolicy = iota
	QuorumForOnly
)

// ProposalVotes holds the running totals of a proposal.
type ProposalVotes struct {
	Against uint256.Int
	For     uint256.Int
	Abstain uint256.Int
}

type proposalVote struct {
	ProposalVotes
	used map[string]*uint256.Int
}

// Counter tracks per-proposal totals and per-voter spent weight. It is not
// safe for concurrent use.
type Counter struct {
	policy    QuorumPolicy
	proposals map[uint64]*proposalVote
}

// NewCounter creates a counter with the given quorum policy.
func NewCounter(policy QuorumPolicy) *Counter {
	return &Counter{
		policy:    policy,
		proposals: make(map[uint64]*proposalVote),
	}
}

func (c *Counter) proposal(id uint64) *proposalVote {
	pv, ok := c.proposals[id]
	if !ok {
		pv = &proposalVote{used: make(map[string]*uint256.Int)}
		c.proposals[id] = pv
	}
	return pv
}

// CountVote counts a ballot from voter with entitlement totalWeight. Empty
// params select the nominal path; otherwise params must be a packed
// fractional ballot. It returns the weight counted by this call.
func (c *Counter) CountVote(proposalID uint64, voter string, support Support, totalWeight *uint256.Int, params []byte) (*uint256.Int, error) {
	if totalWeight.IsZero() {
		return nil, errors.Wrapf(ErrNoVotingWeight, "proposal %d voter %s", proposalID, voter)
	}
	used := c.UsedVotes(proposalID, voter)
	if used.Cmp(totalWeight) >= 0 {
		return nil, errors.Wrapf(ErrVoteWeightExceeded, "proposal %d voter %s already used %s", proposalID, voter, used.Dec())
	}
	if len(params) == 0 {
		return c.countNominal(proposalID, voter, support, totalWeight, used)
	}
	return c.countFractional(proposalID, voter, totalWeight, used, params)
}

func (c *Counter) countNominal(proposalID uint64, voter string, support Support, totalWeight, used *uint256.Int) (*uint256.Int, error) {
	if !support.Valid() {
		return nil, errors.Wrapf(ErrInvalidSupport, "proposal %d voter %s: %d", proposalID, voter, uint8(support))
	}
	// a voter with fractional ballots may not switch to a nominal one
	if !used.IsZero() {
		return nil, errors.Wrapf(ErrVoteWeightExceeded, "proposal %d voter %s already voted fractionally", proposalID, voter)
	}
	weight := totalWeight.Clone()

	pv := c.proposal(proposalID)
	bucket := pv.bucket(support)
	bucket.Add(bucket, weight)
	pv.used[voter] = totalWeight.Clone()
	return weight, nil
}

func (c *Counter) countFractional(proposalID uint64, voter string, totalWeight, used *uint256.Int, params []byte) (*uint256.Int, error) {
	against, forVotes, abstain, err := UnpackFractional(params)
	if err != nil {
		return nil, errors.Wrapf(err, "proposal %d voter %s", proposalID, voter)
	}
	// each part fits 128 bits, so the sum cannot overflow 256
	requested := new(uint256.Int).Add(against, forVotes)
	requested.Add(requested, abstain)

	spent := new(uint256.Int).Add(used, requested)
	if spent.Gt(totalWeight) {
		return nil, errors.Wrapf(ErrVoteWeightExceeded, "proposal %d voter %s requested %s with %s remaining",
			proposalID, voter, requested.Dec(), new(uint256.Int).Sub(totalWeight, used).Dec())
	}

	pv := c.proposal(proposalID)
	pv.Against.Add(&pv.Against, against)
	pv.For.Add(&pv.For, forVotes)
	pv.Abstain.Add(&pv.Abstain, abstain)
	pv.used[voter] = spent
	return requested, nil
}

func (pv *proposalVote) bucket(s Support) *uint256.Int {
	switch s {
	case Against:
		return &pv.Against
	case For:
		return &pv.For
	default:
		return &pv.Abstain
	}
}

// HasVoted reports whether voter has counted any weight on the proposal.
func (c *Counter) HasVoted(proposalID uint64, voter string) bool {
	return !c.UsedVotes(proposalID, voter).IsZero()
}

// UsedVotes returns the cumulative weight counted for voter.
func (c *Counter) UsedVotes(proposalID uint64, voter string) *uint256.Int {
	if pv, ok := c.proposals[proposalID]; ok {
		if used, ok := pv.used[voter]; ok {
			return used.Clone()
		}
	}
	return new(uint256.Int)
}

// ProposalVotes returns a copy of the proposal totals.
func (c *Counter) ProposalVotes(proposalID uint64) ProposalVotes {
	if pv, ok := c.proposals[proposalID]; ok {
		return pv.ProposalVotes
	}
	return ProposalVotes{}
}

// QuorumReached compares the counted weight with quorum under the
// counter's policy.
func (c *Counter) QuorumReached(proposalID uint64, quorum *uint256.Int) bool {
	votes := c.ProposalVotes(proposalID)
	counted := votes.For.Clone()
	if c.policy == QuorumForAbstain {
		counted.Add(counted, &votes.Abstain)
	}
	return quorum.Cmp(counted) <= 0
}

// Mode returns the counting mode string for the counter's quorum policy.
func (c *Counter) Mode() string {
	if c.policy == QuorumForOnly {
		return countingModeForOnly
	}
	return CountingMode
}

// VoteSucceeded reports whether for strictly exceeds against.
func (c *Counter) VoteSucceeded(proposalID uint64) bool {
	votes := c.ProposalVotes(proposalID)
	return votes.For.Gt(&votes.Against)
}
