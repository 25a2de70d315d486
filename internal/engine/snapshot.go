package engine

import (
	"github.com/holiman/uint256"

	"flexible-voting/internal/counting"
	"flexible-voting/internal/flexvote"
	"flexible-voting/internal/governor"
)

// ProposalView is the pool's view of one proposal at the current height.
type ProposalView struct {
	ID          uint64
	Description string
	State       governor.ProposalState
	Snapshot    uint64
	Deadline    uint64
	Expressed   flexvote.ProposalVote
	PoolState   flexvote.State
	Rounds      uint64
	Tally       counting.ProposalVotes
}

// Snapshot is a point-in-time copy of the engine for display.
type Snapshot struct {
	Height    uint64
	Pool      string
	Mode      flexvote.Mode
	PoolVotes uint256.Int
	TotalRaw  uint256.Int
	Accounts  int
	Proposals []ProposalView
}

// Snapshot copies the current state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Snapshot{
		Height:    e.height,
		Pool:      e.pool.Address(),
		Mode:      e.pool.Mode(),
		PoolVotes: *e.token.GetVotes(e.pool.Address()),
		TotalRaw:  *e.ledger.TotalBalance(),
		Accounts:  e.ledger.Accounts(),
	}
	for _, p := range e.gov.Proposals() {
		state, _ := e.gov.State(p.ID)
		s.Proposals = append(s.Proposals, ProposalView{
			ID:          p.ID,
			Description: p.Description,
			State:       state,
			Snapshot:    p.Snapshot,
			Deadline:    p.Deadline,
			Expressed:   e.pool.ProposalVotes(p.ID),
			PoolState:   e.pool.State(p.ID),
			Rounds:      e.pool.Round(p.ID),
			Tally:       e.gov.ProposalVotes(p.ID),
		})
	}
	return s
}
