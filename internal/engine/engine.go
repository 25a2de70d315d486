// Package engine wires the token, ledger, vault, governor and pool into one
// deterministic state machine driven by host chain events.
package engine

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"flexible-voting/internal/checkpoint"
	"flexible-voting/internal/counting"
	"flexible-voting/internal/flexvote"
	"flexible-voting/internal/governor"
	"flexible-voting/internal/ledger"
	"flexible-voting/internal/metrics"
	"flexible-voting/internal/token"
	"flexible-voting/internal/vault"
)

var (
	// ErrStaleBlock is returned when a block does not advance the height.
	ErrStaleBlock = errors.New("engine: stale block")
	// ErrPoolAccount rejects direct governor votes from the pool account.
	ErrPoolAccount = errors.New("engine: pool votes only through cast")
)

// Settings configure the pool and the governor.
type Settings struct {
	Pool     flexvote.Settings
	Governor governor.Settings
}

// CheckpointChange is a ledger checkpoint written while applying events.
// Account is empty for the aggregate.
type CheckpointChange struct {
	Account    string
	Checkpoint checkpoint.Checkpoint
}

// Changes accumulates what a block changed, for persistence.
type Changes struct {
	Checkpoints []CheckpointChange
	Proposals   []governor.Proposal
	Casts       []CastChange
	Tallies     map[uint64]counting.ProposalVotes
}

// CastChange is a successful pool cast.
type CastChange struct {
	Height uint64
	Result flexvote.CastResult
}

// Empty reports whether nothing changed.
func (c Changes) Empty() bool {
	return len(c.Checkpoints) == 0 && len(c.Proposals) == 0 && len(c.Casts) == 0 && len(c.Tallies) == 0
}

// Engine applies events one at a time. Its methods are safe for concurrent
// use.
type Engine struct {
	mu      sync.Mutex
	height  uint64
	token   *token.Votes
	ledger  *ledger.Ledger
	vault   *vault.Vault
	gov     *governor.Governor
	pool    *flexvote.Pool
	log     logrus.FieldLogger
	metrics *metrics.Metrics
	changes Changes
}

// clock reads the engine height. Callers already hold the engine lock.
type clock struct{ e *Engine }

func (c clock) Now() uint64 { return c.e.height }

// New builds the state machine at height zero.
func New(settings Settings, log logrus.FieldLogger, m *metrics.Metrics) (*Engine, error) {
	e := &Engine{log: log, metrics: m}
	e.changes.Tallies = make(map[uint64]counting.ProposalVotes)
	c := clock{e}

	e.token = token.NewVotes(c)
	e.ledger = ledger.New(c, nil)
	e.vault = vault.New(settings.Pool.Address, e.token, e.ledger)
	e.ledger.SetSource(e.vault)
	e.ledger.AddListener(e)
	e.gov = governor.New(c, e.token, settings.Governor, log.WithField("module", "governor"))

	pool, err := flexvote.New(settings.Pool, c, e.ledger, e.gov, e.token, log.WithField("module", "flexvote"))
	if err != nil {
		return nil, err
	}
	e.pool = pool
	return e, nil
}

// CheckpointWritten implements ledger.Listener.
func (e *Engine) CheckpointWritten(account string, cp checkpoint.Checkpoint) {
	e.changes.Checkpoints = append(e.changes.Checkpoints, CheckpointChange{Account: account, Checkpoint: cp})
	e.metrics.Checkpoint()
}

// Height returns the current block height.
func (e *Engine) Height() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.height
}

// BeginBlock advances the clock to height.
func (e *Engine) BeginBlock(height uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if height <= e.height {
		return errors.Wrapf(ErrStaleBlock, "block %d at height %d", height, e.height)
	}
	e.height = height
	e.metrics.SetHeight(height)
	return nil
}

// Apply executes one event at the current height. A failed event changes
// nothing.
func (e *Engine) Apply(ev Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	err := e.apply(ev)
	e.metrics.Event(ev.Type, err)
	if err != nil {
		e.log.WithFields(logrus.Fields{
			"height": ev.Height,
			"index":  ev.Index,
			"type":   ev.Type,
		}).WithError(err).Warn("event rejected")
	}
	return err
}

func (e *Engine) apply(ev Event) error {
	if ev.Height != e.height {
		return errors.Wrapf(ErrStaleBlock, "event at %d applied at height %d", ev.Height, e.height)
	}
	switch ev.Type {
	case EventMint:
		account, err := ev.attr(AttrAccount)
		if err != nil {
			return err
		}
		amount, err := ev.amount(AttrAmount)
		if err != nil {
			return err
		}
		return e.token.Mint(account, amount)

	case EventDelegate:
		account, err := ev.attr(AttrAccount)
		if err != nil {
			return err
		}
		delegatee, err := ev.attr(AttrDelegatee)
		if err != nil {
			return err
		}
		return e.token.Delegate(account, delegatee)

	case EventDeposit, EventWithdraw:
		account, err := ev.attr(AttrAccount)
		if err != nil {
			return err
		}
		amount, err := ev.amount(AttrAmount)
		if err != nil {
			return err
		}
		if ev.Type == EventDeposit {
			return e.vault.Deposit(account, amount)
		}
		return e.vault.Withdraw(account, amount)

	case EventTransferShares:
		sender, err := ev.attr(AttrSender)
		if err != nil {
			return err
		}
		recipient, err := ev.attr(AttrRecipient)
		if err != nil {
			return err
		}
		amount, err := ev.amount(AttrAmount)
		if err != nil {
			return err
		}
		return e.vault.TransferShares(sender, recipient, amount)

	case EventPropose:
		id, err := ev.proposalID()
		if err != nil {
			return err
		}
		p, err := e.gov.Propose(id, ev.Attrs[AttrProposer], ev.Attrs[AttrDescription])
		if err != nil {
			return err
		}
		e.changes.Proposals = append(e.changes.Proposals, *p)
		return nil

	case EventExpress:
		return e.applyExpress(ev)

	case EventCast:
		id, err := ev.proposalID()
		if err != nil {
			return err
		}
		res, err := e.pool.CastVote(id)
		if err != nil {
			return err
		}
		e.metrics.Cast()
		e.changes.Casts = append(e.changes.Casts, CastChange{Height: e.height, Result: *res})
		e.changes.Tallies[id] = e.gov.ProposalVotes(id)
		return nil

	case EventVote:
		account, err := ev.attr(AttrAccount)
		if err != nil {
			return err
		}
		if account == e.pool.Address() {
			return errors.Wrapf(ErrPoolAccount, "proposal %s", ev.Attrs[AttrProposalID])
		}
		id, err := ev.proposalID()
		if err != nil {
			return err
		}
		params, err := ev.params()
		if err != nil {
			return err
		}
		var support counting.Support
		if len(params) == 0 {
			if support, err = ev.support(); err != nil {
				return err
			}
		}
		if _, err := e.gov.CastVoteWithReasonAndParams(account, id, support, ev.Attrs[AttrReason], params); err != nil {
			return err
		}
		e.changes.Tallies[id] = e.gov.ProposalVotes(id)
		return nil
	}
	return errors.Wrapf(ErrUnknownEvent, "%q", ev.Type)
}

func (e *Engine) applyExpress(ev Event) error {
	account, err := ev.attr(AttrAccount)
	if err != nil {
		return err
	}
	id, err := ev.proposalID()
	if err != nil {
		return err
	}
	support, err := ev.support()
	if err != nil {
		return err
	}
	amount, err := ev.optionalAmount(AttrAmount)
	if err != nil {
		return err
	}
	if amount != nil {
		_, err = e.pool.ExpressPartialVote(account, id, support, amount)
	} else {
		_, err = e.pool.ExpressVote(account, id, support)
	}
	if err != nil {
		return err
	}
	e.metrics.Express(support.String())
	return nil
}

// Drain returns and resets the changes accumulated since the last call.
func (e *Engine) Drain() Changes {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.changes
	e.changes = Changes{Tallies: make(map[uint64]counting.ProposalVotes)}
	return out
}
