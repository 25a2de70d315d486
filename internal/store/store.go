// Package store persists the host event log and the read models derived from
// it.
package store

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"flexible-voting/internal/engine"
	"flexible-voting/internal/models"
)

const insertBatchSize = 1000

// AppliedEvent is a host event together with the engine's verdict on it.
type AppliedEvent struct {
	Event engine.Event
	Err   error
}

// Block is everything one host block contributed.
type Block struct {
	Height  uint64
	Events  []AppliedEvent
	Changes engine.Changes
}

// Store writes to a gorm database. A Store without a database accepts every
// write and returns empty reads.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Enabled reports whether a database is attached.
func (s *Store) Enabled() bool {
	return s != nil && s.db != nil
}

// SaveBlocks writes a batch of blocks in one transaction and advances the
// sync height to the last of them.
func (s *Store) SaveBlocks(ctx context.Context, blocks []Block) error {
	if !s.Enabled() || len(blocks) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var events []models.HostEvent
		for _, b := range blocks {
			for _, ae := range b.Events {
				rec, err := hostEvent(ae)
				if err != nil {
					return err
				}
				events = append(events, rec)
			}
		}
		if len(events) > 0 {
			err := tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(events, insertBatchSize).Error
			if err != nil {
				return errors.Wrap(err, "insert events")
			}
		}
		for _, b := range blocks {
			if err := saveChanges(tx, b.Height, b.Changes); err != nil {
				return err
			}
		}
		return setLastHeight(tx, blocks[len(blocks)-1].Height)
	})
}

func hostEvent(ae AppliedEvent) (models.HostEvent, error) {
	attrs, err := json.Marshal(ae.Event.Attrs)
	if err != nil {
		return models.HostEvent{}, errors.Wrapf(err, "encode event %d/%d", ae.Event.Height, ae.Event.Index)
	}
	rec := models.HostEvent{
		Height:  int64(ae.Event.Height),
		Index:   ae.Event.Index,
		Type:    ae.Event.Type,
		Attrs:   string(attrs),
		Applied: ae.Err == nil,
	}
	if ae.Err != nil {
		rec.Error = truncate(ae.Err.Error(), 512)
	}
	return rec, nil
}

func saveChanges(tx *gorm.DB, height uint64, ch engine.Changes) error {
	if len(ch.Checkpoints) > 0 {
		rows := make([]models.Checkpoint, 0, len(ch.Checkpoints))
		for _, c := range ch.Checkpoints {
			rows = append(rows, models.Checkpoint{
				Account:   c.Account,
				Timepoint: int64(c.Checkpoint.Timepoint),
				Value:     c.Checkpoint.Value.Dec(),
			})
		}
		// several writes at one timepoint collapse to the last value
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account"}, {Name: "timepoint"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).CreateInBatches(dedupCheckpoints(rows), insertBatchSize).Error
		if err != nil {
			return errors.Wrap(err, "upsert checkpoints")
		}
	}

	for _, p := range ch.Proposals {
		rec := models.Proposal{
			ProposalID:  p.ID,
			Proposer:    p.Proposer,
			Description: p.Description,
			Snapshot:    int64(p.Snapshot),
			Deadline:    int64(p.Deadline),
		}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "proposal_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"proposer", "description", "snapshot", "deadline", "updated_at"}),
		}).Create(&rec).Error
		if err != nil {
			return errors.Wrapf(err, "upsert proposal %d", p.ID)
		}
	}

	for _, c := range ch.Casts {
		r := c.Result
		rec := models.PoolCast{
			ProposalID: r.ProposalID,
			Round:      r.Round,
			Height:     int64(c.Height),
			Against:    r.Against.Dec(),
			For:        r.For.Dec(),
			Abstain:    r.Abstain.Dec(),
			Counted:    r.Counted.Dec(),
			External:   r.External.Dec(),
			TotalRaw:   r.TotalRaw.Dec(),
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error; err != nil {
			return errors.Wrapf(err, "insert cast %d/%d", r.ProposalID, r.Round)
		}
	}

	for id, v := range ch.Tallies {
		rec := models.ProposalTally{
			ProposalID: id,
			Against:    v.Against.Dec(),
			For:        v.For.Dec(),
			Abstain:    v.Abstain.Dec(),
			Height:     int64(height),
		}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "proposal_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"votes_against", "votes_for", "votes_abstain", "height", "updated_at"}),
		}).Create(&rec).Error
		if err != nil {
			return errors.Wrapf(err, "upsert tally %d", id)
		}
	}
	return nil
}

// dedupCheckpoints keeps the last row per account and timepoint, since one
// statement may not touch the same conflict target twice.
func dedupCheckpoints(rows []models.Checkpoint) []models.Checkpoint {
	type key struct {
		account   string
		timepoint int64
	}
	pos := make(map[key]int, len(rows))
	out := rows[:0:0]
	for _, r := range rows {
		k := key{r.Account, r.Timepoint}
		if i, ok := pos[k]; ok {
			out[i] = r
			continue
		}
		pos[k] = len(out)
		out = append(out, r)
	}
	return out
}

func setLastHeight(tx *gorm.DB, height uint64) error {
	state := models.SyncState{ID: 1}
	err := tx.Where(models.SyncState{ID: 1}).Assign(models.SyncState{Height: int64(height)}).FirstOrCreate(&state).Error
	return errors.Wrap(err, "save sync height")
}

// LastHeight returns the last persisted host height, or zero.
func (s *Store) LastHeight(ctx context.Context) (uint64, error) {
	if !s.Enabled() {
		return 0, nil
	}
	var state models.SyncState
	err := s.db.WithContext(ctx).Where("id = ?", 1).Limit(1).Find(&state).Error
	if err != nil {
		return 0, errors.Wrap(err, "load sync height")
	}
	return uint64(state.Height), nil
}

// Events streams the persisted event log to fn in insertion order, which is
// application order. Events the engine rejected are included so replay
// reproduces the same verdicts. Rows above upTo are skipped.
func (s *Store) Events(ctx context.Context, upTo uint64, fn func(engine.Event) error) error {
	if !s.Enabled() {
		return nil
	}
	var batch []models.HostEvent
	res := s.db.WithContext(ctx).
		Where("height <= ?", int64(upTo)).
		FindInBatches(&batch, insertBatchSize, func(tx *gorm.DB, _ int) error {
			for _, rec := range batch {
				ev := engine.Event{Height: uint64(rec.Height), Index: rec.Index, Type: rec.Type}
				if err := json.Unmarshal([]byte(rec.Attrs), &ev.Attrs); err != nil {
					return errors.Wrapf(err, "decode event %d/%d", rec.Height, rec.Index)
				}
				if err := fn(ev); err != nil {
					return err
				}
			}
			return nil
		})
	return res.Error
}

// SetProposalTitle stores a resolved display title.
func (s *Store) SetProposalTitle(ctx context.Context, id uint64, title string) error {
	if !s.Enabled() {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.Proposal{}).
		Where("proposal_id = ?", id).
		Update("title", truncate(title, 256)).Error
}

// Casts returns the persisted casts of a proposal by round.
func (s *Store) Casts(ctx context.Context, proposalID uint64) ([]models.PoolCast, error) {
	if !s.Enabled() {
		return nil, nil
	}
	var out []models.PoolCast
	err := s.db.WithContext(ctx).Where("proposal_id = ?", proposalID).Order("round ASC").Find(&out).Error
	return out, err
}

// History returns the persisted checkpoints of account, oldest first. An
// empty account selects the aggregate.
func (s *Store) History(ctx context.Context, account string) ([]models.Checkpoint, error) {
	if !s.Enabled() {
		return nil, nil
	}
	var out []models.Checkpoint
	err := s.db.WithContext(ctx).Where("account = ?", account).Order("timepoint ASC").Find(&out).Error
	return out, err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
