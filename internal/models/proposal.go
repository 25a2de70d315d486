package models

import "time"

type Proposal struct {
	ID          uint   `gorm:"primaryKey"`
	ProposalID  uint64 `gorm:"uniqueIndex;not null"`
	Proposer    string `gorm:"size:128;index"`
	Description string `gorm:"type:text"`
	Title       string `gorm:"size:256"` // resolved from APP_API_URL when available
	Snapshot    int64  `gorm:"index"`
	Deadline    int64  `gorm:"index"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ProposalTally is the governor's latest counted totals for a proposal.
type ProposalTally struct {
	ID         uint   `gorm:"primaryKey"`
	ProposalID uint64 `gorm:"uniqueIndex;not null"`
	Against    string `gorm:"column:votes_against;size:80"`
	For        string `gorm:"column:votes_for;size:80"`
	Abstain    string `gorm:"column:votes_abstain;size:80"`
	Height     int64  `gorm:"index"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// PoolCast stores one successful pool cast. Rolling pools cast several rounds
// per proposal.
type PoolCast struct {
	ID         uint   `gorm:"primaryKey"`
	ProposalID uint64 `gorm:"index:ux_proposal_round,unique;not null"`
	Round      uint64 `gorm:"index:ux_proposal_round,unique;not null"`
	Height     int64  `gorm:"index"`
	Against    string `gorm:"column:votes_against;size:80"`
	For        string `gorm:"column:votes_for;size:80"`
	Abstain    string `gorm:"column:votes_abstain;size:80"`
	Counted    string `gorm:"size:80"`
	External   string `gorm:"size:80"`
	TotalRaw   string `gorm:"size:80"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
