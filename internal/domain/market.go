package domain

import (
	"time"

	"github.com/alanyoungcy/narrativebet/internal/ledger"
)

// MarketKind identifies which settlement machinery a market uses.
type MarketKind string

const (
	MarketKindParimutuel MarketKind = "PARIMUTUEL"
	MarketKindConsensus  MarketKind = "CONSENSUS"
	MarketKindTemporal   MarketKind = "TEMPORAL"
)

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusPending   MarketStatus = "PENDING"
	MarketStatusOpen      MarketStatus = "OPEN"
	MarketStatusLocked    MarketStatus = "LOCKED"
	MarketStatusResolving MarketStatus = "RESOLVING"
	MarketStatusResolved  MarketStatus = "RESOLVED"
	MarketStatusDisputed  MarketStatus = "DISPUTED"
	MarketStatusVoided    MarketStatus = "VOIDED"
)

// transitions lists every legal status edge. Everything moves forward except
// DISPUTED -> RESOLVED, which is how a dispute ends.
var transitions = map[MarketStatus][]MarketStatus{
	MarketStatusPending:   {MarketStatusOpen, MarketStatusVoided},
	MarketStatusOpen:      {MarketStatusLocked, MarketStatusVoided},
	MarketStatusLocked:    {MarketStatusResolving, MarketStatusVoided},
	MarketStatusResolving: {MarketStatusResolved, MarketStatusDisputed, MarketStatusVoided},
	MarketStatusDisputed:  {MarketStatusResolved, MarketStatusVoided},
}

// CanTransition reports whether s may move to next.
func (s MarketStatus) CanTransition(next MarketStatus) bool {
	for _, to := range transitions[s] {
		if to == next {
			return true
		}
	}
	return false
}

// Final reports whether no further transitions are possible.
func (s MarketStatus) Final() bool {
	return s == MarketStatusResolved || s == MarketStatusVoided
}

// Temporal markets are yes/no; these are the outcome indices.
const (
	OutcomeYes = 0
	OutcomeNo  = 1
)

// Market is the operator-defined header shared by every market kind.
type Market struct {
	ID         string       `json:"id"`
	Kind       MarketKind   `json:"kind"`
	Question   string       `json:"question"`
	Outcomes   []string     `json:"outcomes"`
	Status     MarketStatus `json:"status"`
	CreatedAt  time.Time    `json:"created_at"`
	OpenedAt   *time.Time   `json:"opened_at,omitempty"`
	DeadlineAt time.Time    `json:"deadline_at"`
	LockedAt   *time.Time   `json:"locked_at,omitempty"`
	ResolvedAt *time.Time   `json:"resolved_at,omitempty"`

	MinBet ledger.Amount      `json:"min_bet"`
	MaxBet ledger.Amount      `json:"max_bet"`
	Fees   ledger.FeeSchedule `json:"fees"`
	// AMMFeeBps is the exchange swap fee; zero means the default 0.3%.
	AMMFeeBps int64 `json:"amm_fee_bps,omitempty"`

	// Temporal-only fields.
	OpenChapter          int    `json:"open_chapter,omitempty"`
	ResolveChapter       int    `json:"resolve_chapter,omitempty"`
	Criteria             string `json:"criteria,omitempty"`
	OracleResolutionType string `json:"oracle_resolution_type,omitempty"`

	WinningOutcome  *int       `json:"winning_outcome,omitempty"`
	WinningSet      []int      `json:"winning_set,omitempty"`
	DisputeDeadline *time.Time `json:"dispute_deadline,omitempty"`
	VoidReason      string     `json:"void_reason,omitempty"`
}

// Horizon is the number of chapters between opening and resolution.
func (m Market) Horizon() int {
	return m.ResolveChapter - m.OpenChapter
}

// AcceptsBets reports whether the market is OPEN and its deadline has not
// passed. Both gates must hold. A zero deadline disables the time gate.
func (m Market) AcceptsBets(now time.Time) bool {
	if m.Status != MarketStatusOpen {
		return false
	}
	return m.DeadlineAt.IsZero() || now.Before(m.DeadlineAt)
}

// CheckOpen returns nil when bets, swaps, and liquidity changes are allowed.
// Markets that are locked or being resolved report ErrMarketLocked; every
// other non-open state, or a passed deadline, reports ErrMarketClosed.
func (m Market) CheckOpen(now time.Time) error {
	switch m.Status {
	case MarketStatusOpen:
		if !m.AcceptsBets(now) {
			return ErrMarketClosed
		}
		return nil
	case MarketStatusLocked, MarketStatusResolving, MarketStatusDisputed:
		return ErrMarketLocked
	default:
		return ErrMarketClosed
	}
}

// OutcomeSlot is one outcome of a parimutuel pool.
type OutcomeSlot struct {
	Index       int           `json:"index"`
	Label       string        `json:"label"`
	TotalStaked ledger.Amount `json:"total_staked"`
}

// ReservePool is the exchange-layer reserve for one outcome, independent of
// the parimutuel stake on that outcome.
type ReservePool struct {
	Index         int           `json:"index"`
	Reserve       ledger.Amount `json:"reserve"`
	LPTotalSupply ledger.Amount `json:"lp_total_supply"`
}

// LPPosition is a liquidity provider's share of one outcome's reserve.
type LPPosition struct {
	Holder       string        `json:"holder"`
	OutcomeIndex int           `json:"outcome_index"`
	ShareTokens  ledger.Amount `json:"share_tokens"`
}
