package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/narrativebet/internal/ledger"
)

// EventKind tags each variant of the closed market event set.
type EventKind string

const (
	EventMarketCreated         EventKind = "market_created"
	EventTemporalMarketCreated EventKind = "temporal_market_created"
	EventMarketOpened          EventKind = "market_opened"
	EventMarketLocked          EventKind = "market_locked"
	EventBetPlaced             EventKind = "bet_placed"
	EventTemporalBetPlaced     EventKind = "temporal_bet_placed"
	EventBetCancelled          EventKind = "bet_cancelled"
	EventPositionMinted        EventKind = "position_minted"
	EventSwapped               EventKind = "swapped"
	EventLiquidityAdded        EventKind = "liquidity_added"
	EventLiquidityRemoved      EventKind = "liquidity_removed"
	EventConsensusBetPlaced    EventKind = "consensus_bet_placed"
	EventResolutionStarted     EventKind = "resolution_started"
	EventMarketResolved        EventKind = "market_resolved"
	EventMarketVoided          EventKind = "market_voided"
	EventMarketDisputed        EventKind = "market_disputed"
	EventDisputeVoteCast       EventKind = "dispute_vote_cast"
	EventClaimed               EventKind = "claimed"
	EventChapterAdvanced       EventKind = "chapter_advanced"
)

// Event is implemented only by the payload types in this file. Consumers
// switch over the concrete types; the unexported method keeps the set closed.
type Event interface {
	Kind() EventKind
	isEvent()
}

type MarketCreated struct {
	Market Market `json:"market"`
}

type TemporalMarketCreated struct {
	Market        Market `json:"market"`
	MultiplierBps int64  `json:"multiplier_bps"`
}

type MarketOpened struct {
	At time.Time `json:"at"`
}

// MarketLocked records the crowd favourite at lock time (-1 when no stakes).
type MarketLocked struct {
	At           time.Time `json:"at"`
	CrowdOutcome int       `json:"crowd_outcome"`
}

type BetPlaced struct {
	Bet Bet `json:"bet"`
}

type TemporalBetPlaced struct {
	Bet Bet `json:"bet"`
}

type BetCancelled struct {
	BetID  string `json:"bet_id"`
	Bettor string `json:"bettor"`
}

type PositionMinted struct {
	Holder  string        `json:"holder"`
	Outcome int           `json:"outcome"`
	Amount  ledger.Amount `json:"amount"`
}

type Swapped struct {
	Holder    string        `json:"holder"`
	From      int           `json:"from"`
	To        int           `json:"to"`
	AmountIn  ledger.Amount `json:"amount_in"`
	AmountOut ledger.Amount `json:"amount_out"`
	Fee       ledger.Amount `json:"fee"`
}

type LiquidityAdded struct {
	Holder  string        `json:"holder"`
	Outcome int           `json:"outcome"`
	Amount  ledger.Amount `json:"amount"`
	Shares  ledger.Amount `json:"shares"`
}

type LiquidityRemoved struct {
	Holder  string        `json:"holder"`
	Outcome int           `json:"outcome"`
	Shares  ledger.Amount `json:"shares"`
	Amount  ledger.Amount `json:"amount"`
}

type ConsensusBetPlaced struct {
	Stake ConsensusStake `json:"stake"`
}

type ResolutionStarted struct {
	At     time.Time `json:"at"`
	Source string    `json:"source"`
}

// OracleVerdict is the oracle's answer normalised to an outcome index and
// confidence in basis points.
type OracleVerdict struct {
	Outcome       int      `json:"outcome"`
	Extra         []int    `json:"extra,omitempty"`
	ConfidenceBps int64    `json:"confidence_bps"`
	Reasoning     string   `json:"reasoning,omitempty"`
	Evidence      []string `json:"evidence,omitempty"`
}

type MarketResolved struct {
	At         time.Time      `json:"at"`
	Settlement Settlement     `json:"settlement"`
	Verdict    *OracleVerdict `json:"verdict,omitempty"`
	Source     string         `json:"source"`
}

type MarketVoided struct {
	At         time.Time  `json:"at"`
	Reason     string     `json:"reason"`
	Settlement Settlement `json:"settlement"`
}

type MarketDisputed struct {
	At       time.Time      `json:"at"`
	Deadline time.Time      `json:"deadline"`
	Verdict  *OracleVerdict `json:"verdict,omitempty"`
	Reason   string         `json:"reason"`
}

type DisputeVoteCast struct {
	Vote Vote `json:"vote"`
}

// ClaimLayer distinguishes the market payout from the consensus layer payout.
type ClaimLayer string

const (
	ClaimLayerMarket    ClaimLayer = "market"
	ClaimLayerConsensus ClaimLayer = "consensus"
)

type Claimed struct {
	Bettor string        `json:"bettor"`
	Layer  ClaimLayer    `json:"layer"`
	Amount ledger.Amount `json:"amount"`
	At     time.Time     `json:"at"`
}

type ChapterAdvanced struct {
	Chapter int `json:"chapter"`
}

func (MarketCreated) Kind() EventKind         { return EventMarketCreated }
func (TemporalMarketCreated) Kind() EventKind { return EventTemporalMarketCreated }
func (MarketOpened) Kind() EventKind          { return EventMarketOpened }
func (MarketLocked) Kind() EventKind          { return EventMarketLocked }
func (BetPlaced) Kind() EventKind             { return EventBetPlaced }
func (TemporalBetPlaced) Kind() EventKind     { return EventTemporalBetPlaced }
func (BetCancelled) Kind() EventKind          { return EventBetCancelled }
func (PositionMinted) Kind() EventKind        { return EventPositionMinted }
func (Swapped) Kind() EventKind               { return EventSwapped }
func (LiquidityAdded) Kind() EventKind        { return EventLiquidityAdded }
func (LiquidityRemoved) Kind() EventKind      { return EventLiquidityRemoved }
func (ConsensusBetPlaced) Kind() EventKind    { return EventConsensusBetPlaced }
func (ResolutionStarted) Kind() EventKind     { return EventResolutionStarted }
func (MarketResolved) Kind() EventKind        { return EventMarketResolved }
func (MarketVoided) Kind() EventKind          { return EventMarketVoided }
func (MarketDisputed) Kind() EventKind        { return EventMarketDisputed }
func (DisputeVoteCast) Kind() EventKind       { return EventDisputeVoteCast }
func (Claimed) Kind() EventKind               { return EventClaimed }
func (ChapterAdvanced) Kind() EventKind       { return EventChapterAdvanced }

func (MarketCreated) isEvent()         {}
func (TemporalMarketCreated) isEvent() {}
func (MarketOpened) isEvent()          {}
func (MarketLocked) isEvent()          {}
func (BetPlaced) isEvent()             {}
func (TemporalBetPlaced) isEvent()     {}
func (BetCancelled) isEvent()          {}
func (PositionMinted) isEvent()        {}
func (Swapped) isEvent()               {}
func (LiquidityAdded) isEvent()        {}
func (LiquidityRemoved) isEvent()      {}
func (ConsensusBetPlaced) isEvent()    {}
func (ResolutionStarted) isEvent()     {}
func (MarketResolved) isEvent()        {}
func (MarketVoided) isEvent()          {}
func (MarketDisputed) isEvent()        {}
func (DisputeVoteCast) isEvent()       {}
func (Claimed) isEvent()               {}
func (ChapterAdvanced) isEvent()       {}

// Envelope is the persisted and published form of an event. Seq is strictly
// increasing per stream starting at 1.
type Envelope struct {
	MarketID string          `json:"market_id"`
	Seq      int64           `json:"seq"`
	Kind     EventKind       `json:"kind"`
	At       time.Time       `json:"at"`
	Payload  json.RawMessage `json:"payload"`
}

// NewEnvelope serialises ev for the given stream position.
func NewEnvelope(marketID string, seq int64, at time.Time, ev Event) (Envelope, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return Envelope{}, fmt.Errorf("domain: marshal %s: %w", ev.Kind(), err)
	}
	return Envelope{
		MarketID: marketID,
		Seq:      seq,
		Kind:     ev.Kind(),
		At:       at,
		Payload:  payload,
	}, nil
}

// Decode returns the typed event carried by the envelope.
func (e Envelope) Decode() (Event, error) {
	var ev Event
	switch e.Kind {
	case EventMarketCreated:
		ev = &MarketCreated{}
	case EventTemporalMarketCreated:
		ev = &TemporalMarketCreated{}
	case EventMarketOpened:
		ev = &MarketOpened{}
	case EventMarketLocked:
		ev = &MarketLocked{}
	case EventBetPlaced:
		ev = &BetPlaced{}
	case EventTemporalBetPlaced:
		ev = &TemporalBetPlaced{}
	case EventBetCancelled:
		ev = &BetCancelled{}
	case EventPositionMinted:
		ev = &PositionMinted{}
	case EventSwapped:
		ev = &Swapped{}
	case EventLiquidityAdded:
		ev = &LiquidityAdded{}
	case EventLiquidityRemoved:
		ev = &LiquidityRemoved{}
	case EventConsensusBetPlaced:
		ev = &ConsensusBetPlaced{}
	case EventResolutionStarted:
		ev = &ResolutionStarted{}
	case EventMarketResolved:
		ev = &MarketResolved{}
	case EventMarketVoided:
		ev = &MarketVoided{}
	case EventMarketDisputed:
		ev = &MarketDisputed{}
	case EventDisputeVoteCast:
		ev = &DisputeVoteCast{}
	case EventClaimed:
		ev = &Claimed{}
	case EventChapterAdvanced:
		ev = &ChapterAdvanced{}
	default:
		return nil, fmt.Errorf("domain: unknown event kind %q", e.Kind)
	}
	if err := json.Unmarshal(e.Payload, ev); err != nil {
		return nil, fmt.Errorf("domain: unmarshal %s: %w", e.Kind, err)
	}
	return deref(ev), nil
}

// deref converts the pointer used for unmarshalling back to the value type so
// consumers can switch on value types only.
func deref(ev Event) Event {
	switch v := ev.(type) {
	case *MarketCreated:
		return *v
	case *TemporalMarketCreated:
		return *v
	case *MarketOpened:
		return *v
	case *MarketLocked:
		return *v
	case *BetPlaced:
		return *v
	case *TemporalBetPlaced:
		return *v
	case *BetCancelled:
		return *v
	case *PositionMinted:
		return *v
	case *Swapped:
		return *v
	case *LiquidityAdded:
		return *v
	case *LiquidityRemoved:
		return *v
	case *ConsensusBetPlaced:
		return *v
	case *ResolutionStarted:
		return *v
	case *MarketResolved:
		return *v
	case *MarketVoided:
		return *v
	case *MarketDisputed:
		return *v
	case *DisputeVoteCast:
		return *v
	case *Claimed:
		return *v
	case *ChapterAdvanced:
		return *v
	}
	return ev
}
