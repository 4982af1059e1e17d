package domain

import "github.com/alanyoungcy/narrativebet/internal/ledger"

// Settlement is the frozen payout map produced once when a market resolves.
// Payouts are keyed by bettor address.
type Settlement struct {
	MarketID   string                   `json:"market_id"`
	WinningSet []int                    `json:"winning_set"`
	Voided     bool                     `json:"voided"`
	TotalPool  ledger.Amount            `json:"total_pool"`
	Split      ledger.Split             `json:"split"`
	Dust       ledger.Amount            `json:"dust"`
	Subsidy    ledger.Amount            `json:"subsidy"`
	Payouts    map[string]ledger.Amount `json:"payouts"`

	Exchange  *ExchangeSettlement  `json:"exchange,omitempty"`
	Consensus *ConsensusSettlement `json:"consensus,omitempty"`
}

// Conserved reports whether every unit of the pool is accounted for:
// payouts + treasury + dev + dust == pool + subsidy. A voided settlement
// refunds the pool exactly.
func (s Settlement) Conserved() bool {
	paid, err := sumPayouts(s.Payouts)
	if err != nil {
		return false
	}
	if s.Voided {
		return paid == s.TotalPool
	}
	lhs, err := ledger.Sum(paid, s.Split.Treasury, s.Split.Dev, s.Dust)
	if err != nil {
		return false
	}
	rhs, err := s.TotalPool.Add(s.Subsidy)
	if err != nil {
		return false
	}
	return lhs == rhs
}

// ExchangeSettlement distributes the exchange collateral to holders of
// winning outcome tokens, including LPs' claim on the winning reserve.
type ExchangeSettlement struct {
	Collateral ledger.Amount            `json:"collateral"`
	Voided     bool                     `json:"voided"`
	Dust       ledger.Amount            `json:"dust"`
	Payouts    map[string]ledger.Amount `json:"payouts"`
}

// Conserved reports payouts + dust == collateral.
func (s ExchangeSettlement) Conserved() bool {
	paid, err := sumPayouts(s.Payouts)
	if err != nil {
		return false
	}
	total, err := paid.Add(s.Dust)
	return err == nil && total == s.Collateral
}

// ConsensusSettlement is the payout map of the crowd-right/crowd-wrong layer.
type ConsensusSettlement struct {
	CrowdOutcome  int                      `json:"crowd_outcome"`
	CrowdWasRight bool                     `json:"crowd_was_right"`
	Voided        bool                     `json:"voided"`
	TotalPool     ledger.Amount            `json:"total_pool"`
	Split         ledger.Split             `json:"split"`
	Dust          ledger.Amount            `json:"dust"`
	BonusSubsidy  ledger.Amount            `json:"bonus_subsidy"`
	Payouts       map[string]ledger.Amount `json:"payouts"`
	Profiles      []ProfileDelta           `json:"profiles,omitempty"`
}

// Conserved reports payouts + treasury + dev + dust == pool + bonus subsidy.
func (s ConsensusSettlement) Conserved() bool {
	paid, err := sumPayouts(s.Payouts)
	if err != nil {
		return false
	}
	if s.Voided {
		return paid == s.TotalPool
	}
	lhs, err := ledger.Sum(paid, s.Split.Treasury, s.Split.Dev, s.Dust)
	if err != nil {
		return false
	}
	rhs, err := s.TotalPool.Add(s.BonusSubsidy)
	return err == nil && lhs == rhs
}

// ProfileDelta is one psychic-score adjustment produced by a consensus
// settlement.
type ProfileDelta struct {
	Address    string `json:"address"`
	ScoreDelta int    `json:"score_delta"`
	Contrarian bool   `json:"contrarian"`
	Correct    bool   `json:"correct"`
}

func sumPayouts(m map[string]ledger.Amount) (ledger.Amount, error) {
	var total ledger.Amount
	for _, v := range m {
		next, err := total.Add(v)
		if err != nil {
			return 0, err
		}
		total = next
	}
	return total, nil
}
