package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/alanyoungcy/narrativebet/internal/domain"
	"github.com/alanyoungcy/narrativebet/internal/ledger"
	"github.com/alanyoungcy/narrativebet/internal/parimutuel"
	"github.com/alanyoungcy/narrativebet/internal/suspicion"
	"github.com/alanyoungcy/narrativebet/internal/temporal"
)

// BetRequest places a stake on a parimutuel or consensus market. The
// external ledger has already escrowed Amount. RequestID, when set, makes
// retries return the original bet.
type BetRequest struct {
	MarketID  string
	Bettor    string
	Selection []int
	Type      domain.BetType
	Amount    ledger.Amount
	RequestID string
}

// TemporalBetRequest stakes on YES or NO of a temporal market.
type TemporalBetRequest struct {
	MarketID  string
	Bettor    string
	Yes       bool
	Amount    ledger.Amount
	RequestID string
}

// ConsensusRequest stakes on whether the crowd favourite will win.
type ConsensusRequest struct {
	MarketID          string
	Bettor            string
	PredictCrowdRight bool
	Amount            ledger.Amount
}

func checkBettor(addr string) error {
	if strings.TrimSpace(addr) == "" {
		return fmt.Errorf("engine: empty address: %w", domain.ErrInvalidAddress)
	}
	return nil
}

func limitsOf(m domain.Market) parimutuel.Limits {
	return parimutuel.Limits{Min: m.MinBet, Max: m.MaxBet}
}

// PlaceBet validates and records a bet.
func (e *Engine) PlaceBet(ctx context.Context, req BetRequest) (domain.Bet, error) {
	if err := checkBettor(req.Bettor); err != nil {
		return domain.Bet{}, err
	}
	m, err := e.market(ctx, req.MarketID)
	if err != nil {
		return domain.Bet{}, err
	}
	unlock, err := e.lock(ctx, m)
	if err != nil {
		return domain.Bet{}, err
	}
	defer unlock()

	s := m.state
	if prior, ok := e.replayed(s, req.Bettor, req.RequestID); ok {
		return prior, nil
	}
	if s.Market.Kind == domain.MarketKindTemporal {
		return domain.Bet{}, fmt.Errorf("engine: market %s is temporal: %w", req.MarketID, domain.ErrInvalidMarket)
	}
	now := e.now().UTC()
	if err := s.Market.CheckOpen(now); err != nil {
		return domain.Bet{}, fmt.Errorf("engine: place bet on %s: %w", req.MarketID, err)
	}
	if req.Type == "" {
		req.Type = domain.BetSingle
	}
	bet := domain.Bet{
		ID:        uuid.NewString(),
		MarketID:  req.MarketID,
		Bettor:    req.Bettor,
		Selection: append([]int(nil), req.Selection...),
		Type:      req.Type,
		Amount:    req.Amount,
		PlacedAt:  now,
	}
	if err := s.Pool.ValidateBet(bet, limitsOf(s.Market), e.cfg.Parimutuel.Teasers); err != nil {
		return domain.Bet{}, err
	}
	bet.SuspicionScore = e.score(s, bet)

	if _, err := e.commit(ctx, m, domain.BetPlaced{Bet: bet}); err != nil {
		return domain.Bet{}, err
	}
	e.requests.remember(requestKey(req.Bettor, req.RequestID), req.MarketID, bet.ID)
	e.logger.InfoContext(ctx, "engine: bet placed",
		slog.String("market_id", req.MarketID),
		slog.String("bet_id", bet.ID),
		slog.String("type", string(bet.Type)),
		slog.String("amount", bet.Amount.String()),
		slog.Int("suspicion", bet.SuspicionScore),
	)
	return bet, nil
}

// PlaceTemporalBet records a YES/NO stake and locks the multiplier for the
// horizon remaining at the current chapter.
func (e *Engine) PlaceTemporalBet(ctx context.Context, req TemporalBetRequest) (domain.Bet, error) {
	if err := checkBettor(req.Bettor); err != nil {
		return domain.Bet{}, err
	}
	m, err := e.market(ctx, req.MarketID)
	if err != nil {
		return domain.Bet{}, err
	}
	unlock, err := e.lock(ctx, m)
	if err != nil {
		return domain.Bet{}, err
	}
	defer unlock()

	s := m.state
	if prior, ok := e.replayed(s, req.Bettor, req.RequestID); ok {
		return prior, nil
	}
	if s.Market.Kind != domain.MarketKindTemporal {
		return domain.Bet{}, fmt.Errorf("engine: market %s is not temporal: %w", req.MarketID, domain.ErrInvalidMarket)
	}
	now := e.now().UTC()
	if err := s.Market.CheckOpen(now); err != nil {
		return domain.Bet{}, fmt.Errorf("engine: temporal bet on %s: %w", req.MarketID, err)
	}
	bet := temporal.NewBet(s.Market, e.Chapter(), req.Bettor, req.Yes, req.Amount)
	bet.ID = uuid.NewString()
	bet.PlacedAt = now
	if err := s.Pool.ValidateBet(bet, limitsOf(s.Market), nil); err != nil {
		return domain.Bet{}, err
	}
	bet.SuspicionScore = e.score(s, bet)

	if _, err := e.commit(ctx, m, domain.TemporalBetPlaced{Bet: bet}); err != nil {
		return domain.Bet{}, err
	}
	e.requests.remember(requestKey(req.Bettor, req.RequestID), req.MarketID, bet.ID)
	e.logger.InfoContext(ctx, "engine: temporal bet placed",
		slog.String("market_id", req.MarketID),
		slog.String("bet_id", bet.ID),
		slog.Bool("yes", req.Yes),
		slog.Int64("multiplier_bps", bet.LockedMultiplierBps),
	)
	return bet, nil
}

func requestKey(bettor, requestID string) string {
	if requestID == "" {
		return ""
	}
	return bettor + ":" + requestID
}

// replayed returns the bet an earlier request with the same id created.
func (e *Engine) replayed(s *marketState, bettor, requestID string) (domain.Bet, bool) {
	c, ok := e.requests.lookup(requestKey(bettor, requestID))
	if !ok || c.marketID != s.Market.ID {
		return domain.Bet{}, false
	}
	for _, b := range s.Pool.Bets {
		if b.ID == c.betID {
			return b, true
		}
	}
	return domain.Bet{}, false
}

// score rates bet against the pool before it is applied. The result is
// advisory and only stored on the bet.
func (e *Engine) score(s *marketState, bet domain.Bet) int {
	active := s.Pool.ActiveBets()
	median := medianStake(active)
	large := false
	if median > 0 {
		for _, b := range active {
			if b.Bettor == bet.Bettor && int64(b.Amount) >= int64(median)*e.cfg.Suspicion.LargeMultiple {
				large = true
				break
			}
		}
	}

	e.flagsMu.Lock()
	prior := e.flags[bet.Bettor]
	e.flagsMu.Unlock()

	score, signals := suspicion.Score(suspicion.Input{
		Bet:            bet,
		PlacedAt:       bet.PlacedAt,
		Deadline:       s.Market.DeadlineAt,
		CrowdOutcome:   s.Pool.CrowdOutcome(),
		ImpliedProbBps: s.Pool.ImpliedProbBps(bet.Selection[0]),
		MedianStake:    median,
		PriorFlags:     prior,
		HasLargeStake:  large,
	}, e.cfg.Suspicion)
	if score >= e.cfg.Suspicion.FlagThreshold {
		e.flag(bet.Bettor)
		e.logger.Warn("engine: bet flagged",
			slog.String("market_id", bet.MarketID),
			slog.String("bettor", bet.Bettor),
			slog.Int("score", score),
			slog.Any("signals", signals),
		)
	}
	return score
}

func (e *Engine) flag(bettor string) {
	e.flagsMu.Lock()
	e.flags[bettor]++
	e.flagsMu.Unlock()
}

func medianStake(bets []domain.Bet) ledger.Amount {
	if len(bets) == 0 {
		return 0
	}
	amounts := make([]ledger.Amount, len(bets))
	for i, b := range bets {
		amounts[i] = b.Amount
	}
	sort.Slice(amounts, func(i, j int) bool { return amounts[i] < amounts[j] })
	return amounts[len(amounts)/2]
}

// CancelBet withdraws an active bet while the market is still OPEN.
func (e *Engine) CancelBet(ctx context.Context, marketID, betID, bettor string) (domain.Bet, error) {
	m, err := e.market(ctx, marketID)
	if err != nil {
		return domain.Bet{}, err
	}
	unlock, err := e.lock(ctx, m)
	if err != nil {
		return domain.Bet{}, err
	}
	defer unlock()

	s := m.state
	if s.Market.Status != domain.MarketStatusOpen {
		return domain.Bet{}, fmt.Errorf("engine: cancel on %s: %w", marketID, s.Market.CheckOpen(e.now()))
	}
	bet, err := s.Pool.FindActive(betID, bettor)
	if err != nil {
		return domain.Bet{}, err
	}
	if _, err := e.commit(ctx, m, domain.BetCancelled{BetID: betID, Bettor: bettor}); err != nil {
		return domain.Bet{}, err
	}
	bet.Cancelled = true
	e.logger.InfoContext(ctx, "engine: bet cancelled",
		slog.String("market_id", marketID),
		slog.String("bet_id", betID),
	)
	return bet, nil
}

// BetOnConsensus stakes on the consensus layer of a CONSENSUS market.
func (e *Engine) BetOnConsensus(ctx context.Context, req ConsensusRequest) (domain.ConsensusStake, error) {
	if err := checkBettor(req.Bettor); err != nil {
		return domain.ConsensusStake{}, err
	}
	m, err := e.market(ctx, req.MarketID)
	if err != nil {
		return domain.ConsensusStake{}, err
	}
	unlock, err := e.lock(ctx, m)
	if err != nil {
		return domain.ConsensusStake{}, err
	}
	defer unlock()

	s := m.state
	if s.Consensus == nil {
		return domain.ConsensusStake{}, fmt.Errorf("engine: market %s has no consensus layer: %w", req.MarketID, domain.ErrInvalidMarket)
	}
	now := e.now().UTC()
	if err := s.Market.CheckOpen(now); err != nil {
		return domain.ConsensusStake{}, fmt.Errorf("engine: consensus bet on %s: %w", req.MarketID, err)
	}
	stake := domain.ConsensusStake{
		ID:                uuid.NewString(),
		Bettor:            req.Bettor,
		PredictCrowdRight: req.PredictCrowdRight,
		Amount:            req.Amount,
		PlacedAt:          now,
	}
	if err := s.Consensus.Validate(stake, s.Market.MinBet, s.Market.MaxBet); err != nil {
		return domain.ConsensusStake{}, err
	}
	if _, err := e.commit(ctx, m, domain.ConsensusBetPlaced{Stake: stake}); err != nil {
		return domain.ConsensusStake{}, err
	}
	e.logger.InfoContext(ctx, "engine: consensus bet placed",
		slog.String("market_id", req.MarketID),
		slog.Bool("crowd_right", req.PredictCrowdRight),
		slog.String("amount", req.Amount.String()),
	)
	return stake, nil
}
