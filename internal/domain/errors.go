package domain

import (
	"errors"

	"github.com/alanyoungcy/narrativebet/internal/ledger"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrLockHeld      = errors.New("lock already held")
	ErrSeqConflict   = errors.New("event sequence conflict")
)

// Validation errors: rejected before any state change, safe to retry with
// corrected input.
var (
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInvalidSelection   = errors.New("invalid selection")
	ErrIdenticalOutcome   = errors.New("identical outcome")
	ErrSlippageExceeded   = errors.New("slippage exceeded")
	ErrInvalidHorizon     = errors.New("invalid horizon")
	ErrInvalidMarket      = errors.New("invalid market definition")
	ErrInvalidAddress     = errors.New("invalid address")
	ErrInsufficientFunds  = errors.New("insufficient balance")
	ErrInsufficientLiquid = errors.New("insufficient liquidity")
	ErrNotQualified       = errors.New("voter not qualified")
)

// State errors: the caller's view of the market is stale.
var (
	ErrMarketClosed      = errors.New("market closed")
	ErrMarketLocked      = errors.New("market locked")
	ErrAlreadyResolved   = errors.New("market already resolved")
	ErrNotLocked         = errors.New("market not locked")
	ErrAlreadyClaimed    = errors.New("already claimed")
	ErrNothingToClaim    = errors.New("nothing to claim")
	ErrNotResolved       = errors.New("market not resolved")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotDisputed       = errors.New("market not disputed")
	ErrAlreadyVoted      = errors.New("already voted")
	ErrWindowClosed      = errors.New("dispute window closed")
)

// Oracle errors: never fail a market, they move it to DISPUTED.
var (
	ErrOracleUnavailable   = errors.New("oracle unavailable")
	ErrOracleLowConfidence = errors.New("oracle confidence below threshold")
)

// ErrorClass groups errors by how callers should react to them.
type ErrorClass string

const (
	ClassValidation ErrorClass = "validation"
	ClassState      ErrorClass = "state"
	ClassOracle     ErrorClass = "oracle"
	ClassArithmetic ErrorClass = "arithmetic"
	ClassNotFound   ErrorClass = "not_found"
	ClassAuth       ErrorClass = "auth"
	ClassInternal   ErrorClass = "internal"
)

var classes = []struct {
	class ErrorClass
	errs  []error
}{
	{ClassValidation, []error{
		ErrInvalidAmount, ErrInvalidSelection, ErrIdenticalOutcome, ErrSlippageExceeded,
		ErrInvalidHorizon, ErrInvalidMarket, ErrInvalidAddress, ErrInsufficientFunds,
		ErrInsufficientLiquid, ErrNotQualified,
	}},
	{ClassState, []error{
		ErrMarketClosed, ErrMarketLocked, ErrAlreadyResolved, ErrNotLocked, ErrAlreadyClaimed,
		ErrNothingToClaim, ErrNotResolved, ErrInvalidTransition, ErrNotDisputed, ErrAlreadyVoted,
		ErrWindowClosed, ErrAlreadyExists, ErrLockHeld, ErrSeqConflict,
	}},
	{ClassOracle, []error{ErrOracleUnavailable, ErrOracleLowConfidence}},
	{ClassArithmetic, []error{
		ledger.ErrOverflow, ledger.ErrNegativeAmount, ledger.ErrDivideByZero, ledger.ErrPrecision,
	}},
	{ClassNotFound, []error{ErrNotFound}},
	{ClassAuth, []error{ErrUnauthorized, ErrRateLimited}},
}

// Classify maps err onto its class. Unknown errors are internal.
func Classify(err error) ErrorClass {
	for _, c := range classes {
		for _, target := range c.errs {
			if errors.Is(err, target) {
				return c.class
			}
		}
	}
	return ClassInternal
}
