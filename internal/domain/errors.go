package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyInitialized  = errors.New("market already initialized")
	ErrInvalidDeadline     = errors.New("deadline must be in the future")
	ErrInvalidStake        = errors.New("stake must be positive")
	ErrBettingClosed       = errors.New("betting closed")
	ErrAlreadyPositioned   = errors.New("participant already holds a position")
	ErrWrongAmount         = errors.New("amount does not match the side's stake")
	ErrTooEarly            = errors.New("deadline has not passed")
	ErrAlreadyResolved     = errors.New("market already resolved")
	ErrInvalidClaimSet     = errors.New("invalid claim set")
	ErrEmptyWinnerSet      = errors.New("empty winner set")
	ErrAlreadyClaimed      = errors.New("position already claimed")
	ErrInsufficientCustody = errors.New("payout exceeds custodied balance")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrRateLimited         = errors.New("rate limited")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrLockHeld            = errors.New("lock already held")
)
