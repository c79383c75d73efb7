package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrAlreadyResolved    = errors.New("market already resolved")
	ErrNotResolved        = errors.New("market not resolved")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInvalidSide        = errors.New("invalid side")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrInvalidDeadline    = errors.New("invalid deadline")
	ErrDescriptionLen     = errors.New("description too long")
	ErrDeadlinePassed     = errors.New("deadline has passed")
	ErrDeadlineNotReached = errors.New("deadline not reached")
	ErrAlreadyClaimed     = errors.New("already claimed")
	ErrNothingToClaim     = errors.New("no winning tokens to claim")
	ErrSettlementFailed   = errors.New("settlement failed")
	ErrRateLimited        = errors.New("rate limited")
	ErrLockHeld           = errors.New("lock already held")
)

// ErrNoPosition is a NotFound for a (market, user) pair without a position.
var ErrNoPosition = fmt.Errorf("position %w", ErrNotFound)

// kinds is ordered so the most specific sentinel wins.
var kinds = []struct {
	err  error
	code string
}{
	{ErrNoPosition, "no_position"},
	{ErrNotFound, "not_found"},
	{ErrAlreadyExists, "already_exists"},
	{ErrAlreadyResolved, "already_resolved"},
	{ErrNotResolved, "not_resolved"},
	{ErrUnauthorized, "unauthorized"},
	{ErrInvalidAmount, "invalid_amount"},
	{ErrInvalidSide, "invalid_side"},
	{ErrInvalidRequest, "invalid_request"},
	{ErrInvalidDeadline, "invalid_deadline"},
	{ErrDescriptionLen, "description_too_long"},
	{ErrDeadlinePassed, "deadline_passed"},
	{ErrDeadlineNotReached, "deadline_not_reached"},
	{ErrAlreadyClaimed, "already_claimed"},
	{ErrNothingToClaim, "nothing_to_claim"},
	{ErrSettlementFailed, "settlement_failed"},
	{ErrRateLimited, "rate_limited"},
	{ErrLockHeld, "lock_held"},
}

// Kind returns the stable code of the first taxonomy sentinel err wraps, or
// "internal" when it wraps none.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.code
		}
	}
	return "internal"
}
