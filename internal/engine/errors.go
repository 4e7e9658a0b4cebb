package engine

import (
	"errors"
	"fmt"
)

// Sentinel failures. Every rejected mutation leaves stored state untouched;
// retry policy belongs to the caller.
var (
	ErrAlreadyAwarded = errors.New("load already awarded")
	ErrNotAwarded     = errors.New("load is not awarded")
	ErrInvoiceClosed  = errors.New("invoice is closed")
	ErrLoadClosed     = errors.New("load is closed")
	ErrNotVerified    = errors.New("party is not verified")
	ErrPriceLocked    = errors.New("price is locked")
	ErrPriceNotLocked = errors.New("price is not locked")
	ErrBidNotOpen     = errors.New("bid is not open for negotiation")
	ErrNotInvited     = errors.New("carrier is not invited to this load")
)

// IllegalTransitionError reports a target state not reachable from the
// current one. It is always rejected, never coerced.
type IllegalTransitionError struct {
	Entity string
	From   string
	To     string
}

func (e IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal %s transition %s -> %s", e.Entity, e.From, e.To)
}

// ConcurrencyConflictError reports a stale version on an optimistic write.
// The caller must re-read and retry; the engine never merges.
type ConcurrencyConflictError struct {
	Entity   string
	ID       string
	Expected int
	Current  int
}

func (e ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("%s %s version conflict: expected %d, current %d", e.Entity, e.ID, e.Expected, e.Current)
}

// InsufficientPaymentError rejects partial payments; no partial-paid state
// exists.
type InsufficientPaymentError struct {
	InvoiceID string
	Want      int64
	Got       int64
}

func (e InsufficientPaymentError) Error() string {
	return fmt.Sprintf("insufficient payment for invoice %s: want %d, got %d", e.InvoiceID, e.Want, e.Got)
}

// ForbiddenError reports a role check failure on an operation.
type ForbiddenError struct {
	Role string
	Op   string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("role %s may not perform %s", e.Role, e.Op)
}
