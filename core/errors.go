package core

import (
	"errors"
)

// Kind classifies why an operation was rejected.
type Kind int

const (
	KindUnknown Kind = iota
	// KindPrecondition covers wrong caller, wrong lifecycle state and timing violations.
	KindPrecondition
	// KindValue covers amounts and recipients that fail validation.
	KindValue
	// KindState covers requests that conflict with the caller's current standing.
	KindState
	// KindTransfer covers outbound value movement rejected by the recipient or runtime.
	KindTransfer
)

func (k Kind) String() string {
	switch k {
	case KindPrecondition:
		return "precondition"
	case KindValue:
		return "value"
	case KindState:
		return "state"
	case KindTransfer:
		return "transfer"
	default:
		return "unknown"
	}
}

// Error is a rejection reason. Every rejection returned by the engine wraps exactly one of
// the sentinel values below, so callers can match with errors.Is.
type Error struct {
	Kind Kind
	Code string
	msg  string
}

func (e *Error) Error() string { return e.msg }

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, msg: msg}
}

var (
	ErrNotOwner            = newError(KindPrecondition, "not_owner", "caller is not the auction owner")
	ErrAuctionClosed       = newError(KindPrecondition, "auction_closed", "auction is closed for bidding")
	ErrNotYetEndable       = newError(KindPrecondition, "not_yet_endable", "auction end time has not been reached")
	ErrAlreadyEnded        = newError(KindPrecondition, "already_ended", "auction has already ended")
	ErrNotEnded            = newError(KindPrecondition, "not_ended", "auction has not ended yet")
	ErrInvalidDuration     = newError(KindPrecondition, "invalid_duration", "auction duration must be positive")
	ErrZeroBid             = newError(KindValue, "zero_bid", "bid value must be greater than zero")
	ErrBidTooLow           = newError(KindValue, "bid_too_low", "bid is below the minimum increment")
	ErrZeroAmount          = newError(KindValue, "zero_amount", "amount must be greater than zero")
	ErrInsufficientFunds   = newError(KindValue, "insufficient_funds", "amount exceeds the bidder's balance")
	ErrInvalidAmount       = newError(KindValue, "invalid_amount", "amount is zero or exceeds the contract balance")
	ErrInvalidRecipient    = newError(KindValue, "invalid_recipient", "recipient is the zero address")
	ErrWinnerNotRefundable = newError(KindState, "winner_not_refundable", "the winning bidder cannot be refunded")
	ErrNothingToRefund     = newError(KindState, "nothing_to_refund", "no funds held for caller")
	ErrLeaderLocked        = newError(KindState, "leader_locked", "the leading bidder cannot withdraw while the auction is open")
	ErrTransferFailed      = newError(KindTransfer, "transfer_failed", "value transfer failed")
	ErrDirectPayment       = newError(KindPrecondition, "direct_payment", "direct payments rejected: use place_bid")
)

// KindOf reports the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// CodeOf reports the stable code of the first *Error in err's chain, or "internal".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "internal"
}
