package auctionapi

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/cloudx-io/englishauction/chain"
	"github.com/cloudx-io/englishauction/core"
)

// Request types accepted by the auction daemon
const (
	TypePing              = "ping"
	TypePlaceBid          = "place_bid"
	TypeEndAuction        = "end_auction"
	TypeGetRefund         = "get_refund"
	TypeWithdrawPartial   = "withdraw_partial"
	TypeEmergencyWithdraw = "emergency_withdraw"
	TypeSend              = "send"
	TypeGetBids           = "get_bids"
	TypeGetTimeLeft       = "get_time_left"
	TypeGetState          = "get_state"
)

var (
	ErrInvalidAddress = errors.New("invalid address")
	ErrInvalidValue   = errors.New("invalid amount")
)

// Request is a single call against the deployed auction. The caller is whoever From names;
// the daemon does not authenticate it.
type Request struct {
	Type        string `json:"type"`
	From        string `json:"from,omitempty"`         // Hex address of the caller
	To          string `json:"to,omitempty"`           // Recipient for emergency_withdraw
	Amount      string `json:"amount,omitempty"`       // Wei as a base-10 string
	AmountEther string `json:"amount_ether,omitempty"` // Alternative to Amount, e.g. "1.05"
}

func parseAddress(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %s %q", ErrInvalidAddress, field, s)
	}
	return common.HexToAddress(s), nil
}

func (r Request) Caller() (common.Address, error) { return parseAddress("from", r.From) }

func (r Request) Recipient() (common.Address, error) { return parseAddress("to", r.To) }

// Value is the amount the request carries, from Amount if set and AmountEther otherwise.
func (r Request) Value() (*uint256.Int, error) {
	var (
		v   *uint256.Int
		err error
	)
	switch {
	case r.Amount != "":
		v, err = core.ParseWei(r.Amount)
	case r.AmountEther != "":
		v, err = core.ParseEther(r.AmountEther)
	default:
		return nil, fmt.Errorf("%w: amount is required", ErrInvalidValue)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidValue, err)
	}
	return v, nil
}

// Event is a committed auction event as reported to clients
type Event struct {
	Kind        string `json:"kind"`
	Subject     string `json:"subject"`
	AmountWei   string `json:"amount_wei"`
	AmountEther string `json:"amount_ether"`
}

func NewEvent(ev core.Event) Event {
	return Event{
		Kind:        string(ev.Kind),
		Subject:     ev.Subject.Hex(),
		AmountWei:   ev.Amount.ToBig().String(),
		AmountEther: core.FormatEther(&ev.Amount),
	}
}

// Bid is one ledger entry in a get_bids response
type Bid struct {
	Bidder      string `json:"bidder"`
	AmountWei   string `json:"amount_wei"`
	AmountEther string `json:"amount_ether"`
}

// AuctionState is the public state of the auction at the time of the request
type AuctionState struct {
	Contract      string `json:"contract"`
	Owner         string `json:"owner"`
	HighestBidder string `json:"highest_bidder"`
	HighestBidWei string `json:"highest_bid_wei"`
	EndTime       int64  `json:"end_time"`
	Ended         bool   `json:"ended"`
	Phase         string `json:"phase"`
	BalanceWei    string `json:"balance_wei"`
}

func NewAuctionState(s chain.State) *AuctionState {
	return &AuctionState{
		Contract:      s.Address.Hex(),
		Owner:         s.Owner.Hex(),
		HighestBidder: s.HighestBidder.Hex(),
		HighestBidWei: s.HighestBid.ToBig().String(),
		EndTime:       s.EndTime.Unix(),
		Ended:         s.Ended,
		Phase:         s.Phase.String(),
		BalanceWei:    s.Balance.ToBig().String(),
	}
}

// EnvelopeBase64 is a COSE_Sign1 event envelope encoded for JSON transport
type EnvelopeBase64 string

func EncodeEnvelope(envelope []byte) EnvelopeBase64 {
	return EnvelopeBase64(base64.StdEncoding.EncodeToString(envelope))
}

func (e EnvelopeBase64) Decode() ([]byte, error) {
	return base64.StdEncoding.DecodeString(string(e))
}

// Response is the daemon's answer to one Request
type Response struct {
	Type            string           `json:"type"`
	Success         bool             `json:"success"`
	Message         string           `json:"message,omitempty"`
	Code            string           `json:"code,omitempty"`       // Stable rejection code, e.g. "bid_too_low"
	ErrorKind       string           `json:"error_kind,omitempty"` // precondition, value, state, transfer
	TxID            string           `json:"tx_id,omitempty"`
	Events          []Event          `json:"events,omitempty"`
	Envelopes       []EnvelopeBase64 `json:"envelopes,omitempty"` // Signed records for Events, when signing is enabled
	Bids            []Bid            `json:"bids,omitempty"`
	TimeLeftSeconds *int64           `json:"time_left_seconds,omitempty"`
	State           *AuctionState    `json:"state,omitempty"`
	Timestamp       int64            `json:"timestamp"`
}

// ErrorResponse describes a rejected or malformed request.
func ErrorResponse(reqType string, err error, now time.Time) Response {
	code := core.CodeOf(err)
	switch {
	case errors.Is(err, ErrInvalidAddress):
		code = "invalid_address"
	case errors.Is(err, ErrInvalidValue):
		code = "invalid_value"
	case errors.Is(err, chain.ErrInsufficientBalance):
		code = "insufficient_balance"
	}
	return Response{
		Type:      reqType,
		Success:   false,
		Message:   err.Error(),
		Code:      code,
		ErrorKind: core.KindOf(err).String(),
		Timestamp: now.Unix(),
	}
}
