package core

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// EventKind names a notification emitted by a committed operation.
type EventKind string

const (
	EventNewBid              EventKind = "NewBid"
	EventAuctionEnded        EventKind = "AuctionEnded"
	EventRefundIssued        EventKind = "RefundIssued"
	EventPartialWithdrawal   EventKind = "PartialWithdrawal"
	EventEmergencyWithdrawal EventKind = "EmergencyWithdrawal"
)

// Event carries the two fields every notification has: the address it concerns (bidder,
// winner or recipient depending on Kind) and an amount in wei.
type Event struct {
	Kind    EventKind
	Subject common.Address
	Amount  uint256.Int
}

func newEvent(kind EventKind, subject common.Address, amount *uint256.Int) Event {
	ev := Event{Kind: kind, Subject: subject}
	ev.Amount.Set(amount)
	return ev
}

func (e Event) String() string {
	return fmt.Sprintf("%s(%s, %s)", e.Kind, e.Subject.Hex(), FormatEther(&e.Amount))
}

// EventLog receives events of committed operations, in commit order.
type EventLog interface {
	Append(ev Event)
}

type discardLog struct{}

func (discardLog) Append(Event) {}
