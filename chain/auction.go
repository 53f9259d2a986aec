package chain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/cloudx-io/englishauction/core"
)

type Status int

const (
	StatusReverted Status = iota
	StatusCommitted
)

func (s Status) String() string {
	if s == StatusCommitted {
		return "committed"
	}
	return "reverted"
}

// Receipt describes the outcome of one top-level transaction.
type Receipt struct {
	TxID   uuid.UUID
	At     time.Time
	Status Status
	Err    error
	Events []Entry
}

// Tx is the running transaction. Receivers use it to make nested calls; each nested call
// is atomic on its own, so a receiver can recover from a failed call and carry on.
type Tx struct {
	ID   uuid.UUID
	At   time.Time
	host *Host
	done bool
}

func (t *Tx) nested(fn func() error) error {
	if t.done {
		return ErrTxClosed
	}
	m := t.host.mark()
	if err := fn(); err != nil {
		t.host.revertTo(m)
		return err
	}
	return nil
}

// PlaceBid moves value from the caller into the contract and bids it.
func (t *Tx) PlaceBid(a *Auction, from common.Address, value *uint256.Int) error {
	return t.nested(func() error {
		if err := t.host.move(from, a.addr, value); err != nil {
			return err
		}
		return a.engine.PlaceBid(from, value, t.At)
	})
}

func (t *Tx) EndAuction(a *Auction, from common.Address) error {
	return t.nested(func() error { return a.engine.EndAuction(from, t.At) })
}

func (t *Tx) GetRefund(a *Auction, from common.Address) error {
	return t.nested(func() error { return a.engine.GetRefund(from) })
}

func (t *Tx) WithdrawPartial(a *Auction, from common.Address, amount *uint256.Int) error {
	return t.nested(func() error { return a.engine.WithdrawPartial(from, amount) })
}

func (t *Tx) EmergencyWithdraw(a *Auction, from, to common.Address, amount *uint256.Int) error {
	return t.nested(func() error { return a.engine.EmergencyWithdraw(from, to, amount) })
}

// Send pays value to the contract outside of PlaceBid.
func (t *Tx) Send(a *Auction, from common.Address, value *uint256.Int) error {
	return t.nested(func() error { return t.host.transfer(from, a.addr, value) })
}

// Auction is a deployed auction contract. Mutating calls run as transactions on the host;
// reads take the host lock and see committed state only.
type Auction struct {
	host   *Host
	addr   common.Address
	engine *core.Engine
}

func (a *Auction) Address() common.Address { return a.addr }

func (a *Auction) PlaceBid(from common.Address, value *uint256.Int) (Receipt, error) {
	return a.host.execute("place_bid", func(tx *Tx) error { return tx.PlaceBid(a, from, value) })
}

func (a *Auction) EndAuction(from common.Address) (Receipt, error) {
	return a.host.execute("end_auction", func(tx *Tx) error { return tx.EndAuction(a, from) })
}

func (a *Auction) GetRefund(from common.Address) (Receipt, error) {
	return a.host.execute("get_refund", func(tx *Tx) error { return tx.GetRefund(a, from) })
}

func (a *Auction) WithdrawPartial(from common.Address, amount *uint256.Int) (Receipt, error) {
	return a.host.execute("withdraw_partial", func(tx *Tx) error { return tx.WithdrawPartial(a, from, amount) })
}

func (a *Auction) EmergencyWithdraw(from, to common.Address, amount *uint256.Int) (Receipt, error) {
	return a.host.execute("emergency_withdraw", func(tx *Tx) error { return tx.EmergencyWithdraw(a, from, to, amount) })
}

// Send is a plain payment to the contract. The contract rejects it and the value stays
// with the sender.
func (a *Auction) Send(from common.Address, value *uint256.Int) (Receipt, error) {
	return a.host.execute("send", func(tx *Tx) error { return tx.Send(a, from, value) })
}

func (a *Auction) GetBids() ([]common.Address, []*uint256.Int) {
	a.host.mu.Lock()
	defer a.host.mu.Unlock()
	return a.engine.GetBids()
}

func (a *Auction) GetTimeLeft() time.Duration {
	a.host.mu.Lock()
	defer a.host.mu.Unlock()
	return a.engine.TimeLeft(a.host.clock.Now())
}

// State is a consistent read of the auction's public fields.
type State struct {
	Address       common.Address
	Owner         common.Address
	HighestBidder common.Address
	HighestBid    *uint256.Int
	EndTime       time.Time
	Ended         bool
	Phase         core.Phase
	Balance       *uint256.Int
}

func (a *Auction) State() State {
	a.host.mu.Lock()
	defer a.host.mu.Unlock()
	return State{
		Address:       a.addr,
		Owner:         a.engine.Owner(),
		HighestBidder: a.engine.HighestBidder(),
		HighestBid:    a.engine.HighestBid(),
		EndTime:       a.engine.EndTime(),
		Ended:         a.engine.Ended(),
		Phase:         a.engine.Phase(a.host.clock.Now()),
		Balance:       new(uint256.Int).Set(a.host.balance(a.addr)),
	}
}

// BidOf is the ledger entry the contract keeps for addr.
func (a *Auction) BidOf(addr common.Address) (core.Bid, bool) {
	a.host.mu.Lock()
	defer a.host.mu.Unlock()
	return a.engine.Bid(addr)
}
