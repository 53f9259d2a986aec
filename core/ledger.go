package core

import (
	"iter"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Bid is the ledger entry kept for an address that has bid at least once.
type Bid struct {
	// Amount is the value currently held on the bidder's behalf, net of withdrawals.
	Amount         uint256.Int
	LastUpdateTime time.Time
	// IsActive is cleared once the bidder has been refunded.
	IsActive bool
}

// BidLedger tracks per-bidder balances and the order in which bidders first appeared.
// It performs no validation beyond balance sufficiency; the engine validates timing and value.
type BidLedger struct {
	bids   map[common.Address]*Bid
	roster []common.Address
}

func NewBidLedger() *BidLedger {
	return &BidLedger{
		bids:   make(map[common.Address]*Bid),
		roster: make([]common.Address, 0),
	}
}

// RecordBid credits value to addr, appending addr to the roster on its first bid.
func (l *BidLedger) RecordBid(addr common.Address, value *uint256.Int, now time.Time) {
	bid, ok := l.bids[addr]
	if !ok {
		bid = &Bid{}
		l.bids[addr] = bid
		l.roster = append(l.roster, addr)
	}
	bid.Amount.Add(&bid.Amount, value)
	bid.LastUpdateTime = now
	bid.IsActive = true
}

// Withdraw debits amount from addr's balance. The active flag is left alone.
func (l *BidLedger) Withdraw(addr common.Address, amount *uint256.Int) error {
	bid, ok := l.bids[addr]
	if !ok || amount.Gt(&bid.Amount) {
		return ErrInsufficientFunds
	}
	bid.Amount.Sub(&bid.Amount, amount)
	return nil
}

// Refund clears addr's balance, marks it inactive and returns what was cleared.
func (l *BidLedger) Refund(addr common.Address) (*uint256.Int, error) {
	bid, ok := l.bids[addr]
	if !ok || bid.Amount.IsZero() {
		return nil, ErrNothingToRefund
	}
	cleared := new(uint256.Int).Set(&bid.Amount)
	bid.Amount.Clear()
	bid.IsActive = false
	return cleared, nil
}

// BalanceOf returns a copy of addr's balance; zero for unknown addresses.
func (l *BidLedger) BalanceOf(addr common.Address) *uint256.Int {
	bid, ok := l.bids[addr]
	if !ok {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(&bid.Amount)
}

// Get returns a copy of addr's entry.
func (l *BidLedger) Get(addr common.Address) (Bid, bool) {
	bid, ok := l.bids[addr]
	if !ok {
		return Bid{}, false
	}
	return *bid, true
}

// Len is the number of distinct bidders.
func (l *BidLedger) Len() int { return len(l.roster) }

// Snapshot yields (address, balance) pairs in roster order. Each call starts a fresh
// enumeration; the yielded amounts are copies.
func (l *BidLedger) Snapshot() iter.Seq2[common.Address, *uint256.Int] {
	return func(yield func(common.Address, *uint256.Int) bool) {
		for _, addr := range l.roster {
			if !yield(addr, new(uint256.Int).Set(&l.bids[addr].Amount)) {
				return
			}
		}
	}
}

func (l *BidLedger) clone() *BidLedger {
	c := &BidLedger{
		bids:   make(map[common.Address]*Bid, len(l.bids)),
		roster: make([]common.Address, len(l.roster)),
	}
	copy(c.roster, l.roster)
	for addr, bid := range l.bids {
		b := *bid
		c.bids[addr] = &b
	}
	return c
}
