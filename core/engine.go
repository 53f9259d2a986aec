package core

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"
)

// ExtensionWindow is the trailing window before the deadline in which a bid resets the
// deadline to now + ExtensionWindow.
const ExtensionWindow = 10 * time.Minute

// Runtime is the hosting ledger as seen from the auction contract.
type Runtime interface {
	// Transfer moves amount out of the contract to the recipient. A non-nil error means the
	// transfer did not happen; the runtime may invoke recipient code before returning.
	Transfer(to common.Address, amount *uint256.Int) error
	// Balance is the native balance currently held by the contract.
	Balance() *uint256.Int
}

// Phase is the lifecycle position of the auction at a given time.
type Phase int

const (
	PhaseOpen Phase = iota
	PhaseClosable
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseOpen:
		return "open"
	case PhaseClosable:
		return "closable"
	default:
		return "closed"
	}
}

// Engine is a single English auction: bid validation, anti-snipe extension, settlement,
// refunds, partial withdrawal and owner recovery. It is not safe for concurrent use; the
// host serializes calls.
//
// Every mutating operation is atomic. State is checkpointed on entry and restored when the
// operation fails, and events are only handed to the EventLog once the outermost operation
// has succeeded. All mutations happen before any outbound transfer.
type Engine struct {
	owner         common.Address
	highestBidder common.Address
	highestBid    uint256.Int
	endTime       time.Time
	ended         bool
	ledger        *BidLedger

	runtime Runtime
	events  EventLog
	log     *logrus.Entry

	depth   int
	pending []Event
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithEventLog sets where committed events go. The default discards them.
func WithEventLog(events EventLog) Option {
	return func(e *Engine) {
		if events != nil {
			e.events = events
		}
	}
}

// WithLogger replaces the engine's default logger.
func WithLogger(log *logrus.Entry) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// New opens an auction owned by owner that closes durationMinutes after now.
func New(owner common.Address, durationMinutes int64, now time.Time, runtime Runtime, opts ...Option) (*Engine, error) {
	if durationMinutes <= 0 {
		return nil, ErrInvalidDuration
	}
	e := &Engine{
		owner:   owner,
		endTime: now.Add(time.Duration(durationMinutes) * time.Minute),
		ledger:  NewBidLedger(),
		runtime: runtime,
		events:  discardLog{},
		log: logrus.NewEntry(logrus.New()).WithFields(logrus.Fields{
			"package": "Auction",
		}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log.WithFields(logrus.Fields{
		"owner":   owner.Hex(),
		"endTime": e.endTime.UTC().Format(time.RFC3339),
	}).Info("auction opened")
	return e, nil
}

// PlaceBid accepts value from caller if the auction is open and value clears the minimum
// increment over the current highest bid. The value is recorded in the ledger and becomes
// the new highest bid on its own, regardless of what caller already holds.
func (e *Engine) PlaceBid(caller common.Address, value *uint256.Int, now time.Time) error {
	return e.atomically("place_bid", func() error {
		if e.ended || now.After(e.endTime) {
			return ErrAuctionClosed
		}
		if value.IsZero() {
			return ErrZeroBid
		}
		minBid, overflow := MinimumBid(&e.highestBid)
		if overflow || value.Lt(minBid) {
			return fmt.Errorf("%w: got %s, need at least %s", ErrBidTooLow, FormatEther(value), FormatEther(minBid))
		}

		if e.endTime.Sub(now) <= ExtensionWindow {
			e.endTime = now.Add(ExtensionWindow)
			e.log.WithField("endTime", e.endTime.UTC().Format(time.RFC3339)).Info("deadline extended")
		}

		e.ledger.RecordBid(caller, value, now)
		e.highestBid.Set(value)
		e.highestBidder = caller

		e.emit(newEvent(EventNewBid, caller, value))
		e.log.WithFields(logrus.Fields{
			"bidder": caller.Hex(),
			"amount": FormatEther(value),
		}).Debug("bid accepted")
		return nil
	})
}

// EndAuction closes the auction and settles: the highest bidder is paid the highest bid
// minus the fee, then the owner is paid the fee.
func (e *Engine) EndAuction(caller common.Address, now time.Time) error {
	return e.atomically("end_auction", func() error {
		if caller != e.owner {
			return ErrNotOwner
		}
		if e.ended {
			return ErrAlreadyEnded
		}
		if now.Before(e.endTime) {
			return ErrNotYetEndable
		}

		e.ended = true
		fee, payout := SplitSettlement(&e.highestBid)
		// queued ahead of the transfers so calls made by receivers are logged after it
		e.emit(newEvent(EventAuctionEnded, e.highestBidder, &e.highestBid))

		// winner first, so a failing winner leaves the fee unpaid too
		if err := e.transfer(e.highestBidder, payout); err != nil {
			return err
		}
		if err := e.transfer(e.owner, fee); err != nil {
			return err
		}

		e.log.WithFields(logrus.Fields{
			"winner": e.highestBidder.Hex(),
			"amount": FormatEther(&e.highestBid),
			"fee":    FormatEther(fee),
		}).Info("auction settled")
		return nil
	})
}

// GetRefund returns everything held for a losing bidder once the auction has ended.
func (e *Engine) GetRefund(caller common.Address) error {
	return e.atomically("get_refund", func() error {
		if !e.ended {
			return ErrNotEnded
		}
		if caller == e.highestBidder {
			return ErrWinnerNotRefundable
		}
		amount, err := e.ledger.Refund(caller)
		if err != nil {
			return err
		}
		e.emit(newEvent(EventRefundIssued, caller, amount))
		if err := e.transfer(caller, amount); err != nil {
			return err
		}

		e.log.WithFields(logrus.Fields{
			"bidder": caller.Hex(),
			"amount": FormatEther(amount),
		}).Info("refund issued")
		return nil
	})
}

// WithdrawPartial pays part of caller's balance back at any time, except to the leader while
// the auction is still running.
func (e *Engine) WithdrawPartial(caller common.Address, amount *uint256.Int) error {
	return e.atomically("withdraw_partial", func() error {
		if amount.IsZero() {
			return ErrZeroAmount
		}
		if amount.Gt(e.ledger.BalanceOf(caller)) {
			return ErrInsufficientFunds
		}
		if caller == e.highestBidder && !e.ended {
			return ErrLeaderLocked
		}
		if err := e.ledger.Withdraw(caller, amount); err != nil {
			return err
		}
		e.emit(newEvent(EventPartialWithdrawal, caller, amount))
		if err := e.transfer(caller, amount); err != nil {
			return err
		}

		e.log.WithFields(logrus.Fields{
			"bidder": caller.Hex(),
			"amount": FormatEther(amount),
		}).Info("partial withdrawal")
		return nil
	})
}

// EmergencyWithdraw lets the owner move any amount up to the contract balance to any
// non-zero address, in any phase. The ledger is not consulted or updated.
func (e *Engine) EmergencyWithdraw(caller, to common.Address, amount *uint256.Int) error {
	return e.atomically("emergency_withdraw", func() error {
		if caller != e.owner {
			return ErrNotOwner
		}
		if to == (common.Address{}) {
			return ErrInvalidRecipient
		}
		if amount.IsZero() || amount.Gt(e.runtime.Balance()) {
			return ErrInvalidAmount
		}
		e.emit(newEvent(EventEmergencyWithdrawal, to, amount))
		if err := e.transfer(to, amount); err != nil {
			return err
		}

		e.log.WithFields(logrus.Fields{
			"to":     to.Hex(),
			"amount": FormatEther(amount),
		}).Warn("emergency withdrawal")
		return nil
	})
}

// ReceivePayment handles value sent to the contract outside PlaceBid. It always fails.
func (e *Engine) ReceivePayment(from common.Address, value *uint256.Int) error {
	e.log.WithFields(logrus.Fields{
		"from":   from.Hex(),
		"amount": FormatEther(value),
	}).Debug("direct payment rejected")
	return ErrDirectPayment
}

// GetBids returns every bidder in first-bid order with their current balances.
func (e *Engine) GetBids() ([]common.Address, []*uint256.Int) {
	addrs := make([]common.Address, 0, e.ledger.Len())
	amounts := make([]*uint256.Int, 0, e.ledger.Len())
	for addr, amount := range e.ledger.Snapshot() {
		addrs = append(addrs, addr)
		amounts = append(amounts, amount)
	}
	return addrs, amounts
}

// TimeLeft is the whole-second time remaining until the deadline, never negative.
func (e *Engine) TimeLeft(now time.Time) time.Duration {
	left := e.endTime.Sub(now)
	if left < 0 {
		return 0
	}
	return left.Truncate(time.Second)
}

// Phase reports where the auction stands at now.
func (e *Engine) Phase(now time.Time) Phase {
	switch {
	case e.ended:
		return PhaseClosed
	case now.After(e.endTime):
		return PhaseClosable
	default:
		return PhaseOpen
	}
}

func (e *Engine) Owner() common.Address         { return e.owner }
func (e *Engine) HighestBidder() common.Address { return e.highestBidder }
func (e *Engine) HighestBid() *uint256.Int      { return new(uint256.Int).Set(&e.highestBid) }
func (e *Engine) EndTime() time.Time            { return e.endTime }
func (e *Engine) Ended() bool                   { return e.ended }

// Bid returns the ledger entry for addr.
func (e *Engine) Bid(addr common.Address) (Bid, bool) { return e.ledger.Get(addr) }

// BalanceOf is the ledger balance held for addr.
func (e *Engine) BalanceOf(addr common.Address) *uint256.Int { return e.ledger.BalanceOf(addr) }

func (e *Engine) transfer(to common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	if err := e.runtime.Transfer(to, amount); err != nil {
		return fmt.Errorf("%w: %s to %s: %w", ErrTransferFailed, FormatEther(amount), to.Hex(), err)
	}
	return nil
}

func (e *Engine) emit(ev Event) {
	e.pending = append(e.pending, ev)
}

type checkpoint struct {
	highestBidder common.Address
	highestBid    uint256.Int
	endTime       time.Time
	ended         bool
	ledger        *BidLedger
	pending       int
}

// atomically runs fn as one all-or-nothing operation. Calls nest when a transfer re-enters
// the engine; only the outermost successful call publishes events.
func (e *Engine) atomically(op string, fn func() error) error {
	cp := checkpoint{
		highestBidder: e.highestBidder,
		highestBid:    e.highestBid,
		endTime:       e.endTime,
		ended:         e.ended,
		ledger:        e.ledger.clone(),
		pending:       len(e.pending),
	}

	e.depth++
	err := fn()
	e.depth--

	if err != nil {
		e.highestBidder = cp.highestBidder
		e.highestBid = cp.highestBid
		e.endTime = cp.endTime
		e.ended = cp.ended
		e.ledger = cp.ledger
		e.pending = e.pending[:cp.pending]
		e.log.WithError(err).WithField("op", op).Debug("operation reverted")
		return err
	}

	if e.depth == 0 {
		for _, ev := range e.pending {
			e.events.Append(ev)
		}
		e.pending = nil
	}
	return nil
}
