package chain

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"

	"github.com/cloudx-io/englishauction/core"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrTxClosed            = errors.New("transaction already finished")
)

// Receiver runs when value lands on an address through a transfer. It executes inside the
// sending transaction and may call back into contracts through tx. Returning an error
// rejects the value and fails the transfer.
type Receiver func(tx *Tx, from common.Address, amount *uint256.Int) error

// Entry is a committed event together with the transaction that produced it.
type Entry struct {
	TxID     uuid.UUID
	At       time.Time
	Contract common.Address
	Event    core.Event
}

// Sink receives committed entries in commit order.
type Sink interface {
	Publish(entry Entry) error
}

// Host is an in-process ledger of native balances that runs auction contracts. Every call
// is a transaction: it runs under the host lock, at a single block time, and either
// commits all balance changes and events or none of them.
type Host struct {
	mu        sync.Mutex
	clock     Clock
	balances  map[common.Address]*uint256.Int
	receivers map[common.Address]Receiver
	nonces    map[common.Address]uint64
	sinks     []Sink
	history   []Entry
	log       *logrus.Entry

	current *Tx
	journal []balanceChange
	pending []Entry
}

// Option configures a Host at construction.
type Option func(*Host)

// WithClock sets the source of block time. The default is the wall clock.
func WithClock(clock Clock) Option {
	return func(h *Host) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// WithSink adds a destination for committed events. Sinks are called in the order added.
func WithSink(sink Sink) Option {
	return func(h *Host) {
		if sink != nil {
			h.sinks = append(h.sinks, sink)
		}
	}
}

// WithLogger routes host logs to log under the "Chain" package field.
func WithLogger(log *logrus.Logger) Option {
	return func(h *Host) {
		if log != nil {
			h.log = logrus.NewEntry(log).WithFields(logrus.Fields{"package": "Chain"})
		}
	}
}

func NewHost(opts ...Option) *Host {
	h := &Host{
		clock:     SystemClock(),
		balances:  make(map[common.Address]*uint256.Int),
		receivers: make(map[common.Address]Receiver),
		nonces:    make(map[common.Address]uint64),
		log: logrus.NewEntry(logrus.New()).WithFields(logrus.Fields{
			"package": "Chain",
		}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Fund credits addr outside of any transaction, as a genesis allocation would.
func (h *Host) Fund(addr common.Address, amount *uint256.Int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	bal := h.balance(addr)
	h.balances[addr] = new(uint256.Int).Add(bal, amount)
	h.log.WithFields(logrus.Fields{
		"address": addr.Hex(),
		"amount":  core.FormatEther(amount),
	}).Debug("account funded")
}

func (h *Host) BalanceOf(addr common.Address) *uint256.Int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return new(uint256.Int).Set(h.balance(addr))
}

// SetReceiver installs code that runs whenever addr is paid. A nil fn removes it.
func (h *Host) SetReceiver(addr common.Address, fn Receiver) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if fn == nil {
		delete(h.receivers, addr)
		return
	}
	h.receivers[addr] = fn
}

func (h *Host) Now() time.Time { return h.clock.Now() }

// Events returns every committed entry so far.
func (h *Host) Events() []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Entry, len(h.history))
	copy(out, h.history)
	return out
}

// Deploy opens a new auction owned by owner. The contract address is derived from the
// owner and the number of auctions that owner has deployed before.
func (h *Host) Deploy(owner common.Address, durationMinutes int64) (*Auction, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	addr := crypto.CreateAddress(owner, h.nonces[owner])
	engine, err := core.New(owner, durationMinutes, h.clock.Now(), contractRuntime{host: h, addr: addr},
		core.WithEventLog(contractEvents{host: h, addr: addr}),
		core.WithLogger(logrus.NewEntry(h.log.Logger).WithFields(logrus.Fields{
			"package":  "Auction",
			"contract": addr.Hex(),
		})),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to deploy auction: %w", err)
	}
	h.nonces[owner]++

	// plain value sent to the contract goes through the contract's receive path
	h.receivers[addr] = func(_ *Tx, from common.Address, amount *uint256.Int) error {
		return engine.ReceivePayment(from, amount)
	}

	h.log.WithFields(logrus.Fields{
		"contract": addr.Hex(),
		"owner":    owner.Hex(),
	}).Info("auction deployed")
	return &Auction{host: h, addr: addr, engine: engine}, nil
}

// execute runs fn as a top-level transaction.
func (h *Host) execute(op string, fn func(tx *Tx) error) (Receipt, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	tx := &Tx{ID: uuid.New(), At: h.clock.Now(), host: h}
	h.current = tx
	defer func() {
		tx.done = true
		h.current = nil
		h.journal = nil
		h.pending = nil
	}()

	receipt := Receipt{TxID: tx.ID, At: tx.At}
	log := h.log.WithFields(logrus.Fields{"tx": tx.ID.String(), "op": op})

	if err := tx.nested(func() error { return fn(tx) }); err != nil {
		receipt.Status = StatusReverted
		receipt.Err = err
		log.WithError(err).Info("transaction reverted")
		return receipt, err
	}

	receipt.Status = StatusCommitted
	receipt.Events = append([]Entry(nil), h.pending...)
	h.history = append(h.history, h.pending...)
	for _, entry := range h.pending {
		for _, sink := range h.sinks {
			if err := sink.Publish(entry); err != nil {
				log.WithError(err).Error("failed to publish event")
			}
		}
	}
	log.WithField("events", len(receipt.Events)).Debug("transaction committed")
	return receipt, nil
}

type balanceChange struct {
	addr    common.Address
	prev    uint256.Int
	existed bool
}

type mark struct {
	journal int
	pending int
}

func (h *Host) mark() mark {
	return mark{journal: len(h.journal), pending: len(h.pending)}
}

func (h *Host) revertTo(m mark) {
	for i := len(h.journal) - 1; i >= m.journal; i-- {
		change := h.journal[i]
		if !change.existed {
			delete(h.balances, change.addr)
			continue
		}
		h.balances[change.addr] = new(uint256.Int).Set(&change.prev)
	}
	h.journal = h.journal[:m.journal]
	h.pending = h.pending[:m.pending]
}

func (h *Host) balance(addr common.Address) *uint256.Int {
	if bal, ok := h.balances[addr]; ok {
		return bal
	}
	return new(uint256.Int)
}

func (h *Host) setBalance(addr common.Address, v *uint256.Int) {
	change := balanceChange{addr: addr}
	if prev, ok := h.balances[addr]; ok {
		change.prev.Set(prev)
		change.existed = true
	}
	h.journal = append(h.journal, change)
	h.balances[addr] = v
}

// move debits from and credits to without running any receiver.
func (h *Host) move(from, to common.Address, amount *uint256.Int) error {
	src := h.balance(from)
	if amount.Gt(src) {
		return fmt.Errorf("%w: %s holds %s, needs %s", ErrInsufficientBalance,
			from.Hex(), core.FormatEther(src), core.FormatEther(amount))
	}
	h.setBalance(from, new(uint256.Int).Sub(src, amount))
	h.setBalance(to, new(uint256.Int).Add(h.balance(to), amount))
	return nil
}

// transfer moves value and then runs the recipient's receiver, undoing the move if the
// receiver rejects it.
func (h *Host) transfer(from, to common.Address, amount *uint256.Int) error {
	m := h.mark()
	if err := h.move(from, to, amount); err != nil {
		return err
	}
	if recv, ok := h.receivers[to]; ok {
		if err := recv(h.current, from, amount); err != nil {
			h.revertTo(m)
			return err
		}
	}
	return nil
}

// contractRuntime is the host as seen from one deployed auction.
type contractRuntime struct {
	host *Host
	addr common.Address
}

func (r contractRuntime) Transfer(to common.Address, amount *uint256.Int) error {
	return r.host.transfer(r.addr, to, amount)
}

func (r contractRuntime) Balance() *uint256.Int {
	return new(uint256.Int).Set(r.host.balance(r.addr))
}

// contractEvents buffers an auction's events in the running transaction.
type contractEvents struct {
	host *Host
	addr common.Address
}

func (l contractEvents) Append(ev core.Event) {
	tx := l.host.current
	l.host.pending = append(l.host.pending, Entry{
		TxID:     tx.ID,
		At:       tx.At,
		Contract: l.addr,
		Event:    ev,
	})
}
