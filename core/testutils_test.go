package core

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"
)

var (
	t0    = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	owner = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	alice = common.HexToAddress("0x000000000000000000000000000000000000a11c")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	carol = common.HexToAddress("0x00000000000000000000000000000000000ca201")
)

type transferCall struct {
	to     common.Address
	amount uint256.Int
}

// fakeRuntime records transfers and lets tests fail or re-enter on a per-recipient basis.
type fakeRuntime struct {
	balance    uint256.Int
	transfers  []transferCall
	failFor    map[common.Address]error
	onTransfer func(to common.Address, amount *uint256.Int) error
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{failFor: make(map[common.Address]error)}
}

func (r *fakeRuntime) deposit(amount *uint256.Int) {
	r.balance.Add(&r.balance, amount)
}

func (r *fakeRuntime) Transfer(to common.Address, amount *uint256.Int) error {
	if err, ok := r.failFor[to]; ok {
		return err
	}
	if amount.Gt(&r.balance) {
		return errors.New("contract balance too low")
	}
	r.balance.Sub(&r.balance, amount)
	call := transferCall{to: to}
	call.amount.Set(amount)
	r.transfers = append(r.transfers, call)
	if r.onTransfer != nil {
		return r.onTransfer(to, amount)
	}
	return nil
}

func (r *fakeRuntime) Balance() *uint256.Int { return new(uint256.Int).Set(&r.balance) }

type recordingLog struct {
	events []Event
}

func (l *recordingLog) Append(ev Event) { l.events = append(l.events, ev) }

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func mustEther(t *testing.T, s string) *uint256.Int {
	t.Helper()
	v, err := ParseEther(s)
	if err != nil {
		t.Fatalf("ParseEther(%q): %v", s, err)
	}
	return v
}

// newTestEngine opens a 60 minute auction at t0 owned by owner.
func newTestEngine(t *testing.T) (*Engine, *fakeRuntime, *recordingLog) {
	t.Helper()
	rt := newFakeRuntime()
	events := &recordingLog{}
	e, err := New(owner, 60, t0, rt, WithEventLog(events), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e, rt, events
}

// bid places a bid and mirrors the attached value into the fake contract balance.
func bid(t *testing.T, e *Engine, rt *fakeRuntime, from common.Address, value *uint256.Int, now time.Time) error {
	t.Helper()
	err := e.PlaceBid(from, value, now)
	if err == nil {
		rt.deposit(value)
	}
	return err
}
