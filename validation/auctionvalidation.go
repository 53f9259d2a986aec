package validation

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/cloudx-io/englishauction/core"
	"github.com/cloudx-io/englishauction/eventlog"
)

// ValidateSignedEventLog verifies every envelope's signature and then replays the records
// it carries, checking that:
// - Records form an unbroken hash chain
// - Every accepted bid clears the minimum increment and the running deadline
// - The auction settled at most once, to the last leader at the last leading bid
// - Refunds and withdrawals never exceed what the ledger held
//
// Returns:
//   - EventLogValidationResult with detailed results (call result.IsValid() to check overall status)
//   - error if validation cannot be performed (e.g., no envelopes, missing key, undecodable payload)
func ValidateSignedEventLog(input *EventLogValidationInput) (*EventLogValidationResult, error) {
	if input.PublicKey == nil {
		return nil, errors.New("public key is required")
	}
	if len(input.Envelopes) == 0 {
		return nil, errors.New("event log is empty")
	}

	records := make([]eventlog.Record, 0, len(input.Envelopes))
	signatureValid := true
	var signatureDetails []string

	for i, envelope := range input.Envelopes {
		record, err := eventlog.Verify(envelope, input.PublicKey)
		if err == nil {
			records = append(records, record)
			continue
		}

		signatureValid = false
		signatureDetails = append(signatureDetails, fmt.Sprintf("Envelope %d signature invalid: %v", i, err))

		// keep replaying what the envelope claims so the report covers the whole log
		payload, err := ExtractCOSEPayload(envelope)
		if err != nil {
			return nil, fmt.Errorf("envelope %d: %w", i, err)
		}
		record, err = eventlog.UnmarshalRecord(payload)
		if err != nil {
			return nil, fmt.Errorf("envelope %d: %w", i, err)
		}
		records = append(records, record)
	}

	result := ValidateRecords(records, input)
	result.SignaturesChecked = true
	result.SignatureValid = signatureValid
	if signatureValid {
		result.ValidationDetails = append([]string{fmt.Sprintf("All %d signatures valid", len(records))}, result.ValidationDetails...)
	} else {
		result.ValidationDetails = append(signatureDetails, result.ValidationDetails...)
	}
	return result, nil
}

// ValidateRecords replays records that were not delivered as signed envelopes, such as the
// in-memory log of a running daemon. Envelopes and PublicKey in input are ignored.
func ValidateRecords(records []eventlog.Record, input *EventLogValidationInput) *EventLogValidationResult {
	result := &EventLogValidationResult{
		SingleContract:   true,
		EventsKnown:      true,
		IncrementsValid:  true,
		DeadlinesValid:   true,
		SettlementValid:  true,
		RefundsValid:     true,
		WithdrawalsValid: true,
		Records:          len(records),
		WinningBid:       new(uint256.Int),
		Fee:              new(uint256.Int),
		Payout:           new(uint256.Int),
	}

	result.ChainValid = validateChain(records, result)

	result.Contract = input.Contract
	if result.Contract == (common.Address{}) && len(records) > 0 {
		result.Contract = records[0].ContractAddress()
	}

	r := newReplay(input)
	for _, record := range records {
		if record.ContractAddress() != result.Contract {
			result.SingleContract = false
			result.ValidationDetails = append(result.ValidationDetails,
				fmt.Sprintf("Record %d belongs to contract %s, not %s", record.Seq, record.ContractAddress().Hex(), result.Contract.Hex()))
			continue
		}
		r.apply(record, result)
	}

	result.Ended = r.ended
	if r.ended {
		result.Winner = r.highestBidder
		result.WinningBid.Set(&r.highestBid)
		fee, payout := core.SplitSettlement(&r.highestBid)
		result.Fee.Set(fee)
		result.Payout.Set(payout)
		result.ValidationDetails = append(result.ValidationDetails,
			fmt.Sprintf("Settled: winner %s, bid %s, fee %s, payout %s", r.highestBidder.Hex(),
				core.FormatEther(&r.highestBid), core.FormatEther(fee), core.FormatEther(payout)))
	} else {
		result.ValidationDetails = append(result.ValidationDetails, "Auction not settled in this log")
	}
	return result
}

func validateChain(records []eventlog.Record, result *EventLogValidationResult) bool {
	if err := eventlog.VerifyChain(records); err != nil {
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Hash chain broken: %v", err))
		return false
	}
	result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Hash chain intact over %d records", len(records)))
	return true
}

// replay mirrors the engine's bookkeeping from events alone.
type replay struct {
	highestBidder common.Address
	highestBid    uint256.Int
	deadline      time.Time
	ended         bool
	balances      map[common.Address]*uint256.Int
	refunded      map[common.Address]bool
}

func newReplay(input *EventLogValidationInput) *replay {
	r := &replay{
		balances: make(map[common.Address]*uint256.Int),
		refunded: make(map[common.Address]bool),
	}
	// records carry whole seconds
	if !input.OpenedAt.IsZero() && input.DurationMinutes > 0 {
		r.deadline = input.OpenedAt.Truncate(time.Second).Add(time.Duration(input.DurationMinutes) * time.Minute)
	}
	return r
}

func (r *replay) balance(addr common.Address) *uint256.Int {
	bal, ok := r.balances[addr]
	if !ok {
		bal = new(uint256.Int)
		r.balances[addr] = bal
	}
	return bal
}

func (r *replay) apply(record eventlog.Record, result *EventLogValidationResult) {
	ev := record.Event()
	at := record.Time()
	fail := func(flag *bool, format string, args ...any) {
		*flag = false
		result.ValidationDetails = append(result.ValidationDetails,
			fmt.Sprintf("Record %d (%s): ", record.Seq, ev.Kind)+fmt.Sprintf(format, args...))
	}

	switch ev.Kind {
	case core.EventNewBid:
		if r.ended {
			fail(&result.IncrementsValid, "bid accepted after settlement")
		}
		minBid, overflow := core.MinimumBid(&r.highestBid)
		if ev.Amount.IsZero() || overflow || ev.Amount.Lt(minBid) {
			fail(&result.IncrementsValid, "bid %s below minimum %s", core.FormatEther(&ev.Amount), core.FormatEther(minBid))
		}
		if !r.deadline.IsZero() {
			if at.After(r.deadline) {
				fail(&result.DeadlinesValid, "bid at %s after deadline %s", at.Format(time.RFC3339), r.deadline.Format(time.RFC3339))
			}
			if r.deadline.Sub(at) <= core.ExtensionWindow {
				r.deadline = at.Add(core.ExtensionWindow)
			}
		}
		bal := r.balance(ev.Subject)
		bal.Add(bal, &ev.Amount)
		r.highestBid.Set(&ev.Amount)
		r.highestBidder = ev.Subject

	case core.EventAuctionEnded:
		if r.ended {
			fail(&result.SettlementValid, "auction settled twice")
		}
		if !r.deadline.IsZero() && at.Before(r.deadline) {
			fail(&result.DeadlinesValid, "settled at %s before deadline %s", at.Format(time.RFC3339), r.deadline.Format(time.RFC3339))
		}
		if ev.Subject != r.highestBidder || !ev.Amount.Eq(&r.highestBid) {
			fail(&result.SettlementValid, "settled to %s for %s, but leader was %s at %s",
				ev.Subject.Hex(), core.FormatEther(&ev.Amount), r.highestBidder.Hex(), core.FormatEther(&r.highestBid))
		}
		r.ended = true

	case core.EventRefundIssued:
		if !r.ended {
			fail(&result.RefundsValid, "refund before settlement")
		}
		if ev.Subject == r.highestBidder {
			fail(&result.RefundsValid, "refund paid to the winner")
		}
		if r.refunded[ev.Subject] {
			fail(&result.RefundsValid, "second refund to %s", ev.Subject.Hex())
		}
		bal := r.balance(ev.Subject)
		if ev.Amount.IsZero() || !ev.Amount.Eq(bal) {
			fail(&result.RefundsValid, "refund %s does not match balance %s", core.FormatEther(&ev.Amount), core.FormatEther(bal))
		}
		bal.Clear()
		r.refunded[ev.Subject] = true

	case core.EventPartialWithdrawal:
		if ev.Subject == r.highestBidder && !r.ended {
			fail(&result.WithdrawalsValid, "leader withdrew while the auction was open")
		}
		bal := r.balance(ev.Subject)
		if ev.Amount.IsZero() || ev.Amount.Gt(bal) {
			fail(&result.WithdrawalsValid, "withdrawal %s exceeds balance %s", core.FormatEther(&ev.Amount), core.FormatEther(bal))
			bal.Clear()
			return
		}
		bal.Sub(bal, &ev.Amount)

	case core.EventEmergencyWithdrawal:
		result.ValidationDetails = append(result.ValidationDetails,
			fmt.Sprintf("Record %d: emergency withdrawal of %s to %s", record.Seq, core.FormatEther(&ev.Amount), ev.Subject.Hex()))

	default:
		fail(&result.EventsKnown, "unknown event kind")
	}
}
