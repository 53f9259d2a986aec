package validation

import (
	"crypto/ecdsa"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// BaseValidationResult contains the integrity checks common to every event log
type BaseValidationResult struct {
	SignaturesChecked bool
	SignatureValid    bool
	ChainValid        bool
	ValidationDetails []string
}

// EventLogValidationInput describes the log to validate and what is known about the auction
type EventLogValidationInput struct {
	Envelopes [][]byte         // COSE_Sign1 envelopes in log order
	PublicKey *ecdsa.PublicKey // Key the daemon signed with
	Contract  common.Address   // Zero = take the contract of the first record
	// OpenedAt and DurationMinutes enable deadline checks when OpenedAt is non-zero
	OpenedAt        time.Time
	DurationMinutes int64
}

// EventLogValidationResult contains the results of replaying an auction's event log
type EventLogValidationResult struct {
	BaseValidationResult
	SingleContract   bool
	EventsKnown      bool
	IncrementsValid  bool
	DeadlinesValid   bool
	SettlementValid  bool
	RefundsValid     bool
	WithdrawalsValid bool

	Contract   common.Address
	Records    int
	Ended      bool
	Winner     common.Address
	WinningBid *uint256.Int
	Fee        *uint256.Int
	Payout     *uint256.Int
}

// IsValid returns true if all checks passed. Signatures only count when they were checked.
func (r *EventLogValidationResult) IsValid() bool {
	return (!r.SignaturesChecked || r.SignatureValid) &&
		r.ChainValid &&
		r.SingleContract &&
		r.EventsKnown &&
		r.IncrementsValid &&
		r.DeadlinesValid &&
		r.SettlementValid &&
		r.RefundsValid &&
		r.WithdrawalsValid
}
