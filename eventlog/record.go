package eventlog

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/cloudx-io/englishauction/chain"
	"github.com/cloudx-io/englishauction/core"
)

// Record is one committed auction event as stored and signed. Records form a chain:
// PrevHash is the hash of the record before it, empty for the first.
type Record struct {
	Seq       uint64 `cbor:"1,keyasint"`
	TxID      []byte `cbor:"2,keyasint"`
	Timestamp int64  `cbor:"3,keyasint"`
	Contract  []byte `cbor:"4,keyasint"`
	Kind      string `cbor:"5,keyasint"`
	Subject   []byte `cbor:"6,keyasint"`
	Amount    []byte `cbor:"7,keyasint"`
	PrevHash  []byte `cbor:"8,keyasint,omitempty"`
}

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("eventlog: cbor encoding mode: %v", err))
	}
}

func newRecord(seq uint64, prevHash []byte, entry chain.Entry) Record {
	txID := entry.TxID
	return Record{
		Seq:       seq,
		TxID:      txID[:],
		Timestamp: entry.At.Unix(),
		Contract:  entry.Contract.Bytes(),
		Kind:      string(entry.Event.Kind),
		Subject:   entry.Event.Subject.Bytes(),
		Amount:    entry.Event.Amount.Bytes(),
		PrevHash:  prevHash,
	}
}

func (r Record) Marshal() ([]byte, error) {
	return encMode.Marshal(r)
}

func UnmarshalRecord(data []byte) (Record, error) {
	var r Record
	if err := cbor.Unmarshal(data, &r); err != nil {
		return Record{}, fmt.Errorf("decode record: %w", err)
	}
	return r, nil
}

func (r Record) TxUUID() (uuid.UUID, error) {
	return uuid.FromBytes(r.TxID)
}

func (r Record) Time() time.Time { return time.Unix(r.Timestamp, 0).UTC() }

func (r Record) ContractAddress() common.Address { return common.BytesToAddress(r.Contract) }

func (r Record) SubjectAddress() common.Address { return common.BytesToAddress(r.Subject) }

func (r Record) Value() *uint256.Int { return new(uint256.Int).SetBytes(r.Amount) }

// Event converts the record back into the engine's event form.
func (r Record) Event() core.Event {
	ev := core.Event{Kind: core.EventKind(r.Kind), Subject: r.SubjectAddress()}
	ev.Amount.SetBytes(r.Amount)
	return ev
}

func (r Record) String() string {
	return fmt.Sprintf("#%d %s %s", r.Seq, r.Time().Format(time.RFC3339), r.Event())
}

// ComputeRecordHash is SHA256 over the record's deterministic CBOR encoding.
func ComputeRecordHash(r Record) ([]byte, error) {
	data, err := r.Marshal()
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	hash := sha256.Sum256(data)
	return hash[:], nil
}

// VerifyChain checks that records are numbered consecutively from their first Seq and that
// each PrevHash matches the hash of the record before it.
func VerifyChain(records []Record) error {
	var prev []byte
	for i, r := range records {
		if i > 0 && r.Seq != records[i-1].Seq+1 {
			return fmt.Errorf("record %d: sequence gap after %d", r.Seq, records[i-1].Seq)
		}
		if i == 0 && r.Seq == 0 && len(r.PrevHash) != 0 {
			return fmt.Errorf("record 0: first record carries a previous hash")
		}
		if i > 0 && !bytes.Equal(r.PrevHash, prev) {
			return fmt.Errorf("record %d: previous hash mismatch", r.Seq)
		}
		h, err := ComputeRecordHash(r)
		if err != nil {
			return fmt.Errorf("record %d: %w", r.Seq, err)
		}
		prev = h
	}
	return nil
}
