package eventlog

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/cloudx-io/englishauction/chain"
)

// RecordSink receives every record appended to a Log.
type RecordSink interface {
	Write(r Record) error
}

// Log is the append-only, hash-chained history of committed auction events. It is a
// chain.Sink, so it can be attached directly to a host.
type Log struct {
	mu       sync.Mutex
	records  []Record
	lastHash []byte
	sinks    []RecordSink
	log      *logrus.Entry
}

// LogOption configures a Log at construction.
type LogOption func(*Log)

// WithRecordSink adds a destination that receives every appended record.
func WithRecordSink(sink RecordSink) LogOption {
	return func(l *Log) {
		if sink != nil {
			l.sinks = append(l.sinks, sink)
		}
	}
}

// WithLogger routes event log messages to log under the "EventLog" package field.
func WithLogger(log *logrus.Logger) LogOption {
	return func(l *Log) {
		if log != nil {
			l.log = logrus.NewEntry(log).WithFields(logrus.Fields{"package": "EventLog"})
		}
	}
}

func NewLog(opts ...LogOption) *Log {
	l := &Log{
		log: logrus.NewEntry(logrus.New()).WithFields(logrus.Fields{
			"package": "EventLog",
		}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Publish appends the entry and forwards the resulting record to every sink. The record
// stays in the log even when a sink fails.
func (l *Log) Publish(entry chain.Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	r := newRecord(uint64(len(l.records)), l.lastHash, entry)
	hash, err := ComputeRecordHash(r)
	if err != nil {
		return fmt.Errorf("failed to hash record %d: %w", r.Seq, err)
	}
	l.records = append(l.records, r)
	l.lastHash = hash

	var errs []error
	for _, sink := range l.sinks {
		if err := sink.Write(r); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		err := errors.Join(errs...)
		l.log.WithError(err).WithField("seq", r.Seq).Warn("record sink failed")
		return err
	}
	l.log.WithFields(logrus.Fields{"seq": r.Seq, "kind": r.Kind}).Debug("record appended")
	return nil
}

func (l *Log) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

// ForTx returns the records written by one transaction, in order.
func (l *Log) ForTx(txID uuid.UUID) []Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	// a transaction's records are contiguous and usually at the tail
	end := -1
	for i := len(l.records) - 1; i >= 0; i-- {
		if bytes.Equal(l.records[i].TxID, txID[:]) {
			end = i
			break
		}
	}
	if end < 0 {
		return nil
	}
	start := end
	for start > 0 && bytes.Equal(l.records[start-1].TxID, txID[:]) {
		start--
	}
	out := make([]Record, end-start+1)
	copy(out, l.records[start:end+1])
	return out
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}
