package eventlog

import (
	"fmt"
	"io"
	"sync"
)

// WriterSink appends a signed envelope per record to w, producing a stream ReadSigned can
// split again.
type WriterSink struct {
	mu     sync.Mutex
	w      io.Writer
	signer *Signer
}

func NewWriterSink(w io.Writer, signer *Signer) *WriterSink {
	return &WriterSink{w: w, signer: signer}
}

func (s *WriterSink) Write(r Record) error {
	envelope, err := s.signer.Sign(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(envelope); err != nil {
		return fmt.Errorf("write record %d: %w", r.Seq, err)
	}
	return nil
}
