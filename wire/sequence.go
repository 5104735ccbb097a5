package wire

import "sync/atomic"

// Sequencer allocates sequence numbers for outgoing requests.
// Sequence 0 is reserved for pushes, so it is never returned.
type Sequencer struct {
	last atomic.Uint32
}

// NewSequencer creates sequencer whose first allocated number follows last.
func NewSequencer(last uint32) *Sequencer {
	s := &Sequencer{}
	s.last.Store(last)
	return s
}

// Next returns next sequence number.
func (s *Sequencer) Next() uint32 {
	for {
		if seq := s.last.Add(1); seq != 0 {
			return seq
		}
	}
}

var defaultSequencer = NewSequencer(0)

// NextSequence allocates sequence number from the process-wide sequencer.
func NextSequence() uint32 {
	return defaultSequencer.Next()
}
