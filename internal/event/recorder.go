package event

import (
	"sync"
	"time"

	"ParaCover/internal/clock"
)

// Recorder assigns a global monotonic sequence to every emitted record and
// fans it out: blocking send to the persist channel (backpressure — no record
// may be lost) and non-blocking send to the publish channel (drop on full —
// downstream observers can re-read the record log).
//
// A nil *Recorder is valid and discards everything; unit tests of the ledgers
// use that.
type Recorder struct {
	mu             sync.Mutex
	sequence       uint64
	clk            clock.Clock
	persistCh      chan<- Envelope
	publishCh      chan<- Envelope
	onDrop         func()
	onBackpressure func()
}

// NewRecorder starts sequencing at startSequence (the next sequence to
// assign). Either channel may be nil.
func NewRecorder(startSequence uint64, clk clock.Clock, persistCh, publishCh chan<- Envelope) *Recorder {
	return &Recorder{
		sequence:  startSequence,
		clk:       clk,
		persistCh: persistCh,
		publishCh: publishCh,
	}
}

// SetDropHook installs a callback invoked whenever a publish-side envelope is
// dropped because the channel is full. Used to count drops in metrics.
func (r *Recorder) SetDropHook(fn func()) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onDrop = fn
}

// SetBackpressureHook installs a callback invoked whenever the persist
// channel is full and Emit has to block waiting for the writer.
func (r *Recorder) SetBackpressureHook(fn func()) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onBackpressure = fn
}

// Emit sequences and fans out a record.
func (r *Recorder) Emit(p Payload) {
	if r == nil {
		return
	}

	r.mu.Lock()
	env := Envelope{
		Sequence:  r.sequence,
		Type:      p.RecordType(),
		Timestamp: r.now(),
		Payload:   p,
	}
	r.sequence++
	onDrop := r.onDrop
	onBackpressure := r.onBackpressure
	r.mu.Unlock()

	if r.persistCh != nil {
		select {
		case r.persistCh <- env:
		default:
			if onBackpressure != nil {
				onBackpressure()
			}
			r.persistCh <- env
		}
	}
	if r.publishCh != nil {
		select {
		case r.publishCh <- env:
		default:
			if onDrop != nil {
				onDrop()
			}
		}
	}
}

// Sequence returns the next sequence the recorder will assign.
func (r *Recorder) Sequence() uint64 {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sequence
}

func (r *Recorder) now() time.Time {
	if r.clk != nil {
		return r.clk.Now()
	}
	return time.Now()
}
