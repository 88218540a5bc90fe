package event_test

import (
	"testing"
	"time"

	"ParaCover/internal/clock"
	"ParaCover/internal/event"

	"github.com/google/uuid"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestRecorder_AssignsMonotonicSequence(t *testing.T) {
	persist := make(chan event.Envelope, 8)
	clk := clock.NewManual(baseTime)
	rec := event.NewRecorder(7, clk, persist, nil)

	rec.Emit(event.PolicyExpired{PolicyID: 1, Holder: uuid.New()})
	rec.Emit(event.PolicyExpired{PolicyID: 2, Holder: uuid.New()})

	first := <-persist
	second := <-persist
	if first.Sequence != 7 || second.Sequence != 8 {
		t.Errorf("sequences: got %d, %d, want 7, 8", first.Sequence, second.Sequence)
	}
	if rec.Sequence() != 9 {
		t.Errorf("next sequence should be 9, got %d", rec.Sequence())
	}
	if first.Type != event.RecordPolicyExpired {
		t.Errorf("record type %s, want %s", first.Type, event.RecordPolicyExpired)
	}
	if !first.Timestamp.Equal(baseTime) {
		t.Errorf("timestamp should come from the injected clock, got %s", first.Timestamp)
	}
}

func TestRecorder_PublishDropsWhenFull(t *testing.T) {
	publish := make(chan event.Envelope, 1)
	rec := event.NewRecorder(0, clock.NewManual(baseTime), nil, publish)

	drops := 0
	rec.SetDropHook(func() { drops++ })

	rec.Emit(event.PolicyExpired{PolicyID: 1})
	rec.Emit(event.PolicyExpired{PolicyID: 2})
	rec.Emit(event.PolicyExpired{PolicyID: 3})

	if drops != 2 {
		t.Errorf("2 emits should be dropped on the full channel, got %d", drops)
	}
	// Sequence advances even for dropped envelopes — the persist side is the
	// record of truth, publish is best-effort.
	if rec.Sequence() != 3 {
		t.Errorf("sequence should be 3, got %d", rec.Sequence())
	}
	env := <-publish
	if env.Sequence != 0 {
		t.Errorf("the surviving envelope should be the first, got sequence %d", env.Sequence)
	}
}

func TestRecorder_PersistBackpressureSignalsThenBlocks(t *testing.T) {
	persist := make(chan event.Envelope, 1)
	rec := event.NewRecorder(0, clock.NewManual(baseTime), persist, nil)

	stalls := 0
	rec.SetBackpressureHook(func() { stalls++ })

	rec.Emit(event.PolicyExpired{PolicyID: 1})
	if stalls != 0 {
		t.Fatalf("emit into a free channel should not signal, got %d", stalls)
	}

	// The second emit finds the channel full: it must report the stall once
	// and then block until the consumer catches up, never drop.
	done := make(chan struct{})
	go func() {
		rec.Emit(event.PolicyExpired{PolicyID: 2})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("emit should block while the persist channel is full")
	case <-time.After(50 * time.Millisecond):
	}

	first := <-persist
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("emit did not complete after the channel drained")
	}

	if stalls != 1 {
		t.Errorf("backpressure should be signalled once, got %d", stalls)
	}
	second := <-persist
	if first.Sequence != 0 || second.Sequence != 1 {
		t.Errorf("sequences: got %d, %d, want 0, 1", first.Sequence, second.Sequence)
	}
}

func TestRecorder_NilRecorderDiscards(t *testing.T) {
	var rec *event.Recorder

	// Must not panic, and a nil recorder reports sequence 0.
	rec.Emit(event.PolicyExpired{PolicyID: 1})
	rec.SetDropHook(func() {})
	if rec.Sequence() != 0 {
		t.Errorf("nil recorder sequence should be 0, got %d", rec.Sequence())
	}
}
