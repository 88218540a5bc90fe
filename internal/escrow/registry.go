package escrow

import (
	"fmt"
	"sync"
	"time"

	"ParaCover/internal/asset"
	"ParaCover/internal/clock"
	"ParaCover/internal/event"
	"ParaCover/internal/ledger"

	"github.com/google/uuid"
)

type eventKey struct {
	flight        string
	scheduledUnix int64
}

// Registry tracks at most one escrow per insured event. Creation is
// owner-gated; the created escrow carries the registry owner and a fresh
// asset-ledger account.
type Registry struct {
	mu sync.RWMutex

	owner   uuid.UUID
	assets  asset.Ledger
	clk     clock.Clock
	rec     *event.Recorder
	escrows map[eventKey]*EventEscrow
}

func NewRegistry(owner uuid.UUID, assets asset.Ledger, clk clock.Clock, rec *event.Recorder) (*Registry, error) {
	if owner == uuid.Nil {
		return nil, fmt.Errorf("escrow registry: nil owner: %w", ledger.ErrInvalidInput)
	}
	if assets == nil || clk == nil {
		return nil, fmt.Errorf("escrow registry: nil asset ledger or clock: %w", ledger.ErrInvalidInput)
	}
	return &Registry{
		owner:   owner,
		assets:  assets,
		clk:     clk,
		rec:     rec,
		escrows: make(map[eventKey]*EventEscrow),
	}, nil
}

// Create registers a new escrow for the event. Owner-only; one escrow per
// flight/scheduled-time pair. A zero graceWindow takes the default.
func (r *Registry) Create(caller uuid.UUID, flight string, scheduled time.Time, required uint64, graceWindow time.Duration) (*EventEscrow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if caller != r.owner {
		return nil, fmt.Errorf("create escrow: %w", ledger.ErrUnauthorized)
	}
	key := eventKey{flight: flight, scheduledUnix: scheduled.Unix()}
	if _, ok := r.escrows[key]; ok {
		return nil, fmt.Errorf("create escrow: escrow already exists for %s at %s: %w",
			flight, scheduled.Format(time.RFC3339), ledger.ErrInvalidState)
	}

	e, err := New(Config{
		Owner:           r.owner,
		Account:         uuid.New(),
		Assets:          r.assets,
		Flight:          flight,
		ScheduledTime:   scheduled,
		RequiredCapital: required,
		GraceWindow:     graceWindow,
		Clock:           r.clk,
		Recorder:        r.rec,
	})
	if err != nil {
		return nil, err
	}
	r.escrows[key] = e
	return e, nil
}

// Get resolves the escrow for a flight/scheduled-time pair.
func (r *Registry) Get(flight string, scheduled time.Time) (*EventEscrow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.escrows[eventKey{flight: flight, scheduledUnix: scheduled.Unix()}]
	if !ok {
		return nil, fmt.Errorf("no escrow for %s at %s: %w",
			flight, scheduled.Format(time.RFC3339), ledger.ErrNotFound)
	}
	return e, nil
}

// List returns all registered escrows in unspecified order.
func (r *Registry) List() []*EventEscrow {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*EventEscrow, 0, len(r.escrows))
	for _, e := range r.escrows {
		out = append(out, e)
	}
	return out
}
