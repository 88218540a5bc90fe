package policy

import (
	"fmt"
	"sync"
	"time"

	"ParaCover/internal/asset"
	"ParaCover/internal/clock"
	"ParaCover/internal/event"
	"ParaCover/internal/ledger"
	amath "ParaCover/internal/math"
	"ParaCover/internal/pool"

	"github.com/google/uuid"
)

// ControllerConfig wires a Controller. Account is the controller's own
// identity on the asset ledger — premiums pass through it on the way into the
// pool, and payouts leave from it. The controller must hold the pool's
// authorized-depositor capability.
type ControllerConfig struct {
	Owner    uuid.UUID
	Oracle   uuid.UUID
	Account  uuid.UUID
	Assets   asset.Ledger
	Pool     *pool.CapitalPool
	Clock    clock.Clock
	Params   Params
	Recorder *event.Recorder
}

// Controller orchestrates the policy lifecycle: creation (premium collection
// and capital-ratio enforcement), oracle-gated claim settlement, and
// time-gated permissionless expiration. One exclusive write section covers
// each mutating call end to end, so the cross-entity sequence
// (pull premium → deposit into pool → record policy) is atomic: any step
// failing rolls back the prior transfers before the call returns.
type Controller struct {
	mu sync.RWMutex

	owner   uuid.UUID
	oracle  uuid.UUID
	account uuid.UUID
	assets  asset.Ledger
	pool    *pool.CapitalPool
	clk     clock.Clock
	params  Params
	rec     *event.Recorder

	paused     bool
	nextID     uint64
	policies   map[uint64]*Policy
	byEventKey map[EventKey]uint64
	byHolder   map[uuid.UUID][]uint64

	activeCount   uint64
	claimedCount  uint64
	expiredCount  uint64
	totalPremiums uint64
	totalPayouts  uint64
}

func NewController(cfg ControllerConfig) (*Controller, error) {
	if cfg.Owner == uuid.Nil || cfg.Oracle == uuid.Nil || cfg.Account == uuid.Nil {
		return nil, fmt.Errorf("controller: nil identity: %w", ledger.ErrInvalidInput)
	}
	if cfg.Assets == nil || cfg.Pool == nil || cfg.Clock == nil {
		return nil, fmt.Errorf("controller: nil dependency: %w", ledger.ErrInvalidInput)
	}
	if cfg.Params.Premium == 0 || cfg.Params.Payout == 0 || cfg.Params.CapitalRatio == 0 {
		return nil, fmt.Errorf("controller: zero underwriting params: %w", ledger.ErrInvalidInput)
	}
	if cfg.Params.ExpirationWindow <= 0 {
		return nil, fmt.Errorf("controller: non-positive expiration window: %w", ledger.ErrInvalidInput)
	}

	return &Controller{
		owner:      cfg.Owner,
		oracle:     cfg.Oracle,
		account:    cfg.Account,
		assets:     cfg.Assets,
		pool:       cfg.Pool,
		clk:        cfg.Clock,
		params:     cfg.Params,
		rec:        cfg.Recorder,
		nextID:     1,
		policies:   make(map[uint64]*Policy),
		byEventKey: make(map[EventKey]uint64),
		byHolder:   make(map[uuid.UUID][]uint64),
	}, nil
}

func (c *Controller) Account() uuid.UUID { return c.account }

func (c *Controller) Params() Params {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.params
}

// CreatePolicy sells one unit of coverage for the given flight and scheduled
// departure. The capital-ratio check runs against the pool's current backing
// before any funds move; the premium is pulled from the holder (requires a
// prior allowance to the controller account) and deposited into the pool via
// the authorized-deposit path.
func (c *Controller) CreatePolicy(holder uuid.UUID, flight string, scheduled time.Time) (*Policy, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.paused {
		return nil, fmt.Errorf("create policy: controller is paused: %w", ledger.ErrInvalidState)
	}
	if holder == uuid.Nil {
		return nil, fmt.Errorf("create policy: nil holder: %w", ledger.ErrInvalidInput)
	}
	if flight == "" {
		return nil, fmt.Errorf("create policy: empty flight: %w", ledger.ErrInvalidInput)
	}
	if !scheduled.After(c.clk.Now()) {
		return nil, fmt.Errorf("create policy: scheduled time %s is not in the future: %w",
			scheduled.Format(time.RFC3339), ledger.ErrInvalidInput)
	}

	key := NewEventKey(flight, scheduled)
	if existing, ok := c.byEventKey[key]; ok {
		return nil, fmt.Errorf("create policy: policy %d already covers %s at %s: %w",
			existing, flight, scheduled.Format(time.RFC3339), ledger.ErrInvalidState)
	}

	if err := c.checkBacking(); err != nil {
		return nil, err
	}

	// Funds: holder → controller → pool account, then share accounting.
	premium := c.params.Premium
	if err := c.assets.TransferFrom(c.account, holder, c.account, premium); err != nil {
		return nil, fmt.Errorf("create policy: pull premium: %w", err)
	}
	if err := c.assets.Transfer(c.account, c.pool.Account(), premium); err != nil {
		c.refund(holder, premium)
		return nil, fmt.Errorf("create policy: move premium to pool: %w", err)
	}
	if _, err := c.pool.AuthorizedDeposit(c.account, premium); err != nil {
		// Compensate both transfers; the call is all-or-nothing.
		if terr := c.assets.Transfer(c.pool.Account(), c.account, premium); terr == nil {
			c.refund(holder, premium)
		}
		return nil, fmt.Errorf("create policy: deposit premium: %w", err)
	}

	p := &Policy{
		ID:            c.nextID,
		Holder:        holder,
		Flight:        flight,
		ScheduledTime: scheduled,
		Premium:       premium,
		Payout:        c.params.Payout,
		Status:        StatusActive,
		CreatedAt:     c.clk.Now(),
	}
	c.nextID++
	c.policies[p.ID] = p
	c.byEventKey[key] = p.ID
	c.byHolder[holder] = append(c.byHolder[holder], p.ID)
	c.activeCount++
	c.totalPremiums += premium

	c.emit(event.PolicyCreated{
		PolicyID:      p.ID,
		Holder:        holder,
		Flight:        flight,
		ScheduledTime: scheduled,
		Premium:       premium,
		Payout:        p.Payout,
	})

	snapshot := *p
	return &snapshot, nil
}

// SettleClaim marks a policy Claimed and pays the fixed payout to the holder.
// Callable only by the configured oracle identity; the Active-status
// precondition guarantees exactly-once settlement.
func (c *Controller) SettleClaim(caller uuid.UUID, policyID uint64, delayHours uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if caller != c.oracle {
		return fmt.Errorf("settle claim: caller %s is not the oracle: %w", caller, ledger.ErrUnauthorized)
	}
	p, ok := c.policies[policyID]
	if !ok {
		return fmt.Errorf("settle claim: unknown policy %d: %w", policyID, ledger.ErrNotFound)
	}
	if p.Status != StatusActive {
		return fmt.Errorf("settle claim: policy %d is %s: %w", policyID, p.Status, ledger.ErrInvalidState)
	}
	if delayHours < c.params.DelayThresholdHours {
		return fmt.Errorf("settle claim: delay %dh below threshold %dh: %w",
			delayHours, c.params.DelayThresholdHours, ledger.ErrInvalidState)
	}

	// Top up the controller float from the pool when short. The draw burns
	// the controller's premium-minted shares first; anything beyond them
	// lands on the pool as a share-price drop. Every later failure reverses
	// the draw so a rejected settlement leaves pool accounting untouched.
	payout := p.Payout
	var draw, burned uint64
	if float := c.assets.BalanceOf(c.account); float < payout {
		draw = payout - float
		var err error
		if burned, err = c.pool.AuthorizedWithdraw(c.account, draw); err != nil {
			return fmt.Errorf("settle claim: draw %d from pool: %w", draw, err)
		}
		if err := c.assets.Transfer(c.pool.Account(), c.account, draw); err != nil {
			c.pool.ReverseAuthorizedWithdraw(c.account, draw, burned)
			return fmt.Errorf("settle claim: move %d from pool: %w", draw, err)
		}
	}
	if err := c.assets.Transfer(c.account, p.Holder, payout); err != nil {
		if draw > 0 {
			if terr := c.assets.Transfer(c.account, c.pool.Account(), draw); terr == nil {
				c.pool.ReverseAuthorizedWithdraw(c.account, draw, burned)
			}
		}
		return fmt.Errorf("settle claim: pay holder: %w", err)
	}

	p.Status = StatusClaimed
	c.activeCount--
	c.claimedCount++
	c.totalPayouts += payout

	c.emit(event.ClaimSettled{
		PolicyID:   p.ID,
		Holder:     p.Holder,
		Payout:     payout,
		DelayHours: delayHours,
	})
	return nil
}

// ExpirePolicy marks a policy Expired once the expiration window after the
// scheduled event time has elapsed. Permissionless; no funds move — the
// premium stays with the pool as yield for capital providers.
func (c *Controller) ExpirePolicy(policyID uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.policies[policyID]
	if !ok {
		return fmt.Errorf("expire policy: unknown policy %d: %w", policyID, ledger.ErrNotFound)
	}
	if p.Status != StatusActive {
		return fmt.Errorf("expire policy: policy %d is %s: %w", policyID, p.Status, ledger.ErrInvalidState)
	}
	deadline := p.ScheduledTime.Add(c.params.ExpirationWindow)
	if c.clk.Now().Before(deadline) {
		return fmt.Errorf("expire policy: window ends at %s: %w",
			deadline.Format(time.RFC3339), ledger.ErrInvalidState)
	}

	p.Status = StatusExpired
	c.activeCount--
	c.expiredCount++

	c.emit(event.PolicyExpired{PolicyID: p.ID, Holder: p.Holder})
	return nil
}

// --- Read paths ---

// GetPolicy returns a copy of the policy record.
func (c *Controller) GetPolicy(policyID uint64) (Policy, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.policies[policyID]
	if !ok {
		return Policy{}, fmt.Errorf("get policy: unknown policy %d: %w", policyID, ledger.ErrNotFound)
	}
	return *p, nil
}

// PolicyIDByEventKey resolves the policy covering a flight/scheduled-time
// pair. Used by the oracle ingestion path to map delay reports to policies.
func (c *Controller) PolicyIDByEventKey(flight string, scheduled time.Time) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	id, ok := c.byEventKey[NewEventKey(flight, scheduled)]
	if !ok {
		return 0, fmt.Errorf("no policy covers %s at %s: %w",
			flight, scheduled.Format(time.RFC3339), ledger.ErrNotFound)
	}
	return id, nil
}

// PoliciesByHolder returns the IDs of all policies ever held by an identity.
func (c *Controller) PoliciesByHolder(holder uuid.UUID) []uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := c.byHolder[holder]
	out := make([]uint64, len(ids))
	copy(out, ids)
	return out
}

// ActivePolicies returns the IDs of all currently Active policies, ascending.
// Full scan — policy volume is bounded by the capital ratio, not by the
// data structure.
func (c *Controller) ActivePolicies() []uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]uint64, 0, c.activeCount)
	for id := uint64(1); id < c.nextID; id++ {
		if p, ok := c.policies[id]; ok && p.Status == StatusActive {
			out = append(out, id)
		}
	}
	return out
}

func (c *Controller) Totals() Totals {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Totals{
		PolicyCount:   c.nextID - 1,
		ActiveCount:   c.activeCount,
		ClaimedCount:  c.claimedCount,
		ExpiredCount:  c.expiredCount,
		TotalPremiums: c.totalPremiums,
		TotalPayouts:  c.totalPayouts,
	}
}

func (c *Controller) Oracle() uuid.UUID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.oracle
}

func (c *Controller) IsPaused() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.paused
}

// --- Administration ---

// SetOracle updates the trusted oracle identity. Owner-only.
func (c *Controller) SetOracle(caller, oracle uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if caller != c.owner {
		return fmt.Errorf("set oracle: %w", ledger.ErrUnauthorized)
	}
	if oracle == uuid.Nil {
		return fmt.Errorf("set oracle: nil oracle: %w", ledger.ErrInvalidInput)
	}
	prev := c.oracle
	c.oracle = oracle
	c.emit(event.OracleUpdated{Previous: prev, Current: oracle})
	return nil
}

// Pause gates CreatePolicy only; settlement and expiration stay open so
// in-force policies always resolve.
func (c *Controller) Pause(caller uuid.UUID) error {
	return c.setPaused(caller, true)
}

func (c *Controller) Unpause(caller uuid.UUID) error {
	return c.setPaused(caller, false)
}

func (c *Controller) setPaused(caller uuid.UUID, paused bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if caller != c.owner {
		return fmt.Errorf("pause: %w", ledger.ErrUnauthorized)
	}
	if c.paused == paused {
		return fmt.Errorf("pause: already in requested state: %w", ledger.ErrInvalidState)
	}
	c.paused = paused
	c.emit(event.PauseChanged{Component: "controller", Paused: paused})
	return nil
}

// Sweep transfers the controller account's entire balance of an arbitrary
// asset to the owner. Break-glass only.
func (c *Controller) Sweep(caller uuid.UUID, a asset.Ledger) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if caller != c.owner {
		return 0, fmt.Errorf("sweep: %w", ledger.ErrUnauthorized)
	}
	balance := a.BalanceOf(c.account)
	if balance == 0 {
		return 0, nil
	}
	if err := a.Transfer(c.account, c.owner, balance); err != nil {
		return 0, fmt.Errorf("sweep: %w", err)
	}
	return balance, nil
}

func (c *Controller) TransferOwnership(caller, newOwner uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if caller != c.owner {
		return fmt.Errorf("transfer ownership: %w", ledger.ErrUnauthorized)
	}
	if newOwner == uuid.Nil {
		return fmt.Errorf("transfer ownership: nil owner: %w", ledger.ErrInvalidInput)
	}
	prev := c.owner
	c.owner = newOwner
	c.emit(event.OwnershipTransferred{Component: "controller", Previous: prev, Current: newOwner})
	return nil
}

// RestorePolicies loads persisted policy records and counters on startup.
// Not for use after the controller has begun processing operations.
func (c *Controller) RestorePolicies(policies []Policy, totalPremiums, totalPayouts uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range policies {
		p := policies[i]
		if _, ok := c.policies[p.ID]; ok {
			return fmt.Errorf("restore: duplicate policy %d: %w", p.ID, ledger.ErrInvalidState)
		}
		stored := p
		c.policies[p.ID] = &stored
		c.byEventKey[p.EventKey()] = p.ID
		c.byHolder[p.Holder] = append(c.byHolder[p.Holder], p.ID)
		if p.ID >= c.nextID {
			c.nextID = p.ID + 1
		}
		switch p.Status {
		case StatusActive:
			c.activeCount++
		case StatusClaimed:
			c.claimedCount++
		case StatusExpired:
			c.expiredCount++
		}
	}
	c.totalPremiums = totalPremiums
	c.totalPayouts = totalPayouts
	return nil
}

// --- internals (c.mu held) ---

// checkBacking enforces totalAssets >= (activePolicies + 1) * payout * ratio.
// The base is the count of Active policies: settled and expired policies no
// longer consume backing.
func (c *Controller) checkBacking() error {
	perPolicy, err := amath.CheckedMul(c.params.Payout, c.params.CapitalRatio)
	if err != nil {
		return fmt.Errorf("create policy: %w", err)
	}
	required, err := amath.CheckedMul(c.activeCount+1, perPolicy)
	if err != nil {
		return fmt.Errorf("create policy: %w", err)
	}
	backing := c.pool.TotalAssets()
	if backing < required {
		return fmt.Errorf("create policy: pool backing %d < required %d: %w",
			backing, required, ledger.ErrInsufficientBacking)
	}
	return nil
}

// refund best-effort returns a pulled premium during rollback. The asset
// ledger treats transfers as final, so this is the compensating transfer.
func (c *Controller) refund(holder uuid.UUID, premium uint64) {
	_ = c.assets.Transfer(c.account, holder, premium)
}

func (c *Controller) emit(payload event.Payload) {
	c.rec.Emit(payload)
}
