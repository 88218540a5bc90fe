package pool

import (
	"fmt"
	"sync"

	"ParaCover/internal/asset"
	"ParaCover/internal/event"
	"ParaCover/internal/ledger"
	amath "ParaCover/internal/math"

	"github.com/google/uuid"
)

type allowanceKey struct {
	owner   uuid.UUID
	spender uuid.UUID
}

// Config for a CapitalPool. Account is the pool's own identity on the asset
// ledger — deposits pull into it, withdrawals push out of it.
type Config struct {
	Owner    uuid.UUID
	Account  uuid.UUID
	Assets   asset.Ledger
	Recorder *event.Recorder
}

// CapitalPool is a share-based vault holding the asset pool that backs all
// policies. Shares represent a proportional claim on total assets; the share
// price floats with pool performance. Rounding always favors the pool:
// deposit/redeem conversions floor, mint/withdraw conversions ceil, so no
// sequence of operations can mint value out of rounding.
//
// Every mutation runs under one exclusive write section; reads take the
// shared side of the same lock and observe a consistent snapshot.
type CapitalPool struct {
	mu sync.RWMutex

	owner   uuid.UUID
	account uuid.UUID
	assets  asset.Ledger
	rec     *event.Recorder

	paused      bool
	totalAssets uint64
	totalShares uint64
	shares      map[uuid.UUID]uint64
	allowances  map[allowanceKey]uint64 // share-denominated withdrawal allowances
	depositors  map[uuid.UUID]bool      // authorized-depositor capability
}

func New(cfg Config) (*CapitalPool, error) {
	if cfg.Owner == uuid.Nil || cfg.Account == uuid.Nil {
		return nil, fmt.Errorf("pool: nil owner or account: %w", ledger.ErrInvalidInput)
	}
	if cfg.Assets == nil {
		return nil, fmt.Errorf("pool: nil asset ledger: %w", ledger.ErrInvalidInput)
	}
	return &CapitalPool{
		owner:      cfg.Owner,
		account:    cfg.Account,
		assets:     cfg.Assets,
		rec:        cfg.Recorder,
		shares:     make(map[uuid.UUID]uint64),
		allowances: make(map[allowanceKey]uint64),
		depositors: make(map[uuid.UUID]bool),
	}, nil
}

// Account returns the pool's identity on the asset ledger.
func (p *CapitalPool) Account() uuid.UUID { return p.account }

// Owner returns the current administrative owner.
func (p *CapitalPool) Owner() uuid.UUID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.owner
}

// --- Conversions ---

// convertToShares requires p.mu held. 1:1 bootstrap when no shares exist
// (assets may be pre-seeded, so the same fallback applies when totalAssets
// is zero — otherwise the first depositor after a full drain would divide
// by zero).
func (p *CapitalPool) convertToShares(assets uint64, mode amath.RoundingMode) (uint64, error) {
	if p.totalShares == 0 || p.totalAssets == 0 {
		return assets, nil
	}
	return amath.MulDiv(assets, p.totalShares, p.totalAssets, mode)
}

// convertToAssets requires p.mu held.
func (p *CapitalPool) convertToAssets(shares uint64, mode amath.RoundingMode) (uint64, error) {
	if p.totalShares == 0 {
		return shares, nil
	}
	return amath.MulDiv(shares, p.totalAssets, p.totalShares, mode)
}

// ConvertToShares converts an asset amount to shares at the current rate
// (floor rounding).
func (p *CapitalPool) ConvertToShares(assets uint64) (uint64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.convertToShares(assets, amath.RoundDown)
}

// ConvertToAssets converts a share amount to assets at the current rate
// (floor rounding).
func (p *CapitalPool) ConvertToAssets(shares uint64) (uint64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.convertToAssets(shares, amath.RoundDown)
}

// PreviewDeposit returns the shares a deposit of `assets` would mint (floor).
func (p *CapitalPool) PreviewDeposit(assets uint64) (uint64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.convertToShares(assets, amath.RoundDown)
}

// PreviewMint returns the assets required to mint `shares` (ceiling).
func (p *CapitalPool) PreviewMint(shares uint64) (uint64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.convertToAssets(shares, amath.RoundUp)
}

// PreviewWithdraw returns the shares required to withdraw `assets` (ceiling).
func (p *CapitalPool) PreviewWithdraw(assets uint64) (uint64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.convertToShares(assets, amath.RoundUp)
}

// PreviewRedeem returns the assets a redemption of `shares` would pay (floor).
func (p *CapitalPool) PreviewRedeem(shares uint64) (uint64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.convertToAssets(shares, amath.RoundDown)
}

// --- State queries ---

func (p *CapitalPool) TotalAssets() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.totalAssets
}

func (p *CapitalPool) TotalShares() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.totalShares
}

func (p *CapitalPool) SharesOf(id uuid.UUID) uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.shares[id]
}

func (p *CapitalPool) IsAuthorizedDepositor(id uuid.UUID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.depositors[id]
}

func (p *CapitalPool) IsPaused() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paused
}

// --- Deposits ---

// Deposit pulls `assets` from the caller and mints floor-converted shares to
// the receiver.
func (p *CapitalPool) Deposit(caller uuid.UUID, assets uint64, receiver uuid.UUID) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkDepositArgs(assets, receiver); err != nil {
		return 0, err
	}

	shares, err := p.convertToShares(assets, amath.RoundDown)
	if err != nil {
		return 0, fmt.Errorf("deposit: %w", err)
	}
	if shares == 0 {
		return 0, fmt.Errorf("deposit: %d assets convert to zero shares: %w", assets, ledger.ErrInvalidInput)
	}

	if err := p.assets.TransferFrom(p.account, caller, p.account, assets); err != nil {
		return 0, fmt.Errorf("deposit: pull assets: %w", err)
	}

	p.credit(receiver, assets, shares)
	p.emit(event.CapitalDeposited{
		Actor:       caller,
		Receiver:    receiver,
		Assets:      assets,
		Shares:      shares,
		TotalAssets: p.totalAssets,
		TotalShares: p.totalShares,
	})
	return shares, nil
}

// Mint pulls the ceiling-converted asset amount from the caller and mints
// exactly `shares` to the receiver.
func (p *CapitalPool) Mint(caller uuid.UUID, shares uint64, receiver uuid.UUID) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkDepositArgs(shares, receiver); err != nil {
		return 0, err
	}

	assets, err := p.convertToAssets(shares, amath.RoundUp)
	if err != nil {
		return 0, fmt.Errorf("mint: %w", err)
	}
	if assets == 0 {
		return 0, fmt.Errorf("mint: %d shares convert to zero assets: %w", shares, ledger.ErrInvalidInput)
	}

	if err := p.assets.TransferFrom(p.account, caller, p.account, assets); err != nil {
		return 0, fmt.Errorf("mint: pull assets: %w", err)
	}

	p.credit(receiver, assets, shares)
	p.emit(event.CapitalDeposited{
		Actor:       caller,
		Receiver:    receiver,
		Assets:      assets,
		Shares:      shares,
		TotalAssets: p.totalAssets,
		TotalShares: p.totalShares,
	})
	return assets, nil
}

// --- Withdrawals ---

// Withdraw burns the ceiling-converted share amount from `owner` and
// transfers exactly `assets` to the receiver. A caller other than the owner
// consumes a previously approved share allowance; an infinite allowance is
// never decremented.
func (p *CapitalPool) Withdraw(caller uuid.UUID, assets uint64, receiver, owner uuid.UUID) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkWithdrawArgs(assets, receiver, owner); err != nil {
		return 0, err
	}

	shares, err := p.convertToShares(assets, amath.RoundUp)
	if err != nil {
		return 0, fmt.Errorf("withdraw: %w", err)
	}
	if shares == 0 {
		return 0, fmt.Errorf("withdraw: %d assets require zero shares: %w", assets, ledger.ErrInvalidInput)
	}

	// Feasibility before allowance: a failed burn must not leave a
	// partially consumed allowance behind.
	if err := p.canDebit(owner, assets, shares); err != nil {
		return 0, err
	}
	if err := p.spendAllowance(caller, owner, shares); err != nil {
		return 0, err
	}
	if err := p.debit(owner, assets, shares); err != nil {
		return 0, err
	}

	if err := p.assets.Transfer(p.account, receiver, assets); err != nil {
		// Roll back the share burn and allowance; all-or-nothing.
		p.credit(owner, assets, shares)
		p.restoreAllowance(caller, owner, shares)
		return 0, fmt.Errorf("withdraw: push assets: %w", err)
	}

	p.emit(event.CapitalWithdrawn{
		Actor:       caller,
		Owner:       owner,
		Receiver:    receiver,
		Assets:      assets,
		Shares:      shares,
		TotalAssets: p.totalAssets,
		TotalShares: p.totalShares,
	})
	return shares, nil
}

// Redeem burns exactly `shares` from `owner` and transfers the
// floor-converted asset amount to the receiver.
func (p *CapitalPool) Redeem(caller uuid.UUID, shares uint64, receiver, owner uuid.UUID) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkWithdrawArgs(shares, receiver, owner); err != nil {
		return 0, err
	}

	assets, err := p.convertToAssets(shares, amath.RoundDown)
	if err != nil {
		return 0, fmt.Errorf("redeem: %w", err)
	}
	if assets == 0 {
		return 0, fmt.Errorf("redeem: %d shares convert to zero assets: %w", shares, ledger.ErrInvalidInput)
	}

	if err := p.canDebit(owner, assets, shares); err != nil {
		return 0, err
	}
	if err := p.spendAllowance(caller, owner, shares); err != nil {
		return 0, err
	}
	if err := p.debit(owner, assets, shares); err != nil {
		return 0, err
	}

	if err := p.assets.Transfer(p.account, receiver, assets); err != nil {
		p.credit(owner, assets, shares)
		p.restoreAllowance(caller, owner, shares)
		return 0, fmt.Errorf("redeem: push assets: %w", err)
	}

	p.emit(event.CapitalWithdrawn{
		Actor:       caller,
		Owner:       owner,
		Receiver:    receiver,
		Assets:      assets,
		Shares:      shares,
		TotalAssets: p.totalAssets,
		TotalShares: p.totalShares,
	})
	return assets, nil
}

// ApproveShares sets the share allowance `owner` grants to `spender` for
// Withdraw/Redeem on the owner's behalf. asset.InfiniteAllowance means
// unlimited.
func (p *CapitalPool) ApproveShares(owner, spender uuid.UUID, shares uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if owner == uuid.Nil || spender == uuid.Nil {
		return fmt.Errorf("approve shares: nil identity: %w", ledger.ErrInvalidInput)
	}
	p.allowances[allowanceKey{owner: owner, spender: spender}] = shares
	return nil
}

// ShareAllowance returns the remaining share allowance owner granted spender.
func (p *CapitalPool) ShareAllowance(owner, spender uuid.UUID) uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.allowances[allowanceKey{owner: owner, spender: spender}]
}

// --- Authorized paths ---

// AuthorizedDeposit applies deposit share accounting for a caller holding the
// authorized-depositor capability. The asset pull is bypassed: the caller has
// already moved the assets into the pool account through a separate channel.
func (p *CapitalPool) AuthorizedDeposit(caller uuid.UUID, assets uint64) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.depositors[caller] {
		return 0, fmt.Errorf("authorized deposit: %s lacks depositor capability: %w", caller, ledger.ErrUnauthorized)
	}
	if assets == 0 {
		return 0, fmt.Errorf("authorized deposit: zero assets: %w", ledger.ErrInvalidInput)
	}

	shares, err := p.convertToShares(assets, amath.RoundDown)
	if err != nil {
		return 0, fmt.Errorf("authorized deposit: %w", err)
	}
	if shares == 0 {
		return 0, fmt.Errorf("authorized deposit: %d assets convert to zero shares: %w", assets, ledger.ErrInvalidInput)
	}

	p.credit(caller, assets, shares)
	p.emit(event.CapitalDeposited{
		Actor:       caller,
		Receiver:    caller,
		Assets:      assets,
		Shares:      shares,
		Authorized:  true,
		TotalAssets: p.totalAssets,
		TotalShares: p.totalShares,
	})
	return shares, nil
}

// AuthorizedWithdraw draws `assets` out of pool accounting, bypassing the
// asset push — the caller receives the assets through a separate channel.
// Share accounting mirrors Withdraw (ceiling) but the burn is capped at the
// caller's own holding: any draw beyond it stays in totalAssets as a drop in
// the share price. That excess is the loss capital providers underwrite —
// the controller's premium-minted shares absorb payouts first, the pool
// absorbs the rest.
func (p *CapitalPool) AuthorizedWithdraw(caller uuid.UUID, assets uint64) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.depositors[caller] {
		return 0, fmt.Errorf("authorized withdraw: %s lacks depositor capability: %w", caller, ledger.ErrUnauthorized)
	}
	if assets == 0 {
		return 0, fmt.Errorf("authorized withdraw: zero assets: %w", ledger.ErrInvalidInput)
	}
	if p.totalAssets < assets {
		return 0, fmt.Errorf("authorized withdraw: pool holds %d assets, needs %d: %w",
			p.totalAssets, assets, ledger.ErrInsufficientFunds)
	}

	shares, err := p.convertToShares(assets, amath.RoundUp)
	if err != nil {
		return 0, fmt.Errorf("authorized withdraw: %w", err)
	}
	if held := p.shares[caller]; shares > held {
		shares = held
	}
	p.shares[caller] -= shares
	if p.shares[caller] == 0 {
		delete(p.shares, caller)
	}
	p.totalShares -= shares
	p.totalAssets -= assets

	p.emit(event.CapitalWithdrawn{
		Actor:       caller,
		Owner:       caller,
		Receiver:    caller,
		Assets:      assets,
		Shares:      shares,
		Authorized:  true,
		TotalAssets: p.totalAssets,
		TotalShares: p.totalShares,
	})
	return shares, nil
}

// ReverseAuthorizedWithdraw restores a prior AuthorizedWithdraw whose
// out-of-band asset move failed: the exact burned shares are re-credited and
// the assets returned to pool accounting, so the caller can keep draw-and-move
// all-or-nothing. The emitted record carries the restored totals, keeping the
// projections in step.
func (p *CapitalPool) ReverseAuthorizedWithdraw(caller uuid.UUID, assets, shares uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.depositors[caller] {
		return fmt.Errorf("reverse authorized withdraw: %s lacks depositor capability: %w", caller, ledger.ErrUnauthorized)
	}
	if assets == 0 {
		return fmt.Errorf("reverse authorized withdraw: zero assets: %w", ledger.ErrInvalidInput)
	}

	if shares > 0 {
		p.shares[caller] += shares
	}
	p.totalShares += shares
	p.totalAssets += assets

	p.emit(event.CapitalDeposited{
		Actor:       caller,
		Receiver:    caller,
		Assets:      assets,
		Shares:      shares,
		Authorized:  true,
		TotalAssets: p.totalAssets,
		TotalShares: p.totalShares,
	})
	return nil
}

// --- Administration ---

// SetAuthorizedDepositor grants or revokes the authorized-depositor
// capability. Owner-only.
func (p *CapitalPool) SetAuthorizedDepositor(caller, id uuid.UUID, granted bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if caller != p.owner {
		return fmt.Errorf("set depositor: %w", ledger.ErrUnauthorized)
	}
	if id == uuid.Nil {
		return fmt.Errorf("set depositor: nil identity: %w", ledger.ErrInvalidInput)
	}
	if granted {
		p.depositors[id] = true
	} else {
		delete(p.depositors, id)
	}
	p.emit(event.DepositorAuthorized{Identity: id, Granted: granted})
	return nil
}

// Pause blocks deposit/mint/withdraw/redeem. Administrative calls and the
// authorized paths (the controller's channel) stay open.
func (p *CapitalPool) Pause(caller uuid.UUID) error {
	return p.setPaused(caller, true)
}

func (p *CapitalPool) Unpause(caller uuid.UUID) error {
	return p.setPaused(caller, false)
}

func (p *CapitalPool) setPaused(caller uuid.UUID, paused bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if caller != p.owner {
		return fmt.Errorf("pause: %w", ledger.ErrUnauthorized)
	}
	if p.paused == paused {
		return fmt.Errorf("pause: already in requested state: %w", ledger.ErrInvalidState)
	}
	p.paused = paused
	p.emit(event.PauseChanged{Component: "pool", Paused: paused})
	return nil
}

// Sweep transfers the pool account's entire balance of an arbitrary asset to
// the owner. Break-glass recovery for mistakenly sent assets — it does not
// touch share accounting, so sweeping the pool's own backing asset desyncs
// totalAssets and is for emergencies only.
func (p *CapitalPool) Sweep(caller uuid.UUID, a asset.Ledger) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if caller != p.owner {
		return 0, fmt.Errorf("sweep: %w", ledger.ErrUnauthorized)
	}
	balance := a.BalanceOf(p.account)
	if balance == 0 {
		return 0, nil
	}
	if err := a.Transfer(p.account, p.owner, balance); err != nil {
		return 0, fmt.Errorf("sweep: %w", err)
	}
	return balance, nil
}

// TransferOwnership hands the administrative owner role to a new identity.
func (p *CapitalPool) TransferOwnership(caller, newOwner uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if caller != p.owner {
		return fmt.Errorf("transfer ownership: %w", ledger.ErrUnauthorized)
	}
	if newOwner == uuid.Nil {
		return fmt.Errorf("transfer ownership: nil owner: %w", ledger.ErrInvalidInput)
	}
	prev := p.owner
	p.owner = newOwner
	p.emit(event.OwnershipTransferred{Component: "pool", Previous: prev, Current: newOwner})
	return nil
}

// RestoreState loads pool totals and per-holder share balances from
// persisted projections on startup. Not for use after the pool has begun
// processing operations.
func (p *CapitalPool) RestoreState(totalAssets, totalShares uint64, shares map[uuid.UUID]uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.totalAssets = totalAssets
	p.totalShares = totalShares
	for id, s := range shares {
		if s > 0 {
			p.shares[id] = s
		}
	}
}

// --- internals (p.mu held) ---

func (p *CapitalPool) checkDepositArgs(amount uint64, receiver uuid.UUID) error {
	if p.paused {
		return fmt.Errorf("pool is paused: %w", ledger.ErrInvalidState)
	}
	if amount == 0 {
		return fmt.Errorf("zero amount: %w", ledger.ErrInvalidInput)
	}
	if receiver == uuid.Nil {
		return fmt.Errorf("nil receiver: %w", ledger.ErrInvalidInput)
	}
	return nil
}

func (p *CapitalPool) checkWithdrawArgs(amount uint64, receiver, owner uuid.UUID) error {
	if p.paused {
		return fmt.Errorf("pool is paused: %w", ledger.ErrInvalidState)
	}
	if amount == 0 {
		return fmt.Errorf("zero amount: %w", ledger.ErrInvalidInput)
	}
	if receiver == uuid.Nil || owner == uuid.Nil {
		return fmt.Errorf("nil identity: %w", ledger.ErrInvalidInput)
	}
	return nil
}

// spendAllowance consumes the share allowance when caller != owner. The
// infinite allowance is left unconsumed.
func (p *CapitalPool) spendAllowance(caller, owner uuid.UUID, shares uint64) error {
	if caller == owner {
		return nil
	}
	key := allowanceKey{owner: owner, spender: caller}
	allowed := p.allowances[key]
	if allowed == asset.InfiniteAllowance {
		return nil
	}
	if allowed < shares {
		return fmt.Errorf("share allowance %d < %d: %w", allowed, shares, ledger.ErrInsufficientFunds)
	}
	p.allowances[key] = allowed - shares
	return nil
}

// restoreAllowance undoes spendAllowance during rollback.
func (p *CapitalPool) restoreAllowance(caller, owner uuid.UUID, shares uint64) {
	if caller == owner {
		return
	}
	key := allowanceKey{owner: owner, spender: caller}
	if p.allowances[key] != asset.InfiniteAllowance {
		p.allowances[key] += shares
	}
}

func (p *CapitalPool) credit(receiver uuid.UUID, assets, shares uint64) {
	p.shares[receiver] += shares
	p.totalShares += shares
	p.totalAssets += assets
}

func (p *CapitalPool) canDebit(owner uuid.UUID, assets, shares uint64) error {
	if p.shares[owner] < shares {
		return fmt.Errorf("owner holds %d shares, needs %d: %w",
			p.shares[owner], shares, ledger.ErrInsufficientFunds)
	}
	if p.totalAssets < assets {
		return fmt.Errorf("pool holds %d assets, needs %d: %w",
			p.totalAssets, assets, ledger.ErrInsufficientFunds)
	}
	return nil
}

func (p *CapitalPool) debit(owner uuid.UUID, assets, shares uint64) error {
	if p.shares[owner] < shares {
		return fmt.Errorf("owner holds %d shares, needs %d: %w",
			p.shares[owner], shares, ledger.ErrInsufficientFunds)
	}
	if p.totalAssets < assets {
		return fmt.Errorf("pool holds %d assets, needs %d: %w",
			p.totalAssets, assets, ledger.ErrInsufficientFunds)
	}
	p.shares[owner] -= shares
	if p.shares[owner] == 0 {
		delete(p.shares, owner)
	}
	p.totalShares -= shares
	p.totalAssets -= assets
	return nil
}

func (p *CapitalPool) emit(payload event.Payload) {
	p.rec.Emit(payload)
}
