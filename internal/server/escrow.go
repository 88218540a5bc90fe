package server

import (
	"fmt"
	"net/http"
	"time"

	"ParaCover/internal/escrow"
	"ParaCover/internal/ledger"

	"github.com/google/uuid"
)

// Escrow handlers. One escrow exists per insured event, addressed by the
// flight/scheduled-time pair rather than a server-assigned ID.

type createEscrowRequest struct {
	Caller           string `json:"caller"`
	Flight           string `json:"flight"`
	ScheduledUnix    int64  `json:"scheduled_time_unix"`
	RequiredCapital  uint64 `json:"required_capital"`
	GraceWindowHours uint64 `json:"grace_window_hours,omitempty"`
}

func (a *api) createEscrow(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	start := time.Now()
	var req createEscrowRequest
	if err := decodeBody(r, &req); err != nil {
		a.writeError(w, "create_escrow", err)
		return
	}
	caller, err := parseIdentity(req.Caller, "caller")
	if err != nil {
		a.writeError(w, "create_escrow", err)
		return
	}

	e, err := a.escrows.Create(caller, req.Flight,
		time.Unix(req.ScheduledUnix, 0).UTC(), req.RequiredCapital,
		time.Duration(req.GraceWindowHours)*time.Hour)
	if err != nil {
		a.writeError(w, "create_escrow", err)
		return
	}

	a.countOp("create_escrow", start)
	a.writeJSON(w, http.StatusCreated, escrowView(e))
}

type escrowMoveRequest struct {
	Caller        string `json:"caller"`
	Flight        string `json:"flight"`
	ScheduledUnix int64  `json:"scheduled_time_unix"`
	Amount        uint64 `json:"amount"`
}

func (a *api) escrowDeposit(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	a.escrowMove(w, r, "escrow_deposit", func(e *escrow.EventEscrow, caller uuid.UUID, amount uint64) error {
		return e.DepositCapital(caller, amount)
	})
}

func (a *api) escrowWithdraw(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	a.escrowMove(w, r, "escrow_withdraw", func(e *escrow.EventEscrow, caller uuid.UUID, amount uint64) error {
		return e.WithdrawCapital(caller, amount)
	})
}

func (a *api) escrowMove(w http.ResponseWriter, r *http.Request, op string,
	move func(*escrow.EventEscrow, uuid.UUID, uint64) error) {
	start := time.Now()
	var req escrowMoveRequest
	if err := decodeBody(r, &req); err != nil {
		a.writeError(w, op, err)
		return
	}
	caller, err := parseIdentity(req.Caller, "caller")
	if err != nil {
		a.writeError(w, op, err)
		return
	}
	e, err := a.escrows.Get(req.Flight, time.Unix(req.ScheduledUnix, 0).UTC())
	if err != nil {
		a.writeError(w, op, err)
		return
	}

	if err := move(e, caller, req.Amount); err != nil {
		a.writeError(w, op, err)
		return
	}

	a.countOp(op, start)
	a.writeJSON(w, http.StatusOK, escrowView(e))
}

type escrowClaimRequest struct {
	Caller        string `json:"caller"`
	Flight        string `json:"flight"`
	ScheduledUnix int64  `json:"scheduled_time_unix"`
	Recipient     string `json:"recipient"`
	Payout        uint64 `json:"payout"`
}

func (a *api) escrowClaim(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	start := time.Now()
	var req escrowClaimRequest
	if err := decodeBody(r, &req); err != nil {
		a.writeError(w, "escrow_claim", err)
		return
	}
	caller, err := parseIdentity(req.Caller, "caller")
	if err != nil {
		a.writeError(w, "escrow_claim", err)
		return
	}
	recipient, err := parseIdentity(req.Recipient, "recipient")
	if err != nil {
		a.writeError(w, "escrow_claim", err)
		return
	}
	e, err := a.escrows.Get(req.Flight, time.Unix(req.ScheduledUnix, 0).UTC())
	if err != nil {
		a.writeError(w, "escrow_claim", err)
		return
	}

	if err := e.ProcessClaim(caller, recipient, req.Payout); err != nil {
		a.writeError(w, "escrow_claim", err)
		return
	}

	a.countOp("escrow_claim", start)
	a.writeJSON(w, http.StatusOK, escrowView(e))
}

type escrowKeyRequest struct {
	Flight        string `json:"flight"`
	ScheduledUnix int64  `json:"scheduled_time_unix"`
}

// escrowDeactivate is permissionless, like policy expiration: the grace
// window is the only gate.
func (a *api) escrowDeactivate(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	start := time.Now()
	var req escrowKeyRequest
	if err := decodeBody(r, &req); err != nil {
		a.writeError(w, "escrow_deactivate", err)
		return
	}
	e, err := a.escrows.Get(req.Flight, time.Unix(req.ScheduledUnix, 0).UTC())
	if err != nil {
		a.writeError(w, "escrow_deactivate", err)
		return
	}

	if err := e.Deactivate(); err != nil {
		a.writeError(w, "escrow_deactivate", err)
		return
	}

	a.countOp("escrow_deactivate", start)
	a.writeJSON(w, http.StatusOK, escrowView(e))
}

type escrowOperatorRequest struct {
	Caller        string `json:"caller"`
	Flight        string `json:"flight"`
	ScheduledUnix int64  `json:"scheduled_time_unix"`
	Identity      string `json:"identity"`
	Granted       bool   `json:"granted"`
}

func (a *api) escrowSetOperator(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	start := time.Now()
	var req escrowOperatorRequest
	if err := decodeBody(r, &req); err != nil {
		a.writeError(w, "escrow_set_operator", err)
		return
	}
	caller, err := parseIdentity(req.Caller, "caller")
	if err != nil {
		a.writeError(w, "escrow_set_operator", err)
		return
	}
	identity, err := parseIdentity(req.Identity, "identity")
	if err != nil {
		a.writeError(w, "escrow_set_operator", err)
		return
	}
	e, err := a.escrows.Get(req.Flight, time.Unix(req.ScheduledUnix, 0).UTC())
	if err != nil {
		a.writeError(w, "escrow_set_operator", err)
		return
	}

	if err := e.SetOperator(caller, identity, req.Granted); err != nil {
		a.writeError(w, "escrow_set_operator", err)
		return
	}

	a.countOp("escrow_set_operator", start)
	a.writeJSON(w, http.StatusOK, map[string]interface{}{
		"flight":              req.Flight,
		"scheduled_time_unix": req.ScheduledUnix,
		"identity":            identity,
		"granted":             req.Granted,
	})
}

func (a *api) getEscrow(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	start := time.Now()
	q := r.URL.Query()
	flight := q.Get("flight")
	if flight == "" {
		a.queryError(w, "get_escrow", fmt.Errorf("missing flight: %w", ledger.ErrInvalidInput))
		return
	}
	unix, err := parseUnixSeconds(q.Get("scheduled_time_unix"))
	if err != nil {
		a.queryError(w, "get_escrow", err)
		return
	}

	e, err := a.escrows.Get(flight, time.Unix(unix, 0).UTC())
	if err != nil {
		a.queryError(w, "get_escrow", err)
		return
	}
	a.countQuery("get_escrow", start)
	a.writeJSON(w, http.StatusOK, escrowView(e))
}

func (a *api) listEscrows(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	start := time.Now()
	escrows := a.escrows.List()
	views := make([]map[string]interface{}, 0, len(escrows))
	for _, e := range escrows {
		views = append(views, escrowView(e))
	}
	a.countQuery("list_escrows", start)
	a.writeJSON(w, http.StatusOK, map[string]interface{}{"escrows": views})
}

func escrowView(e *escrow.EventEscrow) map[string]interface{} {
	active, claimed, deposited, required := e.Status()
	status := "active"
	switch {
	case claimed:
		status = "claimed"
	case !active:
		status = "deactivated"
	}
	return map[string]interface{}{
		"flight":              e.Flight(),
		"scheduled_time_unix": e.ScheduledTime().Unix(),
		"account":             e.Account(),
		"status":              status,
		"deposited":           deposited,
		"required":            required,
		"fully_funded":        e.IsFullyFunded(),
	}
}
