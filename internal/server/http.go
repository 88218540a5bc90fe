package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"ParaCover/internal/escrow"
	"ParaCover/internal/ledger"
	"ParaCover/internal/observability"
	"ParaCover/internal/policy"
	"ParaCover/internal/pool"
	"ParaCover/internal/query"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
)

const defaultPageLimit = 50

// api carries the JSON handlers mounted on the gateway mux. Writes go to
// the in-memory ledger; reads go to the Postgres projections.
type api struct {
	controller *policy.Controller
	pool       *pool.CapitalPool
	escrows    *escrow.Registry
	query      *query.Service
	metrics    *observability.Metrics
	log        zerolog.Logger
}

func newAPI(deps *Deps) *api {
	return &api{
		controller: deps.Controller,
		pool:       deps.Pool,
		escrows:    deps.Escrows,
		query:      deps.Query,
		metrics:    deps.Metrics,
		log:        observability.NewLogger("api"),
	}
}

func (a *api) register(mux *runtime.ServeMux) error {
	routes := []struct {
		method  string
		path    string
		handler runtime.HandlerFunc
	}{
		{http.MethodPost, "/v1/policies", a.createPolicy},
		{http.MethodGet, "/v1/policies", a.listPolicies},
		{http.MethodGet, "/v1/policies/{id}", a.getPolicy},
		{http.MethodPost, "/v1/policies/{id}/expire", a.expirePolicy},
		{http.MethodPost, "/v1/claims", a.settleClaim},
		{http.MethodGet, "/v1/pool", a.getPool},
		{http.MethodPost, "/v1/pool/deposits", a.poolDeposit},
		{http.MethodPost, "/v1/pool/mints", a.poolMint},
		{http.MethodPost, "/v1/pool/withdrawals", a.poolWithdraw},
		{http.MethodPost, "/v1/pool/redemptions", a.poolRedeem},
		{http.MethodPost, "/v1/pool/approvals", a.approveShares},
		{http.MethodGet, "/v1/pool/shareholders/{holder}", a.getShareholder},
		{http.MethodPost, "/v1/escrows", a.createEscrow},
		{http.MethodGet, "/v1/escrows", a.listEscrows},
		{http.MethodGet, "/v1/escrow", a.getEscrow},
		{http.MethodPost, "/v1/escrows/deposits", a.escrowDeposit},
		{http.MethodPost, "/v1/escrows/withdrawals", a.escrowWithdraw},
		{http.MethodPost, "/v1/escrows/claims", a.escrowClaim},
		{http.MethodPost, "/v1/escrows/deactivations", a.escrowDeactivate},
		{http.MethodPost, "/v1/escrows/operators", a.escrowSetOperator},
		{http.MethodGet, "/v1/stats", a.getStats},
		{http.MethodGet, "/v1/records", a.listRecords},
	}

	for _, r := range routes {
		if err := mux.HandlePath(r.method, r.path, r.handler); err != nil {
			return fmt.Errorf("route %s %s: %w", r.method, r.path, err)
		}
	}
	return nil
}

// --- Policy lifecycle ---

type createPolicyRequest struct {
	Holder        string `json:"holder"`
	Flight        string `json:"flight"`
	ScheduledUnix int64  `json:"scheduled_time_unix"`
}

func (a *api) createPolicy(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	start := time.Now()
	var req createPolicyRequest
	if err := decodeBody(r, &req); err != nil {
		a.writeError(w, "create_policy", err)
		return
	}
	holder, err := parseIdentity(req.Holder, "holder")
	if err != nil {
		a.writeError(w, "create_policy", err)
		return
	}

	p, err := a.controller.CreatePolicy(holder, req.Flight, time.Unix(req.ScheduledUnix, 0).UTC())
	if err != nil {
		a.writeError(w, "create_policy", err)
		return
	}

	a.countOp("create_policy", start)
	if a.metrics != nil {
		a.metrics.PoliciesCreated.Inc()
		a.metrics.PremiumsTotal.Add(float64(p.Premium))
		a.metrics.PoolDeposits.WithLabelValues("authorized").Inc()
	}
	a.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"policy_id":           p.ID,
		"holder":              p.Holder,
		"flight":              p.Flight,
		"scheduled_time_unix": p.ScheduledTime.Unix(),
		"premium":             p.Premium,
		"payout":              p.Payout,
		"status":              p.Status.String(),
	})
}

type settleClaimRequest struct {
	Caller     string `json:"caller"`
	PolicyID   uint64 `json:"policy_id"`
	DelayHours uint64 `json:"delay_hours"`
}

// settleClaim is the administrative settlement path; the caller must be the
// configured oracle identity. Normal settlement arrives via NATS.
func (a *api) settleClaim(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	start := time.Now()
	var req settleClaimRequest
	if err := decodeBody(r, &req); err != nil {
		a.writeError(w, "settle_claim", err)
		return
	}
	caller, err := parseIdentity(req.Caller, "caller")
	if err != nil {
		a.writeError(w, "settle_claim", err)
		return
	}

	if err := a.controller.SettleClaim(caller, req.PolicyID, req.DelayHours); err != nil {
		a.writeError(w, "settle_claim", err)
		return
	}

	a.countOp("settle_claim", start)
	if a.metrics != nil {
		a.metrics.ClaimsSettled.Inc()
		a.metrics.PoolWithdrawals.WithLabelValues("authorized").Inc()
		if settled, err := a.controller.GetPolicy(req.PolicyID); err == nil {
			a.metrics.PayoutsTotal.Add(float64(settled.Payout))
		}
	}
	a.writeJSON(w, http.StatusOK, map[string]interface{}{
		"policy_id": req.PolicyID,
		"status":    policy.StatusClaimed.String(),
	})
}

func (a *api) expirePolicy(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	start := time.Now()
	id, err := parsePolicyID(pathParams["id"])
	if err != nil {
		a.writeError(w, "expire_policy", err)
		return
	}

	if err := a.controller.ExpirePolicy(id); err != nil {
		a.writeError(w, "expire_policy", err)
		return
	}

	a.countOp("expire_policy", start)
	if a.metrics != nil {
		a.metrics.PoliciesExpired.Inc()
	}
	a.writeJSON(w, http.StatusOK, map[string]interface{}{
		"policy_id": id,
		"status":    policy.StatusExpired.String(),
	})
}

func (a *api) getPolicy(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	start := time.Now()
	id, err := parsePolicyID(pathParams["id"])
	if err != nil {
		a.queryError(w, "get_policy", err)
		return
	}

	resp, err := a.query.GetPolicy(r.Context(), id)
	if err != nil {
		a.queryError(w, "get_policy", err)
		return
	}
	a.countQuery("get_policy", start)
	a.writeJSON(w, http.StatusOK, resp)
}

func (a *api) listPolicies(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	start := time.Now()
	q := r.URL.Query()

	var holder *uuid.UUID
	if s := q.Get("holder"); s != "" {
		id, err := parseIdentity(s, "holder")
		if err != nil {
			a.queryError(w, "list_policies", err)
			return
		}
		holder = &id
	}

	var status *string
	if s := q.Get("status"); s != "" {
		switch s {
		case "Active", "Claimed", "Expired":
			status = &s
		default:
			a.queryError(w, "list_policies",
				fmt.Errorf("unknown status %q: %w", s, ledger.ErrInvalidInput))
			return
		}
	}

	limit, beforeID, err := parsePagination(q.Get("limit"), q.Get("before"))
	if err != nil {
		a.queryError(w, "list_policies", err)
		return
	}

	policies, err := a.query.ListPolicies(r.Context(), holder, status, limit, beforeID)
	if err != nil {
		a.queryError(w, "list_policies", err)
		return
	}
	a.countQuery("list_policies", start)
	a.writeJSON(w, http.StatusOK, map[string]interface{}{"policies": policies})
}

// --- Capital pool ---

type poolMoveRequest struct {
	Caller   string `json:"caller"`
	Receiver string `json:"receiver,omitempty"`
	Owner    string `json:"owner,omitempty"`
	Assets   uint64 `json:"assets,omitempty"`
	Shares   uint64 `json:"shares,omitempty"`
}

func (a *api) poolDeposit(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	start := time.Now()
	req, caller, err := a.decodePoolMove(r)
	if err != nil {
		a.writeError(w, "pool_deposit", err)
		return
	}
	receiver := caller
	if req.Receiver != "" {
		if receiver, err = parseIdentity(req.Receiver, "receiver"); err != nil {
			a.writeError(w, "pool_deposit", err)
			return
		}
	}

	shares, err := a.pool.Deposit(caller, req.Assets, receiver)
	if err != nil {
		a.writeError(w, "pool_deposit", err)
		return
	}

	a.countOp("pool_deposit", start)
	if a.metrics != nil {
		a.metrics.PoolDeposits.WithLabelValues("direct").Inc()
	}
	a.writeJSON(w, http.StatusOK, map[string]interface{}{
		"assets": req.Assets,
		"shares": shares,
	})
}

func (a *api) poolMint(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	start := time.Now()
	req, caller, err := a.decodePoolMove(r)
	if err != nil {
		a.writeError(w, "pool_mint", err)
		return
	}
	receiver := caller
	if req.Receiver != "" {
		if receiver, err = parseIdentity(req.Receiver, "receiver"); err != nil {
			a.writeError(w, "pool_mint", err)
			return
		}
	}

	assets, err := a.pool.Mint(caller, req.Shares, receiver)
	if err != nil {
		a.writeError(w, "pool_mint", err)
		return
	}

	a.countOp("pool_mint", start)
	if a.metrics != nil {
		a.metrics.PoolDeposits.WithLabelValues("direct").Inc()
	}
	a.writeJSON(w, http.StatusOK, map[string]interface{}{
		"assets": assets,
		"shares": req.Shares,
	})
}

func (a *api) poolWithdraw(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	start := time.Now()
	req, caller, err := a.decodePoolMove(r)
	if err != nil {
		a.writeError(w, "pool_withdraw", err)
		return
	}
	receiver, owner, err := withdrawParties(req, caller)
	if err != nil {
		a.writeError(w, "pool_withdraw", err)
		return
	}

	shares, err := a.pool.Withdraw(caller, req.Assets, receiver, owner)
	if err != nil {
		a.writeError(w, "pool_withdraw", err)
		return
	}

	a.countOp("pool_withdraw", start)
	if a.metrics != nil {
		a.metrics.PoolWithdrawals.WithLabelValues("direct").Inc()
	}
	a.writeJSON(w, http.StatusOK, map[string]interface{}{
		"assets": req.Assets,
		"shares": shares,
	})
}

func (a *api) poolRedeem(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	start := time.Now()
	req, caller, err := a.decodePoolMove(r)
	if err != nil {
		a.writeError(w, "pool_redeem", err)
		return
	}
	receiver, owner, err := withdrawParties(req, caller)
	if err != nil {
		a.writeError(w, "pool_redeem", err)
		return
	}

	assets, err := a.pool.Redeem(caller, req.Shares, receiver, owner)
	if err != nil {
		a.writeError(w, "pool_redeem", err)
		return
	}

	a.countOp("pool_redeem", start)
	if a.metrics != nil {
		a.metrics.PoolWithdrawals.WithLabelValues("direct").Inc()
	}
	a.writeJSON(w, http.StatusOK, map[string]interface{}{
		"assets": assets,
		"shares": req.Shares,
	})
}

type approveSharesRequest struct {
	Owner   string `json:"owner"`
	Spender string `json:"spender"`
	Shares  uint64 `json:"shares"`
}

func (a *api) approveShares(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	start := time.Now()
	var req approveSharesRequest
	if err := decodeBody(r, &req); err != nil {
		a.writeError(w, "approve_shares", err)
		return
	}
	owner, err := parseIdentity(req.Owner, "owner")
	if err != nil {
		a.writeError(w, "approve_shares", err)
		return
	}
	spender, err := parseIdentity(req.Spender, "spender")
	if err != nil {
		a.writeError(w, "approve_shares", err)
		return
	}

	if err := a.pool.ApproveShares(owner, spender, req.Shares); err != nil {
		a.writeError(w, "approve_shares", err)
		return
	}

	a.countOp("approve_shares", start)
	a.writeJSON(w, http.StatusOK, map[string]interface{}{
		"owner":   owner,
		"spender": spender,
		"shares":  req.Shares,
	})
}

func (a *api) getPool(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	start := time.Now()
	resp, err := a.query.GetPool(r.Context())
	if err != nil {
		a.queryError(w, "get_pool", err)
		return
	}
	a.countQuery("get_pool", start)
	a.writeJSON(w, http.StatusOK, resp)
}

func (a *api) getShareholder(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	start := time.Now()
	holder, err := parseIdentity(pathParams["holder"], "holder")
	if err != nil {
		a.queryError(w, "get_shareholder", err)
		return
	}

	resp, err := a.query.GetShareholder(r.Context(), holder)
	if err != nil {
		a.queryError(w, "get_shareholder", err)
		return
	}
	a.countQuery("get_shareholder", start)
	a.writeJSON(w, http.StatusOK, resp)
}

// --- Stats & audit ---

func (a *api) getStats(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	start := time.Now()
	resp, err := a.query.GetStats(r.Context())
	if err != nil {
		a.queryError(w, "get_stats", err)
		return
	}
	a.countQuery("get_stats", start)
	a.writeJSON(w, http.StatusOK, resp)
}

func (a *api) listRecords(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	start := time.Now()
	q := r.URL.Query()

	var recordType *string
	if s := q.Get("type"); s != "" {
		recordType = &s
	}

	limit, before, err := parsePagination(q.Get("limit"), q.Get("before"))
	if err != nil {
		a.queryError(w, "list_records", err)
		return
	}
	var beforeSeq *int64
	if before != nil {
		v := int64(*before)
		beforeSeq = &v
	}

	records, err := a.query.ListRecords(r.Context(), recordType, limit, beforeSeq)
	if err != nil {
		a.queryError(w, "list_records", err)
		return
	}
	a.countQuery("list_records", start)
	a.writeJSON(w, http.StatusOK, map[string]interface{}{"records": records})
}

// --- helpers ---

func (a *api) decodePoolMove(r *http.Request) (poolMoveRequest, uuid.UUID, error) {
	var req poolMoveRequest
	if err := decodeBody(r, &req); err != nil {
		return req, uuid.Nil, err
	}
	caller, err := parseIdentity(req.Caller, "caller")
	if err != nil {
		return req, uuid.Nil, err
	}
	return req, caller, nil
}

func withdrawParties(req poolMoveRequest, caller uuid.UUID) (receiver, owner uuid.UUID, err error) {
	receiver, owner = caller, caller
	if req.Receiver != "" {
		if receiver, err = parseIdentity(req.Receiver, "receiver"); err != nil {
			return
		}
	}
	if req.Owner != "" {
		if owner, err = parseIdentity(req.Owner, "owner"); err != nil {
			return
		}
	}
	return
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode body: %v: %w", err, ledger.ErrInvalidInput)
	}
	return nil
}

func parseIdentity(s, field string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse %s %q: %w", field, s, ledger.ErrInvalidInput)
	}
	if id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%s is the zero identity: %w", field, ledger.ErrInvalidInput)
	}
	return id, nil
}

func parseUnixSeconds(s string) (int64, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("parse scheduled_time_unix %q: %w", s, ledger.ErrInvalidInput)
	}
	return v, nil
}

func parsePolicyID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("parse policy id %q: %w", s, ledger.ErrInvalidInput)
	}
	return id, nil
}

func parsePagination(limitStr, beforeStr string) (int, *uint64, error) {
	limit := defaultPageLimit
	if limitStr != "" {
		v, err := strconv.Atoi(limitStr)
		if err != nil || v <= 0 || v > 500 {
			return 0, nil, fmt.Errorf("parse limit %q: %w", limitStr, ledger.ErrInvalidInput)
		}
		limit = v
	}

	var before *uint64
	if beforeStr != "" {
		v, err := strconv.ParseUint(beforeStr, 10, 64)
		if err != nil {
			return 0, nil, fmt.Errorf("parse before %q: %w", beforeStr, ledger.ErrInvalidInput)
		}
		before = &v
	}
	return limit, before, nil
}

func (a *api) countOp(op string, start time.Time) {
	if a.metrics != nil {
		a.metrics.OpsApplied.WithLabelValues(op).Inc()
		a.metrics.OpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

func (a *api) countQuery(endpoint string, start time.Time) {
	if a.metrics != nil {
		a.metrics.QueryRequests.WithLabelValues(endpoint, "ok").Inc()
		a.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}
}

func (a *api) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Warn().Err(err).Msg("encode response")
	}
}

// writeError is the rejection path for ledger mutations; queryError is the
// same for the read endpoints, feeding the query metric family instead.
func (a *api) writeError(w http.ResponseWriter, op string, err error) {
	kind := ledger.Kind(err)
	if a.metrics != nil {
		a.metrics.OpsRejected.WithLabelValues(op, kind).Inc()
	}
	a.respondError(w, op, kind, err)
}

func (a *api) queryError(w http.ResponseWriter, endpoint string, err error) {
	kind := ledger.Kind(err)
	if a.metrics != nil {
		a.metrics.QueryRequests.WithLabelValues(endpoint, "error").Inc()
		a.metrics.QueryErrors.WithLabelValues(endpoint, kind).Inc()
	}
	a.respondError(w, endpoint, kind, err)
}

func (a *api) respondError(w http.ResponseWriter, op, kind string, err error) {
	status := httpStatus(kind)
	if status >= http.StatusInternalServerError {
		a.log.Error().Err(err).Str("op", op).Msg("request failed")
	}
	if ledger.Retryable(err) {
		w.Header().Set("Retry-After", "1")
	}
	a.writeJSON(w, status, map[string]interface{}{
		"error": err.Error(),
		"kind":  kind,
	})
}

func httpStatus(kind string) int {
	switch kind {
	case "invalid_input":
		return http.StatusBadRequest
	case "not_found":
		return http.StatusNotFound
	case "unauthorized":
		return http.StatusForbidden
	case "invalid_state":
		return http.StatusConflict
	case "insufficient_funds":
		return http.StatusUnprocessableEntity
	case "insufficient_backing":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
