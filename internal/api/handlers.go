package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/ocx/agentrep/internal/address"
	"github.com/ocx/agentrep/internal/ledger"
	"github.com/ocx/agentrep/internal/middleware"
	"github.com/ocx/agentrep/internal/reputation"
)

const healthCheckTimeout = 3 * time.Second

var errMissingIdentity = errors.New("missing " + middleware.IdentityHeader + " header")

// caller returns the identity the request acts as.
func caller(r *http.Request) (address.Address, error) {
	h := r.Header.Get(middleware.IdentityHeader)
	if h == "" {
		return address.Zero, errMissingIdentity
	}
	return address.ParseAddress(h)
}

// requireCaller writes an error and returns false unless the request carries
// an identity equal to want.
func requireCaller(w http.ResponseWriter, r *http.Request, want address.Address) bool {
	id, err := caller(r)
	switch {
	case errors.Is(err, errMissingIdentity):
		writeError(w, http.StatusUnauthorized, "missing_identity", err.Error())
		return false
	case err != nil:
		writeError(w, http.StatusBadRequest, "invalid_identity", err.Error())
		return false
	case id != want:
		writeError(w, http.StatusForbidden, "forbidden", "caller does not own this record")
		return false
	}
	return true
}

func pathAddress(w http.ResponseWriter, r *http.Request, name string) (address.Address, bool) {
	a, err := address.ParseAddress(mux.Vars(r)[name])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_address", name+": "+err.Error())
		return address.Zero, false
	}
	return a, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return false
	}
	return true
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code, name := classify(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error("[API] Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeError(w, code, name, err.Error())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	body := map[string]interface{}{
		"uptime": time.Since(s.started).Round(time.Second).String(),
	}
	if len(s.checks) > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		deps := make(map[string]string, len(s.checks))
		for name, check := range s.checks {
			if err := check(ctx); err != nil {
				deps[name] = err.Error()
				status, code = "degraded", http.StatusServiceUnavailable
				continue
			}
			deps[name] = "ok"
		}
		body["dependencies"] = deps
	}
	body["status"] = status
	if s.audit != nil {
		body["audit_entries"] = s.audit.Len()
	}
	if s.stream != nil {
		body["stream_clients"] = s.stream.ClientCount()
	}
	writeJSON(w, code, body)
}

// ---- Protocol ----

type initializeRequest struct {
	ReputationMint           address.Address `json:"reputation_mint"`
	MinReputationForVouching uint64          `json:"min_reputation_for_vouching"`
	DecayRatePerDay          uint64          `json:"decay_rate_per_day"`
	VouchLockupPeriod        int64           `json:"vouch_lockup_period"`
}

// handleInitialize makes the caller the protocol authority.
func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	authority, err := caller(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing_identity", err.Error())
		return
	}
	var req initializeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	cfg, err := s.program.Initialize(r.Context(), reputation.InitializeParams{
		Authority:                authority,
		ReputationMint:           req.ReputationMint,
		MinReputationForVouching: req.MinReputationForVouching,
		DecayRatePerDay:          req.DecayRatePerDay,
		VouchLockupPeriod:        req.VouchLockupPeriod,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, cfg)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.program.GetConfig(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// ---- Agents ----

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	owner, err := caller(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing_identity", err.Error())
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	profile, err := s.program.Register(r.Context(), owner, req.Name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, profile)
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.program.ListAgents(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if agents == nil {
		agents = []*reputation.AgentProfile{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"agents": agents, "count": len(agents)})
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	owner, ok := pathAddress(w, r, "owner")
	if !ok {
		return
	}
	profile, err := s.program.GetProfile(r.Context(), owner)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleGetReputation(w http.ResponseWriter, r *http.Request) {
	owner, ok := pathAddress(w, r, "owner")
	if !ok {
		return
	}
	score, err := s.program.GetReputation(r.Context(), owner)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"owner": owner, "reputation_score": score})
}

func (s *Server) handleVouchBonus(w http.ResponseWriter, r *http.Request) {
	owner, ok := pathAddress(w, r, "owner")
	if !ok {
		return
	}
	bonus, err := s.program.VouchBonus(r.Context(), owner)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"owner": owner, "vouch_bonus": bonus})
}

// ---- Tasks ----

type completeTaskRequest struct {
	TaskID           string `json:"task_id"`
	ReputationAmount uint64 `json:"reputation_amount"`
}

func (s *Server) handleCompleteTask(w http.ResponseWriter, r *http.Request) {
	owner, ok := pathAddress(w, r, "owner")
	if !ok || !requireCaller(w, r, owner) {
		return
	}
	var req completeTaskRequest
	if !decodeBody(w, r, &req) {
		return
	}
	task, err := s.program.CompleteTask(r.Context(), owner, req.TaskID, req.ReputationAmount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	owner, ok := pathAddress(w, r, "owner")
	if !ok {
		return
	}
	task, err := s.program.GetTaskRecord(r.Context(), owner, mux.Vars(r)["taskId"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// handleApplyDecay is permissionless.
func (s *Server) handleApplyDecay(w http.ResponseWriter, r *http.Request) {
	owner, ok := pathAddress(w, r, "owner")
	if !ok {
		return
	}
	res, err := s.program.ApplyDecay(r.Context(), owner)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ---- Vouches ----

type vouchRequest struct {
	Target     address.Address `json:"target"`
	Amount     uint64          `json:"amount"`
	IsPositive bool            `json:"is_positive"`
}

// handleVouch opens a vouch from the caller on the target.
func (s *Server) handleVouch(w http.ResponseWriter, r *http.Request) {
	voucher, err := caller(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing_identity", err.Error())
		return
	}
	var req vouchRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var v *reputation.VouchRecord
	if req.IsPositive {
		v, err = s.program.VouchFor(r.Context(), voucher, req.Target, req.Amount)
	} else {
		v, err = s.program.VouchAgainst(r.Context(), voucher, req.Target, req.Amount)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (s *Server) handleGetVouch(w http.ResponseWriter, r *http.Request) {
	voucher, ok := pathAddress(w, r, "voucher")
	if !ok {
		return
	}
	target, ok := pathAddress(w, r, "target")
	if !ok {
		return
	}
	v, err := s.program.GetVouchRecord(r.Context(), voucher, target)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	cfg, err := s.program.GetConfig(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	at, err := reputation.WithdrawableAt(v, cfg)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"vouch":           v,
		"state":           reputation.VouchState(v, cfg, s.program.Now().Unix()).String(),
		"withdrawable_at": at,
	})
}

func (s *Server) handleWithdrawVouch(w http.ResponseWriter, r *http.Request) {
	voucher, ok := pathAddress(w, r, "voucher")
	if !ok || !requireCaller(w, r, voucher) {
		return
	}
	target, ok := pathAddress(w, r, "target")
	if !ok {
		return
	}
	v, err := s.program.WithdrawVouch(r.Context(), voucher, target)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// ---- Audit ----

func (s *Server) handleAuditRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"root":    s.audit.Root(),
		"entries": s.audit.Len(),
	})
}

func (s *Server) handleAuditEntry(w http.ResponseWriter, r *http.Request) {
	i, err := strconv.ParseUint(mux.Vars(r)["index"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_index", err.Error())
		return
	}
	entry, err := s.audit.Entry(i)
	if errors.Is(err, ledger.ErrIndexOutOfRange) {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	proof, err := s.audit.Proof(i)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entry": entry,
		"proof": proof,
		"root":  s.audit.Root(),
	})
}
