package rpc

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"apxpool/core"
	"apxpool/observability"
	"apxpool/rpc/modules"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	authTokenEnv    = "APX_RPC_TOKEN"

	// Mutating methods share a per-source budget; reads are uncapped.
	rateLimitWindow       = time.Minute
	maxMutationsPerWindow = 30
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020
)

type Server struct {
	facility *core.Facility

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	authToken string

	vault      *modules.VaultModule
	credit     *modules.CreditModule
	staking    *modules.StakingModule
	governance *modules.GovernanceModule
	admin      *modules.AdminModule
	registry   *modules.RegistryModule
}

func NewServer(facility *core.Facility) *Server {
	token := strings.TrimSpace(os.Getenv(authTokenEnv))
	return &Server{
		facility:   facility,
		limiters:   make(map[string]*rate.Limiter),
		authToken:  token,
		vault:      modules.NewVaultModule(facility),
		credit:     modules.NewCreditModule(facility),
		staking:    modules.NewStakingModule(facility),
		governance: modules.NewGovernanceModule(facility),
		admin:      modules.NewAdminModule(facility),
		registry:   modules.NewRegistryModule(facility),
	}
}

// Handler returns the full RPC surface: JSON-RPC at the root, the event
// stream under /ws/events and prometheus under /metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	mux.HandleFunc("/ws/events", s.handleEventsWS)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func (s *Server) Start(addr string) error {
	slog.Info("starting JSON-RPC server", "addr", addr)
	return http.ListenAndServe(addr, s.Handler())
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeModuleError(w http.ResponseWriter, id interface{}, err *modules.ModuleError) {
	if err == nil {
		writeError(w, http.StatusInternalServerError, id, codeServerError, "internal error", nil)
		return
	}
	status := err.HTTPStatus
	if status <= 0 {
		status = http.StatusBadRequest
	}
	code := err.Code
	if code == 0 {
		code = codeServerError
	}
	writeError(w, status, id, code, err.Message, err.Data)
}

// statusWriter remembers the response code so the latency histogram can
// label outcomes without re-parsing the body.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
	method := "unknown"
	defer func() {
		code := 0
		if sw.status >= http.StatusBadRequest {
			code = sw.status
		}
		observability.RPCMetrics().Observe(method, code, time.Since(started))
	}()

	reader := http.MaxBytesReader(sw, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	sw.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
			observability.RPCMetrics().RecordThrottle("payload_too_large")
		}
		writeError(sw, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(sw, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(sw, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(sw, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(sw, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}
	method = req.Method

	switch req.Method {
	case "apx_deposit":
		if !s.admit(sw, r, req) {
			return
		}
		s.handleDeposit(sw, r, req)
	case "apx_requestRedemption":
		if !s.admit(sw, r, req) {
			return
		}
		s.handleRequestRedemption(sw, r, req)
	case "apx_processRedemptions":
		if !s.admit(sw, r, req) {
			return
		}
		s.handleProcessRedemptions(sw, r, req)
	case "apx_accrueFees":
		if !s.admit(sw, r, req) {
			return
		}
		s.handleAccrueFees(sw, r, req)
	case "apx_withdrawProtocolFees":
		if !s.admit(sw, r, req) {
			return
		}
		s.handleWithdrawProtocolFees(sw, r, req)
	case "apx_fundTreasury":
		if !s.admit(sw, r, req) {
			return
		}
		s.handleFundTreasury(sw, r, req)
	case "apx_getStats":
		s.handleGetStats(sw, r, req)
	case "apx_getBreakdown":
		s.handleGetBreakdown(sw, r, req)
	case "apx_pendingRedemptions":
		s.handlePendingRedemptions(sw, r, req)
	case "apx_getRedemption":
		s.handleGetRedemption(sw, r, req)
	case "credit_approveBorrower":
		if !s.admit(sw, r, req) {
			return
		}
		s.handleApproveBorrower(sw, r, req)
	case "credit_revokeBorrower":
		if !s.admit(sw, r, req) {
			return
		}
		s.handleRevokeBorrower(sw, r, req)
	case "credit_createLoan":
		if !s.admit(sw, r, req) {
			return
		}
		s.handleCreateLoan(sw, r, req)
	case "credit_repayLoan":
		if !s.admit(sw, r, req) {
			return
		}
		s.handleRepayLoan(sw, r, req)
	case "credit_payProtocolFee":
		if !s.admit(sw, r, req) {
			return
		}
		s.handlePayProtocolFee(sw, r, req)
	case "credit_getLoan":
		s.handleGetLoan(sw, r, req)
	case "credit_activeLoans":
		s.handleActiveLoans(sw, r, req)
	case "credit_borrowerLoans":
		s.handleBorrowerLoans(sw, r, req)
	case "credit_getBorrower":
		s.handleGetBorrower(sw, r, req)
	case "credit_listBorrowers":
		s.handleListBorrowers(sw, r, req)
	case "credit_config":
		s.handleCreditConfig(sw, r, req)
	case "staking_stake":
		if !s.admit(sw, r, req) {
			return
		}
		s.handleStake(sw, r, req)
	case "staking_unstake":
		if !s.admit(sw, r, req) {
			return
		}
		s.handleUnstake(sw, r, req)
	case "staking_distribute":
		if !s.admit(sw, r, req) {
			return
		}
		s.handleDistribute(sw, r, req)
	case "staking_claim":
		if !s.admit(sw, r, req) {
			return
		}
		s.handleClaim(sw, r, req)
	case "staking_position":
		s.handleStakingPosition(sw, r, req)
	case "staking_positions":
		s.handleStakingPositions(sw, r, req)
	case "gov_proposeBorrower":
		if !s.admit(sw, r, req) {
			return
		}
		s.handleProposeBorrower(sw, r, req)
	case "gov_proposeParam":
		if !s.admit(sw, r, req) {
			return
		}
		s.handleProposeParam(sw, r, req)
	case "gov_approve":
		if !s.admit(sw, r, req) {
			return
		}
		s.handleApproveProposal(sw, r, req)
	case "gov_execute":
		if !s.admit(sw, r, req) {
			return
		}
		s.handleExecuteProposal(sw, r, req)
	case "gov_getProposal":
		s.handleGetProposal(sw, r, req)
	case "gov_listProposals":
		s.handleListProposals(sw, r, req)
	case "gov_quorum":
		s.handleGovernanceQuorum(sw, r, req)
	case "admin_setPaused":
		if !s.admit(sw, r, req) {
			return
		}
		s.handleSetPaused(sw, r, req)
	case "admin_pauses":
		s.handlePauses(sw, r, req)
	case "admin_grantRole":
		if !s.admit(sw, r, req) {
			return
		}
		s.handleGrantRole(sw, r, req)
	case "admin_revokeRole":
		if !s.admit(sw, r, req) {
			return
		}
		s.handleRevokeRole(sw, r, req)
	case "admin_roleMembers":
		s.handleRoleMembers(sw, r, req)
	case "registry_registerPartner":
		if !s.admit(sw, r, req) {
			return
		}
		s.handleRegisterPartner(sw, r, req)
	case "registry_getPartner":
		s.handleGetPartner(sw, r, req)
	case "registry_listPartners":
		s.handleListPartners(sw, r, req)
	case "registry_createPaymentRequest":
		if !s.admit(sw, r, req) {
			return
		}
		s.handleCreatePaymentRequest(sw, r, req)
	case "registry_getPaymentRequest":
		s.handleGetPaymentRequest(sw, r, req)
	case "registry_listPaymentRequests":
		s.handleListPaymentRequests(sw, r, req)
	case "registry_resolvePaymentRequest":
		if !s.admit(sw, r, req) {
			return
		}
		s.handleResolvePaymentRequest(sw, r, req)
	case "registry_fundPaymentRequest":
		if !s.admit(sw, r, req) {
			return
		}
		s.handleFundPaymentRequest(sw, r, req)
	default:
		writeError(sw, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %s", req.Method), nil)
	}
}

// admit gates mutating methods behind the bearer token and the per-source
// rate budget.
func (s *Server) admit(w http.ResponseWriter, r *http.Request, req *RPCRequest) bool {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return false
	}
	if !s.allowSource(clientSource(r)) {
		observability.RPCMetrics().RecordThrottle("rate_limit")
		writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "mutation rate limit exceeded", nil)
		return false
	}
	return true
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return &RPCError{Code: codeUnauthorized, Message: "RPC authentication token not configured"}
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	return nil
}

func (s *Server) allowSource(source string) bool {
	if source == "" {
		source = "unknown"
	}
	s.mu.Lock()
	limiter, ok := s.limiters[source]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(rateLimitWindow/maxMutationsPerWindow), maxMutationsPerWindow)
		s.limiters[source] = limiter
	}
	s.mu.Unlock()
	return limiter.Allow()
}

func clientSource(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			candidate := strings.TrimSpace(parts[0])
			if candidate != "" {
				return candidate
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
