package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
)

// facilityRoutes bridges the public REST surface onto the facility's
// JSON-RPC reads. Reads are open upstream, so no credential is attached.
type facilityRoutes struct {
	target  *url.URL
	client  *http.Client
	timeout time.Duration
	nextID  atomic.Int64
}

type facilityRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      int64       `json:"id"`
}

type facilityRPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type facilityRPCResponse struct {
	JSONRPC string            `json:"jsonrpc"`
	Result  json.RawMessage   `json:"result"`
	Error   *facilityRPCError `json:"error"`
	status  int
}

const (
	facilityDefaultTimeout = 10 * time.Second
	codeInvalidParams      = -32602
)

func newFacilityRoutes(target *url.URL) (*facilityRoutes, error) {
	if target == nil {
		return nil, fmt.Errorf("nil facility target")
	}
	cloned := *target
	if strings.TrimSpace(cloned.Scheme) == "" {
		return nil, fmt.Errorf("facility target scheme required")
	}
	if strings.TrimSpace(cloned.Host) == "" {
		return nil, fmt.Errorf("facility target host required")
	}
	if strings.TrimSpace(cloned.Path) == "" {
		cloned.Path = "/"
	}
	return &facilityRoutes{
		target:  &cloned,
		client:  &http.Client{Timeout: 15 * time.Second},
		timeout: facilityDefaultTimeout,
	}, nil
}

func (fr *facilityRoutes) mount(r chi.Router) {
	if fr == nil {
		return
	}
	r.Get("/pool/stats", fr.poolStats)
	r.Get("/pool/breakdown", fr.poolBreakdown)
	r.Get("/pool/redemptions", fr.pendingRedemptions)
	r.Get("/pool/redemptions/{redemptionID}", fr.getRedemption)
	r.Get("/credit/loans", fr.activeLoans)
	r.Get("/credit/loans/{loanID}", fr.getLoan)
	r.Get("/credit/borrowers", fr.listBorrowers)
	r.Get("/credit/borrowers/{address}", fr.getBorrower)
	r.Get("/credit/borrowers/{address}/loans", fr.borrowerLoans)
	r.Get("/credit/config", fr.creditConfig)
	r.Get("/staking/positions", fr.stakingPositions)
	r.Get("/staking/positions/{address}", fr.stakingPosition)
	r.Get("/gov/proposals", fr.listProposals)
	r.Get("/gov/proposals/{proposalID}", fr.getProposal)
	r.Get("/gov/quorum", fr.quorum)
	r.Get("/registry/partners", fr.listPartners)
	r.Get("/registry/partners/{address}", fr.getPartner)
	r.Get("/registry/requests", fr.listPaymentRequests)
	r.Get("/registry/requests/{requestID}", fr.getPaymentRequest)
}

func (fr *facilityRoutes) poolStats(w http.ResponseWriter, r *http.Request) {
	fr.relay(w, r, "apx_getStats", nil)
}

func (fr *facilityRoutes) poolBreakdown(w http.ResponseWriter, r *http.Request) {
	fr.relay(w, r, "apx_getBreakdown", nil)
}

func (fr *facilityRoutes) pendingRedemptions(w http.ResponseWriter, r *http.Request) {
	fr.relay(w, r, "apx_pendingRedemptions", nil)
}

func (fr *facilityRoutes) getRedemption(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "redemptionID"), 10, 64)
	if err != nil {
		writeBadRequest(w, errors.New("redemption id must be numeric"))
		return
	}
	fr.relayItem(w, r, "apx_getRedemption", map[string]uint64{"id": id}, "redemption")
}

func (fr *facilityRoutes) activeLoans(w http.ResponseWriter, r *http.Request) {
	fr.relay(w, r, "credit_activeLoans", nil)
}

func (fr *facilityRoutes) getLoan(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "loanID"), 10, 64)
	if err != nil {
		writeBadRequest(w, errors.New("loan id must be numeric"))
		return
	}
	fr.relayItem(w, r, "credit_getLoan", map[string]uint64{"loanId": id}, "loan")
}

func (fr *facilityRoutes) listBorrowers(w http.ResponseWriter, r *http.Request) {
	fr.relay(w, r, "credit_listBorrowers", nil)
}

func (fr *facilityRoutes) getBorrower(w http.ResponseWriter, r *http.Request) {
	address := strings.TrimSpace(chi.URLParam(r, "address"))
	if address == "" {
		writeBadRequest(w, errors.New("address is required"))
		return
	}
	fr.relayItem(w, r, "credit_getBorrower", map[string]string{"borrower": address}, "borrower")
}

func (fr *facilityRoutes) borrowerLoans(w http.ResponseWriter, r *http.Request) {
	address := strings.TrimSpace(chi.URLParam(r, "address"))
	if address == "" {
		writeBadRequest(w, errors.New("address is required"))
		return
	}
	fr.relayItem(w, r, "credit_borrowerLoans", map[string]string{"borrower": address}, "borrower")
}

func (fr *facilityRoutes) creditConfig(w http.ResponseWriter, r *http.Request) {
	fr.relay(w, r, "credit_config", nil)
}

func (fr *facilityRoutes) stakingPositions(w http.ResponseWriter, r *http.Request) {
	fr.relay(w, r, "staking_positions", nil)
}

func (fr *facilityRoutes) stakingPosition(w http.ResponseWriter, r *http.Request) {
	address := strings.TrimSpace(chi.URLParam(r, "address"))
	if address == "" {
		writeBadRequest(w, errors.New("address is required"))
		return
	}
	fr.relayItem(w, r, "staking_position", map[string]string{"staker": address}, "staking position")
}

func (fr *facilityRoutes) listProposals(w http.ResponseWriter, r *http.Request) {
	fr.relay(w, r, "gov_listProposals", nil)
}

func (fr *facilityRoutes) getProposal(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "proposalID"))
	if id == "" {
		writeBadRequest(w, errors.New("proposal id is required"))
		return
	}
	fr.relayItem(w, r, "gov_getProposal", map[string]string{"proposalId": id}, "proposal")
}

func (fr *facilityRoutes) quorum(w http.ResponseWriter, r *http.Request) {
	fr.relay(w, r, "gov_quorum", nil)
}

func (fr *facilityRoutes) listPartners(w http.ResponseWriter, r *http.Request) {
	fr.relay(w, r, "registry_listPartners", nil)
}

func (fr *facilityRoutes) getPartner(w http.ResponseWriter, r *http.Request) {
	address := strings.TrimSpace(chi.URLParam(r, "address"))
	if address == "" {
		writeBadRequest(w, errors.New("address is required"))
		return
	}
	fr.relayItem(w, r, "registry_getPartner", map[string]string{"address": address}, "partner")
}

func (fr *facilityRoutes) listPaymentRequests(w http.ResponseWriter, r *http.Request) {
	var params interface{}
	if status := strings.TrimSpace(r.URL.Query().Get("status")); status != "" {
		params = map[string]string{"status": status}
	}
	fr.relay(w, r, "registry_listPaymentRequests", params)
}

func (fr *facilityRoutes) getPaymentRequest(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "requestID"))
	if id == "" {
		writeBadRequest(w, errors.New("request id is required"))
		return
	}
	fr.relayItem(w, r, "registry_getPaymentRequest", map[string]string{"id": id}, "payment request")
}

// relay forwards a read and mirrors the upstream result or error verbatim.
func (fr *facilityRoutes) relay(w http.ResponseWriter, r *http.Request, method string, param interface{}) {
	resp, err := fr.call(r, method, param)
	if err != nil {
		writeInternalError(w, fmt.Errorf("%s failed: %w", method, err))
		return
	}
	if resp.Error != nil {
		writeUpstreamError(w, resp)
		return
	}
	writeResult(w, resp.Result)
}

// relayItem behaves like relay but translates parameter rejections on
// single-resource lookups into REST 404s.
func (fr *facilityRoutes) relayItem(w http.ResponseWriter, r *http.Request, method string, param interface{}, resource string) {
	resp, err := fr.call(r, method, param)
	if err != nil {
		writeInternalError(w, fmt.Errorf("%s failed: %w", method, err))
		return
	}
	if resp.Error != nil {
		if resp.Error.Code == codeInvalidParams || resp.status == http.StatusNotFound {
			writeJSONError(w, http.StatusNotFound, fmt.Errorf("%s not found", resource))
			return
		}
		writeUpstreamError(w, resp)
		return
	}
	writeResult(w, resp.Result)
}

func (fr *facilityRoutes) call(r *http.Request, method string, param interface{}) (*facilityRPCResponse, error) {
	if fr == nil || fr.target == nil {
		return nil, errors.New("facility routes not configured")
	}
	params := []interface{}{}
	if param != nil {
		params = append(params, param)
	}
	payload, err := json.Marshal(facilityRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      fr.nextID.Add(1),
	})
	if err != nil {
		return nil, fmt.Errorf("encode rpc request: %w", err)
	}

	ctx, cancel := context.WithTimeout(r.Context(), fr.requestTimeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fr.target.String(), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); forwarded != "" {
		req.Header.Set("X-Forwarded-For", forwarded)
	}

	resp, err := fr.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("perform rpc request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read rpc response: %w", err)
	}
	var rpcResp facilityRPCResponse
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return nil, fmt.Errorf("decode rpc response: %w", err)
	}
	rpcResp.status = resp.StatusCode
	return &rpcResp, nil
}

func (fr *facilityRoutes) requestTimeout() time.Duration {
	if fr.timeout <= 0 {
		return facilityDefaultTimeout
	}
	return fr.timeout
}

func writeResult(w http.ResponseWriter, result json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if len(result) == 0 {
		_, _ = w.Write([]byte("null"))
		return
	}
	_, _ = w.Write(result)
}

func writeUpstreamError(w http.ResponseWriter, resp *facilityRPCResponse) {
	status := resp.status
	if status < http.StatusBadRequest {
		status = http.StatusInternalServerError
	}
	writeJSONError(w, status, errors.New(resp.Error.Message))
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSONError(w, http.StatusBadRequest, err)
}

func writeInternalError(w http.ResponseWriter, err error) {
	writeJSONError(w, http.StatusInternalServerError, err)
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	message := strings.TrimSpace(err.Error())
	if message == "" {
		message = http.StatusText(status)
	}
	payload, marshalErr := json.Marshal(map[string]string{"error": message})
	if marshalErr != nil {
		replacer := strings.NewReplacer(
			"\\", "\\\\",
			"\"", "\\\"",
			"\n", "\\n",
			"\r", "\\r",
			"\t", "\\t",
		)
		payload = []byte(fmt.Sprintf("{\"error\":\"%s\"}", replacer.Replace(message)))
	}
	_, _ = w.Write(payload)
}
