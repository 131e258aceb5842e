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
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	gatewayauth "apxpool/gateway/auth"
)

// partnerRoutes accepts signed publisher requests and submits them to the
// facility under the gateway's own credential. Each API key may be pinned to
// a publisher address so a leaked secret cannot bill other publishers.
type partnerRoutes struct {
	target        *url.URL
	client        *http.Client
	timeout       time.Duration
	nextID        atomic.Int64
	upstreamToken string
	authenticator *gatewayauth.Authenticator
	bindings      map[string]string
}

type partnerCreateRequest struct {
	Publisher  string `json:"publisher"`
	Borrower   string `json:"borrower"`
	AmountUSDC string `json:"amountUsdc"`
	AppexBps   uint64 `json:"appexBps"`
	Note       string `json:"note,omitempty"`
}

func newPartnerRoutes(target *url.URL, upstreamToken string, authenticator *gatewayauth.Authenticator, bindings map[string]string) (*partnerRoutes, error) {
	if target == nil {
		return nil, fmt.Errorf("nil partner target")
	}
	cloned := *target
	if strings.TrimSpace(cloned.Scheme) == "" {
		return nil, fmt.Errorf("partner target scheme required")
	}
	if strings.TrimSpace(cloned.Host) == "" {
		return nil, fmt.Errorf("partner target host required")
	}
	if strings.TrimSpace(cloned.Path) == "" {
		cloned.Path = "/"
	}
	return &partnerRoutes{
		target:        &cloned,
		client:        &http.Client{Timeout: 15 * time.Second},
		timeout:       facilityDefaultTimeout,
		upstreamToken: strings.TrimSpace(upstreamToken),
		authenticator: authenticator,
		bindings:      bindings,
	}, nil
}

func (pr *partnerRoutes) mount(r chi.Router) {
	if pr == nil {
		return
	}
	r.Post("/requests", pr.createRequest)
}

func (pr *partnerRoutes) createRequest(w http.ResponseWriter, r *http.Request) {
	if pr == nil || pr.target == nil || pr.authenticator == nil {
		writeInternalError(w, errors.New("partner routes not configured"))
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, int64(gatewayauth.MaxBodyForSignature)+1))
	if err != nil {
		writeBadRequest(w, fmt.Errorf("read request body: %w", err))
		return
	}
	principal, err := pr.authenticator.Authenticate(r, body)
	if err != nil {
		writeJSONError(w, http.StatusUnauthorized, err)
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeBadRequest(w, errors.New("request body is empty"))
		return
	}

	var create partnerCreateRequest
	if err := json.Unmarshal(body, &create); err != nil {
		writeBadRequest(w, fmt.Errorf("decode request: %w", err))
		return
	}
	publisher := strings.TrimSpace(create.Publisher)
	if publisher == "" {
		writeBadRequest(w, errors.New("publisher is required"))
		return
	}
	if bound := strings.TrimSpace(pr.bindings[principal.APIKey]); bound != "" && !strings.EqualFold(bound, publisher) {
		writeJSONError(w, http.StatusForbidden, fmt.Errorf("api key %s is not authorized for publisher %s", principal.APIKey, publisher))
		return
	}

	resp, err := pr.call(r, "registry_createPaymentRequest", map[string]interface{}{
		"publisher":  publisher,
		"borrower":   strings.TrimSpace(create.Borrower),
		"amountUsdc": strings.TrimSpace(create.AmountUSDC),
		"appexBps":   create.AppexBps,
		"note":       create.Note,
	})
	if err != nil {
		writeInternalError(w, fmt.Errorf("registry_createPaymentRequest failed: %w", err))
		return
	}
	if resp.Error != nil {
		writeUpstreamError(w, resp)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if len(resp.Result) == 0 {
		_, _ = w.Write([]byte("null"))
		return
	}
	_, _ = w.Write(resp.Result)
}

func (pr *partnerRoutes) call(r *http.Request, method string, param interface{}) (*facilityRPCResponse, error) {
	payload, err := json.Marshal(facilityRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  []interface{}{param},
		ID:      pr.nextID.Add(1),
	})
	if err != nil {
		return nil, fmt.Errorf("encode rpc request: %w", err)
	}

	ctx, cancel := context.WithTimeout(r.Context(), pr.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, pr.target.String(), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if pr.upstreamToken != "" {
		req.Header.Set("Authorization", "Bearer "+pr.upstreamToken)
	}
	forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
	if remote := clientIP(r.RemoteAddr); remote != "" {
		if forwarded != "" {
			forwarded = fmt.Sprintf("%s, %s", forwarded, remote)
		} else {
			forwarded = remote
		}
	}
	if forwarded != "" {
		req.Header.Set("X-Forwarded-For", forwarded)
	}

	resp, err := pr.client.Do(req)
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
