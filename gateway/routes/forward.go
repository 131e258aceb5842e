package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const forwardRequestLimit = 1 << 20 // 1 MiB

// rpcMethodPrefixes lists the module namespaces callers may reach through
// the gateway. admin_ methods stay on the operator loopback.
var rpcMethodPrefixes = []string{"apx_", "credit_", "staking_", "gov_", "registry_"}

// rpcForwarder relays JSON-RPC envelopes to the facility after the gateway
// has authenticated the caller. The facility's own bearer token is attached
// here so gateway credentials never travel upstream.
type rpcForwarder struct {
	target    *url.URL
	client    *http.Client
	timeout   time.Duration
	authToken string
}

type rpcEnvelope struct {
	JSONRPC string            `json:"jsonrpc,omitempty"`
	ID      json.RawMessage   `json:"id,omitempty"`
	Method  string            `json:"method,omitempty"`
	Params  []json.RawMessage `json:"params"`
}

func newRPCForwarder(target *url.URL, authToken string) (*rpcForwarder, error) {
	if target == nil {
		return nil, fmt.Errorf("nil forwarder target")
	}
	cloned := *target
	if strings.TrimSpace(cloned.Scheme) == "" {
		return nil, fmt.Errorf("forwarder target scheme required")
	}
	if strings.TrimSpace(cloned.Host) == "" {
		return nil, fmt.Errorf("forwarder target host required")
	}
	if strings.TrimSpace(cloned.Path) == "" {
		cloned.Path = "/"
	}
	return &rpcForwarder{
		target:    &cloned,
		client:    &http.Client{Timeout: 15 * time.Second},
		timeout:   10 * time.Second,
		authToken: strings.TrimSpace(authToken),
	}, nil
}

func (rf *rpcForwarder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if rf == nil || rf.target == nil {
		writeInternalError(w, errors.New("rpc forwarder misconfigured"))
		return
	}
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, errors.New("POST required"))
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, forwardRequestLimit))
	if err != nil {
		writeBadRequest(w, fmt.Errorf("read request body: %w", err))
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeBadRequest(w, errors.New("request body is empty"))
		return
	}

	var envelope rpcEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		writeBadRequest(w, fmt.Errorf("decode request: %w", err))
		return
	}
	if envelope.JSONRPC == "" {
		envelope.JSONRPC = "2.0"
	}
	method := strings.TrimSpace(envelope.Method)
	if method == "" {
		writeBadRequest(w, errors.New("method required"))
		return
	}
	if !methodAllowed(method) {
		writeJSONError(w, http.StatusForbidden, fmt.Errorf("method %q not allowed through the gateway", method))
		return
	}
	envelope.Method = method

	forwardBody, err := json.Marshal(envelope)
	if err != nil {
		writeInternalError(w, fmt.Errorf("encode upstream request: %w", err))
		return
	}

	ctx, cancel := rf.context(r.Context())
	defer cancel()

	forwardReq, err := http.NewRequestWithContext(ctx, http.MethodPost, rf.target.String(), bytes.NewReader(forwardBody))
	if err != nil {
		writeInternalError(w, fmt.Errorf("build upstream request: %w", err))
		return
	}
	forwardReq.Header.Set("Content-Type", "application/json")
	if rf.authToken != "" {
		forwardReq.Header.Set("Authorization", "Bearer "+rf.authToken)
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
		forwardReq.Header.Set("X-Forwarded-For", forwarded)
	}

	resp, err := rf.client.Do(forwardReq)
	if err != nil {
		writeInternalError(w, fmt.Errorf("forward request: %w", err))
		return
	}
	defer resp.Body.Close()

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

func (rf *rpcForwarder) context(parent context.Context) (context.Context, context.CancelFunc) {
	timeout := rf.timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(parent, timeout)
}

func methodAllowed(method string) bool {
	for _, prefix := range rpcMethodPrefixes {
		if strings.HasPrefix(method, prefix) {
			return true
		}
	}
	return false
}

func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		// Skip Content-Length so the server recomputes it for the relayed body.
		if strings.EqualFold(key, "Content-Length") {
			continue
		}
		dst.Del(key)
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

func clientIP(addr string) string {
	host := strings.TrimSpace(addr)
	if host == "" {
		return ""
	}
	if parsedHost, _, err := net.SplitHostPort(host); err == nil {
		host = parsedHost
	}
	return strings.TrimSpace(host)
}
