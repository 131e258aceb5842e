package compat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const compatRequestLimit = 1 << 20 // 1 MiB

// Rewriter translates legacy method names inside JSON-RPC envelopes before
// they reach the forwarder. Responses to translated calls carry deprecation
// headers so callers can find the migration plan.
type Rewriter struct {
	aliases map[string]string
	notice  DeprecationNotice
}

func NewRewriter(aliases map[string]string) *Rewriter {
	if aliases == nil {
		aliases = DefaultAliases
	}
	return &Rewriter{aliases: aliases, notice: DefaultNotice()}
}

type compatEnvelope struct {
	JSONRPC string          `json:"jsonrpc,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Middleware rewrites aliased methods and passes everything else through
// untouched. Payloads it cannot parse are left for the next handler to
// reject with a proper JSON-RPC error.
func (rw *Rewriter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rw == nil || r.Method != http.MethodPost || r.Body == nil {
			next.ServeHTTP(w, r)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, compatRequestLimit))
		if err != nil {
			restoreBody(r, nil)
			next.ServeHTTP(w, r)
			return
		}
		trimmed := bytes.TrimSpace(body)
		if len(trimmed) == 0 || trimmed[0] != '{' {
			restoreBody(r, body)
			next.ServeHTTP(w, r)
			return
		}
		var envelope compatEnvelope
		if err := json.Unmarshal(trimmed, &envelope); err != nil {
			restoreBody(r, body)
			next.ServeHTTP(w, r)
			return
		}
		legacy := strings.TrimSpace(envelope.Method)
		current, ok := rw.aliases[legacy]
		if !ok {
			restoreBody(r, body)
			next.ServeHTTP(w, r)
			return
		}
		envelope.Method = current
		rewritten, err := json.Marshal(envelope)
		if err != nil {
			restoreBody(r, body)
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("X-Deprecated-Method", legacy)
		if rw.notice.Phase != "" {
			w.Header().Set("X-Deprecation-Phase", rw.notice.Phase)
		}
		if rw.notice.Warning != "" {
			w.Header().Set("Warning", fmt.Sprintf("299 - %q", rw.notice.Warning))
		}
		if rw.notice.Link != "" {
			w.Header().Set("Link", fmt.Sprintf("<%s>; rel=\"deprecation\"", rw.notice.Link))
		}
		restoreBody(r, rewritten)
		next.ServeHTTP(w, r)
	})
}

func restoreBody(r *http.Request, body []byte) {
	r.Body = io.NopCloser(bytes.NewReader(body))
	r.ContentLength = int64(len(body))
}
