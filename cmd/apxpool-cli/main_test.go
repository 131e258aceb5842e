package main

import (
	"errors"
	"net/http"
	"strings"
	"testing"
)

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func TestCallRPCDialErrorIncludesEndpointAndCause(t *testing.T) {
	originalEndpoint := rpcEndpoint
	rpcEndpoint = "http://test.invalid"
	defer func() { rpcEndpoint = originalEndpoint }()

	originalClient := http.DefaultClient
	http.DefaultClient = &http.Client{Transport: roundTripperFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("dial tcp 127.0.0.1:8080: connect: connection refused (test stub)")
	})}
	defer func() { http.DefaultClient = originalClient }()

	_, _, err := callRPC("apx_getStats", nil, false)
	if err == nil {
		t.Fatal("expected transport error")
	}
	if !strings.Contains(err.Error(), "POST http://test.invalid") {
		t.Fatalf("expected error to include endpoint, got %q", err.Error())
	}
	if !strings.Contains(err.Error(), "connection refused (test stub)") {
		t.Fatalf("expected error to include underlying cause, got %q", err.Error())
	}
}

func TestPrivilegedCallRequiresToken(t *testing.T) {
	originalToken := rpcAuthToken
	rpcAuthToken = ""
	defer func() { rpcAuthToken = originalToken }()

	_, _, err := callRPC("apx_deposit", map[string]interface{}{"provider": "apx1qqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqq9uq0"}, true)
	if err == nil {
		t.Fatal("expected error when APX_RPC_TOKEN is unset")
	}
	if !strings.Contains(err.Error(), "APX_RPC_TOKEN") {
		t.Fatalf("expected error to mention APX_RPC_TOKEN, got %q", err.Error())
	}
}

func TestApplyGlobalFlags(t *testing.T) {
	originalEndpoint := rpcEndpoint
	defer func() { rpcEndpoint = originalEndpoint }()

	t.Run("separate_value", func(t *testing.T) {
		rpcEndpoint = "http://localhost:8080"
		rest, err := applyGlobalFlags([]string{"--rpc", "http://10.0.0.5:9090", "pool", "stats"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rpcEndpoint != "http://10.0.0.5:9090" {
			t.Fatalf("unexpected endpoint: %q", rpcEndpoint)
		}
		if len(rest) != 2 || rest[0] != "pool" || rest[1] != "stats" {
			t.Fatalf("unexpected remaining args: %v", rest)
		}
	})

	t.Run("equals_form", func(t *testing.T) {
		rpcEndpoint = "http://localhost:8080"
		rest, err := applyGlobalFlags([]string{"pool", "--rpc=http://10.0.0.5:9090", "stats"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rpcEndpoint != "http://10.0.0.5:9090" {
			t.Fatalf("unexpected endpoint: %q", rpcEndpoint)
		}
		if len(rest) != 2 || rest[0] != "pool" || rest[1] != "stats" {
			t.Fatalf("unexpected remaining args: %v", rest)
		}
	})

	t.Run("missing_value", func(t *testing.T) {
		rpcEndpoint = "http://localhost:8080"
		if _, err := applyGlobalFlags([]string{"pool", "--rpc"}); err == nil {
			t.Fatal("expected error for dangling --rpc")
		}
	})
}

func TestNormalizeAmount(t *testing.T) {
	cases := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{input: "100", want: "100"},
		{input: "00100", want: "100"},
		{input: "250000e6", want: "250000000000"},
		{input: "0.5e6", want: "500000"},
		{input: "1_000_000", want: "1000000"},
		{input: "1.0", want: "1"},
		{input: "", want: "0"},
		{input: "1.23e-1", wantErr: true},
		{input: "-10", wantErr: true},
		{input: "10usdc", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.input, func(t *testing.T) {
			got, err := normalizeAmount("--amount", tc.input)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error for input %q", tc.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("unexpected result: got %q, want %q", got, tc.want)
			}
		})
	}
}
