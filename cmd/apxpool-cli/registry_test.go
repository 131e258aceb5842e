package main

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestRegistryRequestCreateParams(t *testing.T) {
	t.Run("note_included", func(t *testing.T) {
		originalCall := registryRPCCall
		registryRPCCall = func(method string, params interface{}, requireAuth bool) (json.RawMessage, *rpcError, error) {
			if method != "registry_createPaymentRequest" {
				t.Fatalf("unexpected method: %s", method)
			}
			if !requireAuth {
				t.Fatal("payment request creation must require auth")
			}
			expected := map[string]interface{}{
				"publisher":  testLPAddress,
				"borrower":   testLPAddress,
				"amountUsdc": "75000000000",
				"appexBps":   uint64(2000),
				"note":       "august invoices",
			}
			if diff := diffParams(params, expected); diff != "" {
				t.Fatalf("unexpected params diff: %s", diff)
			}
			return json.RawMessage(`{"id":"4f8b1c1e-58c5-4f6a-9d3e-0c6a7b9f2d41"}`), nil, nil
		}
		defer func() { registryRPCCall = originalCall }()

		stdout := &bytes.Buffer{}
		stderr := &bytes.Buffer{}
		args := []string{
			"request-create",
			"--publisher", testLPAddress,
			"--borrower", testLPAddress,
			"--amount", "75000e6",
			"--appex-bps", "2000",
			"--note", "august invoices",
		}
		exitCode := runRegistryCommand(args, stdout, stderr)
		if exitCode != 0 {
			t.Fatalf("unexpected exit code: got %d, want 0", exitCode)
		}
		if stderr.Len() != 0 {
			t.Fatalf("expected empty stderr, got %q", stderr.String())
		}
	})

	t.Run("note_omitted", func(t *testing.T) {
		originalCall := registryRPCCall
		registryRPCCall = func(method string, params interface{}, requireAuth bool) (json.RawMessage, *rpcError, error) {
			expected := map[string]interface{}{
				"publisher":  testLPAddress,
				"borrower":   testLPAddress,
				"amountUsdc": "75000000000",
				"appexBps":   uint64(2000),
			}
			if diff := diffParams(params, expected); diff != "" {
				t.Fatalf("unexpected params diff: %s", diff)
			}
			return json.RawMessage(`{"id":"4f8b1c1e-58c5-4f6a-9d3e-0c6a7b9f2d41"}`), nil, nil
		}
		defer func() { registryRPCCall = originalCall }()

		stdout := &bytes.Buffer{}
		stderr := &bytes.Buffer{}
		args := []string{
			"request-create",
			"--publisher", testLPAddress,
			"--borrower", testLPAddress,
			"--amount", "75000e6",
			"--appex-bps", "2000",
		}
		exitCode := runRegistryCommand(args, stdout, stderr)
		if exitCode != 0 {
			t.Fatalf("unexpected exit code: got %d, want 0", exitCode)
		}
	})
}

func TestRegistryRequestsStatusFilter(t *testing.T) {
	t.Run("unfiltered", func(t *testing.T) {
		originalCall := registryRPCCall
		registryRPCCall = func(method string, params interface{}, requireAuth bool) (json.RawMessage, *rpcError, error) {
			if method != "registry_listPaymentRequests" {
				t.Fatalf("unexpected method: %s", method)
			}
			if requireAuth {
				t.Fatal("listing must not require auth")
			}
			if params != nil {
				t.Fatalf("expected nil params, got %v", params)
			}
			return json.RawMessage(`[]`), nil, nil
		}
		defer func() { registryRPCCall = originalCall }()

		stdout := &bytes.Buffer{}
		stderr := &bytes.Buffer{}
		exitCode := runRegistryCommand([]string{"requests"}, stdout, stderr)
		if exitCode != 0 {
			t.Fatalf("unexpected exit code: got %d, want 0", exitCode)
		}
	})

	t.Run("by_status", func(t *testing.T) {
		originalCall := registryRPCCall
		registryRPCCall = func(method string, params interface{}, requireAuth bool) (json.RawMessage, *rpcError, error) {
			expected := map[string]interface{}{"status": "pending"}
			if diff := diffParams(params, expected); diff != "" {
				t.Fatalf("unexpected params diff: %s", diff)
			}
			return json.RawMessage(`[]`), nil, nil
		}
		defer func() { registryRPCCall = originalCall }()

		stdout := &bytes.Buffer{}
		stderr := &bytes.Buffer{}
		exitCode := runRegistryCommand([]string{"requests", "--status", "pending"}, stdout, stderr)
		if exitCode != 0 {
			t.Fatalf("unexpected exit code: got %d, want 0", exitCode)
		}
	})
}

func TestRegistryRequestFundValidation(t *testing.T) {
	originalCall := registryRPCCall
	registryRPCCall = func(method string, params interface{}, requireAuth bool) (json.RawMessage, *rpcError, error) {
		t.Fatalf("unexpected RPC call for method %s", method)
		return nil, nil, nil
	}
	defer func() { registryRPCCall = originalCall }()

	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	args := []string{"request-fund", "--id", "4f8b1c1e-58c5-4f6a-9d3e-0c6a7b9f2d41"}
	exitCode := runRegistryCommand(args, stdout, stderr)
	if exitCode != 1 {
		t.Fatalf("unexpected exit code: got %d, want 1", exitCode)
	}
	want := "Error: --term-days is required\n"
	if stderr.String() != want {
		t.Fatalf("unexpected stderr: got %q, want %q", stderr.String(), want)
	}
}
