package main

import (
	"flag"
	"fmt"
	"io"
	"strings"
)

var registryRPCCall = callRPC

func runRegistryCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, registryUsage())
		return 1
	}

	switch args[0] {
	case "partner-register":
		return runRegistryPartnerRegister(args[1:], stdout, stderr)
	case "partner":
		return runRegistryPartner(args[1:], stdout, stderr)
	case "partners":
		return runRegistryPartners(args[1:], stdout, stderr)
	case "request-create":
		return runRegistryRequestCreate(args[1:], stdout, stderr)
	case "request":
		return runRegistryRequest(args[1:], stdout, stderr)
	case "requests":
		return runRegistryRequests(args[1:], stdout, stderr)
	case "request-resolve":
		return runRegistryRequestResolve(args[1:], stdout, stderr)
	case "request-fund":
		return runRegistryRequestFund(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown registry subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, registryUsage())
		return 1
	}
}

func newRegistryFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, registryUsage())
	}
	return fs
}

func runRegistryPartnerRegister(args []string, stdout, stderr io.Writer) int {
	fs := newRegistryFlagSet("registry partner-register", stderr)
	var address, name string
	fs.StringVar(&address, "address", "", "partner bech32 address")
	fs.StringVar(&name, "name", "", "partner display name")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	if strings.TrimSpace(address) == "" {
		fmt.Fprintln(stderr, "Error: --address is required")
		return 1
	}
	if strings.TrimSpace(name) == "" {
		fmt.Fprintln(stderr, "Error: --name is required")
		return 1
	}
	params := map[string]interface{}{
		"address": address,
		"name":    name,
	}
	result, rpcErr, err := registryRPCCall("registry_registerPartner", params, true)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runRegistryPartner(args []string, stdout, stderr io.Writer) int {
	fs := newRegistryFlagSet("registry partner", stderr)
	var address string
	fs.StringVar(&address, "address", "", "partner bech32 address")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	if strings.TrimSpace(address) == "" {
		fmt.Fprintln(stderr, "Error: --address is required")
		return 1
	}
	params := map[string]interface{}{"address": address}
	result, rpcErr, err := registryRPCCall("registry_getPartner", params, false)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runRegistryPartners(args []string, stdout, stderr io.Writer) int {
	fs := newRegistryFlagSet("registry partners", stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	result, rpcErr, err := registryRPCCall("registry_listPartners", nil, false)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runRegistryRequestCreate(args []string, stdout, stderr io.Writer) int {
	fs := newRegistryFlagSet("registry request-create", stderr)
	var publisher, borrower, amount, note string
	var appexBps uint64
	fs.StringVar(&publisher, "publisher", "", "publisher bech32 address")
	fs.StringVar(&borrower, "borrower", "", "borrower bech32 address")
	fs.StringVar(&amount, "amount", "", "payment amount in USDC base units")
	fs.Uint64Var(&appexBps, "appex-bps", 0, "APPEX reward leg in basis points")
	fs.StringVar(&note, "note", "", "optional free-form note")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	if strings.TrimSpace(publisher) == "" {
		fmt.Fprintln(stderr, "Error: --publisher is required")
		return 1
	}
	if strings.TrimSpace(borrower) == "" {
		fmt.Fprintln(stderr, "Error: --borrower is required")
		return 1
	}
	normalized, err := normalizeAmount("--amount", amount)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	params := map[string]interface{}{
		"publisher":  publisher,
		"borrower":   borrower,
		"amountUsdc": normalized,
		"appexBps":   appexBps,
	}
	if strings.TrimSpace(note) != "" {
		params["note"] = note
	}
	result, rpcErr, err := registryRPCCall("registry_createPaymentRequest", params, true)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runRegistryRequest(args []string, stdout, stderr io.Writer) int {
	fs := newRegistryFlagSet("registry request", stderr)
	var id string
	fs.StringVar(&id, "id", "", "payment request identifier")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	if strings.TrimSpace(id) == "" {
		fmt.Fprintln(stderr, "Error: --id is required")
		return 1
	}
	params := map[string]interface{}{"id": id}
	result, rpcErr, err := registryRPCCall("registry_getPaymentRequest", params, false)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runRegistryRequests(args []string, stdout, stderr io.Writer) int {
	fs := newRegistryFlagSet("registry requests", stderr)
	var status string
	fs.StringVar(&status, "status", "", "filter by status (pending, funded, rejected)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	var params interface{}
	if strings.TrimSpace(status) != "" {
		params = map[string]interface{}{"status": status}
	}
	result, rpcErr, err := registryRPCCall("registry_listPaymentRequests", params, false)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runRegistryRequestResolve(args []string, stdout, stderr io.Writer) int {
	fs := newRegistryFlagSet("registry request-resolve", stderr)
	var id, status string
	fs.StringVar(&id, "id", "", "payment request identifier")
	fs.StringVar(&status, "status", "", "resolution status (funded, rejected)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	if strings.TrimSpace(id) == "" {
		fmt.Fprintln(stderr, "Error: --id is required")
		return 1
	}
	if strings.TrimSpace(status) == "" {
		fmt.Fprintln(stderr, "Error: --status is required")
		return 1
	}
	params := map[string]interface{}{
		"id":     id,
		"status": status,
	}
	result, rpcErr, err := registryRPCCall("registry_resolvePaymentRequest", params, true)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runRegistryRequestFund(args []string, stdout, stderr io.Writer) int {
	fs := newRegistryFlagSet("registry request-fund", stderr)
	var id string
	var termDays uint64
	fs.StringVar(&id, "id", "", "payment request identifier")
	fs.Uint64Var(&termDays, "term-days", 0, "loan term in days")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	if strings.TrimSpace(id) == "" {
		fmt.Fprintln(stderr, "Error: --id is required")
		return 1
	}
	if termDays == 0 {
		fmt.Fprintln(stderr, "Error: --term-days is required")
		return 1
	}
	params := map[string]interface{}{
		"id":       id,
		"termDays": termDays,
	}
	result, rpcErr, err := registryRPCCall("registry_fundPaymentRequest", params, true)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func registryUsage() string {
	return strings.TrimSpace(`Usage:
  apxpool-cli registry <command> [flags]

Commands:
  partner-register  Register a partner address
  partner           Show a registered partner
  partners          List registered partners
  request-create    Create a publisher payment request
  request           Show a payment request
  requests          List payment requests
  request-resolve   Approve, reject, or cancel a payment request
  request-fund      Fund a pending payment request from a credit line`)
}
