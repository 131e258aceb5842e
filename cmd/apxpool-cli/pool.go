package main

import (
	"flag"
	"fmt"
	"io"
	"strings"
)

var poolRPCCall = callRPC

func runPoolCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, poolUsage())
		return 1
	}

	switch args[0] {
	case "deposit":
		return runPoolDeposit(args[1:], stdout, stderr)
	case "redeem":
		return runPoolRedeem(args[1:], stdout, stderr)
	case "process":
		return runPoolNoArg("pool process", "apx_processRedemptions", true, args[1:], stdout, stderr)
	case "accrue":
		return runPoolNoArg("pool accrue", "apx_accrueFees", true, args[1:], stdout, stderr)
	case "withdraw-fees":
		return runPoolWithdrawFees(args[1:], stdout, stderr)
	case "fund-treasury":
		return runPoolFundTreasury(args[1:], stdout, stderr)
	case "stats":
		return runPoolNoArg("pool stats", "apx_getStats", false, args[1:], stdout, stderr)
	case "breakdown":
		return runPoolNoArg("pool breakdown", "apx_getBreakdown", false, args[1:], stdout, stderr)
	case "queue":
		return runPoolNoArg("pool queue", "apx_pendingRedemptions", false, args[1:], stdout, stderr)
	case "redemption":
		return runPoolRedemption(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown pool subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, poolUsage())
		return 1
	}
}

func newPoolFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, poolUsage())
	}
	return fs
}

func runPoolDeposit(args []string, stdout, stderr io.Writer) int {
	fs := newPoolFlagSet("pool deposit", stderr)
	var provider, amount string
	fs.StringVar(&provider, "provider", "", "liquidity provider bech32 address")
	fs.StringVar(&amount, "amount", "", "USDC amount in base units")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	if strings.TrimSpace(provider) == "" {
		fmt.Fprintln(stderr, "Error: --provider is required")
		return 1
	}
	normalized, err := normalizeAmount("--amount", amount)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	params := map[string]interface{}{
		"provider": provider,
		"amount":   normalized,
	}
	result, rpcErr, err := poolRPCCall("apx_deposit", params, true)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runPoolRedeem(args []string, stdout, stderr io.Writer) int {
	fs := newPoolFlagSet("pool redeem", stderr)
	var provider, shares string
	fs.StringVar(&provider, "provider", "", "liquidity provider bech32 address")
	fs.StringVar(&shares, "shares", "", "share amount to queue for redemption")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	if strings.TrimSpace(provider) == "" {
		fmt.Fprintln(stderr, "Error: --provider is required")
		return 1
	}
	normalized, err := normalizeAmount("--shares", shares)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	params := map[string]interface{}{
		"provider": provider,
		"shares":   normalized,
	}
	result, rpcErr, err := poolRPCCall("apx_requestRedemption", params, true)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runPoolWithdrawFees(args []string, stdout, stderr io.Writer) int {
	fs := newPoolFlagSet("pool withdraw-fees", stderr)
	var caller, recipient, amount string
	fs.StringVar(&caller, "caller", "", "treasury role bech32 address")
	fs.StringVar(&recipient, "recipient", "", "destination bech32 address")
	fs.StringVar(&amount, "amount", "", "USDC amount in base units (defaults to the full balance)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	if strings.TrimSpace(caller) == "" {
		fmt.Fprintln(stderr, "Error: --caller is required")
		return 1
	}
	if strings.TrimSpace(recipient) == "" {
		fmt.Fprintln(stderr, "Error: --recipient is required")
		return 1
	}
	params := map[string]interface{}{
		"caller":    caller,
		"recipient": recipient,
	}
	if strings.TrimSpace(amount) != "" {
		normalized, err := normalizeAmount("--amount", amount)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		params["amount"] = normalized
	}
	result, rpcErr, err := poolRPCCall("apx_withdrawProtocolFees", params, true)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runPoolFundTreasury(args []string, stdout, stderr io.Writer) int {
	fs := newPoolFlagSet("pool fund-treasury", stderr)
	var funder, amount string
	fs.StringVar(&funder, "funder", "", "funder bech32 address")
	fs.StringVar(&amount, "amount", "", "APPEX amount in base units")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	if strings.TrimSpace(funder) == "" {
		fmt.Fprintln(stderr, "Error: --funder is required")
		return 1
	}
	normalized, err := normalizeAmount("--amount", amount)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	params := map[string]interface{}{
		"funder": funder,
		"amount": normalized,
	}
	result, rpcErr, err := poolRPCCall("apx_fundTreasury", params, true)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runPoolRedemption(args []string, stdout, stderr io.Writer) int {
	fs := newPoolFlagSet("pool redemption", stderr)
	var id uint64
	fs.Uint64Var(&id, "id", 0, "redemption request identifier")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	if id == 0 {
		fmt.Fprintln(stderr, "Error: --id is required")
		return 1
	}
	params := map[string]interface{}{"id": id}
	result, rpcErr, err := poolRPCCall("apx_getRedemption", params, false)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runPoolNoArg(name, method string, requireAuth bool, args []string, stdout, stderr io.Writer) int {
	fs := newPoolFlagSet(name, stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	result, rpcErr, err := poolRPCCall(method, nil, requireAuth)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func poolUsage() string {
	return strings.TrimSpace(`Usage:
  apxpool-cli pool <command> [flags]

Commands:
  deposit        Deposit USDC and mint pool shares
  redeem         Queue pool shares for redemption
  process        Settle due redemption requests from today's capacity
  accrue         Accrue outstanding loan fees into the pool accounting
  withdraw-fees  Withdraw collected protocol fees to a recipient
  fund-treasury  Fund the APPEX conversion treasury
  stats          Show pool accounting statistics
  breakdown      Show the full balance-sheet breakdown
  queue          List pending redemption requests
  redemption     Show a single redemption request`)
}
