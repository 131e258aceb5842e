package main

import (
	"flag"
	"fmt"
	"io"
	"strings"
)

var creditRPCCall = callRPC

func runCreditCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, creditUsage())
		return 1
	}

	switch args[0] {
	case "approve":
		return runCreditApprove(args[1:], stdout, stderr)
	case "revoke":
		return runCreditRevoke(args[1:], stdout, stderr)
	case "loan-create":
		return runCreditLoanCreate(args[1:], stdout, stderr)
	case "loan-repay":
		return runCreditLoanRepay(args[1:], stdout, stderr)
	case "pay-fee":
		return runCreditPayFee(args[1:], stdout, stderr)
	case "loan":
		return runCreditLoan(args[1:], stdout, stderr)
	case "loans":
		return runCreditNoArg("credit loans", "credit_activeLoans", args[1:], stdout, stderr)
	case "borrower-loans":
		return runCreditBorrowerLoans(args[1:], stdout, stderr)
	case "borrower":
		return runCreditBorrower(args[1:], stdout, stderr)
	case "borrowers":
		return runCreditNoArg("credit borrowers", "credit_listBorrowers", args[1:], stdout, stderr)
	case "config":
		return runCreditNoArg("credit config", "credit_config", args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown credit subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, creditUsage())
		return 1
	}
}

func newCreditFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, creditUsage())
	}
	return fs
}

func runCreditApprove(args []string, stdout, stderr io.Writer) int {
	fs := newCreditFlagSet("credit approve", stderr)
	var caller, borrower, limit string
	var lpYieldBps, protocolFeeBps uint64
	fs.StringVar(&caller, "caller", "", "admin role bech32 address")
	fs.StringVar(&borrower, "borrower", "", "borrower bech32 address")
	fs.StringVar(&limit, "limit", "", "borrow limit in USDC base units")
	fs.Uint64Var(&lpYieldBps, "lp-yield-bps", 0, "LP yield in basis points")
	fs.Uint64Var(&protocolFeeBps, "protocol-fee-bps", 0, "protocol fee in basis points")
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
	if strings.TrimSpace(borrower) == "" {
		fmt.Fprintln(stderr, "Error: --borrower is required")
		return 1
	}
	normalized, err := normalizeAmount("--limit", limit)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	params := map[string]interface{}{
		"caller":         caller,
		"borrower":       borrower,
		"borrowLimit":    normalized,
		"lpYieldBps":     lpYieldBps,
		"protocolFeeBps": protocolFeeBps,
	}
	result, rpcErr, err := creditRPCCall("credit_approveBorrower", params, true)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runCreditRevoke(args []string, stdout, stderr io.Writer) int {
	fs := newCreditFlagSet("credit revoke", stderr)
	var caller, borrower string
	fs.StringVar(&caller, "caller", "", "admin role bech32 address")
	fs.StringVar(&borrower, "borrower", "", "borrower bech32 address")
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
	if strings.TrimSpace(borrower) == "" {
		fmt.Fprintln(stderr, "Error: --borrower is required")
		return 1
	}
	params := map[string]interface{}{
		"caller":   caller,
		"borrower": borrower,
	}
	result, rpcErr, err := creditRPCCall("credit_revokeBorrower", params, true)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runCreditLoanCreate(args []string, stdout, stderr io.Writer) int {
	fs := newCreditFlagSet("credit loan-create", stderr)
	var borrower, publisher, principal string
	var termDays, rewardBps uint64
	fs.StringVar(&borrower, "borrower", "", "borrower bech32 address")
	fs.StringVar(&publisher, "publisher", "", "publisher bech32 address")
	fs.StringVar(&principal, "principal", "", "loan principal in USDC base units")
	fs.Uint64Var(&termDays, "term-days", 0, "loan term in days")
	fs.Uint64Var(&rewardBps, "reward-bps", 0, "publisher reward share in basis points")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	if strings.TrimSpace(borrower) == "" {
		fmt.Fprintln(stderr, "Error: --borrower is required")
		return 1
	}
	if strings.TrimSpace(publisher) == "" {
		fmt.Fprintln(stderr, "Error: --publisher is required")
		return 1
	}
	normalized, err := normalizeAmount("--principal", principal)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	params := map[string]interface{}{
		"borrower":  borrower,
		"publisher": publisher,
		"principal": normalized,
		"termDays":  termDays,
		"rewardBps": rewardBps,
	}
	result, rpcErr, err := creditRPCCall("credit_createLoan", params, true)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runCreditLoanRepay(args []string, stdout, stderr io.Writer) int {
	fs := newCreditFlagSet("credit loan-repay", stderr)
	var caller string
	var id uint64
	fs.StringVar(&caller, "caller", "", "borrower bech32 address")
	fs.Uint64Var(&id, "id", 0, "loan identifier")
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
	if id == 0 {
		fmt.Fprintln(stderr, "Error: --id is required")
		return 1
	}
	params := map[string]interface{}{
		"caller": caller,
		"loanId": id,
	}
	result, rpcErr, err := creditRPCCall("credit_repayLoan", params, true)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runCreditPayFee(args []string, stdout, stderr io.Writer) int {
	fs := newCreditFlagSet("credit pay-fee", stderr)
	var caller string
	var id uint64
	var inAppex bool
	fs.StringVar(&caller, "caller", "", "borrower bech32 address")
	fs.Uint64Var(&id, "id", 0, "loan identifier")
	fs.BoolVar(&inAppex, "appex", false, "settle the protocol fee in APPEX instead of USDC")
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
	if id == 0 {
		fmt.Fprintln(stderr, "Error: --id is required")
		return 1
	}
	params := map[string]interface{}{
		"caller":  caller,
		"loanId":  id,
		"inAppex": inAppex,
	}
	result, rpcErr, err := creditRPCCall("credit_payProtocolFee", params, true)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runCreditLoan(args []string, stdout, stderr io.Writer) int {
	fs := newCreditFlagSet("credit loan", stderr)
	var id uint64
	fs.Uint64Var(&id, "id", 0, "loan identifier")
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
	params := map[string]interface{}{"loanId": id}
	result, rpcErr, err := creditRPCCall("credit_getLoan", params, false)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runCreditBorrowerLoans(args []string, stdout, stderr io.Writer) int {
	fs := newCreditFlagSet("credit borrower-loans", stderr)
	var borrower string
	fs.StringVar(&borrower, "borrower", "", "borrower bech32 address")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	if strings.TrimSpace(borrower) == "" {
		fmt.Fprintln(stderr, "Error: --borrower is required")
		return 1
	}
	params := map[string]interface{}{"borrower": borrower}
	result, rpcErr, err := creditRPCCall("credit_borrowerLoans", params, false)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runCreditBorrower(args []string, stdout, stderr io.Writer) int {
	fs := newCreditFlagSet("credit borrower", stderr)
	var borrower string
	fs.StringVar(&borrower, "borrower", "", "borrower bech32 address")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	if strings.TrimSpace(borrower) == "" {
		fmt.Fprintln(stderr, "Error: --borrower is required")
		return 1
	}
	params := map[string]interface{}{"borrower": borrower}
	result, rpcErr, err := creditRPCCall("credit_getBorrower", params, false)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runCreditNoArg(name, method string, args []string, stdout, stderr io.Writer) int {
	fs := newCreditFlagSet(name, stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	result, rpcErr, err := creditRPCCall(method, nil, false)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func creditUsage() string {
	return strings.TrimSpace(`Usage:
  apxpool-cli credit <command> [flags]

Commands:
  approve         Approve a borrower credit line (admin)
  revoke          Revoke a borrower credit line (admin)
  loan-create     Draw a loan that pays a publisher
  loan-repay      Repay an active loan
  pay-fee         Settle the protocol fee for a repaid loan
  loan            Show a single loan
  loans           List active loans
  borrower-loans  List loans for one borrower
  borrower        Show a borrower credit line
  borrowers       List approved borrowers
  config          Show credit module configuration`)
}
