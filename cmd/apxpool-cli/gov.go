package main

import (
	"flag"
	"fmt"
	"io"
	"strings"
)

var govRPCCall = callRPC

func runGovCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, govUsage())
		return 1
	}

	switch args[0] {
	case "propose-borrower":
		return runGovProposeBorrower(args[1:], stdout, stderr)
	case "propose-param":
		return runGovProposeParam(args[1:], stdout, stderr)
	case "approve":
		return runGovProposalAction("gov approve", "gov_approve", args[1:], stdout, stderr)
	case "execute":
		return runGovProposalAction("gov execute", "gov_execute", args[1:], stdout, stderr)
	case "show":
		return runGovShow(args[1:], stdout, stderr)
	case "list":
		return runGovNoArg("gov list", "gov_listProposals", args[1:], stdout, stderr)
	case "quorum":
		return runGovNoArg("gov quorum", "gov_quorum", args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown gov subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, govUsage())
		return 1
	}
}

func newGovFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, govUsage())
	}
	return fs
}

func runGovProposeBorrower(args []string, stdout, stderr io.Writer) int {
	fs := newGovFlagSet("gov propose-borrower", stderr)
	var proposer, borrower, limit string
	var lpYieldBps, protocolFeeBps uint64
	fs.StringVar(&proposer, "proposer", "", "governor bech32 address")
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
	if strings.TrimSpace(proposer) == "" {
		fmt.Fprintln(stderr, "Error: --proposer is required")
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
		"proposer":       proposer,
		"borrower":       borrower,
		"borrowLimit":    normalized,
		"lpYieldBps":     lpYieldBps,
		"protocolFeeBps": protocolFeeBps,
	}
	result, rpcErr, err := govRPCCall("gov_proposeBorrower", params, true)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runGovProposeParam(args []string, stdout, stderr io.Writer) int {
	fs := newGovFlagSet("gov propose-param", stderr)
	var proposer, key, value string
	fs.StringVar(&proposer, "proposer", "", "governor bech32 address")
	fs.StringVar(&key, "key", "", "facility parameter key")
	fs.StringVar(&value, "value", "", "proposed parameter value")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	if strings.TrimSpace(proposer) == "" {
		fmt.Fprintln(stderr, "Error: --proposer is required")
		return 1
	}
	if strings.TrimSpace(key) == "" {
		fmt.Fprintln(stderr, "Error: --key is required")
		return 1
	}
	if strings.TrimSpace(value) == "" {
		fmt.Fprintln(stderr, "Error: --value is required")
		return 1
	}
	params := map[string]interface{}{
		"proposer": proposer,
		"key":      key,
		"value":    value,
	}
	result, rpcErr, err := govRPCCall("gov_proposeParam", params, true)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runGovProposalAction(name, method string, args []string, stdout, stderr io.Writer) int {
	fs := newGovFlagSet(name, stderr)
	var caller, id string
	fs.StringVar(&caller, "caller", "", "governor bech32 address")
	fs.StringVar(&id, "id", "", "proposal identifier")
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
	if strings.TrimSpace(id) == "" {
		fmt.Fprintln(stderr, "Error: --id is required")
		return 1
	}
	params := map[string]interface{}{
		"caller":     caller,
		"proposalId": id,
	}
	result, rpcErr, err := govRPCCall(method, params, true)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runGovShow(args []string, stdout, stderr io.Writer) int {
	fs := newGovFlagSet("gov show", stderr)
	var id string
	fs.StringVar(&id, "id", "", "proposal identifier")
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
	params := map[string]interface{}{"proposalId": id}
	result, rpcErr, err := govRPCCall("gov_getProposal", params, false)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runGovNoArg(name, method string, args []string, stdout, stderr io.Writer) int {
	fs := newGovFlagSet(name, stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	result, rpcErr, err := govRPCCall(method, nil, false)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func govUsage() string {
	return strings.TrimSpace(`Usage:
  apxpool-cli gov <command> [flags]

Commands:
  propose-borrower  Propose a borrower credit line change
  propose-param     Propose a facility parameter change
  approve           Approve a pending proposal
  execute           Execute a proposal past its timelock
  show              Show proposal details
  list              List proposals
  quorum            Show the approval quorum`)
}
