package main

import (
	"flag"
	"fmt"
	"io"
	"strings"
)

var stakingRPCCall = callRPC

func runStakingCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, stakingUsage())
		return 1
	}

	switch args[0] {
	case "stake":
		return runStakingStake(args[1:], stdout, stderr)
	case "unstake":
		return runStakingUnstake(args[1:], stdout, stderr)
	case "distribute":
		return runStakingDistribute(args[1:], stdout, stderr)
	case "claim":
		return runStakingClaim(args[1:], stdout, stderr)
	case "position":
		return runStakingPosition(args[1:], stdout, stderr)
	case "positions":
		return runStakingPositions(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown staking subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, stakingUsage())
		return 1
	}
}

func newStakingFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, stakingUsage())
	}
	return fs
}

func runStakingStake(args []string, stdout, stderr io.Writer) int {
	fs := newStakingFlagSet("staking stake", stderr)
	var staker, amount string
	var lockDays uint64
	fs.StringVar(&staker, "staker", "", "staker bech32 address")
	fs.StringVar(&amount, "amount", "", "APPEX amount in base units")
	fs.Uint64Var(&lockDays, "lock-days", 0, "lock duration in days")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	if strings.TrimSpace(staker) == "" {
		fmt.Fprintln(stderr, "Error: --staker is required")
		return 1
	}
	normalized, err := normalizeAmount("--amount", amount)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	params := map[string]interface{}{
		"staker":   staker,
		"amount":   normalized,
		"lockDays": lockDays,
	}
	result, rpcErr, err := stakingRPCCall("staking_stake", params, true)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runStakingUnstake(args []string, stdout, stderr io.Writer) int {
	fs := newStakingFlagSet("staking unstake", stderr)
	var staker, amount string
	fs.StringVar(&staker, "staker", "", "staker bech32 address")
	fs.StringVar(&amount, "amount", "", "APPEX amount in base units")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	if strings.TrimSpace(staker) == "" {
		fmt.Fprintln(stderr, "Error: --staker is required")
		return 1
	}
	normalized, err := normalizeAmount("--amount", amount)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	params := map[string]interface{}{
		"staker": staker,
		"amount": normalized,
	}
	result, rpcErr, err := stakingRPCCall("staking_unstake", params, true)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runStakingDistribute(args []string, stdout, stderr io.Writer) int {
	fs := newStakingFlagSet("staking distribute", stderr)
	var caller, amount string
	fs.StringVar(&caller, "caller", "", "admin role bech32 address")
	fs.StringVar(&amount, "amount", "", "USDC reward amount in base units")
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
	normalized, err := normalizeAmount("--amount", amount)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	params := map[string]interface{}{
		"caller": caller,
		"amount": normalized,
	}
	result, rpcErr, err := stakingRPCCall("staking_distribute", params, true)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runStakingClaim(args []string, stdout, stderr io.Writer) int {
	fs := newStakingFlagSet("staking claim", stderr)
	var staker string
	fs.StringVar(&staker, "staker", "", "staker bech32 address")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	if strings.TrimSpace(staker) == "" {
		fmt.Fprintln(stderr, "Error: --staker is required")
		return 1
	}
	params := map[string]interface{}{"staker": staker}
	result, rpcErr, err := stakingRPCCall("staking_claim", params, true)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runStakingPosition(args []string, stdout, stderr io.Writer) int {
	fs := newStakingFlagSet("staking position", stderr)
	var staker string
	fs.StringVar(&staker, "staker", "", "staker bech32 address")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	if strings.TrimSpace(staker) == "" {
		fmt.Fprintln(stderr, "Error: --staker is required")
		return 1
	}
	params := map[string]interface{}{"staker": staker}
	result, rpcErr, err := stakingRPCCall("staking_position", params, false)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runStakingPositions(args []string, stdout, stderr io.Writer) int {
	fs := newStakingFlagSet("staking positions", stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	result, rpcErr, err := stakingRPCCall("staking_positions", nil, false)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func stakingUsage() string {
	return strings.TrimSpace(`Usage:
  apxpool-cli staking <command> [flags]

Commands:
  stake       Stake APPEX with an optional lock tier
  unstake     Withdraw unlocked APPEX
  distribute  Distribute USDC fee rewards to stakers (admin)
  claim       Claim pending staking rewards
  position    Show one staking position
  positions   List all staking positions`)
}
