package main

import (
	"flag"
	"fmt"
	"io"
	"strings"
)

var adminRPCCall = callRPC

func runAdminCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, adminUsage())
		return 1
	}

	switch args[0] {
	case "pause":
		return runAdminSetPaused("admin pause", true, args[1:], stdout, stderr)
	case "unpause":
		return runAdminSetPaused("admin unpause", false, args[1:], stdout, stderr)
	case "pauses":
		return runAdminPauses(args[1:], stdout, stderr)
	case "grant-role":
		return runAdminRoleChange("admin grant-role", "admin_grantRole", args[1:], stdout, stderr)
	case "revoke-role":
		return runAdminRoleChange("admin revoke-role", "admin_revokeRole", args[1:], stdout, stderr)
	case "role-members":
		return runAdminRoleMembers(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown admin subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, adminUsage())
		return 1
	}
}

func newAdminFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, adminUsage())
	}
	return fs
}

func runAdminSetPaused(name string, paused bool, args []string, stdout, stderr io.Writer) int {
	fs := newAdminFlagSet(name, stderr)
	var caller, module string
	fs.StringVar(&caller, "caller", "", "pauser bech32 address")
	fs.StringVar(&module, "module", "", "module to pause (deposits, redemptions, loans, staking)")
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
	if strings.TrimSpace(module) == "" {
		fmt.Fprintln(stderr, "Error: --module is required")
		return 1
	}
	params := map[string]interface{}{
		"caller": caller,
		"module": module,
		"paused": paused,
	}
	result, rpcErr, err := adminRPCCall("admin_setPaused", params, true)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runAdminPauses(args []string, stdout, stderr io.Writer) int {
	fs := newAdminFlagSet("admin pauses", stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	result, rpcErr, err := adminRPCCall("admin_pauses", nil, false)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runAdminRoleChange(name, method string, args []string, stdout, stderr io.Writer) int {
	fs := newAdminFlagSet(name, stderr)
	var caller, role, address string
	fs.StringVar(&caller, "caller", "", "admin bech32 address")
	fs.StringVar(&role, "role", "", "role name")
	fs.StringVar(&address, "address", "", "member bech32 address")
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
	if strings.TrimSpace(role) == "" {
		fmt.Fprintln(stderr, "Error: --role is required")
		return 1
	}
	if strings.TrimSpace(address) == "" {
		fmt.Fprintln(stderr, "Error: --address is required")
		return 1
	}
	params := map[string]interface{}{
		"caller":  caller,
		"role":    role,
		"address": address,
	}
	result, rpcErr, err := adminRPCCall(method, params, true)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runAdminRoleMembers(args []string, stdout, stderr io.Writer) int {
	fs := newAdminFlagSet("admin role-members", stderr)
	var role string
	fs.StringVar(&role, "role", "", "role name")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	if strings.TrimSpace(role) == "" {
		fmt.Fprintln(stderr, "Error: --role is required")
		return 1
	}
	params := map[string]interface{}{"role": role}
	result, rpcErr, err := adminRPCCall("admin_roleMembers", params, false)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func adminUsage() string {
	return strings.TrimSpace(`Usage:
  apxpool-cli admin <command> [flags]

Commands:
  pause         Pause a facility module
  unpause       Resume a paused module
  pauses        Show the pause switches
  grant-role    Grant a role to an address
  revoke-role   Revoke a role from an address
  role-members  List members of a role`)
}
