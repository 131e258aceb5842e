package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"apxpool/cmd/internal/passphrase"
	"apxpool/crypto"
)

const keystorePassEnv = "APX_OPERATOR_PASS"

// keysPassphrase is swapped out by tests so they do not prompt.
var keysPassphrase = func() (string, error) {
	return passphrase.NewSource(keystorePassEnv).Get()
}

func runKeysCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, keysUsage())
		return 1
	}

	switch args[0] {
	case "generate":
		return runKeysGenerate(args[1:], stdout, stderr)
	case "import":
		return runKeysImport(args[1:], stdout, stderr)
	case "show":
		return runKeysShow(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown keys subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, keysUsage())
		return 1
	}
}

func newKeysFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, keysUsage())
	}
	return fs
}

func runKeysGenerate(args []string, stdout, stderr io.Writer) int {
	fs := newKeysFlagSet("keys generate", stderr)
	var out string
	fs.StringVar(&out, "out", "operator.keystore", "keystore output path")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	if _, err := os.Stat(out); err == nil {
		fmt.Fprintf(stderr, "Error: refusing to overwrite existing keystore %s\n", out)
		return 1
	}

	pass, err := keysPassphrase()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		fmt.Fprintf(stderr, "Error generating key: %v\n", err)
		return 1
	}
	if err := crypto.SaveToKeystore(out, key, pass); err != nil {
		fmt.Fprintf(stderr, "Error saving keystore: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "Generated new operator key in %s\n", out)
	fmt.Fprintf(stdout, "Operator address: %s\n", key.PubKey().Address().String())
	fmt.Fprintln(stdout, "Store the keystore and passphrase securely; both are required to operate the facility.")
	return 0
}

func runKeysImport(args []string, stdout, stderr io.Writer) int {
	fs := newKeysFlagSet("keys import", stderr)
	var keyHex string
	var out string
	fs.StringVar(&keyHex, "hex", "", "private key material as hex")
	fs.StringVar(&out, "out", "operator.keystore", "keystore output path")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	trimmed := strings.TrimSpace(keyHex)
	if trimmed == "" {
		fmt.Fprintln(stderr, "Error: --hex is required")
		return 1
	}
	trimmed = strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		fmt.Fprintf(stderr, "Error: invalid key hex: %v\n", err)
		return 1
	}
	key, err := crypto.PrivateKeyFromBytes(raw)
	if err != nil {
		fmt.Fprintf(stderr, "Error: invalid key material: %v\n", err)
		return 1
	}
	if _, err := os.Stat(out); err == nil {
		fmt.Fprintf(stderr, "Error: refusing to overwrite existing keystore %s\n", out)
		return 1
	}

	pass, err := keysPassphrase()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if err := crypto.SaveToKeystore(out, key, pass); err != nil {
		fmt.Fprintf(stderr, "Error saving keystore: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "Imported operator key into %s\n", out)
	fmt.Fprintf(stdout, "Operator address: %s\n", key.PubKey().Address().String())
	fmt.Fprintln(stdout, "Remove the plaintext key material from any config files or shell history.")
	return 0
}

func runKeysShow(args []string, stdout, stderr io.Writer) int {
	fs := newKeysFlagSet("keys show", stderr)
	var keystorePath string
	fs.StringVar(&keystorePath, "keystore", "operator.keystore", "keystore path")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}

	pass, err := keysPassphrase()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	key, err := crypto.LoadFromKeystore(keystorePath, pass)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading keystore: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "Operator address: %s\n", key.PubKey().Address().String())
	return 0
}

func keysUsage() string {
	return strings.TrimSpace(`Usage:
  apxpool-cli keys <command> [flags]

The keystore passphrase is read from ` + keystorePassEnv + ` or prompted interactively.

Commands:
  generate  Generate a fresh operator key into an encrypted keystore
  import    Import existing hex key material into an encrypted keystore
  show      Print the address held by a keystore`)
}
