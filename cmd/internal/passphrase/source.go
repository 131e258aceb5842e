// Package passphrase resolves keystore secrets for the daemon and CLI
// without echoing them to the terminal.
package passphrase

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

var errBlank = errors.New("passphrase must not be blank")

// Source memoizes an operator keystore passphrase. Resolution order: the
// configured environment variable, then an interactive prompt when stdin
// is a terminal. The first result, success or failure, is sticky.
type Source struct {
	envVar string

	once   sync.Once
	secret string
	err    error
}

// NewSource builds a source that consults envVar before prompting.
func NewSource(envVar string) *Source {
	return &Source{envVar: strings.TrimSpace(envVar)}
}

// Get resolves the passphrase on first use and replays the cached result
// afterwards, so reopening a keystore never re-prompts.
func (s *Source) Get() (string, error) {
	s.once.Do(func() { s.secret, s.err = s.resolve() })
	return s.secret, s.err
}

func (s *Source) resolve() (string, error) {
	if s.envVar != "" {
		if raw, ok := os.LookupEnv(s.envVar); ok {
			if strings.TrimSpace(raw) == "" {
				return "", fmt.Errorf("%s: %w", s.envVar, errBlank)
			}
			return raw, nil
		}
	}
	return s.prompt()
}

func (s *Source) prompt() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		if s.envVar != "" {
			return "", fmt.Errorf("no terminal for passphrase prompt; set %s", s.envVar)
		}
		return "", errors.New("no terminal available for passphrase prompt")
	}
	fmt.Fprint(os.Stderr, "Operator keystore passphrase: ")
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	if strings.TrimSpace(string(raw)) == "" {
		return "", errBlank
	}
	return string(raw), nil
}
