package passphrase

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Source lazily resolves a keystore passphrase from an environment variable or
// by prompting the operator. The value is cached after the first successful
// retrieval.
type Source struct {
	envVar string
	label  string

	lookup   func(string) (string, bool)
	terminal func() bool
	read     func() ([]byte, error)
	prompt   io.Writer

	once  sync.Once
	value string
	err   error
}

// NewSource constructs a passphrase source that checks envVar before
// interactively prompting on the terminal. label names the secret in prompts
// and errors, e.g. "keystore".
func NewSource(envVar, label string) *Source {
	if strings.TrimSpace(label) == "" {
		label = "keystore"
	}
	fd := int(os.Stdin.Fd())
	return &Source{
		envVar:   strings.TrimSpace(envVar),
		label:    label,
		lookup:   os.LookupEnv,
		terminal: func() bool { return term.IsTerminal(fd) },
		read:     func() ([]byte, error) { return term.ReadPassword(fd) },
		prompt:   os.Stderr,
	}
}

// Get returns the cached passphrase or resolves it on first use.
// Whitespace-only passphrases are rejected.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		if s.envVar != "" {
			if value, ok := s.lookup(s.envVar); ok {
				if strings.TrimSpace(value) == "" {
					s.err = fmt.Errorf("%s is set but empty", s.envVar)
					return
				}
				s.value = value
				return
			}
		}

		if !s.terminal() {
			if s.envVar != "" {
				s.err = fmt.Errorf("%s passphrase required; set %s or run interactively", s.label, s.envVar)
			} else {
				s.err = fmt.Errorf("%s passphrase required and no terminal available", s.label)
			}
			return
		}

		fmt.Fprintf(s.prompt, "Enter %s passphrase: ", s.label)
		bytes, err := s.read()
		fmt.Fprintln(s.prompt)
		if err != nil {
			s.err = fmt.Errorf("failed to read passphrase: %w", err)
			return
		}

		passphrase := string(bytes)
		if strings.TrimSpace(passphrase) == "" {
			s.err = errors.New(s.label + " passphrase cannot be empty")
			return
		}
		s.value = passphrase
	})

	return s.value, s.err
}
