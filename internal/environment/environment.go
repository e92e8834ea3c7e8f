// Package environment tracks whether the agent trades on testnet or
// mainnet and decides when a testnet run has earned promotion.
package environment

import (
	"fmt"
	"strings"
)

// Environment is the trading venue class.
type Environment string

const (
	Testnet Environment = "testnet"
	Mainnet Environment = "mainnet"
)

// Parse accepts "testnet" or "mainnet" in any case.
func Parse(s string) (Environment, error) {
	switch Environment(strings.ToLower(strings.TrimSpace(s))) {
	case Testnet:
		return Testnet, nil
	case Mainnet:
		return Mainnet, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidEnvironment, s)
}

// Valid reports whether e is a known environment.
func (e Environment) Valid() bool { return e == Testnet || e == Mainnet }

// Opposite toggles testnet and mainnet.
func (e Environment) Opposite() Environment {
	if e == Testnet {
		return Mainnet
	}
	return Testnet
}

func (e Environment) String() string { return string(e) }
