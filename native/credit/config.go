package credit

import (
	"fmt"
	"math/big"
)

// Config carries the origination knobs applied to every new loan.
type Config struct {
	// MinTermDays and MaxTermDays bound the accepted loan term.
	MinTermDays uint64
	MaxTermDays uint64
	// AppexRate converts USD values to APPEX for reward-denominated legs,
	// expressed as USDC micro-units per whole APPEX token.
	AppexRate *big.Int
}

// DefaultConfig returns the origination bounds used when the operator does
// not override them.
func DefaultConfig() Config {
	return Config{
		MinTermDays: 30,
		MaxTermDays: 180,
		AppexRate:   big.NewInt(1_000_000),
	}
}

// Validate ensures the configuration values fall within acceptable bounds.
func (c Config) Validate() error {
	if c.MinTermDays == 0 {
		return fmt.Errorf("credit: minimum term must be positive")
	}
	if c.MaxTermDays < c.MinTermDays {
		return fmt.Errorf("credit: maximum term below minimum")
	}
	if c.AppexRate == nil || c.AppexRate.Sign() <= 0 {
		return fmt.Errorf("credit: appex rate must be positive")
	}
	return nil
}

// Clone returns a deep copy so callers cannot mutate shared pointers.
func (c Config) Clone() Config {
	clone := c
	if c.AppexRate != nil {
		clone.AppexRate = new(big.Int).Set(c.AppexRate)
	}
	return clone
}
