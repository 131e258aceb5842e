package config

import (
	"fmt"
	"math/big"
	"strings"

	"apxpool/core"
	"apxpool/crypto"
)

// FacilityGenesis converts the configured genesis block into the runtime
// form consumed on first boot.
func (c *Config) FacilityGenesis() (core.Genesis, error) {
	genesis := core.Genesis{
		Quorum:             c.Genesis.Quorum,
		MinDelaySeconds:    c.Genesis.MinDelaySeconds,
		LiquidityBufferBps: c.Genesis.LiquidityBufferBps,
		StakingMultiplier:  c.Genesis.StakingMultiplier,
		MinTermDays:        c.Genesis.MinTermDays,
		MaxTermDays:        c.Genesis.MaxTermDays,
	}

	owner, err := decodeConfigAddress("genesis.Owner", c.Genesis.Owner)
	if err != nil {
		return core.Genesis{}, err
	}
	genesis.Owner = owner

	for _, raw := range c.Genesis.Admins {
		addr, err := decodeConfigAddress("genesis.Admins", raw)
		if err != nil {
			return core.Genesis{}, err
		}
		genesis.Admins = append(genesis.Admins, addr)
	}
	for _, raw := range c.Genesis.Governors {
		addr, err := decodeConfigAddress("genesis.Governors", raw)
		if err != nil {
			return core.Genesis{}, err
		}
		genesis.Governors = append(genesis.Governors, addr)
	}

	dayCap, err := parseAmount(c.Genesis.DailyRedemptionCap)
	if err != nil {
		return core.Genesis{}, fmt.Errorf("invalid genesis.DailyRedemptionCap: %w", err)
	}
	genesis.DailyRedemptionCap = dayCap

	rate, err := parseAmount(c.Genesis.AppexRate)
	if err != nil {
		return core.Genesis{}, fmt.Errorf("invalid genesis.AppexRate: %w", err)
	}
	genesis.AppexRate = rate

	genesis.Paused = c.Pauses.Modules()
	return genesis, nil
}

// Modules lists the modules flagged to boot paused.
func (p PauseConfig) Modules() []string {
	modules := []string{}
	if p.Vault {
		modules = append(modules, core.ModuleVault)
	}
	if p.Credit {
		modules = append(modules, core.ModuleCredit)
	}
	if p.Redemption {
		modules = append(modules, core.ModuleRedemption)
	}
	if p.Staking {
		modules = append(modules, core.ModuleStaking)
	}
	if p.Governance {
		modules = append(modules, core.ModuleGovernance)
	}
	return modules
}

func decodeConfigAddress(field, raw string) ([20]byte, error) {
	var out [20]byte
	decoded, err := crypto.DecodeAddress(strings.TrimSpace(raw))
	if err != nil {
		return out, fmt.Errorf("invalid %s entry %q: %w", field, raw, err)
	}
	copy(out[:], decoded.Bytes())
	return out, nil
}

// parseAmount reads a decimal base-unit amount. Empty means unset; values
// must resolve to a non-negative whole number of base units.
func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}
	rat, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return nil, fmt.Errorf("malformed amount %q", raw)
	}
	if !rat.IsInt() {
		return nil, fmt.Errorf("amount %q is not a whole number of base units", raw)
	}
	value := new(big.Int).Set(rat.Num())
	if value.Sign() < 0 {
		return nil, fmt.Errorf("amount %q must not be negative", raw)
	}
	return value, nil
}
