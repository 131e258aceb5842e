package config

import (
	"fmt"
	"strings"
)

// Validate checks the bounds the daemon relies on before wiring anything.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil")
	}
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		return fmt.Errorf("rpc: listen address required")
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		return fmt.Errorf("data dir required")
	}
	switch cfg.Audit.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("audit: driver must be %q or %q", DriverSQLite, DriverPostgres)
	}
	if cfg.Audit.Driver == DriverPostgres && strings.TrimSpace(cfg.Audit.DSN) == "" {
		return fmt.Errorf("audit: postgres driver requires a DSN")
	}
	if cfg.Audit.ExportHour < 0 || cfg.Audit.ExportHour > 23 {
		return fmt.Errorf("audit: export hour out of range")
	}
	if cfg.Audit.ExportMinute < 0 || cfg.Audit.ExportMinute > 59 {
		return fmt.Errorf("audit: export minute out of range")
	}
	if cfg.Genesis.LiquidityBufferBps > 10_000 {
		return fmt.Errorf("genesis: liquidity buffer above 10000 bps")
	}
	if cfg.Genesis.MinTermDays > 0 && cfg.Genesis.MaxTermDays > 0 && cfg.Genesis.MinTermDays > cfg.Genesis.MaxTermDays {
		return fmt.Errorf("genesis: min term exceeds max term")
	}
	if n := uint64(len(cfg.Genesis.Governors)); n > 0 && cfg.Genesis.Quorum > n {
		return fmt.Errorf("genesis: quorum exceeds governor count")
	}
	if cfg.Log.MaxSizeMB < 0 || cfg.Log.MaxBackups < 0 || cfg.Log.MaxAgeDays < 0 {
		return fmt.Errorf("log: rotation limits must not be negative")
	}
	return nil
}
