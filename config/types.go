package config

// Audit archive drivers accepted by the daemon.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// LogConfig wires structured logging output. An empty Path keeps logs on
// stdout only; a file path switches on size-capped rotation.
type LogConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// GenesisConfig seeds the facility ledger on first boot. Addresses are
// bech32 apx strings; amounts are decimal base-unit strings (scientific
// notation such as "250000e6" is accepted). Later boots ignore the block.
type GenesisConfig struct {
	Owner     string
	Admins    []string
	Governors []string

	Quorum          uint64
	MinDelaySeconds uint64

	LiquidityBufferBps uint64
	DailyRedemptionCap string
	StakingMultiplier  uint64

	MinTermDays uint64
	MaxTermDays uint64
	AppexRate   string
}

// PauseConfig lists the modules that boot in the paused position.
type PauseConfig struct {
	Vault      bool
	Credit     bool
	Redemption bool
	Staking    bool
	Governance bool
}

// AuditConfig controls the event archive and the daily export job.
type AuditConfig struct {
	Driver       string
	DSN          string
	ExportDir    string
	ExportHour   int
	ExportMinute int
}

// TelemetryConfig toggles the OTLP exporters.
type TelemetryConfig struct {
	Endpoint string
	Insecure bool
	Headers  string
	Metrics  bool
	Traces   bool
}
