package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"apxpool/crypto"
)

const testKeystorePassphrase = "test-passphrase"

func makeConfigAddress(suffix byte) string {
	var raw [20]byte
	raw[0] = 0x42
	raw[len(raw)-1] = suffix
	return crypto.AddressFromRaw(raw).String()
}

func TestLoadParsesDaemonSettings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	keystorePath := filepath.Join(dir, "operator.keystore")
	owner := makeConfigAddress(0x01)
	governor := makeConfigAddress(0x02)
	contents := fmt.Sprintf(`RPCAddress = "0.0.0.0:9000"
DataDir = "./data"
RegistryPath = "./partners.db"
OperatorKeystorePath = "%s"
NetworkName = "apx-testnet"

[log]
Path = "./logs/apxpoold.log"
MaxSizeMB = 64
MaxBackups = 4
MaxAgeDays = 14

[genesis]
Owner = "%s"
Governors = ["%s"]
Quorum = 1
MinDelaySeconds = 7200
LiquidityBufferBps = 1500
DailyRedemptionCap = "250000e6"
StakingMultiplier = 2
MinTermDays = 14
MaxTermDays = 120
AppexRate = "750000"

[pauses]
Credit = true

[audit]
Driver = "Postgres"
DSN = "host=localhost user=apx dbname=apx_audit"
ExportDir = "/var/lib/apx/exports"
ExportHour = 3
ExportMinute = 30

[telemetry]
Endpoint = "otel-collector:4318"
Insecure = true
Headers = "x-team=treasury"
Metrics = true
Traces = true
`, keystorePath, owner, governor)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path, WithKeystorePassphrase(testKeystorePassphrase))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.RPCAddress != "0.0.0.0:9000" {
		t.Fatalf("unexpected rpc address: %s", cfg.RPCAddress)
	}
	if cfg.DataDir != "./data" {
		t.Fatalf("unexpected data dir: %s", cfg.DataDir)
	}
	if cfg.RegistryPath != "./partners.db" {
		t.Fatalf("unexpected registry path: %s", cfg.RegistryPath)
	}
	if cfg.NetworkName != "apx-testnet" {
		t.Fatalf("unexpected network name: %s", cfg.NetworkName)
	}
	if cfg.Log.Path != "./logs/apxpoold.log" || cfg.Log.MaxSizeMB != 64 {
		t.Fatalf("unexpected log settings: %+v", cfg.Log)
	}
	if cfg.Log.MaxBackups != 4 || cfg.Log.MaxAgeDays != 14 {
		t.Fatalf("unexpected rotation limits: %+v", cfg.Log)
	}
	if cfg.Genesis.Owner != owner {
		t.Fatalf("unexpected genesis owner: %s", cfg.Genesis.Owner)
	}
	if len(cfg.Genesis.Governors) != 1 || cfg.Genesis.Governors[0] != governor {
		t.Fatalf("unexpected governors: %v", cfg.Genesis.Governors)
	}
	if cfg.Genesis.Quorum != 1 || cfg.Genesis.MinDelaySeconds != 7200 {
		t.Fatalf("unexpected governance seed: %+v", cfg.Genesis)
	}
	if cfg.Genesis.LiquidityBufferBps != 1500 || cfg.Genesis.StakingMultiplier != 2 {
		t.Fatalf("unexpected vault seed: %+v", cfg.Genesis)
	}
	if cfg.Genesis.MinTermDays != 14 || cfg.Genesis.MaxTermDays != 120 {
		t.Fatalf("unexpected term bounds: %+v", cfg.Genesis)
	}
	if cfg.Genesis.DailyRedemptionCap != "250000e6" || cfg.Genesis.AppexRate != "750000" {
		t.Fatalf("unexpected amount strings: %+v", cfg.Genesis)
	}
	if !cfg.Pauses.Credit || cfg.Pauses.Vault {
		t.Fatalf("unexpected pause flags: %+v", cfg.Pauses)
	}
	if cfg.Audit.Driver != DriverPostgres {
		t.Fatalf("driver not normalised: %s", cfg.Audit.Driver)
	}
	if cfg.Audit.DSN != "host=localhost user=apx dbname=apx_audit" {
		t.Fatalf("unexpected audit dsn: %s", cfg.Audit.DSN)
	}
	if cfg.Audit.ExportHour != 3 || cfg.Audit.ExportMinute != 30 {
		t.Fatalf("unexpected export schedule: %+v", cfg.Audit)
	}
	if cfg.ExportDirectory() != "/var/lib/apx/exports" {
		t.Fatalf("unexpected export dir: %s", cfg.ExportDirectory())
	}
	if cfg.Telemetry.Endpoint != "otel-collector:4318" || !cfg.Telemetry.Insecure {
		t.Fatalf("unexpected telemetry endpoint: %+v", cfg.Telemetry)
	}
	if cfg.Telemetry.Headers != "x-team=treasury" {
		t.Fatalf("unexpected telemetry headers: %s", cfg.Telemetry.Headers)
	}
	if !cfg.Telemetry.Metrics || !cfg.Telemetry.Traces {
		t.Fatalf("unexpected telemetry toggles: %+v", cfg.Telemetry)
	}
	if _, err := os.Stat(keystorePath); err != nil {
		t.Fatalf("expected keystore to be provisioned: %v", err)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	keystorePath := filepath.Join(dir, "operator.keystore")
	contents := fmt.Sprintf(`RPCAddress = ":8080"
OperatorKeystorePath = "%s"
`, keystorePath)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path, WithKeystorePassphrase(testKeystorePassphrase))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.NetworkName != "apx-local" {
		t.Fatalf("unexpected default network: %s", cfg.NetworkName)
	}
	if cfg.DataDir != "./apx-data" {
		t.Fatalf("unexpected default data dir: %s", cfg.DataDir)
	}
	if cfg.Audit.Driver != DriverSQLite {
		t.Fatalf("unexpected default driver: %s", cfg.Audit.Driver)
	}
	if cfg.Genesis.Admins == nil || cfg.Genesis.Governors == nil {
		t.Fatalf("expected empty role slices: %+v", cfg.Genesis)
	}
	if got := cfg.StateDatabasePath(); got != filepath.Join("./apx-data", "state") {
		t.Fatalf("unexpected state path: %s", got)
	}
	if got := cfg.RegistryDatabasePath(); got != filepath.Join("./apx-data", "registry.db") {
		t.Fatalf("unexpected registry path: %s", got)
	}
	if got := cfg.AuditDSN(); got != filepath.Join("./apx-data", "audit.db") {
		t.Fatalf("unexpected audit dsn: %s", got)
	}
	if got := cfg.ExportDirectory(); got != filepath.Join("./apx-data", "exports") {
		t.Fatalf("unexpected export dir: %s", got)
	}
}

func TestLoadHonoursOperatorKeyEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := `RPCAddress = ":8080"
OperatorKeyEnv = "APX_OPERATOR_KEY"
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.OperatorKeyEnv != "APX_OPERATOR_KEY" {
		t.Fatalf("unexpected key env: %s", cfg.OperatorKeyEnv)
	}
	if cfg.OperatorKeystorePath != "" {
		t.Fatalf("expected no keystore provisioning, got %s", cfg.OperatorKeystorePath)
	}
}

func TestLoadRejectsDeprecatedOperatorKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := `RPCAddress = ":8080"
OperatorKey = "0xdeadbeef"
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, err := Load(path, WithKeystorePassphrase(testKeystorePassphrase))
	if err == nil {
		t.Fatalf("expected deprecated field rejection")
	}
	if !strings.Contains(err.Error(), "deprecated OperatorKey") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFacilityGenesisParsing(t *testing.T) {
	owner := makeConfigAddress(0x10)
	admin := makeConfigAddress(0x11)
	cfg := &Config{
		Genesis: GenesisConfig{
			Owner:              owner,
			Admins:             []string{admin},
			Quorum:             2,
			MinDelaySeconds:    3600,
			LiquidityBufferBps: 1200,
			DailyRedemptionCap: "250000e6",
			StakingMultiplier:  3,
			MinTermDays:        7,
			MaxTermDays:        90,
			AppexRate:          "1.5e6",
		},
		Pauses: PauseConfig{Credit: true, Staking: true},
	}

	genesis, err := cfg.FacilityGenesis()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	decodedOwner, err := crypto.DecodeAddress(owner)
	if err != nil {
		t.Fatalf("decode owner: %v", err)
	}
	var wantOwner [20]byte
	copy(wantOwner[:], decodedOwner.Bytes())
	if genesis.Owner != wantOwner {
		t.Fatalf("unexpected owner: %x", genesis.Owner)
	}
	if len(genesis.Admins) != 1 || len(genesis.Governors) != 0 {
		t.Fatalf("unexpected role sets: %+v", genesis)
	}
	if genesis.Quorum != 2 || genesis.MinDelaySeconds != 3600 {
		t.Fatalf("unexpected governance policy: %+v", genesis)
	}
	capWant := big.NewInt(250_000_000_000)
	if genesis.DailyRedemptionCap == nil || genesis.DailyRedemptionCap.Cmp(capWant) != 0 {
		t.Fatalf("unexpected redemption cap: %v", genesis.DailyRedemptionCap)
	}
	rateWant := big.NewInt(1_500_000)
	if genesis.AppexRate == nil || genesis.AppexRate.Cmp(rateWant) != 0 {
		t.Fatalf("unexpected appex rate: %v", genesis.AppexRate)
	}
	if len(genesis.Paused) != 2 || genesis.Paused[0] != "credit" || genesis.Paused[1] != "staking" {
		t.Fatalf("unexpected paused modules: %v", genesis.Paused)
	}

	bad := &Config{Genesis: GenesisConfig{Owner: "apx1invalid"}}
	if _, err := bad.FacilityGenesis(); err == nil {
		t.Fatalf("expected error for malformed owner")
	} else if !strings.Contains(err.Error(), "invalid genesis.Owner") {
		t.Fatalf("unexpected error: %v", err)
	}

	negative := &Config{Genesis: GenesisConfig{Owner: owner, DailyRedemptionCap: "-5"}}
	if _, err := negative.FacilityGenesis(); err == nil {
		t.Fatalf("expected error for negative cap")
	}
	fractional := &Config{Genesis: GenesisConfig{Owner: owner, AppexRate: "1.25"}}
	if _, err := fractional.FacilityGenesis(); err == nil {
		t.Fatalf("expected error for fractional rate")
	}
}

func TestLoadWithoutPassphraseFailsToCreateDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error when no keystore passphrase is provided")
	}
}

func TestLoadCreatesKeystoreWithPassphrase(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	passphrase := "strong-passphrase"

	cfg, err := Load(path, WithKeystorePassphrase(passphrase))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.OperatorKeystorePath == "" {
		t.Fatalf("expected operator keystore path to be set")
	}
	if _, err := os.Stat(cfg.OperatorKeystorePath); err != nil {
		t.Fatalf("expected keystore file to exist: %v", err)
	}
	if cfg.RPCAddress != ":8080" || cfg.Audit.Driver != DriverSQLite {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Audit.ExportHour != 2 {
		t.Fatalf("unexpected export hour: %d", cfg.Audit.ExportHour)
	}

	key, err := crypto.LoadFromKeystore(cfg.OperatorKeystorePath, passphrase)
	if err != nil {
		t.Fatalf("failed to decrypt keystore: %v", err)
	}
	if key == nil {
		t.Fatalf("expected decrypted key")
	}
	if cfg.Genesis.Owner != key.PubKey().Address().String() {
		t.Fatalf("genesis owner not derived from operator key: %s", cfg.Genesis.Owner)
	}

	reloaded, err := Load(path, WithKeystorePassphrase(passphrase))
	if err != nil {
		t.Fatalf("reload config: %v", err)
	}
	if reloaded.Genesis.Owner != cfg.Genesis.Owner {
		t.Fatalf("persisted owner mismatch: %s", reloaded.Genesis.Owner)
	}
}

func TestValidateBounds(t *testing.T) {
	base := func() *Config {
		return &Config{
			RPCAddress: ":8080",
			DataDir:    "./apx-data",
			Audit:      AuditConfig{Driver: DriverSQLite},
		}
	}

	if err := Validate(base()); err != nil {
		t.Fatalf("expected valid base config: %v", err)
	}

	cfg := base()
	cfg.RPCAddress = " "
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected missing rpc address rejection")
	}

	cfg = base()
	cfg.Audit.Driver = "mysql"
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected unknown driver rejection")
	}

	cfg = base()
	cfg.Audit.Driver = DriverPostgres
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected postgres without dsn rejection")
	}

	cfg = base()
	cfg.Audit.ExportHour = 24
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected export hour rejection")
	}

	cfg = base()
	cfg.Genesis.LiquidityBufferBps = 10_001
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected buffer bps rejection")
	}

	cfg = base()
	cfg.Genesis.MinTermDays = 90
	cfg.Genesis.MaxTermDays = 30
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected inverted term bounds rejection")
	}

	cfg = base()
	cfg.Genesis.Governors = []string{makeConfigAddress(0x01), makeConfigAddress(0x02)}
	cfg.Genesis.Quorum = 3
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected unreachable quorum rejection")
	}
}
