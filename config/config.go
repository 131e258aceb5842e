package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"apxpool/crypto"

	"github.com/BurntSushi/toml"
)

type Config struct {
	RPCAddress           string `toml:"RPCAddress"`
	DataDir              string `toml:"DataDir"`
	RegistryPath         string `toml:"RegistryPath,omitempty"`
	OperatorKeystorePath string `toml:"OperatorKeystorePath"`
	OperatorKeyEnv       string `toml:"OperatorKeyEnv,omitempty"`
	NetworkName          string `toml:"NetworkName"`

	Log       LogConfig       `toml:"log"`
	Genesis   GenesisConfig   `toml:"genesis"`
	Pauses    PauseConfig     `toml:"pauses"`
	Audit     AuditConfig     `toml:"audit"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

// Option adjusts Load behaviour.
type Option func(*loadOptions)

type loadOptions struct {
	passphraseSource func() (string, error)
}

// WithKeystorePassphrase supplies the passphrase used when Load has to
// provision a fresh operator keystore.
func WithKeystorePassphrase(passphrase string) Option {
	return WithKeystorePassphraseSource(func() (string, error) {
		return passphrase, nil
	})
}

// WithKeystorePassphraseSource registers a passphrase provider that is only
// consulted when Load actually has to provision a keystore, so interactive
// prompts stay out of the common restart path.
func WithKeystorePassphraseSource(source func() (string, error)) Option {
	return func(o *loadOptions) {
		o.passphraseSource = source
	}
}

// Load loads the configuration from the given path.
func Load(path string, opts ...Option) (*Config, error) {
	options := loadOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path, options)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}

	for _, undecoded := range meta.Undecoded() {
		if len(undecoded) == 1 && undecoded[0] == "OperatorKey" {
			return nil, fmt.Errorf("config file %s uses deprecated OperatorKey field; import the key with apxpool-cli keys import", path)
		}
	}

	if cfg.OperatorKeyEnv == "" {
		if err := ensureKeystore(path, cfg, options); err != nil {
			return nil, err
		}
	}

	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "apx-local"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./apx-data"
	}
	cfg.Audit.Driver = strings.ToLower(strings.TrimSpace(cfg.Audit.Driver))
	if cfg.Audit.Driver == "" {
		cfg.Audit.Driver = DriverSQLite
	}
	if cfg.Genesis.Admins == nil {
		cfg.Genesis.Admins = []string{}
	}
	if cfg.Genesis.Governors == nil {
		cfg.Genesis.Governors = []string{}
	}

	return cfg, nil
}

func ensureKeystore(configPath string, cfg *Config, options loadOptions) error {
	keystorePath := cfg.OperatorKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		if options.passphraseSource == nil {
			return fmt.Errorf("config: keystore passphrase required to provision %s", keystorePath)
		}
		passphrase, passErr := options.passphraseSource()
		if passErr != nil {
			return passErr
		}
		key, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		if err := crypto.SaveToKeystore(keystorePath, key, passphrase); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if cfg.OperatorKeystorePath != keystorePath {
		cfg.OperatorKeystorePath = keystorePath
		return persist(configPath, cfg)
	}

	return nil
}

// createDefault creates and saves a default configuration file. The fresh
// operator key doubles as the facility owner so a bare data dir boots into
// a usable single-operator deployment.
func createDefault(path string, options loadOptions) (*Config, error) {
	if options.passphraseSource == nil {
		return nil, fmt.Errorf("config: keystore passphrase required to create %s", path)
	}
	passphrase, err := options.passphraseSource()
	if err != nil {
		return nil, err
	}

	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, passphrase); err != nil {
		return nil, err
	}

	cfg := &Config{
		RPCAddress:  ":8080",
		DataDir:     "./apx-data",
		NetworkName: "apx-local",
		Audit: AuditConfig{
			Driver:     DriverSQLite,
			ExportHour: 2,
		},
	}
	cfg.OperatorKeystorePath = keystorePath
	cfg.Genesis.Owner = key.PubKey().Address().String()
	cfg.Genesis.Admins = []string{}
	cfg.Genesis.Governors = []string{}

	if err := persist(path, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "operator.keystore")
}

// StateDatabasePath locates the facility ledger under the data dir.
func (c *Config) StateDatabasePath() string {
	return filepath.Join(c.DataDir, "state")
}

// RegistryDatabasePath locates the partner registry bolt file.
func (c *Config) RegistryDatabasePath() string {
	if strings.TrimSpace(c.RegistryPath) != "" {
		return c.RegistryPath
	}
	return filepath.Join(c.DataDir, "registry.db")
}

// AuditDSN resolves the archive connection string. The sqlite driver
// defaults to a file next to the rest of the data dir.
func (c *Config) AuditDSN() string {
	if strings.TrimSpace(c.Audit.DSN) != "" {
		return c.Audit.DSN
	}
	return filepath.Join(c.DataDir, "audit.db")
}

// ExportDirectory resolves where the daily snapshots are written.
func (c *Config) ExportDirectory() string {
	if strings.TrimSpace(c.Audit.ExportDir) != "" {
		return c.Audit.ExportDir
	}
	return filepath.Join(c.DataDir, "exports")
}
