package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// UpstreamConfig locates the facility JSON-RPC server the gateway fronts.
type UpstreamConfig struct {
	Endpoint     string        `yaml:"endpoint"`
	Timeout      time.Duration `yaml:"timeout"`
	AuthTokenEnv string        `yaml:"authTokenEnv"`
}

type RateLimitConfig struct {
	ID                string  `yaml:"id"`
	RequestsPerMinute float64 `yaml:"requestsPerMinute"`
	Burst             int     `yaml:"burst"`
}

type ObservabilityConfig struct {
	ServiceName   string `yaml:"serviceName"`
	Metrics       bool   `yaml:"metrics"`
	Tracing       bool   `yaml:"tracing"`
	LogRequests   bool   `yaml:"logRequests"`
	MetricsPrefix string `yaml:"metricsPrefix"`
}

// PartnerConfig binds an API key to its shared-secret env var and, optionally,
// to the partner address requests signed with that key must name.
type PartnerConfig struct {
	Key       string `yaml:"key"`
	SecretEnv string `yaml:"secretEnv"`
	Address   string `yaml:"address"`
}

type PartnerAuthConfig struct {
	Enabled           bool            `yaml:"enabled"`
	Partners          []PartnerConfig `yaml:"partners"`
	TimestampSkew     time.Duration   `yaml:"timestampSkew"`
	NonceTTL          time.Duration   `yaml:"nonceTTL"`
	NonceCapacity     int             `yaml:"nonceCapacity"`
	NonceDatabasePath string          `yaml:"nonceDatabasePath"`
}

type CompatConfig struct {
	Mode string `yaml:"mode"`
}

type Config struct {
	ListenAddress string              `yaml:"listen"`
	ReadTimeout   time.Duration       `yaml:"readTimeout"`
	WriteTimeout  time.Duration       `yaml:"writeTimeout"`
	IdleTimeout   time.Duration       `yaml:"idleTimeout"`
	Upstream      UpstreamConfig      `yaml:"upstream"`
	RateLimits    []RateLimitConfig   `yaml:"rateLimits"`
	Observability ObservabilityConfig `yaml:"observability"`
	Auth          AuthConfig          `yaml:"auth"`
	PartnerAuth   PartnerAuthConfig   `yaml:"partnerAuth"`
	Compat        CompatConfig        `yaml:"compat"`
	Security      SecurityConfig      `yaml:"security"`
}

type AuthConfig struct {
	Enabled           bool          `yaml:"enabled"`
	HMACSecretEnv     string        `yaml:"hmacSecretEnv"`
	Issuer            string        `yaml:"issuer"`
	Audience          string        `yaml:"audience"`
	ScopeClaim        string        `yaml:"scopeClaim"`
	OptionalPaths     []string      `yaml:"optionalPaths"`
	AllowAnonymous    bool          `yaml:"allowAnonymous"`
	ClockSkew         time.Duration `yaml:"clockSkew"`
	allowAnonymousSet bool          `yaml:"-"`
	enabledSet        bool          `yaml:"-"`
}

func (a *AuthConfig) UnmarshalYAML(node *yaml.Node) error {
	type rawAuthConfig struct {
		Enabled        *bool         `yaml:"enabled"`
		HMACSecretEnv  string        `yaml:"hmacSecretEnv"`
		Issuer         string        `yaml:"issuer"`
		Audience       string        `yaml:"audience"`
		ScopeClaim     string        `yaml:"scopeClaim"`
		OptionalPaths  []string      `yaml:"optionalPaths"`
		AllowAnonymous *bool         `yaml:"allowAnonymous"`
		ClockSkew      time.Duration `yaml:"clockSkew"`
	}
	var raw rawAuthConfig
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if raw.Enabled != nil {
		a.Enabled = *raw.Enabled
		a.enabledSet = true
	} else {
		a.Enabled = false
		a.enabledSet = false
	}
	a.HMACSecretEnv = raw.HMACSecretEnv
	a.Issuer = raw.Issuer
	a.Audience = raw.Audience
	a.ScopeClaim = raw.ScopeClaim
	a.OptionalPaths = raw.OptionalPaths
	if raw.AllowAnonymous != nil {
		a.AllowAnonymous = *raw.AllowAnonymous
		a.allowAnonymousSet = true
	} else {
		a.AllowAnonymous = false
		a.allowAnonymousSet = false
	}
	a.ClockSkew = raw.ClockSkew
	return nil
}

type SecurityConfig struct {
	AutoUpgradeHTTP bool   `yaml:"autoUpgradeHTTP"`
	AllowInsecure   bool   `yaml:"allowInsecure"`
	TLSCertFile     string `yaml:"tlsCertFile"`
	TLSKeyFile      string `yaml:"tlsKeyFile"`
	TLSClientCAFile string `yaml:"tlsClientCAFile"`
}

func Load(path string) (Config, error) {
	cfg := Config{
		ListenAddress: ":8081",
		ReadTimeout:   30 * time.Second,
		WriteTimeout:  30 * time.Second,
		IdleTimeout:   120 * time.Second,
		Upstream: UpstreamConfig{
			Endpoint:     "http://127.0.0.1:8080",
			Timeout:      10 * time.Second,
			AuthTokenEnv: "APX_RPC_TOKEN",
		},
		Observability: ObservabilityConfig{
			ServiceName:   "apx-gateway",
			Metrics:       true,
			Tracing:       true,
			LogRequests:   true,
			MetricsPrefix: "gateway",
		},
		Auth: AuthConfig{
			Enabled:        true,
			HMACSecretEnv:  "APX_GATEWAY_JWT_SECRET",
			ScopeClaim:     "scope",
			AllowAnonymous: false,
			ClockSkew:      2 * time.Minute,
			enabledSet:     true,
		},
	}
	if path == "" {
		cfg.applyDefaults()
		if err := cfg.Validate(); err != nil {
			return Config{}, fmt.Errorf("validate config: %w", err)
		}
		return cfg, nil
	}
	file, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg == nil {
		return
	}
	if !cfg.Auth.enabledSet {
		cfg.Auth.Enabled = true
		cfg.Auth.enabledSet = true
	}
	if cfg.Auth.ClockSkew <= 0 {
		cfg.Auth.ClockSkew = 2 * time.Minute
	}
	if cfg.Auth.ScopeClaim == "" {
		cfg.Auth.ScopeClaim = "scope"
	}
	if cfg.Auth.HMACSecretEnv == "" {
		cfg.Auth.HMACSecretEnv = "APX_GATEWAY_JWT_SECRET"
	}
	if !cfg.Auth.allowAnonymousSet {
		cfg.Auth.AllowAnonymous = false
	}
	if strings.TrimSpace(cfg.Upstream.Endpoint) == "" {
		cfg.Upstream.Endpoint = "http://127.0.0.1:8080"
	}
	if cfg.Upstream.Timeout <= 0 {
		cfg.Upstream.Timeout = 10 * time.Second
	}
	if strings.TrimSpace(cfg.Upstream.AuthTokenEnv) == "" {
		cfg.Upstream.AuthTokenEnv = "APX_RPC_TOKEN"
	}
}

var ErrAuthEnabledNotConfigured = errors.New("auth.enabled must be explicitly set for sensitive deployments")

func (cfg *Config) Validate() error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.isSensitiveDeployment() && !cfg.Auth.enabledSet {
		return ErrAuthEnabledNotConfigured
	}
	if cfg.Auth.AllowAnonymous && !cfg.Auth.allowAnonymousSet {
		return fmt.Errorf("auth.allowAnonymous must be explicitly set to true to enable anonymous access")
	}
	trimmed := make([]string, len(cfg.Auth.OptionalPaths))
	for i, path := range cfg.Auth.OptionalPaths {
		trimmedPath := strings.TrimSpace(path)
		if trimmedPath == "" {
			return fmt.Errorf("auth.optionalPaths[%d] cannot be empty", i)
		}
		if !strings.HasPrefix(trimmedPath, "/") {
			return fmt.Errorf("auth.optionalPaths[%d] must start with '/'", i)
		}
		trimmed[i] = trimmedPath
	}
	cfg.Auth.OptionalPaths = trimmed
	if cfg.Auth.Enabled && cfg.Auth.AllowAnonymous && len(cfg.Auth.OptionalPaths) == 0 {
		return fmt.Errorf("auth.optionalPaths must list at least one entry when auth.allowAnonymous is true")
	}
	if _, err := cfg.UpstreamURL(); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(cfg.RateLimits))
	for i, limit := range cfg.RateLimits {
		id := strings.TrimSpace(limit.ID)
		if id == "" {
			return fmt.Errorf("rateLimits[%d].id cannot be empty", i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("rateLimits[%d] duplicates id %q", i, id)
		}
		seen[id] = struct{}{}
	}
	if cfg.PartnerAuth.Enabled {
		if len(cfg.PartnerAuth.Partners) == 0 {
			return fmt.Errorf("partnerAuth.partners must list at least one entry when partnerAuth.enabled is true")
		}
		keys := make(map[string]struct{}, len(cfg.PartnerAuth.Partners))
		for i, partner := range cfg.PartnerAuth.Partners {
			key := strings.TrimSpace(partner.Key)
			if key == "" {
				return fmt.Errorf("partnerAuth.partners[%d].key cannot be empty", i)
			}
			if strings.TrimSpace(partner.SecretEnv) == "" {
				return fmt.Errorf("partnerAuth.partners[%d].secretEnv cannot be empty", i)
			}
			if _, dup := keys[key]; dup {
				return fmt.Errorf("partnerAuth.partners[%d] duplicates key %q", i, key)
			}
			keys[key] = struct{}{}
		}
	}
	return nil
}

// UpstreamURL parses and returns the configured facility RPC endpoint.
func (cfg Config) UpstreamURL() (*url.URL, error) {
	endpoint := strings.TrimSpace(cfg.Upstream.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("upstream.endpoint is required")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse upstream endpoint: %w", err)
	}
	return parsed, nil
}

// PartnerSecrets resolves each partner's shared secret from its env var. Keys
// with an unset or empty secret are reported as errors rather than silently
// dropped.
func (cfg Config) PartnerSecrets() (map[string]string, error) {
	if !cfg.PartnerAuth.Enabled {
		return nil, nil
	}
	secrets := make(map[string]string, len(cfg.PartnerAuth.Partners))
	for _, partner := range cfg.PartnerAuth.Partners {
		secret := strings.TrimSpace(os.Getenv(partner.SecretEnv))
		if secret == "" {
			return nil, fmt.Errorf("partner %q secret env %s is not set", partner.Key, partner.SecretEnv)
		}
		secrets[strings.TrimSpace(partner.Key)] = secret
	}
	return secrets, nil
}

// PartnerAddresses returns the configured key-to-address bindings. Keys
// without a binding are omitted.
func (cfg Config) PartnerAddresses() map[string]string {
	bindings := make(map[string]string)
	for _, partner := range cfg.PartnerAuth.Partners {
		address := strings.TrimSpace(partner.Address)
		if address == "" {
			continue
		}
		bindings[strings.TrimSpace(partner.Key)] = address
	}
	return bindings
}

func (cfg *Config) isSensitiveDeployment() bool {
	if cfg == nil {
		return false
	}
	if cfg.Security.AutoUpgradeHTTP {
		return true
	}
	if strings.TrimSpace(cfg.Security.TLSCertFile) != "" {
		return true
	}
	if strings.TrimSpace(cfg.Security.TLSKeyFile) != "" {
		return true
	}
	if strings.TrimSpace(cfg.Security.TLSClientCAFile) != "" {
		return true
	}
	return false
}

// EnforceSecureScheme ensures the supplied URL uses HTTPS outside of the dev environment.
// If autoUpgrade is enabled, insecure HTTP URLs are transparently upgraded to HTTPS.
// The returned boolean indicates whether an upgrade occurred.
func EnforceSecureScheme(env string, target *url.URL, autoUpgrade bool) (*url.URL, bool, error) {
	if target == nil {
		return nil, false, fmt.Errorf("target URL is nil")
	}
	scheme := strings.ToLower(strings.TrimSpace(target.Scheme))
	switch scheme {
	case "https":
		return target, false, nil
	case "http":
		if isDevEnv(env) {
			return target, false, nil
		}
		if autoUpgrade {
			upgraded := *target
			upgraded.Scheme = "https"
			return &upgraded, true, nil
		}
		if strings.TrimSpace(env) == "" {
			env = "(unset)"
		}
		return nil, false, fmt.Errorf("plaintext HTTP endpoints are not permitted for environment %s", env)
	case "":
		return nil, false, fmt.Errorf("URL scheme is required")
	default:
		return nil, false, fmt.Errorf("unsupported URL scheme %q", target.Scheme)
	}
}

func isDevEnv(env string) bool {
	return strings.EqualFold(strings.TrimSpace(env), "dev")
}
