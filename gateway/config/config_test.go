package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaultsSecureByDefault(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !cfg.Auth.Enabled {
		t.Fatalf("expected auth.enabled to default to true")
	}
	if !cfg.Auth.enabledSet {
		t.Fatalf("expected auth.enabled default to mark enabledSet true")
	}
	if cfg.Auth.AllowAnonymous {
		t.Fatalf("expected auth.allowAnonymous to default to false")
	}
	if cfg.Upstream.Endpoint != "http://127.0.0.1:8080" {
		t.Fatalf("unexpected upstream default %q", cfg.Upstream.Endpoint)
	}
	if cfg.Upstream.AuthTokenEnv != "APX_RPC_TOKEN" {
		t.Fatalf("unexpected token env default %q", cfg.Upstream.AuthTokenEnv)
	}
}

func TestLoadRequiresOptionalPathsWhenAllowAnonymousEnabled(t *testing.T) {
	path := writeConfig(t, "auth:\n  enabled: true\n  allowAnonymous: true\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected load to fail when auth.allowAnonymous is true without optional paths")
	}
}

func TestLoadDefaultsEnableAuthForSensitiveTLSConfig(t *testing.T) {
	yaml := "security:\n  tlsCertFile: /etc/gateway/cert.pem\n  tlsKeyFile: /etc/gateway/key.pem\n"
	path := writeConfig(t, yaml)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !cfg.Auth.Enabled {
		t.Fatalf("expected auth.enabled to default to true for TLS configuration")
	}
}

func TestLoadAllowsExplicitAuthDisabledForSensitiveTLSConfig(t *testing.T) {
	yaml := "auth:\n  enabled: false\nsecurity:\n  tlsCertFile: /etc/gateway/cert.pem\n  tlsKeyFile: /etc/gateway/key.pem\n"
	path := writeConfig(t, yaml)
	if _, err := Load(path); err != nil {
		t.Fatalf("load config: %v", err)
	}
}

func TestLoadParsesUpstreamAndRateLimits(t *testing.T) {
	yaml := strings.Join([]string{
		"listen: \":9090\"",
		"upstream:",
		"  endpoint: \"http://facility:8080\"",
		"  timeout: 5s",
		"rateLimits:",
		"  - id: reads",
		"    requestsPerMinute: 600",
		"    burst: 100",
		"  - id: rpc",
		"    requestsPerMinute: 60",
		"    burst: 10",
		"",
	}, "\n")
	path := writeConfig(t, yaml)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ListenAddress != ":9090" {
		t.Fatalf("listen %q", cfg.ListenAddress)
	}
	target, err := cfg.UpstreamURL()
	if err != nil {
		t.Fatalf("upstream url: %v", err)
	}
	if target.Host != "facility:8080" {
		t.Fatalf("upstream host %q", target.Host)
	}
	if cfg.Upstream.Timeout != 5*time.Second {
		t.Fatalf("upstream timeout %s", cfg.Upstream.Timeout)
	}
	if len(cfg.RateLimits) != 2 || cfg.RateLimits[1].Burst != 10 {
		t.Fatalf("rate limits %+v", cfg.RateLimits)
	}
}

func TestLoadRejectsDuplicateRateLimitIDs(t *testing.T) {
	yaml := "rateLimits:\n  - id: reads\n    requestsPerMinute: 10\n  - id: reads\n    requestsPerMinute: 20\n"
	path := writeConfig(t, yaml)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected duplicate rate limit ids to be rejected")
	}
}

func TestLoadRejectsPartnerAuthWithoutPartners(t *testing.T) {
	path := writeConfig(t, "partnerAuth:\n  enabled: true\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected partnerAuth.enabled without partners to be rejected")
	}
}

func TestPartnerSecretsResolveFromEnv(t *testing.T) {
	yaml := strings.Join([]string{
		"partnerAuth:",
		"  enabled: true",
		"  partners:",
		"    - key: pub-main",
		"      secretEnv: APX_TEST_PARTNER_SECRET",
		"      address: apx1example",
		"",
	}, "\n")
	path := writeConfig(t, yaml)
	t.Setenv("APX_TEST_PARTNER_SECRET", "topsecret")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	secrets, err := cfg.PartnerSecrets()
	if err != nil {
		t.Fatalf("partner secrets: %v", err)
	}
	if secrets["pub-main"] != "topsecret" {
		t.Fatalf("secrets %+v", secrets)
	}
	bindings := cfg.PartnerAddresses()
	if bindings["pub-main"] != "apx1example" {
		t.Fatalf("bindings %+v", bindings)
	}
}

func TestPartnerSecretsFailWhenEnvUnset(t *testing.T) {
	yaml := "partnerAuth:\n  enabled: true\n  partners:\n    - key: pub-main\n      secretEnv: APX_TEST_MISSING_SECRET\n"
	path := writeConfig(t, yaml)
	t.Setenv("APX_TEST_MISSING_SECRET", "")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if _, err := cfg.PartnerSecrets(); err == nil {
		t.Fatalf("expected missing partner secret to be an error")
	}
}
