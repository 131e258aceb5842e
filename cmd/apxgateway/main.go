package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	gatewayauth "apxpool/gateway/auth"
	"apxpool/gateway/compat"
	"apxpool/gateway/config"
	"apxpool/gateway/middleware"
	"apxpool/gateway/routes"
	"apxpool/observability/logging"
	telemetry "apxpool/observability/otel"
)

const maxHydratedNonceWindow = 10 * time.Minute

func main() {
	var cfgPath string
	var compatModeFlag string
	var allowInsecureFlag bool
	flag.StringVar(&cfgPath, "config", "", "path to gateway configuration")
	flag.StringVar(&compatModeFlag, "compat-mode", "", "override JSON-RPC compatibility mode (enabled|disabled|auto)")
	flag.BoolVar(&allowInsecureFlag, "allow-insecure", false, "DEV ONLY: permit plaintext listeners on loopback interfaces")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("APX_ENV"))
	slogger := logging.Setup("apxgateway", env, nil)
	logger := log.New(os.Stdout, "apxgateway ", log.LstdFlags|log.Lmsgprefix)

	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	otlpHeaders := telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "apxgateway",
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    insecure,
		Headers:     otlpHeaders,
		Metrics:     true,
		Traces:      true,
	})
	if err != nil {
		slogger.Error("failed to initialise telemetry", "error", err)
		os.Exit(1)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	configDir := ""
	if strings.TrimSpace(cfgPath) != "" {
		configDir = filepath.Dir(cfgPath)
	}

	configuredMode := compat.ModeAuto
	if compatModeFlag != "" {
		parsed, err := compat.ParseMode(compatModeFlag)
		if err != nil {
			logger.Fatalf("parse compat-mode flag: %v", err)
		}
		configuredMode = parsed
	} else if envMode := strings.TrimSpace(os.Getenv("APX_GATEWAY_COMPAT")); envMode != "" {
		parsed, err := compat.ParseMode(envMode)
		if err != nil {
			logger.Fatalf("parse APX_GATEWAY_COMPAT: %v", err)
		}
		configuredMode = parsed
	} else if cfgMode := strings.TrimSpace(cfg.Compat.Mode); cfgMode != "" {
		parsed, err := compat.ParseMode(cfgMode)
		if err != nil {
			logger.Fatalf("parse compat.mode: %v", err)
		}
		configuredMode = parsed
	}
	effectiveMode := compat.DefaultMode()
	if configuredMode != compat.ModeAuto {
		effectiveMode = configuredMode
	}
	enableCompat := compat.ShouldEnable(configuredMode)
	logger.Printf("compatibility mode: requested=%s effective=%s enabled=%t", configuredMode, effectiveMode, enableCompat)
	if _, err := compat.Plan(); err != nil {
		logger.Printf("compat deprecation plan not loaded: %v", err)
	}

	upstream, err := cfg.UpstreamURL()
	if err != nil {
		logger.Fatalf("parse upstream endpoint: %v", err)
	}
	autoUpgrade := cfg.Security.AutoUpgradeHTTP
	if override := strings.TrimSpace(os.Getenv("APX_GATEWAY_AUTO_HTTPS")); override != "" {
		parsed, err := strconv.ParseBool(override)
		if err != nil {
			logger.Fatalf("parse APX_GATEWAY_AUTO_HTTPS: %v", err)
		}
		autoUpgrade = parsed
	}
	upstream, upgraded, err := config.EnforceSecureScheme(env, upstream, autoUpgrade)
	if err != nil {
		logger.Fatalf("enforce HTTPS for upstream endpoint: %v", err)
	}
	if upgraded {
		logger.Printf("auto-upgraded upstream endpoint to HTTPS")
	}

	upstreamToken := strings.TrimSpace(os.Getenv(cfg.Upstream.AuthTokenEnv))
	if upstreamToken == "" {
		logger.Printf("upstream token env %s is not set; privileged facility methods will be rejected upstream", cfg.Upstream.AuthTokenEnv)
	}

	var compatRewrite func(http.Handler) http.Handler
	if enableCompat {
		compatRewrite = compat.NewRewriter(nil).Middleware
	} else {
		logger.Println("JSON-RPC compatibility aliases disabled")
	}

	obs := middleware.NewObservability(middleware.ObservabilityConfig{
		ServiceName:   cfg.Observability.ServiceName,
		MetricsPrefix: cfg.Observability.MetricsPrefix,
		LogRequests:   cfg.Observability.LogRequests,
		Enabled:       cfg.Observability.Metrics || cfg.Observability.Tracing,
	}, slogger)

	hmacSecret := strings.TrimSpace(os.Getenv(cfg.Auth.HMACSecretEnv))
	if cfg.Auth.Enabled && hmacSecret == "" {
		logger.Fatalf("auth is enabled but %s is not set", cfg.Auth.HMACSecretEnv)
	}
	auth := middleware.NewAuthenticator(middleware.AuthConfig{
		Enabled:        cfg.Auth.Enabled,
		HMACSecret:     hmacSecret,
		Issuer:         cfg.Auth.Issuer,
		Audience:       cfg.Auth.Audience,
		ScopeClaim:     cfg.Auth.ScopeClaim,
		OptionalPaths:  cfg.Auth.OptionalPaths,
		AllowAnonymous: cfg.Auth.AllowAnonymous,
		ClockSkew:      cfg.Auth.ClockSkew,
	}, slogger)

	rateLimits := make(map[string]middleware.RateLimit)
	for _, entry := range cfg.RateLimits {
		if entry.ID == "" {
			continue
		}
		rateLimits[entry.ID] = middleware.RateLimit{
			RequestsPerMinute: entry.RequestsPerMinute,
			Burst:             entry.Burst,
		}
	}
	if len(rateLimits) == 0 {
		rateLimits["reads"] = middleware.RateLimit{RequestsPerMinute: 240, Burst: 40}
		rateLimits["rpc"] = middleware.RateLimit{RequestsPerMinute: 120, Burst: 20}
		rateLimits["partner"] = middleware.RateLimit{RequestsPerMinute: 60, Burst: 10}
	}

	var partnerAuth *gatewayauth.Authenticator
	var partnerBindings map[string]string
	if cfg.PartnerAuth.Enabled {
		secrets, err := cfg.PartnerSecrets()
		if err != nil {
			logger.Fatalf("resolve partner secrets: %v", err)
		}
		var persistence gatewayauth.NoncePersistence
		if path := strings.TrimSpace(cfg.PartnerAuth.NonceDatabasePath); path != "" {
			store, err := gatewayauth.NewLevelDBNoncePersistence(path)
			if err != nil {
				logger.Fatalf("open nonce database: %v", err)
			}
			defer store.Close()
			persistence = store
		}
		partnerAuth = gatewayauth.NewAuthenticator(
			secrets,
			cfg.PartnerAuth.TimestampSkew,
			cfg.PartnerAuth.NonceTTL,
			cfg.PartnerAuth.NonceCapacity,
			nil,
			persistence,
		)
		if persistence != nil {
			window := cfg.PartnerAuth.NonceTTL
			if window <= 0 || window > maxHydratedNonceWindow {
				window = maxHydratedNonceWindow
			}
			hydrateCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := partnerAuth.HydrateNonces(hydrateCtx, time.Now().Add(-window)); err != nil {
				logger.Printf("hydrate partner nonces: %v", err)
			}
			cancel()
		}
		partnerBindings = cfg.PartnerAddresses()
	}

	router, err := routes.New(routes.Config{
		Upstream:      upstream,
		UpstreamToken: upstreamToken,
		CompatRewrite: compatRewrite,
		Authenticator: auth,
		RateLimiter:   middleware.NewRateLimiter(rateLimits),
		Observability: obs,
		CORS: middleware.CORSConfig{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type", "Authorization"},
			AllowCredentials: false,
		},
		PartnerAuth:     partnerAuth,
		PartnerBindings: partnerBindings,
	})
	if err != nil {
		logger.Fatalf("configure routes: %v", err)
	}

	handler := http.Handler(router)
	if cfg.Observability.Tracing {
		handler = otelhttp.NewHandler(router, "apxgateway")
	}

	tlsConfig, err := buildTLSConfig(configDir, cfg.Security)
	if err != nil {
		logger.Fatalf("configure TLS: %v", err)
	}

	allowInsecure := cfg.Security.AllowInsecure || allowInsecureFlag
	if tlsConfig == nil {
		if !allowInsecure {
			logger.Fatal("gateway TLS certificate and key are required; provide security.tlsCertFile/tlsKeyFile or start with --allow-insecure in dev")
		}
		if !strings.EqualFold(env, "dev") && !isLoopbackAddress(cfg.ListenAddress) {
			logger.Fatal("plaintext gateway mode is restricted to loopback listeners or dev environment")
		}
	}

	server := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	if tlsConfig != nil {
		server.TLSConfig = tlsConfig
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		logger.Fatalf("listen: %v", err)
	}
	go func() {
		scheme := "http"
		if tlsConfig != nil {
			scheme = "https"
		}
		logger.Printf("listening on %s://%s", scheme, listener.Addr())
		var serveErr error
		if tlsConfig != nil {
			serveErr = server.Serve(tls.NewListener(listener, tlsConfig))
		} else {
			serveErr = server.Serve(listener)
		}
		if serveErr != nil && serveErr != http.ErrServerClosed {
			logger.Fatalf("listen and serve: %v", serveErr)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}

func buildTLSConfig(baseDir string, sec config.SecurityConfig) (*tls.Config, error) {
	certPath := resolveTLSPath(baseDir, sec.TLSCertFile)
	keyPath := resolveTLSPath(baseDir, sec.TLSKeyFile)
	caPath := resolveTLSPath(baseDir, sec.TLSClientCAFile)
	if strings.TrimSpace(certPath) == "" && strings.TrimSpace(keyPath) == "" && strings.TrimSpace(caPath) == "" {
		return nil, nil
	}
	if strings.TrimSpace(certPath) == "" || strings.TrimSpace(keyPath) == "" {
		return nil, fmt.Errorf("security.tlsCertFile and security.tlsKeyFile must both be provided when enabling TLS")
	}
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("load TLS key pair: %w", err)
	}
	tlsCfg := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	if strings.TrimSpace(caPath) != "" {
		data, err := os.ReadFile(caPath)
		if err != nil {
			return nil, fmt.Errorf("read client CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(data) {
			return nil, fmt.Errorf("parse client CA file %s", caPath)
		}
		tlsCfg.ClientCAs = pool
		tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return tlsCfg, nil
}

func resolveTLSPath(baseDir, path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return ""
	}
	if baseDir == "" || filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Join(baseDir, trimmed)
}

func isLoopbackAddress(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}
