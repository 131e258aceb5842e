package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"apxpool/audit"
	"apxpool/cmd/internal/passphrase"
	"apxpool/config"
	"apxpool/core"
	"apxpool/native/registry"
	"apxpool/observability"
	"apxpool/observability/logging"
	"apxpool/observability/otel"
	"apxpool/rpc"
	"apxpool/storage"
)

const (
	operatorPassEnv      = "APX_OPERATOR_PASS"
	gaugeRefreshInterval = 15 * time.Second
)

func main() {
	configPath := flag.String("config", "./config.toml", "Path to config file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("APX_ENV"))
	if env == "" {
		env = "dev"
	}

	passSource := passphrase.NewSource(operatorPassEnv)
	cfg, err := config.Load(*configPath, config.WithKeystorePassphraseSource(passSource.Get))
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}
	if err := config.Validate(cfg); err != nil {
		panic(fmt.Sprintf("Invalid config: %v", err))
	}

	logger := logging.Setup("apxpoold", env, &logging.Rotation{
		Path:       cfg.Log.Path,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Metrics || cfg.Telemetry.Traces {
		shutdownTelemetry, initErr := otel.Init(ctx, otel.Config{
			ServiceName: "apxpoold",
			Environment: env,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Headers:     otel.ParseHeaders(cfg.Telemetry.Headers),
			Metrics:     cfg.Telemetry.Metrics,
			Traces:      cfg.Telemetry.Traces,
		})
		if initErr != nil {
			panic(fmt.Sprintf("Failed to initialise telemetry: %v", initErr))
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTelemetry(shutdownCtx); err != nil {
				logger.Warn("telemetry shutdown failed", "error", err)
			}
		}()
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		panic(fmt.Sprintf("Failed to create data directory: %v", err))
	}

	db, err := storage.NewLevelDB(cfg.StateDatabasePath())
	if err != nil {
		panic(fmt.Sprintf("Failed to open state database: %v", err))
	}
	defer db.Close()

	registryStore, err := registry.NewStore(cfg.RegistryDatabasePath(), nil)
	if err != nil {
		panic(fmt.Sprintf("Failed to open partner registry: %v", err))
	}
	defer registryStore.Close()

	genesis, err := cfg.FacilityGenesis()
	if err != nil {
		panic(fmt.Sprintf("Invalid genesis configuration: %v", err))
	}

	facility, err := core.NewFacility(db, genesis)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialise facility: %v", err))
	}
	facility.SetRegistry(registryStore)

	auditDB, err := openAuditDB(cfg)
	if err != nil {
		panic(fmt.Sprintf("Failed to open audit database: %v", err))
	}
	if sqlDB, dbErr := auditDB.DB(); dbErr == nil {
		defer sqlDB.Close()
	}
	if err := audit.AutoMigrate(auditDB); err != nil {
		panic(fmt.Sprintf("Failed to migrate audit schema: %v", err))
	}

	journal, err := audit.NewJournal(auditDB, logger)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialise audit journal: %v", err))
	}
	go func() {
		if err := journal.Run(ctx, facility.Events()); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("audit journal stopped", "error", err)
		}
	}()

	exporter, err := audit.NewExporter(audit.ExporterConfig{
		DB:        auditDB,
		Ledger:    facility,
		OutputDir: cfg.ExportDirectory(),
		Logger:    logger,
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialise audit exporter: %v", err))
	}
	scheduler := audit.NewScheduler(audit.SchedulerConfig{
		Exporter:  exporter,
		RunHour:   cfg.Audit.ExportHour,
		RunMinute: cfg.Audit.ExportMinute,
		Logger:    logger,
	})
	go scheduler.Start(ctx)

	go refreshGauges(ctx, facility, logger)

	rpcServer := rpc.NewServer(facility)
	server := &http.Server{
		Addr:         cfg.RPCAddress,
		Handler:      rpcServer.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	listener, err := net.Listen("tcp", cfg.RPCAddress)
	if err != nil {
		panic(fmt.Sprintf("Failed to bind RPC listener on %s: %v", cfg.RPCAddress, err))
	}
	go func() {
		logger.Info("JSON-RPC server listening", "addr", listener.Addr().String())
		if serveErr := server.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logger.Error("rpc server terminated", "error", serveErr)
			stop()
		}
	}()

	logger.Info("facility initialised and running",
		"network", cfg.NetworkName,
		"data_dir", cfg.DataDir,
		"audit_driver", cfg.Audit.Driver,
	)

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	logger.Info("shutdown complete")
}

func openAuditDB(cfg *config.Config) (*gorm.DB, error) {
	dsn := cfg.AuditDSN()
	switch cfg.Audit.Driver {
	case config.DriverPostgres:
		return gorm.Open(postgres.Open(dsn), &gorm.Config{})
	default:
		return gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	}
}

// refreshGauges republishes the accounting and queue gauges on a fixed cadence
// so scrapes observe ledger state without issuing RPC reads.
func refreshGauges(ctx context.Context, facility *core.Facility, logger *slog.Logger) {
	gauges := observability.Vault()
	ticker := time.NewTicker(gaugeRefreshInterval)
	defer ticker.Stop()
	for {
		if err := publishGauges(facility, gauges); err != nil {
			logger.Warn("gauge refresh failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func publishGauges(facility *core.Facility, gauges *observability.VaultGauges) error {
	breakdown, err := facility.Breakdown()
	if err != nil {
		return err
	}
	positions, err := facility.StakingPositions()
	if err != nil {
		return err
	}
	totalStaked := new(big.Int)
	for _, position := range positions {
		if position != nil && position.AppexStaked != nil {
			totalStaked.Add(totalStaked, position.AppexStaked)
		}
	}
	gauges.RecordAccounting(
		breakdown.NAV,
		breakdown.SharePrice,
		breakdown.TotalShares,
		breakdown.AvailableLiquidity,
		breakdown.LoansOutstanding,
		breakdown.AccruedFees,
		breakdown.ProtocolFees,
		totalStaked,
	)
	depth, err := facility.QueueDepth()
	if err != nil {
		return err
	}
	age, err := facility.QueueOldestAge()
	if err != nil {
		return err
	}
	gauges.RecordQueue(depth, time.Duration(age)*time.Second)
	return nil
}
