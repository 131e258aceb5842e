package audit

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
	"gorm.io/gorm"

	"apxpool/crypto"
	"apxpool/native/credit"
	"apxpool/native/vault"
)

// LedgerView is the read surface the exporter snapshots. The facility
// satisfies it.
type LedgerView interface {
	Stats() (*vault.Stats, error)
	ActiveLoans() ([]*credit.LoanStatus, error)
	QueueDepth() (uint64, error)
}

// ExporterConfig captures the dependencies required to construct an Exporter.
type ExporterConfig struct {
	DB        *gorm.DB
	Ledger    LedgerView
	OutputDir string
	Now       func() time.Time
	Logger    *slog.Logger
}

// Exporter materialises daily CSV and Parquet snapshots of the loan book and
// pool accounting.
type Exporter struct {
	db        *gorm.DB
	ledger    LedgerView
	outputDir string
	now       func() time.Time
	logger    *slog.Logger
}

// NewExporter builds a configured exporter.
func NewExporter(cfg ExporterConfig) (*Exporter, error) {
	if cfg.DB == nil {
		return nil, errors.New("audit: db is required")
	}
	if cfg.Ledger == nil {
		return nil, errors.New("audit: ledger view is required")
	}
	outputDir := cfg.OutputDir
	if strings.TrimSpace(outputDir) == "" {
		outputDir = filepath.Join("apx-data", "exports")
	}
	nowFn := cfg.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{
		db:        cfg.DB,
		ledger:    cfg.Ledger,
		outputDir: outputDir,
		now:       nowFn,
		logger:    logger,
	}, nil
}

// Run snapshots the ledger into the day directory and records the run.
func (e *Exporter) Run(ctx context.Context) (*ExportRun, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	started := e.now().UTC()
	day := started.Format("2006-01-02")

	loans, err := e.ledger.ActiveLoans()
	if err != nil {
		return nil, fmt.Errorf("audit: load loans: %w", err)
	}
	stats, err := e.ledger.Stats()
	if err != nil {
		return nil, fmt.Errorf("audit: load stats: %w", err)
	}
	depth, err := e.ledger.QueueDepth()
	if err != nil {
		return nil, fmt.Errorf("audit: load queue depth: %w", err)
	}

	runDir := filepath.Join(e.outputDir, started.Format("20060102"))
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("audit: ensure output dir: %w", err)
	}

	loansCSV := filepath.Join(runDir, "loans.csv")
	if err := writeLoansCSV(loansCSV, loans); err != nil {
		return nil, err
	}
	loansParq := filepath.Join(runDir, "loans.parquet")
	if err := writeLoansParquet(loansParq, loans); err != nil {
		return nil, err
	}
	statsCSV := filepath.Join(runDir, "stats.csv")
	if err := writeStatsCSV(statsCSV, stats, depth); err != nil {
		return nil, err
	}
	statsParq := filepath.Join(runDir, "stats.parquet")
	if err := writeStatsParquet(statsParq, stats, depth); err != nil {
		return nil, err
	}

	run := &ExportRun{
		ID:          uuid.New(),
		Day:         day,
		LoanCount:   len(loans),
		LoansCSV:    loansCSV,
		LoansParq:   loansParq,
		StatsCSV:    statsCSV,
		StatsParq:   statsParq,
		CreatedAt:   started,
		CompletedAt: e.now().UTC(),
	}
	if err := e.db.Create(run).Error; err != nil {
		return nil, fmt.Errorf("audit: record export run: %w", err)
	}
	e.logger.Info("ledger export complete", "day", day, "loans", len(loans), "dir", runDir)
	return run, nil
}

var loanCSVHeader = []string{
	"loan_id", "borrower", "publisher", "principal_usdc", "usdc_disbursed",
	"appex_disbursed_wei", "reward_bps", "lp_fee", "protocol_fee",
	"daily_accrual", "start_time", "term_days", "days_elapsed",
	"accrued_lp_fee", "overdue", "repaid", "protocol_fee_paid",
}

func writeLoansCSV(path string, loans []*credit.LoanStatus) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audit: create csv: %w", err)
	}
	defer file.Close()
	out := csv.NewWriter(file)
	if err := out.Write(loanCSVHeader); err != nil {
		return fmt.Errorf("audit: write csv header: %w", err)
	}
	for _, status := range loans {
		if status == nil || status.Loan == nil {
			continue
		}
		loan := status.Loan
		record := []string{
			fmt.Sprintf("%d", loan.ID),
			crypto.AddressFromRaw(loan.Borrower).String(),
			crypto.AddressFromRaw(loan.Publisher).String(),
			amountString(loan.USDCPrincipal),
			amountString(loan.USDCDisbursed),
			amountString(loan.AppexDisbursed),
			fmt.Sprintf("%d", loan.RewardBps),
			amountString(loan.LPFee),
			amountString(loan.ProtocolFee),
			amountString(loan.DailyAccrual),
			time.Unix(int64(loan.StartTime), 0).UTC().Format(time.RFC3339),
			fmt.Sprintf("%d", loan.TermDays),
			fmt.Sprintf("%d", status.DaysElapsed),
			amountString(status.AccruedLPFee),
			boolString(status.IsOverdue),
			boolString(loan.Repaid),
			boolString(loan.ProtocolFeePaid),
		}
		if err := out.Write(record); err != nil {
			return fmt.Errorf("audit: write csv row: %w", err)
		}
	}
	out.Flush()
	if err := out.Error(); err != nil {
		return fmt.Errorf("audit: flush csv: %w", err)
	}
	return nil
}

type loanParquetRow struct {
	LoanID            int64  `parquet:"name=loan_id, type=INT64"`
	Borrower          string `parquet:"name=borrower, type=BYTE_ARRAY, convertedtype=UTF8"`
	Publisher         string `parquet:"name=publisher, type=BYTE_ARRAY, convertedtype=UTF8"`
	PrincipalUSDC     string `parquet:"name=principal_usdc, type=BYTE_ARRAY, convertedtype=UTF8"`
	USDCDisbursed     string `parquet:"name=usdc_disbursed, type=BYTE_ARRAY, convertedtype=UTF8"`
	AppexDisbursedWei string `parquet:"name=appex_disbursed_wei, type=BYTE_ARRAY, convertedtype=UTF8"`
	RewardBps         int64  `parquet:"name=reward_bps, type=INT64"`
	LPFee             string `parquet:"name=lp_fee, type=BYTE_ARRAY, convertedtype=UTF8"`
	ProtocolFee       string `parquet:"name=protocol_fee, type=BYTE_ARRAY, convertedtype=UTF8"`
	DailyAccrual      string `parquet:"name=daily_accrual, type=BYTE_ARRAY, convertedtype=UTF8"`
	StartTime         string `parquet:"name=start_time, type=BYTE_ARRAY, convertedtype=UTF8"`
	TermDays          int32  `parquet:"name=term_days, type=INT32"`
	DaysElapsed       int32  `parquet:"name=days_elapsed, type=INT32"`
	AccruedLPFee      string `parquet:"name=accrued_lp_fee, type=BYTE_ARRAY, convertedtype=UTF8"`
	Overdue           bool   `parquet:"name=overdue, type=BOOLEAN"`
	Repaid            bool   `parquet:"name=repaid, type=BOOLEAN"`
	ProtocolFeePaid   bool   `parquet:"name=protocol_fee_paid, type=BOOLEAN"`
}

func writeLoansParquet(path string, loans []*credit.LoanStatus) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audit: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(loanParquetRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("audit: parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, status := range loans {
		if status == nil || status.Loan == nil {
			continue
		}
		loan := status.Loan
		row := &loanParquetRow{
			LoanID:            int64(loan.ID),
			Borrower:          crypto.AddressFromRaw(loan.Borrower).String(),
			Publisher:         crypto.AddressFromRaw(loan.Publisher).String(),
			PrincipalUSDC:     amountString(loan.USDCPrincipal),
			USDCDisbursed:     amountString(loan.USDCDisbursed),
			AppexDisbursedWei: amountString(loan.AppexDisbursed),
			RewardBps:         int64(loan.RewardBps),
			LPFee:             amountString(loan.LPFee),
			ProtocolFee:       amountString(loan.ProtocolFee),
			DailyAccrual:      amountString(loan.DailyAccrual),
			StartTime:         time.Unix(int64(loan.StartTime), 0).UTC().Format(time.RFC3339),
			TermDays:          int32(loan.TermDays),
			DaysElapsed:       int32(status.DaysElapsed),
			AccruedLPFee:      amountString(status.AccruedLPFee),
			Overdue:           status.IsOverdue,
			Repaid:            loan.Repaid,
			ProtocolFeePaid:   loan.ProtocolFeePaid,
		}
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("audit: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("audit: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("audit: close parquet file: %w", err)
	}
	return nil
}

var statsCSVHeader = []string{
	"total_assets", "total_supply", "total_loans_outstanding", "accrued_fees",
	"collected_fees", "total_lp_fees", "protocol_fees", "nav_per_share",
	"utilization_bps", "total_deposits", "available_usdc", "queue_depth",
}

func writeStatsCSV(path string, stats *vault.Stats, queueDepth uint64) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audit: create csv: %w", err)
	}
	defer file.Close()
	out := csv.NewWriter(file)
	if err := out.Write(statsCSVHeader); err != nil {
		return fmt.Errorf("audit: write csv header: %w", err)
	}
	record := []string{
		amountString(stats.TotalAssets),
		amountString(stats.TotalSupply),
		amountString(stats.TotalLoansOutstanding),
		amountString(stats.AccruedFees),
		amountString(stats.CollectedFees),
		amountString(stats.TotalLPFees),
		amountString(stats.ProtocolFees),
		amountString(stats.NAVPerShare),
		amountString(stats.UtilizationBps),
		amountString(stats.TotalDeposits),
		amountString(stats.AvailableUSDC),
		fmt.Sprintf("%d", queueDepth),
	}
	if err := out.Write(record); err != nil {
		return fmt.Errorf("audit: write csv row: %w", err)
	}
	out.Flush()
	if err := out.Error(); err != nil {
		return fmt.Errorf("audit: flush csv: %w", err)
	}
	return nil
}

type statsParquetRow struct {
	TotalAssets           string `parquet:"name=total_assets, type=BYTE_ARRAY, convertedtype=UTF8"`
	TotalSupply           string `parquet:"name=total_supply, type=BYTE_ARRAY, convertedtype=UTF8"`
	TotalLoansOutstanding string `parquet:"name=total_loans_outstanding, type=BYTE_ARRAY, convertedtype=UTF8"`
	AccruedFees           string `parquet:"name=accrued_fees, type=BYTE_ARRAY, convertedtype=UTF8"`
	CollectedFees         string `parquet:"name=collected_fees, type=BYTE_ARRAY, convertedtype=UTF8"`
	TotalLPFees           string `parquet:"name=total_lp_fees, type=BYTE_ARRAY, convertedtype=UTF8"`
	ProtocolFees          string `parquet:"name=protocol_fees, type=BYTE_ARRAY, convertedtype=UTF8"`
	NAVPerShare           string `parquet:"name=nav_per_share, type=BYTE_ARRAY, convertedtype=UTF8"`
	UtilizationBps        string `parquet:"name=utilization_bps, type=BYTE_ARRAY, convertedtype=UTF8"`
	TotalDeposits         string `parquet:"name=total_deposits, type=BYTE_ARRAY, convertedtype=UTF8"`
	AvailableUSDC         string `parquet:"name=available_usdc, type=BYTE_ARRAY, convertedtype=UTF8"`
	QueueDepth            int64  `parquet:"name=queue_depth, type=INT64"`
}

func writeStatsParquet(path string, stats *vault.Stats, queueDepth uint64) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audit: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(statsParquetRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("audit: parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	row := &statsParquetRow{
		TotalAssets:           amountString(stats.TotalAssets),
		TotalSupply:           amountString(stats.TotalSupply),
		TotalLoansOutstanding: amountString(stats.TotalLoansOutstanding),
		AccruedFees:           amountString(stats.AccruedFees),
		CollectedFees:         amountString(stats.CollectedFees),
		TotalLPFees:           amountString(stats.TotalLPFees),
		ProtocolFees:          amountString(stats.ProtocolFees),
		NAVPerShare:           amountString(stats.NAVPerShare),
		UtilizationBps:        amountString(stats.UtilizationBps),
		TotalDeposits:         amountString(stats.TotalDeposits),
		AvailableUSDC:         amountString(stats.AvailableUSDC),
		QueueDepth:            int64(queueDepth),
	}
	if err := pw.Write(row); err != nil {
		pw.WriteStop()
		file.Close()
		return fmt.Errorf("audit: parquet write: %w", err)
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("audit: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("audit: close parquet file: %w", err)
	}
	return nil
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func boolString(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
