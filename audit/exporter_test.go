package audit

import (
	"context"
	"encoding/csv"
	"math/big"
	"os"
	"testing"
	"time"

	"apxpool/native/credit"
	"apxpool/native/vault"
)

type stubLedger struct {
	stats *vault.Stats
	loans []*credit.LoanStatus
	depth uint64
}

func (s *stubLedger) Stats() (*vault.Stats, error)               { return s.stats, nil }
func (s *stubLedger) ActiveLoans() ([]*credit.LoanStatus, error) { return s.loans, nil }
func (s *stubLedger) QueueDepth() (uint64, error)                { return s.depth, nil }

func testLedger() *stubLedger {
	var borrower, publisher [20]byte
	borrower[19] = 1
	publisher[19] = 2
	return &stubLedger{
		stats: &vault.Stats{
			TotalAssets:           big.NewInt(1_000_000_000),
			TotalSupply:           big.NewInt(1_000_000_000),
			TotalLoansOutstanding: big.NewInt(100_000_000),
			AccruedFees:           big.NewInt(500_000),
			CollectedFees:         big.NewInt(0),
			TotalLPFees:           big.NewInt(0),
			ProtocolFees:          big.NewInt(0),
			NAVPerShare:           big.NewInt(1_000_000_000_000_000_000),
			UtilizationBps:        big.NewInt(1_000),
			TotalDeposits:         big.NewInt(1_000_000_000),
			AvailableUSDC:         big.NewInt(850_000_000),
		},
		loans: []*credit.LoanStatus{
			{
				Loan: &credit.Loan{
					ID:            1,
					Borrower:      borrower,
					Publisher:     publisher,
					USDCPrincipal: big.NewInt(100_000_000),
					USDCDisbursed: big.NewInt(95_000_000),
					AppexDisbursed: new(big.Int).Mul(
						big.NewInt(5), big.NewInt(1_000_000_000_000_000_000)),
					RewardBps:    500,
					LPFee:        big.NewInt(10_000_000),
					ProtocolFee:  big.NewInt(5_000_000),
					DailyAccrual: big.NewInt(333_333),
					StartTime:    1_700_000_000,
					TermDays:     30,
				},
				DaysElapsed:  10,
				IsOverdue:    false,
				AccruedLPFee: big.NewInt(3_333_330),
			},
		},
		depth: 2,
	}
}

func TestExporterWritesSnapshots(t *testing.T) {
	db := setupAuditDB(t)
	outputDir := t.TempDir()
	fixed := time.Date(2025, 3, 14, 2, 0, 0, 0, time.UTC)

	exporter, err := NewExporter(ExporterConfig{
		DB:        db,
		Ledger:    testLedger(),
		OutputDir: outputDir,
		Now:       func() time.Time { return fixed },
	})
	if err != nil {
		t.Fatalf("new exporter: %v", err)
	}

	run, err := exporter.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.Day != "2025-03-14" {
		t.Fatalf("run day %q", run.Day)
	}
	if run.LoanCount != 1 {
		t.Fatalf("loan count %d", run.LoanCount)
	}

	for _, path := range []string{run.LoansCSV, run.LoansParq, run.StatsCSV, run.StatsParq} {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("stat %s: %v", path, err)
		}
		if info.Size() == 0 {
			t.Fatalf("%s is empty", path)
		}
	}

	loansFile, err := os.Open(run.LoansCSV)
	if err != nil {
		t.Fatalf("open loans csv: %v", err)
	}
	defer loansFile.Close()
	rows, err := csv.NewReader(loansFile).ReadAll()
	if err != nil {
		t.Fatalf("read loans csv: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("loans csv rows %d, want header plus one", len(rows))
	}
	if rows[0][0] != "loan_id" {
		t.Fatalf("unexpected header %v", rows[0])
	}
	if rows[1][3] != "100000000" {
		t.Fatalf("principal column %q", rows[1][3])
	}

	statsFile, err := os.Open(run.StatsCSV)
	if err != nil {
		t.Fatalf("open stats csv: %v", err)
	}
	defer statsFile.Close()
	statsRows, err := csv.NewReader(statsFile).ReadAll()
	if err != nil {
		t.Fatalf("read stats csv: %v", err)
	}
	if len(statsRows) != 2 {
		t.Fatalf("stats csv rows %d", len(statsRows))
	}
	if statsRows[1][len(statsRows[1])-1] != "2" {
		t.Fatalf("queue depth column %q", statsRows[1][len(statsRows[1])-1])
	}

	var stored ExportRun
	if err := db.First(&stored, "day = ?", "2025-03-14").Error; err != nil {
		t.Fatalf("load export run: %v", err)
	}
	if stored.LoanCount != 1 {
		t.Fatalf("stored loan count %d", stored.LoanCount)
	}
}

func TestSchedulerNextRun(t *testing.T) {
	scheduler := NewScheduler(SchedulerConfig{
		Exporter:  &Exporter{},
		RunHour:   2,
		RunMinute: 30,
	})

	before := time.Date(2025, 3, 14, 1, 0, 0, 0, time.UTC)
	next := scheduler.nextRun(before)
	if !next.Equal(time.Date(2025, 3, 14, 2, 30, 0, 0, time.UTC)) {
		t.Fatalf("next run %s", next)
	}

	after := time.Date(2025, 3, 14, 3, 0, 0, 0, time.UTC)
	next = scheduler.nextRun(after)
	if !next.Equal(time.Date(2025, 3, 15, 2, 30, 0, 0, time.UTC)) {
		t.Fatalf("rollover next run %s", next)
	}
}
