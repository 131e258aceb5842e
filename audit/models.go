package audit

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Record is one link of the tamper-evident journal. Digest covers the
// previous digest, the sequence number and the rendered event payload, so
// any rewrite of history breaks the chain from that row onward.
type Record struct {
	Sequence   uint64 `gorm:"primaryKey;autoIncrement:false"`
	Type       string `gorm:"size:64;index"`
	Attributes string `gorm:"type:text"`
	PrevDigest string `gorm:"size:64"`
	Digest     string `gorm:"size:64;uniqueIndex"`
	CreatedAt  time.Time
}

// ExportRun records a completed ledger snapshot export.
type ExportRun struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	Day         string    `gorm:"size:10;index"`
	LoanCount   int
	LoansCSV    string
	LoansParq   string
	StatsCSV    string
	StatsParq   string
	CreatedAt   time.Time
	CompletedAt time.Time
}

// AutoMigrate performs all schema migrations for the audit store.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Record{},
		&ExportRun{},
	)
}
