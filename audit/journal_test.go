package audit

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"apxpool/core/events"
)

func setupAuditDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	journal, err := NewJournal(setupAuditDB(t), nil)
	if err != nil {
		t.Fatalf("new journal: %v", err)
	}
	return journal
}

func depositEvent(suffix byte, amount int64) events.VaultDeposited {
	var provider [20]byte
	provider[len(provider)-1] = suffix
	return events.VaultDeposited{
		Provider:     provider,
		Amount:       big.NewInt(amount),
		SharesMinted: big.NewInt(amount),
		SharePrice:   big.NewInt(1_000_000_000_000_000_000),
	}
}

func TestJournalChainsDigests(t *testing.T) {
	journal := newTestJournal(t)

	first, err := journal.Append(1, depositEvent(1, 100))
	if err != nil {
		t.Fatalf("append first: %v", err)
	}
	if first.PrevDigest != "0000000000000000000000000000000000000000000000000000000000000000" {
		t.Fatalf("genesis prev digest %q", first.PrevDigest)
	}
	second, err := journal.Append(2, depositEvent(2, 200))
	if err != nil {
		t.Fatalf("append second: %v", err)
	}
	if second.PrevDigest != first.Digest {
		t.Fatalf("chain not linked: prev %q want %q", second.PrevDigest, first.Digest)
	}

	verified, err := journal.Verify()
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if verified != 2 {
		t.Fatalf("verified %d records, want 2", verified)
	}

	last, err := journal.LastSequence()
	if err != nil {
		t.Fatalf("last sequence: %v", err)
	}
	if last != 2 {
		t.Fatalf("last sequence %d, want 2", last)
	}
}

func TestJournalSkipsReplayedSequences(t *testing.T) {
	journal := newTestJournal(t)

	if _, err := journal.Append(5, depositEvent(1, 100)); err != nil {
		t.Fatalf("append: %v", err)
	}
	replayed, err := journal.Append(5, depositEvent(1, 100))
	if err != nil {
		t.Fatalf("replay append: %v", err)
	}
	if replayed != nil {
		t.Fatalf("replayed sequence must not create a record")
	}
	stale, err := journal.Append(3, depositEvent(2, 50))
	if err != nil {
		t.Fatalf("stale append: %v", err)
	}
	if stale != nil {
		t.Fatalf("stale sequence must not create a record")
	}

	var count int64
	if err := journal.db.Model(&Record{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("record count %d, want 1", count)
	}
}

func TestJournalVerifyDetectsTampering(t *testing.T) {
	journal := newTestJournal(t)

	for seq := uint64(1); seq <= 3; seq++ {
		if _, err := journal.Append(seq, depositEvent(byte(seq), int64(seq)*100)); err != nil {
			t.Fatalf("append %d: %v", seq, err)
		}
	}

	if err := journal.db.Model(&Record{}).Where("sequence = ?", 2).
		Update("attributes", `{"amount":"999999"}`).Error; err != nil {
		t.Fatalf("tamper: %v", err)
	}

	if _, err := journal.Verify(); !errors.Is(err, ErrChainBroken) {
		t.Fatalf("expected broken chain, got %v", err)
	}
}

func TestJournalDrainsBusBacklog(t *testing.T) {
	journal := newTestJournal(t)
	bus := events.NewBus()

	bus.Emit(depositEvent(1, 100))
	bus.Emit(depositEvent(2, 200))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- journal.Run(ctx, bus)
	}()

	bus.Emit(depositEvent(3, 300))

	deadline := time.After(5 * time.Second)
	for {
		last, err := journal.LastSequence()
		if err != nil {
			t.Fatalf("last sequence: %v", err)
		}
		if last == 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("journal never caught up, at sequence %d", last)
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	// Cancellation surfaces either as ctx.Err or as the closed channel.
	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("run returned %v", err)
	}

	verified, err := journal.Verify()
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if verified != 3 {
		t.Fatalf("verified %d records, want 3", verified)
	}

	tail, err := journal.Tail(2)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(tail) != 2 || tail[0].Sequence != 3 {
		t.Fatalf("unexpected tail %+v", tail)
	}
}
