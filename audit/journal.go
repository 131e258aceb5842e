package audit

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"lukechampine.com/blake3"

	"apxpool/core/events"
	"apxpool/core/types"
	"apxpool/observability"
)

// ErrChainBroken is returned by Verify when a recomputed digest does not
// match the stored one.
var ErrChainBroken = errors.New("audit: digest chain broken")

// Journal persists facility events into a digest-chained table. Appends are
// strictly sequence-ordered; replayed or stale sequences are skipped so the
// writer can resume from the bus backlog after a restart.
type Journal struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewJournal wraps the supplied gorm handle. Callers run AutoMigrate before
// first use.
func NewJournal(db *gorm.DB, logger *slog.Logger) (*Journal, error) {
	if db == nil {
		return nil, errors.New("audit: db is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{db: db, logger: logger, now: time.Now}, nil
}

// SetNowFunc overrides the journal clock.
func (j *Journal) SetNowFunc(now func() time.Time) {
	if j == nil || now == nil {
		return
	}
	j.now = now
}

// LastSequence reports the highest journaled sequence, zero when empty.
func (j *Journal) LastSequence() (uint64, error) {
	if j == nil || j.db == nil {
		return 0, errors.New("audit: journal not initialised")
	}
	var record Record
	err := j.db.Order("sequence DESC").First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("audit: load tail: %w", err)
	}
	return record.Sequence, nil
}

// Append journals one event under the supplied bus sequence. Sequences at or
// below the current tail are ignored and return nil, keeping the append
// idempotent across backlog replays.
func (j *Journal) Append(sequence uint64, evt events.Event) (*Record, error) {
	if j == nil || j.db == nil {
		return nil, errors.New("audit: journal not initialised")
	}
	if evt == nil {
		return nil, errors.New("audit: nil event")
	}

	eventType, payload, err := renderEvent(evt)
	if err != nil {
		return nil, err
	}

	var record *Record
	err = j.db.Transaction(func(tx *gorm.DB) error {
		var tail Record
		prev := [32]byte{}
		err := tx.Order("sequence DESC").First(&tail).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
		case err != nil:
			return fmt.Errorf("audit: load tail: %w", err)
		default:
			if sequence <= tail.Sequence {
				return nil
			}
			decoded, err := hex.DecodeString(tail.Digest)
			if err != nil || len(decoded) != 32 {
				return fmt.Errorf("audit: corrupt tail digest at sequence %d", tail.Sequence)
			}
			copy(prev[:], decoded)
		}

		digest := recordDigest(prev, sequence, eventType, payload)
		record = &Record{
			Sequence:   sequence,
			Type:       eventType,
			Attributes: string(payload),
			PrevDigest: hex.EncodeToString(prev[:]),
			Digest:     hex.EncodeToString(digest[:]),
			CreatedAt:  j.now().UTC(),
		}
		if err := tx.Create(record).Error; err != nil {
			return fmt.Errorf("audit: insert record: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if record != nil {
		observability.Events().RecordPublished(eventType)
	}
	return record, nil
}

// Verify walks the whole chain and recomputes every digest. It returns the
// number of verified records, or ErrChainBroken naming the first bad row.
func (j *Journal) Verify() (uint64, error) {
	if j == nil || j.db == nil {
		return 0, errors.New("audit: journal not initialised")
	}
	var records []Record
	if err := j.db.Order("sequence ASC").Find(&records).Error; err != nil {
		return 0, fmt.Errorf("audit: load records: %w", err)
	}
	prev := [32]byte{}
	for i, record := range records {
		if record.PrevDigest != hex.EncodeToString(prev[:]) {
			return uint64(i), fmt.Errorf("%w: sequence %d prev digest mismatch", ErrChainBroken, record.Sequence)
		}
		digest := recordDigest(prev, record.Sequence, record.Type, []byte(record.Attributes))
		if record.Digest != hex.EncodeToString(digest[:]) {
			return uint64(i), fmt.Errorf("%w: sequence %d digest mismatch", ErrChainBroken, record.Sequence)
		}
		prev = digest
	}
	return uint64(len(records)), nil
}

// Tail returns up to limit records, newest first.
func (j *Journal) Tail(limit int) ([]Record, error) {
	if j == nil || j.db == nil {
		return nil, errors.New("audit: journal not initialised")
	}
	if limit <= 0 {
		limit = 50
	}
	var records []Record
	if err := j.db.Order("sequence DESC").Limit(limit).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("audit: load tail records: %w", err)
	}
	return records, nil
}

// Run drains the event bus into the journal until the context is cancelled.
// The subscription resumes from the last persisted sequence, so restarts
// replay anything the bus still holds.
func (j *Journal) Run(ctx context.Context, bus *events.Bus) error {
	if j == nil || j.db == nil {
		return errors.New("audit: journal not initialised")
	}
	if bus == nil {
		return errors.New("audit: bus is required")
	}
	since, err := j.LastSequence()
	if err != nil {
		return err
	}
	updates, cancel, backlog := bus.Subscribe(ctx, since)
	defer cancel()

	for _, item := range backlog {
		if _, err := j.Append(item.Sequence, item.Event); err != nil {
			j.logger.Error("journal backlog append failed", "error", err, "sequence", item.Sequence)
		}
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case item, ok := <-updates:
			if !ok {
				return nil
			}
			if _, err := j.Append(item.Sequence, item.Event); err != nil {
				j.logger.Error("journal append failed", "error", err, "sequence", item.Sequence)
			}
		}
	}
}

func renderEvent(evt events.Event) (string, []byte, error) {
	if rendered, ok := evt.(interface{ Event() *types.Event }); ok {
		full := rendered.Event()
		if full != nil {
			payload, err := json.Marshal(full.Attributes)
			if err != nil {
				return "", nil, fmt.Errorf("audit: marshal attributes: %w", err)
			}
			return full.Type, payload, nil
		}
	}
	return evt.EventType(), []byte("{}"), nil
}

func recordDigest(prev [32]byte, sequence uint64, eventType string, payload []byte) [32]byte {
	buf := bytes.NewBuffer(nil)
	buf.Write(prev[:])
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], sequence)
	buf.Write(seq[:])
	writeDelimited(buf, []byte(eventType))
	writeDelimited(buf, payload)
	return blake3.Sum256(buf.Bytes())
}

func writeDelimited(buf *bytes.Buffer, data []byte) {
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(data)))
	buf.Write(length[:])
	buf.Write(data)
}
