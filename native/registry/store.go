package registry

import (
	"encoding/json"
	"errors"
	"math/big"
	"sort"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"apxpool/crypto"
)

var (
	bucketPartners = []byte("partners")
	bucketRequests = []byte("requests")

	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrRequestClosed is returned when resolving a payment request that
	// already left the pending state.
	ErrRequestClosed = errors.New("payment request already closed")
	// ErrInvalidRequest is returned for malformed payment request inputs.
	ErrInvalidRequest = errors.New("invalid payment request")
	// ErrInvalidStatus is returned for an unknown resolution status.
	ErrInvalidStatus = errors.New("invalid request status")
)

// Payment request lifecycle. Requests start pending and resolve exactly
// once to funded or rejected.
const (
	RequestStatusPending  = "pending"
	RequestStatusFunded   = "funded"
	RequestStatusRejected = "rejected"
)

// Store persists counterparty metadata and publisher payment requests in a
// flat file beside the ledger. It enforces no accounting invariants; the
// facility consults it for lookups only.
type Store struct {
	db *bolt.DB
}

// Partner mirrors an approved counterparty with the off-ledger metadata the
// facility state does not carry.
type Partner struct {
	Address        string    `json:"address"`
	Name           string    `json:"name"`
	BorrowLimit    *big.Int  `json:"borrowLimit"`
	LPYieldBps     uint64    `json:"lpYieldBps"`
	ProtocolFeeBps uint64    `json:"protocolFeeBps"`
	Approved       bool      `json:"approved"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// PaymentRequest tracks a publisher's ask against a borrower credit line.
type PaymentRequest struct {
	ID         string    `json:"id"`
	Publisher  string    `json:"publisher"`
	Borrower   string    `json:"borrower"`
	AmountUSDC *big.Int  `json:"amountUsdc"`
	AppexBps   uint64    `json:"appexBps"`
	Status     string    `json:"status"`
	Note       string    `json:"note,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// NewStore initialises (and migrates) the BoltDB-backed store.
func NewStore(path string, options *bolt.Options) (*Store, error) {
	if options == nil {
		options = &bolt.Options{Timeout: time.Second}
	} else if options.Timeout == 0 {
		options.Timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, options)
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketPartners, bucketRequests} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying Bolt database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func normalizePartner(p *Partner) {
	if p.BorrowLimit == nil {
		p.BorrowLimit = big.NewInt(0)
	}
}

func normalizeRequest(r *PaymentRequest) {
	if r.AmountUSDC == nil {
		r.AmountUSDC = big.NewInt(0)
	}
	if r.Status == "" {
		r.Status = RequestStatusPending
	}
}

// MutatePartner applies a mutation to the partner record. When
// createIfMissing is false and the record does not exist, ErrNotFound is
// returned.
func (s *Store) MutatePartner(addr [20]byte, createIfMissing bool, fn func(*Partner) error) (Partner, error) {
	var result Partner
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketPartners)
		raw := bucket.Get(addr[:])
		var rec Partner
		if raw == nil {
			if !createIfMissing {
				return ErrNotFound
			}
			rec = Partner{
				Address:     crypto.AddressFromRaw(addr).String(),
				BorrowLimit: big.NewInt(0),
			}
		} else {
			if err := json.Unmarshal(raw, &rec); err != nil {
				return err
			}
			normalizePartner(&rec)
		}
		if err := fn(&rec); err != nil {
			return err
		}
		rec.UpdatedAt = rec.UpdatedAt.UTC()
		encoded, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := bucket.Put(addr[:], encoded); err != nil {
			return err
		}
		result = rec
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return Partner{}, ErrNotFound
	}
	return result, err
}

// GetPartner fetches a snapshot of the partner record, if present.
func (s *Store) GetPartner(addr [20]byte) (Partner, bool, error) {
	var record Partner
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketPartners).Get(addr[:])
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &record); err != nil {
			return err
		}
		normalizePartner(&record)
		found = true
		return nil
	})
	if err != nil {
		return Partner{}, false, err
	}
	return record, found, nil
}

// ListPartners returns every partner record in stable address order.
func (s *Store) ListPartners() ([]Partner, error) {
	var partners []Partner
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPartners).ForEach(func(_, raw []byte) error {
			var rec Partner
			if err := json.Unmarshal(raw, &rec); err != nil {
				return err
			}
			normalizePartner(&rec)
			partners = append(partners, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return partners, nil
}

// CreatePaymentRequest records a pending publisher ask and assigns its id.
func (s *Store) CreatePaymentRequest(publisher, borrower [20]byte, amountUSDC *big.Int, appexBps uint64, note string, now time.Time) (PaymentRequest, error) {
	if amountUSDC == nil || amountUSDC.Sign() <= 0 {
		return PaymentRequest{}, ErrInvalidRequest
	}
	if appexBps > 10_000 {
		return PaymentRequest{}, ErrInvalidRequest
	}
	request := PaymentRequest{
		ID:         uuid.NewString(),
		Publisher:  crypto.AddressFromRaw(publisher).String(),
		Borrower:   crypto.AddressFromRaw(borrower).String(),
		AmountUSDC: new(big.Int).Set(amountUSDC),
		AppexBps:   appexBps,
		Status:     RequestStatusPending,
		Note:       note,
		CreatedAt:  now.UTC(),
		UpdatedAt:  now.UTC(),
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		encoded, err := json.Marshal(request)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketRequests).Put([]byte(request.ID), encoded)
	})
	if err != nil {
		return PaymentRequest{}, err
	}
	return request, nil
}

// GetPaymentRequest fetches a snapshot of the request, if present.
func (s *Store) GetPaymentRequest(id string) (PaymentRequest, bool, error) {
	var record PaymentRequest
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketRequests).Get([]byte(id))
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &record); err != nil {
			return err
		}
		normalizeRequest(&record)
		found = true
		return nil
	})
	if err != nil {
		return PaymentRequest{}, false, err
	}
	return record, found, nil
}

// ListPaymentRequests returns requests ordered by creation time, optionally
// filtered to one status. An empty status returns everything.
func (s *Store) ListPaymentRequests(status string) ([]PaymentRequest, error) {
	var requests []PaymentRequest
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRequests).ForEach(func(_, raw []byte) error {
			var rec PaymentRequest
			if err := json.Unmarshal(raw, &rec); err != nil {
				return err
			}
			normalizeRequest(&rec)
			if status != "" && rec.Status != status {
				return nil
			}
			requests = append(requests, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(requests, func(i, j int) bool {
		if requests[i].CreatedAt.Equal(requests[j].CreatedAt) {
			return requests[i].ID < requests[j].ID
		}
		return requests[i].CreatedAt.Before(requests[j].CreatedAt)
	})
	return requests, nil
}

// ResolvePaymentRequest moves a pending request to funded or rejected.
func (s *Store) ResolvePaymentRequest(id, status string, now time.Time) (PaymentRequest, error) {
	if status != RequestStatusFunded && status != RequestStatusRejected {
		return PaymentRequest{}, ErrInvalidStatus
	}
	var result PaymentRequest
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketRequests)
		raw := bucket.Get([]byte(id))
		if raw == nil {
			return ErrNotFound
		}
		var rec PaymentRequest
		if err := json.Unmarshal(raw, &rec); err != nil {
			return err
		}
		normalizeRequest(&rec)
		if rec.Status != RequestStatusPending {
			return ErrRequestClosed
		}
		rec.Status = status
		rec.UpdatedAt = now.UTC()
		encoded, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := bucket.Put([]byte(id), encoded); err != nil {
			return err
		}
		result = rec
		return nil
	})
	if err != nil {
		return PaymentRequest{}, err
	}
	return result, nil
}
