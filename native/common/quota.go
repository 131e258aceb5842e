package common

import (
	"errors"
	"math"
	"math/big"
	"time"
)

var (
	ErrQuotaRequestsExceeded = errors.New("quota requests exceeded")
	ErrQuotaAmountExceeded   = errors.New("quota amount exceeded")
	ErrQuotaCounterOverflow  = errors.New("quota counter overflow")
)

// DayFormat keys daily quota buckets in UTC.
const DayFormat = "2006-01-02"

// DayKey returns the UTC day bucket for the provided time.
func DayKey(t time.Time) string {
	return t.UTC().Format(DayFormat)
}

// QuotaUsage captures the consumed portion of a daily quota. Day holds the
// UTC bucket the counters belong to; counters reset when the day changes.
type QuotaUsage struct {
	Requests uint32
	Amount   *big.Int
	Day      string
}

// Quota defines daily limits for a module flow. Zero values disable the
// corresponding check.
type Quota struct {
	MaxRequestsPerDay uint32
	MaxAmountPerDay   *big.Int
}

// CheckQuota verifies whether the additional request and amount fit within
// the configured daily quota. The returned usage reflects the updated
// counters when the quota is not exceeded.
func CheckQuota(q Quota, day string, prev QuotaUsage, addReq uint32, amount *big.Int) (QuotaUsage, error) {
	next := prev
	if prev.Day != day {
		next = QuotaUsage{Day: day}
	}
	if next.Amount == nil {
		next.Amount = big.NewInt(0)
	}

	if addReq > 0 {
		if next.Requests > math.MaxUint32-addReq {
			return prev, ErrQuotaCounterOverflow
		}
		next.Requests += addReq
	}
	if q.MaxRequestsPerDay > 0 && next.Requests > q.MaxRequestsPerDay {
		return prev, ErrQuotaRequestsExceeded
	}

	if amount != nil && amount.Sign() > 0 {
		next.Amount = new(big.Int).Add(next.Amount, amount)
	}
	if q.MaxAmountPerDay != nil && q.MaxAmountPerDay.Sign() > 0 && next.Amount.Cmp(q.MaxAmountPerDay) > 0 {
		return prev, ErrQuotaAmountExceeded
	}

	return next, nil
}
