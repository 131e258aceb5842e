package redemption

import "math/big"

// Request is a first-in-first-out redemption entry. Shares move into module
// escrow on enqueue and burn at settlement, so the payout is priced at
// settlement time, not request time.
type Request struct {
	ID          uint64
	Provider    [20]byte
	Shares      *big.Int
	RequestTime uint64
	Settled     bool
	SettledTime uint64
	AmountPaid  *big.Int
}

// Normalize replaces nil big.Int fields with zeroes.
func (r *Request) Normalize() {
	if r.Shares == nil {
		r.Shares = big.NewInt(0)
	}
	if r.AmountPaid == nil {
		r.AmountPaid = big.NewInt(0)
	}
}

// Clone returns a deep copy of the request.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	clone := *r
	if r.Shares != nil {
		clone.Shares = new(big.Int).Set(r.Shares)
	}
	if r.AmountPaid != nil {
		clone.AmountPaid = new(big.Int).Set(r.AmountPaid)
	}
	return &clone
}

// Outcome reports how a redemption request resolved. Settled outcomes carry
// the payout; queued outcomes carry the queue position.
type Outcome struct {
	ID      uint64
	Settled bool
	Shares  *big.Int
	Amount  *big.Int
	Depth   uint64
}
