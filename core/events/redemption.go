package events

import (
	"math/big"

	"apxpool/core/types"
)

const (
	// TypeRedemptionQueued is emitted when a redemption cannot settle
	// immediately and joins the queue.
	TypeRedemptionQueued = "redemption.queued"
	// TypeRedemptionSettled is emitted when a queued or immediate
	// redemption pays out.
	TypeRedemptionSettled = "redemption.settled"
)

// RedemptionQueued captures a redemption waiting on liquidity or day caps.
type RedemptionQueued struct {
	ID       uint64
	Provider [20]byte
	Shares   *big.Int
	Depth    uint64
}

// EventType satisfies the Event interface.
func (RedemptionQueued) EventType() string { return TypeRedemptionQueued }

// Event converts the structured payload into a broadcastable event.
func (e RedemptionQueued) Event() *types.Event {
	return &types.Event{Type: TypeRedemptionQueued, Attributes: map[string]string{
		"id":       formatUint(e.ID),
		"provider": formatAddress(e.Provider),
		"shares":   formatAmount(e.Shares),
		"depth":    formatUint(e.Depth),
	}}
}

// RedemptionSettled captures a payout at the settlement-time share price.
type RedemptionSettled struct {
	ID         uint64
	Provider   [20]byte
	Shares     *big.Int
	Amount     *big.Int
	SharePrice *big.Int
	Queued     bool
}

// EventType satisfies the Event interface.
func (RedemptionSettled) EventType() string { return TypeRedemptionSettled }

// Event converts the structured payload into a broadcastable event.
func (e RedemptionSettled) Event() *types.Event {
	attrs := map[string]string{
		"id":         formatUint(e.ID),
		"provider":   formatAddress(e.Provider),
		"shares":     formatAmount(e.Shares),
		"amount":     formatAmount(e.Amount),
		"sharePrice": formatAmount(e.SharePrice),
	}
	if e.Queued {
		attrs["queued"] = "true"
	}
	return &types.Event{Type: TypeRedemptionSettled, Attributes: attrs}
}
