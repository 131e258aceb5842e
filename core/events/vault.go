package events

import (
	"math/big"

	"apxpool/core/types"
)

const (
	// TypeVaultDeposited captures a liquidity provider deposit and the
	// shares minted for it.
	TypeVaultDeposited = "vault.deposited"
	// TypeVaultRedeemed captures an immediate share redemption payout.
	TypeVaultRedeemed = "vault.redeemed"
	// TypeVaultFeesAccrued is emitted when the daily fee sweep recognises
	// new lender yield.
	TypeVaultFeesAccrued = "vault.feesAccrued"
	// TypeVaultProtocolFeesWithdrawn captures an owner withdrawal of
	// collected protocol fees.
	TypeVaultProtocolFeesWithdrawn = "vault.protocolFeesWithdrawn"
)

// VaultDeposited captures the share mint realised by a deposit.
type VaultDeposited struct {
	Provider     [20]byte
	Amount       *big.Int
	SharesMinted *big.Int
	SharePrice   *big.Int
}

// EventType satisfies the Event interface.
func (VaultDeposited) EventType() string { return TypeVaultDeposited }

// Event converts the structured payload into a broadcastable event.
func (e VaultDeposited) Event() *types.Event {
	return &types.Event{Type: TypeVaultDeposited, Attributes: map[string]string{
		"provider":     formatAddress(e.Provider),
		"amount":       formatAmount(e.Amount),
		"sharesMinted": formatAmount(e.SharesMinted),
		"sharePrice":   formatAmount(e.SharePrice),
	}}
}

// VaultRedeemed captures an immediate redemption settled against pool cash.
type VaultRedeemed struct {
	Provider     [20]byte
	SharesBurned *big.Int
	Amount       *big.Int
	SharePrice   *big.Int
}

// EventType satisfies the Event interface.
func (VaultRedeemed) EventType() string { return TypeVaultRedeemed }

// Event converts the structured payload into a broadcastable event.
func (e VaultRedeemed) Event() *types.Event {
	return &types.Event{Type: TypeVaultRedeemed, Attributes: map[string]string{
		"provider":     formatAddress(e.Provider),
		"sharesBurned": formatAmount(e.SharesBurned),
		"amount":       formatAmount(e.Amount),
		"sharePrice":   formatAmount(e.SharePrice),
	}}
}

// VaultFeesAccrued captures the outcome of a fee accrual sweep.
type VaultFeesAccrued struct {
	Accrued     *big.Int
	AccruedFees *big.Int
	Loans       uint64
}

// EventType satisfies the Event interface.
func (VaultFeesAccrued) EventType() string { return TypeVaultFeesAccrued }

// Event converts the structured payload into a broadcastable event.
func (e VaultFeesAccrued) Event() *types.Event {
	return &types.Event{Type: TypeVaultFeesAccrued, Attributes: map[string]string{
		"accrued":     formatAmount(e.Accrued),
		"accruedFees": formatAmount(e.AccruedFees),
		"loans":       formatUint(e.Loans),
	}}
}

// VaultProtocolFeesWithdrawn captures an owner sweep of protocol revenue.
type VaultProtocolFeesWithdrawn struct {
	Recipient [20]byte
	Amount    *big.Int
	Remaining *big.Int
}

// EventType satisfies the Event interface.
func (VaultProtocolFeesWithdrawn) EventType() string { return TypeVaultProtocolFeesWithdrawn }

// Event converts the structured payload into a broadcastable event.
func (e VaultProtocolFeesWithdrawn) Event() *types.Event {
	return &types.Event{Type: TypeVaultProtocolFeesWithdrawn, Attributes: map[string]string{
		"recipient": formatAddress(e.Recipient),
		"amount":    formatAmount(e.Amount),
		"remaining": formatAmount(e.Remaining),
	}}
}
