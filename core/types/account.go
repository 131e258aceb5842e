package types

import "math/big"

// Account holds the facility-side balances for one participant address.
// BalanceUSDC is denominated in micro-units (6 decimals), BalanceAPPEX in
// wei (18 decimals) and Shares in vault share micro-units.
type Account struct {
	Nonce        uint64   `json:"nonce"`
	BalanceUSDC  *big.Int `json:"balanceUSDC"`
	BalanceAPPEX *big.Int `json:"balanceAPPEX"`
	Shares       *big.Int `json:"shares"`
}

// Clone returns a deep copy so callers can mutate without aliasing state.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	out := &Account{Nonce: a.Nonce}
	if a.BalanceUSDC != nil {
		out.BalanceUSDC = new(big.Int).Set(a.BalanceUSDC)
	}
	if a.BalanceAPPEX != nil {
		out.BalanceAPPEX = new(big.Int).Set(a.BalanceAPPEX)
	}
	if a.Shares != nil {
		out.Shares = new(big.Int).Set(a.Shares)
	}
	return out
}
