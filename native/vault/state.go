package vault

import "math/big"

// StateKey locates the vault singleton in facility state.
var StateKey = []byte("vault/state")

// State is the singleton accounting record every module flows through.
// Monetary fields are USDC micro-units except TotalStaked (APPEX wei) and
// TotalStakingWeight (APPEX wei scaled by the lock tier multiplier).
type State struct {
	TotalShares           *big.Int
	TotalDeposits         *big.Int
	TotalLoansOutstanding *big.Int
	AccruedFees           *big.Int
	CollectedFees         *big.Int
	TotalLPFees           *big.Int
	ProtocolFees          *big.Int
	RewardsPayable        *big.Int
	TotalStaked           *big.Int
	TotalStakingWeight    *big.Int
	LastAccrual           uint64
	DailyRedemptionCap    *big.Int
	LiquidityBufferBps    uint64
	StakingMultiplier     uint64
}

// Normalize replaces nil big.Int fields with zeroes so loaded state can be
// used without nil checks at every call site.
func (s *State) Normalize() {
	if s.TotalShares == nil {
		s.TotalShares = big.NewInt(0)
	}
	if s.TotalDeposits == nil {
		s.TotalDeposits = big.NewInt(0)
	}
	if s.TotalLoansOutstanding == nil {
		s.TotalLoansOutstanding = big.NewInt(0)
	}
	if s.AccruedFees == nil {
		s.AccruedFees = big.NewInt(0)
	}
	if s.CollectedFees == nil {
		s.CollectedFees = big.NewInt(0)
	}
	if s.TotalLPFees == nil {
		s.TotalLPFees = big.NewInt(0)
	}
	if s.ProtocolFees == nil {
		s.ProtocolFees = big.NewInt(0)
	}
	if s.RewardsPayable == nil {
		s.RewardsPayable = big.NewInt(0)
	}
	if s.TotalStaked == nil {
		s.TotalStaked = big.NewInt(0)
	}
	if s.TotalStakingWeight == nil {
		s.TotalStakingWeight = big.NewInt(0)
	}
	if s.DailyRedemptionCap == nil {
		s.DailyRedemptionCap = big.NewInt(0)
	}
	if s.StakingMultiplier == 0 {
		s.StakingMultiplier = 1
	}
}

// NAV computes LP-attributable value: module cash minus protocol and
// reward carve-outs, plus outstanding principal and swept-but-uncollected
// fees.
func (s *State) NAV(moduleUSDC *big.Int) *big.Int {
	if moduleUSDC == nil {
		moduleUSDC = big.NewInt(0)
	}
	nav := new(big.Int).Sub(moduleUSDC, s.ProtocolFees)
	nav.Sub(nav, s.RewardsPayable)
	nav.Add(nav, s.TotalLoansOutstanding)
	nav.Add(nav, s.AccruedFees)
	if nav.Sign() < 0 {
		return big.NewInt(0)
	}
	return nav
}

// SharePrice is ray-scaled (1e18). With no supply the price is the
// deposit-asset unit.
func (s *State) SharePrice(moduleUSDC *big.Int) *big.Int {
	if s.TotalShares.Sign() == 0 {
		return new(big.Int).Set(ray)
	}
	price := new(big.Int).Mul(s.NAV(moduleUSDC), ray)
	return price.Quo(price, s.TotalShares)
}

// LPCash is module cash net of the protocol and reward carve-outs.
func (s *State) LPCash(moduleUSDC *big.Int) *big.Int {
	if moduleUSDC == nil {
		moduleUSDC = big.NewInt(0)
	}
	cash := new(big.Int).Sub(moduleUSDC, s.ProtocolFees)
	cash.Sub(cash, s.RewardsPayable)
	if cash.Sign() < 0 {
		return big.NewInt(0)
	}
	return cash
}

// AvailableLiquidity is LP cash net of the configured buffer. The buffer is
// never lent or redeemed against.
func (s *State) AvailableLiquidity(moduleUSDC *big.Int) *big.Int {
	cash := s.LPCash(moduleUSDC)
	if s.LiquidityBufferBps == 0 {
		return cash
	}
	buffer := new(big.Int).Mul(cash, new(big.Int).SetUint64(s.LiquidityBufferBps))
	buffer.Quo(buffer, basisPoints)
	avail := new(big.Int).Sub(cash, buffer)
	if avail.Sign() < 0 {
		return big.NewInt(0)
	}
	return avail
}

// Breakdown is the reconciliation read: ModuleUSDC always equals
// LPCash + ProtocolFees + RewardsPayable.
type Breakdown struct {
	ModuleUSDC         *big.Int
	LPCash             *big.Int
	Buffer             *big.Int
	AvailableLiquidity *big.Int
	ProtocolFees       *big.Int
	RewardsPayable     *big.Int
	LoansOutstanding   *big.Int
	AccruedFees        *big.Int
	CollectedFees      *big.Int
	NAV                *big.Int
	SharePrice         *big.Int
	TotalShares        *big.Int
}

// Stats is the bulk read surface consumed by dashboards and the RPC API.
type Stats struct {
	TotalAssets           *big.Int
	TotalSupply           *big.Int
	TotalLoansOutstanding *big.Int
	AccruedFees           *big.Int
	CollectedFees         *big.Int
	TotalLPFees           *big.Int
	ProtocolFees          *big.Int
	NAVPerShare           *big.Int
	UtilizationBps        *big.Int
	TotalDeposits         *big.Int
	AvailableUSDC         *big.Int
}
