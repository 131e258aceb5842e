package modules

import (
	"encoding/json"

	"apxpool/core"
	"apxpool/native/redemption"
	"apxpool/native/vault"
)

type VaultModule struct {
	facility *core.Facility
}

func NewVaultModule(facility *core.Facility) *VaultModule {
	return &VaultModule{facility: facility}
}

type depositParams struct {
	Provider string `json:"provider"`
	Amount   string `json:"amount"`
}

type DepositResult struct {
	Provider     string `json:"provider"`
	AmountUSDC   string `json:"amountUsdc"`
	SharesMinted string `json:"sharesMinted"`
}

type redemptionParams struct {
	Provider string `json:"provider"`
	Shares   string `json:"shares"`
}

type RedemptionOutcomeResult struct {
	ID         uint64 `json:"id"`
	Status     string `json:"status"`
	Shares     string `json:"shares"`
	AmountUSDC string `json:"amountUsdc"`
	QueueDepth uint64 `json:"queueDepth"`
}

type ProcessRedemptionsResult struct {
	Settled  uint64 `json:"settled"`
	PaidUSDC string `json:"paidUsdc"`
}

type AccrueFeesResult struct {
	AccruedUSDC string `json:"accruedUsdc"`
}

type StatsResult struct {
	TotalAssets           string `json:"totalAssets"`
	TotalSupply           string `json:"totalSupply"`
	TotalLoansOutstanding string `json:"totalLoansOutstanding"`
	AccruedFees           string `json:"accruedFees"`
	CollectedFees         string `json:"collectedFees"`
	TotalLPFees           string `json:"totalLpFees"`
	ProtocolFees          string `json:"protocolFees"`
	NAVPerShare           string `json:"navPerShare"`
	UtilizationBps        string `json:"utilizationBps"`
	TotalDeposits         string `json:"totalDeposits"`
	AvailableUSDC         string `json:"availableUsdc"`
}

type BreakdownResult struct {
	ModuleUSDC         string `json:"moduleUsdc"`
	LPCash             string `json:"lpCash"`
	Buffer             string `json:"buffer"`
	AvailableLiquidity string `json:"availableLiquidity"`
	ProtocolFees       string `json:"protocolFees"`
	RewardsPayable     string `json:"rewardsPayable"`
	LoansOutstanding   string `json:"loansOutstanding"`
	AccruedFees        string `json:"accruedFees"`
	CollectedFees      string `json:"collectedFees"`
	NAV                string `json:"nav"`
	SharePrice         string `json:"sharePrice"`
	TotalShares        string `json:"totalShares"`
}

type RedemptionRequestResult struct {
	ID          uint64 `json:"id"`
	Provider    string `json:"provider"`
	Shares      string `json:"shares"`
	RequestTime uint64 `json:"requestTime"`
	Settled     bool   `json:"settled"`
	SettledTime uint64 `json:"settledTime,omitempty"`
	AmountPaid  string `json:"amountPaid"`
}

type getRedemptionParams struct {
	ID uint64 `json:"id"`
}

type withdrawProtocolFeesParams struct {
	Caller    string `json:"caller"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount,omitempty"`
}

type WithdrawProtocolFeesResult struct {
	Recipient     string `json:"recipient"`
	WithdrawnUSDC string `json:"withdrawnUsdc"`
}

type fundTreasuryParams struct {
	Funder string `json:"funder"`
	Amount string `json:"amount"`
}

type FundTreasuryResult struct {
	Funder      string `json:"funder"`
	AmountAppex string `json:"amountAppex"`
}

func (m *VaultModule) Deposit(raw json.RawMessage) (*DepositResult, *ModuleError) {
	if m == nil || m.facility == nil {
		return nil, moduleUnavailable("vault")
	}
	var params depositParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams("invalid parameter object", err.Error())
	}
	provider, err := decodeBech32(params.Provider)
	if err != nil {
		return nil, invalidParams("invalid provider", err.Error())
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		return nil, invalidParams("invalid amount", err.Error())
	}
	shares, err := m.facility.Deposit(provider, amount)
	if err != nil {
		return nil, wrapError(err)
	}
	return &DepositResult{
		Provider:     formatAddress(provider),
		AmountUSDC:   amount.String(),
		SharesMinted: amountString(shares),
	}, nil
}

func (m *VaultModule) RequestRedemption(raw json.RawMessage) (*RedemptionOutcomeResult, *ModuleError) {
	if m == nil || m.facility == nil {
		return nil, moduleUnavailable("vault")
	}
	var params redemptionParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams("invalid parameter object", err.Error())
	}
	provider, err := decodeBech32(params.Provider)
	if err != nil {
		return nil, invalidParams("invalid provider", err.Error())
	}
	shares, err := parseAmount(params.Shares)
	if err != nil {
		return nil, invalidParams("invalid shares", err.Error())
	}
	outcome, err := m.facility.RequestRedemption(provider, shares)
	if err != nil {
		return nil, wrapError(err)
	}
	return redemptionOutcome(outcome), nil
}

func (m *VaultModule) ProcessRedemptions() (*ProcessRedemptionsResult, *ModuleError) {
	if m == nil || m.facility == nil {
		return nil, moduleUnavailable("vault")
	}
	settled, paid, err := m.facility.ProcessRedemptions()
	if err != nil {
		return nil, wrapError(err)
	}
	return &ProcessRedemptionsResult{Settled: settled, PaidUSDC: amountString(paid)}, nil
}

func (m *VaultModule) AccrueFees() (*AccrueFeesResult, *ModuleError) {
	if m == nil || m.facility == nil {
		return nil, moduleUnavailable("vault")
	}
	accrued, err := m.facility.AccrueFees()
	if err != nil {
		return nil, wrapError(err)
	}
	return &AccrueFeesResult{AccruedUSDC: amountString(accrued)}, nil
}

func (m *VaultModule) Stats() (*StatsResult, *ModuleError) {
	if m == nil || m.facility == nil {
		return nil, moduleUnavailable("vault")
	}
	stats, err := m.facility.Stats()
	if err != nil {
		return nil, wrapError(err)
	}
	return statsResult(stats), nil
}

func (m *VaultModule) Breakdown() (*BreakdownResult, *ModuleError) {
	if m == nil || m.facility == nil {
		return nil, moduleUnavailable("vault")
	}
	breakdown, err := m.facility.Breakdown()
	if err != nil {
		return nil, wrapError(err)
	}
	return &BreakdownResult{
		ModuleUSDC:         amountString(breakdown.ModuleUSDC),
		LPCash:             amountString(breakdown.LPCash),
		Buffer:             amountString(breakdown.Buffer),
		AvailableLiquidity: amountString(breakdown.AvailableLiquidity),
		ProtocolFees:       amountString(breakdown.ProtocolFees),
		RewardsPayable:     amountString(breakdown.RewardsPayable),
		LoansOutstanding:   amountString(breakdown.LoansOutstanding),
		AccruedFees:        amountString(breakdown.AccruedFees),
		CollectedFees:      amountString(breakdown.CollectedFees),
		NAV:                amountString(breakdown.NAV),
		SharePrice:         amountString(breakdown.SharePrice),
		TotalShares:        amountString(breakdown.TotalShares),
	}, nil
}

func (m *VaultModule) PendingRedemptions() ([]RedemptionRequestResult, *ModuleError) {
	if m == nil || m.facility == nil {
		return nil, moduleUnavailable("vault")
	}
	pending, err := m.facility.PendingRedemptions()
	if err != nil {
		return nil, wrapError(err)
	}
	results := make([]RedemptionRequestResult, 0, len(pending))
	for _, request := range pending {
		results = append(results, redemptionRequest(request))
	}
	return results, nil
}

func (m *VaultModule) GetRedemption(raw json.RawMessage) (*RedemptionRequestResult, *ModuleError) {
	if m == nil || m.facility == nil {
		return nil, moduleUnavailable("vault")
	}
	var params getRedemptionParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams("invalid parameter object", err.Error())
	}
	request, err := m.facility.GetRedemption(params.ID)
	if err != nil {
		return nil, wrapError(err)
	}
	result := redemptionRequest(request)
	return &result, nil
}

func (m *VaultModule) WithdrawProtocolFees(raw json.RawMessage) (*WithdrawProtocolFeesResult, *ModuleError) {
	if m == nil || m.facility == nil {
		return nil, moduleUnavailable("vault")
	}
	var params withdrawProtocolFeesParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams("invalid parameter object", err.Error())
	}
	caller, err := decodeBech32(params.Caller)
	if err != nil {
		return nil, invalidParams("invalid caller", err.Error())
	}
	recipient, err := decodeBech32(params.Recipient)
	if err != nil {
		return nil, invalidParams("invalid recipient", err.Error())
	}
	amount, err := parseOptionalAmount(params.Amount)
	if err != nil {
		return nil, invalidParams("invalid amount", err.Error())
	}
	withdrawn, err := m.facility.WithdrawProtocolFees(caller, recipient, amount)
	if err != nil {
		return nil, wrapError(err)
	}
	return &WithdrawProtocolFeesResult{
		Recipient:     formatAddress(recipient),
		WithdrawnUSDC: amountString(withdrawn),
	}, nil
}

func (m *VaultModule) FundTreasury(raw json.RawMessage) (*FundTreasuryResult, *ModuleError) {
	if m == nil || m.facility == nil {
		return nil, moduleUnavailable("vault")
	}
	var params fundTreasuryParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams("invalid parameter object", err.Error())
	}
	funder, err := decodeBech32(params.Funder)
	if err != nil {
		return nil, invalidParams("invalid funder", err.Error())
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		return nil, invalidParams("invalid amount", err.Error())
	}
	if err := m.facility.FundTreasury(funder, amount); err != nil {
		return nil, wrapError(err)
	}
	return &FundTreasuryResult{Funder: formatAddress(funder), AmountAppex: amount.String()}, nil
}

func statsResult(stats *vault.Stats) *StatsResult {
	if stats == nil {
		return &StatsResult{}
	}
	return &StatsResult{
		TotalAssets:           amountString(stats.TotalAssets),
		TotalSupply:           amountString(stats.TotalSupply),
		TotalLoansOutstanding: amountString(stats.TotalLoansOutstanding),
		AccruedFees:           amountString(stats.AccruedFees),
		CollectedFees:         amountString(stats.CollectedFees),
		TotalLPFees:           amountString(stats.TotalLPFees),
		ProtocolFees:          amountString(stats.ProtocolFees),
		NAVPerShare:           amountString(stats.NAVPerShare),
		UtilizationBps:        amountString(stats.UtilizationBps),
		TotalDeposits:         amountString(stats.TotalDeposits),
		AvailableUSDC:         amountString(stats.AvailableUSDC),
	}
}

func redemptionOutcome(outcome *redemption.Outcome) *RedemptionOutcomeResult {
	if outcome == nil {
		return &RedemptionOutcomeResult{}
	}
	status := "queued"
	if outcome.Settled {
		status = "settled"
	}
	return &RedemptionOutcomeResult{
		ID:         outcome.ID,
		Status:     status,
		Shares:     amountString(outcome.Shares),
		AmountUSDC: amountString(outcome.Amount),
		QueueDepth: outcome.Depth,
	}
}

func redemptionRequest(request *redemption.Request) RedemptionRequestResult {
	if request == nil {
		return RedemptionRequestResult{}
	}
	return RedemptionRequestResult{
		ID:          request.ID,
		Provider:    formatAddress(request.Provider),
		Shares:      amountString(request.Shares),
		RequestTime: request.RequestTime,
		Settled:     request.Settled,
		SettledTime: request.SettledTime,
		AmountPaid:  amountString(request.AmountPaid),
	}
}
