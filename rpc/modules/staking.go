package modules

import (
	"encoding/json"

	"apxpool/core"
	"apxpool/native/staking"
)

type StakingModule struct {
	facility *core.Facility
}

func NewStakingModule(facility *core.Facility) *StakingModule {
	return &StakingModule{facility: facility}
}

type stakeParams struct {
	Staker   string `json:"staker"`
	Amount   string `json:"amount"`
	LockDays uint64 `json:"lockDays"`
}

type unstakeParams struct {
	Staker string `json:"staker"`
	Amount string `json:"amount"`
}

type distributeParams struct {
	Caller string `json:"caller"`
	Amount string `json:"amount"`
}

type DistributeResult struct {
	DistributedUSDC string `json:"distributedUsdc"`
}

type claimParams struct {
	Staker string `json:"staker"`
}

type ClaimResult struct {
	Staker   string `json:"staker"`
	PaidUSDC string `json:"paidUsdc"`
}

type stakerParams struct {
	Staker string `json:"staker"`
}

type StakingPositionResult struct {
	Staker         string `json:"staker"`
	AppexStaked    string `json:"appexStaked"`
	LockDays       uint64 `json:"lockDays"`
	LockEnd        uint64 `json:"lockEnd"`
	WeightedStake  string `json:"weightedStake"`
	PendingRewards string `json:"pendingRewards"`
}

func (m *StakingModule) Stake(raw json.RawMessage) (*AckResult, *ModuleError) {
	if m == nil || m.facility == nil {
		return nil, moduleUnavailable("staking")
	}
	var params stakeParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams("invalid parameter object", err.Error())
	}
	staker, err := decodeBech32(params.Staker)
	if err != nil {
		return nil, invalidParams("invalid staker", err.Error())
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		return nil, invalidParams("invalid amount", err.Error())
	}
	if err := m.facility.Stake(staker, amount, params.LockDays); err != nil {
		return nil, wrapError(err)
	}
	return &AckResult{OK: true}, nil
}

func (m *StakingModule) Unstake(raw json.RawMessage) (*AckResult, *ModuleError) {
	if m == nil || m.facility == nil {
		return nil, moduleUnavailable("staking")
	}
	var params unstakeParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams("invalid parameter object", err.Error())
	}
	staker, err := decodeBech32(params.Staker)
	if err != nil {
		return nil, invalidParams("invalid staker", err.Error())
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		return nil, invalidParams("invalid amount", err.Error())
	}
	if err := m.facility.Unstake(staker, amount); err != nil {
		return nil, wrapError(err)
	}
	return &AckResult{OK: true}, nil
}

func (m *StakingModule) Distribute(raw json.RawMessage) (*DistributeResult, *ModuleError) {
	if m == nil || m.facility == nil {
		return nil, moduleUnavailable("staking")
	}
	var params distributeParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams("invalid parameter object", err.Error())
	}
	caller, err := decodeBech32(params.Caller)
	if err != nil {
		return nil, invalidParams("invalid caller", err.Error())
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		return nil, invalidParams("invalid amount", err.Error())
	}
	distributed, err := m.facility.DistributeRewards(caller, amount)
	if err != nil {
		return nil, wrapError(err)
	}
	return &DistributeResult{DistributedUSDC: amountString(distributed)}, nil
}

func (m *StakingModule) Claim(raw json.RawMessage) (*ClaimResult, *ModuleError) {
	if m == nil || m.facility == nil {
		return nil, moduleUnavailable("staking")
	}
	var params claimParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams("invalid parameter object", err.Error())
	}
	staker, err := decodeBech32(params.Staker)
	if err != nil {
		return nil, invalidParams("invalid staker", err.Error())
	}
	paid, err := m.facility.ClaimRewards(staker)
	if err != nil {
		return nil, wrapError(err)
	}
	return &ClaimResult{Staker: formatAddress(staker), PaidUSDC: amountString(paid)}, nil
}

func (m *StakingModule) Position(raw json.RawMessage) (*StakingPositionResult, *ModuleError) {
	if m == nil || m.facility == nil {
		return nil, moduleUnavailable("staking")
	}
	var params stakerParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams("invalid parameter object", err.Error())
	}
	staker, err := decodeBech32(params.Staker)
	if err != nil {
		return nil, invalidParams("invalid staker", err.Error())
	}
	position, err := m.facility.StakingPosition(staker)
	if err != nil {
		return nil, wrapError(err)
	}
	return positionResult(position), nil
}

func (m *StakingModule) Positions() ([]StakingPositionResult, *ModuleError) {
	if m == nil || m.facility == nil {
		return nil, moduleUnavailable("staking")
	}
	positions, err := m.facility.StakingPositions()
	if err != nil {
		return nil, wrapError(err)
	}
	results := make([]StakingPositionResult, 0, len(positions))
	for _, position := range positions {
		if converted := positionResult(position); converted != nil {
			results = append(results, *converted)
		}
	}
	return results, nil
}

func positionResult(position *staking.Position) *StakingPositionResult {
	if position == nil {
		return nil
	}
	return &StakingPositionResult{
		Staker:         formatAddress(position.Staker),
		AppexStaked:    amountString(position.AppexStaked),
		LockDays:       position.LockDays,
		LockEnd:        position.LockEnd,
		WeightedStake:  amountString(position.WeightedStake),
		PendingRewards: amountString(position.PendingRewards),
	}
}
