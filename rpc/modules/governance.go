package modules

import (
	"encoding/json"

	"apxpool/core"
	"apxpool/native/governance"
)

type GovernanceModule struct {
	facility *core.Facility
}

func NewGovernanceModule(facility *core.Facility) *GovernanceModule {
	return &GovernanceModule{facility: facility}
}

type proposeBorrowerParams struct {
	Proposer       string `json:"proposer"`
	Borrower       string `json:"borrower"`
	BorrowLimit    string `json:"borrowLimit"`
	LPYieldBps     uint64 `json:"lpYieldBps"`
	ProtocolFeeBps uint64 `json:"protocolFeeBps"`
}

type proposeParamParams struct {
	Proposer string `json:"proposer"`
	Key      string `json:"key"`
	Value    string `json:"value"`
}

type proposalActionParams struct {
	Caller     string `json:"caller"`
	ProposalID string `json:"proposalId"`
}

type proposalIDParams struct {
	ProposalID string `json:"proposalId"`
}

type ProposalResult struct {
	ID             string   `json:"id"`
	Kind           string   `json:"kind"`
	Proposer       string   `json:"proposer"`
	SubmitTime     uint64   `json:"submitTime"`
	Status         string   `json:"status"`
	Approvals      []string `json:"approvals"`
	ScheduledAt    uint64   `json:"scheduledAt,omitempty"`
	ExecutedAt     uint64   `json:"executedAt,omitempty"`
	Borrower       string   `json:"borrower,omitempty"`
	BorrowLimit    string   `json:"borrowLimit,omitempty"`
	LPYieldBps     uint64   `json:"lpYieldBps,omitempty"`
	ProtocolFeeBps uint64   `json:"protocolFeeBps,omitempty"`
	ParamKey       string   `json:"paramKey,omitempty"`
	ParamValue     string   `json:"paramValue,omitempty"`
}

type QuorumResult struct {
	Quorum uint64 `json:"quorum"`
}

func (m *GovernanceModule) ProposeBorrower(raw json.RawMessage) (*ProposalResult, *ModuleError) {
	if m == nil || m.facility == nil {
		return nil, moduleUnavailable("governance")
	}
	var params proposeBorrowerParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams("invalid parameter object", err.Error())
	}
	proposer, err := decodeBech32(params.Proposer)
	if err != nil {
		return nil, invalidParams("invalid proposer", err.Error())
	}
	borrower, err := decodeBech32(params.Borrower)
	if err != nil {
		return nil, invalidParams("invalid borrower", err.Error())
	}
	limit, err := parseAmount(params.BorrowLimit)
	if err != nil {
		return nil, invalidParams("invalid borrowLimit", err.Error())
	}
	proposal, err := m.facility.ProposeBorrower(proposer, borrower, limit, params.LPYieldBps, params.ProtocolFeeBps)
	if err != nil {
		return nil, wrapError(err)
	}
	return proposalResult(proposal), nil
}

func (m *GovernanceModule) ProposeParamUpdate(raw json.RawMessage) (*ProposalResult, *ModuleError) {
	if m == nil || m.facility == nil {
		return nil, moduleUnavailable("governance")
	}
	var params proposeParamParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams("invalid parameter object", err.Error())
	}
	proposer, err := decodeBech32(params.Proposer)
	if err != nil {
		return nil, invalidParams("invalid proposer", err.Error())
	}
	if params.Key == "" {
		return nil, invalidParams("parameter key required", nil)
	}
	value, err := parseAmount(params.Value)
	if err != nil {
		return nil, invalidParams("invalid value", err.Error())
	}
	proposal, err := m.facility.ProposeParamUpdate(proposer, params.Key, value)
	if err != nil {
		return nil, wrapError(err)
	}
	return proposalResult(proposal), nil
}

func (m *GovernanceModule) Approve(raw json.RawMessage) (*ProposalResult, *ModuleError) {
	if m == nil || m.facility == nil {
		return nil, moduleUnavailable("governance")
	}
	var params proposalActionParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams("invalid parameter object", err.Error())
	}
	caller, err := decodeBech32(params.Caller)
	if err != nil {
		return nil, invalidParams("invalid caller", err.Error())
	}
	if params.ProposalID == "" {
		return nil, invalidParams("proposal id required", nil)
	}
	proposal, err := m.facility.ApproveProposal(caller, params.ProposalID)
	if err != nil {
		return nil, wrapError(err)
	}
	return proposalResult(proposal), nil
}

func (m *GovernanceModule) Execute(raw json.RawMessage) (*ProposalResult, *ModuleError) {
	if m == nil || m.facility == nil {
		return nil, moduleUnavailable("governance")
	}
	var params proposalActionParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams("invalid parameter object", err.Error())
	}
	caller, err := decodeBech32(params.Caller)
	if err != nil {
		return nil, invalidParams("invalid caller", err.Error())
	}
	if params.ProposalID == "" {
		return nil, invalidParams("proposal id required", nil)
	}
	proposal, err := m.facility.ExecuteProposal(caller, params.ProposalID)
	if err != nil {
		return nil, wrapError(err)
	}
	return proposalResult(proposal), nil
}

func (m *GovernanceModule) GetProposal(raw json.RawMessage) (*ProposalResult, *ModuleError) {
	if m == nil || m.facility == nil {
		return nil, moduleUnavailable("governance")
	}
	var params proposalIDParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams("invalid parameter object", err.Error())
	}
	if params.ProposalID == "" {
		return nil, invalidParams("proposal id required", nil)
	}
	proposal, err := m.facility.GetProposal(params.ProposalID)
	if err != nil {
		return nil, wrapError(err)
	}
	return proposalResult(proposal), nil
}

func (m *GovernanceModule) List() ([]ProposalResult, *ModuleError) {
	if m == nil || m.facility == nil {
		return nil, moduleUnavailable("governance")
	}
	proposals, err := m.facility.Proposals()
	if err != nil {
		return nil, wrapError(err)
	}
	results := make([]ProposalResult, 0, len(proposals))
	for _, proposal := range proposals {
		if converted := proposalResult(proposal); converted != nil {
			results = append(results, *converted)
		}
	}
	return results, nil
}

func (m *GovernanceModule) Quorum() (*QuorumResult, *ModuleError) {
	if m == nil || m.facility == nil {
		return nil, moduleUnavailable("governance")
	}
	return &QuorumResult{Quorum: m.facility.GovernanceQuorum()}, nil
}

func proposalResult(proposal *governance.Proposal) *ProposalResult {
	if proposal == nil {
		return nil
	}
	approvals := make([]string, 0, len(proposal.Approvals))
	for _, approval := range proposal.Approvals {
		if len(approval) != 20 {
			continue
		}
		var addr [20]byte
		copy(addr[:], approval)
		approvals = append(approvals, formatAddress(addr))
	}
	result := &ProposalResult{
		ID:          proposal.ID,
		Kind:        proposal.Kind,
		Proposer:    formatAddress(proposal.Proposer),
		SubmitTime:  proposal.SubmitTime,
		Status:      proposal.Status.String(),
		Approvals:   approvals,
		ScheduledAt: proposal.ScheduledAt,
		ExecutedAt:  proposal.ExecutedAt,
	}
	switch proposal.Kind {
	case governance.ProposalKindBorrowerApprove:
		result.Borrower = formatAddress(proposal.Borrower)
		result.BorrowLimit = amountString(proposal.BorrowLimit)
		result.LPYieldBps = proposal.LPYieldBps
		result.ProtocolFeeBps = proposal.ProtocolFeeBps
	case governance.ProposalKindParamUpdate:
		result.ParamKey = proposal.ParamKey
		result.ParamValue = amountString(proposal.ParamValue)
	}
	return result
}
