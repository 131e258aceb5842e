package modules

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"apxpool/core"
	"apxpool/native/registry"
)

// RegistryModule fronts the counterparty directory. Partner credit fields
// always mirror the ledger; callers supply only the display name.
type RegistryModule struct {
	facility *core.Facility
	now      func() time.Time
}

func NewRegistryModule(facility *core.Facility) *RegistryModule {
	return &RegistryModule{facility: facility, now: time.Now}
}

// SetNowFunc overrides the clock in tests.
func (m *RegistryModule) SetNowFunc(now func() time.Time) {
	if m == nil || now == nil {
		return
	}
	m.now = now
}

type registerPartnerParams struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

type partnerLookupParams struct {
	Address string `json:"address"`
}

type PartnerResult struct {
	Address        string    `json:"address"`
	Name           string    `json:"name"`
	BorrowLimit    string    `json:"borrowLimit"`
	LPYieldBps     uint64    `json:"lpYieldBps"`
	ProtocolFeeBps uint64    `json:"protocolFeeBps"`
	Approved       bool      `json:"approved"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type createPaymentRequestParams struct {
	Publisher  string `json:"publisher"`
	Borrower   string `json:"borrower"`
	AmountUSDC string `json:"amountUsdc"`
	AppexBps   uint64 `json:"appexBps"`
	Note       string `json:"note,omitempty"`
}

type paymentRequestLookupParams struct {
	ID string `json:"id"`
}

type listPaymentRequestsParams struct {
	Status string `json:"status,omitempty"`
}

type resolvePaymentRequestParams struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type fundPaymentRequestParams struct {
	ID       string `json:"id"`
	TermDays uint64 `json:"termDays"`
}

type PaymentRequestResult struct {
	ID         string    `json:"id"`
	Publisher  string    `json:"publisher"`
	Borrower   string    `json:"borrower"`
	AmountUSDC string    `json:"amountUsdc"`
	AppexBps   uint64    `json:"appexBps"`
	Status     string    `json:"status"`
	Note       string    `json:"note,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type FundPaymentRequestResult struct {
	LoanID  uint64               `json:"loanId"`
	Request PaymentRequestResult `json:"request"`
}

func (m *RegistryModule) store() (*registry.Store, *ModuleError) {
	if m == nil || m.facility == nil {
		return nil, moduleUnavailable("registry")
	}
	store := m.facility.Registry()
	if store == nil {
		return nil, moduleUnavailable("registry")
	}
	return store, nil
}

func (m *RegistryModule) RegisterPartner(raw json.RawMessage) (*PartnerResult, *ModuleError) {
	store, moduleErr := m.store()
	if moduleErr != nil {
		return nil, moduleErr
	}
	var params registerPartnerParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams("invalid parameter object", err.Error())
	}
	addr, err := decodeBech32(params.Address)
	if err != nil {
		return nil, invalidParams("invalid address", err.Error())
	}
	if params.Name == "" {
		return nil, invalidParams("partner name required", nil)
	}
	borrower, _ := m.facility.GetBorrower(addr)
	partner, err := store.MutatePartner(addr, true, func(p *registry.Partner) error {
		p.Name = params.Name
		p.UpdatedAt = m.now().UTC()
		if borrower != nil {
			p.Approved = borrower.Approved
			p.BorrowLimit = borrower.BorrowLimit
			p.LPYieldBps = borrower.LPYieldBps
			p.ProtocolFeeBps = borrower.ProtocolFeeBps
		}
		return nil
	})
	if err != nil {
		return nil, registryError(err)
	}
	result := partnerResult(partner)
	return &result, nil
}

func (m *RegistryModule) GetPartner(raw json.RawMessage) (*PartnerResult, *ModuleError) {
	store, moduleErr := m.store()
	if moduleErr != nil {
		return nil, moduleErr
	}
	var params partnerLookupParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams("invalid parameter object", err.Error())
	}
	addr, err := decodeBech32(params.Address)
	if err != nil {
		return nil, invalidParams("invalid address", err.Error())
	}
	partner, ok, err := store.GetPartner(addr)
	if err != nil {
		return nil, registryError(err)
	}
	if !ok {
		return nil, invalidParams("partner not found", params.Address)
	}
	result := partnerResult(partner)
	return &result, nil
}

func (m *RegistryModule) ListPartners() ([]PartnerResult, *ModuleError) {
	store, moduleErr := m.store()
	if moduleErr != nil {
		return nil, moduleErr
	}
	partners, err := store.ListPartners()
	if err != nil {
		return nil, registryError(err)
	}
	results := make([]PartnerResult, 0, len(partners))
	for _, partner := range partners {
		results = append(results, partnerResult(partner))
	}
	return results, nil
}

func (m *RegistryModule) CreatePaymentRequest(raw json.RawMessage) (*PaymentRequestResult, *ModuleError) {
	store, moduleErr := m.store()
	if moduleErr != nil {
		return nil, moduleErr
	}
	var params createPaymentRequestParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams("invalid parameter object", err.Error())
	}
	publisher, err := decodeBech32(params.Publisher)
	if err != nil {
		return nil, invalidParams("invalid publisher", err.Error())
	}
	borrower, err := decodeBech32(params.Borrower)
	if err != nil {
		return nil, invalidParams("invalid borrower", err.Error())
	}
	amount, err := parseAmount(params.AmountUSDC)
	if err != nil {
		return nil, invalidParams("invalid amountUsdc", err.Error())
	}
	request, err := store.CreatePaymentRequest(publisher, borrower, amount, params.AppexBps, params.Note, m.now().UTC())
	if err != nil {
		return nil, registryError(err)
	}
	result := paymentRequestResult(request)
	return &result, nil
}

func (m *RegistryModule) GetPaymentRequest(raw json.RawMessage) (*PaymentRequestResult, *ModuleError) {
	store, moduleErr := m.store()
	if moduleErr != nil {
		return nil, moduleErr
	}
	var params paymentRequestLookupParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams("invalid parameter object", err.Error())
	}
	if params.ID == "" {
		return nil, invalidParams("request id required", nil)
	}
	request, ok, err := store.GetPaymentRequest(params.ID)
	if err != nil {
		return nil, registryError(err)
	}
	if !ok {
		return nil, invalidParams("payment request not found", params.ID)
	}
	result := paymentRequestResult(request)
	return &result, nil
}

func (m *RegistryModule) ListPaymentRequests(raw json.RawMessage) ([]PaymentRequestResult, *ModuleError) {
	store, moduleErr := m.store()
	if moduleErr != nil {
		return nil, moduleErr
	}
	var params listPaymentRequestsParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, invalidParams("invalid parameter object", err.Error())
		}
	}
	requests, err := store.ListPaymentRequests(params.Status)
	if err != nil {
		return nil, registryError(err)
	}
	results := make([]PaymentRequestResult, 0, len(requests))
	for _, request := range requests {
		results = append(results, paymentRequestResult(request))
	}
	return results, nil
}

func (m *RegistryModule) ResolvePaymentRequest(raw json.RawMessage) (*PaymentRequestResult, *ModuleError) {
	store, moduleErr := m.store()
	if moduleErr != nil {
		return nil, moduleErr
	}
	var params resolvePaymentRequestParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams("invalid parameter object", err.Error())
	}
	if params.ID == "" {
		return nil, invalidParams("request id required", nil)
	}
	request, err := store.ResolvePaymentRequest(params.ID, params.Status, m.now().UTC())
	if err != nil {
		return nil, registryError(err)
	}
	result := paymentRequestResult(request)
	return &result, nil
}

// FundPaymentRequest draws the borrower's credit line to pay the publisher,
// then marks the request funded. The loan is authoritative: if the registry
// mark fails after origination the request stays pending and operators should
// resolve it manually rather than retry the fund call.
func (m *RegistryModule) FundPaymentRequest(raw json.RawMessage) (*FundPaymentRequestResult, *ModuleError) {
	store, moduleErr := m.store()
	if moduleErr != nil {
		return nil, moduleErr
	}
	var params fundPaymentRequestParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams("invalid parameter object", err.Error())
	}
	if params.ID == "" {
		return nil, invalidParams("request id required", nil)
	}
	request, ok, err := store.GetPaymentRequest(params.ID)
	if err != nil {
		return nil, registryError(err)
	}
	if !ok {
		return nil, invalidParams("payment request not found", params.ID)
	}
	if request.Status != registry.RequestStatusPending {
		return nil, registryError(registry.ErrRequestClosed)
	}
	publisher, err := decodeBech32(request.Publisher)
	if err != nil {
		return nil, &ModuleError{HTTPStatus: http.StatusInternalServerError, Code: codeServerError, Message: "stored publisher address is invalid", Data: err.Error()}
	}
	borrower, err := decodeBech32(request.Borrower)
	if err != nil {
		return nil, &ModuleError{HTTPStatus: http.StatusInternalServerError, Code: codeServerError, Message: "stored borrower address is invalid", Data: err.Error()}
	}
	loanID, err := m.facility.CreateLoan(borrower, publisher, request.AmountUSDC, params.TermDays, request.AppexBps)
	if err != nil {
		return nil, wrapError(err)
	}
	resolved, err := store.ResolvePaymentRequest(params.ID, registry.RequestStatusFunded, m.now().UTC())
	if err != nil {
		return nil, registryError(err)
	}
	return &FundPaymentRequestResult{LoanID: loanID, Request: paymentRequestResult(resolved)}, nil
}

func registryError(err error) *ModuleError {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, registry.ErrNotFound):
		return &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: "record not found"}
	case errors.Is(err, registry.ErrInvalidRequest):
		return &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: "invalid payment request", Data: err.Error()}
	case errors.Is(err, registry.ErrInvalidStatus):
		return &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: "invalid request status", Data: err.Error()}
	case errors.Is(err, registry.ErrRequestClosed):
		return &ModuleError{HTTPStatus: http.StatusConflict, Code: codeConflict, Message: "payment request already closed"}
	default:
		return &ModuleError{HTTPStatus: http.StatusInternalServerError, Code: codeServerError, Message: "registry failure", Data: err.Error()}
	}
}

func partnerResult(partner registry.Partner) PartnerResult {
	return PartnerResult{
		Address:        partner.Address,
		Name:           partner.Name,
		BorrowLimit:    amountString(partner.BorrowLimit),
		LPYieldBps:     partner.LPYieldBps,
		ProtocolFeeBps: partner.ProtocolFeeBps,
		Approved:       partner.Approved,
		UpdatedAt:      partner.UpdatedAt,
	}
}

func paymentRequestResult(request registry.PaymentRequest) PaymentRequestResult {
	return PaymentRequestResult{
		ID:         request.ID,
		Publisher:  request.Publisher,
		Borrower:   request.Borrower,
		AmountUSDC: amountString(request.AmountUSDC),
		AppexBps:   request.AppexBps,
		Status:     request.Status,
		Note:       request.Note,
		CreatedAt:  request.CreatedAt,
		UpdatedAt:  request.UpdatedAt,
	}
}
