package modules

import (
	"encoding/json"

	"apxpool/core"
	"apxpool/native/credit"
)

type CreditModule struct {
	facility *core.Facility
}

func NewCreditModule(facility *core.Facility) *CreditModule {
	return &CreditModule{facility: facility}
}

type approveBorrowerParams struct {
	Caller         string `json:"caller"`
	Borrower       string `json:"borrower"`
	BorrowLimit    string `json:"borrowLimit"`
	LPYieldBps     uint64 `json:"lpYieldBps"`
	ProtocolFeeBps uint64 `json:"protocolFeeBps"`
}

type revokeBorrowerParams struct {
	Caller   string `json:"caller"`
	Borrower string `json:"borrower"`
}

type createLoanParams struct {
	Borrower  string `json:"borrower"`
	Publisher string `json:"publisher"`
	Principal string `json:"principal"`
	TermDays  uint64 `json:"termDays"`
	RewardBps uint64 `json:"rewardBps"`
}

type CreateLoanResult struct {
	LoanID uint64 `json:"loanId"`
}

type loanCallParams struct {
	Caller string `json:"caller"`
	LoanID uint64 `json:"loanId"`
}

type payProtocolFeeParams struct {
	Caller  string `json:"caller"`
	LoanID  uint64 `json:"loanId"`
	InAppex bool   `json:"inAppex"`
}

type loanIDParams struct {
	LoanID uint64 `json:"loanId"`
}

type borrowerParams struct {
	Borrower string `json:"borrower"`
}

type LoanResult struct {
	ID              uint64 `json:"id"`
	Borrower        string `json:"borrower"`
	Publisher       string `json:"publisher"`
	USDCPrincipal   string `json:"usdcPrincipal"`
	USDCDisbursed   string `json:"usdcDisbursed"`
	AppexDisbursed  string `json:"appexDisbursed"`
	RewardBps       uint64 `json:"rewardBps"`
	LPFee           string `json:"lpFee"`
	ProtocolFee     string `json:"protocolFee"`
	DailyAccrual    string `json:"dailyAccrual"`
	StartTime       uint64 `json:"startTime"`
	TermDays        uint64 `json:"termDays"`
	FeeDaysAccrued  uint64 `json:"feeDaysAccrued"`
	Repaid          bool   `json:"repaid"`
	ProtocolFeePaid bool   `json:"protocolFeePaid"`
	DaysElapsed     uint64 `json:"daysElapsed"`
	Overdue         bool   `json:"overdue"`
	AccruedLPFee    string `json:"accruedLpFee"`
}

type BorrowerResult struct {
	Address        string `json:"address"`
	Approved       bool   `json:"approved"`
	BorrowLimit    string `json:"borrowLimit"`
	CurrentDebt    string `json:"currentDebt"`
	LPYieldBps     uint64 `json:"lpYieldBps"`
	ProtocolFeeBps uint64 `json:"protocolFeeBps"`
	TotalBorrowed  string `json:"totalBorrowed"`
	TotalRepaid    string `json:"totalRepaid"`
	TotalFeesPaid  string `json:"totalFeesPaid"`
	UnpaidFeeLoans uint64 `json:"unpaidFeeLoans"`
}

type CreditConfigResult struct {
	MinTermDays uint64 `json:"minTermDays"`
	MaxTermDays uint64 `json:"maxTermDays"`
	AppexRate   string `json:"appexRate"`
}

type AckResult struct {
	OK bool `json:"ok"`
}

func (m *CreditModule) ApproveBorrower(raw json.RawMessage) (*AckResult, *ModuleError) {
	if m == nil || m.facility == nil {
		return nil, moduleUnavailable("credit")
	}
	var params approveBorrowerParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams("invalid parameter object", err.Error())
	}
	caller, err := decodeBech32(params.Caller)
	if err != nil {
		return nil, invalidParams("invalid caller", err.Error())
	}
	borrower, err := decodeBech32(params.Borrower)
	if err != nil {
		return nil, invalidParams("invalid borrower", err.Error())
	}
	limit, err := parseAmount(params.BorrowLimit)
	if err != nil {
		return nil, invalidParams("invalid borrowLimit", err.Error())
	}
	if err := m.facility.ApproveBorrower(caller, borrower, limit, params.LPYieldBps, params.ProtocolFeeBps); err != nil {
		return nil, wrapError(err)
	}
	return &AckResult{OK: true}, nil
}

func (m *CreditModule) RevokeBorrower(raw json.RawMessage) (*AckResult, *ModuleError) {
	if m == nil || m.facility == nil {
		return nil, moduleUnavailable("credit")
	}
	var params revokeBorrowerParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams("invalid parameter object", err.Error())
	}
	caller, err := decodeBech32(params.Caller)
	if err != nil {
		return nil, invalidParams("invalid caller", err.Error())
	}
	borrower, err := decodeBech32(params.Borrower)
	if err != nil {
		return nil, invalidParams("invalid borrower", err.Error())
	}
	if err := m.facility.RevokeBorrower(caller, borrower); err != nil {
		return nil, wrapError(err)
	}
	return &AckResult{OK: true}, nil
}

func (m *CreditModule) CreateLoan(raw json.RawMessage) (*CreateLoanResult, *ModuleError) {
	if m == nil || m.facility == nil {
		return nil, moduleUnavailable("credit")
	}
	var params createLoanParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams("invalid parameter object", err.Error())
	}
	borrower, err := decodeBech32(params.Borrower)
	if err != nil {
		return nil, invalidParams("invalid borrower", err.Error())
	}
	publisher, err := decodeBech32(params.Publisher)
	if err != nil {
		return nil, invalidParams("invalid publisher", err.Error())
	}
	principal, err := parseAmount(params.Principal)
	if err != nil {
		return nil, invalidParams("invalid principal", err.Error())
	}
	id, err := m.facility.CreateLoan(borrower, publisher, principal, params.TermDays, params.RewardBps)
	if err != nil {
		return nil, wrapError(err)
	}
	return &CreateLoanResult{LoanID: id}, nil
}

func (m *CreditModule) RepayLoan(raw json.RawMessage) (*AckResult, *ModuleError) {
	if m == nil || m.facility == nil {
		return nil, moduleUnavailable("credit")
	}
	var params loanCallParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams("invalid parameter object", err.Error())
	}
	caller, err := decodeBech32(params.Caller)
	if err != nil {
		return nil, invalidParams("invalid caller", err.Error())
	}
	if err := m.facility.RepayLoan(caller, params.LoanID); err != nil {
		return nil, wrapError(err)
	}
	return &AckResult{OK: true}, nil
}

func (m *CreditModule) PayProtocolFee(raw json.RawMessage) (*AckResult, *ModuleError) {
	if m == nil || m.facility == nil {
		return nil, moduleUnavailable("credit")
	}
	var params payProtocolFeeParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams("invalid parameter object", err.Error())
	}
	caller, err := decodeBech32(params.Caller)
	if err != nil {
		return nil, invalidParams("invalid caller", err.Error())
	}
	if err := m.facility.PayProtocolFee(caller, params.LoanID, params.InAppex); err != nil {
		return nil, wrapError(err)
	}
	return &AckResult{OK: true}, nil
}

func (m *CreditModule) GetLoan(raw json.RawMessage) (*LoanResult, *ModuleError) {
	if m == nil || m.facility == nil {
		return nil, moduleUnavailable("credit")
	}
	var params loanIDParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams("invalid parameter object", err.Error())
	}
	status, err := m.facility.GetLoan(params.LoanID)
	if err != nil {
		return nil, wrapError(err)
	}
	return loanResult(status), nil
}

func (m *CreditModule) ActiveLoans() ([]LoanResult, *ModuleError) {
	if m == nil || m.facility == nil {
		return nil, moduleUnavailable("credit")
	}
	statuses, err := m.facility.ActiveLoans()
	if err != nil {
		return nil, wrapError(err)
	}
	return loanResults(statuses), nil
}

func (m *CreditModule) BorrowerLoans(raw json.RawMessage) ([]LoanResult, *ModuleError) {
	if m == nil || m.facility == nil {
		return nil, moduleUnavailable("credit")
	}
	var params borrowerParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams("invalid parameter object", err.Error())
	}
	borrower, err := decodeBech32(params.Borrower)
	if err != nil {
		return nil, invalidParams("invalid borrower", err.Error())
	}
	statuses, err := m.facility.BorrowerLoans(borrower)
	if err != nil {
		return nil, wrapError(err)
	}
	return loanResults(statuses), nil
}

func (m *CreditModule) GetBorrower(raw json.RawMessage) (*BorrowerResult, *ModuleError) {
	if m == nil || m.facility == nil {
		return nil, moduleUnavailable("credit")
	}
	var params borrowerParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams("invalid parameter object", err.Error())
	}
	borrower, err := decodeBech32(params.Borrower)
	if err != nil {
		return nil, invalidParams("invalid borrower", err.Error())
	}
	record, err := m.facility.GetBorrower(borrower)
	if err != nil {
		return nil, wrapError(err)
	}
	return borrowerResult(record), nil
}

func (m *CreditModule) ListBorrowers() ([]BorrowerResult, *ModuleError) {
	if m == nil || m.facility == nil {
		return nil, moduleUnavailable("credit")
	}
	records, err := m.facility.ListBorrowers()
	if err != nil {
		return nil, wrapError(err)
	}
	results := make([]BorrowerResult, 0, len(records))
	for _, record := range records {
		if converted := borrowerResult(record); converted != nil {
			results = append(results, *converted)
		}
	}
	return results, nil
}

func (m *CreditModule) Config() (*CreditConfigResult, *ModuleError) {
	if m == nil || m.facility == nil {
		return nil, moduleUnavailable("credit")
	}
	cfg := m.facility.CreditConfig()
	return &CreditConfigResult{
		MinTermDays: cfg.MinTermDays,
		MaxTermDays: cfg.MaxTermDays,
		AppexRate:   amountString(cfg.AppexRate),
	}, nil
}

func loanResult(status *credit.LoanStatus) *LoanResult {
	if status == nil || status.Loan == nil {
		return &LoanResult{}
	}
	loan := status.Loan
	return &LoanResult{
		ID:              loan.ID,
		Borrower:        formatAddress(loan.Borrower),
		Publisher:       formatAddress(loan.Publisher),
		USDCPrincipal:   amountString(loan.USDCPrincipal),
		USDCDisbursed:   amountString(loan.USDCDisbursed),
		AppexDisbursed:  amountString(loan.AppexDisbursed),
		RewardBps:       loan.RewardBps,
		LPFee:           amountString(loan.LPFee),
		ProtocolFee:     amountString(loan.ProtocolFee),
		DailyAccrual:    amountString(loan.DailyAccrual),
		StartTime:       loan.StartTime,
		TermDays:        loan.TermDays,
		FeeDaysAccrued:  loan.FeeDaysAccrued,
		Repaid:          loan.Repaid,
		ProtocolFeePaid: loan.ProtocolFeePaid,
		DaysElapsed:     status.DaysElapsed,
		Overdue:         status.IsOverdue,
		AccruedLPFee:    amountString(status.AccruedLPFee),
	}
}

func loanResults(statuses []*credit.LoanStatus) []LoanResult {
	results := make([]LoanResult, 0, len(statuses))
	for _, status := range statuses {
		if converted := loanResult(status); converted != nil {
			results = append(results, *converted)
		}
	}
	return results
}

func borrowerResult(record *credit.Borrower) *BorrowerResult {
	if record == nil {
		return nil
	}
	return &BorrowerResult{
		Address:        formatAddress(record.Address),
		Approved:       record.Approved,
		BorrowLimit:    amountString(record.BorrowLimit),
		CurrentDebt:    amountString(record.CurrentDebt),
		LPYieldBps:     record.LPYieldBps,
		ProtocolFeeBps: record.ProtocolFeeBps,
		TotalBorrowed:  amountString(record.TotalBorrowed),
		TotalRepaid:    amountString(record.TotalRepaid),
		TotalFeesPaid:  amountString(record.TotalFeesPaid),
		UnpaidFeeLoans: record.UnpaidFeeLoans,
	}
}
