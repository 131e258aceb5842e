package rpc

import (
	"net/http"
)

func (s *Server) handleApproveBorrower(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "parameter object required", nil)
		return
	}
	if s.credit == nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "credit module unavailable", nil)
		return
	}
	result, modErr := s.credit.ApproveBorrower(req.Params[0])
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleRevokeBorrower(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "parameter object required", nil)
		return
	}
	if s.credit == nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "credit module unavailable", nil)
		return
	}
	result, modErr := s.credit.RevokeBorrower(req.Params[0])
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleCreateLoan(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "parameter object required", nil)
		return
	}
	if s.credit == nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "credit module unavailable", nil)
		return
	}
	result, modErr := s.credit.CreateLoan(req.Params[0])
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleRepayLoan(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "parameter object required", nil)
		return
	}
	if s.credit == nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "credit module unavailable", nil)
		return
	}
	result, modErr := s.credit.RepayLoan(req.Params[0])
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handlePayProtocolFee(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "parameter object required", nil)
		return
	}
	if s.credit == nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "credit module unavailable", nil)
		return
	}
	result, modErr := s.credit.PayProtocolFee(req.Params[0])
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleGetLoan(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "parameter object required", nil)
		return
	}
	if s.credit == nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "credit module unavailable", nil)
		return
	}
	result, modErr := s.credit.GetLoan(req.Params[0])
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleActiveLoans(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) > 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return
	}
	if s.credit == nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "credit module unavailable", nil)
		return
	}
	result, modErr := s.credit.ActiveLoans()
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleBorrowerLoans(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "parameter object required", nil)
		return
	}
	if s.credit == nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "credit module unavailable", nil)
		return
	}
	result, modErr := s.credit.BorrowerLoans(req.Params[0])
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleGetBorrower(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "parameter object required", nil)
		return
	}
	if s.credit == nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "credit module unavailable", nil)
		return
	}
	result, modErr := s.credit.GetBorrower(req.Params[0])
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleListBorrowers(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) > 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return
	}
	if s.credit == nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "credit module unavailable", nil)
		return
	}
	result, modErr := s.credit.ListBorrowers()
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleCreditConfig(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) > 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return
	}
	if s.credit == nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "credit module unavailable", nil)
		return
	}
	result, modErr := s.credit.Config()
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}
