package rpc

import (
	"net/http"
)

func (s *Server) handleDeposit(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "parameter object required", nil)
		return
	}
	if s.vault == nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "vault module unavailable", nil)
		return
	}
	result, modErr := s.vault.Deposit(req.Params[0])
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleRequestRedemption(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "parameter object required", nil)
		return
	}
	if s.vault == nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "vault module unavailable", nil)
		return
	}
	result, modErr := s.vault.RequestRedemption(req.Params[0])
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleProcessRedemptions(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) > 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return
	}
	if s.vault == nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "vault module unavailable", nil)
		return
	}
	result, modErr := s.vault.ProcessRedemptions()
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleAccrueFees(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) > 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return
	}
	if s.vault == nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "vault module unavailable", nil)
		return
	}
	result, modErr := s.vault.AccrueFees()
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleGetStats(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) > 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return
	}
	if s.vault == nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "vault module unavailable", nil)
		return
	}
	result, modErr := s.vault.Stats()
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleGetBreakdown(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) > 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return
	}
	if s.vault == nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "vault module unavailable", nil)
		return
	}
	result, modErr := s.vault.Breakdown()
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handlePendingRedemptions(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) > 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return
	}
	if s.vault == nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "vault module unavailable", nil)
		return
	}
	result, modErr := s.vault.PendingRedemptions()
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleGetRedemption(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "parameter object required", nil)
		return
	}
	if s.vault == nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "vault module unavailable", nil)
		return
	}
	result, modErr := s.vault.GetRedemption(req.Params[0])
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleWithdrawProtocolFees(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "parameter object required", nil)
		return
	}
	if s.vault == nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "vault module unavailable", nil)
		return
	}
	result, modErr := s.vault.WithdrawProtocolFees(req.Params[0])
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleFundTreasury(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "parameter object required", nil)
		return
	}
	if s.vault == nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "vault module unavailable", nil)
		return
	}
	result, modErr := s.vault.FundTreasury(req.Params[0])
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}
