package rpc

import (
	"net/http"
)

func (s *Server) handleProposeBorrower(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "parameter object required", nil)
		return
	}
	if s.governance == nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "governance module unavailable", nil)
		return
	}
	result, modErr := s.governance.ProposeBorrower(req.Params[0])
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleProposeParam(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "parameter object required", nil)
		return
	}
	if s.governance == nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "governance module unavailable", nil)
		return
	}
	result, modErr := s.governance.ProposeParamUpdate(req.Params[0])
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleApproveProposal(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "parameter object required", nil)
		return
	}
	if s.governance == nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "governance module unavailable", nil)
		return
	}
	result, modErr := s.governance.Approve(req.Params[0])
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleExecuteProposal(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "parameter object required", nil)
		return
	}
	if s.governance == nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "governance module unavailable", nil)
		return
	}
	result, modErr := s.governance.Execute(req.Params[0])
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleGetProposal(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "parameter object required", nil)
		return
	}
	if s.governance == nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "governance module unavailable", nil)
		return
	}
	result, modErr := s.governance.GetProposal(req.Params[0])
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleListProposals(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) > 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return
	}
	if s.governance == nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "governance module unavailable", nil)
		return
	}
	result, modErr := s.governance.List()
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleGovernanceQuorum(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) > 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return
	}
	if s.governance == nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "governance module unavailable", nil)
		return
	}
	result, modErr := s.governance.Quorum()
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}
