package rpc

import (
	"encoding/json"
	"net/http"
)

func (s *Server) handleRegisterPartner(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "parameter object required", nil)
		return
	}
	if s.registry == nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "registry module unavailable", nil)
		return
	}
	result, modErr := s.registry.RegisterPartner(req.Params[0])
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleGetPartner(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "parameter object required", nil)
		return
	}
	if s.registry == nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "registry module unavailable", nil)
		return
	}
	result, modErr := s.registry.GetPartner(req.Params[0])
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleListPartners(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) > 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return
	}
	if s.registry == nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "registry module unavailable", nil)
		return
	}
	result, modErr := s.registry.ListPartners()
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleCreatePaymentRequest(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "parameter object required", nil)
		return
	}
	if s.registry == nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "registry module unavailable", nil)
		return
	}
	result, modErr := s.registry.CreatePaymentRequest(req.Params[0])
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleGetPaymentRequest(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "parameter object required", nil)
		return
	}
	if s.registry == nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "registry module unavailable", nil)
		return
	}
	result, modErr := s.registry.GetPaymentRequest(req.Params[0])
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleListPaymentRequests(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) > 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "too many parameters", nil)
		return
	}
	if s.registry == nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "registry module unavailable", nil)
		return
	}
	var raw json.RawMessage
	if len(req.Params) == 1 {
		raw = req.Params[0]
	}
	result, modErr := s.registry.ListPaymentRequests(raw)
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleResolvePaymentRequest(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "parameter object required", nil)
		return
	}
	if s.registry == nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "registry module unavailable", nil)
		return
	}
	result, modErr := s.registry.ResolvePaymentRequest(req.Params[0])
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleFundPaymentRequest(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "parameter object required", nil)
		return
	}
	if s.registry == nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "registry module unavailable", nil)
		return
	}
	result, modErr := s.registry.FundPaymentRequest(req.Params[0])
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}
