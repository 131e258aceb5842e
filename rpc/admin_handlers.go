package rpc

import (
	"net/http"
)

func (s *Server) handleSetPaused(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "parameter object required", nil)
		return
	}
	if s.admin == nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "admin module unavailable", nil)
		return
	}
	result, modErr := s.admin.SetPaused(req.Params[0])
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handlePauses(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) > 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return
	}
	if s.admin == nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "admin module unavailable", nil)
		return
	}
	result, modErr := s.admin.Pauses()
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleGrantRole(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "parameter object required", nil)
		return
	}
	if s.admin == nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "admin module unavailable", nil)
		return
	}
	result, modErr := s.admin.GrantRole(req.Params[0])
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleRevokeRole(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "parameter object required", nil)
		return
	}
	if s.admin == nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "admin module unavailable", nil)
		return
	}
	result, modErr := s.admin.RevokeRole(req.Params[0])
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleRoleMembers(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "parameter object required", nil)
		return
	}
	if s.admin == nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "admin module unavailable", nil)
		return
	}
	result, modErr := s.admin.RoleMembers(req.Params[0])
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}
