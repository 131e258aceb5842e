package rpc

import (
	"net/http"
)

func (s *Server) handleStake(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "parameter object required", nil)
		return
	}
	if s.staking == nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "staking module unavailable", nil)
		return
	}
	result, modErr := s.staking.Stake(req.Params[0])
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleUnstake(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "parameter object required", nil)
		return
	}
	if s.staking == nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "staking module unavailable", nil)
		return
	}
	result, modErr := s.staking.Unstake(req.Params[0])
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleDistribute(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "parameter object required", nil)
		return
	}
	if s.staking == nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "staking module unavailable", nil)
		return
	}
	result, modErr := s.staking.Distribute(req.Params[0])
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleClaim(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "parameter object required", nil)
		return
	}
	if s.staking == nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "staking module unavailable", nil)
		return
	}
	result, modErr := s.staking.Claim(req.Params[0])
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleStakingPosition(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "parameter object required", nil)
		return
	}
	if s.staking == nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "staking module unavailable", nil)
		return
	}
	result, modErr := s.staking.Position(req.Params[0])
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleStakingPositions(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) > 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "no parameters expected", nil)
		return
	}
	if s.staking == nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "staking module unavailable", nil)
		return
	}
	result, modErr := s.staking.Positions()
	if modErr != nil {
		writeModuleError(w, req.ID, modErr)
		return
	}
	writeResult(w, req.ID, result)
}
