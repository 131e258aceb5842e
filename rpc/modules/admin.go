package modules

import (
	"encoding/json"

	"apxpool/core"
	"apxpool/core/state"
)

type AdminModule struct {
	facility *core.Facility
}

func NewAdminModule(facility *core.Facility) *AdminModule {
	return &AdminModule{facility: facility}
}

type setPausedParams struct {
	Caller string `json:"caller"`
	Module string `json:"module"`
	Paused bool   `json:"paused"`
}

type PausesResult struct {
	Pauses map[string]bool `json:"pauses"`
}

type roleChangeParams struct {
	Caller  string `json:"caller"`
	Role    string `json:"role"`
	Address string `json:"address"`
}

type roleParams struct {
	Role string `json:"role"`
}

type RoleMembersResult struct {
	Role    string   `json:"role"`
	Members []string `json:"members"`
}

func (m *AdminModule) SetPaused(raw json.RawMessage) (*PausesResult, *ModuleError) {
	if m == nil || m.facility == nil {
		return nil, moduleUnavailable("admin")
	}
	var params setPausedParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams("invalid parameter object", err.Error())
	}
	caller, err := decodeBech32(params.Caller)
	if err != nil {
		return nil, invalidParams("invalid caller", err.Error())
	}
	if params.Module == "" {
		return nil, invalidParams("module name required", nil)
	}
	if err := m.facility.SetPaused(caller, params.Module, params.Paused); err != nil {
		return nil, wrapError(err)
	}
	return &PausesResult{Pauses: m.facility.Pauses()}, nil
}

func (m *AdminModule) Pauses() (*PausesResult, *ModuleError) {
	if m == nil || m.facility == nil {
		return nil, moduleUnavailable("admin")
	}
	return &PausesResult{Pauses: m.facility.Pauses()}, nil
}

func (m *AdminModule) GrantRole(raw json.RawMessage) (*AckResult, *ModuleError) {
	if m == nil || m.facility == nil {
		return nil, moduleUnavailable("admin")
	}
	params, moduleErr := decodeRoleChange(raw)
	if moduleErr != nil {
		return nil, moduleErr
	}
	if err := m.facility.GrantRole(params.caller, params.role, params.addr); err != nil {
		return nil, wrapError(err)
	}
	return &AckResult{OK: true}, nil
}

func (m *AdminModule) RevokeRole(raw json.RawMessage) (*AckResult, *ModuleError) {
	if m == nil || m.facility == nil {
		return nil, moduleUnavailable("admin")
	}
	params, moduleErr := decodeRoleChange(raw)
	if moduleErr != nil {
		return nil, moduleErr
	}
	if err := m.facility.RevokeRole(params.caller, params.role, params.addr); err != nil {
		return nil, wrapError(err)
	}
	return &AckResult{OK: true}, nil
}

func (m *AdminModule) RoleMembers(raw json.RawMessage) (*RoleMembersResult, *ModuleError) {
	if m == nil || m.facility == nil {
		return nil, moduleUnavailable("admin")
	}
	var params roleParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidParams("invalid parameter object", err.Error())
	}
	role, moduleErr := normalizeRole(params.Role)
	if moduleErr != nil {
		return nil, moduleErr
	}
	members, err := m.facility.RoleMembers(role)
	if err != nil {
		return nil, wrapError(err)
	}
	formatted := make([]string, 0, len(members))
	for _, member := range members {
		formatted = append(formatted, formatAddress(member))
	}
	return &RoleMembersResult{Role: role, Members: formatted}, nil
}

type roleChange struct {
	caller [20]byte
	role   string
	addr   [20]byte
}

func decodeRoleChange(raw json.RawMessage) (roleChange, *ModuleError) {
	var params roleChangeParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return roleChange{}, invalidParams("invalid parameter object", err.Error())
	}
	caller, err := decodeBech32(params.Caller)
	if err != nil {
		return roleChange{}, invalidParams("invalid caller", err.Error())
	}
	role, moduleErr := normalizeRole(params.Role)
	if moduleErr != nil {
		return roleChange{}, moduleErr
	}
	addr, err := decodeBech32(params.Address)
	if err != nil {
		return roleChange{}, invalidParams("invalid address", err.Error())
	}
	return roleChange{caller: caller, role: role, addr: addr}, nil
}

func normalizeRole(role string) (string, *ModuleError) {
	switch role {
	case state.RoleOwner, state.RoleAdmin, state.RoleGovernor:
		return role, nil
	case "owner":
		return state.RoleOwner, nil
	case "admin":
		return state.RoleAdmin, nil
	case "governor":
		return state.RoleGovernor, nil
	case "":
		return "", invalidParams("role required", nil)
	default:
		return "", invalidParams("unknown role", role)
	}
}
