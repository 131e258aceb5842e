package modules

import (
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"apxpool/crypto"
	nativecommon "apxpool/native/common"
)

const (
	codeInvalidParams = -32602
	codeUnauthorized  = -32001
	codeServerError   = -32000
	codeConflict      = -32010
	codeCapacity      = -32030
)

type ModuleError struct {
	HTTPStatus int
	Code       int
	Message    string
	Data       interface{}
}

func (e *ModuleError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func invalidParams(message string, data interface{}) *ModuleError {
	return &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: message, Data: data}
}

func moduleUnavailable(name string) *ModuleError {
	return &ModuleError{HTTPStatus: http.StatusInternalServerError, Code: codeServerError, Message: name + " module not available"}
}

// wrapError maps the engine error categories onto stable JSON-RPC codes so
// clients can branch without parsing messages.
func wrapError(err error) *ModuleError {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, nativecommon.ErrModulePaused):
		return &ModuleError{HTTPStatus: http.StatusServiceUnavailable, Code: codeServerError, Message: err.Error()}
	case errors.Is(err, nativecommon.ErrUnauthorized):
		return &ModuleError{HTTPStatus: http.StatusForbidden, Code: codeUnauthorized, Message: err.Error()}
	case errors.Is(err, nativecommon.ErrCapacity):
		return &ModuleError{HTTPStatus: http.StatusConflict, Code: codeCapacity, Message: err.Error()}
	case errors.Is(err, nativecommon.ErrConflict):
		return &ModuleError{HTTPStatus: http.StatusConflict, Code: codeConflict, Message: err.Error()}
	case errors.Is(err, nativecommon.ErrValidation):
		return &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: err.Error()}
	}
	return &ModuleError{HTTPStatus: http.StatusInternalServerError, Code: codeServerError, Message: err.Error()}
}

func decodeBech32(value string) ([20]byte, error) {
	var out [20]byte
	decoded, err := crypto.DecodeAddress(strings.TrimSpace(value))
	if err != nil {
		return out, err
	}
	copy(out[:], decoded.Bytes())
	return out, nil
}

func formatAddress(addr [20]byte) string {
	return crypto.AddressFromRaw(addr).String()
}

// parseAmount reads a positive decimal base-unit amount.
func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("malformed amount %q", value)
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return amount, nil
}

// parseOptionalAmount treats an empty string as absent.
func parseOptionalAmount(value string) (*big.Int, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	return parseAmount(value)
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
