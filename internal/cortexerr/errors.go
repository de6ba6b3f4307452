// Package cortexerr defines the E_* error codes exposed across the RPC
// boundary as a typed error instead of bare strings, so callers can switch
// on Code without string matching.
package cortexerr

import "fmt"

// Code is one of the machine-readable error codes returned to clients.
type Code string

const (
	EInvalidMethod   Code = "E_INVALID_METHOD"
	EInvalidParams   Code = "E_INVALID_PARAMS"
	EMapTimeout      Code = "E_MAP_TIMEOUT"
	EMapDNSFailed    Code = "E_MAP_DNS_FAILED"
	EMapBlocked      Code = "E_MAP_BLOCKED"
	EMapNoContent    Code = "E_MAP_NO_CONTENT"
	EMapTooLarge     Code = "E_MAP_TOO_LARGE"
	EMapNotFound     Code = "E_MAP_NOT_FOUND"
	EMapCorrupt      Code = "E_MAP_CORRUPT"
	EQueryInvalid    Code = "E_QUERY_INVALID"
	EPathfindInvalid Code = "E_PATHFIND_INVALID"
	EPoolExhausted   Code = "E_POOL_EXHAUSTED"
	EMemoryLimit     Code = "E_MEMORY_LIMIT"
	EConnTimeout     Code = "E_CONN_TIMEOUT"
)

// CortexError is the error type returned across every package boundary
// that can surface a client-visible failure.
type CortexError struct {
	Code    Code
	Message string
	Err     error // wrapped cause, may be nil
}

func New(code Code, message string) *CortexError {
	return &CortexError{Code: code, Message: message}
}

func Wrap(code Code, message string, err error) *CortexError {
	return &CortexError{Code: code, Message: message, Err: err}
}

func (e *CortexError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *CortexError) Unwrap() error { return e.Err }

// As reports whether err is a *CortexError carrying the given code.
func As(err error, code Code) bool {
	ce, ok := err.(*CortexError)
	return ok && ce.Code == code
}
