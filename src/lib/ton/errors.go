package ton

import (
	"errors"
	"fmt"
	"net"
)

// ErrOutcomeUnknown means the call was cut short and the chain may or may not
// have accepted the transaction. It must be resolved by lookup, never retried blindly.
var ErrOutcomeUnknown = errors.New("chain call outcome unknown")

var ErrTxNotFound = errors.New("transaction not found")

type ChainError struct {
	Op        string
	Code      int
	Message   string
	Transient bool
	Err       error
}

func (e *ChainError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s chain error: %s", e.Op, kind, e.Err.Error())
	}
	return fmt.Sprintf("%s: %s chain error %d: %s", e.Op, kind, e.Code, e.Message)
}

func (e *ChainError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is safe to retry with a new submission.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, ErrOutcomeUnknown) {
		return false
	}
	var ce *ChainError
	if errors.As(err, &ce) {
		return ce.Transient
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// IsPermanent reports whether err rejects the request itself.
func IsPermanent(err error) bool {
	var ce *ChainError
	return errors.As(err, &ce) && !ce.Transient
}

// transient rpc codes: rate limiting, upstream failures and the JSON-RPC server error range
func transientCode(code int) bool {
	switch {
	case code == 429, code >= 500 && code < 600:
		return true
	case code <= -32000 && code >= -32099:
		return true
	}
	return false
}
