package chatapi

import (
	"errors"
	"fmt"
)

// TurnLimitCode is the error code the API attaches when a character has used
// up its conversation allowance.
const TurnLimitCode = "TURN_LIMIT_EXCEEDED"

// ErrorKind classifies a failed call at the API boundary.
type ErrorKind int

const (
	// KindTransport means no response was obtained at all.
	KindTransport ErrorKind = iota
	// KindTurnLimit is an access-denied status carrying TurnLimitCode.
	KindTurnLimit
	// KindNotFound means the character id is unknown to the API.
	KindNotFound
	// KindForbidden is an access-denied status without the turn-limit code.
	KindForbidden
	// KindServer is any other non-success status.
	KindServer
	// KindMalformed is a success status whose body lacks the expected payload.
	KindMalformed
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindTurnLimit:
		return "turn_limit"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindServer:
		return "server"
	case KindMalformed:
		return "malformed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// TurnCounts are the authoritative counts reported by the API.
type TurnCounts struct {
	Current int
	Max     int
}

// Error is returned by every Client call that fails.
type Error struct {
	Kind    ErrorKind
	Status  int
	Code    string
	Message string
	Turns   *TurnCounts
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("chat api: status %d: %s", e.Status, msg)
	} else {
		msg = "chat api: " + msg
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the ErrorKind of err. Errors that did not come from the API
// boundary count as transport failures.
func KindOf(err error) ErrorKind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindTransport
}

// AsError returns the *Error wrapped in err, if any.
func AsError(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
