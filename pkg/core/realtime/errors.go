package realtime

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes session errors per the bridge's handling
// policy.
type ErrorKind string

const (
	// KindTransientDisconnect is an unexpected socket closure mid-call;
	// the bridge may reconnect within its retry budget.
	KindTransientDisconnect ErrorKind = "transient_disconnect"
	// KindUpstream is a peer-reported application error (quota, model
	// failure). Fatal for the current response; the connection itself
	// may remain usable.
	KindUpstream ErrorKind = "upstream_error"
	// KindProtocolViolation is a contract mismatch, such as a manual
	// commit under automatic voice-activity detection. The triggering
	// action is suppressed and the session continues.
	KindProtocolViolation ErrorKind = "protocol_violation"
)

// ErrProtocolViolation is returned for actions that would violate the
// session's wire contract; the action is never sent.
var ErrProtocolViolation = errors.New("realtime protocol violation")

// ErrSessionClosed is returned for calls made after Close.
var ErrSessionClosed = errors.New("realtime session is closed")

// ConnectError reports a handshake or authentication failure while
// opening the session. Fatal for the session; the caller decides
// whether to dial again.
type ConnectError struct {
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("realtime connect: %v", e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }
