package stdio

import (
	"fmt"
	"time"
)

// State is the connection state of a provider process client.
type State string

const (
	StateNotStarted   State = "not_started"
	StateStarting     State = "starting"
	StateReady        State = "ready"
	StateDisconnected State = "disconnected"
)

// SpawnError means the provider process could not be started at all
// (missing executable, permission error, pipe failure).
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn provider process %q: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// HandshakeError means the initialize round-trip failed.
type HandshakeError struct {
	Provider string
	Err      error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("initialize handshake with provider %q failed: %v", e.Provider, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// ProcessExitedError means the child process died. Pending calls are drained
// with this error.
type ProcessExitedError struct {
	Provider string
	Code     int
}

func (e *ProcessExitedError) Error() string {
	return fmt.Sprintf("provider %q process exited with code %d", e.Provider, e.Code)
}

// NotConnectedError means a call was attempted while the client was not
// Ready. Nothing is written to the subprocess.
type NotConnectedError struct {
	Provider string
	State    State
}

func (e *NotConnectedError) Error() string {
	return fmt.Sprintf("provider %q is not connected (state %s)", e.Provider, e.State)
}

// RequestTimeoutError means no matching response frame arrived within the
// per-call deadline. The subprocess is left running.
type RequestTimeoutError struct {
	Method  string
	Timeout time.Duration
}

func (e *RequestTimeoutError) Error() string {
	return fmt.Sprintf("request %q timed out after %s", e.Method, e.Timeout)
}

// RemoteError carries a JSON-RPC error object returned by the provider.
type RemoteError struct {
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("provider error %d: %s", e.Code, e.Message)
}
