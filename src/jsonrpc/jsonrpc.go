// Package jsonrpc holds the newline-delimited JSON-RPC 2.0 frame types the
// gateway speaks with provider processes. One JSON object per line, no
// batching, no partial frames.
package jsonrpc

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/procgate/go-procgate/src/json"
)

const Version = "2.0"

// Request is an outbound frame. Requests without an ID are notifications.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Response is an inbound frame. Method is only set on server-initiated
// notifications, which carry no ID.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is the JSON-RPC error object a provider returns in place of a result.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// IsNotification reports whether the frame is a server-initiated
// notification rather than a response to a pending request.
func (r *Response) IsNotification() bool {
	return r.ID == "" && r.Method != ""
}

// NewRequest builds a request frame with a fresh correlation ID.
func NewRequest(method string, params any) Request {
	return Request{
		JSONRPC: Version,
		ID:      NewID(),
		Method:  method,
		Params:  params,
	}
}

// NewNotification builds an ID-less frame that expects no response.
func NewNotification(method string, params any) Request {
	return Request{
		JSONRPC: Version,
		Method:  method,
		Params:  params,
	}
}

// NewID returns a correlation ID unique among concurrently outstanding
// requests: a nanosecond timestamp plus a short random suffix so two calls
// in the same nanosecond cannot collide.
func NewID() string {
	return fmt.Sprintf("%d-%s", time.Now().UnixNano(), uuid.NewString()[:8])
}

// EncodeFrame serializes a request as a single newline-terminated line.
func EncodeFrame(req Request) ([]byte, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return append(data, '\n'), nil
}

// DecodeFrame parses one line into a response frame. Blank lines and
// non-protocol output fail here and are discarded by the caller.
func DecodeFrame(line string) (*Response, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, fmt.Errorf("empty frame")
	}
	var resp Response
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		return nil, fmt.Errorf("invalid json-rpc frame: %w", err)
	}
	return &resp, nil
}
