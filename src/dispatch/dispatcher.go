// Package dispatch fans a batch of named tool invocations out to the
// provider registry and collects per-call results without letting one
// failure abort the batch.
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"

	"github.com/procgate/go-procgate/src/json"
)

// UnknownToolError means no routing entry exists for a tool name. It is
// rejected before reaching any provider.
type UnknownToolError struct {
	Tool string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("Unknown function: %s", e.Tool)
}

// Executor runs a tool against a provider. The registry implements it.
type Executor interface {
	Execute(ctx context.Context, provider, tool string, args map[string]any) (json.RawMessage, error)
}

// ToolCall is one caller-supplied invocation. Arguments is the opaque
// JSON-encoded argument payload; its schema belongs to the provider.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult carries either a result or an error for one call, never both,
// with the caller's ID echoed back unchanged.
type ToolResult struct {
	ID     string `json:"id"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Dispatcher routes tool calls through a static routing table.
type Dispatcher struct {
	routes map[string]string
	exec   Executor
	log    *logrus.Logger
}

// New constructs a dispatcher over the given toolName -> providerName table.
func New(routes map[string]string, exec Executor, logger *logrus.Logger) *Dispatcher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Dispatcher{routes: routes, exec: exec, log: logger}
}

// ExecuteBatch issues every call concurrently and waits for all of them to
// settle. It returns exactly one result per input call, in input order. An
// unmapped tool name or malformed argument payload becomes a per-call error
// without ever reaching the registry.
func (d *Dispatcher) ExecuteBatch(ctx context.Context, calls []ToolCall) []ToolResult {
	results := make([]ToolResult, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call ToolCall) {
			defer wg.Done()
			results[i] = d.executeOne(ctx, call)
		}(i, call)
	}
	wg.Wait()

	return results
}

func (d *Dispatcher) executeOne(ctx context.Context, call ToolCall) ToolResult {
	provider, ok := d.routes[call.Name]
	if !ok {
		d.log.WithField("tool", call.Name).Warn("no route for tool")
		return ToolResult{ID: call.ID, Error: (&UnknownToolError{Tool: call.Name}).Error()}
	}

	args, err := decodeArguments(call.Arguments)
	if err != nil {
		return ToolResult{ID: call.ID, Error: fmt.Sprintf("Invalid arguments for %s: %v", call.Name, err)}
	}

	d.log.WithFields(logrus.Fields{
		"tool":     call.Name,
		"provider": provider,
	}).Debug("dispatching tool call")

	result, err := d.exec.Execute(ctx, provider, call.Name, args)
	if err != nil {
		return ToolResult{ID: call.ID, Error: err.Error()}
	}
	return ToolResult{ID: call.ID, Result: shapeResult(result)}
}

// decodeArguments parses the opaque argument payload into the map the wire
// protocol expects. Absent arguments become an empty object.
func decodeArguments(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// shapeResult flattens an MCP-style content payload
// ({content: [{type: "text", text: ...}]}) down to its text for the chat
// caller. Anything else passes through as decoded JSON.
func shapeResult(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return string(raw)
	}

	m, err := cast.ToStringMapE(decoded)
	if err != nil {
		return decoded
	}
	content, err := cast.ToSliceE(m["content"])
	if err != nil || len(content) == 0 {
		return decoded
	}

	var parts []string
	for _, item := range content {
		entry, err := cast.ToStringMapE(item)
		if err != nil || cast.ToString(entry["type"]) != "text" {
			return decoded
		}
		parts = append(parts, cast.ToString(entry["text"]))
	}
	return strings.Join(parts, "\n")
}
