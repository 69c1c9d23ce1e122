package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// helperClient spawns this test binary as a fake provider process (see
// TestHelperProcess).
func helperClient(t *testing.T, mode string, timeout time.Duration) *Client {
	t.Helper()
	return New(Options{
		Name:    "helper",
		Command: os.Args[0],
		Args:    []string{"-test.run=TestHelperProcess", "--", mode},
		Env:     map[string]string{"GO_WANT_HELPER_PROCESS": "1"},
		Timeout: timeout,
	})
}

func startHelper(t *testing.T, mode string, timeout time.Duration) *Client {
	t.Helper()
	c := helperClient(t, mode, timeout)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { c.Stop() })
	return c
}

func TestStartAndCall(t *testing.T) {
	c := startHelper(t, "", 5*time.Second)
	require.Equal(t, StateReady, c.State())

	result, err := c.CallTool(context.Background(), "echo", map[string]any{"text": "hi"})
	require.NoError(t, err)
	assert.Contains(t, string(result), `"hi"`)
}

func TestCallBeforeStartFailsLocally(t *testing.T) {
	c := helperClient(t, "", time.Second)

	_, err := c.CallTool(context.Background(), "echo", nil)
	var notConnected *NotConnectedError
	require.ErrorAs(t, err, &notConnected)
	assert.Equal(t, StateNotStarted, notConnected.State)
}

func TestListTools(t *testing.T) {
	c := startHelper(t, "", 5*time.Second)

	tools, err := c.ListTools(context.Background())
	require.NoError(t, err)

	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		names = append(names, tool.Name)
	}
	assert.Contains(t, names, "echo")
	assert.Contains(t, names, "create_task")
}

func TestOutOfOrderResponsesCorrelate(t *testing.T) {
	c := startHelper(t, "", 5*time.Second)
	ctx := context.Background()

	type outcome struct {
		text   string
		result string
		err    error
	}
	outcomes := make(chan outcome, 2)

	// The slow call is issued first but must settle second; each call has
	// to receive its own response regardless.
	go func() {
		res, err := c.CallTool(ctx, "slow", map[string]any{"text": "first", "ms": 300})
		outcomes <- outcome{text: "first", result: string(res), err: err}
	}()
	time.Sleep(50 * time.Millisecond)
	go func() {
		res, err := c.CallTool(ctx, "echo", map[string]any{"text": "second"})
		outcomes <- outcome{text: "second", result: string(res), err: err}
	}()

	for i := 0; i < 2; i++ {
		o := <-outcomes
		require.NoError(t, o.err)
		assert.Contains(t, o.result, o.text)
	}
	assert.Zero(t, c.pendingCount())
}

func TestTimeoutEvictsPendingEntry(t *testing.T) {
	c := startHelper(t, "", 200*time.Millisecond)
	ctx := context.Background()

	_, err := c.CallTool(ctx, "never", nil)
	var timeout *RequestTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Zero(t, c.pendingCount())

	// The client stays usable for unrelated calls.
	result, err := c.CallTool(ctx, "echo", map[string]any{"text": "still alive"})
	require.NoError(t, err)
	assert.Contains(t, string(result), "still alive")
}

func TestLateFrameAfterTimeoutIsDiscarded(t *testing.T) {
	c := startHelper(t, "", 150*time.Millisecond)
	ctx := context.Background()

	// The response arrives ~400ms after the entry was evicted by timeout.
	_, err := c.CallTool(ctx, "slow", map[string]any{"text": "late", "ms": 400})
	var timeout *RequestTimeoutError
	require.ErrorAs(t, err, &timeout)

	time.Sleep(500 * time.Millisecond)

	assert.Zero(t, c.pendingCount())
	assert.Equal(t, StateReady, c.State())

	result, err := c.CallTool(ctx, "echo", map[string]any{"text": "ok"})
	require.NoError(t, err)
	assert.Contains(t, string(result), "ok")
}

func TestRemoteErrorPropagates(t *testing.T) {
	c := startHelper(t, "", 5*time.Second)

	_, err := c.CallTool(context.Background(), "fail", nil)
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "boom", remote.Message)
	assert.Zero(t, c.pendingCount())
}

func TestSpawnErrorOnMissingExecutable(t *testing.T) {
	c := New(Options{
		Name:    "missing",
		Command: "/definitely/not/a/real/provider",
		Timeout: time.Second,
	})

	err := c.Start(context.Background())
	var spawn *SpawnError
	require.ErrorAs(t, err, &spawn)
	assert.Equal(t, StateNotStarted, c.State())
}

func TestProcessExitBeforeHandshake(t *testing.T) {
	c := helperClient(t, "exit3", 5*time.Second)

	err := c.Start(context.Background())
	var exited *ProcessExitedError
	require.ErrorAs(t, err, &exited)
	assert.Equal(t, 3, exited.Code)
	assert.Equal(t, StateDisconnected, c.State())
}

func TestHandshakeTimeout(t *testing.T) {
	c := helperClient(t, "silent", 200*time.Millisecond)

	err := c.Start(context.Background())
	var handshake *HandshakeError
	require.ErrorAs(t, err, &handshake)
}

func TestProcessExitDrainsPendingCalls(t *testing.T) {
	c := startHelper(t, "", 5*time.Second)
	ctx := context.Background()

	_, err := c.CallTool(ctx, "die", nil)
	var exited *ProcessExitedError
	require.ErrorAs(t, err, &exited)
	assert.Zero(t, c.pendingCount())
	assert.Equal(t, StateDisconnected, c.State())

	// Once disconnected, further calls fail locally.
	_, err = c.CallTool(ctx, "echo", nil)
	var notConnected *NotConnectedError
	require.ErrorAs(t, err, &notConnected)
}

func TestBootNoiseIsDiscarded(t *testing.T) {
	c := startHelper(t, "noisy", 5*time.Second)

	result, err := c.CallTool(context.Background(), "echo", map[string]any{"text": "clean"})
	require.NoError(t, err)
	assert.Contains(t, string(result), "clean")
}

func TestUnsolicitedFrameIgnored(t *testing.T) {
	c := startHelper(t, "unsolicited", 5*time.Second)

	result, err := c.CallTool(context.Background(), "echo", map[string]any{"text": "fine"})
	require.NoError(t, err)
	assert.Contains(t, string(result), "fine")
}

func TestStopIsIdempotent(t *testing.T) {
	c := startHelper(t, "", 5*time.Second)

	require.NoError(t, c.Stop())
	require.NoError(t, c.Stop())
	assert.Equal(t, StateDisconnected, c.State())

	_, err := c.CallTool(context.Background(), "echo", nil)
	var notConnected *NotConnectedError
	require.ErrorAs(t, err, &notConnected)
}

// TestHelperProcess is not a real test: when re-invoked by helperClient it
// acts as a line-delimited JSON-RPC provider over stdio.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	defer os.Exit(0)

	mode := ""
	for i, arg := range os.Args {
		if arg == "--" && i+1 < len(os.Args) {
			mode = os.Args[i+1]
			break
		}
	}

	switch mode {
	case "exit3":
		os.Exit(3)
	case "silent":
		io.Copy(io.Discard, os.Stdin)
		os.Exit(0)
	case "noisy":
		fmt.Println("booting provider, please wait...")
		fmt.Fprintln(os.Stderr, "warming up caches")
	case "unsolicited":
		fmt.Println(`{"jsonrpc":"2.0","id":"nobody-asked","result":{}}`)
	}

	var writeMu sync.Mutex
	respond := func(v any) {
		data, err := json.Marshal(v)
		if err != nil {
			return
		}
		writeMu.Lock()
		os.Stdout.Write(append(data, '\n'))
		writeMu.Unlock()
	}
	textResult := func(id, text string) map[string]any {
		return map[string]any{
			"jsonrpc": "2.0",
			"id":      id,
			"result": map[string]any{
				"content": []map[string]any{{"type": "text", "text": text}},
			},
		}
	}
	errorResult := func(id string, code int, msg string) map[string]any {
		return map[string]any{
			"jsonrpc": "2.0",
			"id":      id,
			"error":   map[string]any{"code": code, "message": msg},
		}
	}

	var wg sync.WaitGroup
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var req struct {
			ID     string `json:"id"`
			Method string `json:"method"`
			Params struct {
				Name      string         `json:"name"`
				Arguments map[string]any `json:"arguments"`
			} `json:"params"`
		}
		if err := json.Unmarshal([]byte(line), &req); err != nil || req.ID == "" {
			continue // notification or junk
		}

		wg.Add(1)
		go func(id, method, tool string, args map[string]any) {
			defer wg.Done()
			switch method {
			case "initialize":
				respond(map[string]any{
					"jsonrpc": "2.0",
					"id":      id,
					"result": map[string]any{
						"protocolVersion": "2024-11-05",
						"serverInfo":      map[string]any{"name": "fake-provider", "version": "0.0.1"},
					},
				})
			case "tools/list":
				respond(map[string]any{
					"jsonrpc": "2.0",
					"id":      id,
					"result": map[string]any{
						"tools": []map[string]any{
							{"name": "echo", "description": "echo text back"},
							{"name": "slow", "description": "echo after a delay"},
							{"name": "create_task", "description": "create a task"},
						},
					},
				})
			case "tools/call":
				switch tool {
				case "echo":
					respond(textResult(id, fmt.Sprint(args["text"])))
				case "slow":
					ms, _ := args["ms"].(float64)
					time.Sleep(time.Duration(ms) * time.Millisecond)
					respond(textResult(id, fmt.Sprint(args["text"])))
				case "never":
					// deliberately no response
				case "fail":
					respond(errorResult(id, -32000, "boom"))
				case "die":
					os.Exit(4)
				default:
					respond(errorResult(id, -32601, "unknown tool "+tool))
				}
			default:
				respond(errorResult(id, -32601, "method not found"))
			}
		}(req.ID, req.Method, req.Params.Name, req.Params.Arguments)
	}
	wg.Wait()
}
