// Package stdio implements the provider process client: it owns one child
// process, speaks newline-delimited JSON-RPC 2.0 over its stdin/stdout, and
// correlates concurrent requests and responses by ID.
package stdio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/procgate/go-procgate/src/json"
	"github.com/procgate/go-procgate/src/jsonrpc"
)

const (
	// DefaultTimeout is the per-call deadline when none is configured.
	DefaultTimeout = 30 * time.Second

	protocolVersion = "2024-11-05"
	clientName      = "procgate"
	clientVersion   = "0.1.0"

	maxFrameSize = 4 * 1024 * 1024
)

// Options configures a Client.
type Options struct {
	// Name identifies the provider in logs and errors.
	Name string
	// Command is the path to the provider executable.
	Command string
	Args    []string
	// Env is injected into the child's environment on top of the parent's.
	// The provider credential goes here.
	Env map[string]string
	// Timeout is the per-call deadline; zero means DefaultTimeout.
	Timeout time.Duration
	Logger  *logrus.Logger
}

// Tool describes one operation a provider exposes, as reported by
// tools/list.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// Client is a provider process client. It has exclusive ownership of the
// child's stdio: only the client writes its stdin or reads its stdout and
// stderr.
type Client struct {
	name    string
	command string
	args    []string
	env     map[string]string
	timeout time.Duration
	log     *logrus.Entry

	mu      sync.Mutex
	state   State
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	pending map[string]chan *jsonrpc.Response
	exitErr *ProcessExitedError
	done    chan struct{}

	// writeMu serializes frame writes to the child's stdin so concurrent
	// calls cannot interleave partial frames.
	writeMu sync.Mutex
}

// New constructs a client in the NotStarted state.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Client{
		name:    opts.Name,
		command: opts.Command,
		args:    opts.Args,
		env:     opts.Env,
		timeout: opts.Timeout,
		log:     logger.WithField("provider", opts.Name),
		state:   StateNotStarted,
		pending: make(map[string]chan *jsonrpc.Response),
		done:    make(chan struct{}),
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start spawns the provider process and performs the initialize handshake.
// The client is Ready exactly when the handshake round-trips; anything the
// child prints before it speaks the protocol is logged and discarded by the
// frame reader. Exactly one failure mode fires: SpawnError if the process
// cannot be spawned, ProcessExitedError if it dies before the handshake
// completes, HandshakeError otherwise.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateNotStarted {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("provider %q already started (state %s)", c.name, st)
	}

	cmd := exec.Command(c.command, c.args...)
	cmd.Env = os.Environ()
	for key, value := range c.env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", key, value))
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		c.mu.Unlock()
		return &SpawnError{Command: c.command, Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		c.mu.Unlock()
		return &SpawnError{Command: c.command, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		c.mu.Unlock()
		return &SpawnError{Command: c.command, Err: err}
	}
	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		c.mu.Unlock()
		return &SpawnError{Command: c.command, Err: err}
	}

	c.cmd = cmd
	c.stdin = stdin
	c.state = StateStarting
	c.mu.Unlock()

	c.log.WithField("command", c.command).Debug("provider process spawned")

	go c.logStderr(stderr)
	go c.readLoop(stdout)
	go c.waitExit(cmd)

	params := map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities": map[string]any{
			"tools": map[string]any{},
		},
		"clientInfo": map[string]any{
			"name":    clientName,
			"version": clientVersion,
		},
	}
	if _, err := c.roundTrip(ctx, "initialize", params); err != nil {
		var exited *ProcessExitedError
		if errors.As(err, &exited) {
			return exited
		}
		// A write to a dying child can fail before its exit is observed;
		// give the waiter a moment so the outcome is ProcessExitedError,
		// not HandshakeError, when the child is already gone.
		select {
		case <-c.done:
			return c.exitError()
		case <-time.After(200 * time.Millisecond):
		}
		c.Stop()
		return &HandshakeError{Provider: c.name, Err: err}
	}
	if err := c.Notify("notifications/initialized", nil); err != nil {
		c.log.WithError(err).Warn("failed to send initialized notification")
	}

	c.mu.Lock()
	if c.state != StateStarting {
		// The child died in the window after the handshake settled.
		exitErr := c.exitErr
		c.mu.Unlock()
		if exitErr != nil {
			return exitErr
		}
		return &HandshakeError{Provider: c.name, Err: errors.New("client stopped during handshake")}
	}
	c.state = StateReady
	c.mu.Unlock()

	c.log.Info("provider ready")
	return nil
}

// Call sends a JSON-RPC request and waits for the correlated response. Any
// number of calls may be outstanding at once; responses may arrive in any
// order. Fails immediately with NotConnectedError unless the client is
// Ready.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	st := c.state
	c.mu.Unlock()
	if st != StateReady {
		return nil, &NotConnectedError{Provider: c.name, State: st}
	}
	return c.roundTrip(ctx, method, params)
}

// CallTool invokes a named tool with the given arguments via tools/call.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	if args == nil {
		args = map[string]any{}
	}
	return c.Call(ctx, "tools/call", map[string]any{
		"name":      name,
		"arguments": args,
	})
}

// ListTools asks the provider which tools it implements.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	result, err := c.Call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Tools []Tool `json:"tools"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, fmt.Errorf("invalid tools/list response: %w", err)
	}
	return resp.Tools, nil
}

// Notify writes a fire-and-forget notification frame.
func (c *Client) Notify(method string, params any) error {
	frame, err := jsonrpc.EncodeFrame(jsonrpc.NewNotification(method, params))
	if err != nil {
		return err
	}
	return c.writeFrame(frame)
}

// Stop terminates the provider process. Idempotent. The exit handler is the
// single place pending calls are drained, so Stop only signals the child and
// flips the state.
func (c *Client) Stop() error {
	c.mu.Lock()
	if c.state == StateNotStarted || c.state == StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.state = StateDisconnected
	cmd := c.cmd
	stdin := c.stdin
	c.cmd = nil
	c.stdin = nil
	c.mu.Unlock()

	if stdin != nil {
		stdin.Close()
	}
	if cmd != nil && cmd.Process != nil {
		if err := cmd.Process.Kill(); err != nil {
			c.log.WithError(err).Debug("failed to kill provider process")
		}
	}
	c.log.Info("provider stopped")
	return nil
}

// roundTrip registers a pending entry, writes the frame, and waits for the
// response, the per-call timeout, process exit, or context cancellation.
// The pending entry is removed exactly once, whichever happens first.
func (c *Client) roundTrip(ctx context.Context, method string, params any) (json.RawMessage, error) {
	req := jsonrpc.NewRequest(method, params)
	frame, err := jsonrpc.EncodeFrame(req)
	if err != nil {
		return nil, err
	}

	ch := c.register(req.ID)
	if err := c.writeFrame(frame); err != nil {
		c.take(req.ID)
		return nil, fmt.Errorf("failed to send %s request: %w", method, err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		return c.unpack(resp)
	case <-timer.C:
		if c.take(req.ID) != nil {
			return nil, &RequestTimeoutError{Method: method, Timeout: c.timeout}
		}
		// The reader claimed the entry first; its response is in flight.
		return c.unpack(<-ch)
	case <-c.done:
		if c.take(req.ID) != nil {
			return nil, c.exitError()
		}
		return c.unpack(<-ch)
	case <-ctx.Done():
		if c.take(req.ID) != nil {
			return nil, ctx.Err()
		}
		return c.unpack(<-ch)
	}
}

func (c *Client) unpack(resp *jsonrpc.Response) (json.RawMessage, error) {
	if resp.Error != nil {
		return nil, &RemoteError{Code: resp.Error.Code, Message: resp.Error.Message}
	}
	return resp.Result, nil
}

// register inserts a pending entry for the given correlation ID. The
// channel is buffered so the reader never blocks on delivery.
func (c *Client) register(id string) chan *jsonrpc.Response {
	ch := make(chan *jsonrpc.Response, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	return ch
}

// take removes and returns the pending entry for id, or nil if another path
// (response, timeout, drain) already claimed it. Whoever takes the entry
// settles the call.
func (c *Client) take(id string) chan *jsonrpc.Response {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.pending[id]
	if !ok {
		return nil
	}
	delete(c.pending, id)
	return ch
}

func (c *Client) pendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Client) exitError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.exitErr != nil {
		return c.exitErr
	}
	return &ProcessExitedError{Provider: c.name, Code: -1}
}

func (c *Client) writeFrame(frame []byte) error {
	c.mu.Lock()
	stdin := c.stdin
	c.mu.Unlock()
	if stdin == nil {
		return &NotConnectedError{Provider: c.name, State: c.State()}
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := stdin.Write(frame)
	return err
}

// readLoop parses the child's stdout as newline-terminated frames. Lines
// that do not parse as JSON-RPC are logged and discarded; frames with no
// matching pending entry are logged as unsolicited. Neither disturbs other
// pending requests.
func (c *Client) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		resp, err := jsonrpc.DecodeFrame(line)
		if err != nil {
			c.log.WithError(err).Debug("discarding non-protocol output line")
			continue
		}
		if resp.IsNotification() {
			c.log.WithField("method", resp.Method).Debug("provider notification")
			continue
		}
		ch := c.take(resp.ID)
		if ch == nil {
			c.log.WithField("id", resp.ID).Debug("discarding response with no pending request")
			continue
		}
		ch <- resp
	}
	if err := scanner.Err(); err != nil {
		c.log.WithError(err).Debug("provider stdout closed")
	}
}

// logStderr passes the child's stderr through as diagnostics.
func (c *Client) logStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			c.log.WithField("stream", "stderr").Debug(line)
		}
	}
}

// waitExit observes the child's death, flips the state, and closes done so
// every pending call settles with ProcessExitedError. This is the single
// drain point for the pending table.
func (c *Client) waitExit(cmd *exec.Cmd) {
	err := cmd.Wait()
	code := 0
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
	} else if err != nil {
		code = -1
	}

	c.mu.Lock()
	wasStopped := c.state == StateDisconnected
	c.state = StateDisconnected
	c.exitErr = &ProcessExitedError{Provider: c.name, Code: code}
	close(c.done)
	c.mu.Unlock()

	if wasStopped {
		c.log.WithField("code", code).Debug("provider process reaped")
	} else {
		c.log.WithField("code", code).Warn("provider process exited")
	}
}
