package filterchain

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/archplane/core/runtime/agent/model"
)

// StdioOptions configures a filter dialed as a local MCP stdio subprocess:
// a filter implementation hosted outside this process, spoken to over
// Content-Length-framed JSON-RPC on stdin/stdout rather than HTTP.
type StdioOptions struct {
	Command     string
	Args        []string
	Env         []string
	Dir         string
	InitTimeout time.Duration
}

// stdioMCPInvoker is the stdio counterpart to mcpInvoker: same tools/call
// JSON-RPC contract and Decision mapping, but framed over a child process's
// stdio pipes instead of HTTP, and able to multiplex concurrent calls since
// stdio has no per-request connection to key responses by.
type stdioMCPInvoker struct {
	tool string

	cmd   *exec.Cmd
	stdin io.WriteCloser

	pendingMu sync.Mutex
	pending   map[uint64]chan rpcResponse
	nextID    uint64

	closed    chan struct{}
	closeOnce sync.Once
}

// NewMCPStdioInvoker launches command as a subprocess, performs the MCP
// `initialize` handshake over its stdio pipes, and returns an Invoker bound
// to the named tool. The subprocess is kept running for the lifetime of the
// Invoker; callers should arrange to Close it (via context cancellation) when
// the filter chain is torn down.
func NewMCPStdioInvoker(ctx context.Context, tool string, opts StdioOptions) (Invoker, error) {
	if opts.Command == "" {
		return nil, errors.New("filterchain: stdio invoker requires a command")
	}
	cmd := exec.CommandContext(ctx, opts.Command, opts.Args...)
	if opts.Dir != "" {
		cmd.Dir = opts.Dir
	}
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, _ := cmd.StderrPipe()
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	inv := &stdioMCPInvoker{
		tool:    tool,
		cmd:     cmd,
		stdin:   stdin,
		pending: make(map[uint64]chan rpcResponse),
		closed:  make(chan struct{}),
	}
	go inv.readLoop(stdout)
	if stderr != nil {
		go io.Copy(io.Discard, stderr) //nolint:errcheck
	}

	initCtx := ctx
	if opts.InitTimeout > 0 {
		var cancel context.CancelFunc
		initCtx, cancel = context.WithTimeout(ctx, opts.InitTimeout)
		defer cancel()
	}
	payload := map[string]any{
		"protocolVersion": DefaultMCPProtocolVersion,
		"clientInfo":      map[string]any{"name": "archplane-filterchain", "version": "1"},
	}
	if err := inv.call(initCtx, "initialize", payload, nil); err != nil {
		_ = inv.Close()
		return nil, fmt.Errorf("mcp stdio initialize: %w", err)
	}
	return inv, nil
}

// Close terminates the subprocess and releases the invoker's resources.
func (m *stdioMCPInvoker) Close() error {
	m.closeOnce.Do(func() {
		if m.stdin != nil {
			_ = m.stdin.Close()
		}
		if m.cmd != nil && m.cmd.ProcessState == nil && m.cmd.Process != nil {
			_ = m.cmd.Process.Kill()
		}
		if m.cmd != nil {
			_ = m.cmd.Wait()
		}
		close(m.closed)
	})
	return nil
}

func (m *stdioMCPInvoker) Invoke(ctx context.Context, messages []*model.Message) (Decision, error) {
	params := map[string]any{
		"name":      m.tool,
		"arguments": httpFilterPayload{Messages: messages},
	}
	addTraceMeta(ctx, params)

	var result toolCallResult
	err := m.call(ctx, "tools/call", params, &result)
	if err != nil {
		var ce *callErr
		if errors.As(err, &ce) {
			return Decision{Continue: false, Status: ce.status, Body: []byte(ce.message)}, nil
		}
		return Decision{}, err
	}
	if result.IsError {
		return Decision{Continue: false, Status: 400, Body: result.Content}, nil
	}
	return Decision{Continue: true, Messages: result.Messages}, nil
}

func (m *stdioMCPInvoker) call(ctx context.Context, method string, params any, result any) error {
	id := m.next()
	ch := make(chan rpcResponse, 1)
	m.pendingMu.Lock()
	m.pending[id] = ch
	m.pendingMu.Unlock()

	req := rpcRequest{JSONRPC: "2.0", Method: method, ID: id, Params: params}
	data, err := json.Marshal(req)
	if err != nil {
		m.removePending(id)
		return err
	}
	if err := m.writeFrame(data); err != nil {
		m.removePending(id)
		return err
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return &callErr{status: 400, message: resp.Error.Message}
		}
		if result != nil && resp.Result != nil {
			return json.Unmarshal(resp.Result, result)
		}
		return nil
	case <-ctx.Done():
		m.removePending(id)
		return ctx.Err()
	case <-m.closed:
		return errors.New("filterchain: mcp stdio invoker closed")
	}
}

func (m *stdioMCPInvoker) writeFrame(data []byte) error {
	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(data))
	if _, err := io.WriteString(m.stdin, header); err != nil {
		return err
	}
	_, err := m.stdin.Write(data)
	return err
}

func (m *stdioMCPInvoker) readLoop(stdout io.Reader) {
	reader := bufio.NewReader(stdout)
	for {
		frame, err := readContentLengthFrame(reader)
		if err != nil {
			m.failPending()
			return
		}
		var resp rpcResponse
		if json.Unmarshal(frame, &resp) != nil || resp.ID == 0 {
			continue
		}
		m.pendingMu.Lock()
		ch, ok := m.pending[resp.ID]
		if ok {
			delete(m.pending, resp.ID)
		}
		m.pendingMu.Unlock()
		if ok {
			ch <- resp
			close(ch)
		}
	}
}

func (m *stdioMCPInvoker) failPending() {
	m.pendingMu.Lock()
	for id, ch := range m.pending {
		delete(m.pending, id)
		close(ch)
	}
	m.pendingMu.Unlock()
	_ = m.Close()
}

func (m *stdioMCPInvoker) removePending(id uint64) {
	m.pendingMu.Lock()
	delete(m.pending, id)
	m.pendingMu.Unlock()
}

func (m *stdioMCPInvoker) next() uint64 {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	m.nextID++
	return m.nextID
}

// readContentLengthFrame reads one LSP-style Content-Length-framed JSON-RPC
// message from reader.
func readContentLengthFrame(reader *bufio.Reader) ([]byte, error) {
	length := -1
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if length < 0 {
				continue
			}
			break
		}
		if after, ok := strings.CutPrefix(strings.ToLower(line), "content-length:"); ok {
			n, err := strconv.Atoi(strings.TrimSpace(after))
			if err != nil {
				return nil, err
			}
			length = n
		}
	}
	if length < 0 {
		return nil, errors.New("filterchain: mcp stdio frame missing Content-Length")
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(reader, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// addTraceMeta writes the active span context from ctx into the JSON-RPC
// request's "_meta" field: the stdio transport carries no HTTP headers for
// otel's propagator to inject into, so trace context rides in-band instead.
func addTraceMeta(ctx context.Context, params map[string]any) {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	if len(carrier) == 0 {
		return
	}
	meta := make(map[string]string, len(carrier))
	for k, v := range carrier {
		meta[k] = v
	}
	params["_meta"] = meta
}
