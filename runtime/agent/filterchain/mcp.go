package filterchain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/archplane/core/runtime/agent/model"
)

// DefaultMCPProtocolVersion is the MCP protocol version used when a
// FilterSpec does not declare one.
const DefaultMCPProtocolVersion = "2024-11-05"

// mcpInvoker invokes a named MCP tool over a streamable-HTTP JSON-RPC
// session, treating a JSON-RPC error response the same way an HTTP filter's
// 4xx/5xx status is treated: a client-facing error (e.g. guardrail tool
// rejection) terminates the chain, while a transport failure is fatal.
type mcpInvoker struct {
	endpoint string
	tool     string
	client   *http.Client
	id       uint64
}

// NewMCPInvoker dials an MCP streamable-HTTP session (performing the
// `initialize` handshake) and returns an Invoker bound to the named tool.
func NewMCPInvoker(ctx context.Context, endpoint, tool string, client *http.Client) (Invoker, error) {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	inv := &mcpInvoker{endpoint: endpoint, tool: tool, client: client}
	payload := map[string]any{
		"protocolVersion": DefaultMCPProtocolVersion,
		"clientInfo":      map[string]any{"name": "archplane-filterchain", "version": "1"},
	}
	if err := inv.call(ctx, "initialize", payload, nil); err != nil {
		return nil, fmt.Errorf("mcp initialize: %w", err)
	}
	return inv, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	ID      uint64 `json:"id"`
	Params  any    `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type toolCallResult struct {
	Messages []*model.Message `json:"messages"`
	IsError  bool             `json:"isError"`
	Content  json.RawMessage  `json:"content"`
}

func (m *mcpInvoker) Invoke(ctx context.Context, messages []*model.Message) (Decision, error) {
	params := map[string]any{
		"name":      m.tool,
		"arguments": httpFilterPayload{Messages: messages},
	}
	var result toolCallResult
	err := m.call(ctx, "tools/call", params, &result)
	if err != nil {
		var decision Decision
		if ce, ok := err.(*callErr); ok { //nolint:errorlint // callErr is never wrapped
			decision = Decision{Continue: false, Status: ce.status, Body: []byte(ce.message)}
			return decision, nil
		}
		return Decision{}, err
	}
	if result.IsError {
		return Decision{Continue: false, Status: http.StatusBadRequest, Body: result.Content}, nil
	}
	return Decision{Continue: true, Messages: result.Messages}, nil
}

// callErr represents a JSON-RPC error that maps to a client-visible
// guardrail outcome rather than a fatal transport failure.
type callErr struct {
	status  int
	message string
}

func (c *callErr) Error() string { return c.message }

func (m *mcpInvoker) call(ctx context.Context, method string, params any, result any) error {
	id := atomic.AddUint64(&m.id, 1)
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, ID: id, Params: params})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("mcp transport status %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return &callErr{status: resp.StatusCode, message: fmt.Sprintf("mcp transport status %d", resp.StatusCode)}
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return err
	}
	if rpcResp.Error != nil {
		return &callErr{status: http.StatusBadRequest, message: rpcResp.Error.Message}
	}
	if result != nil && rpcResp.Result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return err
		}
	}
	return nil
}
