package filterchain

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/archplane/core/runtime/agent/model"
)

const stdioHelperEnv = "ARCHPLANE_MCP_STDIO_HELPER"

func TestMCPStdioInvokerCallsTool(t *testing.T) {
	ctx := context.Background()
	inv, err := NewMCPStdioInvoker(ctx, "echo", StdioOptions{
		Command:     os.Args[0],
		Args:        []string{"-test.run=TestMCPStdioHelperProcess", "--"},
		Env:         []string{stdioHelperEnv + "=1"},
		InitTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("new stdio invoker: %v", err)
	}
	defer inv.(*stdioMCPInvoker).Close()

	decision, err := inv.Invoke(ctx, []*model.Message{
		{Role: model.ConversationRoleUser, Parts: []model.Part{model.TextPart{Text: "hi"}}},
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if !decision.Continue {
		t.Fatalf("expected Continue, got %+v", decision)
	}
	if len(decision.Messages) != 1 || decision.Messages[0].Role != model.ConversationRoleAssistant {
		t.Fatalf("unexpected messages: %+v", decision.Messages)
	}
}

func TestMCPStdioInvokerPropagatesToolError(t *testing.T) {
	ctx := context.Background()
	inv, err := NewMCPStdioInvoker(ctx, "fail", StdioOptions{
		Command:     os.Args[0],
		Args:        []string{"-test.run=TestMCPStdioHelperProcess", "--"},
		Env:         []string{stdioHelperEnv + "=1"},
		InitTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("new stdio invoker: %v", err)
	}
	defer inv.(*stdioMCPInvoker).Close()

	decision, err := inv.Invoke(ctx, []*model.Message{
		{Role: model.ConversationRoleUser, Parts: []model.Part{model.TextPart{Text: "hi"}}},
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if decision.Continue {
		t.Fatalf("expected termination, got %+v", decision)
	}
}

// TestMCPStdioHelperProcess is re-executed as a subprocess by the tests above
// (via os.Args[0]) to act as a minimal MCP stdio server.
func TestMCPStdioHelperProcess(t *testing.T) {
	if os.Getenv(stdioHelperEnv) != "1" {
		t.Skip("helper process")
	}
	runMCPStdioHelper()
}

func runMCPStdioHelper() {
	reader := bufio.NewReader(os.Stdin)
	writer := bufio.NewWriter(os.Stdout)
	for {
		frame, err := readContentLengthFrame(reader)
		if err != nil {
			break
		}
		var req rpcRequest
		if json.Unmarshal(frame, &req) != nil {
			continue
		}
		switch req.Method {
		case "initialize":
			writeHelperFrame(writer, rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(`{"capabilities":{}}`)})
		case "tools/call":
			params, _ := req.Params.(map[string]any)
			name, _ := params["name"].(string)
			if name == "fail" {
				errResp := rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: -32000, Message: "tool failed"}}
				writeHelperFrame(writer, errResp)
				continue
			}
			result := toolCallResult{Messages: []*model.Message{
				{Role: model.ConversationRoleAssistant, Parts: []model.Part{model.TextPart{Text: "ok"}}},
			}}
			data, _ := json.Marshal(result)
			writeHelperFrame(writer, rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: data})
		default:
			writeHelperFrame(writer, rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: -32601, Message: "unknown method"}})
		}
	}
	writer.Flush()
	os.Exit(0)
}

func writeHelperFrame(writer *bufio.Writer, resp rpcResponse) {
	data, _ := json.Marshal(resp)
	fmt.Fprintf(writer, "Content-Length: %d\r\n\r\n", len(data))
	writer.Write(data)
	writer.Flush()
}
