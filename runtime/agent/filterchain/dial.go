package filterchain

import (
	"context"
	"fmt"
	"net/http"
)

// Dial returns the dial function New expects, constructing an HTTP or MCP
// Invoker per FilterSpec.Transport. httpClient and mcpClient may be nil to
// use their package defaults.
func Dial(httpClient, mcpClient *http.Client) func(FilterSpec) (Invoker, error) {
	return func(spec FilterSpec) (Invoker, error) {
		switch spec.Transport {
		case TransportHTTP:
			return NewHTTPInvoker(spec.Endpoint, httpClient), nil
		case TransportMCP:
			return NewMCPInvoker(context.Background(), spec.Endpoint, spec.Tool, mcpClient)
		default:
			return nil, fmt.Errorf("filterchain: unknown transport %d for filter %q", spec.Transport, spec.ID)
		}
	}
}
