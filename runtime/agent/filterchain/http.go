package filterchain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/archplane/core/runtime/agent/model"
)

// ErrFilterFailed indicates a filter invocation could not be completed at
// all (transport error, non-HTTP/non-RPC failure, crash mid-invocation).
// Callers propagate this as a fatal 500, per the chain's "no idempotence
// assumed" contract: a failed invocation aborts the chain rather than being
// retried.
var ErrFilterFailed = errors.New("filterchain: filter invocation failed")

// httpInvoker POSTs the message list as JSON to an HTTP filter and
// interprets the response status: 2xx continues with the returned message
// list, 4xx terminates with the client-visible status/body, 5xx is treated
// as a hard failure and surfaces as ErrFilterFailed.
type httpInvoker struct {
	endpoint string
	client   *http.Client
}

// NewHTTPInvoker builds an Invoker for an HTTP filter. client defaults to
// http.DefaultClient when nil.
func NewHTTPInvoker(endpoint string, client *http.Client) Invoker {
	if client == nil {
		client = http.DefaultClient
	}
	return &httpInvoker{endpoint: endpoint, client: client}
}

type httpFilterPayload struct {
	Messages []*model.Message `json:"messages"`
}

func (h *httpInvoker) Invoke(ctx context.Context, messages []*model.Message) (Decision, error) {
	body, err := json.Marshal(httpFilterPayload{Messages: messages})
	if err != nil {
		return Decision{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return Decision{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return Decision{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Decision{}, err
	}

	switch {
	case resp.StatusCode >= 500:
		return Decision{}, fmt.Errorf("filter returned status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return Decision{Continue: false, Status: resp.StatusCode, Body: respBody}, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var out httpFilterPayload
		if err := json.Unmarshal(respBody, &out); err != nil {
			return Decision{}, fmt.Errorf("filter response: %w", err)
		}
		return Decision{Continue: true, Messages: out.Messages}, nil
	default:
		return Decision{}, fmt.Errorf("filter returned unexpected status %d", resp.StatusCode)
	}
}
