// Package sandbox implements the cooperative, single-threaded per-stream
// host contract that both the Prompt Filter and the LLM Filter run inside:
// one Stream per HTTP request, no thread-level parallelism within a
// Stream, and no shared mutable state between Streams. A filter never
// blocks a host thread waiting on I/O; any call to an upstream (Brightstaff,
// a model provider, a rate limiter) is issued as an out-of-band call that
// suspends the Stream until the response arrives. Go's goroutine-per-request
// model already gives each Stream its own suspendable context, so "suspend"
// here is simply the goroutine blocking on the out-of-band round trip rather
// than a hand-rolled continuation — the host callbacks below are still
// invoked in the exact order the cooperative contract requires.
package sandbox

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"time"
)

const (
	// DefaultBodyChunkSize is the read size used while accumulating a
	// buffered request or response body, matching the bounded-buffer
	// requirement: a Stream never materializes more than its configured
	// MaxBufferBytes regardless of how the upstream chunks its writes.
	DefaultBodyChunkSize = 32 * 1024

	// DefaultOutOfBandTimeout is the deadline applied to a Stream's
	// out-of-band call when the caller does not configure one.
	DefaultOutOfBandTimeout = 30 * time.Second
)

type (
	// Action is a Filter's disposition for the buffered stream once it
	// has observed the full request (or response) body.
	Action int

	// OutOfBandCall describes one suspending upstream call a Filter wants
	// the driver to perform on its behalf.
	OutOfBandCall struct {
		Method string
		URL    string
		Header http.Header
		Body   []byte

		// Timeout overrides DefaultOutOfBandTimeout when non-zero.
		Timeout time.Duration
	}

	// OutOfBandResponse is what the driver hands back to
	// OnOutOfBandCallResponse once the suspending call completes.
	OutOfBandResponse struct {
		Status int
		Header http.Header
		Body   []byte
	}

	// OutOfBandCaller performs the actual suspending round trip. Production
	// callers use an *http.Client; tests substitute a fake.
	OutOfBandCaller interface {
		Call(ctx context.Context, call OutOfBandCall) (*OutOfBandResponse, error)
	}

	// Decision is the terminal disposition of a Stream once its body filter
	// has run: continue upstream (optionally with a rewritten body), or
	// short-circuit with a synthesized response.
	Decision struct {
		Action Action

		// RewrittenBody replaces the buffered body when Action is
		// ActionAllowWithRewrite.
		RewrittenBody []byte

		// Status/Header/Body synthesize the client-visible response when
		// Action is ActionShortCircuit.
		Status int
		Header http.Header
		Body   []byte
	}

	// Filter implements the cooperative per-stream callback contract. The
	// driver (Run) invokes these hooks in exactly this order for a single
	// Stream: OnHeaders once; OnBodyChunk for every read of the request
	// body, the last call carrying endOfStream=true; if OnBodyChunk's final
	// call returns a non-nil *OutOfBandCall, exactly one call to
	// OnOutOfBandCallResponse once the suspended call resolves; then
	// OnDone exactly once, regardless of how the Stream ended. A Filter
	// instance is bound to exactly one Stream and must not be reused.
	Filter interface {
		// OnHeaders inspects the request line and headers. Returning
		// passThrough=true skips body buffering entirely and proxies the
		// request unmodified — the Prompt/LLM Filter's path for endpoints
		// outside their scope.
		OnHeaders(ctx context.Context, method, path string, header http.Header) (passThrough bool)

		// OnBodyChunk accumulates chunk into the filter's own bounded
		// buffer. Every call before endOfStream returns (nil, nil) to keep
		// the Stream suspended on read; the call with endOfStream=true
		// either returns a Decision directly (no out-of-band call needed)
		// or a pending OutOfBandCall the driver must perform before the
		// Stream can resolve.
		OnBodyChunk(ctx context.Context, chunk []byte, endOfStream bool) (*Decision, *OutOfBandCall, error)

		// OnOutOfBandCallResponse resumes the Stream once a pending
		// OutOfBandCall resolves (resp non-nil) or fails (err non-nil).
		OnOutOfBandCallResponse(ctx context.Context, resp *OutOfBandResponse, err error) (Decision, error)

		// OnDone runs once per Stream regardless of outcome, for metrics
		// flush and resource release.
		OnDone(ctx context.Context)
	}
)

const (
	// ActionAllow continues the Stream with the body observed so far,
	// unmodified.
	ActionAllow Action = iota
	// ActionAllowWithRewrite continues the Stream with Decision.RewrittenBody
	// replacing the buffered body.
	ActionAllowWithRewrite
	// ActionShortCircuit terminates the Stream, returning Decision's
	// synthesized response to the client without reaching upstream.
	ActionShortCircuit
)

// ErrBufferExceeded is returned by Run when the request body exceeds
// maxBufferBytes before end-of-stream, the Go-level analog of the spec's
// sandbox buffer exhaustion condition.
var ErrBufferExceeded = errors.New("sandbox: request body exceeds configured buffer")

// Run drives an inbound HTTP request through filter's cooperative callback
// contract and returns the Decision the caller should act on (forward
// upstream, possibly with a rewritten body, or synthesize a short-circuit
// response). It never writes to the response itself; callers own rendering
// Decision to the client or proxying the (possibly rewritten) request.
func Run(ctx context.Context, r *http.Request, filter Filter, caller OutOfBandCaller, maxBufferBytes int) (_ Decision, passThrough bool, err error) {
	defer filter.OnDone(ctx)

	if filter.OnHeaders(ctx, r.Method, r.URL.Path, r.Header) {
		return Decision{Action: ActionAllow}, true, nil
	}

	reader := bufio.NewReaderSize(r.Body, DefaultBodyChunkSize)
	var total int
	buf := make([]byte, DefaultBodyChunkSize)
	var lastDecision *Decision
	var pending *OutOfBandCall

	for {
		n, readErr := reader.Read(buf)
		endOfStream := errors.Is(readErr, io.EOF)
		if n > 0 {
			total += n
			if maxBufferBytes > 0 && total > maxBufferBytes {
				return Decision{}, false, ErrBufferExceeded
			}
		}
		if n > 0 || endOfStream {
			decision, call, cbErr := filter.OnBodyChunk(ctx, buf[:n], endOfStream)
			if cbErr != nil {
				return Decision{}, false, cbErr
			}
			lastDecision = decision
			pending = call
		}
		if readErr != nil && !endOfStream {
			return Decision{}, false, readErr
		}
		if endOfStream {
			break
		}
	}

	if pending != nil {
		resp, callErr := performOutOfBand(ctx, caller, *pending)
		decision, resumeErr := filter.OnOutOfBandCallResponse(ctx, resp, callErr)
		if resumeErr != nil {
			return Decision{}, false, resumeErr
		}
		return decision, false, nil
	}
	if lastDecision != nil {
		return *lastDecision, false, nil
	}
	return Decision{Action: ActionAllow}, false, nil
}

func performOutOfBand(ctx context.Context, caller OutOfBandCaller, call OutOfBandCall) (*OutOfBandResponse, error) {
	timeout := call.Timeout
	if timeout <= 0 {
		timeout = DefaultOutOfBandTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return caller.Call(cctx, call)
}

// HTTPCaller is the production OutOfBandCaller, backed by an *http.Client.
type HTTPCaller struct {
	Client *http.Client
}

// Call issues call.Method against call.URL and buffers the response body.
func (c HTTPCaller) Call(ctx context.Context, call OutOfBandCall) (*OutOfBandResponse, error) {
	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	var bodyReader io.Reader
	if len(call.Body) > 0 {
		bodyReader = bytes.NewReader(call.Body)
	}
	req, err := http.NewRequestWithContext(ctx, call.Method, call.URL, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header = call.Header.Clone()
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &OutOfBandResponse{Status: resp.StatusCode, Header: resp.Header.Clone(), Body: body}, nil
}
