package sandbox

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFilter struct {
	passThrough bool
	decision    *Decision
	call        *OutOfBandCall
	bodyChunkErr error
	resumeErr    error

	headersSeen  http.Header
	chunks       [][]byte
	doneCalled   bool
	resumeResp   *OutOfBandResponse
	resumeCbErr  error
}

func (f *fakeFilter) OnHeaders(_ context.Context, _, _ string, header http.Header) bool {
	f.headersSeen = header
	return f.passThrough
}

func (f *fakeFilter) OnBodyChunk(_ context.Context, chunk []byte, endOfStream bool) (*Decision, *OutOfBandCall, error) {
	if len(chunk) > 0 {
		f.chunks = append(f.chunks, append([]byte(nil), chunk...))
	}
	if f.bodyChunkErr != nil {
		return nil, nil, f.bodyChunkErr
	}
	if !endOfStream {
		return nil, nil, nil
	}
	return f.decision, f.call, nil
}

func (f *fakeFilter) OnOutOfBandCallResponse(_ context.Context, resp *OutOfBandResponse, err error) (Decision, error) {
	f.resumeResp = resp
	f.resumeCbErr = err
	if f.resumeErr != nil {
		return Decision{}, f.resumeErr
	}
	return Decision{Action: ActionAllowWithRewrite, RewrittenBody: resp.Body}, nil
}

func (f *fakeFilter) OnDone(_ context.Context) { f.doneCalled = true }

type fakeCaller struct {
	resp *OutOfBandResponse
	err  error
	got  OutOfBandCall
}

func (c *fakeCaller) Call(_ context.Context, call OutOfBandCall) (*OutOfBandResponse, error) {
	c.got = call
	return c.resp, c.err
}

func newRequest(t *testing.T, path, body string) *http.Request {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	return r
}

func TestRunPassThrough(t *testing.T) {
	f := &fakeFilter{passThrough: true}
	r := newRequest(t, "/healthz", "")
	decision, passThrough, err := Run(context.Background(), r, f, nil, 0)
	require.NoError(t, err)
	assert.True(t, passThrough)
	assert.Equal(t, ActionAllow, decision.Action)
	assert.True(t, f.doneCalled)
	assert.Empty(t, f.chunks)
}

func TestRunAllowWithoutOutOfBandCall(t *testing.T) {
	f := &fakeFilter{decision: &Decision{Action: ActionAllow}}
	r := newRequest(t, "/v1/chat/completions", `{"hello":"world"}`)
	decision, passThrough, err := Run(context.Background(), r, f, nil, 0)
	require.NoError(t, err)
	assert.False(t, passThrough)
	assert.Equal(t, ActionAllow, decision.Action)
	assert.Equal(t, `{"hello":"world"}`, string(joinChunks(f.chunks)))
}

func TestRunAllowWithRewriteViaOutOfBand(t *testing.T) {
	f := &fakeFilter{call: &OutOfBandCall{Method: http.MethodPost, URL: "https://brightstaff.internal"}}
	caller := &fakeCaller{resp: &OutOfBandResponse{Status: 200, Body: []byte(`{"rewritten":true}`)}}
	r := newRequest(t, "/v1/chat/completions", `{"original":true}`)

	decision, passThrough, err := Run(context.Background(), r, f, caller, 0)
	require.NoError(t, err)
	assert.False(t, passThrough)
	assert.Equal(t, ActionAllowWithRewrite, decision.Action)
	assert.Equal(t, `{"rewritten":true}`, string(decision.RewrittenBody))
	assert.Equal(t, "https://brightstaff.internal", caller.got.URL)
}

func TestRunPropagatesResumeErrorAfterOutOfBandFailure(t *testing.T) {
	f := &fakeFilter{call: &OutOfBandCall{Method: http.MethodPost, URL: "https://brightstaff.internal"}, resumeErr: errors.New("boom")}
	caller := &fakeCaller{err: errors.New("dial tcp: connection refused")}
	r := newRequest(t, "/v1/chat/completions", `{}`)

	_, _, err := Run(context.Background(), r, f, caller, 0)
	assert.Error(t, err)
	assert.True(t, f.doneCalled)
}

func TestRunBufferExceeded(t *testing.T) {
	f := &fakeFilter{}
	body := strings.Repeat("a", DefaultBodyChunkSize+1)
	r := newRequest(t, "/v1/chat/completions", body)

	_, _, err := Run(context.Background(), r, f, nil, 16)
	assert.ErrorIs(t, err, ErrBufferExceeded)
	assert.True(t, f.doneCalled)
}

func TestHTTPCallerRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Echo", "1")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	caller := HTTPCaller{}
	resp, err := caller.Call(context.Background(), OutOfBandCall{
		Method: http.MethodPost,
		URL:    srv.URL,
		Header: http.Header{"Content-Type": []string{"application/json"}},
		Body:   []byte(`{"ping":true}`),
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.Status)
	assert.Equal(t, `{"ping":true}`, string(resp.Body))
	assert.Equal(t, "1", resp.Header.Get("X-Echo"))
}

func joinChunks(chunks [][]byte) []byte {
	var out []byte
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}
