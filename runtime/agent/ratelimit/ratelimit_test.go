package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/archplane/core/runtime/agent/model"
)

func TestAdmitUndeclaredProviderAlwaysAdmits(t *testing.T) {
	l := New()
	d := l.Admit("unknown-provider", 1000)
	if !d.Admitted {
		t.Fatalf("expected undeclared provider to admit unconditionally, got %+v", d)
	}
}

func TestAdmitMonotonicityWithinCapacity(t *testing.T) {
	l := New()
	l.Configure("anthropic", ProviderConfig{
		Requests: BucketConfig{Capacity: 2, RefillPerSecond: 0.001},
	})

	if d := l.Admit("anthropic", 1); !d.Admitted {
		t.Fatalf("expected first admit to succeed, got %+v", d)
	}
	if d := l.Admit("anthropic", 1); !d.Admitted {
		t.Fatalf("expected second admit to succeed, got %+v", d)
	}
	d := l.Admit("anthropic", 1)
	if d.Admitted {
		t.Fatalf("expected third admit at same wall clock to be denied, bucket capacity is 2")
	}
	if d.RetryAfter <= 0 {
		t.Fatalf("expected a positive retry-after, got %v", d.RetryAfter)
	}
}

func TestAdmitAllBucketsMustAdmit(t *testing.T) {
	l := New()
	l.Configure("openai", ProviderConfig{
		Requests: BucketConfig{Capacity: 100, RefillPerSecond: 10},
		Tokens:   BucketConfig{Capacity: 50, RefillPerSecond: 1},
	})

	// Request bucket has ample capacity, but the token bucket does not: the
	// overall decision must be a denial.
	d := l.Admit("openai", 1000)
	if d.Admitted {
		t.Fatalf("expected denial when the token bucket is short even though the request bucket has room")
	}
}

func TestAdmitDeniedReservationRolledBack(t *testing.T) {
	l := New()
	l.Configure("openai", ProviderConfig{
		Requests: BucketConfig{Capacity: 2, RefillPerSecond: 0.001},
		Tokens:   BucketConfig{Capacity: 10, RefillPerSecond: 0.001},
	})

	// Exhaust the token bucket first so the request bucket's reservation must
	// be rolled back on the next call.
	if d := l.Admit("openai", 10); !d.Admitted {
		t.Fatalf("expected initial admit to succeed, got %+v", d)
	}
	if d := l.Admit("openai", 10); d.Admitted {
		t.Fatalf("expected token bucket to be exhausted")
	}

	// The request bucket's reservation from the denied call above must have
	// been cancelled, so once the token bucket is disabled (Configure keeps
	// the request bucket's fill level) a request-only call still has the
	// second unit of capacity.
	l.Configure("openai", ProviderConfig{Requests: BucketConfig{Capacity: 2, RefillPerSecond: 0.001}})
	if d := l.Admit("openai", 1); !d.Admitted {
		t.Fatalf("expected request bucket to still have capacity, got %+v", d)
	}
}

func TestClampedLimiterTreatsBackwardClockAsZeroDelta(t *testing.T) {
	c := newClampedLimiter(BucketConfig{Capacity: 1, RefillPerSecond: 1})
	now := time.Now()
	if _, delay := c.reserve(now, 1); delay != 0 {
		t.Fatalf("expected first reservation to have no delay, got %v", delay)
	}
	past := now.Add(-time.Hour)
	r, delay := c.reserve(past, 1)
	if delay <= 0 {
		t.Fatalf("expected a backward-clock reservation to still be gated by the bucket, got delay %v", delay)
	}
	r.CancelAt(past)
}

type fakeClient struct {
	completeErr error
	calls       int
}

func (f *fakeClient) Complete(_ context.Context, _ *model.CanonicalRequest) (*model.CanonicalResponse, error) {
	f.calls++
	return &model.CanonicalResponse{}, f.completeErr
}

func (f *fakeClient) Stream(_ context.Context, _ *model.CanonicalRequest) (model.Streamer, error) {
	f.calls++
	return nil, f.completeErr
}

func TestMiddlewareSynthesizesRateLimitedError(t *testing.T) {
	l := New()
	l.Configure("anthropic", ProviderConfig{Requests: BucketConfig{Capacity: 1, RefillPerSecond: 0.001}})

	client := &fakeClient{}
	wrapped := Middleware(l, "anthropic")(client)

	req := &model.CanonicalRequest{
		Messages: []*model.Message{{Role: model.ConversationRoleUser, Parts: []model.Part{model.TextPart{Text: "hi"}}}},
	}

	if _, err := wrapped.Complete(context.Background(), req); err != nil {
		t.Fatalf("expected first call to be admitted, got %v", err)
	}
	_, err := wrapped.Complete(context.Background(), req)
	if err == nil || !errors.Is(err, model.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited on the second call, got %v", err)
	}
	if client.calls != 1 {
		t.Fatalf("expected the underlying client to be called exactly once, got %d", client.calls)
	}
}
