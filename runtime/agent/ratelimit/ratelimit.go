// Package ratelimit implements the data plane's per-provider token-bucket
// rate limiter: admit(provider_id, cost) -> Admitted | Denied(retry_after).
// Capacity refills from wall-clock elapsed time, and a request can be gated
// by more than one bucket (request count and token count) at once, in which
// case every bucket must admit for the call to be admitted.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/archplane/core/runtime/agent/model"
)

type (
	// BucketConfig describes one token bucket: how many units it can hold and
	// how many units per second flow back in.
	BucketConfig struct {
		// Capacity is the maximum number of units the bucket can hold.
		Capacity float64
		// RefillPerSecond is the steady-state refill rate.
		RefillPerSecond float64
	}

	// ProviderConfig is the pair of buckets gating a single provider: one over
	// request count, one over token count. Either bucket may be left zero-
	// valued (Capacity <= 0) to disable it for that provider.
	ProviderConfig struct {
		Requests BucketConfig
		Tokens   BucketConfig
	}

	// Decision is the result of Admit.
	Decision struct {
		// Admitted reports whether every gating bucket had capacity.
		Admitted bool
		// RetryAfter is how long the caller should wait before retrying when
		// Admitted is false. It is the longest delay reported by any bucket
		// that denied the request.
		RetryAfter time.Duration
	}

	providerBuckets struct {
		requests *clampedLimiter
		tokens   *clampedLimiter
	}

	// Limiter is a process-local, per-provider token bucket rate limiter. A
	// provider that has never been configured admits unconditionally: the
	// limiter only gates providers the caller explicitly registered.
	Limiter struct {
		mu        sync.Mutex
		providers map[string]*providerBuckets
		configs   map[string]ProviderConfig
	}
)

// New returns an empty Limiter. Call Configure to register providers; any
// provider_id not configured is admitted unconditionally.
func New() *Limiter {
	return &Limiter{
		providers: make(map[string]*providerBuckets),
		configs:   make(map[string]ProviderConfig),
	}
}

// Configure registers (or replaces) the bucket configuration for a provider.
// It does not reset the current fill level of an already-running bucket;
// capacity and refill rate changes take effect immediately.
func (l *Limiter) Configure(providerID string, cfg ProviderConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.configs[providerID] = cfg
	pb := l.providers[providerID]
	if pb == nil {
		pb = &providerBuckets{}
		l.providers[providerID] = pb
	}
	if cfg.Requests.Capacity > 0 {
		if pb.requests == nil {
			pb.requests = newClampedLimiter(cfg.Requests)
		} else {
			pb.requests.reconfigure(cfg.Requests)
		}
	} else {
		pb.requests = nil
	}
	if cfg.Tokens.Capacity > 0 {
		if pb.tokens == nil {
			pb.tokens = newClampedLimiter(cfg.Tokens)
		} else {
			pb.tokens.reconfigure(cfg.Tokens)
		}
	} else {
		pb.tokens = nil
	}
}

// Admit evaluates a request of the given estimated cost (token count; the
// request bucket always costs 1 regardless of cost) against every bucket
// configured for providerID. A provider with no configuration at all admits
// unconditionally. When multiple buckets are configured, every one of them
// must have capacity for the call to be admitted; if any bucket is short,
// every reservation made during this call is rolled back and the longest
// reported delay is returned as RetryAfter.
func (l *Limiter) Admit(providerID string, cost int) Decision {
	if cost < 1 {
		cost = 1
	}

	l.mu.Lock()
	pb, declared := l.providers[providerID]
	l.mu.Unlock()
	if !declared || (pb.requests == nil && pb.tokens == nil) {
		return Decision{Admitted: true}
	}

	now := time.Now()

	var reqRes, tokRes *rate.Reservation
	var retryAfter time.Duration
	ok := true

	if pb.requests != nil {
		r, delay := pb.requests.reserve(now, 1)
		reqRes = r
		if delay > retryAfter {
			retryAfter = delay
		}
		if delay > 0 {
			ok = false
		}
	}
	if pb.tokens != nil {
		r, delay := pb.tokens.reserve(now, cost)
		tokRes = r
		if delay > retryAfter {
			retryAfter = delay
		}
		if delay > 0 {
			ok = false
		}
	}

	if !ok {
		if reqRes != nil {
			reqRes.CancelAt(now)
		}
		if tokRes != nil {
			tokRes.CancelAt(now)
		}
		return Decision{Admitted: false, RetryAfter: retryAfter}
	}
	return Decision{Admitted: true}
}

// EstimateCost derives a token-count cost estimate for a canonical request,
// used as the cost argument to Admit when the caller has not already priced
// the call against a provider's own token accounting.
func EstimateCost(req *model.CanonicalRequest) int {
	if req == nil {
		return 1
	}
	charCount := 0
	for _, m := range req.Messages {
		if m == nil {
			continue
		}
		for _, p := range m.Parts {
			switch v := p.(type) {
			case model.TextPart:
				charCount += len(v.Text)
			case model.ToolResultPart:
				if s, ok := v.Content.(string); ok {
					charCount += len(s)
				}
			}
		}
	}
	if charCount <= 0 {
		return 1
	}
	tokens := charCount / 3
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}

// clampedLimiter wraps a rate.Limiter so that a wall clock moving backward
// between calls never credits the bucket with negative elapsed time: the
// spec requires treating such a delta as zero rather than letting the
// underlying library extrapolate from a negative duration.
type clampedLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	lastNow time.Time
}

func newClampedLimiter(cfg BucketConfig) *clampedLimiter {
	return &clampedLimiter{
		limiter: rate.NewLimiter(rate.Limit(cfg.RefillPerSecond), int(cfg.Capacity)),
	}
}

func (c *clampedLimiter) reconfigure(cfg BucketConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.limiter.SetLimit(rate.Limit(cfg.RefillPerSecond))
	c.limiter.SetBurst(int(cfg.Capacity))
}

func (c *clampedLimiter) reserve(now time.Time, n int) (*rate.Reservation, time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if now.Before(c.lastNow) {
		now = c.lastNow
	}
	c.lastNow = now
	r := c.limiter.ReserveN(now, n)
	if !r.OK() {
		return r, time.Hour
	}
	return r, r.DelayFrom(now)
}
