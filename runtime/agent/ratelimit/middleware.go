package ratelimit

import (
	"context"
	"fmt"

	"github.com/archplane/core/runtime/agent/model"
)

type limitedClient struct {
	next       model.Client
	limiter    *Limiter
	providerID string
}

// Middleware wraps a model.Client so every Complete/Stream call first
// consults the limiter for providerID. A denial never reaches the
// provider: it is synthesized locally as a model.ErrRateLimited error
// carrying the retry-after delay, matching the "synthesize 429 with
// Retry-After" behavior the Filter-Chain Engine and callers expect on
// denial.
func Middleware(limiter *Limiter, providerID string) func(model.Client) model.Client {
	return func(next model.Client) model.Client {
		if next == nil {
			return nil
		}
		return &limitedClient{next: next, limiter: limiter, providerID: providerID}
	}
}

func (c *limitedClient) Complete(ctx context.Context, req *model.CanonicalRequest) (*model.CanonicalResponse, error) {
	if err := c.admit(req); err != nil {
		return nil, err
	}
	return c.next.Complete(ctx, req)
}

func (c *limitedClient) Stream(ctx context.Context, req *model.CanonicalRequest) (model.Streamer, error) {
	if err := c.admit(req); err != nil {
		return nil, err
	}
	return c.next.Stream(ctx, req)
}

func (c *limitedClient) admit(req *model.CanonicalRequest) error {
	decision := c.limiter.Admit(c.providerID, EstimateCost(req))
	if decision.Admitted {
		return nil
	}
	return fmt.Errorf("%w: provider %q: retry after %s", model.ErrRateLimited, c.providerID, decision.RetryAfter)
}
