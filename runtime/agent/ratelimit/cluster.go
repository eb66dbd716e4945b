package ratelimit

import (
	"context"
	"strconv"

	"goa.design/pulse/rmap"
)

// clusterMap is the shared key/value surface ClusterSync needs to coordinate
// a provider's configured token-bucket capacity across a Brightstaff
// cluster: read-if-present, write-if-absent, and a change notification
// channel. It is declared as an interface so ClusterSync works unmodified
// against either of this package's two backings (Pulse's replicated map for
// single-cluster deployments already running Pulse, Redis for deployments
// that standardize cluster-shared state on Redis instead) and so tests can
// substitute a fake for either.
type clusterMap interface {
	Get(key string) (string, bool)
	SetIfNotExists(ctx context.Context, key, value string) (bool, error)
	Subscribe() <-chan struct{}
}

type pulseClusterMap struct {
	m *rmap.Map
}

// NewPulseClusterMap adapts a Pulse replicated map to clusterMap.
func NewPulseClusterMap(m *rmap.Map) clusterMap { return &pulseClusterMap{m: m} }

func (p *pulseClusterMap) Get(key string) (string, bool) { return p.m.Get(key) }

func (p *pulseClusterMap) SetIfNotExists(ctx context.Context, key, value string) (bool, error) {
	return p.m.SetIfNotExists(ctx, key, value)
}

func (p *pulseClusterMap) Subscribe() <-chan struct{} {
	out := make(chan struct{})
	in := p.m.Subscribe()
	go func() {
		defer close(out)
		for range in {
			out <- struct{}{}
		}
	}()
	return out
}

// ClusterSync keeps a provider's token bucket capacity in lockstep across
// every Brightstaff process sharing the given cluster map: the first
// process to configure a provider seeds the shared capacity, and every
// other process adopts it instead of its local default. Unlike the AIMD
// budget the teacher's adaptive limiter shared cluster-wide, the spec's
// token bucket has a fixed capacity and refill rate, so the only thing
// worth coordinating is which capacity number a freshly started process
// should start from.
type ClusterSync struct {
	limiter *Limiter
	cm      clusterMap
}

// NewClusterSync wires a Limiter to a clusterMap so every process that Joins
// a provider starts from the same shared capacity seed. A later Configure
// call on a local Limiter is not written to cm and stays local to that
// process. Use NewPulseClusterMap or NewRedisClusterMap to build cm.
func NewClusterSync(limiter *Limiter, cm clusterMap) *ClusterSync {
	return &ClusterSync{limiter: limiter, cm: cm}
}

// Join seeds providerID's configured capacity from the shared map if a peer
// has already published one, otherwise publishes cfg as the seed value for
// peers that join later. It then watches for updates and applies them to the
// local limiter as they arrive.
func (cs *ClusterSync) Join(ctx context.Context, providerID string, cfg ProviderConfig) error {
	cm := cs.cm
	key := providerID + ".requests.capacity"

	seed := strconv.Itoa(int(cfg.Requests.Capacity))
	if cur, ok := cm.Get(key); ok {
		if v, err := strconv.Atoi(cur); err == nil && v > 0 {
			cfg.Requests.Capacity = float64(v)
		}
	} else {
		_, _ = cm.SetIfNotExists(ctx, key, seed)
	}

	cs.limiter.Configure(providerID, cfg)

	ch := cm.Subscribe()
	go func() {
		for range ch {
			cur, ok := cm.Get(key)
			if !ok {
				continue
			}
			v, err := strconv.Atoi(cur)
			if err != nil || v <= 0 {
				continue
			}
			cs.limiter.mu.Lock()
			pb := cs.limiter.providers[providerID]
			existing := cs.limiter.configs[providerID]
			cs.limiter.mu.Unlock()
			if pb == nil {
				continue
			}
			existing.Requests.Capacity = float64(v)
			cs.limiter.Configure(providerID, existing)
		}
	}()
	return nil
}
