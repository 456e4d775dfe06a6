// Package rpcpool implements the multi-provider JSON-RPC façade used by
// every chain-facing component (monitoring, validator, indexer,
// address-scanner, guardrail): ordered provider failover with a
// per-provider circuit breaker and a background health-check loop.
package rpcpool

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	"github.com/bugbot-labs/bugbot/internal/config"
	"github.com/bugbot-labs/bugbot/internal/errs"
	"github.com/bugbot-labs/bugbot/internal/metrics"
)

// Status mirrors the provider state machine from §3: healthy, degraded,
// failed, or circuit_open.
type Status string

const (
	StatusHealthy     Status = "healthy"
	StatusDegraded    Status = "degraded"
	StatusFailed      Status = "failed"
	StatusCircuitOpen Status = "circuit_open"
)

// ProviderStatus is a read-only snapshot of one provider's state, returned
// by Pool.Status for the rpc-status surface.
type ProviderStatus struct {
	URL                  string    `json:"url"`
	Status               Status    `json:"status"`
	ConsecutiveFailures  int       `json:"consecutive_failures"`
	LastCheckAt          time.Time `json:"last_check_at"`
}

// PoolStatus is the per-provider breakdown for one chain's pool.
type PoolStatus struct {
	Chain     string           `json:"chain"`
	Providers []ProviderStatus `json:"providers"`
}

type provider struct {
	url           string
	breaker       *gobreaker.CircuitBreaker
	probeFailures int32
	lastCheckAt   atomic.Value // time.Time
}

func (p *provider) status(threshold int) ProviderStatus {
	s := StatusHealthy
	if p.breaker.State() == gobreaker.StateOpen {
		s = StatusCircuitOpen
	} else if f := atomic.LoadInt32(&p.probeFailures); f > 0 {
		if int(f) >= threshold {
			s = StatusFailed
		} else {
			s = StatusDegraded
		}
	}
	last, _ := p.lastCheckAt.Load().(time.Time)
	return ProviderStatus{
		URL:                 p.url,
		Status:              s,
		ConsecutiveFailures: int(atomic.LoadInt32(&p.probeFailures)),
		LastCheckAt:         last,
	}
}

// Pool is the ordered, circuit-broken provider set for a single chain.
type Pool struct {
	chain          string
	providers      []*provider
	threshold      int
	requestTimeout time.Duration
	healthInterval time.Duration
	logger         *slog.Logger
}

// NewPool builds a Pool for one chain from its configured provider URLs.
// Providers are tried in the order given in config, per §3's "ordered list
// of providers" invariant.
func NewPool(chain string, chainCfg config.ChainSpec, poolCfg config.RPCPool, logger *slog.Logger) (*Pool, error) {
	if len(chainCfg.Providers) == 0 {
		return nil, errs.New(errs.InvalidRequest, "chain "+chain+" has no configured RPC providers")
	}
	if logger == nil {
		logger = slog.Default()
	}

	threshold := poolCfg.CircuitThreshold
	if threshold <= 0 {
		threshold = 5
	}

	p := &Pool{
		chain:          chain,
		threshold:      threshold,
		requestTimeout: poolCfg.RequestTimeout.Duration,
		healthInterval: poolCfg.HealthCheckInterval.Duration,
		logger:         logger.With("component", "rpcpool", "chain", chain),
	}

	for _, url := range chainCfg.Providers {
		prov := &provider{url: url}
		prov.lastCheckAt.Store(time.Time{})
		prov.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        chain + ":" + url,
			MaxRequests: 1,
			Timeout:     poolCfg.CircuitTimeout.Duration,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= uint32(threshold)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				p.logger.Warn("provider circuit state changed", "provider", url, "from", from, "to", to)
				metrics.CircuitBreakerState.WithLabelValues(chain, url).Set(gobreakerStateValue(to))
			},
		})
		p.providers = append(p.providers, prov)
	}
	return p, nil
}

func gobreakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 2
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 0
	}
}

// Status returns the current per-provider breakdown for GET /rpc-status.
func (p *Pool) Status() PoolStatus {
	out := PoolStatus{Chain: p.chain}
	for _, prov := range p.providers {
		out.Providers = append(out.Providers, prov.status(p.threshold))
	}
	return out
}

// Start runs the background health-check loop until ctx is cancelled,
// pinging every provider every health_check_interval_s. It never blocks a
// consumer of Call: it is meant to run in its own goroutine, the teacher's
// health.Monitor.Start ticker-loop shape generalized to RPC providers
// instead of systemd units.
func (p *Pool) Start(ctx context.Context) {
	if p.healthInterval <= 0 {
		p.healthInterval = 60 * time.Second
	}
	ticker := time.NewTicker(p.healthInterval)
	defer ticker.Stop()

	p.probeAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.probeAll(ctx)
		}
	}
}

func (p *Pool) probeAll(ctx context.Context) {
	for _, prov := range p.providers {
		p.probeOne(ctx, prov)
	}
}

// probeOne pings a single provider with eth_blockNumber. Per §3, health
// checks never open a circuit by themselves: a closed-state probe failure
// only demotes healthy<->degraded via probeFailures, bypassing the
// breaker entirely. Only when the breaker is already open do we route the
// probe through it, so a successful probe can trip gobreaker's own
// Timeout-driven half-open reset (the "tentatively try it" step of the
// failover algorithm, §3 step 1).
func (p *Pool) probeOne(ctx context.Context, prov *provider) {
	timeout := p.requestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var err error
	if prov.breaker.State() == gobreaker.StateOpen {
		_, err = prov.breaker.Execute(func() (interface{}, error) {
			return nil, pingProvider(probeCtx, prov.url)
		})
	} else {
		err = pingProvider(probeCtx, prov.url)
	}

	prov.lastCheckAt.Store(time.Now().UTC())
	if err == nil {
		atomic.StoreInt32(&prov.probeFailures, 0)
	} else {
		atomic.AddInt32(&prov.probeFailures, 1)
		p.logger.Debug("health probe failed", "provider", prov.url, "error", err)
	}
	metrics.ServiceHealth.WithLabelValues("rpc_provider", p.chain).Set(boolToFloat(err == nil))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func pingProvider(ctx context.Context, url string) error {
	var blockNumber string
	return doJSONRPC(ctx, url, "eth_blockNumber", []any{}, &blockNumber)
}

// Client returns a handle bound to this pool. Every method on the handle
// implements the failover algorithm independently per call (§3): it is
// not bound to a single "best" provider ahead of time, it (re)selects on
// every invocation so a mid-scan provider failure is transparent to the
// caller.
func (p *Pool) Client() *Handle {
	return &Handle{pool: p}
}

// call implements the per-request failover algorithm: try providers in
// configured order, skip open circuits, retry on transport/5xx failure,
// give up immediately on a stable client-side error (invalid params,
// method not found), and fail with AllProvidersFailed if nothing works.
func (p *Pool) call(ctx context.Context, method string, params []any, out any) error {
	if len(p.providers) == 0 {
		return errs.AllProvidersFailed
	}

	timeout := p.requestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	for _, prov := range p.providers {
		if prov.breaker.State() == gobreaker.StateOpen {
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, timeout)
		_, err := prov.breaker.Execute(func() (interface{}, error) {
			return nil, doJSONRPC(callCtx, prov.url, method, params, out)
		})
		cancel()

		if err == nil {
			atomic.StoreInt32(&prov.probeFailures, 0)
			return nil
		}
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			continue
		}
		if rpcErr, ok := err.(*rpcError); ok && rpcErr.nonRetryable() {
			return errs.Wrap(errs.InvalidRequest, "rpc call rejected by provider", rpcErr)
		}
		p.logger.Warn("rpc call failed, trying next provider", "provider", prov.url, "method", method, "error", err)
	}
	return errs.AllProvidersFailed
}
