// Package health implements liveness and readiness probes for the HTTP
// server. Probes run in the background on a fixed interval and flip state
// only after a run of consecutive results, so a single slow database ping
// does not bounce the service out of rotation.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// CheckFunc reports the state of one dependency. A nil return means healthy.
type CheckFunc func(ctx context.Context) error

// Probe state transitions require failAfter consecutive failures to go
// unhealthy and passAfter consecutive passes to come back.
const (
	defaultFailAfter = 3
	defaultPassAfter = 1
)

// probe is one registered check plus its runtime state. exec is driven by a
// single goroutine per probe; ok and lastErr cross goroutines into the HTTP
// handlers and are atomic. The streak counters never leave exec.
type probe struct {
	name      string
	timeout   time.Duration
	fn        CheckFunc
	failAfter int
	passAfter int

	ok      atomic.Bool
	lastErr atomic.Pointer[error]

	fails  int
	passes int
}

func newProbe(name string, timeout time.Duration, fn CheckFunc) *probe {
	p := &probe{
		name:      name,
		timeout:   timeout,
		fn:        fn,
		failAfter: defaultFailAfter,
		passAfter: defaultPassAfter,
	}
	// Healthy until observed otherwise.
	p.ok.Store(true)
	return p
}

func (p *probe) healthy() bool { return p.ok.Load() }

func (p *probe) failure() error {
	if e := p.lastErr.Load(); e != nil {
		return *e
	}
	return nil
}

// exec runs the check once and advances the streak counters. Single caller.
func (p *probe) exec(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.fn(ctx)
	p.lastErr.Store(&err)

	if err != nil {
		p.passes = 0
		if p.fails++; p.fails >= p.failAfter {
			p.ok.Store(false)
		}
		return
	}
	p.fails = 0
	if p.passes++; p.passes >= p.passAfter {
		p.ok.Store(true)
	}
}

// Health owns the probe set and the manual ready flag. The service starts
// not-ready; SetReady(true) is called once wiring finishes and SetReady(false)
// again when shutdown begins, so the load balancer drains before Close.
type Health struct {
	ready atomic.Bool

	mu        sync.RWMutex
	live      []*probe
	readiness []*probe
	cancel    context.CancelFunc
}

// New returns an empty, not-ready Health.
func New() *Health {
	return &Health{}
}

// AddLivenessCheck registers a check that decides whether the process should
// be restarted (goroutine leaks, GC stalls).
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.live = append(h.live, newProbe(name, timeout, check))
}

// AddReadinessCheck registers a check that decides whether the service can
// take traffic (database reachability and the like).
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readiness = append(h.readiness, newProbe(name, timeout, check))
}

// Start launches one goroutine per registered probe, each executing on the
// given interval until Stop or context cancellation. Register all checks
// before calling Start.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	probes := append(append([]*probe(nil), h.live...), h.readiness...)
	h.mu.Unlock()

	for _, p := range probes {
		go func(p *probe) {
			t := time.NewTicker(interval)
			defer t.Stop()

			p.exec(ctx)
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					p.exec(ctx)
				}
			}
		}(p)
	}
}

// SetReady flips the manual readiness gate.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports the combined readiness: the manual gate plus every
// readiness probe.
func (h *Health) IsReady() bool {
	if !h.ready.Load() {
		return false
	}

	h.mu.RLock()
	probes := h.readiness
	h.mu.RUnlock()

	for _, p := range probes {
		if !p.healthy() {
			return false
		}
	}
	return true
}

// Stop cancels the probe goroutines. Idempotent.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// statusResponse is the body served by both endpoints:
// {"status":"ok"} or {"status":"unhealthy","checks":{name: error}}.
type statusResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// LiveEndpoint serves /livez: 200 while every liveness probe passes,
// 503 with per-check errors otherwise.
func (h *Health) LiveEndpoint(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	probes := append([]*probe(nil), h.live...)
	h.mu.RUnlock()

	serveStatus(w, failures(probes))
}

// ReadyEndpoint serves /readyz: 200 only when the manual gate is open and
// every readiness probe passes.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, r *http.Request) {
	ready := h.ready.Load()

	h.mu.RLock()
	probes := append([]*probe(nil), h.readiness...)
	h.mu.RUnlock()

	bad := failures(probes)
	if !ready {
		bad["_readiness"] = "service is not ready"
	}
	serveStatus(w, bad)
}

// failures maps each unhealthy probe to its stored error text. Probes are
// not re-executed on request.
func failures(probes []*probe) map[string]string {
	bad := make(map[string]string)
	for _, p := range probes {
		if p.healthy() {
			continue
		}
		if err := p.failure(); err != nil {
			bad[p.name] = err.Error()
		} else {
			bad[p.name] = "check is unhealthy"
		}
	}
	return bad
}

func serveStatus(w http.ResponseWriter, bad map[string]string) {
	w.Header().Set("Content-Type", "application/json")

	resp := statusResponse{Status: "ok"}
	code := http.StatusOK
	if len(bad) > 0 {
		resp = statusResponse{Status: "unhealthy", Checks: bad}
		code = http.StatusServiceUnavailable
	}
	w.WriteHeader(code)
	// Nothing sensible to do with an encode error after the header.
	_ = json.NewEncoder(w).Encode(resp)
}
