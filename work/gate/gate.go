package gate

import (
	"context"
	"sync/atomic"

	"go.uber.org/ratelimit"

	"xtream-proxy/work/logger"
	"xtream-proxy/work/metrics"
)

// requestsPerSecond yields the 100ms minimum interval the provider tolerates
// between consecutive metadata API calls.
const requestsPerSecond = 10

// Gate serializes provider metadata API calls through a single admission slot
// and throttles consecutive dispatches to the minimum inter-request interval.
// The provider drops connections when it sees parallel or rapid-fire API
// calls, so every category, stream list, EPG and user-info fetch funnels
// through here when connection queueing is enabled.
//
// The streaming connection slot is a separate resource owned by the token
// service; holding this gate never blocks an active stream and vice versa.
type Gate struct {
	enabled  bool
	slot     chan struct{}
	throttle ratelimit.Limiter
	queued   atomic.Int64
	total    atomic.Int64
}

// New creates a connection gate. When enabled is false the gate is a pure
// passthrough and calls execute untouched.
func New(enabled bool) *Gate {
	return &Gate{
		enabled:  enabled,
		slot:     make(chan struct{}, 1),
		throttle: ratelimit.New(requestsPerSecond, ratelimit.WithoutSlack),
	}
}

// Execute runs apiCall under the gate: the caller queues for the single
// admission slot, is throttled to the minimum inter-request interval once
// admitted, and releases the slot when the call returns on any path.
// Cancellation while queued decrements the queue counter and propagates the
// context error. Failures of the wrapped call propagate unchanged.
func Execute[T any](ctx context.Context, g *Gate, apiCall func(context.Context) (T, error)) (T, error) {
	if !g.enabled {
		return apiCall(ctx)
	}

	g.queued.Add(1)
	metrics.QueuedRequests.Inc()
	logger.Debug("{gate - Execute} Connection request queued, queue size: %d", g.queued.Load())

	// wait for admission or cancellation
	select {
	case g.slot <- struct{}{}:
	case <-ctx.Done():
		g.queued.Add(-1)
		metrics.QueuedRequests.Dec()
		var zero T
		return zero, ctx.Err()
	}

	g.queued.Add(-1)
	metrics.QueuedRequests.Dec()

	// release the slot regardless of how the call ends
	defer func() { <-g.slot }()

	// enforce the minimum interval since the last dispatched call
	g.throttle.Take()

	g.total.Add(1)
	metrics.ApiRequests.Inc()
	logger.Debug("{gate - Execute} Executing API call, total requests: %d", g.total.Load())

	return apiCall(ctx)
}

// IsBusy reports whether the admission slot is currently held.
func (g *Gate) IsBusy() bool {
	return len(g.slot) == 1
}

// QueuedRequests returns the number of callers currently waiting for admission.
func (g *Gate) QueuedRequests() int64 {
	return g.queued.Load()
}

// TotalRequests returns the number of API calls dispatched since the last reset.
func (g *Gate) TotalRequests() int64 {
	return g.total.Load()
}

// ResetStatistics zeroes the dispatched-call counter. The queued counter
// reflects live state and is not reset.
func (g *Gate) ResetStatistics() {
	g.total.Store(0)
}
