package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/PiotrGNN/kraken/pkg/exchanges/common"
)

// HealthChecker probes connectors in parallel.
type HealthChecker struct {
	Timeout time.Duration
}

// Check returns name -> healthy for every connector. A probe that does
// not answer within Timeout counts as unhealthy.
func (h HealthChecker) Check(ctx context.Context, conns map[string]common.Connector) map[string]bool {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	var mu sync.Mutex
	out := make(map[string]bool, len(conns))

	p := pool.New().WithMaxGoroutines(len(conns) + 1)
	for name, conn := range conns {
		p.Go(func() {
			probeCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			ok := conn.IsHealthy(probeCtx)
			mu.Lock()
			out[name] = ok
			mu.Unlock()
		})
	}
	p.Wait()
	return out
}
