package server

import (
	"sync"
	"time"

	"github.com/zen-systems/helpgate/pkg/router"
)

// usageStats accumulates chat request totals since the server started.
type usageStats struct {
	mu         sync.Mutex
	since      time.Time
	requests   int
	successful int
	tokens     int
	latency    time.Duration
}

func newUsageStats(now time.Time) *usageStats {
	return &usageStats{since: now}
}

// record counts one chat request. A request succeeds when it produced a
// decision whose answer did not come from the fallback.
func (u *usageStats) record(d *router.Decision, err error, latency time.Duration) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.requests++
	u.latency += latency
	if err == nil && d != nil {
		u.tokens += d.Tokens
		if d.Source != router.SourceFallback {
			u.successful++
		}
	}
}

type usageTotals struct {
	Since              time.Time `json:"since"`
	TotalRequests      int       `json:"total_requests"`
	SuccessfulRequests int       `json:"successful_requests"`
	SuccessRate        float64   `json:"success_rate"`
	TotalTokens        int       `json:"total_tokens"`
	AvgResponseTimeMS  float64   `json:"avg_response_time_ms"`
}

func (u *usageStats) report() usageTotals {
	u.mu.Lock()
	defer u.mu.Unlock()

	r := usageTotals{
		Since:              u.since,
		TotalRequests:      u.requests,
		SuccessfulRequests: u.successful,
		TotalTokens:        u.tokens,
	}
	if u.requests > 0 {
		r.SuccessRate = float64(u.successful) / float64(u.requests)
		r.AvgResponseTimeMS = float64(u.latency.Microseconds()) / 1000 / float64(u.requests)
	}
	return r
}
