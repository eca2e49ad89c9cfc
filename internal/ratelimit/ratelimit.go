// Package ratelimit adapts go-catrate's sliding-window limiter to the
// runtime's two rate-limited surfaces: a distributed node's outbound
// congestion backoff (spec §4.6) and a control client's per-source-ip
// lookup throttling (spec §4.7).
package ratelimit

import (
	"time"

	catrate "github.com/joeycumines/go-catrate"
)

// Congestion gates outbound traffic to a single remote node: once its
// per-window budget is exhausted, Allow reports the time at which sending
// may resume so the worker can back off instead of busy-retrying.
type Congestion struct {
	limiter *catrate.Limiter
}

// NewCongestion builds a Congestion limiter from a set of sliding
// windows, e.g. {time.Second: 200, time.Minute: 5000}. A nil/empty rates
// map disables limiting entirely (every call to Allow succeeds).
func NewCongestion(rates map[time.Duration]int) *Congestion {
	if len(rates) == 0 {
		return &Congestion{}
	}
	return &Congestion{limiter: catrate.NewLimiter(rates)}
}

// Allow registers an attempt to send to nodeID, reporting whether it may
// proceed now and, if not, the earliest time it may retry.
func (c *Congestion) Allow(nodeID uint64) (retryAt time.Time, ok bool) {
	if c == nil || c.limiter == nil {
		return time.Time{}, true
	}
	return c.limiter.Allow(nodeID)
}

// LookupThrottle gates control-server lookup RPCs by source IP address,
// so a single misbehaving or misconfigured client cannot starve the
// node directory for everyone else.
type LookupThrottle struct {
	limiter *catrate.Limiter
}

// NewLookupThrottle builds a LookupThrottle from a set of sliding
// windows. A nil/empty rates map disables limiting entirely.
func NewLookupThrottle(rates map[time.Duration]int) *LookupThrottle {
	if len(rates) == 0 {
		return &LookupThrottle{}
	}
	return &LookupThrottle{limiter: catrate.NewLimiter(rates)}
}

// Allow registers a lookup attempt from sourceIP, reporting whether it
// may proceed now and, if not, the earliest time it may retry.
func (t *LookupThrottle) Allow(sourceIP string) (retryAt time.Time, ok bool) {
	if t == nil || t.limiter == nil {
		return time.Time{}, true
	}
	return t.limiter.Allow(sourceIP)
}
