// rate_limiter.go
// ----------------
// RateLimiter remembers what a backend told us about its request budget
// (x-ratelimit-* and retry-after headers) and answers whether the next
// request may go out now or must wait until the reset time.
//
// Info is stored per key; backends use their own name as the key.
package seatbridge

import (
	"sync"
	"time"
)

// RateLimitInfo is the normalized budget reported by a backend.
type RateLimitInfo struct {
	MaxRequests       *int
	RemainingRequests *int
	ResetRequestsAt   *int64 // unix milliseconds
}

type RateLimiter struct {
	mu     sync.Mutex
	limits map[string]*RateLimitInfo
	now    func() time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		limits: make(map[string]*RateLimitInfo),
		now:    time.Now,
	}
}

// UpdateRateLimits replaces the stored info for key. A nil info clears it.
func (r *RateLimiter) UpdateRateLimits(key string, info *RateLimitInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if info == nil {
		delete(r.limits, key)
		return
	}
	r.limits[key] = info
}

// canProceed returns false if the budget is spent and the reset time hasn't
// passed yet.
func (r *RateLimiter) canProceed(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.limits[key]
	if !ok || info == nil {
		return true
	}
	if info.RemainingRequests != nil && *info.RemainingRequests <= 0 {
		if info.ResetRequestsAt != nil && r.now().UnixMilli() < *info.ResetRequestsAt {
			return false
		}
	}
	return true
}

// delayBeforeNextRequest is how long to sleep before the budget resets.
func (r *RateLimiter) delayBeforeNextRequest(key string) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.limits[key]
	if !ok || info == nil {
		return 0
	}
	if info.RemainingRequests != nil && *info.RemainingRequests <= 0 && info.ResetRequestsAt != nil {
		nowMs := r.now().UnixMilli()
		if nowMs < *info.ResetRequestsAt {
			return time.Duration(*info.ResetRequestsAt-nowMs) * time.Millisecond
		}
	}
	return 0
}

// GetRateLimitInfo returns a copy of the info for key, or nil.
func (r *RateLimiter) GetRateLimitInfo(key string) *RateLimitInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	if info, ok := r.limits[key]; ok && info != nil {
		c := *info
		return &c
	}
	return nil
}
