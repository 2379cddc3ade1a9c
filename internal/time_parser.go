// internal/time_parser.go
// ------------------------
// Helpers for the time values backends put in response headers.
//
// Functions:
// - ParseRetryAfter: Retry-After as delta seconds or an HTTP date, to an absolute unix ms.
// - ParseResetHeader: x-ratelimit-reset as unix seconds or delta seconds, to unix ms.
// - ParseTimeStr: Convert strings like "1s", "6m0s" into milliseconds.
// - UnixToMs: Convert a UNIX timestamp in seconds to milliseconds.
// - IsInFuture: Check if a given timestamp (ms) is in the future.
package internal

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// resetDeltaLimit separates delta-seconds reset values from unix timestamps.
const resetDeltaLimit = 1_000_000_000

// ParseRetryAfter converts a Retry-After header value into the absolute
// unix millisecond at which requests may resume.
func ParseRetryAfter(value string, now time.Time) (int64, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if sec, err := strconv.ParseInt(value, 10, 64); err == nil {
		if sec < 0 {
			return 0, false
		}
		return now.UnixMilli() + sec*1000, true
	}
	if t, err := http.ParseTime(value); err == nil {
		return t.UnixMilli(), true
	}
	return 0, false
}

// ParseResetHeader converts an x-ratelimit-reset style value into unix ms.
// Small values are treated as seconds from now, large ones as unix seconds.
func ParseResetHeader(value string, now time.Time) (int64, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		if ms := ParseTimeStr(value); ms > 0 {
			return now.UnixMilli() + ms, true
		}
		return 0, false
	}
	if n < resetDeltaLimit {
		return now.UnixMilli() + n*1000, true
	}
	return UnixToMs(n), true
}

// ParseTimeStr converts strings like "1s", "6m0s" into ms.
func ParseTimeStr(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}

	if strings.HasSuffix(s, "s") && !strings.Contains(s, "m") {
		val := strings.TrimSuffix(s, "s")
		sec, err := strconv.Atoi(val)
		if err == nil {
			return int64(sec) * 1000
		}
	}

	var minutes, seconds int
	n, err := fmt.Sscanf(s, "%dm%ds", &minutes, &seconds)
	if n == 2 && err == nil {
		return int64(minutes)*60_000 + int64(seconds)*1_000
	}

	return 0
}

// UnixToMs converts a UNIX timestamp in seconds to milliseconds.
func UnixToMs(timestamp int64) int64 {
	return timestamp * 1000
}

// IsInFuture checks if a timestamp (in ms) is in the future relative to now.
func IsInFuture(ms int64, now time.Time) bool {
	return ms > now.UnixMilli()
}
