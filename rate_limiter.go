package telemetry

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// rateLimitsHeader carries comma-separated category:seconds:reason tuples.
const rateLimitsHeader = "X-Telemetry-Rate-Limits"

// defaultCooldown is applied when a rate-limit header cannot be parsed.
const defaultCooldown = 60 * time.Second

// RateLimiter tracks per-category send suppression deadlines derived from
// backend responses. Expired entries are purged lazily on check.
type RateLimiter struct {
	mu        sync.Mutex
	deadlines map[Category]time.Time
	logger    *zap.Logger
}

// NewRateLimiter creates a rate limiter with no active limits.
func NewRateLimiter(logger *zap.Logger) *RateLimiter {
	return &RateLimiter{
		deadlines: make(map[Category]time.Time),
		logger:    logger,
	}
}

// IsLimited reports whether sends of the given category are currently
// suppressed, either by a category-specific deadline or the blanket one.
func (rl *RateLimiter) IsLimited(category Category) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	return rl.liveDeadline(category, now) || rl.liveDeadline(categoryAll, now)
}

// Deadline returns the latest live suppression deadline for the category, or
// the zero time when none is active.
func (rl *RateLimiter) Deadline(category Category) time.Time {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	var deadline time.Time
	if rl.liveDeadline(category, now) {
		deadline = rl.deadlines[category]
	}
	if rl.liveDeadline(categoryAll, now) && rl.deadlines[categoryAll].After(deadline) {
		deadline = rl.deadlines[categoryAll]
	}
	return deadline
}

// liveDeadline reports whether the category has an unexpired deadline,
// deleting it when expired. Callers must hold rl.mu.
func (rl *RateLimiter) liveDeadline(category Category, now time.Time) bool {
	deadline, ok := rl.deadlines[category]
	if !ok {
		return false
	}
	if !deadline.After(now) {
		delete(rl.deadlines, category)
		return false
	}
	return true
}

// OnResponse updates limits from a backend response and reports whether any
// limit was recorded. The structured per-category header wins over the plain
// Retry-After fallback; Retry-After is honored on 429 responses and on 5xx
// responses that carry it.
func (rl *RateLimiter) OnResponse(resp *http.Response) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()

	if header := resp.Header.Get(rateLimitsHeader); header != "" {
		rl.parseRateLimits(header, now)
		return true
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		rl.parseRetryAfter(resp.Header.Get("Retry-After"), now)
		return true
	case resp.StatusCode >= 500:
		if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
			rl.parseRetryAfter(retryAfter, now)
			return true
		}
	}

	return false
}

// parseRateLimits handles comma-separated category:seconds:reason tuples.
// Multiple categories in one tuple are separated by ";". An empty category
// list means the blanket limit. Unknown categories are skipped.
func (rl *RateLimiter) parseRateLimits(header string, now time.Time) {
	for _, tuple := range strings.Split(header, ",") {
		parts := strings.Split(strings.TrimSpace(tuple), ":")
		if len(parts) < 2 {
			continue
		}

		seconds, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil || seconds < 0 {
			rl.logger.Warn("Unparsable rate limit duration, using default cooldown",
				zap.String("tuple", tuple))
			seconds = int(defaultCooldown / time.Second)
		}
		deadline := now.Add(time.Duration(seconds) * time.Second)

		categories := strings.TrimSpace(parts[0])
		if categories == "" {
			rl.applyLimit(categoryAll, deadline)
			continue
		}

		for _, raw := range strings.Split(categories, ";") {
			category := Category(strings.TrimSpace(raw))
			if category == "" {
				category = categoryAll
			}
			if _, known := knownCategories[category]; !known {
				continue
			}
			rl.applyLimit(category, deadline)
		}
	}
}

// parseRetryAfter handles the plain Retry-After header as a blanket limit.
// Both delta-seconds and HTTP-date forms are accepted.
func (rl *RateLimiter) parseRetryAfter(header string, now time.Time) {
	header = strings.TrimSpace(header)

	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		rl.applyLimit(categoryAll, now.Add(time.Duration(seconds)*time.Second))
		return
	}

	if at, err := http.ParseTime(header); err == nil && at.After(now) {
		rl.applyLimit(categoryAll, at)
		return
	}

	rl.logger.Warn("Unparsable Retry-After header, using default cooldown",
		zap.String("header", header))
	rl.applyLimit(categoryAll, now.Add(defaultCooldown))
}

// applyLimit records a deadline, never shortening an existing one. Callers
// must hold rl.mu.
func (rl *RateLimiter) applyLimit(category Category, deadline time.Time) {
	if existing, ok := rl.deadlines[category]; ok && existing.After(deadline) {
		return
	}
	rl.deadlines[category] = deadline
	rl.logger.Warn("Rate limit applied",
		zap.String("category", string(category)),
		zap.Time("disabled_until", deadline))
}

// PurgeExpired removes expired deadlines eagerly. The plugin runs this on a
// timer so long-idle processes do not hold stale entries.
func (rl *RateLimiter) PurgeExpired() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for category, deadline := range rl.deadlines {
		if !deadline.After(now) {
			delete(rl.deadlines, category)
		}
	}
}
