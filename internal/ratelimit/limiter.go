package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tyemirov/gatekit/internal/authkit"
)

// fixedWindowLimiter counts requests inside fixed time boundaries. The
// check-then-increment sequence is one step under the mutex, so two racing
// requests crossing the threshold can never both pass.
type fixedWindowLimiter struct {
	mutex       sync.Mutex
	clock       authkit.Clock
	window      time.Duration
	maxRequests int64
	windowStart time.Time
	count       int64
}

func newFixedWindowLimiter(clock authkit.Clock, limits Limits) *fixedWindowLimiter {
	return &fixedWindowLimiter{
		clock:       clock,
		window:      limits.Window,
		maxRequests: limits.MaxRequests,
		windowStart: clock.Now(),
	}
}

// Allow records one request and reports whether it fits in the current window.
func (limiter *fixedWindowLimiter) Allow() bool {
	limiter.mutex.Lock()
	defer limiter.mutex.Unlock()
	now := limiter.clock.Now()
	if now.Sub(limiter.windowStart) >= limiter.window {
		limiter.windowStart = now
		limiter.count = 0
	}
	limiter.count++
	return limiter.count <= limiter.maxRequests
}

// Registry holds one shared limiter per configured plan. A plan's limiter
// throttles aggregate traffic across every caller of that tier, not per
// account; unknown plans share the free tier's instance.
type Registry struct {
	limiters map[Plan]*fixedWindowLimiter
}

// NewRegistry builds all plan limiters up front from the supplied limits.
func NewRegistry(clock authkit.Clock, planLimits map[Plan]Limits) *Registry {
	if clock == nil {
		clock = authkit.NewSystemClock()
	}
	limiters := make(map[Plan]*fixedWindowLimiter, len(planLimits))
	for plan, limits := range planLimits {
		limiters[plan] = newFixedWindowLimiter(clock, limits)
	}
	if _, ok := limiters[PlanFree]; !ok {
		limiters[PlanFree] = newFixedWindowLimiter(clock, Limits{Window: time.Minute, MaxRequests: 60})
	}
	return &Registry{limiters: limiters}
}

// Allow charges one request against the plan's bucket.
func (registry *Registry) Allow(plan Plan) bool {
	limiter, ok := registry.limiters[plan]
	if !ok {
		limiter = registry.limiters[PlanFree]
	}
	return limiter.Allow()
}

// Middleware selects the limiter from the plan header and terminates the
// request with 429 when the bucket is exhausted.
func (registry *Registry) Middleware(logger *zap.Logger, metrics authkit.MetricsRecorder) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(contextGin *gin.Context) {
		plan := PlanFromHeader(contextGin.GetHeader(PlanHeaderName))
		if !registry.Allow(plan) {
			if metrics != nil {
				metrics.Increment(authkit.MetricRateLimitRejected)
			}
			logger.Warn("request rate limited",
				zap.String("code", "ratelimit.rejected"),
				zap.String("plan", string(plan)),
				zap.String("path", contextGin.Request.URL.Path),
			)
			contextGin.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited"})
			return
		}
		contextGin.Next()
	}
}
