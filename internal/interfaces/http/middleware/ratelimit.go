package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"courseledger/internal/infrastructure/ratelimit"
	"courseledger/internal/shared/constants"
	"courseledger/internal/shared/logger"
	"courseledger/internal/shared/utils"
)

// RateLimiter caps mutations per subject. It fails open when the store is
// unreachable.
type RateLimiter struct {
	limiter ratelimit.Limiter
	limits  ratelimit.Limits
	logger  logger.Interface
}

func NewRateLimiter(limiter ratelimit.Limiter, limits ratelimit.Limits, logger logger.Interface) *RateLimiter {
	return &RateLimiter{
		limiter: limiter,
		limits:  limits,
		logger:  logger,
	}
}

// Limit must run after RequireAuth; requests without a subject are keyed by
// client IP.
func (rl *RateLimiter) Limit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl == nil || rl.limiter == nil || !rl.limits.Enabled() {
			c.Next()
			return
		}

		key := "subject:" + c.GetString(constants.ContextKeySubjectID)
		if key == "subject:" {
			key = "ip:" + c.ClientIP()
		}

		allowed, err := rl.limiter.Allow(c.Request.Context(), key, rl.limits)
		if err != nil {
			rl.logger.Warnw("rate limiter unavailable, allowing request", "key", key, "error", err)
			c.Next()
			return
		}
		if !allowed {
			utils.ErrorResponse(c, http.StatusTooManyRequests, "rate limit exceeded, please try again later")
			c.Abort()
			return
		}

		c.Next()
	}
}
