package security

import (
	"fmt"
	"time"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

// RateLimiter throttles webhook and check-in traffic per client IP using
// redis counters.
type RateLimiter struct {
	redis  *redis.Client
	limit  int64
	window time.Duration
}

func NewRateLimiter(redisClient *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{redis: redisClient, limit: limit, window: window}
}

// Limit is a route middleware rejecting clients above the request budget.
func (r *RateLimiter) Limit(e *core.RequestEvent) error {
	if r.redis == nil {
		return e.Next()
	}

	key := fmt.Sprintf("ratelimit:%s", e.RealIP())
	count, err := r.redis.Incr(e.Request.Context(), key).Result()
	if err == nil {
		if count == 1 {
			r.redis.Expire(e.Request.Context(), key, r.window)
		}
		if count > r.limit {
			return e.JSON(429, map[string]string{
				"error": "Rate limit exceeded. Please try again later.",
			})
		}
	}

	return e.Next()
}

// AdminAuth guards operator endpoints with a bcrypt-hashed shared token.
type AdminAuth struct {
	tokenHash string
}

func NewAdminAuth(tokenHash string) *AdminAuth {
	return &AdminAuth{tokenHash: tokenHash}
}

// Require is a route middleware checking the X-Admin-Token header against
// the configured hash.
func (a *AdminAuth) Require(e *core.RequestEvent) error {
	if !a.authorized(e.Request.Header.Get("X-Admin-Token")) {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}
	return e.Next()
}

func (a *AdminAuth) authorized(token string) bool {
	if a.tokenHash == "" || token == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(a.tokenHash), []byte(token)) == nil
}
