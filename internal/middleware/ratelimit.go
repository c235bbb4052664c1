package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type userLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter ограничивает частоту запросов каждого пользователя.
// Должен стоять после AuthMiddleware.Middleware.
type RateLimiter struct {
	limit  rate.Limit
	burst  int
	ttl    time.Duration
	logger *zap.Logger

	mu       sync.Mutex
	limiters map[int64]*userLimiter
	now      func() time.Time
}

// NewRateLimiter создаёт ограничитель: perMinute запросов в минуту с запасом burst.
func NewRateLimiter(perMinute float64, burst int, logger *zap.Logger) *RateLimiter {
	return &RateLimiter{
		limit:    rate.Limit(perMinute / 60),
		burst:    burst,
		ttl:      10 * time.Minute,
		logger:   logger,
		limiters: make(map[int64]*userLimiter),
		now:      time.Now,
	}
}

// Middleware отвечает 429, если пользователь исчерпал лимит.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal := PrincipalFromContext(r.Context())
		if principal == nil {
			next.ServeHTTP(w, r)
			return
		}

		if !rl.limiter(principal.UserID).AllowN(rl.now(), 1) {
			rl.logger.Warn("rate limit exceeded", zap.Int64("user_id", principal.UserID), zap.String("path", r.URL.Path))

			retryAfter := int(math.Ceil(1 / float64(rl.limit)))
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"too many requests"}` + "\n"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) limiter(userID int64) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for id, ul := range rl.limiters {
		if now.Sub(ul.lastAccess) > rl.ttl {
			delete(rl.limiters, id)
		}
	}

	ul, ok := rl.limiters[userID]
	if !ok {
		ul = &userLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limiters[userID] = ul
	}
	ul.lastAccess = now
	return ul.limiter
}
