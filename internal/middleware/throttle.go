package middleware

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/charlesng35/clinicauth/internal/services"
	apperrors "github.com/charlesng35/clinicauth/pkg/errors"
	"github.com/charlesng35/clinicauth/pkg/response"
)

const throttleIdleTTL = 10 * time.Minute

// Throttle is a token bucket per authenticated user. Buckets idle for longer
// than throttleIdleTTL are dropped on the next sweep.
type Throttle struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	buckets map[string]*userBucket
	now     func() time.Time

	audit  *services.AuditService
	action string
}

type userBucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// NewThrottle allows perSecond sustained requests per user with the given burst.
func NewThrottle(perSecond float64, burst int) *Throttle {
	if burst <= 0 {
		burst = 1
	}
	return &Throttle{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		buckets: make(map[string]*userBucket),
		now:     time.Now,
	}
}

// WithAudit records every rejected request as a failed action with reason
// "throttled".
func (t *Throttle) WithAudit(audit *services.AuditService, action string) *Throttle {
	t.audit = audit
	t.action = action
	return t
}

// Allow reports whether key may proceed now.
func (t *Throttle) Allow(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	b, ok := t.buckets[key]
	if !ok {
		t.sweep(now)
		b = &userBucket{lim: rate.NewLimiter(t.limit, t.burst)}
		t.buckets[key] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1)
}

func (t *Throttle) sweep(now time.Time) {
	for key, b := range t.buckets {
		if now.Sub(b.seen) > throttleIdleTTL {
			delete(t.buckets, key)
		}
	}
}

// Middleware rejects requests from users that exhausted their bucket. It must
// run after Auth.
func (t *Throttle) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if t.limit <= 0 {
			c.Next()
			return
		}
		key := c.GetString(CtxUserIDKey)
		if key == "" {
			key = "ip:" + c.ClientIP()
		}
		if !t.Allow(key) {
			if t.action != "" {
				services.RecordAudit(t.audit, c.Request.Context(), services.AuditEntry{
					Action: t.action,
					Result: services.AuditResultFailure,
					Metadata: map[string]any{
						"reason":     "throttled",
						"path":       c.FullPath(),
						"session_id": c.GetString(CtxSessionIDKey),
					},
				})
			}
			response.Error(c, apperrors.ErrRateLimit)
			c.Abort()
			return
		}
		c.Next()
	}
}
