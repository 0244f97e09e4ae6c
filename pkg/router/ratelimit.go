package router

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"
)

// HttpRateLimit is flood protection for the webhook receiver: a per-client
// token bucket of rps requests per second with the given burst. Entries for
// clients idle longer than ten minutes are swept in-line, at most once a
// minute, so the handler owns no background goroutine and can be
// constructed per route.
func HttpRateLimit(rps float64, burst int) fiber.Handler {
	type visitor struct {
		limiter  *rate.Limiter
		lastSeen time.Time
	}

	var mu sync.Mutex
	visitors := make(map[string]*visitor)
	lastSweep := time.Now()

	return func(c *fiber.Ctx) error {
		ip := c.IP()
		if v := c.Locals("remote_ip"); v != nil {
			if s, ok := v.(string); ok && s != "" {
				ip = s
			}
		}

		mu.Lock()
		now := time.Now()
		if now.Sub(lastSweep) > time.Minute {
			for addr, v := range visitors {
				if now.Sub(v.lastSeen) > 10*time.Minute {
					delete(visitors, addr)
				}
			}
			lastSweep = now
		}
		v, ok := visitors[ip]
		if !ok {
			v = &visitor{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
			visitors[ip] = v
		}
		v.lastSeen = now
		mu.Unlock()

		if !v.limiter.Allow() {
			return ResponseTooManyRequests(c, "too many requests")
		}
		return c.Next()
	}
}
