package web

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/rweb"
)

// CorsMiddleware handles CORS headers for cross-origin requests
func CorsMiddleware(c rweb.Context) error {
	c.Response().SetHeader("Access-Control-Allow-Origin", "*")
	c.Response().SetHeader("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
	c.Response().SetHeader("Access-Control-Allow-Headers", "Content-Type, Authorization")

	// Handle preflight OPTIONS requests
	if c.Request().Method() == "OPTIONS" {
		c.SetStatus(http.StatusOK)
		return nil
	}

	return c.Next()
}

// JWTAuthMiddleware validates the bearer token, if any, and sets
// "authenticated" and "subject" in the context. It never blocks: handlers
// that change state check IsAuthenticated themselves.
func JWTAuthMiddleware(tokens *Tokens) rweb.Handler {
	return func(c rweb.Context) error {
		authHeader := c.Request().Header("Authorization")
		if tokens == nil || !strings.HasPrefix(authHeader, "Bearer ") {
			c.Set("authenticated", false)
			return c.Next()
		}

		claims, err := tokens.Validate(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			// Don't log every invalid token attempt
			c.Set("authenticated", false)
			return c.Next()
		}

		c.Set("subject", claims.Subject)
		c.Set("authenticated", true)
		return c.Next()
	}
}

// SecurityHeadersMiddleware adds security headers to responses
func SecurityHeadersMiddleware(c rweb.Context) error {
	c.Response().SetHeader("X-Content-Type-Options", "nosniff")
	c.Response().SetHeader("X-Frame-Options", "DENY")
	c.Response().SetHeader("Referrer-Policy", "strict-origin-when-cross-origin")

	csp := []string{
		"default-src 'self'",
		"script-src 'self' 'unsafe-inline'",
		"style-src 'self' 'unsafe-inline'",
		"img-src 'self' data:",
		"connect-src 'self'",
	}
	c.Response().SetHeader("Content-Security-Policy", strings.Join(csp, "; "))

	return c.Next()
}

// RateLimitMiddleware limits each client to requestsPerMinute requests.
// Publishes are long-running, so the limit mainly stops runaway scripts.
func RateLimitMiddleware(requestsPerMinute int) rweb.Handler {
	type visitor struct {
		lastSeen time.Time
		count    int
	}

	var mu sync.Mutex
	visitors := make(map[string]*visitor)

	return func(c rweb.Context) error {
		ip := c.Request().Header("X-Forwarded-For")
		if ip == "" {
			ip = c.Request().Header("X-Real-IP")
		}
		if ip == "" {
			ip = "unknown"
		}

		mu.Lock()
		now := time.Now()
		for addr, v := range visitors {
			if now.Sub(v.lastSeen) > time.Minute {
				delete(visitors, addr)
			}
		}

		limited := false
		v, exists := visitors[ip]
		switch {
		case !exists:
			visitors[ip] = &visitor{lastSeen: now, count: 1}
		case now.Sub(v.lastSeen) < time.Minute:
			v.count++
			limited = v.count > requestsPerMinute
		default:
			v.lastSeen = now
			v.count = 1
		}
		mu.Unlock()

		if limited {
			logger.Info("Rate limit exceeded", "ip", ip)
			c.SetStatus(http.StatusTooManyRequests)
			return nil
		}
		return c.Next()
	}
}

// LoggingMiddleware provides detailed request logging
func LoggingMiddleware(c rweb.Context) error {
	start := time.Now()

	logger.Debug("Request started",
		"method", c.Request().Method(),
		"path", c.Request().Path(),
	)

	err := c.Next()

	logger.Debug("Request completed",
		"method", c.Request().Method(),
		"path", c.Request().Path(),
		"duration", time.Since(start),
		"error", err,
	)

	return err
}
