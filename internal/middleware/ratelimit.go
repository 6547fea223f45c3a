package middleware

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vendora-assistant-go/internal/config"
	"golang.org/x/time/rate"
)

// RateLimiter interface for rate limiting
type RateLimiter interface {
	Allow(subjectKey string) bool
	Reset(subjectKey string)
}

// SubjectRateLimiter implements per-subject burst limiting. This is the
// short-horizon guard in front of the engine; daily ceilings live in the
// quota ledger.
type SubjectRateLimiter struct {
	enabled         bool
	limiters        map[string]*rate.Limiter
	mu              sync.RWMutex
	rpm             int
	burst           int
	logger          *logrus.Logger
	cleanupInterval time.Duration
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(cfg *config.Config, logger *logrus.Logger) RateLimiter {
	if !cfg.RateLimit.Enabled {
		return &SubjectRateLimiter{enabled: false}
	}

	rl := &SubjectRateLimiter{
		enabled:         true,
		limiters:        make(map[string]*rate.Limiter),
		rpm:             cfg.RateLimit.RequestsPerMinute,
		burst:           cfg.RateLimit.Burst,
		logger:          logger,
		cleanupInterval: 1 * time.Hour,
	}

	// Start cleanup goroutine
	go rl.cleanup()

	return rl
}

// Allow checks if a subject is allowed to make a request
func (r *SubjectRateLimiter) Allow(subjectKey string) bool {
	if !r.enabled {
		return true
	}

	limiter := r.getLimiter(subjectKey)
	allowed := limiter.Allow()

	if !allowed {
		r.logger.WithField("subject", subjectKey).Warn("Rate limit exceeded")
	}

	return allowed
}

// Reset resets the rate limiter for a subject
func (r *SubjectRateLimiter) Reset(subjectKey string) {
	if !r.enabled {
		return
	}

	r.mu.Lock()
	delete(r.limiters, subjectKey)
	r.mu.Unlock()
}

// getLimiter gets or creates a rate limiter for a subject
func (r *SubjectRateLimiter) getLimiter(subjectKey string) *rate.Limiter {
	r.mu.RLock()
	limiter, exists := r.limiters[subjectKey]
	r.mu.RUnlock()

	if exists {
		return limiter
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists := r.limiters[subjectKey]; exists {
		return limiter
	}

	// Rate per second = RPM / 60
	rps := float64(r.rpm) / 60.0
	limiter = rate.NewLimiter(rate.Limit(rps), r.burst)
	r.limiters[subjectKey] = limiter

	return limiter
}

// cleanup removes inactive limiters
func (r *SubjectRateLimiter) cleanup() {
	ticker := time.NewTicker(r.cleanupInterval)
	defer ticker.Stop()

	for range ticker.C {
		r.mu.Lock()
		if len(r.limiters) > 10000 {
			r.logger.Warn("Rate limiter map size exceeded threshold, clearing")
			r.limiters = make(map[string]*rate.Limiter)
		}
		r.mu.Unlock()
	}
}
