package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/resized/internal/ratelimit"
)

type RateLimiter interface {
	Allow(ctx context.Context, subject string, cost int) (ratelimit.Decision, error)
}

// WithRateLimiter limits job submissions per client, identified by header
// or by remote address when the header is absent.
func (s *Server) WithRateLimiter(limiter RateLimiter, clientHeader string) *Server {
	s.limiter = limiter
	s.clientHeader = strings.TrimSpace(clientHeader)
	return s
}

// allow charges cost against the caller's bucket and writes the rejection
// when the request may not proceed. Limiter outages let requests through.
func (s *Server) allow(w http.ResponseWriter, r *http.Request, cost int) bool {
	if s.limiter == nil {
		return true
	}

	subject := s.clientID(r) + ":" + routeLabel(r.URL.Path)
	decision, err := s.limiter.Allow(r.Context(), subject, cost)
	if errors.Is(err, ratelimit.ErrCostTooHigh) {
		s.metrics.rateLimitRejected.WithLabelValues(routeLabel(r.URL.Path)).Inc()
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "job exceeds the rate limit budget"})
		return false
	}
	if err != nil {
		s.logger.Printf("rate limiter check failed for subject=%s err=%v", subject, err)
		return true
	}

	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
	if decision.Allowed {
		return true
	}

	retryAfter := int(decision.RetryAfter.Round(time.Second).Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	s.metrics.rateLimitRejected.WithLabelValues(routeLabel(r.URL.Path)).Inc()
	writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
	return false
}

func (s *Server) clientID(r *http.Request) string {
	if s.clientHeader != "" {
		if v := strings.TrimSpace(r.Header.Get(s.clientHeader)); v != "" {
			return v
		}
	}
	host := r.RemoteAddr
	if i := strings.LastIndexByte(host, ':'); i > 0 {
		host = host[:i]
	}
	if host == "" {
		return "anonymous"
	}
	return host
}
