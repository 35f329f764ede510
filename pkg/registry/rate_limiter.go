package registry

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var (
	limitersMu sync.Mutex
	limiters   = make(map[string]http.RoundTripper)
)

// RateLimiterConfig bounds how hard we hit a registry host.
type RateLimiterConfig struct {
	RPS   int           // Rate per second per host
	Burst int           // Burst count per host
	Wait  time.Duration // Maximum wait time for a request
}

// RateLimitedRoundTripper shares one limiter per host, so concurrent
// promotions to the same registry stay inside its rate limits.
func RateLimitedRoundTripper(rt http.RoundTripper, config RateLimiterConfig, host string) http.RoundTripper {
	limitersMu.Lock()
	defer limitersMu.Unlock()
	if _, ok := limiters[host]; !ok {
		rl := rate.NewLimiter(rate.Limit(config.RPS), config.Burst)
		limiters[host] = &RoundTripRateLimiter{
			Wait:      config.Wait,
			RL:        rl,
			Transport: rt,
		}
	}
	return limiters[host]
}

type RoundTripRateLimiter struct {
	Wait      time.Duration // Maximum wait time for a request
	RL        *rate.Limiter
	Transport http.RoundTripper
}

func (rl *RoundTripRateLimiter) RoundTrip(r *http.Request) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(r.Context(), rl.Wait)
	defer cancel() // always cancel the context!

	// Wait errors out if the request cannot be processed within
	// the deadline. This is preemptive, instead of waiting the
	// entire duration.
	if err := rl.RL.Wait(ctx); err != nil {
		return nil, err
	}
	return rl.Transport.RoundTrip(r)
}
