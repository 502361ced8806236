package ai

import (
	"context"

	"golang.org/x/time/rate"
)

// RequestLimiter caps the outbound request rate of an adapter so concurrent
// extraction work stays inside an external API's rate limit. A nil limiter
// or a non-positive rate admits every request immediately.
type RequestLimiter struct {
	rl *rate.Limiter
}

// NewRequestLimiter builds a limiter admitting reqPerSec requests per second
// with the given burst size.
func NewRequestLimiter(reqPerSec float64, burst int) *RequestLimiter {
	if reqPerSec <= 0 {
		return &RequestLimiter{}
	}
	if burst < 1 {
		burst = 1
	}
	return &RequestLimiter{rl: rate.NewLimiter(rate.Limit(reqPerSec), burst)}
}

// Wait blocks until the limiter admits one request or the context is done.
func (l *RequestLimiter) Wait(ctx context.Context) error {
	if l == nil || l.rl == nil {
		return nil
	}
	return l.rl.Wait(ctx)
}
