package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"mesh-sdk/api"
)

// RateLimit rejects requests beyond the configured rate using a token
// bucket. Rejected requests short-circuit the chain with an error response
// carrying a 429 status.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *api.Request) *api.Response {
			if !limiter.Allow() {
				resp := api.NewResponse()
				resp.SetError("rate limit exceeded", 0, "429 Too Many Requests")
				return resp
			}
			return next(ctx, req)
		}
	}
}
