package middleware

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"mesh-sdk/api"
)

// Logging emits one structured event per dispatched request with the action
// name, request ID and processing duration.
func Logging(logger zerolog.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *api.Request) *api.Response {
			start := time.Now()
			resp := next(ctx, req)

			event := logger.Info()
			if resp.Err() != nil {
				event = logger.Warn().Str("error", resp.Err().Message)
			}
			event.
				Str("action", req.ActionName()).
				Str("rid", req.ID()).
				Dur("duration", time.Since(start)).
				Msg("request dispatched")
			return resp
		}
	}
}
