// Package middleware implements the ordered interceptor chain that wraps
// request dispatch.
//
// Middleware follow an onion model: the pre-dispatch phase runs in
// registration order and the post-dispatch phase in reverse order. A
// middleware short-circuits the chain by returning a response without
// calling next, which skips the user callback and the remaining
// middleware. That is the mechanism for cross-cutting concerns like
// authentication.
package middleware

import (
	"context"

	"mesh-sdk/api"
)

// HandlerFunc processes a request and produces a response. The innermost
// handler invokes the user callback.
type HandlerFunc func(ctx context.Context, req *api.Request) *api.Response

// Middleware wraps a handler with pre- and post-dispatch behavior.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares into one.
// Chain(A, B, C)(handler) → A(B(C(handler))), so the pre phase runs
// A → B → C and the post phase C → B → A.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
