// SPDX-License-Identifier: Apache-2.0

// Package auth implements the resource-server side of authentication:
// bearer extraction, token validation, tenant-context resolution and the
// discovery 401 envelope that points unauthenticated clients at the
// authorization server.
package auth

import (
	"context"

	"github.com/mcpgate/mcpgate/pkg/storage"
)

// RequestContext is the composite identity attached to every request
// that clears the middleware. Downstream handlers read the tenant
// record, token claims and negotiated protocol version from here
// instead of re-deriving them.
type RequestContext struct {
	// Tenant is the resolved context record. Nil in authless mode and
	// during the initialize bootstrap.
	Tenant *storage.ContextRecord

	// Token is the validated bearer token. Nil in authless mode.
	Token *storage.AccessToken

	ContextID       string
	UserID          string
	BaseURL         string
	ProtocolVersion string
	SessionID       string
}

// requestContextKey is the context key for RequestContext.
//
// Using an empty struct as the key prevents collisions with other
// context keys, as each empty struct type is distinct even when the
// names match across packages.
type requestContextKey struct{}

// WithRequestContext stores a RequestContext in the context. A nil
// value returns the original context unchanged.
func WithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	if rc == nil {
		return ctx
	}
	return context.WithValue(ctx, requestContextKey{}, rc)
}

// FromContext retrieves the RequestContext. Returns nil and false when
// the middleware did not run for this request.
func FromContext(ctx context.Context) (*RequestContext, bool) {
	rc, ok := ctx.Value(requestContextKey{}).(*RequestContext)
	return rc, ok
}
