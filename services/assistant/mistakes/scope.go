// Copyright (C) 2025 Meridian Ops (engineering@meridianops.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package mistakes

import "context"

// Scope identifies the session and user a learning event belongs to.
// Both fields are optional; empty values mean unscoped persistence.
type Scope struct {
	SessionID string
	UserID    string
}

type scopeKey struct{}

// WithScope returns a context carrying the given session scope.
// Store persistence writes pick the scope up from the context.
func WithScope(ctx context.Context, scope Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, scope)
}

// ScopeFrom extracts the session scope from ctx, if any.
func ScopeFrom(ctx context.Context) Scope {
	scope, _ := ctx.Value(scopeKey{}).(Scope)
	return scope
}
