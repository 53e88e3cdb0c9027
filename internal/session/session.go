// Package session binds browser session identifiers to API keys so cookie
// sessions and programmatic clients share one authorization model. Bindings
// live for an hour and are refreshed on every authenticated request.
package session

import (
	"context"
	"time"
)

// DefaultTTL is how long a session binding survives without refresh.
const DefaultTTL = time.Hour

// Binder maps session ids to API keys with a bounded TTL.
type Binder interface {
	// Bind stores or refreshes the session → key binding.
	Bind(ctx context.Context, sessionID, apiKey string) error
	// Lookup returns the bound API key, if any.
	Lookup(ctx context.Context, sessionID string) (string, bool)
}
