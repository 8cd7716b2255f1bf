package interfaces

import (
	"context"

	"autokite/internal/types"
)

// SessionSource hands out a session that is valid at the time of the call.
type SessionSource interface {
	Current(ctx context.Context) (types.Session, error)
}

// TokenExchanger turns a one-shot request token into an access token.
type TokenExchanger interface {
	LoginURL() string
	Exchange(ctx context.Context, requestToken string) (types.Session, error)
}

// SessionCache persists the day's session so separate processes can share it.
type SessionCache interface {
	Load(ctx context.Context) (types.Session, bool, error)
	Save(ctx context.Context, s types.Session) error
}
