package session

import (
	"context"
	"sync"
	"time"

	"autokite/internal/interfaces"
	"autokite/internal/logger"
	"autokite/internal/retry"
	"autokite/internal/types"
)

// Authenticator mints a brand-new session.
type Authenticator interface {
	Authenticate(ctx context.Context) (types.Session, error)
}

// Provider is the SessionSource every authenticated component reads from.
// It checks expiry on every call and logs in again when needed.
type Provider struct {
	auth   Authenticator
	cache  interfaces.SessionCache
	policy retry.Policy
	now    func() time.Time

	mu      sync.Mutex
	current types.Session
}

var _ interfaces.SessionSource = (*Provider)(nil)

func NewProvider(auth Authenticator, cache interfaces.SessionCache, policy retry.Policy) *Provider {
	return &Provider{
		auth:   auth,
		cache:  cache,
		policy: policy,
		now:    time.Now,
	}
}

// Current returns a session valid right now.
func (p *Provider) Current(ctx context.Context) (types.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if p.current.Valid(now) {
		return p.current, nil
	}

	if p.cache != nil {
		s, ok, err := p.cache.Load(ctx)
		switch {
		case err != nil:
			logger.Warn(ctx, "Failed to load cached session", "error", err)
		case ok && s.Valid(now):
			logger.Debug(ctx, "Using cached session", "session", s)
			p.current = s
			return s, nil
		}
	}

	return p.login(ctx)
}

// Refresh forces a fresh login, bypassing both the held and cached session.
func (p *Provider) Refresh(ctx context.Context) (types.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current = types.Session{}
	return p.login(ctx)
}

func (p *Provider) login(ctx context.Context) (types.Session, error) {
	s, err := retry.Do(ctx, p.policy, "session.Authenticate", p.auth.Authenticate)
	if err != nil {
		return types.Session{}, err
	}
	p.current = s

	if p.cache != nil {
		if err := p.cache.Save(ctx, s); err != nil {
			logger.Warn(ctx, "Failed to cache session", "error", err)
		}
	}
	return s, nil
}
