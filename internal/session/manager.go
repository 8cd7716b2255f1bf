// Package session owns the daily Kite access token: the browser login that
// mints it, the cache that shares it, and the expiry that retires it.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"autokite/internal/interfaces"
	"autokite/internal/logger"
	"autokite/internal/retry"
	"autokite/internal/store"
	"autokite/internal/trace"
	"autokite/internal/types"
)

var (
	// ErrElementNotFound means the login page did not have an expected field.
	ErrElementNotFound = errors.New("login page element not found")
	// ErrTokenNotFound means the redirect never carried a request token.
	ErrTokenNotFound = errors.New("request token not found")
	// ErrExchangeFailed means Kite rejected the request token.
	ErrExchangeFailed = errors.New("request token exchange failed")
)

// Manager runs the login flow. It does not retry; wrap Authenticate in a
// retry policy to retry the whole flow.
type Manager struct {
	launcher  interfaces.BrowserLauncher
	exchanger interfaces.TokenExchanger
	creds     store.Credentials
	selectors store.Selectors

	redirectTimeout time.Duration
	redirectPoll    time.Duration
	expiryHour      int
	now             func() time.Time
}

func NewManager(launcher interfaces.BrowserLauncher, exchanger interfaces.TokenExchanger, creds store.Credentials, cfg *store.Config) *Manager {
	return &Manager{
		launcher:        launcher,
		exchanger:       exchanger,
		creds:           creds,
		selectors:       cfg.Login.Selectors,
		redirectTimeout: cfg.Login.RedirectTimeout,
		redirectPoll:    cfg.Login.RedirectPoll,
		expiryHour:      cfg.Session.ExpiryHour,
		now:             time.Now,
	}
}

// Authenticate logs in through the browser and exchanges the resulting
// request token for a session valid until the next daily cutoff.
func (m *Manager) Authenticate(ctx context.Context) (types.Session, error) {
	ctx, span := trace.StartSpan(ctx, "session.Authenticate")
	defer span.End()

	if !m.creds.HasLogin() {
		return types.Session{}, retry.Permanent(errors.New("kite login credentials are incomplete"))
	}

	requestToken, err := m.requestToken(ctx)
	if err != nil {
		return types.Session{}, err
	}

	// The request token is only good for a few minutes; exchange it now.
	logger.Info(ctx, "Generating trading session")
	s, err := m.exchanger.Exchange(ctx, requestToken)
	if err != nil {
		return types.Session{}, fmt.Errorf("%w: %w", ErrExchangeFailed, err)
	}

	s.IssuedAt = m.now()
	s.Expiry = NextExpiry(s.IssuedAt, m.expiryHour)

	logger.Info(ctx, "Trading session generated", "session", s)
	return s, nil
}

// requestToken drives the login form. The browser is always quit before
// returning, whatever the outcome.
func (m *Manager) requestToken(ctx context.Context) (token string, err error) {
	logger.Debug(ctx, "Starting browser")
	b, err := m.launcher.Launch(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to launch browser: %w", err)
	}
	defer func() {
		if qerr := b.Quit(); qerr != nil {
			logger.Warn(ctx, "Failed to quit browser", "error", qerr)
		}
	}()

	logger.Debug(ctx, "Opening login page")
	if err := b.Navigate(ctx, m.exchanger.LoginURL()); err != nil {
		return "", fmt.Errorf("failed to open login page: %w", err)
	}

	logger.Info(ctx, "Authenticating to app", "user_id", m.creds.UserID)
	steps := []struct {
		selector string
		value    string
		click    bool
	}{
		{selector: m.selectors.Username, value: m.creds.UserID},
		{selector: m.selectors.Password, value: m.creds.Password},
		{selector: m.selectors.Continue, click: true},
		{selector: m.selectors.Pin, value: m.creds.PIN},
		{selector: m.selectors.Login, click: true},
	}
	for _, st := range steps {
		if st.click {
			err = b.Click(ctx, st.selector)
		} else {
			err = b.Fill(ctx, st.selector, st.value)
		}
		if err != nil {
			return "", fmt.Errorf("login step %q: %w", st.selector, err)
		}
	}

	return m.awaitRedirect(ctx, b)
}

func (m *Manager) awaitRedirect(ctx context.Context, b interfaces.Browser) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, m.redirectTimeout)
	defer cancel()

	ticker := time.NewTicker(m.redirectPoll)
	defer ticker.Stop()

	var lastErr error
	for {
		current, err := b.CurrentURL(ctx)
		if err == nil {
			token, perr := ParseRequestToken(current)
			if perr == nil {
				return token, nil
			}
			if errors.Is(perr, errRedirectFailure) {
				return "", perr
			}
			lastErr = perr
		} else {
			lastErr = err
		}

		select {
		case <-ctx.Done():
			if lastErr == nil {
				lastErr = ctx.Err()
			}
			if errors.Is(lastErr, ErrTokenNotFound) {
				return "", lastErr
			}
			return "", fmt.Errorf("%w: %w", ErrTokenNotFound, lastErr)
		case <-ticker.C:
		}
	}
}
