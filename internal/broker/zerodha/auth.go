package zerodha

import (
	"context"
	"errors"

	"autokite/internal/interfaces"
	"autokite/internal/types"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"
)

type kiteAuthAPI interface {
	GetLoginURL() string
	GenerateSession(requestToken string, apiSecret string) (kiteconnect.UserSession, error)
}

// Authenticator performs the unauthenticated half of the Kite login: the
// login URL and the request-token exchange.
type Authenticator struct {
	kc        kiteAuthAPI
	apiSecret string
}

var _ interfaces.TokenExchanger = (*Authenticator)(nil)

func NewAuthenticator(apiKey, apiSecret string) *Authenticator {
	return &Authenticator{kc: kiteconnect.New(apiKey), apiSecret: apiSecret}
}

func (a *Authenticator) LoginURL() string {
	return a.kc.GetLoginURL()
}

// Exchange trades the request token for an access token. The returned
// session has no expiry set; the caller owns the validity window.
func (a *Authenticator) Exchange(_ context.Context, requestToken string) (types.Session, error) {
	us, err := a.kc.GenerateSession(requestToken, a.apiSecret)
	if err != nil {
		return types.Session{}, err
	}
	if us.AccessToken == "" {
		return types.Session{}, errors.New("kite returned an empty access token")
	}
	return types.Session{AccessToken: us.AccessToken, UserID: us.UserSessionTokens.UserID}, nil
}
