package session

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"autokite/internal/types"
)

var errRedirectFailure = fmt.Errorf("%w: login redirect reported failure", ErrTokenNotFound)

// ParseRequestToken pulls the request token out of the post-login redirect.
//
// Kite appends request_token alongside action/type/status; when the query is
// not parseable the token is cut from the raw string, from request_token= up
// to the next "&".
func ParseRequestToken(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err == nil {
		q := u.Query()
		if q.Get("status") == "failure" {
			return "", errRedirectFailure
		}
		if tok := q.Get("request_token"); tok != "" {
			return tok, nil
		}
	}

	_, rest, ok := strings.Cut(raw, "request_token=")
	if !ok {
		return "", fmt.Errorf("%w: no request_token in redirect", ErrTokenNotFound)
	}
	tok, _, _ := strings.Cut(rest, "&")
	if tok == "" {
		return "", fmt.Errorf("%w: empty request_token in redirect", ErrTokenNotFound)
	}
	return tok, nil
}

// NextExpiry is the daily cutoff after issuedAt: expiryHour:00 IST on the
// following calendar day.
func NextExpiry(issuedAt time.Time, expiryHour int) time.Time {
	t := issuedAt.In(types.IST)
	return time.Date(t.Year(), t.Month(), t.Day()+1, expiryHour, 0, 0, 0, types.IST)
}
