package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autokite/internal/interfaces"
	"autokite/internal/retry"
	"autokite/internal/store"
	"autokite/internal/types"
)

type fakeBrowser struct {
	urls     []string // successive CurrentURL results
	missing  string   // selector that cannot be found
	filled   map[string]string
	clicked  []string
	visited  []string
	quitCall int
}

func (b *fakeBrowser) Navigate(_ context.Context, url string) error {
	b.visited = append(b.visited, url)
	return nil
}

func (b *fakeBrowser) Fill(_ context.Context, selector, value string) error {
	if selector == b.missing {
		return ErrElementNotFound
	}
	b.filled[selector] = value
	return nil
}

func (b *fakeBrowser) Click(_ context.Context, selector string) error {
	if selector == b.missing {
		return ErrElementNotFound
	}
	b.clicked = append(b.clicked, selector)
	return nil
}

func (b *fakeBrowser) CurrentURL(context.Context) (string, error) {
	if len(b.urls) == 0 {
		return "https://kite.zerodha.com/connect/login", nil
	}
	u := b.urls[0]
	if len(b.urls) > 1 {
		b.urls = b.urls[1:]
	}
	return u, nil
}

func (b *fakeBrowser) Quit() error {
	b.quitCall++
	return nil
}

type fakeLauncher struct {
	browser  *fakeBrowser
	launches int
}

func (l *fakeLauncher) Launch(context.Context) (interfaces.Browser, error) {
	l.launches++
	return l.browser, nil
}

type fakeExchanger struct {
	err      error
	exchange []string
}

func (e *fakeExchanger) LoginURL() string {
	return "https://kite.zerodha.com/connect/login?api_key=key&v=3"
}

func (e *fakeExchanger) Exchange(_ context.Context, requestToken string) (types.Session, error) {
	e.exchange = append(e.exchange, requestToken)
	if e.err != nil {
		return types.Session{}, e.err
	}
	return types.Session{AccessToken: "access-" + requestToken, UserID: "AB1234"}, nil
}

func testConfig(t *testing.T) *store.Config {
	t.Helper()
	cfg, err := store.ParseConfig([]byte("instruments: [TCS]\nlogin:\n  redirect_timeout: 50ms\n  redirect_poll: 5ms\n"))
	require.NoError(t, err)
	return cfg
}

var creds = store.Credentials{APIKey: "key", APISecret: "secret", UserID: "AB1234", Password: "pw", PIN: "123456"}

func newTestManager(t *testing.T, b *fakeBrowser, ex *fakeExchanger) (*Manager, *fakeLauncher) {
	t.Helper()
	b.filled = map[string]string{}
	l := &fakeLauncher{browser: b}
	m := NewManager(l, ex, creds, testConfig(t))
	m.now = func() time.Time { return time.Date(2026, 10, 14, 8, 45, 0, 0, types.IST) }
	return m, l
}

func TestAuthenticate_Success(t *testing.T) {
	b := &fakeBrowser{urls: []string{
		"https://kite.zerodha.com/connect/twofa",
		"https://127.0.0.1/?request_token=rt123&action=login&type=login&status=success",
	}}
	ex := &fakeExchanger{}
	m, _ := newTestManager(t, b, ex)

	s, err := m.Authenticate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "access-rt123", s.AccessToken)
	assert.Equal(t, []string{"rt123"}, ex.exchange)
	assert.Equal(t, time.Date(2026, 10, 15, 6, 0, 0, 0, types.IST), s.Expiry)
	assert.Equal(t, 1, b.quitCall)

	assert.Equal(t, "AB1234", b.filled["input#userid"])
	assert.Equal(t, "pw", b.filled["input#password"])
	assert.Equal(t, "123456", b.filled["input#pin"])
	assert.Len(t, b.clicked, 2)
	assert.Equal(t, []string{ex.LoginURL()}, b.visited)
}

func TestAuthenticate_BrowserAlwaysQuits(t *testing.T) {
	testCases := []struct {
		name    string
		browser *fakeBrowser
		ex      *fakeExchanger
		wantErr error
	}{
		{
			name:    "missing pin field",
			browser: &fakeBrowser{missing: "input#pin"},
			ex:      &fakeExchanger{},
			wantErr: ErrElementNotFound,
		},
		{
			name:    "redirect never arrives",
			browser: &fakeBrowser{},
			ex:      &fakeExchanger{},
			wantErr: ErrTokenNotFound,
		},
		{
			name:    "login rejected",
			browser: &fakeBrowser{urls: []string{"https://127.0.0.1/?status=failure&action=login"}},
			ex:      &fakeExchanger{},
			wantErr: ErrTokenNotFound,
		},
		{
			name:    "exchange rejected",
			browser: &fakeBrowser{urls: []string{"https://127.0.0.1/?request_token=rt&action=login"}},
			ex:      &fakeExchanger{err: errors.New("invalid checksum")},
			wantErr: ErrExchangeFailed,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m, l := newTestManager(t, tc.browser, tc.ex)

			_, err := m.Authenticate(context.Background())
			assert.ErrorIs(t, err, tc.wantErr)
			assert.Equal(t, 1, l.launches)
			assert.Equal(t, 1, tc.browser.quitCall)
		})
	}
}

func TestAuthenticate_ExchangeAfterBrowserQuit(t *testing.T) {
	b := &fakeBrowser{urls: []string{"https://127.0.0.1/?request_token=rt&action=login"}}
	ex := &quitCheckingExchanger{browser: b}
	b.filled = map[string]string{}
	m := NewManager(&fakeLauncher{browser: b}, ex, creds, testConfig(t))

	_, err := m.Authenticate(context.Background())
	require.NoError(t, err)
	assert.True(t, ex.quitBeforeExchange)
}

type quitCheckingExchanger struct {
	fakeExchanger
	browser            *fakeBrowser
	quitBeforeExchange bool
}

func (e *quitCheckingExchanger) Exchange(ctx context.Context, rt string) (types.Session, error) {
	e.quitBeforeExchange = e.browser.quitCall == 1
	return e.fakeExchanger.Exchange(ctx, rt)
}

func TestAuthenticate_IncompleteCredentials(t *testing.T) {
	b := &fakeBrowser{}
	l := &fakeLauncher{browser: b}
	m := NewManager(l, &fakeExchanger{}, store.Credentials{APIKey: "key"}, testConfig(t))

	_, err := m.Authenticate(context.Background())
	assert.Error(t, err)
	assert.Zero(t, l.launches)
}

func TestParseRequestToken(t *testing.T) {
	testCases := []struct {
		name    string
		url     string
		want    string
		wantErr bool
	}{
		{name: "token first", url: "https://127.0.0.1/?request_token=abc&action=login&status=success", want: "abc"},
		{name: "token last", url: "https://127.0.0.1/?action=login&type=login&status=success&request_token=xyz", want: "xyz"},
		{name: "unparseable query", url: "https://127.0.0.1/%zz?request_token=raw1&action=login", want: "raw1"},
		{name: "unparseable query, token not first", url: "https://127.0.0.1/%zz?action=login&request_token=raw2&status=success", want: "raw2"},
		{name: "unparseable query, token last", url: "https://127.0.0.1/%zz?action=login&request_token=raw3", want: "raw3"},
		{name: "unparseable query, empty token", url: "https://127.0.0.1/%zz?request_token=&action=login", wantErr: true},
		{name: "failure status", url: "https://127.0.0.1/?request_token=abc&status=failure", wantErr: true},
		{name: "no token", url: "https://kite.zerodha.com/connect/login?api_key=key&v=3", wantErr: true},
		{name: "no query", url: "https://kite.zerodha.com/connect/twofa", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseRequestToken(tc.url)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrTokenNotFound)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNextExpiry_AcrossDayBoundary(t *testing.T) {
	testCases := []struct {
		name   string
		issued time.Time
		want   time.Time
	}{
		{
			name:   "morning login",
			issued: time.Date(2026, 10, 14, 8, 30, 0, 0, types.IST),
			want:   time.Date(2026, 10, 15, 6, 0, 0, 0, types.IST),
		},
		{
			name:   "just before midnight",
			issued: time.Date(2026, 10, 14, 23, 59, 59, 0, types.IST),
			want:   time.Date(2026, 10, 15, 6, 0, 0, 0, types.IST),
		},
		{
			name:   "early morning before cutoff",
			issued: time.Date(2026, 10, 15, 5, 0, 0, 0, types.IST),
			want:   time.Date(2026, 10, 16, 6, 0, 0, 0, types.IST),
		},
		{
			name:   "month end",
			issued: time.Date(2026, 10, 31, 9, 0, 0, 0, types.IST),
			want:   time.Date(2026, 11, 1, 6, 0, 0, 0, types.IST),
		},
		{
			name:   "utc input",
			issued: time.Date(2026, 10, 14, 20, 0, 0, 0, time.UTC), // 01:30 IST on the 15th
			want:   time.Date(2026, 10, 16, 6, 0, 0, 0, types.IST),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			expiry := NextExpiry(tc.issued, 6)
			assert.True(t, tc.want.Equal(expiry), "got %s", expiry)

			s := types.Session{AccessToken: "x", IssuedAt: tc.issued, Expiry: expiry}
			assert.True(t, s.Valid(tc.issued))
			assert.True(t, s.Valid(expiry.Add(-time.Nanosecond)))
			assert.False(t, s.Valid(expiry))
			assert.False(t, s.Valid(expiry.Add(time.Hour)))
		})
	}
}

type countingAuth struct {
	calls int
	fails int
	now   time.Time
}

func (a *countingAuth) Authenticate(context.Context) (types.Session, error) {
	a.calls++
	if a.fails > 0 {
		a.fails--
		return types.Session{}, ErrElementNotFound
	}
	return types.Session{AccessToken: "tok", IssuedAt: a.now, Expiry: NextExpiry(a.now, 6)}, nil
}

func noSleepPolicy(attempts int) retry.Policy {
	return retry.New(attempts, 10*time.Second).WithSleeper(func(context.Context, time.Duration) error { return nil })
}

func TestProvider_ReusesUntilExpiry(t *testing.T) {
	now := time.Date(2026, 10, 14, 9, 0, 0, 0, types.IST)
	auth := &countingAuth{now: now}
	p := NewProvider(auth, NewMemoryCache(), noSleepPolicy(3))
	p.now = func() time.Time { return now }

	_, err := p.Current(context.Background())
	require.NoError(t, err)
	_, err = p.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, auth.calls)

	now = time.Date(2026, 10, 15, 6, 0, 0, 0, types.IST)
	auth.now = now
	s, err := p.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, auth.calls)
	assert.True(t, s.Valid(now))
}

func TestProvider_RetriesWholeLogin(t *testing.T) {
	now := time.Date(2026, 10, 14, 9, 0, 0, 0, types.IST)
	auth := &countingAuth{now: now, fails: 2}
	p := NewProvider(auth, nil, noSleepPolicy(3))
	p.now = func() time.Time { return now }

	_, err := p.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, auth.calls)
}

func TestProvider_UsesValidCachedSession(t *testing.T) {
	now := time.Date(2026, 10, 14, 9, 0, 0, 0, types.IST)
	cache := NewMemoryCache()
	require.NoError(t, cache.Save(context.Background(), types.Session{AccessToken: "cached", Expiry: now.Add(time.Hour)}))

	auth := &countingAuth{now: now}
	p := NewProvider(auth, cache, noSleepPolicy(1))
	p.now = func() time.Time { return now }

	s, err := p.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cached", s.AccessToken)
	assert.Zero(t, auth.calls)

	s, err = p.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok", s.AccessToken)
	assert.Equal(t, 1, auth.calls)
}

type fakeRedis struct {
	data map[string]string
	ttl  time.Duration
}

func (r *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	v, ok := r.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (r *fakeRedis) Set(_ context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	r.data[key] = string(value.([]byte))
	r.ttl = expiration
	return redis.NewStatusResult("OK", nil)
}

func (r *fakeRedis) Close() error { return nil }

func TestRedisCache_RoundTrip(t *testing.T) {
	now := time.Date(2026, 10, 14, 9, 0, 0, 0, types.IST)
	r := &fakeRedis{data: map[string]string{}}
	c := newRedisCache(r, "autokite:session")
	c.now = func() time.Time { return now }

	_, ok, err := c.Load(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	s := types.Session{AccessToken: "tok", UserID: "AB1234", IssuedAt: now, Expiry: NextExpiry(now, 6)}
	require.NoError(t, c.Save(context.Background(), s))
	assert.Equal(t, 21*time.Hour, r.ttl)

	got, ok, err := c.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "tok", got.AccessToken)
	assert.True(t, s.Expiry.Equal(got.Expiry))
}

func TestRedisCache_SkipsExpiredSession(t *testing.T) {
	now := time.Date(2026, 10, 15, 7, 0, 0, 0, types.IST)
	r := &fakeRedis{data: map[string]string{}}
	c := newRedisCache(r, "k")
	c.now = func() time.Time { return now }

	require.NoError(t, c.Save(context.Background(), types.Session{AccessToken: "old", Expiry: now.Add(-time.Hour)}))
	assert.Empty(t, r.data)
}
