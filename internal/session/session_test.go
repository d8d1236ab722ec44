package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/autoapply/api/schemas"
	"github.com/xkilldash9x/autoapply/internal/config"
	"github.com/xkilldash9x/autoapply/internal/mocks"
)

// fakeRedis is an in-memory stand-in for the two commands the store uses.
type fakeRedis struct {
	data   map[string]string
	ttls   map[string]time.Duration
	getErr error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.data[key] = string(value.([]byte))
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

var jobsCookies = []schemas.Cookie{
	{Name: "sid", Value: "abc", Domain: ".jobs.example.com", Path: "/", Secure: true},
	{Name: "pref", Value: "en", Domain: "jobs.example.com", Path: "/"},
	{Name: "_ga", Value: "tracker", Domain: ".analytics.example.net", Path: "/"},
}

func TestRedisStore_RoundTrip(t *testing.T) {
	fake := newFakeRedis()
	store := newRedisStore(fake, config.RedisConfig{KeyPrefix: "autoapply:cookies:", CookieTTL: time.Hour})
	ctx := context.Background()

	got, err := store.Get(ctx, "https://jobs.example.com")
	require.NoError(t, err)
	assert.Nil(t, got, "missing key is not an error")

	require.NoError(t, store.Put(ctx, "https://jobs.example.com", jobsCookies[:2]))
	assert.Contains(t, fake.data, "autoapply:cookies:https://jobs.example.com")
	assert.Equal(t, time.Hour, fake.ttls["autoapply:cookies:https://jobs.example.com"])

	got, err = store.Get(ctx, "https://jobs.example.com")
	require.NoError(t, err)
	assert.Equal(t, jobsCookies[:2], got)
}

func TestRedisStore_Errors(t *testing.T) {
	fake := newFakeRedis()
	store := newRedisStore(fake, config.RedisConfig{KeyPrefix: "k:"})

	fake.data["k:https://a.example"] = "{not json"
	_, err := store.Get(context.Background(), "https://a.example")
	assert.ErrorContains(t, err, "decode cookies")

	fake.getErr = errors.New("connection reset")
	_, err = store.Get(context.Background(), "https://a.example")
	assert.ErrorContains(t, err, "connection reset")
}

func TestManager_SaveKeepsFirstPartyCookies(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager(store, zaptest.NewLogger(t))
	b := mocks.NewFakeBrowser(mocks.FakePage{URL: "https://jobs.example.com/apply"})
	b.CookieJar = append([]schemas.Cookie(nil), jobsCookies...)

	require.NoError(t, m.Save(context.Background(), "https://jobs.example.com", b))

	saved, err := store.Get(context.Background(), "https://jobs.example.com")
	require.NoError(t, err)
	require.Len(t, saved, 2)
	for _, c := range saved {
		assert.NotEqual(t, "_ga", c.Name)
	}
}

func TestManager_LoadRestoresIntoFreshBrowser(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Put(context.Background(), "https://jobs.example.com", jobsCookies[:1]))
	m := NewManager(store, zaptest.NewLogger(t))

	b := mocks.NewFakeBrowser(mocks.FakePage{})
	require.NoError(t, m.Load(context.Background(), "https://jobs.example.com", b))
	assert.Equal(t, jobsCookies[:1], b.CookieJar)

	empty := mocks.NewFakeBrowser(mocks.FakePage{})
	require.NoError(t, m.Load(context.Background(), "https://other.example.com", empty))
	assert.Zero(t, empty.CallCount("set_cookies"), "nothing stored means no browser call")
}

func TestManager_DeadBrowser(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Put(context.Background(), "https://jobs.example.com", jobsCookies[:1]))
	m := NewManager(store, zaptest.NewLogger(t))

	b := mocks.NewFakeBrowser(mocks.FakePage{})
	b.Dead = true
	assert.ErrorIs(t, m.Load(context.Background(), "https://jobs.example.com", b), schemas.ErrBrowserUnavailable)
	assert.ErrorIs(t, m.Save(context.Background(), "https://jobs.example.com", b), schemas.ErrBrowserUnavailable)
}

func TestDomainMatches(t *testing.T) {
	tests := []struct {
		host, domain string
		want         bool
	}{
		{"jobs.example.com", "jobs.example.com", true},
		{"jobs.example.com", ".example.com", true},
		{"jobs.example.com", "example.com", true},
		{"badexample.com", "example.com", false},
		{"jobs.example.com", "", false},
		{"JOBS.example.com", ".Example.com", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, domainMatches(tt.host, tt.domain), "%s vs %s", tt.host, tt.domain)
	}
}
