package hibp_test

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"compute-breach-check/hibp"

	"github.com/AdguardTeam/golibs/httphdr"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/c2h5oh/datasize"
	"github.com/h2non/gock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testAPIKey is the common API key for tests.
const testAPIKey = "0123456789abcdef"

// testBreachBody is a breached-account response with a single breach.
const testBreachBody = `[{
	"Name": "Adobe",
	"Title": "Adobe",
	"Domain": "adobe.com",
	"BreachDate": "2013-10-04",
	"AddedDate": "2013-12-04T00:00:00Z",
	"PwnCount": 152445165,
	"Description": "In October 2013, 153 million Adobe accounts were breached.",
	"DataClasses": ["Email addresses", "Password hints", "Passwords", "Usernames"],
	"IsVerified": true,
	"IsSensitive": false
}]`

// newBreachClient returns a breach client for tests that sends requests to
// [testBreachHost].
func newBreachClient(tb testing.TB, ivl time.Duration) (bc *hibp.BreachClient) {
	tb.Helper()

	u, err := url.Parse(testBreachHost + "/api/v3")
	require.NoError(tb, err)

	c := &hibp.BreachConfig{
		Client:      &http.Client{},
		Logger:      testLogger,
		URL:         u,
		APIKey:      testAPIKey,
		UserAgent:   testUserAgent,
		Interval:    ivl,
		Timeout:     testTimeout,
		MaxRespSize: 1 * datasize.MB,
	}
	require.NoError(tb, c.Validate())

	return hibp.NewBreachClient(c)
}

func TestBreachClient_BreachedAccount(t *testing.T) {
	defer gock.Off()

	bc := newBreachClient(t, time.Millisecond)

	t.Run("breached", func(t *testing.T) {
		gock.New(testBreachHost).
			Get("/api/v3/breachedaccount/test@example.com").
			MatchParam("truncateResponse", "false").
			MatchHeader("hibp-api-key", testAPIKey).
			MatchHeader(httphdr.UserAgent, testUserAgent).
			Times(1).
			Reply(http.StatusOK).
			BodyString(testBreachBody)

		ctx := testutil.ContextWithTimeout(t, testTimeout)
		breaches, err := bc.BreachedAccount(ctx, " Test@Example.COM ")
		require.NoError(t, err)
		require.Len(t, breaches, 1)

		assert.True(t, gock.IsDone())

		b := breaches[0]
		assert.Equal(t, "Adobe", b.Name)
		assert.Equal(t, "2013-10-04", b.BreachDate)
		assert.Equal(t, uint64(152445165), b.PwnCount)
		assert.Len(t, b.DataClasses, 4)
		assert.True(t, b.IsVerified)
		assert.False(t, b.IsSensitive)
	})

	t.Run("not_breached", func(t *testing.T) {
		gock.New(testBreachHost).
			Get("/api/v3/breachedaccount/clean@example.com").
			Times(1).
			Reply(http.StatusNotFound)

		ctx := testutil.ContextWithTimeout(t, testTimeout)
		breaches, err := bc.BreachedAccount(ctx, "clean@example.com")
		require.NoError(t, err)

		assert.True(t, gock.IsDone())
		assert.NotNil(t, breaches)
		assert.Empty(t, breaches)
	})

	t.Run("rate_limited", func(t *testing.T) {
		gock.New(testBreachHost).
			Get("/api/v3/breachedaccount/test@example.com").
			Times(1).
			Reply(http.StatusTooManyRequests)

		ctx := testutil.ContextWithTimeout(t, testTimeout)
		breaches, err := bc.BreachedAccount(ctx, "test@example.com")
		assert.Nil(t, breaches)

		f, ok := hibp.AsLookupFailure(err)
		require.True(t, ok)

		assert.Equal(t, hibp.FailureKindRemote, f.Kind)
		assert.Equal(t, http.StatusTooManyRequests, f.Status)
		assert.True(t, f.Retryable())
	})

	t.Run("unauthorized", func(t *testing.T) {
		gock.New(testBreachHost).
			Get("/api/v3/breachedaccount/test@example.com").
			Times(1).
			Reply(http.StatusUnauthorized)

		ctx := testutil.ContextWithTimeout(t, testTimeout)
		_, err := bc.BreachedAccount(ctx, "test@example.com")

		f, ok := hibp.AsLookupFailure(err)
		require.True(t, ok)

		assert.False(t, f.Retryable())
	})

	t.Run("bad_json", func(t *testing.T) {
		gock.New(testBreachHost).
			Get("/api/v3/breachedaccount/test@example.com").
			Times(1).
			Reply(http.StatusOK).
			BodyString(`{"Name":`)

		ctx := testutil.ContextWithTimeout(t, testTimeout)
		_, err := bc.BreachedAccount(ctx, "test@example.com")

		f, ok := hibp.AsLookupFailure(err)
		require.True(t, ok)

		assert.Equal(t, hibp.FailureKindParse, f.Kind)
	})
}

func TestBreachClient_BreachedAccount_invalid(t *testing.T) {
	defer gock.Off()

	// Any request results in a network failure.
	gock.Intercept()

	bc := newBreachClient(t, time.Millisecond)
	ctx := testutil.ContextWithTimeout(t, testTimeout)

	for _, email := range []string{"", "not-an-email", "user@localhost", "a b@example.com"} {
		breaches, err := bc.BreachedAccount(ctx, email)
		assert.Nil(t, breaches)
		assert.ErrorIs(t, err, hibp.ErrInvalidEmail)
	}
}

func TestBreachClient_BreachedAccount_interval(t *testing.T) {
	defer gock.Off()

	const ivl = 100 * time.Millisecond

	gock.New(testBreachHost).
		Get("/api/v3/breachedaccount/test@example.com").
		Times(2).
		Reply(http.StatusNotFound)

	bc := newBreachClient(t, ivl)
	ctx := testutil.ContextWithTimeout(t, testTimeout)

	start := time.Now()
	for range 2 {
		_, err := bc.BreachedAccount(ctx, "test@example.com")
		require.NoError(t, err)
	}

	assert.True(t, gock.IsDone())
	assert.GreaterOrEqual(t, time.Since(start), ivl*9/10)
}

func TestBreachClient_BreachedAccount_pathChars(t *testing.T) {
	var gotPaths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPaths = append(gotPaths, r.URL.EscapedPath())
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL + "/api/v3")
	require.NoError(t, err)

	c := &hibp.BreachConfig{
		Client:      srv.Client(),
		Logger:      testLogger,
		URL:         u,
		APIKey:      testAPIKey,
		UserAgent:   testUserAgent,
		Interval:    time.Millisecond,
		Timeout:     testTimeout,
		MaxRespSize: 1 * datasize.MB,
	}
	require.NoError(t, c.Validate())

	bc := hibp.NewBreachClient(c)
	ctx := testutil.ContextWithTimeout(t, testTimeout)

	for _, email := range []string{"a/b@example.com", "x/../../../admin@example.com"} {
		_, err = bc.BreachedAccount(ctx, email)
		require.NoError(t, err)
	}

	assert.Equal(t, []string{
		"/api/v3/breachedaccount/a%2Fb@example.com",
		"/api/v3/breachedaccount/x%2F..%2F..%2F..%2Fadmin@example.com",
	}, gotPaths)
}
