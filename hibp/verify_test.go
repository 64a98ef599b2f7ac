package hibp_test

import (
	"context"
	"net/http"
	"testing"

	"compute-breach-check/hibp"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/h2non/gock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testFilterSource is a [hibp.FilterSource] for tests.
type testFilterSource struct {
	onFilter func(ctx context.Context, prefix string) (f *hibp.RangeFilter, err error)
}

// type check
var _ hibp.FilterSource = (*testFilterSource)(nil)

// Filter implements the [hibp.FilterSource] interface for *testFilterSource.
func (s *testFilterSource) Filter(ctx context.Context, prefix string) (f *hibp.RangeFilter, err error) {
	return s.onFilter(ctx, prefix)
}

// newFilterSource returns a source that always returns a filter of digests and
// records the requested prefixes into prefixes.
func newFilterSource(tb testing.TB, prefixes *[]string, digests ...hibp.Digest) (s *testFilterSource) {
	tb.Helper()

	f, err := hibp.NewRangeFilter(digests)
	require.NoError(tb, err)

	return &testFilterSource{
		onFilter: func(_ context.Context, prefix string) (rf *hibp.RangeFilter, err error) {
			*prefixes = append(*prefixes, prefix)

			return f, nil
		},
	}
}

func TestScreener_Check(t *testing.T) {
	defer gock.Off()

	rc := hibp.NewRangeClient(newRangeConfig(t, testRangeHost+"/range"))

	t.Run("ruled_out", func(t *testing.T) {
		// Any request results in a network failure.
		gock.Intercept()

		digests := newTestDigests("other", 100)
		f, err := hibp.NewRangeFilter(digests)
		require.NoError(t, err)
		require.False(t, f.Contains(testPasswordDigest))

		var prefixes []string
		s := hibp.NewScreener(newFilterSource(t, &prefixes, digests...), rc, testLogger)

		ctx := testutil.ContextWithTimeout(t, testTimeout)
		res, err := s.Check(ctx, testPasswordDigest)
		require.NoError(t, err)

		assert.Equal(t, &hibp.LookupResult{}, res)
		assert.Equal(t, []string{"5BA"}, prefixes)
	})

	t.Run("maybe_present", func(t *testing.T) {
		gock.New(testRangeHost).
			Get("/range/5BAA6").
			Times(1).
			Reply(http.StatusOK).
			BodyString(testRangeBody)

		var prefixes []string
		digests := append(newTestDigests("other", 100), testPasswordDigest)
		s := hibp.NewScreener(newFilterSource(t, &prefixes, digests...), rc, testLogger)

		ctx := testutil.ContextWithTimeout(t, testTimeout)
		res, err := s.Check(ctx, testPasswordDigest)
		require.NoError(t, err)

		assert.True(t, gock.IsDone())
		assert.Equal(t, &hibp.LookupResult{Count: 3861493, Compromised: true}, res)
	})

	t.Run("no_filter", func(t *testing.T) {
		gock.New(testRangeHost).
			Get("/range/5BAA6").
			Times(1).
			Reply(http.StatusOK).
			BodyString(testRangeBody)

		src := &testFilterSource{
			onFilter: func(_ context.Context, _ string) (f *hibp.RangeFilter, err error) {
				return nil, errors.Error("store unavailable")
			},
		}
		s := hibp.NewScreener(src, rc, testLogger)

		ctx := testutil.ContextWithTimeout(t, testTimeout)
		res, err := s.Check(ctx, testPasswordDigest)
		require.NoError(t, err)

		assert.True(t, gock.IsDone())
		assert.True(t, res.Compromised)
	})

	t.Run("malformed", func(t *testing.T) {
		src := &testFilterSource{
			onFilter: func(_ context.Context, _ string) (f *hibp.RangeFilter, err error) {
				panic("not implemented")
			},
		}
		s := hibp.NewScreener(src, rc, testLogger)

		ctx := testutil.ContextWithTimeout(t, testTimeout)
		_, err := s.Check(ctx, "5BAA6")
		assert.ErrorIs(t, err, hibp.ErrMalformedDigest)
	})
}

func TestScreener_Check_ntlm(t *testing.T) {
	defer gock.Off()

	gock.New(testRangeHost).
		Get("/range/8846F").
		MatchParam("mode", "ntlm").
		Times(1).
		Reply(http.StatusOK).
		BodyString(testPasswordNTLM.Suffix() + ":99\r\n")

	conf := newRangeConfig(t, testRangeHost+"/range")
	conf.Algorithm = hibp.AlgorithmNTLM
	rc := hibp.NewRangeClient(conf)

	// Filters only hold SHA-1 digests and must not be asked about NTLM ones.
	var prefixes []string
	src := newFilterSource(t, &prefixes, testPasswordDigest)
	s := hibp.NewScreener(src, rc, testLogger)

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	res, err := s.Check(ctx, testPasswordNTLM)
	require.NoError(t, err)

	assert.True(t, gock.IsDone())
	assert.Equal(t, &hibp.LookupResult{Count: 99, Compromised: true}, res)
	assert.Empty(t, prefixes)
}
