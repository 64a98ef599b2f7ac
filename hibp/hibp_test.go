package hibp_test

import (
	"net/http"
	"net/url"
	"testing"
	"time"

	"compute-breach-check/hibp"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/require"
)

// testTimeout is the common timeout for tests.
const testTimeout = 1 * time.Second

// Common test values.
const (
	testRangeHost  = "https://api.pwnedpasswords.com"
	testBreachHost = "https://haveibeenpwned.com"
	testUserAgent  = "breach-check-test"

	// testPasswordDigest is the SHA-1 digest of "password".
	testPasswordDigest hibp.Digest = "5BAA61E4C9B93F3F0682250B6CF8331B7EE68FD8"

	// testEmptyDigest is the SHA-1 digest of "".
	testEmptyDigest hibp.Digest = "DA39A3EE5E6B4B0D3255BFEF95601890AFD80709"

	// testPasswordNTLM is the NTLM digest of "password".
	testPasswordNTLM hibp.Digest = "8846F7EAEE8FB117AD06BDD830B7586C"
)

// testLogger is the common logger for tests.
var testLogger = slogutil.NewDiscardLogger()

// newRangeConfig returns a valid range configuration for tests that sends
// requests to rangeURL.
func newRangeConfig(tb testing.TB, rangeURL string) (c *hibp.RangeConfig) {
	tb.Helper()

	u, err := url.Parse(rangeURL)
	require.NoError(tb, err)

	c = &hibp.RangeConfig{
		Client:      &http.Client{},
		Logger:      testLogger,
		URL:         u,
		UserAgent:   testUserAgent,
		Timeout:     testTimeout,
		MaxRespSize: 1 * datasize.MB,
		Algorithm:   hibp.AlgorithmSHA1,
	}
	require.NoError(tb, c.Validate())

	return c
}
