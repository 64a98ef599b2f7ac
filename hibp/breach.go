package hibp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/httphdr"
	"github.com/AdguardTeam/golibs/validate"
	"github.com/c2h5oh/datasize"
	"golang.org/x/time/rate"
)

// hdrAPIKey is the request header carrying the breach-directory API key.
const hdrAPIKey = "hibp-api-key"

// ErrInvalidEmail is returned by [BreachClient.BreachedAccount] when the
// address is not a plausible email address.
const ErrInvalidEmail errors.Error = "invalid email address"

// emailRe is a deliberately loose email address pattern.
var emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// BreachRecord is a single breach from the breach directory.  It is returned
// as-is from the remote service.
type BreachRecord struct {
	Name        string   `json:"Name"`
	Title       string   `json:"Title"`
	Domain      string   `json:"Domain"`
	BreachDate  string   `json:"BreachDate"`
	AddedDate   string   `json:"AddedDate"`
	Description string   `json:"Description"`
	DataClasses []string `json:"DataClasses"`
	PwnCount    uint64   `json:"PwnCount"`
	IsVerified  bool     `json:"IsVerified"`
	IsSensitive bool     `json:"IsSensitive"`
}

// BreachConfig is the configuration structure for [BreachClient].
type BreachConfig struct {
	// Client is used to send requests.  It must not be nil.
	Client *http.Client

	// Logger is used for debug logging.  It must not be nil.
	Logger *slog.Logger

	// URL is the base URL of the breach-directory API, for example
	// "https://haveibeenpwned.com/api/v3".  It must not be nil.
	URL *url.URL

	// APIKey is the caller's breach-directory API key.  It must not be empty.
	APIKey string

	// UserAgent is sent with every request.  It must not be empty.
	UserAgent string

	// Interval is the minimum delay between two successive requests.  It
	// must be positive.
	Interval time.Duration

	// Timeout bounds a single request.  It must be positive.
	Timeout time.Duration

	// MaxRespSize is the maximum size of a response body.  It must be
	// positive.
	MaxRespSize datasize.ByteSize
}

// type check
var _ validate.Interface = (*BreachConfig)(nil)

// Validate implements the [validate.Interface] interface for *BreachConfig.
func (c *BreachConfig) Validate() (err error) {
	if c == nil {
		return errors.ErrNoValue
	}

	return errors.Join(
		validate.NotNil("Client", c.Client),
		validate.NotNil("Logger", c.Logger),
		validate.NotNil("URL", c.URL),
		validate.NotEmpty("APIKey", c.APIKey),
		validate.NotEmpty("UserAgent", c.UserAgent),
		validate.Positive("Interval", c.Interval),
		validate.Positive("Timeout", c.Timeout),
		validate.Positive("MaxRespSize", c.MaxRespSize),
	)
}

// BreachClient looks up email addresses in the breach directory.  Successive
// requests of a single client are spaced out by the configured interval.
type BreachClient struct {
	client      *http.Client
	logger      *slog.Logger
	limiter     *rate.Limiter
	url         *url.URL
	apiKey      string
	userAgent   string
	timeout     time.Duration
	maxRespSize datasize.ByteSize
}

// NewBreachClient returns a new properly initialized *BreachClient.  c must be
// valid.
func NewBreachClient(c *BreachConfig) (bc *BreachClient) {
	return &BreachClient{
		client:      c.Client,
		logger:      c.Logger,
		limiter:     rate.NewLimiter(rate.Every(c.Interval), 1),
		url:         c.URL,
		apiKey:      c.APIKey,
		userAgent:   c.UserAgent,
		timeout:     c.Timeout,
		maxRespSize: c.MaxRespSize,
	}
}

// BreachedAccount returns the breaches email appears in.  An address without
// known breaches results in an empty slice and no error.  If email is
// invalid, err is [ErrInvalidEmail].  Errors of the remote lookup have the
// type *[LookupFailure].
func (bc *BreachClient) BreachedAccount(
	ctx context.Context,
	email string,
) (breaches []*BreachRecord, err error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if !emailRe.MatchString(email) {
		return nil, ErrInvalidEmail
	}

	err = bc.limiter.Wait(ctx)
	if err != nil {
		return nil, newNetworkFailure(fmt.Errorf("waiting for rate limiter: %w", err))
	}

	ctx, cancel := context.WithTimeout(ctx, bc.timeout)
	defer cancel()

	body, err := bc.fetch(ctx, email)
	if err != nil {
		return nil, err
	}

	breaches = []*BreachRecord{}
	if len(body) == 0 {
		return breaches, nil
	}

	err = json.Unmarshal(body, &breaches)
	if err != nil {
		return nil, newParseFailure(fmt.Errorf("decoding breaches: %w", err))
	}

	bc.logger.DebugContext(ctx, "breach lookup", "breaches", len(breaches))

	return breaches, nil
}

// fetch sends the breached-account request and returns the response body.  A
// not-found response results in an empty body.
func (bc *BreachClient) fetch(ctx context.Context, email string) (body []byte, err error) {
	// Escape the address so that "/" and ".." stay inside the last path
	// element.
	u := bc.url.JoinPath("breachedaccount", url.PathEscape(email))
	u.RawQuery = url.Values{"truncateResponse": []string{"false"}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating breach request: %w", err)
	}

	req.Header.Set(httphdr.UserAgent, bc.userAgent)
	req.Header.Set(hdrAPIKey, bc.apiKey)

	resp, err := bc.client.Do(req)
	if err != nil {
		return nil, newNetworkFailure(err)
	}
	defer func() { err = errors.WithDeferred(err, resp.Body.Close()) }()

	switch resp.StatusCode {
	case http.StatusOK:
		return readLimited(resp.Body, bc.maxRespSize)
	case http.StatusNotFound:
		return nil, nil
	default:
		bc.logger.DebugContext(ctx, "breach lookup failed", "status", resp.StatusCode)

		return nil, newRemoteFailure(resp.StatusCode)
	}
}
