package config

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/AdguardTeam/golibs/validate"
	"github.com/c2h5oh/datasize"
	"github.com/caarlos0/env/v7"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
)

// Environment is the configuration of the command-line tools that is kept in
// the environment.
type Environment struct {
	RangeURL  *url.URL `env:"RANGE_URL" envDefault:"https://api.pwnedpasswords.com/range"`
	BreachURL *url.URL `env:"BREACH_URL" envDefault:"https://haveibeenpwned.com/api/v3"`

	APIKey    string `env:"HIBP_API_KEY"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
	UserAgent string `env:"HIBP_USER_AGENT" envDefault:"compute-breach-check"`

	MaxRespSize datasize.ByteSize `env:"MAX_RESP_SIZE" envDefault:"4MB"`

	BreachRequestIvl timeutil.Duration `env:"BREACH_REQUEST_INTERVAL" envDefault:"1500ms"`
	LookupTimeout    timeutil.Duration `env:"LOOKUP_TIMEOUT" envDefault:"10s"`

	Verbosity uint8 `env:"VERBOSE" envDefault:"0"`

	LogTimestamp bool `env:"LOG_TIMESTAMP" envDefault:"true"`
}

// ParseEnvironment reads the configuration from the environment.
func ParseEnvironment() (envs *Environment, err error) {
	envs = &Environment{}
	err = env.Parse(envs)
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	return envs, nil
}

// type check
var _ validate.Interface = (*Environment)(nil)

// Validate implements the [validate.Interface] interface for *Environment.
// The API key is validated by the commands that need it.
func (envs *Environment) Validate() (err error) {
	errs := []error{
		validate.NotNil("env RANGE_URL", envs.RangeURL),
		validate.NotNil("env BREACH_URL", envs.BreachURL),
		validate.NotEmpty("env HIBP_USER_AGENT", envs.UserAgent),
		validate.Positive("env MAX_RESP_SIZE", envs.MaxRespSize),
		validate.Positive("env BREACH_REQUEST_INTERVAL", envs.BreachRequestIvl),
		validate.Positive("env LOOKUP_TIMEOUT", envs.LookupTimeout),
	}

	_, err = slogutil.NewFormat(envs.LogFormat)
	if err != nil {
		errs = append(errs, fmt.Errorf("env LOG_FORMAT: %w", err))
	}

	_, err = slogutil.VerbosityToLevel(envs.Verbosity)
	if err != nil {
		errs = append(errs, fmt.Errorf("env VERBOSE: %w", err))
	}

	return errors.Join(errs...)
}

// NewLogger returns the base logger for the command-line tools.  envs must be
// valid.
func (envs *Environment) NewLogger() (l *slog.Logger) {
	lvl := errors.Must(slogutil.VerbosityToLevel(envs.Verbosity))

	return slogutil.New(&slogutil.Config{
		// Don't use [slogutil.NewFormat] here, because the value is validated.
		Format:       slogutil.Format(envs.LogFormat),
		AddTimestamp: envs.LogTimestamp,
		Level:        lvl,
	})
}

// NewHTTPClient returns a pooled HTTP client that retries connection errors,
// 429 and 5xx responses up to retries times.  After the last attempt the last
// response is returned as is, so that the status reaches the lookups.  With
// zero retries every request is sent exactly once.
func NewHTTPClient(l *slog.Logger, retries int) (c *http.Client) {
	rc := retryablehttp.NewClient()
	rc.HTTPClient = cleanhttp.DefaultPooledClient()
	rc.HTTPClient.Transport.(*http.Transport).MaxIdleConnsPerHost = 100
	rc.Logger = l
	rc.RetryMax = retries
	rc.RetryWaitMin = HTTP_CLIENT_RETRY_WAIT_MIN
	rc.RetryWaitMax = HTTP_CLIENT_RETRY_WAIT_MAX
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return rc.StandardClient()
}
