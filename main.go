package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"compute-breach-check/config"
	"compute-breach-check/edge"
	"compute-breach-check/hibp"
	"compute-breach-check/store"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/httphdr"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/caarlos0/env/v7"
	"github.com/fastly/compute-sdk-go/fsthttp"
	"github.com/fastly/compute-sdk-go/secretstore"
)

const hdrCompromisedPassword = "Fastly-Compromised-Password"

// environment is the part of the Compute environment the service uses.
type environment struct {
	ServiceVersion string `env:"FASTLY_SERVICE_VERSION"`
	Hostname       string `env:"FASTLY_HOSTNAME"`
}

// service handles a single request.  Compute runs a fresh instance for every
// request, so nothing here outlives it.
type service struct {
	logger   *slog.Logger
	envs     *environment
	lookup   *hibp.RangeClient
	screener *hibp.Screener
}

func main() {
	logger := slogutil.New(&slogutil.Config{
		Format: slogutil.FormatText,
		Level:  slog.LevelInfo,
	})

	envs := &environment{}
	err := env.Parse(envs)
	if err != nil {
		logger.Warn("parsing environment", slogutil.KeyError, err)
	}

	lookup := hibp.NewRangeClient(&hibp.RangeConfig{
		Client:      edge.NewClient(config.RANGE_BACKEND),
		Logger:      logger,
		URL:         errors.Must(url.Parse(config.RANGE_API_URL)),
		UserAgent:   config.USER_AGENT,
		Timeout:     config.LOOKUP_TIMEOUT,
		MaxRespSize: config.MAX_RESP_SIZE,
		Algorithm:   hibp.AlgorithmSHA1,
		Padding:     true,
	})

	svc := &service{
		logger:   logger.With("host", envs.Hostname),
		envs:     envs,
		lookup:   lookup,
		screener: hibp.NewScreener(store.NewKVFilterSource(config.KV_STORE_NAME), lookup, logger),
	}

	fsthttp.ServeFunc(svc.serve)
}

func (svc *service) serve(ctx context.Context, w fsthttp.ResponseWriter, r *fsthttp.Request) {
	// Only the service itself may set it.
	r.Header.Del(hdrCompromisedPassword)

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/api/health":
		svc.writeJSON(ctx, w, http.StatusOK, &edge.HealthResponse{
			Status:  "healthy",
			Service: config.USER_AGENT,
			Version: svc.envs.ServiceVersion,
		})

		return
	case r.Method == http.MethodPost && r.URL.Path == "/api/check-password":
		svc.checkPassword(ctx, w, r)

		return
	case r.Method == http.MethodPost && r.URL.Path == "/api/check-email":
		svc.checkEmail(ctx, w, r)

		return
	case r.Method == http.MethodPost && r.URL.Path == config.PASSWORD_FORM_PATH:
		svc.annotateForm(ctx, r)
	}

	resp, err := r.Send(ctx, config.ORIGIN_BACKEND)
	if err != nil {
		svc.logger.ErrorContext(ctx, "forwarding to origin", slogutil.KeyError, err)
		w.WriteHeader(fsthttp.StatusBadGateway)

		return
	}

	w.Header().Reset(resp.Header)
	w.WriteHeader(resp.StatusCode)
	_, err = io.Copy(w, resp.Body)
	if err != nil {
		svc.logger.DebugContext(ctx, "copying origin response", slogutil.KeyError, err)
	}
}

func (svc *service) checkPassword(ctx context.Context, w fsthttp.ResponseWriter, r *fsthttp.Request) {
	d, err := edge.DecodeDigest(r.Body)
	if err == nil {
		var res *hibp.LookupResult
		res, err = svc.lookup.Check(ctx, d)
		if err == nil {
			svc.writeJSON(ctx, w, http.StatusOK, edge.NewPasswordResponse(res))

			return
		}
	}

	svc.writeError(ctx, w, "checking password", err)
}

func (svc *service) checkEmail(ctx context.Context, w fsthttp.ResponseWriter, r *fsthttp.Request) {
	email, err := edge.DecodeEmail(r.Body)
	if err == nil {
		var bc *hibp.BreachClient
		bc, err = svc.breachClient()
		if err == nil {
			var breaches []*hibp.BreachRecord
			breaches, err = bc.BreachedAccount(ctx, email)
			if err == nil {
				svc.writeJSON(ctx, w, http.StatusOK, &edge.EmailResponse{Breaches: breaches})

				return
			}
		}
	}

	svc.writeError(ctx, w, "checking email", err)
}

// breachClient returns a breach-directory client with the API key from the
// secret store.
func (svc *service) breachClient() (bc *hibp.BreachClient, err error) {
	defer func() { err = errors.Annotate(err, "secret store %q: %w", config.SECRET_STORE_NAME) }()

	st, err := secretstore.Open(config.SECRET_STORE_NAME)
	if err != nil {
		return nil, err
	}

	secret, err := st.Get(config.SECRET_API_KEY)
	if err != nil {
		return nil, err
	}

	key, err := secret.Plaintext()
	if err != nil {
		return nil, err
	}

	conf := &hibp.BreachConfig{
		Client:      edge.NewClient(config.BREACH_BACKEND),
		Logger:      svc.logger,
		URL:         errors.Must(url.Parse(config.BREACH_API_URL)),
		APIKey:      string(key),
		UserAgent:   config.USER_AGENT,
		Interval:    config.BREACH_REQUEST_INTERVAL,
		Timeout:     config.LOOKUP_TIMEOUT,
		MaxRespSize: config.MAX_RESP_SIZE,
	}

	err = conf.Validate()
	if err != nil {
		return nil, err
	}

	return hibp.NewBreachClient(conf), nil
}

// annotateForm sets the compromised-password header on a login form request
// before it is forwarded.  The header is left out when the check fails.
func (svc *service) annotateForm(ctx context.Context, r *fsthttp.Request) {
	reqBody, err := io.ReadAll(r.Body)
	if err != nil {
		svc.logger.WarnContext(ctx, "reading form", slogutil.KeyError, err)

		return
	}

	r.Body = io.NopCloser(bytes.NewReader(reqBody))

	pw, ok := edge.FormPassword(reqBody, config.PASSWORD_FORM_FIELD)
	if !ok {
		return
	}

	res, err := svc.screener.Check(ctx, hibp.Hash(pw))
	if err != nil {
		svc.logger.WarnContext(ctx, "unable to verify password compromise status", slogutil.KeyError, err)

		return
	}

	r.Header.Set(hdrCompromisedPassword, strconv.FormatBool(res.Compromised))
}

func (svc *service) writeError(ctx context.Context, w fsthttp.ResponseWriter, msg string, err error) {
	code, userMsg := edge.ErrorStatus(err)
	if code >= http.StatusInternalServerError {
		svc.logger.ErrorContext(ctx, msg, slogutil.KeyError, err)
	} else {
		svc.logger.DebugContext(ctx, msg, slogutil.KeyError, err)
	}

	svc.writeJSON(ctx, w, code, &edge.ErrorResponse{Error: userMsg})
}

func (svc *service) writeJSON(ctx context.Context, w fsthttp.ResponseWriter, code int, v any) {
	w.Header().Set(httphdr.ContentType, "application/json")
	w.WriteHeader(code)

	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		svc.logger.DebugContext(ctx, "writing response", slogutil.KeyError, err)
	}
}
