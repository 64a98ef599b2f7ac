package edge

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"compute-breach-check/hibp"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/c2h5oh/datasize"
)

// ErrBadRequest is returned when a request body cannot be decoded.
const ErrBadRequest errors.Error = "bad request body"

// maxReqSize is the maximum size of an API request body.
const maxReqSize = 16 * datasize.KB

// PasswordRequest is the body of a password check.  Hash is the digest of the
// password computed by the client.
type PasswordRequest struct {
	Hash string `json:"hash"`
}

// PasswordResponse is the body of a successful password check.
type PasswordResponse struct {
	IsPwned bool   `json:"isPwned"`
	Count   uint64 `json:"count"`
}

// EmailRequest is the body of an email check.
type EmailRequest struct {
	Email string `json:"email"`
}

// EmailResponse is the body of a successful email check.
type EmailResponse struct {
	Breaches []*hibp.BreachRecord `json:"breaches"`
}

// ErrorResponse is the body of a failed check.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the body of the health check.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version,omitempty"`
}

// DecodeDigest reads a [PasswordRequest] from r and returns its digest.  The
// digest is uppercased but not validated.
func DecodeDigest(r io.Reader) (d hibp.Digest, err error) {
	req := &PasswordRequest{}
	err = decode(r, req)
	if err != nil {
		return "", err
	}

	return hibp.Digest(strings.ToUpper(strings.TrimSpace(req.Hash))), nil
}

// DecodeEmail reads an [EmailRequest] from r and returns its address.
func DecodeEmail(r io.Reader) (email string, err error) {
	req := &EmailRequest{}
	err = decode(r, req)
	if err != nil {
		return "", err
	}

	return req.Email, nil
}

// decode decodes a single JSON value from r into v.
func decode(r io.Reader, v any) (err error) {
	err = json.NewDecoder(io.LimitReader(r, int64(maxReqSize.Bytes()))).Decode(v)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBadRequest, err)
	}

	return nil
}

// NewPasswordResponse converts res into a response body.
func NewPasswordResponse(res *hibp.LookupResult) (resp *PasswordResponse) {
	return &PasswordResponse{
		IsPwned: res.Compromised,
		Count:   res.Count,
	}
}

// ErrorStatus returns the HTTP status code and the user-visible message for an
// error returned by one of the checks.  A failed lookup is never reported as a
// successful one.
func ErrorStatus(err error) (code int, msg string) {
	switch {
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest, "Invalid request body"
	case errors.Is(err, hibp.ErrMalformedDigest):
		return http.StatusBadRequest, "Invalid hash"
	case errors.Is(err, hibp.ErrInvalidEmail):
		return http.StatusBadRequest, "Invalid email format"
	}

	f, ok := hibp.AsLookupFailure(err)
	if ok && f.Kind == hibp.FailureKindRemote && f.Status == http.StatusTooManyRequests {
		return http.StatusTooManyRequests, "Rate limit exceeded. Please try again later."
	}

	return http.StatusServiceUnavailable, "Service unavailable"
}

// FormPassword returns the value of field from a URL-encoded form body.
func FormPassword(body []byte, field string) (pw string, ok bool) {
	vals, err := url.ParseQuery(string(body))
	if err != nil {
		return "", false
	}

	if !vals.Has(field) {
		return "", false
	}

	return vals.Get(field), true
}
