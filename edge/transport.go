// Package edge contains the glue between the Compute runtime and the lookups:
// an HTTP transport over Compute backends and the JSON API helpers of the
// edge service.
package edge

import (
	"io"
	"net/http"

	"github.com/AdguardTeam/golibs/httphdr"
	"github.com/fastly/compute-sdk-go/fsthttp"
)

const hdrRetryAfter = "Retry-After"

// respHeaders are the response headers copied from backend responses.
var respHeaders = []string{
	httphdr.ContentType,
	hdrRetryAfter,
	httphdr.Server,
}

// BackendTransport is an [http.RoundTripper] that sends requests through a
// named Compute backend.  Responses are never served from the Compute cache.
type BackendTransport struct {
	Backend string
}

// type check
var _ http.RoundTripper = (*BackendTransport)(nil)

// RoundTrip implements the [http.RoundTripper] interface for
// *BackendTransport.
func (t *BackendTransport) RoundTrip(req *http.Request) (resp *http.Response, err error) {
	var body io.Reader
	if req.Body != nil {
		body = req.Body
	}

	freq, err := fsthttp.NewRequest(req.Method, req.URL.String(), body)
	if err != nil {
		return nil, err
	}

	for k, vs := range req.Header {
		for _, v := range vs {
			freq.Header.Add(k, v)
		}
	}

	freq.CacheOptions.Pass = true

	fresp, err := freq.Send(req.Context(), t.Backend)
	if err != nil {
		return nil, err
	}

	resp = &http.Response{
		Status:     http.StatusText(fresp.StatusCode),
		StatusCode: fresp.StatusCode,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     http.Header{},
		Body:       fresp.Body,
		Request:    req,
	}

	for _, k := range respHeaders {
		if v := fresp.Header.Get(k); v != "" {
			resp.Header.Set(k, v)
		}
	}

	return resp, nil
}

// NewClient returns an HTTP client sending all requests through backend.
func NewClient(backend string) (c *http.Client) {
	return &http.Client{
		Transport: &BackendTransport{
			Backend: backend,
		},
	}
}
