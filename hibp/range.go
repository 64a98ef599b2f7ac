package hibp

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/httphdr"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/validate"
	"github.com/c2h5oh/datasize"
)

// hdrAddPadding is the request header that asks the range endpoint to pad the
// response with fake records that have a zero count.
const hdrAddPadding = "Add-Padding"

// CandidateRecord is a single record of a range response.
type CandidateRecord struct {
	// Suffix is the uppercase digest suffix.
	Suffix string

	// Count is the number of times the digest has been seen in breaches.
	Count uint64
}

// LookupResult is the outcome of a successful lookup.
type LookupResult struct {
	// Count is the number of times the secret has been seen in breaches.  It
	// is zero if Compromised is false.
	Count uint64

	// Compromised is true if the digest was found.
	Compromised bool
}

// RangeConfig is the configuration structure for [RangeClient].
type RangeConfig struct {
	// Client is used to send requests.  It must not be nil.  Retries, if any,
	// are a property of this client and not of [RangeClient].
	Client *http.Client

	// Logger is used for debug logging.  It must not be nil.
	Logger *slog.Logger

	// URL is the base URL of the range endpoint.  The prefix is appended as
	// the last path element.  It must not be nil.
	URL *url.URL

	// UserAgent is sent with every request.  It must not be empty.
	UserAgent string

	// Timeout bounds a single request.  It must be positive.
	Timeout time.Duration

	// MaxRespSize is the maximum size of a response body.  It must be
	// positive.
	MaxRespSize datasize.ByteSize

	// Algorithm is the hash function the digests are produced with.
	Algorithm Algorithm

	// Padding, if true, requests padded responses.
	Padding bool
}

// type check
var _ validate.Interface = (*RangeConfig)(nil)

// Validate implements the [validate.Interface] interface for *RangeConfig.
func (c *RangeConfig) Validate() (err error) {
	if c == nil {
		return errors.ErrNoValue
	}

	errs := []error{
		validate.NotNil("Client", c.Client),
		validate.NotNil("Logger", c.Logger),
		validate.NotNil("URL", c.URL),
		validate.NotEmpty("UserAgent", c.UserAgent),
		validate.Positive("Timeout", c.Timeout),
		validate.Positive("MaxRespSize", c.MaxRespSize),
	}

	if c.Algorithm != AlgorithmSHA1 && c.Algorithm != AlgorithmNTLM {
		errs = append(errs, fmt.Errorf("Algorithm: bad value %s", c.Algorithm))
	}

	return errors.Join(errs...)
}

// RangeClient answers whether a digest has been seen in a breach while only
// revealing its [PrefixLength]-character prefix to the remote endpoint.  It
// keeps no state between calls and is safe for concurrent use.
type RangeClient struct {
	client      *http.Client
	logger      *slog.Logger
	url         *url.URL
	userAgent   string
	timeout     time.Duration
	maxRespSize datasize.ByteSize
	alg         Algorithm
	padding     bool
}

// NewRangeClient returns a new properly initialized *RangeClient.  c must be
// valid.
func NewRangeClient(c *RangeConfig) (rc *RangeClient) {
	return &RangeClient{
		client:      c.Client,
		logger:      c.Logger,
		url:         c.URL,
		userAgent:   c.UserAgent,
		timeout:     c.Timeout,
		maxRespSize: c.MaxRespSize,
		alg:         c.Algorithm,
		padding:     c.Padding,
	}
}

// Algorithm returns the hash function the digests passed to rc must be
// produced with.
func (rc *RangeClient) Algorithm() (alg Algorithm) {
	return rc.alg
}

// Check looks up d.  It sends exactly one request carrying only the prefix of
// d and matches the suffix locally.  If d is malformed, err wraps
// [ErrMalformedDigest].  Any other error has the type *[LookupFailure].
func (rc *RangeClient) Check(ctx context.Context, d Digest) (res *LookupResult, err error) {
	err = d.Validate(rc.alg)
	if err != nil {
		return nil, err
	}

	prefix, suffix := d.Prefix(), d.Suffix()

	recs, err := rc.Range(ctx, prefix)
	if err != nil {
		return nil, err
	}

	// The first matching record wins.  Well-formed responses never contain
	// the same suffix twice.
	for _, rec := range recs {
		if strings.EqualFold(rec.Suffix, suffix) {
			return &LookupResult{
				Count:       rec.Count,
				Compromised: true,
			}, nil
		}
	}

	return &LookupResult{}, nil
}

// Range returns all records sharing prefix.  A not-found response or an empty
// body result in no records and no error.  Records with a zero count are
// dropped when padding is enabled.  Any error other than a malformed prefix
// has the type *[LookupFailure].
func (rc *RangeClient) Range(ctx context.Context, prefix string) (recs []CandidateRecord, err error) {
	if len(prefix) != PrefixLength || Digest(prefix).hasBadChar() {
		return nil, fmt.Errorf("%w: bad prefix", ErrMalformedDigest)
	}

	ctx, cancel := context.WithTimeout(ctx, rc.timeout)
	defer cancel()

	body, err := rc.fetch(ctx, prefix)
	if err != nil {
		return nil, err
	}

	recs, skipped, err := ParseRange(bytes.NewReader(body), rc.alg)
	if err != nil {
		return nil, newParseFailure(err)
	}

	if rc.padding {
		recs = dropPadding(recs)
	}

	rc.logger.DebugContext(
		ctx,
		"range lookup",
		"prefix", prefix,
		"records", len(recs),
		"skipped", skipped,
	)

	return recs, nil
}

// fetch sends the range request for prefix and returns the response body.  A
// not-found response results in an empty body.
func (rc *RangeClient) fetch(ctx context.Context, prefix string) (body []byte, err error) {
	u := rc.url.JoinPath(prefix)
	if rc.alg == AlgorithmNTLM {
		u.RawQuery = url.Values{"mode": []string{"ntlm"}}.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		// Should not happen, since the URL is built from a valid one.
		return nil, fmt.Errorf("creating range request: %w", err)
	}

	req.Header.Set(httphdr.UserAgent, rc.userAgent)
	if rc.padding {
		req.Header.Set(hdrAddPadding, "true")
	}

	resp, err := rc.client.Do(req)
	if err != nil {
		return nil, newNetworkFailure(err)
	}
	defer func() { err = errors.WithDeferred(err, resp.Body.Close()) }()

	switch resp.StatusCode {
	case http.StatusOK:
		// Go on.
	case http.StatusNotFound:
		return nil, nil
	default:
		rc.logger.DebugContext(ctx, "range lookup failed", "prefix", prefix, "status", resp.StatusCode)

		return nil, newRemoteFailure(resp.StatusCode)
	}

	return readLimited(resp.Body, rc.maxRespSize)
}

// readLimited reads the whole of r.  Bodies larger than maxSize result in a
// parse failure and read errors in a network failure.
func readLimited(r io.Reader, maxSize datasize.ByteSize) (body []byte, err error) {
	limit := int64(maxSize.Bytes())
	body, err = io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, newNetworkFailure(fmt.Errorf("reading body: %w", err))
	}

	if int64(len(body)) > limit {
		return nil, newParseFailure(fmt.Errorf("body is larger than %s", maxSize))
	}

	return body, nil
}

// errNoRecords is returned by [ParseRange] when the data is not empty but not
// a single line could be parsed.
const errNoRecords errors.Error = "no valid records"

// ParseRange parses a range response of "SUFFIX:COUNT" lines for digests
// produced by alg.  Empty lines are ignored.  Malformed lines are skipped and
// counted in skipped.  err is only returned if r could not be read or if there
// are non-empty lines and none of them is valid.  Suffixes are uppercased.
func ParseRange(r io.Reader, alg Algorithm) (recs []CandidateRecord, skipped int, err error) {
	suffixLen := alg.HexLen() - PrefixLength

	br := bufio.NewReader(r)
	for {
		var (
			data    []byte
			tooLong bool
		)

		data, tooLong, err = nextLine(br)
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return nil, skipped, fmt.Errorf("reading range: %w", err)
		}

		if tooLong {
			skipped++

			continue
		}

		line := strings.TrimSpace(string(data))
		if line == "" {
			continue
		}

		rec, ok := parseRecord(line, suffixLen)
		if !ok {
			skipped++

			continue
		}

		recs = append(recs, rec)
	}

	if len(recs) == 0 && skipped > 0 {
		return nil, skipped, fmt.Errorf("%d lines: %w", skipped, errNoRecords)
	}

	return recs, skipped, nil
}

// nextLine returns the next line of br without the line ending.  Lines that do
// not fit into the buffer of br can't be valid records, so their data is
// discarded and tooLong is true.  err is [io.EOF] when there are no more
// lines.  line is only valid until the next read from br.
func nextLine(br *bufio.Reader) (line []byte, tooLong bool, err error) {
	line, isPrefix, err := br.ReadLine()
	for isPrefix && err == nil {
		tooLong = true
		_, isPrefix, err = br.ReadLine()
	}

	if tooLong && errors.Is(err, io.EOF) {
		// Report the oversized last line first, EOF comes with the next call.
		return nil, true, nil
	}

	return line, tooLong, err
}

// parseRecord parses a single trimmed, non-empty "SUFFIX:COUNT" line.
func parseRecord(line string, suffixLen int) (rec CandidateRecord, ok bool) {
	suffix, countStr, ok := strings.Cut(line, ":")
	if !ok {
		return rec, false
	}

	suffix = strings.ToUpper(strings.TrimSpace(suffix))
	if len(suffix) != suffixLen || Digest(suffix).hasBadChar() {
		return rec, false
	}

	count, err := strconv.ParseUint(strings.TrimSpace(countStr), 10, 64)
	if err != nil {
		return rec, false
	}

	return CandidateRecord{
		Suffix: suffix,
		Count:  count,
	}, true
}

// dropPadding removes the zero-count records from recs in place.
func dropPadding(recs []CandidateRecord) (filtered []CandidateRecord) {
	filtered = recs[:0]
	for _, rec := range recs {
		if rec.Count > 0 {
			filtered = append(filtered, rec)
		}
	}

	return filtered
}

// logFailure logs err, which is returned by one of the lookups, at a level
// fitting its kind.
func logFailure(ctx context.Context, l *slog.Logger, msg string, err error) {
	lvl := slog.LevelError
	if f, ok := AsLookupFailure(err); ok && f.Retryable() {
		lvl = slog.LevelWarn
	}

	l.Log(ctx, lvl, msg, slogutil.KeyError, err)
}
