package hibp

import (
	"context"
	"log/slog"
)

// FilterSource returns range filters by their [FilterPrefixLength]-character
// prefix.
type FilterSource interface {
	// Filter returns the filter for prefix.  f must not be nil if err is nil.
	Filter(ctx context.Context, prefix string) (f *RangeFilter, err error)
}

// Screener checks digests against a local range filter first and only asks
// the range endpoint when the filter cannot rule the digest out.
type Screener struct {
	filters FilterSource
	lookup  *RangeClient
	logger  *slog.Logger
}

// NewScreener returns a new *Screener.  All arguments must not be nil.
func NewScreener(filters FilterSource, lookup *RangeClient, logger *slog.Logger) (s *Screener) {
	return &Screener{
		filters: filters,
		lookup:  lookup,
		logger:  logger,
	}
}

// Check looks up d.  A digest absent from its filter is reported as not
// compromised without a network request.  Otherwise, including when the
// filter is unavailable, the result comes from [RangeClient.Check].  Filters
// only hold SHA-1 digests, so digests of other algorithms always go to
// [RangeClient.Check].  Errors are the same as those of [RangeClient.Check].
func (s *Screener) Check(ctx context.Context, d Digest) (res *LookupResult, err error) {
	alg := s.lookup.Algorithm()
	err = d.Validate(alg)
	if err != nil {
		return nil, err
	}

	if alg != AlgorithmSHA1 {
		return s.lookup.Check(ctx, d)
	}

	prefix := string(d[:FilterPrefixLength])
	f, err := s.filters.Filter(ctx, prefix)
	if err != nil {
		logFailure(ctx, s.logger, "loading range filter, falling back to range lookup", err)
	} else if !f.Contains(d) {
		s.logger.DebugContext(ctx, "ruled out by range filter", "filter_prefix", prefix)

		return &LookupResult{}, nil
	}

	return s.lookup.Check(ctx, d)
}
