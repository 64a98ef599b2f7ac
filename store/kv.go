package store

import (
	"context"
	"fmt"
	"io"

	"compute-breach-check/hibp"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/fastly/compute-sdk-go/kvstore"
)

// KVFilterSource reads range filters from a Compute KV store.  It only works
// inside the Compute runtime.
type KVFilterSource struct {
	name string
}

// NewKVFilterSource returns a new *KVFilterSource for the KV store with the
// given name.
func NewKVFilterSource(name string) (s *KVFilterSource) {
	return &KVFilterSource{
		name: name,
	}
}

// type check
var _ hibp.FilterSource = (*KVFilterSource)(nil)

// Filter implements the [hibp.FilterSource] interface for *KVFilterSource.
func (s *KVFilterSource) Filter(_ context.Context, prefix string) (f *hibp.RangeFilter, err error) {
	defer func() { err = errors.Annotate(err, "kv store %q: key %q: %w", s.name, prefix) }()

	o, err := kvstore.Open(s.name)
	if err != nil {
		return nil, fmt.Errorf("opening: %w", err)
	}

	entry, err := o.Lookup(prefix)
	if err != nil {
		return nil, fmt.Errorf("looking up: %w", err)
	}

	buf, err := io.ReadAll(entry)
	if err != nil {
		return nil, fmt.Errorf("reading entry: %w", err)
	}

	return hibp.UnmarshalRangeFilter(buf)
}
