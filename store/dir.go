package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"compute-breach-check/hibp"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/google/renameio/v2"
)

// errBadPrefix is returned when a filter prefix cannot be used as a file name.
const errBadPrefix errors.Error = "bad filter prefix"

// DirFilterSource keeps range filters as files named by their prefixes in a
// local directory.
type DirFilterSource struct {
	dir string
}

// NewDirFilterSource returns a new *DirFilterSource for dir.
func NewDirFilterSource(dir string) (s *DirFilterSource) {
	return &DirFilterSource{
		dir: dir,
	}
}

// type check
var _ hibp.FilterSource = (*DirFilterSource)(nil)

// Filter implements the [hibp.FilterSource] interface for *DirFilterSource.
func (s *DirFilterSource) Filter(_ context.Context, prefix string) (f *hibp.RangeFilter, err error) {
	if !filepath.IsLocal(prefix) {
		return nil, fmt.Errorf("%w: %q", errBadPrefix, prefix)
	}

	data, err := os.ReadFile(filepath.Join(s.dir, prefix))
	if err != nil {
		return nil, fmt.Errorf("reading filter: %w", err)
	}

	return hibp.UnmarshalRangeFilter(data)
}

// Write atomically stores data as the filter for prefix.
func (s *DirFilterSource) Write(prefix string, data []byte) (err error) {
	err = renameio.WriteFile(filepath.Join(s.dir, prefix), data, 0o644)
	if err != nil {
		return fmt.Errorf("writing filter %q: %w", prefix, err)
	}

	return nil
}
