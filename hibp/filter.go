package hibp

import (
	"encoding/binary"
	"fmt"

	"compute-breach-check/config"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/FastFilter/xorfilter"
	"github.com/dgryski/go-metro"
)

// filterHeaderLen is the length of the encoded filter header: the seed
// followed by four segment parameters.
const filterHeaderLen = 8 + 4*4

// RangeFilter is a probabilistic set of the digests sharing a
// [FilterPrefixLength]-character prefix.  It never reports a known digest as
// absent, but may report an unknown one as present.
type RangeFilter struct {
	filter *xorfilter.BinaryFuse8
}

// NewRangeFilter builds a filter from digests.  digests must not be empty.
func NewRangeFilter(digests []Digest) (f *RangeFilter, err error) {
	if len(digests) == 0 {
		return nil, fmt.Errorf("building filter: digests: %w", errors.ErrEmptyValue)
	}

	keys := make([]uint64, 0, len(digests))
	for _, d := range digests {
		keys = append(keys, filterKey(d))
	}

	filter, err := xorfilter.PopulateBinaryFuse8(keys)
	if err != nil {
		return nil, fmt.Errorf("building filter: %w", err)
	}

	return &RangeFilter{
		filter: filter,
	}, nil
}

// Contains returns true if d is probably in the set.
func (f *RangeFilter) Contains(d Digest) (ok bool) {
	return f.filter.Contains(filterKey(d))
}

// filterKey returns the filter key for d.
func filterKey(d Digest) (key uint64) {
	return metro.Hash64([]byte(d), config.METRO_HASH_SEED)
}

// MarshalBinary implements the encoding.BinaryMarshaler interface for
// *RangeFilter.  The layout is little-endian: seed, segment length, segment
// length mask, segment count, segment count length, fingerprints.
func (f *RangeFilter) MarshalBinary() (data []byte, err error) {
	bf := f.filter

	data = make([]byte, filterHeaderLen, filterHeaderLen+len(bf.Fingerprints))
	binary.LittleEndian.PutUint64(data[0:8], bf.Seed)
	binary.LittleEndian.PutUint32(data[8:12], bf.SegmentLength)
	binary.LittleEndian.PutUint32(data[12:16], bf.SegmentLengthMask)
	binary.LittleEndian.PutUint32(data[16:20], bf.SegmentCount)
	binary.LittleEndian.PutUint32(data[20:24], bf.SegmentCountLength)

	return append(data, bf.Fingerprints...), nil
}

// UnmarshalRangeFilter decodes a filter encoded with
// [RangeFilter.MarshalBinary].  data is retained by f.
func UnmarshalRangeFilter(data []byte) (f *RangeFilter, err error) {
	if len(data) <= filterHeaderLen {
		return nil, fmt.Errorf("decoding filter: data length %d is too short", len(data))
	}

	return &RangeFilter{
		filter: &xorfilter.BinaryFuse8{
			Seed:               binary.LittleEndian.Uint64(data[0:8]),
			SegmentLength:      binary.LittleEndian.Uint32(data[8:12]),
			SegmentLengthMask:  binary.LittleEndian.Uint32(data[12:16]),
			SegmentCount:       binary.LittleEndian.Uint32(data[16:20]),
			SegmentCountLength: binary.LittleEndian.Uint32(data[20:24]),
			Fingerprints:       data[filterHeaderLen:],
		},
	}, nil
}
