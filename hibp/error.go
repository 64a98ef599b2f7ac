package hibp

import (
	"fmt"
	"net/http"

	"github.com/AdguardTeam/golibs/errors"
)

// FailureKind is the kind of a [LookupFailure].
type FailureKind uint8

// FailureKind values.
const (
	// FailureKindNetwork means that the remote endpoint could not be reached
	// or did not answer in time.
	FailureKindNetwork FailureKind = iota + 1

	// FailureKindRemote means that the remote endpoint answered with an
	// unexpected status code.
	FailureKindRemote

	// FailureKindParse means that the response could not be parsed.  It
	// usually indicates a change of the remote contract.
	FailureKindParse
)

// String implements the fmt.Stringer interface for FailureKind.
func (k FailureKind) String() (s string) {
	switch k {
	case FailureKindNetwork:
		return "network"
	case FailureKindRemote:
		return "remote error"
	case FailureKindParse:
		return "parse error"
	default:
		return fmt.Sprintf("!bad_failure_kind_%d", uint8(k))
	}
}

// LookupFailure is returned by the remote lookups when the outcome is unknown.
// A LookupFailure must never be treated as "not compromised".
type LookupFailure struct {
	// Err is the underlying error, if any.
	Err error

	// Kind is the kind of the failure.
	Kind FailureKind

	// Status is the HTTP status code of the response.  It is only set when
	// Kind is [FailureKindRemote].
	Status int
}

// type check
var _ error = (*LookupFailure)(nil)

// Error implements the error interface for *LookupFailure.
func (err *LookupFailure) Error() (msg string) {
	switch {
	case err.Kind == FailureKindRemote && err.Err != nil:
		return fmt.Sprintf("lookup failure: %s: status %d: %s", err.Kind, err.Status, err.Err)
	case err.Kind == FailureKindRemote:
		return fmt.Sprintf("lookup failure: %s: status %d", err.Kind, err.Status)
	case err.Err != nil:
		return fmt.Sprintf("lookup failure: %s: %s", err.Kind, err.Err)
	default:
		return fmt.Sprintf("lookup failure: %s", err.Kind)
	}
}

// type check
var _ errors.Wrapper = (*LookupFailure)(nil)

// Unwrap implements the [errors.Wrapper] interface for *LookupFailure.
func (err *LookupFailure) Unwrap() (unwrapped error) {
	return err.Err
}

// Retryable returns true if repeating the same lookup later may succeed.  The
// lookups never retry on their own; this is a hint for the caller.
func (err *LookupFailure) Retryable() (ok bool) {
	switch err.Kind {
	case FailureKindNetwork:
		return true
	case FailureKindRemote:
		return err.Status == http.StatusTooManyRequests || err.Status >= http.StatusInternalServerError
	default:
		return false
	}
}

// newNetworkFailure returns a network *LookupFailure wrapping err.
func newNetworkFailure(err error) (f *LookupFailure) {
	return &LookupFailure{
		Err:  err,
		Kind: FailureKindNetwork,
	}
}

// newRemoteFailure returns a remote *LookupFailure for status.
func newRemoteFailure(status int) (f *LookupFailure) {
	return &LookupFailure{
		Kind:   FailureKindRemote,
		Status: status,
	}
}

// newParseFailure returns a parse *LookupFailure wrapping err.
func newParseFailure(err error) (f *LookupFailure) {
	return &LookupFailure{
		Err:  err,
		Kind: FailureKindParse,
	}
}

// AsLookupFailure returns the *LookupFailure in err's tree, if any.
func AsLookupFailure(err error) (f *LookupFailure, ok bool) {
	ok = errors.As(err, &f)

	return f, ok
}
