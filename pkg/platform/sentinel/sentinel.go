package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
//   - ErrNotFound: record does not exist in the store
//   - ErrMergeConflict: conditional lead merge lost to a concurrent touch;
//     callers resolve by re-reading
//   - ErrExpired: cached slot or window has lapsed
//   - ErrUnavailable: backing service temporarily unreachable
//
// For validation errors (bad input, missing fields), use pkg/domain-errors.
var (
	ErrNotFound      = errors.New("not found")
	ErrMergeConflict = errors.New("merge conflict")
	ErrExpired       = errors.New("expired")
	ErrUnavailable   = errors.New("unavailable")
)
