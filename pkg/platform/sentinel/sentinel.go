package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Caches and transports return
// these (optionally wrapped) so callers can decide between degrading and failing.
//
//   - ErrNotFound: key does not exist in the store
//   - ErrUnavailable: backing service temporarily unreachable
//   - ErrCorrupt: stored value could not be decoded
var (
	ErrNotFound    = errors.New("not found")
	ErrUnavailable = errors.New("unavailable")
	ErrCorrupt     = errors.New("corrupt value")
)
