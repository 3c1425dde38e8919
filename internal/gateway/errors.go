// ABOUTME: Closed error-kind enumeration for the submit, fan-out and replay paths
// ABOUTME: Failures are checked by kind, never by string matching or magic codes

package gateway

import (
	"errors"

	"chatrelay/internal/store"
)

// ErrBusUnavailable wraps a cross-process announcement failure after a
// successful append. The message IS recorded; only same-instant fan-out to
// other workers is degraded.
var ErrBusUnavailable = errors.New("broadcast bus unavailable")

// ErrReplayInterrupted wraps a partial failure while streaming history to a
// reconnecting session. The remaining replay is abandoned and the
// connection stays up.
var ErrReplayInterrupted = errors.New("replay interrupted")

// Kind classifies a gateway failure.
type Kind int

const (
	KindNone Kind = iota
	KindDuplicateSubmission
	KindStoreUnavailable
	KindBusUnavailable
	KindReplayInterrupted
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindDuplicateSubmission:
		return "duplicate_submission"
	case KindStoreUnavailable:
		return "store_unavailable"
	case KindBusUnavailable:
		return "bus_unavailable"
	case KindReplayInterrupted:
		return "replay_interrupted"
	default:
		return "unknown"
	}
}

// Classify maps an error from the gateway's paths onto its Kind. Anything
// from the durability layer that is not a duplicate is StoreUnavailable:
// the caller must treat the message as not recorded and retry with the
// same client token.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, store.ErrDuplicateToken):
		return KindDuplicateSubmission
	case errors.Is(err, ErrBusUnavailable):
		return KindBusUnavailable
	case errors.Is(err, ErrReplayInterrupted):
		return KindReplayInterrupted
	default:
		return KindStoreUnavailable
	}
}
