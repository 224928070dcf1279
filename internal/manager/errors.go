package manager

import (
	"errors"

	"llmbridge/pkg/types"
)

// ErrSuperseded is returned by a generation that was discarded because a newer
// request started on the same handle. Callers must not resolve anything for it.
var ErrSuperseded = errors.New("generation superseded")

// IsSuperseded reports whether err indicates a superseded generation.
func IsSuperseded(err error) bool { return errors.Is(err, ErrSuperseded) }

// errReleased is returned by a generation interrupted by release.
func errReleased(h types.Handle) error {
	return types.NewError(types.KindInvalidHandle, h, "model released", nil)
}
