package relay

import "errors"

var (
	ErrNullInput      = errors.New("relay: null input")
	ErrOverlong       = errors.New("relay: message exceeds max length")
	ErrNotInitialized = errors.New("relay: not initialized")
)

// Status codes returned across the host call surface.
const (
	StatusAccepted       = 0
	StatusNullInput      = -1
	StatusOverlong       = -2
	StatusNotInitialized = -3
	StatusRejected       = -4
)

// Status maps a Send result onto the host integer status.
func Status(err error) int {
	switch {
	case err == nil:
		return StatusAccepted
	case errors.Is(err, ErrNullInput):
		return StatusNullInput
	case errors.Is(err, ErrOverlong):
		return StatusOverlong
	case errors.Is(err, ErrNotInitialized):
		return StatusNotInitialized
	default:
		return StatusRejected
	}
}
