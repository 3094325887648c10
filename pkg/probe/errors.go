package probe

import (
	"errors"
)

var (
	// ErrDeviceNotFound is returned when a selected device index is out of
	// range, or when an opened device is missing an endpoint its catalog
	// entry promised.
	ErrDeviceNotFound = errors.New("probe: device not found")

	// ErrTimeout marks a transfer that expired before completing. It is
	// recoverable: drain logic uses it to detect "no more data", all other
	// callers see it as a normal failure.
	ErrTimeout = errors.New("probe: transfer timed out")

	// ErrShortTransfer marks a bulk transfer whose actual length did not
	// equal the expected length for that phase. The probe protocol is framed
	// by fixed and declared lengths, so a short transfer desynchronizes the
	// command/response stream; callers should close and reopen the session.
	ErrShortTransfer = errors.New("probe: short transfer")

	// ErrInvalidState is returned when an operation is invoked outside its
	// valid state-machine state, including any transfer on a closed session.
	ErrInvalidState = errors.New("probe: invalid state")
)

// IsTimeout reports whether err is (or wraps) a transfer timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
