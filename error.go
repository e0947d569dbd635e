package gsusb

import (
	"errors"
	"fmt"
)

var (
	ErrDeviceNotFound       = errors.New("no gs_usb device found")
	ErrNotStarted           = errors.New("device is not started")
	ErrFDNotSupported       = errors.New("device does not support CAN FD")
	ErrGetStateNotSupported = errors.New("device does not support GET_STATE")
	ErrFrameTooShort        = errors.New("frame buffer shorter than header")

	// ErrTransferTimeout is returned by transports when a transfer ran out
	// of time. The session maps it to ErrReadTimeout / ErrWriteTimeout so
	// callers can poll in a loop.
	ErrTransferTimeout = errors.New("transfer timed out")
	ErrReadTimeout     = errors.New("read timeout")
	ErrWriteTimeout    = errors.New("write timeout")
)

// TransferError tags a transport failure with the operation that failed.
type TransferError struct {
	Op  string
	Err error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// UnsupportedBitrateError is returned when the requested bitrate has no
// vetted timing entry for the device clock. There is deliberately no
// computed fallback.
type UnsupportedBitrateError struct {
	Bitrate uint32
	ClockHz uint32
	Data    bool
}

func (e *UnsupportedBitrateError) Error() string {
	if e.Data {
		return fmt.Sprintf("unsupported data bitrate %d for clock %d Hz", e.Bitrate, e.ClockHz)
	}
	return fmt.Sprintf("unsupported bitrate %d for clock %d Hz", e.Bitrate, e.ClockHz)
}

// InvalidResponseError is returned when a control transfer yields fewer
// bytes than the request's fixed response size.
type InvalidResponseError struct {
	Expected int
	Actual   int
}

func (e *InvalidResponseError) Error() string {
	return fmt.Sprintf("invalid response from device: expected %d bytes, got %d", e.Expected, e.Actual)
}

// IsTimeout reports whether err is one of the recoverable timeout outcomes.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrReadTimeout) ||
		errors.Is(err, ErrWriteTimeout) ||
		errors.Is(err, ErrTransferTimeout)
}
