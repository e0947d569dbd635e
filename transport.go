package gsusb

import "time"

// Transport is the USB plumbing a Device drives. The concrete gousb
// implementation lives in usb.go; tests substitute their own.
//
// Implementations wrap timed-out transfers in ErrTransferTimeout so the
// session can tell a timeout from a hard failure.
type Transport interface {
	// Reset performs a USB device reset.
	Reset() error

	// DetachKernelDriver unbinds a conflicting kernel driver from the
	// interface. A no-op on platforms without that concept.
	DetachKernelDriver() error

	// ClaimInterface claims interface 0 and opens the bulk endpoints.
	ClaimInterface() error

	// ControlOut issues a vendor host-to-device control transfer
	// (bmRequestType 0x41, wIndex 0).
	ControlOut(request uint8, value uint16, data []byte, timeout time.Duration) error

	// ControlIn issues a vendor device-to-host control transfer
	// (bmRequestType 0xC1, wIndex 0) and returns the bytes read, which may
	// be fewer than requested.
	ControlIn(request uint8, value uint16, length int, timeout time.Duration) ([]byte, error)

	// BulkOut writes to the OUT endpoint (0x02).
	BulkOut(data []byte, timeout time.Duration) error

	// BulkIn reads from the IN endpoint (0x81) into buf and returns the
	// number of bytes read.
	BulkIn(buf []byte, timeout time.Duration) (int, error)

	// SerialNumber reads the device serial number string descriptor.
	SerialNumber() (string, error)

	// Bus and Address identify the device on the USB topology.
	Bus() int
	Address() int

	// Close releases the interface and the underlying handle.
	Close() error
}
