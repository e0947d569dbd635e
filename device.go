package gsusb

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

const (
	controlTimeout = time.Second
	sendTimeout    = time.Second
)

// Device is one gs_usb session. It owns its Transport exclusively and is
// not safe for concurrent use: every operation blocks the calling goroutine
// for at most its timeout, and the only suspension point is Read.
//
// Callers must arrange for Close (or Stop) to run on every exit path,
// typically with defer; teardown is best effort and never fails.
type Device struct {
	tr Transport

	capability *Capability
	flags      uint32
	fdMode     bool
	started    bool
	serial     string

	lastTiming     *BitTiming
	lastDataTiming *BitTiming
}

// NewDevice wraps an open transport in a session. The session takes
// ownership of the transport.
func NewDevice(tr Transport) *Device {
	return &Device{tr: tr}
}

// Start resets the device, claims its interface and starts the CAN channel
// with the requested mode flags. Bits the device or this driver does not
// support are silently dropped. Resetting first makes restart after a
// previous session safe.
func (d *Device) Start(flags uint32) error {
	if err := d.tr.Reset(); err != nil {
		return &TransferError{Op: "reset", Err: err}
	}
	if err := d.tr.DetachKernelDriver(); err != nil {
		return &TransferError{Op: "detach kernel driver", Err: err}
	}
	if err := d.tr.ClaimInterface(); err != nil {
		return &TransferError{Op: "claim interface", Err: err}
	}

	cap, err := d.Capability()
	if err != nil {
		return err
	}

	flags &= cap.Feature
	flags &= supportedModes

	d.flags = flags
	d.fdMode = flags&ModeFD != 0

	mode := deviceMode{mode: canModeStart, flags: flags}
	if err := d.controlOut(breqMode, 0, mode.pack()); err != nil {
		return err
	}
	d.started = true
	return nil
}

// Stop resets the CAN channel. Transfer errors are swallowed: the device
// may already be stopped or unplugged, and teardown must not fail.
func (d *Device) Stop() error {
	mode := deviceMode{mode: canModeReset}
	_ = d.controlOut(breqMode, 0, mode.pack())
	d.started = false
	return nil
}

// Close stops the channel and releases the transport.
func (d *Device) Close() error {
	_ = d.Stop()
	return d.tr.Close()
}

// Started reports whether the CAN channel is running.
func (d *Device) Started() bool {
	return d.started
}

// Flags returns the mode flags negotiated by Start.
func (d *Device) Flags() uint32 {
	return d.flags
}

// FDMode reports whether Start negotiated CAN FD framing.
func (d *Device) FDMode() bool {
	return d.fdMode
}

// SetBitrate configures the nominal (arbitration) bitrate at the default
// 87.5% sample point.
func (d *Device) SetBitrate(bitrate uint32) error {
	return d.SetBitrateSamplePoint(bitrate, float64(defaultSamplePoint)/10)
}

// SetBitrateSamplePoint configures the nominal bitrate with an explicit
// sample point percentage.
func (d *Device) SetBitrateSamplePoint(bitrate uint32, samplePoint float64) error {
	cap, err := d.Capability()
	if err != nil {
		return err
	}
	timing, err := resolveBitTiming(cap.ClockHz, bitrate, uint32(samplePoint*10), false)
	if err != nil {
		return err
	}
	return d.SetTiming(timing)
}

// SetTiming sends raw nominal phase timing registers and records them for
// diagnostics.
func (d *Device) SetTiming(timing BitTiming) error {
	if err := d.controlOut(breqBitTiming, 0, timing.pack()); err != nil {
		return err
	}
	d.lastTiming = &timing
	return nil
}

// SetDataBitrate configures the CAN FD data phase bitrate at the default
// 75% sample point. Fails with ErrFDNotSupported when the device lacks the
// FD feature.
func (d *Device) SetDataBitrate(bitrate uint32) error {
	return d.SetDataBitrateSamplePoint(bitrate, float64(defaultDataSamplePoint)/10)
}

// SetDataBitrateSamplePoint configures the data phase bitrate with an
// explicit sample point percentage.
func (d *Device) SetDataBitrateSamplePoint(bitrate uint32, samplePoint float64) error {
	cap, err := d.Capability()
	if err != nil {
		return err
	}
	if !cap.HasFeature(FeatureFD) {
		return ErrFDNotSupported
	}
	timing, err := resolveBitTiming(cap.ClockHz, bitrate, uint32(samplePoint*10), true)
	if err != nil {
		return err
	}
	return d.SetDataTiming(timing)
}

// SetDataTiming sends raw data phase timing registers and records them for
// diagnostics.
func (d *Device) SetDataTiming(timing BitTiming) error {
	if err := d.controlOut(breqDataBitTiming, 0, timing.pack()); err != nil {
		return err
	}
	d.lastDataTiming = &timing
	return nil
}

// LastTiming returns the most recently applied nominal timing, or nil.
func (d *Device) LastTiming() *BitTiming {
	return d.lastTiming
}

// LastDataTiming returns the most recently applied data phase timing, or nil.
func (d *Device) LastDataTiming() *BitTiming {
	return d.lastDataTiming
}

// Send packs the frame in the session's negotiated format and writes it to
// the bulk OUT endpoint. Fails with ErrNotStarted before Start.
func (d *Device) Send(f *Frame) error {
	if !d.started {
		return ErrNotStarted
	}
	data := f.Pack(d.flags&ModeHWTimestamp != 0, d.fdMode)
	if err := d.tr.BulkOut(data, sendTimeout); err != nil {
		if errors.Is(err, ErrTransferTimeout) {
			return ErrWriteTimeout
		}
		return &TransferError{Op: "bulk out", Err: err}
	}
	return nil
}

// Read blocks for up to timeout waiting for one host frame. A transport
// timeout comes back as ErrReadTimeout so callers can keep polling; the
// session stays usable. The FD-ness of the inbound buffer is sniffed from
// its flags byte, since classic frames arrive interleaved with FD ones.
func (d *Device) Read(timeout time.Duration) (*Frame, error) {
	if !d.started {
		return nil, ErrNotStarted
	}
	hwTimestamp := d.flags&ModeHWTimestamp != 0
	buf := make([]byte, FrameSize(hwTimestamp, d.fdMode))
	n, err := d.tr.BulkIn(buf, timeout)
	if err != nil {
		if errors.Is(err, ErrTransferTimeout) {
			return nil, ErrReadTimeout
		}
		return nil, &TransferError{Op: "bulk in", Err: err}
	}
	return UnpackFrame(buf[:n], hwTimestamp, isFDBuffer(buf[:n]))
}

// Capability fetches the BT_CONST block on first use and caches it for the
// session's lifetime.
func (d *Device) Capability() (Capability, error) {
	if d.capability != nil {
		return *d.capability, nil
	}
	data, err := d.controlIn(breqBTConst, 0, 40)
	if err != nil {
		return Capability{}, err
	}
	cap := unpackCapability(data)
	d.capability = &cap
	return cap, nil
}

// CapabilityExtended fetches the BT_CONST_EXT block with the data phase
// limits. Returns nil without error when the device does not advertise the
// extended capability feature. The wider fetch replaces the cached
// capability; the nominal fields it reports do not change at runtime.
func (d *Device) CapabilityExtended() (*Capability, error) {
	cap, err := d.Capability()
	if err != nil {
		return nil, err
	}
	if !cap.HasFeature(FeatureBTConstExt) {
		return nil, nil
	}
	if d.capability.HasFDTiming() {
		ext := *d.capability
		return &ext, nil
	}
	data, err := d.controlIn(breqBTConstExt, 0, 72)
	if err != nil {
		return nil, err
	}
	ext := unpackCapabilityExtended(data)
	d.capability = &ext
	out := ext
	return &out, nil
}

// SupportsFD reports whether the device advertises CAN FD.
func (d *Device) SupportsFD() (bool, error) {
	cap, err := d.Capability()
	if err != nil {
		return false, err
	}
	return cap.HasFeature(FeatureFD), nil
}

// SupportsGetState reports whether the device supports the GET_STATE
// request.
func (d *Device) SupportsGetState() (bool, error) {
	cap, err := d.Capability()
	if err != nil {
		return false, err
	}
	return cap.HasFeature(FeatureGetState), nil
}

// Info fetches the DEVICE_CONFIG block.
func (d *Device) Info() (DeviceInfo, error) {
	data, err := d.controlIn(breqDeviceConfig, 0, 12)
	if err != nil {
		return DeviceInfo{}, err
	}
	return unpackDeviceInfo(data), nil
}

// State fetches the bus state and error counters for the given channel.
func (d *Device) State(channel uint16) (DeviceState, error) {
	ok, err := d.SupportsGetState()
	if err != nil {
		return DeviceState{}, err
	}
	if !ok {
		return DeviceState{}, ErrGetStateNotSupported
	}
	data, err := d.controlIn(breqGetState, channel, 12)
	if err != nil {
		return DeviceState{}, err
	}
	return unpackDeviceState(data), nil
}

// SendHostFormat sends the legacy byte order handshake. Modern firmware
// ignores or rejects it, so errors are swallowed.
func (d *Device) SendHostFormat() error {
	magic := binary.LittleEndian.AppendUint32(nil, 0x0000BEEF)
	_ = d.controlOut(breqHostFormat, 0, magic)
	return nil
}

// SerialNumber returns the USB serial number string, cached after the
// first fetch.
func (d *Device) SerialNumber() (string, error) {
	if d.serial != "" {
		return d.serial, nil
	}
	sn, err := d.tr.SerialNumber()
	if err != nil {
		return "", &TransferError{Op: "serial number", Err: err}
	}
	d.serial = sn
	return sn, nil
}

// Bus returns the USB bus number.
func (d *Device) Bus() int {
	return d.tr.Bus()
}

// Address returns the USB device address.
func (d *Device) Address() int {
	return d.tr.Address()
}

func (d *Device) String() string {
	return fmt.Sprintf("gs_usb (bus %d, addr %d)", d.Bus(), d.Address())
}

func (d *Device) controlOut(request uint8, value uint16, data []byte) error {
	if err := d.tr.ControlOut(request, value, data, controlTimeout); err != nil {
		return &TransferError{Op: "control out", Err: err}
	}
	return nil
}

// controlIn performs a device-to-host control transfer with a fixed
// expected length. A shorter response is a protocol error, never partial
// data.
func (d *Device) controlIn(request uint8, value uint16, length int) ([]byte, error) {
	data, err := d.tr.ControlIn(request, value, length, controlTimeout)
	if err != nil {
		return nil, &TransferError{Op: "control in", Err: err}
	}
	if len(data) < length {
		return nil, &InvalidResponseError{Expected: length, Actual: len(data)}
	}
	return data, nil
}
