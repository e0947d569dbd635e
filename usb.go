package gsusb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/gousb"
)

// DeviceID describes one enumerated gs_usb adapter without opening it.
type DeviceID struct {
	Vendor  uint16
	Product uint16
	Bus     int
	Address int
}

func (id DeviceID) String() string {
	return fmt.Sprintf("%04x:%04x (bus %d, addr %d)", id.Vendor, id.Product, id.Bus, id.Address)
}

// ListDevices enumerates all connected gs_usb compatible adapters without
// opening them.
func ListDevices() ([]DeviceID, error) {
	ctx := gousb.NewContext()
	defer ctx.Close()

	var ids []DeviceID
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if IsSupportedDevice(uint16(desc.Vendor), uint16(desc.Product)) {
			ids = append(ids, DeviceID{
				Vendor:  uint16(desc.Vendor),
				Product: uint16(desc.Product),
				Bus:     desc.Bus,
				Address: desc.Address,
			})
		}
		return false
	})
	for _, d := range devs {
		d.Close()
	}
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Open opens the first gs_usb compatible adapter found.
func Open() (*Device, error) {
	ids, err := ListDevices()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, ErrDeviceNotFound
	}
	return Find(ids[0].Bus, ids[0].Address)
}

// Find opens the gs_usb adapter at the given bus and address.
func Find(bus, address int) (*Device, error) {
	tr, err := openTransport(bus, address)
	if err != nil {
		return nil, err
	}
	return NewDevice(tr), nil
}

// Scan opens every connected gs_usb compatible adapter.
func Scan() ([]*Device, error) {
	ids, err := ListDevices()
	if err != nil {
		return nil, err
	}
	var devices []*Device
	for _, id := range ids {
		dev, err := Find(id.Bus, id.Address)
		if err != nil {
			continue
		}
		devices = append(devices, dev)
	}
	return devices, nil
}

// usbTransport drives one adapter through gousb. Each transport owns its
// own gousb context so sessions can be opened and closed independently.
type usbTransport struct {
	usbCtx *gousb.Context
	dev    *gousb.Device
	devCfg *gousb.Config
	iface  *gousb.Interface
	in     *gousb.InEndpoint
	out    *gousb.OutEndpoint

	bus     int
	address int
}

func openTransport(bus, address int) (*usbTransport, error) {
	usbCtx := gousb.NewContext()

	devs, err := usbCtx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Bus == bus && desc.Address == address &&
			IsSupportedDevice(uint16(desc.Vendor), uint16(desc.Product))
	})
	if err != nil {
		for _, d := range devs {
			d.Close()
		}
		usbCtx.Close()
		return nil, err
	}
	if len(devs) == 0 {
		usbCtx.Close()
		return nil, ErrDeviceNotFound
	}
	dev := devs[0]
	for _, d := range devs[1:] {
		d.Close()
	}
	dev.ControlTimeout = controlTimeout

	return &usbTransport{
		usbCtx:  usbCtx,
		dev:     dev,
		bus:     bus,
		address: address,
	}, nil
}

func (t *usbTransport) Reset() error {
	return t.dev.Reset()
}

// DetachKernelDriver enables libusb auto-detach, which unbinds a bound
// kernel driver on claim. Platforms without the concept report not
// supported; that is fine.
func (t *usbTransport) DetachKernelDriver() error {
	err := t.dev.SetAutoDetach(true)
	if errors.Is(err, gousb.ErrorNotSupported) {
		return nil
	}
	return err
}

func (t *usbTransport) ClaimInterface() error {
	devCfg, err := t.dev.Config(usbConfigNum)
	if err != nil {
		return fmt.Errorf("config %d: %w", usbConfigNum, err)
	}
	iface, err := devCfg.Interface(usbInterfaceNum, 0)
	if err != nil {
		devCfg.Close()
		return fmt.Errorf("interface %d: %w", usbInterfaceNum, err)
	}
	in, err := iface.InEndpoint(usbInEndpoint & 0x0F)
	if err != nil {
		iface.Close()
		devCfg.Close()
		return fmt.Errorf("InEndpoint(%d): %w", usbInEndpoint&0x0F, err)
	}
	out, err := iface.OutEndpoint(usbOutEndpoint)
	if err != nil {
		iface.Close()
		devCfg.Close()
		return fmt.Errorf("OutEndpoint(%d): %w", usbOutEndpoint, err)
	}
	t.devCfg, t.iface, t.in, t.out = devCfg, iface, in, out
	return nil
}

func (t *usbTransport) ControlOut(request uint8, value uint16, data []byte, timeout time.Duration) error {
	t.dev.ControlTimeout = timeout
	_, err := t.dev.Control(requestTypeOut, request, value, 0, data)
	return wrapTimeout(err)
}

func (t *usbTransport) ControlIn(request uint8, value uint16, length int, timeout time.Duration) ([]byte, error) {
	t.dev.ControlTimeout = timeout
	buf := make([]byte, length)
	n, err := t.dev.Control(requestTypeIn, request, value, 0, buf)
	if err != nil {
		return nil, wrapTimeout(err)
	}
	return buf[:n], nil
}

func (t *usbTransport) BulkOut(data []byte, timeout time.Duration) error {
	if t.out == nil {
		return errors.New("interface not claimed")
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	_, err := t.out.WriteContext(ctx, data)
	return wrapTimeout(err)
}

func (t *usbTransport) BulkIn(buf []byte, timeout time.Duration) (int, error) {
	if t.in == nil {
		return 0, errors.New("interface not claimed")
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	n, err := t.in.ReadContext(ctx, buf)
	return n, wrapTimeout(err)
}

func (t *usbTransport) SerialNumber() (string, error) {
	return t.dev.SerialNumber()
}

func (t *usbTransport) Bus() int {
	return t.bus
}

func (t *usbTransport) Address() int {
	return t.address
}

func (t *usbTransport) Close() error {
	if t.iface != nil {
		t.iface.Close()
		t.iface = nil
	}
	if t.devCfg != nil {
		t.devCfg.Close()
		t.devCfg = nil
	}
	if t.dev != nil {
		if err := t.dev.Close(); err != nil {
			t.usbCtx.Close()
			return err
		}
		t.dev = nil
	}
	return t.usbCtx.Close()
}

// wrapTimeout normalizes the different ways a gousb transfer can time out
// into ErrTransferTimeout.
func wrapTimeout(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, gousb.TransferTimedOut) ||
		errors.Is(err, gousb.ErrorTimeout) {
		return fmt.Errorf("%w: %v", ErrTransferTimeout, err)
	}
	return err
}
