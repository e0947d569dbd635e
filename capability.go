package gsusb

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// deviceMode is the 8 byte payload of a MODE request.
type deviceMode struct {
	mode  uint32
	flags uint32
}

func (m deviceMode) pack() []byte {
	buf := make([]byte, 0, 8)
	buf = binary.LittleEndian.AppendUint32(buf, m.mode)
	buf = binary.LittleEndian.AppendUint32(buf, m.flags)
	return buf
}

// DeviceInfo is the DEVICE_CONFIG response: channel count and firmware /
// hardware versions.
type DeviceInfo struct {
	Reserved  [3]uint8
	ICount    uint8
	FWVersion uint32
	HWVersion uint32
}

func unpackDeviceInfo(data []byte) DeviceInfo {
	return DeviceInfo{
		Reserved:  [3]uint8{data[0], data[1], data[2]},
		ICount:    data[3],
		FWVersion: binary.LittleEndian.Uint32(data[4:8]),
		HWVersion: binary.LittleEndian.Uint32(data[8:12]),
	}
}

// ChannelCount returns the number of CAN channels; the wire field is the
// channel count minus one.
func (i DeviceInfo) ChannelCount() int {
	return int(i.ICount) + 1
}

// FirmwareVersion returns the firmware version; the raw field is tenths.
func (i DeviceInfo) FirmwareVersion() float64 {
	return float64(i.FWVersion) / 10.0
}

// HardwareVersion returns the hardware version; the raw field is tenths.
func (i DeviceInfo) HardwareVersion() float64 {
	return float64(i.HWVersion) / 10.0
}

func (i DeviceInfo) String() string {
	return fmt.Sprintf("channels: %d fw: %.1f hw: %.1f",
		i.ChannelCount(), i.FirmwareVersion(), i.HardwareVersion())
}

// Capability is the BT_CONST / BT_CONST_EXT response: the device feature
// mask, its CAN clock and the legal ranges for the timing registers. The
// data phase fields are only valid after an extended fetch, reported by
// HasFDTiming.
type Capability struct {
	Feature  uint32
	ClockHz  uint32
	TSeg1Min uint32
	TSeg1Max uint32
	TSeg2Min uint32
	TSeg2Max uint32
	SJWMax   uint32
	BRPMin   uint32
	BRPMax   uint32
	BRPInc   uint32

	// data phase limits, BT_CONST_EXT only
	DTSeg1Min uint32
	DTSeg1Max uint32
	DTSeg2Min uint32
	DTSeg2Max uint32
	DSJWMax   uint32
	DBRPMin   uint32
	DBRPMax   uint32
	DBRPInc   uint32

	fdTiming bool
}

func unpackCapability(data []byte) Capability {
	return Capability{
		Feature:  binary.LittleEndian.Uint32(data[0:4]),
		ClockHz:  binary.LittleEndian.Uint32(data[4:8]),
		TSeg1Min: binary.LittleEndian.Uint32(data[8:12]),
		TSeg1Max: binary.LittleEndian.Uint32(data[12:16]),
		TSeg2Min: binary.LittleEndian.Uint32(data[16:20]),
		TSeg2Max: binary.LittleEndian.Uint32(data[20:24]),
		SJWMax:   binary.LittleEndian.Uint32(data[24:28]),
		BRPMin:   binary.LittleEndian.Uint32(data[28:32]),
		BRPMax:   binary.LittleEndian.Uint32(data[32:36]),
		BRPInc:   binary.LittleEndian.Uint32(data[36:40]),
	}
}

func unpackCapabilityExtended(data []byte) Capability {
	cap := unpackCapability(data)
	cap.DTSeg1Min = binary.LittleEndian.Uint32(data[40:44])
	cap.DTSeg1Max = binary.LittleEndian.Uint32(data[44:48])
	cap.DTSeg2Min = binary.LittleEndian.Uint32(data[48:52])
	cap.DTSeg2Max = binary.LittleEndian.Uint32(data[52:56])
	cap.DSJWMax = binary.LittleEndian.Uint32(data[56:60])
	cap.DBRPMin = binary.LittleEndian.Uint32(data[60:64])
	cap.DBRPMax = binary.LittleEndian.Uint32(data[64:68])
	cap.DBRPInc = binary.LittleEndian.Uint32(data[68:72])
	cap.fdTiming = true
	return cap
}

// HasFDTiming reports whether the data phase limits were fetched.
func (c Capability) HasFDTiming() bool {
	return c.fdTiming
}

// HasFeature reports whether the device advertises the given feature bit.
func (c Capability) HasFeature(feature uint32) bool {
	return c.Feature&feature != 0
}

// ClockMHz returns the CAN clock in MHz.
func (c Capability) ClockMHz() float64 {
	return float64(c.ClockHz) / 1e6
}

func (c Capability) String() string {
	var out strings.Builder
	fmt.Fprintf(&out, "feature: 0x%08x clock: %d Hz (%.1f MHz)\n", c.Feature, c.ClockHz, c.ClockMHz())
	fmt.Fprintf(&out, "tseg1: %d-%d tseg2: %d-%d sjw max: %d brp: %d-%d inc %d",
		c.TSeg1Min, c.TSeg1Max, c.TSeg2Min, c.TSeg2Max, c.SJWMax, c.BRPMin, c.BRPMax, c.BRPInc)
	if c.fdTiming {
		fmt.Fprintf(&out, "\ndtseg1: %d-%d dtseg2: %d-%d dsjw max: %d dbrp: %d-%d inc %d",
			c.DTSeg1Min, c.DTSeg1Max, c.DTSeg2Min, c.DTSeg2Max, c.DSJWMax, c.DBRPMin, c.DBRPMax, c.DBRPInc)
	}
	return out.String()
}
