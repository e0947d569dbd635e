package gsusb

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/fatih/color"
)

// DLCToLength converts a data length code to the payload length in bytes.
// Classic CAN clamps at 8; FD uses the fixed table and clamps at 64.
func DLCToLength(dlc uint8, fd bool) int {
	if fd {
		if int(dlc) < len(fdDLCToLen) {
			return fdDLCToLen[dlc]
		}
		return FDMaxDLen
	}
	return min(int(dlc), CANMaxDLen)
}

// LengthToDLC converts a payload length to the smallest DLC that fits it.
// FD lengths above 64 saturate to DLC 15.
func LengthToDLC(length int, fd bool) uint8 {
	if fd {
		for dlc, dlen := range fdDLCToLen {
			if dlen >= length {
				return uint8(dlc)
			}
		}
		return FDMaxDLC
	}
	return uint8(min(length, CANMaxDLen))
}

// FrameSize returns the wire size of a host frame for the given session
// format. Exactly one of 20, 24, 76 or 80 bytes.
func FrameSize(hwTimestamp, fdMode bool) int {
	switch {
	case fdMode && hwTimestamp:
		return frameSizeFDTimestamp
	case fdMode:
		return frameSizeFD
	case hwTimestamp:
		return frameSizeHWTimestamp
	default:
		return frameSize
	}
}

// Frame is one gs_usb host frame, classic CAN or CAN FD, for a single
// transmit or receive event.
type Frame struct {
	EchoID      uint32
	ID          uint32 // arbitration id merged with CANEFFFlag/CANRTRFlag/CANERRFlag
	DLC         uint8
	Channel     uint8
	Flags       uint8
	Reserved    uint8
	TimestampUS uint32

	data [FDMaxDLen]byte
}

// NewFrame creates a classic CAN frame and copies the data slice. Payloads
// longer than 8 bytes are truncated.
func NewFrame(id uint32, data []byte) *Frame {
	f := &Frame{EchoID: EchoIDTx, ID: id}
	f.SetData(data, false)
	return f
}

// NewExtendedFrame creates a classic CAN frame with a 29 bit identifier.
func NewExtendedFrame(id uint32, data []byte) *Frame {
	return NewFrame(id|CANEFFFlag, data)
}

// NewFDFrame creates a CAN FD frame. brs requests bit rate switching for
// the data phase.
func NewFDFrame(id uint32, data []byte, brs bool) *Frame {
	f := &Frame{EchoID: EchoIDTx, ID: id, Flags: FlagFD}
	if brs {
		f.Flags |= FlagBRS
	}
	f.SetData(data, true)
	return f
}

// SetData copies the payload into the frame and derives the DLC from its
// length.
func (f *Frame) SetData(data []byte, fd bool) {
	maxLen := CANMaxDLen
	if fd {
		maxLen = FDMaxDLen
	}
	f.data = [FDMaxDLen]byte{}
	copy(f.data[:], data[:min(len(data), maxLen)])
	f.DLC = LengthToDLC(len(data), fd)
}

// Data returns the payload sized by the frame's DLC.
func (f *Frame) Data() []byte {
	return f.data[:f.Length()]
}

// Length returns the payload length implied by the DLC.
func (f *Frame) Length() int {
	return DLCToLength(f.DLC, f.IsFD())
}

// ArbitrationID returns the identifier with the flag bits stripped.
func (f *Frame) ArbitrationID() uint32 {
	return f.ID & CANEFFMask
}

func (f *Frame) IsExtended() bool {
	return f.ID&CANEFFFlag != 0
}

func (f *Frame) IsRemote() bool {
	return f.ID&CANRTRFlag != 0
}

func (f *Frame) IsError() bool {
	return f.ID&CANERRFlag != 0
}

func (f *Frame) IsFD() bool {
	return f.Flags&FlagFD != 0
}

func (f *Frame) IsBRS() bool {
	return f.Flags&FlagBRS != 0
}

// IsRXFrame reports whether the frame was received off the bus. Everything
// else, including the default tx echo id 0, is an echo frame.
func (f *Frame) IsRXFrame() bool {
	return f.EchoID == EchoIDRx
}

// IsEchoFrame reports whether the frame is a tx confirmation echoed back by
// the adapter.
func (f *Frame) IsEchoFrame() bool {
	return f.EchoID != EchoIDRx
}

// Timestamp returns the hardware timestamp in seconds.
func (f *Frame) Timestamp() float64 {
	return float64(f.TimestampUS) / 1e6
}

// Pack serializes the frame into the little-endian wire layout:
// echo_id(4) can_id(4) dlc(1) channel(1) flags(1) reserved(1) data(8|64)
// and, when hwTimestamp is set, timestamp_us(4).
func (f *Frame) Pack(hwTimestamp, fdMode bool) []byte {
	dataLen := CANMaxDLen
	if fdMode {
		dataLen = FDMaxDLen
	}
	buf := make([]byte, 0, FrameSize(hwTimestamp, fdMode))
	buf = binary.LittleEndian.AppendUint32(buf, f.EchoID)
	buf = binary.LittleEndian.AppendUint32(buf, f.ID)
	buf = append(buf, f.DLC, f.Channel, f.Flags, f.Reserved)
	buf = append(buf, f.data[:dataLen]...)
	if hwTimestamp {
		buf = binary.LittleEndian.AppendUint32(buf, f.TimestampUS)
	}
	return buf
}

// UnpackFrame parses a host frame received from the device. The timestamp
// is decoded only when requested and the buffer actually carries it; a
// short tail zeroes the timestamp instead of failing. A buffer without a
// full 12 byte header does fail.
func UnpackFrame(buf []byte, hwTimestamp, fdMode bool) (*Frame, error) {
	if len(buf) < 12 {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooShort, len(buf))
	}
	f := &Frame{
		EchoID:   binary.LittleEndian.Uint32(buf[0:4]),
		ID:       binary.LittleEndian.Uint32(buf[4:8]),
		DLC:      buf[8],
		Channel:  buf[9],
		Flags:    buf[10],
		Reserved: buf[11],
	}
	dataLen := CANMaxDLen
	if fdMode {
		dataLen = FDMaxDLen
	}
	copy(f.data[:], buf[12:12+min(dataLen, len(buf)-12)])
	if hwTimestamp && len(buf) >= 12+dataLen+4 {
		f.TimestampUS = binary.LittleEndian.Uint32(buf[12+dataLen:])
	}
	return f, nil
}

// isFDBuffer sniffs the flags byte of an inbound buffer to decide which
// unpack layout applies. A session running in FD mode still receives
// classic frames interleaved with FD ones.
func isFDBuffer(buf []byte) bool {
	return len(buf) >= 11 && buf[10]&FlagFD != 0
}

var (
	yellow = color.New(color.FgHiBlue).SprintfFunc()
	red    = color.New(color.FgRed).SprintfFunc()
	green  = color.New(color.FgGreen).SprintfFunc()
)

func (f *Frame) String() string {
	var out strings.Builder
	if f.IsRXFrame() {
		out.WriteString("<i> || ")
	} else {
		out.WriteString("<e> || ")
	}
	out.WriteString(fmt.Sprintf("0x%03X", f.ArbitrationID()))
	if f.IsFD() {
		out.WriteString(" FD")
	}
	if f.IsBRS() {
		out.WriteString(" BRS")
	}
	out.WriteString(" || ")
	out.WriteString(strconv.Itoa(f.Length()) + " || ")
	out.WriteString(fmt.Sprintf("%-23s", hexView(f.Data())))
	if f.TimestampUS != 0 {
		out.WriteString(fmt.Sprintf(" || %.6f", f.Timestamp()))
	}
	return out.String()
}

func (f *Frame) ColorString() string {
	var out strings.Builder
	if f.IsRXFrame() {
		out.WriteString("<i> || ")
	} else {
		out.WriteString("<e> || ")
	}
	out.WriteString(green("0x%03X", f.ArbitrationID()))
	if f.IsFD() {
		out.WriteString(red(" FD"))
	}
	if f.IsBRS() {
		out.WriteString(red(" BRS"))
	}
	out.WriteString(" || ")
	out.WriteString(strconv.Itoa(f.Length()) + " || ")
	out.WriteString(yellow("%-23s", hexView(f.Data())))
	if f.TimestampUS != 0 {
		out.WriteString(fmt.Sprintf(" || %.6f", f.Timestamp()))
	}
	return out.String()
}

func hexView(data []byte) string {
	var out strings.Builder
	for i, b := range data {
		out.WriteString(fmt.Sprintf("%02X", b))
		if i != len(data)-1 {
			out.WriteString(" ")
		}
	}
	return out.String()
}
