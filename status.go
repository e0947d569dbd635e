package gsusb

import (
	"encoding/binary"
	"fmt"
)

// CANState is the controller bus state reported by GET_STATE.
type CANState uint32

const (
	StateErrorActive  CANState = 0
	StateErrorWarning CANState = 1 // TEC/REC > 96
	StateErrorPassive CANState = 2 // TEC/REC > 127
	StateBusOff       CANState = 3 // TEC > 255
	StateStopped      CANState = 4
	StateSleeping     CANState = 5
)

func (s CANState) String() string {
	switch s {
	case StateErrorActive:
		return "ERROR_ACTIVE"
	case StateErrorWarning:
		return "ERROR_WARNING"
	case StateErrorPassive:
		return "ERROR_PASSIVE"
	case StateBusOff:
		return "BUS_OFF"
	case StateStopped:
		return "STOPPED"
	case StateSleeping:
		return "SLEEPING"
	default:
		return "UNKNOWN"
	}
}

// DeviceState is the GET_STATE response: bus state plus rx/tx error
// counters.
type DeviceState struct {
	State CANState
	RXErr uint32
	TXErr uint32
}

func unpackDeviceState(data []byte) DeviceState {
	return DeviceState{
		State: CANState(binary.LittleEndian.Uint32(data[0:4])),
		RXErr: binary.LittleEndian.Uint32(data[4:8]),
		TXErr: binary.LittleEndian.Uint32(data[8:12]),
	}
}

func (s DeviceState) IsErrorActive() bool {
	return s.State == StateErrorActive
}

func (s DeviceState) IsErrorWarning() bool {
	return s.State == StateErrorWarning
}

func (s DeviceState) IsErrorPassive() bool {
	return s.State == StateErrorPassive
}

func (s DeviceState) IsBusOff() bool {
	return s.State == StateBusOff
}

func (s DeviceState) String() string {
	return fmt.Sprintf("state: %s rxerr: %d txerr: %d", s.State, s.RXErr, s.TXErr)
}
