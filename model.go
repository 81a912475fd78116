package unii

import (
	"time"

	"github.com/unii-community/go-unii/wire"
)

// ConnectionStatus is the lifecycle state of a panel session.
type ConnectionStatus byte

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusHandshaking
	StatusConnected
	StatusReconnecting
	StatusClosing
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusHandshaking:
		return "handshaking"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// InputStatus is the observable state of a monitored input.
type InputStatus byte

const (
	InputUnknown InputStatus = iota
	InputClear
	InputOpen
	InputTamper
	InputMasking
)

func (s InputStatus) String() string {
	switch s {
	case InputClear:
		return "clear"
	case InputOpen:
		return "open"
	case InputTamper:
		return "tamper"
	case InputMasking:
		return "masking"
	default:
		return "unknown"
	}
}

func inputStatusFromWire(state wire.InputState) InputStatus {
	switch state {
	case wire.InputStateOK:
		return InputClear
	case wire.InputStateAlarm:
		return InputOpen
	case wire.InputStateTamper:
		return InputTamper
	case wire.InputStateMasking:
		return InputMasking
	default:
		return InputUnknown
	}
}

// SectionStatus is the observable arming state of a section.
type SectionStatus byte

const (
	SectionUnknown SectionStatus = iota
	SectionDisarmed
	SectionArmed
	SectionAlarm
)

func (s SectionStatus) String() string {
	switch s {
	case SectionDisarmed:
		return "disarmed"
	case SectionArmed:
		return "armed"
	case SectionAlarm:
		return "alarm"
	default:
		return "unknown"
	}
}

func sectionStatusFromWire(state wire.ArmedState) SectionStatus {
	switch state {
	case wire.ArmedStateDisarmed:
		return SectionDisarmed
	// The timer states only occur while the section is armed.
	case wire.ArmedStateArmed, wire.ArmedStateExitTimer, wire.ArmedStateEntryTimer:
		return SectionArmed
	case wire.ArmedStateAlarm:
		return SectionAlarm
	default:
		return SectionUnknown
	}
}

// Input is a monitored sensor point.
type Input struct {
	Number         int
	Name           string
	Sensor         wire.SensorType
	Sections       []int
	Status         InputStatus
	Bypassed       bool
	AlarmMemorized bool
	LowBattery     bool
	Supervision    bool
}

// Section is a logical partition of inputs with its own arming state.
type Section struct {
	Number int
	Name   string
	Status SectionStatus
}

// Output is a panel output, exposed read-only.
type Output struct {
	Number int
	Name   string
	Type   wire.OutputType
}

// Equipment identifies the panel.
type Equipment struct {
	DeviceName      string
	SoftwareVersion string
	SoftwareDate    time.Time
	SerialNumber    string
	MACAddress      string
	MaxInputs       int
	MaxSections     int
}

// DeviceState is a snapshot of everything known about a panel session.
type DeviceState struct {
	Connection ConnectionStatus
	Equipment  Equipment
	Inputs     map[int]Input
	Sections   map[int]Section
	Outputs    map[int]Output
	Device     wire.DeviceStatus
}

func newDeviceState() DeviceState {
	return DeviceState{
		Inputs:   map[int]Input{},
		Sections: map[int]Section{},
		Outputs:  map[int]Output{},
	}
}

// snapshot deep-copies the state so callers never observe a map mutating
// mid-frame.
func (s DeviceState) snapshot() DeviceState {
	out := s
	out.Inputs = make(map[int]Input, len(s.Inputs))
	for k, v := range s.Inputs {
		v.Sections = append([]int(nil), v.Sections...)
		out.Inputs[k] = v
	}
	out.Sections = make(map[int]Section, len(s.Sections))
	for k, v := range s.Sections {
		out.Sections[k] = v
	}
	out.Outputs = make(map[int]Output, len(s.Outputs))
	for k, v := range s.Outputs {
		out.Outputs[k] = v
	}
	return out
}
