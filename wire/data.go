package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Data is the closed set of decoded command payloads. Commands without
// a dedicated decoder come through as RawData.
type Data interface {
	data()
}

// ErrLastBlock is returned when an arrangement response carries the
// 0xffff block number, meaning there are no further blocks to request.
var ErrLastBlock = errors.New("wire: last arrangement block")

type versionError struct {
	got byte
}

func (e versionError) Error() string {
	return fmt.Sprintf("wire: unsupported message version %d", e.got)
}

// RecordError reports a malformed record inside an otherwise
// well-formed list frame. The records before the offset decoded fine
// and still apply; parsing past the broken record is impossible.
type RecordError struct {
	Offset int
}

func (e RecordError) Error() string {
	return fmt.Sprintf("wire: malformed record at offset %d", e.Offset)
}

// DecodeData interprets the data bytes of a received message according
// to its command. Unknown commands are not an error. On a RecordError
// the returned value still carries the records decoded before the
// malformed one.
func DecodeData(cmd Command, data []byte) (Data, error) {
	if len(data) == 0 {
		return nil, nil
	}
	switch cmd {
	case CmdGeneralResponse:
		return decodeResultCode(data)
	case CmdResponseEquipmentInformation:
		return decodeEquipmentInformation(data)
	case CmdResponseSectionArrangement:
		return decodeSectionArrangement(data)
	case CmdResponseSectionStatus:
		return decodeSectionStatus(data)
	case CmdResponseInputArrangement:
		return decodeInputArrangement(data)
	case CmdInputStatusChanged:
		return decodeInputStatus(data)
	case CmdInputStatusUpdate:
		return decodeInputStatusUpdate(data)
	case CmdResponseOutputArrangement:
		return decodeOutputArrangement(data)
	case CmdDeviceStatusChanged:
		return decodeDeviceStatus(data)
	case CmdEventOccurred:
		return decodeEventRecord(data)
	default:
		return RawData(data), nil
	}
}

// RawData carries the payload of commands this package has no dedicated
// decoder for.
type RawData []byte

func (RawData) data() {}

// ResultCode is the generic ack/nack payload.
type ResultCode uint16

func (ResultCode) data() {}

const (
	ResultOK    ResultCode = 0x0000
	ResultError ResultCode = 0x0001
)

func decodeResultCode(data []byte) (ResultCode, error) {
	if len(data) < 2 {
		return ResultError, ErrTruncated
	}
	return ResultCode(binary.BigEndian.Uint16(data[:2])), nil
}

// EquipmentInformation describes the panel itself.
type EquipmentInformation struct {
	SoftwareVersion string
	SoftwareDate    time.Time
	DeviceName      string
	MaxInputs       int
	MaxGroups       int
	MaxSections     int
	MaxUsers        int
	DeviceID        string
	SerialNumber    string
	MACAddress      string
}

func (EquipmentInformation) data() {}

func decodeEquipmentInformation(data []byte) (EquipmentInformation, error) {
	var eq EquipmentInformation
	if len(data) < 20 {
		return eq, ErrTruncated
	}
	version := data[1]
	switch version {
	case 2:
		eq.SoftwareVersion = decodeString(data[2:7])
		// Truncated versions like "2.4." show up in the field; pad them
		// so they stay parseable as SemVer.
		if strings.HasSuffix(eq.SoftwareVersion, ".") {
			eq.SoftwareVersion += "0"
		}
		if date, err := time.Parse("02-01-2006", decodeString(data[7:19])); err == nil {
			eq.SoftwareDate = date
		}
	case 3:
		eq.SoftwareVersion = decodeString(data[2:19])
	default:
		return eq, versionError{got: version}
	}

	nameLen := int(data[19])
	if len(data) < 20+nameLen+6 {
		return eq, ErrTruncated
	}
	eq.DeviceName = decodeString(data[20 : 20+nameLen])
	rest := data[20+nameLen:]

	eq.MaxInputs = int(binary.BigEndian.Uint16(rest[0:2]))
	eq.MaxGroups = int(rest[2])
	eq.MaxSections = int(rest[3])
	eq.MaxUsers = int(binary.BigEndian.Uint16(rest[4:6]))

	if version == 3 && len(rest) > 6 {
		idLen := int(rest[6])
		if len(rest) < 7+idLen {
			return eq, ErrTruncated
		}
		eq.DeviceID = decodeString(rest[7 : 7+idLen])
		if len(eq.DeviceID) >= 21 {
			eq.SerialNumber = eq.DeviceID[:9]
			mac := strings.ToLower(eq.DeviceID[len(eq.DeviceID)-12:])
			parts := make([]string, 0, 6)
			for i := 0; i < 12; i += 2 {
				parts = append(parts, mac[i:i+2])
			}
			eq.MACAddress = strings.Join(parts, ":")
		}
	}
	return eq, nil
}

// SectionRecord is one section as reported by the arrangement response.
type SectionRecord struct {
	Number int
	Active bool
	Name   string
}

// SectionArrangement lists the sections configured on the panel.
type SectionArrangement []SectionRecord

func (SectionArrangement) data() {}

func decodeSectionArrangement(data []byte) (SectionArrangement, error) {
	var arr SectionArrangement
	offset, number := 0, 1
	for offset < len(data) {
		version := data[offset]
		var record SectionRecord
		var size int
		switch version {
		case 0:
			size = 19
			if offset+size > len(data) {
				return arr, RecordError{Offset: offset}
			}
			record.Name = decodeString(data[offset+2 : offset+19])
		case 1:
			if offset+3 > len(data) {
				return arr, RecordError{Offset: offset}
			}
			nameLen := int(data[offset+2])
			size = 3 + nameLen
			if offset+size > len(data) {
				return arr, RecordError{Offset: offset}
			}
			record.Name = decodeString(data[offset+3 : offset+size])
		default:
			return arr, RecordError{Offset: offset}
		}
		record.Number = number
		record.Active = data[offset+1] == 1
		arr = append(arr, record)
		number++
		offset += size
	}
	return arr, nil
}

// ArmedState is the wire-level arming state of a section.
type ArmedState byte

const (
	ArmedStateNotProgrammed ArmedState = 0
	ArmedStateArmed         ArmedState = 1
	ArmedStateDisarmed      ArmedState = 2
	ArmedStateAlarm         ArmedState = 7
	ArmedStateExitTimer     ArmedState = 8
	ArmedStateEntryTimer    ArmedState = 9
)

func (s ArmedState) String() string {
	switch s {
	case ArmedStateNotProgrammed:
		return "not programmed"
	case ArmedStateArmed:
		return "armed"
	case ArmedStateDisarmed:
		return "disarmed"
	case ArmedStateAlarm:
		return "alarm"
	case ArmedStateExitTimer:
		return "exit timer"
	case ArmedStateEntryTimer:
		return "entry timer"
	default:
		return fmt.Sprintf("armed state %d", byte(s))
	}
}

// SectionStatusRecord pairs a section number with its arming state.
type SectionStatusRecord struct {
	Number int
	State  ArmedState
}

// SectionStatus is a list of per-section arming states.
type SectionStatus []SectionStatusRecord

func (SectionStatus) data() {}

func decodeSectionStatus(data []byte) (SectionStatus, error) {
	var status SectionStatus
	for offset := 0; offset+2 <= len(data); offset += 2 {
		status = append(status, SectionStatusRecord{
			Number: int(data[offset]),
			State:  ArmedState(data[offset+1]),
		})
	}
	return status, nil
}

// SensorType classifies what an input monitors.
type SensorType byte

const (
	SensorNotActive  SensorType = 0
	SensorBurglary   SensorType = 1
	SensorFire       SensorType = 2
	SensorTamper     SensorType = 3
	SensorHoldup     SensorType = 4
	SensorMedical    SensorType = 5
	SensorGas        SensorType = 6
	SensorWater      SensorType = 7
	SensorTechnical  SensorType = 8
	SensorDialer     SensorType = 9
	SensorKeyswitch  SensorType = 10
	SensorNoAlarm    SensorType = 11
	SensorGlassbreak SensorType = 15
)

func (s SensorType) String() string {
	switch s {
	case SensorNotActive:
		return "not active"
	case SensorBurglary:
		return "burglary"
	case SensorFire:
		return "fire"
	case SensorTamper:
		return "tamper"
	case SensorHoldup:
		return "holdup"
	case SensorMedical:
		return "medical"
	case SensorGas:
		return "gas"
	case SensorWater:
		return "water"
	case SensorTechnical:
		return "technical"
	case SensorDialer:
		return "direct dialer input"
	case SensorKeyswitch:
		return "keyswitch"
	case SensorNoAlarm:
		return "no alarm"
	case SensorGlassbreak:
		return "glassbreak"
	default:
		return fmt.Sprintf("sensor type %d", byte(s))
	}
}

// InputRecord is one input as reported by the arrangement response.
type InputRecord struct {
	Number   int
	Sensor   SensorType
	Reaction byte
	Name     string
	Sections []int
}

// InputArrangement is one block of the input arrangement response.
type InputArrangement struct {
	Block  int
	Inputs []InputRecord
}

func (InputArrangement) data() {}

func decodeInputArrangement(data []byte) (InputArrangement, error) {
	var arr InputArrangement
	if len(data) < 4 {
		return arr, ErrTruncated
	}
	if version := data[1]; version != 2 {
		return arr, versionError{got: version}
	}
	block := int(binary.BigEndian.Uint16(data[2:4]))
	if block == 0xffff {
		return arr, ErrLastBlock
	}
	arr.Block = block

	offset := 4
	for offset < len(data) {
		if offset+5 > len(data) {
			return arr, RecordError{Offset: offset}
		}
		nameLen := int(data[offset+4])
		size := 9 + nameLen
		if offset+size > len(data) {
			return arr, RecordError{Offset: offset}
		}
		record := data[offset : offset+size]
		arr.Inputs = append(arr.Inputs, InputRecord{
			Number:   int(binary.BigEndian.Uint16(record[0:2])),
			Sensor:   SensorType(record[2]),
			Reaction: record[3],
			Name:     decodeString(record[5 : 5+nameLen]),
			Sections: bitPositions(record[5+nameLen:]),
		})
		offset += size
	}
	return arr, nil
}

// InputState is the wire-level state nibble of an input.
type InputState byte

const (
	InputStateOK       InputState = 0x0
	InputStateAlarm    InputState = 0x1
	InputStateTamper   InputState = 0x2
	InputStateMasking  InputState = 0x4
	InputStateDisabled InputState = 0xf
)

func (s InputState) String() string {
	switch s {
	case InputStateOK:
		return "ok"
	case InputStateAlarm:
		return "alarm"
	case InputStateTamper:
		return "tamper"
	case InputStateMasking:
		return "masking"
	case InputStateDisabled:
		return "disabled"
	default:
		return fmt.Sprintf("input state %d", byte(s))
	}
}

// InputStatusRecord is the unpacked status byte of one input.
type InputStatusRecord struct {
	Number         int
	State          InputState
	Bypassed       bool
	AlarmMemorized bool
	LowBattery     bool
	Supervision    bool
}

func decodeInputStatusByte(number int, b byte) InputStatusRecord {
	return InputStatusRecord{
		Number:         number,
		State:          InputState(b & 0x0f),
		Bypassed:       b&0x10 != 0,
		AlarmMemorized: b&0x20 != 0,
		LowBattery:     b&0x40 != 0,
		Supervision:    b&0x80 != 0,
	}
}

// InputStatus is the full input status table, one record per known
// input number.
type InputStatus []InputStatusRecord

func (InputStatus) data() {}

func decodeInputStatus(data []byte) (InputStatus, error) {
	if len(data) < 2 {
		return nil, ErrTruncated
	}
	if version := data[1]; version != 2 {
		return nil, versionError{got: version}
	}
	var status InputStatus
	for index, b := range data[2:] {
		number := translateInputNumber(index)
		if number < 0 {
			continue
		}
		status = append(status, decodeInputStatusByte(number, b))
	}
	return status, nil
}

// InputStatusUpdate reports a single input changing state.
type InputStatusUpdate InputStatusRecord

func (InputStatusUpdate) data() {}

func decodeInputStatusUpdate(data []byte) (InputStatusUpdate, error) {
	if len(data) < 5 {
		return InputStatusUpdate{}, ErrTruncated
	}
	if version := data[1]; version != 2 {
		return InputStatusUpdate{}, versionError{got: version}
	}
	number := int(binary.BigEndian.Uint16(data[2:4]))
	return InputStatusUpdate(decodeInputStatusByte(number, data[4])), nil
}

// OutputType is how an output is driven.
type OutputType byte

const (
	OutputNotActive   OutputType = 0
	OutputDirect      OutputType = 1
	OutputTimed       OutputType = 2
	OutputFollowInput OutputType = 3
)

// OutputRecord is one output as reported by the arrangement response.
type OutputRecord struct {
	Number   int
	Type     OutputType
	Name     string
	Sections []int
}

// OutputArrangement is one block of the output arrangement response.
type OutputArrangement struct {
	Block   int
	Outputs []OutputRecord
}

func (OutputArrangement) data() {}

func decodeOutputArrangement(data []byte) (OutputArrangement, error) {
	var arr OutputArrangement
	if len(data) < 4 {
		return arr, ErrTruncated
	}
	if version := data[1]; version != 1 {
		return arr, versionError{got: version}
	}
	block := int(binary.BigEndian.Uint16(data[2:4]))
	if block == 0xffff {
		return arr, ErrLastBlock
	}
	arr.Block = block

	offset := 4
	for offset < len(data) {
		if offset+4 > len(data) {
			return arr, RecordError{Offset: offset}
		}
		nameLen := int(data[offset+3])
		size := 8 + nameLen
		if offset+size > len(data) {
			return arr, RecordError{Offset: offset}
		}
		record := data[offset : offset+size]
		arr.Outputs = append(arr.Outputs, OutputRecord{
			Number:   int(binary.BigEndian.Uint16(record[0:2])),
			Type:     OutputType(record[2]),
			Name:     decodeString(record[4 : 4+nameLen]),
			Sections: bitPositions(record[5+nameLen:]),
		})
		offset += size
	}
	return arr, nil
}

// DeviceFlags is the bit field of one device status record.
type DeviceFlags uint16

const (
	DeviceMainsFailure             DeviceFlags = 1 << 0
	DeviceMainsFailureRestored     DeviceFlags = 1 << 1
	DeviceLowBattery               DeviceFlags = 1 << 2
	DeviceLowBatteryRestored       DeviceFlags = 1 << 3
	DeviceTamperSwitchOpen         DeviceFlags = 1 << 4
	DeviceTamperSwitchOpenRestored DeviceFlags = 1 << 5
	DeviceBusFailure               DeviceFlags = 1 << 6
	DeviceBusFailureRestored       DeviceFlags = 1 << 7
	DevicePresent                  DeviceFlags = 1 << 8
	DeviceBatteryMissing           DeviceFlags = 1 << 9
	DeviceBatteryMissingRestored   DeviceFlags = 1 << 10
	DeviceBatteryFault             DeviceFlags = 1 << 11
	DeviceBatteryFaultRestored     DeviceFlags = 1 << 12
	DevicePowerUnitFailure         DeviceFlags = 1 << 13
	DevicePowerUnitFailureRestored DeviceFlags = 1 << 14
)

// DeviceStatus groups the status records of the panel and its attached
// bus devices.
type DeviceStatus struct {
	ControlPanel    DeviceFlags
	IODevices       []DeviceFlags
	KeyboardDevices []DeviceFlags
	WiegandDevices  []DeviceFlags
	KNXDevice       DeviceFlags
	UWIDevices      []DeviceFlags
}

func (DeviceStatus) data() {}

func decodeDeviceStatus(data []byte) (DeviceStatus, error) {
	var status DeviceStatus
	if len(data) < 2 {
		return status, ErrTruncated
	}
	if version := data[1]; version != 2 {
		return status, versionError{got: version}
	}
	var records []DeviceFlags
	for offset := 2; offset+2 <= len(data); offset += 2 {
		records = append(records, DeviceFlags(binary.BigEndian.Uint16(data[offset:offset+2])))
	}
	if len(records) < 51 {
		return status, ErrTruncated
	}
	status.ControlPanel = records[0]
	status.IODevices = records[1:16]
	status.KeyboardDevices = records[16:32]
	status.WiegandDevices = records[32:48]
	status.KNXDevice = records[48]
	status.UWIDevices = records[49:51]
	return status, nil
}

// EventRecord is one entry of the panel's event log, pushed as it
// happens.
type EventRecord struct {
	Number       int
	Timestamp    time.Time
	Description  string
	UserNumber   int
	UserName     string
	InputNumber  int
	InputName    string
	DeviceNumber int
	DeviceName   string
	Bus          int
	Sections     []int
	SIACode      string
}

func (EventRecord) data() {}

func decodeEventRecord(data []byte) (EventRecord, error) {
	var ev EventRecord
	if len(data) < 11 {
		return ev, ErrTruncated
	}
	if version := data[1]; version != 3 {
		return ev, versionError{got: version}
	}
	ev.Number = int(binary.BigEndian.Uint16(data[2:4]))
	ev.Timestamp = time.Date(
		1900+int(data[4]), time.Month(data[5]+1), int(data[6]),
		int(data[7]), int(data[8]), int(data[9]), 0, time.Local,
	)

	rest := data[10:]
	var s string
	if s, rest = lengthPrefixed(rest); rest == nil {
		return ev, ErrTruncated
	}
	ev.Description = s

	if len(rest) < 2 {
		return ev, ErrTruncated
	}
	ev.UserNumber = int(binary.BigEndian.Uint16(rest[0:2]))
	if s, rest = lengthPrefixed(rest[2:]); rest == nil {
		return ev, ErrTruncated
	}
	ev.UserName = s

	if len(rest) < 2 {
		return ev, ErrTruncated
	}
	ev.InputNumber = int(binary.BigEndian.Uint16(rest[0:2]))
	if s, rest = lengthPrefixed(rest[2:]); rest == nil {
		return ev, ErrTruncated
	}
	ev.InputName = s

	if len(rest) < 2 {
		return ev, ErrTruncated
	}
	ev.DeviceNumber = int(binary.BigEndian.Uint16(rest[0:2]))
	if s, rest = lengthPrefixed(rest[2:]); rest == nil {
		return ev, ErrTruncated
	}
	ev.DeviceName = s

	if len(rest) < 7 {
		return ev, ErrTruncated
	}
	ev.Bus = int(rest[0])
	ev.Sections = bitPositions(rest[1:5])
	ev.SIACode = decodeString(rest[5:7])
	return ev, nil
}

// lengthPrefixed reads a length-prefixed string and returns the
// remainder, or nil when the buffer is too short.
func lengthPrefixed(data []byte) (string, []byte) {
	if len(data) < 1 {
		return "", nil
	}
	n := int(data[0])
	if len(data) < 1+n {
		return "", nil
	}
	return decodeString(data[1 : 1+n]), data[1+n:]
}

// decodeString trims trailing NULs and whitespace from fixed-size name
// fields.
func decodeString(data []byte) string {
	return strings.Trim(string(data), " \t\n\r\x00")
}

// bitPositions returns which bits in a big endian byte array are set,
// LSB first and 1-based: 00001010 => [2, 4].
func bitPositions(data []byte) []int {
	var value uint32
	for _, b := range data {
		value = value<<8 | uint32(b)
	}
	var positions []int
	for i := 0; i < 31; i++ {
		if value&(1<<i) != 0 {
			positions = append(positions, i+1)
		}
	}
	return positions
}

// translateInputNumber maps a position in the input status table to the
// panel's input numbering (Appendix 4 of the panel API). Positions with
// no assigned range return -1.
func translateInputNumber(index int) int {
	switch {
	case index <= 511: // wired
		return index + 1
	case index >= 512 && index <= 543: // keypad
		return index + 189
	case index >= 576 && index <= 639: // wireless
		return index + 25
	case index >= 640 && index <= 688: // KNX
		return index + 161
	case index >= 706 && index <= 962: // door
		return index + 295
	default:
		return -1
	}
}
