package wire

import "fmt"

// Command identifies a protocol message. Values not listed here are
// still carried through untouched so newer firmware doesn't break us.
type Command uint16

const (
	// Connection setup.
	CmdConnectionRequest         Command = 0x0001
	CmdConnectionRequestResponse Command = 0x0002
	CmdConnectionRequestDenied   Command = 0x0003
	CmdNormalDisconnect          Command = 0x0014

	// Operational.
	CmdPollAliveRequest      Command = 0x0012
	CmdPollAliveResponse     Command = 0x0013
	CmdGeneralResponse       Command = 0x0101
	CmdEventOccurred         Command = 0x0102
	CmdResponseEventOccurred Command = 0x0103
	CmdFlushEventBuffer      Command = 0x0104
	CmdInputStatusChanged    Command = 0x0105
	CmdRequestInputStatus    Command = 0x0106
	CmdDeviceStatusChanged   Command = 0x0107
	CmdRequestDeviceStatus   Command = 0x0108
	CmdClearAlarmMemory      Command = 0x0109
	CmdRequestSectionStatus  Command = 0x0116
	CmdResponseSectionStatus Command = 0x0117
	CmdRequestOutputStatus   Command = 0x011e
	CmdResponseOutputStatus  Command = 0x011f
	CmdInputStatusUpdate     Command = 0x0125

	// Configuration.
	CmdRequestSectionArrangement    Command = 0x0130
	CmdResponseSectionArrangement   Command = 0x0131
	CmdRequestInputArrangement      Command = 0x0140
	CmdResponseInputArrangement     Command = 0x0141
	CmdRequestEquipmentInformation  Command = 0x0142
	CmdResponseEquipmentInformation Command = 0x0143
	CmdRequestOutputArrangement     Command = 0x0150
	CmdResponseOutputArrangement    Command = 0x0151
)

func (c Command) String() string {
	switch c {
	case CmdConnectionRequest:
		return "connection request"
	case CmdConnectionRequestResponse:
		return "connection request response"
	case CmdConnectionRequestDenied:
		return "connection request denied"
	case CmdNormalDisconnect:
		return "normal disconnect"
	case CmdPollAliveRequest:
		return "poll alive request"
	case CmdPollAliveResponse:
		return "poll alive response"
	case CmdGeneralResponse:
		return "general response"
	case CmdEventOccurred:
		return "event occurred"
	case CmdResponseEventOccurred:
		return "response event occurred"
	case CmdInputStatusChanged:
		return "input status changed"
	case CmdRequestInputStatus:
		return "request input status"
	case CmdInputStatusUpdate:
		return "input status update"
	case CmdDeviceStatusChanged:
		return "device status changed"
	case CmdRequestDeviceStatus:
		return "request device status"
	case CmdRequestSectionStatus:
		return "request section status"
	case CmdResponseSectionStatus:
		return "response section status"
	case CmdRequestSectionArrangement:
		return "request section arrangement"
	case CmdResponseSectionArrangement:
		return "response section arrangement"
	case CmdRequestInputArrangement:
		return "request input arrangement"
	case CmdResponseInputArrangement:
		return "response input arrangement"
	case CmdRequestEquipmentInformation:
		return "request equipment information"
	case CmdResponseEquipmentInformation:
		return "response equipment information"
	case CmdRequestOutputArrangement:
		return "request output arrangement"
	case CmdResponseOutputArrangement:
		return "response output arrangement"
	default:
		return fmt.Sprintf("command 0x%04x", uint16(c))
	}
}

// sessionSetup reports whether the command belongs to the session setup
// packet type. Everything from 0x0008 up flows over a normal connection.
func (c Command) sessionSetup() bool {
	return c < 0x0008
}
