package unii

import (
	"errors"

	"github.com/unii-community/go-unii/wire"
)

// applyMessage decodes a frame and applies it to the device state,
// returning one Change per observable difference. Decoding is driven by
// the command tag; commands without a decoder yield no changes. A
// decode error never touches the state, except that a malformed record
// inside a list frame only discards itself and whatever follows it: the
// valid records before it still apply.
func (c *Client) applyMessage(msg wire.Message) ([]Change, error) {
	data, err := wire.DecodeData(msg.Command, msg.Data)
	if err != nil {
		var rerr wire.RecordError
		if !errors.As(err, &rerr) {
			return nil, err
		}
		c.log.Warn("skipping malformed record", "command", msg.Command, "offset", rerr.Offset)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch d := data.(type) {
	case wire.EquipmentInformation:
		c.state.Equipment = Equipment{
			DeviceName:      d.DeviceName,
			SoftwareVersion: d.SoftwareVersion,
			SoftwareDate:    d.SoftwareDate,
			SerialNumber:    d.SerialNumber,
			MACAddress:      d.MACAddress,
			MaxInputs:       d.MaxInputs,
			MaxSections:     d.MaxSections,
		}
		return nil, nil
	case wire.SectionArrangement:
		for _, record := range d {
			if !record.Active {
				continue
			}
			section := c.state.Sections[record.Number]
			section.Number = record.Number
			section.Name = record.Name
			c.state.Sections[record.Number] = section
		}
		return nil, nil
	case wire.SectionStatus:
		var changes []Change
		for _, record := range d {
			if change, ok := c.applySectionStatus(record); ok {
				changes = append(changes, change)
			}
		}
		return changes, nil
	case wire.InputArrangement:
		for _, record := range d.Inputs {
			// Keeps the current status when the input is already known.
			input := c.state.Inputs[record.Number]
			input.Number = record.Number
			input.Name = record.Name
			input.Sensor = record.Sensor
			input.Sections = record.Sections
			c.state.Inputs[record.Number] = input
		}
		return nil, nil
	case wire.InputStatus:
		var changes []Change
		for _, record := range d {
			if change, ok := c.applyInputStatus(record); ok {
				changes = append(changes, change)
			}
		}
		return changes, nil
	case wire.InputStatusUpdate:
		if change, ok := c.applyInputStatus(wire.InputStatusRecord(d)); ok {
			return []Change{change}, nil
		}
		return nil, nil
	case wire.OutputArrangement:
		for _, record := range d.Outputs {
			c.state.Outputs[record.Number] = Output{
				Number: record.Number,
				Name:   record.Name,
				Type:   record.Type,
			}
		}
		return nil, nil
	case wire.DeviceStatus:
		c.state.Device = d
		return nil, nil
	case wire.EventRecord:
		return []Change{EventChange{Event: d}}, nil
	default:
		// ResultCode, RawData or empty: nothing observable.
		return nil, nil
	}
}

func (c *Client) applySectionStatus(record wire.SectionStatusRecord) (Change, bool) {
	section, ok := c.state.Sections[record.Number]
	if !ok {
		c.log.Warn("status for unknown section", "section", record.Number)
		return nil, false
	}
	current := sectionStatusFromWire(record.State)
	if section.Status == current {
		return nil, false
	}
	change := SectionChange{Number: record.Number, Previous: section.Status, Current: current}
	section.Status = current
	c.state.Sections[record.Number] = section
	return change, true
}

func (c *Client) applyInputStatus(record wire.InputStatusRecord) (Change, bool) {
	input, ok := c.state.Inputs[record.Number]
	if !ok {
		// Full status tables cover every possible input number; entries
		// the arrangement never announced are disabled slots.
		if record.State != wire.InputStateDisabled {
			c.log.Warn("status for unknown input", "input", record.Number)
		}
		return nil, false
	}
	input.Bypassed = record.Bypassed
	input.AlarmMemorized = record.AlarmMemorized
	input.LowBattery = record.LowBattery
	input.Supervision = record.Supervision

	current := inputStatusFromWire(record.State)
	previous := input.Status
	input.Status = current
	c.state.Inputs[record.Number] = input
	if previous == current {
		return nil, false
	}
	return InputChange{Number: record.Number, Previous: previous, Current: current}, true
}

// resetStatuses marks every input and section as unknown. Used around
// reconnects so stale data can't outlive the connection it came from.
func (c *Client) resetStatuses() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for number, input := range c.state.Inputs {
		input.Status = InputUnknown
		c.state.Inputs[number] = input
	}
	for number, section := range c.state.Sections {
		section.Status = SectionUnknown
		c.state.Sections[number] = section
	}
}
