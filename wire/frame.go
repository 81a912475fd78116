package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// HeaderSize is the fixed message header size.
	HeaderSize = 14
	// MaxMessageSize bounds a single frame on the wire.
	MaxMessageSize = 1500

	protocolPlain     = 0x04
	protocolEncrypted = 0x05

	packetSessionSetup     = 0x01
	packetNormalConnection = 0x02
)

// ErrTruncated is returned when a buffer is too short to hold the
// message its header announces.
var ErrTruncated = errors.New("wire: truncated message")

// LengthError is returned when a length header can't possibly describe a
// valid message. The stream is not resynchronized after one of these.
type LengthError struct {
	Length int
}

func (e LengthError) Error() string {
	return fmt.Sprintf("wire: invalid packet length %d", e.Length)
}

// ChecksumError is returned when a received message fails CRC
// validation.
type ChecksumError struct {
	Expected, Received uint16
}

func (e ChecksumError) Error() string {
	return fmt.Sprintf("wire: invalid checksum: expected 0x%04x, received 0x%04x", e.Expected, e.Received)
}

// Message is one decoded protocol frame. All numbers are exchanged big
// endian.
type Message struct {
	SessionID  uint16
	TxSequence uint32
	RxSequence uint32
	Command    Command
	Data       []byte
}

// Marshal builds the full wire frame: 14 byte header, payload (command,
// data length, data, zero padding to a 16 byte boundary) and a trailing
// CRC-16. With a non-nil key the payload is encrypted.
func (m Message) Marshal(key []byte) ([]byte, error) {
	header := make([]byte, HeaderSize)
	binary.BigEndian.PutUint16(header[0:2], m.SessionID)
	binary.BigEndian.PutUint32(header[2:6], m.TxSequence)
	binary.BigEndian.PutUint32(header[6:10], m.RxSequence)
	if key == nil {
		header[10] = protocolPlain
	} else {
		header[10] = protocolEncrypted
	}
	if m.Command.sessionSetup() {
		header[11] = packetSessionSetup
	} else {
		header[11] = packetNormalConnection
	}
	// The length field stays zero until the padded payload is known; it
	// is not part of the cipher counter block.

	payload := make([]byte, 4, 4+len(m.Data))
	binary.BigEndian.PutUint16(payload[0:2], uint16(m.Command))
	binary.BigEndian.PutUint16(payload[2:4], uint16(len(m.Data)))
	payload = append(payload, m.Data...)
	pad := 16 - (HeaderSize+len(payload)+2)%16
	payload = append(payload, make([]byte, pad)...)

	if key != nil {
		var err error
		payload, err = cryptPayload(key, header, payload)
		if err != nil {
			return nil, err
		}
	}

	total := HeaderSize + len(payload) + 2
	if total > MaxMessageSize {
		return nil, LengthError{Length: total}
	}
	binary.BigEndian.PutUint16(header[12:14], uint16(total))

	frame := append(header, payload...)
	frame = binary.BigEndian.AppendUint16(frame, crc16(frame))
	return frame, nil
}

// Parse validates and decodes a complete frame. The checksum covers the
// ciphertext, so a checksum failure means corruption on the wire rather
// than a wrong key; a wrong key simply yields garbage commands, which
// surfaces as a failed handshake.
func Parse(buf []byte, key []byte) (Message, error) {
	var m Message
	if len(buf) < HeaderSize+2 {
		return m, ErrTruncated
	}
	length := int(binary.BigEndian.Uint16(buf[12:14]))
	if length < HeaderSize+2 || length > MaxMessageSize {
		return m, LengthError{Length: length}
	}
	if length != len(buf) {
		return m, fmt.Errorf("%w: expected %d bytes, received %d", ErrTruncated, length, len(buf))
	}

	received := binary.BigEndian.Uint16(buf[len(buf)-2:])
	if expected := crc16(buf[:len(buf)-2]); received != expected {
		return m, ChecksumError{Expected: expected, Received: received}
	}

	header := buf[:HeaderSize]
	payload := buf[HeaderSize : len(buf)-2]
	m.SessionID = binary.BigEndian.Uint16(header[0:2])
	m.TxSequence = binary.BigEndian.Uint32(header[2:6])
	m.RxSequence = binary.BigEndian.Uint32(header[6:10])

	if header[10] == protocolEncrypted && key != nil {
		var err error
		payload, err = cryptPayload(key, header, payload)
		if err != nil {
			return m, err
		}
	}
	if len(payload) < 4 {
		return m, ErrTruncated
	}
	m.Command = Command(binary.BigEndian.Uint16(payload[0:2]))
	dataLen := int(binary.BigEndian.Uint16(payload[2:4]))
	if dataLen > 0 {
		if len(payload) < 4+dataLen {
			return m, fmt.Errorf("%w: data length %d exceeds payload", ErrTruncated, dataLen)
		}
		m.Data = payload[4 : 4+dataLen]
	}
	return m, nil
}
