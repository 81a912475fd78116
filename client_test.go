package unii

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"runtime"
	"sync"
	"testing"
	"time"

	logp "github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"
	"github.com/unii-community/go-unii/wire"
)

var panelKey, _ = hex.DecodeString("31323334353637383930616263646566")

// panel is an in-process stand-in for a real panel, speaking just enough
// of the protocol to complete handshakes and push frames.
type panel struct {
	t    *testing.T
	ln   net.Listener
	key  []byte
	deny bool

	mu   sync.Mutex
	conn net.Conn
	tx   uint32
	rx   uint32
}

func newPanel(t *testing.T, key []byte, deny bool) *panel {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	p := &panel{t: t, ln: ln, key: key, deny: deny}
	go p.serve()
	t.Cleanup(func() { _ = ln.Close() })
	return p
}

func (p *panel) port() int {
	return p.ln.Addr().(*net.TCPAddr).Port
}

func (p *panel) serve() {
	for {
		conn, err := p.ln.Accept()
		if err != nil {
			return
		}
		p.mu.Lock()
		p.conn = conn
		p.tx = 0x1000
		p.rx = 0
		p.mu.Unlock()
		p.handle(conn)
	}
}

func (p *panel) handle(conn net.Conn) {
	defer conn.Close()
	for {
		msg, err := p.read(conn)
		if err != nil {
			return
		}
		switch msg.Command {
		case wire.CmdConnectionRequest:
			if p.deny {
				p.send(wire.CmdConnectionRequestDenied, nil)
				continue
			}
			p.send(wire.CmdConnectionRequestResponse, nil)
		case wire.CmdRequestEquipmentInformation:
			p.send(wire.CmdResponseEquipmentInformation, equipmentData())
		case wire.CmdRequestSectionArrangement:
			p.send(wire.CmdResponseSectionArrangement, sectionArrangementData())
		case wire.CmdRequestSectionStatus:
			p.send(wire.CmdResponseSectionStatus, []byte{0x01, byte(wire.ArmedStateDisarmed)})
		case wire.CmdRequestInputArrangement:
			if binary.BigEndian.Uint16(msg.Data) == 1 {
				p.send(wire.CmdResponseInputArrangement, inputArrangementData())
			} else {
				p.send(wire.CmdResponseInputArrangement, []byte{0x00, 0x02, 0xff, 0xff})
			}
		case wire.CmdRequestInputStatus:
			p.send(wire.CmdInputStatusChanged, []byte{0x00, 0x02, 0x00, 0x00, 0x00})
		case wire.CmdRequestOutputArrangement:
			p.send(wire.CmdResponseOutputArrangement, []byte{0x00, 0x01, 0xff, 0xff})
		case wire.CmdRequestDeviceStatus:
			p.send(wire.CmdDeviceStatusChanged, deviceStatusData())
		case wire.CmdPollAliveRequest:
			p.send(wire.CmdPollAliveResponse, nil)
		case wire.CmdNormalDisconnect:
			return
		}
	}
}

func (p *panel) read(conn net.Conn) (wire.Message, error) {
	header := make([]byte, wire.HeaderSize)
	if _, err := io.ReadFull(conn, header); err != nil {
		return wire.Message{}, err
	}
	buf := make([]byte, binary.BigEndian.Uint16(header[12:14]))
	copy(buf, header)
	if _, err := io.ReadFull(conn, buf[wire.HeaderSize:]); err != nil {
		return wire.Message{}, err
	}
	msg, err := wire.Parse(buf, p.key)
	if err != nil {
		return msg, err
	}
	p.mu.Lock()
	p.rx = msg.TxSequence
	p.mu.Unlock()
	return msg, nil
}

func (p *panel) send(cmd wire.Command, data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tx++
	msg := wire.Message{
		SessionID:  0x22f8,
		TxSequence: p.tx,
		RxSequence: p.rx,
		Command:    cmd,
		Data:       data,
	}
	frame, err := msg.Marshal(p.key)
	require.NoError(p.t, err)
	_, err = p.conn.Write(frame)
	require.NoError(p.t, err)
}

func (p *panel) dropConnection() {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.conn.Close()
}

func equipmentData() []byte {
	b := []byte{0x00, 0x02}
	b = append(b, "2.4.\x00"...)
	b = append(b, "13-05-2024\x00\x00"...)
	b = append(b, 0x08)
	b = append(b, "UNii 128"...)
	return append(b, 0x00, 0x80, 0x04, 0x04, 0x00, 0x10)
}

func sectionArrangementData() []byte {
	b := []byte{0x01, 0x01, 0x0c}
	return append(b, "Begane grond"...)
}

func inputArrangementData() []byte {
	b := []byte{0x00, 0x02, 0x00, 0x01}
	for n := 1; n <= 3; n++ {
		name := fmt.Sprintf("Input %d", n)
		b = append(b, 0x00, byte(n), byte(wire.SensorBurglary), 0x00, byte(len(name)))
		b = append(b, name...)
		b = append(b, 0x00, 0x00, 0x00, 0x01)
	}
	return b
}

func deviceStatusData() []byte {
	b := []byte{0x00, 0x02}
	for i := 0; i < 51; i++ {
		b = append(b, 0x01, 0x00)
	}
	return b
}

func inputUpdateData(number int, status byte) []byte {
	return []byte{0x00, 0x02, byte(number >> 8), byte(number), status}
}

func eventData(description string) []byte {
	b := []byte{0x00, 0x03, 0x00, 0x2a}
	b = append(b, 124, 3, 11, 2, 29, 17)
	b = append(b, byte(len(description)))
	b = append(b, description...)
	b = append(b, 0x00, 0x00, 0x00) // user
	b = append(b, 0x00, 0x00, 0x00) // input
	b = append(b, 0x00, 0x00, 0x00) // device
	b = append(b, 0x00)             // bus
	b = append(b, 0x00, 0x00, 0x00, 0x00)
	return append(b, "  "...)
}

// recorder captures dispatched changes for later assertions.
type recorder struct {
	mu      sync.Mutex
	changes []Change
}

func (r *recorder) record(c Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

func (r *recorder) count(want Change) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.changes {
		if c == want {
			n++
		}
	}
	return n
}

func testClient(t *testing.T, p *panel, key string) (*Client, *recorder) {
	t.Helper()
	cli, err := New(Config{
		Host:                "127.0.0.1",
		Port:                p.port(),
		SharedKey:           key,
		ReconnectBackoffMin: 50 * time.Millisecond,
		ReconnectBackoffMax: 200 * time.Millisecond,
		Logger:              logp.New(io.Discard),
	})
	require.NoError(t, err)
	rec := &recorder{}
	cli.OnChange(rec.record)
	return cli, rec
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 5*time.Second, 10*time.Millisecond, msg)
}

func TestClientSession(t *testing.T) {
	p := newPanel(t, panelKey, false)
	cli, rec := testClient(t, p, hex.EncodeToString(panelKey))

	require.NoError(t, cli.Connect(context.Background()))
	require.Error(t, cli.Connect(context.Background()), "second connect must fail")

	state := cli.State()
	require.Equal(t, StatusConnected, state.Connection)
	require.Equal(t, "UNii 128", state.Equipment.DeviceName)
	require.Equal(t, "2.4.0", state.Equipment.SoftwareVersion)
	require.Equal(t, 128, state.Equipment.MaxInputs)
	require.Len(t, state.Inputs, 3)
	require.Equal(t, "Input 2", state.Inputs[2].Name)
	require.Equal(t, wire.DevicePresent, state.Device.ControlPanel)
	for n := 1; n <= 3; n++ {
		require.Equal(t, InputClear, state.Inputs[n].Status, "input %d", n)
	}
	require.Equal(t, Section{Number: 1, Name: "Begane grond", Status: SectionDisarmed}, state.Sections[1])

	// One notification per lifecycle transition and per status landing.
	eventually(t, func() bool {
		return rec.count(ConnectionChange{Previous: StatusHandshaking, Current: StatusConnected}) == 1
	}, "connected change")
	require.Equal(t, 1, rec.count(ConnectionChange{Previous: StatusDisconnected, Current: StatusConnecting}))
	require.Equal(t, 1, rec.count(ConnectionChange{Previous: StatusConnecting, Current: StatusHandshaking}))
	require.Equal(t, 1, rec.count(SectionChange{Number: 1, Previous: SectionUnknown, Current: SectionDisarmed}))
	require.Equal(t, 1, rec.count(InputChange{Number: 3, Previous: InputUnknown, Current: InputClear}))

	// A frame the client has no decoder for changes nothing.
	p.send(wire.Command(0x0999), []byte{0x01})

	p.send(wire.CmdInputStatusUpdate, inputUpdateData(3, 0x01))
	eventually(t, func() bool {
		return cli.State().Inputs[3].Status == InputOpen
	}, "input 3 open")
	require.Equal(t, 1, rec.count(InputChange{Number: 3, Previous: InputClear, Current: InputOpen}))
	require.Equal(t, InputClear, cli.State().Inputs[1].Status)

	// A status table with an unrecognized state code still applies the
	// other entries; the odd one lands as unknown.
	p.send(wire.CmdInputStatusChanged, []byte{0x00, 0x02, 0x01, 0x07, 0x01})
	eventually(t, func() bool {
		return cli.State().Inputs[1].Status == InputOpen
	}, "input 1 open")
	require.Equal(t, InputUnknown, cli.State().Inputs[2].Status)
	require.Equal(t, InputOpen, cli.State().Inputs[3].Status)

	p.send(wire.CmdEventOccurred, eventData("Systeem gewapend"))
	eventually(t, func() bool {
		r := rec
		r.mu.Lock()
		defer r.mu.Unlock()
		for _, c := range r.changes {
			if ev, ok := c.(EventChange); ok && ev.Event.Description == "Systeem gewapend" {
				return true
			}
		}
		return false
	}, "event delivered")

	require.NoError(t, cli.Close())
	require.Equal(t, StatusDisconnected, cli.State().Connection)
	require.Equal(t, 1, rec.count(ConnectionChange{Previous: StatusConnected, Current: StatusClosing}))
	require.Equal(t, 1, rec.count(ConnectionChange{Previous: StatusClosing, Current: StatusDisconnected}))

	require.NoError(t, cli.Close(), "close is idempotent")
	require.ErrorIs(t, cli.Connect(context.Background()), ErrClosed)
}

func TestClientReconnect(t *testing.T) {
	p := newPanel(t, nil, false)
	cli, rec := testClient(t, p, "")

	require.NoError(t, cli.Connect(context.Background()))
	eventually(t, func() bool {
		return rec.count(InputChange{Number: 1, Previous: InputUnknown, Current: InputClear}) == 1
	}, "initial input status")

	p.dropConnection()

	eventually(t, func() bool {
		return rec.count(ConnectionChange{Previous: StatusHandshaking, Current: StatusConnected}) == 2
	}, "reconnected")
	require.Equal(t, 1, rec.count(ConnectionChange{Previous: StatusConnected, Current: StatusReconnecting}))

	// Statuses were reset to unknown while reconnecting and land fresh
	// from the new handshake.
	require.Equal(t, 2, rec.count(InputChange{Number: 1, Previous: InputUnknown, Current: InputClear}))
	require.Equal(t, StatusConnected, cli.State().Connection)
	require.Equal(t, InputClear, cli.State().Inputs[1].Status)

	require.NoError(t, cli.Close())
}

func TestClientPartialArrangement(t *testing.T) {
	p := newPanel(t, nil, false)
	cli, _ := testClient(t, p, "")
	require.NoError(t, cli.Connect(context.Background()))

	// A frame with a valid record followed by a broken one: the valid
	// record still lands in the state.
	payload := sectionArrangementData()
	payload = append(payload, 0x01, 0x01, 0x06)
	payload = append(payload, "Zolder"...)
	payload = append(payload, 0x01, 0x01, 0xff, 'x') // name overruns the frame
	p.send(wire.CmdResponseSectionArrangement, payload)

	eventually(t, func() bool {
		return cli.State().Sections[2].Name == "Zolder"
	}, "valid record applied")
	require.NoError(t, cli.Close())
}

func TestSessionStopsReader(t *testing.T) {
	cli, err := New(Config{Host: "127.0.0.1", Logger: logp.New(io.Discard)})
	require.NoError(t, err)

	client, server := net.Pipe()
	tr := newTransport(client, nil, cli.log)
	baseline := runtime.NumGoroutine()

	sessionErr := make(chan error, 1)
	go func() {
		sessionErr <- cli.session(context.Background(), tr)
	}()

	frame, err := wire.Message{
		TxSequence: 1,
		Command:    wire.CmdEventOccurred,
		Data:       eventData("Inbraak alarm"),
	}.Marshal(nil)
	require.NoError(t, err)

	go func() {
		// The first event makes the session block on the ack write (the
		// pipe has no reader on the far side), the second parks the
		// session's reader on an unconsumed message. Closing the pipe
		// then fails the ack, ending the session: the reader must not
		// stay parked.
		_, _ = server.Write(frame)
		_, _ = server.Write(frame)
		_ = server.Close()
	}()

	require.Error(t, <-sessionErr)
	_ = tr.close()
	eventually(t, func() bool {
		return runtime.NumGoroutine() <= baseline
	}, "session goroutines gone")

	require.NoError(t, cli.Close())
}

func TestClientConnectionDenied(t *testing.T) {
	p := newPanel(t, nil, true)
	cli, rec := testClient(t, p, "")

	err := cli.Connect(context.Background())
	require.ErrorIs(t, err, ErrHandshake)
	require.ErrorIs(t, err, ErrConnectionDenied)

	state := cli.State()
	require.Equal(t, StatusDisconnected, state.Connection)
	require.Empty(t, state.Inputs)
	require.Empty(t, state.Sections)
	require.Zero(t, rec.count(ConnectionChange{Previous: StatusHandshaking, Current: StatusConnected}))

	require.NoError(t, cli.Close())
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err, "host is required")

	_, err = New(Config{Host: "10.0.0.10", SharedKey: "short"})
	require.Error(t, err, "shared key must be 16 bytes")

	cli, err := New(Config{Host: "10.0.0.10", Logger: logp.New(io.Discard)})
	require.NoError(t, err)
	require.Equal(t, StatusDisconnected, cli.State().Connection)
	require.NoError(t, cli.Close())
}
