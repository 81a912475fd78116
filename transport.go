package unii

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/caarlos0/sync/cio"
	"github.com/charmbracelet/log"
	"github.com/unii-community/go-unii/wire"
)

// transport owns one TCP connection and its sequence bookkeeping. Frames
// are written atomically under the write lock; the read side is driven
// by a single reader goroutine.
type transport struct {
	conn net.Conn
	key  []byte
	log  *log.Logger

	mu       sync.Mutex
	session  uint16
	tx       uint32
	rx       uint32
	lastSent time.Time
}

func newTransport(conn net.Conn, key []byte, logger *log.Logger) *transport {
	return &transport{
		conn: conn,
		key:  key,
		log:  logger,
		// Fixed session ID until the panel assigns one; the TX sequence
		// starts random per session.
		session: 0xffff,
		tx:      uint32(rand.Intn(0x10000)),
	}
}

func (t *transport) send(cmd wire.Command, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tx++
	msg := wire.Message{
		SessionID:  t.session,
		TxSequence: t.tx,
		RxSequence: t.rx,
		Command:    cmd,
		Data:       data,
	}
	frame, err := msg.Marshal(t.key)
	if err != nil {
		return fmt.Errorf("could not send %s: %w", cmd, err)
	}
	if _, err := t.conn.Write(frame); err != nil {
		return fmt.Errorf("could not send %s: %w", cmd, err)
	}
	t.lastSent = time.Now()
	t.log.Debug("sent", "command", cmd, "sequence", t.tx)
	return nil
}

// read blocks for at most timeout waiting for one complete frame. A
// deadline expiry is a liveness failure, not a framing error.
func (t *transport) read(timeout time.Duration) (wire.Message, error) {
	var m wire.Message
	r := cio.TimeoutReader(t.conn, timeout)

	header := make([]byte, wire.HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return m, readError(err)
	}
	length := int(binary.BigEndian.Uint16(header[12:14]))
	if length < wire.HeaderSize+2 || length > wire.MaxMessageSize {
		return m, wire.LengthError{Length: length}
	}
	buf := make([]byte, length)
	copy(buf, header)
	if _, err := io.ReadFull(r, buf[wire.HeaderSize:]); err != nil {
		return m, readError(err)
	}

	m, err := wire.Parse(buf, t.key)
	if err != nil {
		return m, err
	}

	t.mu.Lock()
	if m.RxSequence != t.tx {
		t.log.Warn("sequence mismatch", "expected", t.tx, "received", m.RxSequence)
	}
	t.session = m.SessionID
	t.rx = m.TxSequence
	t.mu.Unlock()
	t.log.Debug("received", "command", m.Command, "sequence", m.TxSequence)
	return m, nil
}

// idle reports whether nothing was sent for at least d.
func (t *transport) idle(d time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return time.Since(t.lastSent) >= d
}

func (t *transport) close() error {
	return t.conn.Close()
}

func readError(err error) error {
	var nerr net.Error
	switch {
	case errors.As(err, &nerr) && nerr.Timeout(),
		errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrLiveness, err)
	default:
		return fmt.Errorf("could not read: %w", err)
	}
}
