// Package unii implements a read-only client for Alphatronics UNii
// intrusion panels. It keeps an encrypted TCP session to the panel
// alive, decodes pushed status frames into an in-memory device state and
// notifies subscribers of every observable change.
package unii

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/cenkalti/backoff/v4"
	logp "github.com/charmbracelet/log"
	"github.com/unii-community/go-unii/wire"
)

// DefaultPort is the panel's TCP API port.
const DefaultPort = 6502

const (
	defaultDialTimeout  = 10 * time.Second
	defaultReadTimeout  = 45 * time.Second
	defaultPollInterval = 30 * time.Second
	defaultBackoffMin   = time.Second
	defaultBackoffMax   = 2 * time.Minute

	// How long to wait for the response to a handshake request.
	responseTimeout = 5 * time.Second

	changeQueueSize = 256
)

// Panels running at least this firmware report their output
// arrangement.
var outputArrangementSince = semver.MustParse("2.17.0")

// Config carries the connection settings for one panel session.
type Config struct {
	Host string
	// Port defaults to DefaultPort.
	Port int
	// SharedKey is the panel's API key, raw or hex encoded. Empty means
	// the unencrypted protocol mode.
	SharedKey string

	DialTimeout time.Duration
	// ReadTimeout bounds how long the connection may stay silent before
	// it is considered dead.
	ReadTimeout time.Duration
	// PollInterval is how often a poll alive message is sent when
	// nothing else was written.
	PollInterval time.Duration
	// Reconnect backoff bounds. Reconnecting never gives up, the delay
	// just stops growing at the maximum.
	ReconnectBackoffMin time.Duration
	ReconnectBackoffMax time.Duration

	Logger *logp.Logger
}

func (cfg Config) withDefaults() Config {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.ReconnectBackoffMin == 0 {
		cfg.ReconnectBackoffMin = defaultBackoffMin
	}
	if cfg.ReconnectBackoffMax == 0 {
		cfg.ReconnectBackoffMax = defaultBackoffMax
	}
	if cfg.Logger == nil {
		cfg.Logger = logp.NewWithOptions(os.Stderr, logp.Options{
			ReportTimestamp: true,
			TimeFormat:      time.Kitchen,
			Prefix:          "unii",
		})
	}
	return cfg
}

// Client is one logical session to a panel. All session state is scoped
// to the client, so independent sessions to multiple panels can run side
// by side.
type Client struct {
	cfg      Config
	addr     string
	key      []byte
	log      *logp.Logger
	dispatch *dispatcher

	mu        sync.Mutex
	status    ConnectionStatus
	state     DeviceState
	transport *transport
	cancel    context.CancelFunc
	closed    bool

	done chan struct{}
}

// New validates the configuration and prepares a client. No connection
// is made until Connect.
func New(cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()
	if cfg.Host == "" {
		return nil, errors.New("unii: host is required")
	}
	key, err := wire.ParseKey(cfg.SharedKey)
	if err != nil {
		return nil, fmt.Errorf("unii: %w", err)
	}
	return &Client{
		cfg:      cfg,
		addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		key:      key,
		log:      cfg.Logger,
		dispatch: newDispatcher(cfg.Logger, changeQueueSize),
		state:    newDeviceState(),
	}, nil
}

// OnChange registers a subscriber. Every change is delivered exactly
// once, in the order it was produced. Register before Connect to not
// miss the changes of the initial handshake.
func (c *Client) OnChange(fn func(Change)) {
	c.dispatch.subscribe(fn)
}

// State returns a self-consistent snapshot of the device state.
func (c *Client) State() DeviceState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.snapshot()
}

// Connect dials the panel and runs the handshake once. On success a
// supervisor keeps the session alive, reconnecting with backoff until
// Close is called; on failure the client stays disconnected and the
// error is returned to the caller.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.cancel != nil {
		c.mu.Unlock()
		return errors.New("unii: already connected")
	}
	c.mu.Unlock()

	t, err := c.connectOnce(ctx)
	if err != nil {
		c.setStatus(StatusDisconnected)
		return err
	}

	sctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()
	go c.supervise(sctx, t)
	return nil
}

// Close sends a best-effort disconnect, stops the supervisor and the
// change delivery, and leaves the client disconnected. It is safe to
// call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancel := c.cancel
	t := c.transport
	done := c.done
	c.mu.Unlock()

	c.setStatus(StatusClosing)
	if t != nil {
		if err := t.send(wire.CmdNormalDisconnect, nil); err != nil {
			c.log.Debug("could not send disconnect", "err", err)
		}
	}
	if cancel != nil {
		cancel()
		<-done
	}
	c.setStatus(StatusDisconnected)
	c.dispatch.close()
	return nil
}

// connectOnce performs one dial plus handshake attempt and leaves the
// client Connected on success.
func (c *Client) connectOnce(ctx context.Context) (*transport, error) {
	c.setStatus(StatusConnecting)
	c.log.Info("connecting", "addr", c.addr)
	dialer := net.Dialer{Timeout: c.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, fmt.Errorf("could not connect to %s: %w", c.addr, err)
	}

	c.setStatus(StatusHandshaking)
	t := newTransport(conn, c.key, c.log)
	if err := c.handshake(ctx, t); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %w", ErrHandshake, err)
	}

	c.mu.Lock()
	c.transport = t
	c.mu.Unlock()
	c.setStatus(StatusConnected)
	c.log.Info("connected", "addr", c.addr)
	return t, nil
}

// handshake validates the shared key and loads the panel's arrangement
// and initial statuses. Statuses are reset first so nothing stale from a
// previous connection survives unnoticed.
func (c *Client) handshake(ctx context.Context, t *transport) error {
	c.resetStatuses()

	if err := c.exchange(ctx, t, wire.CmdConnectionRequest, nil, wire.CmdConnectionRequestResponse); err != nil {
		return err
	}
	if err := c.exchange(ctx, t, wire.CmdRequestEquipmentInformation, nil, wire.CmdResponseEquipmentInformation); err != nil {
		return err
	}
	if err := c.exchange(ctx, t, wire.CmdRequestSectionArrangement, nil, wire.CmdResponseSectionArrangement); err != nil {
		return err
	}
	for _, number := range c.sectionNumbers() {
		if err := c.exchange(ctx, t, wire.CmdRequestSectionStatus, []byte{byte(number)}, wire.CmdResponseSectionStatus); err != nil {
			return err
		}
	}
	if err := c.requestBlocks(ctx, t, wire.CmdRequestInputArrangement, wire.CmdResponseInputArrangement); err != nil {
		return err
	}
	if err := c.exchange(ctx, t, wire.CmdRequestInputStatus, nil, wire.CmdInputStatusChanged); err != nil {
		return err
	}
	if c.supportsOutputArrangement() {
		if err := c.requestBlocks(ctx, t, wire.CmdRequestOutputArrangement, wire.CmdResponseOutputArrangement); err != nil {
			return err
		}
	}
	return c.exchange(ctx, t, wire.CmdRequestDeviceStatus, nil, wire.CmdDeviceStatusChanged)
}

// exchange sends a request and waits for its response command, applying
// everything else the panel pushes in between.
func (c *Client) exchange(ctx context.Context, t *transport, req wire.Command, data []byte, resp wire.Command) error {
	if err := t.send(req, data); err != nil {
		return err
	}
	_, err := c.await(ctx, t, resp)
	return err
}

// requestBlocks walks a blocked arrangement response until the panel
// reports the last block.
func (c *Client) requestBlocks(ctx context.Context, t *transport, req, resp wire.Command) error {
	for block := 1; ; block++ {
		data := []byte{byte(block >> 8), byte(block)}
		if err := t.send(req, data); err != nil {
			return err
		}
		if _, err := c.await(ctx, t, resp); err != nil {
			if errors.Is(err, wire.ErrLastBlock) {
				return nil
			}
			return err
		}
	}
}

// await reads frames until one carries the expected command, applying
// and dispatching every frame on the way. The decode error of the
// matched frame is returned to the caller.
func (c *Client) await(ctx context.Context, t *transport, expected wire.Command) (wire.Message, error) {
	for {
		if err := ctx.Err(); err != nil {
			return wire.Message{}, err
		}
		msg, err := t.read(responseTimeout)
		if err != nil {
			return msg, fmt.Errorf("waiting for %s: %w", expected, err)
		}
		changes, derr := c.applyMessage(msg)
		c.dispatch.publish(changes...)

		switch {
		case msg.Command == expected:
			return msg, derr
		case msg.Command == wire.CmdConnectionRequestDenied && expected == wire.CmdConnectionRequestResponse:
			return msg, ErrConnectionDenied
		case derr != nil:
			c.log.Warn("ignoring frame", "command", msg.Command, "err", derr)
		}
	}
}

// supervise owns the session after the first successful handshake: it
// pumps frames, keeps the connection alive, and reconnects with bounded
// exponential backoff for as long as the client isn't closed.
func (c *Client) supervise(ctx context.Context, t *transport) {
	defer close(c.done)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.ReconnectBackoffMin
	bo.MaxInterval = c.cfg.ReconnectBackoffMax
	bo.MaxElapsedTime = 0

	for {
		err := c.session(ctx, t)
		_ = t.close()
		if ctx.Err() != nil {
			return
		}
		c.log.Warn("connection lost", "err", err)
		c.setStatus(StatusReconnecting)

		for {
			select {
			case <-time.After(bo.NextBackOff()):
			case <-ctx.Done():
				return
			}
			next, err := c.connectOnce(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				c.log.Error("reconnect failed", "err", err)
				c.setStatus(StatusReconnecting)
				continue
			}
			bo.Reset()
			t = next
			break
		}
	}
}

// session pumps one connection until it fails or the client stops. A
// dedicated goroutine owns the socket reads; this loop applies frames,
// acks events and keeps the link alive.
func (c *Client) session(ctx context.Context, t *transport) error {
	// The reader is tied to this session, not to the supervisor: when
	// the session ends for any reason the reader must not stay parked on
	// the message channel.
	done := make(chan struct{})
	defer close(done)

	msgs := make(chan wire.Message)
	errs := make(chan error, 1)
	go func() {
		for {
			msg, err := t.read(c.cfg.ReadTimeout)
			if err != nil {
				errs <- err
				return
			}
			select {
			case msgs <- msg:
			case <-done:
				return
			}
		}
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errs:
			return err
		case msg := <-msgs:
			changes, err := c.applyMessage(msg)
			if err != nil && !errors.Is(err, wire.ErrLastBlock) {
				c.log.Warn("ignoring frame", "command", msg.Command, "err", err)
			}
			c.dispatch.publish(changes...)
			if msg.Command == wire.CmdEventOccurred {
				if err := t.send(wire.CmdResponseEventOccurred, nil); err != nil {
					return err
				}
			}
		case <-ticker.C:
			if t.idle(c.cfg.PollInterval) {
				if err := t.send(wire.CmdPollAliveRequest, nil); err != nil {
					return err
				}
			}
		}
	}
}

// setStatus applies a connection transition, resets statuses when a live
// connection degrades, and notifies subscribers exactly once per
// transition.
func (c *Client) setStatus(status ConnectionStatus) {
	c.mu.Lock()
	previous := c.status
	if previous == status {
		c.mu.Unlock()
		return
	}
	c.status = status
	c.state.Connection = status
	c.mu.Unlock()

	if status == StatusReconnecting {
		// Stale statuses must not survive the connection they came
		// from; subscribers see them as unknown until fresh frames land.
		c.resetStatuses()
	}
	c.dispatch.publish(ConnectionChange{Previous: previous, Current: status})
}

func (c *Client) sectionNumbers() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	numbers := make([]int, 0, len(c.state.Sections))
	for number := range c.state.Sections {
		numbers = append(numbers, number)
	}
	sort.Ints(numbers)
	return numbers
}

func (c *Client) supportsOutputArrangement() bool {
	c.mu.Lock()
	raw := c.state.Equipment.SoftwareVersion
	c.mu.Unlock()
	version, err := semver.NewVersion(raw)
	if err != nil {
		c.log.Warn("could not parse firmware version", "version", raw, "err", err)
		return false
	}
	return !version.LessThan(outputArrangementSince)
}
