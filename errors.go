package unii

import "errors"

var (
	// ErrConnectionDenied is returned when the panel rejects the
	// connection request during the handshake.
	ErrConnectionDenied = errors.New("unii: connection request denied")

	// ErrHandshake is returned when the handshake exchange does not
	// complete, most commonly because of a wrong shared key.
	ErrHandshake = errors.New("unii: handshake failed")

	// ErrLiveness is returned when no traffic arrived within the
	// configured read timeout. The connection is considered dead.
	ErrLiveness = errors.New("unii: no traffic within read timeout")

	// ErrClosed is returned when the client was already closed.
	ErrClosed = errors.New("unii: client closed")
)
