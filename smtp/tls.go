package smtp

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"
)

// TLSState enumerates the lifecycle of the upgradable connection.
type TLSState int

const (
	// TLSPlaintext carries plaintext only, no upgrade is possible.
	TLSPlaintext TLSState = iota
	// TLSEnabled carries plaintext and may upgrade to TLS on demand.
	TLSEnabled
	// TLSHandshake is the transient state while the handshake is driven to completion.
	TLSHandshake
	// TLSEncrypted carries TLS; a second upgrade is not possible.
	TLSEncrypted
	// TLSFailed is terminal; all IO returns ErrTLSFailed.
	TLSFailed
)

// ErrTLSFailed is returned by all IO operations on a connection whose TLS upgrade failed.
var ErrTLSFailed = errors.New("tls upgrade failed: broken pipe")

/*
TLSCapableConn is a bidirectional octet stream whose on-the-wire encoding transitions at most
once from plaintext to TLS, in place. Application code above it keeps a single uniform
read/write surface across the transition, which is what STARTTLS demands: the handshake happens
on the very same TCP connection, immediately after the 220 reply is flushed.

All operations are serialised by the single connection task; the type spawns nothing.
*/
type TLSCapableConn struct {
	conn     net.Conn
	upgrader TLSUpgrader
	peerName string
	state    TLSState
}

// NewTLSCapableConn wraps the connection. With a nil upgrader the connection remains plaintext
// forever; otherwise the upgrade is available exactly once.
func NewTLSCapableConn(conn net.Conn, upgrader TLSUpgrader, peerName string) *TLSCapableConn {
	state := TLSPlaintext
	if upgrader != nil {
		state = TLSEnabled
	}
	return &TLSCapableConn{conn: conn, upgrader: upgrader, peerName: peerName, state: state}
}

// CanEncrypt returns true only while the upgrade is still available.
func (c *TLSCapableConn) CanEncrypt() bool {
	return c.state == TLSEnabled
}

// IsEncrypted returns true once the handshake has begun or completed.
func (c *TLSCapableConn) IsEncrypted() bool {
	return c.state == TLSHandshake || c.state == TLSEncrypted
}

// State returns the current lifecycle state.
func (c *TLSCapableConn) State() TLSState {
	return c.state
}

/*
Encrypt drives the TLS handshake to completion and replaces the transport in place. It is legal
only in the enabled state; calling it in any other state moves the connection to the terminal
failed state. A handshake error is likewise terminal.
*/
func (c *TLSCapableConn) Encrypt() error {
	if c.state != TLSEnabled {
		was := c.state
		c.state = TLSFailed
		return fmt.Errorf("tls upgrade is not available in state %d", was)
	}
	c.state = TLSHandshake
	upgraded, err := c.upgrader.Upgrade(c.conn, c.peerName)
	if err != nil {
		c.state = TLSFailed
		return err
	}
	c.conn = upgraded
	c.state = TLSEncrypted
	return nil
}

func (c *TLSCapableConn) Read(p []byte) (int, error) {
	if c.state == TLSFailed {
		return 0, ErrTLSFailed
	}
	return c.conn.Read(p)
}

func (c *TLSCapableConn) Write(p []byte) (int, error) {
	if c.state == TLSFailed {
		return 0, ErrTLSFailed
	}
	return c.conn.Write(p)
}

// Close closes the underlying connection. Closing a failed connection is not an error.
func (c *TLSCapableConn) Close() error {
	return c.conn.Close()
}

// SetReadDeadline forwards to the underlying connection.
func (c *TLSCapableConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// SetWriteDeadline forwards to the underlying connection.
func (c *TLSCapableConn) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}

// LocalAddr returns the local address of the underlying connection.
func (c *TLSCapableConn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// RemoteAddr returns the peer address of the underlying connection.
func (c *TLSCapableConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// ConnectionState returns the TLS connection state once encrypted.
func (c *TLSCapableConn) ConnectionState() (tls.ConnectionState, bool) {
	if tlsConn, ok := c.conn.(*tls.Conn); ok && c.state == TLSEncrypted {
		return tlsConn.ConnectionState(), true
	}
	return tls.ConnectionState{}, false
}

/*
ServerTLSUpgrader performs the server side of the STARTTLS handshake using a static TLS
configuration. The handshake is bounded by the timeout via the connection deadline, and the
deadlines are cleared again afterwards.
*/
type ServerTLSUpgrader struct {
	Config           *tls.Config
	HandshakeTimeout time.Duration
}

// Upgrade wraps the connection in server-side TLS and completes the handshake.
func (upgrader *ServerTLSUpgrader) Upgrade(conn net.Conn, peerName string) (net.Conn, error) {
	timeout := upgrader.HandshakeTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	tlsConn := tls.Server(conn, upgrader.Config)
	if err := tlsConn.Handshake(); err != nil {
		return nil, err
	}
	if err := tlsConn.SetDeadline(time.Time{}); err != nil {
		return nil, err
	}
	return tlsConn, nil
}
