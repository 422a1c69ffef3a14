package registry

import (
	"net"
	"sync"
	"sync/atomic"

	"snowcast/internal/wire"
)

// Client is one connected controller: a reliable control connection plus
// the UDP handle its current station's audio is sent to.
type Client struct {
	ID          uint16
	ControlAddr string // control endpoint key (conn.RemoteAddr().String())

	conn   net.Conn
	ctrlMu sync.Mutex // serializes writes to conn; broadcast and dispatcher both write

	udp    *net.UDPConn
	health sendHealth

	closed atomic.Bool

	station int // index into Registry.stations; -1 means "none" (only reachable after a shutdown)
}

// SendControl writes m to the client's control connection. It is safe to
// call from multiple goroutines (the dispatcher and the broadcast scheduler
// both send control messages to a client).
func (c *Client) SendControl(m wire.ServerMessage) error {
	c.ctrlMu.Lock()
	defer c.ctrlMu.Unlock()

	if c.closed.Load() {
		return net.ErrClosed
	}
	if err := wire.WriteServerMessage(c.conn, m); err != nil {
		c.closed.Store(true)
		return err
	}
	return nil
}

// ShouldSkipAudio reports whether the circuit breaker says this tick's
// datagram should not be attempted.
func (c *Client) ShouldSkipAudio() bool {
	return c.health.shouldSkip()
}

// BreakerOpen reports whether the client's send breaker is currently open.
func (c *Client) BreakerOpen() bool {
	return c.health.open()
}

// SendAudio writes one packet to the client's UDP handle and updates the
// circuit breaker with the outcome.
func (c *Client) SendAudio(packet []byte) error {
	_, err := c.udp.Write(packet)
	if err != nil {
		c.health.recordFailure()
		return err
	}
	c.health.recordSuccess()
	return nil
}

// Closed reports whether the client's control connection has failed.
func (c *Client) Closed() bool {
	return c.closed.Load()
}

// Close tears down both of the client's sockets. Safe to call more than
// once.
func (c *Client) Close() {
	c.closed.Store(true)
	_ = c.conn.Close()
	_ = c.udp.Close()
}
