// Package dispatcher runs the TCP control-plane accept loop: one goroutine
// per connection, gated on a mandatory Hello, then a bounded-poll command
// loop for the lifetime of the session.
package dispatcher

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"snowcast/internal/limits"
	"snowcast/internal/registry"
	"snowcast/internal/wire"
)

// Dispatcher accepts controller connections and drives their control-plane
// sessions against a shared registry.
type Dispatcher struct {
	reg *registry.Registry
	log *slog.Logger
}

// New builds a dispatcher over reg. A nil logger falls back to slog's
// default.
func New(reg *registry.Registry, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{reg: reg, log: logger}
}

// Serve accepts connections on ln until ctx is canceled, handling each on
// its own goroutine.
func (d *Dispatcher) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go d.handle(ctx, conn)
	}
}

// handle drives one controller's session end to end: the hello gate,
// initial welcome, and the bounded-poll command loop.
func (d *Dispatcher) handle(ctx context.Context, conn net.Conn) {
	addr := conn.RemoteAddr().String()
	defer conn.Close()

	status, msg, err := wire.ReadClientMessage(conn, true)
	if err != nil {
		d.log.Info("control connection closed before hello", "addr", addr, "err", err)
		return
	}
	hello, ok := msg.(wire.Hello)
	if status != wire.StatusMessage || !ok {
		_ = wire.WriteServerMessage(conn, wire.InvalidCommand{Reason: "Must start with a hello message."})
		return
	}

	ip := hostIP(conn.RemoteAddr())
	client, err := d.reg.Attach(conn, addr, ip, hello.UDPPort)
	if err != nil {
		_ = wire.WriteServerMessage(conn, wire.InvalidCommand{Reason: err.Error()})
		return
	}
	defer d.reg.Detach(client)

	if err := client.SendControl(wire.Welcome{NumStations: d.reg.NumStations()}); err != nil {
		return
	}
	if song, ok := d.reg.CurrentSong(client); ok {
		if err := client.SendControl(wire.Announce{SongName: song}); err != nil {
			return
		}
	}

	d.log.Info("client attached", "addr", addr, "id", client.ID)
	d.loop(ctx, conn, client)
}

// loop polls the control connection for commands until it errors, the
// client is closed, or ctx is canceled.
func (d *Dispatcher) loop(ctx context.Context, conn net.Conn, client *registry.Client) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if client.Closed() {
			return
		}

		status, msg, err := wire.ReadClientMessage(conn, false)
		if err != nil {
			d.log.Info("control read failed", "id", client.ID, "err", err)
			return
		}

		switch status {
		case wire.StatusNoData:
			time.Sleep(limits.ControlPollInterval)
			continue
		case wire.StatusUnrecognized:
			_ = client.SendControl(wire.InvalidCommand{Reason: "Unrecognized command."})
			return
		}

		if err := d.dispatch(client, msg); err != nil {
			return
		}
	}
}

// errProtocolViolation signals dispatch's caller to terminate the session
// after an InvalidCommand reply has already been sent: a repeat hello is a
// protocol violation, not just an inapplicable command.
var errProtocolViolation = errors.New("dispatcher: protocol violation")

// dispatch applies one decoded client message to the registry and replies.
// A returned error means the session should end: either the control
// connection itself failed, or the message was a protocol violation whose
// InvalidCommand reply must be the connection's last word.
func (d *Dispatcher) dispatch(client *registry.Client, msg wire.ClientMessage) error {
	switch m := msg.(type) {
	case wire.Hello:
		_ = client.SendControl(wire.InvalidCommand{Reason: "Repeat hello message."})
		return errProtocolViolation

	case wire.SetStation:
		song, err := d.reg.Retune(client, m.Station)
		if err != nil {
			return client.SendControl(wire.InvalidCommand{Reason: err.Error()})
		}
		return client.SendControl(wire.Announce{SongName: song})

	case wire.GetQueue:
		songs, ok := d.reg.GetQueue(client, limits.SongQueueDepth)
		if !ok {
			return nil
		}
		return client.SendControl(wire.SongQueue{Songs: songs})

	case wire.ListStations:
		return client.SendControl(wire.Stations{Entries: d.reg.ListStations()})

	default:
		return client.SendControl(wire.InvalidCommand{Reason: "Unrecognized command."})
	}
}

func hostIP(addr net.Addr) net.IP {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return net.IPv4zero
	}
	return net.ParseIP(host)
}
