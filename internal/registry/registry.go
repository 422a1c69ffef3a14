// Package registry owns the set of live stations and connected clients. A
// single mutex protects three logically-agreeing indices: control endpoint
// to client, station to listeners, and client to station.
package registry

import (
	"fmt"
	"net"
	"sync"

	"snowcast/internal/station"
	"snowcast/internal/wire"
)

// Registry is the server's single source of truth for stations and
// clients. All mutating operations are atomic with respect to each other.
type Registry struct {
	mu       sync.Mutex
	stations []*station.Station // nil entry = shut down; slots are never reused
	byAddr   map[string]*Client
	byID     map[uint16]*Client
	nextID   uint16
}

// New builds a registry with one station per path, in argument order.
func New(paths []string) (*Registry, error) {
	r := &Registry{
		byAddr: make(map[string]*Client),
		byID:   make(map[uint16]*Client),
	}
	for i, p := range paths {
		st, err := station.New(uint16(i), p)
		if err != nil {
			return nil, fmt.Errorf("registry: station %d (%q): %w", i, p, err)
		}
		r.stations = append(r.stations, st)
	}
	return r, nil
}

// StationSummary is a diagnostic snapshot of one live station.
type StationSummary struct {
	Index       uint16
	CurrentSong string
	Listeners   []string
}

func stationDoesNotExist(idx uint16) error {
	return fmt.Errorf("Station does not exist: %d.", idx)
}

func stationShutDown(idx uint16) error {
	return fmt.Errorf("Requested station is shut down: %d.", idx)
}

// stationLocked looks up a live station by index; the caller must hold
// r.mu. It returns a descriptive error if the index is out of range or the
// station has been shut down.
func (r *Registry) stationLocked(idx uint16) (*station.Station, error) {
	if int(idx) >= len(r.stations) {
		return nil, stationDoesNotExist(idx)
	}
	st := r.stations[idx]
	if st == nil {
		return nil, stationShutDown(idx)
	}
	return st, nil
}

// Attach registers a new client tuned to station 0, opening a UDP handle
// to (ip, udpPort) for its audio. controlAddr must be unique per connected
// controller (its TCP control endpoint).
func (r *Registry) Attach(conn net.Conn, controlAddr string, ip net.IP, udpPort uint16) (*Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byAddr[controlAddr]; exists {
		return nil, fmt.Errorf("registry: %s already has an open session", controlAddr)
	}

	udpConn, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: ip, Port: int(udpPort)})
	if err != nil {
		return nil, err
	}

	c := &Client{
		ID:          r.nextID,
		ControlAddr: controlAddr,
		conn:        conn,
		udp:         udpConn,
		station:     0,
	}
	r.nextID++

	r.byAddr[controlAddr] = c
	r.byID[c.ID] = c
	if len(r.stations) > 0 && r.stations[0] != nil {
		r.stations[0].AddListener(c.ID)
	}

	return c, nil
}

// Retune moves c onto station newStation and returns its current song.
func (r *Registry) Retune(c *Client, newStation uint16) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, err := r.stationLocked(newStation)
	if err != nil {
		return "", err
	}

	if c.station >= 0 && c.station < len(r.stations) && r.stations[c.station] != nil {
		r.stations[c.station].RemoveListener(c.ID)
	}
	st.AddListener(c.ID)
	c.station = int(newStation)

	return st.CurrentSong(), nil
}

// GetQueue reports the upcoming songs on c's current station. ok is false
// if c is not currently tuned to a live station, in which case the caller
// sends no reply — matching the original server's silent no-op.
func (r *Registry) GetQueue(c *Client, depth int) (songs []string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c.station < 0 || c.station >= len(r.stations) || r.stations[c.station] == nil {
		return nil, false
	}
	return r.stations[c.station].PeekQueue(depth), true
}

// CurrentSong reports the current song of the station c is tuned to. ok is
// false if c is not tuned to a live station.
func (r *Registry) CurrentSong(c *Client) (song string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c.station < 0 || c.station >= len(r.stations) || r.stations[c.station] == nil {
		return "", false
	}
	return r.stations[c.station].CurrentSong(), true
}

// ListStations returns a snapshot of every live station as wire entries,
// ordered by index.
func (r *Registry) ListStations() []wire.StationEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	var entries []wire.StationEntry
	for i, st := range r.stations {
		if st == nil {
			continue
		}
		entries = append(entries, wire.StationEntry{Station: uint16(i), Song: st.CurrentSong()})
	}
	return entries
}

// NumStations is the count of currently live stations, i.e. excluding
// shut-down slots.
func (r *Registry) NumStations() uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n uint16
	for _, st := range r.stations {
		if st != nil {
			n++
		}
	}
	return n
}

// Stations returns a snapshot of the live station pointers, indexed exactly
// as the registry holds them (nil for shut-down slots). Used by the
// broadcast scheduler to drive one packet-production cycle without holding
// the registry lock for the duration.
func (r *Registry) Stations() []*station.Station {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*station.Station, len(r.stations))
	copy(out, r.stations)
	return out
}

// ClientsFor returns a snapshot of the Client pointers currently listening
// to station idx.
func (r *Registry) ClientsFor(idx uint16, listeners []uint16) []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Client, 0, len(listeners))
	for _, id := range listeners {
		if c, ok := r.byID[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Detach removes c from the registry and releases its sockets.
func (r *Registry) Detach(c *Client) {
	r.mu.Lock()
	if c.station >= 0 && c.station < len(r.stations) && r.stations[c.station] != nil {
		r.stations[c.station].RemoveListener(c.ID)
	}
	delete(r.byAddr, c.ControlAddr)
	delete(r.byID, c.ID)
	r.mu.Unlock()

	c.Close()
}

// ShutdownStation shuts down station idx, returning the clients that were
// listening to it so the caller can notify them outside the registry lock.
func (r *Registry) ShutdownStation(idx uint16) ([]*Client, error) {
	r.mu.Lock()

	st, err := r.stationLocked(idx)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}

	listeners := st.Listeners()
	affected := make([]*Client, 0, len(listeners))
	for _, id := range listeners {
		if c, ok := r.byID[id]; ok {
			c.station = -1
			affected = append(affected, c)
		}
	}
	r.stations[idx] = nil

	r.mu.Unlock()
	return affected, nil
}

// AddStation appends a new station built from rawPath, returning its index
// and a snapshot of every currently connected client so the caller can
// announce it outside the registry lock.
func (r *Registry) AddStation(rawPath string) (uint16, []*Client, error) {
	r.mu.Lock()

	idx := uint16(len(r.stations))
	st, err := station.New(idx, rawPath)
	if err != nil {
		r.mu.Unlock()
		return 0, nil, err
	}
	r.stations = append(r.stations, st)

	all := make([]*Client, 0, len(r.byID))
	for _, c := range r.byID {
		all = append(all, c)
	}

	r.mu.Unlock()
	return idx, all, nil
}

// ListListeners returns a diagnostic snapshot of every live station and its
// listeners' control addresses, for the operator REPL.
func (r *Registry) ListListeners() []StationSummary {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []StationSummary
	for i, st := range r.stations {
		if st == nil {
			continue
		}
		ids := st.Listeners()
		addrs := make([]string, 0, len(ids))
		for _, id := range ids {
			if c, ok := r.byID[id]; ok {
				addrs = append(addrs, c.ControlAddr)
			}
		}
		out = append(out, StationSummary{
			Index:       uint16(i),
			CurrentSong: st.CurrentSong(),
			Listeners:   addrs,
		})
	}
	return out
}

// ReapClosed detaches every client whose control connection has already
// failed. The dispatcher detaches a client as soon as its own connection
// errors; this is a backstop for clients whose control connection broke
// without the dispatcher's own read noticing yet (e.g. future writes
// failing first).
func (r *Registry) ReapClosed() {
	r.mu.Lock()
	var dead []*Client
	for _, c := range r.byID {
		if c.Closed() {
			dead = append(dead, c)
		}
	}
	r.mu.Unlock()

	for _, c := range dead {
		r.Detach(c)
	}
}

// ShutdownAll shuts every live station down, returning the clients that
// were listening to a live station (for a StationShutdown notification) and
// the full set of clients that existed at the time (for final connection
// teardown). It does not send or close anything itself.
func (r *Registry) ShutdownAll() (notify []*Client, all []*Client) {
	r.mu.Lock()

	notified := make(map[uint16]struct{})
	for i, st := range r.stations {
		if st == nil {
			continue
		}
		for _, id := range st.Listeners() {
			if c, ok := r.byID[id]; ok {
				c.station = -1
				if _, seen := notified[id]; !seen {
					notify = append(notify, c)
					notified[id] = struct{}{}
				}
			}
		}
		r.stations[i] = nil
	}

	all = make([]*Client, 0, len(r.byID))
	for _, c := range r.byID {
		all = append(all, c)
	}

	r.mu.Unlock()
	return notify, all
}
