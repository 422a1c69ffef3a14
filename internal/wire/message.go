// Package wire implements the Snowcast control-channel framing: tag-prefixed,
// length-implicit, big-endian messages in both directions over a reliable
// byte stream.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"snowcast/internal/limits"
)

// Client-to-server tags.
const (
	tagHello       = 0
	tagSetStation  = 1
	tagGetQueue    = 2
	tagListStations = 3
)

// Server-to-client tags.
const (
	tagWelcome         = 0
	tagAnnounce        = 1
	tagInvalidCommand  = 2
	tagSongQueue       = 3
	tagStations        = 4
	tagStationShutdown = 5
	tagNewStation      = 6
)

// Status distinguishes a successfully decoded message from the two
// non-fatal outcomes a reader must be able to report without blocking:
// no data yet available, and an unrecognized leading tag.
type Status int

const (
	// StatusMessage means a tag byte was read; with a nil error, the
	// returned message holds the decoded value.
	StatusMessage Status = iota
	// StatusNoData means no tag byte was available to read.
	StatusNoData
	// StatusUnrecognized means a tag byte was read but it matched no
	// known message type.
	StatusUnrecognized
)

// ClientMessage is any message a controller may send to the server.
type ClientMessage interface {
	isClientMessage()
}

// Hello is the mandatory first message from a controller.
type Hello struct{ UDPPort uint16 }

// SetStation requests a retune to the given station.
type SetStation struct{ Station uint16 }

// GetQueue requests the current station's upcoming song names.
type GetQueue struct{}

// ListStations requests a snapshot of every live station.
type ListStations struct{}

func (Hello) isClientMessage()        {}
func (SetStation) isClientMessage()   {}
func (GetQueue) isClientMessage()     {}
func (ListStations) isClientMessage() {}

// ServerMessage is any message the server may send to a controller.
type ServerMessage interface {
	isServerMessage()
}

// Welcome answers a successful Hello.
type Welcome struct{ NumStations uint16 }

// Announce reports a song transition on the client's current station.
type Announce struct{ SongName string }

// InvalidCommand reports a protocol or semantic error.
type InvalidCommand struct{ Reason string }

// SongQueue answers GetQueue.
type SongQueue struct{ Songs []string }

// StationEntry is one row of a Stations snapshot.
type StationEntry struct {
	Station uint16
	Song    string
}

// Stations answers ListStations.
type Stations struct{ Entries []StationEntry }

// StationShutdown notifies a listener that its station has shut down.
type StationShutdown struct{}

// NewStation announces a newly created station to every connected client.
type NewStation struct{ Station uint16 }

func (Welcome) isServerMessage()         {}
func (Announce) isServerMessage()        {}
func (InvalidCommand) isServerMessage()  {}
func (SongQueue) isServerMessage()       {}
func (Stations) isServerMessage()        {}
func (StationShutdown) isServerMessage() {}
func (NewStation) isServerMessage()      {}

func writeU8(w io.Writer, v uint8) error {
	_, err := w.Write([]byte{v})
	return err
}

func writeU16(w io.Writer, v uint16) error {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func writeString(w io.Writer, s string) error {
	if len(s) > limits.MaxStringLen {
		return fmt.Errorf("wire: string too long (%d > %d)", len(s), limits.MaxStringLen)
	}
	if err := writeU8(w, uint8(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readU8(r io.Reader) (uint8, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func readU16(r io.Reader) (uint16, error) {
	var buf [2]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf[:]), nil
}

func readString(r io.Reader) (string, error) {
	n, err := readU8(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// WriteClientMessage encodes and writes m to w. Used by the controller.
func WriteClientMessage(w io.Writer, m ClientMessage) error {
	switch v := m.(type) {
	case Hello:
		if err := writeU8(w, tagHello); err != nil {
			return err
		}
		return writeU16(w, v.UDPPort)
	case SetStation:
		if err := writeU8(w, tagSetStation); err != nil {
			return err
		}
		return writeU16(w, v.Station)
	case GetQueue:
		return writeU8(w, tagGetQueue)
	case ListStations:
		return writeU8(w, tagListStations)
	default:
		return fmt.Errorf("wire: unknown client message type %T", m)
	}
}

// WriteServerMessage encodes and writes m to w. Used by the server.
func WriteServerMessage(w io.Writer, m ServerMessage) error {
	switch v := m.(type) {
	case Welcome:
		if err := writeU8(w, tagWelcome); err != nil {
			return err
		}
		return writeU16(w, v.NumStations)
	case Announce:
		if err := writeU8(w, tagAnnounce); err != nil {
			return err
		}
		return writeString(w, v.SongName)
	case InvalidCommand:
		if err := writeU8(w, tagInvalidCommand); err != nil {
			return err
		}
		return writeString(w, v.Reason)
	case SongQueue:
		if err := writeU8(w, tagSongQueue); err != nil {
			return err
		}
		if len(v.Songs) > 255 {
			return fmt.Errorf("wire: song queue too long (%d)", len(v.Songs))
		}
		if err := writeU8(w, uint8(len(v.Songs))); err != nil {
			return err
		}
		for _, s := range v.Songs {
			if err := writeString(w, s); err != nil {
				return err
			}
		}
		return nil
	case Stations:
		if err := writeU8(w, tagStations); err != nil {
			return err
		}
		if len(v.Entries) > 0xFFFF {
			return fmt.Errorf("wire: station list too long (%d)", len(v.Entries))
		}
		if err := writeU16(w, uint16(len(v.Entries))); err != nil {
			return err
		}
		for _, e := range v.Entries {
			if err := writeU16(w, e.Station); err != nil {
				return err
			}
			if err := writeString(w, e.Song); err != nil {
				return err
			}
		}
		return nil
	case StationShutdown:
		return writeU8(w, tagStationShutdown)
	case NewStation:
		if err := writeU8(w, tagNewStation); err != nil {
			return err
		}
		return writeU16(w, v.Station)
	default:
		return fmt.Errorf("wire: unknown server message type %T", m)
	}
}

// deadlineConn is the subset of net.Conn a blocking/non-blocking read needs.
type deadlineConn interface {
	io.Reader
	SetReadDeadline(time.Time) error
}

// ReadClientMessage reads one message from conn. If block is false and no
// tag byte is immediately available, it returns (StatusNoData, nil, nil)
// without blocking. Once a tag byte has been read, the remainder of the
// message is read under ControlReadTimeout — a stall mid-message cannot
// hang forever.
func ReadClientMessage(conn deadlineConn, block bool) (Status, ClientMessage, error) {
	tag, status, err := readTag(conn, block)
	if status != StatusMessage || err != nil {
		return status, nil, err
	}

	switch tag {
	case tagHello:
		port, err := readU16(conn)
		if err != nil {
			return StatusMessage, nil, err
		}
		return StatusMessage, Hello{UDPPort: port}, nil
	case tagSetStation:
		station, err := readU16(conn)
		if err != nil {
			return StatusMessage, nil, err
		}
		return StatusMessage, SetStation{Station: station}, nil
	case tagGetQueue:
		return StatusMessage, GetQueue{}, nil
	case tagListStations:
		return StatusMessage, ListStations{}, nil
	default:
		return StatusUnrecognized, nil, nil
	}
}

// ReadServerMessage reads one message from conn, with the same NoData /
// Unrecognized / Message contract as ReadClientMessage. Used by the
// controller, which must tolerate no data being available between polls.
func ReadServerMessage(conn deadlineConn, block bool) (Status, ServerMessage, error) {
	tag, status, err := readTag(conn, block)
	if status != StatusMessage || err != nil {
		return status, nil, err
	}

	switch tag {
	case tagWelcome:
		n, err := readU16(conn)
		if err != nil {
			return StatusMessage, nil, err
		}
		return StatusMessage, Welcome{NumStations: n}, nil
	case tagAnnounce:
		s, err := readString(conn)
		if err != nil {
			return StatusMessage, nil, err
		}
		return StatusMessage, Announce{SongName: s}, nil
	case tagInvalidCommand:
		s, err := readString(conn)
		if err != nil {
			return StatusMessage, nil, err
		}
		return StatusMessage, InvalidCommand{Reason: s}, nil
	case tagSongQueue:
		count, err := readU8(conn)
		if err != nil {
			return StatusMessage, nil, err
		}
		songs := make([]string, 0, count)
		for i := uint8(0); i < count; i++ {
			s, err := readString(conn)
			if err != nil {
				return StatusMessage, nil, err
			}
			songs = append(songs, s)
		}
		return StatusMessage, SongQueue{Songs: songs}, nil
	case tagStations:
		count, err := readU16(conn)
		if err != nil {
			return StatusMessage, nil, err
		}
		entries := make([]StationEntry, 0, count)
		for i := uint16(0); i < count; i++ {
			num, err := readU16(conn)
			if err != nil {
				return StatusMessage, nil, err
			}
			song, err := readString(conn)
			if err != nil {
				return StatusMessage, nil, err
			}
			entries = append(entries, StationEntry{Station: num, Song: song})
		}
		return StatusMessage, Stations{Entries: entries}, nil
	case tagStationShutdown:
		return StatusMessage, StationShutdown{}, nil
	case tagNewStation:
		n, err := readU16(conn)
		if err != nil {
			return StatusMessage, nil, err
		}
		return StatusMessage, NewStation{Station: n}, nil
	default:
		return StatusUnrecognized, nil, nil
	}
}

// readTag reads the leading tag byte honoring the framing contract: when
// block is false and nothing is available, it reports StatusNoData instead
// of blocking; once any byte is read, remaining reads are bounded by
// ControlReadTimeout regardless of block.
func readTag(conn deadlineConn, block bool) (uint8, Status, error) {
	if !block {
		if err := conn.SetReadDeadline(time.Now().Add(1 * time.Millisecond)); err != nil {
			return 0, StatusMessage, err
		}
		tag, err := readU8(conn)
		if err != nil {
			if isTimeout(err) {
				_ = conn.SetReadDeadline(time.Time{})
				return 0, StatusNoData, nil
			}
			return 0, StatusMessage, err
		}
		if err := conn.SetReadDeadline(time.Now().Add(limits.ControlReadTimeout)); err != nil {
			return 0, StatusMessage, err
		}
		return tag, StatusMessage, nil
	}

	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return 0, StatusMessage, err
	}
	tag, err := readU8(conn)
	if err != nil {
		return 0, StatusMessage, err
	}
	if err := conn.SetReadDeadline(time.Now().Add(limits.ControlReadTimeout)); err != nil {
		return 0, StatusMessage, err
	}
	return tag, StatusMessage, nil
}

func isTimeout(err error) bool {
	if ne, ok := err.(net.Error); ok {
		return ne.Timeout()
	}
	return false
}
