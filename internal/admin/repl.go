// Package admin implements the operator REPL: a line-oriented stdin driver
// that posts administrative commands into a bounded queue, applied one at a
// time against the registry. This mirrors the original server's
// ReplToStationsMessage channel, which serializes operator commands onto
// the same goroutine that owns registry mutation instead of letting stdin
// input race the broadcast loop.
package admin

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"

	"snowcast/internal/registry"
	"snowcast/internal/wire"
)

// REPL drives the operator console against reg.
type REPL struct {
	reg      *registry.Registry
	in       io.Reader
	out      io.Writer
	shutdown func()

	cmds chan func()
}

// New builds a REPL reading commands from r and writing output to w.
// shutdown is invoked once when the operator asks the server to stop.
func New(reg *registry.Registry, r io.Reader, w io.Writer, shutdown func()) *REPL {
	return &REPL{
		reg:      reg,
		in:       r,
		out:      w,
		shutdown: shutdown,
		cmds:     make(chan func(), 16),
	}
}

// Run reads commands from stdin and applies them one at a time until ctx is
// canceled or the input stream ends.
func (a *REPL) Run(ctx context.Context) {
	go a.readLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-a.cmds:
			if !ok {
				return
			}
			cmd()
		}
	}
}

func (a *REPL) readLoop(ctx context.Context) {
	defer close(a.cmds)
	scanner := bufio.NewScanner(a.in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		cmd, ok := a.parse(line)
		if !ok {
			fmt.Fprintln(a.out, "Unrecognized command.")
			continue
		}
		select {
		case a.cmds <- cmd:
		case <-ctx.Done():
			return
		}
	}
}

// parse turns one input line into a closure to run on the REPL's owning
// goroutine, mirroring cli.go's subcommand switch. Command syntax is fixed:
// p, q, shutdown <n>, new <path>.
func (a *REPL) parse(line string) (func(), bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, false
	}

	switch fields[0] {
	case "p":
		return a.cmdListeners, true
	case "q":
		return a.cmdShutdownAll, true
	case "shutdown":
		if len(fields) != 2 {
			return nil, false
		}
		idx, err := strconv.ParseUint(fields[1], 10, 16)
		if err != nil {
			return nil, false
		}
		return func() { a.cmdShutdownStation(uint16(idx)) }, true
	case "new":
		if len(fields) != 2 {
			return nil, false
		}
		return func() { a.cmdNew(fields[1]) }, true
	default:
		return nil, false
	}
}

func (a *REPL) cmdListeners() {
	summaries := a.reg.ListListeners()
	if len(summaries) == 0 {
		fmt.Fprintln(a.out, "no live stations")
		return
	}
	for _, s := range summaries {
		fmt.Fprintf(a.out, "%d: %s (%d listener(s))", s.Index, s.CurrentSong, len(s.Listeners))
		if len(s.Listeners) > 0 {
			fmt.Fprintf(a.out, " — %s", strings.Join(s.Listeners, ", "))
		}
		fmt.Fprintln(a.out)
	}
}

func (a *REPL) cmdNew(path string) {
	idx, clients, err := a.reg.AddStation(path)
	if err != nil {
		fmt.Fprintf(a.out, "add %s: %v\n", path, err)
		return
	}
	for _, c := range clients {
		if err := c.SendControl(wire.NewStation{Station: idx}); err != nil {
			log.Printf("[admin] client %d: new-station notify: %v", c.ID, err)
		}
	}
	fmt.Fprintf(a.out, "station %d added from %s\n", idx, path)
}

func (a *REPL) cmdShutdownStation(idx uint16) {
	affected, err := a.reg.ShutdownStation(idx)
	if err != nil {
		fmt.Fprintf(a.out, "shutdown %d: %v\n", idx, err)
		return
	}
	for _, c := range affected {
		if err := c.SendControl(wire.StationShutdown{}); err != nil {
			log.Printf("[admin] client %d: shutdown notify: %v", c.ID, err)
		}
	}
	fmt.Fprintf(a.out, "station %d shut down\n", idx)
}

func (a *REPL) cmdShutdownAll() {
	notify, all := a.reg.ShutdownAll()
	for _, c := range notify {
		if err := c.SendControl(wire.StationShutdown{}); err != nil {
			log.Printf("[admin] client %d: shutdown notify: %v", c.ID, err)
		}
	}
	for _, c := range all {
		c.Close()
	}
	fmt.Fprintln(a.out, "all stations shut down")
	a.cmdQuit()
}

func (a *REPL) cmdQuit() {
	fmt.Fprintln(a.out, "shutting down")
	a.shutdown()
}
