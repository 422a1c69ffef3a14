// Package broadcast drives the deadline-paced loop that produces one audio
// packet per live station per packet period and fans it out to listeners.
package broadcast

import (
	"context"
	"log"
	"time"

	"snowcast/internal/limits"
	"snowcast/internal/registry"
	"snowcast/internal/wire"
)

// Scheduler owns the broadcast loop for one server instance.
type Scheduler struct {
	reg *registry.Registry
}

// New builds a scheduler over reg.
func New(reg *registry.Registry) *Scheduler {
	return &Scheduler{reg: reg}
}

// Run drives the broadcast loop until ctx is canceled. It paces itself off
// a wall-clock deadline rather than a plain ticker: if a tick overruns the
// next one is silently skipped instead of bursting to catch up, and a slow
// client never backpressures the loop.
func (s *Scheduler) Run(ctx context.Context) {
	next := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		s.tick()
		s.reg.ReapClosed()

		next = next.Add(limits.PacketPeriod)
		now := time.Now()
		if now.After(next) {
			// Behind schedule: resync instead of bursting through the
			// slots we missed.
			next = now.Add(limits.PacketPeriod)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(next.Sub(now)):
		}
	}
}

// tick produces and fans out exactly one packet per live station.
func (s *Scheduler) tick() {
	for idx, st := range s.reg.Stations() {
		if st == nil {
			continue
		}

		packet, announce, err := st.ProducePacket()
		if err != nil {
			log.Printf("[broadcast] station %d: %v", idx, err)
			continue
		}

		listeners := st.Listeners()
		if len(listeners) == 0 {
			continue
		}

		for _, c := range s.reg.ClientsFor(uint16(idx), listeners) {
			if c.Closed() {
				continue
			}

			if !c.ShouldSkipAudio() {
				wasOpen := c.BreakerOpen()
				if err := c.SendAudio(packet[:]); err != nil && !wasOpen && c.BreakerOpen() {
					log.Printf("[broadcast] client %d: send breaker open after repeated failures", c.ID)
				}
			}

			if announce != nil {
				if err := c.SendControl(wire.Announce{SongName: *announce}); err != nil {
					log.Printf("[broadcast] client %d: announce: %v", c.ID, err)
				}
			}
		}
	}
}
