// Package limits holds the operational constants shared across the server.
// Named constants for values that would otherwise be scattered across
// multiple packages.
package limits

import "time"

const (
	// PacketBytes is the size of one audio packet, in bytes.
	PacketBytes = 1024

	// BytesPerSecond is the server's rated streaming bit rate per listener.
	BytesPerSecond = 16384

	// PacketPeriod is the wall-clock interval between packets: exactly
	// PacketBytes / BytesPerSecond seconds (62.5ms).
	PacketPeriod = time.Second * PacketBytes / BytesPerSecond

	// SongQueueDepth is the number of upcoming song names peek_queue reports.
	SongQueueDepth = 5

	// ControlReadTimeout bounds how long a read may block once the first
	// byte of a message has been observed.
	ControlReadTimeout = 100 * time.Millisecond

	// ControlPollInterval bounds the per-connection idle poll when no data
	// is available on the control channel.
	ControlPollInterval = 100 * time.Millisecond

	// MaxStringLen is the largest string a wire message may carry (a
	// one-byte length prefix).
	MaxStringLen = 255

	// CircuitBreakerThreshold is the number of consecutive datagram send
	// failures before a client's breaker opens.
	CircuitBreakerThreshold uint32 = 50

	// CircuitBreakerProbeInterval is how many skipped sends occur between
	// probe attempts while a breaker is open.
	CircuitBreakerProbeInterval uint32 = 25
)
