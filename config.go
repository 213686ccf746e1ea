package opticalsend

import (
	"os"
	"time"
)

// Store journal/state files in standard locations. Per
// https://unix.stackexchange.com/questions/312988/understanding-home-configuration-file-locations-config-and-local-sha
//
// $HOME/.config is where per-user state files go if there is no
// $XDG_CONFIG_HOME.

// GetStateDir tells us where to store the durable journal (blocks and
// sessions). It also creates the directory if it does not exist, and
// panics if it cannot.
//
// Use $XDG_CONFIG_HOME/opticalsend (falling back to
// $HOME/.config/opticalsend, then the current working directory).
func GetStateDir() (path string) {
	dir := os.Getenv("XDG_CONFIG_HOME")
	home := os.Getenv("HOME")
	base := "opticalsend"
	suffix := string(os.PathSeparator) + ".config" + string(os.PathSeparator) + base
	switch {
	case dir != "":
		path = dir + string(os.PathSeparator) + base
	case home != "":
		path = home + suffix
	default:
		path = base
	}
	err := os.MkdirAll(path, 0700)
	panicOn(err)
	return path
}

// EngineConfig bundles every tunable the spec names. All fields have
// the spec's stated defaults; zero-value Config{} is not usable as-is,
// always start from NewConfig().
type EngineConfig struct {
	// BlockSize is the number of raw bytes per chunk, before codec.
	BlockSize int

	// VisualFrameCapacity is the max bytes per visual (QR) frame.
	VisualFrameCapacity int

	// VisualSafetyFactor scales VisualFrameCapacity down to the
	// effective usable payload budget per frame.
	VisualSafetyFactor float64

	// VisualHoldTime is the minimum display time per visual frame,
	// giving the camera time to lock onto it. The engine does not read
	// it: Sender.EmitBlock sends a block's frames back to back, once.
	VisualHoldTime time.Duration

	// BinaryWatermark is the buffered_amount threshold above which
	// the sender suspends binary emission and falls back to visual
	// only, until the buffer drains.
	BinaryWatermark int

	// MaxRetransmitsPerBlock is the attempt count after which a block
	// is marked terminal-skipped.
	MaxRetransmitsPerBlock int

	// HandshakeTimeout is the handshake idle cap, for callers to pass
	// to AwaitHandshake, which fails with ErrHandshakeTimeout once it
	// elapses. The engine does not read it itself.
	HandshakeTimeout time.Duration

	// BlockTimeout is the receiver's per-block inactivity period before
	// a NACK. The engine does not read it: the receiver sends a NACK
	// only when a block fails verification, never on a timer.
	BlockTimeout time.Duration

	// HeartbeatInterval is the heartbeat period for an idle binary
	// channel. The engine does not read it and sends no heartbeats.
	HeartbeatInterval time.Duration

	// StateDir is where the journal's bbolt file lives.
	StateDir string

	// CASCacheEntries bounds the sender's content-addressed chunk
	// cache (internal/cas): how many distinct plaintext chunks it
	// remembers the compressed form of, across files in one process.
	// Zero disables the cache entirely.
	CASCacheEntries int
}

// NewConfig returns an EngineConfig populated with the spec's defaults
// (see Engine configuration options, section 6).
func NewConfig() *EngineConfig {
	return &EngineConfig{
		BlockSize:              1024,
		VisualFrameCapacity:    2953,
		VisualSafetyFactor:     0.6,
		VisualHoldTime:         500 * time.Millisecond,
		BinaryWatermark:        1 << 20, // 1 MiB
		MaxRetransmitsPerBlock: 5,
		HandshakeTimeout:       60 * time.Second,
		BlockTimeout:           10 * time.Second,
		HeartbeatInterval:      5 * time.Second,
		StateDir:               GetStateDir(),
		CASCacheEntries:        512,
	}
}

// EffectiveVisualFrameBytes is the usable payload budget per visual
// frame: capacity scaled by the safety factor.
func (c *EngineConfig) EffectiveVisualFrameBytes() int {
	return int(float64(c.VisualFrameCapacity) * c.VisualSafetyFactor)
}
