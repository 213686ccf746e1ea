package opticalsend

import (
	"fmt"
	"time"
)

// TransferStats is the live, queryable status of one session: percent
// complete, a smoothed throughput estimate, and a derived ETA, plus
// the fields a UI needs to label the transfer (filename, state,
// fingerprint). It is adapted from this module's teacher's
// progress.TransferStats, replacing its simulated single-stream byte
// counter with per-block completion counts driven by the tracker, and
// adding the session state and key fingerprint the spec's external
// interface calls for.
type TransferStats struct {
	filename    string
	totalBytes  int64
	totalBlocks int

	lastUpdate      time.Time
	lastBytes       int64
	emaSpeed        float64 // bytes per second, exponential moving average
	alpha           float64
	completedBlocks int
	state           SessionState
	fingerprint     string
}

// NewTransferStats starts a stats tracker for a session of known total
// size, block count, and key fingerprint.
func NewTransferStats(filename string, totalBytes int64, totalBlocks int, fingerprint string) *TransferStats {
	return &TransferStats{
		filename:    filename,
		totalBytes:  totalBytes,
		totalBlocks: totalBlocks,
		lastUpdate:  time.Now(),
		alpha:       0.2,
		state:       SessionPending,
		fingerprint: fingerprint,
	}
}

// Update records that completedBlocks blocks have now been durably
// verified (sender: sent+acked; receiver: received+verified), driving
// the EMA speed estimate from the implied byte progress.
func (s *TransferStats) Update(completedBlocks int, now time.Time) {
	var bytesNow int64
	if s.totalBlocks > 0 {
		bytesNow = s.totalBytes * int64(completedBlocks) / int64(s.totalBlocks)
	}

	dur := now.Sub(s.lastUpdate).Seconds()
	if dur > 0 {
		delta := bytesNow - s.lastBytes
		cur := float64(delta) / dur
		if s.emaSpeed == 0 {
			s.emaSpeed = cur
		} else {
			s.emaSpeed = s.alpha*cur + (1-s.alpha)*s.emaSpeed
		}
	}
	s.lastUpdate = now
	s.lastBytes = bytesNow
	s.completedBlocks = completedBlocks
}

func (s *TransferStats) SetState(st SessionState) { s.state = st }

// Percent returns completion in [0, 100].
func (s *TransferStats) Percent() float64 {
	if s.totalBlocks == 0 {
		return 100
	}
	return 100 * float64(s.completedBlocks) / float64(s.totalBlocks)
}

// BytesPerSecond returns the current smoothed throughput estimate.
func (s *TransferStats) BytesPerSecond() float64 {
	return s.emaSpeed
}

// ETA estimates remaining time from the current EMA speed; returns 0
// when speed is unknown or the transfer is already complete.
func (s *TransferStats) ETA() time.Duration {
	if s.emaSpeed <= 0 || s.completedBlocks >= s.totalBlocks {
		return 0
	}
	remaining := s.totalBytes - s.lastBytes
	secs := float64(remaining) / s.emaSpeed
	return time.Duration(secs * float64(time.Second))
}

// Summary renders a one-line human-readable status, in the vein of
// the teacher's fixed-width progress line, but without assuming a
// live terminal: callers that want a redrawn bar own that themselves
// (see cmd/opticalsend).
func (s *TransferStats) Summary() string {
	return fmt.Sprintf("%s %6.2f%% %s %s eta=%s key=%s",
		s.filename, s.Percent(), s.state, formatRate(s.emaSpeed), formatETA(s.ETA()), s.fingerprint)
}

func formatRate(bps float64) string {
	units := []string{"B/s", "KB/s", "MB/s", "GB/s"}
	i := 0
	v := bps
	for v >= 1024 && i < len(units)-1 {
		v /= 1024
		i++
	}
	return fmt.Sprintf("%.2f%s", v, units[i])
}

func formatETA(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Second).String()
}
