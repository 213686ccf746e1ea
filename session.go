package opticalsend

import "time"

// Role is which end of the handshake a session plays.
type Role string

const (
	RoleSender   Role = "sender"
	RoleReceiver Role = "receiver"
)

// SessionState is the lifecycle a session moves through; completed and
// failed are terminal.
type SessionState string

const (
	SessionPending   SessionState = "pending"
	SessionActive    SessionState = "active"
	SessionPaused    SessionState = "paused"
	SessionCompleted SessionState = "completed"
	SessionFailed    SessionState = "failed"
)

// Session is the durable record of one file transfer. Its symmetric key
// never persists; only KeyFingerprint (a truncated hash of it) does,
// so a restarted peer can recognize a resumable session once the
// handshake re-derives a matching key.
type Session struct {
	SessionID      string       `json:"sessionId"`
	Role           Role         `json:"role"`
	FileID         string       `json:"fileId"`
	Filename       string       `json:"filename"`
	TotalSize      int64        `json:"totalSize"`
	TotalBlocks    int          `json:"totalBlocks"`
	KeyFingerprint string       `json:"symmetricKeyDerivative"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
	State          SessionState `json:"state"`
	ErrorReason    ErrorKind    `json:"errorReason,omitempty"`

	// pauseStartedAt and pausedDuration back the elapsed-time freeze
	// described in section 4.6.5; not persisted, since a resumed
	// session re-runs the handshake and restarts its own clock.
	pauseStartedAt time.Time
	pausedDuration time.Duration
}

// Pause freezes the elapsed-time counter and moves the session to
// paused. It is a no-op if the session is not active.
func (s *Session) Pause(now time.Time) {
	if s.State != SessionActive {
		return
	}
	s.State = SessionPaused
	s.pauseStartedAt = now
	s.UpdatedAt = now
}

// Resume subtracts the elapsed pause from the running clock and
// returns the session to active. No-op if not paused.
func (s *Session) Resume(now time.Time) {
	if s.State != SessionPaused {
		return
	}
	s.pausedDuration += now.Sub(s.pauseStartedAt)
	s.State = SessionActive
	s.UpdatedAt = now
}

// Elapsed returns the session's active duration, excluding time spent
// paused.
func (s *Session) Elapsed(now time.Time) time.Duration {
	total := now.Sub(s.CreatedAt)
	pause := s.pausedDuration
	if s.State == SessionPaused {
		pause += now.Sub(s.pauseStartedAt)
	}
	return total - pause
}
