package opticalsend

import (
	"fmt"
	"os"
	"time"
)

// verbose enables timestamped debug output via vv. Off by default;
// flip with OPTICALSEND_VERBOSE=1 in the environment.
var verbose = os.Getenv("OPTICALSEND_VERBOSE") != ""

const rfc3339MsecTz0 = "2006-01-02T15:04:05.000Z07:00"

func nice(t time.Time) string {
	return t.Format(rfc3339MsecTz0)
}

// vv prints a timestamped debug line when verbose output is enabled.
// Never used for user-facing output, only developer tracing.
func vv(format string, a ...interface{}) {
	if !verbose {
		return
	}
	fmt.Fprintf(os.Stderr, "%s  %s\n", nice(time.Now()), fmt.Sprintf(format, a...))
}

// panicOn panics on programmer-impossible errors: corrupt invariants,
// misuse of this package's own API. It is never used for errors that
// can legitimately arise from the network, the filesystem, or a peer.
func panicOn(err error) {
	if err != nil {
		panic(err)
	}
}

// zeroBytes overwrites b with zeros in place. Used to best-effort clear
// session key material once a session ends; the runtime offers no
// stronger guarantee than this (the GC may already have copied the
// backing array elsewhere).
func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Journal retry policy (section 7.4): exponential backoff starting at
// 100ms, capped at 5s, giving up after 5 attempts.
const (
	journalRetryBase     = 100 * time.Millisecond
	journalRetryCap      = 5 * time.Second
	journalRetryAttempts = 5
)

// withJournalRetry runs op, retrying on failure with exponential
// backoff per section 7.4. attemptKind labels what kind of journal
// error op raises (write_failed or read_failed) for the wrapped detail
// message; if every attempt fails, the session-fatal reason reported is
// always journal_unavailable, matching the spec's propagation policy.
func withJournalRetry(attemptKind ErrorKind, op func() error) error {
	backoff := journalRetryBase
	var err error
	for attempt := 0; attempt < journalRetryAttempts; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if attempt == journalRetryAttempts-1 {
			break
		}
		time.Sleep(backoff)
		backoff *= 2
		if backoff > journalRetryCap {
			backoff = journalRetryCap
		}
	}
	return newEngineError(ErrJournalUnavailable,
		fmt.Sprintf("%s: exhausted %d retries", attemptKind, journalRetryAttempts), err)
}
