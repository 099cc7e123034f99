// Package device implements C5, the Device Communication Layer: reachability
// pre-checks, transport-specific session adapters, per-device retry with
// backoff, bounded output capture and redacted session logging (spec §3,
// §4.4). Adapter generalizes the teacher's transport.Transport (an
// HTTP-over-SSH RoundTripper) into the uniform open/authenticate/run/close
// shape spec §4.4 requires for network-device CLI sessions.
package device

import (
	"context"
	"time"
)

// Outcome is the error taxonomy returned to the worker pool (spec §4.4).
type Outcome string

const (
	OutcomeSuccess       Outcome = "success"
	OutcomeUnreachable   Outcome = "unreachable"
	OutcomeAuthFailure   Outcome = "auth_failure"
	OutcomeTimeout       Outcome = "timeout"
	OutcomeCommandError  Outcome = "command_error"
	OutcomeProtocolError Outcome = "protocol_error"
	OutcomeAborted       Outcome = "aborted"
)

// Credentials is the plaintext login material for one attempt, resolved
// and opened from the vault immediately before use; callers must not
// retain it longer than the attempt.
type Credentials struct {
	Username string
	Password string
	KeyPEM   []byte // optional, SSH only
}

// Target describes where and how to connect.
type Target struct {
	Host string
	Port int
}

// Adapter is the uniform per-transport session contract spec §4.4 names:
// { open, authenticate, run(cmd), close }.
type Adapter interface {
	// Open establishes the transport-level connection (TCP/SSH/etc.)
	// within ctx's deadline. It does not authenticate.
	Open(ctx context.Context, target Target) error

	// Authenticate performs credential exchange over the opened
	// connection. Returns an error classified by the caller as
	// OutcomeAuthFailure on failure.
	Authenticate(ctx context.Context, creds Credentials) error

	// Run executes a single command and returns its captured output.
	// Implementations MUST strip the echoed prompt before returning and
	// MUST enforce a bounded output buffer, per spec §4.4 step 5.
	Run(ctx context.Context, cmd string) (output []byte, err error)

	// Close disconnects. MUST be safe to call multiple times and MUST
	// never leak sockets even if Open/Authenticate failed partway.
	Close() error
}

// Factory builds a fresh Adapter for transport kind, so a new session is
// always used per attempt (no session reuse across credentials or runs).
type Factory func() Adapter

// MaxOutputBytes bounds the buffer Run accumulates into before an adapter
// MUST classify the attempt command_error (spec §4.4 step 5).
const MaxOutputBytes = 4 << 20 // 4 MiB

// BackoffPolicy configures the per-device retry policy for timeout and
// protocol_error outcomes (spec §4.4). AuthFailure and Unreachable are
// never retried within the attempt loop (handled by the caller directly).
type BackoffPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	JitterFrac float64 // e.g. 0.2 for ±20%
}

// DefaultBackoffPolicy matches spec §6's RETRY_MAX/RETRY_BASE_DELAY_SECS
// defaults.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{MaxRetries: 3, BaseDelay: 5 * time.Second, JitterFrac: 0.2}
}

// ShouldRetry reports whether outcome is retryable under this policy at
// attempt (1-based, the attempt that just failed). MaxRetries counts
// retries after the first attempt, so at most MaxRetries+1 attempts run.
func (p BackoffPolicy) ShouldRetry(outcome Outcome, attempt int) bool {
	if attempt > p.MaxRetries {
		return false
	}
	switch outcome {
	case OutcomeTimeout, OutcomeProtocolError:
		return true
	default:
		return false
	}
}
