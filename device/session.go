package device

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// outputExcerptLimit bounds how much of a session's captured output is
// copied into its Connection log entry (spec §4.4: "a redacted excerpt of
// output"); the full output lives in the Snapshot, not the log.
const outputExcerptLimit = 2048

// AttemptResult is the outcome of one full (device, credential) attempt:
// reachability check through command execution (spec §4.4).
type AttemptResult struct {
	SessionID uuid.UUID
	Outcome   Outcome
	Output    [][]byte // one entry per command in Commands
	Err       error
	Duration  time.Duration
}

// Attempt runs the full per-device session lifecycle spec §4.4 describes:
// reachability pre-check, open, authenticate, run each command in order,
// close — always, on every exit path. It does not retry; AttemptWithRetry
// wraps this with the backoff policy for timeout/protocol_error outcomes.
// Every call emits exactly one Connection log entry (source=session,
// spec §3, §4.4) through logrus, carrying a unique session id, the
// command list and a redacted output excerpt; redaction itself happens at
// the logstore.Store hook, which applies uniformly regardless of source.
func Attempt(ctx context.Context, runID, deviceID uuid.UUID, factory Factory, target Target, creds Credentials,
	commands []string, reachTimeout, openTimeout, cmdTimeout time.Duration) AttemptResult {

	sessionID := uuid.New()
	start := time.Now()

	result := func(o Outcome, err error, outputs [][]byte) AttemptResult {
		r := AttemptResult{SessionID: sessionID, Outcome: o, Err: err, Output: outputs, Duration: time.Since(start)}
		logSession(runID, deviceID, commands, r)
		return r
	}

	reachCtx, cancel := context.WithTimeout(ctx, reachTimeout)
	reachErr := CheckReachable(reachCtx, target, reachTimeout)
	cancel()
	if reachErr != nil {
		return result(OutcomeUnreachable, reachErr, nil)
	}

	adapter := factory()
	defer adapter.Close()

	openCtx, cancel := context.WithTimeout(ctx, openTimeout)
	openErr := adapter.Open(openCtx, target)
	cancel()
	if openErr != nil {
		outcome := OutcomeProtocolError
		if errors.Is(openErr, context.DeadlineExceeded) {
			outcome = OutcomeTimeout
		}
		return result(outcome, openErr, nil)
	}

	authCtx, cancel := context.WithTimeout(ctx, openTimeout)
	authErr := adapter.Authenticate(authCtx, creds)
	cancel()
	if authErr != nil {
		return result(OutcomeAuthFailure, authErr, nil)
	}

	outputs := make([][]byte, 0, len(commands))
	for _, cmd := range commands {
		cmdCtx, cancel := context.WithTimeout(ctx, cmdTimeout)
		out, err := adapter.Run(cmdCtx, cmd)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return result(OutcomeTimeout, err, outputs)
			}
			return result(OutcomeCommandError, err, outputs)
		}
		outputs = append(outputs, out)
	}

	return result(OutcomeSuccess, nil, outputs)
}

// logSession emits the per-session Connection log entry (spec §4.4,
// source=session). The logrus hook chain applies secret redaction to
// every field below uniformly, the same as every other source.
func logSession(runID, deviceID uuid.UUID, commands []string, r AttemptResult) {
	fields := logrus.Fields{
		"source":      "session",
		"job_run_id":  runID,
		"device_id":   deviceID,
		"session_id":  r.SessionID,
		"duration_ms": r.Duration.Milliseconds(),
		"commands":    commands,
		"output":      excerpt(r.Output),
	}
	entry := logrus.WithFields(fields)
	if r.Outcome == OutcomeSuccess {
		entry.Info("session closed")
		return
	}
	if r.Err != nil {
		entry = entry.WithError(r.Err)
	}
	entry.WithField("outcome", r.Outcome).Warn("session closed")
}

// excerpt joins and truncates captured command output for the log's
// redacted-excerpt field; the unabridged output is stored as a Snapshot,
// never duplicated into the log store.
func excerpt(output [][]byte) string {
	var total int
	for _, o := range output {
		total += len(o) + 1
	}
	joined := make([]byte, 0, total)
	for _, o := range output {
		joined = append(joined, o...)
		joined = append(joined, '\n')
	}
	if len(joined) > outputExcerptLimit {
		joined = joined[:outputExcerptLimit]
	}
	return string(joined)
}

// AttemptWithRetry runs Attempt, retrying per policy on OutcomeTimeout and
// OutcomeProtocolError only (spec §4.4: auth_failure and unreachable are
// never retried within the same attempt loop). Each retry is a distinct
// session and so emits its own Connection log entry via Attempt.
func AttemptWithRetry(ctx context.Context, runID, deviceID uuid.UUID, factory Factory, target Target, creds Credentials,
	commands []string, policy BackoffPolicy, reachTimeout, openTimeout, cmdTimeout time.Duration) AttemptResult {

	var last AttemptResult
	for attempt := 1; ; attempt++ {
		last = Attempt(ctx, runID, deviceID, factory, target, creds, commands, reachTimeout, openTimeout, cmdTimeout)
		if last.Outcome == OutcomeSuccess {
			return last
		}
		if !policy.ShouldRetry(last.Outcome, attempt) {
			return last
		}
		if err := policy.Sleep(ctx, attempt); err != nil {
			return AttemptResult{Outcome: OutcomeAborted, Err: fmt.Errorf("retry aborted: %w", err), Duration: last.Duration}
		}
	}
}
