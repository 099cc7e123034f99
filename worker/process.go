package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/netraven/core/catalog"
	"github.com/netraven/core/credential"
	"github.com/netraven/core/device"
	"github.com/netraven/core/errs"
	"github.com/netraven/core/queue"
	"github.com/netraven/core/snapshot"
)

// process runs one queue.Item: resolve the Job Run and Job, fan-out-limit,
// attempt the device session, persist the sub-result and, when this is the
// last outstanding device for the run, finish the Job Run (spec §4.3,
// §4.4). A returned error means the claim should be Nacked for redelivery
// (an infrastructure failure); a device-level outcome is never returned as
// an error, it is recorded as a Sub-Result and the claim is Acked.
func (p *Pool) process(ctx context.Context, claim queue.Claim) error {
	item := claim.Item
	log := logrus.WithFields(logrus.Fields{
		"source": "job", "job_run_id": item.RunID, "device_id": item.DeviceID,
	})

	run, err := p.catalog.GetJobRun(ctx, item.RunID)
	if err != nil {
		if errs.Is(err, errs.NotFound) {
			log.Warn("job run no longer exists, dropping item")
			return nil
		}
		return fmt.Errorf("load job run: %w", err)
	}
	if run.Status.IsTerminal() {
		log.Debug("job run already terminal, duplicate delivery dropped")
		return nil
	}

	if _, err := p.catalog.MarkRunStarted(ctx, run.ID, time.Now()); err != nil {
		return fmt.Errorf("mark run started: %w", err)
	}

	job, err := p.catalog.GetJob(ctx, item.JobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}

	fanout := job.FanoutLimit
	if fanout <= 0 {
		fanout = p.cfg.DefaultFanout
	}
	sem := p.fanoutLimiter(run.ID, fanout)
	if err := sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire fanout slot: %w", err)
	}
	defer sem.Release(1)

	runCtx, cancel := context.WithDeadline(ctx, run.Deadline)
	defer cancel()

	result, attemptErr := p.attemptDevice(runCtx, run, job, item.DeviceID, log)
	if attemptErr != nil {
		// An infrastructure fault (vault loss), not a
		// device-level outcome: spec §4.4/§7 reserve failed_error for
		// exactly this, set directly rather than derived from sub-results.
		log.WithError(attemptErr).Error("infrastructure fault during device attempt, terminalizing run failed_error")
		p.terminalizeFailedError(ctx, run.ID, attemptErr.Error())
		return nil
	}
	if err := p.catalog.UpsertSubResult(ctx, result); err != nil {
		return fmt.Errorf("upsert sub result: %w", err)
	}

	return p.maybeFinishRun(ctx, run)
}

// terminalizeFailedError force-finishes run with failed_error. FinishRun's
// WHERE-guarded UPDATE makes this safe to call more than once (e.g. a
// panic recovered on top of an already-finished run is a no-op).
func (p *Pool) terminalizeFailedError(ctx context.Context, runID uuid.UUID, msg string) {
	if _, err := p.catalog.FinishRun(ctx, runID, catalog.RunFailedError, time.Now(), false); err != nil {
		logrus.WithError(err).WithField("run_id", runID).WithField("fault", msg).
			Error("failed to terminalize run after infrastructure fault")
	}
}

// attemptDevice runs the reachability/credential/session lifecycle for one
// device and returns its Sub-Result. A non-nil error means an
// infrastructure fault (vault loss), distinct from every device-level
// failure mode, which is always captured as a SubResultStatus and never
// returned as an error (spec §4.4, §7's error taxonomy).
func (p *Pool) attemptDevice(ctx context.Context, run *catalog.JobRun, job *catalog.Job, deviceID uuid.UUID,
	log *logrus.Entry) (result *catalog.SubResult, attemptErr error) {

	started := time.Now()
	result = &catalog.SubResult{RunID: run.ID, DeviceID: deviceID, StartedAt: started}

	finish := func(status catalog.SubResultStatus, errMsg string) (*catalog.SubResult, error) {
		result.Status = status
		result.ErrorMessage = errMsg
		result.FinishedAt = time.Now()
		if job.Kind == catalog.JobReachability {
			p.recordReachability(ctx, deviceID, status, errMsg)
		}
		return result, nil
	}

	if run.Cancelled {
		return finish(catalog.SubAborted, "job run cancelled before device attempt started")
	}

	dev, err := p.catalog.GetDevice(ctx, deviceID)
	if err != nil {
		return finish(catalog.SubCommandErr, "device lookup failed: "+err.Error())
	}

	commands, err := p.commands.CommandsFor(job)
	if err != nil {
		return finish(catalog.SubCommandErr, "no commands resolved for job: "+err.Error())
	}

	factory, ok := p.factories[dev.Transport]
	if !ok {
		return finish(catalog.SubCommandErr, "unsupported transport: "+string(dev.Transport))
	}

	ranked, err := credential.Resolve(ctx, p.catalog, deviceID)
	if err != nil {
		return finish(catalog.SubCommandErr, "credential resolution failed: "+err.Error())
	}
	if len(ranked) == 0 {
		return finish(catalog.SubAuthFailure, "no credentials bound to device")
	}

	target := device.Target{Host: dev.Host, Port: dev.Port}

	var last device.AttemptResult
	var lastCred *catalog.Credential
	for _, r := range ranked {
		if run.Cancelled {
			return finish(catalog.SubAborted, "job run cancelled mid credential loop")
		}

		creds, err := p.openCredential(r.Credential)
		if err != nil {
			if errs.Is(err, errs.VaultError) {
				// shared infra, not evidence about this credential: stop
				// immediately and let the caller terminalize the run.
				return nil, errs.Wrap(errs.VaultError, err, "vault open failed during credential resolution")
			}
			log.WithError(err).WithField("credential_id", r.Credential.ID).Error("failed to open sealed credential")
			continue
		}

		last = device.AttemptWithRetry(ctx, run.ID, deviceID, factory, target, creds, commands, p.cfg.Backoff,
			p.cfg.ReachTimeout, p.cfg.OpenTimeout, p.cfg.CommandTimeout)
		lastCred = r.Credential
		credID := r.Credential.ID
		result.CredentialID = &credID

		switch last.Outcome {
		case device.OutcomeSuccess:
			_ = credential.RecordOutcome(ctx, p.catalog, credID, true)
			hash, err := snapshot.Put(ctx, p.catalog, run.ID, deviceID, joinOutput(last.Output))
			if err != nil {
				log.WithError(err).Error("snapshot store failed")
			} else {
				result.SnapshotHash = hash
			}
			return finish(catalog.SubSuccess, "")
		case device.OutcomeAuthFailure:
			_ = credential.RecordOutcome(ctx, p.catalog, credID, false)
			continue // spec §4.6: auth_failure tries the next credential
		default:
			// unreachable / timeout / command_error / aborted: transport-level,
			// not evidence about this credential; stop trying further ones.
			return finish(mapOutcome(last.Outcome), errMessage(last.Err))
		}
	}

	// every credential exhausted with auth_failure
	_ = lastCred
	return finish(catalog.SubAuthFailure, errMessage(last.Err))
}

// openCredential unseals a bound Credential's secret. An error here always
// carries errs.VaultError when the vault itself is at fault (unknown key,
// decrypt failure), which attemptDevice must not fold into auth_failure.
func (p *Pool) openCredential(c *catalog.Credential) (device.Credentials, error) {
	plaintext, err := p.vault.Open(c.SecretKeyID, c.SecretCipher)
	if err != nil {
		return device.Credentials{}, err
	}
	secret, err := credential.UnmarshalSecret(plaintext)
	if err != nil {
		return device.Credentials{}, errs.Wrap(errs.Internal, err, "credential secret corrupt")
	}
	return device.Credentials{Username: c.Username, Password: secret.Password, KeyPEM: secret.KeyPEM}, nil
}

// recordReachability writes a JobReachability sub-result's outcome back
// onto Device.Reachability (spec §4.4: "its Sub-Result statuses map
// directly to Device.last-reachability").
func (p *Pool) recordReachability(ctx context.Context, deviceID uuid.UUID, status catalog.SubResultStatus, msg string) {
	r := catalog.Reachability{Timestamp: time.Now(), Message: msg}
	switch status {
	case catalog.SubSuccess:
		r.Status = catalog.ReachabilitySuccess
	case catalog.SubUnreachable:
		r.Status = catalog.ReachabilityUnreachable
	case catalog.SubAuthFailure:
		r.Status = catalog.ReachabilityAuthFailure
	case catalog.SubTimeout:
		r.Status = catalog.ReachabilityTimeout
	default:
		r.Status = catalog.ReachabilityError
	}
	if err := p.catalog.UpdateReachability(ctx, deviceID, r); err != nil {
		logrus.WithError(err).WithField("device_id", deviceID).Error("failed to record reachability")
	}
}

func mapOutcome(o device.Outcome) catalog.SubResultStatus {
	switch o {
	case device.OutcomeUnreachable:
		return catalog.SubUnreachable
	case device.OutcomeTimeout:
		return catalog.SubTimeout
	case device.OutcomeAborted:
		return catalog.SubAborted
	default:
		return catalog.SubCommandErr
	}
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func joinOutput(chunks [][]byte) []byte {
	var total int
	for _, c := range chunks {
		total += len(c) + 1
	}
	out := make([]byte, 0, total)
	for _, c := range chunks {
		out = append(out, c...)
		out = append(out, '\n')
	}
	return out
}

// maybeFinishRun transitions run to a terminal status once every resolved
// device has a recorded Sub-Result (spec §4.4: a Job Run finishes when its
// last device finishes). FinishRun's WHERE-guarded UPDATE makes a race
// between two workers both observing "last device" harmless: only one
// update applies.
func (p *Pool) maybeFinishRun(ctx context.Context, run *catalog.JobRun) error {
	results, err := p.catalog.SubResultsForRun(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("load sub results: %w", err)
	}
	if len(results) < len(run.DeviceIDs) {
		return nil
	}

	status := catalog.AggregateStatus(results)
	timedOut := time.Now().After(run.Deadline)
	if _, err := p.catalog.FinishRun(ctx, run.ID, status, time.Now(), timedOut); err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}
