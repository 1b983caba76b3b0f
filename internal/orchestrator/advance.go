package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"vidforge/internal/domain"
	"vidforge/internal/ingest"
	"vidforge/internal/ledger"
	"vidforge/internal/providers/video"
)

// advance applies the transition table to one job. Transient backend
// problems return the job unchanged with a nil error so the next poll
// retries; only storage errors are returned.
func (o *Orchestrator) advance(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	if job.IsTerminal() {
		return job, nil
	}
	now := o.now()
	log := o.logger.With().Str("job_id", job.ID).Str("provider", string(job.Provider)).Logger()

	switch {
	case job.Status == domain.JobStatusQueued:
		if now.Sub(job.CreatedAt) < o.claimTimeout {
			return job, nil
		}
		return o.fail(ctx, job, domain.ErrorKindDispatch, "the provider never accepted the request")
	case domain.IsPendingRef(job.ExternalRef):
		if job.ExtensionClaimedAt != nil && now.Sub(*job.ExtensionClaimedAt) < o.claimTimeout {
			return job, nil
		}
		log.Warn().Int("step", job.ExtensionStep).Msg("orchestrator: extension claim expired")
		return o.salvage(ctx, job, "the next segment never started")
	}

	if o.gate != nil {
		allowed, err := o.gate.Allow(ctx, job.ID)
		if err != nil {
			log.Warn().Err(err).Msg("orchestrator: poll gate unavailable")
		}
		if !allowed {
			return job, nil
		}
	}

	_, backendID, err := domain.ParseRef(job.ExternalRef)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", job.ID, err)
	}
	adapter, err := o.providers.Get(job.Provider)
	if err != nil {
		log.Warn().Err(err).Msg("orchestrator: provider not configured, skipping poll")
		return job, nil
	}

	req := video.PollRequest{
		BackendID:      backendID,
		StartedAt:      job.CreatedAt,
		ClipSeconds:    job.TargetDurationSeconds,
		ExtensionStep:  job.ExtensionStep,
		ExtensionTotal: job.ExtensionTotal,
		Now:            now,
	}
	if job.IsChained() {
		req.ClipSeconds = o.segmentSeconds
		if job.ExtensionStep > 0 {
			req.ClipSeconds = o.extensionSeconds
			if job.ExtensionClaimedAt != nil {
				req.StartedAt = *job.ExtensionClaimedAt
			}
		}
	}

	callCtx, cancel := o.backendContext(ctx)
	res, err := adapter.Poll(callCtx, req)
	cancel()
	if err != nil {
		log.Warn().Err(err).Msg("orchestrator: transient poll failure")
		return job, nil
	}

	switch {
	case !res.Done:
		return o.progress(ctx, job, res)
	case res.Failed():
		log.Info().Str("error_kind", string(res.ErrorKind)).Str("detail", res.ErrorDetail).Msg("orchestrator: backend reported failure")
		if o.canSalvage(job) {
			return o.salvage(ctx, job, res.ErrorDetail)
		}
		return o.fail(ctx, job, res.ErrorKind, res.ErrorDetail)
	case job.IsChained() && job.ExtensionStep+1 < job.ExtensionTotal:
		return o.extendChain(ctx, job, res)
	default:
		return o.finish(ctx, job, res)
	}
}

func (o *Orchestrator) progress(ctx context.Context, job *domain.Job, res video.PollResult) (*domain.Job, error) {
	if res.ProgressPct == nil {
		return job, nil
	}
	p := *res.ProgressPct
	if p > 99 {
		p = 99
	}
	if p <= job.ProgressPct {
		return job, nil
	}
	if err := o.jobs.UpdateProgress(ctx, job.ID, p); err != nil {
		return nil, fmt.Errorf("update progress: %w", err)
	}
	job.ProgressPct = p
	return job, nil
}

// finish ingests the last output and completes the job.
func (o *Orchestrator) finish(ctx context.Context, job *domain.Job, res video.PollResult) (*domain.Job, error) {
	if res.Output == nil {
		return o.fail(ctx, job, domain.ErrorKindEmptyOutput, "the provider reported success without a video")
	}
	result, err := o.ingester.Ingest(ctx, *res.Output, ingest.ObjectKey(job.AccountID, job.OwnerID, job.ID))
	if err != nil {
		if sourceLost(err) {
			if o.canSalvage(job) {
				return o.salvage(ctx, job, err.Error())
			}
			return o.fail(ctx, job, domain.ErrorKindEmptyOutput, err.Error())
		}
		o.logger.Warn().Err(err).Str("job_id", job.ID).Msg("orchestrator: ingest failed, will retry")
		return job, nil
	}

	c := domain.Completion{
		RawVideoURL:       result.URL,
		DurationSeconds:   job.TargetDurationSeconds,
		ExtensionStep:     job.ExtensionStep,
		ExtensionTotal:    job.ExtensionTotal,
		ExtensionVideoURI: res.OutputURI,
		ErrorKind:         domain.ErrorKindNone,
	}
	if job.IsChained() {
		c.ExtensionStep = job.ExtensionTotal
		c.DurationSeconds = o.chainDuration(job.ExtensionTotal)
	}
	if result.Degraded {
		c.ErrorKind = domain.ErrorKindIngestionDegraded
		c.ErrorMessage = degradedMessage
	}
	return o.complete(ctx, job, c)
}

// canSalvage reports whether a chained job has an earlier segment to fall
// back to.
func (o *Orchestrator) canSalvage(job *domain.Job) bool {
	return job.IsChained() && job.ExtensionStep > 0 && job.ExtensionVideoURI != ""
}

// salvage completes a chained job with the segments delivered so far and
// refunds the segments that will never be produced.
func (o *Orchestrator) salvage(ctx context.Context, job *domain.Job, reason string) (*domain.Job, error) {
	if !o.canSalvage(job) {
		return o.fail(ctx, job, domain.ErrorKindBackend, reason)
	}
	delivered := job.ExtensionStep
	duration := o.chainDuration(delivered)
	rawURL := job.RawVideoURL
	if rawURL != "" {
		// A manually extended job already stores its delivered segments.
		if job.DurationSeconds > 0 {
			duration = job.DurationSeconds
		}
	} else {
		src := domain.MediaSource{URI: job.ExtensionVideoURI, ContentType: "video/mp4"}
		if ext, err := o.providers.Extender(job.Provider); err == nil {
			src = ext.SourceFor(job.ExtensionVideoURI)
		}
		result, err := o.ingester.Ingest(ctx, src, ingest.ObjectKey(job.AccountID, job.OwnerID, job.ID))
		if err != nil {
			if sourceLost(err) {
				// Nothing was ever delivered, so the whole cost goes back.
				return o.fail(ctx, job, domain.ErrorKindEmptyOutput, "the last completed segment is no longer available")
			}
			o.logger.Warn().Err(err).Str("job_id", job.ID).Msg("orchestrator: partial save ingest failed, will retry")
			return job, nil
		}
		rawURL = result.URL
	}

	refund := o.pricing.Unconsumed(job.CreditCost, delivered)
	c := domain.Completion{
		RawVideoURL:       rawURL,
		DurationSeconds:   duration,
		ExtensionStep:     delivered,
		ExtensionTotal:    delivered,
		ExtensionVideoURI: job.ExtensionVideoURI,
		ErrorKind:         domain.ErrorKindExtensionPartial,
		ErrorMessage:      partialMessage(duration, o.chainDuration(job.ExtensionTotal), reason),
		CreditCost:        job.CreditCost - refund,
		Refund:            ledger.RefundEntry(job, delivered, refund, "unused extension segments"),
	}
	o.logger.Info().Str("job_id", job.ID).Int("delivered", delivered).Int("total", job.ExtensionTotal).Int("refund", refund).Msg("orchestrator: saving partial chain")
	return o.complete(ctx, job, c)
}

func (o *Orchestrator) complete(ctx context.Context, job *domain.Job, c domain.Completion) (*domain.Job, error) {
	won, err := o.jobs.Complete(ctx, job.ID, c)
	if err != nil {
		return nil, fmt.Errorf("complete job: %w", err)
	}
	if won {
		o.logger.Info().Str("job_id", job.ID).Str("url", c.RawVideoURL).Int("duration", c.DurationSeconds).Msg("orchestrator: job complete")
	}
	return o.jobs.GetByID(ctx, job.ID)
}

// fail ends the job and refunds all of its credits.
func (o *Orchestrator) fail(ctx context.Context, job *domain.Job, kind domain.ErrorKind, detail string) (*domain.Job, error) {
	f := domain.Failure{
		ErrorKind:    kind,
		ErrorMessage: failureMessage(kind, detail),
		Refund:       ledger.RefundEntry(job, job.ExtensionStep, job.CreditCost, "refund: "+string(kind)),
	}
	won, err := o.jobs.Fail(ctx, job.ID, f)
	if err != nil {
		return nil, fmt.Errorf("fail job: %w", err)
	}
	if won {
		o.logger.Info().Str("job_id", job.ID).Str("error_kind", string(kind)).Int("refund", job.CreditCost).Msg("orchestrator: job failed")
	}
	return o.jobs.GetByID(ctx, job.ID)
}

func sourceLost(err error) bool {
	return errors.Is(err, ingest.ErrSourceGone) || errors.Is(err, ingest.ErrEmptySource)
}
