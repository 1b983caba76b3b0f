package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"vidforge/internal/domain"
	"vidforge/internal/ledger"
	"vidforge/internal/providers/video"
)

// extendChain claims the next chain step and starts it. Only the poller
// whose claim lands calls the backend; everyone else reports the job as the
// winner left it.
func (o *Orchestrator) extendChain(ctx context.Context, job *domain.Job, res video.PollResult) (*domain.Job, error) {
	if res.OutputURI == "" {
		return o.fail(ctx, job, domain.ErrorKindEmptyOutput, "the segment finished without a reusable output")
	}
	ext, err := o.providers.Extender(job.Provider)
	if err != nil {
		o.logger.Warn().Err(err).Str("job_id", job.ID).Msg("orchestrator: extender not configured, skipping")
		return job, nil
	}

	claim := domain.ExtensionClaim{
		JobID:        job.ID,
		ExpectedStep: job.ExtensionStep,
		ExpectedRef:  job.ExternalRef,
		NextStep:     job.ExtensionStep + 1,
		PendingRef:   domain.PendingRef(job.ExternalRef),
		SegmentURI:   res.OutputURI,
		ClaimedAt:    o.now(),
	}
	won, err := o.jobs.ClaimExtension(ctx, claim)
	if err != nil {
		return nil, fmt.Errorf("claim extension: %w", err)
	}
	if !won {
		o.logger.Debug().Str("job_id", job.ID).Int("step", job.ExtensionStep).Msg("orchestrator: extension already claimed")
		return o.jobs.GetByID(ctx, job.ID)
	}

	claimed := *job
	claimed.Status = domain.JobStatusExtending
	claimed.ExtensionStep = claim.NextStep
	claimed.ExtensionVideoURI = claim.SegmentURI
	claimed.ExternalRef = claim.PendingRef
	claimed.ExtensionClaimedAt = &claim.ClaimedAt

	callCtx, cancel := o.backendContext(ctx)
	opName, err := ext.Extend(callCtx, claim.SegmentURI, video.ComposePrompt(job.Prompt, job.Style))
	cancel()
	if err != nil {
		o.logger.Warn().Err(err).Str("job_id", job.ID).Int("step", claimed.ExtensionStep).Msg("orchestrator: extension trigger failed")
		return o.salvage(ctx, &claimed, "the next segment could not be started")
	}
	return o.recordExtension(ctx, &claimed, opName)
}

func (o *Orchestrator) recordExtension(ctx context.Context, job *domain.Job, opName string) (*domain.Job, error) {
	ref := domain.EncodeRef(domain.ProviderOperationChained, opName)
	if err := o.jobs.SetExtensionRef(ctx, job.ID, job.ExtensionStep, ref); err != nil {
		if !errors.Is(err, domain.ErrConflict) {
			return nil, fmt.Errorf("set extension ref: %w", err)
		}
		o.logger.Warn().Str("job_id", job.ID).Str("operation", opName).Msg("orchestrator: extension started after its claim expired")
	} else {
		o.logger.Info().Str("job_id", job.ID).Int("step", job.ExtensionStep).Int("total", job.ExtensionTotal).Msg("orchestrator: extension started")
	}
	return o.jobs.GetByID(ctx, job.ID)
}

// RequestExtension adds one segment to a complete operation job. Plain
// operation jobs are promoted to chained in place; the extra segment is
// debited up front and refunded if the backend refuses to start it.
func (o *Orchestrator) RequestExtension(ctx context.Context, jobID, ownerID, prompt string) (*domain.Job, error) {
	job, err := o.jobs.GetForOwner(ctx, jobID, ownerID)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.JobStatusComplete {
		return nil, fmt.Errorf("%w: job is %s", domain.ErrExtensionNotAllowed, job.Status)
	}
	if job.Provider != domain.ProviderOperation && job.Provider != domain.ProviderOperationChained {
		return nil, fmt.Errorf("%w: %s jobs cannot be extended", domain.ErrExtensionNotAllowed, job.Provider)
	}
	if job.ExtensionVideoURI == "" {
		return nil, fmt.Errorf("%w: no reusable output was kept for this job", domain.ErrExtensionNotAllowed)
	}
	delivered := job.ExtensionStep
	if delivered < 1 {
		delivered = 1
	}
	if delivered >= o.maxSegments {
		return nil, fmt.Errorf("%w: job already has %d segments", domain.ErrExtensionNotAllowed, delivered)
	}
	ext, err := o.providers.Extender(domain.ProviderOperationChained)
	if err != nil {
		return nil, err
	}

	attempt := uuid.NewString()
	segment := delivered + 1
	cost := o.pricing.PerExtension
	promo := domain.ChainPromotion{
		JobID:          job.ID,
		ExpectedStep:   job.ExtensionStep,
		ExtensionStep:  delivered,
		ExtensionTotal: segment,
		CreditCost:     job.CreditCost + cost,
		PendingRef:     domain.PendingRef(job.ExternalRef),
		ClaimedAt:      o.now(),
		Debit:          ledger.ExtensionDebit(job, segment, cost, attempt),
	}
	won, err := o.jobs.PromoteToChain(ctx, promo)
	if err != nil {
		return nil, fmt.Errorf("promote job: %w", err)
	}
	if !won {
		return nil, fmt.Errorf("%w: an extension is already in progress", domain.ErrConflict)
	}

	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		prompt = video.ComposePrompt(job.Prompt, job.Style)
	}
	callCtx, cancel := o.backendContext(ctx)
	opName, err := ext.Extend(callCtx, job.ExtensionVideoURI, prompt)
	cancel()
	if err != nil {
		o.logger.Warn().Err(err).Str("job_id", job.ID).Int("segment", segment).Msg("orchestrator: manual extension rejected")
		restore := domain.CompletionRestore{
			JobID:          job.ID,
			PendingRef:     promo.PendingRef,
			Provider:       job.Provider,
			ExternalRef:    job.ExternalRef,
			ExtensionStep:  job.ExtensionStep,
			ExtensionTotal: job.ExtensionTotal,
			CreditCost:     job.CreditCost,
			Refund:         ledger.ExtensionRefund(job, segment, cost, attempt),
		}
		if _, rerr := o.jobs.RestoreCompleted(ctx, restore); rerr != nil {
			return nil, fmt.Errorf("restore job after failed extension: %w", rerr)
		}
		return nil, fmt.Errorf("%w: extension could not be started: %v", domain.ErrUpstream, err)
	}

	promoted := *job
	promoted.Status = domain.JobStatusExtending
	promoted.Provider = domain.ProviderOperationChained
	promoted.ExtensionStep = delivered
	promoted.ExtensionTotal = segment
	return o.recordExtension(ctx, &promoted, opName)
}
