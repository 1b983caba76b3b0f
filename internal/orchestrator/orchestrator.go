// Package orchestrator owns the lifecycle of video jobs after they are
// created. There is no background loop: every state change happens inside a
// request that polls a job, so all transitions are written as conditional
// updates and are safe to run concurrently.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"vidforge/internal/domain"
	"vidforge/internal/infra"
	"vidforge/internal/infra/pollgate"
	"vidforge/internal/ingest"
	"vidforge/internal/ledger"
	"vidforge/internal/providers/video"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Ingester copies finished output into durable storage.
type Ingester interface {
	Ingest(ctx context.Context, src domain.MediaSource, key string) (ingest.Result, error)
}

// Options wires an Orchestrator.
type Options struct {
	Jobs      domain.JobRepository
	Providers *video.Registry
	Ingester  Ingester
	Pricing   ledger.Pricing
	// Gate is optional; without it every poll reaches the backend.
	Gate   pollgate.Gate
	Logger *infra.Logger

	SegmentSeconds   int
	ExtensionSeconds int
	MaxChainSegments int
	// ClaimTimeout bounds how long a job may sit queued or with a claimed
	// extension before the poll path gives up on it.
	ClaimTimeout   time.Duration
	BackendTimeout time.Duration
	Concurrency    int
	Now            func() time.Time
}

type Orchestrator struct {
	jobs      domain.JobRepository
	providers *video.Registry
	ingester  Ingester
	pricing   ledger.Pricing
	gate      pollgate.Gate
	logger    *infra.Logger

	segmentSeconds   int
	extensionSeconds int
	maxSegments      int
	claimTimeout     time.Duration
	backendTimeout   time.Duration
	concurrency      int
	now              func() time.Time
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Jobs == nil || opts.Providers == nil || opts.Ingester == nil {
		return nil, errors.New("orchestrator: jobs, providers and ingester are required")
	}
	o := &Orchestrator{
		jobs:             opts.Jobs,
		providers:        opts.Providers,
		ingester:         opts.Ingester,
		pricing:          opts.Pricing,
		gate:             opts.Gate,
		logger:           infra.OrDiscard(opts.Logger),
		segmentSeconds:   opts.SegmentSeconds,
		extensionSeconds: opts.ExtensionSeconds,
		maxSegments:      opts.MaxChainSegments,
		claimTimeout:     opts.ClaimTimeout,
		backendTimeout:   opts.BackendTimeout,
		concurrency:      opts.Concurrency,
		now:              opts.Now,
	}
	if o.pricing == (ledger.Pricing{}) {
		o.pricing = ledger.Pricing{PerSegment: 10, PerExtension: 8}
	}
	if o.segmentSeconds <= 0 {
		o.segmentSeconds = 8
	}
	if o.extensionSeconds <= 0 {
		o.extensionSeconds = 7
	}
	if o.maxSegments <= 0 {
		o.maxSegments = 20
	}
	if o.claimTimeout <= 0 {
		o.claimTimeout = 2 * time.Minute
	}
	if o.backendTimeout <= 0 {
		o.backendTimeout = 30 * time.Second
	}
	if o.concurrency <= 0 {
		o.concurrency = 8
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o, nil
}

// CreateRequest is a new generation request.
type CreateRequest struct {
	OwnerID         string
	AccountID       string
	Prompt          string
	Style           string
	AspectRatio     string
	DurationSeconds int
	Provider        domain.ProviderTag
}

// CreateJob debits the owner, records the job and dispatches it. A backend
// rejection is not an error: the job is returned failed and refunded.
func (o *Orchestrator) CreateJob(ctx context.Context, req CreateRequest) (*domain.Job, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if strings.TrimSpace(req.OwnerID) == "" || prompt == "" {
		return nil, fmt.Errorf("%w: owner and prompt are required", domain.ErrInvalidRequest)
	}
	if !req.Provider.Valid() {
		return nil, fmt.Errorf("%w: unknown provider %q", domain.ErrInvalidRequest, req.Provider)
	}
	if req.DurationSeconds < 0 {
		return nil, fmt.Errorf("%w: duration must not be negative", domain.ErrInvalidRequest)
	}
	duration := req.DurationSeconds
	if duration == 0 {
		duration = o.segmentSeconds
	}
	tag := req.Provider
	if tag == domain.ProviderOperation && duration > o.segmentSeconds {
		tag = domain.ProviderOperationChained
	}
	adapter, err := o.providers.Get(tag)
	if err != nil {
		return nil, err
	}

	segments, total := 1, 0
	if tag == domain.ProviderOperationChained {
		total = o.chainTotal(duration)
		segments = total
	}
	aspect := strings.TrimSpace(req.AspectRatio)
	if aspect == "" {
		aspect = "16:9"
	}
	job := &domain.Job{
		ID:                    uuid.NewString(),
		OwnerID:               req.OwnerID,
		AccountID:             req.AccountID,
		Status:                domain.JobStatusQueued,
		Provider:              tag,
		Prompt:                prompt,
		Style:                 strings.TrimSpace(req.Style),
		AspectRatio:           aspect,
		ExtensionTotal:        total,
		TargetDurationSeconds: duration,
		CreditCost:            o.pricing.CostFor(segments),
		ErrorKind:             domain.ErrorKindNone,
	}
	if err := o.jobs.Create(ctx, job, ledger.CreateDebit(job)); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	log := o.logger.With().Str("job_id", job.ID).Str("provider", string(tag)).Logger()

	callCtx, cancel := o.backendContext(ctx)
	backendID, err := adapter.Submit(callCtx, video.SubmitRequest{
		JobID:           job.ID,
		Prompt:          job.Prompt,
		Style:           job.Style,
		AspectRatio:     job.AspectRatio,
		DurationSeconds: duration,
	})
	cancel()
	if err != nil {
		log.Warn().Err(err).Msg("orchestrator: dispatch rejected")
		return o.fail(ctx, job, domain.ErrorKindDispatch, err.Error())
	}
	dispatched, err := o.jobs.MarkDispatched(ctx, job.ID, domain.EncodeRef(tag, backendID))
	if err != nil {
		return nil, fmt.Errorf("mark dispatched: %w", err)
	}
	if !dispatched {
		log.Warn().Str("backend_id", backendID).Msg("orchestrator: job left queued before dispatch was recorded, backend render orphaned")
		return o.jobs.GetByID(ctx, job.ID)
	}
	log.Info().Int("credit_cost", job.CreditCost).Int("segments", segments).Msg("orchestrator: job dispatched")
	return o.jobs.GetByID(ctx, job.ID)
}

// Job loads a job without contacting its backend.
func (o *Orchestrator) Job(ctx context.Context, jobID, ownerID string) (*domain.Job, error) {
	return o.jobs.GetForOwner(ctx, jobID, ownerID)
}

// PollJob advances one job by at most one transition and returns its
// current state. Terminal jobs are returned without any backend call.
func (o *Orchestrator) PollJob(ctx context.Context, jobID, ownerID string) (*domain.Job, error) {
	job, err := o.jobs.GetForOwner(ctx, jobID, ownerID)
	if err != nil {
		return nil, err
	}
	return o.advance(ctx, job)
}

// ListJobs returns the owner's jobs. With reconcile set, every non-terminal
// job is polled concurrently first; a failing poll leaves that job as stored.
func (o *Orchestrator) ListJobs(ctx context.Context, ownerID string, filter domain.JobFilter, reconcile bool) ([]domain.Job, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	jobs, err := o.jobs.List(ctx, ownerID, filter)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	if !reconcile {
		return jobs, nil
	}

	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for i := range jobs {
		if jobs[i].IsTerminal() {
			continue
		}
		i := i
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					o.logger.Error().Str("job_id", jobs[i].ID).Interface("panic", r).Msg("orchestrator: reconcile panicked")
				}
			}()
			current := jobs[i]
			updated, err := o.advance(ctx, &current)
			if err != nil {
				o.logger.Warn().Err(err).Str("job_id", jobs[i].ID).Msg("orchestrator: reconcile poll failed")
				return nil
			}
			jobs[i] = *updated
			return nil
		})
	}
	_ = g.Wait()
	return jobs, nil
}

// ReconcileAll polls every non-terminal job of every owner. It backs the
// reconcile command and reports how many jobs were examined.
func (o *Orchestrator) ReconcileAll(ctx context.Context, lister PendingLister, limit int) (int, error) {
	jobs, err := lister.ListPending(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list pending jobs: %w", err)
	}
	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for i := range jobs {
		job := jobs[i]
		g.Go(func() error {
			if _, err := o.advance(ctx, &job); err != nil {
				o.logger.Warn().Err(err).Str("job_id", job.ID).Msg("orchestrator: reconcile poll failed")
			}
			return nil
		})
	}
	_ = g.Wait()
	return len(jobs), nil
}

// PendingLister lists non-terminal jobs across owners.
type PendingLister interface {
	ListPending(ctx context.Context, limit int) ([]domain.Job, error)
}

func (o *Orchestrator) backendContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, o.backendTimeout)
}

// chainTotal is the number of segments needed to reach target seconds.
func (o *Orchestrator) chainTotal(target int) int {
	total := 1
	if target > o.segmentSeconds {
		extra := target - o.segmentSeconds
		total += (extra + o.extensionSeconds - 1) / o.extensionSeconds
	}
	if total > o.maxSegments {
		total = o.maxSegments
	}
	return total
}

// chainDuration is the length of a clip made of segments segments.
func (o *Orchestrator) chainDuration(segments int) int {
	if segments <= 0 {
		return 0
	}
	return o.segmentSeconds + (segments-1)*o.extensionSeconds
}
