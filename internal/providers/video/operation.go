package video

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"vidforge/internal/domain"
	"vidforge/internal/providers/veo"
)

type veoAPI interface {
	HasCredentials() bool
	MediaCredential() (string, string)
	Generate(ctx context.Context, req veo.GenerateRequest) (string, error)
	Extend(ctx context.Context, videoURI, prompt string) (string, error)
	GetOperation(ctx context.Context, name string) (*veo.Operation, error)
}

// OperationAdapter drives long-running operations that only expose a done
// flag. Progress is estimated from elapsed time.
type OperationAdapter struct {
	client         veoAPI
	estimator      Estimator
	segmentSeconds int
}

// OperationOptions configures the operation adapters.
type OperationOptions struct {
	Estimator      Estimator
	SegmentSeconds int
}

func NewOperationAdapter(client veoAPI, opts OperationOptions) *OperationAdapter {
	if opts.Estimator == (Estimator{}) {
		opts.Estimator = DefaultEstimator()
	}
	if opts.SegmentSeconds <= 0 {
		opts.SegmentSeconds = 8
	}
	return &OperationAdapter{client: client, estimator: opts.Estimator, segmentSeconds: opts.SegmentSeconds}
}

func (a *OperationAdapter) Tag() domain.ProviderTag { return domain.ProviderOperation }

func (a *OperationAdapter) Available() bool {
	return a != nil && a.client != nil && a.client.HasCredentials()
}

func (a *OperationAdapter) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	return a.client.Generate(ctx, veo.GenerateRequest{
		Prompt:          ComposePrompt(req.Prompt, req.Style),
		AspectRatio:     veoAspect(req.AspectRatio),
		DurationSeconds: veoSeconds(req.DurationSeconds, a.segmentSeconds),
	})
}

func (a *OperationAdapter) Poll(ctx context.Context, req PollRequest) (PollResult, error) {
	op, err := a.client.GetOperation(ctx, req.BackendID)
	if err != nil {
		return a.classifyPollError(err)
	}
	if !op.Done {
		return PollResult{ProgressPct: pct(a.estimate(req))}, nil
	}
	return a.finished(op), nil
}

func (a *OperationAdapter) estimate(req PollRequest) int {
	return a.estimator.Estimate(req.StartedAt, req.Now, req.ClipSeconds)
}

func (a *OperationAdapter) finished(op *veo.Operation) PollResult {
	if op.Error != nil {
		detail := strings.TrimSpace(op.Error.Message)
		if detail == "" {
			detail = fmt.Sprintf("operation failed with code %d", op.Error.Code)
		}
		return PollResult{Done: true, ErrorKind: domain.ErrorKindBackend, ErrorDetail: detail}
	}
	res := op.Result()
	uri := res.FirstVideoURI()
	if uri == "" {
		if res != nil && res.RaiMediaFilteredCount > 0 {
			detail := "output was blocked by the content filter"
			if len(res.RaiMediaFilteredReasons) > 0 {
				detail = strings.Join(res.RaiMediaFilteredReasons, "; ")
			}
			return PollResult{Done: true, ErrorKind: domain.ErrorKindSafetyFilter, ErrorDetail: detail}
		}
		return PollResult{Done: true, ErrorKind: domain.ErrorKindEmptyOutput, ErrorDetail: "operation finished without a generated video"}
	}
	src := a.SourceFor(uri)
	return PollResult{
		Done:        true,
		ProgressPct: pct(100),
		Output:      &src,
		OutputURI:   uri,
		ErrorKind:   domain.ErrorKindNone,
	}
}

// Extend starts a continuation of the clip at lastOutputURI.
func (a *OperationAdapter) Extend(ctx context.Context, lastOutputURI, prompt string) (string, error) {
	return a.client.Extend(ctx, lastOutputURI, prompt)
}

// SourceFor attaches the API key as a header with a query-parameter fallback
// for HTTPS sample URIs. gs:// URIs are read through object storage.
func (a *OperationAdapter) SourceFor(uri string) domain.MediaSource {
	src := domain.MediaSource{URI: uri, ContentType: "video/mp4"}
	if strings.HasPrefix(uri, "https://") || strings.HasPrefix(uri, "http://") {
		header, key := a.client.MediaCredential()
		src.AuthHeader, src.AuthValue = header, key
		src.FallbackParam, src.FallbackValue = "key", key
	}
	return src
}

// ChainedAdapter is the operation protocol for jobs longer than one segment.
type ChainedAdapter struct {
	*OperationAdapter
}

func NewChainedAdapter(client veoAPI, opts OperationOptions) *ChainedAdapter {
	return &ChainedAdapter{OperationAdapter: NewOperationAdapter(client, opts)}
}

func (a *ChainedAdapter) Tag() domain.ProviderTag { return domain.ProviderOperationChained }

// Submit always renders a full first segment; the chain extends from there.
func (a *ChainedAdapter) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	req.DurationSeconds = a.segmentSeconds
	return a.OperationAdapter.Submit(ctx, req)
}

func (a *ChainedAdapter) Poll(ctx context.Context, req PollRequest) (PollResult, error) {
	op, err := a.client.GetOperation(ctx, req.BackendID)
	if err != nil {
		return a.OperationAdapter.classifyPollError(err)
	}
	if !op.Done {
		p := a.estimator.EstimateChain(req.StartedAt, req.Now, req.ClipSeconds, req.ExtensionStep, req.ExtensionTotal)
		return PollResult{ProgressPct: pct(p)}, nil
	}
	return a.finished(op), nil
}

func (a *OperationAdapter) classifyPollError(err error) (PollResult, error) {
	var apiErr *veo.APIError
	if errors.As(err, &apiErr) && !apiErr.Transient() {
		if apiErr.Status == http.StatusNotFound {
			return PollResult{Done: true, ErrorKind: domain.ErrorKindBackend, ErrorDetail: "operation no longer exists on the backend"}, nil
		}
		if apiErr.Status != http.StatusUnauthorized && apiErr.Status != http.StatusForbidden {
			return PollResult{Done: true, ErrorKind: domain.ErrorKindBackend, ErrorDetail: apiErr.Message}, nil
		}
	}
	return PollResult{}, err
}

func veoAspect(aspect string) string {
	switch strings.TrimSpace(aspect) {
	case "9:16":
		return "9:16"
	default:
		return "16:9"
	}
}

func veoSeconds(d, segment int) int {
	switch {
	case d <= 0:
		return segment
	case d <= 4:
		return 4
	case d <= 6:
		return 6
	default:
		return segment
	}
}

var (
	_ Extender = (*OperationAdapter)(nil)
	_ Extender = (*ChainedAdapter)(nil)
)
