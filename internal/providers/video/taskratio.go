package video

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strings"

	"vidforge/internal/domain"
	"vidforge/internal/providers/runway"
)

type runwayAPI interface {
	HasCredentials() bool
	CreateTask(ctx context.Context, req runway.TaskRequest) (string, error)
	GetTask(ctx context.Context, id string) (*runway.Task, error)
}

// TaskRatioAdapter drives task backends that report progress as a 0..1 ratio.
type TaskRatioAdapter struct {
	client runwayAPI
}

func NewTaskRatioAdapter(client runwayAPI) *TaskRatioAdapter {
	return &TaskRatioAdapter{client: client}
}

func (a *TaskRatioAdapter) Tag() domain.ProviderTag { return domain.ProviderTaskRatio }

func (a *TaskRatioAdapter) Available() bool {
	return a != nil && a.client != nil && a.client.HasCredentials()
}

func (a *TaskRatioAdapter) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	return a.client.CreateTask(ctx, runway.TaskRequest{
		PromptText: ComposePrompt(req.Prompt, req.Style),
		Ratio:      runwayRatio(req.AspectRatio),
		Duration:   runwaySeconds(req.DurationSeconds),
	})
}

func (a *TaskRatioAdapter) Poll(ctx context.Context, req PollRequest) (PollResult, error) {
	task, err := a.client.GetTask(ctx, req.BackendID)
	if err != nil {
		var apiErr *runway.APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return PollResult{Done: true, ErrorKind: domain.ErrorKindBackend, ErrorDetail: "task no longer exists on the backend"}, nil
		}
		return PollResult{}, err
	}

	switch task.Status {
	case runway.StatusPending, runway.StatusThrottled:
		return PollResult{ProgressPct: pct(0)}, nil
	case runway.StatusRunning:
		res := PollResult{}
		if task.Progress != nil {
			res.ProgressPct = pct(ratioToPct(*task.Progress))
		}
		return res, nil
	case runway.StatusSucceeded:
		uri := firstOutput(task.Output)
		if uri == "" {
			return PollResult{Done: true, ErrorKind: domain.ErrorKindEmptyOutput, ErrorDetail: "task succeeded without output"}, nil
		}
		return PollResult{
			Done:        true,
			ProgressPct: pct(100),
			Output:      &domain.MediaSource{URI: uri, ContentType: "video/mp4"},
			OutputURI:   uri,
			ErrorKind:   domain.ErrorKindNone,
		}, nil
	case runway.StatusFailed:
		detail := strings.TrimSpace(task.Failure)
		if detail == "" {
			detail = "task failed"
		}
		kind := domain.ErrorKindBackend
		if strings.HasPrefix(strings.ToUpper(task.FailureCode), "SAFETY") {
			kind = domain.ErrorKindSafetyFilter
		}
		return PollResult{Done: true, ErrorKind: kind, ErrorDetail: detail}, nil
	case runway.StatusCancelled:
		return PollResult{Done: true, ErrorKind: domain.ErrorKindBackend, ErrorDetail: "task was cancelled"}, nil
	default:
		return PollResult{}, nil
	}
}

// ratioToPct floors so 0.42 becomes 42 and 0.999 never reads as done.
func ratioToPct(ratio float64) int {
	if math.IsNaN(ratio) || ratio < 0 {
		return 0
	}
	if ratio > 1 {
		ratio = 1
	}
	return int(math.Floor(ratio*100 + 1e-9))
}

func firstOutput(outputs []string) string {
	for _, o := range outputs {
		if o = strings.TrimSpace(o); o != "" {
			return o
		}
	}
	return ""
}

func runwayRatio(aspect string) string {
	switch strings.TrimSpace(aspect) {
	case "9:16":
		return "720:1280"
	default:
		return "1280:720"
	}
}

func runwaySeconds(d int) int {
	switch {
	case d <= 4:
		return 4
	case d <= 6:
		return 6
	default:
		return 8
	}
}

var _ Adapter = (*TaskRatioAdapter)(nil)
