package video

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"vidforge/internal/domain"
	"vidforge/internal/providers/sora"
)

type soraAPI interface {
	HasCredentials() bool
	CreateVideo(ctx context.Context, req sora.CreateRequest) (*sora.Video, error)
	GetVideo(ctx context.Context, id string) (*sora.Video, error)
	DownloadContent(ctx context.Context, id string) ([]byte, string, error)
}

// PercentAdapter drives backends that report percentage progress and serve
// the result from a second, credentialed fetch.
type PercentAdapter struct {
	client soraAPI
}

func NewPercentAdapter(client soraAPI) *PercentAdapter {
	return &PercentAdapter{client: client}
}

func (a *PercentAdapter) Tag() domain.ProviderTag { return domain.ProviderPercentProgress }

func (a *PercentAdapter) Available() bool {
	return a != nil && a.client != nil && a.client.HasCredentials()
}

func (a *PercentAdapter) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	video, err := a.client.CreateVideo(ctx, sora.CreateRequest{
		Prompt:  ComposePrompt(req.Prompt, req.Style),
		Seconds: soraSeconds(req.DurationSeconds),
		Size:    soraSize(req.AspectRatio),
	})
	if err != nil {
		return "", err
	}
	return video.ID, nil
}

func (a *PercentAdapter) Poll(ctx context.Context, req PollRequest) (PollResult, error) {
	video, err := a.client.GetVideo(ctx, req.BackendID)
	if err != nil {
		var apiErr *sora.APIError
		if errors.As(err, &apiErr) && (apiErr.Status == http.StatusNotFound || apiErr.Status == http.StatusGone) {
			return PollResult{Done: true, ErrorKind: domain.ErrorKindBackend, ErrorDetail: "video no longer exists on the backend"}, nil
		}
		return PollResult{}, err
	}

	switch video.Status {
	case sora.StatusQueued, sora.StatusInProgress:
		res := PollResult{}
		if video.Progress != nil {
			res.ProgressPct = pct(*video.Progress)
		}
		return res, nil
	case sora.StatusFailed:
		kind, detail := domain.ErrorKindBackend, "generation failed"
		if video.Error != nil {
			if video.Error.Message != "" {
				detail = video.Error.Message
			}
			if isModerationCode(video.Error.Code) {
				kind = domain.ErrorKindSafetyFilter
			}
		}
		return PollResult{Done: true, ErrorKind: kind, ErrorDetail: detail}, nil
	case sora.StatusCompleted:
		data, contentType, err := a.client.DownloadContent(ctx, video.ID)
		if err != nil {
			var apiErr *sora.APIError
			if errors.As(err, &apiErr) {
				switch {
				case apiErr.Status == http.StatusNotFound || apiErr.Status == http.StatusGone:
					return PollResult{Done: true, ErrorKind: domain.ErrorKindEmptyOutput, ErrorDetail: "content expired before it could be downloaded"}, nil
				case !apiErr.Transient():
					return PollResult{Done: true, ErrorKind: domain.ErrorKindBackend, ErrorDetail: apiErr.Message}, nil
				}
			}
			return PollResult{}, err
		}
		if len(data) == 0 {
			return PollResult{Done: true, ErrorKind: domain.ErrorKindEmptyOutput, ErrorDetail: "backend returned an empty file"}, nil
		}
		return PollResult{
			Done:        true,
			ProgressPct: pct(100),
			Output:      &domain.MediaSource{Data: data, ContentType: contentType},
			ErrorKind:   domain.ErrorKindNone,
		}, nil
	default:
		return PollResult{}, nil
	}
}

func isModerationCode(code string) bool {
	code = strings.ToLower(code)
	return strings.Contains(code, "moderation") || strings.Contains(code, "content_policy") || strings.Contains(code, "safety")
}

func soraSeconds(d int) int {
	switch {
	case d <= 0:
		return 0
	case d <= 4:
		return 4
	case d <= 8:
		return 8
	default:
		return 12
	}
}

func soraSize(aspect string) string {
	switch strings.TrimSpace(aspect) {
	case "9:16":
		return "720x1280"
	case "16:9", "":
		return "1280x720"
	default:
		return ""
	}
}

var _ Adapter = (*PercentAdapter)(nil)
