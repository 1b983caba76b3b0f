// Package video normalizes the supported video backends behind one Adapter
// contract. The orchestrator selects an adapter by the job's stored
// provider tag and never inspects backend payloads itself.
package video

import (
	"context"
	"fmt"
	"strings"
	"time"

	"vidforge/internal/domain"
)

// SubmitRequest starts a new backend render.
type SubmitRequest struct {
	JobID           string
	Prompt          string
	Style           string
	AspectRatio     string
	DurationSeconds int
}

// PollRequest identifies the in-flight backend work for one job.
type PollRequest struct {
	BackendID string
	// StartedAt is when the current backend unit of work began; it feeds
	// time-based progress estimates.
	StartedAt      time.Time
	ClipSeconds    int
	ExtensionStep  int
	ExtensionTotal int
	Now            time.Time
}

// PollResult is the normalized backend status. Transient conditions are
// reported as a Go error from Poll instead.
type PollResult struct {
	Done        bool
	ProgressPct *int
	Output      *domain.MediaSource
	// OutputURI is the backend's own handle for the finished clip; chained
	// extensions start from it.
	OutputURI   string
	ErrorKind   domain.ErrorKind
	ErrorDetail string
}

// Failed reports a terminal backend failure.
func (r PollResult) Failed() bool {
	return r.Done && r.ErrorKind != "" && r.ErrorKind != domain.ErrorKindNone
}

// Adapter is one backend protocol family.
type Adapter interface {
	Tag() domain.ProviderTag
	Available() bool
	Submit(ctx context.Context, req SubmitRequest) (string, error)
	Poll(ctx context.Context, req PollRequest) (PollResult, error)
}

// Extender is an Adapter that can grow a finished clip by one segment.
type Extender interface {
	Adapter
	Extend(ctx context.Context, lastOutputURI, prompt string) (string, error)
	// SourceFor rebuilds a fetchable descriptor for a stored output URI.
	SourceFor(uri string) domain.MediaSource
}

// Registry maps provider tags to adapters.
type Registry struct {
	adapters map[domain.ProviderTag]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[domain.ProviderTag]Adapter, len(adapters))}
	for _, a := range adapters {
		if a != nil {
			r.adapters[a.Tag()] = a
		}
	}
	return r
}

// Get returns the adapter for tag when it is registered and configured.
func (r *Registry) Get(tag domain.ProviderTag) (Adapter, error) {
	if r == nil {
		return nil, domain.ErrProviderUnavailable
	}
	a, ok := r.adapters[tag]
	if !ok || !a.Available() {
		return nil, fmt.Errorf("%w: %s", domain.ErrProviderUnavailable, tag)
	}
	return a, nil
}

// Extender returns the adapter for tag when it supports extensions.
func (r *Registry) Extender(tag domain.ProviderTag) (Extender, error) {
	a, err := r.Get(tag)
	if err != nil {
		return nil, err
	}
	ext, ok := a.(Extender)
	if !ok {
		return nil, fmt.Errorf("%w: %s cannot extend", domain.ErrExtensionNotAllowed, tag)
	}
	return ext, nil
}

// Available lists the configured provider tags.
func (r *Registry) Available() []domain.ProviderTag {
	var tags []domain.ProviderTag
	for _, tag := range []domain.ProviderTag{
		domain.ProviderPercentProgress,
		domain.ProviderOperation,
		domain.ProviderOperationChained,
		domain.ProviderTaskRatio,
	} {
		if a, ok := r.adapters[tag]; ok && a.Available() {
			tags = append(tags, tag)
		}
	}
	return tags
}

// ComposePrompt folds an optional style hint into the prompt text.
func ComposePrompt(prompt, style string) string {
	prompt = strings.TrimSpace(prompt)
	style = strings.TrimSpace(style)
	if style == "" {
		return prompt
	}
	return prompt + "\n\nStyle: " + style
}

func pct(v int) *int {
	if v < 0 {
		v = 0
	}
	if v > 100 {
		v = 100
	}
	return &v
}
