package engine

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/seantiz/kernelgate/internal/model"
)

// Formatter normalizes a raw result value or bundle into mimetype maps.
type Formatter interface {
	Format(v any) (data, metadata map[string]any)
}

// ImageExtractor moves inline image payloads out of a bundle.
type ImageExtractor interface {
	Extract(b *model.DisplayBundle) (*model.DisplayBundle, error)
}

// aggregator folds the event stream of one submission. Events are applied
// in arrival order.
type aggregator struct {
	logger *slog.Logger

	mu        sync.Mutex
	stdout    strings.Builder
	stderr    strings.Builder
	result    any
	hasResult bool
	errMsg    string
	displays  []model.DisplayBundle
}

func newAggregator(logger *slog.Logger) *aggregator {
	return &aggregator{logger: logger}
}

func (a *aggregator) handle(ev model.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch e := ev.(type) {
	case model.StreamEvent:
		switch e.Channel {
		case model.Stdout:
			a.stdout.WriteString(e.Text)
		case model.Stderr:
			a.stderr.WriteString(e.Text)
		default:
			a.logger.Warn("ignoring stream on unknown channel", "channel", e.Channel)
		}
	case model.ResultEvent:
		a.result = e.Value
		a.hasResult = true
	case model.DisplayEvent:
		a.displays = append(a.displays, e.Bundle)
	case model.ErrorEvent:
		a.errMsg = fmt.Sprintf("%s: %s", e.Name, e.Message)
	case model.ReplyEvent:
		// Handled by the status tracker.
	default:
		a.logger.Warn("ignoring unknown event", "kind", ev.Kind())
	}
}

// finalize assembles the result. The captured result value goes through f,
// then it and every display bundle go through x.
func (a *aggregator) finalize(kernelID string, status model.Status, f Formatter, x ImageExtractor) *model.ExecutionResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	res := &model.ExecutionResult{
		Success:  status == model.StatusOK,
		KernelID: kernelID,
		Stdout:   a.stdout.String(),
		Stderr:   a.stderr.String(),
		Displays: make([]model.DisplayBundle, 0, len(a.displays)),
	}
	msg := a.errMsg
	if !res.Success && msg == "" {
		msg = fmt.Sprintf("execution finished with status %q", status)
	}
	if msg != "" {
		res.Error = &msg
	}

	if a.hasResult {
		data, metadata := f.Format(a.result)
		b := model.NewDisplayBundle(data, metadata)
		res.Result = a.extract(x, &b)
	}
	for i := range a.displays {
		d := a.displays[i]
		res.Displays = append(res.Displays, *a.extract(x, &d))
	}
	return res
}

// extract runs x over b. A payload that cannot be decoded is left inline,
// as is everything when x is nil.
func (a *aggregator) extract(x ImageExtractor, b *model.DisplayBundle) *model.DisplayBundle {
	if x == nil {
		return b
	}
	out, err := x.Extract(b)
	if err != nil {
		a.logger.Warn("image extraction failed", "error", err)
		return b
	}
	return out
}
