package engine

import (
	"testing"

	"github.com/seantiz/kernelgate/internal/display"
	"github.com/seantiz/kernelgate/internal/images"
	"github.com/seantiz/kernelgate/internal/model"
)

func finalize(a *aggregator, status model.Status) *model.ExecutionResult {
	return a.finalize("K", status, display.NewFormatter(), images.NewStore(testDomain))
}

func TestAggregatorStreamsConcatenate(t *testing.T) {
	a := newAggregator(discardLogger())
	for _, ev := range []model.Event{
		model.StreamEvent{Channel: model.Stdout, Text: "a"},
		model.StreamEvent{Channel: model.Stderr, Text: "x"},
		model.StreamEvent{Channel: model.Stdout, Text: "b"},
		model.StreamEvent{Channel: model.Stdout, Text: "c\n"},
		model.StreamEvent{Channel: model.Stderr, Text: "y"},
	} {
		a.handle(ev)
	}

	res := finalize(a, model.StatusOK)
	if res.Stdout != "abc\n" {
		t.Errorf("Stdout = %q, want %q", res.Stdout, "abc\n")
	}
	if res.Stderr != "xy" {
		t.Errorf("Stderr = %q, want %q", res.Stderr, "xy")
	}
}

func TestAggregatorLastResultWins(t *testing.T) {
	a := newAggregator(discardLogger())
	a.handle(model.ResultEvent{Value: 1})
	a.handle(model.ResultEvent{Value: "two"})

	res := finalize(a, model.StatusOK)
	if res.Result == nil || res.Result.Data[model.MIMETextPlain] != `"two"` {
		t.Errorf("Result = %+v, want the last value", res.Result)
	}
}

func TestAggregatorBundleResultPassesThrough(t *testing.T) {
	a := newAggregator(discardLogger())
	a.handle(model.ResultEvent{Value: model.NewDisplayBundle(
		map[string]any{model.MIMETextHTML: "<i>x</i>", model.MIMETextPlain: "x"},
		map[string]any{model.MIMETextHTML: map[string]any{"isolated": true}},
	)})

	res := finalize(a, model.StatusOK)
	if res.Result.Data[model.MIMETextHTML] != "<i>x</i>" {
		t.Errorf("Result.Data = %v", res.Result.Data)
	}
	if _, ok := res.Result.Metadata[model.MIMETextHTML]; !ok {
		t.Errorf("Result.Metadata = %v, want html metadata kept", res.Result.Metadata)
	}
}

func TestAggregatorNoResult(t *testing.T) {
	res := finalize(newAggregator(discardLogger()), model.StatusOK)
	if res.Result != nil {
		t.Errorf("Result = %+v, want nil", res.Result)
	}
	if res.Displays == nil || len(res.Displays) != 0 {
		t.Errorf("Displays = %#v, want empty non-nil slice", res.Displays)
	}
}

func TestAggregatorLastErrorWins(t *testing.T) {
	a := newAggregator(discardLogger())
	a.handle(model.ErrorEvent{Name: "KeyError", Message: "a"})
	a.handle(model.ErrorEvent{Name: "ValueError", Message: "b"})

	res := finalize(a, model.StatusError)
	if res.ErrorMessage() != "ValueError: b" {
		t.Errorf("Error = %q, want %q", res.ErrorMessage(), "ValueError: b")
	}
	if res.Success {
		t.Error("Success = true for error status")
	}
}

func TestAggregatorDisplaysKeepDuplicates(t *testing.T) {
	a := newAggregator(discardLogger())
	b := model.NewDisplayBundle(map[string]any{model.MIMETextPlain: "same"}, nil)
	a.handle(model.DisplayEvent{Bundle: b})
	a.handle(model.DisplayEvent{Bundle: b})
	a.handle(model.UnknownEvent{Type: "comm_open"})

	res := finalize(a, model.StatusOK)
	if len(res.Displays) != 2 {
		t.Errorf("got %d displays, want 2", len(res.Displays))
	}
}

func TestAggregatorInvalidImageLeftInline(t *testing.T) {
	a := newAggregator(discardLogger())
	a.handle(model.DisplayEvent{Bundle: model.NewDisplayBundle(map[string]any{model.MIMEPNG: 42}, nil)})

	res := finalize(a, model.StatusOK)
	if res.Displays[0].Data[model.MIMEPNG] != 42 {
		t.Errorf("image/png = %v, want the original payload", res.Displays[0].Data[model.MIMEPNG])
	}
}

func TestAggregatorNilExtractorKeepsImagesInline(t *testing.T) {
	a := newAggregator(discardLogger())
	a.handle(model.DisplayEvent{Bundle: model.NewDisplayBundle(map[string]any{model.MIMEPNG: "aW1n"}, nil)})

	res := a.finalize("K", model.StatusOK, display.NewFormatter(), nil)
	if res.Displays[0].Data[model.MIMEPNG] != "aW1n" {
		t.Errorf("image/png = %v, want the base64 payload", res.Displays[0].Data[model.MIMEPNG])
	}
}

func TestAggregatorFailureWithoutErrorEvent(t *testing.T) {
	res := finalize(newAggregator(discardLogger()), model.StatusAborted)
	if res.Success {
		t.Error("Success = true for aborted status")
	}
	if res.ErrorMessage() == "" {
		t.Error("Error is empty for a failed execution")
	}
}

func TestStatusTrackerDefaultsToError(t *testing.T) {
	st := newStatusTracker()
	if st.Status() != model.StatusError {
		t.Errorf("initial status = %q, want error", st.Status())
	}
	select {
	case <-st.Done():
		t.Error("Done closed before any reply")
	default:
	}

	res := finalize(newAggregator(discardLogger()), st.Status())
	if res.Success {
		t.Error("finalizing without a reply reported success")
	}
}

func TestStatusTrackerLatchesFirstReply(t *testing.T) {
	st := newStatusTracker()
	st.observe(model.StreamEvent{Channel: model.Stdout, Text: "x"})
	st.observe(model.ReplyEvent{Status: model.StatusOK})
	st.observe(model.ReplyEvent{Status: model.StatusError})

	<-st.Done()
	if st.Status() != model.StatusOK {
		t.Errorf("status = %q, want the first reply's ok", st.Status())
	}
}
