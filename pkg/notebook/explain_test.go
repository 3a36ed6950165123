package notebook

import (
	"context"
	"strings"
	"testing"
)

type chatSink struct{ messages []string }

func (s *chatSink) Forward(message string) { s.messages = append(s.messages, message) }

func TestExplainMessage_ExactFormat(t *testing.T) {
	e := ErrorOutput{
		Name:      "NameError",
		Value:     "x not defined",
		Traceback: []string{"Traceback (most recent call last):", "  File \"<cell>\", line 1"},
	}
	got := ExplainMessage(e)
	if got != "Please explain this error: NameError: x not defined" {
		t.Errorf("message = %q", got)
	}
	if strings.Contains(got, "Traceback") {
		t.Error("traceback must never be forwarded")
	}
}

func TestExplain_ForwardsWhenSelected(t *testing.T) {
	sink := &chatSink{}
	c := newTestController(respond("ok", ErrorOutput{Name: "KeyError", Value: "'age'"}), &recorder{}, WithChatForwarder(sink))
	c.Run(context.Background(), "step-1")
	before := c.Record("step-1")

	c.Select("step-1")
	if !c.ExplainLast("step-1") {
		t.Fatal("expected a forwarded message")
	}
	if len(sink.messages) != 1 || sink.messages[0] != "Please explain this error: KeyError: 'age'" {
		t.Errorf("messages = %q", sink.messages)
	}

	after := c.Record("step-1")
	if after.Generation != before.Generation || len(after.Outputs) != len(before.Outputs) {
		t.Error("explain must not alter the execution record")
	}
}

func TestExplain_NoopWithoutSelection(t *testing.T) {
	sink := &chatSink{}
	c := newTestController(respond("ok"), &recorder{}, WithChatForwarder(sink))
	if c.Explain(ErrorOutput{Name: "E", Value: "v"}, "step-1") {
		t.Error("explain without a selected step must be a no-op")
	}
	if len(sink.messages) != 0 {
		t.Errorf("messages = %q", sink.messages)
	}
}

func TestExplain_NoopWithoutForwarder(t *testing.T) {
	c := newTestController(respond("ok"), &recorder{})
	c.Select("step-1")
	if c.CanExplain() {
		t.Error("CanExplain must be false without a forwarder")
	}
	if c.Explain(ErrorOutput{Name: "E", Value: "v"}, "step-1") {
		t.Error("explain without a forwarder must be a no-op")
	}
}

func TestExplainLast_NoError(t *testing.T) {
	sink := &chatSink{}
	c := newTestController(respond("ok", StreamOutput{Content: "fine"}), &recorder{}, WithChatForwarder(sink))
	c.Select("step-1")
	c.Run(context.Background(), "step-1")
	if c.ExplainLast("step-1") {
		t.Error("nothing to explain")
	}
}
