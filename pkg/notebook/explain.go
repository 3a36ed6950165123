package notebook

import "fmt"

// ExplainMessage builds the chat request for an error output. Only the
// error name and value are used; the traceback is never forwarded.
func ExplainMessage(e ErrorOutput) string {
	return fmt.Sprintf("Please explain this error: %s: %s", e.Name, e.Value)
}

// CanExplain reports whether errors can be forwarded to the chat assistant.
func (c *Controller) CanExplain() bool {
	return c.chat != nil
}

// Explain forwards an explanation request for e to the chat assistant.
// It does nothing when no chat forwarder is configured or no step is
// selected, and reports whether a message was sent. Execution records are
// never touched.
func (c *Controller) Explain(e ErrorOutput, stepID string) bool {
	if c.chat == nil || c.Selected() == "" {
		return false
	}
	c.chat.Forward(ExplainMessage(e))
	_ = c.trace.EmitExplainForwarded(stepID, e.Name)
	return true
}

// ExplainLast forwards the last error recorded for stepID, if any.
func (c *Controller) ExplainLast(stepID string) bool {
	e, ok := LastError(c.Record(stepID).Outputs)
	if !ok {
		return false
	}
	return c.Explain(e, stepID)
}
