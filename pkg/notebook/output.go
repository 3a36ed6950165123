package notebook

import (
	"encoding/json"
	"fmt"
)

// Wire kinds reported by the execution backend.
const (
	KindStream = "stream"
	KindText   = "text"
	KindError  = "error"
	KindImage  = "image"
	KindHTML   = "html"
)

// OutputItem is one entry of a cell's ordered output list.
// The set of implementations is closed: StreamOutput, ErrorOutput,
// ImageOutput, HTMLOutput and UnknownOutput.
type OutputItem interface {
	// Kind returns the wire kind of the item.
	Kind() string
	isOutput()
}

// StreamOutput is stdout/stderr text or a plain-text display result.
type StreamOutput struct {
	// Name is the stream name ("stdout", "stderr") or empty for text results.
	Name    string
	Content string
	// Text is true when the backend reported the item as "text" rather than "stream".
	Text bool
}

// ErrorOutput is an exception raised by the executed code, or a synthesized
// transport failure.
type ErrorOutput struct {
	Name      string
	Value     string
	Traceback []string
}

// ImageOutput is a base64-encoded image. Content is untrusted.
type ImageOutput struct {
	Content string
	Format  string
}

// HTMLOutput is rich HTML (usually a DataFrame). Content is untrusted.
type HTMLOutput struct {
	Content string
}

// UnknownOutput preserves an item of a kind this client does not understand.
type UnknownOutput struct {
	Type string
	Raw  json.RawMessage
}

func (o StreamOutput) Kind() string {
	if o.Text {
		return KindText
	}
	return KindStream
}
func (ErrorOutput) Kind() string     { return KindError }
func (ImageOutput) Kind() string     { return KindImage }
func (HTMLOutput) Kind() string      { return KindHTML }
func (o UnknownOutput) Kind() string { return o.Type }

func (StreamOutput) isOutput()  {}
func (ErrorOutput) isOutput()   {}
func (ImageOutput) isOutput()   {}
func (HTMLOutput) isOutput()    {}
func (UnknownOutput) isOutput() {}

// WireOutput is the JSON shape of an output record exchanged with the backend.
type WireOutput struct {
	Type      string   `json:"type" jsonschema:"required"`
	Name      string   `json:"name,omitempty"`
	Content   string   `json:"content,omitempty"`
	Ename     string   `json:"ename,omitempty"`
	Evalue    string   `json:"evalue,omitempty"`
	Traceback []string `json:"traceback,omitempty"`
	Format    string   `json:"format,omitempty"`
}

// DecodeOutput converts a raw backend output record into an OutputItem.
func DecodeOutput(raw json.RawMessage) (OutputItem, error) {
	var w WireOutput
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode output: %w", err)
	}
	switch w.Type {
	case KindStream:
		return StreamOutput{Name: w.Name, Content: w.Content}, nil
	case KindText:
		return StreamOutput{Name: w.Name, Content: w.Content, Text: true}, nil
	case KindError:
		name := w.Ename
		if name == "" {
			name = "Error"
		}
		return ErrorOutput{Name: name, Value: w.Evalue, Traceback: w.Traceback}, nil
	case KindImage:
		return ImageOutput{Content: w.Content, Format: w.Format}, nil
	case KindHTML:
		return HTMLOutput{Content: w.Content}, nil
	default:
		return UnknownOutput{Type: w.Type, Raw: append(json.RawMessage(nil), raw...)}, nil
	}
}

// DecodeOutputs decodes an ordered list of raw output records.
func DecodeOutputs(raws []json.RawMessage) ([]OutputItem, error) {
	items := make([]OutputItem, 0, len(raws))
	for i, raw := range raws {
		item, err := DecodeOutput(raw)
		if err != nil {
			return nil, fmt.Errorf("output %d: %w", i, err)
		}
		items = append(items, item)
	}
	return items, nil
}

// EncodeOutput converts an OutputItem back into its wire shape.
func EncodeOutput(item OutputItem) WireOutput {
	switch o := item.(type) {
	case StreamOutput:
		return WireOutput{Type: o.Kind(), Name: o.Name, Content: o.Content}
	case ErrorOutput:
		return WireOutput{Type: KindError, Ename: o.Name, Evalue: o.Value, Traceback: o.Traceback}
	case ImageOutput:
		return WireOutput{Type: KindImage, Content: o.Content, Format: o.Format}
	case HTMLOutput:
		return WireOutput{Type: KindHTML, Content: o.Content}
	case UnknownOutput:
		return WireOutput{Type: o.Type}
	default:
		return WireOutput{Type: item.Kind()}
	}
}

// HasError reports whether any item in outputs is an error.
func HasError(outputs []OutputItem) bool {
	for _, o := range outputs {
		if _, ok := o.(ErrorOutput); ok {
			return true
		}
	}
	return false
}

// LastError returns the last error item in outputs, if any.
func LastError(outputs []OutputItem) (ErrorOutput, bool) {
	for i := len(outputs) - 1; i >= 0; i-- {
		if e, ok := outputs[i].(ErrorOutput); ok {
			return e, true
		}
	}
	return ErrorOutput{}, false
}
