// Package replay serves a canned execution backend for offline demos and
// integration tests. Responses come from a scenario file instead of a
// live kernel.
package replay

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ormasoftchile/cellpilot/pkg/notebook"
)

// Scenario holds pre-recorded backend responses.
type Scenario struct {
	KernelID string `yaml:"kernel_id,omitempty"`
	// KernelStatus overrides the reported status; empty means running.
	KernelStatus string `yaml:"kernel_status,omitempty"`
	// Cells maps cell_id to its responses, consumed in order. The last one repeats.
	Cells map[int][]Response `yaml:"cells,omitempty"`
	// Default answers cells with no entry. When nil those cells get a KernelError.
	Default *Response `yaml:"default,omitempty"`
	Restart *Restart `yaml:"restart,omitempty"`
	Chat    Chat     `yaml:"chat,omitempty"`
}

// Response is one canned /api/execute answer.
type Response struct {
	Status  string                `yaml:"status"`
	Delay   time.Duration         `yaml:"delay,omitempty"`
	Outputs []notebook.WireOutput `yaml:"outputs,omitempty"`
}

// Restart is the canned /api/restart_kernel answer.
type Restart struct {
	Status  string `yaml:"status"            json:"status"`
	Message string `yaml:"message,omitempty" json:"message,omitempty"`
}

// Chat configures /ws/chat replies.
type Chat struct {
	// Replies are tried in order; the first whose Match is a substring of
	// the message wins. An empty Match matches everything.
	Replies []ChatReply   `yaml:"replies,omitempty"`
	Delay   time.Duration `yaml:"delay,omitempty"`
}

// ChatReply is a canned streamed reply.
type ChatReply struct {
	Match  string   `yaml:"match,omitempty"`
	Chunks []string `yaml:"chunks"`
}

// LoadScenario reads and parses a scenario YAML file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML bytes.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if len(s.Cells) == 0 && s.Default == nil && len(s.Chat.Replies) == 0 {
		return nil, fmt.Errorf("scenario must have at least one cell, default or chat reply")
	}
	for id, rs := range s.Cells {
		if id < 1 {
			return nil, fmt.Errorf("scenario cell %d: cell ids start at 1", id)
		}
		if len(rs) == 0 {
			return nil, fmt.Errorf("scenario cell %d: no responses", id)
		}
		for i, r := range rs {
			if r.Status == "" {
				return nil, fmt.Errorf("scenario cell %d response %d: status is required", id, i)
			}
		}
	}
	return &s, nil
}

// reply picks the chat reply for a message.
func (c Chat) reply(message string) []string {
	for _, r := range c.Replies {
		if r.Match == "" || strings.Contains(message, r.Match) {
			return r.Chunks
		}
	}
	return []string{"You said: ", message}
}
