package session

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Role identifies who authored a turn.
type Role string

const (
	RoleInitiator   Role = "initiator"
	RolePlanner     Role = "planner"
	RoleObservation Role = "observation"
)

// Kind is the variant of a tool invocation.
type Kind string

const (
	KindRunCommand       Kind = "run-command"
	KindSignalCompletion Kind = "signal-completion"
	KindUnknown          Kind = "unknown"
)

// Source records which protocol produced an invocation. Planner backends
// need it to render the matching observation: structured calls get a
// correlated tool result, free-text calls get a plain message.
type Source string

const (
	SourceStructured Source = "structured"
	SourceText       Source = "text"
)

// Invocation is a tool request emitted by the planner.
type Invocation struct {
	ID   string `json:"id"`
	Kind Kind   `json:"kind"`
	// Name is the tool name as the planner spelled it. For unknown kinds it
	// is the only thing telling us what was asked for.
	Name    string         `json:"name"`
	Command string         `json:"command,omitempty"`
	Stdin   *string        `json:"stdin,omitempty"`
	Args    map[string]any `json:"args,omitempty"`
	Source  Source         `json:"source"`
}

// Observation is the result of dispatching one invocation.
type Observation struct {
	ID string `json:"id"`
	// ExitCode is nil when the process was killed by the runner's timeout.
	ExitCode *int   `json:"exitCode"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	// Error is set for dispatch failures (unknown tool, bad arguments).
	Error  string `json:"error,omitempty"`
	Source Source `json:"source"`
	// Content is what the planner sees. It is filled by the dispatcher.
	Content string `json:"content"`
}

// IsError reports whether the observation should be flagged as a failed
// tool call to planners that support it.
func (o Observation) IsError() bool {
	return o.Error != "" || o.ExitCode == nil || *o.ExitCode != 0
}

// Payload is the content of a turn. It is one of Text, Invocations or
// Observations.
type Payload interface {
	payload()
}

// Text is plain prose.
type Text struct {
	Text string
}

// Invocations is a planner turn carrying structured blocks. Text keeps any
// plain-text blocks that came with the calls.
type Invocations struct {
	Text  string
	Calls []Invocation
}

// Observations carries tool results back to the planner.
type Observations struct {
	Results []Observation
}

func (Text) payload()         {}
func (Invocations) payload()  {}
func (Observations) payload() {}

// Turn is one immutable entry of the conversation history.
type Turn struct {
	Role    Role
	Payload Payload
}

// NewText builds a text turn for the given role.
func NewText(role Role, text string) Turn {
	return Turn{Role: role, Payload: Text{Text: text}}
}

// NewObservation builds an observation turn for a single result.
func NewObservation(obs Observation) Turn {
	return Turn{Role: RoleObservation, Payload: Observations{Results: []Observation{obs}}}
}

// WithCallIDs returns a copy of t in which every invocation lacking an ID is
// named prefix_<position>. Turns without invocations are returned unchanged.
func (t Turn) WithCallIDs(prefix string) Turn {
	p, ok := t.Payload.(Invocations)
	if !ok {
		return t
	}
	calls := make([]Invocation, len(p.Calls))
	copy(calls, p.Calls)
	for i := range calls {
		if strings.TrimSpace(calls[i].ID) == "" {
			calls[i].ID = fmt.Sprintf("%s_%d", prefix, i)
		}
	}
	p.Calls = calls
	t.Payload = p
	return t
}

// PlainText returns the prose carried by the turn, if any.
func (t Turn) PlainText() string {
	switch p := t.Payload.(type) {
	case Text:
		return p.Text
	case Invocations:
		return p.Text
	default:
		return ""
	}
}

// MarshalJSON renders a turn for logs and debugging.
func (t Turn) MarshalJSON() ([]byte, error) {
	out := map[string]any{"role": t.Role}
	switch p := t.Payload.(type) {
	case Text:
		out["text"] = p.Text
	case Invocations:
		if p.Text != "" {
			out["text"] = p.Text
		}
		out["calls"] = p.Calls
	case Observations:
		out["results"] = p.Results
	}
	return json.Marshal(out)
}

// History is the append-only conversation log. It is owned by a single
// goroutine and is not safe for concurrent use.
type History struct {
	turns []Turn
}

// NewHistory starts a history with the initiator's prompt.
func NewHistory(prompt string) *History {
	h := &History{}
	h.Append(NewText(RoleInitiator, prompt))
	return h
}

// Append adds a turn to the end of the history.
func (h *History) Append(t Turn) {
	h.turns = append(h.turns, t)
}

// Turns returns a copy of the history in conversation order.
func (h *History) Turns() []Turn {
	out := make([]Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// Len returns the number of turns.
func (h *History) Len() int {
	return len(h.turns)
}

// Last returns the most recent turn.
func (h *History) Last() (Turn, bool) {
	if len(h.turns) == 0 {
		return Turn{}, false
	}
	return h.turns[len(h.turns)-1], true
}
