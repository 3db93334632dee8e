// Package interpreter turns planner turns into tool invocations.
//
// Two strategies exist. Structured reads typed invocation blocks produced by
// a planner that supports tool calling. FreeText reads a line-oriented
// REASONING/COMMAND/STDIN protocol out of prose and detects completion by a
// sentinel substring. The strategy is chosen once, when the loop is built;
// the loop itself never branches on it.
//
// Interpret is a pure function of the turn: the same turn always yields the
// same Interpretation, including synthesized invocation IDs.
package interpreter

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/m4xw311/shellagent/session"
)

// Interpretation is what a single planner turn asks for.
type Interpretation struct {
	// Text is the prose to surface to the user.
	Text        string
	Invocations []session.Invocation
	// Done is set when the turn carries a completion signal.
	Done bool
}

// Interpreter extracts invocations from planner turns.
type Interpreter interface {
	Interpret(turn session.Turn) Interpretation
	// Instructions is appended to the system prompt.
	Instructions() string
	// DeclaresTools reports whether the planner should be sent tool schemas.
	DeclaresTools() bool
}

// KindResolver maps a tool name to an invocation kind.
type KindResolver func(name string) session.Kind

// Structured interprets typed invocation blocks.
type Structured struct {
	resolve KindResolver
}

// NewStructured returns a structured interpreter using resolve to classify
// tool names.
func NewStructured(resolve KindResolver) *Structured {
	return &Structured{resolve: resolve}
}

func (s *Structured) DeclaresTools() bool { return true }

func (s *Structured) Instructions() string {
	return "Use the provided tools to complete the user's task.\n" +
		"When the task is complete, call the finished tool to indicate completion."
}

func (s *Structured) Interpret(turn session.Turn) Interpretation {
	switch p := turn.Payload.(type) {
	case session.Invocations:
		out := Interpretation{Text: p.Text}
		for _, call := range p.Calls {
			inv := s.classify(call)
			if inv.Kind == session.KindSignalCompletion {
				out.Done = true
			}
			out.Invocations = append(out.Invocations, inv)
		}
		return out
	case session.Text:
		return Interpretation{Text: p.Text}
	default:
		return Interpretation{}
	}
}

// classify fills kind and kind-specific parameters from the block's name and
// arguments. The input is copied, never modified. A block without an ID gets
// one derived from its position and content.
func (s *Structured) classify(call session.Invocation, pos int) session.Invocation {
	inv := call
	inv.Source = session.SourceStructured
	if strings.TrimSpace(inv.ID) == "" {
		inv.ID = structuredCallID(call, pos)
	}
	inv.Kind = session.KindUnknown
	if s.resolve != nil {
		inv.Kind = s.resolve(call.Name)
	}
	if inv.Kind == session.KindRunCommand {
		if cmd, ok := call.Args["command"].(string); ok {
			inv.Command = cmd
		}
		if in, ok := call.Args["stdin"].(string); ok {
			inv.Stdin = &in
		}
	}
	return inv
}

// structuredCallID hashes a block's position, name and arguments. Map keys
// marshal in sorted order, so equal blocks get equal IDs.
func structuredCallID(call session.Invocation, pos int) string {
	args, _ := json.Marshal(call.Args)
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d\x00%s\x00%s", pos, call.Name, args)))
	return "call_" + hex.EncodeToString(sum[:8])
}
