package interpreter

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/m4xw311/shellagent/session"
)

const (
	ReasoningMarker = "REASONING:"
	CommandMarker   = "COMMAND:"
	StdinMarker     = "STDIN:"
)

// FreeText interprets the marker-based text protocol.
type FreeText struct {
	sentinel string
}

// NewFreeText returns a free-text interpreter that ends the loop when
// sentinel appears anywhere in a planner turn.
func NewFreeText(sentinel string) *FreeText {
	return &FreeText{sentinel: sentinel}
}

func (f *FreeText) DeclaresTools() bool { return false }

func (f *FreeText) Instructions() string {
	return fmt.Sprintf(`Reply in exactly this format:

%s <why you are running the next command>
%s <a single shell command>
%s <optional input for the command, may span several lines>

Run one command per reply. You will receive its stdout, stderr and exit code.
When the task is complete, reply with %s instead of a command.`,
		ReasoningMarker, CommandMarker, StdinMarker, f.sentinel)
}

func (f *FreeText) Interpret(turn session.Turn) Interpretation {
	text := turn.PlainText()
	out := Interpretation{Text: text}
	if f.sentinel != "" && strings.Contains(text, f.sentinel) {
		out.Done = true
		return out
	}
	if inv, ok := ParseCommand(text); ok {
		out.Invocations = []session.Invocation{inv}
	}
	return out
}

// ParseCommand extracts the command and optional stdin from text. The
// command is everything between the first COMMAND: marker and the next
// STDIN: marker or the end of text. A missing marker or an empty command is
// not an error; it means no action was requested.
func ParseCommand(text string) (session.Invocation, bool) {
	start := strings.Index(text, CommandMarker)
	if start < 0 {
		return session.Invocation{}, false
	}
	rest := text[start+len(CommandMarker):]

	var stdin *string
	if end := strings.Index(rest, StdinMarker); end >= 0 {
		in := strings.TrimRight(trimLeadingNewline(rest[end+len(StdinMarker):]), " \t\r\n")
		stdin = &in
		rest = rest[:end]
	}

	command := strings.TrimSpace(rest)
	if command == "" {
		return session.Invocation{}, false
	}
	return session.Invocation{
		ID:      textCallID(text),
		Kind:    session.KindRunCommand,
		Command: command,
		Stdin:   stdin,
		Source:  session.SourceText,
	}, true
}

// ParseReasoning returns the REASONING: section, if present.
func ParseReasoning(text string) string {
	start := strings.Index(text, ReasoningMarker)
	if start < 0 {
		return ""
	}
	rest := text[start+len(ReasoningMarker):]
	if end := strings.Index(rest, CommandMarker); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

// trimLeadingNewline drops the space and line break that follow a marker,
// keeping any indentation on the first line of input.
func trimLeadingNewline(s string) string {
	s = strings.TrimLeft(s, " \t")
	s = strings.TrimPrefix(s, "\r")
	return strings.TrimPrefix(s, "\n")
}

// textCallID derives a stable ID from the turn text.
func textCallID(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "text_" + hex.EncodeToString(sum[:8])
}
