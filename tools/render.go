package tools

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/m4xw311/shellagent/session"
)

// observationContent is the JSON shape the planner sees for a tool result.
// Field order matters to humans reading transcripts, not to the planner.
type observationContent struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode *int   `json:"exitCode"`
	Error    string `json:"error,omitempty"`
}

// Render formats an observation for the planner. Stdout and stderr are cut
// to maxChars each, keeping head and tail; zero means no limit.
func Render(obs session.Observation, maxChars int) string {
	b, err := json.Marshal(observationContent{
		Stdout:   truncate(obs.Stdout, maxChars),
		Stderr:   truncate(obs.Stderr, maxChars),
		ExitCode: obs.ExitCode,
		Error:    obs.Error,
	})
	if err != nil {
		// Strings and an *int always marshal.
		return fmt.Sprintf(`{"error":%q}`, err.Error())
	}
	return string(b)
}

// truncate keeps the first and last runes of s so that at most max runes
// survive. Cuts never split a UTF-8 sequence.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	total := utf8.RuneCountInString(s)
	if total <= max {
		return s
	}
	head := max / 2
	tail := max - head
	marker := fmt.Sprintf("\n\n[WARNING: output truncated, %d characters removed from the middle]\n\n", total-max)
	return s[:runeOffset(s, head)] + marker + s[runeOffset(s, total-tail):]
}

// runeOffset returns the byte index just past the first n runes of s.
func runeOffset(s string, n int) int {
	i := 0
	for ; n > 0 && i < len(s); n-- {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return i
}
