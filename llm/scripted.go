package llm

import (
	"context"
	"sync"

	"github.com/m4xw311/shellagent/errors"
	"github.com/m4xw311/shellagent/session"
	"github.com/m4xw311/shellagent/tools"
)

// Scripted is a planner that replays queued turns in order and records every
// request it receives.
type Scripted struct {
	mu       sync.Mutex
	turns    []session.Turn
	errs     map[int]error
	requests []Request
	// Fallback is returned once the queue is empty. Without it an exhausted
	// script is an error.
	Fallback *session.Turn
}

// NewScripted returns a planner that answers with turns, in order.
func NewScripted(turns ...session.Turn) *Scripted {
	return &Scripted{turns: turns, errs: make(map[int]error)}
}

// FailAt makes the call with the given zero-based index return err instead
// of a turn.
func (s *Scripted) FailAt(call int, err error) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[call] = err
	return s
}

func (s *Scripted) Plan(ctx context.Context, req Request) (*session.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	call := len(s.requests)
	req.History = append([]session.Turn(nil), req.History...)
	s.requests = append(s.requests, req)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err, ok := s.errs[call]; ok {
		return nil, err
	}
	if len(s.turns) == 0 {
		if s.Fallback != nil {
			t := *s.Fallback
			return &t, nil
		}
		return nil, errors.New("scripted planner exhausted after %d calls", call)
	}
	t := s.turns[0]
	s.turns = s.turns[1:]
	return &t, nil
}

// Requests returns the requests seen so far.
func (s *Scripted) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// NewMockPlanner returns a planner that ends every conversation on its first
// call. The reply carries both the completion tool call and the default text
// sentinel so either interpreter stops.
func NewMockPlanner() *Scripted {
	s := NewScripted()
	s.Fallback = &session.Turn{
		Role: session.RolePlanner,
		Payload: session.Invocations{
			Text:  "Nothing to do. **TASK FINISHED**",
			Calls: []session.Invocation{{ID: "mock_finished", Name: tools.FinishedName, Args: map[string]any{}}},
		},
	}
	return s
}
