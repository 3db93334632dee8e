package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/m4xw311/shellagent/errors"
	"github.com/m4xw311/shellagent/interpreter"
	"github.com/m4xw311/shellagent/llm"
	"github.com/m4xw311/shellagent/session"
	"github.com/m4xw311/shellagent/tools"
	"go.uber.org/zap"
)

// NextStepPrompt is appended when a planner turn requests no action.
const NextStepPrompt = "What's the next step?"

// State is the position of the loop in its state machine.
type State string

const (
	StateAwaitingPlan State = "AWAITING_PLAN"
	StateDispatching  State = "DISPATCHING"
	StateDone         State = "DONE"
)

// Dispatcher executes invocations and declares the tools it can run.
// *tools.ToolRegistry implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, inv session.Invocation) tools.Outcome
	Declarations() []tools.Declaration
}

// Callbacks let a presenter follow the conversation. Any of them may be nil.
type Callbacks struct {
	OnPlannerText func(text string)
	OnInvocation  func(inv session.Invocation)
	OnObservation func(inv session.Invocation, obs session.Observation)
	OnWarning     func(warning string)
	OnDone        func()
}

// Config wires a Loop.
type Config struct {
	Planner     llm.Planner
	Interpreter interpreter.Interpreter
	Dispatcher  Dispatcher

	SystemPrompt string
	Temperature  float64
	MaxTokens    int
	// MaxTurns caps planner calls. Zero means no cap.
	MaxTurns int
	// AckCompletion appends an observation for the completion call before
	// the loop ends.
	AckCompletion bool

	Callbacks Callbacks
	Logger    *zap.Logger
}

// Loop drives the plan, interpret, dispatch cycle for a single task.
type Loop struct {
	cfg     Config
	logger  *zap.Logger
	history *session.History
	state   State
	turns   int
}

// New validates cfg and returns a Loop ready to Run.
func New(cfg Config) (*Loop, error) {
	if cfg.Planner == nil {
		return nil, errors.Classify(errors.ErrConfig, errors.New("loop needs a planner"))
	}
	if cfg.Interpreter == nil {
		return nil, errors.Classify(errors.ErrConfig, errors.New("loop needs an interpreter"))
	}
	if cfg.Dispatcher == nil {
		return nil, errors.Classify(errors.ErrConfig, errors.New("loop needs a dispatcher"))
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{cfg: cfg, logger: logger, state: StateAwaitingPlan}, nil
}

// Run works on prompt until the planner signals completion. It returns nil on
// completion, an ErrPlanner-classified error when the planner cannot be
// reached, ErrTurnLimit when MaxTurns is exhausted, or the context's error.
func (l *Loop) Run(ctx context.Context, prompt string) error {
	if strings.TrimSpace(prompt) == "" {
		return errors.New("empty prompt")
	}
	l.history = session.NewHistory(prompt)
	l.state = StateAwaitingPlan
	l.turns = 0
	system := l.systemPrompt()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if l.cfg.MaxTurns > 0 && l.turns >= l.cfg.MaxTurns {
			l.logger.Warn("turn limit reached", zap.Int("turn", l.turns))
			return errors.Classify(errors.ErrTurnLimit, errors.New("stopped after %d planner turns", l.turns))
		}

		l.setState(StateAwaitingPlan)
		turn, err := l.plan(ctx, system)
		if err != nil {
			return err
		}

		result := l.cfg.Interpreter.Interpret(turn)
		if result.Text != "" && l.cfg.Callbacks.OnPlannerText != nil {
			l.cfg.Callbacks.OnPlannerText(result.Text)
		}

		if result.Done {
			l.complete(ctx, result.Invocations)
			return nil
		}

		if len(result.Invocations) == 0 {
			l.logger.Debug("no action requested", zap.Int("turn", l.turns))
			l.history.Append(session.NewText(session.RoleInitiator, NextStepPrompt))
			continue
		}

		l.setState(StateDispatching)
		for _, inv := range result.Invocations {
			l.dispatch(ctx, inv)
		}
	}
}

// History returns the conversation so far.
func (l *Loop) History() []session.Turn {
	if l.history == nil {
		return nil
	}
	return l.history.Turns()
}

// State returns the current state.
func (l *Loop) State() State { return l.state }

func (l *Loop) plan(ctx context.Context, system string) (session.Turn, error) {
	req := llm.Request{
		History:     l.history.Turns(),
		System:      system,
		Temperature: l.cfg.Temperature,
		MaxTokens:   l.cfg.MaxTokens,
	}
	if l.cfg.Interpreter.DeclaresTools() {
		req.Tools = l.cfg.Dispatcher.Declarations()
	}

	reply, err := l.cfg.Planner.Plan(ctx, req)
	if err != nil {
		l.logger.Error("planner call failed", zap.Int("turn", l.turns+1), zap.Error(err))
		return session.Turn{}, errors.Classify(errors.ErrPlanner, err)
	}
	l.turns++

	turn := session.NewText(session.RolePlanner, "")
	if reply != nil && reply.Payload != nil {
		turn = session.Turn{Role: session.RolePlanner, Payload: reply.Payload}
	}
	// Observations are correlated by ID, so the stored turn must carry the
	// same IDs the dispatcher will answer with.
	turn = turn.WithCallIDs(fmt.Sprintf("call_t%d", l.turns))
	l.history.Append(turn)
	l.logger.Debug("planner turn", zap.Int("turn", l.turns), zap.Int("history", l.history.Len()))
	return turn, nil
}

func (l *Loop) dispatch(ctx context.Context, inv session.Invocation) {
	if l.cfg.Callbacks.OnInvocation != nil {
		l.cfg.Callbacks.OnInvocation(inv)
	}

	out := l.cfg.Dispatcher.Dispatch(ctx, inv)
	obs := out.Observation
	l.history.Append(session.NewObservation(obs))

	fields := []zap.Field{zap.Int("turn", l.turns), zap.String("call_id", obs.ID), zap.Intp("exit_code", obs.ExitCode)}
	switch {
	case obs.Error != "":
		l.logger.Warn("dispatch failed", append(fields, zap.String("error", obs.Error))...)
		l.warn(obs.Error)
	case obs.ExitCode == nil:
		l.logger.Warn("command killed", fields...)
		l.warn("command was killed before it exited: " + inv.Command)
	default:
		l.logger.Debug("observation appended", fields...)
	}

	if l.cfg.Callbacks.OnObservation != nil {
		l.cfg.Callbacks.OnObservation(inv, obs)
	}
}

// complete ends the conversation. Run-command invocations that came in the
// same turn as the completion signal are not executed.
func (l *Loop) complete(ctx context.Context, invocations []session.Invocation) {
	skipped := 0
	for _, inv := range invocations {
		switch inv.Kind {
		case session.KindSignalCompletion:
			if l.cfg.AckCompletion {
				out := l.cfg.Dispatcher.Dispatch(ctx, inv)
				l.history.Append(session.NewObservation(out.Observation))
			}
		case session.KindRunCommand:
			skipped++
		}
	}
	if skipped > 0 {
		l.warn("task finished; ignoring commands issued alongside the completion signal")
	}
	l.setState(StateDone)
	l.logger.Info("task finished", zap.Int("turn", l.turns), zap.Int("skipped", skipped))
	if l.cfg.Callbacks.OnDone != nil {
		l.cfg.Callbacks.OnDone()
	}
}

func (l *Loop) systemPrompt() string {
	parts := make([]string, 0, 2)
	if s := strings.TrimSpace(l.cfg.SystemPrompt); s != "" {
		parts = append(parts, s)
	}
	if s := l.cfg.Interpreter.Instructions(); s != "" {
		parts = append(parts, s)
	}
	return strings.Join(parts, "\n\n")
}

func (l *Loop) setState(s State) {
	if l.state != s {
		l.logger.Debug("state change", zap.String("from", string(l.state)), zap.String("to", string(s)))
	}
	l.state = s
}

func (l *Loop) warn(msg string) {
	if l.cfg.Callbacks.OnWarning != nil {
		l.cfg.Callbacks.OnWarning(msg)
	}
}
