// Package agent runs the conversation loop that turns a task prompt into a
// sequence of shell commands.
//
// A Loop owns the conversation history for one task. Each iteration sends the
// whole history to the planner, interprets the reply and either finishes,
// runs the requested commands, or nudges the planner for its next step.
//
// # States
//
//   - StateAwaitingPlan: one planner call is outstanding.
//   - StateDispatching: the invocations of the last planner turn run one
//     after another. Each observation is appended in invocation order
//     before the next planner call.
//   - StateDone: the planner signalled completion. No further planner call
//     is made.
//
// # Collaborators
//
// The loop is built from three injected parts so that it never branches on
// the planner protocol:
//
//   - llm.Planner produces turns.
//   - interpreter.Interpreter extracts invocations and completion from a
//     turn. Its instructions are appended to the system prompt.
//   - Dispatcher executes invocations, normally a *tools.ToolRegistry.
//
// # Errors
//
// Spawn failures, timeouts, unknown tools and turns without a command are
// fed back to the planner and never end the loop. Run returns an error only
// when the planner cannot be reached (classified as errors.ErrPlanner), when
// MaxTurns is exhausted (errors.ErrTurnLimit) or when the context ends.
//
// # Usage
//
//	loop, err := agent.New(agent.Config{
//	    Planner:     planner,
//	    Interpreter: interpreter.NewStructured(registry.KindOf),
//	    Dispatcher:  registry,
//	    Temperature: 0.5,
//	    MaxTokens:   4000,
//	    Callbacks:   term.Callbacks(),
//	})
//	if err != nil {
//	    // handle error
//	}
//	err = loop.Run(ctx, "create a hello world python script")
//
// # Subpackages
//
// agent/terminal renders loop events on the console.
package agent
