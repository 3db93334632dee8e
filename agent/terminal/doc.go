// Package terminal renders the events of an agent loop on the console.
//
// The loop reports planner prose, each command it is about to run, each
// command's outcome, warnings and completion through agent.Callbacks.
// Terminal implements those callbacks with lipgloss styling. The commands'
// own stdout and stderr are not printed here; the process runner echoes them
// live while the command runs.
//
// # Usage
//
//	term := terminal.New(os.Stdout, terminal.VerbosityInfo)
//	loop, err := agent.New(agent.Config{
//	    // ...
//	    Callbacks: term.Callbacks(),
//	})
//
// # Verbosity Levels
//
//   - VerbosityNone: only planner text, warnings and completion.
//   - VerbosityInfo: also each command line and its exit status.
//   - VerbosityAll: also stdin and the JSON observation sent to the planner.
package terminal
