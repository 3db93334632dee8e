package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/m4xw311/shellagent/agent"
	"github.com/m4xw311/shellagent/agent/terminal"
	"github.com/m4xw311/shellagent/config"
	"github.com/m4xw311/shellagent/errors"
	"github.com/m4xw311/shellagent/interpreter"
	"github.com/m4xw311/shellagent/llm"
	"github.com/m4xw311/shellagent/process"
	"github.com/m4xw311/shellagent/tools"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type options struct {
	configPath string
	llm        string
	model      string
	protocol   string
	timeout    time.Duration
	maxTurns   int
	verbose    bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "shellagent [prompt...]",
		Short: "Let a language model complete a task by running shell commands",
		Long: `shellagent sends a task to a language model and runs the shell commands it
asks for, feeding their output back until the model reports the task done.

Commands run through the shell with your permissions. There is no sandbox.

Examples:
  shellagent "create a hello world python script and run it"
  shellagent --llm openai --model gpt-4o "how much disk space is free?"
  shellagent --protocol freetext "list the largest files here"`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.TrimSpace(strings.Join(args, " "))
			if prompt == "" {
				return errors.New("please provide a prompt, e.g. shellagent \"list files\"")
			}
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, opts.verbose, prompt, stdout, stderr)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "", "Path to an additional config file")
	f.StringVar(&opts.llm, "llm", "", "LLM provider: anthropic, openai, gemini, bedrock or mock")
	f.StringVarP(&opts.model, "model", "m", "", "Model name")
	f.StringVarP(&opts.protocol, "protocol", "p", "", "Planner protocol: structured or freetext")
	f.DurationVarP(&opts.timeout, "timeout", "t", 0, "Per-command timeout, e.g. 30s")
	f.IntVar(&opts.maxTurns, "max-turns", 0, "Stop after this many planner turns (0 = no limit)")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable verbose output")
	return cmd
}

// loadConfig layers the command-line flags over the config files.
func loadConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}
	f := cmd.Flags()
	if f.Changed("llm") {
		cfg.LLMClient = opts.llm
	}
	if f.Changed("model") {
		cfg.Model = opts.model
	}
	if f.Changed("protocol") {
		cfg.Protocol = config.Protocol(opts.protocol)
	}
	if f.Changed("timeout") {
		cfg.CommandTimeoutMS = int(opts.timeout / time.Millisecond)
	}
	if f.Changed("max-turns") {
		cfg.MaxTurns = opts.maxTurns
	}
	return cfg, cfg.Validate()
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return zc.Build()
}

func run(ctx context.Context, cfg *config.Config, verbose bool, prompt string, stdout, stderr io.Writer) error {
	logger, err := newLogger(verbose)
	if err != nil {
		return errors.Wrapf(err, "failed to create logger")
	}
	defer func() { _ = logger.Sync() }()

	planner, err := llm.New(ctx, cfg.LLMClient, cfg.Model)
	if err != nil {
		return errors.Wrapf(err, "error initializing %s planner", cfg.LLMClient)
	}

	runner := process.NewRunner(stdout, stderr, logger)
	if cfg.Shell != "" {
		runner.Shell = cfg.Shell
	}
	registry, err := tools.NewToolRegistry(tools.Options{
		Runner:         runner,
		CommandTimeout: cfg.CommandTimeout(),
		MaxOutputChars: cfg.MaxOutputChars,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	var interp interpreter.Interpreter
	switch cfg.Protocol {
	case config.ProtocolFreeText:
		interp = interpreter.NewFreeText(cfg.CompletionSentinel)
	default:
		interp = interpreter.NewStructured(registry.KindOf)
	}

	verbosity := terminal.VerbosityInfo
	if verbose {
		verbosity = terminal.VerbosityAll
	}
	term := terminal.New(stdout, verbosity)

	loop, err := agent.New(agent.Config{
		Planner:       planner,
		Interpreter:   interp,
		Dispatcher:    registry,
		SystemPrompt:  cfg.SystemPrompt,
		Temperature:   cfg.SamplingTemperature(),
		MaxTokens:     cfg.MaxTokens,
		MaxTurns:      cfg.MaxTurns,
		AckCompletion: cfg.AckCompletion,
		Callbacks:     term.Callbacks(),
		Logger:        logger.With(zap.String("llm", cfg.LLMClient), zap.String("model", cfg.Model)),
	})
	if err != nil {
		return err
	}
	return loop.Run(ctx, prompt)
}
