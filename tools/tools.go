package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/m4xw311/shellagent/errors"
	"github.com/m4xw311/shellagent/session"
	"github.com/oklog/ulid/v2"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"
)

// Tool defines the interface for any action the agent can take.
type Tool interface {
	Name() string
	Description() string
	// Parameters is the JSON Schema of the tool's arguments.
	Parameters() map[string]any
	Kind() session.Kind
	Execute(ctx context.Context, inv session.Invocation) Outcome
}

// Outcome is what dispatching an invocation produced. Terminal is set when
// the invocation asked the loop to stop.
type Outcome struct {
	Observation session.Observation
	Terminal    bool
}

// Declaration is the provider-neutral description of a tool.
type Declaration struct {
	Name        string
	Description string
	Parameters  map[string]any
}

type registeredTool struct {
	tool   Tool
	schema *jsonschema.Schema
}

// ToolRegistry holds all available tools and dispatches invocations to them.
type ToolRegistry struct {
	tools          map[string]registeredTool
	order          []string
	maxOutputChars int
	logger         *zap.Logger
}

// Options configure the default registry.
type Options struct {
	Runner         CommandRunner
	CommandTimeout time.Duration
	// MaxOutputChars caps stdout and stderr in the content shown to the
	// planner. Zero disables truncation.
	MaxOutputChars int
	Logger         *zap.Logger
}

// NewToolRegistry registers the shell command and completion tools.
func NewToolRegistry(opts Options) (*ToolRegistry, error) {
	if opts.Runner == nil {
		return nil, errors.New("tool registry needs a command runner")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &ToolRegistry{
		tools:          make(map[string]registeredTool),
		maxOutputChars: opts.MaxOutputChars,
		logger:         logger,
	}
	if err := r.Register(NewShellCommandTool(opts.Runner, opts.CommandTimeout)); err != nil {
		return nil, err
	}
	if err := r.Register(&FinishedTool{}); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *ToolRegistry) Register(t Tool) error {
	if t.Kind() == session.KindUnknown {
		return errors.New("tool '%s' has no kind", t.Name())
	}
	schema, err := compileSchema(t.Name(), t.Parameters())
	if err != nil {
		return errors.Wrapf(err, "tool '%s' schema", t.Name())
	}
	if _, exists := r.tools[t.Name()]; !exists {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = registeredTool{tool: t, schema: schema}
	return nil
}

func (r *ToolRegistry) GetTool(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t.tool, ok
}

// KindOf maps a tool name as spelled by the planner to an invocation kind.
func (r *ToolRegistry) KindOf(name string) session.Kind {
	if t, ok := r.tools[name]; ok {
		return t.tool.Kind()
	}
	return session.KindUnknown
}

// Declarations lists the registered tools in registration order.
func (r *ToolRegistry) Declarations() []Declaration {
	out := make([]Declaration, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name].tool
		out = append(out, Declaration{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return out
}

// Dispatch runs one invocation. It never fails: unknown tools and invalid
// arguments come back as error observations carrying the invocation's ID.
func (r *ToolRegistry) Dispatch(ctx context.Context, inv session.Invocation) Outcome {
	if strings.TrimSpace(inv.ID) == "" {
		inv.ID = "call_" + ulid.Make().String()
	}
	logger := r.logger.With(zap.String("call_id", inv.ID), zap.String("tool", inv.Name))

	reg, ok := r.lookup(inv)
	if !ok {
		logger.Warn("unknown tool requested")
		return r.finish(inv, Outcome{Observation: session.Observation{
			Error: fmt.Sprintf("unknown tool: %s", inv.Name),
		}})
	}

	if inv.Source == session.SourceStructured {
		if err := validateArgs(reg.schema, inv.Args); err != nil {
			logger.Warn("invalid tool arguments", zap.Error(err))
			return r.finish(inv, Outcome{Observation: session.Observation{
				Error: fmt.Sprintf("invalid arguments for tool %s: %v", reg.tool.Name(), err),
			}})
		}
	}

	out := reg.tool.Execute(ctx, inv)
	logger.Debug("tool executed", zap.Bool("terminal", out.Terminal), zap.Intp("exit_code", out.Observation.ExitCode))
	return r.finish(inv, out)
}

func (r *ToolRegistry) lookup(inv session.Invocation) (registeredTool, bool) {
	if inv.Kind == session.KindUnknown {
		return registeredTool{}, false
	}
	if t, ok := r.tools[inv.Name]; ok && t.tool.Kind() == inv.Kind {
		return t, true
	}
	// Free-text invocations carry a kind but no tool name.
	for _, name := range r.order {
		if t := r.tools[name]; t.tool.Kind() == inv.Kind {
			return t, true
		}
	}
	return registeredTool{}, false
}

func (r *ToolRegistry) finish(inv session.Invocation, out Outcome) Outcome {
	out.Observation.ID = inv.ID
	out.Observation.Source = inv.Source
	if out.Observation.Content == "" {
		out.Observation.Content = Render(out.Observation, r.maxOutputChars)
	}
	return out
}

func compileSchema(name string, params map[string]any) (*jsonschema.Schema, error) {
	if params == nil {
		params = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	b, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	url := name + ".schema.json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, strings.NewReader(string(b))); err != nil {
		return nil, err
	}
	return c.Compile(url)
}

// validateArgs checks args against schema. Args are round-tripped through
// JSON first so values built by SDKs (ints, typed maps) match what the
// validator expects.
func validateArgs(schema *jsonschema.Schema, args map[string]any) error {
	if args == nil {
		args = map[string]any{}
	}
	b, err := json.Marshal(args)
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	return schema.Validate(v)
}
