package command

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/burrowq/burrow/pkg/agent"
	"github.com/burrowq/burrow/pkg/errors"
	"github.com/burrowq/burrow/pkg/lease"
	"github.com/burrowq/burrow/pkg/log"
	"github.com/burrowq/burrow/pkg/metrics"
	"github.com/burrowq/burrow/pkg/project"
	"github.com/burrowq/burrow/pkg/reaper"
	"github.com/burrowq/burrow/pkg/storage"
	"github.com/burrowq/burrow/pkg/task"
	"github.com/burrowq/burrow/pkg/tasktype"
)

// ParamType enumerates the wire types a parameter accepts
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeArray   ParamType = "array"
)

// Param declares one parameter of a command's schema
type Param struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Required    bool      `json:"required,omitempty"`
	Positional  bool      `json:"positional,omitempty"`
	Default     any       `json:"default,omitempty"`
	Choices     []string  `json:"choices,omitempty"`
	Alias       string    `json:"alias,omitempty"`
	Description string    `json:"description,omitempty"`
}

// Result is the uniform command outcome rendered by every shell
type Result struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
	AgentName string `json:"agent_name,omitempty"`
}

// Context bundles the services handlers operate on
type Context struct {
	Store     storage.Store
	Projects  *project.Service
	TaskTypes *tasktype.Service
	Tasks     *task.Service
	Leases    *lease.Engine
	Agents    *agent.View
	Reapers   *reaper.Manager
}

// Args is the coerced argument map a handler receives
type Args map[string]any

// String returns a string argument, empty when absent
func (a Args) String(name string) string {
	v, _ := a[name].(string)
	return v
}

// Int returns a numeric argument truncated to int, 0 when absent
func (a Args) Int(name string) int {
	switch v := a[name].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// Float returns a numeric argument, 0 when absent
func (a Args) Float(name string) float64 {
	switch v := a[name].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

// Bool returns a boolean argument, false when absent
func (a Args) Bool(name string) bool {
	v, _ := a[name].(bool)
	return v
}

// Strings returns an array argument, nil when absent
func (a Args) Strings(name string) []string {
	v, _ := a[name].([]string)
	return v
}

// Has reports whether the argument was supplied or defaulted
func (a Args) Has(name string) bool {
	_, ok := a[name]
	return ok
}

// IntPtr returns a pointer to the numeric argument, nil when absent
func (a Args) IntPtr(name string) *int {
	if !a.Has(name) {
		return nil
	}
	v := a.Int(name)
	return &v
}

// StringPtr returns a pointer to the string argument, nil when absent
func (a Args) StringPtr(name string) *string {
	if !a.Has(name) {
		return nil
	}
	v := a.String(name)
	return &v
}

// Handler executes a command against the service bundle
type Handler func(ctx *Context, args Args) (*Result, error)

// Command couples a name, a parameter schema and a handler
type Command struct {
	Name        string
	Description string
	Params      []Param
	Handler     Handler
}

// Registry holds the command set and dispatches by name
type Registry struct {
	commands map[string]*Command
	order    []string
	logger   zerolog.Logger
}

// NewRegistry creates a registry preloaded with the full command set
func NewRegistry() *Registry {
	r := &Registry{
		commands: make(map[string]*Command),
		logger:   log.WithComponent("command"),
	}
	registerAll(r)
	return r
}

// Register adds a command; duplicate names panic at startup
func (r *Registry) Register(cmd *Command) {
	if _, ok := r.commands[cmd.Name]; ok {
		panic(fmt.Sprintf("command %s registered twice", cmd.Name))
	}
	r.commands[cmd.Name] = cmd
	r.order = append(r.order, cmd.Name)
}

// Get returns a command by name
func (r *Registry) Get(name string) (*Command, bool) {
	cmd, ok := r.commands[name]
	return cmd, ok
}

// List returns all commands in registration order
func (r *Registry) List() []*Command {
	cmds := make([]*Command, 0, len(r.order))
	for _, name := range r.order {
		cmds = append(cmds, r.commands[name])
	}
	return cmds
}

// Names returns all command names, sorted
func (r *Registry) Names() []string {
	names := append([]string(nil), r.order...)
	sort.Strings(names)
	return names
}

// Dispatch normalizes raw arguments against the command's schema, runs
// the handler and maps any error into a failed Result. It never returns
// a nil Result.
func (r *Registry) Dispatch(ctx *Context, name string, raw map[string]any) *Result {
	start := time.Now()
	res := r.dispatch(ctx, name, raw)
	metrics.CommandDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

	outcome := "ok"
	if !res.Success {
		outcome = "error"
		r.logger.Warn().
			Str("command", name).
			Str("kind", res.ErrorKind).
			Str("error", res.Error).
			Msg("Command failed")
	}
	metrics.CommandsTotal.WithLabelValues(name, outcome).Inc()
	return res
}

func (r *Registry) dispatch(ctx *Context, name string, raw map[string]any) *Result {
	cmd, ok := r.commands[name]
	if !ok {
		return Fail(errors.NotFoundf("unknown command: %s", name))
	}
	args, err := normalize(cmd.Params, raw)
	if err != nil {
		return Fail(err)
	}
	res, err := cmd.Handler(ctx, args)
	if err != nil {
		return Fail(err)
	}
	if res == nil {
		res = &Result{Success: true}
	}
	return res
}

// Fail maps a classified error into a failed Result
func Fail(err error) *Result {
	return &Result{
		Success:   false,
		Error:     err.Error(),
		ErrorKind: string(errors.KindOf(err)),
	}
}

// OK builds a successful Result carrying data
func OK(data any) *Result {
	return &Result{Success: true, Data: data}
}

// OKMessage builds a successful Result carrying data and a display message
func OKMessage(data any, format string, args ...any) *Result {
	return &Result{Success: true, Data: data, Message: fmt.Sprintf(format, args...)}
}

// normalize applies aliases, defaults, required checks, choices and
// type coercion to a raw argument map
func normalize(params []Param, raw map[string]any) (Args, error) {
	args := Args{}
	for _, p := range params {
		v, ok := raw[p.Name]
		if !ok && p.Alias != "" {
			v, ok = raw[p.Alias]
		}
		if !ok || v == nil {
			if p.Default != nil {
				args[p.Name] = p.Default
				continue
			}
			if p.Required {
				return nil, errors.Validationf("%s is required", p.Name).WithField(p.Name, "required")
			}
			continue
		}

		coerced, err := coerce(p, v)
		if err != nil {
			return nil, err
		}
		if len(p.Choices) > 0 {
			s, _ := coerced.(string)
			valid := false
			for _, c := range p.Choices {
				if s == c {
					valid = true
					break
				}
			}
			if !valid {
				return nil, errors.Validationf("%s must be one of %s, got %q",
					p.Name, strings.Join(p.Choices, ", "), s).WithField(p.Name, "invalid choice")
			}
		}
		args[p.Name] = coerced
	}
	return args, nil
}

// coerce converts a raw value into the parameter's declared type.
// Shells deliver strings (CLI) or JSON values (HTTP); both are accepted.
func coerce(p Param, v any) (any, error) {
	switch p.Type {
	case TypeString:
		switch t := v.(type) {
		case string:
			return t, nil
		default:
			return fmt.Sprint(t), nil
		}
	case TypeNumber:
		switch t := v.(type) {
		case float64:
			return t, nil
		case int:
			return float64(t), nil
		case int64:
			return float64(t), nil
		case json.Number:
			f, err := t.Float64()
			if err != nil {
				return nil, errors.Validationf("%s must be a number", p.Name).WithField(p.Name, "not a number")
			}
			return f, nil
		case string:
			f, err := strconv.ParseFloat(t, 64)
			if err != nil {
				return nil, errors.Validationf("%s must be a number, got %q", p.Name, t).WithField(p.Name, "not a number")
			}
			return f, nil
		}
	case TypeBoolean:
		switch t := v.(type) {
		case bool:
			return t, nil
		case string:
			b, err := strconv.ParseBool(t)
			if err != nil {
				return nil, errors.Validationf("%s must be a boolean, got %q", p.Name, t).WithField(p.Name, "not a boolean")
			}
			return b, nil
		}
	case TypeArray:
		switch t := v.(type) {
		case []string:
			return t, nil
		case []any:
			out := make([]string, 0, len(t))
			for _, e := range t {
				out = append(out, fmt.Sprint(e))
			}
			return out, nil
		case string:
			if t == "" {
				return []string(nil), nil
			}
			parts := strings.Split(t, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			return parts, nil
		}
	}
	return nil, errors.Validationf("%s has unsupported value type %T", p.Name, v).WithField(p.Name, "bad type")
}
