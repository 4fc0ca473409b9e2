package starbind

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	startime "go.starlark.net/lib/time"
	"go.starlark.net/resolve"
	"go.starlark.net/starlark"

	"github.com/kview/kview/service"
)

const (
	commandPrefix = "command_"
	cancelKey     = "kv_cancelled"
)

var errCancelled = errors.New("interrupted")

func init() {
	resolve.AllowNestedDef = true
	resolve.AllowLambda = true
	resolve.AllowFloat = true
	resolve.AllowSet = true
	resolve.AllowBitwise = true
	resolve.AllowRecursion = true
	resolve.AllowGlobalReassign = true

	starlark.Universe["time"] = startime.Module
}

// Context is the context in which starlark scripts are evaluated.
type Context interface {
	Client() service.Client
	RegisterCommand(name, helpMsg string, cmdfn func(args string) error)
	CallCommand(cmdstr string) error
	// MaxEvents is the default number of events returned by trace().
	MaxEvents() int
}

// Env evaluates Starlark scripts against a kview client. Values returned
// by the client are wrapped so that exported struct fields are readable
// as attributes.
type Env struct {
	ctx     Context
	out     io.Writer
	globals starlark.StringDict
	doc     map[string]string

	mu      sync.Mutex
	running *starlark.Thread
}

// builtin is a predeclared function implemented in Go. The value it
// returns is converted with interfaceToStarlarkValue.
type builtin struct {
	name  string
	args  string
	descr string
	fn    func(env *Env, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error)
}

var builtins = []builtin{
	{"check_kernel", "()", "fails if the kernel of the target can not be read.",
		func(env *Env, _ starlark.Tuple, _ []starlark.Tuple) (interface{}, error) {
			return nil, env.ctx.Client().CheckKernel()
		}},
	{"threads", "()", "returns the threads of the kernel registry, in registry order.\nThe Fields attribute of a thread is a dict of every field.",
		func(env *Env, _ starlark.Tuple, _ []starlark.Tuple) (interface{}, error) {
			return env.ctx.Client().Threads()
		}},
	{"timers", "()", "returns the armed virtual timers, in firing order.",
		func(env *Env, _ starlark.Tuple, _ []starlark.Tuple) (interface{}, error) {
			return env.ctx.Client().Timers()
		}},
	{"trace", "(Count)", "returns the Count most recent trace events, oldest first.\nWhen Count is omitted the trace-max-events configuration key is used,\na Count of 0 returns the whole buffer.",
		(*Env).trace},
	{"globals", "()", "returns the kernel global state as a dict.",
		func(env *Env, _ starlark.Tuple, _ []starlark.Tuple) (interface{}, error) {
			return env.ctx.Client().Globals()
		}},
	{"stats", "()", "returns the kernel statistics counters.",
		func(env *Env, _ starlark.Tuple, _ []starlark.Tuple) (interface{}, error) {
			return env.ctx.Client().Statistics()
		}},
	{"kv_command", "(Command)", "executes a kview terminal command.",
		(*Env).command},
	{"read_file", "(Path)", "reads a file.",
		readFile},
	{"write_file", "(Path, Text)", "writes text to the specified file.",
		writeFile},
	{"help", "(Object)", "prints help for Object.",
		(*Env).help},
}

// New creates a new starlark binding environment.
func New(ctx Context, out io.Writer) *Env {
	env := &Env{
		ctx:     ctx,
		out:     out,
		globals: make(starlark.StringDict, len(builtins)),
		doc:     make(map[string]string, len(builtins)),
	}
	for _, b := range builtins {
		env.globals[b.name] = env.bind(b)
		env.doc[b.name] = b.name + b.args + "\n\n" + b.name + " " + b.descr
	}
	return env
}

func (env *Env) bind(b builtin) *starlark.Builtin {
	return starlark.NewBuiltin(b.name, func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if cancelled(thread) {
			return starlark.None, decorateError(thread, errCancelled)
		}
		v, err := b.fn(env, args, kwargs)
		if err != nil {
			return starlark.None, decorateError(thread, err)
		}
		return env.interfaceToStarlarkValue(v), nil
	})
}

// Redirect redirects starlark output to out.
func (env *Env) Redirect(out io.Writer) {
	env.out = out
}

// Execute runs the script at path, or source when it is not nil (a string,
// a []byte or an io.Reader). If the script defines a function called
// mainFnName it is then called with args.
func (env *Env) Execute(path string, source interface{}, mainFnName string, args []interface{}) (_ starlark.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic executing starlark script: %v", r)
		}
	}()

	thread := env.newThread()
	globals, err := starlark.ExecFile(thread, path, source, env.globals)
	if err != nil {
		return starlark.None, err
	}
	env.export(globals)

	if mainFnName == "" {
		return starlark.None, nil
	}
	mainval, ok := globals[mainFnName]
	if !ok {
		return starlark.None, nil
	}
	mainfn, ok := mainval.(*starlark.Function)
	if !ok {
		return starlark.None, fmt.Errorf("%s is not a function", mainFnName)
	}
	if mainfn.NumParams() != len(args) {
		return starlark.None, fmt.Errorf("wrong number of arguments for %s", mainFnName)
	}
	argv := make(starlark.Tuple, len(args))
	for i := range args {
		argv[i] = env.interfaceToStarlarkValue(args[i])
	}
	return starlark.Call(thread, mainfn, argv, nil)
}

// export makes capitalized globals visible to later scripts and turns
// command_ functions into terminal commands.
func (env *Env) export(globals starlark.StringDict) {
	for name, val := range globals {
		if cmd := strings.TrimPrefix(name, commandPrefix); cmd != name {
			if fn, ok := val.(*starlark.Function); ok && cmd != "" {
				env.register(cmd, fn)
			}
			continue
		}
		if c := name[0]; c >= 'A' && c <= 'Z' {
			env.globals[name] = val
		}
	}
}

// register makes fn callable as the terminal command name. A function with
// a single parameter called args receives the argument string as is, any
// other function gets the arguments evaluated as a Starlark tuple.
func (env *Env) register(name string, fn *starlark.Function) {
	helpMsg := fn.Doc()
	if helpMsg == "" {
		helpMsg = "user defined"
	}
	raw := false
	if fn.NumParams() == 1 {
		p0, _ := fn.Param(0)
		raw = p0 == "args"
	}
	env.ctx.RegisterCommand(name, helpMsg, func(args string) error {
		thread := env.newThread()
		var argv starlark.Tuple
		switch {
		case raw:
			argv = starlark.Tuple{starlark.String(args)}
		case strings.TrimSpace(args) != "":
			v, err := starlark.Eval(thread, "<input>", "("+args+")", env.globals)
			if err != nil {
				return err
			}
			if t, ok := v.(starlark.Tuple); ok {
				argv = t
			} else {
				argv = starlark.Tuple{v}
			}
		}
		_, err := starlark.Call(thread, fn, argv, nil)
		return err
	})
}

// Cancel stops the script currently running, if any.
func (env *Env) Cancel() {
	if env == nil {
		return
	}
	env.mu.Lock()
	defer env.mu.Unlock()
	if env.running == nil {
		return
	}
	if flag, ok := env.running.Local(cancelKey).(*atomic.Bool); ok {
		flag.Store(true)
	}
	env.running.Cancel("user interrupt")
}

func (env *Env) newThread() *starlark.Thread {
	thread := &starlark.Thread{
		Name:  "kview",
		Print: func(_ *starlark.Thread, msg string) { fmt.Fprintln(env.out, msg) },
	}
	thread.SetLocal(cancelKey, new(atomic.Bool))
	env.mu.Lock()
	env.running = thread
	env.mu.Unlock()
	return thread
}

func cancelled(thread *starlark.Thread) bool {
	flag, ok := thread.Local(cancelKey).(*atomic.Bool)
	return ok && flag.Load()
}

func decorateError(thread *starlark.Thread, err error) error {
	if err == nil {
		return nil
	}
	pos := thread.CallFrame(1).Pos
	if pos.Col > 0 {
		return fmt.Errorf("%s:%d:%d: %w", pos.Filename(), pos.Line, pos.Col, err)
	}
	return fmt.Errorf("%s:%d: %w", pos.Filename(), pos.Line, err)
}

func (env *Env) trace(args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
	count := env.ctx.MaxEvents()
	if len(args) > 1 {
		return nil, fmt.Errorf("wrong number of arguments")
	}
	if len(args) == 1 {
		if err := unmarshalStarlarkValue(args[0], &count, "Count"); err != nil {
			return nil, err
		}
	}
	for _, kv := range kwargs {
		if name, _ := kv[0].(starlark.String); name != "Count" {
			return nil, fmt.Errorf("unknown argument %s", kv[0])
		}
		if err := unmarshalStarlarkValue(kv[1], &count, "Count"); err != nil {
			return nil, err
		}
	}
	if count < 0 {
		return nil, fmt.Errorf("Count must not be negative")
	}
	evs, err := env.ctx.Client().Trace()
	if err != nil {
		return nil, err
	}
	if count > 0 && len(evs) > count {
		evs = evs[len(evs)-count:]
	}
	return evs, nil
}

func (env *Env) command(args starlark.Tuple, _ []starlark.Tuple) (interface{}, error) {
	parts := make([]string, len(args))
	for i, a := range args {
		s, ok := a.(starlark.String)
		if !ok {
			return nil, fmt.Errorf("argument of kv_command is not a string")
		}
		parts[i] = string(s)
	}
	return nil, env.ctx.CallCommand(strings.Join(parts, " "))
}

func readFile(_ *Env, args starlark.Tuple, _ []starlark.Tuple) (interface{}, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("wrong number of arguments")
	}
	path, ok := args[0].(starlark.String)
	if !ok {
		return nil, fmt.Errorf("argument of read_file was not a string")
	}
	buf, err := os.ReadFile(string(path))
	if err != nil {
		return nil, err
	}
	return string(buf), nil
}

func writeFile(_ *Env, args starlark.Tuple, _ []starlark.Tuple) (interface{}, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("wrong number of arguments")
	}
	path, ok := args[0].(starlark.String)
	if !ok {
		return nil, fmt.Errorf("first argument of write_file was not a string")
	}
	text := args[1].String()
	if s, ok := args[1].(starlark.String); ok {
		text = string(s)
	}
	return nil, os.WriteFile(string(path), []byte(text), 0640)
}

func (env *Env) help(args starlark.Tuple, _ []starlark.Tuple) (interface{}, error) {
	switch len(args) {
	case 0:
		names := make([]string, 0, len(env.doc))
		for name := range env.doc {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Fprintln(env.out, "Available builtins:")
		for _, name := range names {
			fmt.Fprintf(env.out, "\t%s\n", name)
		}
	case 1:
		switch x := args[0].(type) {
		case *starlark.Builtin:
			if d, ok := env.doc[x.Name()]; ok {
				fmt.Fprintln(env.out, d)
			} else {
				fmt.Fprintf(env.out, "no help for builtin %s\n", x.Name())
			}
		case *starlark.Function:
			fmt.Fprintf(env.out, "user defined function %s\n", x.Name())
			if d := x.Doc(); d != "" {
				fmt.Fprintln(env.out, d)
			}
		default:
			fmt.Fprintf(env.out, "no help for object of type %s\n", x.Type())
		}
	default:
		return nil, fmt.Errorf("wrong number of arguments")
	}
	return nil, nil
}
