package starbind

import (
	"errors"
	"fmt"
	"io"

	"github.com/go-delve/liner"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

const (
	replPrompt   = ">>> "
	replContinue = "... "
	replExit     = "exit"
)

// REPL evaluates Starlark typed at the terminal until exit or end of
// input. Globals defined at the prompt are exported like those of a
// script when it returns.
func (env *Env) REPL() error {
	rl := liner.NewLiner()
	defer rl.Close()
	return env.repl(rl)
}

// lineReader is the part of liner.State used by the REPL.
type lineReader interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
}

func (env *Env) repl(rl lineReader) error {
	thread := env.newThread()
	scope := make(starlark.StringDict, len(env.globals))
	for k, v := range env.globals {
		scope[k] = v
	}

	fmt.Fprintln(env.out, "Starlark interpreter, type help() for the list of builtins and exit to leave.")
	for !cancelled(thread) {
		rd := &chunkReader{rl: rl, out: env.out, prompt: replPrompt}
		f, err := syntax.ParseCompoundStmt("<stdin>", rd.readLine)
		if rd.err == io.EOF {
			break
		}
		if rd.err != nil {
			return rd.err
		}
		if err != nil {
			printError(env.out, err)
			continue
		}
		env.evalChunk(thread, scope, f)
		flush(env.out)
	}
	fmt.Fprintln(env.out)
	env.export(scope)
	return nil
}

// chunkReader feeds terminal lines to the parser, one statement at a
// time. Lines after the first are read with the continuation prompt.
type chunkReader struct {
	rl     lineReader
	out    io.Writer
	prompt string
	err    error
}

func (rd *chunkReader) readLine() ([]byte, error) {
	line, err := rd.rl.Prompt(rd.prompt)
	if err != nil {
		rd.err = err
		return nil, err
	}
	echo(rd.out, rd.prompt+line+"\n")
	if line == replExit && rd.prompt == replPrompt {
		rd.err = io.EOF
		return nil, io.EOF
	}
	rd.rl.AppendHistory(line)
	rd.prompt = replContinue
	return []byte(line + "\n"), nil
}

// evalChunk runs one statement read at the prompt and prints the value of
// a bare expression. Errors are printed, not returned.
func (env *Env) evalChunk(thread *starlark.Thread, scope starlark.StringDict, f *syntax.File) {
	if len(f.Stmts) == 1 {
		if stmt, ok := f.Stmts[0].(*syntax.ExprStmt); ok {
			v, err := starlark.EvalExpr(thread, stmt.X, scope)
			switch {
			case err != nil:
				printError(env.out, err)
			case v != starlark.None:
				fmt.Fprintln(env.out, v)
			}
			return
		}
	}
	prog, err := starlark.FileProgram(f, scope.Has)
	if err != nil {
		printError(env.out, err)
		return
	}
	res, err := prog.Init(thread, scope)
	if err != nil {
		printError(env.out, err)
	}
	for k, v := range res {
		scope[k] = v
	}
}

func printError(out io.Writer, err error) {
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		fmt.Fprintln(out, evalErr.Backtrace())
		return
	}
	fmt.Fprintln(out, err)
}

// echo copies s to the transcript kept by out, if any.
func echo(out io.Writer, s string) {
	if e, ok := out.(interface{ Echo(string) }); ok {
		e.Echo(s)
	}
}

func flush(out io.Writer) {
	if f, ok := out.(interface{ Flush() }); ok {
		f.Flush()
	}
}
