package terminal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/go-delve/liner"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/kview/kview/pkg/config"
	"github.com/kview/kview/pkg/kernel"
	"github.com/kview/kview/pkg/terminal/starbind"
	"github.com/kview/kview/service"
)

const (
	historyFile                 string = ".kview_history"
	terminalHighlightEscapeCode string = "\033[%2dm"
	terminalResetEscapeCode     string = "\033[0m"
)

const (
	ansiRed     = 31
	ansiGreen   = 32
	ansiYellow  = 33
	ansiCyan    = 36
	ansiDefault = 39
	ansiBrBlack = 90
)

// Term represents the terminal running kview.
type Term struct {
	client   service.Client
	conf     *config.Config
	prompt   string
	line     *liner.State
	cmds     *Commands
	colors   bool
	stdout   *transcriptWriter
	InitFile string

	starlarkEnv *starbind.Env

	quittingMutex sync.Mutex
	quitting      bool
}

// New returns a new Term.
func New(client service.Client, conf *config.Config) *Term {
	cmds := DebugCommands(client)
	if conf == nil {
		conf = &config.Config{}
	}
	if conf.Aliases != nil {
		cmds.Merge(conf.Aliases)
	}

	colors := wantColors(conf)
	var w io.Writer = os.Stdout
	if colors {
		w = colorable.NewColorableStdout()
	}
	pw := &pagingWriter{w: w}
	if conf.Pager != nil && !*conf.Pager {
		pw.disabled = true
	}

	t := &Term{
		client: client,
		conf:   conf,
		prompt: "(kview) ",
		line:   liner.NewLiner(),
		cmds:   cmds,
		colors: colors,
		stdout: &transcriptWriter{pw: pw},
	}
	t.starlarkEnv = starbind.New(starlarkContext{t}, t.stdout)
	return t
}

func wantColors(conf *config.Config) bool {
	if conf.Color != nil {
		return *conf.Color
	}
	if strings.ToLower(os.Getenv("TERM")) == "dumb" {
		return false
	}
	return isatty.IsTerminal(os.Stdout.Fd())
}

// Close returns the terminal to its previous mode.
func (t *Term) Close() {
	t.line.Close()
}

func (t *Term) sigintGuard(ch <-chan os.Signal) {
	for range ch {
		t.starlarkEnv.Cancel()
		fmt.Fprintf(os.Stderr, "received SIGINT, interrupting current command\n")
	}
}

// Run begins running kview in the terminal.
func (t *Term) Run() (int, error) {
	defer t.Close()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT)
	defer signal.Stop(ch)
	go t.sigintGuard(ch)

	t.line.SetCtrlCAborts(true)
	t.line.SetCompleter(t.cmds.complete)

	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Printf("Unable to load history file: %v.", err)
	}

	f, err := os.Open(fullHistoryFile)
	if err != nil {
		f, err = os.Create(fullHistoryFile)
		if err != nil {
			fmt.Printf("Unable to open history file: %v. History will not be saved for this session.", err)
		}
	}
	if f != nil {
		t.line.ReadHistory(f)
		f.Close()
	}
	fmt.Println("Type 'help' for list of commands.")

	if t.InitFile != "" {
		err := t.cmds.executeFile(t, t.InitFile)
		if err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			fmt.Fprintf(os.Stderr, "Error executing init file: %s\n", err)
		}
	}

	for {
		cmdstr, err := t.promptForInput()
		if err != nil {
			if err == liner.ErrPromptAborted {
				continue
			}
			if err == io.EOF {
				fmt.Fprintln(t.stdout, "exit")
				return t.handleExit()
			}
			return 1, errors.New("prompt for input failed")
		}
		t.stdout.Echo(t.prompt + cmdstr + "\n")

		if err := t.cmds.Call(cmdstr, t); err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			t.quittingMutex.Lock()
			quitting := t.quitting
			t.quittingMutex.Unlock()
			if quitting {
				return t.handleExit()
			}
			t.printError(err)
		}

		t.stdout.Flush()
		t.stdout.pw.Reset()
	}
}

// printError reports a failed command. A running target is not a failure
// of the command, it is reported as such.
func (t *Term) printError(err error) {
	if errors.Is(err, kernel.ErrNotReady) {
		fmt.Fprintln(os.Stderr, "Target is running, halt it to read kernel objects.")
		t.stdout.Echo("Target is running.\n")
		return
	}
	fmt.Fprintf(os.Stderr, "Command failed: %s\n", err)
	t.stdout.Echo(fmt.Sprintf("Command failed: %s\n", err))
}

func (t *Term) promptForInput() (string, error) {
	l, err := t.line.Prompt(t.prompt)
	if err != nil {
		return "", err
	}

	l = strings.TrimSuffix(l, "\n")
	if l != "" {
		t.line.AppendHistory(l)
	}

	return l, nil
}

func yesno(line *liner.State, question string) (bool, error) {
	for {
		answer, err := line.Prompt(question)
		if err != nil {
			return false, err
		}
		answer = strings.ToLower(strings.TrimSpace(answer))
		switch answer {
		case "", "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
	}
}

func (t *Term) handleExit() (int, error) {
	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Println("Error saving history file:", err)
	} else {
		if f, err := os.OpenFile(fullHistoryFile, os.O_RDWR|os.O_TRUNC, 0666); err == nil {
			_, err = t.line.WriteHistory(f)
			if err != nil {
				fmt.Println("readline history error:", err)
			}
			f.Close()
		}
	}

	if err := t.stdout.CloseTranscript(); err != nil {
		fmt.Fprintf(os.Stderr, "error closing transcript file: %v\n", err)
	}

	t.quittingMutex.Lock()
	quitting := t.quitting
	t.quittingMutex.Unlock()
	if quitting {
		return 0, nil
	}

	doDetach := true
	if t.client.IsMulticlient() {
		answer, err := yesno(t.line, "Would you like to kill the headless instance? [Y/n] ")
		if err != nil {
			return 2, io.EOF
		}
		doDetach = answer
	}

	if !doDetach {
		if err := t.client.Disconnect(); err != nil {
			return 1, err
		}
		return 0, nil
	}
	if err := t.client.Detach(); err != nil {
		return 1, err
	}
	return 0, nil
}

// color returns the escape sequence selecting code, or nothing when
// colors are disabled. Every sequence has the same length so that rows
// starting with one stay aligned by tabwriter.
func (t *Term) color(code int) string {
	if !t.colors {
		return ""
	}
	return fmt.Sprintf(terminalHighlightEscapeCode, code)
}

func (t *Term) reset() string {
	if !t.colors {
		return ""
	}
	return terminalResetEscapeCode
}
