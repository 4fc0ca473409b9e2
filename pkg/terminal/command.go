// Package terminal implements functions for responding to user
// input and dispatching to appropriate backend commands.
package terminal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/derekparker/trie"
	"github.com/dustin/go-humanize"

	"github.com/kview/kview/pkg/config"
	"github.com/kview/kview/pkg/kernel"
	"github.com/kview/kview/service"
	"github.com/kview/kview/service/api"
)

type cmdfunc func(t *Term, args string) error

type command struct {
	aliases        []string
	builtinAliases []string
	group          commandGroup
	helpMsg        string
	cmdFn          cmdfunc
}

// Returns true if the command string matches one of the aliases for this command
func (c command) match(cmdstr string) bool {
	for _, v := range c.aliases {
		if v == cmdstr {
			return true
		}
	}
	return false
}

// Commands represents the commands for the kview terminal.
type Commands struct {
	cmds   []command
	client service.Client
	names  *trie.Trie
}

// byFirstAlias will sort by the first
// alias of a command.
type byFirstAlias []command

func (a byFirstAlias) Len() int           { return len(a) }
func (a byFirstAlias) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a byFirstAlias) Less(i, j int) bool { return a[i].aliases[0] < a[j].aliases[0] }

// DebugCommands returns a Commands struct with default commands defined.
func DebugCommands(client service.Client) *Commands {
	c := &Commands{client: client}

	c.cmds = []command{
		{aliases: []string{"help", "h"}, cmdFn: c.help, helpMsg: `Prints the help message.

	help [command]

Type "help" followed by the name of a command for more information about it.`},
		{aliases: []string{"threads", "th"}, group: kernelCmds, cmdFn: threadsCmd, helpMsg: `Prints the threads of the kernel registry.

	threads [-v]

Threads are listed in registry order, the current thread is marked with '*'.
With -v every field of every thread is printed.`},
		{aliases: []string{"timers", "vt"}, group: kernelCmds, cmdFn: timersCmd, helpMsg: `Prints the armed virtual timers.

	timers [-v]

Timers are listed in firing order. The "fires in" column is the number of
ticks left before the timer fires, the sum of the deltas up to it.`},
		{aliases: []string{"trace", "t"}, group: kernelCmds, cmdFn: traceCmd, helpMsg: `Prints the kernel trace buffer.

	trace [-v] [n]

Prints the n most recent events, oldest first. The newest event has index 0.
When n is omitted the trace-max-events configuration key is used, n equal to
0 prints the whole buffer.`},
		{aliases: []string{"globals", "g"}, group: kernelCmds, cmdFn: globalsCmd, helpMsg: "Prints the kernel global state."},
		{aliases: []string{"stats"}, group: kernelCmds, cmdFn: statsCmd, helpMsg: "Prints the kernel statistics counters."},
		{aliases: []string{"refresh", "r"}, group: kernelCmds, cmdFn: refreshCmd, helpMsg: `Reads every kernel object again and prints it.

	refresh

The kernel is checked first, the command fails if it can not be read.`},
		{aliases: []string{"source"}, group: scriptCmds, cmdFn: c.sourceCommand, helpMsg: `Executes a file containing a list of kview commands.

	source <path>

If path ends with the .star extension it will be interpreted as a starlark script.
If path is a single '-' character an interactive starlark interpreter will start
instead. Type 'exit' in order to exit the interpreter.`},
		{aliases: []string{"transcript"}, group: scriptCmds, cmdFn: transcriptCmd, helpMsg: `Appends command output to a file.

	transcript [-t] [-x] <output file>
	transcript -off

Output of kview's command is appended to the specified output file. If '-t' is
specified and the output file exists it is truncated. If '-x' is specified output
to stdout is suppressed instead.

Using the -off option disables the transcript.`},
		{aliases: []string{"config"}, group: scriptCmds, cmdFn: configureCmd, helpMsg: `Changes configuration parameters.

	config -list

Show all configuration parameters.

	config -save

Saves the configuration file to disk, overwriting the current configuration file.

	config <parameter> <value>

Changes the value of a configuration parameter.

	config alias <command> <alias>
	config alias <alias>

Defines <alias> as an alias to <command> or removes an alias.`},
		{aliases: []string{"exit", "quit", "q"}, cmdFn: exitCommand, helpMsg: `Exit kview.

When connected to a multiclient headless instance you will be asked whether
the instance should be stopped.`},
	}

	sort.Sort(byFirstAlias(c.cmds))
	return c
}

// Register custom commands. Expects cf to be a func of type cmdfunc,
// returning only an error.
func (c *Commands) Register(cmdstr string, cf cmdfunc, helpMsg string) {
	c.names = nil
	for i := range c.cmds {
		if c.cmds[i].match(cmdstr) {
			c.cmds[i].cmdFn = cf
			c.cmds[i].helpMsg = helpMsg
			return
		}
	}

	c.cmds = append(c.cmds, command{aliases: []string{cmdstr}, cmdFn: cf, helpMsg: helpMsg})
}

// Find will look up the command function for the given command input.
// If it cannot find the command it will default to noCmdAvailable().
// If the command is an empty string it will do nothing.
func (c *Commands) Find(cmdstr string) cmdfunc {
	if cmdstr == "" {
		return nullCommand
	}

	for _, v := range c.cmds {
		if v.match(cmdstr) {
			return v.cmdFn
		}
	}

	return noCmdAvailable
}

// Call takes a command to execute.
func (c *Commands) Call(cmdstr string, t *Term) error {
	vals := strings.SplitN(strings.TrimSpace(cmdstr), " ", 2)
	cmdname := vals[0]
	var args string
	if len(vals) > 1 {
		args = strings.TrimSpace(vals[1])
	}
	return c.Find(cmdname)(t, args)
}

// Merge takes aliases defined in the config struct and merges them with the default aliases.
func (c *Commands) Merge(allAliases map[string][]string) {
	c.names = nil
	for i := range c.cmds {
		if c.cmds[i].builtinAliases != nil {
			c.cmds[i].aliases = append(c.cmds[i].aliases[:0], c.cmds[i].builtinAliases...)
		}
	}
	for i := range c.cmds {
		if aliases, ok := allAliases[c.cmds[i].aliases[0]]; ok {
			if c.cmds[i].builtinAliases == nil {
				c.cmds[i].builtinAliases = make([]string, len(c.cmds[i].aliases))
				copy(c.cmds[i].builtinAliases, c.cmds[i].aliases)
			}
			c.cmds[i].aliases = append(c.cmds[i].aliases, aliases...)
		}
	}
}

// complete returns the command names starting with line. Only the first
// word of a line is completed.
func (c *Commands) complete(line string) []string {
	if strings.ContainsAny(line, " \t") {
		return nil
	}
	if c.names == nil {
		c.names = trie.New()
		seen := map[string]bool{}
		for _, cmd := range c.cmds {
			for _, alias := range cmd.aliases {
				if !seen[alias] {
					seen[alias] = true
					c.names.Add(alias, nil)
				}
			}
		}
	}
	r := c.names.PrefixSearch(strings.ToLower(line))
	sort.Strings(r)
	return r
}

var errNoCmd = errors.New("command not available")

func noCmdAvailable(t *Term, args string) error {
	return errNoCmd
}

func nullCommand(t *Term, args string) error {
	return nil
}

func (c *Commands) help(t *Term, args string) error {
	if args != "" {
		for _, cmd := range c.cmds {
			for _, alias := range cmd.aliases {
				if alias == args {
					fmt.Fprintln(t.stdout, cmd.helpMsg)
					return nil
				}
			}
		}
		return errNoCmd
	}

	fmt.Fprintln(t.stdout, "The following commands are available:")

	for _, cgd := range commandGroupDescriptions {
		fmt.Fprintf(t.stdout, "\n%s:\n", cgd.description)
		w := new(tabwriter.Writer)
		w.Init(t.stdout, 0, 8, 0, '-', 0)
		for _, cmd := range c.cmds {
			if cmd.group != cgd.group {
				continue
			}
			h := cmd.helpMsg
			if idx := strings.Index(h, "\n"); idx >= 0 {
				h = h[:idx]
			}
			if len(cmd.aliases) > 1 {
				fmt.Fprintf(w, "    %s (alias: %s) \t %s\n", cmd.aliases[0], strings.Join(cmd.aliases[1:], " | "), h)
			} else {
				fmt.Fprintf(w, "    %s \t %s\n", cmd.aliases[0], h)
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintln(t.stdout)
	fmt.Fprintln(t.stdout, "Type help followed by a command for full documentation.")
	return nil
}

// parseVerbose splits the -v flag from the arguments of a listing command.
func parseVerbose(args string) (verbose bool, rest []string) {
	for _, arg := range config.SplitArgs(args) {
		if arg == "-v" {
			verbose = true
			continue
		}
		rest = append(rest, arg)
	}
	return verbose, rest
}

func newTable(out io.Writer) *tabwriter.Writer {
	w := new(tabwriter.Writer)
	w.Init(out, 0, 8, 2, ' ', 0)
	return w
}

func threadStateColor(label string) int {
	switch label {
	case "CURRENT":
		return ansiGreen
	case "READY":
		return ansiCyan
	case "FINAL":
		return ansiBrBlack
	case kernel.UnknownState:
		return ansiRed
	}
	return ansiDefault
}

// stackFree formats the unused stack of a thread as a byte count.
func stackFree(th *api.Thread) string {
	v, _ := api.Lookup(th.Fields, "stkunused")
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return v
	}
	return humanize.IBytes(n)
}

func threadsCmd(t *Term, args string) error {
	verbose, rest := parseVerbose(args)
	if len(rest) != 0 {
		return errors.New("wrong arguments: threads [-v]")
	}
	threads, err := t.client.Threads()
	if err != nil {
		return err
	}
	printThreads(t, threads, verbose)
	return nil
}

func printThreads(t *Term, threads []api.Thread, verbose bool) {
	if len(threads) == 0 {
		fmt.Fprintln(t.stdout, "No threads.")
		return
	}
	t.stdout.pw.PageMaybe(nil)
	if verbose {
		for i := range threads {
			fmt.Fprintf(t.stdout, "%s%s%s\n", t.color(threadStateColor(threads[i].StateLabel)), threads[i].SinglelineString(), t.reset())
		}
		return
	}
	w := newTable(t.stdout)
	fmt.Fprintf(w, "%s  ADDRESS\tNAME\tSTATE\tPRIO\tREFS\tTIME\tSTACK FREE%s\n", t.color(ansiDefault), t.reset())
	for i := range threads {
		th := &threads[i]
		mark := " "
		if th.StateLabel == "CURRENT" {
			mark = "*"
		}
		refs, _ := api.Lookup(th.Fields, "refs")
		tm, _ := api.Lookup(th.Fields, "time")
		fmt.Fprintf(w, "%s%s 0x%08x\t%s\t%s\t%d\t%s\t%s\t%s%s\n",
			t.color(threadStateColor(th.StateLabel)), mark, th.Address, th.Name, th.StateLabel,
			th.Prio, refs, tm, stackFree(th), t.reset())
	}
	w.Flush()
}

func timersCmd(t *Term, args string) error {
	verbose, rest := parseVerbose(args)
	if len(rest) != 0 {
		return errors.New("wrong arguments: timers [-v]")
	}
	timers, err := t.client.Timers()
	if err != nil {
		return err
	}
	printTimers(t, timers, verbose)
	return nil
}

func printTimers(t *Term, timers []api.Timer, verbose bool) {
	if len(timers) == 0 {
		fmt.Fprintln(t.stdout, "No armed timers.")
		return
	}
	t.stdout.pw.PageMaybe(nil)
	if verbose {
		for i := range timers {
			fmt.Fprintln(t.stdout, timers[i].SinglelineString())
		}
		return
	}
	w := newTable(t.stdout)
	fmt.Fprintln(w, "ADDRESS\tDELTA\tFIRES IN\tFUNC\tPAR")
	var ticks int64
	for _, vt := range timers {
		ticks += vt.Delta
		fmt.Fprintf(w, "0x%08x\t%d\t%d\t0x%08x\t0x%08x\n", vt.Address, vt.Delta, ticks, vt.Func, vt.Par)
	}
	w.Flush()
}

func traceCmd(t *Term, args string) error {
	verbose, rest := parseVerbose(args)
	n := t.conf.MaxEvents()
	switch len(rest) {
	case 0:
	case 1:
		var err error
		n, err = strconv.Atoi(rest[0])
		if err != nil || n < 0 {
			return fmt.Errorf("%q is not a valid number of events", rest[0])
		}
	default:
		return errors.New("wrong arguments: trace [-v] [n]")
	}
	evs, err := t.client.Trace()
	if err != nil {
		return err
	}
	if n > 0 && len(evs) > n {
		evs = evs[len(evs)-n:]
	}
	printTrace(t, evs, verbose)
	return nil
}

func traceTypeColor(typ string) int {
	switch typ {
	case kernel.TraceSwitch.String():
		return ansiGreen
	case kernel.TraceReady.String():
		return ansiCyan
	case kernel.TraceISREnter.String(), kernel.TraceISRLeave.String():
		return ansiYellow
	case kernel.TraceHalt.String():
		return ansiRed
	}
	return ansiDefault
}

// traceCommonFields are the fields every trace event carries, the others
// are the payload of the event type.
var traceCommonFields = map[string]bool{
	"type": true, "state": true, "state_s": true, "rtstamp": true, "time": true,
}

func printTrace(t *Term, evs []api.TraceEvent, verbose bool) {
	if len(evs) == 0 {
		fmt.Fprintln(t.stdout, "Trace buffer is empty.")
		return
	}
	t.stdout.pw.PageMaybe(nil)
	if verbose {
		for i := range evs {
			fmt.Fprintf(t.stdout, "%s%s%s\n", t.color(traceTypeColor(evs[i].TypeName)), evs[i].SinglelineString(), t.reset())
		}
		return
	}
	w := newTable(t.stdout)
	fmt.Fprintf(w, "%sINDEX\tTYPE\tSTATE\tRTSTAMP\tTIME\tDETAILS%s\n", t.color(ansiDefault), t.reset())
	for i := range evs {
		ev := &evs[i]
		rtstamp, _ := api.Lookup(ev.Fields, "rtstamp")
		tm, _ := api.Lookup(ev.Fields, "time")
		var payload []api.KeyValue
		for _, kv := range ev.Fields {
			if !traceCommonFields[kv.Key] {
				payload = append(payload, kv)
			}
		}
		var details strings.Builder
		api.WriteFields(&details, payload)
		fmt.Fprintf(w, "%s%d\t%s\t%s\t%s\t%s\t%s%s\n",
			t.color(traceTypeColor(ev.TypeName)), ev.Index, ev.TypeName, ev.StateLabel,
			rtstamp, tm, details.String(), t.reset())
	}
	w.Flush()
}

func globalsCmd(t *Term, args string) error {
	if args != "" {
		return errors.New("globals takes no arguments")
	}
	g, err := t.client.Globals()
	if err != nil {
		return err
	}
	printKeyValues(t, g)
	return nil
}

func printKeyValues(t *Term, kvs []api.KeyValue) {
	w := newTable(t.stdout)
	for _, kv := range kvs {
		fmt.Fprintf(w, "%s\t%s\n", kv.Key, kv.Value)
	}
	w.Flush()
}

func statsCmd(t *Term, args string) error {
	if args != "" {
		return errors.New("stats takes no arguments")
	}
	stats, err := t.client.Statistics()
	if err != nil {
		return err
	}
	printStatistics(t, stats)
	return nil
}

// count formats a counter with thousands separators, sentinels are
// printed as they are.
func count(s string) string {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return s
	}
	return humanize.Comma(n)
}

func printStatistics(t *Term, stats []api.StatCounter) {
	if len(stats) == 0 {
		fmt.Fprintln(t.stdout, "No statistics.")
		return
	}
	w := newTable(t.stdout)
	fmt.Fprintln(w, "COUNTER\tBEST\tWORST\tN\tCUMULATIVE")
	for _, s := range stats {
		var v [4]string
		for i, key := range []string{"best", "worst", "n", "cumulative"} {
			v[i], _ = api.Lookup(s.Fields, key)
			v[i] = count(v[i])
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.Name, v[0], v[1], v[2], v[3])
	}
	w.Flush()
}

// refreshCmd prints every kernel object. A missing object is reported
// in place and does not stop the others from being printed.
func refreshCmd(t *Term, args string) error {
	if args != "" {
		return errors.New("refresh takes no arguments")
	}
	if err := t.client.CheckKernel(); err != nil {
		return err
	}

	section := func(title string, err error) error {
		fmt.Fprintf(t.stdout, "%s:\n", title)
		if err != nil {
			if errors.Is(err, kernel.ErrNotReady) {
				return err
			}
			fmt.Fprintf(t.stdout, "  %v\n", err)
		}
		return nil
	}

	g, err := t.client.Globals()
	if err := section("Globals", err); err != nil {
		return err
	}
	if err == nil {
		printKeyValues(t, g)
	}

	threads, err := t.client.Threads()
	if err := section("\nThreads", err); err != nil {
		return err
	}
	if err == nil {
		printThreads(t, threads, false)
	}

	timers, err := t.client.Timers()
	if err := section("\nTimers", err); err != nil {
		return err
	}
	if err == nil {
		printTimers(t, timers, false)
	}

	stats, err := t.client.Statistics()
	if err := section("\nStatistics", err); err != nil {
		return err
	}
	if err == nil {
		printStatistics(t, stats)
	}
	return nil
}

func (c *Commands) sourceCommand(t *Term, args string) error {
	if len(args) == 0 {
		return fmt.Errorf("wrong number of arguments: source <filename>")
	}

	if filepath.Ext(args) == ".star" {
		_, err := t.starlarkEnv.Execute(args, nil, "main", nil)
		return err
	}

	if args == "-" {
		return t.starlarkEnv.REPL()
	}

	return c.executeFile(t, args)
}

var errTranscriptUsage = errors.New("wrong arguments: transcript [-t] [-x] <output file> | transcript -off")

func transcriptCmd(t *Term, args string) error {
	truncate := false
	fileOnly := false
	disable := false
	path := ""
	for _, arg := range config.SplitArgs(args) {
		switch arg {
		case "-x":
			fileOnly = true
		case "-t":
			truncate = true
		case "-off":
			disable = true
		default:
			if path != "" || strings.HasPrefix(arg, "-") {
				return errTranscriptUsage
			}
			path = arg
		}
	}

	if disable {
		if path != "" || truncate || fileOnly {
			return errTranscriptUsage
		}
		return t.stdout.CloseTranscript()
	}
	if path == "" {
		return errTranscriptUsage
	}

	flags := os.O_APPEND | os.O_WRONLY | os.O_CREATE
	if truncate {
		flags |= os.O_TRUNC
	}
	fh, err := os.OpenFile(path, flags, 0660)
	if err != nil {
		return err
	}
	if err := t.stdout.CloseTranscript(); err != nil {
		fh.Close()
		return err
	}
	t.stdout.TranscribeTo(fh, fileOnly)
	return nil
}

// ExitRequestError is returned when the user
// exits kview.
type ExitRequestError struct{}

func (ere ExitRequestError) Error() string {
	return ""
}

func exitCommand(t *Term, args string) error {
	return ExitRequestError{}
}

func split2PartsBySpace(s string) []string {
	v := strings.SplitN(s, " ", 2)
	for i := range v {
		v[i] = strings.TrimSpace(v[i])
	}
	return v
}

func (c *Commands) executeFile(t *Term, name string) error {
	fh, err := os.Open(name)
	if err != nil {
		return err
	}
	defer fh.Close()

	scanner := bufio.NewScanner(fh)
	lineno := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		lineno++

		if line == "" || line[0] == '#' {
			continue
		}

		if err := c.Call(line, t); err != nil {
			if _, isExitRequest := err.(ExitRequestError); isExitRequest {
				return err
			}
			fmt.Fprintf(t.stdout, "%s:%d: %v\n", name, lineno, err)
		}
	}

	return scanner.Err()
}
