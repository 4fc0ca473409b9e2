package cmds

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kview/kview/pkg/config"
	"github.com/kview/kview/pkg/logflags"
	"github.com/kview/kview/pkg/terminal"
	kvtls "github.com/kview/kview/pkg/tls"
	"github.com/kview/kview/pkg/version"
	"github.com/kview/kview/service"
	"github.com/kview/kview/service/debugger"
	"github.com/kview/kview/service/rpc2"
	"github.com/kview/kview/service/rpccommon"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string
	// headless is whether to run without terminal.
	headless bool
	// acceptMulti allows multiple clients to connect to the same server
	acceptMulti bool
	// addr is the server listen address.
	addr string
	// initFile is the path to initialization file.
	initFile string
	// recordFile is where backend calls are recorded.
	recordFile string
	// checkLocalConnUser is true if the server should check that local
	// connections come from the same user that started the headless server
	checkLocalConnUser bool
	// gdbCommandFlag overrides the gdb-command configuration key.
	gdbCommandFlag string
	// tlsConf secures the connection of headless servers and their clients.
	tlsConf kvtls.Config
	// verbose prints the build information with the version.
	verbose bool

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config
)

const kviewCommandLongDesc = `kview shows the kernel objects of a ChibiOS/RT target.

It reads the thread registry, the armed virtual timers, the trace buffer,
the kernel globals and the statistics counters of a halted target through a
debugger: GDB, a Debug Adapter Protocol server or the recording of an
earlier session.

Without a subcommand the backend named by the backend configuration key is
used and the argument is its target: the program for gdb, the adapter
address for dap, the recording for replay.`

// New returns an initialized command tree.
func New() *cobra.Command {
	// Config setup and load.
	var err error
	conf, err = config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	// Main kview root command.
	rootCommand = &cobra.Command{
		Use:   "kview [target]",
		Short: "kview shows the kernel objects of a ChibiOS/RT target.",
		Long:  kviewCommandLongDesc,
		Args:  cobra.MaximumNArgs(1),
		Run:   defaultBackendCmd,
	}

	rootCommand.PersistentFlags().StringVarP(&addr, "listen", "l", "127.0.0.1:0", "Server listen address.")

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable server logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'kview help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'kview help log').")

	rootCommand.PersistentFlags().BoolVarP(&headless, "headless", "", false, "Run the server only, in headless mode.")
	rootCommand.PersistentFlags().BoolVarP(&acceptMulti, "accept-multiclient", "", false, "Allows a headless server to accept multiple client connections.")
	rootCommand.PersistentFlags().StringVar(&initFile, "init", "", "Init file, executed by the terminal client.")
	rootCommand.PersistentFlags().StringVar(&recordFile, "record", "", "Records every backend request to the specified file (see 'kview help replay').")
	rootCommand.PersistentFlags().StringVar(&tlsConf.CertFile, "tls-cert", "", "Certificate presented by a headless server, or by the client of connect.")
	rootCommand.PersistentFlags().StringVar(&tlsConf.KeyFile, "tls-key", "", "Private key of --tls-cert.")
	rootCommand.PersistentFlags().StringVar(&tlsConf.CAFile, "tls-ca", "", "Certificate authority verifying the other end of the connection.")
	rootCommand.PersistentFlags().BoolVarP(&checkLocalConnUser, "only-same-user", "", true, "Only connections from the same user that started this instance of kview are allowed to connect.")

	// 'gdb' subcommand.
	gdbCommand := &cobra.Command{
		Use:   "gdb [program]",
		Short: "Read the kernel through GDB.",
		Long: `Starts GDB in machine interface mode and reads the kernel through it.

The program, when given, is the ELF image of the firmware and is loaded into
GDB for its symbols. GDB is connected to the probe by the commands listed in
the gdb-init configuration key, for example:

	gdb-init: ["target extended-remote :3333", "monitor halt"]
`,
		Args: cobra.MaximumNArgs(1),
		Run:  gdbCmd,
	}
	gdbCommand.Flags().StringVar(&gdbCommandFlag, "gdb", "", "Command line used to start GDB, overrides the gdb-command configuration key.")
	rootCommand.AddCommand(gdbCommand)

	// 'dap' subcommand.
	dapCommand := &cobra.Command{
		Use:   "dap addr",
		Short: "Read the kernel through a Debug Adapter Protocol server.",
		Long: `Connects to a Debug Adapter Protocol server listening at addr and reads the
kernel through it.

The arguments of the attach request are taken from the dap-attach
configuration key. The target must be halted for its kernel to be read.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errors.New("you must provide the address of the debug adapter")
			}
			return nil
		},
		Run: dapCmd,
	}
	rootCommand.AddCommand(dapCommand)

	// 'replay' subcommand.
	replayCommand := &cobra.Command{
		Use:   "replay file",
		Short: "Read the kernel from a recorded session.",
		Long: `Reads the kernel from a session recorded with --record.

Every request is answered from the recording; a request that was never
recorded fails as if the expression could not be evaluated.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errors.New("you must provide the path to a recording")
			}
			return nil
		},
		Run: replayCmd,
	}
	rootCommand.AddCommand(replayCommand)

	// 'connect' subcommand.
	connectCommand := &cobra.Command{
		Use:   "connect addr",
		Short: "Connect to a headless kview server.",
		Long:  "Connect to a running headless kview server.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return errors.New("you must provide an address as the first argument")
			}
			return nil
		},
		Run: connectCmd,
	}
	rootCommand.AddCommand(connectCommand)

	// 'version' subcommand.
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "kview\n%s\n", version.KviewVersion)
			if verbose {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n", version.BuildInfo())
			}
		},
	}
	versionCommand.Flags().BoolVarP(&verbose, "verbose", "v", false, "print verbose version info")
	rootCommand.AddCommand(versionCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:


	kernel		Log structural problems found reading the kernel
	gdbwire		Log the GDB/MI conversation
	dapwire		Log all DAP messages
	rpc		Log all RPC messages
	recorder	Log recording and replay of backend requests
	debugger	Log debugger calls

Additionally --log-dest can be used to specify where the logs should be
written.
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.
This option will also redirect the "API server listening at" message in
headless mode.
`,
	})

	rootCommand.DisableAutoGenTag = true

	return rootCommand
}

func defaultBackendCmd(cmd *cobra.Command, args []string) {
	backend := conf.Backend
	if backend == "" {
		backend = config.BackendGDB
	}
	if backend != config.BackendGDB && len(args) == 0 {
		fmt.Fprintf(os.Stderr, "The %s backend needs a target argument.\n", backend)
		os.Exit(1)
	}
	os.Exit(execute(debuggerConfig(backend, args)))
}

func gdbCmd(cmd *cobra.Command, args []string) {
	os.Exit(execute(debuggerConfig(config.BackendGDB, args)))
}

func dapCmd(cmd *cobra.Command, args []string) {
	os.Exit(execute(debuggerConfig(config.BackendDAP, args)))
}

func replayCmd(cmd *cobra.Command, args []string) {
	os.Exit(execute(debuggerConfig(config.BackendReplay, args)))
}

func connectCmd(cmd *cobra.Command, args []string) {
	addr := args[0]
	if addr == "" {
		fmt.Fprint(os.Stderr, "An empty address was provided. You must provide an address as the first argument.\n")
		os.Exit(1)
	}
	os.Exit(connect(addr, nil, conf))
}

// debuggerConfig describes the backend selected on the command line, with
// target as its first argument.
func debuggerConfig(backend string, args []string) debugger.Config {
	dcfg := debugger.Config{
		Backend:    backend,
		GdbCommand: conf.GdbCommand,
		GdbInit:    conf.GdbInit,
		DAPAttach:  conf.AttachArgs(),
		RecordFile: recordFile,
		Timeout:    conf.Timeout(),
	}
	if gdbCommandFlag != "" {
		dcfg.GdbCommand = gdbCommandFlag
	}
	var target string
	if len(args) > 0 {
		target = args[0]
	}
	switch backend {
	case config.BackendGDB:
		dcfg.Program = target
	case config.BackendDAP:
		dcfg.DAPAddr = target
	case config.BackendReplay:
		dcfg.ReplayFile = target
	}
	return dcfg
}

// waitForDisconnectSignal is a blocking function that waits for either
// a SIGINT (Ctrl-C) signal from the OS or for disconnectChan to be closed
// by the server when the client disconnects.
func waitForDisconnectSignal(disconnectChan chan struct{}) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT)
	defer signal.Stop(ch)
	select {
	case <-ch:
	case <-disconnectChan:
	}
}

func connect(addr string, clientConn net.Conn, conf *config.Config) int {
	// Create and start a terminal - attach to running instance
	var client *rpc2.RPCClient
	if clientConn != nil {
		client = rpc2.NewClientFromConn(clientConn)
	} else if tlsConf.Enabled() {
		conn, err := kvtls.Dial("tcp", addr, tlsConf)
		if err != nil {
			fmt.Fprintf(os.Stderr, "could not connect to %s: %v\n", addr, err)
			return 1
		}
		client = rpc2.NewClientFromConn(conn)
	} else {
		var err error
		client, err = rpc2.NewClient(addr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "could not connect to %s: %v\n", addr, err)
			return 1
		}
	}
	term := terminal.New(client, conf)
	term.InitFile = initFile
	status, err := term.Run()
	if err != nil {
		fmt.Println(err)
	}
	return status
}

func execute(dcfg debugger.Config) int {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer logflags.Close()

	if headless && (initFile != "") {
		fmt.Fprint(os.Stderr, "Warning: init file ignored with --headless\n")
	}
	if !headless && tlsConf.Enabled() {
		fmt.Fprint(os.Stderr, "Warning: TLS flags ignored without --headless\n")
	}
	if !headless && acceptMulti {
		fmt.Fprint(os.Stderr, "Warning accept-multi: ignored\n")
		// acceptMulti won't work in normal (non-headless) mode because we always
		// call server.Stop after the terminal client exits.
		acceptMulti = false
	}

	var listener net.Listener
	var clientConn net.Conn
	var err error

	// Make a TCP listener
	if headless {
		listener, err = net.Listen("tcp", addr)
		if err == nil && tlsConf.Enabled() {
			var tl net.Listener
			if tl, err = kvtls.WrapListener(listener, tlsConf); err != nil {
				listener.Close()
			}
			listener = tl
		}
	} else {
		listener, clientConn = service.ListenerPipe()
	}
	if err != nil {
		fmt.Printf("couldn't start listener: %s\n", err)
		return 1
	}
	defer listener.Close()

	disconnectChan := make(chan struct{})

	server := rpccommon.NewServer(&service.Config{
		Listener:           listener,
		AcceptMulti:        acceptMulti,
		CheckLocalConnUser: checkLocalConnUser,
		DisconnectChan:     disconnectChan,
		Debugger:           dcfg,
	})

	if err := server.Run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	if headless {
		fmt.Fprintf(logflags.Output(), "API server listening at: %s\n", listener.Addr())
		waitForDisconnectSignal(disconnectChan)
		if err := server.Stop(); err != nil {
			fmt.Println(err)
			return 1
		}
		return 0
	}

	return connect(listener.Addr().String(), clientConn, conf)
}
