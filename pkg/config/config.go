package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	configDir       string = "kview"
	legacyConfigDir string = ".kview"
	configFile      string = "config.yml"
)

const (
	// DefaultReadTimeout bounds a single backend request when read-timeout
	// is not set.
	DefaultReadTimeout = 10 * time.Second
	// DefaultTraceMaxEvents is the number of trace events printed by the
	// trace command without an argument.
	DefaultTraceMaxEvents = 64
)

// Backend kinds accepted by the backend key.
const (
	BackendGDB    = "gdb"
	BackendDAP    = "dap"
	BackendReplay = "replay"
)

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Commands aliases.
	Aliases map[string][]string `yaml:"aliases"`

	// Backend used when none is named on the command line.
	Backend string `yaml:"backend,omitempty"`

	// GdbCommand is the command line used to start GDB.
	GdbCommand string `yaml:"gdb-command,omitempty"`
	// GdbInit is a list of commands run after GDB starts, typically one
	// that connects it to the probe.
	GdbInit []string `yaml:"gdb-init,omitempty"`

	// DAPAttach is sent as the arguments of the DAP attach request.
	DAPAttach map[string]interface{} `yaml:"dap-attach,omitempty"`

	// ReadTimeout bounds a single backend request.
	ReadTimeout time.Duration `yaml:"read-timeout,omitempty"`

	// TraceMaxEvents is the number of trace events printed by default.
	TraceMaxEvents int `yaml:"trace-max-events,omitempty"`

	// Color enables colored output, the default is to color terminals.
	Color *bool `yaml:"color,omitempty"`
	// Pager pipes long output through a pager, the default is to page
	// terminals.
	Pager *bool `yaml:"pager,omitempty"`
}

// Timeout returns the configured read timeout or DefaultReadTimeout.
func (c *Config) Timeout() time.Duration {
	if c == nil || c.ReadTimeout <= 0 {
		return DefaultReadTimeout
	}
	return c.ReadTimeout
}

// MaxEvents returns the configured trace length or DefaultTraceMaxEvents.
func (c *Config) MaxEvents() int {
	if c == nil || c.TraceMaxEvents <= 0 {
		return DefaultTraceMaxEvents
	}
	return c.TraceMaxEvents
}

// AttachArgs returns DAPAttach with every nested map converted to
// map[string]interface{}, so that it can be encoded as JSON.
func (c *Config) AttachArgs() map[string]interface{} {
	if c == nil || c.DAPAttach == nil {
		return nil
	}
	return stringMap(c.DAPAttach)
}

func stringMap(m map[string]interface{}) map[string]interface{} {
	r := make(map[string]interface{}, len(m))
	for k, v := range m {
		r[k] = stringKeys(v)
	}
	return r
}

func stringKeys(v interface{}) interface{} {
	switch v := v.(type) {
	case map[interface{}]interface{}:
		r := make(map[string]interface{}, len(v))
		for k, e := range v {
			r[fmt.Sprint(k)] = stringKeys(e)
		}
		return r
	case map[string]interface{}:
		return stringMap(v)
	case []interface{}:
		r := make([]interface{}, len(v))
		for i := range v {
			r[i] = stringKeys(v[i])
		}
		return r
	}
	return v
}

// LoadConfig attempts to populate a Config object from the config.yml file,
// creating a commented default file when there is none.
func LoadConfig() (*Config, error) {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return &Config{}, fmt.Errorf("unable to get config file path: %v", err)
	}
	if _, err := os.Stat(fullConfigFile); errors.Is(err, os.ErrNotExist) {
		if err := createConfigPath(); err != nil {
			return &Config{}, fmt.Errorf("could not create config directory: %v", err)
		}
		if err := createDefaultConfig(fullConfigFile); err != nil {
			return &Config{}, fmt.Errorf("error creating default config file: %v", err)
		}
	}
	return LoadConfigFrom(fullConfigFile)
}

// LoadConfigFrom reads the configuration stored at path.
func LoadConfigFrom(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return &Config{}, err
	}
	defer f.Close()
	return readConfig(f)
}

func readConfig(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return &Config{}, fmt.Errorf("unable to read config data: %v", err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return &Config{}, fmt.Errorf("unable to decode config file: %v", err)
	}
	switch c.Backend {
	case "", BackendGDB, BackendDAP, BackendReplay:
	default:
		return &c, fmt.Errorf("unknown backend %q in config file", c.Backend)
	}
	return &c, nil
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}

	return os.WriteFile(fullConfigFile, out, 0600)
}

func createDefaultConfig(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("unable to create config file: %v", err)
	}
	defer f.Close()
	if err := writeDefaultConfig(f); err != nil {
		return fmt.Errorf("unable to write default configuration: %v", err)
	}
	return nil
}

func writeDefaultConfig(w io.Writer) error {
	_, err := io.WriteString(w,
		`# Configuration file for kview.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Provided aliases will be added to the default aliases for a given command.
aliases:
  # command: ["alias1", "alias2"]

# Backend used when none is named on the command line: gdb, dap or replay.
# backend: gdb

# Command line used to start GDB.
# gdb-command: arm-none-eabi-gdb

# Commands run after GDB starts.
# gdb-init:
#   - target extended-remote :3333

# Arguments of the DAP attach request, specific to the debug adapter.
# dap-attach:
#   gdbTarget: localhost:3333

# Maximum time to wait for a single backend request.
# read-timeout: 10s

# Number of trace events printed by the trace command without an argument.
# trace-max-events: 64

# Uncomment to force colored output on or off.
# color: false

# Uncomment to force paging of long output on or off.
# pager: false
`)
	return err
}

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
// $XDG_CONFIG_HOME/kview is used when XDG_CONFIG_HOME is set or the
// directory exists, ~/.kview otherwise.
func GetConfigFilePath(file string) (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, configDir, file), nil
	}

	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	xdgDir := filepath.Join(userHomeDir, ".config", configDir)
	if fi, err := os.Stat(xdgDir); err == nil && fi.IsDir() {
		return filepath.Join(xdgDir, file), nil
	}
	return filepath.Join(userHomeDir, legacyConfigDir, file), nil
}
