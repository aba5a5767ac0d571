package main

import (
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/pkg/errors"
	yml "gopkg.in/yaml.v2"

	"github.com/scopelab/rigolab/capture"
	"github.com/scopelab/rigolab/monitor"
	"github.com/scopelab/rigolab/rigol"
)

var (
	// ConfigFileName is what it sounds like
	ConfigFileName = "rigolab.yml"
	k              = koanf.New(".")
)

// ScopeSetup describes how to reach the oscilloscope
type ScopeSetup struct {
	// Addr is host[:port] for tcp, or the device for serial, e.g. /dev/ttyUSB0
	Addr string `yaml:"Addr" koanf:"Addr"`

	// Transport is one of tcp, usbtmc, serial
	Transport string `yaml:"Transport" koanf:"Transport"`

	Timeout time.Duration `yaml:"Timeout" koanf:"Timeout"`
	Baud    int           `yaml:"Baud" koanf:"Baud"`

	// DeepMemory enables the 24M memory depth option
	DeepMemory bool `yaml:"DeepMemory" koanf:"DeepMemory"`

	// Handshaking checks the error queue after every setting
	Handshaking bool `yaml:"Handshaking" koanf:"Handshaking"`
}

// MonitorSetup configures the measurement recorder
type MonitorSetup struct {
	// Interval between rounds of measurements, zero disables the monitor
	Interval time.Duration `yaml:"Interval" koanf:"Interval"`

	// Capacity is the number of rounds kept
	Capacity int `yaml:"Capacity" koanf:"Capacity"`

	Items []monitor.Item `yaml:"Items" koanf:"Items"`
}

// Config is the scopectl configuration
type Config struct {
	// Addr is the address to listen at
	Addr string `yaml:"Addr" koanf:"Addr"`

	// Root is the URL stem the scope is served under
	Root string `yaml:"Root" koanf:"Root"`

	Scope ScopeSetup `yaml:"Scope" koanf:"Scope"`

	// ChunkSize is the number of points per window in long captures
	ChunkSize int `yaml:"ChunkSize" koanf:"ChunkSize"`

	// Mock replaces the scope with an in-process simulation
	Mock bool `yaml:"Mock" koanf:"Mock"`

	// LogLevel is one of debug, info, warn, error
	LogLevel string `yaml:"LogLevel" koanf:"LogLevel"`

	Monitor MonitorSetup `yaml:"Monitor" koanf:"Monitor"`

	// Metrics exposes Prometheus metrics at /metrics
	Metrics bool `yaml:"Metrics" koanf:"Metrics"`
}

func defaultConfig() Config {
	return Config{
		Addr: ":8000",
		Root: "scope",
		Scope: ScopeSetup{
			Addr:      "192.168.1.100",
			Transport: string(rigol.TCP),
			Timeout:   5 * time.Second,
			Baud:      115200,
		},
		ChunkSize: capture.DefaultChunkSize,
		LogLevel:  "info",
		Monitor: MonitorSetup{
			Interval: time.Second,
			Capacity: 3600,
			Items: []monitor.Item{
				{Channel: 1, Name: "VPP"},
				{Channel: 1, Name: "FREQuency"},
			},
		},
		Metrics: true,
	}
}

func setupconfig() error {
	k.Load(structs.Provider(defaultConfig(), "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		if !strings.Contains(err.Error(), "no such") { // file missing, defaults apply
			return errors.Wrap(err, "error loading config")
		}
	}
	return nil
}

func loadConfig() (Config, error) {
	c := Config{}
	err := k.Unmarshal("", &c)
	return c, err
}

func mkconf() error {
	c, err := loadConfig()
	if err != nil {
		return err
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		return err
	}
	defer f.Close()
	return yml.NewEncoder(f).Encode(c)
}

func printconf() error {
	c, err := loadConfig()
	if err != nil {
		return err
	}
	return yml.NewEncoder(os.Stdout).Encode(c)
}

func newLogger(level string) *log.Logger {
	lg := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "scopectl",
	})
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lg.Warn("unknown log level, using info", "level", level)
		lvl = log.InfoLevel
	}
	lg.SetLevel(lvl)
	return lg
}

// openScope creates the scope session described by c.  Observer may be nil.
func openScope(c Config, lg *log.Logger, obs capture.Observer) (*rigol.Scope, error) {
	o := rigol.Options{
		Addr:        c.Scope.Addr,
		Transport:   rigol.Transport(strings.ToLower(c.Scope.Transport)),
		Timeout:     c.Scope.Timeout,
		Baud:        c.Scope.Baud,
		ChunkSize:   c.ChunkSize,
		DeepMemory:  c.Scope.DeepMemory,
		Handshaking: c.Scope.Handshaking,
		Logger:      lg,
		Observer:    obs,
	}
	if c.Mock {
		lg.Info("using a simulated DS1104Z")
		o.Maker = rigol.NewMockInstrument().Maker()
	}
	return rigol.NewScope(o)
}
