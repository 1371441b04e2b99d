package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/Dicklesworthstone/node_metrics_exporter/internal/accel"
)

const envPrefix = "NODE_METRICS_"

// Config carries runtime options for node-metrics-exporter.
type Config struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	Interval     time.Duration `yaml:"interval"`
	TopProcesses int           `yaml:"top_processes"`
	GPUBackend   string        `yaml:"gpu_backend"`
	LogLevel     string        `yaml:"log_level"`
	LogFormat    string        `yaml:"log_format"`
	TUI          bool          `yaml:"tui"`

	ConfigPath  string `yaml:"-"`
	ShowVersion bool   `yaml:"-"`
}

func Default() Config {
	return Config{
		Host:         "0.0.0.0",
		Port:         9100,
		Interval:     2 * time.Second,
		TopProcesses: 100,
		GPUBackend:   accel.BackendAuto,
		LogLevel:     "info",
		LogFormat:    "json",
	}
}

// Load layers defaults, the YAML file, environment overrides and then
// any flag set explicitly on the command line. pflag.ErrHelp is
// returned as is.
func Load(args []string) (Config, error) {
	flags := Default()
	fs := pflag.NewFlagSet("node-metrics-exporter", pflag.ContinueOnError)
	fs.StringVar(&flags.Host, "host", flags.Host, "listen host")
	fs.IntVar(&flags.Port, "port", flags.Port, "listen port")
	fs.DurationVar(&flags.Interval, "interval", flags.Interval, "refresh interval")
	fs.IntVar(&flags.TopProcesses, "top", flags.TopProcesses, "number of top processes to export")
	fs.StringVar(&flags.GPUBackend, "gpu", flags.GPUBackend, "accelerator backend: "+strings.Join(accel.Backends, "|"))
	fs.StringVar(&flags.LogLevel, "log-level", flags.LogLevel, "log level: debug|info|warn|error")
	fs.StringVar(&flags.LogFormat, "log-format", flags.LogFormat, "log format: json|console")
	fs.BoolVar(&flags.TUI, "tui", flags.TUI, "show a live dashboard in the terminal")
	fs.StringVar(&flags.ConfigPath, "config", "", "YAML config file")
	fs.BoolVar(&flags.ShowVersion, "version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := Default()
	cfg.ConfigPath = flags.ConfigPath
	if cfg.ConfigPath == "" {
		cfg.ConfigPath = os.Getenv(envPrefix + "CONFIG")
	}
	if cfg.ConfigPath != "" {
		if err := cfg.loadFile(cfg.ConfigPath); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}

	fs.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "host":
			cfg.Host = flags.Host
		case "port":
			cfg.Port = flags.Port
		case "interval":
			cfg.Interval = flags.Interval
		case "top":
			cfg.TopProcesses = flags.TopProcesses
		case "gpu":
			cfg.GPUBackend = flags.GPUBackend
		case "log-level":
			cfg.LogLevel = flags.LogLevel
		case "log-format":
			cfg.LogFormat = flags.LogFormat
		case "tui":
			cfg.TUI = flags.TUI
		case "version":
			cfg.ShowVersion = flags.ShowVersion
		}
	})
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(envPrefix + "HOST"); v != "" {
		c.Host = v
	}
	if v := os.Getenv(envPrefix + "PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sPORT: %w", envPrefix, err)
		}
		c.Port = port
	}
	// Bare numbers are seconds.
	if v := os.Getenv(envPrefix + "INTERVAL"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			c.Interval = parsed
		} else if parsed, err2 := time.ParseDuration(v + "s"); err2 == nil {
			c.Interval = parsed
		} else {
			return fmt.Errorf("%sINTERVAL: %w", envPrefix, err)
		}
	}
	if v := os.Getenv(envPrefix + "TOP"); v != "" {
		top, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sTOP: %w", envPrefix, err)
		}
		c.TopProcesses = top
	}
	switch v := os.Getenv(envPrefix + "GPU"); v {
	case "":
	case "0", "false":
		c.GPUBackend = accel.BackendNone
	case "1", "true":
		c.GPUBackend = accel.BackendAuto
	default:
		c.GPUBackend = v
	}
	if v := os.Getenv(envPrefix + "LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	return nil
}

// Validate reports every invalid option at once.
func (c Config) Validate() error {
	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.Interval <= 0 {
		errs = append(errs, fmt.Errorf("interval must be positive, got %s", c.Interval))
	}
	if c.TopProcesses < 0 {
		errs = append(errs, fmt.Errorf("top process count must not be negative, got %d", c.TopProcesses))
	}
	if !slices.Contains(accel.Backends, c.GPUBackend) {
		errs = append(errs, fmt.Errorf("unknown gpu backend %q", c.GPUBackend))
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log level: %w", err))
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// Addr is the listen address in host:port form.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
