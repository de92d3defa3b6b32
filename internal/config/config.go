// Package config builds runtime configuration from command-line flags with
// environment-variable defaults. There is no configuration file.
package config

import (
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/worldland/gpustats/internal/emitter"
	"github.com/worldland/gpustats/internal/proctree"
	"github.com/worldland/gpustats/internal/sampler"
)

// Config represents runtime configuration
type Config struct {
	TargetPID     uint32
	Interval      time.Duration
	DeviceFailure sampler.FailurePolicy
	ProcSource    string
	Format        emitter.Format
	LogLevel      string
	MetricsAddr   string
	Mock          bool
}

// Default returns the configuration used when nothing is set
func Default() Config {
	return Config{
		TargetPID:     0,
		Interval:      time.Second,
		DeviceFailure: sampler.PolicyAbort,
		ProcSource:    proctree.SourcePgrep,
		Format:        emitter.FormatJSON,
		LogLevel:      "info",
	}
}

// Load parses args (without the program name). Precedence is flag > env > default.
// getenv is usually os.Getenv. pflag.ErrHelp is returned when --help was given.
func Load(args []string, getenv func(string) string, usage io.Writer) (Config, error) {
	cfg := Default()

	if err := applyEnv(&cfg, getenv); err != nil {
		return Config{}, err
	}

	var (
		interval      = cfg.Interval
		deviceFailure = string(cfg.DeviceFailure)
		procSource    = cfg.ProcSource
		format        = string(cfg.Format)
	)

	flagSet := pflag.NewFlagSet("gpustats", pflag.ContinueOnError)
	flagSet.SetOutput(usage)
	flagSet.Usage = func() {
		fmt.Fprintf(usage, "Usage: gpustats [flags] [pid]\n\nSamples GPU telemetry once per interval and writes one JSON record per line to stdout.\n\nFlags:\n")
		flagSet.PrintDefaults()
	}
	flagSet.DurationVar(&interval, "interval", interval, "sampling period")
	flagSet.StringVar(&deviceFailure, "device-failure", deviceFailure, "on device or required metric failure: abort the pass or skip the device (abort|skip)")
	flagSet.StringVar(&procSource, "proc-source", procSource, "process table source for attribution (pgrep|table)")
	flagSet.StringVar(&format, "format", format, "record encoding on stdout (json|cbor)")
	flagSet.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level for stderr diagnostics (debug|info|warn|error)")
	flagSet.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "serve Prometheus self-metrics on this address (disabled when empty)")
	flagSet.BoolVar(&cfg.Mock, "mock", cfg.Mock, "use a scripted mock device instead of NVML")

	if err := flagSet.Parse(numericPositionals(args)); err != nil {
		return Config{}, err
	}

	if flagSet.NArg() > 0 {
		cfg.TargetPID = ParsePID(flagSet.Arg(0))
	}

	if interval <= 0 {
		return Config{}, fmt.Errorf("--interval must be > 0")
	}
	cfg.Interval = interval

	policy, err := sampler.ParseFailurePolicy(deviceFailure)
	if err != nil {
		return Config{}, err
	}
	cfg.DeviceFailure = policy

	if _, err := proctree.NewLister(procSource); err != nil {
		return Config{}, err
	}
	cfg.ProcSource = procSource

	f, err := emitter.ParseFormat(format)
	if err != nil {
		return Config{}, err
	}
	cfg.Format = f

	return cfg, nil
}

// numericPositionals moves dash-prefixed numbers such as "-5" behind a "--"
// terminator so they reach the pid argument instead of the shorthand parser
func numericPositionals(args []string) []string {
	var out, numbers []string
	for i, arg := range args {
		if arg == "--" {
			if len(numbers) == 0 {
				return args
			}
			out = append(out, "--")
			out = append(out, numbers...)
			return append(out, args[i+1:]...)
		}
		if negativeNumber.MatchString(arg) {
			numbers = append(numbers, arg)
			continue
		}
		out = append(out, arg)
	}
	if len(numbers) == 0 {
		return args
	}
	out = append(out, "--")
	return append(out, numbers...)
}

var negativeNumber = regexp.MustCompile(`^-\d+$`)

// ParsePID parses a target pid; anything unparsable means 0
func ParsePID(s string) uint32 {
	pid, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0
	}
	return uint32(pid)
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	if value := strings.TrimSpace(getenv("GPUSTATS_PID")); value != "" {
		cfg.TargetPID = ParsePID(value)
	}

	if value := strings.TrimSpace(getenv("GPUSTATS_INTERVAL")); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("parse GPUSTATS_INTERVAL: %w", err)
		}
		if duration <= 0 {
			return fmt.Errorf("GPUSTATS_INTERVAL must be > 0")
		}
		cfg.Interval = duration
	}

	if value := strings.TrimSpace(getenv("GPUSTATS_DEVICE_FAILURE")); value != "" {
		policy, err := sampler.ParseFailurePolicy(value)
		if err != nil {
			return fmt.Errorf("parse GPUSTATS_DEVICE_FAILURE: %w", err)
		}
		cfg.DeviceFailure = policy
	}

	if value := strings.TrimSpace(getenv("GPUSTATS_PROC_SOURCE")); value != "" {
		cfg.ProcSource = value
	}

	if value := strings.TrimSpace(getenv("GPUSTATS_FORMAT")); value != "" {
		format, err := emitter.ParseFormat(value)
		if err != nil {
			return fmt.Errorf("parse GPUSTATS_FORMAT: %w", err)
		}
		cfg.Format = format
	}

	if value := strings.TrimSpace(getenv("GPUSTATS_LOG_LEVEL")); value != "" {
		cfg.LogLevel = strings.ToLower(value)
	}

	if value := strings.TrimSpace(getenv("GPUSTATS_METRICS_ADDR")); value != "" {
		cfg.MetricsAddr = value
	}

	if value := strings.TrimSpace(getenv("GPUSTATS_MOCK")); value != "" {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("parse GPUSTATS_MOCK: %w", err)
		}
		cfg.Mock = enabled
	}

	return nil
}
