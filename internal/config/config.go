// Package config assembles the configuration of one server node from
// defaults, RTI_* environment variables and an optional JSON file.
// Command-line flags are applied on top by the caller.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/signalsfoundry/rti/internal/observability"
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid configuration")

// Config describes one server node.
type Config struct {
	// Name identifies the node in logs and spans.
	Name string `json:"name"`

	// ListenAddress is where the node accepts transport streams.
	ListenAddress string `json:"listenAddress"`

	// ParentAddress is the upstream node. Empty makes this node the root.
	ParentAddress string `json:"parentAddress,omitempty"`

	// MetricsAddress serves /metrics over HTTP. Empty disables it.
	MetricsAddress string `json:"metricsAddress,omitempty"`

	// DDMEnabled turns region-based filtering on.
	// Default: true
	DDMEnabled bool `json:"ddmEnabled"`

	// SaveDir holds federation save records. Empty keeps them in memory.
	SaveDir string `json:"saveDir,omitempty"`

	LogLevel  string `json:"logLevel,omitempty"`
	LogFormat string `json:"logFormat,omitempty"`

	Tracing observability.TracingConfig `json:"tracing"`
}

// Default returns a root node listening on the default port.
func Default() Config {
	return Config{
		Name:           "rtinode",
		ListenAddress:  ":14321",
		MetricsAddress: ":9090",
		DDMEnabled:     true,
		LogLevel:       "info",
		LogFormat:      "text",
		Tracing:        observability.DefaultTracingConfig(),
	}
}

// Load returns defaults overlaid with the environment and then with the
// JSON file at path, when path is not empty. Fields the file omits keep
// their earlier value.
func Load(path string) (Config, error) {
	cfg := FromEnv(Default())
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// FromEnv overlays RTI_* environment variables on base.
func FromEnv(base Config) Config {
	cfg := base
	setString(&cfg.Name, "RTI_NAME")
	setString(&cfg.ListenAddress, "RTI_LISTEN_ADDRESS")
	setString(&cfg.ParentAddress, "RTI_PARENT_ADDRESS")
	setString(&cfg.MetricsAddress, "RTI_METRICS_ADDRESS")
	setString(&cfg.SaveDir, "RTI_SAVE_DIR")
	setString(&cfg.LogLevel, "RTI_LOG_LEVEL")
	setString(&cfg.LogFormat, "RTI_LOG_FORMAT")
	if raw := os.Getenv("RTI_DDM_ENABLED"); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			cfg.DDMEnabled = v
		}
	}
	cfg.Tracing = observability.TracingConfigFromEnv(cfg.Tracing)
	return cfg
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

// Validate reports the first problem that would stop the node from
// starting.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalid)
	}
	if err := checkAddress("listen address", c.ListenAddress); err != nil {
		return err
	}
	if c.ParentAddress != "" {
		if err := checkAddress("parent address", c.ParentAddress); err != nil {
			return err
		}
		if c.ParentAddress == c.ListenAddress {
			return fmt.Errorf("%w: node cannot be its own parent (%s)", ErrInvalid, c.ParentAddress)
		}
	}
	if c.MetricsAddress != "" {
		if err := checkAddress("metrics address", c.MetricsAddress); err != nil {
			return err
		}
		if c.MetricsAddress == c.ListenAddress {
			return fmt.Errorf("%w: metrics and listen address are both %s", ErrInvalid, c.ListenAddress)
		}
	}
	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("%w: log level %q", ErrInvalid, c.LogLevel)
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		return fmt.Errorf("%w: log format %q", ErrInvalid, c.LogFormat)
	}
	if err := c.Tracing.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

func checkAddress(what, addr string) error {
	if addr == "" {
		return fmt.Errorf("%w: %s is empty", ErrInvalid, what)
	}
	if _, port, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("%w: %s %q: %v", ErrInvalid, what, addr, err)
	} else if _, err := strconv.ParseUint(port, 10, 16); err != nil {
		return fmt.Errorf("%w: %s %q: bad port", ErrInvalid, what, addr)
	}
	return nil
}
