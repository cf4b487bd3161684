// Package config loads the resolver's operational tunables from a TOML file.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/jonboulle/clockwork"
	"github.com/semihalev/log"
)

const configver = "1.0.0"

// Config holds the server's operational tunables. Protocol-fixed values
// (bailiwick rules, the response composition rules) are not configurable
// here; those live as constants next to the code that enforces them.
type Config struct {
	Version string

	// LogLevel controls server diagnostic verbosity: crit/error/warn/info/debug.
	LogLevel string

	// RetransmitInterval is how long the resolver waits for an iterative
	// response before resending (default: 1s).
	RetransmitInterval Duration

	// MaxAttempts is the retransmit budget per iterative step (default: 6).
	MaxAttempts int

	// PollInterval bounds how long the event loop blocks on socket
	// readiness before it re-checks timers. Keep this at 100ms or below
	// so retransmits and timeouts are noticed promptly.
	PollInterval Duration

	// UpstreamPort is the port iterative queries are sent to on remote
	// servers. 60053 is a test-harness convention, not the DNS default.
	UpstreamPort int

	// LogDir is where per-query trace files (log-<id>.txt) are written.
	LogDir string

	// CacheSizeHint is advisory; the cache itself is unbounded except by
	// TTL expiry, but a hint lets the debug API report pressure before
	// it becomes a problem.
	CacheSizeHint int

	// DebugAPI is the bind address for the debug/metrics HTTP server.
	// Empty disables it.
	DebugAPI string

	sVersion string
}

// Duration wraps time.Duration for human-friendly TOML values like "1s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for Duration.
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// WallClock is the clock the server hands to the resolver (query
// timestamps and retransmit timing) and to the per-query trace logger.
// Tests pass their own clockwork.FakeClock to those constructors instead.
var WallClock clockwork.Clock = clockwork.NewRealClock()

var defaultConfig = `
# Config version, config and build versions can be different.
version = "%s"

# What kind of information should be logged: crit, error, warn, info, debug.
loglevel = "info"

# How long to wait for an iterative response before retransmitting.
retransmitinterval = "1s"

# Retransmit budget per iterative step before giving up with SERVFAIL.
maxattempts = 6

# How long the event loop blocks on socket readiness between timer sweeps.
pollinterval = "100ms"

# Port iterative queries are sent to on remote servers. 60053 is a
# test-harness convention; production deployments must use 53.
upstreamport = 60053

# Directory per-query trace files (log-<id>.txt) are written to.
logdir = "."

# Advisory cache size hint surfaced by the debug API.
cachesizehint = 64000

# Bind address for the debug/metrics HTTP server. Blank disables it.
debugapi = ""
`

// Load reads cfgfile, generating a default one alongside sensible zero
// values if it does not exist yet.
func Load(cfgfile, version string) (*Config, error) {
	cfg := &Config{
		LogLevel:           "info",
		RetransmitInterval: Duration{time.Second},
		MaxAttempts:        6,
		PollInterval:       Duration{100 * time.Millisecond},
		UpstreamPort:       60053,
		LogDir:             ".",
		CacheSizeHint:      64000,
	}

	if _, err := os.Stat(cfgfile); os.IsNotExist(err) {
		if err := generateConfig(cfgfile); err != nil {
			return nil, err
		}
	}

	log.Info("Loading config file", "path", cfgfile)

	if _, err := toml.DecodeFile(cfgfile, cfg); err != nil {
		return nil, fmt.Errorf("could not load config: %s", err)
	}

	if cfg.Version != configver {
		log.Warn("Config file is out of version, you can generate a new one and check the changes")
	}

	cfg.sVersion = version

	return cfg, nil
}

// ServerVersion returns the running build version, separate from the
// config-file schema version.
func (c *Config) ServerVersion() string {
	return c.sVersion
}

func generateConfig(path string) error {
	output, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("could not generate config: %s", err)
	}

	defer func() {
		if err := output.Close(); err != nil {
			log.Warn("Config generation failed while closing file", "error", err.Error())
		}
	}()

	r := strings.NewReader(fmt.Sprintf(defaultConfig, configver))
	if _, err := io.Copy(output, r); err != nil {
		return fmt.Errorf("could not copy default config: %s", err)
	}

	if abs, err := filepath.Abs(path); err == nil {
		log.Info("Default config file generated", "config", abs)
	}

	return nil
}
