// Package config holds the session configuration, its defaults and the TOML
// file loader.
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/samber/lo"

	"github.com/1ureka/commlink/internal/queue"
)

// Defaults applied by Resolve.
const (
	DefaultBaudRate      = 9600
	DefaultReadTimeout   = 100 * time.Millisecond
	DefaultQueueSize     = 256
	DefaultShutdownGrace = 2 * time.Second
)

var (
	// ErrInvalidPort means no port was given and the platform has no default.
	ErrInvalidPort = errors.New("invalid port")
	// ErrConfiguration covers every other rejected setting.
	ErrConfiguration = errors.New("invalid configuration")
)

// DefaultPorts maps runtime.GOOS to the device used when no port is set.
var DefaultPorts = map[string]string{
	"darwin": "/dev/cu.usbmodem144111",
	"linux":  "/dev/ttyACM0",
}

// Config stores every parameter a session needs. Zero fields are filled in
// by Resolve.
type Config struct {
	Port           string        `toml:"port"`
	BaudRate       int           `toml:"baud_rate"`
	Verbose        bool          `toml:"verbose"`
	ReadTimeout    time.Duration `toml:"read_timeout"`
	QueueSize      int           `toml:"queue_size"`
	Overflow       string        `toml:"overflow"`
	LegacyFraming  bool          `toml:"legacy_framing"`
	ShutdownGrace  time.Duration `toml:"shutdown_grace"`
	LogFile        string        `toml:"log_file"`
	Debug          bool          `toml:"debug"`
	BridgePIN      string        `toml:"bridge_pin"`
	OverflowPolicy queue.Policy  `toml:"-"`
}

// Load reads a TOML file into a Config. The result is not resolved.
func Load(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return cfg, nil
}

// Resolve fills defaults for the current platform and validates the result.
func (c Config) Resolve() (Config, error) {
	return c.ResolveFor(runtime.GOOS)
}

// ResolveFor is Resolve with an explicit platform identifier.
func (c Config) ResolveFor(goos string) (Config, error) {
	c.Port = strings.TrimSpace(c.Port)
	if c.Port == "" {
		port, ok := DefaultPorts[goos]
		if !ok {
			return Config{}, fmt.Errorf("%w: no port given and no default for %q (known: %s)",
				ErrInvalidPort, goos, strings.Join(knownPlatforms(), ", "))
		}
		c.Port = port
	}

	if c.BaudRate == 0 {
		c.BaudRate = DefaultBaudRate
	}
	if c.BaudRate < 0 {
		return Config{}, fmt.Errorf("%w: baud rate must be positive, got %d", ErrConfiguration, c.BaudRate)
	}

	if c.ReadTimeout == 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.ReadTimeout < 0 {
		return Config{}, fmt.Errorf("%w: read timeout must be positive, got %s", ErrConfiguration, c.ReadTimeout)
	}

	if c.QueueSize == 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.QueueSize < 0 {
		return Config{}, fmt.Errorf("%w: queue size must be positive, got %d", ErrConfiguration, c.QueueSize)
	}

	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = DefaultShutdownGrace
	}

	policy, err := queue.ParsePolicy(c.Overflow)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	c.OverflowPolicy = policy
	c.Overflow = policy.String()

	return c, nil
}

func knownPlatforms() []string {
	keys := lo.Keys(DefaultPorts)
	sort.Strings(keys)
	return keys
}
