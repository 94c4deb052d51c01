package config

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/23skdu/longbow-bodkin/internal/logger"
)

// PackMode is the per-call override for the packing decision. PackAuto
// defers to the process-wide policy; PackAlways and PackNever are used
// verbatim.
type PackMode int

const (
	PackAuto PackMode = iota
	PackAlways
	PackNever
)

func (m PackMode) String() string {
	switch m {
	case PackAuto:
		return "auto"
	case PackAlways:
		return "always"
	case PackNever:
		return "never"
	}
	return fmt.Sprintf("PackMode(%d)", int(m))
}

// ForcePackedEnv overrides the platform default for the packing policy.
// Unset keeps the default. Set to "" or "0" it disables packing; any
// other value enables it.
const ForcePackedEnv = "LONGBOW_FORCE_PACKED"

// PackPolicy is the process-wide packing decision: platform default,
// overridable once by the environment. The decision is computed on first
// use and frozen for the life of the policy; mutating the environment
// afterwards has no effect.
type PackPolicy struct {
	platformDefault bool
	lookup          func(string) (string, bool)

	once     sync.Once
	decision bool
}

// NewPackPolicy builds a policy reading the real environment.
// platformDefault should be Backend.RequiresPacked() of the active
// backend.
func NewPackPolicy(platformDefault bool) *PackPolicy {
	return NewPackPolicyWithLookup(platformDefault, os.LookupEnv)
}

// NewPackPolicyWithLookup injects the environment lookup, for tests.
func NewPackPolicyWithLookup(platformDefault bool, lookup func(string) (string, bool)) *PackPolicy {
	return &PackPolicy{platformDefault: platformDefault, lookup: lookup}
}

// ShouldPack resolves the packing decision for one call. A non-auto mode
// wins outright; otherwise the frozen process-wide decision applies.
func (p *PackPolicy) ShouldPack(mode PackMode) bool {
	switch mode {
	case PackAlways:
		return true
	case PackNever:
		return false
	}
	p.once.Do(p.compute)
	return p.decision
}

func (p *PackPolicy) compute() {
	tf := p.platformDefault
	if v, ok := p.lookup(ForcePackedEnv); ok {
		tf = v != "" && v != "0"
	}
	p.decision = tf
	logger.Log.Debug("packing decision computed", "packed", tf, "default", p.platformDefault)
}

// Config holds library-wide settings for the bench and demo tools.
type Config struct {
	LogLevel  string
	LogFormat string
	PackMode  PackMode
}

func (c *Config) Validate() error {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		return fmt.Errorf("invalid log_level: %q", c.LogLevel)
	}
	switch strings.ToLower(c.LogFormat) {
	case "console", "json":
	default:
		return fmt.Errorf("invalid log_format: %q", c.LogFormat)
	}
	if c.PackMode < PackAuto || c.PackMode > PackNever {
		return fmt.Errorf("invalid pack_mode: %d", c.PackMode)
	}
	return nil
}

func Default() Config {
	return Config{
		LogLevel:  "INFO",
		LogFormat: "console",
		PackMode:  PackAuto,
	}
}
