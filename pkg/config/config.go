// Package config loads a64rec.toml.
package config

import (
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"

	"a64rec/pkg/recompiler"

	"github.com/BurntSushi/toml"
)

// Config is the whole configuration file
type Config struct {
	Translation Translation `toml:"translation"`
	Engine      Engine      `toml:"engine"`
	Log         Log         `toml:"log"`
}

// Translation controls unit discovery
type Translation struct {
	SingleBlock     bool `toml:"single-block"`
	PredictReturns  bool `toml:"predict-returns"`
	MaxInstructions int  `toml:"max-instructions"`
}

// Engine controls compilation workers and the profile database
type Engine struct {
	// Workers bounds parallel precompilation; zero means one per CPU
	Workers int `toml:"workers"`
	// ProfilePath is the pebble directory recording compiled entries; empty
	// disables the profile
	ProfilePath string `toml:"profile-path"`
}

// Log configures commonlog
type Log struct {
	Verbosity int    `toml:"verbosity"`
	Path      string `toml:"path"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Translation: Translation{MaxInstructions: 4096},
		Engine:      Engine{Workers: runtime.NumCPU()},
		Log:         Log{Verbosity: 1},
	}
}

// Load reads path over the defaults. Keys the file sets that Config does not
// know are an error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	c, err := Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes TOML text over the defaults and validates the result
func Parse(text string) (*Config, error) {
	c := Default()
	md, err := toml.Decode(text, c)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate rejects values no component can honor
func (c *Config) Validate() error {
	if c.Translation.MaxInstructions < 0 {
		return fmt.Errorf("translation.max-instructions must not be negative, got %d", c.Translation.MaxInstructions)
	}
	if c.Engine.Workers < 0 {
		return fmt.Errorf("engine.workers must not be negative, got %d", c.Engine.Workers)
	}
	if c.Log.Verbosity < -4 || c.Log.Verbosity > 5 {
		return fmt.Errorf("log.verbosity %d out of range", c.Log.Verbosity)
	}
	return nil
}

// Workers is the effective worker count
func (c *Config) Workers() int {
	if c.Engine.Workers == 0 {
		return runtime.NumCPU()
	}
	return c.Engine.Workers
}

// Options converts the translation section. SyscallEntry is left for the
// engine to fill in.
func (c *Config) Options() recompiler.Options {
	return recompiler.Options{
		SingleBlock:     c.Translation.SingleBlock,
		PredictReturns:  c.Translation.PredictReturns,
		MaxInstructions: c.Translation.MaxInstructions,
	}
}

// LogPath is the log file, or nil for stderr
func (c *Config) LogPath() *string {
	if c.Log.Path == "" {
		return nil
	}
	return &c.Log.Path
}
