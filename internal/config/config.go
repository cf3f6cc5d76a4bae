// Package config handles p2w.toml project configuration.
//
// A project file names the entry module and where the outputs go, and
// sets the compiler options and logging for the project:
//
//	[build]
//	entry = "main.py"
//	output = "out/main.wat"
//	manifest = "out/host.json"
//	artifact = "out/main.p2w"
//
//	[compile]
//	exhaustive_match = true
//	debug = false
//
//	[log]
//	verbosity = 1
//	file = "p2w.log"
//
// Relative paths are relative to the directory of the file.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// FileName is the name of a project file.
const FileName = "p2w.toml"

// Config is a p2w.toml project configuration.
type Config struct {
	Build   Build   `toml:"build"`
	Compile Compile `toml:"compile"`
	Log     Log     `toml:"log"`

	// Dir is the directory containing the p2w.toml file (set at load time).
	Dir string `toml:"-"`
}

// Build names the inputs and outputs of a build.
type Build struct {
	Entry    string `toml:"entry"`
	Output   string `toml:"output"`
	Manifest string `toml:"manifest"`
	Artifact string `toml:"artifact"`
}

// Compile sets compiler options.
type Compile struct {
	ExhaustiveMatch bool `toml:"exhaustive_match"`
	Debug           bool `toml:"debug"`
}

// Log configures logging.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Default returns the configuration used without a project file.
func Default() *Config {
	return &Config{Build: Build{Entry: "main.py"}}
}

// Load parses the p2w.toml file in dir.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return c, nil
}

// Parse parses the text of a project file. Keys that the file omits
// keep their defaults; unknown keys are an error.
func Parse(data []byte) (*Config, error) {
	c := Default()
	md, err := toml.Decode(string(data), c)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown key %s", undecoded[0])
	}
	return c, nil
}

// FindAndLoad walks up from startDir to find a p2w.toml file, then
// loads it. It returns nil if there is none.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, FileName)); err == nil {
			return Load(dir)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// Path resolves a path from the file against the file's directory.
// It returns "" for "".
func (c *Config) Path(p string) string {
	if p == "" || filepath.IsAbs(p) || c.Dir == "" {
		return p
	}
	return filepath.Join(c.Dir, p)
}
