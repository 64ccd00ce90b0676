// Package manifest handles blast.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/nijnstein/blast/compiler"
	"github.com/nijnstein/blast/pkg/bytecode"
)

// FileName is the name of the project file.
const FileName = "blast.toml"

// Manifest represents a blast.toml project configuration.
type Manifest struct {
	Project  Project        `toml:"project"`
	Compiler CompilerConfig `toml:"compiler"`
	Runtime  RuntimeConfig  `toml:"runtime"`
	Log      LogConfig      `toml:"log"`

	// Dir is the directory containing the blast.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string   `toml:"name"`
	Version string   `toml:"version"`
	Scripts []string `toml:"scripts"`
	Output  string   `toml:"output"`
	Cache   string   `toml:"cache"`
}

// CompilerConfig mirrors compiler.Options.
type CompilerConfig struct {
	Mode               string `toml:"mode"`
	InlineConstantData *bool  `toml:"inline-constant-data"`
	ParallelCompile    bool   `toml:"parallel-compile"`
	ParallelResolve    bool   `toml:"parallel-resolve"`
	VerifyResolve      bool   `toml:"verify-resolve"`
	StackSize          int    `toml:"stack-size"`
	Workers            int    `toml:"workers"`
}

// RuntimeConfig configures package execution.
type RuntimeConfig struct {
	Seed    uint64 `toml:"seed"`
	Workers int    `toml:"workers"`
}

// LogConfig configures logging.
type LogConfig struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Load parses a blast.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	// Defaults
	if len(m.Project.Scripts) == 0 {
		m.Project.Scripts = []string{"scripts"}
	}
	if m.Project.Output == "" {
		m.Project.Output = "build"
	}
	if m.Project.Cache == "" {
		m.Project.Cache = filepath.Join(".blast", "cache.db")
	}
	if m.Runtime.Seed == 0 {
		m.Runtime.Seed = 1
	}

	if _, err := m.CompilerOptions(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &m, nil
}

// FindAndLoad walks up from startDir to find a blast.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
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

// CompilerOptions converts the [compiler] section. Unset fields keep the
// values of compiler.DefaultOptions.
func (m *Manifest) CompilerOptions() (compiler.Options, error) {
	opts := compiler.DefaultOptions()
	c := m.Compiler
	if c.Mode != "" {
		mode, err := bytecode.ParseMode(c.Mode)
		if err != nil {
			return opts, err
		}
		opts.Mode = mode
	}
	if c.InlineConstantData != nil {
		opts.InlineConstantData = *c.InlineConstantData
	}
	if c.StackSize < 0 {
		return opts, fmt.Errorf("stack-size %d is negative", c.StackSize)
	}
	if c.StackSize > 0 {
		opts.StackSize = c.StackSize
	}
	opts.ParallelCompile = c.ParallelCompile
	opts.ParallelResolve = c.ParallelResolve
	opts.VerifyResolve = c.VerifyResolve
	opts.Workers = c.Workers
	return opts, nil
}

// ScriptPaths returns absolute paths for the configured script directories.
func (m *Manifest) ScriptPaths() []string {
	var paths []string
	for _, d := range m.Project.Scripts {
		paths = append(paths, m.path(d))
	}
	return paths
}

// OutputDir returns the directory compiled packages are written to.
func (m *Manifest) OutputDir() string {
	return m.path(m.Project.Output)
}

// CachePath returns the path of the compiled package cache.
func (m *Manifest) CachePath() string {
	return m.path(m.Project.Cache)
}

func (m *Manifest) path(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}
