// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/jarpack/lib/ownership"
	"github.com/bureau-foundation/jarpack/lib/zipentry"
)

// EnvironmentVariable names the config file when --config is absent.
const EnvironmentVariable = "JARPACK_CONFIG"

// Config is the complete jarpack configuration.
type Config struct {
	// Build configures "jarpack create".
	Build BuildConfig `yaml:"build"`

	// Extract configures "jarpack extract".
	Extract ExtractConfig `yaml:"extract"`

	// Log configures the command logger.
	Log LogConfig `yaml:"log"`
}

// BuildConfig configures container creation.
type BuildConfig struct {
	// Workers is the compression pool size. Zero selects the number
	// of CPUs.
	Workers int `yaml:"workers"`

	// MemoryBudget is the in-memory budget shared by all backing
	// stores before they spill, in bytes or with a unit ("100MB",
	// "64MiB").
	MemoryBudget string `yaml:"memory_budget"`

	// TempDir holds spill files.
	// Default: ${TMPDIR:-/tmp}
	TempDir string `yaml:"temp_dir"`

	// Method is the compression method for file entries: store,
	// deflate or zstd.
	Method string `yaml:"method"`

	// Level is the compression level. -1 selects the method's default.
	Level int `yaml:"level"`

	// SequentialBelow is the size under which files are compressed on
	// the producer instead of the worker pool. Tiny entries cost more
	// to hand off than to compress.
	SequentialBelow string `yaml:"sequential_below"`

	// Manifest configures the generated META-INF/MANIFEST.MF. It is
	// ignored when the input tree already contains one.
	Manifest ManifestConfig `yaml:"manifest"`
}

// ManifestConfig configures the generated manifest.
type ManifestConfig struct {
	// CreatedBy is the Created-By attribute.
	CreatedBy string `yaml:"created_by"`

	// MainClass is the Main-Class attribute, omitted when empty.
	MainClass string `yaml:"main_class"`

	// Attributes are additional main-section attributes. They are
	// written sorted by name.
	Attributes map[string]string `yaml:"attributes"`
}

// ExtractConfig configures extraction.
type ExtractConfig struct {
	// PreserveMode applies recorded permission bits to extracted
	// files.
	PreserveMode bool `yaml:"preserve_mode"`

	// Owner is applied to every extracted path, in "user:group" form.
	// Empty leaves ownership to the extracting user.
	Owner string `yaml:"owner"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// Format is auto, text or json. Auto selects text on a terminal
	// and JSON otherwise.
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Build: BuildConfig{
			Workers:         0,
			MemoryBudget:    "100MB",
			TempDir:         "${TMPDIR:-/tmp}",
			Method:          zipentry.MethodDeflate.String(),
			Level:           -1,
			SequentialBelow: "4KiB",
			Manifest: ManifestConfig{
				CreatedBy: "jarpack",
			},
		},
		Extract: ExtractConfig{
			PreserveMode: true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Resolve loads flagPath if set, else the file named by
// JARPACK_CONFIG if set, else returns Default with variables expanded.
func Resolve(flagPath string) (*Config, error) {
	path := flagPath
	if path == "" {
		path = os.Getenv(EnvironmentVariable)
	}
	if path == "" {
		cfg := Default()
		cfg.expandVariables()
		return cfg, nil
	}
	return LoadFile(path)
}

// LoadFile loads configuration from path on top of Default.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		// JSON is YAML, so one decoder and one set of tags serve both
		// once comments and trailing commas are gone.
		data = jsonc.ToJSON(data)
	}
	return yaml.Unmarshal(data, c)
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.Build.TempDir = expandVars(c.Build.TempDir, vars)
}

// varPattern matches ${VAR} and ${VAR:-default}.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors. Every problem is
// reported, not just the first.
func (c *Config) Validate() error {
	var errs []error

	if c.Build.Workers < 0 {
		errs = append(errs, fmt.Errorf("build.workers must not be negative, got %d", c.Build.Workers))
	}
	if budget, err := c.Build.MemoryBudgetBytes(); err != nil {
		errs = append(errs, err)
	} else if budget < int64(c.Build.WorkerCount()) {
		errs = append(errs, fmt.Errorf("build.memory_budget %s leaves less than one byte per worker", c.Build.MemoryBudget))
	}
	if c.Build.TempDir == "" {
		errs = append(errs, errors.New("build.temp_dir is required"))
	}
	if _, err := c.Build.CompressionMethod(); err != nil {
		errs = append(errs, fmt.Errorf("build.method: %w", err))
	}
	if c.Build.Level < -2 || c.Build.Level > 9 {
		errs = append(errs, fmt.Errorf("build.level must be between -2 and 9, got %d", c.Build.Level))
	}
	if _, err := c.Build.SequentialBelowBytes(); err != nil {
		errs = append(errs, err)
	}
	for name := range c.Build.Manifest.Attributes {
		if name == "" || strings.ContainsAny(name, ": \r\n") {
			errs = append(errs, fmt.Errorf("build.manifest.attributes: invalid attribute name %q", name))
		}
	}

	if c.Extract.Owner != "" {
		if _, err := ownership.Parse(c.Extract.Owner); err != nil {
			errs = append(errs, fmt.Errorf("extract.owner: %w", err))
		}
	}

	logLevels := []string{"debug", "info", "warn", "error"}
	if !contains(logLevels, c.Log.Level) {
		errs = append(errs, fmt.Errorf("log.level must be one of: %v", logLevels))
	}
	logFormats := []string{"auto", "text", "json"}
	if !contains(logFormats, c.Log.Format) {
		errs = append(errs, fmt.Errorf("log.format must be one of: %v", logFormats))
	}

	return errors.Join(errs...)
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}

// WorkerCount returns Workers, or the CPU count when it is zero.
func (b *BuildConfig) WorkerCount() int {
	if b.Workers > 0 {
		return b.Workers
	}
	return runtime.NumCPU()
}

// MemoryBudgetBytes parses MemoryBudget.
func (b *BuildConfig) MemoryBudgetBytes() (int64, error) {
	return parseSize("build.memory_budget", b.MemoryBudget)
}

// SequentialBelowBytes parses SequentialBelow.
func (b *BuildConfig) SequentialBelowBytes() (int64, error) {
	return parseSize("build.sequential_below", b.SequentialBelow)
}

// CompressionMethod parses Method.
func (b *BuildConfig) CompressionMethod() (zipentry.Method, error) {
	return zipentry.ParseMethod(b.Method)
}

func parseSize(field, value string) (int64, error) {
	size, err := humanize.ParseBytes(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if size > 1<<62 {
		return 0, fmt.Errorf("%s: %s is too large", field, value)
	}
	return int64(size), nil
}

// Render returns the manifest text for the configured attributes. Lines
// use CRLF endings and the mandatory Manifest-Version comes first.
func (m *ManifestConfig) Render() string {
	var builder strings.Builder
	builder.WriteString("Manifest-Version: 1.0\r\n")
	if m.CreatedBy != "" {
		fmt.Fprintf(&builder, "Created-By: %s\r\n", m.CreatedBy)
	}
	if m.MainClass != "" {
		fmt.Fprintf(&builder, "Main-Class: %s\r\n", m.MainClass)
	}
	names := make([]string, 0, len(m.Attributes))
	for name := range m.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&builder, "%s: %s\r\n", name, m.Attributes[name])
	}
	builder.WriteString("\r\n")
	return builder.String()
}
