// Package config loads the meshd server configuration from yaml, json or toml.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"meshd/internal/parallel"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and are replaced by WithDefaults.
type Config struct {
	Addr    string `json:"addr" yaml:"addr" toml:"addr"`
	MeshDir string `json:"mesh_dir" yaml:"mesh_dir" toml:"mesh_dir"`

	// Threads sizes the worker pool; 0 means all cores.
	Threads int `json:"threads" yaml:"threads" toml:"threads"`
	// Affinity pins threads to cores, "thread:core" pairs separated by commas.
	Affinity string `json:"affinity" yaml:"affinity" toml:"affinity"`

	LogLevel  string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format" toml:"log_format"`
	// RequestLog is the per-request log level: off, error, info or debug.
	// Empty keeps the MESHD_REQUEST_LOG environment default.
	RequestLog string `json:"request_log" yaml:"request_log" toml:"request_log"`

	MaxQueueDepth int   `json:"max_queue_depth" yaml:"max_queue_depth" toml:"max_queue_depth"`
	MaxWaitMS     int   `json:"max_wait_ms" yaml:"max_wait_ms" toml:"max_wait_ms"`
	MaxBodyBytes  int64 `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`

	CORSEnabled bool     `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled"`
	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
}

// Defaults.
const (
	DefaultAddr          = ":8080"
	DefaultMeshDir       = "."
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "console"
	DefaultMaxQueueDepth = 8
	DefaultMaxWaitMS     = 30000
	DefaultMaxBodyBytes  = 256 << 20
)

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	case ".json":
		err = json.Unmarshal(b, &cfg)
	case ".toml":
		err = toml.Unmarshal(b, &cfg)
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	if err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// WithDefaults returns c with every unspecified field set.
func (c Config) WithDefaults() Config {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.MeshDir == "" {
		c.MeshDir = DefaultMeshDir
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = DefaultLogFormat
	}
	if c.MaxQueueDepth <= 0 {
		c.MaxQueueDepth = DefaultMaxQueueDepth
	}
	if c.MaxWaitMS <= 0 {
		c.MaxWaitMS = DefaultMaxWaitMS
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return c
}

// Validate checks the fields that have a closed set of values.
func (c Config) Validate() error {
	if c.Threads < 0 || c.Threads > parallel.MaxThreads {
		return fmt.Errorf("threads must be in [0, %d], got %d", parallel.MaxThreads, c.Threads)
	}
	if _, err := ParseAffinity(c.Affinity); err != nil {
		return err
	}
	switch c.LogFormat {
	case "", "console", "json":
	default:
		return fmt.Errorf("log_format must be console or json, got %q", c.LogFormat)
	}
	switch c.RequestLog {
	case "", "off", "error", "info", "debug":
	default:
		return fmt.Errorf("request_log must be off, error, info or debug, got %q", c.RequestLog)
	}
	return nil
}

// ParseAffinity parses "0:2,1:3" into {0: 2, 1: 3}. An empty string is a nil
// map.
func ParseAffinity(s string) (map[int]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	out := make(map[int]int)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		th, core, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, fmt.Errorf("affinity entry %q: want thread:core", pair)
		}
		t, err := strconv.Atoi(strings.TrimSpace(th))
		if err != nil {
			return nil, fmt.Errorf("affinity entry %q: bad thread index: %w", pair, err)
		}
		c, err := strconv.Atoi(strings.TrimSpace(core))
		if err != nil {
			return nil, fmt.Errorf("affinity entry %q: bad core id: %w", pair, err)
		}
		if _, dup := out[t]; dup {
			return nil, fmt.Errorf("affinity entry %q: thread %d listed twice", pair, t)
		}
		out[t] = c
	}
	return out, nil
}

// FormatAffinity is the inverse of ParseAffinity, ordered by thread.
func FormatAffinity(m map[int]int) string {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = strconv.Itoa(k) + ":" + strconv.Itoa(m[k])
	}
	return strings.Join(parts, ",")
}
