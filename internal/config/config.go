package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"system-toolbox/internal/safety"
)

type PolicyCfg struct {
	SafePaths             []string `yaml:"safe_paths" json:"safe_paths"`
	SafePatterns          []string `yaml:"safe_patterns" json:"safe_patterns"` // wildcard, * and ?
	ExcludedExtensions    []string `yaml:"excluded_extensions" json:"excluded_extensions"`
	BrowserProtectedNames []string `yaml:"browser_protected_names" json:"browser_protected_names"`
	MaxFileAgeDays        int      `yaml:"max_file_age_days" json:"max_file_age_days"`
}

// Target is a named directory tree cleaned by the temp cleaner.
type Target struct {
	Name      string   `yaml:"name" json:"name"`
	Path      string   `yaml:"path" json:"path"`
	Enabled   bool     `yaml:"enabled" json:"enabled"`
	Processes []string `yaml:"terminate_processes,omitempty" json:"terminate_processes,omitempty"`
}

// BrowserCfg describes where a browser keeps disposable data.
// Known browsers get their paths filled in from the built-in catalog.
type BrowserCfg struct {
	Name    string `yaml:"name" json:"name"`
	Enabled bool   `yaml:"enabled" json:"enabled"`
	// Paths are cache directories or single files (e.g. a cookie store).
	Paths []string `yaml:"paths,omitempty" json:"paths,omitempty"`
	// ProfileRoots hold one directory per profile (Firefox layout).
	ProfileRoots []string `yaml:"profile_roots,omitempty" json:"profile_roots,omitempty"`
	Processes    []string `yaml:"processes,omitempty" json:"processes,omitempty"`
}

type RecycleBinCfg struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	NoSound bool `yaml:"no_sound" json:"no_sound"`
}

type PrometheusCfg struct {
	Port int `yaml:"port" json:"port"`
}

type LoggingCfg struct {
	File       string `yaml:"file" json:"file"` // empty logs to stdout only
	Level      string `yaml:"level" json:"level"`
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"`
	Compress   bool   `yaml:"compress" json:"compress"`
}

type WorkerPoolConfig struct {
	Concurrency    int `yaml:"concurrency" json:"concurrency"`         // Number of concurrent cleaning tasks (default: 4)
	QueueSize      int `yaml:"queue_size" json:"queue_size"`           // Pending tasks before Submit blocks (default: 64)
	TimeoutSeconds int `yaml:"timeout_seconds" json:"timeout_seconds"` // Wait limit per session, 0 = none
}

type APIKey struct {
	Name  string   `yaml:"name" json:"name"`
	Key   string   `yaml:"key" json:"-"`
	Roles []string `yaml:"roles" json:"roles"`
}

type APICfg struct {
	Address       string   `yaml:"address" json:"address"`
	TLSCert       string   `yaml:"tls_cert" json:"tls_cert"`
	TLSKey        string   `yaml:"tls_key" json:"tls_key"`
	JWTSecret     string   `yaml:"jwt_secret" json:"-"`
	JWTSecretFile string   `yaml:"jwt_secret_file" json:"jwt_secret_file"`
	JWTExpiry     string   `yaml:"jwt_expiry" json:"jwt_expiry"`
	APIKeys       []APIKey `yaml:"api_keys" json:"api_keys"`
	RateLimit     float64  `yaml:"rate_limit" json:"rate_limit"` // requests per second per client
	RateBurst     int      `yaml:"rate_burst" json:"rate_burst"`
	MaxBodyBytes  int64    `yaml:"max_body_bytes" json:"max_body_bytes"`
}

type Config struct {
	Policy              PolicyCfg        `yaml:"policy" json:"policy"`
	TempLocations       []Target         `yaml:"temp_locations" json:"temp_locations"`
	Browsers            []BrowserCfg     `yaml:"browsers" json:"browsers"`
	RecycleBin          RecycleBinCfg    `yaml:"recycle_bin" json:"recycle_bin"`
	IntervalMinutes     int              `yaml:"interval_minutes" json:"interval_minutes"` // 0 runs once
	DryRun              bool             `yaml:"dry_run" json:"dry_run"`
	DeleteRatePerSecond float64          `yaml:"delete_rate_per_second" json:"delete_rate_per_second"` // 0 = unthrottled
	Prometheus          PrometheusCfg    `yaml:"prometheus" json:"prometheus"`
	Logging             LoggingCfg       `yaml:"logging" json:"logging"`
	WorkerPool          WorkerPoolConfig `yaml:"worker_pool" json:"worker_pool"`
	API                 APICfg           `yaml:"api" json:"api"`
	DatabasePath        string           `yaml:"database_path" json:"database_path"` // Path to SQLite run history
}

// ErrInvalidConfig wraps every load, decode and validation failure.
var ErrInvalidConfig = errors.New("invalid config")

var (
	errInvalidPath     = errors.New("path must be absolute")
	errNegativeAge     = errors.New("max_file_age_days cannot be negative")
	errNegativeValue   = errors.New("value cannot be negative")
	errDuplicateName   = errors.New("duplicate target name")
	errUnknownBrowser  = errors.New("unknown browser without paths")
	errInvalidLogLevel = errors.New("logging.level must be one of debug, info, warn, error")
	errInvalidExpiry   = errors.New("api.jwt_expiry is not a valid duration")
	errMissingName     = errors.New("target name is required")
)

// Load reads and validates the configuration at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open config: %w", ErrInvalidConfig, err)
	}
	defer f.Close()
	return Parse(f)
}

// LoadOrDefault behaves like Load but falls back to Default when no file
// exists at path.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default()
	}
	return cfg, err
}

// Default returns the built-in configuration for this machine.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := cfg.validateAndDefault(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes and validates YAML from r.
func Parse(r io.Reader) (*Config, error) {
	cfg, err := decode(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := cfg.validateAndDefault(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return cfg, nil
}

func decode(r io.Reader) (*Config, error) {
	cfg := &Config{}
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return cfg, nil
}

func (c *Config) validateAndDefault() error {
	if err := c.Policy.validateAndDefault(); err != nil {
		return err
	}

	if c.TempLocations == nil {
		c.TempLocations = DefaultTempLocations()
	}
	seen := make(map[string]bool)
	for i := range c.TempLocations {
		t := &c.TempLocations[i]
		if t.Name == "" {
			return errMissingName
		}
		if seen[t.Name] {
			return fmt.Errorf("%w: %s", errDuplicateName, t.Name)
		}
		seen[t.Name] = true
		cp, err := cleanAbsolute(t.Path)
		if err != nil {
			return fmt.Errorf("temp location %s: %w", t.Name, err)
		}
		t.Path = cp
	}

	if c.Browsers == nil {
		c.Browsers = DefaultBrowsers()
	}
	for i := range c.Browsers {
		if err := c.Browsers[i].fillAndValidate(); err != nil {
			return err
		}
		if seen[c.Browsers[i].Name] {
			return fmt.Errorf("%w: %s", errDuplicateName, c.Browsers[i].Name)
		}
		seen[c.Browsers[i].Name] = true
	}

	if c.IntervalMinutes < 0 {
		return fmt.Errorf("interval_minutes: %w", errNegativeValue)
	}
	if c.DeleteRatePerSecond < 0 {
		return fmt.Errorf("delete_rate_per_second: %w", errNegativeValue)
	}

	if c.Prometheus.Port == 0 {
		c.Prometheus.Port = 9090
	}

	if err := c.Logging.validateAndDefault(); err != nil {
		return err
	}

	if c.WorkerPool.Concurrency <= 0 {
		c.WorkerPool.Concurrency = 4
	}
	if c.WorkerPool.QueueSize <= 0 {
		c.WorkerPool.QueueSize = 64
	}
	if c.WorkerPool.TimeoutSeconds < 0 {
		return fmt.Errorf("worker_pool.timeout_seconds: %w", errNegativeValue)
	}

	if err := c.API.validateAndDefault(); err != nil {
		return err
	}

	if c.DatabasePath == "" {
		c.DatabasePath = DefaultDatabasePath()
	} else {
		c.DatabasePath = ExpandEnv(c.DatabasePath)
	}

	return nil
}

func (p *PolicyCfg) validateAndDefault() error {
	if p.MaxFileAgeDays < 0 {
		return errNegativeAge
	}
	if p.MaxFileAgeDays == 0 {
		p.MaxFileAgeDays = safety.DefaultMaxFileAgeDays
	}

	if p.SafePaths == nil {
		p.SafePaths = DefaultSafePaths()
	}
	cleaned := make([]string, 0, len(p.SafePaths))
	for _, sp := range p.SafePaths {
		cp, err := cleanAbsolute(sp)
		if err != nil {
			return fmt.Errorf("safe path: %w", err)
		}
		cleaned = append(cleaned, cp)
	}
	p.SafePaths = cleaned

	if p.ExcludedExtensions == nil {
		p.ExcludedExtensions = DefaultExcludedExtensions()
	}
	exts := make([]string, 0, len(p.ExcludedExtensions))
	for _, ext := range p.ExcludedExtensions {
		if norm := safety.NormalizeExtension(ext); norm != "" {
			exts = append(exts, norm)
		}
	}
	p.ExcludedExtensions = exts

	if p.BrowserProtectedNames == nil {
		p.BrowserProtectedNames = DefaultBrowserProtectedNames()
	}
	return nil
}

func (l *LoggingCfg) validateAndDefault() error {
	if l.Level == "" {
		l.Level = "info"
	}
	switch strings.ToLower(l.Level) {
	case "debug", "info", "warn", "error":
		l.Level = strings.ToLower(l.Level)
	default:
		return fmt.Errorf("%w: %q", errInvalidLogLevel, l.Level)
	}
	if l.File != "" {
		l.File = ExpandEnv(l.File)
	}
	if l.MaxSizeMB <= 0 {
		l.MaxSizeMB = 10
	}
	if l.MaxBackups <= 0 {
		l.MaxBackups = 3
	}
	if l.MaxAgeDays <= 0 {
		l.MaxAgeDays = 30 // Default: keep logs for 30 days
	}
	return nil
}

func (a *APICfg) validateAndDefault() error {
	if a.Address == "" {
		a.Address = "127.0.0.1:8443"
	}
	if a.JWTExpiry == "" {
		a.JWTExpiry = "24h"
	}
	if _, err := time.ParseDuration(a.JWTExpiry); err != nil {
		return fmt.Errorf("%w: %v", errInvalidExpiry, err)
	}
	if a.RateLimit <= 0 {
		a.RateLimit = 100
	}
	if a.RateBurst <= 0 {
		a.RateBurst = 200
	}
	if a.MaxBodyBytes <= 0 {
		a.MaxBodyBytes = 1 << 20
	}
	return nil
}

func (b *BrowserCfg) fillAndValidate() error {
	b.Name = strings.ToLower(strings.TrimSpace(b.Name))
	if b.Name == "" {
		return errMissingName
	}

	if len(b.Paths) == 0 && len(b.ProfileRoots) == 0 {
		known, ok := catalogBrowser(b.Name)
		if !ok {
			return fmt.Errorf("%w: %s", errUnknownBrowser, b.Name)
		}
		b.Paths = known.Paths
		b.ProfileRoots = known.ProfileRoots
		if len(b.Processes) == 0 {
			b.Processes = known.Processes
		}
	}
	if len(b.Processes) == 0 {
		if known, ok := catalogBrowser(b.Name); ok {
			b.Processes = known.Processes
		}
	}

	for i, p := range b.Paths {
		cp, err := cleanAbsolute(p)
		if err != nil {
			return fmt.Errorf("browser %s: %w", b.Name, err)
		}
		b.Paths[i] = cp
	}
	for i, p := range b.ProfileRoots {
		cp, err := cleanAbsolute(p)
		if err != nil {
			return fmt.Errorf("browser %s: %w", b.Name, err)
		}
		b.ProfileRoots[i] = cp
	}
	return nil
}

func cleanAbsolute(p string) (string, error) {
	p = ExpandEnv(strings.TrimSpace(p))
	if p == "" {
		return "", errInvalidPath
	}
	cp := filepath.Clean(p)
	if !filepath.IsAbs(cp) {
		return "", fmt.Errorf("%w: %s", errInvalidPath, p)
	}
	return cp, nil
}

// CleanPolicy builds the evaluation policy for temp locations.
func (c *Config) CleanPolicy() (*safety.Policy, error) {
	return safety.NewPolicy(safety.Policy{
		SafePathPrefixes:   c.Policy.SafePaths,
		SafePatterns:       c.Policy.SafePatterns,
		ExcludedExtensions: c.Policy.ExcludedExtensions,
		MaxFileAgeDays:     c.Policy.MaxFileAgeDays,
	})
}

// BrowserPolicy builds the policy for browser data, which adds the
// protected file names to the temp policy.
func (c *Config) BrowserPolicy() (*safety.Policy, error) {
	base, err := c.CleanPolicy()
	if err != nil {
		return nil, err
	}
	return base.WithProtectedNames(c.Policy.BrowserProtectedNames...), nil
}

// Target returns the temp location with the given name, ignoring case.
func (c *Config) Target(name string) (Target, bool) {
	for _, t := range c.TempLocations {
		if strings.EqualFold(t.Name, name) {
			return t, true
		}
	}
	return Target{}, false
}

// Browser returns the browser entry with the given name.
func (c *Config) Browser(name string) (BrowserCfg, bool) {
	name = strings.ToLower(name)
	for _, b := range c.Browsers {
		if b.Name == name {
			return b, true
		}
	}
	return BrowserCfg{}, false
}

func (c *Config) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

func (c *Config) PrometheusAddress() string {
	return fmt.Sprintf(":%d", c.Prometheus.Port)
}

// JWTExpiryDuration returns the parsed api.jwt_expiry.
func (c *Config) JWTExpiryDuration() time.Duration {
	d, err := time.ParseDuration(c.API.JWTExpiry)
	if err != nil {
		return 24 * time.Hour
	}
	return d
}

// ResolveJWTSecret returns the signing secret, preferring the secret file.
func (c *Config) ResolveJWTSecret() (string, error) {
	if c.API.JWTSecretFile != "" {
		b, err := os.ReadFile(ExpandEnv(c.API.JWTSecretFile))
		if err != nil {
			return "", fmt.Errorf("read jwt secret file: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	if c.API.JWTSecret != "" {
		return c.API.JWTSecret, nil
	}
	if env := os.Getenv("TOOLBOX_JWT_SECRET"); env != "" {
		return env, nil
	}
	return "", errors.New("no jwt secret configured (api.jwt_secret, api.jwt_secret_file or TOOLBOX_JWT_SECRET)")
}
