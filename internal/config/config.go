// Package config loads the service configuration from defaults, an optional YAML file
// and environment variables, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Backend names accepted by the store and queue settings.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
	BackendFile   = "file"
)

// Config is the full service configuration.
type Config struct {
	HTTP    HTTPConfig    `mapstructure:"http"`
	Log     LogConfig     `mapstructure:"log"`
	Store   StoreConfig   `mapstructure:"store"`
	Queue   QueueConfig   `mapstructure:"queue"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StoreConfig selects where traces and journey definitions live.
type StoreConfig struct {
	Traces       string `mapstructure:"traces"`
	Journeys     string `mapstructure:"journeys"`
	SQLitePath   string `mapstructure:"sqlite_path"`
	JourneysDir  string `mapstructure:"journeys_dir"`
	// PatientIDKey, when set, pseudonymizes patient ids before traces are stored.
	PatientIDKey string `mapstructure:"patient_id_key"`
}

// QueueConfig selects the queue and tunes the worker pool.
type QueueConfig struct {
	Backend           string        `mapstructure:"backend"`
	Name              string        `mapstructure:"name"`
	Concurrency       int           `mapstructure:"concurrency"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	StepTimeout       time.Duration `mapstructure:"step_timeout"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

func defaults() map[string]any {
	return map[string]any{
		"http": map[string]any{"addr": ":5000"},
		"log":  map[string]any{"level": "info", "format": "text"},
		"store": map[string]any{
			"traces":         BackendMemory,
			"journeys":       BackendMemory,
			"sqlite_path":    "data/journeys.db",
			"journeys_dir":   "journeys",
			"patient_id_key": "",
		},
		"queue": map[string]any{
			"backend":            BackendMemory,
			"name":               "journey",
			"concurrency":        4,
			"visibility_timeout": "30s",
			"max_attempts":       5,
			"poll_interval":      "200ms",
			"step_timeout":       "30s",
		},
		"redis": map[string]any{
			"addr":     "localhost:6379",
			"username": "",
			"password": "",
			"db":       0,
			"prefix":   "journeys:",
		},
		"metrics": map[string]any{"enabled": true},
	}
}

// envKeys maps JOURNEYS_* variables to config paths.
var envKeys = map[string]string{
	"JOURNEYS_HTTP_ADDR":                "http.addr",
	"JOURNEYS_LOG_LEVEL":                "log.level",
	"JOURNEYS_LOG_FORMAT":               "log.format",
	"JOURNEYS_STORE_TRACES":             "store.traces",
	"JOURNEYS_STORE_JOURNEYS":           "store.journeys",
	"JOURNEYS_SQLITE_PATH":              "store.sqlite_path",
	"JOURNEYS_JOURNEYS_DIR":             "store.journeys_dir",
	"JOURNEYS_PATIENT_ID_KEY":           "store.patient_id_key",
	"JOURNEYS_QUEUE_BACKEND":            "queue.backend",
	"JOURNEYS_QUEUE_NAME":               "queue.name",
	"JOURNEYS_QUEUE_CONCURRENCY":        "queue.concurrency",
	"JOURNEYS_QUEUE_VISIBILITY_TIMEOUT": "queue.visibility_timeout",
	"JOURNEYS_QUEUE_MAX_ATTEMPTS":       "queue.max_attempts",
	"JOURNEYS_QUEUE_POLL_INTERVAL":      "queue.poll_interval",
	"JOURNEYS_QUEUE_STEP_TIMEOUT":       "queue.step_timeout",
	"JOURNEYS_REDIS_ADDR":               "redis.addr",
	"JOURNEYS_REDIS_USERNAME":           "redis.username",
	"JOURNEYS_REDIS_PASSWORD":           "redis.password",
	"JOURNEYS_REDIS_DB":                 "redis.db",
	"JOURNEYS_REDIS_PREFIX":             "redis.prefix",
	"JOURNEYS_METRICS_ENABLED":          "metrics.enabled",
}

// legacyKeys are the variable names of the service this engine replaces.
// JOURNEYS_* variables take precedence over them.
var legacyKeys = [][2]string{
	{"REDIS_USERNAME", "redis.username"},
	{"REDIS_PASSWORD", "redis.password"},
	{"REDIS_DB", "redis.db"},
	{"BULLMQ_QUEUE_NAME", "queue.name"},
	{"QUEUE_NAME", "queue.name"},
}

// Load reads the configuration using the process environment.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with an explicit environment lookup.
func LoadWithEnv(path string, lookup func(string) (string, bool)) (*Config, error) {
	values := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		var file map[string]any
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		merge(values, file)
	}

	applyEnv(values, lookup)

	var cfg Config
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(values); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the backend names and worker settings.
func (c *Config) Validate() error {
	var problems []string
	check := func(field, value string, allowed ...string) {
		for _, a := range allowed {
			if value == a {
				return
			}
		}
		problems = append(problems, fmt.Sprintf("%s: unsupported backend %q (want one of %s)", field, value, strings.Join(allowed, ", ")))
	}
	check("store.traces", c.Store.Traces, BackendMemory, BackendRedis, BackendSQLite)
	check("store.journeys", c.Store.Journeys, BackendMemory, BackendRedis, BackendSQLite, BackendFile)
	check("queue.backend", c.Queue.Backend, BackendMemory, BackendRedis)
	if k := c.Store.PatientIDKey; k != "" && len(k) < 16 {
		problems = append(problems, "store.patient_id_key must be at least 16 bytes")
	}
	if c.Queue.Concurrency < 1 {
		problems = append(problems, "queue.concurrency must be at least 1")
	}
	if c.Queue.MaxAttempts < 1 {
		problems = append(problems, "queue.max_attempts must be at least 1")
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		problems = append(problems, fmt.Sprintf("log.format: unsupported format %q", c.Log.Format))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// UsesRedis reports whether any backend needs a Redis connection.
func (c *Config) UsesRedis() bool {
	return c.Store.Traces == BackendRedis || c.Store.Journeys == BackendRedis || c.Queue.Backend == BackendRedis
}

// UsesSQLite reports whether any store needs the SQLite database.
func (c *Config) UsesSQLite() bool {
	return c.Store.Traces == BackendSQLite || c.Store.Journeys == BackendSQLite
}

func applyEnv(values map[string]any, lookup func(string) (string, bool)) {
	for _, kv := range legacyKeys {
		if v, ok := lookup(kv[0]); ok && v != "" {
			set(values, kv[1], v)
		}
	}
	if host, ok := lookup("REDIS_HOST"); ok && host != "" {
		port, _ := lookup("REDIS_PORT")
		if port == "" {
			port = "6379"
		}
		set(values, "redis.addr", host+":"+port)
	}
	for _, env := range []string{"FASTIFY_PORT", "PORT"} {
		if port, ok := lookup(env); ok && port != "" {
			set(values, "http.addr", ":"+port)
		}
	}
	for env, path := range envKeys {
		if v, ok := lookup(env); ok {
			set(values, path, v)
		}
	}
}

// set assigns value at a dotted path, creating intermediate maps.
func set(values map[string]any, path, value string) {
	parts := strings.Split(path, ".")
	m := values
	for _, p := range parts[:len(parts)-1] {
		next, ok := m[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[p] = next
		}
		m = next
	}
	m[parts[len(parts)-1]] = value
}

// merge copies src into dst, descending into nested maps.
func merge(dst, src map[string]any) {
	for k, v := range src {
		if sub, ok := v.(map[string]any); ok {
			if existing, ok := dst[k].(map[string]any); ok {
				merge(existing, sub)
				continue
			}
		}
		dst[k] = v
	}
}
