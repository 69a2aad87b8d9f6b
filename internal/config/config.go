// Package config loads service settings from JSON, YAML or TOML files with
// SYNAPSE_* environment overrides. Unset fields fall back to defaults
// through the Get* accessors.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const maxFileSize = 1 << 20

// Defaults.
const (
	DefaultListen             = ":8000"
	DefaultOSCAddr            = ":8001"
	DefaultSerialBaud         = 115200
	DefaultDBPath             = "synapse.db"
	DefaultModelsDir          = "models"
	DefaultBufferCapacity     = 2560
	DefaultConnectionTimeout  = 5 * time.Second
	DefaultSampleRate         = 256.0
	DefaultValidationSplit    = 0.2
	DefaultStatusInterval     = time.Second
	DefaultCalibrationPrompts = 20
	DefaultReviewDedupeTTL    = 5 * time.Minute
	DefaultModelCacheSize     = 8
	DefaultLogLevel           = "info"
)

// Config is the service configuration. Pointer fields distinguish "unset"
// from zero values so partial files are safe.
type Config struct {
	Listen             *string  `json:"listen,omitempty" yaml:"listen,omitempty" toml:"listen,omitempty"`
	OSCAddr            *string  `json:"osc_addr,omitempty" yaml:"osc_addr,omitempty" toml:"osc_addr,omitempty"`
	SerialPort         *string  `json:"serial_port,omitempty" yaml:"serial_port,omitempty" toml:"serial_port,omitempty"`
	SerialBaud         *int     `json:"serial_baud,omitempty" yaml:"serial_baud,omitempty" toml:"serial_baud,omitempty"`
	DBPath             *string  `json:"db_path,omitempty" yaml:"db_path,omitempty" toml:"db_path,omitempty"`
	ModelsDir          *string  `json:"models_dir,omitempty" yaml:"models_dir,omitempty" toml:"models_dir,omitempty"`
	BufferCapacity     *int     `json:"buffer_capacity,omitempty" yaml:"buffer_capacity,omitempty" toml:"buffer_capacity,omitempty"`
	ConnectionTimeout  *string  `json:"connection_timeout,omitempty" yaml:"connection_timeout,omitempty" toml:"connection_timeout,omitempty"` // duration like "5s"
	SampleRate         *float64 `json:"sample_rate,omitempty" yaml:"sample_rate,omitempty" toml:"sample_rate,omitempty"`
	ValidationSplit    *float64 `json:"validation_split,omitempty" yaml:"validation_split,omitempty" toml:"validation_split,omitempty"`
	StatusInterval     *string  `json:"status_interval,omitempty" yaml:"status_interval,omitempty" toml:"status_interval,omitempty"`
	CalibrationPrompts *int     `json:"calibration_prompts,omitempty" yaml:"calibration_prompts,omitempty" toml:"calibration_prompts,omitempty"`
	ReviewDedupeTTL    *string  `json:"review_dedupe_ttl,omitempty" yaml:"review_dedupe_ttl,omitempty" toml:"review_dedupe_ttl,omitempty"`
	ModelCacheSize     *int     `json:"model_cache_size,omitempty" yaml:"model_cache_size,omitempty" toml:"model_cache_size,omitempty"`
	LogLevel           *string  `json:"log_level,omitempty" yaml:"log_level,omitempty" toml:"log_level,omitempty"`
}

func ptr[T any](v T) *T { return &v }

// Load reads a config file, choosing the decoder by extension.
func Load(path string) (*Config, error) {
	clean := filepath.Clean(path)
	info, err := os.Stat(clean)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}
	data, err := os.ReadFile(clean)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	switch ext := strings.ToLower(filepath.Ext(clean)); ext {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(cfg)
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(cfg)
	case ".toml":
		var md toml.MetaData
		md, err = toml.Decode(string(data), cfg)
		if err == nil {
			if undec := md.Undecoded(); len(undec) > 0 {
				err = fmt.Errorf("unknown keys %v", undec)
			}
		}
	default:
		return nil, fmt.Errorf("unsupported config extension %q (want .json, .yaml, .yml or .toml)", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", clean, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from files (default ".env") into the
// process environment without overriding variables already set. Missing
// files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides fields from SYNAPSE_* variables read through lookup
// (os.LookupEnv when nil) and re-validates.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	str := func(key string, dst **string) {
		if v, ok := lookup("SYNAPSE_" + key); ok {
			*dst = ptr(v)
		}
	}
	var errs []string
	num := func(key string, dst **int) {
		if v, ok := lookup("SYNAPSE_" + key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("SYNAPSE_%s: %v", key, err))
				return
			}
			*dst = ptr(n)
		}
	}
	flt := func(key string, dst **float64) {
		if v, ok := lookup("SYNAPSE_" + key); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Sprintf("SYNAPSE_%s: %v", key, err))
				return
			}
			*dst = ptr(f)
		}
	}

	str("LISTEN", &c.Listen)
	str("OSC_ADDR", &c.OSCAddr)
	str("SERIAL_PORT", &c.SerialPort)
	num("SERIAL_BAUD", &c.SerialBaud)
	str("DB_PATH", &c.DBPath)
	str("MODELS_DIR", &c.ModelsDir)
	num("BUFFER_CAPACITY", &c.BufferCapacity)
	str("CONNECTION_TIMEOUT", &c.ConnectionTimeout)
	flt("SAMPLE_RATE", &c.SampleRate)
	flt("VALIDATION_SPLIT", &c.ValidationSplit)
	str("STATUS_INTERVAL", &c.StatusInterval)
	num("CALIBRATION_PROMPTS", &c.CalibrationPrompts)
	str("REVIEW_DEDUPE_TTL", &c.ReviewDedupeTTL)
	num("MODEL_CACHE_SIZE", &c.ModelCacheSize)
	str("LOG_LEVEL", &c.LogLevel)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	return c.Validate()
}

func checkDuration(name string, v *string) error {
	if v == nil || *v == "" {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", name, *v, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %s", name, d)
	}
	return nil
}

// Validate checks the fields that are set.
func (c *Config) Validate() error {
	if c.SerialBaud != nil && *c.SerialBaud <= 0 {
		return fmt.Errorf("serial_baud must be positive, got %d", *c.SerialBaud)
	}
	if c.BufferCapacity != nil && *c.BufferCapacity < 1 {
		return fmt.Errorf("buffer_capacity must be at least 1, got %d", *c.BufferCapacity)
	}
	if c.SampleRate != nil && *c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %f", *c.SampleRate)
	}
	if c.ValidationSplit != nil && (*c.ValidationSplit <= 0 || *c.ValidationSplit >= 1) {
		return fmt.Errorf("validation_split must be in (0, 1), got %f", *c.ValidationSplit)
	}
	if c.CalibrationPrompts != nil && *c.CalibrationPrompts < 1 {
		return fmt.Errorf("calibration_prompts must be at least 1, got %d", *c.CalibrationPrompts)
	}
	if c.ModelCacheSize != nil && *c.ModelCacheSize < 1 {
		return fmt.Errorf("model_cache_size must be at least 1, got %d", *c.ModelCacheSize)
	}
	if c.LogLevel != nil {
		switch strings.ToLower(*c.LogLevel) {
		case "trace", "debug", "info", "warn", "error", "disabled", "":
		default:
			return fmt.Errorf("unknown log_level %q", *c.LogLevel)
		}
	}
	for name, v := range map[string]*string{
		"connection_timeout": c.ConnectionTimeout,
		"status_interval":    c.StatusInterval,
		"review_dedupe_ttl":  c.ReviewDedupeTTL,
	} {
		if err := checkDuration(name, v); err != nil {
			return err
		}
	}
	return nil
}

func str(v *string, def string) string {
	if v == nil || *v == "" {
		return def
	}
	return *v
}

func duration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func integer(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func (c *Config) GetListen() string   { return str(c.Listen, DefaultListen) }
func (c *Config) GetOSCAddr() string  { return str(c.OSCAddr, DefaultOSCAddr) }
func (c *Config) GetDBPath() string   { return str(c.DBPath, DefaultDBPath) }
func (c *Config) GetLogLevel() string { return str(c.LogLevel, DefaultLogLevel) }

// GetSerialPort returns the serial device, empty when serial input is off.
func (c *Config) GetSerialPort() string { return str(c.SerialPort, "") }

func (c *Config) GetSerialBaud() int { return integer(c.SerialBaud, DefaultSerialBaud) }

// GetModelsDir returns the root directory for model artifacts.
func (c *Config) GetModelsDir() string { return str(c.ModelsDir, DefaultModelsDir) }

func (c *Config) GetBufferCapacity() int { return integer(c.BufferCapacity, DefaultBufferCapacity) }

func (c *Config) GetConnectionTimeout() time.Duration {
	return duration(c.ConnectionTimeout, DefaultConnectionTimeout)
}

func (c *Config) GetSampleRate() float64 {
	if c.SampleRate == nil {
		return DefaultSampleRate
	}
	return *c.SampleRate
}

func (c *Config) GetValidationSplit() float64 {
	if c.ValidationSplit == nil {
		return DefaultValidationSplit
	}
	return *c.ValidationSplit
}

func (c *Config) GetStatusInterval() time.Duration {
	return duration(c.StatusInterval, DefaultStatusInterval)
}

func (c *Config) GetCalibrationPrompts() int {
	return integer(c.CalibrationPrompts, DefaultCalibrationPrompts)
}

func (c *Config) GetReviewDedupeTTL() time.Duration {
	return duration(c.ReviewDedupeTTL, DefaultReviewDedupeTTL)
}

func (c *Config) GetModelCacheSize() int { return integer(c.ModelCacheSize, DefaultModelCacheSize) }
