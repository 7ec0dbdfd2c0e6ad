package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "NEUROGUARD_"
	// Delimiter is the key delimiter for nested config.
	Delimiter = "."
)

// searchPaths are tried in order when no config file is given.
var searchPaths = []string{
	"neuroguard.yaml",
	"config.yaml",
	"config.yml",
	"config.json",
	"/etc/neuroguard/config.yaml",
}

// Loader layers configuration sources into a single koanf tree.
type Loader struct {
	k         *koanf.Koanf
	defaults  map[string]interface{}
	overrides map[string]interface{}
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		k:        koanf.New(Delimiter),
		defaults: flatten(DefaultConfig()),
	}
}

// Load merges, lowest precedence first: defaults, the config file, NEUROGUARD_*
// environment variables and overrides. The result is validated.
func (l *Loader) Load(configPath string, overrides map[string]interface{}) (*Config, error) {
	l.overrides = overrides
	steps := []struct {
		name string
		run  func() error
	}{
		{"defaults", func() error { return l.k.Load(confmap.Provider(l.defaults, Delimiter), nil) }},
		{"config file", func() error { return l.loadConfigFile(configPath) }},
		{"environment", l.loadEnv},
		{"overrides", func() error {
			if len(overrides) == 0 {
				return nil
			}
			return l.k.Load(confmap.Provider(overrides, Delimiter), nil)
		}},
		{"defaults backfill", l.backfill},
	}
	for _, step := range steps {
		if err := step.run(); err != nil {
			return nil, fmt.Errorf("load %s: %w", step.name, err)
		}
	}

	var cfg Config
	if err := l.k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "mapstructure"}); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := ValidateWithDetails(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadConfigFile loads path, or the first existing search path when path is
// empty. A missing explicit path is an error.
func (l *Loader) loadConfigFile(path string) error {
	if path == "" {
		for _, candidate := range searchPaths {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
		if path == "" {
			return nil
		}
	} else if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("config file not found: %s", path)
	}

	parser, err := parserFor(path)
	if err != nil {
		return err
	}
	return l.k.Load(file.Provider(path), parser)
}

func parserFor(path string) (koanf.Parser, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return json.Parser(), nil
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}
}

// loadEnv maps NEUROGUARD_STORAGE_BADGER_SYNC_WRITES onto
// storage.badger.sync_writes. List settings take comma separated values.
func (l *Loader) loadEnv() error {
	known := make(map[string]string, len(l.defaults))
	for key := range l.defaults {
		known[strings.ReplaceAll(key, Delimiter, "_")] = key
	}

	return l.k.Load(env.ProviderWithValue(EnvPrefix, Delimiter, func(name, value string) (string, interface{}) {
		key := envKey(name, known)
		if _, isList := l.defaults[key].([]interface{}); isList {
			return key, splitList(value)
		}
		return key, value
	}), nil)
}

// envKey maps an environment variable name onto a config key. Names that
// match no known key split at the first underscore.
func envKey(name string, known map[string]string) string {
	flat := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	if key, ok := known[flat]; ok {
		return key
	}
	return strings.Replace(flat, "_", Delimiter, 1)
}

func splitList(value string) []interface{} {
	var out []interface{}
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if out == nil {
		out = []interface{}{}
	}
	return out
}

// backfill restores defaults for keys a file section replaced wholesale.
func (l *Loader) backfill() error {
	for key, value := range l.defaults {
		if l.k.Exists(key) {
			continue
		}
		if err := l.k.Set(key, value); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

// Get returns a configuration value by key.
func (l *Loader) Get(key string) interface{} { return l.k.Get(key) }

// GetString returns a string configuration value.
func (l *Loader) GetString(key string) string { return l.k.String(key) }

// GetInt returns an int configuration value.
func (l *Loader) GetInt(key string) int { return l.k.Int(key) }

// GetBool returns a bool configuration value.
func (l *Loader) GetBool(key string) bool { return l.k.Bool(key) }

// Set sets a configuration value.
func (l *Loader) Set(key string, value interface{}) error { return l.k.Set(key, value) }

// Print renders every loaded key for debugging.
func (l *Loader) Print() string { return l.k.Sprint() }

var durationType = reflect.TypeOf(time.Duration(0))

// flatten walks a config struct into dot-separated keys taken from the
// mapstructure tags. Maps contribute one key per entry.
func flatten(v interface{}) map[string]interface{} {
	out := make(map[string]interface{})
	walk(reflect.ValueOf(v), "", out)
	return out
}

func walk(val reflect.Value, prefix string, out map[string]interface{}) {
	for val.Kind() == reflect.Ptr {
		if val.IsNil() {
			return
		}
		val = val.Elem()
	}

	if val.Kind() != reflect.Struct {
		if prefix != "" {
			out[prefix] = leaf(val)
		}
		return
	}

	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		tag := field.Tag.Get("mapstructure")
		if !field.IsExported() || tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + Delimiter + tag
		}

		fv := val.Field(i)
		if fv.Kind() == reflect.Map {
			iter := fv.MapRange()
			for iter.Next() {
				out[key+Delimiter+fmt.Sprint(iter.Key().Interface())] = iter.Value().Interface()
			}
			continue
		}
		walk(fv, key, out)
	}
}

// leaf converts a scalar or slice into the plain value koanf stores.
func leaf(val reflect.Value) interface{} {
	switch val.Kind() {
	case reflect.Slice, reflect.Array:
		items := make([]interface{}, val.Len())
		for i := range items {
			items[i] = val.Index(i).Interface()
		}
		return items
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if val.Type() == durationType {
			return val.Interface()
		}
		return val.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return val.Uint()
	case reflect.Float32, reflect.Float64:
		return val.Float()
	case reflect.Bool:
		return val.Bool()
	case reflect.String:
		return val.String()
	default:
		return val.Interface()
	}
}

// Load is a convenience function to load configuration.
func Load(configPath string, overrides map[string]interface{}) (*Config, error) {
	return NewLoader().Load(configPath, overrides)
}

// LoadOrDie loads configuration and panics on error.
func LoadOrDie(configPath string, overrides map[string]interface{}) *Config {
	cfg, err := Load(configPath, overrides)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}
