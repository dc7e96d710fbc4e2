// Package config provides layered configuration loading for LakeGate
// services. Values are resolved in priority order:
//
//	envDefault struct tags  (lowest priority)
//	YAML/JSON config file   (medium priority)
//	Environment variables   (highest priority)
//
// Defaults are baked into the code, a config file supplies
// environment-specific overrides, and env vars (from the deployment's
// secret store) take final precedence. The auth core's configs (the
// validator's issuer and key material references, session TTLs, the
// strict-mode toggle, client endpoints) all load through this package.
//
// # Struct tags
//
//   - `env:"VAR_NAME"`: maps the field to an environment variable
//   - `envDefault:"value"`: default applied when the field is zero
//   - `required:"true"`: fails validation if still zero after loading
//
// Fields also need `yaml` or `json` tags for file-based loading.
//
// # Usage
//
//	type GatewayConfig struct {
//	    Issuer string        `env:"ISSUER" envDefault:"lakegate" yaml:"issuer"`
//	    Strict bool          `env:"STRICT" envDefault:"true" yaml:"strict"`
//	    TTL    time.Duration `env:"SESSION_TTL" envDefault:"1h" yaml:"session_ttl"`
//	}
//
//	cfg := config.MustLoad[GatewayConfig](
//	    config.New().WithEnvPrefix("LAKEGATE").WithFile("gateway.yaml"),
//	)
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	lgerr "github.com/lakegate/lakegate-core/pkg/errors"
)

// durationType distinguishes time.Duration fields (Kind int64) from plain
// int64 fields during struct traversal.
var durationType = reflect.TypeOf(time.Duration(0))

// Loader resolves configuration for a single struct. Create with [New],
// customize with [Loader.WithEnvPrefix] and [Loader.WithFile], then call
// [Loader.Load].
//
// Loader is not safe for concurrent use; create one per Load call.
type Loader struct {
	envPrefix string
	filePath  string
}

// New creates a Loader that reads environment variables only (no file,
// no prefix).
func New() *Loader {
	return &Loader{}
}

// WithEnvPrefix prepends prefix (uppercased, underscore-joined) to every
// env var name derived from "env" tags. WithEnvPrefix("LAKEGATE") makes a
// field tagged `env:"ISSUER"` read LAKEGATE_ISSUER. Returns the Loader
// for chaining.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = strings.ToUpper(prefix)
	return l
}

// WithFile sets the path of an optional YAML (.yaml/.yml) or JSON (.json)
// config file. A missing file is not an error; an unrecognized extension
// is. Paths containing ".." are rejected. Returns the Loader for chaining.
func (l *Loader) WithFile(path string) *Loader {
	l.filePath = path
	return l
}

// Load populates cfg (a non-nil pointer to a struct) in priority order:
// envDefault tags, then file values, then environment variables. After
// loading, `required:"true"` fields are checked and, if cfg implements
// [Validator], its Validate method runs.
//
// Returns [lgerr.CodeInternalConfiguration] for loading failures and
// [lgerr.CodeValidationRequired] / [lgerr.CodeValidation] for validation
// failures.
func (l *Loader) Load(cfg any) error {
	rv := reflect.ValueOf(cfg)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return lgerr.New(lgerr.CodeInternalConfiguration,
			"config: Load requires a non-nil pointer to a struct")
	}
	rv = rv.Elem()
	if rv.Kind() != reflect.Struct {
		return lgerr.New(lgerr.CodeInternalConfiguration,
			"config: Load requires a pointer to a struct")
	}

	if err := applyDefaults(rv); err != nil {
		return err
	}
	if l.filePath != "" {
		if err := l.loadFile(cfg); err != nil {
			return err
		}
	}
	if err := applyEnv(rv, l.envPrefix); err != nil {
		return err
	}
	return validate(cfg, rv)
}

// MustLoad creates a zero T, loads into it, and returns it, panicking on
// failure. Intended for composition roots where an invalid configuration
// must prevent startup.
func MustLoad[T any](loader *Loader) T {
	var cfg T
	if err := loader.Load(&cfg); err != nil {
		panic(fmt.Sprintf("config: MustLoad failed: %v", err))
	}
	return cfg
}

func (l *Loader) loadFile(cfg any) error {
	if strings.Contains(l.filePath, "..") {
		return lgerr.New(lgerr.CodeInternalConfiguration,
			"config: file path must not contain directory traversal sequences")
	}

	data, err := os.ReadFile(l.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return lgerr.Wrapf(err, lgerr.CodeInternalConfiguration,
			"config: failed to read file %q", l.filePath)
	}

	switch ext := strings.ToLower(filepath.Ext(l.filePath)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return lgerr.Wrapf(err, lgerr.CodeInternalConfiguration,
				"config: failed to parse YAML file %q", l.filePath)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return lgerr.Wrapf(err, lgerr.CodeInternalConfiguration,
				"config: failed to parse JSON file %q", l.filePath)
		}
	default:
		return lgerr.Newf(lgerr.CodeInternalConfiguration,
			"config: unsupported file extension %q (use .yaml, .yml, or .json)", ext)
	}
	return nil
}

// applyDefaults sets zero-valued fields to their envDefault tag values,
// recursing into nested structs.
func applyDefaults(rv reflect.Value) error {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rv.Field(i)
		sf := rt.Field(i)
		if !field.CanSet() {
			continue
		}
		if field.Kind() == reflect.Struct && sf.Type != durationType {
			if err := applyDefaults(field); err != nil {
				return err
			}
			continue
		}
		tag := sf.Tag.Get("envDefault")
		if tag == "" || !field.IsZero() {
			continue
		}
		if err := setField(field, tag); err != nil {
			return lgerr.Wrapf(err, lgerr.CodeInternalConfiguration,
				"config: failed to apply default for field %q", sf.Name)
		}
	}
	return nil
}

// applyEnv sets fields from environment variables named by "env" tags.
// Nested struct fields accumulate the parent's env tag as a prefix.
func applyEnv(rv reflect.Value, prefix string) error {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rv.Field(i)
		sf := rt.Field(i)
		if !field.CanSet() {
			continue
		}
		envTag := sf.Tag.Get("env")

		if field.Kind() == reflect.Struct && sf.Type != durationType {
			nested := prefix
			if envTag != "" {
				if nested != "" {
					nested += "_" + envTag
				} else {
					nested = envTag
				}
			}
			if err := applyEnv(field, nested); err != nil {
				return err
			}
			continue
		}

		if envTag == "" {
			continue
		}
		key := envTag
		if prefix != "" {
			key = prefix + "_" + envTag
		}
		val, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		if err := setField(field, val); err != nil {
			return lgerr.Wrapf(err, lgerr.CodeInternalConfiguration,
				"config: failed to set field %q from env var %q", sf.Name, key)
		}
	}
	return nil
}

// setField parses value and assigns it according to the field's kind.
// Supported: string (including named string types such as auth.Secret),
// bool, signed integers, time.Duration, and []string (comma-separated).
func setField(field reflect.Value, value string) error {
	if field.Type() == durationType {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("cannot parse duration %q: %w", value, err)
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("cannot parse bool %q: %w", value, err)
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("cannot parse integer %q: %w", value, err)
		}
		field.SetInt(n)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice element type %s", field.Type().Elem().Kind())
		}
		parts := strings.Split(value, ",")
		slice := reflect.MakeSlice(field.Type(), len(parts), len(parts))
		for i, p := range parts {
			slice.Index(i).SetString(strings.TrimSpace(p))
		}
		field.Set(slice)
	default:
		return fmt.Errorf("unsupported field type %s", field.Kind())
	}
	return nil
}
