package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// EnvPrefix is prepended to every env tag.
const EnvPrefix = "VIDEOCAP_"

var durationType = reflect.TypeOf(time.Duration(0))

// LoadConfig fills the flat options struct pointed to by opts. Precedence is
// CLI flag > environment > TOML file > the defaults already in opts.
//
// Fields map to the file through a dotted `toml:"section.key"` tag and to
// the environment through `env:"KEY"`, read as VIDEOCAP_KEY. The file path
// comes from a string field named Config. Flags explicitly set on cmd are
// never overwritten; cmd may be nil.
func LoadConfig(opts any, cmd *cobra.Command) error {
	v := reflect.ValueOf(opts)
	if v.Kind() != reflect.Pointer || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("options must be a pointer to a struct, got %T", opts)
	}
	v = v.Elem()
	t := v.Type()

	changed := changedFlags(cmd)

	var file map[string]any
	if f := v.FieldByName("Config"); f.IsValid() && f.Kind() == reflect.String {
		var err error
		if file, err = readTOML(f.String()); err != nil {
			return err
		}
	}

	var errs []error
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		field := v.Field(i)
		if !field.CanSet() || changed[flagName(sf.Name)] {
			continue
		}

		if key := sf.Tag.Get("toml"); key != "" && file != nil {
			if raw, ok := lookup(file, key); ok {
				if err := setFromTOML(field, raw); err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", key, err))
				}
			}
		}

		if key := sf.Tag.Get("env"); key != "" {
			if raw := os.Getenv(EnvPrefix + key); raw != "" {
				if err := setFromString(field, raw); err != nil {
					errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				}
			}
		}
	}

	return errors.Join(errs...)
}

func changedFlags(cmd *cobra.Command) map[string]bool {
	changed := make(map[string]bool)
	if cmd == nil {
		return changed
	}
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			changed[f.Name] = true
		}
	})
	return changed
}

// flagName converts a field name to its flag, e.g. "LoggingLevel" to
// "logging-level".
func flagName(field string) string {
	runes := []rune(field)
	var b strings.Builder
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevLower := unicode.IsLower(runes[i-1])
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			// An acronym run like "API" stays one word.
			if prevLower || (unicode.IsUpper(runes[i-1]) && nextLower) {
				b.WriteByte('-')
			}
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// readTOML parses path. A missing file is not an error.
func readTOML(path string) (map[string]any, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var out map[string]any
	if err := toml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return out, nil
}

// lookup resolves a dotted key in a decoded TOML document.
func lookup(doc map[string]any, key string) (any, bool) {
	parts := strings.Split(key, ".")
	cur := doc
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]any)
		if !ok {
			return nil, false
		}
		cur = next
	}
	val, ok := cur[parts[len(parts)-1]]
	return val, ok
}

func setFromTOML(field reflect.Value, raw any) error {
	if field.Type() == durationType {
		s, ok := raw.(string)
		if !ok {
			return fmt.Errorf("duration must be a string like \"2s\", got %T", raw)
		}
		return setFromString(field, s)
	}

	switch field.Kind() {
	case reflect.String:
		s, ok := raw.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", raw)
		}
		field.SetString(s)
	case reflect.Bool:
		b, ok := raw.(bool)
		if !ok {
			return fmt.Errorf("expected bool, got %T", raw)
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int32, reflect.Int64:
		n, ok := raw.(int64)
		if !ok || field.OverflowInt(n) {
			return fmt.Errorf("expected integer, got %v", raw)
		}
		field.SetInt(n)
	case reflect.Uint, reflect.Uint32, reflect.Uint64:
		n, ok := raw.(int64)
		if !ok || n < 0 || field.OverflowUint(uint64(n)) {
			return fmt.Errorf("expected non-negative integer, got %v", raw)
		}
		field.SetUint(uint64(n))
	case reflect.Float64:
		switch n := raw.(type) {
		case float64:
			field.SetFloat(n)
		case int64:
			field.SetFloat(float64(n))
		default:
			return fmt.Errorf("expected number, got %T", raw)
		}
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type %s", field.Type())
		}
		arr, ok := raw.([]any)
		if !ok {
			return fmt.Errorf("expected array, got %T", raw)
		}
		out := make([]string, 0, len(arr))
		for _, item := range arr {
			s, ok := item.(string)
			if !ok {
				return fmt.Errorf("expected array of strings, got %T element", item)
			}
			out = append(out, s)
		}
		field.Set(reflect.ValueOf(out))
	default:
		return fmt.Errorf("unsupported field type %s", field.Type())
	}
	return nil
}

func setFromString(field reflect.Value, raw string) error {
	if field.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Uint, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(raw, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetUint(n)
	case reflect.Float64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type %s", field.Type())
		}
		parts := strings.Split(raw, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		field.Set(reflect.ValueOf(out))
	default:
		return fmt.Errorf("unsupported field type %s", field.Type())
	}
	return nil
}
