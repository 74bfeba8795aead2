package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// EnvLoader overrides configuration fields from environment variables.
// Variable names follow the yaml structure: BANTO_<SECTION>_<FIELD>, so
// alerts.cpu_warning becomes BANTO_ALERTS_CPU_WARNING.
type EnvLoader struct {
	prefix string
}

// NewEnvLoader creates a loader for the given variable prefix
func NewEnvLoader(prefix string) *EnvLoader {
	return &EnvLoader{prefix: prefix}
}

// Load walks the config struct and applies any matching variables
func (el *EnvLoader) Load(config *Config) error {
	return el.loadStruct(reflect.ValueOf(config).Elem(), el.prefix)
}

var durationType = reflect.TypeOf(time.Duration(0))

func (el *EnvLoader) loadStruct(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if !field.CanSet() {
			continue
		}

		name := fieldType.Tag.Get("yaml")
		if idx := strings.Index(name, ","); idx >= 0 {
			name = name[:idx]
		}
		if name == "" || name == "-" {
			name = fieldType.Name
		}
		envName := buildEnvName(prefix, name)

		switch field.Kind() {
		case reflect.Struct:
			if err := el.loadStruct(field, envName); err != nil {
				return err
			}
		case reflect.Slice:
			if err := loadSlice(field, envName); err != nil {
				return err
			}
		default:
			if err := loadField(field, envName); err != nil {
				return err
			}
		}
	}
	return nil
}

func loadField(field reflect.Value, envName string) error {
	value := os.Getenv(envName)
	if value == "" {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == durationType {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("%s: invalid duration %q: %w", envName, value, err)
			}
			field.SetInt(int64(d))
			return nil
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: invalid integer %q: %w", envName, value, err)
		}
		field.SetInt(n)

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: invalid unsigned integer %q: %w", envName, value, err)
		}
		field.SetUint(n)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("%s: invalid float %q: %w", envName, value, err)
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s: invalid boolean %q: %w", envName, value, err)
		}
		field.SetBool(b)

	default:
		return fmt.Errorf("%s: unsupported field kind %s", envName, field.Kind())
	}
	return nil
}

// loadSlice fills string slices from comma-separated values; other element
// types have no environment form.
func loadSlice(field reflect.Value, envName string) error {
	value := os.Getenv(envName)
	if value == "" {
		return nil
	}
	if field.Type().Elem().Kind() != reflect.String {
		return fmt.Errorf("%s: unsupported slice element kind %s", envName, field.Type().Elem().Kind())
	}

	parts := strings.Split(value, ",")
	slice := reflect.MakeSlice(field.Type(), len(parts), len(parts))
	for i, part := range parts {
		slice.Index(i).SetString(strings.TrimSpace(part))
	}
	field.Set(slice)
	return nil
}

func buildEnvName(prefix, name string) string {
	name = strings.ToUpper(name)
	name = strings.ReplaceAll(name, "-", "_")
	name = strings.ReplaceAll(name, ".", "_")
	if prefix == "" {
		return name
	}
	return prefix + "_" + name
}
