package feeders

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/golobby/cast"
)

// EnvFeeder populates struct fields tagged `env:"NAME"` from environment
// variables, optionally under a common prefix.
type EnvFeeder struct {
	Prefix string
}

// NewEnvFeeder creates an EnvFeeder with no prefix.
func NewEnvFeeder() EnvFeeder {
	return EnvFeeder{}
}

// NewPrefixedEnvFeeder creates an EnvFeeder that prepends PREFIX_ to every
// tagged variable name.
func NewPrefixedEnvFeeder(prefix string) EnvFeeder {
	return EnvFeeder{Prefix: prefix}
}

// Feed populates target, which must be a pointer to a struct.
func (e EnvFeeder) Feed(target any) error {
	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return ErrTargetNotPointer
	}
	elem := rv.Elem()
	if elem.Kind() != reflect.Struct {
		return ErrTargetNotStruct
	}
	return e.feedStruct(elem)
}

func (e EnvFeeder) feedStruct(rv reflect.Value) error {
	for i := 0; i < rv.NumField(); i++ {
		field := rv.Field(i)
		fieldType := rv.Type().Field(i)

		if field.Kind() == reflect.Struct {
			if err := e.feedStruct(field); err != nil {
				return fmt.Errorf("error in field '%s': %w", fieldType.Name, err)
			}
			continue
		}

		envTag, exists := fieldType.Tag.Lookup("env")
		if !exists {
			continue
		}
		envName := strings.ToUpper(envTag)
		if e.Prefix != "" {
			envName = e.Prefix + "_" + envName
		}
		envValue := os.Getenv(envName)
		if envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("error in field '%s': %w", fieldType.Name, err)
		}
	}
	return nil
}

// setFieldValue converts and sets a field value.
func setFieldValue(field reflect.Value, strValue string) error {
	convertedValue, err := cast.FromType(strValue, field.Type())
	if err != nil {
		return fmt.Errorf("cannot convert value to type %v: %w", field.Type(), err)
	}
	if !field.CanSet() {
		return ErrFieldNotSettable
	}
	field.Set(reflect.ValueOf(convertedValue))
	return nil
}
