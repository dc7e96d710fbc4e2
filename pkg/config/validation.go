package config

import (
	"reflect"

	lgerr "github.com/lakegate/lakegate-core/pkg/errors"
)

// Validator is an optional interface for configuration structs that need
// checks beyond the `required` tag (ranges, mutual exclusion, key length).
// If the struct passed to [Loader.Load] implements Validator, its Validate
// method runs after tag-based validation succeeds.
//
// Errors that are already [*lgerr.Error] pass through unchanged; other
// errors are wrapped with [lgerr.CodeValidation].
type Validator interface {
	Validate() error
}

func validate(cfg any, rv reflect.Value) error {
	if err := validateRequired(rv, ""); err != nil {
		return err
	}
	if v, ok := cfg.(Validator); ok {
		if err := v.Validate(); err != nil {
			if _, isCoded := lgerr.AsError(err); isCoded {
				return err
			}
			return lgerr.Wrap(err, lgerr.CodeValidation,
				"config: custom validation failed")
		}
	}
	return nil
}

// validateRequired recursively checks that fields tagged `required:"true"`
// hold non-zero values. path accumulates the dotted field path for error
// messages.
func validateRequired(rv reflect.Value, path string) error {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rv.Field(i)
		sf := rt.Field(i)
		if !field.CanSet() {
			continue
		}
		fieldPath := sf.Name
		if path != "" {
			fieldPath = path + "." + sf.Name
		}
		if field.Kind() == reflect.Struct {
			if err := validateRequired(field, fieldPath); err != nil {
				return err
			}
			continue
		}
		if sf.Tag.Get("required") != "true" {
			continue
		}
		if field.IsZero() {
			return lgerr.Newf(lgerr.CodeValidationRequired,
				"config: required field %q is empty", fieldPath)
		}
	}
	return nil
}
