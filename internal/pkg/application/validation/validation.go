// Package validation validates request payloads and reports failures per field.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/diwise/facility-mgmt/pkg/types"
	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})

	return v
}

// Struct validates v and returns the failures keyed by json field name, or
// nil when v is valid.
func Struct(v any) types.FieldErrors {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return types.FieldErrors{"": err.Error()}
	}

	fe := types.FieldErrors{}
	for _, e := range errs {
		fe[e.Field()] = message(e)
	}

	return fe
}

func message(e validator.FieldError) string {
	switch e.Tag() {
	case "required", "required_with", "required_without":
		return "this field is required"
	case "min":
		return fmt.Sprintf("must be at least %s", e.Param())
	case "max":
		return fmt.Sprintf("must not exceed %s", e.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", e.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", e.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", e.Param())
	case "latitude":
		return "must be a valid latitude"
	case "longitude":
		return "must be a valid longitude"
	}
	return fmt.Sprintf("failed on the '%s' rule", e.Tag())
}
