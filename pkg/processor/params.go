package processor

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is a singleton validator instance. Field names in its errors are
// the json names users write in plan files.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
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

// Validator is implemented by parameter structs with checks that struct tags
// cannot express.
type Validator interface {
	Validate() error
}

// Bind decodes a raw parameter map into P. Unknown fields and type
// mismatches are rejected, validate tags are enforced, and P's Validate
// method runs last when P implements Validator.
func Bind[P any](raw map[string]any) (P, error) {
	var params P
	if raw == nil {
		raw = map[string]any{}
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return params, &ParameterError{Reason: "parameters are not serializable", Cause: err}
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&params); err != nil {
		return params, decodeError(err)
	}

	if err := validate.Struct(&params); err != nil {
		return params, formatValidationError(err)
	}

	if v, ok := any(&params).(Validator); ok {
		if err := v.Validate(); err != nil {
			var perr *ParameterError
			if errors.As(err, &perr) {
				return params, perr
			}
			return params, &ParameterError{Reason: err.Error(), Cause: err}
		}
	}
	return params, nil
}

func decodeError(err error) *ParameterError {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return &ParameterError{
			Field:  typeErr.Field,
			Reason: fmt.Sprintf("expected %s, got %s", typeErr.Type, typeErr.Value),
			Cause:  err,
		}
	}
	// encoding/json reports unknown fields only through the message text.
	if _, field, ok := strings.Cut(err.Error(), "unknown field "); ok {
		return &ParameterError{
			Field:  strings.Trim(field, `"`),
			Reason: "unknown field",
			Cause:  err,
		}
	}
	return &ParameterError{Reason: err.Error(), Cause: err}
}

// formatValidationError converts the first validator failure into a
// ParameterError naming the field.
func formatValidationError(err error) *ParameterError {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) || len(validationErrs) == 0 {
		return &ParameterError{Reason: err.Error(), Cause: err}
	}

	e := validationErrs[0]
	// Namespace is "Struct.field.nested"; drop the struct name.
	field := e.Field()
	if _, rest, ok := strings.Cut(e.Namespace(), "."); ok {
		field = rest
	}

	var reason string
	switch e.Tag() {
	case "required":
		reason = "field is required"
	case "min", "gte":
		reason = "must be at least " + e.Param()
	case "max", "lte":
		reason = "must not exceed " + e.Param()
	case "oneof":
		reason = "must be one of " + e.Param()
	default:
		reason = fmt.Sprintf("validation failed (%s)", e.Tag())
	}
	return &ParameterError{Field: field, Reason: reason, Cause: err}
}
