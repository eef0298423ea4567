package scheduling

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/medrex/scheduling-engine/pkg/types"
)

var validate = newValidator()

// newValidator reports fields by their JSON names
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateRequest checks a request's struct tags and turns the first failing
// field into a ValidationError
func validateRequest(req interface{}) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return types.NewValidationError(types.ErrCodeInvalidInput, err.Error(), nil)
	}

	fe := fieldErrs[0]
	details := map[string]interface{}{"field": fe.Field(), "rule": fe.Tag()}

	var message string
	switch fe.Tag() {
	case "required":
		message = fmt.Sprintf("%s is required", fe.Field())
	case "oneof":
		message = fmt.Sprintf("unsupported %s: %q", fe.Field(), fmt.Sprint(fe.Value()))
		details["allowed"] = strings.Fields(fe.Param())
	default:
		message = fmt.Sprintf("%s is invalid", fe.Field())
	}
	return types.NewValidationError(types.ErrCodeInvalidInput, message, details)
}
