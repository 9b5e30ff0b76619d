package api

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateRequest returns one message per failed field, or nil.
func validateRequest(req any) []string {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}

	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			out = append(out, fmt.Sprintf("%s is required", fe.Field()))
		case "max":
			out = append(out, fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param()))
		default:
			out = append(out, fmt.Sprintf("%s is invalid", fe.Field()))
		}
	}
	return out
}
