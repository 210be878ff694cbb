package app

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	feedbackTypes    = []string{"Bug Report", "Feature Request", "Question"}
	feedbackStatuses = []string{"open", "in_progress", "to_notify", "notified", "resolved", "closed", "back_burner"}
	priorities       = []string{"low", "medium", "high", "critical"}
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("feedbacktype", oneOfValidator(feedbackTypes))
	_ = v.RegisterValidation("feedbackstatus", oneOfValidator(feedbackStatuses))
	_ = v.RegisterValidation("priority", oneOfValidator(priorities))
	return v
}

func oneOfValidator(allowed []string) validator.Func {
	return func(fl validator.FieldLevel) bool {
		value := fl.Field().String()
		for _, candidate := range allowed {
			if value == candidate {
				return true
			}
		}
		return false
	}
}

// check runs struct validation and turns failures into a 400 listing the
// offending fields.
func (s *Service) check(input any) error {
	err := s.validate.Struct(input)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return validationError(err.Error(), nil)
	}
	fields := make(map[string]string, len(fieldErrs))
	messages := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields[fe.Field()] = describeFieldError(fe)
		messages = append(messages, fe.Field()+" "+fields[fe.Field()])
	}
	return validationError(strings.Join(messages, "; "), map[string]any{"fields": fields})
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "feedbacktype":
		return "must be one of: " + strings.Join(feedbackTypes, ", ")
	case "feedbackstatus":
		return "must be one of: " + strings.Join(feedbackStatuses, ", ")
	case "priority":
		return "must be one of: " + strings.Join(priorities, ", ")
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "url", "http_url":
		return "must be a URL"
	case "base64":
		return "must be base64 encoded"
	default:
		return "is invalid"
	}
}
