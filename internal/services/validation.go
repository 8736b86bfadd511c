package services

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/isdelr/bookshelf-be/internal/apperror"
)

const (
	passwordMinLength = 8
	passwordMaxLength = 64
	// bcrypt ignores everything past 72 bytes.
	passwordMaxBytes = 72
	passwordSpecials = "!@#$%^&*()_+-=[]{}|;:,.<>?"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})
	if err := v.RegisterValidation("password", func(fl validator.FieldLevel) bool {
		return len(PasswordProblems(fl.Field().String())) == 0
	}); err != nil {
		panic(err)
	}
	return v
}

// PasswordProblems lists every complexity rule password fails. An empty
// result means the password is acceptable.
func PasswordProblems(password string) []string {
	var problems []string
	if n := utf8.RuneCountInString(password); n < passwordMinLength {
		problems = append(problems, fmt.Sprintf("at least %d characters required", passwordMinLength))
	} else if n > passwordMaxLength {
		problems = append(problems, fmt.Sprintf("at most %d characters allowed", passwordMaxLength))
	}
	if len(password) > passwordMaxBytes {
		problems = append(problems, fmt.Sprintf("at most %d bytes allowed", passwordMaxBytes))
	}

	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case r >= '0' && r <= '9':
			digit = true
		case strings.ContainsRune(passwordSpecials, r):
			special = true
		}
	}
	if !upper {
		problems = append(problems, "uppercase letter required")
	}
	if !lower {
		problems = append(problems, "lowercase letter required")
	}
	if !digit {
		problems = append(problems, "digit required")
	}
	if !special {
		problems = append(problems, "special character required")
	}
	return problems
}

// validateStruct runs struct tag validation and converts failures into a
// single validation error listing every offending field.
func validateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperror.Validation(err.Error())
	}

	messages := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		messages = append(messages, fe.Field()+": "+fieldMessage(fe))
	}
	return apperror.Validation(strings.Join(messages, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return "must be at least " + fe.Param() + " characters"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "excludes":
		return "must not contain " + fe.Param()
	case "password":
		value, _ := fe.Value().(string)
		if ptr, ok := fe.Value().(*string); ok && ptr != nil {
			value = *ptr
		}
		return "Password requirements not met: " + strings.Join(PasswordProblems(value), ", ")
	default:
		return "failed " + fe.Tag() + " check"
	}
}
