package auth

import (
	"errors"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
	passwordSpecial = regexp.MustCompile(`[!@#$%^&*]`)
	passwordUpper   = regexp.MustCompile(`[A-Z]`)
	passwordLower   = regexp.MustCompile(`[a-z]`)
	passwordDigit   = regexp.MustCompile(`[0-9]`)
)

type RegisterInput struct {
	Username string `json:"username" validate:"required,username"`
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,strong_password"`
}

type UpdateProfileInput struct {
	Username *string `json:"username" validate:"omitempty,username"`
	Email    *string `json:"email" validate:"omitempty,email,max=255"`
}

// ValidationError carries a client-facing message.
type ValidationError struct {
	Message string
}

func (e ValidationError) Error() string {
	return e.Message
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		value := fl.Field().String()
		return len(value) >= 3 && len(value) <= 50 && usernamePattern.MatchString(value)
	})
	_ = v.RegisterValidation("strong_password", func(fl validator.FieldLevel) bool {
		return len(passwordProblems(fl.Field().String())) == 0
	})
	return v
}

func passwordProblems(password string) []string {
	var problems []string
	if len(password) < 8 {
		problems = append(problems, "be at least 8 characters long")
	}
	if len(password) > 128 {
		problems = append(problems, "be at most 128 characters")
	}
	for i := 0; i < len(password); i++ {
		if password[i] < 32 || password[i] > 126 {
			return []string{"contain only printable ASCII characters"}
		}
	}
	if !passwordUpper.MatchString(password) {
		problems = append(problems, "contain at least one uppercase letter")
	}
	if !passwordLower.MatchString(password) {
		problems = append(problems, "contain at least one lowercase letter")
	}
	if !passwordDigit.MatchString(password) {
		problems = append(problems, "contain at least one digit")
	}
	if !passwordSpecial.MatchString(password) {
		problems = append(problems, "contain at least one special character (!@#$%^&*)")
	}
	return problems
}

func validationMessage(err error, input any) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return ValidationError{Message: "invalid request"}
	}

	first := fieldErrs[0]
	switch first.Tag() {
	case "required":
		return ValidationError{Message: strings.ToLower(first.Field()) + " is required"}
	case "username":
		return ValidationError{Message: "username must be 3-50 characters of letters, numbers and underscores"}
	case "email", "max":
		return ValidationError{Message: "email is invalid"}
	case "strong_password":
		if in, ok := input.(RegisterInput); ok {
			return ValidationError{Message: "password must " + strings.Join(passwordProblems(in.Password), "; ")}
		}
		return ValidationError{Message: "password is invalid"}
	default:
		return ValidationError{Message: strings.ToLower(first.Field()) + " is invalid"}
	}
}
