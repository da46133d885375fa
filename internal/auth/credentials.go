package auth

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Credentials is a login payload that passed schema validation.
type Credentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// ValidationError lists field-level problems found in a credentials payload.
type ValidationError struct {
	Fields map[string][]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for key := range e.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+": "+strings.Join(e.Fields[key], ", "))
	}

	return "auth: invalid credentials payload: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, message string) {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[field] = append(e.Fields[field], message)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ParseCredentials checks an untrusted payload against the login schema. Keys
// other than email and password are ignored. On failure the returned error is a
// *ValidationError.
func ParseCredentials(raw map[string]any) (Credentials, error) {
	var (
		creds Credentials
		vErr  ValidationError
	)

	if s, ok := stringField(raw, "email"); ok {
		creds.Email = s
	} else {
		vErr.add("email", "expected string")
	}

	if s, ok := stringField(raw, "password"); ok {
		creds.Password = s
	} else {
		vErr.add("password", "expected string")
	}

	if err := validate.Struct(creds); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return Credentials{}, fmt.Errorf("auth: validate credentials: %w", err)
		}
		for _, fe := range fieldErrs {
			if _, already := vErr.Fields[fe.Field()]; already {
				continue
			}
			vErr.add(fe.Field(), describeFieldError(fe))
		}
	}

	if len(vErr.Fields) > 0 {
		return Credentials{}, &vErr
	}

	return creds, nil
}

// stringField reports false only when the key is present with a non-string value.
func stringField(raw map[string]any, key string) (string, bool) {
	value, present := raw[key]
	if !present || value == nil {
		return "", true
	}
	s, ok := value.(string)
	return s, ok
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "email":
		return "invalid email"
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}
