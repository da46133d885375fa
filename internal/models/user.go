package models

import (
	"fmt"
	"strings"
	"time"
)

// User represents a persisted user record as read from a user store.
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time

	// Fields is the record exactly as the store returned it, keyed by column or
	// document field name.
	Fields map[string]any
}

// Identity is the sanitized record handed out after a successful login: every
// stored field under its original key except the password.
type Identity map[string]any

// Identity returns a copy of the stored record without the password field.
func (u User) Identity() Identity {
	identity := make(Identity, len(u.Fields))
	for key, value := range u.Fields {
		if isPasswordKey(key) {
			continue
		}
		identity[key] = value
	}
	return identity
}

// UserFromFields maps a generic row/document onto a User. Well-known columns are
// lifted into typed fields; the full record is kept in Fields.
func UserFromFields(fields map[string]any) User {
	user := User{Fields: make(map[string]any, len(fields))}

	for key, value := range fields {
		user.Fields[key] = value

		switch key {
		case "id":
			user.ID = stringValue(value)
		case "_id":
			if user.ID == "" {
				user.ID = stringValue(value)
			}
		case "name":
			user.Name = stringValue(value)
		case "email":
			user.Email = stringValue(value)
		case "password":
			user.PasswordHash = stringValue(value)
		case "created_at":
			user.CreatedAt = timeValue(value)
		case "updated_at":
			user.UpdatedAt = timeValue(value)
		}
	}

	return user
}

func isPasswordKey(key string) bool {
	return strings.EqualFold(key, "password")
}

func stringValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

func timeValue(value any) time.Time {
	if t, ok := value.(time.Time); ok {
		return t.UTC()
	}
	return time.Time{}
}
