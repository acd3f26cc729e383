package config

import "fmt"

// ConfigError is a rejected setting. The HTTP layer maps it to 400.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config: %s %s", e.Field, e.Reason)
}

func errField(field, reason string) *ConfigError {
	return &ConfigError{Field: field, Reason: reason}
}
