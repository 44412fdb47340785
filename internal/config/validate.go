package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the configuration for required fields and valid values.
func Validate(c *Config) error {
	var errors []string

	if c.ManifestURL == "" {
		errors = append(errors, ValidationError{Field: "manifest_url", Message: "is required"}.Error())
	}

	if c.InstallDir == "" {
		errors = append(errors, ValidationError{Field: "install_dir", Message: "is required"}.Error())
	}

	if c.TimeoutSeconds < 0 {
		errors = append(errors, ValidationError{Field: "timeout_seconds", Message: "must be non-negative"}.Error())
	}

	if c.MaxRetries != nil && *c.MaxRetries < 0 {
		errors = append(errors, ValidationError{Field: "max_retries", Message: "must be non-negative"}.Error())
	}

	if c.KeepBackups < 0 {
		errors = append(errors, ValidationError{Field: "keep_backups", Message: "must be non-negative"}.Error())
	}

	if len(errors) > 0 {
		return fmt.Errorf("invalid config:\n  %s", strings.Join(errors, "\n  "))
	}

	return nil
}
