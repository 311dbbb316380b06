package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// RegisterCustomValidators registers broker-specific validation rules.
// Must be called before validating BrokerConfig.
func RegisterCustomValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("absolute_path", validateAbsolutePath); err != nil {
		return fmt.Errorf("failed to register absolute_path validator: %w", err)
	}
	return nil
}

// validateAbsolutePath requires the field to be a non-empty absolute
// filesystem path -- every wrapper in the registry must be pinned to one.
func validateAbsolutePath(fl validator.FieldLevel) bool {
	p := fl.Field().String()
	return p != "" && filepath.IsAbs(p)
}

// Validate validates the BrokerConfig using struct tags and custom
// cross-field rules. Returns an error if validation fails, with
// actionable error messages.
func (c *BrokerConfig) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateHMACKey(); err != nil {
		return err
	}
	if err := c.validateWrapperIDsUnique(); err != nil {
		return err
	}
	if err := c.validateSweepInterval(); err != nil {
		return err
	}

	return nil
}

// validateHMACKey enforces exactly one of Key/KeyFile and a resolved key
// of at least 32 bytes, per the signing scheme's minimum key-strength
// requirement.
func (c *BrokerConfig) validateHMACKey() error {
	hasKey := c.HMAC.Key != ""
	hasFile := c.HMAC.KeyFile != ""
	if hasKey == hasFile {
		return errors.New("hmac: specify exactly one of key or key_file")
	}
	key, err := c.HMAC.Resolve()
	if err != nil {
		return fmt.Errorf("hmac: %w", err)
	}
	if len(key) < 32 {
		return fmt.Errorf("hmac: resolved key is %d bytes, must be at least 32", len(key))
	}
	return nil
}

// validateWrapperIDsUnique ensures the registry has no duplicate wrapper
// ids -- wrapper.NewRegistry would reject this anyway, but failing fast
// here gives a config-layer error message instead of a later registry
// construction error at boot.
func (c *BrokerConfig) validateWrapperIDsUnique() error {
	seen := make(map[string]struct{}, len(c.Wrappers))
	for _, w := range c.Wrappers {
		if _, dup := seen[w.ID]; dup {
			return fmt.Errorf("wrappers: duplicate wrapper id %q", w.ID)
		}
		seen[w.ID] = struct{}{}
	}
	return nil
}

// validateSweepInterval rejects a malformed (but non-empty) interval
// early, rather than silently falling back at runtime.
func (c *BrokerConfig) validateSweepInterval() error {
	if c.Sweeper.Interval == "" {
		return nil
	}
	d, err := time.ParseDuration(c.Sweeper.Interval)
	if err != nil || d <= 0 {
		return fmt.Errorf("sweeper: interval %q did not parse to a positive duration", c.Sweeper.Interval)
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to
// user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a
// single validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "absolute_path":
		return fmt.Sprintf("%s must be an absolute filesystem path", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
