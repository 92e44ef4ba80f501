package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validate roda as tags e as regras que cruzam campos.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if _, ok := c.RateLimits["pokemon"]; !ok {
		return errors.New("rate_limits.pokemon is required")
	}

	names := make([]string, 0, len(c.RateLimits))
	for name := range c.RateLimits {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, err := c.RateLimits[name].BucketConfig(); err != nil {
			return fmt.Errorf("rate_limits.%s: %w", name, err)
		}
	}

	if c.UsesRedis() && len(c.Redis.Addrs) == 0 {
		return errors.New("redis.addrs is required when a redis backend is selected")
	}
	return nil
}

func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		messages := make([]string, 0, len(validationErrors))
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()

	switch e.Tag() {
	case "required", "required_if":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "min":
		return fmt.Sprintf("%s must be >= %s", field, e.Param())
	case "gt":
		return fmt.Sprintf("%s must be > %s", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "startswith":
		return fmt.Sprintf("%s must start with %q", field, e.Param())
	default:
		return fmt.Sprintf("%s failed validation: %s", field, e.Tag())
	}
}
