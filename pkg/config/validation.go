package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/conductorone/baton-presence/pkg/logging"
)

type ConfigurationError struct {
	errs []error
}

func (c *ConfigurationError) Error() string {
	amount := len(c.errs)
	var errstrings []string
	for _, err := range c.errs {
		errstrings = append(errstrings, err.Error())
	}

	return fmt.Sprintf("found %d error(s) in the configuration:\n%s", amount, strings.Join(errstrings, "\n"))
}

func (c *ConfigurationError) PushError(err error) {
	if err == nil {
		return
	}
	c.errs = append(c.errs, err)
}

func (c *ConfigurationError) Unwrap() []error {
	return c.errs
}

// ValidateConfiguration checks the options that only make sense together.
// Session settings are checked again by the tracker on start.
func ValidateConfiguration(v *viper.Viper) error {
	errorsFound := &ConfigurationError{}

	if len(v.GetStringSlice("user-ids")) == 0 {
		errorsFound.PushError(fmt.Errorf("field user-ids is required, but no value was provided"))
	}

	switch f := v.GetString("log-format"); f {
	case logging.LogFormatJSON, logging.LogFormatConsole:
	default:
		errorsFound.PushError(fmt.Errorf("field log-format must be %q or %q (value '%s')", logging.LogFormatJSON, logging.LogFormatConsole, f))
	}

	if len(v.GetStringSlice("kafka-brokers")) > 0 && v.GetString("kafka-topic") == "" {
		errorsFound.PushError(fmt.Errorf("field kafka-topic is required when kafka-brokers is set"))
	}

	if db := v.GetInt("redis-db"); db < 0 {
		errorsFound.PushError(fmt.Errorf("field redis-db must not be negative (value %d)", db))
	}

	if len(errorsFound.errs) > 0 {
		return errorsFound
	}

	return nil
}
