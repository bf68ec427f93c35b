package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid configuration")

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks field constraints and then the rules that span fields.
func (c *Config) Validate() error {
	if err := getValidator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %w", ErrInvalid, err)
		}
		msgs := make([]string, len(verrs))
		for i, fe := range verrs {
			msgs[i] = describe(fe)
		}
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
	}

	var errs []error
	if c.Ring.FrameSize%8 != 0 {
		errs = append(errs, fmt.Errorf("ring.frame_size %d is not a multiple of 8", c.Ring.FrameSize))
	}
	if c.Consumer.RetryMax < c.Consumer.RetryInitial {
		errs = append(errs, fmt.Errorf("consumer.retry_max %s is below retry_initial %s",
			c.Consumer.RetryMax, c.Consumer.RetryInitial))
	}
	if c.Consumer.StallTimeout > 0 && c.Consumer.StallTimeout < c.Consumer.StallThreshold {
		errs = append(errs, fmt.Errorf("consumer.stall_timeout %s is below stall_threshold %s",
			c.Consumer.StallTimeout, c.Consumer.StallThreshold))
	}
	if c.Consumer.WatchdogInterval > c.Consumer.StallThreshold {
		errs = append(errs, fmt.Errorf("consumer.watchdog_interval %s exceeds stall_threshold %s",
			c.Consumer.WatchdogInterval, c.Consumer.StallThreshold))
	}
	if c.Producer.HeartbeatInterval >= c.Consumer.StallThreshold {
		errs = append(errs, fmt.Errorf("producer.heartbeat_interval %s must be below consumer.stall_threshold %s",
			c.Producer.HeartbeatInterval, c.Consumer.StallThreshold))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

func describe(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "required", "required_if":
		return field + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	}
	return fmt.Sprintf("%s failed %s", field, fe.Tag())
}
