package config

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()

	// report yaml names, not Go field names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation("instance_id", func(fl validator.FieldLevel) bool {
		return instanceIDPattern.MatchString(fl.Field().String())
	})
	return v
}

// Validate checks if the configuration is valid
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return describe(verrs[0])
		}
		return err
	}

	switch cfg.Source.Type {
	case "process":
		if cfg.Source.Command == "" {
			return fmt.Errorf("source.command is required when source.type is process")
		}
	case "replay":
		if cfg.Source.ReplayPath == "" {
			return fmt.Errorf("source.replay_path is required when source.type is replay")
		}
	}

	if !cfg.Storage.InMemory && cfg.Storage.Path == "" {
		return fmt.Errorf("storage.path is required unless storage.in_memory is set")
	}

	if cfg.MQTT.Enabled && cfg.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}

	if cfg.Loop.FrameIntervalMS > cfg.Loop.EvaluationIntervalMS {
		return fmt.Errorf("loop.frame_interval_ms (%d) must not exceed loop.evaluation_interval_ms (%d)",
			cfg.Loop.FrameIntervalMS, cfg.Loop.EvaluationIntervalMS)
	}

	return nil
}

func describe(fe validator.FieldError) error {
	// drop the root struct name
	field := fe.Namespace()
	if _, rest, ok := strings.Cut(field, "."); ok {
		field = rest
	}

	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s is required", field)
	case "instance_id":
		return fmt.Errorf("%s must match pattern [a-z0-9-]+", field)
	case "oneof":
		return fmt.Errorf("%s must be one of [%s], got %q", field, fe.Param(), fe.Value())
	default:
		if fe.Param() != "" {
			return fmt.Errorf("%s must satisfy %s=%s, got %v", field, fe.Tag(), fe.Param(), fe.Value())
		}
		return fmt.Errorf("%s must satisfy %s, got %v", field, fe.Tag(), fe.Value())
	}
}
