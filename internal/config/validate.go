package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/abhisek/notebrief/internal/dispatcher"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// Errors name fields by their config keys.
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("koanf"), ",")
			if name == "" {
				return f.Name
			}
			return name
		})
		_ = validate.RegisterValidation("weekdays", func(fl validator.FieldLevel) bool {
			_, err := dispatcher.ParseDays(fl.Field().String())
			return err == nil
		})
	})
	return validate
}

// Validate checks struct tags and the cross-field rules tags cannot
// express.
func (c *Config) Validate() error {
	if err := validatorInstance().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, describe(fe))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}
	if err := c.LLM.Validate(); err != nil {
		return err
	}
	if _, err := c.BuildSchedules(); err != nil {
		return err
	}
	return nil
}

func describe(fe validator.FieldError) string {
	path := fe.Namespace()
	if _, rest, ok := strings.Cut(path, "."); ok {
		path = rest
	}
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", path)
	case "weekdays":
		return fmt.Sprintf("%s: %q is not a day list such as mon-fri", path, fe.Value())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", path, fe.Param())
	case "gt", "gte", "lte", "min":
		return fmt.Sprintf("%s fails %s=%s", path, fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("%s is invalid (%s)", path, fe.Tag())
}
