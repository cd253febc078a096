package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// configValidate checks struct tags. yaml names are used in error paths so
// messages point at the key the user wrote.
var configValidate *validator.Validate

func init() {
	configValidate = validator.New(validator.WithRequiredStructEnabled())
	configValidate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// validate performs tag validation plus the checks tags cannot express.
func validate(cfg *Config) error {
	if err := configValidate.Struct(cfg); err != nil {
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

	for _, f := range []struct{ key, value string }{
		{"repository.url", cfg.Repository.URL},
		{"repository.dir", cfg.Repository.Dir},
		{"workspace.root", cfg.Workspace.Root},
		{"state.path", cfg.State.Path},
	} {
		if m := envVarPattern.FindStringSubmatch(f.value); len(m) > 1 {
			return fmt.Errorf("%s: environment variable ${%s} is not set", f.key, m[1])
		}
	}

	if cfg.State.IsEnabled() && cfg.State.Path == "" {
		return fmt.Errorf("state.path is required when state is enabled")
	}
	return nil
}

// describe renders one validation failure as "path: problem".
func describe(fe validator.FieldError) string {
	path := fe.Namespace()
	if i := strings.Index(path, "."); i >= 0 {
		path = path[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", path)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s (got %q)", path, strings.ReplaceAll(fe.Param(), " ", ", "), fe.Value())
	case "min":
		return fmt.Sprintf("%s must have at least %s entries", path, fe.Param())
	case "gte":
		if fe.Param() == "0" {
			return fmt.Sprintf("%s must not be negative", path)
		}
		return fmt.Sprintf("%s must be at least %s (got %v)", path, fe.Param(), fe.Value())
	case "unique":
		return fmt.Sprintf("%s must have unique %s values", path, strings.ToLower(fe.Param()))
	case "excludesall":
		return fmt.Sprintf("%s must not contain any of %q", path, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", path, fe.Tag())
	}
}
