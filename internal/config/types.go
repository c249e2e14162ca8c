// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/pkgrun/pkgrun/internal/runtime"
	"github.com/pkgrun/pkgrun/internal/scheduler"
)

const (
	// ColorSchemeAuto detects the terminal color scheme automatically.
	ColorSchemeAuto ColorScheme = "auto"
	// ColorSchemeDark forces dark color scheme.
	ColorSchemeDark ColorScheme = "dark"
	// ColorSchemeLight forces light color scheme.
	ColorSchemeLight ColorScheme = "light"
)

var (
	// ErrInvalidColorScheme is returned when a ColorScheme value is not recognized.
	ErrInvalidColorScheme = errors.New("invalid color scheme")
	// ErrInvalidGlob is the sentinel error wrapped by InvalidGlobError.
	ErrInvalidGlob = errors.New("invalid glob pattern")
	// ErrInvalidDuration is the sentinel error wrapped by InvalidDurationError.
	ErrInvalidDuration = errors.New("invalid duration")
	// ErrInvalidUIConfig is the sentinel error wrapped by InvalidUIConfigError.
	ErrInvalidUIConfig = errors.New("invalid UI config")
	// ErrInvalidEnvConfig is the sentinel error wrapped by InvalidEnvConfigError.
	ErrInvalidEnvConfig = errors.New("invalid env config")
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
)

type (
	// ColorScheme specifies the terminal color scheme preference.
	ColorScheme string

	// InvalidColorSchemeError is returned when a ColorScheme value is not recognized.
	// It wraps ErrInvalidColorScheme for errors.Is() compatibility.
	InvalidColorSchemeError struct {
		Value ColorScheme
	}

	// InvalidGlobError is returned for a malformed package or ignore glob.
	InvalidGlobError struct {
		Field   string
		Pattern string
	}

	// InvalidDurationError is returned for a negative duration setting.
	InvalidDurationError struct {
		Field string
		Value time.Duration
	}

	// InvalidUIConfigError is returned when a UIConfig has invalid fields.
	// It wraps ErrInvalidUIConfig for errors.Is() compatibility and collects
	// field-level validation errors.
	InvalidUIConfigError struct {
		FieldErrors []error
	}

	// InvalidEnvConfigError is returned when an EnvConfig has invalid fields.
	InvalidEnvConfigError struct {
		FieldErrors []error
	}

	// InvalidConfigError is returned when a Config has invalid fields.
	// It wraps ErrInvalidConfig for errors.Is() compatibility and collects
	// field-level validation errors from all sub-components.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// Config holds the application configuration.
	Config struct {
		// Concurrency caps the number of package tasks in flight.
		Concurrency scheduler.ConcurrencyLimit `json:"concurrency" mapstructure:"concurrency"`
		// Mode selects parallel or sequential scheduling.
		Mode scheduler.Mode `json:"mode" mapstructure:"mode"`
		// ProgressInterval is the progress report cadence; zero disables reports.
		ProgressInterval time.Duration `json:"progress_interval" mapstructure:"progress_interval"`
		// DefaultRuntime is the runtime used when --runtime is not given.
		DefaultRuntime runtime.Mode `json:"default_runtime" mapstructure:"default_runtime"`
		// TaskTimeout bounds each package task; zero disables the timeout.
		TaskTimeout time.Duration `json:"task_timeout" mapstructure:"task_timeout"`
		// Packages are the workspace package globs.
		Packages []string `json:"packages" mapstructure:"packages"`
		// Ignore are globs skipped when computing package digests.
		Ignore []string `json:"ignore" mapstructure:"ignore"`
		// Env configures the task environment.
		Env EnvConfig `json:"env" mapstructure:"env"`
		// UI configures the user interface
		UI UIConfig `json:"ui" mapstructure:"ui"`
	}

	// EnvConfig configures the environment of task scripts.
	EnvConfig struct {
		InheritMode runtime.EnvInheritMode `json:"inherit_mode" mapstructure:"inherit_mode"`
		Allow       []string               `json:"allow" mapstructure:"allow"`
		Files       []string               `json:"files" mapstructure:"files"`
	}

	// UIConfig configures the user interface.
	UIConfig struct {
		// ColorScheme sets the color scheme
		ColorScheme ColorScheme `json:"color_scheme" mapstructure:"color_scheme"`
		// Verbose enables verbose output
		Verbose bool `json:"verbose" mapstructure:"verbose"`
	}
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	run := scheduler.DefaultConfig()
	return &Config{
		Concurrency:      run.Concurrency,
		Mode:             run.Mode,
		ProgressInterval: run.ProgressInterval,
		DefaultRuntime:   runtime.ModeNative,
		Packages:         []string{"packages/*"},
		Ignore:           []string{},
		Env: EnvConfig{
			InheritMode: runtime.EnvInheritAll,
			Allow:       []string{},
			Files:       []string{},
		},
		UI: UIConfig{
			ColorScheme: ColorSchemeAuto,
		},
	}
}

// RunConfig returns the scheduler configuration described by c.
func (c *Config) RunConfig() scheduler.Config {
	return scheduler.Config{
		Concurrency:      c.Concurrency,
		ProgressInterval: c.ProgressInterval,
		Mode:             c.Mode,
	}
}

// TaskEnv returns the task environment builder described by c.
func (c *Config) TaskEnv() *runtime.Env {
	return &runtime.Env{
		Inherit: c.Env.InheritMode,
		Allow:   c.Env.Allow,
		Files:   c.Env.Files,
	}
}

// IsValid returns whether the Config has valid fields.
// Scheduler settings are validated by scheduler.Config.IsValid.
func (c *Config) IsValid() (bool, []error) {
	var errs []error
	if valid, fieldErrs := c.RunConfig().IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if valid, fieldErrs := c.DefaultRuntime.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if c.TaskTimeout < 0 {
		errs = append(errs, &InvalidDurationError{Field: "task_timeout", Value: c.TaskTimeout})
	}
	errs = append(errs, validateGlobs("packages", c.Packages)...)
	errs = append(errs, validateGlobs("ignore", c.Ignore)...)
	if valid, fieldErrs := c.Env.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if valid, fieldErrs := c.UI.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if len(errs) > 0 {
		return false, []error{&InvalidConfigError{FieldErrors: errs}}
	}
	return true, nil
}

func validateGlobs(field string, globs []string) []error {
	var errs []error
	for _, g := range globs {
		pattern := strings.TrimPrefix(strings.TrimSpace(g), "!")
		if pattern == "" || !doublestar.ValidatePattern(pattern) {
			errs = append(errs, &InvalidGlobError{Field: field, Pattern: g})
		}
	}
	return errs
}

// Error implements the error interface for InvalidConfigError.
func (e *InvalidConfigError) Error() string {
	msgs := make([]string, len(e.FieldErrors))
	for i, err := range e.FieldErrors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("invalid config: %s", strings.Join(msgs, "; "))
}

// Unwrap returns ErrInvalidConfig and the field errors.
func (e *InvalidConfigError) Unwrap() []error {
	return append([]error{ErrInvalidConfig}, e.FieldErrors...)
}

// IsValid returns whether the EnvConfig has valid fields.
func (c EnvConfig) IsValid() (bool, []error) {
	var errs []error
	if valid, fieldErrs := c.InheritMode.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if len(errs) > 0 {
		return false, []error{&InvalidEnvConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Error implements the error interface for InvalidEnvConfigError.
func (e *InvalidEnvConfigError) Error() string {
	return fmt.Sprintf("invalid env config: %v", errors.Join(e.FieldErrors...))
}

// Unwrap returns ErrInvalidEnvConfig for errors.Is() compatibility.
func (e *InvalidEnvConfigError) Unwrap() error { return ErrInvalidEnvConfig }

// IsValid returns whether the UIConfig has valid fields.
// It delegates to ColorScheme.IsValid(); bool fields need no validation.
func (c UIConfig) IsValid() (bool, []error) {
	var errs []error
	if valid, fieldErrs := c.ColorScheme.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if len(errs) > 0 {
		return false, []error{&InvalidUIConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Error implements the error interface for InvalidUIConfigError.
func (e *InvalidUIConfigError) Error() string {
	return fmt.Sprintf("invalid UI config: %v", errors.Join(e.FieldErrors...))
}

// Unwrap returns ErrInvalidUIConfig for errors.Is() compatibility.
func (e *InvalidUIConfigError) Unwrap() error { return ErrInvalidUIConfig }

// String returns the string representation of the ColorScheme.
func (c ColorScheme) String() string { return string(c) }

// IsValid returns whether the ColorScheme is one of the defined color schemes,
// and a list of validation errors if it is not.
func (c ColorScheme) IsValid() (bool, []error) {
	switch c {
	case ColorSchemeAuto, ColorSchemeDark, ColorSchemeLight:
		return true, nil
	default:
		return false, []error{&InvalidColorSchemeError{Value: c}}
	}
}

// Error implements the error interface for InvalidColorSchemeError.
func (e *InvalidColorSchemeError) Error() string {
	return fmt.Sprintf("invalid color scheme %q (valid: auto, dark, light)", e.Value)
}

// Unwrap returns ErrInvalidColorScheme for errors.Is() compatibility.
func (e *InvalidColorSchemeError) Unwrap() error { return ErrInvalidColorScheme }

// Error implements the error interface for InvalidGlobError.
func (e *InvalidGlobError) Error() string {
	return fmt.Sprintf("%s: invalid glob pattern %q", e.Field, e.Pattern)
}

// Unwrap returns ErrInvalidGlob for errors.Is() compatibility.
func (e *InvalidGlobError) Unwrap() error { return ErrInvalidGlob }

// Error implements the error interface for InvalidDurationError.
func (e *InvalidDurationError) Error() string {
	return fmt.Sprintf("%s: invalid duration %s (must not be negative)", e.Field, e.Value)
}

// Unwrap returns ErrInvalidDuration for errors.Is() compatibility.
func (e *InvalidDurationError) Unwrap() error { return ErrInvalidDuration }
