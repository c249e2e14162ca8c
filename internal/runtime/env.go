// SPDX-License-Identifier: MPL-2.0

package runtime

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/joho/godotenv"
)

// ConfigEnvPrefix is the prefix of pkgrun's own configuration variables.
// Host variables carrying it are not forwarded to scripts.
const ConfigEnvPrefix = "PKGRUN_"

type (
	// EnvInheritMode controls which host environment variables reach scripts.
	EnvInheritMode string

	// Env assembles the environment for script executions. Layers are applied
	// in order: inherited host variables, env files, then explicit variables.
	// Later layers override earlier ones.
	Env struct {
		// Inherit selects how host variables are forwarded.
		Inherit EnvInheritMode
		// Allow lists host variables to forward when Inherit is EnvInheritAllow.
		Allow []string
		// Files are dotenv files loaded after the host environment.
		// Relative paths are resolved against the execution directory.
		Files []string
		// Vars are explicit variables applied last.
		Vars map[string]string
	}
)

// Env inherit modes.
const (
	EnvInheritAll   EnvInheritMode = "all"
	EnvInheritAllow EnvInheritMode = "allow"
	EnvInheritNone  EnvInheritMode = "none"
)

// Build resolves the layered environment for a script running in dir.
func (e *Env) Build(dir string) (map[string]string, error) {
	env := buildHostEnv(e.Inherit, e.Allow)

	for _, file := range e.Files {
		path := file
		if !filepath.IsAbs(path) && dir != "" {
			path = filepath.Join(dir, path)
		}
		vars, err := godotenv.Read(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load env file %s: %w", file, err)
		}
		maps.Copy(env, vars)
	}

	maps.Copy(env, e.Vars)
	return env, nil
}

func buildHostEnv(mode EnvInheritMode, allow []string) map[string]string {
	env := make(map[string]string)
	if mode == EnvInheritNone {
		return env
	}

	for _, entry := range os.Environ() {
		name, value, ok := strings.Cut(entry, "=")
		// Windows carries per-drive variables like "=C:" that have an empty name.
		if !ok || name == "" {
			continue
		}
		if strings.HasPrefix(name, ConfigEnvPrefix) {
			continue
		}
		if mode == EnvInheritAllow && !slices.Contains(allow, name) {
			continue
		}
		env[name] = value
	}
	return env
}

// EnvToSlice converts an environment map to a sorted KEY=VALUE slice.
func EnvToSlice(env map[string]string) []string {
	result := make([]string, 0, len(env))
	for _, k := range slices.Sorted(maps.Keys(env)) {
		result = append(result, k+"="+env[k])
	}
	return result
}

// IsValid returns whether the mode is a defined inherit mode.
func (m EnvInheritMode) IsValid() (bool, []error) {
	switch m {
	case EnvInheritAll, EnvInheritAllow, EnvInheritNone:
		return true, nil
	default:
		return false, []error{fmt.Errorf("invalid env inherit mode %q (valid: all, allow, none)", m)}
	}
}
