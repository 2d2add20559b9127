// Package config loads service configuration from the environment.
//
// Every variable name is namespaced under the WALKTHROUGH_ prefix, so
// struct tags carry only the bare name (`env:"PORT"` reads
// WALKTHROUGH_PORT).
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Prefix namespaces the service's environment variables.
const Prefix = "WALKTHROUGH_"

// ParseEnv loads configuration into target from WALKTHROUGH_-prefixed
// environment variables.
func ParseEnv(target any) error {
	if err := env.ParseWithOptions(target, env.Options{Prefix: Prefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
