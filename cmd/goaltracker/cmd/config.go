package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmcleod/goaltracker/internal/config"
)

// flagEnv maps command flags onto the environment keys they override.
var flagEnv = map[string]string{
	"port":          "PORT",
	"store":         "STORE",
	"data-dir":      "DATA_DIR",
	"database-url":  "DATABASE_URL",
	"auth-provider": "AUTH_PROVIDER",
}

// loadConfig applies explicitly set flags over the environment, then loads
// and validates the configuration.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	for flag, key := range flagEnv {
		f := cmd.Flags().Lookup(flag)
		if f == nil || !f.Changed {
			continue
		}
		if err := os.Setenv(key, f.Value.String()); err != nil {
			return nil, fmt.Errorf("applying --%s: %w", flag, err)
		}
	}
	if dev, _ := cmd.Flags().GetBool("dev"); dev {
		if err := os.Setenv("APP_ENV", config.EnvDevelopment); err != nil {
			return nil, err
		}
	}

	var files []string
	if f, _ := cmd.Flags().GetString("env-file"); f != "" {
		files = append(files, f)
	}
	return config.Load(files...)
}
