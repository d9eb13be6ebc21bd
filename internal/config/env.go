package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// EnvSettings holds runtime secrets and endpoints that stay out of the YAML
// file. Values are read from RUNNER_* variables.
type EnvSettings struct {
	RedisAddr      string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword  string `envconfig:"REDIS_PASSWORD"`
	RedisDB        int    `envconfig:"REDIS_DB" default:"0"`
	DatabaseDSN    string `envconfig:"DATABASE_DSN"`
	DashboardToken string `envconfig:"DASHBOARD_TOKEN"`
	DashboardPort  int    `envconfig:"DASHBOARD_PORT"`
}

// LoadEnv reads EnvSettings from the environment.
func LoadEnv() (*EnvSettings, error) {
	var s EnvSettings
	if err := envconfig.Process("RUNNER", &s); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}
	return &s, nil
}

// Apply overlays environment settings onto the file configuration.
func (s *EnvSettings) Apply(c *Config) {
	if s.DatabaseDSN != "" && c.Storage.Driver != "json" {
		c.Storage.DSN = s.DatabaseDSN
	}
	if s.DashboardPort != 0 {
		c.Dashboard.Port = s.DashboardPort
	}
}
