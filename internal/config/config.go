// Package config loads the Environment options table of spec §6: process
// environment variables are authoritative, with an optional YAML file as a
// local-development overlay for the same keys.
package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/alfredcs/AgentFlow/pkg/schema"
)

// Environment holds every recognized option from spec §6.
type Environment struct {
	LogVerbosity          schema.LogVerbosity `yaml:"log_verbosity"`
	RemoteLogEnabled      bool                `yaml:"remote_log_enabled"`
	RemoteLogGroup        string              `yaml:"remote_log_group"`
	RemoteLogEndpoint     string              `yaml:"remote_log_endpoint"`
	ProviderRegion        string              `yaml:"provider_region"`
	DefaultStepTimeout    time.Duration       `yaml:"-"`
	DefaultWorkflowTimeout time.Duration      `yaml:"-"`
	MaxModelRetries       int                 `yaml:"max_model_retries"`
}

// Defaults returns the environment with the spec's stated fallbacks.
func Defaults() Environment {
	return Environment{
		LogVerbosity:           schema.LogInfo,
		ProviderRegion:         "us-east-1",
		DefaultStepTimeout:     30 * time.Second,
		DefaultWorkflowTimeout: 5 * time.Minute,
		MaxModelRetries:        3,
	}
}

// LoadFromEnv reads recognized options from process environment variables,
// falling back to Defaults() for anything unset. Returns a configuration
// error if remote_log_enabled is true but remote_log_group is unset.
func LoadFromEnv() (Environment, error) {
	env := Defaults()

	if v := os.Getenv("LOG_VERBOSITY"); v != "" {
		env.LogVerbosity = schema.LogVerbosity(v)
	}
	if v := os.Getenv("REMOTE_LOG_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return env, schema.NewErrorf(schema.ErrConfiguration, "invalid REMOTE_LOG_ENABLED: %v", err)
		}
		env.RemoteLogEnabled = b
	}
	if v := os.Getenv("REMOTE_LOG_GROUP"); v != "" {
		env.RemoteLogGroup = v
	}
	if v := os.Getenv("REMOTE_LOG_ENDPOINT"); v != "" {
		env.RemoteLogEndpoint = v
	}
	if v := os.Getenv("PROVIDER_REGION"); v != "" {
		env.ProviderRegion = v
	}
	if v := os.Getenv("DEFAULT_STEP_TIMEOUT"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return env, schema.NewErrorf(schema.ErrConfiguration, "invalid DEFAULT_STEP_TIMEOUT: %v", err)
		}
		env.DefaultStepTimeout = time.Duration(secs) * time.Second
	}
	if v := os.Getenv("DEFAULT_WORKFLOW_TIMEOUT"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return env, schema.NewErrorf(schema.ErrConfiguration, "invalid DEFAULT_WORKFLOW_TIMEOUT: %v", err)
		}
		env.DefaultWorkflowTimeout = time.Duration(secs) * time.Second
	}
	if v := os.Getenv("MAX_MODEL_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return env, schema.NewErrorf(schema.ErrConfiguration, "invalid MAX_MODEL_RETRIES: %v", err)
		}
		env.MaxModelRetries = n
	}

	return env, env.Validate()
}

// LoadOverlay applies a YAML overlay file on top of the given base
// environment. Only keys present in the file are overridden. Intended for
// local development, not as the source of truth in deployed environments.
func LoadOverlay(base Environment, path string) (Environment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, schema.NewErrorf(schema.ErrConfiguration, "read config overlay: %v", err).WithCause(err)
	}

	var raw struct {
		LogVerbosity           *string `yaml:"log_verbosity"`
		RemoteLogEnabled       *bool   `yaml:"remote_log_enabled"`
		RemoteLogGroup         *string `yaml:"remote_log_group"`
		RemoteLogEndpoint      *string `yaml:"remote_log_endpoint"`
		ProviderRegion         *string `yaml:"provider_region"`
		DefaultStepTimeout     *int    `yaml:"default_step_timeout"`
		DefaultWorkflowTimeout *int    `yaml:"default_workflow_timeout"`
		MaxModelRetries        *int    `yaml:"max_model_retries"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return base, schema.NewErrorf(schema.ErrConfiguration, "parse config overlay: %v", err).WithCause(err)
	}

	env := base
	if raw.LogVerbosity != nil {
		env.LogVerbosity = schema.LogVerbosity(*raw.LogVerbosity)
	}
	if raw.RemoteLogEnabled != nil {
		env.RemoteLogEnabled = *raw.RemoteLogEnabled
	}
	if raw.RemoteLogGroup != nil {
		env.RemoteLogGroup = *raw.RemoteLogGroup
	}
	if raw.RemoteLogEndpoint != nil {
		env.RemoteLogEndpoint = *raw.RemoteLogEndpoint
	}
	if raw.ProviderRegion != nil {
		env.ProviderRegion = *raw.ProviderRegion
	}
	if raw.DefaultStepTimeout != nil {
		env.DefaultStepTimeout = time.Duration(*raw.DefaultStepTimeout) * time.Second
	}
	if raw.DefaultWorkflowTimeout != nil {
		env.DefaultWorkflowTimeout = time.Duration(*raw.DefaultWorkflowTimeout) * time.Second
	}
	if raw.MaxModelRetries != nil {
		env.MaxModelRetries = *raw.MaxModelRetries
	}

	return env, env.Validate()
}

// Validate enforces the cross-field constraint from spec §6:
// remote_log_group is required when remote_log_enabled is true.
func (e Environment) Validate() error {
	if e.RemoteLogEnabled && e.RemoteLogGroup == "" {
		return schema.NewError(schema.ErrConfiguration, "remote_log_group is required when remote_log_enabled is true")
	}
	return nil
}
