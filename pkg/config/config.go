// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the workerplane configuration from defaults, an
// optional YAML file and WORKERPLANE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/united-manufacturing-hub/workerplane/pkg/apierrors"
	"github.com/united-manufacturing-hub/workerplane/pkg/constants"
	"github.com/united-manufacturing-hub/workerplane/pkg/logger"
)

type Config struct {
	Prefix     string           `mapstructure:"prefix" yaml:"prefix"` // Namespace prefix of every managed service
	Paths      PathsConfig      `mapstructure:"paths" yaml:"paths"`
	Runtime    RuntimeConfig    `mapstructure:"runtime" yaml:"runtime"`
	Supervisor SupervisorConfig `mapstructure:"supervisor" yaml:"supervisor"`
	Lifecycle  LifecycleConfig  `mapstructure:"lifecycle" yaml:"lifecycle"`
	API        APIConfig        `mapstructure:"api" yaml:"api"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
	Sentry     SentryConfig     `mapstructure:"sentry" yaml:"sentry"`
}

type PathsConfig struct {
	SourceDir  string `mapstructure:"source_dir" yaml:"source_dir"`
	UnitDir    string `mapstructure:"unit_dir" yaml:"unit_dir"`
	StagingDir string `mapstructure:"staging_dir" yaml:"staging_dir"`
	WorkingDir string `mapstructure:"working_dir" yaml:"working_dir,omitempty"` // Empty runs each worker in its source directory
}

type RuntimeConfig struct {
	Interpreter string `mapstructure:"interpreter" yaml:"interpreter"`
	SourceExt   string `mapstructure:"source_ext" yaml:"source_ext"`
	RunAsUser   string `mapstructure:"run_as_user" yaml:"run_as_user"`
	RestartSec  int    `mapstructure:"restart_sec" yaml:"restart_sec"`
}

type SupervisorConfig struct {
	UseSudo           bool          `mapstructure:"use_sudo" yaml:"use_sudo"`
	CommandTimeout    time.Duration `mapstructure:"command_timeout" yaml:"command_timeout"`
	MaxCommandTimeout time.Duration `mapstructure:"max_command_timeout" yaml:"max_command_timeout"`
}

type LifecycleConfig struct {
	StartupWindow time.Duration `mapstructure:"startup_window" yaml:"startup_window"`
	MaxBackups    int           `mapstructure:"max_backups" yaml:"max_backups"` // 1 keeps the single overwritten .backup
}

type APIConfig struct {
	Listen      string   `mapstructure:"listen" yaml:"listen"`
	Port        int      `mapstructure:"port" yaml:"port"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins,omitempty"`
	RateLimit   float64  `mapstructure:"rate_limit" yaml:"rate_limit"` // Requests per second, 0 disables limiting
	RateBurst   int      `mapstructure:"rate_burst" yaml:"rate_burst"`
}

type MetricsConfig struct {
	Port int `mapstructure:"port" yaml:"port"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

type SentryConfig struct {
	DSN string `mapstructure:"dsn" yaml:"dsn,omitempty"`
}

// Addr is the listen address of the request layer.
func (c APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Listen, c.Port)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("prefix", constants.DefaultServicePrefix)
	v.SetDefault("paths.source_dir", constants.DefaultSourceDir)
	v.SetDefault("paths.unit_dir", constants.DefaultUnitDir)
	v.SetDefault("paths.staging_dir", constants.DefaultStagingDir)
	v.SetDefault("paths.working_dir", "")
	v.SetDefault("runtime.interpreter", constants.DefaultInterpreter)
	v.SetDefault("runtime.source_ext", constants.DefaultSourceExt)
	v.SetDefault("runtime.run_as_user", constants.DefaultRunAsUser)
	v.SetDefault("runtime.restart_sec", constants.DefaultRestartSec)
	v.SetDefault("supervisor.use_sudo", true)
	v.SetDefault("supervisor.command_timeout", constants.DefaultCommandTimeout)
	v.SetDefault("supervisor.max_command_timeout", constants.MaxCommandTimeout)
	v.SetDefault("lifecycle.startup_window", constants.DefaultStartupWindow)
	v.SetDefault("lifecycle.max_backups", constants.DefaultMaxBackups)
	v.SetDefault("api.listen", constants.DefaultAPIListen)
	v.SetDefault("api.port", constants.DefaultAPIPort)
	v.SetDefault("api.cors_origins", []string{})
	v.SetDefault("api.rate_limit", constants.DefaultRateLimit)
	v.SetDefault("api.rate_burst", constants.DefaultRateBurst)
	v.SetDefault("metrics.port", constants.DefaultMetricsPort)
	v.SetDefault("logging.level", string(logger.ProductionLevel))
	v.SetDefault("logging.format", string(logger.FormatConsole))
	v.SetDefault("sentry.dsn", "")
}

// Load reads path, if given, on top of the defaults. Environment variables
// such as WORKERPLANE_SUPERVISOR_USE_SUDO override both.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(constants.ConfigEnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)

		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		logger.For(logger.ComponentConfig).Infof("using config file %s", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate rejects configurations the control plane cannot run with.
func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Prefix) == "" {
		errs = append(errs, errors.New("prefix must not be empty"))
	}

	for _, dir := range []struct{ key, path string }{
		{"paths.source_dir", c.Paths.SourceDir},
		{"paths.unit_dir", c.Paths.UnitDir},
		{"paths.staging_dir", c.Paths.StagingDir},
	} {
		if !filepath.IsAbs(dir.path) {
			errs = append(errs, fmt.Errorf("%s must be an absolute path, got %q", dir.key, dir.path))
		}
	}

	if c.Paths.WorkingDir != "" && !filepath.IsAbs(c.Paths.WorkingDir) {
		errs = append(errs, fmt.Errorf("paths.working_dir must be an absolute path, got %q", c.Paths.WorkingDir))
	}

	if !strings.HasPrefix(c.Runtime.SourceExt, ".") {
		errs = append(errs, fmt.Errorf("runtime.source_ext must start with a dot, got %q", c.Runtime.SourceExt))
	}

	if c.Supervisor.CommandTimeout <= 0 {
		errs = append(errs, errors.New("supervisor.command_timeout must be positive"))
	}

	if c.Supervisor.CommandTimeout > c.Supervisor.MaxCommandTimeout {
		errs = append(errs, fmt.Errorf("supervisor.command_timeout %s exceeds supervisor.max_command_timeout %s",
			c.Supervisor.CommandTimeout, c.Supervisor.MaxCommandTimeout))
	}

	if c.Lifecycle.MaxBackups < 1 {
		errs = append(errs, errors.New("lifecycle.max_backups must be at least 1"))
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, fmt.Errorf("api.port %d is out of range", c.API.Port))
	}

	if c.API.RateLimit < 0 {
		errs = append(errs, errors.New("api.rate_limit must not be negative"))
	}

	if len(errs) > 0 {
		return apierrors.Validation("config", "%s", errors.Join(errs...))
	}

	return nil
}

// Marshal renders the effective configuration as YAML.
func (c Config) Marshal() ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}

	return out, nil
}
