// Copyright 2023 Planet Labs PBC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads defaults for the command line tool from an optional
// YAML file and GEOCOL_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/planetlabs/geocol/internal/geoarrow"
	"github.com/planetlabs/geocol/internal/geoparquet"
	"github.com/planetlabs/geocol/internal/logging"
	"github.com/planetlabs/geocol/internal/pqutil"
	"github.com/spf13/viper"
)

const (
	EnvPrefix = "GEOCOL"
	FileName  = "geocol"
)

// Config holds writer defaults and logging settings.  Command line flags
// take precedence over these values.
type Config struct {
	Compression    string `mapstructure:"compression"`
	RowGroupLength int    `mapstructure:"row_group_length"`
	Encoding       string `mapstructure:"encoding"`
	Covering       bool   `mapstructure:"covering"`
	MinFeatures    int    `mapstructure:"min_features"`
	MaxFeatures    int    `mapstructure:"max_features"`
	LogLevel       string `mapstructure:"log_level"`
}

type Loader struct {
	v *viper.Viper
}

func NewLoader() *Loader {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return &Loader{v: v}
}

// Default returns the configuration used when no file or environment
// variables are present.
func Default() *Config {
	return &Config{
		Compression: pqutil.DefaultCompression,
		Encoding:    "",
		MinFeatures: 10,
		MaxFeatures: 100,
		LogLevel:    logging.DefaultLevel,
	}
}

func (l *Loader) setDefaults() {
	defaults := Default()
	l.v.SetDefault("compression", defaults.Compression)
	l.v.SetDefault("row_group_length", defaults.RowGroupLength)
	l.v.SetDefault("encoding", defaults.Encoding)
	l.v.SetDefault("covering", defaults.Covering)
	l.v.SetDefault("min_features", defaults.MinFeatures)
	l.v.SetDefault("max_features", defaults.MaxFeatures)
	l.v.SetDefault("log_level", defaults.LogLevel)
}

// Load reads the file at path.  With an empty path, a geocol.yaml file in
// the working directory is used if present.
func (l *Loader) Load(path string) (*Config, error) {
	l.setDefaults()

	if path != "" {
		l.v.SetConfigFile(path)
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		l.v.SetConfigName(FileName)
		l.v.AddConfigPath(".")
		if err := l.v.ReadInConfig(); err != nil {
			notFound := viper.ConfigFileNotFoundError{}
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	config := &Config{}
	if err := l.v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// Used returns the path of the config file that was read, if any.
func (l *Loader) Used() string {
	return l.v.ConfigFileUsed()
}

func Validate(config *Config) error {
	if _, err := pqutil.GetCompression(config.Compression); err != nil {
		return fmt.Errorf("unsupported compression %q, expected one of %s", config.Compression, strings.Join(pqutil.CompressionNames(), ", "))
	}
	if config.RowGroupLength < 0 {
		return fmt.Errorf("row_group_length must not be negative, got %d", config.RowGroupLength)
	}
	if err := ValidateEncoding(config.Encoding); err != nil {
		return err
	}
	if config.MinFeatures < 1 {
		return fmt.Errorf("min_features must be at least 1, got %d", config.MinFeatures)
	}
	if config.MaxFeatures < config.MinFeatures {
		return fmt.Errorf("max_features (%d) must not be less than min_features (%d)", config.MaxFeatures, config.MinFeatures)
	}
	if !strings.EqualFold(config.LogLevel, logging.Off) {
		if _, err := logging.ParseLevel(config.LogLevel); err != nil {
			return err
		}
	}
	return nil
}

// ValidateEncoding accepts an empty value or "wkb" for WKB, "native" to infer
// a native layout, or the name of a specific encoding.
func ValidateEncoding(value string) error {
	if value == "" || strings.EqualFold(value, geoparquet.EncodingNative) {
		return nil
	}
	if _, err := geoarrow.ParseEncoding(value); err != nil {
		return err
	}
	return nil
}
