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

package command

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/planetlabs/geocol/internal/config"
	"github.com/planetlabs/geocol/internal/logging"
	"github.com/planetlabs/geocol/internal/storage"
	"go.uber.org/zap"
)

type CLI struct {
	Globals

	Convert  ConvertCmd  `cmd:"" help:"Convert data from one format to another."`
	Validate ValidateCmd `cmd:"" help:"Validate a GeoParquet file."`
	Describe DescribeCmd `cmd:"" help:"Describe a GeoParquet file."`
	Extract  ExtractCmd  `cmd:"" help:"Extract a subset of the rows and columns of a GeoParquet file."`
	Version  VersionCmd  `cmd:"" help:"Print the version of this program."`
}

// Globals are flags shared by every command.
type Globals struct {
	Config   string `help:"Path to a YAML config file.  By default, geocol.yaml in the working directory is used if present." env:"GEOCOL_CONFIG"`
	LogLevel string `help:"Log level (debug, info, warn, error, or off).  Overrides the configured level."`
}

// Environment is bound to the Run method of each command.
type Environment struct {
	Config *config.Config
	Logger *zap.Logger
}

// Environment loads the configuration and builds the logger.
func (g *Globals) Environment() (*Environment, error) {
	cfg, err := config.NewLoader().Load(g.Config)
	if err != nil {
		return nil, err
	}

	level := cfg.LogLevel
	if g.LogLevel != "" {
		level = g.LogLevel
	}
	logger, err := logging.New(level)
	if err != nil {
		return nil, err
	}
	return &Environment{Config: cfg, Logger: logger}, nil
}

func (e *Environment) config() *config.Config {
	if e == nil || e.Config == nil {
		return config.Default()
	}
	return e.Config
}

func (e *Environment) logger() *zap.Logger {
	if e == nil || e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

type CommandError struct {
	err error
}

func NewCommandError(format string, a ...any) *CommandError {
	return &CommandError{err: fmt.Errorf(format, a...)}
}

func (e *CommandError) Error() string {
	return e.err.Error()
}

func (e *CommandError) Unwrap() error {
	return e.err
}

func hasStdin() bool {
	stats, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return stats.Size() > 0
}

type stdinReader struct {
	*bytes.Reader
}

func (stdinReader) Close() error {
	return nil
}

// readerFromInput opens a path or URL, or reads all of stdin if the name is
// empty.
func readerFromInput(ctx context.Context, name string, logger *zap.Logger) (storage.Reader, error) {
	if name == "" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("trouble reading from stdin: %w", err)
		}
		return stdinReader{bytes.NewReader(data)}, nil
	}
	return storage.NewReader(ctx, name, storage.WithLogger(logger))
}

type stdoutWriter struct {
	io.Writer
}

func (stdoutWriter) Close() error {
	return nil
}

// Abort cannot take back what was already written to stdout.
func (stdoutWriter) Abort() error {
	return nil
}

// writerFromOutput creates a file or bucket object, or returns stdout if the
// name is empty.  Closing stdout is a no-op.
func writerFromOutput(ctx context.Context, name string) (storage.Writer, error) {
	if name == "" {
		return stdoutWriter{os.Stdout}, nil
	}
	return storage.NewWriter(ctx, name)
}

// unclosable hides the Close method of a writer from converters that close
// their output.
func unclosable(w io.Writer) io.Writer {
	return struct{ io.Writer }{w}
}

func inputName(name string) string {
	if name == "" {
		return "<stdin>"
	}
	return name
}

// baseName returns the last path element of a local path or URL.
func baseName(name string) string {
	if strings.Contains(name, "://") {
		if u, err := url.Parse(name); err == nil {
			return path.Base(u.Path)
		}
	}
	return path.Base(name)
}

func splitColumns(value string) []string {
	if value == "" {
		return nil
	}
	names := []string{}
	for _, name := range strings.Split(value, ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}
