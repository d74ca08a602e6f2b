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
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/fatih/color"
	"github.com/planetlabs/geocol/internal/validator"
)

type ValidateCmd struct {
	Input        string `arg:"" optional:"" name:"input" help:"Path or URL for a GeoParquet file.  If not provided, input is read from stdin."`
	MetadataOnly bool   `help:"Only run rules that apply to file metadata and schema (no data will be scanned)."`
	Unpretty     bool   `help:"No colors in text output, no newlines and indentation in JSON output."`
	Format       string `help:"Report format.  Possible values: ${enum}." enum:"text, json" default:"text"`
}

func (c *ValidateCmd) Run(ctx *kong.Context, env *Environment) error {
	input, inputErr := readerFromInput(context.Background(), c.Input, env.logger())
	if inputErr != nil {
		return NewCommandError("trouble getting a reader from %q: %w", inputName(c.Input), inputErr)
	}
	defer func() { _ = input.Close() }()

	v := validator.New(c.MetadataOnly, validator.WithLogger(env.logger()))
	report, err := v.Validate(context.Background(), input, inputName(c.Input))
	if err != nil {
		return NewCommandError("validation failed: %w", err)
	}

	if c.Format == "json" {
		if err := c.formatJSON(report); err != nil {
			return NewCommandError("unable to format report as json: %w", err)
		}
	} else {
		if err := c.formatText(report); err != nil {
			return NewCommandError("unable to format report: %w", err)
		}
	}

	if !report.Passed() {
		ctx.Kong.Exit(1)
	}
	return nil
}

func (c *ValidateCmd) formatJSON(report *validator.Report) error {
	encoder := json.NewEncoder(os.Stdout)
	if !c.Unpretty {
		encoder.SetIndent("", "  ")
		encoder.SetEscapeHTML(false)
	}

	return encoder.Encode(struct {
		*validator.Report
		Summary validator.Summary `json:"summary"`
	}{report, report.Summary()})
}

func plural(count int, noun string) string {
	return fmt.Sprintf("%d %s%s", count, noun, maybeS(count))
}

func (c *ValidateCmd) formatText(report *validator.Report) error {
	summary := report.Summary()
	parts := []string{"Passed " + plural(summary.Passed, "check")}
	if summary.Failed > 0 {
		parts = append(parts, "failed "+plural(summary.Failed, "check"))
	}
	if summary.NotRun > 0 {
		parts = append(parts, plural(summary.NotRun, "check")+" not run")
	}

	if c.Unpretty {
		color.NoColor = true
	}
	out := os.Stdout

	fmt.Fprintf(out, "\nSummary: %s.\n\n", strings.Join(parts, ", "))
	if report.MetadataOnly {
		count := len(validator.DataScanningRules())
		color.New(color.FgYellow).Fprintf(out, "Metadata and schema checks only.  Skipped %s.\n\n", plural(count, "data scanning check"))
	}

	passed := color.New(color.FgGreen)
	failed := color.New(color.FgRed)
	skipped := color.New(color.FgYellow)
	for _, check := range report.Checks {
		switch {
		case !check.Run:
			skipped.Fprintf(out, " ! %s\n   ↳ not checked\n", check.Title)
		case check.Passed:
			passed.Fprintf(out, " ✓ %s\n", check.Title)
		default:
			failed.Fprintf(out, " ✗ %s\n   ↳ %s\n", check.Title, check.Message)
		}
	}
	fmt.Fprintln(out)

	return nil
}

func maybeS(count int) string {
	if count == 1 {
		return ""
	}
	return "s"
}
