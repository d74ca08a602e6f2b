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

package command_test

import (
	"encoding/json"

	"github.com/alecthomas/kong"
	"github.com/planetlabs/geocol/cmd/geocol/command"
	"github.com/planetlabs/geocol/internal/test"
	"github.com/planetlabs/geocol/internal/validator"
)

// runCLI parses the arguments and runs the selected command.  The exit
// code is -1 unless the command asks to exit.
func (s *Suite) runCLI(args ...string) (int, error) {
	exitCode := -1
	parser, err := kong.New(&command.CLI{}, kong.Name("geocol"), kong.Exit(func(code int) { exitCode = code }))
	s.Require().NoError(err)

	ctx, err := parser.Parse(args)
	s.Require().NoError(err)

	runErr := ctx.Run(s.env, &command.VersionInfo{Version: "v1.2.3", Commit: "abc123", Date: "2024-01-02"})
	return exitCode, runErr
}

func (s *Suite) TestValidate() {
	input := s.countriesParquet("countries.parquet", &command.ConvertCmd{From: "auto", To: "auto"})

	exitCode, err := s.runCLI("validate", "--unpretty", input)
	s.Require().NoError(err)
	s.Equal(-1, exitCode)

	output := string(s.readStdout())
	s.Contains(output, "Summary: Passed 24 checks.")
	s.Contains(output, " ✓ file must include a \"geo\" metadata key")
	s.NotContains(output, "✗")
}

func (s *Suite) TestValidateMetadataOnly() {
	input := s.countriesParquet("countries.parquet", &command.ConvertCmd{From: "auto", To: "auto", Encoding: "native", Covering: true})

	exitCode, err := s.runCLI("validate", "--unpretty", "--metadata-only", input)
	s.Require().NoError(err)
	s.Equal(-1, exitCode)

	output := string(s.readStdout())
	s.Contains(output, "Summary: Passed 20 checks.")
	s.Contains(output, "Skipped 4 data scanning checks.")
}

func (s *Suite) TestValidateJSON() {
	input := s.countriesParquet("countries.parquet", &command.ConvertCmd{From: "auto", To: "auto", Covering: true})

	exitCode, err := s.runCLI("validate", "--format", "json", input)
	s.Require().NoError(err)
	s.Equal(-1, exitCode)

	report := &validator.Report{}
	s.Require().NoError(json.Unmarshal(s.readStdout(), report))
	s.False(report.MetadataOnly)
	s.Len(report.Checks, 24)
	s.True(report.Passed())

	summary := struct {
		Summary validator.Summary `json:"summary"`
	}{}
	s.Require().NoError(json.Unmarshal(s.readStdout(), &summary))
	s.Equal(validator.Summary{Passed: 24}, summary.Summary)
}

func (s *Suite) TestValidateMissingMetadata() {
	s.writeStdin(test.ParquetFromJSON(s.T(), `[{"name": "one"}]`, nil))

	exitCode, err := s.runCLI("validate", "--unpretty")
	s.Require().NoError(err)
	s.Equal(1, exitCode)

	output := string(s.readStdout())
	s.Contains(output, " ✗ file must include a \"geo\" metadata key")
	s.Contains(output, "   ↳ missing \"geo\" metadata key")
	s.Contains(output, " !")
}

func (s *Suite) TestValidateNotParquet() {
	path := s.writeFile("countries.geojson", []byte(countries))

	_, err := s.runCLI("validate", path)
	s.ErrorContains(err, "validation failed")
}

func (s *Suite) TestVersion() {
	_, err := s.runCLI("version")
	s.Require().NoError(err)
	s.Equal("v1.2.3\n", string(s.readStdout()))
}

func (s *Suite) TestVersionDetail() {
	_, err := s.runCLI("version", "--detail")
	s.Require().NoError(err)
	s.Equal("v1.2.3 (abc123 2024-01-02)\n", string(s.readStdout()))
}

func (s *Suite) TestVersionJSON() {
	_, err := s.runCLI("version", "--json")
	s.Require().NoError(err)

	info := &command.VersionInfo{}
	s.Require().NoError(json.Unmarshal(s.readStdout(), info))
	s.Equal("v1.2.3", info.Version)
	s.Equal("abc123", info.Commit)
	s.NotEmpty(info.Go)
}
