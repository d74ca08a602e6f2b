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
	"io"
	"strings"

	"github.com/planetlabs/geocol/internal/config"
	"github.com/planetlabs/geocol/internal/geo"
	"github.com/planetlabs/geocol/internal/geojson"
	"github.com/planetlabs/geocol/internal/geoparquet"
	"github.com/planetlabs/geocol/internal/storage"
	"go.uber.org/zap"
)

type ConvertCmd struct {
	Input              string `arg:"" optional:"" name:"input" help:"Input path or URL.  If not provided, input is read from stdin."`
	From               string `help:"Input file format.  Possible values: ${enum}." enum:"auto, geojson, geoparquet, parquet" default:"auto"`
	Output             string `arg:"" optional:"" name:"output" help:"Output path or bucket URL.  If not provided, output is written to stdout."`
	To                 string `help:"Output file format.  Possible values: ${enum}." enum:"auto, geojson, geoparquet" default:"auto"`
	Min                int    `help:"Minimum number of features to consider when building a schema (default from config: 10)."`
	Max                int    `help:"Maximum number of features to consider when building a schema (default from config: 100)."`
	InputPrimaryColumn string `help:"Primary geometry column name when reading Parquet without metadata." default:"geometry"`
	Compression        string `help:"Parquet compression to use (uncompressed, snappy, gzip, brotli, zstd, or lz4).  Defaults to the configured value."`
	RowGroupLength     int    `help:"Maximum number of rows per group when writing Parquet."`
	Encoding           string `help:"Geometry encoding when writing Parquet: wkb, native, or a specific native encoding (point, linestring, polygon, multipoint, multilinestring, multipolygon)."`
	Covering           bool   `help:"Add a bbox covering column for each geometry column when writing Parquet."`
	Bbox               string `help:"Only write features that intersect the provided bounding box (xmin,ymin,xmax,ymax) when writing GeoJSON."`
}

type FormatType string

const (
	AutoType       FormatType = "auto"
	GeoParquetType FormatType = "geoparquet"
	ParquetType    FormatType = "parquet"
	GeoJSONType    FormatType = "geojson"
	UnknownType    FormatType = "unknown"
)

var validTypes = map[FormatType]bool{
	AutoType:       true,
	GeoParquetType: true,
	ParquetType:    true,
	GeoJSONType:    true,
}

func parseFormatType(format string) FormatType {
	if format == "" {
		return AutoType
	}
	ft := FormatType(strings.ToLower(format))
	if !validTypes[ft] {
		return UnknownType
	}
	return ft
}

func getFormatType(name string) FormatType {
	filename := strings.ToLower(baseName(name))
	if strings.HasSuffix(filename, ".json") || strings.HasSuffix(filename, ".geojson") {
		return GeoJSONType
	}
	if strings.HasSuffix(filename, ".gpq") || strings.HasSuffix(filename, ".geoparquet") {
		return GeoParquetType
	}
	if strings.HasSuffix(filename, ".pq") || strings.HasSuffix(filename, ".parquet") {
		return ParquetType
	}
	return UnknownType
}

// settings merges the flags that were provided over the configured values.
func (c *ConvertCmd) settings(base *config.Config) (*config.Config, error) {
	merged := *base
	if c.Compression != "" {
		merged.Compression = c.Compression
	}
	if c.RowGroupLength != 0 {
		merged.RowGroupLength = c.RowGroupLength
	}
	if c.Encoding != "" {
		merged.Encoding = c.Encoding
	}
	if c.Covering {
		merged.Covering = true
	}
	if c.Min != 0 {
		merged.MinFeatures = c.Min
	}
	if c.Max != 0 {
		merged.MaxFeatures = c.Max
	}
	if err := config.Validate(&merged); err != nil {
		return nil, err
	}
	return &merged, nil
}

func (c *ConvertCmd) Run(env *Environment) error {
	ctx := context.Background()
	logger := env.logger()

	inputSource := c.Input
	outputSource := c.Output

	if outputSource == "" && hasStdin() {
		outputSource = inputSource
		inputSource = ""
	}

	outputFormat := parseFormatType(c.To)
	if outputFormat == AutoType {
		if outputSource == "" {
			return NewCommandError("when writing to stdout, the --to option must be provided to determine the output format")
		}
		outputFormat = getFormatType(outputSource)
	}
	if outputFormat == UnknownType {
		return NewCommandError("could not determine output format for %s", outputSource)
	}

	inputFormat := parseFormatType(c.From)
	if inputFormat == AutoType {
		if inputSource == "" {
			return NewCommandError("when reading from stdin, the --from option must be provided to determine the input format")
		}
		inputFormat = getFormatType(inputSource)
	}
	if inputFormat == UnknownType {
		return NewCommandError("could not determine input format for %s", inputSource)
	}

	if inputFormat == GeoJSONType && outputFormat == GeoJSONType {
		return NewCommandError("GeoJSON input can only be converted to GeoParquet")
	}

	settings, err := c.settings(env.config())
	if err != nil {
		return NewCommandError("%w", err)
	}

	bbox, err := geo.NewBboxFromString(c.Bbox)
	if err != nil {
		return NewCommandError("%w", err)
	}
	if bbox != nil && outputFormat != GeoJSONType {
		return NewCommandError("the --bbox option is only supported when writing GeoJSON, use the extract command for GeoParquet")
	}

	input, err := readerFromInput(ctx, inputSource, logger)
	if err != nil {
		return NewCommandError("trouble getting a reader from %q: %w", inputName(inputSource), err)
	}
	defer func() { _ = input.Close() }()

	output, err := writerFromOutput(ctx, outputSource)
	if err != nil {
		return NewCommandError("failed to open %q for writing: %w", outputSource, err)
	}

	logger.Info("converting",
		zap.String("input", inputName(inputSource)),
		zap.String("from", string(inputFormat)),
		zap.String("to", string(outputFormat)),
	)

	if err := c.convert(input, inputFormat, unclosable(output), outputFormat, settings, bbox, logger); err != nil {
		_ = output.Abort()
		return NewCommandError("%w", err)
	}
	if err := output.Close(); err != nil {
		return NewCommandError("failed to close %q: %w", outputSource, err)
	}
	return nil
}

func (c *ConvertCmd) convert(input storage.Reader, inputFormat FormatType, output io.Writer, outputFormat FormatType, settings *config.Config, bbox *geo.Bbox, logger *zap.Logger) error {
	if inputFormat == GeoJSONType {
		convertOptions := &geojson.ConvertOptions{
			MinFeatures:    settings.MinFeatures,
			MaxFeatures:    settings.MaxFeatures,
			Compression:    settings.Compression,
			RowGroupLength: settings.RowGroupLength,
			Encoding:       settings.Encoding,
			Covering:       settings.Covering,
			Logger:         logger,
		}
		return geojson.ToParquet(input, output, convertOptions)
	}

	if outputFormat == GeoJSONType {
		return geojson.FromParquet(input, output, &geojson.ExportOptions{Bbox: bbox, Logger: logger})
	}

	convertOptions := &geoparquet.ConvertOptions{
		InputPrimaryColumn: c.InputPrimaryColumn,
		Compression:        settings.Compression,
		RowGroupLength:     settings.RowGroupLength,
		Encoding:           settings.Encoding,
		Covering:           settings.Covering,
		Logger:             logger,
	}
	return geoparquet.FromParquet(input, output, convertOptions)
}
