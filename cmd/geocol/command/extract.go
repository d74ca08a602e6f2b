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
	"errors"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/planetlabs/geocol/internal/geo"
	"github.com/planetlabs/geocol/internal/geoparquet"
	"github.com/planetlabs/geocol/internal/pqutil"
	"go.uber.org/zap"
)

type ExtractCmd struct {
	Input          string `arg:"" optional:"" name:"input" help:"Path or URL for a GeoParquet file.  If not provided, input is read from stdin."`
	Output         string `arg:"" optional:"" name:"output" help:"Output path or bucket URL.  If not provided, output is written to stdout."`
	Bbox           string `help:"Filter features by intersection of their bounding box with the provided bounding box (in x_min,y_min,x_max,y_max format)."`
	DropCols       string `help:"Drop the provided columns. Provide a comma-separated string of column names to be excluded. Do not use together with --keep-only-cols."`
	KeepOnlyCols   string `help:"Keep only the provided columns. Provide a comma-separated string of columns to be kept. Do not use together with --drop-cols."`
	Compression    string `help:"Parquet compression to use.  By default, the compression of the input columns is kept."`
	RowGroupLength int    `help:"Maximum number of rows per group when writing Parquet."`
}

func (c *ExtractCmd) Run(env *Environment) error {
	ctx := context.Background()
	logger := env.logger()

	inputSource := c.Input
	outputSource := c.Output

	if outputSource == "" && hasStdin() {
		outputSource = inputSource
		inputSource = ""
	}

	if c.DropCols != "" && c.KeepOnlyCols != "" {
		return NewCommandError("the --drop-cols and --keep-only-cols options cannot be used together")
	}

	inputBbox, err := geo.NewBboxFromString(c.Bbox)
	if err != nil {
		return NewCommandError("%w", err)
	}

	input, inputErr := readerFromInput(ctx, inputSource, logger)
	if inputErr != nil {
		return NewCommandError("trouble getting a reader from %q: %w", inputName(inputSource), inputErr)
	}
	defer func() { _ = input.Close() }()

	fileReader, fileErr := file.NewParquetReader(input)
	if fileErr != nil {
		return NewCommandError("failed to read %q as parquet: %w", inputName(inputSource), fileErr)
	}

	readerConfig, empty, err := c.readerConfig(ctx, fileReader, inputBbox)
	if err != nil {
		_ = fileReader.Close()
		return NewCommandError("%w", err)
	}
	if empty {
		logger.Info("no row groups intersect the bbox", zap.Stringer("bbox", inputBbox))
	}
	readerConfig.Logger = logger

	recordReader, rrErr := geoparquet.NewRecordReaderFromConfig(readerConfig)
	if rrErr != nil {
		_ = fileReader.Close()
		return NewCommandError("trouble reading geoparquet: %w", rrErr)
	}
	defer func() { _ = recordReader.Close() }()

	output, err := writerFromOutput(ctx, outputSource)
	if err != nil {
		return NewCommandError("failed to open %q for writing: %w", outputSource, err)
	}

	if err := c.extract(ctx, recordReader, fileReader, unclosable(output), inputBbox, empty, logger); err != nil {
		_ = output.Abort()
		return NewCommandError("%w", err)
	}
	if err := output.Close(); err != nil {
		return NewCommandError("failed to close %q: %w", outputSource, err)
	}
	return nil
}

// readerConfig selects the columns and row groups to read.  The second value
// is true if the covering statistics show that no row group can intersect
// the bbox.
func (c *ExtractCmd) readerConfig(ctx context.Context, fileReader *file.Reader, inputBbox *geo.Bbox) (*geoparquet.ReaderConfig, bool, error) {
	config := &geoparquet.ReaderConfig{Context: ctx, File: fileReader}
	parquetSchema := fileReader.MetaData().Schema

	if keep := splitColumns(c.KeepOnlyCols); len(keep) > 0 {
		config.Columns = geoparquet.GetColumnIndices(keep, parquetSchema)
		if len(config.Columns) == 0 {
			return nil, false, errors.New("none of the columns to keep are in the file")
		}
	}
	if drop := splitColumns(c.DropCols); len(drop) > 0 {
		config.Columns = geoparquet.GetColumnIndicesByDifference(drop, parquetSchema)
	}

	if inputBbox == nil {
		return config, false, nil
	}

	geoMetadata, err := geoparquet.GetMetadataFromFileReader(fileReader)
	if err != nil {
		return nil, false, err
	}
	arrowSchema, err := pqarrow.FromParquet(parquetSchema, &pqarrow.ArrowReadProperties{}, fileReader.MetaData().KeyValueMetadata())
	if err != nil {
		return nil, false, err
	}
	bboxCol := geoparquet.GetBboxColumn(arrowSchema, geoMetadata)
	if bboxCol.Index == -1 {
		return config, false, nil
	}

	rowGroups, err := geoparquet.GetRowGroupsByBbox(fileReader, bboxCol, inputBbox)
	if err != nil {
		return nil, false, err
	}
	config.RowGroups = rowGroups
	return config, len(rowGroups) == 0, nil
}

func (c *ExtractCmd) extract(ctx context.Context, recordReader *geoparquet.RecordReader, fileReader *file.Reader, output io.Writer, inputBbox *geo.Bbox, empty bool, logger *zap.Logger) error {
	parquetProps, err := pqutil.NewWriterProperties(&pqutil.WriterOptions{
		Compression:    c.Compression,
		RowGroupLength: c.RowGroupLength,
	}, fileReader)
	if err != nil {
		return err
	}

	arrowSchema := recordReader.ArrowSchema()
	recordWriter, rwErr := geoparquet.NewWriter(&geoparquet.WriterConfig{
		Writer:             output,
		Metadata:           selectedMetadata(recordReader.Metadata(), arrowSchema),
		ArrowSchema:        arrowSchema,
		ParquetWriterProps: parquetProps,
		ArrowWriterProps:   pqutil.NewArrowWriterProperties(),
		Logger:             logger,
	})
	if rwErr != nil {
		return rwErr
	}
	defer func() { _ = recordWriter.Abort() }()

	bboxCol := geoparquet.GetBboxColumn(arrowSchema, recordReader.Metadata())
	written := int64(0)
	for !empty {
		record, readErr := recordReader.Read()
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return readErr
		}

		filtered, err := geoparquet.FilterRecordBatchByBbox(ctx, record, inputBbox, bboxCol)
		if err != nil {
			return err
		}

		written += filtered.NumRows()
		writeErr := recordWriter.Write(filtered)
		filtered.Release()
		if writeErr != nil {
			return writeErr
		}
	}

	logger.Info("extracted rows", zap.Int64("rows", written), zap.Int64("input", recordReader.NumRows()))
	return recordWriter.Close()
}

// selectedMetadata drops the geometry columns that are not part of the
// output schema.
func selectedMetadata(metadata *geoparquet.Metadata, arrowSchema *arrow.Schema) *geoparquet.Metadata {
	selected := metadata.Clone()
	for name := range selected.Columns {
		if !arrowSchema.HasField(name) {
			delete(selected.Columns, name)
		}
	}
	return selected
}
