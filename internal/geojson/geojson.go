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

package geojson

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/parquet"
	"github.com/planetlabs/geocol/internal/geo"
	"github.com/planetlabs/geocol/internal/geoarrow"
	"github.com/planetlabs/geocol/internal/geoparquet"
	"github.com/planetlabs/geocol/internal/pqutil"
	"go.uber.org/zap"
)

type ConvertOptions struct {
	MinFeatures    int
	MaxFeatures    int
	Compression    string
	RowGroupLength int

	// Encoding is empty for WKB, "native" to infer a native encoding from
	// the sampled features, or the name of a specific encoding.
	Encoding string
	Covering bool
	Logger   *zap.Logger
}

var defaultOptions = &ConvertOptions{
	MinFeatures: 1,
	MaxFeatures: 50,
}

// ToParquet reads GeoJSON features and writes GeoParquet.  The schema is
// derived from the properties of the first features read (at least
// MinFeatures and at most MaxFeatures).
func ToParquet(input io.Reader, output io.Writer, convertOptions *ConvertOptions) error {
	if convertOptions == nil {
		convertOptions = defaultOptions
	}
	logger := convertOptions.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	reader := NewFeatureReader(input)
	buffer := []*geo.Feature{}
	builder := pqutil.NewArrowSchemaBuilder()
	featuresRead := 0

	pqWriterProps, err := pqutil.NewWriterProperties(&pqutil.WriterOptions{
		Compression:    convertOptions.Compression,
		RowGroupLength: convertOptions.RowGroupLength,
	}, nil)
	if err != nil {
		return err
	}

	var featureWriter *geoparquet.FeatureWriter
	defer func() {
		if featureWriter != nil {
			_ = featureWriter.Abort()
		}
	}()
	writeBuffered := func() error {
		if !builder.Has(geoparquet.DefaultGeometryColumn) {
			builder.AddGeometry(geoparquet.DefaultGeometryColumn)
		}
		sc, scErr := builder.Schema()
		if scErr != nil {
			return scErr
		}

		columnConfig, configErr := encodingConfig(convertOptions.Encoding, buffer)
		if configErr != nil {
			return configErr
		}

		fw, fwErr := geoparquet.NewFeatureWriter(&geoparquet.WriterConfig{
			Writer:             output,
			ArrowSchema:        sc,
			PrimaryColumn:      geoparquet.DefaultGeometryColumn,
			Columns:            map[string]*geoparquet.ColumnConfig{geoparquet.DefaultGeometryColumn: columnConfig},
			Covering:           convertOptions.Covering,
			ParquetWriterProps: pqWriterProps,
			ArrowWriterProps:   pqutil.NewArrowWriterProperties(),
			Logger:             logger,
		})
		if fwErr != nil {
			return fwErr
		}

		featureWriter = fw
		for _, buffered := range buffer {
			if err := featureWriter.Write(buffered); err != nil {
				return err
			}
		}
		buffer = nil
		return nil
	}

	for {
		feature, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		featuresRead += 1
		if featureWriter == nil {
			if _, ok := feature.Properties[geoparquet.DefaultGeometryColumn]; ok {
				return fmt.Errorf("feature property %q conflicts with the geometry column", geoparquet.DefaultGeometryColumn)
			}
			if err := builder.Add(feature.Properties); err != nil {
				return err
			}

			if !builder.Ready() {
				buffer = append(buffer, feature)
				if len(buffer) > convertOptions.MaxFeatures && convertOptions.MaxFeatures > 0 {
					return fmt.Errorf("failed to create schema after reading %d features", len(buffer))
				}
				continue
			}

			if len(buffer) < convertOptions.MinFeatures-1 {
				buffer = append(buffer, feature)
				continue
			}

			buffer = append(buffer, feature)
			if err := writeBuffered(); err != nil {
				return err
			}
			continue
		}
		if err := featureWriter.Write(feature); err != nil {
			return err
		}
	}

	if featureWriter == nil {
		if !builder.Ready() {
			return fmt.Errorf("failed to create schema after reading %d features", featuresRead)
		}
		if err := writeBuffered(); err != nil {
			return err
		}
	}

	logger.Info("converted features", zap.Int("features", featuresRead))
	return featureWriter.Close()
}

func encodingConfig(encoding string, features []*geo.Feature) (*geoparquet.ColumnConfig, error) {
	if encoding == "" {
		return &geoparquet.ColumnConfig{Encoding: geoarrow.EncodingWKB.String()}, nil
	}

	types := geo.NewTypeInventory()
	for _, feature := range features {
		if feature.Geometry == nil {
			continue
		}
		if err := types.Observe(feature.Geometry); err != nil {
			return nil, err
		}
	}

	if encoding == geoparquet.EncodingNative {
		enc, dim, err := geoarrow.InferNative(types)
		if err != nil {
			return nil, err
		}
		return &geoparquet.ColumnConfig{Encoding: enc.String(), Dimension: dim}, nil
	}

	enc, err := geoarrow.ParseEncoding(encoding)
	if err != nil {
		return nil, err
	}
	dim := geo.XY
	if types.HasZ() {
		dim = geo.XYZ
	}
	return &geoparquet.ColumnConfig{Encoding: enc.String(), Dimension: dim}, nil
}

type ExportOptions struct {
	// Bbox limits the output to features whose bounds intersect it.
	Bbox   *geo.Bbox
	Logger *zap.Logger
}

// FromParquet writes the rows of a GeoParquet file as a GeoJSON
// FeatureCollection.
func FromParquet(input parquet.ReaderAtSeeker, output io.Writer, exportOptions *ExportOptions) error {
	if exportOptions == nil {
		exportOptions = &ExportOptions{}
	}
	logger := exportOptions.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	recordReader, err := geoparquet.NewRecordReaderFromConfig(&geoparquet.ReaderConfig{
		Reader:         input,
		Representation: geoparquet.AsWKB,
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	defer recordReader.Close()

	geoMetadata := recordReader.Metadata()
	bboxCol := geoparquet.GetBboxColumn(recordReader.ArrowSchema(), geoMetadata)

	recordWriter, err := NewRecordWriter(output, geoMetadata)
	if err != nil {
		return err
	}

	features := int64(0)
	for {
		record, readErr := recordReader.Read()
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return readErr
		}

		filtered, filterErr := geoparquet.FilterRecordBatchByBbox(context.Background(), record, exportOptions.Bbox, bboxCol)
		if filterErr != nil {
			return filterErr
		}
		features += filtered.NumRows()
		writeErr := recordWriter.Write(filtered)
		filtered.Release()
		if writeErr != nil {
			return writeErr
		}
	}

	logger.Info("exported features", zap.Int64("features", features))
	return recordWriter.Close()
}
