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
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/planetlabs/geocol/internal/geo"
	"github.com/planetlabs/geocol/internal/geoarrow"
	"github.com/planetlabs/geocol/internal/geoparquet"
	"github.com/twpayne/go-geom"
	geomjson "github.com/twpayne/go-geom/encoding/geojson"
)

// RecordWriter writes arrow records as features in a FeatureCollection.  The
// primary geometry column becomes the feature geometry, the covering column
// becomes the feature bbox, and other geometry columns become properties.
type RecordWriter struct {
	geoMetadata *geoparquet.Metadata
	writer      io.Writer
	writing     bool
}

func NewRecordWriter(writer io.Writer, geoMetadata *geoparquet.Metadata) (*RecordWriter, error) {
	if geoMetadata == nil {
		return nil, geoparquet.ErrNoMetadata
	}
	w := &RecordWriter{writer: writer, geoMetadata: geoMetadata}
	return w, nil
}

var (
	featureCollectionPrefix = []byte(`{"type":"FeatureCollection","features":[`)
	arraySeparator          = []byte(",")
	featureCollectionSuffix = []byte("]}")
	emptyFeatureCollection  = []byte(`{"type":"FeatureCollection","features":[]}`)
)

// columnReader turns one row of a geometry column into a geometry.
type columnReader func(row int) (geom.T, error)

func (w *RecordWriter) geometryReader(field arrow.Field, arr arrow.Array) (columnReader, error) {
	if text, ok := arr.(*array.String); ok {
		return func(row int) (geom.T, error) {
			if text.IsNull(row) {
				return nil, nil
			}
			return geo.DecodeGeometry(text.Value(row), geo.EncodingWKT)
		}, nil
	}

	enc, err := geoarrow.EncodingOf(field)
	if err != nil {
		col := w.geoMetadata.Columns[field.Name]
		metaEnc, metaErr := col.GeoArrowEncoding()
		if metaErr != nil {
			return nil, err
		}
		enc = metaEnc
	}
	decoder, err := geoarrow.NewDecoder(arr, enc)
	if err != nil {
		return nil, fmt.Errorf("trouble reading %q geometries: %w", field.Name, err)
	}
	return decoder.Geometry, nil
}

func (w *RecordWriter) Write(record arrow.Record) error {
	if record.NumRows() == 0 {
		return nil
	}

	schema := record.Schema()
	bboxCol := geoparquet.GetBboxColumn(schema, w.geoMetadata)

	readers := map[int]columnReader{}
	for fieldNum, field := range schema.Fields() {
		if _, ok := w.geoMetadata.Columns[field.Name]; !ok {
			continue
		}
		reader, err := w.geometryReader(field, record.Column(fieldNum))
		if err != nil {
			return err
		}
		readers[fieldNum] = reader
	}

	if !w.writing {
		if _, err := w.writer.Write(featureCollectionPrefix); err != nil {
			return err
		}
		w.writing = true
	} else {
		if _, err := w.writer.Write(arraySeparator); err != nil {
			return err
		}
	}

	for rowNum := 0; rowNum < int(record.NumRows()); rowNum += 1 {
		if rowNum > 0 {
			if _, err := w.writer.Write(arraySeparator); err != nil {
				return err
			}
		}

		var geometry *geomjson.Geometry
		var bbox []float64
		properties := map[string]any{}
		for fieldNum := 0; fieldNum < int(record.NumCols()); fieldNum += 1 {
			name := schema.Field(fieldNum).Name
			if reader, ok := readers[fieldNum]; ok {
				g, err := reader(rowNum)
				if err != nil {
					return fmt.Errorf("trouble decoding %q geometry in row %d: %w", name, rowNum, err)
				}
				if name == w.geoMetadata.PrimaryColumn {
					if g != nil {
						encoded, err := geomjson.Encode(g)
						if err != nil {
							return err
						}
						geometry = encoded
					}
					continue
				}
				if g == nil {
					properties[name] = nil
					continue
				}
				encoded, err := geomjson.Encode(g)
				if err != nil {
					return err
				}
				properties[name] = encoded
				continue
			}

			value := record.Column(fieldNum).GetOneForMarshal(rowNum)
			if fieldNum == bboxCol.Index {
				if value == nil {
					continue
				}
				b, err := bboxValues(value, bboxCol.BboxColumnFieldNames)
				if err != nil {
					return err
				}
				bbox = b
				continue
			}

			properties[name] = value
		}

		feature := map[string]any{
			"type":       "Feature",
			"properties": properties,
			"geometry":   geometry,
		}

		if bbox != nil {
			feature["bbox"] = bbox
		}

		featureData, jsonErr := json.Marshal(feature)
		if jsonErr != nil {
			return jsonErr
		}
		if _, err := w.writer.Write(featureData); err != nil {
			return err
		}
	}

	return nil
}

func bboxValues(value any, fieldNames geoparquet.BboxColumnFieldNames) ([]float64, error) {
	bboxMap, ok := value.(map[string]any)
	if !ok {
		return nil, errors.New("value is not of type map[string]any")
	}
	names := []string{fieldNames.Xmin, fieldNames.Ymin, fieldNames.Xmax, fieldNames.Ymax}
	bbox := make([]float64, len(names))
	for i, name := range names {
		v, ok := bboxMap[name]
		if !ok {
			return nil, fmt.Errorf("bbox struct must have fields %v/%v/%v/%v", fieldNames.Xmin, fieldNames.Ymin, fieldNames.Xmax, fieldNames.Ymax)
		}
		if v == nil {
			return nil, errors.New("bbox struct must have non-null values")
		}
		switch f := v.(type) {
		case float64:
			bbox[i] = f
		case float32:
			bbox[i] = float64(f)
		default:
			return nil, fmt.Errorf("expected bbox %s to be a float, got %T", name, v)
		}
	}
	return bbox, nil
}

func (w *RecordWriter) Close() error {
	if w.writing {
		if _, err := w.writer.Write(featureCollectionSuffix); err != nil {
			return err
		}
		w.writing = false
	} else {
		if _, err := w.writer.Write(emptyFeatureCollection); err != nil {
			return err
		}
	}

	closer, ok := w.writer.(io.Closer)
	if ok {
		return closer.Close()
	}
	return nil
}
