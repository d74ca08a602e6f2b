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

package validator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/planetlabs/geocol/internal/geoarrow"
	"github.com/planetlabs/geocol/internal/geoparquet"
	_ "github.com/santhosh-tekuri/jsonschema/v5/httploader"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
)

type Validator struct {
	rules        []Rule
	metadataOnly bool
	logger       *zap.Logger
}

func MetadataOnlyRules() []Rule {
	return []Rule{
		RequiredGeoKey(),
		RequiredMetadataType(),
		RequiredVersion(),
		RequiredPrimaryColumn(),
		RequiredColumns(),
		PrimaryColumnInLookup(),
		RequiredColumnEncoding(),
		RequiredGeometryTypes(),
		OptionalCRS(),
		OptionalOrientation(),
		OptionalEdges(),
		OptionalBbox(),
		OptionalEpoch(),
		OptionalCovering(),
		ValidMetadataDocument(),
		NativeEncodingVersion(),
		GeometryUngrouped(),
		GeometryDataType(),
		GeometryRepetition(),
		CoveringColumnPresent(),
	}
}

func DataScanningRules() []Rule {
	return []Rule{
		GeometryEncoding(),
		GeometryTypes(),
		GeometryOrientation(),
		GeometryBounds(),
	}
}

type Option func(*Validator)

// WithLogger sets the logger used while scanning data.
func WithLogger(logger *zap.Logger) Option {
	return func(v *Validator) {
		v.logger = logger
	}
}

// New creates a new Validator.
func New(metadataOnly bool, options ...Option) *Validator {
	rules := MetadataOnlyRules()
	if !metadataOnly {
		rules = append(rules, DataScanningRules()...)
	}

	v := &Validator{
		rules:        rules,
		metadataOnly: metadataOnly,
		logger:       zap.NewNop(),
	}
	for _, option := range options {
		option(v)
	}

	return v
}

type Report struct {
	Checks       []*Check `json:"checks"`
	MetadataOnly bool     `json:"metadataOnly"`
}

// Passed reports whether every check was run and passed.
func (r *Report) Passed() bool {
	for _, check := range r.Checks {
		if !check.Run || !check.Passed {
			return false
		}
	}
	return true
}

// Summary counts checks by outcome.
type Summary struct {
	Passed int `json:"passed"`
	Failed int `json:"failed"`
	NotRun int `json:"notRun"`
}

func (r *Report) Summary() Summary {
	summary := Summary{}
	for _, check := range r.Checks {
		switch {
		case !check.Run:
			summary.NotRun += 1
		case check.Passed:
			summary.Passed += 1
		default:
			summary.Failed += 1
		}
	}
	return summary
}

type Check struct {
	Title   string `json:"title"`
	Run     bool   `json:"run"`
	Passed  bool   `json:"passed"`
	Message string `json:"message,omitempty"`
}

// Validate opens and validates a GeoParquet file.
func (v *Validator) Validate(ctx context.Context, input parquet.ReaderAtSeeker, name string) (*Report, error) {
	reader, readerErr := file.NewParquetReader(input)
	if readerErr != nil {
		return nil, fmt.Errorf("failed to create parquet reader from %q: %w", name, readerErr)
	}
	defer reader.Close()

	return v.Report(ctx, reader)
}

// Report generates a validation report for a GeoParquet file.  Checks are
// run in stages and a fatal failure stops the remaining stages.
func (v *Validator) Report(ctx context.Context, file *file.Reader) (*Report, error) {
	checks := make([]*Check, len(v.rules))
	for i, rule := range v.rules {
		checks[i] = &Check{
			Title: rule.Title(),
		}
	}

	report := &Report{Checks: checks, MetadataOnly: v.metadataOnly}

	// run all file rules
	if err := run(v, checks, file); err != nil {
		return report, nil
	}

	// run all metadata rules
	metadataValue, metadataErr := geoparquet.GetMetadataValue(file.MetaData().KeyValueMetadata())
	if metadataErr != nil {
		return nil, metadataErr
	}

	metadataMap := MetadataMap{}
	if err := json.Unmarshal([]byte(metadataValue), &metadataMap); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}

	if err := run(v, checks, metadataMap); err != nil {
		return report, nil
	}

	// run all column metadata rules
	columnMetadataMap := ColumnMetdataMap{}
	columnMetadataAny, ok := metadataMap["columns"].(map[string]any)
	if !ok {
		return nil, errors.New("columns metadata is not an object")
	}

	for k, v := range columnMetadataAny {
		col, ok := v.(map[string]any)
		if !ok {
			return nil, errors.New("column metadata is not an object")
		}
		columnMetadataMap[k] = col
	}

	if err := run(v, checks, columnMetadataMap); err != nil {
		return report, nil
	}

	// parse the document the same way a reader does
	if err := run(v, checks, MetadataValue(metadataValue)); err != nil {
		return report, nil
	}

	// run all rules that need the file and parsed metadata
	metadata, err := geoparquet.GetMetadata(file.MetaData().KeyValueMetadata())
	if err != nil {
		return nil, err
	}

	arrowSchema, err := pqarrow.FromParquet(file.MetaData().Schema, &pqarrow.ArrowReadProperties{}, file.MetaData().KeyValueMetadata())
	if err != nil {
		return nil, fmt.Errorf("failed to get arrow schema: %w", err)
	}

	info := &FileInfo{Metadata: metadata, File: file, ArrowSchema: arrowSchema}
	if err := run(v, checks, info); err != nil {
		return report, nil
	}

	if v.metadataOnly {
		return report, nil
	}

	if err := v.scan(ctx, info, checks); err != nil {
		if errors.Is(err, ErrFatal) {
			return report, nil
		}
		return nil, err
	}
	return report, nil
}

// scan runs the data scanning rules against every geometry value.
func (v *Validator) scan(ctx context.Context, info *FileInfo, checks []*Check) error {
	recordReader, rrErr := geoparquet.NewRecordReaderFromConfig(&geoparquet.ReaderConfig{
		File:    info.File,
		Context: ctx,
		Logger:  v.logger,
	})
	if rrErr != nil {
		return rrErr
	}
	defer recordReader.Close()

	valueRules := []*ColumnValueRule[*GeometryValue]{}
	valueChecks := []*Check{}
	geometryRules := []*ColumnValueRule[geom.T]{}
	geometryChecks := []*Check{}
	for i, r := range v.rules {
		switch rule := r.(type) {
		case *ColumnValueRule[*GeometryValue]:
			rule.Init(info)
			valueRules = append(valueRules, rule)
			valueChecks = append(valueChecks, checks[i])
		case *ColumnValueRule[geom.T]:
			rule.Init(info)
			geometryRules = append(geometryRules, rule)
			geometryChecks = append(geometryChecks, checks[i])
		}
	}

	rows := 0
	for {
		record, recordErr := recordReader.Read()
		if errors.Is(recordErr, io.EOF) {
			break
		}
		if recordErr != nil {
			return fmt.Errorf("failed to read record: %w", recordErr)
		}

		schema := record.Schema()
		for colNum := 0; colNum < int(record.NumCols()); colNum += 1 {
			name := schema.Field(colNum).Name
			if info.Metadata.Columns[name] == nil {
				continue
			}
			enc, ok := recordReader.Encoding(name)
			if !ok {
				return fmt.Errorf("no encoding for geometry column %q", name)
			}
			decoder, err := geoarrow.NewDecoder(record.Column(colNum), enc)
			if err != nil {
				return fmt.Errorf("failed to decode geometry column %q: %w", name, err)
			}

			for rowNum := 0; rowNum < decoder.Len(); rowNum += 1 {
				geometry, decodeErr := decoder.Geometry(rowNum)
				value := &GeometryValue{Row: rows + rowNum, Geometry: geometry, Err: decodeErr}
				for i, rule := range valueRules {
					if err := rule.Value(name, value); errors.Is(err, ErrFatal) {
						valueChecks[i].Message = err.Error()
						valueChecks[i].Run = true
						return err
					}
				}
				if geometry == nil {
					continue
				}
				for i, rule := range geometryRules {
					if err := rule.Value(name, geometry); errors.Is(err, ErrFatal) {
						geometryChecks[i].Message = err.Error()
						geometryChecks[i].Run = true
						return err
					}
				}
			}
		}
		rows += int(record.NumRows())
	}
	v.logger.Debug("scanned geometries", zap.Int("rows", rows))

	if err := finish(valueRules, valueChecks); err != nil {
		return err
	}
	return finish(geometryRules, geometryChecks)
}

func finish[T any](rules []*ColumnValueRule[T], checks []*Check) error {
	for i, rule := range rules {
		check := checks[i]
		check.Run = true
		if err := rule.Validate(); err != nil {
			check.Message = err.Error()
			if errors.Is(err, ErrFatal) {
				return err
			}
			continue
		}
		check.Passed = true
	}
	return nil
}

func run[T RuleData](v *Validator, checks []*Check, data T) error {
	for i, r := range v.rules {
		check := checks[i]
		rule, ok := r.(*GenericRule[T])
		if !ok {
			continue
		}
		rule.Init(data)
		check.Run = true
		if err := rule.Validate(); err != nil {
			check.Message = err.Error()
			if errors.Is(err, ErrFatal) {
				return err
			}
			continue
		}
		check.Passed = true
	}
	return nil
}
