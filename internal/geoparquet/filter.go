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

package geoparquet

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/compute"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/metadata"
	"github.com/apache/arrow-go/v18/parquet/schema"
	"github.com/planetlabs/geocol/internal/geo"
	"github.com/planetlabs/geocol/internal/geoarrow"
)

// PROJECTION PUSHDOWN - COLUMN FILTERING UTILS

// A set of parquet leaf column indices.
type indicesSet map[int]struct{}

func newIndicesSet(size int) indicesSet {
	return make(indicesSet, size)
}

func (s indicesSet) Add(col int) indicesSet {
	s[col] = struct{}{}
	return s
}

// FromColNames adds the leaf columns of the named top-level fields.
func (s indicesSet) FromColNames(cols []string, parquetSchema *schema.Schema) indicesSet {
	for i := 0; i < parquetSchema.NumColumns(); i++ {
		path := parquetSchema.Column(i).ColumnPath()
		if len(path) > 0 && slices.Contains(cols, path[0]) {
			s.Add(i)
		}
	}
	return s
}

func (s indicesSet) Contains(col int) bool {
	_, ok := s[col]
	return ok
}

func (s indicesSet) Difference(other indicesSet) indicesSet {
	newSet := newIndicesSet(len(s))
	for key := range s {
		if !other.Contains(key) {
			newSet.Add(key)
		}
	}
	return newSet
}

func (s indicesSet) List() []int {
	keys := make([]int, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Given a list of columns names to include, return the corresponding leaf
// column indices.
func GetColumnIndices(includeColumns []string, parquetSchema *schema.Schema) []int {
	return newIndicesSet(len(includeColumns)).FromColNames(includeColumns, parquetSchema).List()
}

// Given a list of column names to exclude, return the remaining leaf column
// indices.
func GetColumnIndicesByDifference(excludeColumns []string, parquetSchema *schema.Schema) []int {
	indicesToExclude := newIndicesSet(len(excludeColumns)).FromColNames(excludeColumns, parquetSchema)
	allIndices := newIndicesSet(parquetSchema.NumColumns())
	for i := 0; i < parquetSchema.NumColumns(); i++ {
		allIndices.Add(i)
	}
	return allIndices.Difference(indicesToExclude).List()
}

// PREDICATE PUSHDOWN - ROW FILTERING UTILS

type BboxColumnFieldNames struct {
	Xmin string
	Ymin string
	Xmax string
	Ymax string
}

func getBboxColumnFieldNames(covering *Covering) BboxColumnFieldNames {
	if covering != nil && covering.Column() != "" {
		return BboxColumnFieldNames{
			Xmin: covering.Bbox.Xmin[1],
			Ymin: covering.Bbox.Ymin[1],
			Xmax: covering.Bbox.Xmax[1],
			Ymax: covering.Bbox.Ymax[1],
		}
	}
	return BboxColumnFieldNames{Xmin: "xmin", Ymin: "ymin", Xmax: "xmax", Ymax: "ymax"}
}

type BboxColumn struct {
	Index              int
	Name               string
	BaseColumn         int // the primary geometry column the bbox column references
	BaseColumnEncoding geoarrow.Encoding
	BboxColumnFieldNames
}

// GetBboxColumn describes the covering column of the primary geometry in a
// record schema.  The covering metadata is consulted first and the standard
// "bbox" name second.  An Index of -1 means there is no bbox column.
func GetBboxColumn(arrowSchema *arrow.Schema, geoMetadata *Metadata) *BboxColumn {
	bboxCol := &BboxColumn{Index: -1, BaseColumn: -1}

	primary := geoMetadata.Columns[geoMetadata.PrimaryColumn]
	if indices := arrowSchema.FieldIndices(geoMetadata.PrimaryColumn); len(indices) > 0 {
		bboxCol.BaseColumn = indices[0]
	}
	if primary == nil {
		return bboxCol
	}
	if enc, err := primary.GeoArrowEncoding(); err == nil {
		bboxCol.BaseColumnEncoding = enc
	}
	if field, ok := arrowSchema.FieldsByName(geoMetadata.PrimaryColumn); ok {
		if enc, err := geoarrow.EncodingOf(field[0]); err == nil {
			bboxCol.BaseColumnEncoding = enc
		}
	}

	bboxCol.BboxColumnFieldNames = getBboxColumnFieldNames(primary.Covering)
	candidates := []string{DefaultCoveringColumn}
	if primary.Covering != nil && primary.Covering.Column() != "" {
		candidates = []string{primary.Covering.Column(), DefaultCoveringColumn}
	}
	for _, name := range candidates {
		if indices := arrowSchema.FieldIndices(name); len(indices) > 0 {
			bboxCol.Name = name
			bboxCol.Index = indices[0]
			break
		}
	}
	if bboxCol.Name == "" && len(candidates) > 1 {
		// the covering may exist in the file but be excluded from the read
		bboxCol.Name = candidates[0]
	}
	return bboxCol
}

type rowGroupIntersectionResult struct {
	Index      int
	Intersects bool
	Error      error
}

// Get row group indices that intersect with the input bbox.  Uses the bbox
// column row group stats to calculate intersection.
func GetRowGroupsByBbox(fileReader *file.Reader, bboxCol *BboxColumn, inputBbox *geo.Bbox) ([]int, error) {
	numRowGroups := fileReader.NumRowGroups()
	intersectingRowGroups := make([]int, 0, numRowGroups)

	queue := make(chan *rowGroupIntersectionResult, numRowGroups)
	for i := 0; i < numRowGroups; i += 1 {
		go func(i int) {
			result := &rowGroupIntersectionResult{Index: i}
			result.Intersects, result.Error = RowGroupIntersects(fileReader.MetaData(), bboxCol, i, inputBbox)
			queue <- result
		}(i)
	}

	var firstErr error
	for i := 0; i < numRowGroups; i += 1 {
		res := <-queue
		if res.Error != nil {
			if firstErr == nil {
				firstErr = res.Error
			}
			continue
		}
		if res.Intersects {
			intersectingRowGroups = append(intersectingRowGroups, res.Index)
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}
	slices.Sort(intersectingRowGroups)
	return intersectingRowGroups, nil
}

// columnRange is the min/max statistics of one column chunk.  A chunk with
// only null values has no range and is empty.  A chunk written without
// statistics is neither known nor empty.
type columnRange struct {
	min   float64
	max   float64
	known bool
	empty bool
}

func getColumnRange(fileMetadata *metadata.FileMetaData, rowGroup int, columnPath string) (*columnRange, error) {
	rowGroupMetadata := fileMetadata.RowGroup(rowGroup)
	if rowGroupMetadata == nil {
		return nil, fmt.Errorf("metadata for row group %v is nil", rowGroup)
	}

	rowGroupSchema := rowGroupMetadata.Schema
	if rowGroupSchema == nil {
		return nil, fmt.Errorf("schema for row group %v is nil", rowGroup)
	}

	columnIdx := rowGroupSchema.ColumnIndexByName(columnPath)
	if columnIdx == -1 {
		return nil, fmt.Errorf("column %v not found", columnPath)
	}

	fieldMetadata, err := rowGroupMetadata.ColumnChunk(columnIdx)
	if err != nil {
		return nil, fmt.Errorf("couldn't get column chunk metadata for row group %v/column %v: %w", rowGroup, columnPath, err)
	}
	fieldStats, err := fieldMetadata.Statistics()
	if err != nil {
		return nil, fmt.Errorf("couldn't get column chunk stats: %w", err)
	}
	if fieldStats == nil {
		return &columnRange{}, nil
	}
	if !fieldStats.HasMinMax() {
		allNull := fieldStats.HasNullCount() && fieldStats.NullCount() == fieldMetadata.NumValues()
		return &columnRange{empty: allNull}, nil
	}

	return &columnRange{
		min:   math.Float64frombits(binary.LittleEndian.Uint64(fieldStats.EncodeMin())),
		max:   math.Float64frombits(binary.LittleEndian.Uint64(fieldStats.EncodeMax())),
		known: true,
	}, nil
}

// Return min/max statistics for a given column and row group.  For nested
// structures, use `<column>.<field>`.
func GetColumnMinMax(fileMetadata *metadata.FileMetaData, rowGroup int, columnPath string) (min float64, max float64, err error) {
	columnRange, err := getColumnRange(fileMetadata, rowGroup, columnPath)
	if err != nil {
		return 0, 0, err
	}
	if !columnRange.known {
		return 0, 0, fmt.Errorf("no min/max statistics available for %v", columnPath)
	}
	return columnRange.min, columnRange.max, nil
}

// Check whether the features in a row group may intersect the input bbox,
// based on the row group min/max stats of the bbox column.  A row group
// whose covering values are all null is skipped.  A row group without
// statistics is kept so its rows can be filtered one by one.
func RowGroupIntersects(fileMetadata *metadata.FileMetaData, bboxCol *BboxColumn, rowGroup int, inputBbox *geo.Bbox) (bool, error) {
	if bboxCol.Name == "" {
		return false, errors.New("name field of bbox column struct is empty")
	}

	fields := []string{bboxCol.Xmin, bboxCol.Ymin, bboxCol.Xmax, bboxCol.Ymax}
	ranges := make([]*columnRange, len(fields))
	unknown := false
	for i, field := range fields {
		columnRange, err := getColumnRange(fileMetadata, rowGroup, bboxCol.Name+"."+field)
		if err != nil {
			return false, err
		}
		if columnRange.empty {
			return false, nil
		}
		if !columnRange.known {
			unknown = true
		}
		ranges[i] = columnRange
	}
	if unknown {
		return true, nil
	}

	rowGroupBbox := &geo.Bbox{Xmin: ranges[0].min, Ymin: ranges[1].min, Xmax: ranges[2].max, Ymax: ranges[3].max}
	return rowGroupBbox.Intersects(inputBbox), nil
}

func filterRecord(ctx context.Context, record arrow.Record, predicate func(int) (bool, error)) (arrow.Record, error) {
	maskBuilder := array.NewBooleanBuilder(memory.DefaultAllocator)
	defer maskBuilder.Release()

	numRows := int(record.NumRows())
	maskBuilder.Reserve(numRows)
	for i := 0; i < numRows; i++ {
		p, err := predicate(i)
		if err != nil {
			return nil, err
		}
		maskBuilder.Append(p)
	}
	mask := maskBuilder.NewBooleanArray()
	defer mask.Release()

	filtered, err := compute.FilterRecordBatch(ctx, record, mask, &compute.FilterOptions{NullSelection: compute.SelectionDropNulls})
	if err != nil {
		return nil, fmt.Errorf("trouble filtering record batch: %w", err)
	}
	return filtered, nil
}

// FilterRecordBatchByBbox keeps the rows whose bounding box intersects the
// input bbox.  The bbox column is used when the record has one; otherwise
// the rectangle of each geometry is computed.  Rows without a geometry are
// dropped.  The caller must release the returned record.
func FilterRecordBatchByBbox(ctx context.Context, record arrow.Record, inputBbox *geo.Bbox, bboxCol *BboxColumn) (arrow.Record, error) {
	if inputBbox == nil {
		record.Retain()
		return record, nil
	}

	if bboxCol.Index != -1 {
		rects, err := newCoveringRects(record.Column(bboxCol.Index), bboxCol.BboxColumnFieldNames)
		if err != nil {
			return nil, err
		}
		return filterRecord(ctx, record, func(i int) (bool, error) {
			rowBbox, ok := rects.bbox(i)
			return ok && inputBbox.Intersects(rowBbox), nil
		})
	}

	if bboxCol.BaseColumn == -1 {
		return nil, errors.New("no bbox or geometry column to filter on")
	}
	decoder, err := geoarrow.NewDecoder(record.Column(bboxCol.BaseColumn), bboxCol.BaseColumnEncoding)
	if err != nil {
		return nil, err
	}
	return filterRecord(ctx, record, func(i int) (bool, error) {
		bound, ok, err := decoder.Rect(i)
		if err != nil {
			return false, fmt.Errorf("trouble decoding geometry: %w", err)
		}
		return ok && inputBbox.Intersects(geo.NewBboxFromBound(bound)), nil
	})
}

type coveringRects struct {
	col                    *array.Struct
	xmin, ymin, xmax, ymax *array.Float64
}

func newCoveringRects(arr arrow.Array, names BboxColumnFieldNames) (*coveringRects, error) {
	col, ok := arr.(*array.Struct)
	if !ok {
		return nil, fmt.Errorf("expected bbox column to be a struct, got %s", arr.DataType())
	}
	structType := col.DataType().(*arrow.StructType)
	field := func(name string) (*array.Float64, error) {
		idx, ok := structType.FieldIdx(name)
		if !ok {
			return nil, fmt.Errorf("bbox column has no %q field", name)
		}
		values, ok := col.Field(idx).(*array.Float64)
		if !ok {
			return nil, fmt.Errorf("expected bbox.%s to be float64, got %s", name, col.Field(idx).DataType())
		}
		return values, nil
	}

	rects := &coveringRects{col: col}
	var err error
	if rects.xmin, err = field(names.Xmin); err != nil {
		return nil, err
	}
	if rects.ymin, err = field(names.Ymin); err != nil {
		return nil, err
	}
	if rects.xmax, err = field(names.Xmax); err != nil {
		return nil, err
	}
	if rects.ymax, err = field(names.Ymax); err != nil {
		return nil, err
	}
	return rects, nil
}

func (r *coveringRects) bbox(i int) (*geo.Bbox, bool) {
	if r.col.IsNull(i) {
		return nil, false
	}
	return &geo.Bbox{
		Xmin: r.xmin.Value(i),
		Ymin: r.ymin.Value(i),
		Xmax: r.xmax.Value(i),
		Ymax: r.ymax.Value(i),
	}, true
}
