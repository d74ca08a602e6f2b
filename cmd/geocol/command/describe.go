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
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/schema"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/planetlabs/geocol/internal/geoparquet"
	"github.com/planetlabs/geocol/internal/pqutil"
	"go.uber.org/zap"
	"golang.org/x/term"
)

type DescribeCmd struct {
	Input    string `arg:"" optional:"" name:"input" help:"Path or URL for a GeoParquet file.  If not provided, input is read from stdin."`
	Format   string `help:"Report format.  Possible values: ${enum}." enum:"text, json, schema" default:"text"`
	Unpretty bool   `help:"No newlines or indentation in the JSON output."`
}

const (
	ColName          = "Column"
	ColType          = "Type"
	ColAnnotation    = "Annotation"
	ColRepetition    = "Repetition"
	ColCompression   = "Compression"
	ColEncoding      = "Encoding"
	ColGeometryTypes = "Geometry Types"
	ColBounds        = "Bounds"
	ColDetail        = "Detail"
)

func (c *DescribeCmd) Run(env *Environment) error {
	input, inputErr := readerFromInput(context.Background(), c.Input, env.logger())
	if inputErr != nil {
		return NewCommandError("trouble getting a reader from %q: %w", inputName(c.Input), inputErr)
	}
	defer func() { _ = input.Close() }()

	fileReader, fileErr := file.NewParquetReader(input)
	if fileErr != nil {
		return NewCommandError("failed to read %q as parquet: %w", inputName(c.Input), fileErr)
	}
	defer func() { _ = fileReader.Close() }()

	if c.Format == "schema" {
		fmt.Fprint(os.Stdout, pqutil.ParquetSchemaString(fileReader.MetaData().Schema))
		return nil
	}

	info := describe(fileReader)
	env.logger().Debug("described file",
		zap.String("input", inputName(c.Input)),
		zap.Int64("rows", info.NumRows),
		zap.Int("issues", len(info.Issues)),
	)

	if c.Format == "json" {
		return c.formatJSON(info)
	}
	return c.formatText(info)
}

func describe(fileReader *file.Reader) *DescribeInfo {
	fileMetadata := fileReader.MetaData()
	info := &DescribeInfo{
		Schema:       newSchemaDescriber(fileReader).describe("", fileMetadata.Schema.Root()),
		NumRows:      fileMetadata.NumRows,
		NumRowGroups: int64(fileReader.NumRowGroups()),
		Issues:       []string{},
	}

	metadata, err := geoparquet.GetMetadata(fileMetadata.KeyValueMetadata())
	switch {
	case errors.Is(err, geoparquet.ErrNoMetadata):
		info.Issues = append(info.Issues, "Not a valid GeoParquet file (missing the \"geo\" metadata key).")
	case err != nil:
		info.Issues = append(info.Issues, fmt.Sprintf("Invalid geo metadata: %s", err))
	default:
		info.Metadata = metadata
	}
	return info
}

func (c *DescribeCmd) formatText(info *DescribeInfo) error {
	metadata := info.Metadata

	header := table.Row{ColName, ColType, ColAnnotation, ColRepetition, ColCompression}
	if metadata != nil {
		header = append(header, ColEncoding, ColGeometryTypes, ColBounds, ColDetail)
	}

	out := os.Stdout
	tbl := table.NewWriter()
	if term.IsTerminal(int(out.Fd())) {
		if width, _, err := term.GetSize(int(out.Fd())); err == nil {
			tbl.SetAllowedRowLength(width)
		}
	}
	tbl.SetColumnConfigs([]table.ColumnConfig{
		{Name: ColGeometryTypes, WidthMax: 50, WidthMaxEnforcer: text.WrapSoft},
		{Name: ColBounds, WidthMax: 50, WidthMaxEnforcer: text.WrapSoft},
	})
	tbl.AppendHeader(header)

	for _, field := range info.Schema.Fields {
		name := field.Name
		var geoColumn *geoparquet.GeometryColumn
		if metadata != nil {
			geoColumn = metadata.Columns[field.Name]
			if metadata.PrimaryColumn == name {
				name = text.Bold.Sprint(name)
			}
		}

		row := table.Row{name, field.Type, field.Annotation, field.cardinality(), field.Compression}
		if geoColumn != nil {
			row = append(row,
				geoColumn.Encoding,
				strings.Join(geoColumn.GetGeometryTypes(), ", "),
				formatBounds(geoColumn.Bounds),
				columnDetail(geoColumn),
			)
		}
		tbl.AppendRow(padRow(row, len(header)))
	}

	merged := table.RowConfig{AutoMerge: true}
	mergedLeft := table.RowConfig{AutoMerge: true, AutoMergeAlign: text.AlignLeft}
	tbl.AppendFooter(padRow(table.Row{"Rows", info.NumRows}, len(header)), merged)
	tbl.AppendFooter(padRow(table.Row{"Row Groups", info.NumRowGroups}, len(header)), merged)
	if metadata != nil {
		version := metadata.Version
		if version == "" {
			version = "missing"
		}
		tbl.AppendFooter(padRow(table.Row{"Version", version}, len(header)), mergedLeft)
	}
	for _, issue := range info.Issues {
		tbl.AppendFooter(padRow(table.Row{"Issue", issue}, len(header)), mergedLeft)
	}

	tbl.SetStyle(table.StyleRounded)
	tbl.SetOutputMirror(out)
	tbl.Render()

	return nil
}

func formatBounds(bounds []float64) string {
	if bounds == nil {
		return ""
	}
	values := make([]string, len(bounds))
	for i, v := range bounds {
		values[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return "[" + strings.Join(values, ", ") + "]"
}

func columnDetail(geoColumn *geoparquet.GeometryColumn) string {
	rows := []table.Row{}
	if geoColumn.Orientation != "" {
		rows = append(rows, table.Row{"orientation", geoColumn.Orientation})
	}
	if geoColumn.Edges != "" {
		rows = append(rows, table.Row{"edges", geoColumn.Edges})
	}
	if geoColumn.HasCRS() {
		crs := geoColumn.CRSName()
		if crs == "" {
			crs = string(geoColumn.CRS)
		}
		rows = append(rows, table.Row{"crs", crs})
	}
	if geoColumn.Epoch != nil {
		rows = append(rows, table.Row{"epoch", strconv.FormatFloat(*geoColumn.Epoch, 'f', -1, 64)})
	}
	if geoColumn.Covering != nil {
		rows = append(rows, table.Row{"covering", geoColumn.Covering.Column()})
	}
	if len(rows) == 0 {
		return ""
	}

	details := table.NewWriter()
	details.SetStyle(table.StyleLight)
	details.Style().Options.DrawBorder = false
	details.AppendRows(rows)
	return details.Render()
}

// padRow fills a row with empty cells up to the header width.
func padRow(row table.Row, width int) table.Row {
	for len(row) < width {
		row = append(row, "")
	}
	return row
}

func (c *DescribeCmd) formatJSON(info *DescribeInfo) error {
	encoder := json.NewEncoder(os.Stdout)
	if !c.Unpretty {
		encoder.SetIndent("", "  ")
		encoder.SetEscapeHTML(false)
	}
	if err := encoder.Encode(info); err != nil {
		return NewCommandError("failed to encode metadata: %w", err)
	}

	return nil
}

type DescribeInfo struct {
	Schema       *DescribeSchema      `json:"schema"`
	Metadata     *geoparquet.Metadata `json:"metadata"`
	NumRows      int64                `json:"rows"`
	NumRowGroups int64                `json:"row_groups"`
	Issues       []string             `json:"issues"`
}

type DescribeSchema struct {
	Name        string            `json:"name,omitempty"`
	Optional    bool              `json:"optional,omitempty"`
	Repeated    bool              `json:"repeated,omitempty"`
	Type        string            `json:"type,omitempty"`
	Annotation  string            `json:"annotation,omitempty"`
	Compression string            `json:"compression,omitempty"`
	Fields      []*DescribeSchema `json:"fields,omitempty"`
}

func (s *DescribeSchema) cardinality() string {
	switch {
	case s.Repeated:
		return "0..*"
	case s.Optional:
		return "0..1"
	default:
		return "1"
	}
}

var physicalTypeNames = map[parquet.Type]string{
	parquet.Types.Boolean:   "boolean",
	parquet.Types.Int32:     "int32",
	parquet.Types.Int64:     "int64",
	parquet.Types.Int96:     "int96",
	parquet.Types.Float:     "float",
	parquet.Types.Double:    "double",
	parquet.Types.ByteArray: "binary",
}

// schemaDescriber walks the schema tree.  Leaves are visited in column
// order, so the leaf count doubles as the column chunk index.
type schemaDescriber struct {
	compressions []string
	leaves       int
}

func newSchemaDescriber(fileReader *file.Reader) *schemaDescriber {
	d := &schemaDescriber{}
	if fileReader.NumRowGroups() == 0 {
		return d
	}
	rowGroup := fileReader.RowGroup(0).MetaData()
	d.compressions = make([]string, rowGroup.NumColumns())
	for i := range d.compressions {
		d.compressions[i] = "unknown"
		if col, err := rowGroup.ColumnChunk(i); err == nil {
			d.compressions[i] = strings.ToLower(col.Compression().String())
		}
	}
	return d
}

func (d *schemaDescriber) describe(name string, node schema.Node) *DescribeSchema {
	repetition := node.RepetitionType()
	field := &DescribeSchema{
		Name:     name,
		Optional: repetition == parquet.Repetitions.Optional,
		Repeated: repetition == parquet.Repetitions.Repeated,
	}
	if logicalType := node.LogicalType(); !logicalType.IsNone() {
		field.Annotation = strings.ToLower(logicalType.String())
	}

	switch n := node.(type) {
	case *schema.GroupNode:
		if field.Annotation == "" {
			field.Annotation = "group"
		}
		field.Fields = make([]*DescribeSchema, n.NumFields())
		for i := range field.Fields {
			child := n.Field(i)
			field.Fields[i] = d.describe(child.Name(), child)
		}
	case *schema.PrimitiveNode:
		field.Type = physicalTypeNames[n.PhysicalType()]
		if n.PhysicalType() == parquet.Types.FixedLenByteArray {
			field.Type = fmt.Sprintf("fixed_len_byte_array(%d)", n.TypeLength())
		} else if field.Type == "" {
			field.Type = n.PhysicalType().String()
		}
		field.Compression = d.compression()
	}
	return field
}

func (d *schemaDescriber) compression() string {
	index := d.leaves
	d.leaves += 1
	if index >= len(d.compressions) {
		return "unknown"
	}
	return d.compressions[index]
}
