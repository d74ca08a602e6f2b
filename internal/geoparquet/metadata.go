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
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/metadata"
	"github.com/planetlabs/geocol/internal/geo"
	"github.com/planetlabs/geocol/internal/geoarrow"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/mod/semver"
)

const (
	Version                     = "1.1.0"
	MetadataKey                 = "geo"
	EdgesPlanar                 = "planar"
	EdgesSpherical              = "spherical"
	OrientationCounterClockwise = "counterclockwise"
	DefaultGeometryColumn       = "geometry"
	DefaultCoveringColumn       = "bbox"
)

type Metadata struct {
	Version       string                     `json:"version"`
	PrimaryColumn string                     `json:"primary_column"`
	Columns       map[string]*GeometryColumn `json:"columns"`
}

func (m *Metadata) Clone() *Metadata {
	clone := &Metadata{}
	*clone = *m
	clone.Columns = make(map[string]*GeometryColumn, len(m.Columns))
	for i, v := range m.Columns {
		clone.Columns[i] = v.clone()
	}
	return clone
}

type ProjId struct {
	Authority string `json:"authority"`
	Code      any    `json:"code"`
}

type Proj struct {
	Name string  `json:"name"`
	Id   *ProjId `json:"id"`
}

func (p *Proj) String() string {
	id := ""
	if p.Id != nil {
		if code, ok := p.Id.Code.(string); ok {
			id = p.Id.Authority + ":" + code
		} else if code, ok := p.Id.Code.(float64); ok {
			id = fmt.Sprintf("%s:%g", p.Id.Authority, code)
		}
	}
	if p.Name != "" {
		return p.Name
	}
	if id == "" {
		return "Unknown"
	}
	return id
}

type CoveringBbox struct {
	Xmin []string `json:"xmin"`
	Ymin []string `json:"ymin"`
	Xmax []string `json:"xmax"`
	Ymax []string `json:"ymax"`
}

// Covering points at the fields of a bounding box column.
type Covering struct {
	Bbox CoveringBbox `json:"bbox"`
}

func NewCovering(column string) *Covering {
	return &Covering{
		Bbox: CoveringBbox{
			Xmin: []string{column, "xmin"},
			Ymin: []string{column, "ymin"},
			Xmax: []string{column, "xmax"},
			Ymax: []string{column, "ymax"},
		},
	}
}

// Column returns the name of the struct column holding the covering, or an
// empty string if the field paths do not all point into the same column.
func (c *Covering) Column() string {
	paths := [][]string{c.Bbox.Xmin, c.Bbox.Ymin, c.Bbox.Xmax, c.Bbox.Ymax}
	name := ""
	for _, path := range paths {
		if len(path) != 2 {
			return ""
		}
		if name != "" && path[0] != name {
			return ""
		}
		name = path[0]
	}
	return name
}

func (c *Covering) clone() *Covering {
	if c == nil {
		return nil
	}
	return &Covering{
		Bbox: CoveringBbox{
			Xmin: append([]string(nil), c.Bbox.Xmin...),
			Ymin: append([]string(nil), c.Bbox.Ymin...),
			Xmax: append([]string(nil), c.Bbox.Xmax...),
			Ymax: append([]string(nil), c.Bbox.Ymax...),
		},
	}
}

type GeometryColumn struct {
	Encoding      string          `json:"encoding"`
	GeometryTypes []string        `json:"geometry_types"`
	CRS           json.RawMessage `json:"crs,omitempty"`
	Edges         string          `json:"edges,omitempty"`
	Orientation   string          `json:"orientation,omitempty"`
	Bounds        []float64       `json:"bbox,omitempty"`
	Epoch         *float64        `json:"epoch,omitempty"`
	Covering      *Covering       `json:"covering,omitempty"`
}

func (g *GeometryColumn) clone() *GeometryColumn {
	clone := &GeometryColumn{}
	*clone = *g
	clone.GeometryTypes = append([]string{}, g.GeometryTypes...)
	if g.Bounds != nil {
		clone.Bounds = append([]float64(nil), g.Bounds...)
	}
	if g.CRS != nil {
		clone.CRS = append(json.RawMessage(nil), g.CRS...)
	}
	if g.Epoch != nil {
		epoch := *g.Epoch
		clone.Epoch = &epoch
	}
	clone.Covering = g.Covering.clone()
	return clone
}

func (col *GeometryColumn) GetGeometryTypes() []string {
	return col.GeometryTypes
}

// TypeInventory parses the declared geometry types.
func (col *GeometryColumn) TypeInventory() (*geo.TypeInventory, error) {
	inventory := geo.NewTypeInventory()
	for _, value := range col.GeometryTypes {
		tag, err := geo.ParseTypeTag(value)
		if err != nil {
			return nil, err
		}
		inventory.Add(tag)
	}
	return inventory, nil
}

// BoundingBox returns the declared bbox.  The length of the box (4 or 6)
// says whether it includes Z.
func (col *GeometryColumn) BoundingBox() geo.BoundingBox {
	return geo.BoundingBox(col.Bounds)
}

func (col *GeometryColumn) GeoArrowEncoding() (geoarrow.Encoding, error) {
	return geoarrow.ParseEncoding(col.Encoding)
}

// HasCRS reports whether the column carries a CRS.  An explicit null is the
// same as no CRS.
func (col *GeometryColumn) HasCRS() bool {
	return len(col.CRS) > 0 && string(col.CRS) != "null"
}

// CRSName returns a short name for the CRS, or an empty string if the column
// has none.
func (col *GeometryColumn) CRSName() string {
	if !col.HasCRS() {
		return ""
	}
	proj := &Proj{}
	if err := json.Unmarshal(col.CRS, proj); err == nil {
		return proj.String()
	}
	var wkt string
	if err := json.Unmarshal(col.CRS, &wkt); err == nil {
		if name, _, ok := strings.Cut(wkt, "["); ok {
			return name
		}
	}
	return "Unknown"
}

// ColumnState is the accumulated state of one geometry column at the time a
// file is finalized.
type ColumnState struct {
	Name        string
	Encoding    geoarrow.Encoding
	Stats       *geo.ColumnStats
	CRS         json.RawMessage
	Edges       string
	Orientation string
	Epoch       *float64
	Covering    string
}

// Finalize freezes the column states into a metadata document.  The primary
// column defaults to the first column.
func Finalize(version string, primary string, columns []*ColumnState) (*Metadata, error) {
	if len(columns) == 0 {
		return nil, ErrNoGeometryColumn
	}
	if version == "" {
		version = Version
	}
	if primary == "" {
		primary = columns[0].Name
	}

	m := &Metadata{
		Version:       version,
		PrimaryColumn: primary,
		Columns:       make(map[string]*GeometryColumn, len(columns)),
	}
	for _, state := range columns {
		col := &GeometryColumn{
			Encoding:      state.Encoding.String(),
			GeometryTypes: []string{},
			Edges:         state.Edges,
			Orientation:   state.Orientation,
			Epoch:         state.Epoch,
		}
		if len(state.CRS) > 0 && string(state.CRS) != "null" {
			col.CRS = state.CRS
		}
		if state.Stats != nil {
			col.GeometryTypes = state.Stats.Types.Strings()
			col.Bounds = state.Stats.Bounds.Snapshot()
		}
		if state.Covering != "" {
			col.Covering = NewCovering(state.Covering)
		}
		m.Columns[state.Name] = col
	}
	if _, ok := m.Columns[primary]; !ok {
		return nil, fmt.Errorf("primary column %q is not a geometry column", primary)
	}
	return m, nil
}

var (
	//go:embed schema/v0.json
	schemaV0 string

	//go:embed schema/v1.json
	schemaV1 string
)

type versionHandler struct {
	schema *jsonschema.Schema
	decode func(data []byte) (*Metadata, error)
}

var versionHandlers = map[string]*versionHandler{
	"v0": {
		schema: jsonschema.MustCompileString("https://geoparquet.org/releases/v0/schema.json", schemaV0),
		decode: decodeLegacy,
	},
	"v1": {
		schema: jsonschema.MustCompileString("https://geoparquet.org/releases/v1/schema.json", schemaV1),
		decode: decodeCurrent,
	},
}

func handlerFor(version string) (*versionHandler, error) {
	v := "v" + version
	if !semver.IsValid(v) {
		return nil, &MalformedMetadataError{Reason: fmt.Sprintf("invalid version %q", version)}
	}
	handler, ok := versionHandlers[semver.Major(v)]
	if !ok {
		return nil, &UnsupportedVersionError{Version: version}
	}
	return handler, nil
}

// ParseMetadata decodes a metadata document, dispatching on its major
// version.  Unknown optional fields are ignored.
func ParseMetadata(data []byte) (*Metadata, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &MalformedMetadataError{Reason: "invalid JSON", Err: err}
	}
	object, ok := doc.(map[string]any)
	if !ok {
		return nil, &MalformedMetadataError{Reason: fmt.Sprintf("expected a JSON object, got %s", asJSON(doc))}
	}
	version, ok := object["version"].(string)
	if !ok {
		return nil, &MalformedMetadataError{Reason: `missing "version" string`}
	}

	handler, err := handlerFor(version)
	if err != nil {
		return nil, err
	}

	if err := handler.schema.Validate(doc); err != nil {
		validationErr := &jsonschema.ValidationError{}
		if errors.As(err, &validationErr) {
			return nil, &MalformedMetadataError{Reason: SimplifiedValidationMessage(validationErr)}
		}
		return nil, &MalformedMetadataError{Reason: "validation failed", Err: err}
	}

	m, err := handler.decode(data)
	if err != nil {
		return nil, &MalformedMetadataError{Reason: "unexpected structure", Err: err}
	}
	if _, ok := m.Columns[m.PrimaryColumn]; !ok {
		return nil, &MalformedMetadataError{Reason: fmt.Sprintf("primary column %q is not in columns", m.PrimaryColumn)}
	}
	for name, col := range m.Columns {
		if _, err := col.TypeInventory(); err != nil {
			return nil, &MalformedMetadataError{Reason: fmt.Sprintf("column %q", name), Err: err}
		}
	}
	return m, nil
}

func normalize(m *Metadata) *Metadata {
	for _, col := range m.Columns {
		if string(col.CRS) == "null" {
			col.CRS = nil
		}
		if col.GeometryTypes == nil {
			col.GeometryTypes = []string{}
		}
	}
	return m
}

func decodeCurrent(data []byte) (*Metadata, error) {
	m := &Metadata{}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, err
	}
	return normalize(m), nil
}

type legacyGeometryColumn struct {
	GeometryColumn
	GeometryType any `json:"geometry_type,omitempty"`
}

type legacyMetadata struct {
	Version       string                           `json:"version"`
	PrimaryColumn string                           `json:"primary_column"`
	Columns       map[string]*legacyGeometryColumn `json:"columns"`
}

// decodeLegacy reads 0.x documents where the types were given by
// "geometry_type" as a single string or a list.
func decodeLegacy(data []byte) (*Metadata, error) {
	legacy := &legacyMetadata{}
	if err := json.Unmarshal(data, legacy); err != nil {
		return nil, err
	}
	m := &Metadata{
		Version:       legacy.Version,
		PrimaryColumn: legacy.PrimaryColumn,
		Columns:       make(map[string]*GeometryColumn, len(legacy.Columns)),
	}
	for name, col := range legacy.Columns {
		column := col.GeometryColumn
		if column.GeometryTypes == nil {
			types, err := legacyGeometryTypes(col.GeometryType)
			if err != nil {
				return nil, fmt.Errorf("column %q: %w", name, err)
			}
			column.GeometryTypes = types
		}
		m.Columns[name] = &column
	}
	return normalize(m), nil
}

func legacyGeometryTypes(value any) ([]string, error) {
	switch v := value.(type) {
	case nil:
		return []string{}, nil
	case string:
		return []string{v}, nil
	case []any:
		types := make([]string, 0, len(v))
		seen := map[string]bool{}
		for _, item := range v {
			geometryType, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected geometry type to be a string, got %s", asJSON(item))
			}
			if seen[geometryType] {
				continue
			}
			seen[geometryType] = true
			types = append(types, geometryType)
		}
		return types, nil
	default:
		return nil, fmt.Errorf("unexpected geometry_type %s", asJSON(value))
	}
}

// SimplifiedValidationMessage reports the first leaf cause of a schema
// validation error.
func SimplifiedValidationMessage(err *jsonschema.ValidationError) string {
	leaf := err
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	location := leaf.InstanceLocation
	if location == "" {
		location = "input"
	}
	return fmt.Sprintf("%s is invalid: %s", location, leaf.Message)
}

func asJSON(value any) string {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(data)
}

func GetMetadata(keyValueMetadata metadata.KeyValueMetadata) (*Metadata, error) {
	value, err := GetMetadataValue(keyValueMetadata)
	if err != nil {
		return nil, err
	}
	return ParseMetadata([]byte(value))
}

func GetMetadataValue(keyValueMetadata metadata.KeyValueMetadata) (string, error) {
	var value *string
	for _, kv := range keyValueMetadata {
		if kv.Key == MetadataKey {
			if value != nil {
				return "", ErrDuplicateMetadata
			}
			value = kv.Value
		}
	}
	if value == nil {
		return "", ErrNoMetadata
	}
	return *value, nil
}

func GetMetadataFromFileReader(fileReader *file.Reader) (*Metadata, error) {
	return GetMetadata(fileReader.MetaData().KeyValueMetadata())
}
