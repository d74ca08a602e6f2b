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

package geo

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"github.com/twpayne/go-geom/encoding/wkb"
	"github.com/twpayne/go-geom/encoding/wkt"
)

type FeatureCollection struct {
	Type     string     `json:"type"`
	Features []*Feature `json:"features"`
}

var (
	_ json.Marshaler = (*FeatureCollection)(nil)
)

func (c *FeatureCollection) MarshalJSON() ([]byte, error) {
	features := c.Features
	if features == nil {
		features = []*Feature{}
	}
	m := map[string]any{
		"type":     "FeatureCollection",
		"features": features,
	}
	return json.Marshal(m)
}

type Feature struct {
	Id         any            `json:"id,omitempty"`
	Type       string         `json:"type"`
	Geometry   geom.T         `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

var (
	_ json.Marshaler   = (*Feature)(nil)
	_ json.Unmarshaler = (*Feature)(nil)
)

func (f *Feature) MarshalJSON() ([]byte, error) {
	var geometry any
	if f.Geometry != nil {
		encoded, err := geojson.Encode(f.Geometry)
		if err != nil {
			return nil, err
		}
		geometry = encoded
	}
	m := map[string]any{
		"type":       "Feature",
		"geometry":   geometry,
		"properties": f.Properties,
	}
	if f.Id != nil {
		m["id"] = f.Id
	}
	return json.Marshal(m)
}

type jsonFeature struct {
	Id         any             `json:"id,omitempty"`
	Type       string          `json:"type"`
	Geometry   json.RawMessage `json:"geometry"`
	Properties map[string]any  `json:"properties"`
}

var rawNull = []byte("null")

func (f *Feature) UnmarshalJSON(data []byte) error {
	jf := &jsonFeature{}
	if err := json.Unmarshal(data, jf); err != nil {
		return err
	}

	f.Type = jf.Type
	f.Id = jf.Id
	f.Properties = jf.Properties

	if len(jf.Geometry) == 0 || bytes.Equal(jf.Geometry, rawNull) {
		return nil
	}

	var g geom.T
	if err := geojson.Unmarshal(jf.Geometry, &g); err != nil {
		return err
	}
	f.Geometry = g
	return nil
}

const (
	EncodingWKB = "WKB"
	EncodingWKT = "WKT"
)

// DecodeGeometry decodes a WKB or WKT value.  If encoding is empty, it is
// guessed from the value type.  Nil and empty values decode to a nil geometry.
func DecodeGeometry(value any, encoding string) (geom.T, error) {
	if value == nil {
		return nil, nil
	}
	if encoding == "" {
		switch value.(type) {
		case []byte:
			encoding = EncodingWKB
		case string:
			encoding = EncodingWKT
		}
	}
	switch encoding {
	case EncodingWKB:
		data, ok := value.([]byte)
		if !ok {
			return nil, fmt.Errorf("expected bytes for wkb geometry, got %T", value)
		}
		if len(data) == 0 {
			return nil, nil
		}
		return wkb.Unmarshal(data)
	case EncodingWKT:
		str, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("expected string for wkt geometry, got %T", value)
		}
		if str == "" {
			return nil, nil
		}
		return wkt.Unmarshal(str)
	default:
		return nil, fmt.Errorf("unsupported encoding: %s", encoding)
	}
}
