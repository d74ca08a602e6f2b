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

	"github.com/planetlabs/geocol/internal/geo"
	"github.com/twpayne/go-geom"
	geomjson "github.com/twpayne/go-geom/encoding/geojson"
)

// FeatureReader reads features from a FeatureCollection, a single Feature,
// a bare geometry object, or newline delimited features.
type FeatureReader struct {
	collection bool
	decoder    *json.Decoder
}

func NewFeatureReader(input io.Reader) *FeatureReader {
	return &FeatureReader{
		decoder: json.NewDecoder(input),
	}
}

// object collects the members of the first top-level object until it is
// known to be a feature, a geometry, or a collection.
type object struct {
	parsedType  string
	feature     *geo.Feature
	coordinates json.RawMessage
}

func (o *object) getFeature() *geo.Feature {
	if o.feature == nil {
		o.feature = &geo.Feature{}
	}
	return o.feature
}

func (r *FeatureReader) Read() (*geo.Feature, error) {
	if r.decoder == nil {
		return nil, io.EOF
	}

	if r.collection {
		return r.readFeature()
	}

	defer func() {
		if !r.collection {
			r.decoder = nil
		}
	}()

	token, err := r.decoder.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := token.(json.Delim); !ok || delim != json.Delim('{') {
		return nil, fmt.Errorf("expected a JSON object, got %s", token)
	}

	o := &object{}
	for {
		keyToken, err := r.decoder.Token()
		if err == io.EOF {
			if o.feature == nil {
				return nil, io.EOF
			}
			return o.feature, nil
		}
		if err != nil {
			return nil, err
		}

		if delim, ok := keyToken.(json.Delim); ok && delim == json.Delim('}') {
			if r.decoder.More() {
				r.collection = true
			}
			if o.feature == nil {
				return nil, errors.New("expected a FeatureCollection, a Feature, or a Geometry object")
			}
			return o.feature, nil
		}

		key, ok := keyToken.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token: %s", keyToken)
		}

		feature, done, err := r.readMember(o, key)
		if err != nil {
			return nil, err
		}
		if done {
			return feature, nil
		}
	}
}

// readMember consumes the value of one member of the top-level object.  It
// reports done when the value is enough to return the first feature.
func (r *FeatureReader) readMember(o *object, key string) (*geo.Feature, bool, error) {
	switch key {
	case "geometry":
		feature := o.getFeature()
		if feature.Geometry != nil {
			return nil, false, errors.New("found duplicate geometry")
		}
		geometry, err := r.decodeGeometry()
		if err != nil {
			return nil, false, err
		}
		feature.Geometry = geometry

	case "properties":
		feature := o.getFeature()
		if feature.Properties != nil {
			return nil, false, errors.New("found duplicate properties")
		}
		properties := map[string]any{}
		if err := r.decoder.Decode(&properties); err != nil {
			return nil, false, fmt.Errorf("trouble parsing properties: %w", err)
		}
		feature.Properties = properties

	case "coordinates":
		if o.feature != nil && o.feature.Geometry != nil {
			return nil, false, errors.New("found unexpected coordinates")
		}
		if o.coordinates != nil {
			return nil, false, errors.New("found duplicate coordinates")
		}
		if err := r.decoder.Decode(&o.coordinates); err != nil {
			return nil, false, errors.New("trouble parsing coordinates")
		}
		if o.parsedType != "" {
			feature, err := featureFromCoordinates(o.parsedType, o.coordinates)
			return feature, true, err
		}

	case "type":
		if o.parsedType != "" {
			return nil, false, errors.New("found duplicate type")
		}
		var value any
		if err := r.decoder.Decode(&value); err != nil {
			return nil, false, err
		}
		parsedType, ok := value.(string)
		if !ok {
			return nil, false, fmt.Errorf("unexpected type: %v", value)
		}
		o.parsedType = parsedType
		if o.coordinates != nil {
			feature, err := featureFromCoordinates(o.parsedType, o.coordinates)
			return feature, true, err
		}

	case "features":
		if o.parsedType != "" && o.parsedType != "FeatureCollection" {
			return nil, false, fmt.Errorf("found features in unexpected %q type", o.parsedType)
		}
		if err := r.expectArray("features"); err != nil {
			return nil, false, err
		}
		r.collection = true
		feature, err := r.readFeature()
		return feature, true, err

	case "geometries":
		if o.parsedType != "" && o.parsedType != "GeometryCollection" {
			return nil, false, fmt.Errorf("found geometries in unexpected %q type", o.parsedType)
		}
		if err := r.expectArray("geometries"); err != nil {
			return nil, false, err
		}
		feature, err := r.readGeometryCollection()
		return feature, true, err

	case "id":
		feature := o.getFeature()
		if feature.Id != nil {
			return nil, false, errors.New("found duplicate id")
		}
		var raw json.RawMessage
		if err := r.decoder.Decode(&raw); err != nil {
			return nil, false, err
		}
		var id any
		if err := json.Unmarshal(raw, &id); err != nil {
			return nil, false, err
		}
		switch id.(type) {
		case string, float64:
			feature.Id = id
		default:
			return nil, false, fmt.Errorf("expected id to be a string or number, got: %s", raw)
		}

	default:
		var ignored json.RawMessage
		if err := r.decoder.Decode(&ignored); err != nil {
			return nil, false, fmt.Errorf("unexpected token: %w", err)
		}
	}
	return nil, false, nil
}

func (r *FeatureReader) expectArray(key string) error {
	token, err := r.decoder.Token()
	if err != nil {
		return err
	}
	if delim, ok := token.(json.Delim); !ok || delim != json.Delim('[') {
		return fmt.Errorf("expected an array of %s, got %v", key, token)
	}
	return nil
}

func featureFromCoordinates(geometryType string, coordinates json.RawMessage) (*geo.Feature, error) {
	data, err := json.Marshal(struct {
		Type        string          `json:"type"`
		Coordinates json.RawMessage `json:"coordinates"`
	}{geometryType, coordinates})
	if err != nil {
		return nil, err
	}
	var geometry geom.T
	if err := geomjson.Unmarshal(data, &geometry); err != nil {
		return nil, fmt.Errorf("trouble parsing geometry coordinates: %w", err)
	}
	return &geo.Feature{
		Geometry:   geometry,
		Properties: map[string]any{},
	}, nil
}

func (r *FeatureReader) readFeature() (*geo.Feature, error) {
	if !r.decoder.More() {
		r.decoder = nil
		return nil, io.EOF
	}
	feature := &geo.Feature{}
	if err := r.decoder.Decode(feature); err != nil {
		return nil, err
	}
	return feature, nil
}

func (r *FeatureReader) readGeometryCollection() (*geo.Feature, error) {
	feature := &geo.Feature{Properties: map[string]any{}}

	if !r.decoder.More() {
		return feature, nil
	}

	collection := geom.NewGeometryCollection()
	for r.decoder.More() {
		geometry, err := r.decodeGeometry()
		if err != nil {
			return nil, err
		}
		if geometry == nil {
			continue
		}
		if err := collection.Push(geometry); err != nil {
			return nil, fmt.Errorf("trouble adding geometry to collection: %w", err)
		}
	}

	feature.Geometry = collection
	return feature, nil
}

func (r *FeatureReader) decodeGeometry() (geom.T, error) {
	var raw json.RawMessage
	if err := r.decoder.Decode(&raw); err != nil {
		return nil, fmt.Errorf("trouble parsing geometry: %w", err)
	}
	var geometry geom.T
	if err := geomjson.Unmarshal(raw, &geometry); err != nil {
		return nil, fmt.Errorf("trouble parsing geometry: %w", err)
	}
	return geometry, nil
}
