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

package pqutil_test

import (
	"fmt"
	"testing"

	"github.com/planetlabs/geocol/internal/geoarrow"
	"github.com/planetlabs/geocol/internal/pqutil"
	"github.com/planetlabs/geocol/internal/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilder(t *testing.T) {
	cases := []struct {
		name   string
		record map[string]any
		schema string
	}{
		{
			name: "flat map",
			record: map[string]any{
				"maybe":  true,
				"answer": 42,
				"small":  int32(32),
				"pi":     4.13,
				"data":   []byte{'a', 'b', 'c'},
				"good":   "yup",
			},
			schema: `
				message {
					optional int64 answer (INT (64, true));
					optional binary data;
					optional binary good (STRING);
					optional boolean maybe;
					optional double pi;
					optional int32 small (INT (32, true));
				}
			`,
		},
		{
			name: "with slices",
			record: map[string]any{
				"bools":   []any{true, false, true},
				"strings": []any{"chicken", "noodle", "soup"},
				"floats":  []any{1.23, 4.56, 7.89},
				"ints":    []any{3, 2, 1},
			},
			schema: `
				message {
					optional group bools (LIST) {
						repeated group list {
							optional boolean element;
						}
					}
					optional group floats (LIST) {
						repeated group list {
							optional double element;
						}
					}
					optional group ints (LIST) {
						repeated group list {
							optional int64 element (INT (64, true));
						}
					}
					optional group strings (LIST) {
						repeated group list {
							optional binary element (STRING);
						}
					}
				}
			`,
		},
		{
			name: "with maps",
			record: map[string]any{
				"complex": map[string]any{
					"maybe":  true,
					"answer": 42,
					"small":  int32(32),
					"pi":     4.13,
					"data":   []byte{'a', 'b', 'c'},
					"good":   "yup",
				},
			},
			schema: `
				message {
					optional group complex {
						optional int64 answer (INT (64, true));
						optional binary data;
						optional binary good (STRING);
						optional boolean maybe;
						optional double pi;
						optional int32 small (INT (32, true));
					}
				}
			`,
		},
		{
			name: "with slices of maps",
			record: map[string]any{
				"things": []any{
					map[string]any{
						"what": "soup",
						"cost": 1.00,
					},
					map[string]any{
						"what": "car",
						"cost": 40000.00,
					},
					map[string]any{
						"what": "house",
						"cost": 1000000.00,
					},
				},
			},
			schema: `
				message {
					optional group things (LIST) {
						repeated group list {
							optional group element {
								optional double cost;
								optional binary what (STRING);
							}
						}
					}
				}
			`,
		},
	}

	for i, c := range cases {
		t.Run(fmt.Sprintf("%s (case %d)", c.name, i), func(t *testing.T) {
			b := pqutil.NewArrowSchemaBuilder()
			require.NoError(t, b.Add(c.record))
			s, err := b.Schema()
			require.NoError(t, err)
			require.NotNil(t, s)
			test.AssertArrowSchemaMatches(t, c.schema, s)
		})
	}
}

func TestBuilderMergesRows(t *testing.T) {
	b := pqutil.NewArrowSchemaBuilder()
	require.NoError(t, b.Add(map[string]any{
		"count":   3,
		"pending": nil,
		"nested":  map[string]any{"name": "one"},
		"items":   []any{},
	}))
	assert.False(t, b.Ready())

	require.NoError(t, b.Add(map[string]any{
		"count":   2.5,
		"pending": "now",
		"nested":  map[string]any{"size": 1.5},
		"items":   []any{map[string]any{"id": "a"}, map[string]any{"rank": 1.0}},
	}))
	assert.True(t, b.Ready())

	s, err := b.Schema()
	require.NoError(t, err)
	test.AssertArrowSchemaMatches(t, `
		message {
			optional double count;
			optional group items (LIST) {
				repeated group list {
					optional group element {
						optional binary id (STRING);
						optional double rank;
					}
				}
			}
			optional group nested {
				optional binary name (STRING);
				optional double size;
			}
			optional binary pending (STRING);
		}
	`, s)
}

func TestBuilderConflictingTypes(t *testing.T) {
	b := pqutil.NewArrowSchemaBuilder()
	require.NoError(t, b.Add(map[string]any{"value": "one"}))
	err := b.Add(map[string]any{"value": 42.0})
	assert.EqualError(t, err, `conflicting types for "value": utf8 and float64`)

	err = b.Add(map[string]any{"mixed": []any{"one", true}})
	assert.ErrorContains(t, err, "slices must be of all the same type")
}

func TestBuilderGeometry(t *testing.T) {
	b := pqutil.NewArrowSchemaBuilder()
	b.AddGeometry("geometry")
	require.NoError(t, b.Add(map[string]any{"geometry": "ignored", "name": "one"}))

	s, err := b.Schema()
	require.NoError(t, err)
	require.Equal(t, 2, s.NumFields())
	assert.Equal(t, "geometry", s.Field(0).Name)
	enc, err := geoarrow.EncodingOf(s.Field(0))
	require.NoError(t, err)
	assert.Equal(t, geoarrow.EncodingWKB, enc)

	_, err = pqutil.NewArrowSchemaBuilder().Schema()
	require.NoError(t, err)
}
