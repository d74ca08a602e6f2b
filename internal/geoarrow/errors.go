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

package geoarrow

import (
	"fmt"

	"github.com/planetlabs/geocol/internal/geo"
)

// MixedTypeError is returned when a geometry does not fit the single geometry
// category of a native encoding.
type MixedTypeError struct {
	Encoding Encoding
	Found    geo.TypeTag
	Row      int
}

func (e *MixedTypeError) Error() string {
	return fmt.Sprintf("cannot encode %s geometry as %s (row %d)", e.Found, e.Encoding, e.Row)
}

// DimensionMismatchError is returned when a geometry does not have the
// dimension fixed for a native chunk.
type DimensionMismatchError struct {
	Expected geo.Dimension
	Found    geo.Dimension
	Row      int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("expected %s coordinates, found %s (row %d)", e.Expected, e.Found, e.Row)
}

// UnsupportedEncodingError is returned when data cannot be represented in the
// requested encoding.
type UnsupportedEncodingError struct {
	Encoding string
	Reason   string
}

func (e *UnsupportedEncodingError) Error() string {
	return fmt.Sprintf("unsupported encoding %s: %s", e.Encoding, e.Reason)
}
