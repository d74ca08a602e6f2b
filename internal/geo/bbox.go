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
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// Bbox is a 2D query rectangle.  A box with Xmin > 0 and Xmax < 0 crosses
// the antimeridian.
type Bbox struct {
	Xmin float64
	Ymin float64
	Xmax float64
	Ymax float64
}

func NewBboxFromBound(bound orb.Bound) *Bbox {
	return &Bbox{
		Xmin: bound.Min[0],
		Ymin: bound.Min[1],
		Xmax: bound.Max[0],
		Ymax: bound.Max[1],
	}
}

func (b *Bbox) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{b.Xmin, b.Ymin}, Max: orb.Point{b.Xmax, b.Ymax}}
}

func (b *Bbox) crossesAntimeridian() bool {
	return b.Xmin > 0 && b.Xmax < 0
}

// unwrappedXmin represents e.g. xmin 170 as -190 for boxes crossing the
// antimeridian.
func (b *Bbox) unwrappedXmin() float64 {
	if b.crossesAntimeridian() {
		return -180 - (180 - b.Xmin)
	}
	return b.Xmin
}

// Intersects checks whether the bbox overlaps with another axis-aligned bbox.
func (b *Bbox) Intersects(other *Bbox) bool {
	if b.Ymax < other.Ymin || other.Ymax < b.Ymin {
		return false
	}

	xmin := b.unwrappedXmin()
	otherXmin := other.unwrappedXmin()
	if b.Xmax < otherXmin || other.Xmax < xmin {
		return false
	}

	return true
}

func (b *Bbox) String() string {
	return fmt.Sprintf("%g,%g,%g,%g", b.Xmin, b.Ymin, b.Xmax, b.Ymax)
}

// NewBboxFromString creates a Bbox from comma-separated values in format
// xmin,ymin,xmax,ymax.  An empty string results in a nil box.
func NewBboxFromString(bounds string) (*Bbox, error) {
	if bounds == "" {
		return nil, nil
	}

	values := strings.Split(bounds, ",")
	if len(values) != 4 {
		return nil, errors.New("please provide 4 comma-separated values (xmin,ymin,xmax,ymax) as a bbox")
	}

	names := []string{"xmin", "ymin", "xmax", "ymax"}
	parsed := make([]float64, 4)
	for i, value := range values {
		f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("trouble parsing %s input as float64: %w", names[i], err)
		}
		parsed[i] = f
	}

	return &Bbox{Xmin: parsed[0], Ymin: parsed[1], Xmax: parsed[2], Ymax: parsed[3]}, nil
}
