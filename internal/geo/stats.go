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
	"math"
	"sort"
	"sync"

	"github.com/paulmach/orb"
	"github.com/twpayne/go-geom"
)

// TypeInventory is the set of geometry type tags seen in a column.  The zero
// value is an empty inventory ready for use.
type TypeInventory struct {
	tags map[TypeTag]struct{}
}

func NewTypeInventory(tags ...TypeTag) *TypeInventory {
	inventory := &TypeInventory{}
	for _, tag := range tags {
		inventory.Add(tag)
	}
	return inventory
}

func (inv *TypeInventory) Add(tag TypeTag) {
	if inv.tags == nil {
		inv.tags = map[TypeTag]struct{}{}
	}
	inv.tags[tag] = struct{}{}
}

// Observe records the top-level tag of a geometry.  Nil geometries are
// ignored.
func (inv *TypeInventory) Observe(g geom.T) error {
	if g == nil {
		return nil
	}
	tag, err := TagOf(g)
	if err != nil {
		return err
	}
	inv.Add(tag)
	return nil
}

// Merge adds all tags from another inventory.
func (inv *TypeInventory) Merge(other *TypeInventory) {
	if other == nil {
		return
	}
	for tag := range other.tags {
		inv.Add(tag)
	}
}

func (inv *TypeInventory) Len() int {
	return len(inv.tags)
}

func (inv *TypeInventory) Contains(tag TypeTag) bool {
	_, ok := inv.tags[tag]
	return ok
}

func (inv *TypeInventory) HasZ() bool {
	for tag := range inv.tags {
		if tag.Z {
			return true
		}
	}
	return false
}

// Tags returns the tags in a stable order (by type, 2D before 3D).
func (inv *TypeInventory) Tags() []TypeTag {
	tags := make([]TypeTag, 0, len(inv.tags))
	for tag := range inv.tags {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool {
		if tags[i].Type != tags[j].Type {
			return tags[i].Type < tags[j].Type
		}
		return !tags[i].Z && tags[j].Z
	})
	return tags
}

func (inv *TypeInventory) Strings() []string {
	tags := inv.Tags()
	values := make([]string, len(tags))
	for i, tag := range tags {
		values[i] = tag.String()
	}
	return values
}

// BoundingBox is either [xmin, ymin, xmax, ymax] or
// [xmin, ymin, zmin, xmax, ymax, zmax].
type BoundingBox []float64

func (b BoundingBox) Is3D() bool {
	return len(b) == 6
}

func (b BoundingBox) Valid() bool {
	return len(b) == 4 || len(b) == 6
}

// XY returns the 2D projection of the box.
func (b BoundingBox) XY() orb.Bound {
	if b.Is3D() {
		return orb.Bound{Min: orb.Point{b[0], b[1]}, Max: orb.Point{b[3], b[4]}}
	}
	return orb.Bound{Min: orb.Point{b[0], b[1]}, Max: orb.Point{b[2], b[3]}}
}

// Z returns the Z range of a 3D box.
func (b BoundingBox) Z() (float64, float64, bool) {
	if !b.Is3D() {
		return 0, 0, false
	}
	return b[2], b[5], true
}

// Contains reports whether other lies entirely within b.  Z ranges are only
// compared when both boxes have them.
func (b BoundingBox) Contains(other BoundingBox) bool {
	outer := b.XY()
	inner := other.XY()
	if !outer.Contains(inner.Min) || !outer.Contains(inner.Max) {
		return false
	}
	minZ, maxZ, ok := b.Z()
	otherMinZ, otherMaxZ, otherOk := other.Z()
	if ok && otherOk {
		return minZ <= otherMinZ && otherMaxZ <= maxZ
	}
	return true
}

// BoundsAccumulator folds coordinates into a running envelope.  The zero
// value is the empty envelope.  Once a Z value has been folded the
// accumulator reports a 3D box for the rest of its life.
type BoundsAccumulator struct {
	xy    orb.Bound
	hasXY bool
	minZ  float64
	maxZ  float64
	hasZ  bool
}

func (acc *BoundsAccumulator) extend(x, y float64) {
	if math.IsNaN(x) || math.IsNaN(y) {
		return
	}
	point := orb.Point{x, y}
	if !acc.hasXY {
		acc.xy = orb.Bound{Min: point, Max: point}
		acc.hasXY = true
		return
	}
	acc.xy = acc.xy.Extend(point)
}

func (acc *BoundsAccumulator) extendZ(z float64) {
	if math.IsNaN(z) {
		return
	}
	if !acc.hasZ {
		acc.minZ, acc.maxZ = z, z
		acc.hasZ = true
		return
	}
	acc.minZ = math.Min(acc.minZ, z)
	acc.maxZ = math.Max(acc.maxZ, z)
}

// Observe folds every vertex of a geometry.  Nil geometries are ignored.
func (acc *BoundsAccumulator) Observe(g geom.T) {
	if g == nil {
		return
	}
	if collection, ok := g.(*geom.GeometryCollection); ok {
		acc.observeCollection(collection)
		return
	}
	zIndex := g.Layout().ZIndex()
	EachCoord(g, func(coord []float64) {
		acc.extend(coord[0], coord[1])
		if zIndex >= 0 {
			acc.extendZ(coord[zIndex])
		}
	})
}

func (acc *BoundsAccumulator) observeCollection(c *geom.GeometryCollection) {
	for _, member := range c.Geoms() {
		acc.Observe(member)
	}
}

// ObserveBound folds a 2D rectangle.
func (acc *BoundsAccumulator) ObserveBound(bound orb.Bound) {
	acc.extend(bound.Min[0], bound.Min[1])
	acc.extend(bound.Max[0], bound.Max[1])
}

// Merge folds another accumulator into this one.
func (acc *BoundsAccumulator) Merge(other *BoundsAccumulator) {
	if other == nil {
		return
	}
	if other.hasXY {
		acc.ObserveBound(other.xy)
	}
	if other.hasZ {
		acc.extendZ(other.minZ)
		acc.extendZ(other.maxZ)
	}
}

func (acc *BoundsAccumulator) Empty() bool {
	return !acc.hasXY
}

func (acc *BoundsAccumulator) Is3D() bool {
	return acc.hasZ
}

// Bound returns the 2D envelope.  It is only meaningful when the accumulator
// is not empty.
func (acc *BoundsAccumulator) Bound() orb.Bound {
	return acc.xy
}

// Snapshot returns the envelope, or nil if nothing has been observed.
func (acc *BoundsAccumulator) Snapshot() BoundingBox {
	if !acc.hasXY {
		return nil
	}
	if acc.hasZ {
		return BoundingBox{acc.xy.Min[0], acc.xy.Min[1], acc.minZ, acc.xy.Max[0], acc.xy.Max[1], acc.maxZ}
	}
	return BoundingBox{acc.xy.Min[0], acc.xy.Min[1], acc.xy.Max[0], acc.xy.Max[1]}
}

// ColumnStats holds the type inventory and bounds for one geometry column.
type ColumnStats struct {
	Types  *TypeInventory
	Bounds *BoundsAccumulator
}

func NewColumnStats() *ColumnStats {
	return &ColumnStats{
		Types:  &TypeInventory{},
		Bounds: &BoundsAccumulator{},
	}
}

func (s *ColumnStats) Observe(g geom.T) error {
	if g == nil {
		return nil
	}
	if err := s.Types.Observe(g); err != nil {
		return err
	}
	s.Bounds.Observe(g)
	return nil
}

func (s *ColumnStats) Merge(other *ColumnStats) {
	s.Types.Merge(other.Types)
	s.Bounds.Merge(other.Bounds)
}

// DatasetStats tracks stats for a set of named geometry columns.  When created
// as concurrent, the per-column operations are safe to call from multiple
// goroutines.
type DatasetStats struct {
	mutex   *sync.RWMutex
	columns map[string]*ColumnStats
	order   []string
}

func NewDatasetStats(concurrent bool) *DatasetStats {
	var mutex *sync.RWMutex
	if concurrent {
		mutex = &sync.RWMutex{}
	}
	return &DatasetStats{
		mutex:   mutex,
		columns: map[string]*ColumnStats{},
	}
}

func (d *DatasetStats) writeLock() {
	if d.mutex == nil {
		return
	}
	d.mutex.Lock()
}

func (d *DatasetStats) writeUnlock() {
	if d.mutex == nil {
		return
	}
	d.mutex.Unlock()
}

func (d *DatasetStats) readLock() {
	if d.mutex == nil {
		return
	}
	d.mutex.RLock()
}

func (d *DatasetStats) readUnlock() {
	if d.mutex == nil {
		return
	}
	d.mutex.RUnlock()
}

func (d *DatasetStats) NumColumns() int {
	d.readLock()
	defer d.readUnlock()
	return len(d.columns)
}

// Columns returns the column names in the order they were added.
func (d *DatasetStats) Columns() []string {
	d.readLock()
	defer d.readUnlock()
	return append([]string(nil), d.order...)
}

func (d *DatasetStats) AddColumn(name string) {
	d.writeLock()
	defer d.writeUnlock()
	if _, ok := d.columns[name]; ok {
		return
	}
	d.columns[name] = NewColumnStats()
	d.order = append(d.order, name)
}

func (d *DatasetStats) HasColumn(name string) bool {
	d.readLock()
	defer d.readUnlock()
	_, ok := d.columns[name]
	return ok
}

// Column returns the stats for a column or nil if it has not been added.
func (d *DatasetStats) Column(name string) *ColumnStats {
	d.readLock()
	defer d.readUnlock()
	return d.columns[name]
}

// Merge folds the stats for a column into the dataset.
func (d *DatasetStats) Merge(name string, stats *ColumnStats) {
	d.writeLock()
	defer d.writeUnlock()
	existing, ok := d.columns[name]
	if !ok {
		existing = NewColumnStats()
		d.columns[name] = existing
		d.order = append(d.order, name)
	}
	existing.Merge(stats)
}
