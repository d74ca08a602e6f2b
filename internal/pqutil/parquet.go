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

package pqutil

import (
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/parquet"
	pqschema "github.com/apache/arrow-go/v18/parquet/schema"
)

// LookupNode finds a field by name.  A dotted name like "bbox.xmin" walks
// into group fields when no top-level field has that name.
func LookupNode(schema *pqschema.Schema, name string) (pqschema.Node, bool) {
	root := schema.Root()
	if index := root.FieldIndexByName(name); index >= 0 {
		return root.Field(index), true
	}

	var node pqschema.Node = root
	for _, part := range strings.Split(name, ".") {
		group, ok := node.(*pqschema.GroupNode)
		if !ok {
			return nil, false
		}
		index := group.FieldIndexByName(part)
		if index < 0 {
			return nil, false
		}
		node = group.Field(index)
	}
	return node, true
}

func LookupPrimitiveNode(schema *pqschema.Schema, name string) (*pqschema.PrimitiveNode, bool) {
	node, ok := LookupNode(schema, name)
	if !ok {
		return nil, false
	}
	primitive, ok := node.(*pqschema.PrimitiveNode)
	return primitive, ok
}

func LookupGroupNode(schema *pqschema.Schema, name string) (*pqschema.GroupNode, bool) {
	node, ok := LookupNode(schema, name)
	if !ok {
		return nil, false
	}
	group, ok := node.(*pqschema.GroupNode)
	return group, ok
}

// LookupListElementNode returns the element node of a three-level list
// field.
func LookupListElementNode(sc *pqschema.Schema, name string) (*pqschema.PrimitiveNode, bool) {
	node, ok := LookupGroupNode(sc, name)
	if !ok || node.NumFields() != 1 {
		return nil, false
	}
	group, ok := node.Field(0).(*pqschema.GroupNode)
	if !ok || group.NumFields() != 1 {
		return nil, false
	}
	element, ok := group.Field(0).(*pqschema.PrimitiveNode)
	return element, ok
}

// ParquetSchemaString generates a string representation of the schema as documented
// in https://pkg.go.dev/github.com/fraugster/parquet-go/parquetschema
func ParquetSchemaString(schema *pqschema.Schema) string {
	w := &schemaPrinter{}
	return w.String(schema)
}

type schemaPrinter struct {
	builder *strings.Builder
	err     error
}

func (w *schemaPrinter) String(schema *pqschema.Schema) string {
	w.builder = &strings.Builder{}
	w.err = nil
	w.writeSchema(schema)
	if w.err != nil {
		return w.err.Error()
	}
	return w.builder.String()
}

func (w *schemaPrinter) writeLine(str string, level int) {
	if w.err != nil {
		return
	}
	indent := strings.Repeat("  ", level)
	if _, err := w.builder.WriteString(indent + str + "\n"); err != nil {
		w.err = err
	}
}

func (w *schemaPrinter) writeSchema(schema *pqschema.Schema) {
	w.writeLine("message {", 0)
	root := schema.Root()
	for i := 0; i < root.NumFields(); i += 1 {
		w.writeNode(root.Field(i), 1)
	}
	w.writeLine("}", 0)
}

func (w *schemaPrinter) writeNode(node pqschema.Node, level int) {
	switch n := node.(type) {
	case *pqschema.GroupNode:
		w.writeGroupNode(n, level)
	case *pqschema.PrimitiveNode:
		w.writePrimitiveNode(n, level)
	default:
		w.writeLine(fmt.Sprintf("unknown node type: %v", node), level)
	}
}

func (w *schemaPrinter) writeGroupNode(node *pqschema.GroupNode, level int) {
	repetition := node.RepetitionType().String()
	name := node.Name()
	annotation := LogicalOrConvertedAnnotation(node)

	w.writeLine(fmt.Sprintf("%s group %s%s {", repetition, name, annotation), level)
	for i := 0; i < node.NumFields(); i += 1 {
		w.writeNode(node.Field(i), level+1)
	}
	w.writeLine("}", level)
}

func (w *schemaPrinter) writePrimitiveNode(node *pqschema.PrimitiveNode, level int) {
	repetition := node.RepetitionType().String()
	name := node.Name()
	nodeType := physicalTypeString(node.PhysicalType())
	annotation := LogicalOrConvertedAnnotation(node)

	w.writeLine(fmt.Sprintf("%s %s %s%s;", repetition, nodeType, name, annotation), level)
}

func LogicalOrConvertedAnnotation(node pqschema.Node) string {
	logicalType := node.LogicalType()
	convertedType := node.ConvertedType()

	switch t := logicalType.(type) {
	case *pqschema.IntLogicalType:
		return fmt.Sprintf(" (INT (%d, %t))", t.BitWidth(), t.IsSigned())
	case *pqschema.DecimalLogicalType:
		return fmt.Sprintf(" (DECIMAL (%d, %d))", t.Precision(), t.Scale())
	case *pqschema.TimestampLogicalType:
		var unit string
		switch t.TimeUnit() {
		case pqschema.TimeUnitMillis:
			unit = "MILLIS"
		case pqschema.TimeUnitMicros:
			unit = "MICROS"
		case pqschema.TimeUnitNanos:
			unit = "NANOS"
		default:
			unit = "UNKNOWN"
		}
		return fmt.Sprintf(" (TIMESTAMP (%s, %t))", unit, t.IsAdjustedToUTC())
	}

	var annotation string
	_, invalid := logicalType.(pqschema.UnknownLogicalType)
	_, none := logicalType.(pqschema.NoLogicalType)

	if logicalType != nil && !invalid && !none {
		annotation = fmt.Sprintf(" (%s)", strings.ToUpper(logicalType.String()))
	} else if convertedType != pqschema.ConvertedTypes.None {
		annotation = fmt.Sprintf(" (%s)", strings.ToUpper(convertedType.String()))
	}

	return annotation
}

var physicalTypeLookup = map[string]string{
	"byte_array": "binary",
}

func physicalTypeString(physical parquet.Type) string {
	nodeType := strings.ToLower(physical.String())
	if altType, ok := physicalTypeLookup[nodeType]; ok {
		return altType
	}
	if physical == parquet.Types.FixedLenByteArray {
		nodeType += fmt.Sprintf(" (%d)", physical.ByteSize())
	}
	return nodeType
}
