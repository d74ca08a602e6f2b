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

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
)

const DefaultCompression = "zstd"

type WriterOptions struct {
	// Compression codec name.  If empty, the compression of the columns in
	// the input file is kept, or the default is used without an input file.
	Compression    string
	RowGroupLength int
	Allocator      memory.Allocator
}

// NewWriterProperties builds parquet writer properties.  The input file
// reader is optional.
func NewWriterProperties(options *WriterOptions, input *file.Reader) (*parquet.WriterProperties, error) {
	if options == nil {
		options = &WriterOptions{}
	}

	var writerProperties []parquet.WriterProperty
	if options.Compression != "" {
		compression, err := GetCompression(options.Compression)
		if err != nil {
			return nil, err
		}
		writerProperties = append(writerProperties, parquet.WithCompression(compression))
	} else if input != nil && input.NumRowGroups() > 0 {
		// retain existing column compression (from the first row group)
		rowGroupMetadata := input.RowGroup(0).MetaData()
		for colNum := 0; colNum < rowGroupMetadata.NumColumns(); colNum += 1 {
			colChunkMetadata, err := rowGroupMetadata.ColumnChunk(colNum)
			if err != nil {
				return nil, fmt.Errorf("failed to get column chunk metadata for column %d", colNum)
			}
			compression := colChunkMetadata.Compression()
			if compression != compress.Codecs.Uncompressed {
				writerProperties = append(writerProperties, parquet.WithCompressionPath(colChunkMetadata.PathInSchema(), compression))
			}
		}
	} else {
		compression, _ := GetCompression(DefaultCompression)
		writerProperties = append(writerProperties, parquet.WithCompression(compression))
	}

	if options.RowGroupLength > 0 {
		writerProperties = append(writerProperties, parquet.WithMaxRowGroupLength(int64(options.RowGroupLength)))
	}
	if options.Allocator != nil {
		writerProperties = append(writerProperties, parquet.WithAllocator(options.Allocator))
	}

	return parquet.NewWriterProperties(writerProperties...), nil
}

// NewArrowWriterProperties stores the arrow schema in the file so field
// metadata survives a round trip.
func NewArrowWriterProperties() *pqarrow.ArrowWriterProperties {
	props := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())
	return &props
}
