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
	"sort"
	"strings"

	"github.com/apache/arrow-go/v18/parquet/compress"
)

var compressionCodecs = map[string]compress.Compression{
	"uncompressed": compress.Codecs.Uncompressed,
	"snappy":       compress.Codecs.Snappy,
	"gzip":         compress.Codecs.Gzip,
	"brotli":       compress.Codecs.Brotli,
	"zstd":         compress.Codecs.Zstd,
	"lz4":          compress.Codecs.Lz4Raw,
}

// CompressionNames lists the accepted codec names.
func CompressionNames() []string {
	names := make([]string, 0, len(compressionCodecs))
	for name := range compressionCodecs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func GetCompression(codec string) (compress.Compression, error) {
	compression, ok := compressionCodecs[strings.ToLower(codec)]
	if !ok {
		return compress.Codecs.Uncompressed, fmt.Errorf("invalid compression codec %s", codec)
	}
	return compression, nil
}
