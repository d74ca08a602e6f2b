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
	"errors"
	"fmt"
)

var (
	ErrNoGeometryColumn  = errors.New("no geometry columns registered")
	ErrClosedWriter      = errors.New("writer is closed")
	ErrNoMetadata        = fmt.Errorf("missing %s metadata key", MetadataKey)
	ErrDuplicateMetadata = fmt.Errorf("found more than one %s metadata key", MetadataKey)
)

// UnsupportedVersionError is returned when parsing metadata with a major
// version that has no handler.
type UnsupportedVersionError struct {
	Version string
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("unsupported %s metadata version %q", MetadataKey, e.Version)
}

// MalformedMetadataError is returned for metadata that does not have the
// expected structure.
type MalformedMetadataError struct {
	Reason string
	Err    error
}

func (e *MalformedMetadataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed %s metadata: %s: %s", MetadataKey, e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed %s metadata: %s", MetadataKey, e.Reason)
}

func (e *MalformedMetadataError) Unwrap() error {
	return e.Err
}
