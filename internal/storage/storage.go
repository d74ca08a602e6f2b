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

package storage

import (
	"context"
	"errors"
	"io"
	"net/url"
	"os"
	"strings"
)

type ReaderAtSeeker interface {
	io.Reader
	io.ReaderAt
	io.Seeker
}

// Reader is a closable source for parquet input.
type Reader interface {
	ReaderAtSeeker
	io.Closer
}

// scheme returns the lower case URL scheme of a name, or an empty string for
// local paths.  Windows drive letters are not treated as schemes.
func scheme(name string) string {
	if !strings.Contains(name, "://") {
		return ""
	}
	u, err := url.Parse(name)
	if err != nil || len(u.Scheme) < 2 {
		return ""
	}
	return strings.ToLower(u.Scheme)
}

// NewReader opens a local path, an http(s) URL, or a bucket URL
// (s3://, gs://, azblob://, file://).  The options apply to remote readers.
func NewReader(ctx context.Context, name string, opts ...Option) (Reader, error) {
	if name == "" {
		return nil, errors.New("missing input name")
	}
	switch scheme(name) {
	case "":
		return os.Open(name)
	case "http", "https":
		return NewHttpReader(ctx, name, opts...)
	default:
		return NewBlobReader(ctx, name, opts...)
	}
}

// Writer is an output that can be abandoned.  After Abort a local file is
// removed and a bucket object is not committed.
type Writer interface {
	io.WriteCloser
	Abort() error
}

// FileWriter writes a local file.
type FileWriter struct {
	*os.File
}

// Abort closes and removes the file.
func (f *FileWriter) Abort() error {
	closeErr := f.Close()
	if err := os.Remove(f.Name()); err != nil {
		return err
	}
	return closeErr
}

// NewWriter creates a local file or a bucket object.  Data written to a
// bucket object is committed on Close.
func NewWriter(ctx context.Context, name string) (Writer, error) {
	if name == "" {
		return nil, errors.New("missing output name")
	}
	switch scheme(name) {
	case "":
		f, err := os.Create(name)
		if err != nil {
			return nil, err
		}
		return &FileWriter{f}, nil
	case "http", "https":
		return nil, errors.New("writing to http URLs is not supported")
	default:
		return NewBlobWriter(ctx, name)
	}
}
