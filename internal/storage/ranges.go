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
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"
)

const (
	defaultFooterRequestSize = 64 * 1024
	defaultMinRequestSize    = 1024
)

type options struct {
	client            *http.Client
	logger            *zap.Logger
	footerRequestSize int64
	minRequestSize    int64
}

// Option configures a remote reader.
type Option func(*options)

func WithHttpClient(client *http.Client) Option {
	return func(o *options) {
		o.client = client
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithRequestSizes sets the size of the request made for the tail of the file
// when it is opened and the minimum size of later requests.
func WithRequestSizes(footer int64, minimum int64) Option {
	return func(o *options) {
		o.footerRequestSize = footer
		o.minRequestSize = minimum
	}
}

func newOptions(opts []Option) *options {
	o := &options{
		client:            &http.Client{},
		logger:            zap.NewNop(),
		footerRequestSize: defaultFooterRequestSize,
		minRequestSize:    defaultMinRequestSize,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// fetchFunc returns bytes starting at the offset of the first byte it
// returns.  It may return fewer or more bytes than requested.
type fetchFunc func(offset int64, length int64) (int64, []byte, error)

// rangeReader serves reads from a buffered window of a remote object and
// fetches a new window when a read falls outside of it.
type rangeReader struct {
	fetch          fetchFunc
	minRequestSize int64

	offset       int64
	size         int64
	buffer       []byte
	bufferOffset int64
	requests     int
}

func (r *rangeReader) Size() int64 {
	return r.size
}

// Requests returns the number of requests made so far.
func (r *rangeReader) Requests() int {
	return r.requests
}

func (r *rangeReader) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekCurrent:
		offset = r.offset + offset
	case io.SeekEnd:
		offset = r.size + offset
	}

	if offset < 0 {
		return 0, fmt.Errorf("attempt to seek to a negative offset: %d", offset)
	}
	r.offset = offset
	return offset, nil
}

func (r *rangeReader) ReadAt(data []byte, offset int64) (int, error) {
	if _, err := r.Seek(offset, io.SeekStart); err != nil {
		return 0, err
	}

	total := 0
	for total < len(data) {
		n, err := r.Read(data[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (r *rangeReader) Read(data []byte) (int, error) {
	if r.offset >= r.size {
		return 0, io.EOF
	}
	if len(data) == 0 {
		return 0, nil
	}
	if !r.buffered() {
		if err := r.request(r.offset, int64(len(data))); err != nil {
			return 0, err
		}
		if !r.buffered() {
			return 0, io.ErrUnexpectedEOF
		}
	}
	n := copy(data, r.buffer[r.offset-r.bufferOffset:])
	r.offset += int64(n)
	return n, nil
}

func (r *rangeReader) buffered() bool {
	return r.offset >= r.bufferOffset && r.offset < r.bufferOffset+int64(len(r.buffer))
}

// prefetchTail buffers the end of the object, where parquet readers start.
func (r *rangeReader) prefetchTail(length int64) error {
	if r.size == 0 || length <= 0 {
		return nil
	}
	return r.request(max(0, r.size-length), length)
}

func (r *rangeReader) request(offset int64, length int64) error {
	length = max(length, r.minRequestSize)
	if offset+length > r.size {
		length = r.size - offset
	}

	r.requests += 1
	start, data, err := r.fetch(offset, length)
	if err != nil {
		return err
	}
	r.buffer = data
	r.bufferOffset = start
	return nil
}

func (r *rangeReader) release() {
	r.buffer = nil
}
