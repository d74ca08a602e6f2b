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
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// HttpReader reads a remote file with range requests.  Responses are
// buffered so small sequential reads share a request.
type HttpReader struct {
	rangeReader
	ctx       context.Context
	url       string
	client    *http.Client
	logger    *zap.Logger
	validator string
}

func NewHttpReader(ctx context.Context, url string, opts ...Option) (*HttpReader, error) {
	o := newOptions(opts)
	reader := &HttpReader{
		ctx:    ctx,
		url:    url,
		client: o.client,
		logger: o.logger,
	}
	reader.fetch = reader.fetchRange
	reader.minRequestSize = o.minRequestSize
	if err := reader.init(o.footerRequestSize); err != nil {
		return nil, err
	}
	return reader, nil
}

// init requests the tail of the file, learning its size from the response.
func (r *HttpReader) init(footerRequestSize int64) error {
	r.requests += 1
	resp, data, err := r.get(fmt.Sprintf("bytes=-%d", footerRequestSize), "")
	if err != nil {
		return err
	}

	switch resp.StatusCode {
	case http.StatusPartialContent:
		start, size, err := parseContentRange(resp.Header.Get("Content-Range"))
		if err != nil {
			return fmt.Errorf("invalid content-range header from %s: %w", r.url, err)
		}
		r.size = size
		r.bufferOffset = start
		r.validator = validatorFromResponse(resp)
	case http.StatusRequestedRangeNotSatisfiable:
		_, size, err := parseContentRange(resp.Header.Get("Content-Range"))
		if err != nil {
			return fmt.Errorf("invalid content-range header from %s: %w", r.url, err)
		}
		r.size = size
		data = nil
	default:
		if !success(resp) {
			return fmt.Errorf("unexpected response from %s: %d", r.url, resp.StatusCode)
		}
		r.size = int64(len(data))
	}

	r.buffer = data
	return nil
}

func (r *HttpReader) fetchRange(offset int64, length int64) (int64, []byte, error) {
	resp, data, err := r.get(fmt.Sprintf("bytes=%d-%d", offset, offset+length-1), r.validator)
	if err != nil {
		return 0, nil, err
	}

	switch resp.StatusCode {
	case http.StatusPartialContent:
		start, _, err := parseContentRange(resp.Header.Get("Content-Range"))
		if err != nil {
			return 0, nil, fmt.Errorf("invalid content-range header from %s: %w", r.url, err)
		}
		return start, data, nil
	case http.StatusOK:
		if r.validator != "" {
			return 0, nil, fmt.Errorf("%s changed while reading", r.url)
		}
		return 0, data, nil
	default:
		return 0, nil, fmt.Errorf("unexpected response from %s: %d", r.url, resp.StatusCode)
	}
}

func (r *HttpReader) get(byteRange string, validator string) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(r.ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Range", byteRange)
	if validator != "" {
		req.Header.Set("If-Range", validator)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response from %s: %w", r.url, err)
	}
	r.logger.Debug("range request",
		zap.String("url", r.url),
		zap.String("range", byteRange),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(data)),
	)
	return resp, data, nil
}

// parseContentRange reads the first byte position and the complete length
// from a header like "bytes 200-999/1000" or "bytes */1000".
func parseContentRange(header string) (int64, int64, error) {
	rangeSpec, found := strings.CutPrefix(header, "bytes ")
	if !found {
		return 0, 0, fmt.Errorf("unexpected unit in %q", header)
	}
	positions, length, found := strings.Cut(rangeSpec, "/")
	if !found || length == "*" {
		return 0, 0, fmt.Errorf("missing complete length in %q", header)
	}
	size, err := strconv.ParseInt(length, 10, 64)
	if err != nil {
		return 0, 0, err
	}
	if positions == "*" {
		return 0, size, nil
	}
	first, _, _ := strings.Cut(positions, "-")
	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil {
		return 0, 0, err
	}
	return start, size, nil
}

func success(response *http.Response) bool {
	return response.StatusCode >= http.StatusOK && response.StatusCode < http.StatusMultipleChoices
}

func validatorFromResponse(resp *http.Response) string {
	etag := resp.Header.Get("ETag")
	if etag != "" && etag[0] == '"' {
		return etag
	}

	return resp.Header.Get("Last-Modified")
}

func (r *HttpReader) Close() error {
	r.release()
	r.client.CloseIdleConnections()
	return nil
}
