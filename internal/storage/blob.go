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
	"strings"

	"go.uber.org/zap"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/azureblob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"
)

// splitBlobName splits <scheme>://<bucket>/<key> into a bucket URL and key.
// For file:// names the bucket is the parent directory.
func splitBlobName(name string) (string, string, error) {
	parts := strings.Split(name, "/")
	if len(parts) < 4 || parts[len(parts)-1] == "" {
		return "", "", fmt.Errorf("expected a name in the form <scheme>://<bucket>/<key>, got %q", name)
	}
	if parts[0] == "file:" {
		return strings.Join(parts[:len(parts)-1], "/"), parts[len(parts)-1], nil
	}
	return strings.Join(parts[:3], "/"), strings.Join(parts[3:], "/"), nil
}

func openBucket(ctx context.Context, name string) (*blob.Bucket, string, error) {
	bucketName, key, err := splitBlobName(name)
	if err != nil {
		return nil, "", err
	}
	bucket, err := blob.OpenBucket(ctx, bucketName)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open bucket %s: %w", bucketName, err)
	}
	return bucket, key, nil
}

func closeBucket(bucket *blob.Bucket) error {
	if err := bucket.Close(); err != nil {
		if gcerrors.Code(err) == gcerrors.FailedPrecondition {
			// already closed
			return nil
		}
		return err
	}
	return nil
}

// BlobReader reads an object with range requests.  The tail of the object
// is buffered when it is opened.
type BlobReader struct {
	rangeReader
	ctx    context.Context
	bucket *blob.Bucket
	key    string
	logger *zap.Logger
}

func NewBlobReader(ctx context.Context, name string, opts ...Option) (*BlobReader, error) {
	bucket, key, err := openBucket(ctx, name)
	if err != nil {
		return nil, err
	}

	attrs, err := bucket.Attributes(ctx, key)
	if err != nil {
		_ = bucket.Close()
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("%s not found: %w", name, err)
		}
		return nil, fmt.Errorf("failed to get attributes for %s: %w", name, err)
	}

	o := newOptions(opts)
	reader := &BlobReader{
		ctx:    ctx,
		bucket: bucket,
		key:    key,
		logger: o.logger,
	}
	reader.fetch = reader.fetchRange
	reader.minRequestSize = o.minRequestSize
	reader.size = attrs.Size

	if err := reader.prefetchTail(o.footerRequestSize); err != nil {
		_ = bucket.Close()
		return nil, err
	}
	return reader, nil
}

func (r *BlobReader) fetchRange(offset int64, length int64) (int64, []byte, error) {
	rangeReader, err := r.bucket.NewRangeReader(r.ctx, r.key, offset, length, nil)
	if err != nil {
		return 0, nil, err
	}
	defer rangeReader.Close()

	data, err := io.ReadAll(rangeReader)
	if err != nil {
		return 0, nil, err
	}
	r.logger.Debug("range read",
		zap.String("key", r.key),
		zap.Int64("offset", offset),
		zap.Int("bytes", len(data)),
	)
	return offset, data, nil
}

func (r *BlobReader) Close() error {
	r.release()
	return closeBucket(r.bucket)
}

// BlobWriter writes an object.  The object is visible after Close.
type BlobWriter struct {
	bucket *blob.Bucket
	writer *blob.Writer
	cancel context.CancelFunc
}

func NewBlobWriter(ctx context.Context, name string) (*BlobWriter, error) {
	bucket, key, err := openBucket(ctx, name)
	if err != nil {
		return nil, err
	}
	writeCtx, cancel := context.WithCancel(ctx)
	writer, err := bucket.NewWriter(writeCtx, key, nil)
	if err != nil {
		cancel()
		_ = bucket.Close()
		return nil, fmt.Errorf("failed to create %s: %w", name, err)
	}
	return &BlobWriter{bucket: bucket, writer: writer, cancel: cancel}, nil
}

func (w *BlobWriter) Write(data []byte) (int, error) {
	return w.writer.Write(data)
}

func (w *BlobWriter) Close() error {
	defer w.cancel()
	writeErr := w.writer.Close()
	bucketErr := closeBucket(w.bucket)
	if writeErr != nil {
		return writeErr
	}
	return bucketErr
}

// Abort cancels the write.  The object is not created or replaced.
func (w *BlobWriter) Abort() error {
	w.cancel()
	_ = w.writer.Close()
	return closeBucket(w.bucket)
}
