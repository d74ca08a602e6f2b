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

package storage_test

import (
	"context"
	"crypto/rand"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/planetlabs/geocol/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randBytes(t *testing.T, size int) []byte {
	data := make([]byte, size)
	n, err := rand.Read(data)
	require.NoError(t, err)
	require.Equal(t, n, size)
	return data
}

func TestNewHttpReader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	r, err := storage.NewReader(context.Background(), server.URL)
	require.NoError(t, err)

	reader, ok := r.(*storage.HttpReader)
	require.True(t, ok)

	assert.NoError(t, reader.Close())
}

func TestNewReaderLocalPath(t *testing.T) {
	content := randBytes(t, 100)
	name := createFile(t, content)
	defer removeFile(t, name)

	reader, err := storage.NewReader(context.Background(), name)
	require.NoError(t, err)
	defer reader.Close()

	_, ok := reader.(*os.File)
	assert.True(t, ok)

	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestNewReaderBlob(t *testing.T) {
	content := randBytes(t, 100)
	name := createFile(t, content)
	defer removeFile(t, name)

	reader, err := storage.NewReader(context.Background(), "file://"+name)
	require.NoError(t, err)
	defer reader.Close()

	blobReader, ok := reader.(*storage.BlobReader)
	require.True(t, ok)
	assert.Equal(t, int64(100), blobReader.Size())
}

func TestNewReaderMissing(t *testing.T) {
	_, err := storage.NewReader(context.Background(), "")
	assert.EqualError(t, err, "missing input name")

	_, err = storage.NewReader(context.Background(), "file:///no/such/dir/file.parquet")
	assert.Error(t, err)
}

func TestNewReaderBadBlobName(t *testing.T) {
	_, err := storage.NewReader(context.Background(), "s3://bucket-only")
	assert.ErrorContains(t, err, "expected a name in the form <scheme>://<bucket>/<key>")
}

func TestNewWriterBlob(t *testing.T) {
	dir := t.TempDir()
	content := randBytes(t, 256)

	writer, err := storage.NewWriter(context.Background(), "file://"+filepath.ToSlash(dir)+"/out.bin")
	require.NoError(t, err)
	_, err = writer.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	data, err := os.ReadFile(filepath.Join(dir, "out.bin"))
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestNewWriterLocalPath(t *testing.T) {
	name := filepath.Join(t.TempDir(), "out.bin")

	writer, err := storage.NewWriter(context.Background(), name)
	require.NoError(t, err)
	_, err = writer.Write([]byte("data"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	data, err := os.ReadFile(name)
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))
}

func TestWriterAbort(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"local path": filepath.Join(dir, "local.bin"),
		"blob":       "file://" + filepath.ToSlash(dir) + "/blob.bin",
	}

	for label, name := range cases {
		t.Run(label, func(t *testing.T) {
			writer, err := storage.NewWriter(context.Background(), name)
			require.NoError(t, err)
			_, err = writer.Write(randBytes(t, 1024))
			require.NoError(t, err)
			require.NoError(t, writer.Abort())
		})
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestNewWriterHttp(t *testing.T) {
	_, err := storage.NewWriter(context.Background(), "https://example.com/out.parquet")
	assert.ErrorContains(t, err, "not supported")
}
