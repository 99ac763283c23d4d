package storage

import (
	"archive/zip"
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZipName(t *testing.T) {
	assert.Equal(t, "design-tools-abc.zip", ZipName("abc"))
}

func TestWriteZip(t *testing.T) {
	store, _ := newTestStore(t)
	sessionID := NewSessionID()

	payload := strings.Repeat("compressible ", 1000)
	_, err := store.Commit(sessionID, []StagedFile{
		stage(t, store, "b.txt", payload),
		stage(t, store, "a.txt", "alpha"),
		stage(t, store, "a.txt", "alpha again"),
	})
	require.NoError(t, err)

	files, err := store.SessionFiles(sessionID)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, store.WriteZip(&buf, sessionID, files))
	assert.Less(t, buf.Len(), len(payload))

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)

	got := map[string]string{}
	for _, f := range zr.File {
		assert.Equal(t, zip.Deflate, f.Method)
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		got[f.Name] = string(data)
	}

	assert.Equal(t, map[string]string{
		"a.txt":   "alpha",
		"a-1.txt": "alpha again",
		"b.txt":   payload,
	}, got)
}

func TestWriteZipEmptySession(t *testing.T) {
	store, _ := newTestStore(t)

	var buf bytes.Buffer
	require.NoError(t, store.WriteZip(&buf, NewSessionID(), nil))

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	assert.Empty(t, zr.File)
}
