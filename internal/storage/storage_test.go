package storage

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testRoot = "/uploads"
	testTemp = "/uploads/_tmp"
)

func newTestStore(t *testing.T) (*Store, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	store := NewStore(fs, testRoot, testTemp)
	require.NoError(t, store.Init())
	return store, fs
}

func stage(t *testing.T, store *Store, name, content string) StagedFile {
	t.Helper()
	staged, err := store.Stage(strings.NewReader(content), name, 1<<20)
	require.NoError(t, err)
	return staged
}

func tempEntries(t *testing.T, fs afero.Fs) int {
	t.Helper()
	entries, err := afero.ReadDir(fs, testTemp)
	require.NoError(t, err)
	return len(entries)
}

func TestSanitizeName(t *testing.T) {
	tests := map[string]string{
		"photo.png":        "photo.png",
		"my photo (1).jpg": "my_photo__1_.jpg",
		"../../etc/passwd": ".._.._etc_passwd",
		"картинка.webp":    "________.webp",
		"":                 "file",
		".":                "file",
		"..":               "file",
		"a_b-c.d":          "a_b-c.d",
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizeName(in), "SanitizeName(%q)", in)
	}
}

func TestValidSessionID(t *testing.T) {
	assert.True(t, ValidSessionID(NewSessionID()))
	assert.True(t, ValidSessionID("abc123"))
	assert.False(t, ValidSessionID(""))
	assert.False(t, ValidSessionID("_tmp"))
	assert.False(t, ValidSessionID("../x"))
	assert.False(t, ValidSessionID("a/b"))
	assert.False(t, ValidSessionID(".."))
}

func TestUniqueName(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/d", 0o755))

	name, err := UniqueName(fs, "/d", "a.png")
	require.NoError(t, err)
	assert.Equal(t, "a.png", name)

	require.NoError(t, afero.WriteFile(fs, "/d/a.png", nil, 0o644))
	require.NoError(t, afero.WriteFile(fs, "/d/a-1.png", nil, 0o644))

	name, err = UniqueName(fs, "/d", "a.png")
	require.NoError(t, err)
	assert.Equal(t, "a-2.png", name)

	require.NoError(t, afero.WriteFile(fs, "/d/noext", nil, 0o644))
	name, err = UniqueName(fs, "/d", "noext")
	require.NoError(t, err)
	assert.Equal(t, "noext-1", name)

	require.NoError(t, afero.WriteFile(fs, "/d/.bashrc", nil, 0o644))
	name, err = UniqueName(fs, "/d", ".bashrc")
	require.NoError(t, err)
	assert.Equal(t, ".bashrc-1", name)

	require.NoError(t, afero.WriteFile(fs, "/d/.config.yaml", nil, 0o644))
	name, err = UniqueName(fs, "/d", ".config.yaml")
	require.NoError(t, err)
	assert.Equal(t, ".config-1.yaml", name)
}

func TestStage(t *testing.T) {
	store, fs := newTestStore(t)

	staged := stage(t, store, "report.txt", "hello")

	assert.Equal(t, testTemp, filepath.Dir(staged.Path))
	assert.Equal(t, ".txt", filepath.Ext(staged.Path))
	assert.EqualValues(t, 5, staged.Size)
	assert.Equal(t, "report.txt", staged.OriginalName)
	assert.True(t, strings.HasPrefix(staged.ContentType, "text/plain"))

	sum := sha256.Sum256([]byte("hello"))
	assert.Equal(t, hex.EncodeToString(sum[:]), staged.SHA256)

	data, err := afero.ReadFile(fs, staged.Path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestStageRecreatesMissingTempDir(t *testing.T) {
	root := t.TempDir()
	temp := filepath.Join(root, "_tmp")
	store := NewStore(afero.NewOsFs(), root, temp)
	require.NoError(t, store.Init())
	require.NoError(t, os.RemoveAll(temp))

	staged := stage(t, store, "a.txt", "hello")
	assert.Equal(t, temp, filepath.Dir(staged.Path))
	assert.FileExists(t, staged.Path)
}

func TestStageDistinctTempNames(t *testing.T) {
	store, fs := newTestStore(t)

	a := stage(t, store, "same.png", "a")
	b := stage(t, store, "same.png", "b")

	assert.NotEqual(t, a.Path, b.Path)
	assert.Equal(t, 2, tempEntries(t, fs))
}

func TestStageTooLarge(t *testing.T) {
	store, fs := newTestStore(t)

	_, err := store.Stage(bytes.NewReader(make([]byte, 11)), "big.bin", 10)
	assert.ErrorIs(t, err, ErrFileTooLarge)
	assert.Zero(t, tempEntries(t, fs))

	staged, err := store.Stage(bytes.NewReader(make([]byte, 10)), "exact.bin", 10)
	require.NoError(t, err)
	assert.EqualValues(t, 10, staged.Size)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestStageReadError(t *testing.T) {
	store, fs := newTestStore(t)

	_, err := store.Stage(failingReader{}, "x.png", 10)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrFileTooLarge)
	assert.ErrorIs(t, err, ErrReadFailed)
	assert.Zero(t, tempEntries(t, fs))
}

func TestDiscard(t *testing.T) {
	store, fs := newTestStore(t)

	files := []StagedFile{stage(t, store, "a.txt", "a"), stage(t, store, "b.txt", "b")}
	store.Discard(files)
	assert.Zero(t, tempEntries(t, fs))

	// Уже удаленные файлы пропускаются
	store.Discard(files)
}

func TestCommit(t *testing.T) {
	store, fs := newTestStore(t)
	sessionID := NewSessionID()

	files := []StagedFile{
		stage(t, store, "dup name.png", "first"),
		stage(t, store, "dup name.png", "second"),
		stage(t, store, "../escape.txt", "third"),
	}

	stored, err := store.Commit(sessionID, files)
	require.NoError(t, err)
	require.Len(t, stored, 3)

	assert.Equal(t, "dup_name.png", stored[0].Name)
	assert.Equal(t, "dup_name-1.png", stored[1].Name)
	assert.Equal(t, "escape.txt", stored[2].Name)
	assert.Zero(t, tempEntries(t, fs))

	for i, want := range []string{"first", "second", "third"} {
		data, err := afero.ReadFile(fs, filepath.Join(testRoot, sessionID, stored[i].Name))
		require.NoError(t, err)
		assert.Equal(t, want, string(data))
	}
}

func TestCommitIntoExistingSession(t *testing.T) {
	store, _ := newTestStore(t)
	sessionID := NewSessionID()

	_, err := store.Commit(sessionID, []StagedFile{stage(t, store, "a.txt", "1")})
	require.NoError(t, err)
	stored, err := store.Commit(sessionID, []StagedFile{stage(t, store, "a.txt", "2")})
	require.NoError(t, err)
	assert.Equal(t, "a-1.txt", stored[0].Name)

	files, err := store.SessionFiles(sessionID)
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestCommitRejectsInvalidSession(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.Commit("../evil", []StagedFile{stage(t, store, "a.txt", "1")})
	assert.Error(t, err)
}

func TestCommitMissingStagedFile(t *testing.T) {
	store, _ := newTestStore(t)

	good := stage(t, store, "a.txt", "1")
	missing := StagedFile{Path: filepath.Join(testTemp, "gone.txt"), OriginalName: "b.txt"}

	stored, err := store.Commit(NewSessionID(), []StagedFile{good, missing})
	require.Error(t, err)
	assert.Len(t, stored, 1)
	assert.Equal(t, "a.txt", stored[0].Name)
}

func TestOpen(t *testing.T) {
	store, _ := newTestStore(t)
	sessionID := NewSessionID()
	stored, err := store.Commit(sessionID, []StagedFile{stage(t, store, "a.txt", "content")})
	require.NoError(t, err)

	f, info, err := store.Open(sessionID, stored[0].Name)
	require.NoError(t, err)
	defer f.Close()
	assert.EqualValues(t, 7, info.Size())

	_, _, err = store.Open(sessionID, "missing.txt")
	assert.ErrorIs(t, err, ErrFileNotFound)

	_, _, err = store.Open("unknown", "a.txt")
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestOpenRejectsTraversal(t *testing.T) {
	store, fs := newTestStore(t)
	require.NoError(t, afero.WriteFile(fs, "/secret.txt", []byte("x"), 0o644))
	require.NoError(t, afero.WriteFile(fs, filepath.Join(testTemp, "staged.txt"), []byte("x"), 0o644))
	sessionID := NewSessionID()
	_, err := store.Commit(sessionID, []StagedFile{stage(t, store, "a.txt", "1")})
	require.NoError(t, err)

	for _, name := range []string{"../../secret.txt", "..", ".", "", "sub/a.txt"} {
		_, _, err := store.Open(sessionID, name)
		assert.ErrorIs(t, err, ErrFileNotFound, "name %q", name)
	}

	_, _, err = store.Open("_tmp", "staged.txt")
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestSessionFiles(t *testing.T) {
	store, fs := newTestStore(t)

	_, err := store.SessionFiles(NewSessionID())
	assert.ErrorIs(t, err, ErrSessionNotFound)

	sessionID := NewSessionID()
	_, err = store.Commit(sessionID, []StagedFile{stage(t, store, "b.txt", "b"), stage(t, store, "a.txt", "a")})
	require.NoError(t, err)
	require.NoError(t, fs.MkdirAll(filepath.Join(testRoot, sessionID, "nested"), 0o755))

	files, err := store.SessionFiles(sessionID)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "a.txt", files[0].Name())
	assert.Equal(t, "b.txt", files[1].Name())
}

func TestSessionsSkipsReservedEntries(t *testing.T) {
	store, _ := newTestStore(t)
	sessionID := NewSessionID()
	_, err := store.Commit(sessionID, []StagedFile{stage(t, store, "a.txt", "a")})
	require.NoError(t, err)

	sessions, err := store.Sessions()
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, sessionID, sessions[0].Name())
}

func TestSessionsMissingRoot(t *testing.T) {
	store := NewStore(afero.NewMemMapFs(), "/nowhere", "/nowhere/_tmp")
	sessions, err := store.Sessions()
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestRemoveSession(t *testing.T) {
	store, fs := newTestStore(t)
	sessionID := NewSessionID()
	_, err := store.Commit(sessionID, []StagedFile{stage(t, store, "a.txt", "a")})
	require.NoError(t, err)

	require.NoError(t, store.RemoveSession(sessionID))
	exists, err := afero.DirExists(fs, filepath.Join(testRoot, sessionID))
	require.NoError(t, err)
	assert.False(t, exists)

	assert.Error(t, store.RemoveSession(".."))
	assert.Error(t, store.RemoveSession("a/b"))
}
