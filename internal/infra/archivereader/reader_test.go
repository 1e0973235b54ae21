package archivereader

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsLikelyImage(t *testing.T) {
	assert.True(t, IsLikelyImage("a.jpg"))
	assert.True(t, IsLikelyImage("A.PNG"))
	assert.False(t, IsLikelyImage("readme.txt"))
}

func drain(t *testing.T, it Iterator) []Entry {
	t.Helper()
	var out []Entry
	for {
		e, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		out = append(out, e)
	}
	require.NoError(t, it.Close())
	return out
}

func TestDirectoryIterator_EnumeratesFilesAndFlagsDummies(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.jpg"), []byte("100 KB of image"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.png"), []byte("200 KB of image"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.txt"), []byte("x"), 0o644))

	it, err := Enumerate(dir, ContainerDirectory)
	require.NoError(t, err)
	entries := drain(t, it)

	require.Len(t, entries, 3)
	likely, dummy := 0, 0
	for _, e := range entries {
		if e.IsLikelyImage {
			likely++
		} else {
			dummy++
		}
	}
	assert.Equal(t, 2, likely)
	assert.Equal(t, 1, dummy)
}

func TestDirectoryIterator_OpenReadsContent(t *testing.T) {
	dir := t.TempDir()
	content := []byte("pretend-jpeg-bytes")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.jpg"), content, 0o644))

	it, err := Enumerate(dir, ContainerDirectory)
	require.NoError(t, err)
	entries := drain(t, it)
	require.Len(t, entries, 1)

	rc, err := entries[0].Open()
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestEnumerate_UnknownContainerType(t *testing.T) {
	_, err := Enumerate("/nonexistent", "bogus")
	assert.Error(t, err)
}

func buildZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
}

func TestZipIterator_UsesHashSeparatorForInnerPath(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "photos.zip")
	buildZip(t, archivePath, map[string]string{
		"a.jpg": "image-bytes",
		"b.txt": "not an image",
	})

	it, err := Enumerate(archivePath, ContainerZip)
	require.NoError(t, err)
	entries := drain(t, it)

	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Contains(t, e.RelativePath, archivePath+"#")
	}
}

func TestZipIterator_CorruptArchiveFails(t *testing.T) {
	dir := t.TempDir()
	badPath := filepath.Join(dir, "broken.zip")
	require.NoError(t, os.WriteFile(badPath, []byte("not a zip file"), 0o644))

	_, err := Enumerate(badPath, ContainerZip)
	assert.Error(t, err)
}
