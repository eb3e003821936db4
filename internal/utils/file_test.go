package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsImageFile(t *testing.T) {
	assert.True(t, IsImageFile("a/b/screen.PNG"))
	assert.True(t, IsImageFile("shot.webp"))
	assert.False(t, IsImageFile("dataset.json"))
	assert.False(t, IsImageFile("noext"))
}

func TestResolveImagePath(t *testing.T) {
	assert.Equal(t, filepath.Join("data", "image", "1.png"), ResolveImagePath("data", "image", "1.png"))

	abs := filepath.Join(string(filepath.Separator), "tmp", "x.png")
	assert.Equal(t, abs, ResolveImagePath("data", "image", abs))
}

func TestGenerateOutputFilename(t *testing.T) {
	got := GenerateOutputFilename("image/home.jpg", "debug", "q7_", "_overlay", "png")
	assert.Equal(t, filepath.Join("debug", "q7_home_overlay.png"), got)

	got = GenerateOutputFilename("image/home", "out", "", "", "")
	assert.Equal(t, filepath.Join("out", "home.jpg"), got)
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "a_b_c", SanitizeFilename(" a/b:c. "))
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "nested", "out.json")

	require.NoError(t, WriteFileAtomic(target, []byte("one\n"), 0o644))
	require.NoError(t, WriteFileAtomic(target, []byte("two\n"), 0o644))

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "two\n", string(data))
	assert.True(t, FileExists(target))
	assert.True(t, DirExists(filepath.Dir(target)))

	entries, err := os.ReadDir(filepath.Dir(target))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}
