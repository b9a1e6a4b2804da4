//go:build linux

package procmaps

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMaps = `5581a8e00000-5581a8e02000 r--p 00000000 fd:01 1053410                    /usr/bin/cat
5581a8e02000-5581a8e07000 r-xp 00002000 fd:01 1053410                    /usr/bin/cat
5581aa0c2000-5581aa0e3000 rw-p 00000000 00:00 0                          [heap]
7f3c1c200000-7f3c1c228000 r--p 00000000 fd:01 1050729                    /usr/lib/x86_64-linux-gnu/libc.so.6
7f3c1c228000-7f3c1c3bd000 r-xp 00028000 fd:01 1050729                    /usr/lib/x86_64-linux-gnu/libc.so.6
7f3c1c415000-7f3c1c417000 rw-p 00214000 fd:01 1050729                    /usr/lib/x86_64-linux-gnu/libc.so.6
7ffd6e4a1000-7ffd6e4c2000 rw-p 00000000 00:00 0                          [stack]
`

func testFS(t *testing.T) string {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "42"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "42", "maps"), []byte(testMaps), 0o644))
	return root
}

func TestFromFS(t *testing.T) {
	maps, err := FromFS(testFS(t), 42)
	require.NoError(t, err)
	require.Len(t, maps, 7)

	text := maps[1]
	assert.Equal(t, uintptr(0x5581a8e02000), text.Start)
	assert.Equal(t, uintptr(0x5000), text.Size())
	assert.Equal(t, int64(0x2000), text.Offset)
	assert.True(t, text.Read)
	assert.False(t, text.Write)
	assert.True(t, text.Exec)
	assert.True(t, text.Private)
	assert.Equal(t, "/usr/bin/cat", text.Path)
}

func TestByName(t *testing.T) {
	maps, err := FromFS(testFS(t), 42)
	require.NoError(t, err)

	assert.Len(t, maps.ByName("libc.so"), 3)
	assert.Len(t, maps.ByName("[heap]"), 1)
	assert.Empty(t, maps.ByName("libm.so"))
}

func TestLibraryBase(t *testing.T) {
	maps, err := FromFS(testFS(t), 42)
	require.NoError(t, err)

	m, err := maps.LibraryBase("libc.so.6")
	require.NoError(t, err)
	assert.Equal(t, uintptr(0x7f3c1c200000), m.Start)

	_, err = maps.LibraryBase("libc.so")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestFind(t *testing.T) {
	maps, err := FromFS(testFS(t), 42)
	require.NoError(t, err)

	m, err := maps.Find(0x7f3c1c230000)
	require.NoError(t, err)
	assert.True(t, m.Exec)

	_, err = maps.Find(0x1000)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSelf(t *testing.T) {
	maps, err := Self()
	require.NoError(t, err)
	assert.NotEmpty(t, maps.ByName("[stack]"))
}
