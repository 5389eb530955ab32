package paths

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveFromListFile(t *testing.T) {
	dir := t.TempDir()
	list := filepath.Join(dir, "videos.txt")
	content := "a.mp4\r\n\n  b.mp4  \n# skipped\nc.mp4"
	require.NoError(t, os.WriteFile(list, []byte(content), 0644))

	got, err := Resolve(Input{FileWithVideoPaths: list})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.mp4", "b.mp4", "c.mp4"}, got)
}

func TestResolveCombinesSourcesAndDropsDuplicates(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.MP4", "a.webm", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.mp4"), 0755))

	list := filepath.Join(t.TempDir(), "list.txt")
	require.NoError(t, os.WriteFile(list, []byte("x.mp4\n"+filepath.Join(dir, "a.webm")+"\n"), 0644))

	got, err := Resolve(Input{
		VideoPaths:         []string{"x.mp4", "y.mp4"},
		FileWithVideoPaths: list,
		VideoDir:           dir,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"x.mp4",
		"y.mp4",
		filepath.Join(dir, "a.webm"),
		filepath.Join(dir, "b.MP4"),
	}, got)
}

func TestResolveEmpty(t *testing.T) {
	list := filepath.Join(t.TempDir(), "empty.txt")
	require.NoError(t, os.WriteFile(list, []byte("\n\n"), 0644))

	_, err := Resolve(Input{FileWithVideoPaths: list})
	assert.True(t, errors.Is(err, ErrNoVideos))
}

func TestResolveMissingListFile(t *testing.T) {
	_, err := Resolve(Input{FileWithVideoPaths: filepath.Join(t.TempDir(), "missing.txt")})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNoVideos))
}

func TestShard(t *testing.T) {
	list := []string{"a", "b", "c", "d", "e"}

	shards := Shard(list, 2)
	assert.Equal(t, [][]string{{"a", "c", "e"}, {"b", "d"}}, shards)

	assert.Equal(t, [][]string{list}, Shard(list, 0))

	shards = Shard([]string{"a"}, 3)
	assert.Len(t, shards, 3)
	assert.Empty(t, shards[2])
}
