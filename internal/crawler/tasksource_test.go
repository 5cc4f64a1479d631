package crawler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeURLFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "urls.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadTasksSkipsBlanksAndJunk(t *testing.T) {
	path := writeURLFile(t, `
https://a.test/1

not a parseable url
https://b.test/1
	https://c.test/1
`)
	tasks, err := LoadTasks(path, 0, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	require.Equal(t, "a.test", tasks[0].Domain)
	require.Equal(t, "c.test", tasks[2].Domain)
}

func TestLoadTasksHonorsLimit(t *testing.T) {
	path := writeURLFile(t, "https://a.test/1\nhttps://a.test/2\nhttps://a.test/3\n")
	tasks, err := LoadTasks(path, 2, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	require.Equal(t, "https://a.test/2", tasks[1].URL)
}

func TestLoadTasksMissingFile(t *testing.T) {
	_, err := LoadTasks(filepath.Join(t.TempDir(), "absent.txt"), 0, zap.NewNop())
	require.Error(t, err)
}
