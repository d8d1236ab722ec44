// File: cmd/tasks_test.go
package cmd

import (
	"path/filepath"
	"testing"

	"github.com/mitchellh/go-homedir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadTasks(t *testing.T) {
	t.Run("array with generated ids", func(t *testing.T) {
		path := writeFile(t, "tasks.json", `[
			{"target_url": "https://a.example.com"},
			{"id": "fixed", "target_url": "https://b.example.com", "profile": {"email": "ada@example.com"}}
		]`)
		tasks, err := loadTasks(path)
		require.NoError(t, err)
		require.Len(t, tasks, 2)
		assert.NotEmpty(t, tasks[0].ID)
		assert.Equal(t, "fixed", tasks[1].ID)
		assert.Equal(t, "ada@example.com", tasks[1].Profile.Email)
		assert.False(t, tasks[0].CreatedAt.IsZero())
	})

	t.Run("single object", func(t *testing.T) {
		path := writeFile(t, "task.json", `  {"id": "one", "target_url": "https://a.example.com"}`)
		tasks, err := loadTasks(path)
		require.NoError(t, err)
		require.Len(t, tasks, 1)
		assert.Equal(t, "one", tasks[0].ID)
	})

	t.Run("expands home in file paths", func(t *testing.T) {
		home := t.TempDir()
		t.Setenv("HOME", home)
		homedir.DisableCache = true
		t.Cleanup(func() { homedir.DisableCache = false })
		path := writeFile(t, "task.json", `{"target_url": "https://a.example.com", "profile": {"files": {"resume": "~/cv.pdf"}}}`)
		tasks, err := loadTasks(path)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(home, "cv.pdf"), tasks[0].Profile.Files["resume"])
	})

	errorCases := map[string]string{
		"missing target": `[{"id": "x"}]`,
		"duplicate ids":  `[{"id": "x", "target_url": "https://a"}, {"id": "x", "target_url": "https://b"}]`,
		"invalid json":   `[{"id": }]`,
		"empty array":    `[]`,
		"empty file":     ``,
	}
	for name, content := range errorCases {
		t.Run(name, func(t *testing.T) {
			_, err := loadTasks(writeFile(t, "tasks.json", content))
			assert.Error(t, err)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, err := loadTasks(filepath.Join(t.TempDir(), "nope.json"))
		assert.Error(t, err)
	})
}
