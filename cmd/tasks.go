// File: cmd/tasks.go
package cmd

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"

	"github.com/xkilldash9x/autoapply/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// loadTasks reads a JSON file holding either one task or an array of tasks.
// Missing ids are generated and profile file paths are expanded.
func loadTasks(path string) ([]schemas.ApplicationTask, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tasks file: %w", err)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("tasks file %s is empty", path)
	}

	var tasks []schemas.ApplicationTask
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &tasks); err != nil {
			return nil, fmt.Errorf("failed to parse tasks file: %w", err)
		}
	} else {
		var task schemas.ApplicationTask
		if err := json.Unmarshal(raw, &task); err != nil {
			return nil, fmt.Errorf("failed to parse tasks file: %w", err)
		}
		tasks = append(tasks, task)
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("tasks file %s contains no tasks", path)
	}

	now := time.Now().UTC()
	seen := make(map[string]bool, len(tasks))
	for i := range tasks {
		t := &tasks[i]
		if t.TargetURL == "" {
			return nil, fmt.Errorf("task %d: target_url is required", i+1)
		}
		if t.ID == "" {
			t.ID = uuid.New().String()
		}
		if seen[t.ID] {
			return nil, fmt.Errorf("task %d: duplicate id %q", i+1, t.ID)
		}
		seen[t.ID] = true
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		for name, p := range t.Profile.Files {
			expanded, err := homedir.Expand(p)
			if err != nil {
				return nil, fmt.Errorf("task %s: invalid path for %s: %w", t.ID, name, err)
			}
			t.Profile.Files[name] = expanded
		}
	}
	return tasks, nil
}
