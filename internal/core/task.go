package core

import (
	"fmt"
	"strings"
)

// TaskItem is one unit of work within a TaskBatch (§3).
type TaskItem struct {
	ID          string
	Description string
	Task        string
	Args        map[string]any
}

// TaskBatch is the Scheduler's input: an agent, a prompt template
// rendered once per task, the task list itself, and isolation options.
type TaskBatch struct {
	Agent         string
	Context       string
	Tasks         []TaskItem
	Isolated      bool
	Schema        *JSONSchema
	ModelOverride string
}

// ValidateTasks checks the Task Item invariants from §3: every id must be
// non-empty, and no two ids may collide case-insensitively. It returns a
// single DomainError naming every offending id so the caller can reject
// the whole batch atomically, matching S6 in the testable properties.
func ValidateTasks(tasks []TaskItem) error {
	seen := make(map[string]string) // lowercase id -> first original id
	var duplicates []string
	var empties int

	for _, t := range tasks {
		if strings.TrimSpace(t.ID) == "" {
			empties++
			continue
		}
		key := strings.ToLower(t.ID)
		if first, ok := seen[key]; ok {
			duplicates = append(duplicates, fmt.Sprintf("%q/%q", first, t.ID))
		} else {
			seen[key] = t.ID
		}
	}

	if empties > 0 {
		return ErrValidation(CodeTaskIDRequired, fmt.Sprintf("%d task(s) have an empty id", empties))
	}
	if len(duplicates) > 0 {
		return ErrValidation(CodeDuplicateTaskID,
			fmt.Sprintf("Duplicate task ids detected (case-insensitive): %s", strings.Join(duplicates, ", ")))
	}
	return nil
}

// TaskStatus is the lifecycle state of one task's Progress Record (§3).
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusAborted   TaskStatus = "aborted"
)
