package scheduler

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// newArtifactID derives a unique artifact id from a task id (§4.E "id
// allocation"), so concurrent workers never collide on the same
// agent://<id> output-sink file even when two batches reuse a task id.
func newArtifactID(taskID string) string {
	slug := strings.ToLower(strings.TrimSpace(taskID))
	slug = strings.ReplaceAll(slug, " ", "-")
	if slug == "" {
		slug = "task"
	}
	return fmt.Sprintf("%s-%s", slug, uuid.NewString())
}
