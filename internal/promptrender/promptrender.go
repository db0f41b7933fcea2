// Package promptrender renders a Task Item's prompt from the per-batch
// context template (§3). Deliberately minimal: prompt template
// authoring is out of scope here, this just wraps text/template the
// way the teacher's service.PromptRenderer does for its own
// phase-specific templates.
package promptrender

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/theerud/taskcore/internal/core"
)

// Renderer implements core.PromptRenderer by parsing the context
// template fresh on every call. Templates are short and rendered once
// per task, so there is no benefit to caching a parsed *template.Template
// across calls the way the teacher caches its embedded phase templates.
type Renderer struct{}

// New returns a ready-to-use Renderer.
func New() *Renderer {
	return &Renderer{}
}

// Render implements core.PromptRenderer. The template sees the task as
// {{.ID}}, {{.Description}}, {{.Task}}, {{.Args}}.
func (Renderer) Render(contextTemplate string, task core.TaskItem) (string, error) {
	if strings.TrimSpace(contextTemplate) == "" {
		return task.Task, nil
	}

	tmpl, err := template.New("task").Funcs(templateFuncs()).Parse(contextTemplate)
	if err != nil {
		return "", fmt.Errorf("parsing context template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, task); err != nil {
		return "", fmt.Errorf("rendering context template: %w", err)
	}
	return buf.String(), nil
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"upper":     strings.ToUpper,
		"lower":     strings.ToLower,
		"trimSpace": strings.TrimSpace,
	}
}
