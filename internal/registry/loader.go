package registry

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/theerud/taskcore/internal/core"
)

// LoadError records one agent definition file that failed to load. The
// registry never aborts a scan because of one bad file (§4.B): it
// collects these and keeps going.
type LoadError struct {
	Path   string
	Reason string
}

func (e LoadError) Error() string {
	return e.Path + ": " + e.Reason
}

// scanDir loads every *.md file directly under dir as an agent
// definition from the given source tier. Missing directories are not
// an error, since bundled/user/project tiers are all optional.
func scanDir(dir string, source core.AgentSource) ([]*core.AgentDefinition, []LoadError) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil
	}

	var defs []*core.AgentDefinition
	var errs []LoadError

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		def, err := loadFile(path, source)
		if err != nil {
			errs = append(errs, LoadError{Path: path, Reason: err.Error()})
			continue
		}
		defs = append(defs, def)
	}

	return defs, errs
}

// loadFile parses one agent definition file and validates it.
func loadFile(path string, source core.AgentSource) (*core.AgentDefinition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	doc, body, err := parseDocument(string(raw))
	if err != nil {
		return nil, err
	}

	name := doc.Name
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), ".md")
	}

	def := &core.AgentDefinition{
		Name:          name,
		Description:   doc.Description,
		SystemPrompt:  body,
		Model:         doc.Model,
		ThinkingLevel: core.ThinkingLevel(doc.Thinking),
		Tools:         doc.Tools,
		Spawns:        core.SpawnPolicy(doc.Spawns),
		Source:        source,
		Blocking:      doc.Blocking,
		Disabled:      doc.Disabled,
	}
	if doc.OutputSchema != nil {
		schema := core.JSONSchema(doc.OutputSchema)
		def.Output = &schema
	}

	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

// Sources names the three directories a registry scans, in increasing
// precedence order (§4.B: project overrides user overrides bundled).
type Sources struct {
	BundledDir string
	UserDir    string
	ProjectDir string
}

// LoadAll scans every configured source directory and returns the
// merged, disabled-filtered agent set plus every per-file load error
// encountered along the way.
func LoadAll(sources Sources, disabledNames map[string]bool) ([]*core.AgentDefinition, []LoadError) {
	bundled, errs1 := scanDir(sources.BundledDir, core.AgentSourceBundled)
	user, errs2 := scanDir(sources.UserDir, core.AgentSourceUser)
	project, errs3 := scanDir(sources.ProjectDir, core.AgentSourceProject)

	var allErrs []LoadError
	allErrs = append(allErrs, errs1...)
	allErrs = append(allErrs, errs2...)
	allErrs = append(allErrs, errs3...)

	merged := core.MergeAgentSets(disabledNames, bundled, user, project)
	return merged, allErrs
}
