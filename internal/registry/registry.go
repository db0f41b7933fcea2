// Package registry loads, merges, and hot-reloads agent definitions
// from the bundled, user, and project source tiers (§4.B).
package registry

import (
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sahilm/fuzzy"

	"github.com/theerud/taskcore/internal/core"
	"github.com/theerud/taskcore/internal/logging"
)

// Registry is the live, queryable set of agent definitions for one
// process. It implements core.AgentRegistryPort.
type Registry struct {
	mu      sync.RWMutex
	sources Sources
	logger  *logging.Logger

	agents map[string]*core.AgentDefinition
	names  []string // sorted, for stable List/Suggest output
	errs   []LoadError

	disabled map[string]bool

	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	reloadCh chan struct{}
}

// New builds a registry and performs its first load. Call Watch to
// enable hot reload on top of this initial load.
func New(sources Sources, disabledNames []string, logger *logging.Logger) (*Registry, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	disabled := make(map[string]bool, len(disabledNames))
	for _, n := range disabledNames {
		disabled[n] = true
	}

	r := &Registry{
		sources:  sources,
		logger:   logger,
		disabled: disabled,
	}
	r.reload()
	return r, nil
}

// reload rescans every source tier and swaps in the new agent set.
// Load errors are logged, not returned: one bad file never blocks the
// rest of the registry from being usable (§4.B).
func (r *Registry) reload() {
	defs, errs := LoadAll(r.sources, r.disabled)

	byName := make(map[string]*core.AgentDefinition, len(defs))
	names := make([]string, 0, len(defs))
	for _, d := range defs {
		byName[d.Name] = d
		names = append(names, d.Name)
	}
	sort.Strings(names)

	for _, e := range errs {
		r.logger.Warn("agent definition failed to load", "path", e.Path, "reason", e.Reason)
	}

	r.mu.Lock()
	r.agents = byName
	r.names = names
	r.errs = errs
	r.mu.Unlock()
}

// Get returns the named agent, or a NOT_FOUND DomainError carrying
// fuzzy-matched suggestions in its Details (§7).
func (r *Registry) Get(name string) (*core.AgentDefinition, error) {
	r.mu.RLock()
	def, ok := r.agents[name]
	r.mu.RUnlock()
	if !ok {
		err := core.ErrValidation(core.CodeUnknownAgent, "unknown agent: "+name)
		if suggestions := r.Suggest(name); len(suggestions) > 0 {
			err = err.WithDetail("suggestions", suggestions)
		}
		return nil, err
	}
	if def.Disabled {
		return nil, core.ErrValidation(core.CodeDisabledAgent, "agent is disabled: "+name)
	}
	return def, nil
}

// List returns every loaded agent definition, sorted by name.
func (r *Registry) List() []*core.AgentDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*core.AgentDefinition, 0, len(r.names))
	for _, n := range r.names {
		out = append(out, r.agents[n])
	}
	return out
}

// Errors returns the load errors from the most recent scan.
func (r *Registry) Errors() []LoadError {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]LoadError(nil), r.errs...)
}

// Suggest returns up to 3 fuzzy name matches for a typo'd agent name,
// used to enrich CodeUnknownAgent errors ("did you mean...?").
func (r *Registry) Suggest(name string) []string {
	r.mu.RLock()
	candidates := append([]string(nil), r.names...)
	r.mu.RUnlock()

	matches := fuzzy.Find(name, candidates)
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })

	const maxSuggestions = 3
	out := make([]string, 0, maxSuggestions)
	for i, m := range matches {
		if i >= maxSuggestions {
			break
		}
		out = append(out, m.Str)
	}
	return out
}

// Watch starts an fsnotify watcher on every configured source
// directory and reloads the registry whenever a file changes. Returns
// immediately; the watch loop runs in its own goroutine until Close.
func (r *Registry) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	r.watcher = w
	r.stopCh = make(chan struct{})

	for _, dir := range []string{r.sources.BundledDir, r.sources.UserDir, r.sources.ProjectDir} {
		if dir == "" {
			continue
		}
		_ = w.Add(dir) // best-effort: a missing tier directory just isn't watched
	}

	go r.watchLoop()
	return nil
}

func (r *Registry) watchLoop() {
	for {
		select {
		case <-r.stopCh:
			return
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				r.reload()
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Warn("agent registry watch error", "error", err)
		}
	}
}

// Close stops the watcher, if one was started. Safe to call when
// Watch was never called.
func (r *Registry) Close() error {
	if r.watcher == nil {
		return nil
	}
	close(r.stopCh)
	return r.watcher.Close()
}

var _ core.AgentRegistryPort = (*Registry)(nil)
