package core

import "sync"

// progressRecentCap bounds the recentTools/recentOutput ring so a
// long-running sub-agent's progress snapshot stays small (§3).
const progressRecentCap = 10

// ProgressRecord tracks one task's live execution state. It is mutated
// only by its owning worker and read by the scheduler when it emits
// snapshots (§4.E); the mutex exists solely to make that read/write
// boundary safe, not to serialize worker logic.
type ProgressRecord struct {
	mu sync.Mutex

	Index             int
	ID                string
	Agent             string
	Status            TaskStatus
	Task              string
	Description       string
	RecentTools       []string
	RecentOutput      []string
	ToolCount         int
	Tokens            int
	DurationMs        int64
	ModelOverride     string
	ExtractedToolData any
}

// NewProgressRecord seeds a pending record for one task.
func NewProgressRecord(index int, id, agent, task, description string) *ProgressRecord {
	return &ProgressRecord{
		Index:       index,
		ID:          id,
		Agent:       agent,
		Status:      TaskStatusPending,
		Task:        task,
		Description: description,
	}
}

// Snapshot returns a value copy safe to read concurrently with further
// mutation of the live record.
func (p *ProgressRecord) Snapshot() ProgressRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := *p
	cp.RecentTools = append([]string(nil), p.RecentTools...)
	cp.RecentOutput = append([]string(nil), p.RecentOutput...)
	return cp
}

// SetStatus transitions the record's status.
func (p *ProgressRecord) SetStatus(s TaskStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Status = s
}

// PushTool records a tool invocation, keeping only the most recent K.
func (p *ProgressRecord) PushTool(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ToolCount++
	p.RecentTools = pushCapped(p.RecentTools, name, progressRecentCap)
}

// PushOutputPreview records a preview of assistant text, keeping the most recent K.
func (p *ProgressRecord) PushOutputPreview(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.RecentOutput = pushCapped(p.RecentOutput, text, progressRecentCap)
}

// AddTokens accumulates token usage observed mid-run.
func (p *ProgressRecord) AddTokens(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Tokens += n
}

// SetExtractedToolData records the structured payload a submit_result call
// produced, so it survives into the final SingleResult.
func (p *ProgressRecord) SetExtractedToolData(data any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ExtractedToolData = data
}

// SetDuration stamps the elapsed wall time once the task settles.
func (p *ProgressRecord) SetDuration(ms int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.DurationMs = ms
}

func pushCapped(s []string, v string, cap int) []string {
	s = append(s, v)
	if len(s) > cap {
		s = s[len(s)-cap:]
	}
	return s
}
