package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/theerud/taskcore/internal/core"
	"github.com/theerud/taskcore/internal/outputsink"
)

// summaryPreviewWidth bounds each task line's preview in the rendered
// batch summary text (§6: "preview≤5000 chars").
const summaryPreviewWidth = 5000

// renderSummary builds the batch summary text returned to the caller as
// the tool's content (§6): success ratio, cancellation note, duration,
// one line per task, the agent:// URL list, and the merge summary line.
func renderSummary(result core.BatchResult) string {
	var b strings.Builder

	total := len(result.Results)
	success := 0
	cancelled := 0
	for _, r := range result.Results {
		if r.Status == core.TaskStatusCompleted {
			success++
		}
		if r.Status == core.TaskStatusAborted {
			cancelled++
		}
	}

	fmt.Fprintf(&b, "%d/%d tasks succeeded\n", success, total)
	if result.Cancelled && cancelled > 0 {
		fmt.Fprintf(&b, "%d task(s) aborted by cancellation\n", cancelled)
	}
	fmt.Fprintf(&b, "duration: %s\n\n", result.FinishedAt.Sub(result.StartedAt).Round(time.Millisecond))

	var urls []string
	for _, r := range result.Results {
		preview := outputsink.TruncatePreview(r.Summary, summaryPreviewWidth)
		truncated := preview != r.Summary
		lineCount := strings.Count(r.Summary, "\n") + boolToInt(r.Summary != "")
		fmt.Fprintf(&b, "[%s] %s (tools=%d, tokens=%d, %dms)\n",
			r.TaskID, r.Status, r.ToolCount, r.Usage.TokensIn+r.Usage.TokensOut, r.DurationMs)
		if preview != "" {
			fmt.Fprintf(&b, "  %s\n", strings.ReplaceAll(preview, "\n", "\n  "))
		}
		if truncated {
			fmt.Fprintf(&b, "  (truncated, %d lines, %d chars)\n", lineCount, len(r.Summary))
		}
		if r.Error != "" {
			fmt.Fprintf(&b, "  error: %s\n", r.Error)
		}
		for _, p := range r.OutputPaths {
			urls = append(urls, p)
		}
	}

	if len(urls) > 0 {
		fmt.Fprintf(&b, "\noutputs: %s\n", strings.Join(urls, " "))
	}

	if result.MergeSummary != "" {
		if !result.Applied {
			b.WriteString("\n<system-notification>\n")
			b.WriteString(result.MergeSummary)
			b.WriteString("\n</system-notification>\n")
		} else {
			fmt.Fprintf(&b, "\nmerge: %s\n", result.MergeSummary)
		}
	}

	return b.String()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
