package orchestrator

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// WorkerProgress is what runSync/progress-reporting extracts from a
// worker's task-tracking markdown file.
type WorkerProgress struct {
	RelPath         string
	UpdatedAt       int64
	ChecklistDone   int
	ChecklistTotal  int
	Preview         string
	Excerpt         []string
	PreviewIsPlaceholder bool
}

// progressCandidates lists the worker progress-file paths searched in
// order, relative to the worker's worktree path (or project path).
func progressCandidates(workerIndex int, name string) []string {
	slug := slugify(name)
	return []string{
		fmt.Sprintf(".agents/tasks/worker-%d-%s.md", workerIndex+1, slug),
		fmt.Sprintf(".agents/tasks/worker-%d.md", workerIndex+1),
		fmt.Sprintf(".agents/tasks/%s.md", slug),
		".agents/tasks/task.md",
		".agents/tasks/progress.md",
		".fyp/task.md",
		".fyp/progress.md",
		"task.md",
		"TASK.md",
		"progress.md",
		"PROGRESS.md",
	}
}

var (
	reChecklistDone  = regexp.MustCompile(`(?m)^\s*[-*]\s*\[[xX]\]`)
	reChecklistTotal = regexp.MustCompile(`(?m)^\s*[-*]\s*\[[ xX]\]`)
	reFence          = regexp.MustCompile("^```")

	// These match worker-preview text that is known to be an
	// unedited scaffold placeholder rather than real progress: a bare
	// "# Worker N Task Card" heading, a BOOTSTRAP-ACK marker, or a
	// markdown heading that contains an ISO-8601 timestamp.
	reWorkerTaskCard  = regexp.MustCompile(`(?i)^#+\s*worker\s+\d+\s+task\s+card\s*$`)
	reBootstrapAck    = regexp.MustCompile(`(?i)BOOTSTRAP-ACK`)
	reHeadingWithTs   = regexp.MustCompile(`^#+\s.*\d{4}-\d{2}-\d{2}T`)
)

// IsPlaceholderPreview reports whether line looks like an unedited scaffold
// placeholder rather than authored progress text.
func IsPlaceholderPreview(line string) bool {
	line = strings.TrimSpace(line)
	return reWorkerTaskCard.MatchString(line) || reBootstrapAck.MatchString(line) || reHeadingWithTs.MatchString(line)
}

// readWorkerProgress searches root (worktreePath, falling back to
// projectPath) for the first existing progress-file candidate and extracts
// its checklist counts, mtime, and preview/excerpt lines.
func readWorkerProgress(root string, workerIndex int, name string) (WorkerProgress, bool) {
	if root == "" {
		return WorkerProgress{}, false
	}
	for _, rel := range progressCandidates(workerIndex, name) {
		full := filepath.Join(root, rel)
		info, err := os.Stat(full)
		if err != nil {
			continue
		}
		data, err := os.ReadFile(full)
		if err != nil {
			continue
		}
		done := len(reChecklistDone.FindAllString(string(data), -1))
		total := len(reChecklistTotal.FindAllString(string(data), -1))

		preview, excerpt := extractPreviewAndExcerpt(string(data))

		return WorkerProgress{
			RelPath:              rel,
			UpdatedAt:            info.ModTime().UnixMilli(),
			ChecklistDone:        done,
			ChecklistTotal:       total,
			Preview:              preview,
			Excerpt:              excerpt,
			PreviewIsPlaceholder: IsPlaceholderPreview(preview),
		}, true
	}
	return WorkerProgress{}, false
}

// extractPreviewAndExcerpt returns the first <=3 non-empty, non-fence lines
// joined for Preview, and the first <=24 such lines for Excerpt.
func extractPreviewAndExcerpt(content string) (string, []string) {
	scanner := bufio.NewScanner(strings.NewReader(content))
	var lines []string
	inFence := false
	for scanner.Scan() && len(lines) < 24 {
		line := scanner.Text()
		if reFence.MatchString(strings.TrimSpace(line)) {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		lines = append(lines, trimmed)
	}
	previewLines := lines
	if len(previewLines) > 3 {
		previewLines = previewLines[:3]
	}
	return strings.Join(previewLines, " "), lines
}

// PreviewSource reports whether a worker's preview came from its
// progress file or its live output.
type PreviewSource string

const (
	PreviewFromProgress PreviewSource = "progress"
	PreviewFromLive      PreviewSource = "live"
)

// selectPreview prefers the progress-file preview
// unless it is a detected placeholder and live output is newer than the
// progress file's mtime by more than 250ms.
func selectPreview(progress WorkerProgress, haveProgress bool, livePreview string, liveTs time.Time) (text string, source PreviewSource) {
	if !haveProgress {
		return livePreview, PreviewFromLive
	}
	if progress.PreviewIsPlaceholder && !liveTs.IsZero() &&
		liveTs.After(time.UnixMilli(progress.UpdatedAt).Add(250*time.Millisecond)) {
		return livePreview, PreviewFromLive
	}
	return progress.Preview, PreviewFromProgress
}
