package interp

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/fyp-systems/fyp-core/pkg/types"
)

var (
	reApproveAccess = regexp.MustCompile(`Do you want to approve access to "([^"]+)"\?`)
	reRunCommand    = regexp.MustCompile(`Would you like to run the following command\?`)
	reMakeEdits     = regexp.MustCompile(`Would you like to make the following edits\?`)
	reMCPApproval   = regexp.MustCompile(`(\S+) needs your approval\.`)
	reCommandLine   = regexp.MustCompile(`(?m)^\s*\$\s*(.+)$`)
	reDontAskPrefix = regexp.MustCompile(`(?i)don't ask again for`)
)

// DetectApproval inspects the stripped tail of a session's output for one
// of the four Codex TUI approval prompts and returns the resulting
// AttentionItem, or ok=false if none matched.
func DetectApproval(sessionID string, tail string) (item types.AttentionItem, ok bool) {
	if m := reApproveAccess.FindStringSubmatch(tail); m != nil {
		host := m[1]
		return types.AttentionItem{
			SessionID: sessionID,
			Kind:      "codex.approval",
			Severity:  types.SeverityDanger,
			Title:     "Approve network access",
			Body:      fmt.Sprintf(`Do you want to approve access to %q?`, host),
			Signature: fmt.Sprintf("%s|codex.approval|net|%s", sessionID, host),
			Options: []types.AttentionOption{
				{ID: "y", Label: "Yes once", KeySequence: "y"},
				{ID: "a", Label: "Allow for session", KeySequence: "a"},
				{ID: "n", Label: "No", KeySequence: "n"},
				{ID: "esc", Label: "Cancel", KeySequence: "\x1b"},
			},
			Status: types.AttentionOpen,
		}, true
	}

	if reRunCommand.MatchString(tail) {
		cmd := "unknown"
		if m := reCommandLine.FindStringSubmatch(tail); m != nil {
			cmd = strings.TrimSpace(m[1])
		}

		options := []types.AttentionOption{
			{ID: "y", Label: "Yes once", KeySequence: "y"},
			{ID: "a", Label: "Allow for session", KeySequence: "a"},
			{ID: "n", Label: "No", KeySequence: "n"},
			{ID: "esc", Label: "Cancel", KeySequence: "\x1b"},
		}
		var meta map[string]any
		if cmd != "unknown" {
			if parsed := ParseBashCommand(cmd); len(parsed) > 0 {
				prefix := BashPrefixPattern(parsed[0])
				meta = map[string]any{"parsedCommand": parsed[0], "prefixPattern": prefix}
				if reDontAskPrefix.MatchString(tail) {
					options = append(options, types.AttentionOption{
						ID: "always", Label: fmt.Sprintf("Don't ask again for %q", prefix), KeySequence: "d",
					})
				}
			}
		}
		if meta == nil && reDontAskPrefix.MatchString(tail) {
			options = append(options, types.AttentionOption{
				ID: "always", Label: "Don't ask again for this prefix", KeySequence: "d",
			})
		}

		return types.AttentionItem{
			SessionID: sessionID,
			Kind:      "codex.approval",
			Severity:  types.SeverityWarn,
			Title:     "Approve command",
			Body:      "Would you like to run the following command?",
			Signature: fmt.Sprintf("%s|codex.approval|exec|%s", sessionID, cmd),
			Options:   options,
			Status:    types.AttentionOpen,
			Meta:      meta,
		}, true
	}

	if reMakeEdits.MatchString(tail) {
		item := types.AttentionItem{
			SessionID: sessionID,
			Kind:      "codex.approval",
			Severity:  types.SeverityWarn,
			Title:     "Approve edits",
			Body:      "Would you like to make the following edits?",
			Signature: fmt.Sprintf("%s|codex.approval|patch", sessionID),
			Options: []types.AttentionOption{
				{ID: "y", Label: "Yes", KeySequence: "y"},
				{ID: "n", Label: "No", KeySequence: "n"},
				{ID: "esc", Label: "Cancel", KeySequence: "\x1b"},
			},
			Status: types.AttentionOpen,
		}
		if stat, ok := diffStat(tail); ok {
			item.Meta = map[string]any{"diffstat": stat}
		}
		return item, true
	}

	if m := reMCPApproval.FindStringSubmatch(tail); m != nil {
		server := m[1]
		return types.AttentionItem{
			SessionID: sessionID,
			Kind:      "codex.approval",
			Severity:  types.SeverityInfo,
			Title:     "MCP server approval",
			Body:      fmt.Sprintf("%s needs your approval.", server),
			Signature: fmt.Sprintf("%s|codex.approval|mcp|%s", sessionID, server),
			Options: []types.AttentionOption{
				{ID: "y", Label: "Approve", KeySequence: "y"},
				{ID: "n", Label: "Deny", KeySequence: "n"},
			},
			Status: types.AttentionOpen,
		}, true
	}

	return types.AttentionItem{}, false
}

// DiffStat summarizes a captured unified-diff snippet's line churn.
type DiffStat struct {
	Files       int `json:"files"`
	Insertions  int `json:"insertions"`
	Deletions   int `json:"deletions"`
}

// diffStat reconstructs the "before" and "after" sides of a unified-diff
// snippet embedded in tail (lines prefixed with '-'/'+') and runs them
// through go-diff's line-mode diff to recover an insertions/deletions
// count robust to the snippet being a re-flow rather than a clean patch.
func diffStat(tail string) (DiffStat, bool) {
	var before, after strings.Builder
	files := map[string]bool{}
	found := false
	for _, line := range strings.Split(tail, "\n") {
		switch {
		case strings.HasPrefix(line, "+++ "), strings.HasPrefix(line, "--- "):
			if f := strings.TrimSpace(line[4:]); f != "" && f != "/dev/null" {
				files[f] = true
			}
			found = true
		case strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++"):
			after.WriteString(line[1:])
			after.WriteByte('\n')
			found = true
		case strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "---"):
			before.WriteString(line[1:])
			before.WriteByte('\n')
			found = true
		default:
			before.WriteString(line)
			before.WriteByte('\n')
			after.WriteString(line)
			after.WriteByte('\n')
		}
	}
	if !found {
		return DiffStat{}, false
	}

	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(before.String(), after.String())
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lines)

	var ins, del int
	for _, d := range diffs {
		n := strings.Count(d.Text, "\n")
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			ins += n
		case diffmatchpatch.DiffDelete:
			del += n
		}
	}
	nFiles := len(files)
	if nFiles == 0 {
		nFiles = 1
	}
	return DiffStat{Files: nFiles, Insertions: ins, Deletions: del}, true
}

var (
	reParenOpt    = regexp.MustCompile(`(?i)[\(\[]([A-Za-z0-9])[\)\]]\s*([^\(\[\n]{1,80})`)
	reBareOpt     = regexp.MustCompile(`(?i)^\s*([A-Za-z0-9])[\)\.]\s+(.{1,80})$`)
	reYesNo       = regexp.MustCompile(`(?i)\by\s*/\s*n\b`)
	reReplyCode   = regexp.MustCompile(`(?i)reply with\s+([A-Za-z0-9_-]+)`)
	reNavHintWord = regexp.MustCompile(`(?i)\b(shift\+tab|tab|enter|esc|arrow (up|down|left|right))\b`)
)

// MenuAssist is the generic heuristic menu-option extraction result.
type MenuAssist struct {
	Title     string
	Body      string
	Options   []types.AttentionOption
	NavHints  []string
	Signature string
}

// DetectMenuAssist scans the last ~34 CR-split lines of tail for generic
// menu-option markers and navigation hints.
// Returns ok=false when nothing resembling a menu prompt is present.
func DetectMenuAssist(tail string) (assist MenuAssist, ok bool) {
	lines := splitCRLines(tail, 34)
	var options []types.AttentionOption
	seen := map[string]bool{}

	for _, line := range lines {
		for _, m := range reParenOpt.FindAllStringSubmatch(line, -1) {
			id := strings.ToLower(m[1])
			label := strings.TrimSpace(m[2])
			key := id + "|" + label
			if label == "" || seen[key] {
				continue
			}
			seen[key] = true
			options = append(options, types.AttentionOption{ID: id, Label: label, KeySequence: m[1]})
		}
		if m := reBareOpt.FindStringSubmatch(line); m != nil {
			id := strings.ToLower(m[1])
			label := strings.TrimSpace(m[2])
			key := id + "|" + label
			if !seen[key] {
				seen[key] = true
				options = append(options, types.AttentionOption{ID: id, Label: label, KeySequence: m[1]})
			}
		}
	}

	hasYesNo := false
	for _, line := range lines {
		if reYesNo.MatchString(line) {
			hasYesNo = true
			break
		}
	}
	if hasYesNo && len(options) == 0 {
		options = []types.AttentionOption{
			{ID: "y", Label: "Yes", KeySequence: "y"},
			{ID: "n", Label: "No", KeySequence: "n"},
		}
	}

	if len(options) == 0 {
		return MenuAssist{}, false
	}

	var navHints []string
	navSeen := map[string]bool{}
	for _, line := range lines {
		for _, m := range reNavHintWord.FindAllString(line, -1) {
			hint := strings.ToLower(m)
			if !navSeen[hint] {
				navSeen[hint] = true
				navHints = append(navHints, hint)
			}
		}
	}

	var replyCode string
	for _, line := range lines {
		if m := reReplyCode.FindStringSubmatch(line); m != nil {
			replyCode = m[1]
			break
		}
	}

	title := "Choose an option"
	body := strings.Join(lines, "\n")
	sig := menuSignature(title, body, options)

	assist = MenuAssist{
		Title:     title,
		Body:      body,
		Options:   options,
		NavHints:  navHints,
		Signature: sig,
	}
	if replyCode != "" {
		assist.NavHints = append(assist.NavHints, "reply:"+replyCode)
	}
	return assist, true
}

func menuSignature(title, body string, options []types.AttentionOption) string {
	h := sha256.New()
	h.Write([]byte(title))
	h.Write([]byte{0})
	h.Write([]byte(body))
	for _, o := range options {
		h.Write([]byte{0})
		h.Write([]byte(o.ID))
		h.Write([]byte{0})
		h.Write([]byte(o.Label))
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// splitCRLines splits on '\r' boundaries (after CR-normalization) and
// returns at most the last n non-empty lines, in original order.
func splitCRLines(tail string, n int) []string {
	normalized := strings.ReplaceAll(tail, "\n", "\r")
	parts := strings.Split(normalized, "\r")

	var nonEmpty []string
	for _, p := range parts {
		p = strings.TrimRight(p, " \t")
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}

	if len(nonEmpty) > n {
		nonEmpty = nonEmpty[len(nonEmpty)-n:]
	}
	return nonEmpty
}
