package interp

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
)

// DirectiveKind names one of the coordinator's embedded FYP_* directives.
type DirectiveKind string

const (
	DirectiveDispatch        DirectiveKind = "dispatch"
	DirectiveSendTask        DirectiveKind = "sendTask"
	DirectiveAnswerQuestion  DirectiveKind = "answerQuestion"
)

const (
	prefixDispatch       = "FYP_DISPATCH_JSON:"
	prefixSendTask       = "FYP_SEND_TASK_JSON:"
	prefixAnswerQuestion = "FYP_ANSWER_QUESTION_JSON:"
)

// DispatchPayload is the body of FYP_DISPATCH_JSON and, after field mapping,
// FYP_SEND_TASK_JSON (task -> text, initialize -> includeBootstrapIfPresent).
type DispatchPayload struct {
	Target                    string `json:"target"`
	Text                      string `json:"text"`
	Interrupt                 bool   `json:"interrupt,omitempty"`
	ForceInterrupt            bool   `json:"forceInterrupt,omitempty"`
	IncludeBootstrapIfPresent bool   `json:"includeBootstrapIfPresent,omitempty"`
}

type sendTaskPayload struct {
	Target         string `json:"target"`
	Task           string `json:"task"`
	Initialize     bool   `json:"initialize,omitempty"`
	Interrupt      bool   `json:"interrupt,omitempty"`
	ForceInterrupt bool   `json:"forceInterrupt,omitempty"`
}

// AnswerQuestionPayload is the body of FYP_ANSWER_QUESTION_JSON.
type AnswerQuestionPayload struct {
	AttentionID int64          `json:"attentionId"`
	OptionID    string         `json:"optionId"`
	Source      string         `json:"source,omitempty"`
	Meta        map[string]any `json:"meta,omitempty"`
}

// Directive is one parsed FYP_* directive line.
type Directive struct {
	Kind     DirectiveKind
	Raw      string
	Dispatch *DispatchPayload
	Answer   *AnswerQuestionPayload
}

// DirectiveExtractor maintains per-session carry-buffer and dedup state: a
// one-line carry buffer for directives split across chunks, and a 5-minute
// dedup window keyed on the exact directive string.
type DirectiveExtractor struct {
	mu    sync.Mutex
	carry map[string]string
	seen  map[string]map[string]time.Time
}

// NewDirectiveExtractor returns an empty extractor.
func NewDirectiveExtractor() *DirectiveExtractor {
	return &DirectiveExtractor{
		carry: make(map[string]string),
		seen:  make(map[string]map[string]time.Time),
	}
}

// Feed appends a stripped, CR-normalized chunk for sessionID and returns any
// newly-recognized, non-duplicate directives it completes. now is supplied
// by the caller so extraction stays a pure function of its inputs.
func (d *DirectiveExtractor) Feed(sessionID string, chunk []byte, now time.Time) []Directive {
	d.mu.Lock()
	defer d.mu.Unlock()

	text := d.carry[sessionID] + string(normalizeCR(Strip(chunk)))
	lines := strings.Split(text, "\r")

	// The last element may be an incomplete line; carry it forward.
	complete := lines[:len(lines)-1]
	d.carry[sessionID] = lines[len(lines)-1]

	var out []Directive
	for _, line := range complete {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		directive, ok := parseDirectiveLine(trimmed)
		if !ok {
			continue
		}
		if d.isDuplicate(sessionID, trimmed, now) {
			continue
		}
		out = append(out, directive)
	}
	return out
}

func (d *DirectiveExtractor) isDuplicate(sessionID, raw string, now time.Time) bool {
	const window = 5 * time.Minute

	sessionSeen, ok := d.seen[sessionID]
	if !ok {
		sessionSeen = make(map[string]time.Time)
		d.seen[sessionID] = sessionSeen
	}

	for k, t := range sessionSeen {
		if now.Sub(t) > window {
			delete(sessionSeen, k)
		}
	}

	if last, ok := sessionSeen[raw]; ok && now.Sub(last) <= window {
		return true
	}
	sessionSeen[raw] = now
	return false
}

// parseDirectiveLine matches trimmed against the three known prefixes.
// Only lines beginning with one of those prefixes (after trimming leading
// whitespace) match; anything else is ignored.
func parseDirectiveLine(trimmed string) (Directive, bool) {
	switch {
	case strings.HasPrefix(trimmed, prefixDispatch):
		body, ok := extractJSONObject(trimmed[len(prefixDispatch):])
		if !ok {
			return Directive{}, false
		}
		var p DispatchPayload
		if err := json.Unmarshal([]byte(body), &p); err != nil {
			return Directive{}, false
		}
		return Directive{Kind: DirectiveDispatch, Raw: trimmed, Dispatch: &p}, true

	case strings.HasPrefix(trimmed, prefixSendTask):
		body, ok := extractJSONObject(trimmed[len(prefixSendTask):])
		if !ok {
			return Directive{}, false
		}
		var st sendTaskPayload
		if err := json.Unmarshal([]byte(body), &st); err != nil {
			return Directive{}, false
		}
		p := DispatchPayload{
			Target:                    st.Target,
			Text:                      st.Task,
			Interrupt:                 st.Interrupt,
			ForceInterrupt:            st.ForceInterrupt,
			IncludeBootstrapIfPresent: st.Initialize,
		}
		return Directive{Kind: DirectiveSendTask, Raw: trimmed, Dispatch: &p}, true

	case strings.HasPrefix(trimmed, prefixAnswerQuestion):
		body, ok := extractJSONObject(trimmed[len(prefixAnswerQuestion):])
		if !ok {
			return Directive{}, false
		}
		var p AnswerQuestionPayload
		if err := json.Unmarshal([]byte(body), &p); err != nil {
			return Directive{}, false
		}
		return Directive{Kind: DirectiveAnswerQuestion, Raw: trimmed, Answer: &p}, true
	}
	return Directive{}, false
}

// extractJSONObject finds the first balanced top-level {...} in s and
// validates it with gjson, so trailing free-form commentary the coordinator
// appends after the directive's JSON object on the same logical line never
// fails the whole directive (only a hand json.Unmarshal on the raw
// remainder would do that).
func extractJSONObject(s string) (string, bool) {
	s = strings.TrimSpace(s)
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				candidate := s[start : i+1]
				if !gjson.Valid(candidate) {
					return "", false
				}
				return candidate, true
			}
		}
	}
	return "", false
}

// ForgetSession drops carry/dedup state for a closed session.
func (d *DirectiveExtractor) ForgetSession(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.carry, sessionID)
	delete(d.seen, sessionID)
}
