package router

import (
	"github.com/fyp-systems/fyp-core/internal/ctlerr"
)

// Priority is the generic priority enum shared by every catalog command.
type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityNormal Priority = "NORMAL"
	PriorityLow    Priority = "LOW"
)

// Payload is the generic command body every catalog command is validated
// and clamped against, independent of mode-specific
// fields it does not use.
type Payload struct {
	Target         string   `json:"target,omitempty"`
	Task           string   `json:"task,omitempty"`
	Text           string   `json:"text,omitempty"`
	RawPrompt      string   `json:"rawPrompt,omitempty"`
	Scope          []string `json:"scope,omitempty"`
	Verify         string   `json:"verify,omitempty"`
	NotYourJob     string   `json:"notYourJob,omitempty"`
	DoneWhen       string   `json:"doneWhen,omitempty"`
	Priority       Priority `json:"priority,omitempty"`
	Interrupt      bool     `json:"interrupt,omitempty"`
	ForceInterrupt bool     `json:"forceInterrupt,omitempty"`
	Initialize     bool     `json:"initialize,omitempty"`
	Force          bool     `json:"force,omitempty"`
	DeliverToOrchestrator *bool `json:"deliverToOrchestrator,omitempty"`
	IdempotencyKey string   `json:"idempotencyKey,omitempty"`
}

const (
	maxTargetLen     = 160
	maxTextLen       = 5000
	maxRawPromptLen  = 8000
	maxScopeEntries  = 40
	maxScopeEntryLen = 260
)

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// clamp enforces every generic field's length/count ceiling in place,
// silently truncating rather than rejecting.
func (p *Payload) clamp() {
	p.Target = truncate(p.Target, maxTargetLen)
	p.Task = truncate(p.Task, maxTextLen)
	p.Text = truncate(p.Text, maxTextLen)
	p.RawPrompt = truncate(p.RawPrompt, maxRawPromptLen)
	p.Verify = truncate(p.Verify, maxTextLen)
	p.NotYourJob = truncate(p.NotYourJob, maxTextLen)
	p.DoneWhen = truncate(p.DoneWhen, maxTextLen)

	if len(p.Scope) > maxScopeEntries {
		p.Scope = p.Scope[:maxScopeEntries]
	}
	for i, s := range p.Scope {
		p.Scope[i] = truncate(s, maxScopeEntryLen)
	}

	switch p.Priority {
	case PriorityHigh, PriorityNormal, PriorityLow:
	default:
		p.Priority = PriorityNormal
	}
}

func nonEmpty(field string, p *Payload) bool {
	switch field {
	case "target":
		return p.Target != ""
	case "task":
		return p.Task != ""
	case "text":
		return p.Text != ""
	case "rawPrompt":
		return p.RawPrompt != ""
	default:
		return false
	}
}

// validate enforces spec's requiredNonEmpty/requiredAnyOf schema for spec's
// catalog entry against p.
func validate(spec CommandSpec, p *Payload) error {
	var unmet []string
	for _, field := range spec.RequiredNonEmpty {
		if !nonEmpty(field, p) {
			unmet = append(unmet, field)
		}
	}
	for _, group := range spec.RequiredAnyOf {
		satisfied := false
		for _, field := range group {
			if nonEmpty(field, p) {
				satisfied = true
				break
			}
		}
		if !satisfied {
			unmet = append(unmet, "one of "+joinFields(group))
		}
	}
	if len(unmet) > 0 {
		return &ctlerr.Error{Code: ctlerr.CodeInvalidCommandPayload, Reason: "missing required fields", Unmet: unmet}
	}
	return nil
}

func joinFields(fields []string) string {
	out := ""
	for i, f := range fields {
		if i > 0 {
			out += "|"
		}
		out += f
	}
	return out
}

// effectiveText resolves the single text field an execution mode actually
// sends, following the task/text/rawPrompt precedence each mode uses.
func (p Payload) effectiveText() string {
	switch {
	case p.Task != "":
		return p.Task
	case p.Text != "":
		return p.Text
	default:
		return p.RawPrompt
	}
}
