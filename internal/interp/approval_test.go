package interp

import (
	"strings"
	"testing"

	"github.com/fyp-systems/fyp-core/pkg/types"
)

func TestDetectApproval_NetworkAccess(t *testing.T) {
	tail := `Do you want to approve access to "example.com"?`
	item, ok := DetectApproval("s1", tail)
	if !ok {
		t.Fatal("expected approval match")
	}
	if item.Kind != "codex.approval" {
		t.Errorf("Kind = %q, want codex.approval", item.Kind)
	}
	if item.Severity != types.SeverityDanger {
		t.Errorf("Severity = %q, want danger", item.Severity)
	}
	if !strings.HasSuffix(item.Signature, "|net|example.com") {
		t.Errorf("Signature = %q, want suffix |net|example.com", item.Signature)
	}
	if item.Signature != "s1|codex.approval|net|example.com" {
		t.Errorf("Signature = %q", item.Signature)
	}
}

func TestDetectApproval_RunCommand(t *testing.T) {
	tail := "Would you like to run the following command?\n$ rm -rf build\n"
	item, ok := DetectApproval("s1", tail)
	if !ok {
		t.Fatal("expected approval match")
	}
	if item.Severity != types.SeverityWarn {
		t.Errorf("Severity = %q, want warn", item.Severity)
	}
	want := "s1|codex.approval|exec|rm -rf build"
	if item.Signature != want {
		t.Errorf("Signature = %q, want %q", item.Signature, want)
	}
}

func TestDetectApproval_RunCommandUnknownCommand(t *testing.T) {
	tail := "Would you like to run the following command?\n"
	item, ok := DetectApproval("s1", tail)
	if !ok {
		t.Fatal("expected approval match")
	}
	want := "s1|codex.approval|exec|unknown"
	if item.Signature != want {
		t.Errorf("Signature = %q, want %q", item.Signature, want)
	}
}

func TestDetectApproval_RunCommandDontAskAgainOption(t *testing.T) {
	tail := "Would you like to run the following command?\n$ npm test\ndon't ask again for this prefix?"
	item, ok := DetectApproval("s1", tail)
	if !ok {
		t.Fatal("expected approval match")
	}
	found := false
	for _, o := range item.Options {
		if o.ID == "always" {
			found = true
		}
	}
	if !found {
		t.Error("expected 'always' option when don't-ask-again phrase present")
	}
}

func TestDetectApproval_MakeEdits(t *testing.T) {
	tail := "Would you like to make the following edits?\n--- a/file.go\n+++ b/file.go\n"
	item, ok := DetectApproval("s1", tail)
	if !ok {
		t.Fatal("expected approval match")
	}
	if item.Signature != "s1|codex.approval|patch" {
		t.Errorf("Signature = %q", item.Signature)
	}
}

func TestDetectApproval_MCPServerApproval(t *testing.T) {
	tail := "github-mcp needs your approval.\n"
	item, ok := DetectApproval("s1", tail)
	if !ok {
		t.Fatal("expected approval match")
	}
	if item.Severity != types.SeverityInfo {
		t.Errorf("Severity = %q, want info", item.Severity)
	}
	if item.Signature != "s1|codex.approval|mcp|github-mcp" {
		t.Errorf("Signature = %q", item.Signature)
	}
}

func TestDetectApproval_NoMatch(t *testing.T) {
	_, ok := DetectApproval("s1", "just some regular program output\n")
	if ok {
		t.Error("expected no approval match")
	}
}

func TestDetectApproval_RepeatYieldsSameSignature(t *testing.T) {
	tail := `Do you want to approve access to "example.com"?`
	first, _ := DetectApproval("s1", tail)
	second, _ := DetectApproval("s1", tail)
	if first.Signature != second.Signature {
		t.Errorf("expected stable signature across repeated detections: %q != %q", first.Signature, second.Signature)
	}
}

func TestDetectMenuAssist_ParenthesizedOptions(t *testing.T) {
	tail := "Pick an action:\n(Y) Yes\n(N) No\n(A) Abort\n"
	assist, ok := DetectMenuAssist(tail)
	if !ok {
		t.Fatal("expected menu match")
	}
	if len(assist.Options) != 3 {
		t.Fatalf("got %d options, want 3: %+v", len(assist.Options), assist.Options)
	}
}

func TestDetectMenuAssist_BareNumberedOptions(t *testing.T) {
	tail := "Choose:\n1) Deploy now\n2) Cancel\n"
	assist, ok := DetectMenuAssist(tail)
	if !ok {
		t.Fatal("expected menu match")
	}
	if len(assist.Options) != 2 {
		t.Fatalf("got %d options, want 2", len(assist.Options))
	}
}

func TestDetectMenuAssist_YesNoFallback(t *testing.T) {
	tail := "Continue? y/n"
	assist, ok := DetectMenuAssist(tail)
	if !ok {
		t.Fatal("expected menu match")
	}
	if len(assist.Options) != 2 {
		t.Fatalf("got %d options, want 2", len(assist.Options))
	}
}

func TestDetectMenuAssist_NoMatch(t *testing.T) {
	_, ok := DetectMenuAssist("just regular output with no prompts at all")
	if ok {
		t.Error("expected no menu match")
	}
}

func TestDetectMenuAssist_SignatureStableForIdenticalInput(t *testing.T) {
	tail := "Pick:\n(Y) Yes\n(N) No\n"
	a, _ := DetectMenuAssist(tail)
	b, _ := DetectMenuAssist(tail)
	if a.Signature != b.Signature {
		t.Errorf("expected stable signature: %q != %q", a.Signature, b.Signature)
	}
}

func TestDetectMenuAssist_NavHintsCaptured(t *testing.T) {
	tail := "Pick:\n(Y) Yes\n(N) No\nUse Tab to cycle, Enter to confirm.\n"
	assist, ok := DetectMenuAssist(tail)
	if !ok {
		t.Fatal("expected menu match")
	}
	if len(assist.NavHints) == 0 {
		t.Error("expected nav hints to be captured")
	}
}
