package interp

import "testing"

func TestHasCompletionCue_MatchesKnownVocabulary(t *testing.T) {
	cases := []string{
		"completed: all good",
		"pending: review",
		"Risks: none identified",
		"next: ship it",
		"Final Summary of work done",
		"handoff to reviewer",
		"Task completed successfully",
		"task complete",
		"done-when tests pass",
	}
	for _, c := range cases {
		if !HasCompletionCue(c) {
			t.Errorf("HasCompletionCue(%q) = false, want true", c)
		}
	}
}

func TestHasCompletionCue_NoMatch(t *testing.T) {
	if HasCompletionCue("still working on it") {
		t.Error("expected no completion cue")
	}
}

func TestHasQuestionCue_StructuredPacket(t *testing.T) {
	tail := "QUESTION: pick a deploy target\nOPTIONS: staging, prod\nBLOCKING: yes\n"
	if !HasQuestionCue(tail) {
		t.Error("expected structured question packet to match")
	}
}

func TestHasQuestionCue_PartialPacketDoesNotMatch(t *testing.T) {
	tail := "QUESTION: pick one\nOPTIONS: a, b\n"
	if HasQuestionCue(tail) {
		t.Error("expected partial packet (missing BLOCKING:) not to match")
	}
}

func TestHasQuestionCue_ExplicitAsk(t *testing.T) {
	cases := []string{
		"I need a decision before proceeding",
		"This needs input from you",
		"needs approval to continue",
		"please choose one of the following",
		"which option should I pick?",
	}
	for _, c := range cases {
		if !HasQuestionCue(c) {
			t.Errorf("HasQuestionCue(%q) = false, want true", c)
		}
	}
}

func TestHasQuestionCue_NoMatch(t *testing.T) {
	if HasQuestionCue("everything is proceeding as planned") {
		t.Error("expected no question cue")
	}
}
