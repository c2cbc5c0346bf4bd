// Package router implements the Command Router: a closed catalog of
// orchestration commands, each schema-validated and policy-gated before
// execution, with idempotent replay across a short in-memory LRU and a
// durable replay store.
package router

import (
	"github.com/fyp-systems/fyp-core/internal/ctlerr"
)

// Mode is one of the five execution modes a catalog command maps to.
type Mode string

const (
	ModeSystemSync       Mode = "system.sync"
	ModeSystemReview     Mode = "system.review"
	ModeOrchestratorInput Mode = "orchestrator.input"
	ModeWorkerSendTask   Mode = "worker.send_task"
	ModeWorkerDispatch   Mode = "worker.dispatch"
)

// Tier names a policy evaluation tier: how much scrutiny a command's mode
// demands before it runs.
type Tier string

const (
	TierReadLike   Tier = "read_like"   // sync/review: no side effects on workers
	TierCoordinate Tier = "coordinate"  // orchestrator.input: talks to the coordinator only
	TierActuate    Tier = "actuate"     // worker.dispatch / worker.send_task: drives a worker directly
)

// CommandSpec is one catalog entry: its mode, policy tier, and which
// generic payload fields it requires.
type CommandSpec struct {
	ID               string
	Mode             Mode
	Tier             Tier
	RequiredNonEmpty []string // field names that must be non-empty
	RequiredAnyOf    [][]string // at least one field from each group must be non-empty
}

// catalog is the closed enumeration of command ids the router accepts. Every
// command not listed here is rejected as unknown before any further work.
var catalog = map[string]CommandSpec{
	"sync-status": {
		ID:   "sync-status",
		Mode: ModeSystemSync,
		Tier: TierReadLike,
	},
	"steering-review": {
		ID:   "steering-review",
		Mode: ModeSystemReview,
		Tier: TierReadLike,
	},
	"orchestrator-message": {
		ID:               "orchestrator-message",
		Mode:             ModeOrchestratorInput,
		Tier:             TierCoordinate,
		RequiredAnyOf:    [][]string{{"text", "rawPrompt"}},
	},
	"worker-task": {
		ID:               "worker-task",
		Mode:             ModeWorkerSendTask,
		Tier:             TierActuate,
		RequiredNonEmpty: []string{"target"},
		RequiredAnyOf:    [][]string{{"task", "text", "rawPrompt"}},
	},
	"worker-dispatch": {
		ID:               "worker-dispatch",
		Mode:             ModeWorkerDispatch,
		Tier:             TierActuate,
		RequiredNonEmpty: []string{"target"},
		RequiredAnyOf:    [][]string{{"text", "rawPrompt"}},
	},
}

// Lookup returns the catalog entry for id, or an unknown_command error.
func Lookup(id string) (CommandSpec, error) {
	spec, ok := catalog[id]
	if !ok {
		return CommandSpec{}, ctlerr.New(ctlerr.CodeUnknownCommand, "unknown command %q", id)
	}
	return spec, nil
}
