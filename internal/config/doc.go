// Package config loads the control plane's JSON configuration (listen
// address, bearer token, worktree allowlist, tool profiles) and its
// companion YAML policy file (default SyncPolicy/AutomationPolicy).
//
// Config layering matches the global-then-project-then-env precedence used
// throughout the pack: ~/.config/orchestrator/orchestrator.json(c), then
// <project>/.orchestrator/orchestrator.json(c), then FYP_* environment
// variables. Policy is intentionally a separate YAML document since it is
// meant to be hand-tuned by an operator per deployment, not generated.
package config
