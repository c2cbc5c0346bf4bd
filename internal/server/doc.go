// Package server implements the Control Surface: a chi-based HTTP API in
// front of the Session Supervisor, the Attention Inbox, and the
// Orchestration Engine, plus the Command Router for closed-catalog
// orchestration commands.
//
// # Endpoint groups
//
//   - /session/*: session lifecycle (create, list, get, input, restart,
//     interrupt, stop, kill, resize), transcript and event pagination.
//   - /inbox/*: attention item listing, respond, dismiss.
//   - /orchestration/*: create, list, get, progress, dispatch, send-task,
//     commands/execute, sync, sync-policy, automation-policy, cleanup.
//   - /hook/*: permission-request/permission-decision interop for
//     tool-native approval bridges, authenticated by a per-session hook key.
//   - /auth/pairing: one-time pairing-code exchange for a bearer cookie.
//   - /global/event, /session/{id}/stream: global and per-session SSE channels.
package server
