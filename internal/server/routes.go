package server

import (
	"github.com/go-chi/chi/v5"
	"github.com/mark3labs/mcp-go/server"
)

// setupRoutes configures every API route.
func (s *Server) setupRoutes() {
	r := s.router

	r.Post("/auth/pairing/exchange", s.exchangePairingCode)

	r.Route("/session", func(r chi.Router) {
		r.Get("/", s.listSessions)
		r.Post("/", s.createSession)

		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", s.getSession)
			r.Delete("/", s.deleteSession)
			r.Post("/input", s.inputSession)
			r.Post("/restart", s.restartSession)
			r.Post("/interrupt", s.interruptSession)
			r.Post("/stop", s.stopSession)
			r.Post("/kill", s.killSession)
			r.Post("/resize", s.resizeSession)
			r.Get("/transcript", s.getTranscript)
			r.Get("/events", s.getSessionEvents)
			r.Get("/stream", s.sessionStream)
		})
	})

	r.Route("/inbox", func(r chi.Router) {
		r.Get("/", s.listInbox)
		r.Post("/{itemID}/respond", s.respondInbox)
		r.Post("/{itemID}/dismiss", s.dismissInbox)
	})

	r.Route("/orchestration", func(r chi.Router) {
		r.Get("/", s.listOrchestrations)
		r.Post("/", s.createOrchestration)

		r.Route("/{orchestrationID}", func(r chi.Router) {
			r.Get("/", s.getOrchestration)
			r.Get("/progress", s.getOrchestrationProgress)
			r.Post("/dispatch", s.dispatchOrchestration)
			r.Post("/send-task", s.sendTaskOrchestration)
			r.Post("/commands/execute", s.executeOrchestrationCommand)
			r.Post("/sync", s.syncOrchestration)
			r.Patch("/sync-policy", s.patchSyncPolicy)
			r.Patch("/automation-policy", s.patchAutomationPolicy)
			r.Post("/cleanup", s.cleanupOrchestration)
		})
	})

	r.Route("/hook", func(r chi.Router) {
		r.Post("/permission-request", s.hookPermissionRequest)
		r.Get("/permission-decision", s.hookPermissionDecision)
		r.Mount("/mcp", server.NewStreamableHTTPServer(s.newHookMCPServer()))
	})

	r.Get("/global/event", s.globalEvents)
	r.Get("/ws/global", s.globalEventsWS)
}
