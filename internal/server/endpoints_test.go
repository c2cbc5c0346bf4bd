package server_test

import (
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/fyp-systems/fyp-core/pkg/types"
)

var _ = Describe("Session endpoints", func() {
	var sessionID string

	BeforeEach(func() {
		sessionID = createShellSession()
	})

	AfterEach(func() {
		deleteSession(sessionID)
	})

	Describe("POST /session", func() {
		It("rejects a missing tool", func() {
			status, body := doRequest("POST", "/session", map[string]any{})
			Expect(status).To(Equal(http.StatusBadRequest))
			Expect(body).To(HaveKey("error"))
		})
	})

	Describe("GET /session", func() {
		It("lists the created session", func() {
			status, body := doRequest("GET", "/session", nil)
			Expect(status).To(Equal(http.StatusOK))

			sessions, _ := body["sessions"].([]any)
			found := false
			for _, s := range sessions {
				if m, ok := s.(map[string]any); ok && m["id"] == sessionID {
					found = true
					break
				}
			}
			Expect(found).To(BeTrue())
		})
	})

	Describe("GET /session/{sessionID}", func() {
		It("reports running status", func() {
			status, body := doRequest("GET", "/session/"+sessionID, nil)
			Expect(status).To(Equal(http.StatusOK))

			st, _ := body["status"].(map[string]any)
			Expect(st).NotTo(BeNil())
			Expect(st["running"]).To(BeTrue())
		})

		It("returns 404 for an unknown session", func() {
			status, _ := doRequest("GET", "/session/does-not-exist", nil)
			Expect(status).To(Equal(http.StatusNotFound))
		})
	})

	Describe("POST /session/{sessionID}/input", func() {
		It("accepts text and synthesizes an input event", func() {
			status, body := doRequest("POST", "/session/"+sessionID+"/input", map[string]any{"text": "hello\n"})
			Expect(status).To(Equal(http.StatusOK))

			ev, _ := body["event"].(map[string]any)
			Expect(ev).NotTo(BeNil())
			Expect(ev["type"]).To(Equal("input"))
			Expect(ev["sessionID"]).To(Equal(sessionID))
		})

		It("surfaces the echoed output in the transcript", func() {
			status, _ := doRequest("POST", "/session/"+sessionID+"/input", map[string]any{"text": "marker-text\n"})
			Expect(status).To(Equal(http.StatusOK))

			Eventually(func() int {
				_, body := doRequest("GET", "/session/"+sessionID+"/transcript", nil)
				items, _ := body["items"].([]any)
				return len(items)
			}, 5*time.Second, 100*time.Millisecond).Should(BeNumerically(">", 0))
		})
	})

	Describe("POST /session/{sessionID}/resize", func() {
		It("accepts an in-range size", func() {
			status, _ := doRequest("POST", "/session/"+sessionID+"/resize", map[string]any{"cols": 100, "rows": 40})
			Expect(status).To(Equal(http.StatusOK))
		})

		It("rejects an out-of-range size", func() {
			status, _ := doRequest("POST", "/session/"+sessionID+"/resize", map[string]any{"cols": 2, "rows": 40})
			Expect(status).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("DELETE /session/{sessionID}", func() {
		It("refuses to delete a running session without force", func() {
			status, _ := doRequest("DELETE", "/session/"+sessionID, nil)
			Expect(status).To(Equal(http.StatusConflict))
		})

		It("deletes a running session with force=true", func() {
			status, _ := doRequest("DELETE", "/session/"+sessionID+"?force=true", nil)
			Expect(status).To(Equal(http.StatusOK))
			sessionID = ""
		})
	})

	Describe("GET /session/{sessionID}/events", func() {
		It("includes the session.created event", func() {
			Eventually(func() bool {
				_, body := doRequest("GET", "/session/"+sessionID+"/events", nil)
				items, _ := body["items"].([]any)
				for _, it := range items {
					if m, ok := it.(map[string]any); ok && m["kind"] == "session.created" {
						return true
					}
				}
				return false
			}, 3*time.Second, 100*time.Millisecond).Should(BeTrue())
		})
	})
})

var _ = Describe("Inbox endpoints", func() {
	var sessionID, itemID string

	BeforeEach(func() {
		sessionID = createShellSession()

		result, err := ib.Create(ctx, types.AttentionItem{
			SessionID: sessionID,
			Kind:      "codex.approval",
			Severity:  types.SeverityWarn,
			Title:     "Run a command?",
			Signature: sessionID + "|codex.approval|exec|ls",
			Options: []types.AttentionOption{
				{ID: "y", Label: "Yes once", KeySequence: "y"},
				{ID: "n", Label: "No", KeySequence: "n"},
			},
			Status: types.AttentionOpen,
		})
		Expect(err).NotTo(HaveOccurred())
		itemID = result.ID
	})

	AfterEach(func() {
		deleteSession(sessionID)
	})

	Describe("GET /inbox", func() {
		It("lists the open item", func() {
			status, body := doRequest("GET", "/inbox?sessionId="+sessionID, nil)
			Expect(status).To(Equal(http.StatusOK))

			items, _ := body["items"].([]any)
			Expect(items).To(HaveLen(1))
			first, _ := items[0].(map[string]any)
			Expect(first["kind"]).To(Equal("codex.approval"))
		})
	})

	Describe("POST /inbox/{itemID}/respond", func() {
		It("returns 404 for an unknown item", func() {
			status, _ := doRequest("POST", "/inbox/nope/respond", map[string]any{"optionId": "y"})
			Expect(status).To(Equal(http.StatusNotFound))
		})

		It("returns 400 for an unknown option", func() {
			status, _ := doRequest("POST", "/inbox/"+itemID+"/respond", map[string]any{"optionId": "zzz"})
			Expect(status).To(Equal(http.StatusBadRequest))
		})

		It("resolves the item and removes it from the open list", func() {
			status, body := doRequest("POST", "/inbox/"+itemID+"/respond", map[string]any{"optionId": "y"})
			Expect(status).To(Equal(http.StatusOK))

			ev, _ := body["event"].(map[string]any)
			Expect(ev["status"]).To(Equal("sent"))

			_, listBody := doRequest("GET", "/inbox?sessionId="+sessionID, nil)
			items, _ := listBody["items"].([]any)
			Expect(items).To(BeEmpty())
		})
	})

	Describe("POST /inbox/{itemID}/dismiss", func() {
		It("dismisses the item", func() {
			status, body := doRequest("POST", "/inbox/"+itemID+"/dismiss", map[string]any{"source": "test"})
			Expect(status).To(Equal(http.StatusOK))

			ev, _ := body["event"].(map[string]any)
			Expect(ev["status"]).To(Equal("dismissed"))
		})
	})
})

var _ = Describe("Authentication", func() {
	It("rejects requests without a token", func() {
		resp, err := httpClient.Get(httpSrv.URL + "/session")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
	})

	It("rejects requests with a wrong token", func() {
		req, _ := http.NewRequest("GET", httpSrv.URL+"/session", nil)
		req.Header.Set("Authorization", "Bearer not-the-token")
		resp, err := httpClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
	})

	It("exchanges a pairing code for a session cookie", func() {
		code := testSrv.IssuePairingCode()
		Expect(code).NotTo(BeEmpty())

		status, _ := doRequest("POST", "/auth/pairing/exchange", map[string]any{"code": code})
		Expect(status).To(Equal(http.StatusOK))

		// The same code is single-use.
		status, _ = doRequest("POST", "/auth/pairing/exchange", map[string]any{"code": code})
		Expect(status).To(Equal(http.StatusUnauthorized))
	})

	It("accepts the cookie issued by the pairing exchange", func() {
		req, _ := http.NewRequest("GET", httpSrv.URL+"/session", nil)
		req.AddCookie(&http.Cookie{Name: "fyp_session", Value: testBearerToken})
		resp, err := httpClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
	})
})

var _ = Describe("Hook bridge", func() {
	var sessionID, hookKey string

	BeforeEach(func() {
		sessionID = createShellSession()
		meta, err := sv.Status(sessionID)
		Expect(err).NotTo(HaveOccurred())
		hookKey = meta.HookKey
		Expect(hookKey).NotTo(BeEmpty())
	})

	AfterEach(func() {
		deleteSession(sessionID)
	})

	It("rejects a request with neither hook key nor bearer", func() {
		resp, err := httpClient.Post(httpSrv.URL+"/hook/permission-decision?sessionId="+sessionID+"&signature=x", "application/json", nil)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
	})

	It("round-trips a permission request to a pollable decision", func() {
		status, body := doRequest("POST", "/hook/permission-request", map[string]any{
			"sessionId": sessionID,
			"payload":   map[string]any{"kind": "claude.permission", "title": "Write a file?"},
		})
		Expect(status).To(Equal(http.StatusOK))
		signature, _ := body["signature"].(string)
		attentionID, _ := body["attentionId"].(string)
		Expect(signature).NotTo(BeEmpty())
		Expect(attentionID).NotTo(BeEmpty())

		// No decision yet.
		status, body = doRequest("GET", "/hook/permission-decision?sessionId="+sessionID+"&signature="+signature, nil)
		Expect(status).To(Equal(http.StatusOK))
		Expect(body["decision"]).To(BeNil())

		// Resolving the attention item delivers the decision.
		status, _ = doRequest("POST", "/inbox/"+attentionID+"/respond", map[string]any{"optionId": "allow"})
		Expect(status).To(Equal(http.StatusOK))

		Eventually(func() any {
			_, body := doRequest("GET", "/hook/permission-decision?sessionId="+sessionID+"&signature="+signature, nil)
			return body["decision"]
		}, 3*time.Second, 100*time.Millisecond).ShouldNot(BeNil())
	})

	It("authenticates with the per-session hook key", func() {
		req, _ := http.NewRequest("GET", httpSrv.URL+"/hook/permission-decision?sessionId="+sessionID+"&signature=none", nil)
		req.Header.Set("X-Hook-Key", hookKey)
		resp, err := httpClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
	})
})

var _ = Describe("Orchestration endpoints", func() {
	It("returns 404 for an unknown orchestration", func() {
		status, _ := doRequest("GET", "/orchestration/does-not-exist", nil)
		Expect(status).To(Equal(http.StatusNotFound))
	})

	It("rejects a command without a command id", func() {
		status, _ := doRequest("POST", "/orchestration/does-not-exist/commands/execute", map[string]any{})
		Expect(status).To(Equal(http.StatusBadRequest))
	})

	It("returns 404 when the target orchestration does not exist", func() {
		status, _ := doRequest("POST", "/orchestration/does-not-exist/commands/execute", map[string]any{
			"commandId": "sync-status",
		})
		Expect(status).To(Equal(http.StatusNotFound))
	})
})
