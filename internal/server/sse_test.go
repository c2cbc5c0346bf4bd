package server_test

import (
	"bufio"
	"context"
	"net/http"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// collectSSELines opens an authenticated SSE stream and returns every line
// read before the deadline expires or the server closes the stream.
func collectSSELines(path string, wait time.Duration, during func()) []string {
	GinkgoHelper()

	streamCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	req, err := http.NewRequestWithContext(streamCtx, "GET", httpSrv.URL+path, nil)
	Expect(err).NotTo(HaveOccurred())
	req.Header.Set("Authorization", "Bearer "+testBearerToken)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := (&http.Client{}).Do(req)
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()
	Expect(resp.Header.Get("Content-Type")).To(HavePrefix("text/event-stream"))

	if during != nil {
		go func() {
			defer GinkgoRecover()
			during()
		}()
	}

	var lines []string
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines
}

func anyLineContains(lines []string, substr string) bool {
	for _, l := range lines {
		if strings.Contains(l, substr) {
			return true
		}
	}
	return false
}

var _ = Describe("SSE streaming", func() {
	Describe("GET /global/event", func() {
		It("sets the SSE content type", func() {
			// Header assertion happens inside the collector.
			collectSSELines("/global/event", 500*time.Millisecond, nil)
		})

		It("delivers session lifecycle notices", func() {
			var sessionID string
			lines := collectSSELines("/global/event", 3*time.Second, func() {
				time.Sleep(300 * time.Millisecond)
				sessionID = createShellSession()
			})
			defer deleteSession(sessionID)

			Expect(anyLineContains(lines, "session.created") ||
				anyLineContains(lines, "sessions.changed")).To(BeTrue())
		})

		It("delivers inbox change notices when an item is resolved", func() {
			sessionID := createShellSession()
			defer deleteSession(sessionID)

			lines := collectSSELines("/global/event", 3*time.Second, func() {
				time.Sleep(300 * time.Millisecond)
				doRequest("POST", "/hook/permission-request", map[string]any{
					"sessionId": sessionID,
					"payload":   map[string]any{"title": "Approve?"},
				})
			})

			Expect(anyLineContains(lines, "inbox")).To(BeTrue())
		})
	})

	Describe("GET /session/{sessionID}/stream", func() {
		It("replays transcript output on connect", func() {
			sessionID := createShellSession()
			defer deleteSession(sessionID)

			status, _ := doRequest("POST", "/session/"+sessionID+"/input", map[string]any{"text": "replay-probe\n"})
			Expect(status).To(Equal(http.StatusOK))

			// Wait for the echoed output to be appended, then connect and
			// expect the backlog to contain an output frame.
			Eventually(func() int {
				_, body := doRequest("GET", "/session/"+sessionID+"/transcript", nil)
				items, _ := body["items"].([]any)
				return len(items)
			}, 5*time.Second, 100*time.Millisecond).Should(BeNumerically(">", 0))

			lines := collectSSELines("/session/"+sessionID+"/stream", 2*time.Second, nil)
			Expect(anyLineContains(lines, `"output"`)).To(BeTrue())
		})

		It("sends session.closed and hangs up for a missing session", func() {
			lines := collectSSELines("/session/never-existed/stream", 2*time.Second, nil)
			Expect(anyLineContains(lines, "session.closed")).To(BeTrue())
		})
	})
})
