// Command fake-provider stands in for SendGrid and OneSignal in local
// stacks and failure drills.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

type fakeProvider struct {
	failFirstN int64
	apiKey     string // empty skips auth checks
	reqCount   atomic.Int64
}

func main() {
	fp := &fakeProvider{apiKey: os.Getenv("PROVIDER_API_KEY")}
	// Simulate flakiness: first N sends fail with 500
	if v := os.Getenv("FAIL_FIRST_N"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			fp.failFirstN = n
		}
	}

	addr := os.Getenv("ADDR")
	if addr == "" {
		addr = ":8081"
	}
	log.Printf("fake-provider listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, fp.routes()))
}

func (fp *fakeProvider) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"ok":true}`)) })
	mux.HandleFunc("POST /v3/mail/send", fp.handleSendGrid)
	mux.HandleFunc("POST /notifications", fp.handleOneSignal)
	return mux
}

// failing counts the request and reports whether it should fail.
func (fp *fakeProvider) failing(w http.ResponseWriter, r *http.Request, body []byte) bool {
	n := fp.reqCount.Add(1)
	if n <= fp.failFirstN {
		log.Printf("FAILING (%d/%d) %s body=%s", n, fp.failFirstN, r.URL.Path, truncate(string(body), 160))
		http.Error(w, "temporary failure", http.StatusInternalServerError)
		return true
	}
	return false
}

func (fp *fakeProvider) handleSendGrid(w http.ResponseWriter, r *http.Request) {
	b, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	if fp.apiKey != "" && r.Header.Get("Authorization") != "Bearer "+fp.apiKey {
		http.Error(w, `{"errors":[{"message":"unauthorized"}]}`, http.StatusUnauthorized)
		return
	}
	if fp.failing(w, r, b) {
		return
	}

	var payload struct {
		Personalizations []struct {
			To []struct {
				Email string `json:"email"`
			} `json:"to"`
		} `json:"personalizations"`
	}
	if err := json.Unmarshal(b, &payload); err != nil || len(payload.Personalizations) == 0 || len(payload.Personalizations[0].To) == 0 {
		http.Error(w, `{"errors":[{"message":"personalizations required"}]}`, http.StatusBadRequest)
		return
	}

	log.Printf("fake-provider sendgrid OK to=%s body=%q", payload.Personalizations[0].To[0].Email, truncate(string(b), 160))
	w.WriteHeader(http.StatusAccepted)
}

func (fp *fakeProvider) handleOneSignal(w http.ResponseWriter, r *http.Request) {
	b, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	if fp.apiKey != "" && r.Header.Get("Authorization") != "Basic "+fp.apiKey {
		http.Error(w, `{"errors":["unauthorized"]}`, http.StatusUnauthorized)
		return
	}
	if fp.failing(w, r, b) {
		return
	}

	var payload struct {
		PlayerIDs []string `json:"include_player_ids"`
	}
	if err := json.Unmarshal(b, &payload); err != nil {
		http.Error(w, `{"errors":["invalid json"]}`, http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	// OneSignal answers 200 without an id when no player matched.
	if len(payload.PlayerIDs) == 0 || strings.HasPrefix(payload.PlayerIDs[0], "invalid") {
		_, _ = w.Write([]byte(`{"id":"","recipients":null,"errors":["All included players are not subscribed"]}`))
		return
	}

	log.Printf("fake-provider onesignal OK players=%d body=%q", len(payload.PlayerIDs), truncate(string(b), 160))
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":         uuid.NewString(),
		"recipients": len(payload.PlayerIDs),
	})
}

// truncate truncates a string to the specified length and adds an ellipsis if truncated
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}
