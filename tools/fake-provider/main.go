// fake-provider is a local stand-in for the email provider, for manual
// testing. It issues short-lived bearer tokens from /v1/auth/token and
// accepts sends on /v1/secure/send-email, rejecting expired tokens with
// 401 so the gateway's refresh-and-retry path can be exercised.
//
// Environment:
//
//	ADDR       listen address (default ":9100")
//	API_KEY    expected X-API-Key value (default "test-key")
//	TOKEN_TTL  token lifetime (default "30s")
package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

type sentEmail struct {
	Timestamp string `json:"timestamp"`
	Recipient string `json:"recipient_email"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}

type stats struct {
	Sent         int64       `json:"sent"`
	TokensIssued int64       `json:"tokens_issued"`
	Rejected401  int64       `json:"rejected_401"`
	LastEmails   []sentEmail `json:"last_emails"`
	Since        string      `json:"since"`
}

var (
	mu           sync.Mutex
	tokens       = make(map[string]time.Time) // token -> expiry
	sent         int64
	tokensIssued int64
	rejected401  int64
	lastEmails   []sentEmail
	since        time.Time
	maxStored    = 50

	apiKey   = "test-key"
	tokenTTL = 30 * time.Second
)

func main() {
	since = time.Now().UTC()

	addr := ":9100"
	if v := os.Getenv("ADDR"); v != "" {
		addr = v
	}
	if v := os.Getenv("API_KEY"); v != "" {
		apiKey = v
	}
	if v := os.Getenv("TOKEN_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			log.Fatalf("invalid TOKEN_TTL %q: %v", v, err)
		}
		tokenTTL = d
	}

	http.HandleFunc("/v1/auth/token", tokenHandler)
	http.HandleFunc("/v1/secure/send-email", sendHandler)
	http.HandleFunc("/stats", statsHandler)
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	http.HandleFunc("/reset", func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		tokens = make(map[string]time.Time)
		sent = 0
		tokensIssued = 0
		rejected401 = 0
		lastEmails = nil
		since = time.Now().UTC()
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "reset")
	})

	log.Printf("fake-provider listening on %s (token_ttl=%s)", addr, tokenTTL)
	log.Fatal(http.ListenAndServe(addr, nil))
}

func tokenHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if r.Header.Get("X-API-Key") != apiKey {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprintln(w, `{"error":"invalid api key"}`)
		return
	}

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	token := hex.EncodeToString(buf)

	mu.Lock()
	tokens[token] = time.Now().Add(tokenTTL)
	tokensIssued++
	issued := tokensIssued
	mu.Unlock()

	log.Printf("issued token #%d (expires in %s)", issued, tokenTTL)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"access_token": token})
}

func sendHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	header := r.Header.Get("Authorization")
	token := strings.TrimPrefix(header, "Bearer ")
	mu.Lock()
	expiry, ok := tokens[token]
	valid := ok && time.Now().Before(expiry)
	if !valid {
		rejected401++
	}
	mu.Unlock()

	if !valid {
		log.Printf("rejected send: token expired or unknown")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprintln(w, `{"error":"token expired"}`)
		return
	}

	var req struct {
		RecipientEmail string `json:"recipient_email"`
		Subject        string `json:"subject"`
		Body           string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintln(w, `{"error":"invalid json"}`)
		return
	}

	email := sentEmail{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Recipient: req.RecipientEmail,
		Subject:   req.Subject,
		Body:      req.Body,
	}

	mu.Lock()
	sent++
	lastEmails = append(lastEmails, email)
	if len(lastEmails) > maxStored {
		lastEmails = lastEmails[len(lastEmails)-maxStored:]
	}
	current := sent
	mu.Unlock()

	log.Printf("send #%d: to=%s subject=%q", current, req.RecipientEmail, req.Subject)
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"sent":%d}`, current)
}

func statsHandler(w http.ResponseWriter, _ *http.Request) {
	mu.Lock()
	s := stats{
		Sent:         sent,
		TokensIssued: tokensIssued,
		Rejected401:  rejected401,
		LastEmails:   lastEmails,
		Since:        since.Format(time.RFC3339),
	}
	mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s)
}
