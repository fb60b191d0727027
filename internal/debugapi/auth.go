package debugapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	timestampHeader = "X-Courier-Timestamp"
	signatureHeader = "X-Courier-Signature"
)

type authError struct {
	status  int
	code    string
	message string
}

func (e *authError) Error() string {
	return e.message
}

// Sign returns the signature verifyHMAC expects for body at timestamp.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(timestamp))
	_, _ = mac.Write([]byte("\n"))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func verifyHMAC(secret, timestamp, signature string, body []byte, now time.Time, maxSkew time.Duration) *authError {
	if timestamp == "" || signature == "" {
		return &authError{status: http.StatusUnauthorized, code: "unauthorized", message: "missing signature headers"}
	}
	ts, err := time.Parse(time.RFC3339, timestamp)
	if err != nil {
		return &authError{status: http.StatusUnauthorized, code: "unauthorized", message: "invalid timestamp"}
	}
	delta := now.Sub(ts)
	if delta < 0 {
		delta = -delta
	}
	if delta > maxSkew {
		return &authError{status: http.StatusUnauthorized, code: "unauthorized", message: "request outside replay window"}
	}
	expected := Sign(secret, timestamp, body)
	if !hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected)) {
		return &authError{status: http.StatusUnauthorized, code: "unauthorized", message: "signature mismatch"}
	}
	return nil
}

// replayGuard remembers accepted signatures for the skew window.
type replayGuard struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[string]time.Time
}

func newReplayGuard(window time.Duration) *replayGuard {
	return &replayGuard{window: window, seen: map[string]time.Time{}}
}

func (g *replayGuard) markSeen(timestamp, signature string, now time.Time) bool {
	key := strings.TrimSpace(strings.ToLower(timestamp)) + "|" + strings.TrimSpace(strings.ToLower(signature))
	if key == "|" {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for seenKey, expiresAt := range g.seen {
		if !now.Before(expiresAt) {
			delete(g.seen, seenKey)
		}
	}
	if expiresAt, exists := g.seen[key]; exists && now.Before(expiresAt) {
		return false
	}
	g.seen[key] = now.Add(g.window)
	return true
}
