package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentworkforce/courierlink/internal/debugapi"
	"github.com/agentworkforce/courierlink/internal/intent"
	"github.com/agentworkforce/courierlink/internal/intentstore"
	"github.com/agentworkforce/courierlink/internal/kvstore"
	"github.com/golang-jwt/jwt/v5"
)

const orderID = "3f2c8e9a-1b4d-4c6e-8f0a-2b3c4d5e6f70"

type testEnv struct {
	dir        string
	configPath string
	dsn        string
}

func newTestEnv(t *testing.T, extraYAML string) testEnv {
	t.Helper()
	dir := t.TempDir()
	env := testEnv{dir: dir, configPath: filepath.Join(dir, "config.yaml"), dsn: "file://" + filepath.Join(dir, "state.json")}
	yaml := "storage:\n  dsn: " + env.dsn + "\nlog:\n  level: error\n" + extraYAML
	if err := os.WriteFile(env.configPath, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return env
}

func (e testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(&stdout, &stderr)
	cmd.SetArgs(append([]string{"--config", e.configPath}, args...))
	err := cmd.Execute()
	return stdout.String(), err
}

func TestParseLaunchPayload(t *testing.T) {
	payload, err := parseLaunchPayload(`{"targetId":"abc"}`)
	if err != nil {
		t.Fatalf("parse inline payload: %v", err)
	}
	if payload["targetId"] != "abc" {
		t.Fatalf("expected targetId abc, got %v", payload["targetId"])
	}

	path := filepath.Join(t.TempDir(), "launch.json")
	if err := os.WriteFile(path, []byte(`{"orderId":"xyz"}`), 0o600); err != nil {
		t.Fatalf("write payload: %v", err)
	}
	payload, err = parseLaunchPayload("@" + path)
	if err != nil {
		t.Fatalf("parse file payload: %v", err)
	}
	if payload["orderId"] != "xyz" {
		t.Fatalf("expected orderId xyz, got %v", payload["orderId"])
	}

	if payload, err := parseLaunchPayload("  "); err != nil || payload != nil {
		t.Fatalf("expected empty payload to be nil, got %v %v", payload, err)
	}
	if _, err := parseLaunchPayload("{"); err == nil {
		t.Fatalf("expected malformed payload to fail")
	}
}

func TestPendingListAndClear(t *testing.T) {
	env := newTestEnv(t, "")
	kv, err := kvstore.BuildFromDSN(env.dsn)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	store, err := intentstore.New(kv)
	if err != nil {
		t.Fatalf("new intent store: %v", err)
	}
	if err := store.Save(context.Background(), intent.PurposePostAuthorization, orderID); err != nil {
		t.Fatalf("save: %v", err)
	}
	_ = kv.Close()

	out, err := env.run(t, "pending", "list")
	if err != nil {
		t.Fatalf("pending list: %v", err)
	}
	if !strings.Contains(out, "post-authorization") || !strings.Contains(out, orderID) {
		t.Fatalf("expected listed record, got:\n%s", out)
	}

	out, err = env.run(t, "pending", "clear", "post_authorization")
	if err != nil {
		t.Fatalf("pending clear: %v", err)
	}
	if !strings.Contains(out, "cleared post-authorization") {
		t.Fatalf("unexpected clear output: %s", out)
	}

	out, err = env.run(t, "pending", "list")
	if err != nil {
		t.Fatalf("pending list: %v", err)
	}
	if strings.Contains(out, orderID) {
		t.Fatalf("expected record to be gone, got:\n%s", out)
	}

	if _, err := env.run(t, "pending", "clear", "sideways"); err == nil {
		t.Fatalf("expected unknown purpose to fail")
	}
}

func TestLoginSessionLogout(t *testing.T) {
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	var loggedOut atomic.Bool
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/login":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"accessToken":  access,
				"refreshToken": "refresh-1",
				"profile":      map[string]string{"name": "Ana"},
			})
		case "/auth/logout":
			loggedOut.Store(true)
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer backend.Close()
	env := newTestEnv(t, "api:\n  base_url: "+backend.URL+"\ndebug:\n  addr: \"\"\n")

	out, err := env.run(t, "session")
	if err != nil || !strings.Contains(out, "no session") {
		t.Fatalf("expected no session, got %q %v", out, err)
	}

	if _, err := env.run(t, "login", "--email", "ana@example.com"); err == nil {
		t.Fatalf("expected login without password to fail")
	}
	out, err = env.run(t, "login", "--email", "ana@example.com", "--password", "pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !strings.Contains(out, "logged in as Ana") {
		t.Fatalf("unexpected login output: %s", out)
	}

	out, err = env.run(t, "session")
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if !strings.Contains(out, "access token valid until") {
		t.Fatalf("unexpected session output: %s", out)
	}

	if _, err := env.run(t, "logout"); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if !loggedOut.Load() {
		t.Fatalf("expected server-side logout")
	}
	out, _ = env.run(t, "session")
	if !strings.Contains(out, "no session") {
		t.Fatalf("expected session to be cleared, got %s", out)
	}
}

func TestTriggerSignsRequests(t *testing.T) {
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = body
		timestamp := r.Header.Get("X-Courier-Timestamp")
		if r.Header.Get("X-Courier-Signature") != debugapi.Sign("debug-secret", timestamp, body) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"code":"unauthorized"}`))
			return
		}
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"outcome":"admitted","targetId":"` + orderID + `"}`))
	}))
	defer server.Close()
	env := newTestEnv(t, "debug:\n  secret: debug-secret\n")

	out, err := env.run(t, "trigger", orderID, "--url", server.URL)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if !strings.Contains(out, "admitted") {
		t.Fatalf("unexpected trigger output: %s", out)
	}
	if !strings.Contains(string(gotBody), orderID) {
		t.Fatalf("expected target id in request body, got %s", gotBody)
	}
}

func TestTriggerSurfacesServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"code":"dev_mode_required"}`))
	}))
	defer server.Close()
	env := newTestEnv(t, "")

	_, err := env.run(t, "trigger", "--url", server.URL)
	if err == nil || !strings.Contains(err.Error(), "dev_mode_required") {
		t.Fatalf("expected dev mode error, got %v", err)
	}
}

func TestInvalidLogLevelFails(t *testing.T) {
	env := newTestEnv(t, "")
	if _, err := env.run(t, "--log-level", "chatty", "session"); err == nil {
		t.Fatalf("expected invalid log level to fail")
	}
}

func TestRemoteLoginSignsRequest(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		timestamp := r.Header.Get("X-Courier-Timestamp")
		if r.Header.Get("X-Courier-Signature") != debugapi.Sign("debug-secret", timestamp, body) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		paths = append(paths, r.URL.Path)
		_, _ = w.Write([]byte(`{"profile":{"name":"Ana"}}`))
	}))
	defer server.Close()
	env := newTestEnv(t, "debug:\n  secret: debug-secret\n")

	out, err := env.run(t, "login", "--email", "ana@example.com", "--password", "pw", "--remote", server.URL)
	if err != nil {
		t.Fatalf("remote login: %v", err)
	}
	if !strings.Contains(out, "Ana") {
		t.Fatalf("unexpected remote login output: %s", out)
	}
	if _, err := env.run(t, "logout", "--remote", server.URL); err != nil {
		t.Fatalf("remote logout: %v", err)
	}
	if strings.Join(paths, ",") != "/v1/session/login,/v1/session/logout" {
		t.Fatalf("unexpected remote paths: %v", paths)
	}

	out, _ = env.run(t, "session")
	if !strings.Contains(out, "no session") {
		t.Fatalf("remote login must not store a session locally, got %s", out)
	}
}
