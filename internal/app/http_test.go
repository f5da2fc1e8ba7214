package app

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"civicdesk/api/internal/config"
	"civicdesk/api/internal/identity"
	"civicdesk/api/internal/notify"
	"civicdesk/api/internal/store"
)

const testIdentitySecret = "http-test-secret"

func newTestServer(t *testing.T) (*httptest.Server, *notify.Notifier) {
	t.Helper()
	memStore := store.NewMemStore()
	notifier := notify.New(zap.NewNop())
	svc := New(config.Config{AllocateRetries: 3}, memStore, notifier, nil, nil)
	httpServer := NewHTTPServer(svc, notifier, nil, testIdentitySecret, "*", nil)
	server := httptest.NewServer(httpServer.Handler())
	t.Cleanup(server.Close)
	return server, notifier
}

func tokenFor(t *testing.T, role, userID, name string) string {
	t.Helper()
	token, err := identity.IssueToken([]byte(testIdentitySecret), identity.Claims{
		Sub:  userID,
		Name: name,
		Role: role,
		Exp:  time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	return token
}

func doJSON(t *testing.T, method, url, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		decoded = nil
	}
	return resp, decoded
}

func submitBody() map[string]any {
	return map[string]any{
		"title":       "Pothole on Main St",
		"description": "Deep pothole near the crosswalk",
		"category":    "road-maintenance",
		"location":    "Main St & 4th",
		"contactInfo": "555-0100",
	}
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(t)
	resp, body := doJSON(t, http.MethodGet, server.URL+"/api/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["ok"] != true {
		t.Errorf("body = %v", body)
	}
}

func TestAnonymousSubmit(t *testing.T) {
	server, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/requests", "", submitBody())
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, body = %v", resp.StatusCode, body)
	}
	if body["displayName"] != "Anonymous001" {
		t.Errorf("displayName = %v", body["displayName"])
	}
	if _, present := body["ownerId"]; present {
		t.Error("guest submission carries ownerId")
	}
	if body["status"] != "pending" || body["priority"] != "medium" {
		t.Errorf("defaults = %v / %v", body["status"], body["priority"])
	}
}

func TestInvalidTokenRejected(t *testing.T) {
	server, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/requests", "garbage.token", submitBody())
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, body = %v", resp.StatusCode, body)
	}
	if body["code"] != "UNAUTHORIZED" {
		t.Errorf("code = %v", body["code"])
	}
}

func TestSubmitValidationError(t *testing.T) {
	server, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/requests", "", map[string]any{"title": "only a title"})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, body = %v", resp.StatusCode, body)
	}
	if body["code"] != "VALIDATION_ERROR" {
		t.Errorf("code = %v", body["code"])
	}
	if body["details"] == nil {
		t.Error("validation error carried no details")
	}
}

func TestListScopedByRole(t *testing.T) {
	server, _ := newTestServer(t)
	resident := tokenFor(t, "resident", "user_1", "Jane Doe")
	other := tokenFor(t, "resident", "user_2", "John Roe")
	admin := tokenFor(t, "admin", "admin_1", "Dispatch")

	if resp, body := doJSON(t, http.MethodPost, server.URL+"/api/requests", "", submitBody()); resp.StatusCode != http.StatusCreated {
		t.Fatalf("guest submit: %d %v", resp.StatusCode, body)
	}
	if resp, body := doJSON(t, http.MethodPost, server.URL+"/api/requests", resident, submitBody()); resp.StatusCode != http.StatusCreated {
		t.Fatalf("resident submit: %d %v", resp.StatusCode, body)
	}

	count := func(token string) int {
		resp, body := doJSON(t, http.MethodGet, server.URL+"/api/requests", token, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("list: %d %v", resp.StatusCode, body)
		}
		items, ok := body["requests"].([]any)
		if !ok {
			t.Fatalf("requests = %T", body["requests"])
		}
		return len(items)
	}

	if n := count(""); n != 0 {
		t.Errorf("guest sees %d, want 0", n)
	}
	if n := count(resident); n != 1 {
		t.Errorf("resident sees %d, want 1", n)
	}
	if n := count(other); n != 0 {
		t.Errorf("other resident sees %d, want 0", n)
	}
	if n := count(admin); n != 2 {
		t.Errorf("admin sees %d, want 2", n)
	}
}

func TestCrossResidentGetIsNotFound(t *testing.T) {
	server, _ := newTestServer(t)
	resident := tokenFor(t, "resident", "user_1", "Jane Doe")
	other := tokenFor(t, "resident", "user_2", "John Roe")

	_, created := doJSON(t, http.MethodPost, server.URL+"/api/requests", resident, submitBody())
	requestID := created["id"].(string)

	resp, body := doJSON(t, http.MethodGet, server.URL+"/api/requests/"+requestID, other, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 (body %v)", resp.StatusCode, body)
	}
	if body["code"] != "NOT_FOUND" {
		t.Errorf("code = %v", body["code"])
	}
}

func TestAdminStatusPatch(t *testing.T) {
	server, _ := newTestServer(t)
	resident := tokenFor(t, "resident", "user_1", "Jane Doe")
	admin := tokenFor(t, "admin", "admin_1", "Dispatch")

	_, created := doJSON(t, http.MethodPost, server.URL+"/api/requests", resident, submitBody())
	requestID := created["id"].(string)

	resp, body := doJSON(t, http.MethodPatch, server.URL+"/api/requests/"+requestID+"/status", resident, map[string]any{"status": "resolved"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("resident patch status = %d (body %v)", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodPatch, server.URL+"/api/requests/"+requestID+"/status", admin, map[string]any{"status": "resolved"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin patch status = %d (body %v)", resp.StatusCode, body)
	}
	if body["status"] != "resolved" {
		t.Errorf("status = %v", body["status"])
	}

	resp, body = doJSON(t, http.MethodPatch, server.URL+"/api/requests/"+requestID+"/priority", admin, map[string]any{"priority": "high"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch priority = %d (body %v)", resp.StatusCode, body)
	}
	if body["priority"] != "high" {
		t.Errorf("priority = %v", body["priority"])
	}

	resp, body = doJSON(t, http.MethodPatch, server.URL+"/api/requests/"+requestID+"/notes", admin, map[string]any{"notes": "crew dispatched"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch notes = %d (body %v)", resp.StatusCode, body)
	}
	if body["adminNotes"] != "crew dispatched" {
		t.Errorf("adminNotes = %v", body["adminNotes"])
	}
}

func TestAdminDelete(t *testing.T) {
	server, _ := newTestServer(t)
	admin := tokenFor(t, "admin", "admin_1", "Dispatch")

	_, created := doJSON(t, http.MethodPost, server.URL+"/api/requests", "", submitBody())
	requestID := created["id"].(string)

	resp, _ := doJSON(t, http.MethodDelete, server.URL+"/api/requests/"+requestID, admin, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete = %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodGet, server.URL+"/api/requests/"+requestID, admin, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete = %d", resp.StatusCode)
	}
}

func TestPhotoUploadURLUnconfigured(t *testing.T) {
	server, _ := newTestServer(t)
	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/photos/upload-url", "", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, body = %v", resp.StatusCode, body)
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	server, _ := newTestServer(t)
	resp, _ := doJSON(t, http.MethodGet, server.URL+"/api/nope", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestFeedStreamsRefreshEvents(t *testing.T) {
	server, notifier := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/requests/feed", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open feed: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content type = %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	readEvent := func() string {
		t.Helper()
		deadline := time.After(3 * time.Second)
		result := make(chan string, 1)
		errc := make(chan error, 1)
		go func() {
			for {
				line, err := reader.ReadString('\n')
				if err != nil {
					errc <- err
					return
				}
				line = strings.TrimSpace(line)
				if strings.HasPrefix(line, "event: ") {
					result <- strings.TrimPrefix(line, "event: ")
					return
				}
			}
		}()
		select {
		case event := <-result:
			return event
		case err := <-errc:
			t.Fatalf("read feed: %v", err)
		case <-deadline:
			t.Fatal("timed out waiting for feed event")
		}
		return ""
	}

	// the feed primes new subscribers with one refresh immediately
	if event := readEvent(); event != "refresh" {
		t.Fatalf("first event = %q", event)
	}

	notifier.Publish()
	if event := readEvent(); event != "refresh" {
		t.Fatalf("event after publish = %q", event)
	}
}

func TestFeedSignalAfterMutation(t *testing.T) {
	server, _ := newTestServer(t)
	admin := tokenFor(t, "admin", "admin_1", "Dispatch")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/requests/feed", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open feed: %v", err)
	}
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	countEvents := func(want int) {
		t.Helper()
		seen := 0
		done := make(chan struct{})
		go func() {
			defer close(done)
			for seen < want {
				line, err := reader.ReadString('\n')
				if err != nil {
					return
				}
				if strings.TrimSpace(line) == "event: refresh" {
					seen++
				}
			}
		}()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
		}
		if seen < want {
			t.Fatalf("saw %d refresh events, want %d", seen, want)
		}
	}

	countEvents(1) // initial prime

	_, created := doJSON(t, http.MethodPost, server.URL+"/api/requests", "", submitBody())
	countEvents(1)

	requestID := created["id"].(string)
	doJSON(t, http.MethodPatch, server.URL+"/api/requests/"+requestID+"/status", admin, map[string]any{"status": "in-progress"})
	countEvents(1)
}

func TestRequestIDHeaderEchoed(t *testing.T) {
	server, _ := newTestServer(t)

	req, _ := http.NewRequest(http.MethodGet, server.URL+"/api/health", nil)
	req.Header.Set("X-Request-ID", "trace-123")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("X-Request-ID"); got != "trace-123" {
		t.Errorf("X-Request-ID = %q", got)
	}
}

func TestSearchRequiresAdmin(t *testing.T) {
	server, _ := newTestServer(t)
	resident := tokenFor(t, "resident", "user_1", "Jane Doe")
	admin := tokenFor(t, "admin", "admin_1", "Dispatch")

	resp, _ := doJSON(t, http.MethodGet, server.URL+"/api/requests/search?q=pothole", resident, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("resident search = %d", resp.StatusCode)
	}

	resp, body := doJSON(t, http.MethodGet, server.URL+"/api/requests/search?q=pothole", admin, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin search = %d (body %v)", resp.StatusCode, body)
	}

	resp, _ = doJSON(t, http.MethodGet, fmt.Sprintf("%s/api/requests/search?q=x&limit=abc", server.URL), admin, nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("bad limit = %d", resp.StatusCode)
	}
}
