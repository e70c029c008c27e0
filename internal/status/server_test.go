package status

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/danmuck/onionchat/internal/buddy"
	"github.com/danmuck/onionchat/internal/onion"
	"github.com/danmuck/onionchat/internal/testutil/testlog"
	"github.com/danmuck/onionchat/internal/torproc"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type refuseDialer struct{}

func (refuseDialer) DialContext(context.Context, string, string) (net.Conn, error) {
	return nil, errors.New("dial refused")
}

type stubProxy struct {
	profile torproc.Profile
	running bool
	gen     uint64
	local   string
}

func (p stubProxy) Profile() torproc.Profile { return p.profile }
func (p stubProxy) Running() bool            { return p.running }
func (p stubProxy) Generation() uint64       { return p.gen }
func (p stubProxy) LocalAddress() string     { return p.local }

func newAddress(t *testing.T) string {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return onion.FromPublicKey(pub)
}

func newTestServer(t *testing.T, token string) (*Server, *buddy.List) {
	t.Helper()
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	list := buddy.NewList(buddy.Config{Hostname: newAddress(t)}, refuseDialer{})
	t.Cleanup(list.Close)
	proxy := stubProxy{
		profile: torproc.Profile{Name: torproc.ProfilePortable, Address: "127.0.0.1", SocksPort: 11109},
		running: true,
		gen:     2,
		local:   list.Hostname(),
	}
	return New(Config{Token: token, Version: "test"}, list, proxy), list
}

func do(t *testing.T, s *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	log.Debug().Str("method", method).Str("path", path).Int("status", rr.Code).Msg("status/http")
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, into any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), into); err != nil {
		t.Fatalf("decode body %q: %v", rr.Body.String(), err)
	}
}

func TestHealthIsOpenWithToken(t *testing.T) {
	s, list := newTestServer(t, "secret")
	rr := do(t, s, http.MethodGet, "/health", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body map[string]any
	decode(t, rr, &body)
	if body["status"] != "ok" || body["hostname"] != list.Hostname() {
		t.Fatalf("unexpected health body: %#v", body)
	}
}

func TestGuardedRoutesRequireToken(t *testing.T) {
	s, _ := newTestServer(t, "secret")
	for _, path := range []string{"/buddies", "/connections", "/proxy", "/metrics"} {
		if rr := do(t, s, http.MethodGet, path, "", nil); rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s without token: expected 401, got %d", path, rr.Code)
		}
		if rr := do(t, s, http.MethodGet, path, "wrong", nil); rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s with wrong token: expected 401, got %d", path, rr.Code)
		}
		if rr := do(t, s, http.MethodGet, path, "secret", nil); rr.Code != http.StatusOK {
			t.Fatalf("%s with token: expected 200, got %d", path, rr.Code)
		}
	}
}

func TestNoTokenLeavesRoutesOpen(t *testing.T) {
	s, _ := newTestServer(t, "")
	if rr := do(t, s, http.MethodGet, "/buddies", "", nil); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestBuddiesListsDirectory(t *testing.T) {
	s, list := newTestServer(t, "")
	a, b := newAddress(t), newAddress(t)
	if _, err := list.Add(a, "alice", buddy.GroupBuddies); err != nil {
		t.Fatalf("add a: %v", err)
	}
	if _, err := list.Add(b, "bob", buddy.GroupBuddies); err != nil {
		t.Fatalf("add b: %v", err)
	}

	rr := do(t, s, http.MethodGet, "/buddies", "", nil)
	var body struct {
		Buddies []buddy.BuddyInfo `json:"buddies"`
	}
	decode(t, rr, &body)
	if len(body.Buddies) != 2 {
		t.Fatalf("expected 2 buddies, got %d", len(body.Buddies))
	}
	if body.Buddies[0].Address > body.Buddies[1].Address {
		t.Fatalf("expected buddies sorted by address: %#v", body.Buddies)
	}
	for _, info := range body.Buddies {
		if info.Status != buddy.StatusOffline.String() {
			t.Fatalf("expected offline buddy, got %q", info.Status)
		}
	}
}

func TestConnectionsEmpty(t *testing.T) {
	s, _ := newTestServer(t, "")
	rr := do(t, s, http.MethodGet, "/connections", "", nil)
	var body struct {
		Connections []buddy.ConnInfo `json:"connections"`
	}
	decode(t, rr, &body)
	if len(body.Connections) != 0 {
		t.Fatalf("expected no connections, got %#v", body.Connections)
	}
}

func TestProxyReportsProfile(t *testing.T) {
	s, list := newTestServer(t, "")
	rr := do(t, s, http.MethodGet, "/proxy", "", nil)
	var info ProxyInfo
	decode(t, rr, &info)
	if info.Profile != torproc.ProfilePortable || info.SocksAddr != "127.0.0.1:11109" {
		t.Fatalf("unexpected profile: %#v", info)
	}
	if !info.Running || info.Generation != 2 || info.LocalAddress != list.Hostname() {
		t.Fatalf("unexpected proxy state: %#v", info)
	}
}

func TestProxyMissingSupervisor(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	list := buddy.NewList(buddy.Config{}, refuseDialer{})
	t.Cleanup(list.Close)
	s := New(Config{}, list, nil)
	if rr := do(t, s, http.MethodGet, "/proxy", "", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestSetStatus(t *testing.T) {
	s, _ := newTestServer(t, "")
	rr := do(t, s, http.MethodPost, "/status", "", map[string]string{"status": "away"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "away") {
		t.Fatalf("expected away in body, got %s", rr.Body.String())
	}
	if rr := do(t, s, http.MethodPost, "/status", "", map[string]string{"status": "busy"}); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", rr.Code)
	}
}

func TestSendMessageErrors(t *testing.T) {
	s, list := newTestServer(t, "")
	unknown := newAddress(t)
	rr := do(t, s, http.MethodPost, "/buddies/"+unknown+"/message", "", map[string]string{"text": "hi"})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown buddy, got %d", rr.Code)
	}

	known := newAddress(t)
	if _, err := list.Add(known, "carol", buddy.GroupBuddies); err != nil {
		t.Fatalf("add: %v", err)
	}
	rr = do(t, s, http.MethodPost, "/buddies/"+known+"/message", "", map[string]string{"text": "hi"})
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for offline buddy, got %d", rr.Code)
	}

	rr = do(t, s, http.MethodPost, "/buddies/"+known+"/message", "", map[string]string{"text": ""})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty text, got %d", rr.Code)
	}
}
