package http

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	lkauth "github.com/livekit/protocol/auth"
	lkproto "github.com/livekit/protocol/livekit"
	"github.com/rs/zerolog"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/vovakirdan/meet-server/internal/auth"
	"github.com/vovakirdan/meet-server/internal/callengine"
	"github.com/vovakirdan/meet-server/internal/callengine/enginetest"
	lkengine "github.com/vovakirdan/meet-server/internal/callengine/livekit"
	"github.com/vovakirdan/meet-server/internal/config"
	"github.com/vovakirdan/meet-server/internal/regions"
	"github.com/vovakirdan/meet-server/internal/roomname"
	"github.com/vovakirdan/meet-server/internal/service/rooms"
	"github.com/vovakirdan/meet-server/internal/service/tokens"
	"github.com/vovakirdan/meet-server/internal/service/webhooks"
	"github.com/vovakirdan/meet-server/internal/store/sqlite"
)

const (
	testKey    = "APItestkey"
	testSecret = "test-secret-that-is-long-enough-for-hs256"
	testOrigin = "https://meet.example.com"
)

type testEnv struct {
	handler http.Handler
	rooms   *enginetest.RoomService
	store   *sqlite.SQLiteStore
}

type testOptions struct {
	apiKey    string
	apiSecret string
	wsURL     string
	limiter   *IPRateLimiter
	// origins replaces allowed_origins; nil keeps the default of none.
	origins        []string
	trustedProxies []string
	// useEngineRooms routes room calls through the LiveKit engine instead of the fake.
	useEngineRooms bool
}

func newTestEnv(t *testing.T, opts testOptions) *testEnv {
	t.Helper()

	disabledLogger := zerolog.New(nil)

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := config.Default()
	cfg.AllowedOrigins = opts.origins
	cfg.TrustedProxies = opts.trustedProxies

	validator, err := roomname.New(cfg.Rooms.NameSegments)
	if err != nil {
		t.Fatalf("validator: %v", err)
	}

	engine := lkengine.New(lkengine.Config{
		APIKey:    opts.apiKey,
		APISecret: opts.apiSecret,
		WSURL:     opts.wsURL,
	})
	fakeRooms := enginetest.NewRoomService()

	var roomService callengine.RoomService = fakeRooms
	if opts.useEngineRooms {
		roomService = engine
	}

	policy := callengine.RoomPolicy{EmptyTimeout: cfg.Rooms.EmptyTimeout, MaxParticipants: cfg.Rooms.MaxParticipants}
	tokenService := tokens.NewService(
		validator,
		rooms.NewProvisioner(roomService, &disabledLogger),
		tokens.NewIssuer(engine, cfg.Token.TTL),
		policy,
		st,
		&disabledLogger,
	)

	deps := Deps{
		Tokens: tokenService,
		Regions: regions.New("wss://default.example.com", map[string]string{
			"eu": "wss://eu.example.com",
		}),
		Receiver: engine,
		Webhooks: webhooks.NewService(webhooks.Config{AgentName: "agent"}, st, tokenService, &disabledLogger),
		Audit:    st,
		Admin:    auth.NewVerifier(opts.apiKey, opts.apiSecret),
		Limiter:  opts.limiter,
	}

	return &testEnv{
		handler: NewHandler(deps, &cfg, &disabledLogger),
		rooms:   fakeRooms,
		store:   st,
	}
}

func configured() testOptions {
	return testOptions{apiKey: testKey, apiSecret: testSecret, origins: []string{testOrigin}}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	resp := httptest.NewRecorder()
	e.handler.ServeHTTP(resp, req)
	return resp
}

func (e *testEnv) get(path string) *httptest.ResponseRecorder {
	return e.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func decodeError(t *testing.T, resp *httptest.ResponseRecorder) string {
	t.Helper()

	var body ErrorResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to unmarshal error response %q: %v", resp.Body.String(), err)
	}
	return body.Error
}

type videoClaims struct {
	Room           string `json:"room"`
	RoomJoin       bool   `json:"roomJoin"`
	CanPublish     *bool  `json:"canPublish"`
	CanPublishData *bool  `json:"canPublishData"`
	CanSubscribe   *bool  `json:"canSubscribe"`
}

type accessClaims struct {
	Name  string      `json:"name"`
	Video videoClaims `json:"video"`
	jwt.RegisteredClaims
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, configured())

	resp := env.get("/health")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), `"ok"`) {
		t.Errorf("unexpected body %s", resp.Body.String())
	}
	if resp.Header().Get(HeaderRequestID) == "" {
		t.Error("expected a request id header")
	}
}

func TestIssueTokenEndToEnd(t *testing.T) {
	env := newTestEnv(t, configured())

	resp := env.get("/api/token?roomName=abcd-efgh-ijkl&identity=u1&name=Alice")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var body TokenResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if body.Identity != "u1" || body.AccessToken == "" {
		t.Fatalf("unexpected response %+v", body)
	}

	creates := env.rooms.Creates()
	if len(creates) != 1 {
		t.Fatalf("expected one create call, got %d", len(creates))
	}
	want := callengine.RoomPolicy{EmptyTimeout: 300 * time.Second, MaxParticipants: 2}
	if creates[0].Name != "abcd-efgh-ijkl" || creates[0].Policy != want {
		t.Errorf("unexpected create call %+v", creates[0])
	}

	claims := &accessClaims{}
	_, err := jwt.ParseWithClaims(body.AccessToken, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(testSecret), nil
	})
	if err != nil {
		t.Fatalf("failed to decode token: %v", err)
	}
	if claims.Subject != "u1" || claims.Issuer != testKey || claims.Name != "Alice" {
		t.Errorf("unexpected claims %+v", claims)
	}
	v := claims.Video
	if v.Room != "abcd-efgh-ijkl" || !v.RoomJoin {
		t.Errorf("unexpected grant %+v", v)
	}
	for field, value := range map[string]*bool{
		"canPublish":     v.CanPublish,
		"canPublishData": v.CanPublishData,
		"canSubscribe":   v.CanSubscribe,
	} {
		if value == nil || !*value {
			t.Errorf("expected %s to be granted", field)
		}
	}
	if ttl := claims.ExpiresAt.Sub(claims.NotBefore.Time); ttl != 5*time.Minute {
		t.Errorf("expected 5m validity, got %s", ttl)
	}
}

func TestIssueTokenExistingRoom(t *testing.T) {
	env := newTestEnv(t, configured())
	env.rooms.AddRoom("abcd-efgh-ijkl")

	resp := env.get("/api/token?roomName=abcd-efgh-ijkl&identity=u2&name=Bob&metadata=%7B%7D")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if n := len(env.rooms.Creates()); n != 0 {
		t.Errorf("expected no create call for an existing room, got %d", n)
	}
}

func TestIssueTokenRejectsBadQueries(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		status int
		errMsg string
	}{
		{"missing identity", "roomName=abcd-efgh-ijkl&name=Alice", http.StatusForbidden, ""},
		{"missing room name", "identity=u1&name=Alice", http.StatusForbidden, ""},
		{"empty identity", "roomName=abcd-efgh-ijkl&identity=&name=Alice", http.StatusForbidden, ""},
		{"repeated identity", "roomName=abcd-efgh-ijkl&identity=u1&identity=u2&name=Alice", http.StatusForbidden, ""},
		{"missing name", "roomName=abcd-efgh-ijkl&identity=u1", http.StatusBadRequest, ""},
		{"repeated name", "roomName=abcd-efgh-ijkl&identity=u1&name=A&name=B", http.StatusBadRequest, ""},
		{"repeated metadata", "roomName=abcd-efgh-ijkl&identity=u1&name=Alice&metadata=a&metadata=b", http.StatusBadRequest, "provide max one metadata string"},
		{"two groups", "roomName=abcd-efgh&identity=u1&name=Alice", http.StatusBadRequest, "room name must match this format xxxx-xxxx-xxxx"},
		{"trailing garbage", "roomName=abcd-efgh-ijkl-mnop&identity=u1&name=Alice", http.StatusBadRequest, "room name must match this format xxxx-xxxx-xxxx"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, configured())

			resp := env.get("/api/token?" + tt.query)
			if resp.Code != tt.status {
				t.Fatalf("expected status %d, got %d: %s", tt.status, resp.Code, resp.Body.String())
			}
			if msg := decodeError(t, resp); tt.errMsg != "" && msg != tt.errMsg {
				t.Errorf("expected error %q, got %q", tt.errMsg, msg)
			}
			if calls := env.rooms.Calls(); calls != 0 {
				t.Errorf("expected no room service calls, got %d", calls)
			}
		})
	}
}

func TestIssueTokenMisconfiguredSigner(t *testing.T) {
	env := newTestEnv(t, testOptions{})

	resp := env.get("/api/token?roomName=abcd-efgh-ijkl&identity=u1&name=Alice")
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", resp.Code)
	}
	if msg := decodeError(t, resp); msg != "server misconfigured" {
		t.Errorf("unexpected error %q", msg)
	}
	if calls := env.rooms.Calls(); calls != 0 {
		t.Errorf("expected no room service calls, got %d", calls)
	}
}

func TestIssueTokenMissingServiceURL(t *testing.T) {
	opts := configured()
	opts.useEngineRooms = true
	env := newTestEnv(t, opts)

	resp := env.get("/api/token?roomName=abcd-efgh-ijkl&identity=u1&name=Alice")
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", resp.Code)
	}
	if msg := decodeError(t, resp); msg != "livekit websocket url not provided" {
		t.Errorf("unexpected error %q", msg)
	}
}

func TestIssueTokenUpstreamFailure(t *testing.T) {
	env := newTestEnv(t, configured())
	env.rooms.CreateErr = errors.New("twirp error internal: connection refused")

	resp := env.get("/api/token?roomName=abcd-efgh-ijkl&identity=u1&name=Alice")
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", resp.Code)
	}
	msg := decodeError(t, resp)
	if !strings.Contains(msg, "connection refused") {
		t.Errorf("expected upstream message in error, got %q", msg)
	}
	if n := strings.Count(msg, "room service unavailable"); n != 1 {
		t.Errorf("expected the unavailable prefix exactly once, got %d in %q", n, msg)
	}
}

func TestGetURL(t *testing.T) {
	env := newTestEnv(t, configured())

	tests := []struct {
		name   string
		query  string
		status int
		want   string
	}{
		{"default", "", http.StatusOK, "wss://default.example.com"},
		{"region", "?region=eu", http.StatusOK, "wss://eu.example.com"},
		{"region case", "?region=EU", http.StatusOK, "wss://eu.example.com"},
		{"unknown region", "?region=ap", http.StatusInternalServerError, ""},
		{"repeated region", "?region=eu&region=us", http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.get("/api/url" + tt.query)
			if resp.Code != tt.status {
				t.Fatalf("expected status %d, got %d: %s", tt.status, resp.Code, resp.Body.String())
			}
			if tt.status != http.StatusOK {
				if msg := decodeError(t, resp); msg == "" {
					t.Error("expected an error message")
				}
				return
			}
			var body URLResponse
			if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
				t.Fatalf("failed to unmarshal response: %v", err)
			}
			if body.URL != tt.want {
				t.Errorf("expected %s, got %s", tt.want, body.URL)
			}
		})
	}

	resp := env.get("/api/url?region=eu&region=us")
	if msg := decodeError(t, resp); msg != "provide max one region string" {
		t.Errorf("unexpected error %q", msg)
	}
}

func TestNewRoomName(t *testing.T) {
	env := newTestEnv(t, configured())
	validator, _ := roomname.New(3)

	resp := env.get("/api/room-name")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	var body RoomNameResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if !validator.Valid(body.RoomName) {
		t.Errorf("generated name %q does not validate", body.RoomName)
	}
}

func TestRateLimit(t *testing.T) {
	opts := configured()
	opts.limiter = NewIPRateLimiter(0.001, 2)
	env := newTestEnv(t, opts)

	request := func(addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/room-name", nil)
		req.RemoteAddr = addr
		return env.do(req).Code
	}

	for i := 0; i < 2; i++ {
		if code := request("192.0.2.1:1234"); code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, code)
		}
	}
	if code := request("192.0.2.1:1234"); code != http.StatusTooManyRequests {
		t.Errorf("expected 429 once the burst is spent, got %d", code)
	}
	if code := request("192.0.2.2:1234"); code != http.StatusOK {
		t.Errorf("other clients must not be limited, got %d", code)
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	if code := env.do(req).Code; code != http.StatusOK {
		t.Errorf("health must not be rate limited, got %d", code)
	}
}

func TestRateLimitIgnoresForwardedFor(t *testing.T) {
	opts := configured()
	opts.limiter = NewIPRateLimiter(0.001, 1)
	env := newTestEnv(t, opts)

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/room-name", nil)
		req.RemoteAddr = "203.0.113.7:4000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.0.0.%d", i))
		req.Header.Set("X-Real-IP", fmt.Sprintf("10.0.1.%d", i))

		code := env.do(req).Code
		switch {
		case i == 0 && code != http.StatusOK:
			t.Fatalf("first request: expected 200, got %d", code)
		case i > 0 && code != http.StatusTooManyRequests:
			t.Fatalf("request %d with rotated forwarding headers: expected 429, got %d", i, code)
		}
	}
}

func TestRateLimitTrustedProxy(t *testing.T) {
	opts := configured()
	opts.limiter = NewIPRateLimiter(0.001, 1)
	opts.trustedProxies = []string{"203.0.113.0/24"}
	env := newTestEnv(t, opts)

	request := func(remote, forwarded string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/room-name", nil)
		req.RemoteAddr = remote
		req.Header.Set("X-Forwarded-For", forwarded)
		return env.do(req).Code
	}

	if code := request("203.0.113.7:4000", "198.51.100.1"); code != http.StatusOK {
		t.Fatalf("expected 200 for first client, got %d", code)
	}
	if code := request("203.0.113.7:4000", "198.51.100.2"); code != http.StatusOK {
		t.Errorf("clients behind a trusted proxy are limited separately, got %d", code)
	}
	if code := request("203.0.113.8:4000", "198.51.100.1"); code != http.StatusTooManyRequests {
		t.Errorf("expected 429 for the same forwarded client, got %d", code)
	}
	if code := request("192.0.2.9:4000", "198.51.100.3"); code != http.StatusOK {
		t.Fatalf("expected 200 for untrusted peer, got %d", code)
	}
	if code := request("192.0.2.9:4000", "198.51.100.4"); code != http.StatusTooManyRequests {
		t.Errorf("untrusted peers are keyed by their own address, got %d", code)
	}
}

func signedWebhook(t *testing.T, event *lkproto.WebhookEvent, secret string) *http.Request {
	t.Helper()

	body, err := protojson.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	sum := sha256.Sum256(body)

	token, err := lkauth.NewAccessToken(testKey, secret).
		SetValidFor(time.Minute).
		SetSha256(base64.StdEncoding.EncodeToString(sum[:])).
		ToJWT()
	if err != nil {
		t.Fatalf("sign webhook: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/webhook", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/webhook+json")
	req.Header.Set("Authorization", token)
	return req
}

func TestWebhook(t *testing.T) {
	env := newTestEnv(t, configured())
	event := &lkproto.WebhookEvent{
		Event: "room_started",
		Id:    "EV_1",
		Room:  &lkproto.Room{Name: "abcd-efgh-ijkl", MaxParticipants: 2},
	}

	resp := env.do(signedWebhook(t, event, testSecret))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}

	events, err := env.store.ListRoomEvents(t.Context(), "abcd-efgh-ijkl", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 || events[0].EventID != "EV_1" {
		t.Errorf("expected the event to be recorded, got %+v", events)
	}

	forged := env.do(signedWebhook(t, event, "some-other-secret-that-is-long-enough"))
	if forged.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401 for a forged webhook, got %d", forged.Code)
	}

	missing := httptest.NewRequest(http.MethodPost, "/api/webhook", strings.NewReader("{}"))
	if code := env.do(missing).Code; code != http.StatusUnauthorized {
		t.Errorf("expected status 401 without authorization, got %d", code)
	}
}

func TestRoomAudit(t *testing.T) {
	env := newTestEnv(t, configured())

	if resp := env.get("/api/token?roomName=abcd-efgh-ijkl&identity=u1&name=Alice"); resp.Code != http.StatusOK {
		t.Fatalf("token request failed: %d", resp.Code)
	}

	adminToken := func(room string) string {
		token, err := lkauth.NewAccessToken(testKey, testSecret).
			SetVideoGrant(&lkauth.VideoGrant{RoomAdmin: true, Room: room}).
			SetIdentity("ops").
			SetValidFor(time.Minute).
			ToJWT()
		if err != nil {
			t.Fatalf("mint admin token: %v", err)
		}
		return token
	}
	auditRequest := func(authorization string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/rooms/abcd-efgh-ijkl/audit", nil)
		if authorization != "" {
			req.Header.Set("Authorization", authorization)
		}
		return env.do(req)
	}

	if code := auditRequest("").Code; code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", code)
	}
	if code := auditRequest("Bearer garbage").Code; code != http.StatusUnauthorized {
		t.Errorf("expected 401 for invalid token, got %d", code)
	}
	if code := auditRequest("Bearer " + adminToken("wxyz-wxyz-wxyz")).Code; code != http.StatusForbidden {
		t.Errorf("expected 403 for another room's admin, got %d", code)
	}

	resp := auditRequest("Bearer " + adminToken("abcd-efgh-ijkl"))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var body RoomAuditResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if body.Room != "abcd-efgh-ijkl" || len(body.Issuances) != 1 {
		t.Fatalf("unexpected audit %+v", body)
	}
	if is := body.Issuances[0]; is.Identity != "u1" || is.Kind != tokens.KindParticipant {
		t.Errorf("unexpected issuance %+v", is)
	}
	if strings.Contains(resp.Body.String(), "eyJ") {
		t.Error("audit must not expose token material")
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, configured())

	req := httptest.NewRequest(http.MethodOptions, "/api/token", nil)
	req.Header.Set("Origin", testOrigin)
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	resp := env.do(req)

	if got := resp.Header().Get("Access-Control-Allow-Origin"); got != testOrigin {
		t.Errorf("expected allowed origin %q, got %q", testOrigin, got)
	}

	req = httptest.NewRequest(http.MethodOptions, "/api/token", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	resp = env.do(req)

	if got := resp.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("expected foreign origin to be refused, got %q", got)
	}
}

func TestCORSDefaultConfigRefusesOrigins(t *testing.T) {
	opts := configured()
	opts.origins = nil
	env := newTestEnv(t, opts)

	req := httptest.NewRequest(http.MethodGet, "/api/room-name", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	resp := env.do(req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected same request to still be served, got %d", resp.Code)
	}
	if got := resp.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("expected no allowed origin without configuration, got %q", got)
	}

	req = httptest.NewRequest(http.MethodOptions, "/api/token", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	resp = env.do(req)
	if got := resp.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("expected preflight to be refused without configuration, got %q", got)
	}
}
