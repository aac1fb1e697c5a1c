package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"meritflow/internal/config"
	"meritflow/internal/db"
	"meritflow/internal/domain"
	"meritflow/internal/engine"
	"meritflow/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, mutate func(*config.Config)) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	handler, err := New(Config{Engine: e, BasePath: "/v1", Auth: AuthConfig{
		JWTSecret:        cfg.Auth.JWTSecret,
		AllowAgentHeader: cfg.Auth.AllowAgentHeader,
		DevLogin:         cfg.Auth.DevLogin,
	}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

var agentHeaders = map[string]string{"X-Agent-Id": "agent-alpha"}

func TestContributionLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	client := srv.Client()

	createRes, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/contributions", map[string]any{
		"submitter":    "0xabc",
		"type":         "code",
		"metadata":     map[string]any{"title": "Streaming parser"},
		"content_hash": engine.HashContent([]byte("package main")),
	}, agentHeaders)
	if createRes.StatusCode != http.StatusCreated {
		t.Fatalf("create contribution status %d: %s", createRes.StatusCode, string(data))
	}
	var created domain.Contribution
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal contribution: %v", err)
	}
	if created.Status != domain.StatusPending {
		t.Fatalf("new contribution status = %s, want pending", created.Status)
	}

	verifyRes, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/verifications", map[string]any{
		"contribution_id": created.ID,
		"vote":            "approve",
		"score":           85.0,
	}, agentHeaders)
	if verifyRes.StatusCode != http.StatusCreated {
		t.Fatalf("submit verification status %d: %s", verifyRes.StatusCode, string(data))
	}
	var verification domain.Verification
	if err := json.Unmarshal(data, &verification); err != nil {
		t.Fatalf("unmarshal verification: %v", err)
	}
	if verification.AgentID != "agent-alpha" {
		t.Fatalf("verification agent = %s, want agent-alpha from header", verification.AgentID)
	}

	statusRes, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/contributions/"+created.ID+"/status", nil, agentHeaders)
	if statusRes.StatusCode != http.StatusOK {
		t.Fatalf("status endpoint %d: %s", statusRes.StatusCode, string(data))
	}
	var status ContributionStatusResponse
	if err := json.Unmarshal(data, &status); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	if status.Status != domain.StatusVerified {
		t.Fatalf("contribution status = %s, want verified", status.Status)
	}
	if status.QualityScore == nil || *status.QualityScore != 85.0 {
		t.Fatalf("quality score = %v, want 85.0", status.QualityScore)
	}
	if status.VerificationCount != 1 {
		t.Fatalf("verification count = %d, want 1", status.VerificationCount)
	}
	if status.RewardAmount == nil {
		t.Fatalf("reward amount missing after verification")
	}

	consRes, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/contributions/"+created.ID+"/consensus", nil, agentHeaders)
	if consRes.StatusCode != http.StatusOK {
		t.Fatalf("consensus endpoint %d: %s", consRes.StatusCode, string(data))
	}
	var cons domain.Consensus
	if err := json.Unmarshal(data, &cons); err != nil {
		t.Fatalf("unmarshal consensus: %v", err)
	}
	if !cons.Reached || cons.ApprovalRate != 1.0 {
		t.Fatalf("consensus = %+v, want reached with rate 1.0", cons)
	}
}

func TestMissingContributionIs404(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/contributions/contrib_missing", nil, agentHeaders)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d, want 404: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if envelope.Error.Code != "not_found" {
		t.Fatalf("error code = %s, want not_found", envelope.Error.Code)
	}
}

func TestOutOfRangeScoreRejected(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	client := srv.Client()

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/contributions", map[string]any{
		"submitter":    "0xabc",
		"type":         "document",
		"metadata":     map[string]any{"title": "Design note"},
		"content_hash": "abc123",
	}, agentHeaders)
	var created domain.Contribution
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal contribution: %v", err)
	}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/verifications", map[string]any{
		"contribution_id": created.ID,
		"vote":            "approve",
		"score":           150.0,
	}, agentHeaders)
	// Huma's schema validation catches the range before the engine does.
	if res.StatusCode != http.StatusBadRequest && res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status %d, want 400 or 422: %s", res.StatusCode, string(data))
	}
}

func TestUnauthenticatedRequestIs401(t *testing.T) {
	srv, cleanup := newTestServer(t, func(cfg *config.Config) {
		cfg.Auth.AllowAgentHeader = false
	})
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/contributions", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401: %s", res.StatusCode, string(data))
	}
}

func TestHealthNeedsNoAuth(t *testing.T) {
	srv, cleanup := newTestServer(t, func(cfg *config.Config) {
		cfg.Auth.AllowAgentHeader = false
	})
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
}

func TestDevLoginMintsUsableToken(t *testing.T) {
	srv, cleanup := newTestServer(t, func(cfg *config.Config) {
		cfg.Auth.AllowAgentHeader = false
		cfg.Auth.DevLogin = true
		cfg.Auth.JWTSecret = "test-secret"
	})
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/auth/dev/login", map[string]any{
		"subject": "agent-beta",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login status %d: %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil {
		t.Fatalf("unmarshal login: %v", err)
	}
	if login.Token == "" {
		t.Fatalf("empty token")
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/contributions", nil, map[string]string{
		"Authorization": "Bearer " + login.Token,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("authed list status %d: %s", res.StatusCode, string(data))
	}
}

func TestDuplicateContributorIs409(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	client := srv.Client()

	first, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/contributors", map[string]any{
		"address": "0xfeed",
	}, agentHeaders)
	if first.StatusCode != http.StatusCreated {
		t.Fatalf("register status %d: %s", first.StatusCode, string(data))
	}
	second, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/contributors", map[string]any{
		"address": "0xfeed",
	}, agentHeaders)
	if second.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate register status %d, want 409: %s", second.StatusCode, string(data))
	}
}

func TestRewardEstimateEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/rewards/estimate?quality=80&type=code", nil, agentHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("estimate status %d: %s", res.StatusCode, string(data))
	}
	var estimate RewardEstimateResponse
	if err := json.Unmarshal(data, &estimate); err != nil {
		t.Fatalf("unmarshal estimate: %v", err)
	}
	if estimate.Amount != 25.5 {
		t.Fatalf("estimate amount = %v, want 25.5", estimate.Amount)
	}
}
