package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/config"
)

func testConfig() config.Config {
	return config.Config{
		ListenAddr:          "127.0.0.1:0",
		LogFormat:           config.LogFormatText,
		LogLevel:            slog.LevelInfo,
		ShutdownTimeout:     2 * time.Second,
		Mode:                config.ModeDev,
		SignalingMode:       config.SignalingModePublic,
		SignalingTransport:  config.SignalingTransportWebSocket,
		PollLivenessTimeout: 30 * time.Second,
	}
}

func startTestServer(t *testing.T, cfg config.Config) (baseURL string) {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	build := BuildInfo{Commit: "abc", BuildTime: "time"}
	srv := New(cfg, log, build)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		<-errCh
	})

	return "http://" + ln.Addr().String()
}

func TestHealthzReadyzVersion(t *testing.T) {
	baseURL := startTestServer(t, testConfig())

	t.Run("healthz", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/healthz")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status=%d, want %d", resp.StatusCode, http.StatusOK)
		}
		var body map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body["ok"] != true {
			t.Fatalf("body=%v, want ok=true", body)
		}
	})

	t.Run("readyz", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/readyz")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status=%d, want %d", resp.StatusCode, http.StatusOK)
		}
		var got readiness
		if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		want := readiness{Ready: true, Transport: "websocket", SignalingMode: "public", SignalingPath: "/signaling"}
		if got != want {
			t.Fatalf("got=%+v, want=%+v", got, want)
		}
	})

	t.Run("version", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/version")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status=%d, want %d", resp.StatusCode, http.StatusOK)
		}
		var got BuildInfo
		if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		want := BuildInfo{Commit: "abc", BuildTime: "time"}
		if got != want {
			t.Fatalf("got=%+v, want=%+v", got, want)
		}
	})
}

func TestReadyzBeforeServe(t *testing.T) {
	srv := New(testConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)), BuildInfo{})

	rec := httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	var got readiness
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Ready || got.Transport != "websocket" {
		t.Fatalf("got=%+v, want not ready on websocket", got)
	}
}

func TestClientConfigEndpoint(t *testing.T) {
	cfg := testConfig()
	cfg.SignalingMode = config.SignalingModePrivate
	cfg.SignalingTransport = config.SignalingTransportHTTP
	cfg.PollLivenessTimeout = 15 * time.Second
	cfg.ICEServers = []webrtc.ICEServer{
		{URLs: []string{"stun:stun.example.com:3478"}},
		{URLs: []string{"turn:turn.example.com:3478?transport=udp"}, Username: "user", Credential: "pass"},
	}

	baseURL := startTestServer(t, cfg)

	resp, err := http.Get(baseURL + "/config")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d, want %d", resp.StatusCode, http.StatusOK)
	}

	var got clientConfig
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got.UseWebSocket {
		t.Fatalf("useWebSocket=true, want false for http transport")
	}
	if got.StartupMode != "private" {
		t.Fatalf("startupMode=%q, want %q", got.StartupMode, "private")
	}
	if got.Transport != "http" {
		t.Fatalf("transport=%q, want %q", got.Transport, "http")
	}
	if got.Logging != "text" {
		t.Fatalf("logging=%q, want text", got.Logging)
	}
	if got.PollLivenessTimeoutMs != 15000 {
		t.Fatalf("pollLivenessTimeoutMs=%d, want 15000", got.PollLivenessTimeoutMs)
	}
	if len(got.ICEServers) != 2 {
		t.Fatalf("iceServers=%d, want 2", len(got.ICEServers))
	}
	if got.ICEServers[1].Username != "user" || got.ICEServers[1].Credential != "pass" {
		t.Fatalf("turn server=%+v, want username/credential carried", got.ICEServers[1])
	}
}

func TestClientConfigEndpoint_EmptyICEServers(t *testing.T) {
	baseURL := startTestServer(t, testConfig())

	resp, err := http.Get(baseURL + "/config")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var payload map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if string(payload["iceServers"]) != "[]" {
		t.Fatalf("iceServers=%s, want []", payload["iceServers"])
	}
	if string(payload["useWebSocket"]) != "true" {
		t.Fatalf("useWebSocket=%s, want true", payload["useWebSocket"])
	}
}

func TestCORS(t *testing.T) {
	baseURL := startTestServer(t, testConfig())

	t.Run("simple request", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, baseURL+"/config", nil)
		if err != nil {
			t.Fatalf("new request: %v", err)
		}
		req.Header.Set("Origin", "https://app.example.com")

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status=%d, want %d", resp.StatusCode, http.StatusOK)
		}
		if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
			t.Fatalf("Access-Control-Allow-Origin=%q, want *", got)
		}
	})

	t.Run("preflight", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodOptions, baseURL+"/signaling", nil)
		if err != nil {
			t.Fatalf("new request: %v", err)
		}
		req.Header.Set("Origin", "https://app.example.com")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		req.Header.Set("Access-Control-Request-Headers", "content-type")

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusNoContent {
			t.Fatalf("status=%d, want %d", resp.StatusCode, http.StatusNoContent)
		}
		if got := resp.Header.Get("Access-Control-Allow-Headers"); got != "content-type" {
			t.Fatalf("Access-Control-Allow-Headers=%q, want content-type", got)
		}
		if got := resp.Header.Get("Access-Control-Allow-Methods"); got != "GET,POST,DELETE,OPTIONS" {
			t.Fatalf("Access-Control-Allow-Methods=%q", got)
		}
	})

	t.Run("no origin", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/healthz")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		defer resp.Body.Close()
		if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "" {
			t.Fatalf("Access-Control-Allow-Origin=%q, want empty", got)
		}
	})
}

func TestRequestIDEchoed(t *testing.T) {
	baseURL := startTestServer(t, testConfig())

	req, err := http.NewRequest(http.MethodGet, baseURL+"/healthz", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("X-Request-ID", "req-123")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("X-Request-ID"); got != "req-123" {
		t.Fatalf("X-Request-ID=%q, want req-123", got)
	}
}
