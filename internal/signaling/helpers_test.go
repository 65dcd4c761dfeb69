package signaling

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/policy"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/registry"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/relay"
)

type testEnv struct {
	srv   *Server
	relay *relay.Relay
	ts    *httptest.Server
}

func newTestEnv(t *testing.T, transport registry.Transport, mode policy.Mode, opts ...func(*Config, *registry.Config)) *testEnv {
	t.Helper()

	pol, err := policy.New(mode)
	if err != nil {
		t.Fatalf("policy.New(%q): %v", mode, err)
	}
	regCfg := registry.Config{PollLivenessTimeout: 30 * time.Second}
	cfg := Config{Transport: transport}
	for _, opt := range opts {
		opt(&cfg, &regCfg)
	}
	cfg.Relay = relay.New(relay.Config{Registry: registry.New(regCfg), Policy: pol})

	srv := NewServer(cfg)
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		cfg.Relay.Shutdown()
		ts.Close()
	})
	return &testEnv{srv: srv, relay: cfg.Relay, ts: ts}
}

// wsFrame is a union of every frame the socket transport emits.
type wsFrame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	From    string          `json:"from"`
	Payload json.RawMessage `json:"payload"`
	Outcome json.RawMessage `json:"outcome"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
}

type wsClient struct {
	t      *testing.T
	conn   *websocket.Conn
	id     string
	pushed []wsFrame
}

func (e *testEnv) wsURL() string {
	return "ws" + strings.TrimPrefix(e.ts.URL, "http") + Path
}

func (e *testEnv) dial(t *testing.T) *wsClient {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(e.wsURL(), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	ws := &wsClient{t: t, conn: c}
	f := ws.read()
	if f.Type != string(frameRegistered) || f.ID == "" {
		t.Fatalf("first frame=%+v, want registered frame with id", f)
	}
	ws.id = f.ID
	return ws
}

func (w *wsClient) read() wsFrame {
	w.t.Helper()
	_ = w.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := w.conn.ReadMessage()
	if err != nil {
		w.t.Fatalf("read frame: %v", err)
	}
	var f wsFrame
	if err := json.Unmarshal(data, &f); err != nil {
		w.t.Fatalf("unmarshal frame %q: %v", data, err)
	}
	return f
}

func (w *wsClient) send(v any) {
	w.t.Helper()
	if err := w.conn.WriteJSON(v); err != nil {
		w.t.Fatalf("write: %v", err)
	}
}

// result returns the next ack or error frame, setting aside pushed messages
// that arrive first.
func (w *wsClient) result() wsFrame {
	w.t.Helper()
	for {
		f := w.read()
		if f.Type == string(frameAck) || f.Type == string(frameError) {
			return f
		}
		w.pushed = append(w.pushed, f)
	}
}

func (w *wsClient) nextPush() wsFrame {
	w.t.Helper()
	if len(w.pushed) > 0 {
		f := w.pushed[0]
		w.pushed = w.pushed[1:]
		return f
	}
	f := w.read()
	if f.Type == string(frameAck) || f.Type == string(frameError) {
		w.t.Fatalf("got %s frame, want a pushed message", f.Type)
	}
	return f
}

// waitClosed reads until the server closes the socket and returns the close
// error.
func (w *wsClient) waitClosed() error {
	w.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		_ = w.conn.SetReadDeadline(deadline)
		_, _, err := w.conn.ReadMessage()
		if err != nil {
			return err
		}
	}
}

func (e *testEnv) post(t *testing.T, body any) (int, []byte) {
	t.Helper()
	var r io.Reader = http.NoBody
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		r = bytes.NewReader(data)
	}
	resp, err := http.Post(e.ts.URL+Path, "application/json", r)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, data
}

// pollResult mirrors pollResponse but keeps the outcome as raw bytes.
type pollResult struct {
	ID       string             `json:"id"`
	Outcome  json.RawMessage    `json:"outcome"`
	Messages []registry.Message `json:"messages"`
}

func (e *testEnv) poll(t *testing.T, body any) pollResult {
	t.Helper()
	status, data := e.post(t, body)
	if status != http.StatusOK {
		t.Fatalf("status=%d body=%s, want %d", status, data, http.StatusOK)
	}
	var res pollResult
	if err := json.Unmarshal(data, &res); err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
	return res
}

func (e *testEnv) pollError(t *testing.T, body any, wantStatus int, wantCode string) {
	t.Helper()
	status, data := e.post(t, body)
	if status != wantStatus {
		t.Fatalf("status=%d body=%s, want %d", status, data, wantStatus)
	}
	var res errorResponse
	if err := json.Unmarshal(data, &res); err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
	if res.Code != wantCode {
		t.Fatalf("code=%q, want %q", res.Code, wantCode)
	}
}

func (e *testEnv) register(t *testing.T) string {
	t.Helper()
	res := e.poll(t, nil)
	if res.ID == "" {
		t.Fatalf("register returned empty id")
	}
	return res.ID
}

func jsonString(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
