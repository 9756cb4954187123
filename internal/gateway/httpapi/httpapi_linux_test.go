package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/jkaninda/procward/internal/netgate"
	"github.com/jkaninda/procward/internal/observability"
	"github.com/jkaninda/procward/internal/protocol"
	"github.com/jkaninda/procward/internal/ratelimit"
	"github.com/jkaninda/procward/internal/report"
	"github.com/jkaninda/procward/internal/sandbox"
	"github.com/jkaninda/procward/internal/session"
	"github.com/jkaninda/procward/internal/storage/sqlite"
)

const testKey = "test-key"

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type testServer struct {
	base string
	sess *session.Session
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := l.Addr().String()
	_ = l.Close()
	return addr
}

func startServer(t *testing.T, cfg Config, rl *ratelimit.Limiter) *testServer {
	t.Helper()
	dir := t.TempDir()

	gen, err := report.New("markdown", report.Options{OutputDir: filepath.Join(dir, "reports")})
	if err != nil {
		t.Fatalf("report.New: %v", err)
	}
	db, err := sqlite.Open(sqlite.Config{Path: filepath.Join(dir, "procward.db")}, quietLogger())
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	sess, err := session.New(session.Options{
		Sandbox:       sandbox.Config{Dir: filepath.Join(dir, "sandbox_env"), LogDir: filepath.Join(dir, "reports")},
		PollInterval:  50 * time.Millisecond,
		ProcessWindow: 20 * time.Millisecond,
	}, session.Deps{
		Reporter: gen,
		Archive:  db.Sessions(),
		Gate:     netgate.New(true, quietLogger()),
		Logger:   quietLogger(),
	})
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = freeAddr(t)
	}
	gw := NewGateway(cfg, sess, db.Sessions(), rl, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	sess.Start(ctx)
	go func() { _ = gw.Start(ctx) }()
	t.Cleanup(func() {
		_ = gw.Stop(context.Background())
		_ = sess.Close(context.Background())
		cancel()
	})

	base := "http://" + cfg.ListenAddr
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(base + "/healthz")
		if err == nil {
			resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server did not come up: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	return &testServer{base: base, sess: sess}
}

func (s *testServer) do(t *testing.T, method, path, key string, body any) (int, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, s.base+path, rd)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, data
}

func startSleeper(t *testing.T) int {
	t.Helper()
	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Skipf("cannot start sleep: %v", err)
	}
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	})
	return cmd.Process.Pid
}

func TestAuthentication(t *testing.T) {
	srv := startServer(t, Config{APIKey: testKey}, nil)

	tests := []struct {
		name string
		key  string
		want int
	}{
		{"missing key", "", http.StatusUnauthorized},
		{"wrong key", "nope", http.StatusUnauthorized},
		{"valid key", testKey, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := srv.do(t, "GET", "/v1/session", tt.key, nil)
			if code != tt.want {
				t.Errorf("status = %d, want %d (%s)", code, tt.want, body)
			}
		})
	}

	// Probes stay open.
	if code, _ := srv.do(t, "GET", "/healthz", "", nil); code != http.StatusOK {
		t.Errorf("/healthz = %d", code)
	}
}

func TestErrorMapping(t *testing.T) {
	srv := startServer(t, Config{}, nil)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"detach without process", "POST", "/v1/detach", nil, http.StatusConflict},
		{"terminate without process", "POST", "/v1/terminate", nil, http.StatusConflict},
		{"priority without process", "POST", "/v1/priority", PriorityRequest{Level: "Normal"}, http.StatusConflict},
		{"unknown priority", "POST", "/v1/priority", PriorityRequest{Level: "turbo"}, http.StatusBadRequest},
		{"bad affinity", "POST", "/v1/affinity", AffinityRequest{Cores: "a-b"}, http.StatusBadRequest},
		{"attach missing pid", "POST", "/v1/attach", AttachRequest{PID: 99999999}, http.StatusNotFound},
		{"attach zero pid", "POST", "/v1/attach", AttachRequest{}, http.StatusBadRequest},
		{"empty launch", "POST", "/v1/launch", LaunchRequest{}, http.StatusBadRequest},
		{"stop without launch", "POST", "/v1/stop", nil, http.StatusConflict},
		{"unknown archived session", "GET", "/v1/sessions/" + "00000000-0000-0000-0000-000000000001", nil, http.StatusNotFound},
		{"malformed session id", "GET", "/v1/sessions/xyz", nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := srv.do(t, tt.method, tt.path, "", tt.body)
			if code != tt.want {
				t.Errorf("status = %d, want %d (%s)", code, tt.want, body)
			}
		})
	}
}

func TestAttachControlFlow(t *testing.T) {
	pid := startSleeper(t)
	srv := startServer(t, Config{}, nil)

	code, body := srv.do(t, "POST", "/v1/attach", "", AttachRequest{PID: pid})
	if code != http.StatusOK {
		t.Fatalf("attach = %d (%s)", code, body)
	}
	if !strings.Contains(string(body), `"name":"sleep"`) {
		t.Errorf("attach body = %s", body)
	}

	if code, body := srv.do(t, "POST", "/v1/priority", "", PriorityRequest{Level: "idle"}); code != http.StatusOK {
		t.Fatalf("priority = %d (%s)", code, body)
	}
	if code, body := srv.do(t, "POST", "/v1/affinity", "", AffinityRequest{Cores: "0"}); code != http.StatusOK {
		t.Fatalf("affinity = %d (%s)", code, body)
	}

	code, body = srv.do(t, "GET", "/v1/session", "", nil)
	if code != http.StatusOK {
		t.Fatalf("session = %d", code)
	}
	var st session.Status
	if err := json.Unmarshal(body, &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.Process.PID != pid || st.Priority.String() != "Idle" || st.Affinity.String() != "[0]" {
		t.Errorf("status = %+v", st)
	}

	if code, body := srv.do(t, "POST", "/v1/terminate", "", nil); code != http.StatusOK {
		t.Fatalf("terminate = %d (%s)", code, body)
	}

	code, body = srv.do(t, "GET", "/v1/transcript", "", nil)
	if code != http.StatusOK {
		t.Fatalf("transcript = %d", code)
	}
	for _, marker := range []string{"[Attached] PID " + strconv.Itoa(pid), "[Priority] set to Idle", "[Affinity] set to [0]", "[Killed]"} {
		if !strings.Contains(string(body), marker) {
			t.Errorf("transcript missing %q", marker)
		}
	}
}

func TestNetworkToggleAndExport(t *testing.T) {
	srv := startServer(t, Config{}, nil)

	code, body := srv.do(t, "POST", "/v1/network/toggle", "", nil)
	if code != http.StatusOK || !strings.Contains(string(body), `"network_blocked":false`) {
		t.Fatalf("toggle = %d (%s)", code, body)
	}

	code, body = srv.do(t, "POST", "/v1/export", "", nil)
	if code != http.StatusOK {
		t.Fatalf("export = %d (%s)", code, body)
	}
	var exp ExportResponse
	if err := json.Unmarshal(body, &exp); err != nil || !strings.HasSuffix(exp.Path, ".md") {
		t.Fatalf("export body = %s (%v)", body, err)
	}

	code, body = srv.do(t, "GET", "/v1/sessions", "", nil)
	if code != http.StatusOK {
		t.Fatalf("sessions = %d", code)
	}
	var list []SessionSummary
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("decode sessions: %v", err)
	}
	if len(list) != 1 || list[0].ReportPath != exp.Path || list[0].NetworkBlocked {
		t.Errorf("archived = %+v", list)
	}

	if code, _ := srv.do(t, "GET", "/v1/sessions/"+list[0].ID, "", nil); code != http.StatusOK {
		t.Errorf("get archived session = %d", code)
	}
	if code, _ := srv.do(t, "GET", "/v1/sessions?limit=0", "", nil); code != http.StatusBadRequest {
		t.Errorf("limit=0 = %d, want 400", code)
	}
}

func TestSamples(t *testing.T) {
	srv := startServer(t, Config{}, nil)
	deadline := time.Now().Add(3 * time.Second)
	for {
		code, body := srv.do(t, "GET", "/v1/samples", "", nil)
		if code != http.StatusOK {
			t.Fatalf("samples = %d", code)
		}
		var s SamplesResponse
		if err := json.Unmarshal(body, &s); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(s.System) > 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("no system samples collected")
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestRateLimit(t *testing.T) {
	srv := startServer(t, Config{}, ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: 1, BurstSize: 2}))

	for i := 0; i < 2; i++ {
		if code, _ := srv.do(t, "POST", "/v1/network/toggle", "", nil); code != http.StatusOK {
			t.Fatalf("request %d = %d", i, code)
		}
	}
	if code, _ := srv.do(t, "POST", "/v1/network/toggle", "", nil); code != http.StatusTooManyRequests {
		t.Errorf("third request = %d, want 429", code)
	}
	// Reads are not throttled.
	if code, _ := srv.do(t, "GET", "/v1/session", "", nil); code != http.StatusOK {
		t.Errorf("read = %d", code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	metrics := observability.NewMetricsCollector()
	srv := startServer(t, Config{MetricsRegistry: metrics.Registry, Metrics: metrics}, nil)

	srv.do(t, "GET", "/v1/session", "", nil)
	code, body := srv.do(t, "GET", "/metrics", "", nil)
	if code != http.StatusOK {
		t.Fatalf("/metrics = %d", code)
	}
	if !strings.Contains(string(body), "procward_http_requests_total") {
		t.Error("http request counter missing from exposition")
	}
}

func TestReadiness(t *testing.T) {
	health := observability.NewHealthChecker(nil)
	health.AddCheck("storage", func(context.Context) error { return context.DeadlineExceeded })
	srv := startServer(t, Config{HealthChecker: health}, nil)

	code, body := srv.do(t, "GET", "/readyz", "", nil)
	if code != http.StatusServiceUnavailable {
		t.Errorf("/readyz = %d (%s), want 503", code, body)
	}
}

func TestEventStream(t *testing.T) {
	srv := startServer(t, Config{APIKey: testKey}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.base, "http") + "/v1/events"

	if _, resp, err := websocket.Dial(ctx, wsURL, nil); err == nil {
		t.Fatal("dial without key should fail")
	} else if resp != nil && resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}

	conn, _, err := websocket.Dial(ctx, wsURL+"?token="+testKey, &websocket.DialOptions{
		Subprotocols: []string{eventsSubprotocol},
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	first := readEnvelope(ctx, t, conn)
	if first.Type != protocol.MsgHello {
		t.Fatalf("first message = %s, want hello", first.Type)
	}

	filter, _ := protocol.NewEnvelope(protocol.MsgFilter, protocol.Filter{Types: []protocol.MessageType{protocol.MsgOutputLine}})
	data, _ := json.Marshal(filter)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write filter: %v", err)
	}
	srv.sess.ToggleNetwork()

	for {
		env := readEnvelope(ctx, t, conn)
		if env.Type != protocol.MsgOutputLine {
			// Samples queued before the filter took effect.
			continue
		}
		var line protocol.OutputLine
		if err := env.Decode(&line); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if line.Line == "[Network] Allowed" {
			if env.SessionID == "" || env.ID == "" {
				t.Errorf("envelope missing ids: %+v", env)
			}
			return
		}
	}
}

func readEnvelope(ctx context.Context, t *testing.T, conn *websocket.Conn) protocol.Envelope {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return env
}
