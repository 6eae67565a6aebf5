package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"starstep/internal/config"
	"starstep/internal/engine"
	"starstep/internal/storage"
	"starstep/internal/transform"

	"github.com/gorilla/websocket"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func newTestServer(t *testing.T) (*Server, *storage.Store) {
	t.Helper()
	store, err := storage.New(filepath.Join(t.TempDir(), "starstep.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	eng := engine.New(&config.Config{}, transform.NewRegistry(), nil, nil, store)
	return NewServer("", store, eng, nil), store
}

func TestHealthAndPhases(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz: %v %v", resp, err)
	}
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/phases")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var phases []struct {
		ID     int    `json:"id"`
		Name   string `json:"name"`
		Master bool   `json:"master"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&phases); err != nil {
		t.Fatal(err)
	}
	if len(phases) != 17 {
		t.Fatalf("expected 17 phases, got %d", len(phases))
	}
	last := phases[len(phases)-1]
	if last.Name != "onPostProcessEnd" || !last.Master {
		t.Fatalf("unexpected last phase %+v", last)
	}
}

func TestRunHistory(t *testing.T) {
	srv, store := newTestServer(t)
	if err := store.RecordRunStart(storage.RunRecord{ID: "run-1", InputPath: "/in"}); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordOperationQueued(storage.OperationRecord{ID: "op-1", RunID: "run-1", Name: "onCalibrationEnd #1: Mark", Kind: "custom", Status: "pending"}); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordFrameResult(storage.FrameRecord{OperationID: "op-1", Source: "/in/a.fits", Status: "succeeded"}); err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	var runs []storage.RunRecord
	getJSON(t, ts.URL+"/runs?limit=5", &runs)
	if len(runs) != 1 || runs[0].ID != "run-1" {
		t.Fatalf("unexpected runs %+v", runs)
	}
	var ops []storage.OperationRecord
	getJSON(t, ts.URL+"/runs/run-1/operations", &ops)
	if len(ops) != 1 || ops[0].Name != "onCalibrationEnd #1: Mark" {
		t.Fatalf("unexpected operations %+v", ops)
	}
	var frames []storage.FrameRecord
	getJSON(t, ts.URL+"/operations/op-1/frames", &frames)
	if len(frames) != 1 || frames[0].Source != "/in/a.fits" {
		t.Fatalf("unexpected frames %+v", frames)
	}
}

func getJSON(t *testing.T, url string, v any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: %s", url, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatal(err)
	}
}

func TestPlanEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	input := t.TempDir()
	if err := os.MkdirAll(filepath.Join(input, "lights"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(input, "lights", "a.fits"), []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}
	body, _ := json.Marshal(engine.Request{
		InputDir:     input,
		Instructions: filepath.Join(input, "missing.yaml"),
		OutputDir:    filepath.Join(input, "out"),
	})
	resp, err := http.Post(ts.URL+"/plan", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("plan status %s", resp.Status)
	}
	var rep engine.Report
	if err := json.NewDecoder(resp.Body).Decode(&rep); err != nil {
		t.Fatal(err)
	}
	if len(rep.Groups) != 1 || len(rep.Planned) != 0 {
		t.Fatalf("unexpected plan %+v", rep)
	}

	resp, err = http.Post(ts.URL+"/plan", "application/json", strings.NewReader("{"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("malformed body should be rejected, got %s", resp.Status)
	}
}

func TestStartRunReportsOutcome(t *testing.T) {
	srv, store := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	post := func(req engine.Request) *http.Response {
		t.Helper()
		body, _ := json.Marshal(req)
		resp, err := http.Post(ts.URL+"/runs", "application/json", bytes.NewReader(body))
		if err != nil {
			t.Fatal(err)
		}
		return resp
	}

	missing := filepath.Join(t.TempDir(), "absent")
	resp := post(engine.Request{InputDir: missing, OutputDir: filepath.Join(t.TempDir(), "out")})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("unreadable session should be rejected, got %s", resp.Status)
	}

	input := t.TempDir()
	if err := os.MkdirAll(filepath.Join(input, "lights"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(input, "lights", "a.fits"), []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}
	resp = post(engine.Request{InputDir: input, Instructions: filepath.Join(input, "none.yaml"), OutputDir: filepath.Join(input, "out")})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %s", resp.Status)
	}
	var started map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&started); err != nil {
		t.Fatal(err)
	}
	if started["run_id"] == "" {
		t.Fatalf("response should carry the run id, got %v", started)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		runs, err := store.RecentRuns(1)
		if err == nil && len(runs) == 1 && runs[0].ID == started["run_id"] && runs[0].Status == "done" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("run %s never finished: %+v, %v", started["run_id"], runs, err)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestWebSocketBroadcast(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.hub.Run(ctx)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// registration races the dial; keep sending until the client is known
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		tick := time.NewTicker(20 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				srv.hub.Broadcast([]byte(`{"status":"done"}`))
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(msg) != `{"status":"done"}` {
		t.Fatalf("unexpected message %s", msg)
	}
}

func TestGRPCHealth(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	gs := NewGRPCServer(lis.Addr().String(), nil)
	done := make(chan error, 1)
	go func() { done <- gs.Serve(ctx, lis) }()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	client := healthpb.NewHealthClient(conn)
	callCtx, callCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer callCancel()
	resp, err := client.Check(callCtx, &healthpb.HealthCheckRequest{Service: HealthService}, grpc.WaitForReady(true))
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING, got %v", resp.Status)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Serve: %v", err)
	}
}
