package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/atlas-desktop/stratrunner/internal/api"
	"github.com/atlas-desktop/stratrunner/internal/config"
	"github.com/atlas-desktop/stratrunner/internal/engine"
)

const noopScript = `
function detect_opportunity(bar, ctx, ind) { return null; }
function filter_commitment(bar, ctx, ind) { return null; }
function manage_position(bar, ctx, ind) { return null; }
`

func writeScript(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "strategy.js")
	if err := os.WriteFile(path, []byte(noopScript), 0o644); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func setupTestServer(t *testing.T) (*httptest.Server, *engine.Engine) {
	t.Helper()
	eng := engine.New(engine.DefaultConfig(), zap.NewNop())
	t.Cleanup(eng.Shutdown)

	srv := api.NewServer(zap.NewNop(), config.Default().Server, eng)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, eng
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := setupTestServer(t)
	resp, err := http.Get(ts.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestAddRunnerAndFeedBar(t *testing.T) {
	ts, eng := setupTestServer(t)
	script := writeScript(t)

	body, _ := json.Marshal(map[string]any{
		"id":          "r1",
		"symbol":      "BTCUSD",
		"script_path": script,
	})
	resp, err := http.Post(ts.URL+"/api/v1/runners", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	if ids := eng.RunnersForSymbol("BTCUSD"); len(ids) != 1 {
		t.Fatalf("expected 1 runner under BTCUSD, got %v", ids)
	}

	barBody, _ := json.Marshal(map[string]any{
		"symbol": "BTCUSD", "timestamp": 1, "open": "100", "high": "101", "low": "99", "close": "100", "volume": "10",
	})
	resp2, err := http.Post(ts.URL+"/api/v1/bars", "application/json", bytes.NewReader(barBody))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp2.StatusCode)
	}
}

func TestRemoveUnknownRunnerReturns404(t *testing.T) {
	ts, _ := setupTestServer(t)
	req, _ := http.NewRequestWithContext(context.Background(), http.MethodDelete, ts.URL+"/api/v1/runners/nope", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestSnapshotUnknownRunnerReturns404(t *testing.T) {
	ts, _ := setupTestServer(t)
	resp, err := http.Get(ts.URL + "/api/v1/runners/missing/snapshot")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

// TestEndToEndBarToEventStream exercises the full pipeline once: add a
// runner over HTTP, open the WS event stream, feed a bar over HTTP, and
// confirm the resulting TickReceived event reaches the socket.
func TestEndToEndBarToEventStream(t *testing.T) {
	ts, _ := setupTestServer(t)
	script := writeScript(t)

	addBody, _ := json.Marshal(map[string]any{"id": "e2e", "symbol": "ETHUSD", "script_path": script})
	resp, err := http.Post(ts.URL+"/api/v1/runners", "application/json", bytes.NewReader(addBody))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	defer conn.Close()

	barBody, _ := json.Marshal(map[string]any{
		"symbol": "ETHUSD", "timestamp": 1, "open": "100", "high": "101", "low": "99", "close": "100", "volume": "10",
	})
	resp2, err := http.Post(ts.URL+"/api/v1/bars", "application/json", bytes.NewReader(barBody))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp2.Body.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("timed out waiting for tick event: %v", err)
		}
		var ev struct {
			Kind     string `json:"kind"`
			RunnerID string `json:"runner_id"`
		}
		if err := json.Unmarshal(raw, &ev); err != nil {
			continue
		}
		if ev.Kind == "TickReceived" && ev.RunnerID == "e2e" {
			return
		}
	}
}
