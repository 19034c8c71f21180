package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"elderwood.ai/internal/sim/orchestrator"
	"elderwood.ai/internal/sim/tuning"
)

func newTestServer(t *testing.T, passcode string) (*httptest.Server, *orchestrator.Loop) {
	t.Helper()
	loop := orchestrator.New(orchestrator.Config{Tuning: tuning.Defaults()})
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = loop.Run(ctx) }()
	t.Cleanup(cancel)

	srv := httptest.NewServer(newMux(httpDeps{village: loop, passcode: passcode}))
	t.Cleanup(srv.Close)
	return srv, loop
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, "")
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != 200 || string(b) != "ok" {
		t.Fatalf("status=%d body=%q", resp.StatusCode, b)
	}
}

func TestTickEndpoint(t *testing.T) {
	srv, loop := newTestServer(t, "hearth")

	resp, err := http.Get(srv.URL + "/v1/tick")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET status=%d", resp.StatusCode)
	}

	resp, err = http.Post(srv.URL+"/v1/tick", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("no passcode status=%d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/tick", nil)
	req.Header.Set(PasscodeHeader, "hearth")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	var entry orchestrator.TickLogEntry
	if err := json.NewDecoder(resp.Body).Decode(&entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry.Tick != 1 || entry.DecisionStrategy != "DETERMINISTIC" {
		t.Fatalf("entry=%+v", entry)
	}
	if loop.CurrentTick() != 1 {
		t.Fatalf("CurrentTick=%d", loop.CurrentTick())
	}
}

func TestMetricsExposition(t *testing.T) {
	srv, _ := newTestServer(t, "")
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/tick", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	body := string(b)
	for _, want := range []string{
		"# TYPE elderwood_village_tick gauge",
		"elderwood_village_tick 1\n",
		"elderwood_ticks_total 1\n",
		`elderwood_trades_total{result="ok"} 0`,
		`elderwood_remote_errors_total{service="decision"} 0`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q:\n%s", want, body)
		}
	}
	if strings.Contains(body, "elderwood_index_") {
		t.Fatalf("index metrics without an index")
	}
}
