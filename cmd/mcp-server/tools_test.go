package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"incidentwatch/internal/fleet"
	"incidentwatch/internal/incidents"
	"incidentwatch/internal/security"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeTables struct {
	names []string
	err   error
}

func (f fakeTables) ListTables(ctx context.Context) ([]string, error) {
	return f.names, f.err
}

func newTestServer() *toolServer {
	b := fleet.NewBuilder()
	for i, score := range []float64{0.1, 1.5, 1.6, 1.4, 0.2} {
		b.AddScore(fleet.ScorePoint{
			Time:      t0.Add(time.Duration(i*2) * time.Minute),
			DeviceID:  "D1",
			Aggregate: score,
			Sensors:   []fleet.SensorScore{{Sensor: "temperature-sensor", Score: score}},
		})
	}
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return &toolServer{
		svc:      incidents.NewService(b.Build(t0.Add(time.Hour)), incidents.DefaultSettings(), logger),
		defaults: incidents.Query{Threshold: 1.0, MinDuration: 4 * time.Minute},
		timeout:  5 * time.Second,
		logger:   logger,
	}
}

func call(t *testing.T, h http.Handler, body string) (int, rpcResponse, map[string]any) {
	t.Helper()
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewBufferString(body)))
	var decoded rpcResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	result, _ := decoded.Result.(map[string]any)
	return resp.Code, decoded, result
}

func TestListIncidentsTool(t *testing.T) {
	h := newTestServer().routes()
	status, resp, result := call(t, h, `{"jsonrpc":"2.0","id":1,"method":"incidents.list","params":{"deviceId":"D1"}}`)
	if status != http.StatusOK || resp.Error != nil {
		t.Fatalf("expected success, got %d %+v", status, resp.Error)
	}
	if result["count"].(float64) != 1 {
		t.Fatalf("expected one incident, got %v", result["count"])
	}

	_, _, result = call(t, h, `{"jsonrpc":"2.0","id":2,"method":"incidents.list","params":{"minDuration":"PT10M"}}`)
	if result["count"].(float64) != 0 {
		t.Fatalf("expected no incident at 10 minutes, got %v", result["count"])
	}

	status, resp, _ = call(t, h, `{"jsonrpc":"2.0","id":3,"method":"incidents.list","params":{"minDuration":"soon"}}`)
	if status != http.StatusBadRequest || resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("expected invalid params, got %d %+v", status, resp.Error)
	}
}

func TestDiagnoseWindowTool(t *testing.T) {
	h := newTestServer().routes()
	_, resp, result := call(t, h, `{"jsonrpc":"2.0","id":1,"method":"incidents.diagnose_window","params":{"deviceId":"D1","start":"2024-03-01 09:00:00","end":"2024-03-01 09:10:00"}}`)
	if resp.Error != nil || result["found"] != true {
		t.Fatalf("expected a report, got %+v %v", resp.Error, result)
	}

	_, resp, result = call(t, h, `{"jsonrpc":"2.0","id":2,"method":"incidents.diagnose_window","params":{"deviceId":"D1","start":"2024-03-05 09:00:00","end":"2024-03-05 09:10:00"}}`)
	if resp.Error != nil || result["found"] != false {
		t.Fatalf("expected empty window, got %+v %v", resp.Error, result)
	}

	status, resp, _ := call(t, h, `{"jsonrpc":"2.0","id":3,"method":"incidents.diagnose_window","params":{"deviceId":"D1","start":"nope","end":"2024-03-05 09:10:00"}}`)
	if status != http.StatusBadRequest || resp.Error.Code != codeInvalidParams {
		t.Fatalf("expected invalid params, got %d %+v", status, resp.Error)
	}
}

func TestSeriesAndSummaryTools(t *testing.T) {
	h := newTestServer().routes()
	_, resp, result := call(t, h, `{"jsonrpc":"2.0","id":1,"method":"incidents.series","params":{"deviceIds":["D1"],"start":"2024-03-01 09:02:00"}}`)
	if resp.Error != nil {
		t.Fatalf("unexpected error %+v", resp.Error)
	}
	series := result["series"].([]any)
	points := series[0].(map[string]any)["points"].([]any)
	if len(points) != 4 {
		t.Fatalf("expected 4 points from 09:02, got %d", len(points))
	}

	_, _, result = call(t, h, `{"jsonrpc":"2.0","id":2,"method":"snapshot.summary"}`)
	if result["records"].(float64) != 5 {
		t.Fatalf("unexpected summary %v", result)
	}
}

func TestListTablesTool(t *testing.T) {
	srv := newTestServer()
	h := srv.routes()
	status, _, _ := call(t, h, `{"jsonrpc":"2.0","id":1,"method":"source.list_tables"}`)
	if status != http.StatusInternalServerError {
		t.Fatalf("expected failure without SQL source, got %d", status)
	}

	srv.tables = fakeTables{names: []string{"anomaly_scores", "audit_log"}}
	srv.allow = security.Allowlist{Tables: []string{"ANOMALY_SCORES"}}
	_, resp, result := call(t, h, `{"jsonrpc":"2.0","id":2,"method":"source.list_tables"}`)
	if resp.Error != nil {
		t.Fatalf("unexpected error %+v", resp.Error)
	}
	tables := result["tables"].([]any)
	if len(tables) != 2 || tables[0].(map[string]any)["allowlisted"] != true || tables[1].(map[string]any)["allowlisted"] != false {
		t.Fatalf("unexpected tables %v", tables)
	}

	srv.tables = fakeTables{err: errors.New("connection reset")}
	status, resp, _ = call(t, h, `{"jsonrpc":"2.0","id":3,"method":"source.list_tables"}`)
	if status != http.StatusInternalServerError || resp.Error.Message != "connection reset" {
		t.Fatalf("expected driver error, got %d %+v", status, resp.Error)
	}
}

func TestRPCEnvelopeErrors(t *testing.T) {
	h := newTestServer().routes()
	status, resp, _ := call(t, h, `{"jsonrpc":"2.0","id":1,"method":"db.drop"}`)
	if status != http.StatusNotFound || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("expected method not found, got %d %+v", status, resp.Error)
	}
	status, resp, _ = call(t, h, `{"jsonrpc":"1.0","id":1,"method":"tools/list"}`)
	if status != http.StatusBadRequest || resp.Error.Code != codeInvalidRequest {
		t.Fatalf("expected invalid request, got %d %+v", status, resp.Error)
	}
	status, resp, _ = call(t, h, `{`)
	if status != http.StatusBadRequest || resp.Error.Code != codeParseError {
		t.Fatalf("expected parse error, got %d %+v", status, resp.Error)
	}
	_, resp, result := call(t, h, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	if resp.Error != nil || len(result["tools"].([]any)) != len(toolCatalog) {
		t.Fatalf("unexpected catalog %v", result)
	}

	get := httptest.NewRecorder()
	h.ServeHTTP(get, httptest.NewRequest(http.MethodGet, "/rpc", nil))
	if get.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", get.Code)
	}
}
