package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"incidentwatch/internal/config"
	"incidentwatch/internal/fleet"
	"incidentwatch/internal/incidents"
	"incidentwatch/internal/security"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternal       = -32603
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type listIncidentsParams struct {
	DeviceID    string   `json:"deviceId"`
	Threshold   *float64 `json:"threshold"`
	MinDuration string   `json:"minDuration"`
}

type diagnoseWindowParams struct {
	DeviceID string `json:"deviceId"`
	Start    string `json:"start"`
	End      string `json:"end"`
}

type seriesParams struct {
	DeviceIDs []string `json:"deviceIds"`
	Start     string   `json:"start"`
	End       string   `json:"end"`
}

type tableInfo struct {
	Name        string `json:"name"`
	Allowlisted bool   `json:"allowlisted"`
}

type tableLister interface {
	ListTables(ctx context.Context) ([]string, error)
}

type tool struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

var toolCatalog = []tool{
	{Name: "incidents.list", Description: "List incidents for one device (deviceId) or every device; threshold and minDuration override the defaults"},
	{Name: "incidents.diagnose_window", Description: "Diagnose deviceId between start and end"},
	{Name: "incidents.series", Description: "Raw score and alert series for deviceIds between optional start and end"},
	{Name: "snapshot.summary", Description: "Counts and time range of the loaded snapshot"},
	{Name: "source.list_tables", Description: "Tables visible on the configured SQL source"},
}

type toolServer struct {
	svc      *incidents.Service
	defaults incidents.Query
	tables   tableLister
	allow    security.Allowlist
	timeout  time.Duration
	logger   *slog.Logger
}

func (s *toolServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/rpc", s.handleRPC)
	return mux
}

func (s *toolServer) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeRPCError(w, nil, http.StatusMethodNotAllowed, &rpcError{Code: codeInvalidRequest, Message: "method not allowed"})
		return
	}
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRPCError(w, nil, http.StatusBadRequest, &rpcError{Code: codeParseError, Message: "invalid json"})
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		writeRPCError(w, req.ID, http.StatusBadRequest, &rpcError{Code: codeInvalidRequest, Message: "invalid request"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	result, err := s.call(ctx, req.Method, req.Params)
	if err != nil {
		status, rerr := s.toRPCError(req.Method, err)
		writeRPCError(w, req.ID, status, rerr)
		return
	}
	writeRPC(w, http.StatusOK, rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: result})
}

var errMethodNotFound = errors.New("method not found")

func (s *toolServer) call(ctx context.Context, method string, raw json.RawMessage) (any, error) {
	switch method {
	case "tools/list":
		return map[string]any{"tools": toolCatalog}, nil
	case "incidents.list":
		var params listIncidentsParams
		if err := decodeParams(raw, &params); err != nil {
			return nil, err
		}
		q := s.defaults
		q.DeviceID = params.DeviceID
		if params.Threshold != nil {
			q.Threshold = *params.Threshold
		}
		if params.MinDuration != "" {
			d, err := config.ParseDuration(params.MinDuration)
			if err != nil {
				return nil, invalidField("minDuration", err)
			}
			q.MinDuration = d
		}
		found, err := s.svc.ListIncidents(ctx, q)
		if err != nil {
			return nil, err
		}
		return map[string]any{"count": len(found), "incidents": found}, nil
	case "incidents.diagnose_window":
		var params diagnoseWindowParams
		if err := decodeParams(raw, &params); err != nil {
			return nil, err
		}
		q := incidents.WindowQuery{DeviceID: params.DeviceID}
		var err error
		if q.Start, err = fleet.ParseTimestamp(params.Start); err != nil {
			return nil, invalidField("start", err)
		}
		if q.End, err = fleet.ParseTimestamp(params.End); err != nil {
			return nil, invalidField("end", err)
		}
		report, err := s.svc.DiagnoseWindow(ctx, q)
		if err != nil {
			return nil, err
		}
		return map[string]any{"found": report != nil, "report": report}, nil
	case "incidents.series":
		var params seriesParams
		if err := decodeParams(raw, &params); err != nil {
			return nil, err
		}
		q := incidents.SeriesQuery{DeviceIDs: params.DeviceIDs}
		var err error
		if params.Start != "" {
			if q.Start, err = fleet.ParseTimestamp(params.Start); err != nil {
				return nil, invalidField("start", err)
			}
		}
		if params.End != "" {
			if q.End, err = fleet.ParseTimestamp(params.End); err != nil {
				return nil, invalidField("end", err)
			}
		}
		series, err := s.svc.Series(ctx, q)
		if err != nil {
			return nil, err
		}
		return map[string]any{"series": series}, nil
	case "snapshot.summary":
		return s.svc.Summary(), nil
	case "source.list_tables":
		if s.tables == nil {
			return nil, errors.New("source is not a SQL database")
		}
		names, err := s.tables.ListTables(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]tableInfo, 0, len(names))
		for _, name := range names {
			out = append(out, tableInfo{Name: name, Allowlisted: s.allow.AllowsTable(name)})
		}
		return map[string]any{"tables": out}, nil
	default:
		return nil, errMethodNotFound
	}
}

func decodeParams(raw json.RawMessage, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return &incidents.ValidationError{Code: "INVALID_PARAMS", Message: "invalid params"}
	}
	return nil
}

func invalidField(field string, err error) error {
	return &incidents.ValidationError{
		Code:    "INVALID_PARAMS",
		Message: "invalid params",
		Details: []incidents.ErrorDetail{{Field: field, Problem: err.Error()}},
	}
}

func (s *toolServer) toRPCError(method string, err error) (int, *rpcError) {
	var verr *incidents.ValidationError
	switch {
	case errors.Is(err, errMethodNotFound):
		return http.StatusNotFound, &rpcError{Code: codeMethodNotFound, Message: err.Error()}
	case errors.As(err, &verr):
		return http.StatusBadRequest, &rpcError{Code: codeInvalidParams, Message: verr.Message, Data: verr.Details}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, &rpcError{Code: codeInternal, Message: "query timed out"}
	default:
		s.logger.Error("tool call failed", slog.String("method", method), slog.String("error", err.Error()))
		return http.StatusInternalServerError, &rpcError{Code: codeInternal, Message: err.Error()}
	}
}

func writeRPCError(w http.ResponseWriter, id any, status int, rerr *rpcError) {
	writeRPC(w, status, rpcResponse{JSONRPC: "2.0", ID: id, Error: rerr})
}

func writeRPC(w http.ResponseWriter, status int, resp rpcResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
