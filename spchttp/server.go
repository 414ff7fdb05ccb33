// Package spchttp exposes the detection service over HTTP: sample ingest,
// item registration, configuration management, record history, and monitor
// status.
package spchttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	spc "github.com/sundaman/defect-warning-system"
	"github.com/sundaman/defect-warning-system/manager"
)

// Server holds the HTTP handlers over a manager and the record log. A nil
// pusher disables alert notification delivery.
type Server struct {
	mgr     *manager.Manager
	records spc.RecordLog
	pusher  Pusher
	log     zerolog.Logger
}

// NewServer creates the HTTP surface.
func NewServer(mgr *manager.Manager, records spc.RecordLog, pusher Pusher, log zerolog.Logger) *Server {
	return &Server{mgr: mgr, records: records, pusher: pusher, log: log}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/data/ingest", s.handleIngest)
		r.Post("/items/register", s.handleRegister)
		r.Post("/items/batch-import", s.handleBatchImport)
		r.Get("/configs", s.handleListConfigs)
		r.Put("/configs/global", s.handleUpdateGlobal)
		r.Put("/configs/{key}", s.handleUpdateConfig)
		r.Delete("/configs/{key}", s.handleDeleteConfig)
		r.Post("/configs/batch-delete", s.handleBatchDelete)
		r.Get("/history", s.handleHistory)
		r.Get("/monitor/status", s.handleMonitorStatus)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"detectors": len(s.mgr.Keys()),
	})
}

// ingestRequest is one sample submission. The timestamp is an ISO-8601
// string; an absent or unparseable one falls back to the wall clock.
type ingestRequest struct {
	Item      string           `json:"item_name"`
	ItemType  spc.ItemType     `json:"item_type,omitempty"`
	Product   string           `json:"product,omitempty"`
	Line      string           `json:"line,omitempty"`
	Station   string           `json:"station,omitempty"`
	Value     float64          `json:"value"`
	N         int              `json:"n"`
	Timestamp string           `json:"timestamp,omitempty"`
	Tags      map[string]any   `json:"tags,omitempty"`
	Config    *spc.ConfigPatch `json:"config,omitempty"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sample := spc.Sample{
		Item:  req.Item,
		Type:  req.ItemType,
		Value: req.Value,
		N:     req.N,
		Tags:  req.Tags,
		Context: spc.Context{
			Product: req.Product,
			Line:    req.Line,
			Station: req.Station,
		},
	}
	if req.Timestamp != "" {
		if ts, ok := spc.ParseTimestamp(req.Timestamp); ok {
			sample.Time = ts
		}
	}

	res, err := s.mgr.Process(r.Context(), sample, req.Config)
	if err != nil {
		if errors.Is(err, spc.ErrBadSample) {
			writeError(w, http.StatusBadRequest, err)
		} else {
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	if res.ShouldPush && s.pusher != nil {
		alert := NewAlert(req.Item, res)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := s.pusher.Push(ctx, alert); err != nil {
				s.log.Error().Err(err).Str("key", res.Key).Msg("alert push failed")
			}
		}()
	}

	writeJSON(w, http.StatusOK, res)
}

type registerRequest struct {
	Item    string          `json:"item_name"`
	Product string          `json:"product,omitempty"`
	Line    string          `json:"line,omitempty"`
	Station string          `json:"station,omitempty"`
	Config  spc.ConfigPatch `json:"config"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Item == "" {
		writeError(w, http.StatusBadRequest, errors.New("item_name is required"))
		return
	}
	pctx := spc.Context{Product: req.Product, Line: req.Line, Station: req.Station}
	if err := s.mgr.Register(req.Item, pctx, req.Config); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"registered": spc.NewKey(req.Item, pctx).String(),
	})
}

type batchImportRequest struct {
	Items   []string        `json:"items"`
	Product string          `json:"product,omitempty"`
	Line    string          `json:"line,omitempty"`
	Station string          `json:"station,omitempty"`
	Config  spc.ConfigPatch `json:"config"`
}

func (s *Server) handleBatchImport(w http.ResponseWriter, r *http.Request) {
	var req batchImportRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("items is required"))
		return
	}
	pctx := spc.Context{Product: req.Product, Line: req.Line, Station: req.Station}
	n, err := s.mgr.BatchImport(req.Items, req.Config, pctx)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"imported": n,
			"error":    err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"imported": n})
}

func (s *Server) handleListConfigs(w http.ResponseWriter, _ *http.Request) {
	global, perKey, err := s.mgr.ListConfigs()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"global": global,
		"items":  perKey,
	})
}

func (s *Server) handleUpdateGlobal(w http.ResponseWriter, r *http.Request) {
	var patch spc.ConfigPatch
	if !decodeJSON(w, r, &patch) {
		return
	}
	if err := s.mgr.UpdateGlobal(patch); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": "global"})
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	var patch spc.ConfigPatch
	if !decodeJSON(w, r, &patch) {
		return
	}
	live, err := s.mgr.UpdateConfig(key, patch)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"updated":       key,
		"live_detector": live,
	})
}

func (s *Server) handleDeleteConfig(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	found, err := s.mgr.Delete(r.Context(), key)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"deleted": key,
		"found":   found,
	})
}

type batchDeleteRequest struct {
	Keys []string `json:"keys"`
}

func (s *Server) handleBatchDelete(w http.ResponseWriter, r *http.Request) {
	var req batchDeleteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	deleted := 0
	for _, key := range req.Keys {
		found, err := s.mgr.Delete(r.Context(), key)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if found {
			deleted++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"requested": len(req.Keys),
		"deleted":   deleted,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := spc.RecordFilter{
		Item:    q.Get("item_name"),
		Product: q.Get("product"),
		Line:    q.Get("line"),
		Station: q.Get("station"),
	}
	if v := q.Get("start_time"); v != "" {
		if ts, ok := spc.ParseTimestamp(v); ok {
			filter.From = ts
		} else {
			writeError(w, http.StatusBadRequest, errors.New("invalid start_time"))
			return
		}
	}
	if v := q.Get("end_time"); v != "" {
		if ts, ok := spc.ParseTimestamp(v); ok {
			filter.To = ts
		} else {
			writeError(w, http.StatusBadRequest, errors.New("invalid end_time"))
			return
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("invalid limit"))
			return
		}
		filter.Limit = n
	}

	records, err := s.records.Query(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if records == nil {
		records = []spc.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(records),
		"records": records,
	})
}

func (s *Server) handleMonitorStatus(w http.ResponseWriter, _ *http.Request) {
	statuses := s.mgr.StatusAll()
	writeJSON(w, http.StatusOK, map[string]any{
		"count":     len(statuses),
		"detectors": statuses,
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
