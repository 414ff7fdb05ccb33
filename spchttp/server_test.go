package spchttp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	spc "github.com/sundaman/defect-warning-system"
	"github.com/sundaman/defect-warning-system/manager"
	"github.com/sundaman/defect-warning-system/storage"
)

type capturePusher struct {
	alerts chan Alert
}

func (p *capturePusher) Push(_ context.Context, alert Alert) error {
	p.alerts <- alert
	return nil
}

func newTestServer(t *testing.T) (*httptest.Server, *capturePusher) {
	t.Helper()
	dir := t.TempDir()

	configs, err := storage.NewJSONConfigStore(filepath.Join(dir, "configs.json"))
	require.NoError(t, err)
	db, err := storage.OpenSQL(context.Background(), filepath.Join(dir, "test.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	defaults := spc.DefaultConfig()
	defaults.Mu0 = 0.005
	defaults.BaseN = 1000
	defaults.MonitoringSide = spc.SideUpper

	mgr, err := manager.New(manager.Config{
		Defaults:    defaults,
		ConfigStore: configs,
		StateStore:  db,
		RecordLog:   db,
		Logger:      zerolog.Nop(),
	})
	require.NoError(t, err)

	pusher := &capturePusher{alerts: make(chan Alert, 8)}
	srv := httptest.NewServer(NewServer(mgr, db, pusher, zerolog.Nop()).Handler())
	t.Cleanup(srv.Close)
	return srv, pusher
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func putJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPut, url, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestIngest(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := postJSON(t, srv.URL+"/api/v1/data/ingest", map[string]any{
		"item_name": "Yield_A",
		"value":     0.005,
		"n":         1000,
		"timestamp": "2024-03-01T00:00:00Z",
		"product":   "P1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res manager.Result
	decodeBody(t, resp, &res)
	assert.Equal(t, "p1::unknownline::unknownstation::yield_a", res.Key)
	assert.False(t, res.Alert)
	assert.Len(t, res.Trajectory, 1)
}

func TestIngestRejectsBadSample(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := postJSON(t, srv.URL+"/api/v1/data/ingest", map[string]any{
		"item_name": "x",
		"value":     0.005,
		"n":         0,
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestIngestAlertPushes(t *testing.T) {
	srv, pusher := newTestServer(t)
	resp := postJSON(t, srv.URL+"/api/v1/data/ingest", map[string]any{
		"item_name": "x",
		"value":     0.1,
		"n":         1000,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res manager.Result
	decodeBody(t, resp, &res)
	require.True(t, res.Alert)
	require.True(t, res.ShouldPush)

	select {
	case alert := <-pusher.alerts:
		assert.NotEmpty(t, alert.ID)
		assert.Equal(t, "x", alert.Key)
		assert.Equal(t, spc.SideUpper, alert.Side)
		assert.Len(t, alert.History.Values, 1)
	case <-time.After(5 * time.Second):
		t.Fatal("expected an alert push")
	}
}

func TestRegisterAndListConfigs(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := postJSON(t, srv.URL+"/api/v1/items/register", map[string]any{
		"item_name": "Item1",
		"config":    map[string]any{"mu0": 0.01},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err := http.Get(srv.URL + "/api/v1/configs")
	require.NoError(t, err)
	var body struct {
		Items map[string]spc.ConfigPatch `json:"items"`
	}
	decodeBody(t, resp, &body)
	require.Contains(t, body.Items, "item1")
	assert.Equal(t, 0.01, *body.Items["item1"].Mu0)
}

func TestRegisterRequiresItemName(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := postJSON(t, srv.URL+"/api/v1/items/register", map[string]any{})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBatchImport(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := postJSON(t, srv.URL+"/api/v1/items/batch-import", map[string]any{
		"items":  []string{"a", "b"},
		"config": map[string]any{"mu0": 0.02},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Imported int `json:"imported"`
	}
	decodeBody(t, resp, &body)
	assert.Equal(t, 2, body.Imported)
}

func TestUpdateGlobalConfig(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := putJSON(t, srv.URL+"/api/v1/configs/global", map[string]any{"target_arl0": 500})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	bad := putJSON(t, srv.URL+"/api/v1/configs/global", map[string]any{"target_arl0": 0.5})
	defer bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestUpdateAndDeleteConfig(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := putJSON(t, srv.URL+"/api/v1/configs/itemx", map[string]any{"mu0": 0.02})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/configs/itemx", nil)
	require.NoError(t, err)
	del, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer del.Body.Close()
	assert.Equal(t, http.StatusOK, del.StatusCode)
}

func TestBatchDelete(t *testing.T) {
	srv, _ := newTestServer(t)
	// Create a live detector for key "x".
	resp := postJSON(t, srv.URL+"/api/v1/data/ingest", map[string]any{
		"item_name": "x", "value": 0.005, "n": 1000,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/api/v1/configs/batch-delete", map[string]any{
		"keys": []string{"x", "ghost"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Requested int `json:"requested"`
		Deleted   int `json:"deleted"`
	}
	decodeBody(t, resp, &body)
	assert.Equal(t, 2, body.Requested)
	assert.Equal(t, 1, body.Deleted)
}

func TestHistory(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := postJSON(t, srv.URL+"/api/v1/data/ingest", map[string]any{
		"item_name": "x", "value": 0.005, "n": 1000,
		"timestamp": "2024-03-01T00:00:00Z",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err := http.Get(srv.URL + "/api/v1/history?item_name=x")
	require.NoError(t, err)
	var body struct {
		Count   int          `json:"count"`
		Records []spc.Record `json:"records"`
	}
	decodeBody(t, resp, &body)
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "x", body.Records[0].Item)

	bad, err := http.Get(srv.URL + "/api/v1/history?start_time=garbage")
	require.NoError(t, err)
	defer bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestMonitorStatus(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := postJSON(t, srv.URL+"/api/v1/data/ingest", map[string]any{
		"item_name": "x", "value": 0.005, "n": 1000,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err := http.Get(srv.URL + "/api/v1/monitor/status")
	require.NoError(t, err)
	var body struct {
		Count int `json:"count"`
	}
	decodeBody(t, resp, &body)
	assert.Equal(t, 1, body.Count)
}
