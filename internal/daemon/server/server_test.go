package server

import (
	"bufio"
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
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grovetools/slidesync/config"
	"github.com/grovetools/slidesync/internal/daemon/hub"
	"github.com/grovetools/slidesync/internal/sentinel"
	"github.com/grovetools/slidesync/logging"
)

type fixture struct {
	dir    string
	store  *config.Store
	hub    *hub.Hub
	jobs   *sentinel.Coordinator
	server *Server
}

func newFixture(t *testing.T, images ...string) *fixture {
	t.Helper()
	dir := t.TempDir()
	store, err := config.Load(filepath.Join(dir, "config.json"))
	require.NoError(t, err)

	imgDir := filepath.Join(dir, "images")
	require.NoError(t, os.MkdirAll(imgDir, 0o755))
	for _, name := range images {
		require.NoError(t, os.WriteFile(filepath.Join(imgDir, name), []byte("img:"+name), 0o644))
	}

	h := hub.New(hub.DefaultQueueSize)
	jobs := sentinel.New(sentinel.NewMemoryMarkers(), sentinel.WithGrace(0))
	return &fixture{
		dir:    dir,
		store:  store,
		hub:    h,
		jobs:   jobs,
		server: New(logging.NewLogger("server-test"), h, store, jobs),
	}
}

func (f *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req.RemoteAddr = "127.0.0.1:50000"
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
}

func TestListImages(t *testing.T) {
	f := newFixture(t, "b.jpg", "a.png", "notes.txt", ".hidden.jpg")
	rec := f.do(t, http.MethodGet, "/api/images", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var images []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &images))
	assert.Equal(t, []string{"a.png", "b.jpg"}, images)
}

func TestServeImage(t *testing.T) {
	f := newFixture(t, "a.jpg")
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "secret.txt"), []byte("x"), 0o644))

	rec := f.do(t, http.MethodGet, "/images/a.jpg", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "img:a.jpg", rec.Body.String())

	tests := []struct {
		name   string
		target string
		code   int
	}{
		{"missing", "/images/missing.jpg", http.StatusNotFound},
		{"disallowed extension", "/images/config.json", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, f.do(t, http.MethodGet, tt.target, "").Code)
		})
	}

	// Names that are not a single path element never reach the filesystem.
	for _, name := range []string{"../secret.txt", "../../x.jpg", "sub/a.jpg", ".."} {
		req := httptest.NewRequest(http.MethodGet, "/images/x", nil)
		req.SetPathValue("filename", name)
		rec := httptest.NewRecorder()
		f.server.handleImage(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code, name)
	}
}

func TestPublicConfig(t *testing.T) {
	f := newFixture(t)
	body := decodeBody(t, f.do(t, http.MethodGet, "/api/config", ""))
	assert.Equal(t, float64(5000), body["slideshowInterval"])
	assert.Equal(t, false, body["randomOrder"])
	assert.NotContains(t, body, "preprocessing")
}

func TestAdminConfigRejectsInvalid(t *testing.T) {
	f := newFixture(t)
	before := f.store.Read().Bytes()

	rec := f.do(t, http.MethodPost, "/api/admin/config", `{"preprocessing":{"quality":150}}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "preprocessing.quality", body["field"])
	assert.Equal(t, "between 1 and 100", body["constraint"])

	onDisk, err := os.ReadFile(f.store.Path())
	require.NoError(t, err)
	assert.Equal(t, before, onDisk, "rejected update must not touch the file")

	rec = f.do(t, http.MethodPost, "/api/admin/config", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminConfigGeometryChangeRequestsJob(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/admin/config", `{"slideshowInterval":8000}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, false, body["reprocessing"])

	rec = f.do(t, http.MethodPost, "/api/admin/config", `{"preprocessing":{"targetWidth":1024}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["reprocessing"])
	assert.Equal(t, 1024, f.store.Read().Preprocessing.TargetWidth)
	assert.True(t, f.jobs.Status(context.Background()).Requested)

	got := decodeBody(t, f.do(t, http.MethodGet, "/api/admin/config", ""))
	assert.Equal(t, float64(8000), got["slideshowInterval"])
}

func TestReprocessEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/admin/reprocess", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "triggered", decodeBody(t, rec)["status"])

	rec = f.do(t, http.MethodPost, "/api/admin/reprocess", "")
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "Reprocessing already in progress", decodeBody(t, rec)["error"])

	job, err := f.jobs.Begin(context.Background(), 4)
	require.NoError(t, err)
	require.NoError(t, job.Record("a.jpg", nil))

	status := decodeBody(t, f.do(t, http.MethodGet, "/api/admin/reprocess-status", ""))
	assert.Equal(t, true, status["active"])
	assert.Equal(t, float64(1), status["completed"])
	assert.Equal(t, float64(4), status["total"])

	require.Equal(t, http.StatusOK, f.do(t, http.MethodDelete, "/api/admin/reprocess", "").Code)
	status = decodeBody(t, f.do(t, http.MethodGet, "/api/admin/reprocess-status", ""))
	assert.Equal(t, false, status["active"])
}

func TestAdminStats(t *testing.T) {
	f := newFixture(t, "a.jpg", "b.jpg")
	rawDir := filepath.Join(f.dir, "raw")
	require.NoError(t, os.MkdirAll(rawDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(rawDir, "c.heic"), nil, 0o644))

	sub := f.hub.Subscribe("x")
	defer f.hub.Unsubscribe(sub)

	body := decodeBody(t, f.do(t, http.MethodGet, "/api/admin/stats", ""))
	assert.Equal(t, float64(1), body["raw"])
	assert.Equal(t, float64(2), body["processed"])
	assert.Equal(t, float64(1), body["subscribers"])
}

func TestAdminIPFilter(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.store.Replace(map[string]interface{}{
		"admin": map[string]interface{}{"allowedIPs": []interface{}{"10.0.0.0/8", "192.168.1.20"}},
	})
	require.NoError(t, err)

	tests := []struct {
		remote string
		code   int
	}{
		{"127.0.0.1:1234", http.StatusOK},
		{"[::1]:1234", http.StatusOK},
		{"10.4.5.6:1234", http.StatusOK},
		{"192.168.1.20:1234", http.StatusOK},
		{"[::ffff:192.168.1.20]:1234", http.StatusOK},
		{"192.168.1.21:1234", http.StatusForbidden},
		{"garbage", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.remote, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/admin/stats", nil)
			req.RemoteAddr = tt.remote
			rec := httptest.NewRecorder()
			f.server.Handler().ServeHTTP(rec, req)
			assert.Equal(t, tt.code, rec.Code)
		})
	}

	// Viewer endpoints are never filtered.
	req := httptest.NewRequest(http.MethodGet, "/api/config", nil)
	req.RemoteAddr = "203.0.113.9:1234"
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIPAllowedEmptyListAdmitsAll(t *testing.T) {
	assert.True(t, ipAllowed("203.0.113.9:1234", nil))
	assert.False(t, ipAllowed("203.0.113.9:1234", []string{"not-an-ip"}))
}

func readSSE(t *testing.T, r *bufio.Reader) (string, string) {
	t.Helper()
	var event, data string
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if event != "" {
				return event, data
			}
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestEventStream(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.server.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	event, data := readSSE(t, r)
	assert.Equal(t, "connected", event)
	assert.Equal(t, "{}", data)

	f.hub.Broadcast(hub.Added("new.jpg"))
	f.hub.Broadcast(hub.Reshuffled([]string{"new.jpg"}))

	event, data = readSSE(t, r)
	assert.Equal(t, "add", event)
	assert.JSONEq(t, `{"filename":"new.jpg"}`, data)
	event, data = readSSE(t, r)
	assert.Equal(t, "reshuffle", event)
	assert.JSONEq(t, `{"images":["new.jpg"]}`, data)

	// Closing the hub ends the stream.
	f.hub.Close()
	_, err = r.ReadString(0)
	assert.Error(t, err)
}

func TestEventStreamHeartbeat(t *testing.T) {
	f := newFixture(t)
	f.server.SetHeartbeat(20 * time.Millisecond)
	ts := httptest.NewServer(f.server.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/events")
	require.NoError(t, err)
	defer resp.Body.Close()

	r := bufio.NewReader(resp.Body)
	_, _ = readSSE(t, r)
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, ": ping") {
			break
		}
	}
}

func TestWebSocketStream(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.server.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var frame struct {
		Event string          `json:"event"`
		Seq   uint64          `json:"seq"`
		Data  json.RawMessage `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "connected", frame.Event)

	require.Eventually(t, func() bool { return f.hub.Stats().Subscribers == 1 }, time.Second, 5*time.Millisecond)
	f.hub.Broadcast(hub.Removed("old.jpg"))
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "remove", frame.Event)
	assert.JSONEq(t, `{"filename":"old.jpg"}`, string(frame.Data))

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return f.hub.Stats().Subscribers == 0 }, time.Second, 5*time.Millisecond)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodGet, "/health", "")
	rec := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, bytes.Contains(rec.Body.Bytes(), []byte("slidesync_api_requests_total")))
}
