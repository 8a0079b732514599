package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-ambient-light-control/effect"
	"go-ambient-light-control/metrics"
	"go-ambient-light-control/muxer"
)

func newTestServer(t *testing.T) (*gin.Engine, *muxer.Muxer) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "white.lua"), []byte(`
		for i = 0, led_count - 1 do
			set_pixel(i, 1.0, 1.0, 1.0)
		end
	`), 0o644))
	reg := effect.NewRegistry(dir, zerolog.Nop())
	require.NoError(t, reg.Load())

	m := muxer.New(muxer.Config{LEDCount: 3, Logger: zerolog.Nop()})
	runner := effect.NewRunner(m, reg, zerolog.Nop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewRouter(ctx, m, runner, reg, metrics.New(), zerolog.Nop()), m
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSetColorAndVisible(t *testing.T) {
	r, m := newTestServer(t)

	w := doJSON(t, r, http.MethodPost, "/api/color", gin.H{
		"priority": 100, "color": "#ff0000", "origin": "test",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, 100, m.VisiblePriority())

	w = doJSON(t, r, http.MethodGet, "/api/visible", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var vis visibleView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &vis))
	assert.Equal(t, 100, vis.Priority)
	assert.Equal(t, "color", vis.Component)
	require.Len(t, vis.Colors, 3)
	assert.Equal(t, muxer.RGB{R: 255}, vis.Colors[0])
}

func TestSetColorBadRequest(t *testing.T) {
	r, _ := newTestServer(t)

	w := doJSON(t, r, http.MethodPost, "/api/color", gin.H{"priority": 100, "color": "red"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodPost, "/api/color", gin.H{"priority": 300, "color": "#ff0000"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSetImage(t *testing.T) {
	r, m := newTestServer(t)

	pixels := base64.StdEncoding.EncodeToString([]byte{255, 0, 0, 0, 255, 0})
	w := doJSON(t, r, http.MethodPost, "/api/image", gin.H{
		"priority": 50, "width": 2, "height": 1, "data": pixels,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	info, ok := m.Input(50)
	require.True(t, ok)
	require.NotNil(t, info.Image)
	assert.Equal(t, 2, info.Image.Width)
}

func TestSetImageLengthMismatch(t *testing.T) {
	r, _ := newTestServer(t)
	pixels := base64.StdEncoding.EncodeToString([]byte{1, 2, 3})
	w := doJSON(t, r, http.MethodPost, "/api/image", gin.H{
		"priority": 50, "width": 2, "height": 2, "data": pixels,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListPriorities(t *testing.T) {
	r, m := newTestServer(t)
	require.NoError(t, m.Register(10, muxer.ComponentColor, "test", "", 0))
	require.NoError(t, m.SetColor(10, []muxer.RGB{{R: 1}, {}, {}}, muxer.TimeoutPersistent))

	w := doJSON(t, r, http.MethodGet, "/api/priorities", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		AutoSelect bool           `json:"auto_select"`
		Priorities []priorityView `json:"priorities"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.AutoSelect)
	require.Len(t, resp.Priorities, 2)
	assert.Equal(t, 10, resp.Priorities[0].Priority)
	assert.True(t, resp.Priorities[0].Visible)
	assert.Equal(t, muxer.PriorityLowest, resp.Priorities[1].Priority)
}

func TestClearPriority(t *testing.T) {
	r, m := newTestServer(t)
	require.NoError(t, m.Register(10, muxer.ComponentColor, "test", "", 0))

	w := doJSON(t, r, http.MethodDelete, "/api/priorities/10", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, m.Priorities(), 10)

	w = doJSON(t, r, http.MethodDelete, "/api/priorities/10", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, r, http.MethodDelete, fmt.Sprintf("/api/priorities/%d", muxer.PriorityLowest), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPinAndUnpin(t *testing.T) {
	r, m := newTestServer(t)
	require.NoError(t, m.Register(10, muxer.ComponentColor, "a", "", 0))
	require.NoError(t, m.SetColor(10, []muxer.RGB{{R: 1}, {}, {}}, muxer.TimeoutPersistent))
	require.NoError(t, m.Register(20, muxer.ComponentColor, "b", "", 0))
	require.NoError(t, m.SetColor(20, []muxer.RGB{{B: 1}, {}, {}}, muxer.TimeoutPersistent))

	w := doJSON(t, r, http.MethodPost, "/api/source", gin.H{"priority": 20})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 20, m.VisiblePriority())

	w = doJSON(t, r, http.MethodPost, "/api/source", gin.H{"priority": 99})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, r, http.MethodDelete, "/api/source", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 10, m.VisiblePriority())

	w = doJSON(t, r, http.MethodDelete, "/api/source", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestStartEffect(t *testing.T) {
	r, m := newTestServer(t)

	w := doJSON(t, r, http.MethodPost, "/api/effect", gin.H{"name": "white", "priority": 64})
	require.Equal(t, http.StatusCreated, w.Code)
	require.Eventually(t, func() bool {
		return m.VisiblePriority() == 64
	}, time.Second, 10*time.Millisecond)

	w = doJSON(t, r, http.MethodPost, "/api/effect", gin.H{"name": "missing", "priority": 64})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListEffects(t *testing.T) {
	r, _ := newTestServer(t)
	w := doJSON(t, r, http.MethodGet, "/api/effects", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "white")
}

func TestClearAllSoft(t *testing.T) {
	r, m := newTestServer(t)
	require.NoError(t, m.Register(40, muxer.ComponentGrabber, "screen", "", 0))
	require.NoError(t, m.SetImage(40, &muxer.Image{Width: 1, Height: 1, Pixels: []byte{1, 2, 3}}, muxer.TimeoutPersistent))
	require.NoError(t, m.Register(80, muxer.ComponentColor, "ui", "", 0))
	require.NoError(t, m.SetColor(80, []muxer.RGB{{R: 1}, {}, {}}, muxer.TimeoutPersistent))

	w := doJSON(t, r, http.MethodPost, "/api/clear", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []int{40, muxer.PriorityLowest}, m.Priorities())
}

func TestMetricsEndpoint(t *testing.T) {
	r, _ := newTestServer(t)
	w := doJSON(t, r, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "mux_visible_priority")
}

func TestParseHexColor(t *testing.T) {
	rgb, err := parseHexColor("#0a1B2c")
	require.NoError(t, err)
	assert.Equal(t, muxer.RGB{R: 0x0a, G: 0x1b, B: 0x2c}, rgb)

	_, err = parseHexColor("0a1b2c")
	assert.Error(t, err)
	_, err = parseHexColor("#zzzzzz")
	assert.Error(t, err)
}
