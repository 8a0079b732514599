// Package api exposes the control surface over HTTP: sources can be set and
// cleared, a priority pinned, effects started, and the muxer state inspected.
package api

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"go-ambient-light-control/effect"
	"go-ambient-light-control/metrics"
	"go-ambient-light-control/muxer"
)

type Server struct {
	mux    *muxer.Muxer
	runner *effect.Runner
	reg    *effect.Registry
	met    *metrics.Metrics
	log    zerolog.Logger

	// baseCtx bounds effect runs started over the API to the daemon lifetime.
	baseCtx context.Context
}

// NewRouter wires the gin engine. ctx bounds background work started by
// handlers.
func NewRouter(ctx context.Context, mux *muxer.Muxer, runner *effect.Runner, reg *effect.Registry, met *metrics.Metrics, logger zerolog.Logger) *gin.Engine {
	s := &Server{
		mux:     mux,
		runner:  runner,
		reg:     reg,
		met:     met,
		log:     logger.With().Str("component", "api").Logger(),
		baseCtx: ctx,
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog)

	api := r.Group("/api")
	{
		api.GET("/priorities", s.listPriorities)
		api.DELETE("/priorities/:priority", s.clearPriority)
		api.GET("/visible", s.getVisible)
		api.POST("/color", s.setColor)
		api.POST("/image", s.setImage)
		api.POST("/effect", s.startEffect)
		api.GET("/effects", s.listEffects)
		api.POST("/source", s.pinSource)
		api.DELETE("/source", s.unpinSource)
		api.POST("/clear", s.clearAll)
	}
	r.GET("/metrics", gin.WrapH(met.Handler()))

	return r
}

func (s *Server) requestLog(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.log.Debug().
		Str("method", c.Request.Method).
		Str("path", c.Request.URL.Path).
		Int("status", c.Writer.Status()).
		Dur("took", time.Since(start)).
		Msg("request")
}

type priorityView struct {
	Priority  int    `json:"priority"`
	Component string `json:"component"`
	Origin    string `json:"origin"`
	Owner     string `json:"owner,omitempty"`
	Active    bool   `json:"active"`
	Visible   bool   `json:"visible"`
	TimeoutMs int64  `json:"timeout_ms"`
}

func (s *Server) listPriorities(c *gin.Context) {
	visible := s.mux.VisiblePriority()
	var out []priorityView
	for _, p := range s.mux.Priorities() {
		info, ok := s.mux.Input(p)
		if !ok {
			continue
		}
		out = append(out, priorityView{
			Priority:  info.Priority,
			Component: info.Component.String(),
			Origin:    info.Origin,
			Owner:     info.Owner,
			Active:    info.Active(),
			Visible:   info.Priority == visible,
			TimeoutMs: info.TimeoutMs(),
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"auto_select": s.mux.AutoSelect(),
		"priorities":  out,
	})
}

type visibleView struct {
	Priority  int         `json:"priority"`
	Component string      `json:"component"`
	Origin    string      `json:"origin"`
	Owner     string      `json:"owner,omitempty"`
	Colors    []muxer.RGB `json:"colors,omitempty"`
	HasImage  bool        `json:"has_image"`
}

func (s *Server) getVisible(c *gin.Context) {
	info := s.mux.Visible()
	c.JSON(http.StatusOK, visibleView{
		Priority:  info.Priority,
		Component: info.Component.String(),
		Origin:    info.Origin,
		Owner:     info.Owner,
		Colors:    info.Colors,
		HasImage:  info.Image != nil && len(info.Image.Pixels) > 0,
	})
}

type colorRequest struct {
	Priority   int    `json:"priority"`
	Color      string `json:"color" binding:"required"`
	Origin     string `json:"origin"`
	DurationMs int64  `json:"duration_ms"`
}

func (s *Server) setColor(c *gin.Context) {
	var req colorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rgb, err := parseHexColor(req.Color)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	origin := req.Origin
	if origin == "" {
		origin = "Web API"
	}
	if err := s.mux.Register(req.Priority, muxer.ComponentColor, origin, "", 0); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	colors := make([]muxer.RGB, s.mux.LEDCount())
	for i := range colors {
		colors[i] = rgb
	}
	if err := s.mux.SetColor(req.Priority, colors, apiTimeout(req.DurationMs)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "success", "priority": req.Priority})
}

type imageRequest struct {
	Priority   int    `json:"priority"`
	Width      int    `json:"width" binding:"required"`
	Height     int    `json:"height" binding:"required"`
	Data       string `json:"data" binding:"required"`
	Origin     string `json:"origin"`
	DurationMs int64  `json:"duration_ms"`
}

func (s *Server) setImage(c *gin.Context) {
	var req imageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	pixels, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "data is not valid base64"})
		return
	}
	if len(pixels) != req.Width*req.Height*3 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("expected %d pixel bytes, got %d", req.Width*req.Height*3, len(pixels)),
		})
		return
	}
	origin := req.Origin
	if origin == "" {
		origin = "Web API"
	}
	if err := s.mux.Register(req.Priority, muxer.ComponentImage, origin, "", 0); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	img := &muxer.Image{Width: req.Width, Height: req.Height, Pixels: pixels}
	if err := s.mux.SetImage(req.Priority, img, apiTimeout(req.DurationMs)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "success", "priority": req.Priority})
}

type effectRequest struct {
	Name       string `json:"name" binding:"required"`
	Priority   int    `json:"priority"`
	DurationMs int64  `json:"duration_ms"`
}

func (s *Server) startEffect(c *gin.Context) {
	var req effectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	runID, err := s.runner.Start(s.baseCtx, req.Name, req.Priority, req.DurationMs)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, effect.ErrUnknownEffect) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "success", "run_id": runID})
}

func (s *Server) listEffects(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"effects": s.reg.Names()})
}

func (s *Server) clearPriority(c *gin.Context) {
	p, err := strconv.Atoi(c.Param("priority"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "priority must be an integer"})
		return
	}
	if !s.mux.Clear(p) {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("priority %d not clearable", p)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cleared", "priority": p})
}

func (s *Server) clearAll(c *gin.Context) {
	force := c.Query("force") == "true"
	s.mux.ClearAll(force)
	c.JSON(http.StatusOK, gin.H{"status": "cleared", "force": force})
}

type sourceRequest struct {
	Priority int `json:"priority"`
}

func (s *Server) pinSource(c *gin.Context) {
	var req sourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !s.mux.SetManualPriority(req.Priority) {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("priority %d not present", req.Priority)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "pinned", "priority": req.Priority})
}

func (s *Server) unpinSource(c *gin.Context) {
	if !s.mux.SetAutoSelect(true) {
		c.JSON(http.StatusConflict, gin.H{"error": "auto-select already enabled"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "auto"})
}

// apiTimeout maps the API duration to the muxer boundary encoding: anything
// not positive means "until cleared".
func apiTimeout(durationMs int64) int64 {
	if durationMs <= 0 {
		return muxer.TimeoutPersistent
	}
	return durationMs
}

// parseHexColor decodes "#RRGGBB".
func parseHexColor(s string) (muxer.RGB, error) {
	if len(s) != 7 || s[0] != '#' {
		return muxer.RGB{}, fmt.Errorf("color must look like #RRGGBB, got %q", s)
	}
	v, err := strconv.ParseUint(s[1:], 16, 32)
	if err != nil {
		return muxer.RGB{}, fmt.Errorf("color must look like #RRGGBB, got %q", s)
	}
	return muxer.RGB{
		R: uint8(v >> 16),
		G: uint8(v >> 8),
		B: uint8(v),
	}, nil
}
