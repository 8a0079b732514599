// Package grabber feeds periodic screen captures into the muxer as image
// input, the local stand-in for a capture card.
package grabber

import (
	"context"
	"errors"
	"image"
	"time"

	"github.com/rs/zerolog"
	"github.com/vova616/screenshot"

	"go-ambient-light-control/metrics"
	"go-ambient-light-control/muxer"
)

type Grabber struct {
	mux      *muxer.Muxer
	log      zerolog.Logger
	met      *metrics.Metrics
	priority int
	interval time.Duration
}

func New(mux *muxer.Muxer, priority int, interval time.Duration, logger zerolog.Logger, met *metrics.Metrics) *Grabber {
	return &Grabber{
		mux:      mux,
		log:      logger.With().Str("component", "grabber").Logger(),
		met:      met,
		priority: priority,
		interval: interval,
	}
}

// Run captures frames until ctx is cancelled. Each frame carries a timeout of
// three capture intervals, so a wedged grabber ages out through the sweep
// instead of freezing the strip.
func (g *Grabber) Run(ctx context.Context) error {
	if err := g.mux.Register(g.priority, muxer.ComponentGrabber, "Screen Grabber", "", 0); err != nil {
		return err
	}
	g.log.Info().Int("priority", g.priority).Dur("interval", g.interval).Msg("grabber started")

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	timeout := (3 * g.interval).Milliseconds()

	failed := false
	for {
		select {
		case <-ctx.Done():
			g.mux.Clear(g.priority)
			return nil
		case <-ticker.C:
		}

		raw, err := screenshot.CaptureScreen()
		if err != nil {
			// One warning per outage, then stay quiet until capture recovers.
			if !failed {
				g.log.Warn().Err(err).Msg("screen capture failed")
				failed = true
			}
			continue
		}
		failed = false

		img := convert(raw)
		if err := g.mux.SetImage(g.priority, img, timeout); err != nil {
			// A force clear-all drops the slot; take it back on the next frame.
			if !errors.Is(err, muxer.ErrUnregisteredPriority) {
				return err
			}
			if err := g.mux.Register(g.priority, muxer.ComponentGrabber, "Screen Grabber", "", 0); err != nil {
				return err
			}
			continue
		}
		g.met.RecordGrabberFrame()
	}
}

// convert repacks the captured RGBA raster into the muxer's RGB payload.
func convert(raw *image.RGBA) *muxer.Image {
	w := raw.Rect.Dx()
	h := raw.Rect.Dy()
	out := &muxer.Image{
		Width:  w,
		Height: h,
		Pixels: make([]byte, w*h*3),
	}
	for y := 0; y < h; y++ {
		src := raw.PixOffset(raw.Rect.Min.X, raw.Rect.Min.Y+y)
		dst := y * w * 3
		for x := 0; x < w; x++ {
			out.Pixels[dst] = raw.Pix[src]
			out.Pixels[dst+1] = raw.Pix[src+1]
			out.Pixels[dst+2] = raw.Pix[src+2]
			src += 4
			dst += 3
		}
	}
	return out
}
