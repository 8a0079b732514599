// Package output turns the muxer's visible slot into frames on the LED
// strip: it maps image payloads onto the strip, applies the color correction
// curve, and hands the result to a hardware writer.
package output

import (
	"context"

	"github.com/rs/zerolog"

	"go-ambient-light-control/metrics"
	"go-ambient-light-control/muxer"
)

// Loop repaints the strip whenever the muxer reports a change. Repaints are
// coalesced through a one-slot kick channel, so a burst of events costs one
// frame.
type Loop struct {
	mux *muxer.Muxer
	w   Writer
	log zerolog.Logger
	met *metrics.Metrics

	kick chan struct{}
}

func NewLoop(mux *muxer.Muxer, w Writer, logger zerolog.Logger, met *metrics.Metrics) *Loop {
	l := &Loop{
		mux:  mux,
		w:    w,
		log:  logger.With().Str("component", "output").Logger(),
		met:  met,
		kick: make(chan struct{}, 1),
	}
	mux.Subscribe(func(ev muxer.Event) {
		switch ev.Kind {
		case muxer.EventVisiblePriorityChanged, muxer.EventPrioritiesChanged:
			select {
			case l.kick <- struct{}{}:
			default:
			}
		}
	})
	return l
}

// Run paints an initial frame and then services repaint kicks until ctx is
// cancelled.
func (l *Loop) Run(ctx context.Context) error {
	l.paint()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.kick:
			l.paint()
		}
	}
}

func (l *Loop) paint() {
	info := l.mux.Visible()
	n := l.mux.LEDCount()

	var frame []muxer.RGB
	if info.Image != nil && len(info.Image.Pixels) > 0 {
		frame = mapImage(info.Image, n)
	} else {
		frame = fitColors(info.Colors, n)
	}
	correct(frame)

	if err := l.w.Write(frame); err != nil {
		l.log.Error().Err(err).Int("priority", info.Priority).Msg("frame write failed")
		return
	}
	l.met.RecordFrame()
}
