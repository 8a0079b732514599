package effect

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"go-ambient-light-control/metrics"
	"go-ambient-light-control/muxer"
)

// ErrUnknownEffect is returned when a run is requested for a script the
// registry does not know.
var ErrUnknownEffect = errors.New("unknown effect")

// Runner executes effect scripts, one run per priority slot, feeding the
// rendered frames into the muxer. A run ends when its duration elapses, its
// slot is cleared, or the daemon shuts down.
type Runner struct {
	mux   *muxer.Muxer
	reg   *Registry
	log   zerolog.Logger
	met   *metrics.Metrics
	epoch time.Time
	frame time.Duration

	mu   sync.Mutex
	runs map[int]*run
}

type run struct {
	id       string
	name     string
	priority int
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewRunner(mux *muxer.Muxer, reg *Registry, logger zerolog.Logger, met *metrics.Metrics) *Runner {
	r := &Runner{
		mux:   mux,
		reg:   reg,
		log:   logger.With().Str("component", "effects").Logger(),
		met:   met,
		epoch: time.Now(),
		frame: 40 * time.Millisecond,
		runs:  make(map[int]*run),
	}
	// Stop a run as soon as its slot vanishes, whoever cleared it.
	mux.Subscribe(func(ev muxer.Event) {
		if ev.Kind == muxer.EventPriorityChanged && !ev.Present {
			r.cancelRun(ev.Priority)
		}
	})
	return r
}

// Start launches the named effect on the given priority. A run already
// occupying the slot is stopped first. Returns the run id.
func (r *Runner) Start(ctx context.Context, name string, priority int, durationMs int64) (string, error) {
	code, ok := r.reg.Get(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownEffect, name)
	}

	if old := r.get(priority); old != nil {
		old.cancel()
		<-old.done
	}

	if err := r.mux.Register(priority, muxer.ComponentEffect, "Effect Engine", name, 0); err != nil {
		return "", err
	}
	eng, err := NewEngine(name, code, r.mux.LEDCount(), r.epoch)
	if err != nil {
		return "", err
	}

	runCtx, cancel := context.WithCancel(ctx)
	rn := &run{
		id:       uuid.NewString(),
		name:     name,
		priority: priority,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	r.mu.Lock()
	r.runs[priority] = rn
	r.mu.Unlock()
	r.met.RecordEffectRun()

	go r.loop(runCtx, rn, eng, durationMs)
	return rn.id, nil
}

// Stop ends the run on the given priority and clears its slot.
func (r *Runner) Stop(priority int) bool {
	rn := r.get(priority)
	if rn == nil {
		return false
	}
	rn.cancel()
	<-rn.done
	r.mux.Clear(priority)
	return true
}

func (r *Runner) loop(ctx context.Context, rn *run, eng *Engine, durationMs int64) {
	defer close(rn.done)
	defer eng.Close()
	defer r.remove(rn)

	log := r.log.With().Str("run_id", rn.id).Str("effect", rn.name).Int("priority", rn.priority).Logger()
	log.Info().Msg("effect started")

	var deadline time.Time
	if durationMs > 0 {
		deadline = time.Now().Add(time.Duration(durationMs) * time.Millisecond)
	}

	ticker := time.NewTicker(r.frame)
	defer ticker.Stop()

	for {
		timeout := muxer.TimeoutPersistent
		if !deadline.IsZero() {
			remaining := time.Until(deadline).Milliseconds()
			if remaining <= 0 {
				log.Info().Msg("effect finished")
				return
			}
			timeout = remaining
		}

		colors, err := eng.Render()
		if err != nil {
			log.Error().Err(err).Msg("effect render failed")
			return
		}
		if err := r.mux.SetColor(rn.priority, colors, timeout); err != nil {
			// Slot was cleared under us; the subscription cancels shortly.
			log.Debug().Err(err).Msg("effect slot gone")
			return
		}

		select {
		case <-ctx.Done():
			log.Debug().Msg("effect stopped")
			return
		case <-ticker.C:
		}
	}
}

func (r *Runner) get(priority int) *run {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs[priority]
}

func (r *Runner) cancelRun(priority int) {
	r.mu.Lock()
	rn := r.runs[priority]
	r.mu.Unlock()
	if rn != nil {
		rn.cancel()
	}
}

func (r *Runner) remove(rn *run) {
	r.mu.Lock()
	if r.runs[rn.priority] == rn {
		delete(r.runs, rn.priority)
	}
	r.mu.Unlock()
}
