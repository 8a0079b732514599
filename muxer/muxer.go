// Package muxer decides, moment by moment, which of several concurrent
// visual sources is painted onto the LED strip. Sources register a priority
// slot, push color or image data with a timeout, and the muxer publishes
// exactly one visible slot to its subscribers.
package muxer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrUnregisteredPriority is returned when input arrives for a priority
	// that was never registered.
	ErrUnregisteredPriority = errors.New("priority not registered")
	// ErrPriorityOutOfRange is returned for priorities outside [0,255].
	ErrPriorityOutOfRange = errors.New("priority out of range")
)

// Recorder receives muxer state for the metrics layer. All methods must be
// cheap; they are called on the mutating goroutine.
type Recorder interface {
	RecordEvent(kind string)
	RecordVisible(priority int)
	RecordActive(sources int)
}

// Config carries construction parameters. Zero values fall back to defaults.
type Config struct {
	LEDCount     int
	TickInterval time.Duration
	Clock        Clock
	Logger       zerolog.Logger
	Recorder     Recorder
}

// Muxer is the priority multiplexer. All state is owned by the muxer and
// serialized through its locks; public calls are safe from any goroutine and
// behave as if posted to a single executor. Events raised by a call are
// dispatched, in order, before the call returns.
type Muxer struct {
	log   zerolog.Logger
	clock Clock
	tick  time.Duration
	rec   Recorder

	// notifyMu serializes mutation plus event dispatch so batches from
	// concurrent callers never interleave. Handlers run without mu held and
	// may read the muxer, but must not mutate it from the callback.
	notifyMu sync.Mutex
	mu       sync.Mutex
	table    *table
	current  int
	manual   int
	auto     bool
	subs     []func(Event)

	pulse *pulseTrigger
}

// New builds a muxer with the background slot in place and auto-select on.
func New(cfg Config) *Muxer {
	if cfg.LEDCount <= 0 {
		cfg.LEDCount = 1
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 250 * time.Millisecond
	}
	if cfg.Clock == nil {
		cfg.Clock = NewClock()
	}
	m := &Muxer{
		log:     cfg.Logger.With().Str("component", "muxer").Logger(),
		clock:   cfg.Clock,
		tick:    cfg.TickInterval,
		rec:     cfg.Recorder,
		table:   newTable(cfg.LEDCount),
		current: PriorityLowest,
		manual:  PriorityLowest,
		auto:    true,
	}
	m.pulse = newPulseTrigger(m.emitPulse)
	return m
}

// Subscribe registers a handler for change events. Handlers are invoked
// synchronously in emission order and must not call mutating muxer methods.
func (m *Muxer) Subscribe(fn func(Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, fn)
}

// Start runs the periodic sweep until ctx is cancelled.
func (m *Muxer) Start(ctx context.Context) {
	ticker := time.NewTicker(m.tick)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				m.pulse.stop()
				return
			case <-ticker.C:
				m.Sweep()
			}
		}
	}()
}

// Register inserts a new slot in the inactive state, or refreshes the
// metadata of an existing one without touching its deadline.
func (m *Muxer) Register(priority int, component Component, origin, owner string, smoothCfg uint32) error {
	if priority < 0 || priority > PriorityMax {
		return fmt.Errorf("%w: %d", ErrPriorityOutOfRange, priority)
	}

	m.notifyMu.Lock()
	m.mu.Lock()
	var evs []Event
	if e, ok := m.table.get(priority); ok {
		e.Component = component
		e.Origin = origin
		e.Owner = owner
		e.SmoothCfg = smoothCfg
	} else {
		m.table.insert(&InputInfo{
			Priority:  priority,
			Component: component,
			Origin:    origin,
			Owner:     owner,
			SmoothCfg: smoothCfg,
			deadline:  deadline{kind: deadlineInactive},
		})
		evs = []Event{
			{Kind: EventPriorityChanged, Priority: priority, Present: true},
			{Kind: EventPrioritiesChanged},
		}
		m.log.Debug().Int("priority", priority).Stringer("kind", component).
			Str("origin", origin).Msg("input registered")
	}
	m.mu.Unlock()
	m.dispatch(evs)
	m.notifyMu.Unlock()
	return nil
}

// SetColor updates a slot with per-LED colors and a timeout. Positive
// timeouts are relative milliseconds, TimeoutPersistent keeps the input until
// cleared, TimeoutInactive parks the slot, zero expires on the next sweep.
func (m *Muxer) SetColor(priority int, colors []RGB, timeoutMs int64) error {
	return m.setInput(priority, colors, nil, timeoutMs)
}

// SetImage is SetColor for raster payloads.
func (m *Muxer) SetImage(priority int, img *Image, timeoutMs int64) error {
	return m.setInput(priority, nil, img, timeoutMs)
}

// SetInactive parks the slot without removing it: it stops contributing to
// selection until the next input arrives.
func (m *Muxer) SetInactive(priority int) error {
	return m.setInput(priority, nil, &Image{}, TimeoutInactive)
}

func (m *Muxer) setInput(priority int, colors []RGB, img *Image, timeoutMs int64) error {
	m.notifyMu.Lock()
	m.mu.Lock()
	e, ok := m.table.get(priority)
	if !ok {
		m.mu.Unlock()
		m.notifyMu.Unlock()
		m.log.Error().Int("priority", priority).Msg("input for unregistered priority dropped")
		return fmt.Errorf("%w: %d", ErrUnregisteredPriority, priority)
	}

	now := m.clock.NowMs()
	wasActive := e.deadline.active()
	e.deadline = deadlineFromTimeout(now, timeoutMs)
	if colors != nil {
		e.Colors = colors
	}
	if img != nil {
		e.Image = img
	}

	var evs []Event
	if wasActive != e.deadline.active() {
		evs = append(evs,
			Event{Kind: EventActiveStateChanged, Priority: priority, Active: e.deadline.active()},
			Event{Kind: EventPrioritiesChanged},
		)
	}
	sweepEvs, firePulse := m.sweepLocked(now)
	evs = append(evs, sweepEvs...)
	m.mu.Unlock()
	m.dispatch(evs)
	m.notifyMu.Unlock()

	if firePulse {
		m.pulse.Trigger()
	}
	return nil
}

// Clear removes the slot. The background slot cannot be cleared; unknown
// priorities return false silently.
func (m *Muxer) Clear(priority int) bool {
	m.notifyMu.Lock()
	m.mu.Lock()
	if priority >= PriorityLowest || !m.table.contains(priority) {
		m.mu.Unlock()
		m.notifyMu.Unlock()
		return false
	}
	m.table.remove(priority)
	m.log.Debug().Int("priority", priority).Msg("input cleared")
	evs := []Event{
		{Kind: EventPriorityChanged, Priority: priority, Present: false},
		{Kind: EventPrioritiesChanged},
	}
	sweepEvs, firePulse := m.sweepLocked(m.clock.NowMs())
	evs = append(evs, sweepEvs...)
	m.mu.Unlock()
	m.dispatch(evs)
	m.notifyMu.Unlock()

	if firePulse {
		m.pulse.Trigger()
	}
	return true
}

// ClearAll removes inputs in bulk. With force, the whole table is wiped and
// the background slot re-inserted. Without force only color and effect slots
// below priority 254 are cleared, so grabber and stream sources survive.
func (m *Muxer) ClearAll(force bool) {
	m.notifyMu.Lock()
	m.mu.Lock()
	var evs []Event
	for _, p := range m.table.keys() {
		e, _ := m.table.get(p)
		remove := false
		switch {
		case force:
			remove = true
		case e.Component == ComponentColor || e.Component == ComponentEffect:
			// 254 is deliberately spared here, like upstream.
			remove = p < PriorityLowest-1
		}
		if !remove {
			continue
		}
		m.table.remove(p)
		if p != PriorityLowest {
			evs = append(evs,
				Event{Kind: EventPriorityChanged, Priority: p, Present: false},
				Event{Kind: EventPrioritiesChanged},
			)
		}
	}
	if force {
		m.table.insert(newBackground(m.table.ledCount))
	}
	sweepEvs, firePulse := m.sweepLocked(m.clock.NowMs())
	evs = append(evs, sweepEvs...)
	m.mu.Unlock()
	m.dispatch(evs)
	m.notifyMu.Unlock()

	if firePulse {
		m.pulse.Trigger()
	}
}

// SetManualPriority pins the given priority and leaves auto-select mode.
// Returns false when the priority is not present.
func (m *Muxer) SetManualPriority(priority int) bool {
	m.notifyMu.Lock()
	m.mu.Lock()
	if !m.table.contains(priority) {
		m.mu.Unlock()
		m.notifyMu.Unlock()
		m.log.Warn().Int("priority", priority).Msg("manual pin rejected, priority not present")
		return false
	}
	m.manual = priority
	var evs []Event
	if m.auto {
		m.auto = false
		evs = append(evs,
			Event{Kind: EventAutoSelectChanged, Enabled: false},
			Event{Kind: EventPrioritiesChanged},
		)
	}
	sweepEvs, firePulse := m.sweepLocked(m.clock.NowMs())
	evs = append(evs, sweepEvs...)
	m.mu.Unlock()
	m.dispatch(evs)
	m.notifyMu.Unlock()

	if firePulse {
		m.pulse.Trigger()
	}
	return true
}

// SetAutoSelect flips the selection mode. Enabling when already enabled (or
// the reverse) is a no-op returning false. Disabling requires the current
// manual pin to be present.
func (m *Muxer) SetAutoSelect(enabled bool) bool {
	m.notifyMu.Lock()
	m.mu.Lock()
	if m.auto == enabled {
		m.mu.Unlock()
		m.notifyMu.Unlock()
		return false
	}
	if !enabled && !m.table.contains(m.manual) {
		m.mu.Unlock()
		m.notifyMu.Unlock()
		m.log.Warn().Int("priority", m.manual).Msg("cannot leave auto-select, manual pin not present")
		return false
	}
	m.auto = enabled
	evs := []Event{
		{Kind: EventAutoSelectChanged, Enabled: enabled},
		{Kind: EventPrioritiesChanged},
	}
	sweepEvs, firePulse := m.sweepLocked(m.clock.NowMs())
	evs = append(evs, sweepEvs...)
	m.mu.Unlock()
	m.dispatch(evs)
	m.notifyMu.Unlock()

	if firePulse {
		m.pulse.Trigger()
	}
	return true
}

// AutoSelect reports the current selection mode.
func (m *Muxer) AutoSelect() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.auto
}

// VisiblePriority returns the currently published priority.
func (m *Muxer) VisiblePriority() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Visible returns a copy of the record behind the published priority, with
// the background record as fallback.
func (m *Muxer) Visible() InputInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.table.getOrDefault(m.current).clone()
}

// Input returns a copy of the record at the given priority.
func (m *Muxer) Input(priority int) (InputInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.table.get(priority)
	if !ok {
		return InputInfo{}, false
	}
	return e.clone(), true
}

// Priorities returns a snapshot of the current key set, ascending.
func (m *Muxer) Priorities() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.table.keys()
}

// LEDCount returns the current strip length.
func (m *Muxer) LEDCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.table.ledCount
}

// SetLEDCount resizes every slot's color buffer to the new strip length.
func (m *Muxer) SetLEDCount(n int) {
	if n <= 0 {
		return
	}
	m.notifyMu.Lock()
	m.mu.Lock()
	m.table.resizeLEDBuffers(n)
	m.mu.Unlock()
	m.dispatch([]Event{{Kind: EventPrioritiesChanged}})
	m.notifyMu.Unlock()
}

// Sweep runs one expiry/selection pass. The tick loop calls this every tick;
// tests drive it directly.
func (m *Muxer) Sweep() {
	m.notifyMu.Lock()
	m.mu.Lock()
	evs, firePulse := m.sweepLocked(m.clock.NowMs())
	m.mu.Unlock()
	m.dispatch(evs)
	m.notifyMu.Unlock()

	if firePulse {
		m.pulse.Trigger()
	}
}

// sweepLocked expires timed-out slots, decides whether the countdown pulse
// is due, and re-evaluates the selection. Expiry events always precede the
// visibility change they cause.
func (m *Muxer) sweepLocked(now int64) (evs []Event, firePulse bool) {
	for _, p := range m.table.keys() {
		e, _ := m.table.get(p)
		if e.deadline.expired(now) {
			m.table.remove(p)
			m.log.Debug().Int("priority", p).Msg("input timed out")
			evs = append(evs,
				Event{Kind: EventPriorityChanged, Priority: p, Present: false},
				Event{Kind: EventPrioritiesChanged},
			)
		}
	}

	for p, e := range m.table.entries {
		if p < PriorityLowest-1 && e.deadline.kind == deadlineTimed &&
			(e.Component == ComponentColor || e.Component == ComponentEffect) {
			firePulse = true
			break
		}
	}

	evs = append(evs, m.reselectLocked()...)
	if m.rec != nil {
		m.rec.RecordActive(m.table.activeCount())
	}
	return evs, firePulse
}

// reselectLocked applies the selector and records a visibility change. When
// a manual pin vanished the mode flips back to auto-select first.
func (m *Muxer) reselectLocked() []Event {
	next, fellBack := selectVisible(m.table, m.auto, m.manual)
	var evs []Event
	if fellBack {
		m.auto = true
		m.log.Info().Int("priority", m.manual).Msg("manual pin vanished, back to auto-select")
		evs = append(evs,
			Event{Kind: EventAutoSelectChanged, Enabled: true},
			Event{Kind: EventPrioritiesChanged},
		)
	}
	if next != m.current {
		m.current = next
		m.log.Debug().Int("priority", next).Msg("visible priority changed")
		if m.rec != nil {
			m.rec.RecordVisible(next)
		}
		evs = append(evs,
			Event{Kind: EventVisiblePriorityChanged, Priority: next},
			Event{Kind: EventPrioritiesChanged},
		)
	}
	return evs
}

// dispatch delivers events in order. Callers hold notifyMu but not mu.
func (m *Muxer) dispatch(evs []Event) {
	if len(evs) == 0 {
		return
	}
	m.mu.Lock()
	subs := make([]func(Event), len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()
	for _, ev := range evs {
		if m.rec != nil {
			m.rec.RecordEvent(ev.Kind.String())
		}
		for _, fn := range subs {
			fn(ev)
		}
	}
}

// emitPulse is the rate-limited trigger sink: the pulse is delivered as a
// bare priorities-changed notification.
func (m *Muxer) emitPulse() {
	m.notifyMu.Lock()
	m.dispatch([]Event{{Kind: EventPrioritiesChanged}})
	m.notifyMu.Unlock()
}
