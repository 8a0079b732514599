package muxer

import (
	"sync"
	"time"
)

type pulseState int

const (
	pulseIdle pulseState = iota
	pulseBlocked
	pulseBlockedPending
)

// pulseTrigger rate-limits the countdown pulse delivered while a timed color
// or effect source is aging out. A request outside the block window fires
// immediately and opens the window; requests inside the window coalesce into
// one deferred retry, so subscribers see a steady pulse instead of one
// emission per tick.
type pulseTrigger struct {
	mu         sync.Mutex
	state      pulseState
	windowOpen bool
	stopped    bool

	blockFor time.Duration
	deferFor time.Duration

	blockTimer *time.Timer
	deferTimer *time.Timer

	fire func()
}

func newPulseTrigger(fire func()) *pulseTrigger {
	return &pulseTrigger{
		blockFor: time.Second,
		deferFor: 500 * time.Millisecond,
		fire:     fire,
	}
}

// Trigger requests a pulse. Fires synchronously when the block window is
// closed; otherwise (re)arms the deferred retry. Only the most recent
// deferred request survives a burst.
func (p *pulseTrigger) Trigger() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	if p.windowOpen {
		p.state = pulseBlockedPending
		p.armDeferLocked()
		p.mu.Unlock()
		return
	}
	p.state = pulseBlocked
	p.windowOpen = true
	p.armBlockLocked()
	p.mu.Unlock()
	p.fire()
}

func (p *pulseTrigger) armBlockLocked() {
	if p.blockTimer != nil {
		p.blockTimer.Stop()
	}
	p.blockTimer = time.AfterFunc(p.blockFor, p.onBlockDone)
}

func (p *pulseTrigger) armDeferLocked() {
	if p.deferTimer != nil {
		p.deferTimer.Stop()
	}
	p.deferTimer = time.AfterFunc(p.deferFor, p.onDeferDone)
}

func (p *pulseTrigger) onBlockDone() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.windowOpen = false
	if p.state == pulseBlocked {
		p.state = pulseIdle
	}
	// In pulseBlockedPending the deferred timer is still running and resolves
	// the suppressed request on its own.
}

func (p *pulseTrigger) onDeferDone() {
	p.mu.Lock()
	if p.stopped || p.state != pulseBlockedPending {
		p.mu.Unlock()
		return
	}
	if p.windowOpen {
		// Still inside the block window: retry when the next slot may open.
		p.armDeferLocked()
		p.mu.Unlock()
		return
	}
	p.state = pulseBlocked
	p.windowOpen = true
	p.armBlockLocked()
	p.mu.Unlock()
	p.fire()
}

func (p *pulseTrigger) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	p.state = pulseIdle
	if p.blockTimer != nil {
		p.blockTimer.Stop()
	}
	if p.deferTimer != nil {
		p.deferTimer.Stop()
	}
}
