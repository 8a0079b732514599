package effect

import (
	"fmt"
	"math"
	"time"

	lua "github.com/yuin/gopher-lua"

	"go-ambient-light-control/muxer"
)

// Engine renders frames of one Lua effect script. It owns a single Lua state
// for the lifetime of the run; the script is compiled once and re-executed
// per frame.
//
// Exposed globals:
//
//	led_count                      number of LEDs on the strip
//	get_time()                     seconds since the daemon started
//	get_effect_elapsed_time()      seconds since this run started
//	set_pixel(i, r, g, b)          write a pixel, channels are 0.0-1.0 floats
//	get_pixel(i)                   read a pixel back as three floats
type Engine struct {
	name string
	buf  []muxer.RGB

	state *lua.LState
	fn    *lua.LFunction

	epoch    time.Time
	runStart time.Time
	now      time.Time
}

// NewEngine compiles the script and prepares the Lua environment. epoch is
// the daemon start instant exposed through get_time.
func NewEngine(name, code string, ledCount int, epoch time.Time) (*Engine, error) {
	e := &Engine{
		name:     name,
		buf:      make([]muxer.RGB, ledCount),
		state:    lua.NewState(),
		epoch:    epoch,
		runStart: time.Now(),
	}
	e.install()

	fn, err := e.state.LoadString(code)
	if err != nil {
		e.state.Close()
		return nil, fmt.Errorf("compile effect %q: %w", name, err)
	}
	e.fn = fn
	return e, nil
}

// install registers the script-facing globals.
func (e *Engine) install() {
	L := e.state
	L.SetGlobal("led_count", lua.LNumber(len(e.buf)))

	// get_time() returns the current time in seconds since the daemon started.
	L.SetGlobal("get_time", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LNumber(e.now.Sub(e.epoch).Seconds()))
		return 1
	}))

	// get_effect_elapsed_time() returns the seconds since this run started.
	L.SetGlobal("get_effect_elapsed_time", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LNumber(e.now.Sub(e.runStart).Seconds()))
		return 1
	}))

	// get_pixel(index) returns the current R, G, B values of a pixel as 0.0-1.0 floats.
	L.SetGlobal("get_pixel", L.NewFunction(func(L *lua.LState) int {
		index := int(L.CheckNumber(1))
		if index < 0 || index >= len(e.buf) {
			// Out-of-bounds reads come back black.
			L.Push(lua.LNumber(0))
			L.Push(lua.LNumber(0))
			L.Push(lua.LNumber(0))
			return 3
		}
		px := e.buf[index]
		L.Push(lua.LNumber(float64(px.R) / 255.0))
		L.Push(lua.LNumber(float64(px.G) / 255.0))
		L.Push(lua.LNumber(float64(px.B) / 255.0))
		return 3
	}))

	// set_pixel(index, r, g, b) with 0.0-1.0 channel floats.
	L.SetGlobal("set_pixel", L.NewFunction(func(L *lua.LState) int {
		index := int(L.CheckNumber(1))
		if index < 0 || index >= len(e.buf) {
			return 0
		}
		e.buf[index] = muxer.RGB{
			R: clampChannel(float64(L.CheckNumber(2))),
			G: clampChannel(float64(L.CheckNumber(3))),
			B: clampChannel(float64(L.CheckNumber(4))),
		}
		return 0
	}))
}

func clampChannel(v float64) uint8 {
	return uint8(math.Max(0, math.Min(255, v*255.0)))
}

// Render executes one frame and returns a copy of the pixel buffer.
func (e *Engine) Render() ([]muxer.RGB, error) {
	e.now = time.Now()
	e.state.Push(e.fn)
	if err := e.state.PCall(0, lua.MultRet, nil); err != nil {
		return nil, fmt.Errorf("run effect %q: %w", e.name, err)
	}
	out := make([]muxer.RGB, len(e.buf))
	copy(out, e.buf)
	return out, nil
}

// Close releases the Lua state.
func (e *Engine) Close() {
	e.state.Close()
}
