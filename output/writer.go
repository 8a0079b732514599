package output

import (
	"fmt"

	"go-ambient-light-control/muxer"
)

// Writer transmits one corrected frame to the strip hardware.
type Writer interface {
	Write(frame []muxer.RGB) error
	Close() error
}

// Discard is the development writer: it validates the frame and drops it.
type Discard struct {
	LEDCount int
}

func (d *Discard) Write(frame []muxer.RGB) error {
	if d.LEDCount > 0 && len(frame) != d.LEDCount {
		return fmt.Errorf("frame length mismatch: want %d leds, got %d", d.LEDCount, len(frame))
	}
	return nil
}

func (d *Discard) Close() error { return nil }
