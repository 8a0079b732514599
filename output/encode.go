package output

import (
	"math"

	"go-ambient-light-control/muxer"
)

// fixColor applies a non-linear brightness correction and color bias to an RGB value.
// The curve squares the normalized channel for perceived brightness and biases
// green and blue down to compensate the strip's color temperature.
func fixColor(c muxer.RGB) muxer.RGB {
	const maxVal = 255.0
	r := math.Pow(float64(c.R)/maxVal, 2.0) * maxVal
	g := math.Pow(float64(c.G)/maxVal, 2.0) * (maxVal * (0x88 / maxVal))
	b := math.Pow(float64(c.B)/maxVal, 2.0) * (maxVal * (0x66 / maxVal))
	return muxer.RGB{
		R: uint8(math.Min(255, r)),
		G: uint8(math.Min(255, g)),
		B: uint8(math.Min(255, b)),
	}
}

// correct applies fixColor to a whole frame, in place.
func correct(frame []muxer.RGB) {
	for i, c := range frame {
		frame[i] = fixColor(c)
	}
}

// fitColors pads or truncates a color buffer to the strip length. Missing
// LEDs are black.
func fitColors(colors []muxer.RGB, n int) []muxer.RGB {
	out := make([]muxer.RGB, n)
	copy(out, colors)
	return out
}

// mapImage reduces a raster payload to one color per LED by averaging equal
// horizontal bands. Degenerate images produce a black frame.
func mapImage(img *muxer.Image, n int) []muxer.RGB {
	out := make([]muxer.RGB, n)
	if img == nil || img.Width <= 0 || img.Height <= 0 || len(img.Pixels) < img.Width*img.Height*3 {
		return out
	}
	for i := 0; i < n; i++ {
		x0 := i * img.Width / n
		x1 := (i + 1) * img.Width / n
		if x1 <= x0 {
			x1 = x0 + 1
		}
		if x1 > img.Width {
			x1 = img.Width
		}
		var r, g, b, count uint64
		for y := 0; y < img.Height; y++ {
			row := y * img.Width * 3
			for x := x0; x < x1; x++ {
				idx := row + x*3
				r += uint64(img.Pixels[idx])
				g += uint64(img.Pixels[idx+1])
				b += uint64(img.Pixels[idx+2])
				count++
			}
		}
		if count > 0 {
			out[i] = muxer.RGB{
				R: uint8(r / count),
				G: uint8(g / count),
				B: uint8(b / count),
			}
		}
	}
	return out
}

// WS2812B SPI encoding: each data bit becomes three SPI bits, 0 -> 100 and
// 1 -> 110, so a 2.4 MHz SPI clock reproduces the 800 kHz strip timing.
// Channel order on the wire is GRB. The trailing zero bytes hold the line
// low long enough to latch the frame.

const latchBytes = 15 // 120 bits = 50us low at 2.4 MHz

func encodeWS2812(frame []muxer.RGB) []byte {
	out := make([]byte, 0, len(frame)*9+latchBytes)
	for _, c := range frame {
		out = expandByte(out, c.G)
		out = expandByte(out, c.R)
		out = expandByte(out, c.B)
	}
	for i := 0; i < latchBytes; i++ {
		out = append(out, 0)
	}
	return out
}

// expandByte appends the 24-bit SPI expansion of one channel byte.
func expandByte(dst []byte, b uint8) []byte {
	var bits uint32
	for i := 7; i >= 0; i-- {
		bits <<= 3
		if b&(1<<uint(i)) != 0 {
			bits |= 0b110
		} else {
			bits |= 0b100
		}
	}
	return append(dst, byte(bits>>16), byte(bits>>8), byte(bits))
}
