package ledstrip

import "github.com/jangala-dev/inu/x/mathx"

// colourPrefix is the fixed 3-bit tag spec.md §4.G requires at the top
// of each pixel's first byte, with the remaining 5 bits carrying
// brightness (0..31).
const colourPrefix = 0b111_00000

// Colour is one pixel's RGB value plus its own 5-bit brightness/global
// channel, matching the {global:5, B:8, G:8, R:8} encoding.
type Colour struct {
	R, G, B    uint8
	Brightness uint8 // clamped to 0..31
}

// encode packs c into the four wire bytes (little concern for byte
// order beyond the fixed field layout the spec names: global, B, G, R).
func (c Colour) encode() [4]byte {
	b := mathx.Clamp(c.Brightness, 0, 31)
	return [4]byte{colourPrefix | b, c.B, c.G, c.R}
}

func decodeColour(b [4]byte) Colour {
	return Colour{R: b[3], G: b[2], B: b[1], Brightness: b[0] & 0x1F}
}

// lerpColour linearly interpolates every channel from a to b at
// t in [0,1].
func lerpColour(a, b Colour, t float64) Colour {
	t = mathx.Clamp(t, 0, 1)
	return Colour{
		R:          lerpU8(a.R, b.R, t),
		G:          lerpU8(a.G, b.G, t),
		B:          lerpU8(a.B, b.B, t),
		Brightness: lerpU8(a.Brightness, b.Brightness, t),
	}
}

func lerpU8(a, b uint8, t float64) uint8 {
	v := float64(a) + (float64(b)-float64(a))*t
	return uint8(mathx.Clamp(v, 0, 255))
}
