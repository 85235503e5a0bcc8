// Package ledstrip implements the LED Strip Driver (spec.md §4.G): a
// segmented pixel buffer with fixed start/end framing, driven by fill,
// fade, slide and pulse effects against wall-clock budgets. It is a
// software sink - no real SPI peripheral - and exposes Frame() so a
// caller (or an out-of-scope physical driver) can observe committed
// frames.
package ledstrip

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/jangala-dev/inu/errcode"
	"github.com/jangala-dev/inu/robotics"
	"github.com/sirupsen/logrus"
)

const bytesPerPixel = 4

// Config describes the physical strip: its pixel count and named
// sub-ranges ("segments") that SEL's colon-suffixed sub-component can
// address.
type Config struct {
	NumPixels int
	Segments  map[string][2]int // segment id -> [start, end) pixel range
	Log       logrus.FieldLogger
}

// Driver drives one LED strip. It implements robotics.Driver and
// robotics.Selectable.
type Driver struct {
	cfg Config

	pixels    []byte // NumPixels*4 bytes, payload only
	committed []byte // last committed full frame (start frame + pixels + end frame)

	selected string // segment id; "" means the entire strip
}

// New constructs a Driver with every pixel off.
func New(cfg Config) *Driver {
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}
	d := &Driver{
		cfg:    cfg,
		pixels: make([]byte, cfg.NumPixels*bytesPerPixel),
	}
	for i := 0; i < cfg.NumPixels; i++ {
		d.setPixel(i, Colour{})
	}
	d.commit()
	return d
}

// SetPower is a no-op: the strip has no separate power line in this
// model (commit() is what actually "writes" to the wire).
func (d *Driver) SetPower(ctx context.Context, on bool) error { return nil }

// Select implements robotics.Selectable: "" re-selects the whole strip.
func (d *Driver) Select(subComponent string) {
	d.selected = subComponent
}

// Frame returns the last committed frame: a 4-byte zero start frame,
// the pixel payload, then enough 0xFF clock bytes to latch every pixel
// (the common APA102-style framing; spec.md §4.G only fixes the pixel
// encoding, not the exact frame markers).
func (d *Driver) Frame() []byte {
	out := make([]byte, len(d.committed))
	copy(out, d.committed)
	return out
}

func (d *Driver) commit() {
	start := make([]byte, 4)
	endLen := (d.cfg.NumPixels + 15) / 16
	if endLen < 4 {
		endLen = 4
	}
	end := make([]byte, endLen)
	for i := range end {
		end[i] = 0xFF
	}
	frame := make([]byte, 0, len(start)+len(d.pixels)+len(end))
	frame = append(frame, start...)
	frame = append(frame, d.pixels...)
	frame = append(frame, end...)
	d.committed = frame
}

func (d *Driver) scope() (start, end int) {
	if d.selected == "" {
		return 0, d.cfg.NumPixels
	}
	if r, ok := d.cfg.Segments[d.selected]; ok {
		return r[0], r[1]
	}
	return 0, d.cfg.NumPixels
}

func (d *Driver) setPixel(i int, c Colour) {
	copy(d.pixels[i*bytesPerPixel:i*bytesPerPixel+bytesPerPixel], colourBytes(c))
}

func (d *Driver) getPixel(i int) Colour {
	var b [4]byte
	copy(b[:], d.pixels[i*bytesPerPixel:i*bytesPerPixel+bytesPerPixel])
	return decodeColour(b)
}

func colourBytes(c Colour) []byte {
	b := c.encode()
	return b[:]
}

// Execute implements robotics.Driver.
func (d *Driver) Execute(ctx context.Context, c robotics.Control, reverse bool) error {
	switch c.Opcode {
	case robotics.OpColour:
		return d.fill(c)
	case robotics.OpFx:
		return d.fx(ctx, c)
	default:
		return &errcode.E{C: errcode.BadRequest, Op: "ledstrip.Execute", Msg: "ledstrip cannot handle " + c.Opcode.String()}
	}
}

func (d *Driver) parseColour(args []string) (Colour, error) {
	if len(args) < 4 {
		return Colour{}, &errcode.E{C: errcode.Malformed, Op: "ledstrip.parseColour", Msg: "need r g b brightness"}
	}
	vals := make([]int, 4)
	for i := 0; i < 4; i++ {
		v, err := strconv.Atoi(args[i])
		if err != nil {
			return Colour{}, &errcode.E{C: errcode.Malformed, Op: "ledstrip.parseColour", Err: err}
		}
		vals[i] = v
	}
	return Colour{R: uint8(vals[0]), G: uint8(vals[1]), B: uint8(vals[2]), Brightness: uint8(vals[3])}, nil
}

// fill implements the Colour execute contract: fill(colour, commit) with
// commit iff the "!" modifier was present.
func (d *Driver) fill(c robotics.Control) error {
	colour, err := d.parseColour(c.Args)
	if err != nil {
		return err
	}
	start, end := d.scope()
	for i := start; i < end; i++ {
		d.setPixel(i, colour)
	}
	if c.Commit {
		d.commit()
	}
	return nil
}

// fx dispatches an Fx control by effect name. The effect set is closed:
// FADE, SWEEP_LEFT, SWEEP_RIGHT, PULSE_LEFT, PULSE_RIGHT (spec.md §3) -
// direction is carried in the name itself, not a separate argument.
// Args: [name, duration_ms, ...].
func (d *Driver) fx(ctx context.Context, c robotics.Control) error {
	if len(c.Args) < 2 {
		return &errcode.E{C: errcode.Malformed, Op: "ledstrip.fx", Msg: "need effect name and duration"}
	}
	name := strings.ToUpper(c.Args[0])
	durationMs, err := strconv.Atoi(c.Args[1])
	if err != nil {
		return &errcode.E{C: errcode.Malformed, Op: "ledstrip.fx", Err: err}
	}
	duration := time.Duration(durationMs) * time.Millisecond

	switch name {
	case "FADE":
		target, err := d.parseColour(c.Args[2:])
		if err != nil {
			return err
		}
		return d.fade(ctx, target, duration)
	case "SWEEP_LEFT", "SWEEP_RIGHT":
		target, err := d.parseColour(c.Args[2:])
		if err != nil {
			return err
		}
		return d.slide(ctx, target, duration, name == "SWEEP_RIGHT")
	case "PULSE_LEFT", "PULSE_RIGHT":
		if len(c.Args) < 3 {
			return &errcode.E{C: errcode.Malformed, Op: "ledstrip.fx", Msg: "pulse needs a size"}
		}
		sizePct, err := strconv.Atoi(c.Args[2])
		if err != nil {
			return &errcode.E{C: errcode.Malformed, Op: "ledstrip.fx", Err: err}
		}
		target, err := d.parseColour(c.Args[3:])
		if err != nil {
			return err
		}
		return d.pulse(ctx, target, duration, float64(sizePct)/100, name == "PULSE_RIGHT")
	default:
		return &errcode.E{C: errcode.BadRequest, Op: "ledstrip.fx", Msg: "unknown effect: " + name}
	}
}

// fade linearly interpolates every pixel in scope from its current
// colour to target until duration expires, then commits target exactly.
func (d *Driver) fade(ctx context.Context, target Colour, duration time.Duration) error {
	start, end := d.scope()
	from := make([]Colour, end-start)
	for i := range from {
		from[i] = d.getPixel(start + i)
	}

	deadline := time.Now().Add(duration)
	for {
		now := time.Now()
		if !now.Before(deadline) {
			break
		}
		t := 1 - float64(deadline.Sub(now))/float64(duration)
		for i := range from {
			d.setPixel(start+i, lerpColour(from[i], target, t))
		}
		d.commit()
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	for i := start; i < end; i++ {
		d.setPixel(i, target)
	}
	d.commit()
	return nil
}

// slide reveals pixels in order: each pixel commits fully to target
// once elapsed/duration passes its normalized position in scope.
func (d *Driver) slide(ctx context.Context, target Colour, duration time.Duration, forward bool) error {
	start, end := d.scope()
	n := end - start
	if n <= 0 {
		return nil
	}
	revealed := make([]bool, n)

	deadline := time.Now().Add(duration)
	for {
		now := time.Now()
		elapsed := duration - (deadline.Sub(now))
		frac := 1.0
		if duration > 0 {
			frac = float64(elapsed) / float64(duration)
		}
		for i := 0; i < n; i++ {
			pos := float64(i) / float64(maxInt(n-1, 1))
			if !forward {
				pos = 1 - pos
			}
			if !revealed[i] && pos <= frac {
				d.setPixel(start+i, target)
				revealed[i] = true
			}
		}
		d.commit()
		if !now.Before(deadline) {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	for i := 0; i < n; i++ {
		d.setPixel(start+i, target)
	}
	d.commit()
	return nil
}

// pulse moves a feathered "bullet" of width size*scope_length across
// the scope, blending target over each pixel's pre-pulse colour by a
// triangular intensity profile.
func (d *Driver) pulse(ctx context.Context, target Colour, duration time.Duration, size float64, forward bool) error {
	start, end := d.scope()
	n := end - start
	if n <= 0 {
		return nil
	}
	base := make([]Colour, n)
	for i := range base {
		base[i] = d.getPixel(start + i)
	}
	halfWidth := size * float64(n) / 2
	if halfWidth <= 0 {
		halfWidth = 1
	}

	deadline := time.Now().Add(duration)
	for {
		now := time.Now()
		frac := 1.0
		if duration > 0 {
			frac = 1 - float64(deadline.Sub(now))/float64(duration)
		}
		if !forward {
			frac = 1 - frac
		}
		centre := frac * float64(n-1)
		for i := 0; i < n; i++ {
			dist := float64(i) - centre
			if dist < 0 {
				dist = -dist
			}
			intensity := 1 - dist/halfWidth
			if intensity < 0 {
				intensity = 0
			}
			d.setPixel(start+i, lerpColour(base[i], target, intensity))
		}
		d.commit()
		if !now.Before(deadline) {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	for i := 0; i < n; i++ {
		d.setPixel(start+i, base[i])
	}
	d.commit()
	return nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
