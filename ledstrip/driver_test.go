package ledstrip

import (
	"context"
	"testing"
	"time"

	"github.com/jangala-dev/inu/robotics"
)

func control(t *testing.T, text string) robotics.Control {
	t.Helper()
	cs, err := robotics.ParseProgram(text)
	if err != nil {
		t.Fatalf("ParseProgram(%q): %v", text, err)
	}
	return cs[0]
}

func TestColour_EncodeDecodeRoundTrip(t *testing.T) {
	c := Colour{R: 10, G: 20, B: 30, Brightness: 31}
	got := decodeColour(c.encode())
	if got != c {
		t.Fatalf("got %+v, want %+v", got, c)
	}
}

func TestColour_BrightnessClampedTo31(t *testing.T) {
	c := Colour{Brightness: 200}
	b := c.encode()
	if b[0]&0x1F != 31 {
		t.Fatalf("expected brightness clamped to 31, got %d", b[0]&0x1F)
	}
	if b[0]&0xE0 != colourPrefix {
		t.Fatalf("expected the 3-bit prefix preserved, got %08b", b[0])
	}
}

func TestDriver_FillWithoutCommitDoesNotChangeFrame(t *testing.T) {
	d := New(Config{NumPixels: 4})
	before := d.Frame()

	ctl := control(t, "COL 255 0 0 31") // no "!" -> not committed
	if err := d.Execute(context.Background(), ctl, false); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	after := d.Frame()
	if string(before) != string(after) {
		t.Fatal("expected the committed frame to be unchanged without the ! modifier")
	}
}

func TestDriver_FillWithCommitUpdatesFrame(t *testing.T) {
	d := New(Config{NumPixels: 4})
	ctl := control(t, "COL 255 0 0 31 !")
	if err := d.Execute(context.Background(), ctl, false); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if d.getPixel(0) != (Colour{R: 255, G: 0, B: 0, Brightness: 31}) {
		t.Fatalf("pixel 0 = %+v", d.getPixel(0))
	}
}

func TestDriver_SelectScopesFillToSegment(t *testing.T) {
	d := New(Config{NumPixels: 10, Segments: map[string][2]int{"A": {0, 5}, "B": {5, 10}}})
	d.Select("A")
	ctl := control(t, "COL 1 2 3 10 !")
	if err := d.Execute(context.Background(), ctl, false); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if d.getPixel(4).R != 1 {
		t.Fatal("expected segment A's last pixel to be filled")
	}
	if d.getPixel(5).R != 0 {
		t.Fatal("expected segment B to be untouched")
	}
}

func TestDriver_FadeReachesTargetExactly(t *testing.T) {
	d := New(Config{NumPixels: 2})
	target := Colour{R: 200, G: 100, B: 50, Brightness: 20}
	ctl := control(t, "FX FADE 5 200 100 50 20")
	if err := d.Execute(context.Background(), ctl, false); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if d.getPixel(0) != target || d.getPixel(1) != target {
		t.Fatalf("expected both pixels to reach the target colour exactly, got %+v / %+v", d.getPixel(0), d.getPixel(1))
	}
}

func TestDriver_SlideEndsWithEveryPixelAtTarget(t *testing.T) {
	d := New(Config{NumPixels: 6})
	target := Colour{R: 9, G: 9, B: 9, Brightness: 9}
	ctl := control(t, "FX SWEEP_RIGHT 5 9 9 9 9")
	if err := d.Execute(context.Background(), ctl, false); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	for i := 0; i < 6; i++ {
		if d.getPixel(i) != target {
			t.Fatalf("pixel %d = %+v, want %+v", i, d.getPixel(i), target)
		}
	}
}

func TestDriver_PulseRestoresBaseColourAfterPassing(t *testing.T) {
	d := New(Config{NumPixels: 6})
	ctl := control(t, "FX PULSE_RIGHT 5 30 9 9 9 9")
	if err := d.Execute(context.Background(), ctl, false); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	for i := 0; i < 6; i++ {
		if d.getPixel(i) != (Colour{}) {
			t.Fatalf("pixel %d = %+v, want the original base colour restored", i, d.getPixel(i))
		}
	}
}

func TestDriver_UnknownEffectIsBadRequest(t *testing.T) {
	d := New(Config{NumPixels: 2})
	ctl := control(t, "FX SPARKLE 100")
	if err := d.Execute(context.Background(), ctl, false); err == nil {
		t.Fatal("expected an error for an unknown effect")
	}
}

func TestDriver_FadeRespectsContextCancellation(t *testing.T) {
	d := New(Config{NumPixels: 2})
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	ctl := control(t, "FX FADE 500 1 1 1 1")
	_ = d.Execute(ctx, ctl, false) // should return promptly, not block for 500ms
}
