package robotics

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

type call struct {
	opcode  Opcode
	args    []string
	reverse bool
}

type fakeDriver struct {
	mu      sync.Mutex
	calls   []call
	powerOn bool
	onExec  func(c Control)
}

func (d *fakeDriver) Execute(ctx context.Context, c Control, reverse bool) error {
	d.mu.Lock()
	d.calls = append(d.calls, call{c.Opcode, c.Args, reverse})
	d.mu.Unlock()
	if d.onExec != nil {
		d.onExec(c)
	}
	return nil
}

func (d *fakeDriver) SetPower(ctx context.Context, on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.powerOn = on
	return nil
}

func (d *fakeDriver) snapshot() []call {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]call, len(d.calls))
	copy(out, d.calls)
	return out
}

func discardLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(nopWriter{})
	return logrus.NewEntry(l)
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

// TestController_SequentialExecutionNoInterrupt covers testable property 3:
// with no interrupts, the driver sees exactly the ordered tangible controls.
func TestController_SequentialExecutionNoInterrupt(t *testing.T) {
	drv := &fakeDriver{}
	c := New(Config{Log: discardLog()})
	c.Register("A0", drv)

	if err := c.Run(context.Background(), "SEL A0; MV 800 300; COL 10 20 30 5; FX FADE 200"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	calls := drv.snapshot()
	want := []Opcode{OpMove, OpColour, OpFx}
	if len(calls) != len(want) {
		t.Fatalf("got %d calls, want %d: %+v", len(calls), len(want), calls)
	}
	for i, op := range want {
		if calls[i].opcode != op || calls[i].reverse {
			t.Fatalf("call %d: got %+v, want opcode=%v reverse=false", i, calls[i], op)
		}
	}
}

func TestController_TangibleWithoutSelectIsBadRequest(t *testing.T) {
	c := New(Config{Log: discardLog()})
	c.Register("A0", &fakeDriver{})
	if err := c.Run(context.Background(), "MV 800 300"); err == nil {
		t.Fatal("expected an error for a tangible control with no prior SEL")
	}
}

func TestController_UnknownDeviceIsBadRequest(t *testing.T) {
	c := New(Config{Log: discardLog()})
	if err := c.Run(context.Background(), "SEL A0; MV 800 300"); err == nil {
		t.Fatal("expected an error for an unregistered device")
	}
}

// TestController_InterruptReversesThenReplaysTail covers testable
// property 4 and the S2 scenario: the second MV "interrupts itself" via
// a driver callback standing in for a hardware interrupt arriving
// mid-move; the controller must reverse the interruptible tail, then
// replay it forward.
func TestController_InterruptReversesThenReplaysTail(t *testing.T) {
	drv := &fakeDriver{}
	ctl := New(Config{Log: discardLog(), IntPauseTime: time.Millisecond})
	ctl.Register("A0", drv)

	triggered := false
	drv.onExec = func(c Control) {
		if !triggered && c.Opcode == OpMove && len(c.Args) > 0 && c.Args[0] == "-1000" {
			triggered = true
			ctl.Interrupt()
		}
	}

	if err := ctl.Run(context.Background(), "SEL A0; MV 1000 200 INT; MV -1000 200 INT"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	calls := drv.snapshot()
	want := []struct {
		arg0    string
		reverse bool
	}{
		{"1000", false},  // forward
		{"-1000", false}, // forward, self-interrupts here
		{"-1000", true},  // reverse pass (right to left)
		{"1000", true},
		{"1000", false}, // forward replay
		{"-1000", false},
	}
	if len(calls) != len(want) {
		t.Fatalf("got %d calls, want %d: %+v", len(calls), len(want), calls)
	}
	for i, w := range want {
		if calls[i].args[0] != w.arg0 || calls[i].reverse != w.reverse {
			t.Fatalf("call %d: got %+v, want arg0=%s reverse=%v", i, calls[i], w.arg0, w.reverse)
		}
	}
}

func TestController_InterruptRejectedWithNoActiveDevice(t *testing.T) {
	ctl := New(Config{Log: discardLog()})
	ctl.Register("A0", &fakeDriver{})
	if ctl.Interrupt() {
		t.Fatal("expected Interrupt to be rejected with no active device")
	}
}

func TestController_NonInterruptibleControlResetsChain(t *testing.T) {
	drv := &fakeDriver{}
	ctl := New(Config{Log: discardLog(), IntPauseTime: time.Millisecond})
	ctl.Register("A0", drv)

	triggered := false
	drv.onExec = func(c Control) {
		if !triggered && c.Opcode == OpMove && len(c.Args) > 0 && c.Args[0] == "800" {
			triggered = true
			ctl.Interrupt()
		}
	}

	// MV 500 100 (no INT) resets the chain, so the interrupt raised during
	// MV 800 300 INT reverses and replays only that control.
	if err := ctl.Run(context.Background(), "SEL A0; MV 500 100; MV 800 300 INT"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	calls := drv.snapshot()
	want := []struct {
		arg0    string
		reverse bool
	}{
		{"500", false},
		{"800", false}, // self-interrupts here
		{"800", true},  // reverse pass: MV 500 is not in the chain
		{"800", false}, // forward replay
	}
	if len(calls) != len(want) {
		t.Fatalf("got %d calls, want %d: %+v", len(calls), len(want), calls)
	}
	for i, w := range want {
		if calls[i].args[0] != w.arg0 || calls[i].reverse != w.reverse {
			t.Fatalf("call %d: got %+v, want arg0=%s reverse=%v", i, calls[i], w.arg0, w.reverse)
		}
	}
}

func TestController_SetConfig_RetunesTimingsKeepsDrivers(t *testing.T) {
	drv := &fakeDriver{}
	ctl := New(Config{Log: discardLog(), IdlePeriod: time.Hour})
	ctl.Register("A0", drv)

	ctl.SetConfig(Config{IdlePeriod: time.Millisecond})
	if ctl.cfg.IdlePeriod != time.Millisecond {
		t.Fatalf("IdlePeriod = %v, want %v", ctl.cfg.IdlePeriod, time.Millisecond)
	}
	if ctl.cfg.Log == nil {
		t.Fatal("expected SetConfig to preserve the logger when the new config omits one")
	}

	if err := ctl.Run(context.Background(), "SEL A0; MV 100 50"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(drv.snapshot()) != 1 {
		t.Fatal("expected the driver registered before SetConfig to still be wired")
	}
}

func TestController_Tick_PowersDownAfterIdlePeriod(t *testing.T) {
	drv := &fakeDriver{powerOn: true}
	ctl := New(Config{Log: discardLog(), IdlePeriod: time.Millisecond})
	ctl.Register("A0", drv)
	ctl.powered = true
	ctl.idleSince = time.Now().Add(-time.Second)

	ctl.Tick(context.Background())

	drv.mu.Lock()
	defer drv.mu.Unlock()
	if drv.powerOn {
		t.Fatal("expected driver to be powered down after exceeding idle period")
	}
}
