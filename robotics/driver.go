package robotics

import (
	"context"
	"sync/atomic"
)

// Driver is the shared contract the Controller drives every registered
// device through (spec.md §4.F/§4.G). Each robotic driver is the sole
// mutator of its own hardware; the Controller never touches driver state
// directly.
type Driver interface {
	// Execute runs one tangible control (MV/COL/FX). reverse=true means
	// undo the action (or, for an in-flight move, complete the reversal
	// of whatever partial displacement the driver already made) and
	// ignore further interrupts while doing so. When c.Interruptible and
	// reverse is false, the driver should poll Interrupted(ctx) at each
	// iteration of its own motion loop and terminate early - no timer
	// aborts a running control (spec.md §5).
	Execute(ctx context.Context, c Control, reverse bool) error

	// SetPower turns the driver's hardware line on/off. Called by the
	// Controller's master set_power, so every registered driver powers
	// up/down together.
	SetPower(ctx context.Context, on bool) error
}

// Selectable is implemented by drivers that have addressable
// sub-components (e.g. the LED strip's segments). SEL's colon-suffixed
// sub-component ("SEL A0:1") is forwarded here; drivers with no
// sub-components (e.g. the actuator) simply don't implement it.
type Selectable interface {
	Select(subComponent string)
}

type interruptKey struct{}

// WithInterruptFlag attaches a cooperative interrupt flag to ctx so a
// Driver's Execute can poll it mid-motion via Interrupted. The
// Controller uses this internally; driver packages can use it directly
// in their own tests to simulate an interrupt arriving mid-move without
// going through a full Controller.
func WithInterruptFlag(ctx context.Context, flag *atomic.Bool) context.Context {
	return context.WithValue(ctx, interruptKey{}, flag)
}

// Interrupted reports whether the cooperative interrupt flag attached to
// ctx by the Controller has been set. Drivers call this at each
// iteration of a running control's motion loop (ramp-up, full-speed) to
// honour an interrupt at the next opportunity. Returns false if ctx
// carries no flag (e.g. in a driver unit test run outside a Controller).
func Interrupted(ctx context.Context) bool {
	flag, ok := ctx.Value(interruptKey{}).(*atomic.Bool)
	return ok && flag.Load()
}
