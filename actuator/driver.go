// Package actuator implements the Actuator Driver (spec.md §4.F): a
// stepper-on-a-lead-screw driven through a ramped motion profile, with
// end-stop supervision and partial-displacement memory so an
// interrupted move can be reversed by exactly the distance travelled.
package actuator

import (
	"context"
	"math"
	"time"

	"github.com/jangala-dev/inu/errcode"
	"github.com/jangala-dev/inu/robotics"
	"github.com/jangala-dev/inu/x/mathx"
	"github.com/sirupsen/logrus"
)

// Output is the hardware-facing side of the driver: a pulse-width
// output whose frequency is proportional to speed, a direction line and
// an enable line. A real implementation drives GPIO/PWM peripherals; a
// software sink is enough to exercise the motion-profile math.
type Output interface {
	SetEnabled(on bool)
	SetDirection(forward bool)
	SetFrequencyHz(hz float64)
}

// Config holds the fixed mechanical/electrical parameters of one
// actuator (spec.md §4.F "Parameters").
type Config struct {
	StepsPerRevolution int
	ScrewLeadMMPerRev  float64
	ForwardDirection   int // 0 or 1: which physical direction value means "forward"

	RampAccelMMps2     float64 // normal ramp acceleration
	HaltRampAccelMMps2 float64 // deceleration used when cutting a move short
	MinSpeedMMps       float64 // speed at the bottom of the ramp (v0)
	SafeWaitMs         int     // settle time after the PWM line stops

	ForwardEndStop func() bool // optional; armed only when travelling forward
	ReverseEndStop func() bool // optional; armed only when travelling in reverse
	Alert          func() bool // optional driver-alert pin

	Output Output
	Log    logrus.FieldLogger

	// TickInterval is the integration step for simulating the ramp; the
	// real device would instead count step pulses. Defaults to 10ms,
	// the same inter-tick granularity spec.md §5 uses for app_tick.
	TickInterval time.Duration
}

// Driver drives one actuator. It implements robotics.Driver.
type Driver struct {
	cfg Config

	partial      float64 // displacement achieved by the most recent, possibly-interrupted, forward move
	partialValid bool
	poweredOn    bool
}

// New constructs a Driver from cfg.
func New(cfg Config) *Driver {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 10 * time.Millisecond
	}
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}
	return &Driver{cfg: cfg}
}

// SetPower implements robotics.Driver.
func (d *Driver) SetPower(ctx context.Context, on bool) error {
	d.poweredOn = on
	if d.cfg.Output != nil {
		d.cfg.Output.SetEnabled(on)
	}
	return nil
}

// Execute implements robotics.Driver. actuator only understands MV.
func (d *Driver) Execute(ctx context.Context, c robotics.Control, reverse bool) error {
	if c.Opcode != robotics.OpMove {
		return &errcode.E{C: errcode.BadRequest, Op: "actuator.Execute", Msg: "actuator cannot handle " + c.Opcode.String()}
	}
	return d.move(ctx, c, reverse)
}

// move computes the OpVector (spec.md §4.F Motion profile) and runs the
// RAMP_UP -> FULL_SPEED -> RAMP_DOWN -> END phase loop.
func (d *Driver) move(ctx context.Context, c robotics.Control, reverse bool) error {
	distanceArg, err := c.IntArg(0)
	if err != nil {
		return err
	}
	speedArg, err := c.IntArg(1)
	if err != nil {
		return err
	}

	sign := 1.0
	if distanceArg < 0 {
		sign = -1.0
	}
	distance := math.Abs(float64(distanceArg))
	speed := math.Abs(float64(speedArg))

	if reverse {
		if d.partialValid {
			distance = d.partial
			d.partialValid = false
		}
		sign = -sign
	}
	if distance <= 0 || speed <= 0 {
		return nil
	}

	// End-stops follow the logical direction of travel; ForwardDirection
	// only sets the polarity of the direction line.
	forward := sign > 0
	dirLine := forward
	if d.cfg.ForwardDirection == 0 {
		dirLine = !dirLine
	}
	if forward && d.cfg.ForwardEndStop != nil && d.cfg.ForwardEndStop() {
		return d.limitHalt(0)
	}
	if !forward && d.cfg.ReverseEndStop != nil && d.cfg.ReverseEndStop() {
		return d.limitHalt(0)
	}

	if !d.poweredOn {
		if err := d.SetPower(ctx, true); err != nil {
			return err
		}
	}
	if d.cfg.Output != nil {
		d.cfg.Output.SetDirection(dirLine)
	}

	vector := newOpVector(distance, speed, d.cfg.MinSpeedMMps, d.cfg.RampAccelMMps2)

	haltAccel := d.cfg.HaltRampAccelMMps2
	if haltAccel <= 0 {
		haltAccel = vector.rampAccel
	}

	dt := d.cfg.TickInterval
	dtSec := dt.Seconds()

	const (
		phaseRampUp = iota
		phaseFullSpeed
		phaseRampDown
	)
	phase := phaseRampUp
	curSpeed := d.cfg.MinSpeedMMps
	displacement := 0.0
	// interruptible only honours interrupts while actually moving forward
	// (not on a replay/reversal pass), per spec.md §4.F "unless reverse=true".
	honourInterrupts := c.Interruptible && !reverse
	halting := false

	for {
		switch phase {
		case phaseRampUp:
			curSpeed = mathx.Clamp(curSpeed+vector.rampAccel*dtSec, d.cfg.MinSpeedMMps, speed)
			if curSpeed >= speed {
				phase = phaseFullSpeed
			}
		case phaseFullSpeed:
			curSpeed = speed
			if displacement >= vector.rampDisplacement+vector.fullSpeedDisplacement {
				phase = phaseRampDown
			}
		case phaseRampDown:
			if halting {
				curSpeed = mathx.Clamp(curSpeed-haltAccel*dtSec, 0, speed)
			} else {
				curSpeed = mathx.Clamp(curSpeed-vector.rampAccel*dtSec, d.cfg.MinSpeedMMps, speed)
			}
		}

		displacement += curSpeed * dtSec
		if d.cfg.Output != nil {
			d.cfg.Output.SetFrequencyHz(d.frequencyHz(curSpeed))
		}

		if displacement >= distance {
			return d.finish(ctx, distance)
		}
		if forward && d.cfg.ForwardEndStop != nil && d.cfg.ForwardEndStop() {
			return d.stopAndReturn(ctx, displacement, d.limitHalt)
		}
		if !forward && d.cfg.ReverseEndStop != nil && d.cfg.ReverseEndStop() {
			return d.stopAndReturn(ctx, displacement, d.limitHalt)
		}
		if d.cfg.Alert != nil && d.cfg.Alert() {
			return d.stopAndReturn(ctx, displacement, d.deviceAlert)
		}
		if honourInterrupts && !halting && robotics.Interrupted(ctx) {
			phase = phaseRampDown
			halting = true
		}
		if phase == phaseRampDown && curSpeed <= 0 {
			d.partial = displacement
			d.partialValid = true
			return d.stop(ctx)
		}

		if !sleepCtx(ctx, dt) {
			return ctx.Err()
		}
	}
}

func (d *Driver) finish(ctx context.Context, displacement float64) error {
	d.partial = displacement
	d.partialValid = false
	return d.stop(ctx)
}

func (d *Driver) stopAndReturn(ctx context.Context, displacement float64, mk func(float64) error) error {
	d.partial = displacement
	d.partialValid = true
	if err := d.stop(ctx); err != nil {
		return err
	}
	return mk(displacement)
}

// stop halts the PWM output and observes the configured safe-wait
// settle time, protecting the driver IC from back-to-back direction
// changes (spec.md §4.F).
func (d *Driver) stop(ctx context.Context) error {
	if d.cfg.Output != nil {
		d.cfg.Output.SetFrequencyHz(0)
	}
	sleepCtx(ctx, time.Duration(d.cfg.SafeWaitMs)*time.Millisecond)
	return nil
}

func (d *Driver) limitHalt(displacement float64) error {
	d.cfg.Log.WithField("displacement_mm", displacement).Warn("actuator end-stop halt")
	return &errcode.E{C: errcode.LimitHalt, Op: "actuator.move", Msg: "end-stop engaged"}
}

func (d *Driver) deviceAlert(displacement float64) error {
	d.cfg.Log.WithField("displacement_mm", displacement).Error("actuator driver alert")
	return &errcode.E{C: errcode.DeviceAlert, Op: "actuator.move", Msg: "driver alert pin active"}
}

func (d *Driver) frequencyHz(speedMMps float64) float64 {
	if d.cfg.ScrewLeadMMPerRev <= 0 {
		return 0
	}
	revsPerSec := speedMMps / d.cfg.ScrewLeadMMPerRev
	return revsPerSec * float64(d.cfg.StepsPerRevolution)
}

// opVector is the spec.md §4.F motion profile for one move.
type opVector struct {
	rampAccel             float64
	rampTime              float64
	rampDisplacement      float64
	fullSpeedDisplacement float64
}

func newOpVector(distance, speed, minSpeed, rampAccel float64) opVector {
	if rampAccel <= 0 {
		rampAccel = 1
	}
	rampTime := speed / rampAccel
	rampDisplacement := (speed + minSpeed) / 2 * rampTime
	fullSpeedDisplacement := distance - 2*rampDisplacement

	if fullSpeedDisplacement < 0 {
		// Raise ramp acceleration to the minimum that permits reaching
		// full speed within the requested distance (spec.md §4.F).
		rampAccel = speed * (speed + minSpeed) / distance
		rampTime = speed / rampAccel
		rampDisplacement = distance / 2
		fullSpeedDisplacement = 0
	}

	return opVector{
		rampAccel:             rampAccel,
		rampTime:              rampTime,
		rampDisplacement:      rampDisplacement,
		fullSpeedDisplacement: fullSpeedDisplacement,
	}
}

// sleepCtx sleeps for d or returns early (false) if ctx is done.
// Grounded on the teacher's services/bridge/bridge.go sleep helper and
// x/ramp's Tick shape (a cancellable, caller-driven wait).
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
