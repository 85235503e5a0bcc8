package robotics

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jangala-dev/inu/errcode"
	"github.com/sirupsen/logrus"
)

// Config tunes the timings the Controller's execution loop (spec.md
// §4.E) waits on.
type Config struct {
	WarmupDelay  time.Duration // delay after powering on before motion starts
	IntPauseTime time.Duration // pause before replaying an interrupted tail
	IdlePeriod   time.Duration // how long idle before an app_tick should cut power
	Log          logrus.FieldLogger
}

// chainEntry is one member of the rolling interrupt chain: a control
// together with the device it was dispatched to, so a chain spanning a
// SEL switch still reverses/replays against the right driver.
type chainEntry struct {
	ctl    Control
	device string
}

// Controller is the embedded control-language interpreter. It owns no
// hardware directly — it mutates only its own state and the currently
// selected driver, per spec.md §5's single-threaded execution contract.
type Controller struct {
	cfg     Config
	drivers map[string]Driver

	activeDevice   string
	allowInterrupt bool
	interrupted    atomic.Bool
	powered        bool
	running        bool
	idleSince      time.Time
}

// New constructs a Controller with no drivers registered and power off.
func New(cfg Config) *Controller {
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}
	return &Controller{
		cfg:       cfg,
		drivers:   make(map[string]Driver),
		idleSince: time.Now(),
	}
}

// Register binds a device id to the driver that owns it. Ids are
// matched case-insensitively, since the parser uppercases SEL targets.
func (c *Controller) Register(deviceID string, d Driver) {
	c.drivers[strings.ToUpper(deviceID)] = d
}

// SetConfig retunes the controller's warmup/interrupt-pause/idle-period
// timings, e.g. when a new settings record (spec.md §3: "settings are
// the authoritative source of device behavior") carries new values.
// Driver registrations are unaffected.
func (c *Controller) SetConfig(cfg Config) {
	if cfg.Log == nil {
		cfg.Log = c.cfg.Log
	}
	c.cfg = cfg
}

// SetPower is the master enable: every registered driver is switched
// together.
func (c *Controller) SetPower(ctx context.Context, on bool) error {
	for id, d := range c.drivers {
		if err := d.SetPower(ctx, on); err != nil {
			return &errcode.E{C: errcode.Of(err), Op: "robotics.SetPower", Msg: "device " + id, Err: err}
		}
	}
	c.powered = on
	return nil
}

// IdleTime reports how long the controller has been idle (no sequence
// running). An app_tick polls this and cuts power past IdlePeriod.
func (c *Controller) IdleTime() time.Duration {
	if c.running {
		return 0
	}
	return time.Since(c.idleSince)
}

// Tick is the power/idle management half of the controller (spec.md
// §4.E "Power management"): call it from an application tick loop.
func (c *Controller) Tick(ctx context.Context) {
	if c.powered && !c.running && c.cfg.IdlePeriod > 0 && c.IdleTime() > c.cfg.IdlePeriod {
		if err := c.SetPower(ctx, false); err != nil {
			c.cfg.Log.WithError(err).Warn("failed to power down idle robotics drivers")
		}
	}
}

// Interrupt requests a cooperative abort of the active control. It
// accepts only if there is an active device and the current control was
// tagged interruptible; otherwise it returns false and sets no flag.
func (c *Controller) Interrupt() bool {
	if c.activeDevice == "" || !c.allowInterrupt {
		return false
	}
	c.interrupted.Store(true)
	return true
}

// Run parses and executes program, then restores idle state. Only one
// program runs at a time; the caller serializes calls (matching the
// single-threaded execution contract - no locks are taken here).
func (c *Controller) Run(ctx context.Context, program string) error {
	controls, err := ParseProgram(program)
	if err != nil {
		return err
	}

	c.running = true
	defer func() {
		c.running = false
		c.idleSince = time.Now()
	}()

	if !c.powered {
		if err := c.SetPower(ctx, true); err != nil {
			return err
		}
		sleepCtx(ctx, c.cfg.WarmupDelay)
	}
	c.idleSince = time.Now()

	var chain []chainEntry

	for i := 0; i < len(controls); i++ {
		ctl := controls[i]

		switch ctl.Opcode {
		case OpSelect:
			device, sub, _ := ctl.SelectTarget()
			drv, ok := c.drivers[device]
			if !ok {
				return &errcode.E{C: errcode.BadRequest, Op: "robotics.Run", Msg: "unknown device: " + device}
			}
			if sel, ok := drv.(Selectable); ok {
				sel.Select(sub)
			}
			c.activeDevice = device
			c.allowInterrupt = false

		case OpWait:
			c.setChain(&chain, ctl)
			ms, err := ctl.IntArg(0)
			if err != nil {
				return err
			}
			completed := sleepInterruptible(ctx, time.Duration(ms)*time.Millisecond, &c.interrupted, ctl.Interruptible)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !completed {
				c.handleInterrupt(ctx, chain)
				chain = nil
			}

		default: // tangible: MV, COL, FX
			if c.activeDevice == "" {
				return &errcode.E{C: errcode.BadRequest, Op: "robotics.Run", Msg: "tangible control without prior SEL: " + ctl.Raw}
			}
			c.setChain(&chain, ctl)

			driver := c.drivers[c.activeDevice]
			dctx := WithInterruptFlag(ctx, &c.interrupted)
			if err := driver.Execute(dctx, ctl, false); err != nil {
				switch errcode.Of(err) {
				case errcode.LimitHalt:
					c.cfg.Log.WithError(err).Warn("robotics sequence halted by end-stop")
					return nil
				case errcode.DeviceAlert:
					c.cfg.Log.WithError(err).Error("device alert: cutting master power")
					_ = c.SetPower(ctx, false)
					return err
				default:
					return err
				}
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if c.interrupted.Load() {
				c.handleInterrupt(ctx, chain)
				chain = nil
			}
		}
	}
	return nil
}

// setChain appends ctl to the rolling interrupt chain if it is
// interruptible, otherwise resets the chain (spec.md §4.E step 2). SEL
// never reaches here; it neither extends nor resets the chain, and every
// subsequent chain entry simply carries the device SEL last selected.
func (c *Controller) setChain(chain *[]chainEntry, ctl Control) {
	c.allowInterrupt = ctl.Interruptible
	if ctl.Interruptible {
		*chain = append(*chain, chainEntry{ctl: ctl, device: c.activeDevice})
	} else {
		*chain = nil
	}
}

// handleInterrupt replays the interrupt chain in reverse (reverse=true,
// undoing each tangible control and ignoring further interrupts), then
// replays it forward normally. WAIT entries are not driver calls; they
// are skipped on the reverse pass and re-slept (uninterruptibly) on the
// forward pass. The replay itself is not interruptible (spec.md §4.E
// step 4; testable property 4).
func (c *Controller) handleInterrupt(ctx context.Context, chain []chainEntry) {
	c.cfg.Log.Info("interrupt accepted, reversing interrupt chain")
	sleepCtx(ctx, c.cfg.IntPauseTime)

	for i := len(chain) - 1; i >= 0; i-- {
		e := chain[i]
		if !e.ctl.Opcode.Tangible() {
			continue
		}
		if d, ok := c.drivers[e.device]; ok {
			if err := d.Execute(ctx, e.ctl, true); err != nil {
				c.cfg.Log.WithError(err).Warn("error reversing interrupted control")
			}
		}
	}

	for _, e := range chain {
		if !e.ctl.Opcode.Tangible() {
			ms, err := e.ctl.IntArg(0)
			if err == nil {
				sleepCtx(ctx, time.Duration(ms)*time.Millisecond)
			}
			continue
		}
		if d, ok := c.drivers[e.device]; ok {
			if err := d.Execute(ctx, e.ctl, false); err != nil {
				c.cfg.Log.WithError(err).Warn("error replaying interrupted control")
			}
		}
	}

	c.interrupted.Store(false)
}

// sleepInterruptible sleeps for d in short polling steps, returning
// false as soon as ctx is done or (when checkInterrupt) the interrupt
// flag is set - "interrupts are honoured only at the next loop
// iteration" (spec.md §5).
func sleepInterruptible(ctx context.Context, d time.Duration, interrupted *atomic.Bool, checkInterrupt bool) bool {
	const pollInterval = 10 * time.Millisecond
	deadline := time.Now().Add(d)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return true
		}
		step := pollInterval
		if remaining < step {
			step = remaining
		}
		if !sleepCtx(ctx, step) {
			return false
		}
		if checkInterrupt && interrupted.Load() {
			return false
		}
	}
}

// sleepCtx sleeps for d or returns early (false) if ctx is done.
// Grounded on the teacher's services/bridge/bridge.go sleep helper.
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
