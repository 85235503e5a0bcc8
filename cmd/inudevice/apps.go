package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jangala-dev/inu/device"
	"github.com/jangala-dev/inu/errcode"
	"github.com/jangala-dev/inu/robotics"
)

// sensorApp is a minimal range/motion sensor application: a non-reserved
// trigger code stands in for a sense event. It activates on sense and
// returns to idle after the settings' cooldown, matching the state
// labels spec.md §9's Open Question resolves (range: IDLE/HOT/ACTIVE/
// COOLDOWN; motion: IDLE/ACTIVE/COOLDOWN) closely enough for a CLI demo
// without modelling every intermediate state transition.
type sensorApp struct {
	device.NoopCapabilities
	log      *logrus.Entry
	rt       *device.Runtime
	settings device.SensorSettings
}

func newSensorApp(log *logrus.Entry) *sensorApp { return &sensorApp{log: log} }

func (a *sensorApp) bind(rt *device.Runtime) { a.rt = rt }

func (a *sensorApp) OnSettingsUpdated(ctx context.Context, s device.Settings) {
	if ss, ok := s.(device.SensorSettings); ok {
		a.settings = ss
	}
}

func (a *sensorApp) AppInit(ctx context.Context) error {
	a.rt.SetStatusReason("idle")
	return nil
}

func (a *sensorApp) OnTrigger(ctx context.Context, code int) {
	if !a.rt.CanAct(false) {
		return
	}
	a.rt.Activate("sensed")
	cooldown := time.Duration(a.settings.CooldownTimeMs) * time.Millisecond
	if cooldown <= 0 {
		cooldown = time.Second
	}
	go func() {
		time.Sleep(cooldown)
		a.rt.Deactivate("cooldown expired")
	}()
}

// relayApp is a relay/actuator-switch application: it toggles Active on
// a non-reserved trigger code, either latching (RelaySettings.PulseMs ==
// 0) or momentary (auto-deactivates after PulseMs).
type relayApp struct {
	device.NoopCapabilities
	log      *logrus.Entry
	rt       *device.Runtime
	settings device.RelaySettings
}

func newRelayApp(log *logrus.Entry) *relayApp { return &relayApp{log: log} }

func (a *relayApp) bind(rt *device.Runtime) { a.rt = rt }

func (a *relayApp) OnSettingsUpdated(ctx context.Context, s device.Settings) {
	if rs, ok := s.(device.RelaySettings); ok {
		a.settings = rs
	}
}

func (a *relayApp) AppInit(ctx context.Context) error {
	a.rt.SetStatusReason("ready")
	return nil
}

func (a *relayApp) OnTrigger(ctx context.Context, code int) {
	if !a.rt.CanAct(true) {
		return
	}
	if a.settings.PulseMs > 0 {
		a.rt.Activate("pulsed")
		d := time.Duration(a.settings.PulseMs) * time.Millisecond
		go func() {
			time.Sleep(d)
			a.rt.Deactivate("pulse complete")
		}()
		return
	}
	if a.rt.Status().Active {
		a.rt.Deactivate("switched off")
	} else {
		a.rt.Activate("switched on")
	}
}

// roboticsApp wires a robotics.Controller to the trigger subsystem: a
// non-reserved code looks up RoboticsSettings.Sequences by its decimal
// string and runs the matching control program (spec.md §2: "trigger
// codes that map to named sequences" are forwarded into the robotics
// subsystem). app_tick polls the controller's idle timer per spec.md
// §4.E's power management guidance.
type roboticsApp struct {
	device.NoopCapabilities
	log *logrus.Entry
	rt  *device.Runtime
	hw  hardwareSpec

	ctrl      *robotics.Controller
	sequences map[string]string
}

func newRoboticsApp(hw hardwareSpec, log *logrus.Entry) *roboticsApp {
	return &roboticsApp{log: log, hw: hw}
}

func (a *roboticsApp) bind(rt *device.Runtime) { a.rt = rt }

func (a *roboticsApp) OnSettingsUpdated(ctx context.Context, s device.Settings) {
	rs, ok := s.(device.RoboticsSettings)
	if !ok {
		return
	}
	a.sequences = rs.Sequences
	if a.ctrl == nil {
		a.ctrl = newController(a.hw, a.log)
	}
	a.ctrl.SetConfig(robotics.Config{
		WarmupDelay:  time.Duration(rs.WarmupDelayMs) * time.Millisecond,
		IntPauseTime: 300 * time.Millisecond,
		IdlePeriod:   time.Duration(rs.IdlePeriodMs) * time.Millisecond,
		Log:          a.log,
	})
}

func (a *roboticsApp) AppInit(ctx context.Context) error {
	a.rt.SetStatusReason("idle")
	return nil
}

func (a *roboticsApp) AppTick(ctx context.Context) {
	if a.ctrl != nil {
		a.ctrl.Tick(ctx)
	}
}

func (a *roboticsApp) OnInterrupt(ctx context.Context) {
	if a.ctrl != nil {
		a.ctrl.Interrupt()
	}
}

// OnJog drives a single actuator directly by distance/speed, bypassing
// the named-sequence lookup OnTrigger uses - the same SEL/MV grammar,
// just assembled from the jog payload instead of a stored program.
func (a *roboticsApp) OnJog(ctx context.Context, deviceID string, distance, speed float64) {
	if a.ctrl == nil {
		return
	}
	program := fmt.Sprintf("SEL %s; MV %d %d", deviceID, int(distance), int(speed))
	if err := a.ctrl.Run(ctx, program); err != nil {
		a.log.WithError(err).Warn("jog failed")
	}
}

func (a *roboticsApp) OnTrigger(ctx context.Context, code int) {
	if a.ctrl == nil || !a.rt.CanAct(false) {
		return
	}
	program, ok := a.sequences[strconv.Itoa(code)]
	if !ok {
		return
	}
	a.rt.Activate("running sequence")
	go func() {
		err := a.ctrl.Run(context.Background(), program)
		switch {
		case err == nil:
			a.rt.Deactivate("sequence complete")
		case errcode.Of(err) == errcode.DeviceAlert:
			a.rt.PublishAlert(5, err.Error())
			a.rt.SetEnabled(false, "device alert during sequence")
			a.rt.Deactivate("halted on device alert")
		default:
			a.rt.SetStatusReason("sequence error: " + err.Error())
			a.rt.Deactivate("sequence error")
		}
	}()
}
