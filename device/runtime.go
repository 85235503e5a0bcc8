package device

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jangala-dev/inu/bus"
	"github.com/jangala-dev/inu/errcode"
	"github.com/jangala-dev/inu/ota"
	"github.com/jangala-dev/inu/trigger"
	"github.com/sirupsen/logrus"
)

// State is one of the closed lifecycle states of spec.md §4.B.
type State int

const (
	StateInit State = iota
	StateLinking
	StateSettling
	StateRunning
	StateMaintenance
	StateReset
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateLinking:
		return "LINKING"
	case StateSettling:
		return "SETTLING"
	case StateRunning:
		return "RUNNING"
	case StateMaintenance:
		return "MAINTENANCE"
	case StateReset:
		return "RESET"
	default:
		return "UNKNOWN"
	}
}

// Config bootstraps a Runtime: local configuration consulted only at
// bootstrap, per spec.md §6.
type Config struct {
	DeviceID  ID
	Build     int
	LocalAddr string
	Adapter   bus.Adapter
	App       Capabilities
	Log       *logrus.Entry

	// OTA wiring, forwarded verbatim into ota.Config when the OTA
	// manager is constructed on the first settings record (and again on
	// the first one after a reconnect). OTAArchiveURL may be nil for
	// devices that never receive OTA commands: the manager still runs,
	// but every OTA command then aborts at the download step and the
	// previous status is restored. An empty OTAVersionURL makes it
	// reject version-0 ("latest") commands.
	OTAHTTPClient *http.Client
	OTAVersionURL string
	OTAArchiveURL func(version int) string
	OTAWriteFile  ota.WriteFileFunc

	TickInterval time.Duration // defaults to 10ms, per spec.md §5
}

// Runtime drives the Device Runtime lifecycle state machine (spec.md
// §4.B) from a single goroutine — matching the single-threaded
// cooperative scheduling model of spec.md §5: exactly one goroutine
// mutates Status, Settings and consumer handles, so no locks are
// required.
type Runtime struct {
	id      ID
	build   int
	addr    string
	adapter bus.Adapter
	app     Capabilities
	log     *logrus.Entry

	state    State
	status   Status
	settings Settings

	hb       *heartbeatEmitter
	hbCancel context.CancelFunc
	trig     *trigger.Dispatcher
	ota      *ota.Manager

	otaHTTPClient *http.Client
	otaVersionURL string
	otaArchiveURL func(int) string
	otaWriteFile  ota.WriteFileFunc

	settingsConsumer bus.ConsumerHandle
	rebootConsumer   bus.ConsumerHandle
	jogConsumer      bus.ConsumerHandle
	tickInterval     time.Duration

	events chan func(context.Context)
}

// NewRuntime constructs a Runtime in StateInit. Call Run to drive it.
func NewRuntime(cfg Config) *Runtime {
	tick := cfg.TickInterval
	if tick <= 0 {
		tick = 10 * time.Millisecond
	}
	r := &Runtime{
		id: cfg.DeviceID, build: cfg.Build, addr: cfg.LocalAddr,
		adapter: cfg.Adapter, app: cfg.App, log: cfg.Log,
		state:         StateInit,
		otaHTTPClient: cfg.OTAHTTPClient,
		otaVersionURL: cfg.OTAVersionURL,
		otaArchiveURL: cfg.OTAArchiveURL,
		otaWriteFile:  cfg.OTAWriteFile,
		tickInterval:  tick,
		events:        make(chan func(context.Context), 32),
	}
	return r
}

func (r *Runtime) State() State   { return r.state }
func (r *Runtime) Status() Status { return r.status }

// publishStatus implements the publisher interface Status mutators use;
// it always publishes the full current record, never a diff (spec.md
// §4.B: status publication is idempotent from the runtime's perspective).
func (r *Runtime) publishStatus(s Status) {
	r.status = s
	ctx := context.Background()
	if err := publishJSON(ctx, r.adapter, r.id.StatusSubject(), s); err != nil {
		r.log.WithError(err).Warn("status publish failed")
	}
}

// Activate/Deactivate/SetStatusReason/SetEnabled/SetLocked are the convenience
// operations of spec.md §4.B, delegating to Status's mutators with the
// runtime as publisher. Each round-trips through Dispatch: callers
// routinely reach these from app goroutines spawned off a trigger
// handler (a cooldown timer, a pulse expiry), and Status must still see
// only the event-loop goroutine as its writer (spec.md §5).
func (r *Runtime) Activate(reason string) {
	r.Dispatch(func(context.Context) { r.status.Activate(r, reason) })
}

func (r *Runtime) Deactivate(reason string) {
	r.Dispatch(func(context.Context) { r.status.Deactivate(r, reason) })
}

func (r *Runtime) SetStatusReason(reason string) {
	r.Dispatch(func(context.Context) { r.status.SetStatus(r, reason) })
}

func (r *Runtime) SetEnabled(enabled bool, reason string) {
	r.Dispatch(func(ctx context.Context) {
		r.status.SetEnabled(r, enabled, reason)
		r.app.OnEnabledChanged(ctx, enabled)
	})
}

func (r *Runtime) SetLocked(locked bool, reason string) {
	r.Dispatch(func(context.Context) { r.status.SetLocked(r, locked, reason) })
}

// CanAct guards application entry points, per spec.md §4.B.
func (r *Runtime) CanAct(allowActive bool) bool { return r.status.CanAct(allowActive) }

// The methods below implement trigger.Hooks (plus its optional
// lock-mutation extension), letting Runtime hand itself to
// trigger.New directly rather than through an adapter type.

func (r *Runtime) IsEnabled() bool { return r.status.Enabled }
func (r *Runtime) IsLocked() bool  { return r.status.Locked }

// OnInterrupt, OnCalibrate and OnTrigger fire on whatever goroutine the
// bus adapter delivers on, not the event-loop goroutine. Each routes
// the capability call itself through Dispatch so the application's
// handler body, and any Status mutation it makes directly, runs on the
// single event-loop goroutine like every other capability callback.
func (r *Runtime) OnInterrupt() {
	r.Dispatch(func(ctx context.Context) { r.app.OnInterrupt(ctx) })
}

func (r *Runtime) OnCalibrate() {
	r.Dispatch(func(ctx context.Context) { r.app.OnTrigger(ctx, trigger.CodeCalibrate) })
}

func (r *Runtime) OnTrigger(code int) {
	r.Dispatch(func(ctx context.Context) { r.app.OnTrigger(ctx, code) })
}

// Dispatch enqueues a function to run on the runtime's single goroutine.
// Bus handlers call this instead of mutating Runtime state directly, so
// that — per spec.md §5 — status, settings and consumer handles are
// never touched concurrently.
func (r *Runtime) Dispatch(f func(context.Context)) {
	select {
	case r.events <- f:
	default:
		r.log.Warn("event queue full; dropping a dispatched callback")
	}
}

// Run drives the lifecycle until ctx is done. It blocks.
func (r *Runtime) Run(ctx context.Context) error {
	r.state = StateInit
	r.log.Info("bootstrapping")

	// INIT -> LINKING: local configuration already loaded by the caller
	// (Config); bring up the bus connection.
	r.state = StateLinking
	linkCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err := r.adapter.Connect(linkCtx)
	cancel()
	if err != nil {
		r.log.WithError(err).Error("link connect failed at bootstrap; hard reset")
		return &errcode.E{C: errcode.NoConnection, Op: "Runtime.Run", Err: err}
	}
	r.adapter.OnDisconnect(func(error) { r.Dispatch(func(ctx context.Context) { r.onDisconnect(ctx) }) })
	r.adapter.OnConnect(func() { r.Dispatch(func(ctx context.Context) { r.onReconnect(ctx) }) })

	// LINKING -> SETTLING: publish initial heartbeat + status, subscribe
	// to settings with LAST_PER_SUBJECT.
	if err := r.enterSettling(ctx); err != nil {
		return err
	}

	tick := time.NewTicker(r.tickInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			if r.trig != nil {
				r.trig.Close()
			}
			return nil
		case f := <-r.events:
			r.runIsolated(ctx, f)
		case <-tick.C:
			if r.state == StateRunning {
				r.runIsolated(ctx, func(ctx context.Context) { r.app.AppTick(ctx) })
			}
		}
	}
}

// runIsolated wraps one tick/handler invocation so a panic is logged and
// the loop continues after a back-off, per spec.md §7's per-tick
// isolation policy.
func (r *Runtime) runIsolated(ctx context.Context, f func(context.Context)) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.WithField("panic", rec).Error("recovered from panic in tick/handler")
			time.Sleep(time.Second)
		}
	}()
	f(ctx)
}

func (r *Runtime) enterSettling(ctx context.Context) error {
	r.state = StateSettling
	r.status = Status{Enabled: true, Status: "settling"}
	r.publishStatus(r.status)

	// A reconnect re-enters SETTLING and must not leave the previous
	// emitter running - otherwise every reconnect adds another
	// hb.<device_id> publisher (spec.md §4.B: at most one heartbeat in
	// flight per interval).
	if r.hbCancel != nil {
		r.hbCancel()
	}
	hbCtx, cancel := context.WithCancel(ctx)
	r.hbCancel = cancel
	r.hb = newHeartbeatEmitter(r.id, r.adapter, r.build, r.addr, r.log)
	go r.hb.Run(hbCtx, 10)

	h, err := r.adapter.CreateConsumer(ctx, bus.StreamSettings, r.id.SettingsSubject(), bus.DeliverLastPerSubject, 3*time.Second, func(m *bus.Msg) {
		_ = m.Ack()
		r.Dispatch(func(ctx context.Context) { r.onSettingsMessage(ctx, m.Data) })
	})
	if err != nil {
		return &errcode.E{C: errcode.NoConnection, Op: "Runtime.enterSettling", Err: err}
	}
	r.settingsConsumer = h
	return nil
}

// onSettingsMessage handles one settings.<device_id> delivery. On the
// first valid record it performs SETTLING -> RUNNING; on every
// subsequent valid record it re-applies settings in place (still
// RUNNING, or back to RUNNING when a reconnect re-entered SETTLING).
// An invalid record is rejected and logged, never applied.
func (r *Runtime) onSettingsMessage(ctx context.Context, raw []byte) {
	s, err := Decode(r.id.Type(), raw)
	if err != nil {
		r.log.WithError(err).Warn("rejecting invalid settings record")
		return
	}
	r.applySettings(ctx, s)
}

func (r *Runtime) applySettings(ctx context.Context, s Settings) {
	first := r.settings == nil
	r.settings = s
	base := s.Base()

	if r.hb != nil {
		r.hb.SetInterval(base.HeartbeatIntervalSeconds)
	}

	if r.trig == nil {
		r.trig = trigger.New(r.adapter, r, r.log)
	}
	if err := r.trig.Configure(ctx, r.id.Central(), base.ListenSubjectList()); err != nil {
		r.log.WithError(err).Error("failed to configure trigger consumers")
	}

	if r.rebootConsumer == nil {
		h, err := r.adapter.CreateConsumer(ctx, bus.StreamCommands, RebootSubject(r.id.Central()), bus.DeliverNew, time.Second, func(m *bus.Msg) {
			_ = m.Ack()
			r.Dispatch(func(ctx context.Context) { r.onReboot(ctx) })
		})
		if err != nil {
			r.log.WithError(err).Error("failed to create reboot consumer")
		} else {
			r.rebootConsumer = h
		}
	}

	if r.jogConsumer == nil {
		h, err := r.adapter.CreateConsumer(ctx, bus.StreamCommands, JogSubject(r.id.Central()), bus.DeliverNew, time.Second, func(m *bus.Msg) {
			_ = m.Ack()
			var jc JogCommand
			if err := json.Unmarshal(m.Data, &jc); err != nil {
				r.log.WithError(err).Warn("discarding malformed jog payload")
				return
			}
			r.Dispatch(func(ctx context.Context) { r.onJog(ctx, jc) })
		})
		if err != nil {
			r.log.WithError(err).Error("failed to create jog consumer")
		} else {
			r.jogConsumer = h
		}
	}

	if r.ota == nil {
		r.ota = ota.New(ota.Config{
			Adapter:    r.adapter,
			Central:    r.id.Central(),
			Hooks:      r,
			HTTPClient: r.otaHTTPClient,
			VersionURL: r.otaVersionURL,
			ArchiveURL: r.otaArchiveURL,
			WriteFile:  r.otaWriteFile,
			Log:        r.log,
		})
		if err := r.ota.Start(ctx); err != nil {
			r.log.WithError(err).Error("failed to start OTA manager")
		}
	}

	r.app.OnSettingsUpdated(ctx, s)

	if r.state == StateSettling {
		r.state = StateRunning
	}
	if first {
		if err := r.app.AppInit(ctx); err != nil {
			r.log.WithError(err).Error("AppInit failed")
		}
	}
}

// onDisconnect discards every consumer handle — they are invalidated by
// the adapter already — and returns to LINKING to await reconnection,
// per spec.md §4.B ("any state -> LINKING: disconnect detected").
func (r *Runtime) onDisconnect(ctx context.Context) {
	r.log.Warn("bus disconnected; returning to LINKING")
	r.state = StateLinking
	if r.trig != nil {
		r.trig.Close()
		r.trig = nil
	}
	r.settingsConsumer = nil
	r.rebootConsumer = nil
	r.jogConsumer = nil
	r.ota = nil
	r.app.OnDisconnect(ctx)
}

// onReconnect re-creates the settings consumer (and, transitively via
// the next settings delivery, the trigger consumers) after the adapter
// reports the link is back up.
func (r *Runtime) onReconnect(ctx context.Context) {
	r.log.Info("bus reconnected; re-entering SETTLING")
	if err := r.enterSettling(ctx); err != nil {
		r.log.WithError(err).Error("failed to re-enter SETTLING after reconnect")
		return
	}
	r.app.OnConnect(ctx)
}

// onReboot handles cmd.reboot.<central> (spec.md §4.B, §6): it suspends
// app_tick, gives the application a chance to quiesce via OnReboot,
// then requests the hard reset. Grounded on the teacher's on_reboot
// consumer (ack, set allow_app_tick=False, log, set status, reset).
func (r *Runtime) onReboot(ctx context.Context) {
	r.log.Warn("performing reboot by external request")
	r.state = StateMaintenance
	r.status.SetStatus(r, "performing reboot")
	r.app.OnReboot(ctx)
	r.state = StateReset
}

// onJog handles cmd.jog.<central> (spec.md §6): a manual actuator nudge
// accepted only while the device is disabled, matching the table's
// "Manual actuator jog (disabled only)" description.
func (r *Runtime) onJog(ctx context.Context, cmd JogCommand) {
	if r.status.Enabled {
		r.log.Info("Ignoring jog while enabled")
		return
	}
	r.app.OnJog(ctx, cmd.DeviceID, cmd.Distance, cmd.Speed)
}

// EnterMaintenance suspends AppTick while the bus continues to be
// serviced (spec.md §4.B: RUNNING -> MAINTENANCE). Safe to call from any
// goroutine (the OTA manager runs its download/verify/apply pipeline off
// the runtime's own goroutine, per spec.md §4.D "the runtime still
// services the bus"); the mutation itself is marshalled back onto the
// single event-loop goroutine via Dispatch.
func (r *Runtime) EnterMaintenance() {
	r.Dispatch(func(context.Context) { r.state = StateMaintenance })
}

// ResumeRunning returns from MAINTENANCE to RUNNING (an OTA/reboot was
// aborted or completed without requiring a reset).
func (r *Runtime) ResumeRunning() {
	r.Dispatch(func(context.Context) { r.state = StateRunning })
}

// RequestReset transitions MAINTENANCE -> RESET: the caller has written
// new files and the host should hard-reset.
func (r *Runtime) RequestReset() {
	r.Dispatch(func(context.Context) { r.state = StateReset })
}

// IsActive, Snapshot and RestoreStatus implement ota.Hooks' status
// access without ota importing package device: each round-trips through
// Dispatch so the single event-loop goroutine remains the only writer
// of Status, even though the OTA manager calls these from its own
// goroutine.
func (r *Runtime) IsActive() bool {
	done := make(chan bool, 1)
	r.Dispatch(func(context.Context) { done <- r.status.Active })
	select {
	case v := <-done:
		return v
	case <-time.After(time.Second):
		return false
	}
}

func (r *Runtime) Snapshot() any {
	done := make(chan Status, 1)
	r.Dispatch(func(context.Context) { done <- r.status })
	select {
	case s := <-done:
		return s
	case <-time.After(time.Second):
		return r.status
	}
}

func (r *Runtime) RestoreStatus(v any) {
	s, ok := v.(Status)
	if !ok {
		return
	}
	r.Dispatch(func(context.Context) { r.publishStatus(s) })
}

// Settings returns the currently applied settings (nil before SETTLING
// completes).
func (r *Runtime) Settings() Settings { return r.settings }

// Adapter exposes the bus adapter for capability implementations that
// need to publish/subscribe beyond the runtime's own subjects (e.g. the
// robotics app publishing alerts).
func (r *Runtime) Adapter() bus.Adapter { return r.adapter }

// ID returns the device identity.
func (r *Runtime) ID() ID { return r.id }

// Log returns the runtime's logger, for capability implementations.
func (r *Runtime) Log() *logrus.Entry { return r.log }

// OTA returns the wired OTA manager, if any (nil until the first
// settings record is applied, and again from a disconnect until the
// next settings record).
func (r *Runtime) OTA() *ota.Manager { return r.ota }
