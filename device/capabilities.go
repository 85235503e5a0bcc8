package device

import "context"

// Capabilities is the hook set an application may implement (spec.md §9:
// "express the runtime contract as a capability set ... applications
// implement a subset and the runtime calls via the capability"). Embed
// NoopCapabilities to satisfy the interface while implementing only the
// hooks that matter to a given application.
type Capabilities interface {
	OnConnect(ctx context.Context)
	OnDisconnect(ctx context.Context)
	OnSettingsUpdated(ctx context.Context, s Settings)
	OnTrigger(ctx context.Context, code int)
	OnInterrupt(ctx context.Context)
	OnEnabledChanged(ctx context.Context, enabled bool)
	OnOTA(ctx context.Context, version int)
	OnReboot(ctx context.Context)

	// OnJog handles cmd.jog.<central> (spec.md §6): a manual actuator
	// nudge, delivered only while the device is disabled. deviceID names
	// the target sub-actuator; distance and speed carry the same units
	// as the robotics MV control.
	OnJog(ctx context.Context, deviceID string, distance, speed float64)

	// AppInit runs once after the first valid settings record is
	// applied (spec.md §4.B: SETTLING → RUNNING). AppTick runs on every
	// scheduler pass while RUNNING.
	AppInit(ctx context.Context) error
	AppTick(ctx context.Context)
}

// NoopCapabilities implements Capabilities with no-ops; applications
// embed it and override only the hooks they need.
type NoopCapabilities struct{}

func (NoopCapabilities) OnConnect(context.Context)                       {}
func (NoopCapabilities) OnDisconnect(context.Context)                    {}
func (NoopCapabilities) OnSettingsUpdated(context.Context, Settings)     {}
func (NoopCapabilities) OnTrigger(context.Context, int)                  {}
func (NoopCapabilities) OnInterrupt(context.Context)                     {}
func (NoopCapabilities) OnEnabledChanged(context.Context, bool)          {}
func (NoopCapabilities) OnOTA(context.Context, int)                      {}
func (NoopCapabilities) OnReboot(context.Context)                        {}
func (NoopCapabilities) OnJog(context.Context, string, float64, float64) {}
func (NoopCapabilities) AppInit(context.Context) error                   { return nil }
func (NoopCapabilities) AppTick(context.Context)                         {}
