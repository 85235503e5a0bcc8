// Package trigger implements the Trigger Dispatcher (spec.md §4.C): it
// subscribes to a device's configured listen subjects plus its central
// subject, classifies every inbound Trigger into reserved or
// application codes, and forwards each to the narrow hook set the
// runtime supplies. Kept free of any import of package device — it
// depends only on bus and a small Hooks interface — so device can
// import trigger without a cycle.
package trigger

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jangala-dev/inu/bus"
	"github.com/jangala-dev/inu/errcode"
	"github.com/sirupsen/logrus"
)

// Reserved trigger codes, spec.md §3.
const (
	CodeInterrupt  = 100
	CodeCalibrate  = 101
	CodeEnableToggle = 110
	CodeEnableOn     = 111
	CodeEnableOff    = 112
	CodeLockToggle   = 115
	CodeLockOn       = 116
	CodeLockOff      = 117
)

// Msg is the decoded Trigger of spec.md §3.
type Msg struct {
	Code int `json:"code"`
}

// Hooks is the callback surface a Dispatcher drives. The runtime
// implements it without the dispatcher needing to import package
// device.
type Hooks interface {
	OnInterrupt()
	SetEnabled(enabled bool, reason string)
	IsEnabled() bool
	IsLocked() bool
	OnCalibrate()
	OnTrigger(code int)
}

// Dispatcher owns one consumer per listen subject, plus one on the
// device's central subject, and keeps them in lockstep with the
// settings currently applied (spec.md §4.C: "delete all previously
// registered trigger consumers before creating the new set").
//
// Grounded on the teacher's services/hal/internal/core registry
// (package-level map keyed by a discriminant, guarded by a mutex) and
// on bus.Adapter's CreateConsumer/DeleteConsumer pair for consumer
// lifetime. The map here is an instance field, not package-level,
// since each device owns exactly one dispatcher.
type Dispatcher struct {
	adapter bus.Adapter
	hooks   Hooks
	log     logrus.FieldLogger

	mu        sync.Mutex
	consumers map[string]bus.ConsumerHandle
}

// New constructs a Dispatcher. hooks may be nil only in tests that
// never call Configure with a non-empty subject set.
func New(adapter bus.Adapter, hooks Hooks, log logrus.FieldLogger) *Dispatcher {
	return &Dispatcher{
		adapter:   adapter,
		hooks:     hooks,
		log:       log,
		consumers: map[string]bus.ConsumerHandle{},
	}
}

// Configure deletes every previously created consumer, then creates one
// per subject in subjects plus one on central, each filtered to
// cmd.trigger.<subject>, DeliverPolicy=NEW, ack_wait<=3s (spec.md §4.C).
func (d *Dispatcher) Configure(ctx context.Context, central string, subjects []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for subj, h := range d.consumers {
		if err := d.adapter.DeleteConsumer(h); err != nil {
			d.log.WithError(err).WithField("subject", subj).Warn("failed to delete stale trigger consumer")
		}
	}
	d.consumers = map[string]bus.ConsumerHandle{}

	all := append(append([]string{}, subjects...), central)
	for _, subj := range all {
		if subj == "" {
			continue
		}
		filter := "cmd.trigger." + subj
		h, err := d.adapter.CreateConsumer(ctx, bus.StreamCommands, filter, bus.DeliverNew, 3*time.Second, d.handler(subj))
		if err != nil {
			return &errcode.E{C: errcode.NoConnection, Op: "trigger.Configure", Msg: filter, Err: err}
		}
		d.consumers[subj] = h
	}
	return nil
}

// Close deletes every registered consumer. Safe to call more than once.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for subj, h := range d.consumers {
		if err := d.adapter.DeleteConsumer(h); err != nil {
			d.log.WithError(err).WithField("subject", subj).Warn("failed to delete trigger consumer on close")
		}
	}
	d.consumers = map[string]bus.ConsumerHandle{}
}

func (d *Dispatcher) handler(subject string) bus.Handler {
	return func(m *bus.Msg) {
		// Acknowledge immediately, then classify (spec.md §4.C) — a
		// malformed payload is never redelivered.
		_ = m.Ack()

		var t Msg
		if err := json.Unmarshal(m.Data, &t); err != nil {
			d.log.WithError(err).WithField("subject", subject).Warn("discarding malformed trigger payload")
			return
		}
		d.classify(t.Code)
	}
}

func (d *Dispatcher) classify(code int) {
	switch code {
	case CodeInterrupt:
		d.hooks.OnInterrupt()
	case CodeEnableToggle:
		d.hooks.SetEnabled(!d.hooks.IsEnabled(), "enable_toggle")
	case CodeEnableOn:
		d.hooks.SetEnabled(true, "enable_on")
	case CodeEnableOff:
		d.hooks.SetEnabled(false, "enable_off")
	case CodeLockToggle:
		d.setLockedToggle()
	case CodeLockOn:
		d.setLocked(true)
	case CodeLockOff:
		d.setLocked(false)
	case CodeCalibrate:
		d.hooks.OnCalibrate()
	default:
		if d.hooks.IsEnabled() && !d.hooks.IsLocked() {
			d.hooks.OnTrigger(code)
			return
		}
		d.log.WithField("code", code).Info("Ignoring trigger while disabled")
	}
}

// lockHooks is the optional extended surface for lock mutation; kept
// separate from Hooks so a minimal test double need not implement it.
type lockHooks interface {
	SetLocked(locked bool, reason string)
	IsLocked() bool
}

func (d *Dispatcher) setLocked(locked bool) {
	if lh, ok := d.hooks.(lockHooks); ok {
		reason := "lock_on"
		if !locked {
			reason = "lock_off"
		}
		lh.SetLocked(locked, reason)
	}
}

func (d *Dispatcher) setLockedToggle() {
	if lh, ok := d.hooks.(lockHooks); ok {
		lh.SetLocked(!lh.IsLocked(), "lock_toggle")
	}
}
