package device

// Status is the record published on status.<device_id> (spec.md §3).
// Invariant: Active may only be true while Enabled; enforced by activate.
type Status struct {
	Enabled bool   `json:"enabled"`
	Active  bool   `json:"active"`
	Locked  bool   `json:"locked"`
	Status  string `json:"status"`
}

// publisher is the minimal surface Status mutation needs from the
// runtime: publish the full current status on every change (spec.md
// §4.B — status publication is idempotent from the runtime's
// perspective: always the full record).
type publisher interface {
	publishStatus(Status)
}

// CanAct reports whether an application entry point may run, per
// spec.md §4.B: enabled ∧ ¬locked ∧ (¬active ∨ allowActive).
func (s Status) CanAct(allowActive bool) bool {
	if !s.Enabled || s.Locked {
		return false
	}
	return !s.Active || allowActive
}

// Activate sets Active=true (only meaningful while Enabled) and records
// reason as the human-readable cause, then publishes.
func (s *Status) Activate(p publisher, reason string) {
	if !s.Enabled {
		return
	}
	s.Active = true
	s.Status = reason
	p.publishStatus(*s)
}

// Deactivate clears Active and records reason.
func (s *Status) Deactivate(p publisher, reason string) {
	s.Active = false
	s.Status = reason
	p.publishStatus(*s)
}

// SetStatus records a human-readable cause without touching Active, then
// publishes (e.g. "Cooldown", "Pending calibration").
func (s *Status) SetStatus(p publisher, reason string) {
	s.Status = reason
	p.publishStatus(*s)
}

// SetEnabled flips Enabled; per spec.md §3 an enabled=false transition
// also forces Active=false (active may only be true while enabled).
func (s *Status) SetEnabled(p publisher, enabled bool, reason string) {
	s.Enabled = enabled
	if !enabled {
		s.Active = false
	}
	s.Status = reason
	p.publishStatus(*s)
}

// SetLocked flips Locked.
func (s *Status) SetLocked(p publisher, locked bool, reason string) {
	s.Locked = locked
	s.Status = reason
	p.publishStatus(*s)
}
