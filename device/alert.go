package device

import "context"

// Alert is the payload carried on alert.<device_id>, routed to the
// operator paging channel (spec.md §7). Priority is 1 (informational)
// through 5 (page immediately).
type Alert struct {
	Priority int    `json:"priority"`
	Msg      string `json:"msg"`
}

// Log is the payload carried on log.<device_id>, streamed to the
// observability store (spec.md §7).
type Log struct {
	Lvl string `json:"lvl"`
	Msg string `json:"msg"`
}

// PublishAlert raises an alert on this device's alert subject. Priority
// is clamped to 1..5.
func (r *Runtime) PublishAlert(priority int, msg string) {
	if priority < 1 {
		priority = 1
	} else if priority > 5 {
		priority = 5
	}
	if err := publishJSON(context.Background(), r.adapter, r.id.AlertSubject(), Alert{Priority: priority, Msg: msg}); err != nil {
		r.log.WithError(err).Warn("alert publish failed")
	}
}

// PublishLog streams one log line on this device's log subject.
func (r *Runtime) PublishLog(lvl, msg string) {
	if err := publishJSON(context.Background(), r.adapter, r.id.LogSubject(), Log{Lvl: lvl, Msg: msg}); err != nil {
		r.log.WithError(err).Warn("log publish failed")
	}
}
