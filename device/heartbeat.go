package device

import (
	"context"
	"time"

	"github.com/jangala-dev/inu/bus"
	"github.com/sirupsen/logrus"
)

// Heartbeat is the record published on hb.<device_id> (spec.md §3).
type Heartbeat struct {
	UptimeSeconds   int    `json:"uptime_seconds"`
	Build           int    `json:"build"`
	LocalAddr       string `json:"local_addr"`
	IntervalSeconds int    `json:"interval_seconds"`
}

// heartbeatEmitter publishes a Heartbeat every IntervalSeconds, re-arming
// its ticker whenever the interval changes. Grounded on the teacher's
// services/heartbeat/service.go serviceLoop (ticker + config channel in
// one select), generalized from a fixed 1s tick and a raw config map to
// a variable interval driven by the runtime's current settings.
//
// Invariant (spec.md §4.B): at most one heartbeat is in flight per
// interval; a missed publish is logged, never retried — the next tick
// supersedes it.
type heartbeatEmitter struct {
	id        ID
	adapter   bus.Adapter
	buildNum  int
	localAddr string
	started   time.Time
	log       *logrus.Entry

	interval chan int // new interval values, non-blocking send
}

func newHeartbeatEmitter(id ID, adapter bus.Adapter, buildNum int, localAddr string, log *logrus.Entry) *heartbeatEmitter {
	return &heartbeatEmitter{
		id: id, adapter: adapter, buildNum: buildNum, localAddr: localAddr,
		started: time.Now(), log: log,
		interval: make(chan int, 1),
	}
}

// SetInterval updates the emit cadence; non-blocking, last write wins.
func (e *heartbeatEmitter) SetInterval(seconds int) {
	select {
	case e.interval <- seconds:
	default:
		select {
		case <-e.interval:
		default:
		}
		e.interval <- seconds
	}
}

// Run blocks, publishing one heartbeat immediately and then one per
// interval until ctx is done. initial seconds seeds the first tick
// interval.
func (e *heartbeatEmitter) Run(ctx context.Context, initial int) {
	if initial < 1 {
		initial = 1
	}
	cur := initial
	tick := time.NewTicker(time.Duration(cur) * time.Second)
	defer tick.Stop()

	beat := func() {
		hb := Heartbeat{
			UptimeSeconds:   int(time.Since(e.started).Seconds()),
			Build:           e.buildNum,
			LocalAddr:       e.localAddr,
			IntervalSeconds: cur,
		}
		if err := publishJSON(ctx, e.adapter, e.id.HeartbeatSubject(), hb); err != nil {
			e.log.WithError(err).Warn("heartbeat publish failed; next beat supersedes it")
		}
	}
	beat()

	for {
		select {
		case <-ctx.Done():
			return
		case iv := <-e.interval:
			if iv < 1 {
				iv = 1
			}
			if iv > 60 {
				iv = 60
			}
			if iv != cur {
				cur = iv
				tick.Reset(time.Duration(cur) * time.Second)
			}
		case <-tick.C:
			beat()
		}
	}
}
