package device

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jangala-dev/inu/bus"
)

func TestRuntime_PublishAlert_ClampsPriority(t *testing.T) {
	app := &recordingApp{}
	r, adapter := newTestRuntime(t, app)

	got := make(chan Alert, 2)
	_, err := adapter.CreateConsumer(context.Background(), bus.StreamAlerts, r.ID().AlertSubject(), bus.DeliverNew, time.Second, func(m *bus.Msg) {
		var a Alert
		if err := json.Unmarshal(m.Data, &a); err == nil {
			got <- a
		}
		_ = m.Ack()
	})
	if err != nil {
		t.Fatalf("CreateConsumer: %v", err)
	}

	r.PublishAlert(9, "overheated")
	r.PublishAlert(-3, "dust sensor fault")

	want := []int{5, 1}
	for _, w := range want {
		select {
		case a := <-got:
			if a.Priority != w {
				t.Fatalf("priority = %d, want %d", a.Priority, w)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for alert")
		}
	}
}

func TestRuntime_PublishLog(t *testing.T) {
	app := &recordingApp{}
	r, adapter := newTestRuntime(t, app)

	got := make(chan Log, 1)
	_, err := adapter.CreateConsumer(context.Background(), bus.StreamLogs, r.ID().LogSubject(), bus.DeliverNew, time.Second, func(m *bus.Msg) {
		var l Log
		if err := json.Unmarshal(m.Data, &l); err == nil {
			got <- l
		}
		_ = m.Ack()
	})
	if err != nil {
		t.Fatalf("CreateConsumer: %v", err)
	}

	r.PublishLog("warn", "cooldown extended")

	select {
	case l := <-got:
		if l.Lvl != "warn" || l.Msg != "cooldown extended" {
			t.Fatalf("got %+v", l)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for log record")
	}
}
