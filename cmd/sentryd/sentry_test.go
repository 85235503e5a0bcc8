package main

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jangala-dev/inu/bus"
	"github.com/jangala-dev/inu/device"
)

func discardEntry() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(discardWriter{})
	return logrus.NewEntry(l)
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestDeviceRecord_ExpiresAfterMissedHeartbeats(t *testing.T) {
	rec := &deviceRecord{id: "relay.hallway"}
	rec.beat(1)
	assert.False(t, rec.expired(), "freshly beaten record should not be expired")

	rec.lastHeartbeat = time.Now().Add(-time.Duration(missedHeartbeats+1) * time.Second)
	assert.True(t, rec.expired())

	rec.dead = true
	assert.False(t, rec.expired(), "an already-marked-dead record should not re-trigger")
}

func TestSentry_HeartbeatThenExpirySweep(t *testing.T) {
	adapter := bus.NewMemoryAdapter()
	require.NoError(t, adapter.Connect(context.Background()))

	s := newSentry(adapter, discardEntry())
	require.NoError(t, s.start(context.Background()))

	hb := device.Heartbeat{UptimeSeconds: 5, Build: 1, LocalAddr: "10.0.0.1", IntervalSeconds: 1}
	data, err := json.Marshal(hb)
	require.NoError(t, err)
	require.NoError(t, adapter.Publish(context.Background(), "hb.relay.hallway", data))

	waitFor(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		_, ok := s.pool["relay.hallway"]
		return ok
	})

	s.mu.Lock()
	s.pool["relay.hallway"].lastHeartbeat = time.Now().Add(-time.Hour)
	s.mu.Unlock()

	s.sweepOnce()

	s.mu.Lock()
	dead := s.pool["relay.hallway"].dead
	s.mu.Unlock()
	assert.True(t, dead, "expected the device to be marked dead after the sweep")
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for condition")
}
