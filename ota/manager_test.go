package ota

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jangala-dev/inu/bus"
	"github.com/sirupsen/logrus"
)

type fakeHooks struct {
	mu          sync.Mutex
	active      bool
	snapshotted int
	restored    int
	maintenance int
	resumed     int
	reset       int
}

func (h *fakeHooks) IsActive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.active
}
func (h *fakeHooks) Snapshot() any {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snapshotted++
	return "snapshot"
}
func (h *fakeHooks) RestoreStatus(any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.restored++
}
func (h *fakeHooks) EnterMaintenance() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.maintenance++
}
func (h *fakeHooks) ResumeRunning() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.resumed++
}
func (h *fakeHooks) RequestReset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reset++
}

func (h *fakeHooks) counts() (snapshotted, restored, maintenance, resumed, reset int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshotted, h.restored, h.maintenance, h.resumed, h.reset
}

func discardLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(nopWriter{})
	return logrus.NewEntry(l)
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestManager_SuccessfulUpdateRequestsReset(t *testing.T) {
	archive := encodeArchive(7, []File{{Name: "app.py", Data: []byte("print(1)")}})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer srv.Close()

	hooks := &fakeHooks{}
	var written []File
	var mu sync.Mutex
	mgr := New(Config{
		Hooks:      hooks,
		ArchiveURL: func(int) string { return srv.URL },
		WriteFile: func(name string, data []byte) error {
			mu.Lock()
			defer mu.Unlock()
			written = append(written, File{Name: name, Data: data})
			return nil
		},
		Log: discardLog(),
	})

	if err := mgr.HandleCommand(context.Background(), []byte(`{"version":7}`)); err != nil {
		t.Fatalf("HandleCommand: %v", err)
	}

	waitUntil(t, func() bool { _, _, _, _, reset := hooks.counts(); return reset == 1 })

	mu.Lock()
	defer mu.Unlock()
	if len(written) != 1 || written[0].Name != "app.py" {
		t.Fatalf("unexpected files written: %v", written)
	}
	if _, restored, maint, _, _ := hooks.counts(); restored != 0 || maint != 1 {
		t.Fatalf("expected one EnterMaintenance and zero restores, got maint=%d restored=%d", maint, restored)
	}
}

func TestManager_VersionMismatchAborts(t *testing.T) {
	archive := encodeArchive(3, nil) // server serves version 3, command asks for 7
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer srv.Close()

	hooks := &fakeHooks{}
	mgr := New(Config{
		Hooks:      hooks,
		ArchiveURL: func(int) string { return srv.URL },
		WriteFile:  func(string, []byte) error { return nil },
		Log:        discardLog(),
	})

	if err := mgr.HandleCommand(context.Background(), []byte(`{"version":7}`)); err != nil {
		t.Fatalf("HandleCommand: %v", err)
	}

	waitUntil(t, func() bool { _, restored, _, resumed, _ := hooks.counts(); return restored == 1 && resumed == 1 })
	if _, _, _, _, reset := hooks.counts(); reset != 0 {
		t.Fatal("expected no reset on version mismatch")
	}
}

func TestManager_IgnoresCommandWhileInMaintenance(t *testing.T) {
	hooks := &fakeHooks{active: true} // stays active: run() blocks waiting, never reaches EnterMaintenance
	mgr := New(Config{
		Hooks:      hooks,
		ArchiveURL: func(int) string { return "http://unused.invalid" },
		WriteFile:  func(string, []byte) error { return nil },
		Log:        discardLog(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := mgr.HandleCommand(ctx, []byte(`{"version":1}`)); err != nil {
		t.Fatalf("first HandleCommand: %v", err)
	}
	waitUntil(t, func() bool { return mgr.InMaintenance() })

	if err := mgr.HandleCommand(ctx, []byte(`{"version":2}`)); err != nil {
		t.Fatalf("second HandleCommand: %v", err)
	}
	if _, _, maint, _, _ := hooks.counts(); maint != 0 {
		t.Fatalf("expected the second command to be ignored before EnterMaintenance, got maint=%d", maint)
	}
}

func TestManager_StartSubscribesOnCentralOTASubject(t *testing.T) {
	adapter := bus.NewMemoryAdapter()
	_ = adapter.Connect(context.Background())

	archive := encodeArchive(1, nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer srv.Close()

	hooks := &fakeHooks{}
	mgr := New(Config{
		Adapter:    adapter,
		Central:    "central.relay.hallway",
		Hooks:      hooks,
		ArchiveURL: func(int) string { return srv.URL },
		WriteFile:  func(string, []byte) error { return nil },
		Log:        discardLog(),
	})
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := adapter.Publish(context.Background(), "cmd.ota.central.relay.hallway", []byte(fmt.Sprintf(`{"version":1}`))); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	waitUntil(t, func() bool { _, _, _, _, reset := hooks.counts(); return reset == 1 })
}
