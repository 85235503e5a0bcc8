// Package ota implements the OTA Manager (spec.md §4.D): a one-shot
// download/verify/apply/reboot pipeline that suspends application ticks
// while the firmware archive is fetched and written, with safe abort
// and status restoration on any failure. It depends only on bus and a
// small Hooks interface, never on package device, so device can import
// ota directly without a cycle.
package ota

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jangala-dev/inu/bus"
	"github.com/jangala-dev/inu/errcode"
	"github.com/sirupsen/logrus"
)

// Hooks is the callback surface the Device Runtime implements so the
// manager can suspend/resume app_tick and snapshot/restore status
// without importing package device. Grounded on the same
// dispatch-round-trip pattern the teacher's bridge.go uses to keep
// configuration/state changes serialized through one owner goroutine.
type Hooks interface {
	IsActive() bool
	Snapshot() any
	RestoreStatus(any)
	EnterMaintenance()
	ResumeRunning()
	RequestReset()
}

// WriteFileFunc writes one archive record to device storage. Injected
// rather than hard-coded to os.WriteFile, mirroring the teacher's
// I2CBusFactory/PinFactory injection in services/hal.
type WriteFileFunc func(name string, data []byte) error

// state is the manager's own small FSM (spec.md §4.D): IDLE ->
// DOWNLOADING -> VERIFYING -> APPLYING -> REBOOT, with an ABORTING path
// back to IDLE on any failure.
type state int

const (
	stateIdle state = iota
	stateDownloading
	stateVerifying
	stateApplying
	stateReboot
	stateAborting
)

// Config configures a Manager.
type Config struct {
	Adapter bus.Adapter
	// Central is the device's central subject (e.g. "central.relay.hallway");
	// the manager subscribes on "cmd.ota."+Central.
	Central string
	Hooks   Hooks

	HTTPClient *http.Client
	// VersionURL, if set, is fetched (as a bare decimal integer body) to
	// resolve version 0 ("latest") to a concrete build number.
	VersionURL string
	// ArchiveURL builds the download URL for a resolved version.
	ArchiveURL func(version int) string
	WriteFile  WriteFileFunc
	Log        logrus.FieldLogger
}

// Manager drives the OTA pipeline for one device.
type Manager struct {
	cfg Config

	mu       sync.Mutex
	st       state
	consumer bus.ConsumerHandle
}

// New constructs a Manager in the idle state. Call Start to subscribe.
func New(cfg Config) *Manager {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Manager{cfg: cfg}
}

// Start subscribes to cmd.ota.<central> with DeliverPolicy=NEW.
func (m *Manager) Start(ctx context.Context) error {
	h, err := m.cfg.Adapter.CreateConsumer(ctx, bus.StreamCommands, "cmd.ota."+m.cfg.Central, bus.DeliverNew, 3*time.Second, func(msg *bus.Msg) {
		_ = msg.Ack()
		if err := m.HandleCommand(context.Background(), msg.Data); err != nil {
			m.cfg.Log.WithError(err).Warn("OTA command rejected")
		}
	})
	if err != nil {
		return &errcode.E{C: errcode.NoConnection, Op: "ota.Start", Err: err}
	}
	m.consumer = h
	return nil
}

// InMaintenance reports whether an OTA attempt is in flight.
func (m *Manager) InMaintenance() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st != stateIdle
}

type command struct {
	Version int `json:"version"`
}

// HandleCommand processes one cmd.ota.<central> payload. An OTA command
// arriving while already in maintenance is ignored and logged (spec.md
// §4.D). The actual pipeline runs on its own goroutine so the caller
// (the bus consumer callback) returns immediately and the runtime's
// event loop keeps servicing settings/triggers while MAINTENANCE is
// active.
func (m *Manager) HandleCommand(ctx context.Context, payload []byte) error {
	m.mu.Lock()
	if m.st != stateIdle {
		m.mu.Unlock()
		m.cfg.Log.Warn("OTA command ignored: already in MAINTENANCE")
		return nil
	}
	m.st = stateDownloading
	m.mu.Unlock()

	var cmd command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		m.setState(stateIdle)
		return &errcode.E{C: errcode.Malformed, Op: "ota.HandleCommand", Err: err}
	}
	go m.run(ctx, cmd.Version)
	return nil
}

func (m *Manager) setState(s state) {
	m.mu.Lock()
	m.st = s
	m.mu.Unlock()
}

func (m *Manager) run(ctx context.Context, version int) {
	for m.cfg.Hooks.IsActive() {
		if !sleepCtx(ctx, 100*time.Millisecond) {
			m.setState(stateIdle)
			return
		}
	}

	snapshot := m.cfg.Hooks.Snapshot()
	m.cfg.Hooks.EnterMaintenance()

	resolved, err := m.resolveVersion(ctx, version)
	if err != nil {
		m.abort(snapshot, err)
		return
	}

	m.setState(stateVerifying)
	archive, err := m.fetchArchive(ctx, resolved)
	if err != nil {
		m.abort(snapshot, err)
		return
	}

	sum := sha256.Sum256(archive)
	m.cfg.Log.WithField("sha256", hex.EncodeToString(sum[:])).WithField("version", resolved).
		Info("OTA archive fetched")

	files, err := ParseArchive(archive, resolved)
	if err != nil {
		m.abort(snapshot, err)
		return
	}

	m.setState(stateApplying)
	for _, f := range files {
		if err := m.cfg.WriteFile(f.Name, f.Data); err != nil {
			m.abort(snapshot, &errcode.E{C: errcode.Malformed, Op: "ota.run", Msg: "write " + f.Name, Err: err})
			return
		}
	}

	m.setState(stateReboot)
	m.cfg.Hooks.RequestReset()
	m.setState(stateIdle)
}

func (m *Manager) abort(snapshot any, err error) {
	m.cfg.Log.WithError(err).Warn("OTA update aborting")
	m.setState(stateAborting)
	m.cfg.Hooks.RestoreStatus(snapshot)
	m.cfg.Hooks.ResumeRunning()
	m.setState(stateIdle)
}

func (m *Manager) resolveVersion(ctx context.Context, version int) (int, error) {
	if version != 0 {
		return version, nil
	}
	if m.cfg.VersionURL == "" {
		return 0, &errcode.E{C: errcode.BadRequest, Op: "ota.resolveVersion", Msg: "version 0 requested but no version URL configured"}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.cfg.VersionURL, nil)
	if err != nil {
		return 0, &errcode.E{C: errcode.BadRequest, Op: "ota.resolveVersion", Err: err}
	}
	resp, err := m.cfg.HTTPClient.Do(req)
	if err != nil {
		return 0, &errcode.E{C: errcode.NoConnection, Op: "ota.resolveVersion", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, &errcode.E{C: errcode.BadRequest, Op: "ota.resolveVersion", Msg: fmt.Sprintf("version fetch status %d", resp.StatusCode)}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, &errcode.E{C: errcode.Malformed, Op: "ota.resolveVersion", Err: err}
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(body)))
	if err != nil {
		return 0, &errcode.E{C: errcode.Malformed, Op: "ota.resolveVersion", Msg: "non-integer version file", Err: err}
	}
	return v, nil
}

func (m *Manager) fetchArchive(ctx context.Context, version int) ([]byte, error) {
	if m.cfg.ArchiveURL == nil {
		return nil, &errcode.E{C: errcode.BadRequest, Op: "ota.fetchArchive", Msg: "no archive URL configured"}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.cfg.ArchiveURL(version), nil)
	if err != nil {
		return nil, &errcode.E{C: errcode.BadRequest, Op: "ota.fetchArchive", Err: err}
	}
	resp, err := m.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, &errcode.E{C: errcode.NoConnection, Op: "ota.fetchArchive", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &errcode.E{C: errcode.BadRequest, Op: "ota.fetchArchive", Msg: fmt.Sprintf("archive fetch status %d", resp.StatusCode)}
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, resp.Body); err != nil {
		return nil, &errcode.E{C: errcode.Malformed, Op: "ota.fetchArchive", Err: err}
	}
	return buf.Bytes(), nil
}

// sleepCtx sleeps for d or returns early (false) if ctx is done.
// Grounded on the teacher's services/bridge/bridge.go sleep helper.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
