// sentryd is a backend log/alert/heartbeat sink: it subscribes to the
// subjects devices publish rather than publishing them, exercising the
// Message Bus Adapter from the consumer side (spec.md §4.A). It also
// watches the heartbeat pool and raises a "device died" alert once a
// device has missed too many consecutive heartbeats.
//
// Grounded on original_source/src/sentry/__init__.py.
//
// Usage:
//
//	sentryd --nats-server nats://localhost:4222
//	sentryd --dry-run
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jangala-dev/inu/bus"
	"github.com/jangala-dev/inu/device"
)

const (
	exitUsage     = 1
	exitUnknownOp = 9

	// missedHeartbeats mirrors the original Sentry's Device.has_expired
	// default: a device is considered dead after this many consecutive
	// missed intervals.
	missedHeartbeats = 5
	sweepInterval    = time.Second
	ackWait          = 1500 * time.Millisecond
)

var (
	flagNATSServer string
	flagDryRun     bool
	flagLogLevel   string
	flagLogFormat  string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

var rootCmd = &cobra.Command{
	Use:           "sentryd",
	Short:         "Consume device logs, alerts and heartbeats from the message bus",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runSentry,
}

func init() {
	rootCmd.Flags().StringVar(&flagNATSServer, "nats-server", "nats://127.0.0.1:4222", "JetStream server URL")
	rootCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "use an in-memory bus instead of connecting to NATS")
	rootCmd.Flags().StringVar(&flagLogLevel, "log-level", "info", "logrus level")
	rootCmd.Flags().StringVar(&flagLogFormat, "log-format", "text", "log output format: text or json")
}

type usageError struct{ err error }

func (u usageError) Error() string { return u.err.Error() }
func (u usageError) Unwrap() error { return u.err }

type unknownFormatError struct{ format string }

func (u unknownFormatError) Error() string { return fmt.Sprintf("unknown log format: %q", u.format) }

func exitCodeFor(err error) int {
	switch err.(type) {
	case unknownFormatError:
		return exitUnknownOp
	default:
		return exitUsage
	}
}

func runSentry(cmd *cobra.Command, args []string) error {
	log, err := newLogger(flagLogLevel, flagLogFormat)
	if err != nil {
		return err
	}

	var adapter bus.Adapter
	if flagDryRun {
		adapter = bus.NewMemoryAdapter()
	} else {
		adapter = bus.NewNATSAdapter(flagNATSServer, "sentryd", "")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = adapter.Connect(connectCtx)
	cancel()
	if err != nil {
		return usageError{fmt.Errorf("connecting to bus: %w", err)}
	}

	s := newSentry(adapter, log)
	if err := s.start(ctx); err != nil {
		return fmt.Errorf("starting consumers: %w", err)
	}

	go s.watchExpiry(ctx)

	<-ctx.Done()
	log.Info("shutting down")
	return nil
}

func newLogger(level, format string) (*logrus.Entry, error) {
	l := logrus.New()
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, usageError{err}
	}
	l.SetLevel(lvl)
	switch format {
	case "text":
		l.SetFormatter(&logrus.TextFormatter{})
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, unknownFormatError{format: format}
	}
	return logrus.NewEntry(l), nil
}

// deviceRecord tracks one device's heartbeat cadence, mirroring the
// original Sentry's Device class.
type deviceRecord struct {
	id              string
	lastHeartbeat   time.Time
	intervalSeconds int
	dead            bool
}

func (d *deviceRecord) beat(interval int) {
	d.lastHeartbeat = time.Now()
	if interval > 0 {
		d.intervalSeconds = interval
	}
	d.dead = false
}

func (d *deviceRecord) expired() bool {
	if d.intervalSeconds <= 0 || d.dead {
		return false
	}
	deadline := time.Duration(missedHeartbeats*d.intervalSeconds) * time.Second
	return time.Since(d.lastHeartbeat) > deadline
}

// sentry is the consumer-side counterpart to the device runtime: for
// every subject a device publishes, it subscribes and logs the decoded
// record, and tracks heartbeat liveness across the whole device pool.
type sentry struct {
	adapter bus.Adapter
	log     *logrus.Entry

	mu   sync.Mutex
	pool map[string]*deviceRecord
}

func newSentry(adapter bus.Adapter, log *logrus.Entry) *sentry {
	return &sentry{adapter: adapter, log: log, pool: make(map[string]*deviceRecord)}
}

type consumerSpec struct {
	subject string
	handle  func(deviceID string, data []byte)
}

// start subscribes one consumer per device-published subject prefix,
// resolving each to its retaining stream via bus.StreamForSubject
// rather than repeating the stream/prefix pairing by hand.
func (s *sentry) start(ctx context.Context) error {
	specs := []consumerSpec{
		{"hb.>", s.onHeartbeat},
		{"alert.>", s.onAlert},
		{"status.>", s.onStatus},
		{"log.>", s.onLog},
		{"settings.>", s.onSettings},
		{"cmd.>", s.onCommand},
	}
	for _, spec := range specs {
		spec := spec
		prefix := prefixOf(spec.subject)
		stream, ok := bus.StreamForSubject(prefix)
		if !ok {
			return fmt.Errorf("no stream for subject prefix %s", prefix)
		}
		_, err := s.adapter.CreateConsumer(ctx, stream, spec.subject, bus.DeliverNew, ackWait, func(m *bus.Msg) {
			defer m.Ack()
			spec.handle(strings.TrimPrefix(m.Subject, prefix), m.Data)
		})
		if err != nil {
			return fmt.Errorf("subscribing to %s: %w", spec.subject, err)
		}
	}
	return nil
}

// prefixOf strips the trailing ">" wildcard off a filter subject like
// "hb.>", leaving the literal prefix a delivered subject is trimmed by.
func prefixOf(filterSubject string) string {
	return strings.TrimSuffix(filterSubject, ">")
}

func (s *sentry) onHeartbeat(deviceID string, data []byte) {
	var hb device.Heartbeat
	if err := json.Unmarshal(data, &hb); err != nil {
		s.log.WithError(err).WithField("device_id", deviceID).Warn("malformed heartbeat")
		return
	}
	s.mu.Lock()
	rec, ok := s.pool[deviceID]
	if !ok {
		rec = &deviceRecord{id: deviceID}
		s.pool[deviceID] = rec
	}
	rec.beat(hb.IntervalSeconds)
	s.mu.Unlock()
	s.log.WithFields(logrus.Fields{
		"device_id": deviceID, "uptime_s": hb.UptimeSeconds, "build": hb.Build,
	}).Debug("heartbeat")
}

func (s *sentry) onAlert(deviceID string, data []byte) {
	var a device.Alert
	if err := json.Unmarshal(data, &a); err != nil {
		s.log.WithError(err).WithField("device_id", deviceID).Warn("malformed alert")
		return
	}
	s.log.WithFields(logrus.Fields{
		"device_id": deviceID, "priority": a.Priority,
	}).Warn(a.Msg)
}

func (s *sentry) onLog(deviceID string, data []byte) {
	var l device.Log
	if err := json.Unmarshal(data, &l); err != nil {
		s.log.WithError(err).WithField("device_id", deviceID).Warn("malformed log record")
		return
	}
	s.log.WithFields(logrus.Fields{"device_id": deviceID, "lvl": l.Lvl}).Info(l.Msg)
}

func (s *sentry) onStatus(deviceID string, data []byte) {
	var st device.Status
	if err := json.Unmarshal(data, &st); err != nil {
		s.log.WithError(err).WithField("device_id", deviceID).Warn("malformed status record")
		return
	}
	s.log.WithFields(logrus.Fields{
		"device_id": deviceID, "enabled": st.Enabled, "active": st.Active,
		"locked": st.Locked, "status": st.Status,
	}).Debug("status")
}

func (s *sentry) onSettings(deviceID string, data []byte) {
	s.log.WithField("device_id", deviceID).WithField("bytes", len(data)).Debug("settings updated")
}

func (s *sentry) onCommand(deviceID string, data []byte) {
	s.log.WithField("subject_suffix", deviceID).WithField("bytes", len(data)).Debug("command observed")
}

// watchExpiry periodically sweeps the device pool for heartbeat timeouts
// and raises a single "died" log line per lapse (testable property S5).
func (s *sentry) watchExpiry(ctx context.Context) {
	t := time.NewTicker(sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.sweepOnce()
		}
	}
}

func (s *sentry) sweepOnce() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.pool {
		if rec.expired() {
			rec.dead = true
			s.log.WithField("device_id", rec.id).Errorf("Device %s died", rec.id)
		}
	}
}
