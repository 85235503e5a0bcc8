// inudevice boots one Device Runtime (spec.md §4.B) from a local JSON
// configuration file, standing in for the embedded firmware loop the
// original framework runs on real hardware. It plugs in one of three
// sample applications - sensor, relay, robotics - selected by --app.
//
// Usage:
//
//	inudevice --config device.json --app relay
//	inudevice --config device.json --app robotics --dry-run
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jangala-dev/inu/actuator"
	"github.com/jangala-dev/inu/bus"
	"github.com/jangala-dev/inu/config"
	"github.com/jangala-dev/inu/device"
	"github.com/jangala-dev/inu/ledstrip"
	"github.com/jangala-dev/inu/robotics"
)

const (
	exitOK        = 0
	exitUsage     = 1
	exitUnknownOp = 9
)

var (
	flagConfig     string
	flagApp        string
	flagDryRun     bool
	flagBuild      int
	flagOTADir     string
	flagOTAVersion string
	flagOTAArchive string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

var rootCmd = &cobra.Command{
	Use:           "inudevice",
	Short:         "Run a simulated Inu device from a local configuration file",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runDevice,
}

func init() {
	rootCmd.Flags().StringVar(&flagConfig, "config", "", "path to the local bootstrap config (spec.md §6)")
	rootCmd.Flags().StringVar(&flagApp, "app", "", "application to run: sensor, relay, or robotics")
	rootCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "use an in-memory bus instead of connecting to NATS")
	rootCmd.Flags().IntVar(&flagBuild, "build", 1, "firmware build number reported in heartbeats")
	rootCmd.Flags().StringVar(&flagOTADir, "ota-dir", ".", "directory OTA archive files are written into")
	rootCmd.Flags().StringVar(&flagOTAVersion, "ota-version-url", "", "URL returning the latest OTA version as a bare integer")
	rootCmd.Flags().StringVar(&flagOTAArchive, "ota-archive-url", "", "URL template for fetching an OTA archive; %d is replaced with the version")
	_ = rootCmd.MarkFlagRequired("config")
	_ = rootCmd.MarkFlagRequired("app")
}

// usageError marks an error as spec.md §6 exit code 1 (bad invocation or
// bad local configuration, as opposed to a runtime failure).
type usageError struct{ err error }

func (u usageError) Error() string { return u.err.Error() }
func (u usageError) Unwrap() error { return u.err }

// unknownOpError marks spec.md §6 exit code 9 (unrecognised --app mode).
type unknownOpError struct{ mode string }

func (u unknownOpError) Error() string { return fmt.Sprintf("unknown app mode: %q", u.mode) }

func exitCodeFor(err error) int {
	switch err.(type) {
	case usageError:
		return exitUsage
	case unknownOpError:
		return exitUnknownOp
	default:
		return exitUsage
	}
}

func runDevice(cmd *cobra.Command, args []string) error {
	local, err := config.Load(flagConfig)
	if err != nil {
		return usageError{err}
	}

	id, err := device.NewID(local.DeviceID)
	if err != nil {
		return usageError{err}
	}

	log := newLogger(local.LogLevel).WithFields(logrus.Fields{"device_id": string(id)})

	adapter, err := buildAdapter(local, string(id))
	if err != nil {
		return usageError{err}
	}

	app, err := buildApp(flagApp, local, log)
	if err != nil {
		if _, ok := err.(unknownOpError); ok {
			return err
		}
		return usageError{err}
	}

	rt := device.NewRuntime(device.Config{
		DeviceID:      id,
		Build:         flagBuild,
		LocalAddr:     "127.0.0.1",
		Adapter:       adapter,
		App:           app,
		Log:           log,
		OTAHTTPClient: &http.Client{Timeout: 30 * time.Second},
		OTAVersionURL: flagOTAVersion,
		OTAArchiveURL: archiveURLFunc(flagOTAArchive),
		OTAWriteFile:  writeFileInto(flagOTADir),
		TickInterval:  10 * time.Millisecond,
	})
	if b, ok := app.(interface{ bind(*device.Runtime) }); ok {
		b.bind(rt)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return rt.Run(ctx)
}

func archiveURLFunc(tmpl string) func(int) string {
	if tmpl == "" {
		return nil
	}
	return func(v int) string { return fmt.Sprintf(tmpl, v) }
}

func writeFileInto(dir string) func(string, []byte) error {
	return func(name string, data []byte) error {
		return os.WriteFile(filepath.Join(dir, name), data, 0o644)
	}
}

func newLogger(level string) *logrus.Logger {
	l := logrus.New()
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	return l
}

func buildAdapter(local *config.Local, connName string) (bus.Adapter, error) {
	if flagDryRun {
		return bus.NewMemoryAdapter(), nil
	}
	return bus.NewNATSAdapter(local.NATS.Server, connName, ""), nil
}

// hardwareSpec is the device-type-specific pin/driver map carried as raw
// JSON in config.Local.Hardware (spec.md §6). Only the robotics app
// interprets it, and only enough to stand up software-sink actuator and
// LED-strip drivers; physical register-level configuration is the
// out-of-scope hardware driver layer (spec.md §1).
type hardwareSpec struct {
	Actuators map[string]actuatorSpec `json:"actuators"`
	Strips    map[string]stripSpec    `json:"strips"`
}

type actuatorSpec struct {
	StepsPerRevolution int     `json:"steps_per_revolution"`
	ScrewLeadMMPerRev  float64 `json:"screw_lead_mm_per_rev"`
	ForwardDirection   int     `json:"forward_direction"`
	RampAccelMMps2     float64 `json:"ramp_accel_mm_s2"`
	HaltRampAccelMMps2 float64 `json:"halt_ramp_accel_mm_s2"`
	MinSpeedMMps       float64 `json:"min_speed_mm_s"`
	SafeWaitMs         int     `json:"safe_wait_ms"`
}

type stripSpec struct {
	NumPixels int               `json:"num_pixels"`
	Segments  map[string][2]int `json:"segments"`
}

func buildApp(mode string, local *config.Local, log *logrus.Entry) (device.Capabilities, error) {
	switch mode {
	case "sensor":
		return newSensorApp(log), nil
	case "relay":
		return newRelayApp(log), nil
	case "robotics":
		var hw hardwareSpec
		if len(local.Hardware) > 0 {
			if err := json.Unmarshal(local.Hardware, &hw); err != nil {
				return nil, fmt.Errorf("decoding hardware config: %w", err)
			}
		}
		return newRoboticsApp(hw, log), nil
	default:
		return nil, unknownOpError{mode: mode}
	}
}

// simOutput is a software sink for the actuator's pulse/direction/enable
// lines, standing in for the out-of-scope GPIO/PWM peripheral.
type simOutput struct {
	id  string
	log *logrus.Entry
}

func (o simOutput) SetEnabled(on bool)      { o.log.WithField("actuator", o.id).Debugf("enable=%v", on) }
func (o simOutput) SetDirection(forward bool) {
	o.log.WithField("actuator", o.id).Debugf("direction_forward=%v", forward)
}
func (o simOutput) SetFrequencyHz(hz float64) {
	o.log.WithField("actuator", o.id).Debugf("freq_hz=%.1f", hz)
}

func newController(hw hardwareSpec, log *logrus.Entry) *robotics.Controller {
	c := robotics.New(robotics.Config{Log: log})
	for id, a := range hw.Actuators {
		drv := actuator.New(actuator.Config{
			StepsPerRevolution: a.StepsPerRevolution,
			ScrewLeadMMPerRev:  a.ScrewLeadMMPerRev,
			ForwardDirection:   a.ForwardDirection,
			RampAccelMMps2:     a.RampAccelMMps2,
			HaltRampAccelMMps2: a.HaltRampAccelMMps2,
			MinSpeedMMps:       a.MinSpeedMMps,
			SafeWaitMs:         a.SafeWaitMs,
			Output:             simOutput{id: id, log: log},
			Log:                log,
		})
		c.Register(id, drv)
	}
	for id, s := range hw.Strips {
		drv := ledstrip.New(ledstrip.Config{NumPixels: s.NumPixels, Segments: s.Segments, Log: log})
		c.Register(id, drv)
	}
	return c
}
